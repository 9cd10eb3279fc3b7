// Copyright 2025 The dreamforge Authors
// This file is part of the dreamforge library.
//
// The dreamforge library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The dreamforge library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the dreamforge library. If not, see <http://www.gnu.org/licenses/>.

package log

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
)

const (
	errorKey     = "LOG_ERROR"
	timeFormat   = "01-02|15:04:05.000"
	termMsgJust  = 40
	floatFormat  = 'f'
	termCtxLimit = 40
)

// Handler defines where and how log records are written.
// Handlers are composable, providing you great flexibility in combining them
// to achieve the logging structure that suits your applications.
type Handler interface {
	Log(r *Record) error
}

// FuncHandler returns a Handler that logs records with the given function.
func FuncHandler(fn func(r *Record) error) Handler {
	return funcHandler(fn)
}

type funcHandler func(r *Record) error

func (h funcHandler) Log(r *Record) error { return h(r) }

// DiscardHandler reports success for all writes but does nothing.
func DiscardHandler() Handler {
	return FuncHandler(func(r *Record) error { return nil })
}

// LvlFilterHandler returns a Handler that only writes records which are less
// than the given verbosity level to the wrapped Handler.
func LvlFilterHandler(maxLvl Lvl, h Handler) Handler {
	return FuncHandler(func(r *Record) error {
		if r.Lvl <= maxLvl {
			return h.Log(r)
		}
		return nil
	})
}

// SyncHandler can be wrapped around a handler to guarantee that only a single
// Log operation can proceed at a time.
func SyncHandler(h Handler) Handler {
	var mu sync.Mutex
	return FuncHandler(func(r *Record) error {
		mu.Lock()
		defer mu.Unlock()
		return h.Log(r)
	})
}

// StreamHandler writes log records to an io.Writer in the terminal format.
func StreamHandler(wr io.Writer, useColor bool) Handler {
	return SyncHandler(FuncHandler(func(r *Record) error {
		_, err := wr.Write(formatRecord(r, useColor))
		return err
	}))
}

var lvlColor = map[Lvl]*color.Color{
	LvlCrit:  color.New(color.FgMagenta, color.Bold),
	LvlError: color.New(color.FgRed),
	LvlWarn:  color.New(color.FgYellow),
	LvlInfo:  color.New(color.FgGreen),
	LvlDebug: color.New(color.FgCyan),
	LvlTrace: color.New(color.FgWhite),
}

func formatRecord(r *Record, useColor bool) []byte {
	var b strings.Builder

	lvl := r.Lvl.AlignedString()
	if useColor {
		lvl = lvlColor[r.Lvl].Sprint(lvl)
	}
	fmt.Fprintf(&b, "%s[%s] %s", lvl, r.Time.Format(timeFormat), r.Msg)

	// Assemble the context padded out to the message justification width.
	if len(r.Ctx) > 0 && len(r.Msg) < termMsgJust {
		b.WriteString(strings.Repeat(" ", termMsgJust-len(r.Msg)))
	}
	for i := 0; i < len(r.Ctx); i += 2 {
		k, ok := r.Ctx[i].(string)
		if !ok {
			k = errorKey
		}
		v := formatValue(r.Ctx[i+1])
		if useColor {
			k = lvlColor[r.Lvl].Sprint(k)
		}
		fmt.Fprintf(&b, " %s=%s", k, v)
	}
	b.WriteByte('\n')
	return []byte(b.String())
}

func formatValue(value interface{}) string {
	switch v := value.(type) {
	case nil:
		return "nil"
	case time.Time:
		return v.Format(timeFormat)
	case time.Duration:
		return v.String()
	case error:
		return escapeString(v.Error())
	case fmt.Stringer:
		return escapeString(v.String())
	case float32:
		return fmt.Sprintf("%.3f", v)
	case float64:
		return fmt.Sprintf("%.3f", v)
	case string:
		return escapeString(v)
	default:
		return escapeString(fmt.Sprintf("%+v", value))
	}
}

func escapeString(s string) string {
	if len(s) > termCtxLimit {
		s = s[:termCtxLimit-2] + ".."
	}
	if !strings.ContainsAny(s, " \t\n\r\"=") {
		return s
	}
	return fmt.Sprintf("%q", s)
}

var root = &logger{[]interface{}{}, new(swapHandler)}

func init() {
	root.SetHandler(LvlFilterHandler(LvlInfo, StreamHandler(os.Stderr, true)))
}

// Root returns the root logger.
func Root() Logger { return root }

// New returns a new logger with the given context and the root handler.
func New(ctx ...interface{}) Logger { return root.New(ctx...) }

// Trace is a convenient alias for Root().Trace.
func Trace(msg string, ctx ...interface{}) { root.write(msg, LvlTrace, ctx) }

// Debug is a convenient alias for Root().Debug.
func Debug(msg string, ctx ...interface{}) { root.write(msg, LvlDebug, ctx) }

// Info is a convenient alias for Root().Info.
func Info(msg string, ctx ...interface{}) { root.write(msg, LvlInfo, ctx) }

// Warn is a convenient alias for Root().Warn.
func Warn(msg string, ctx ...interface{}) { root.write(msg, LvlWarn, ctx) }

// Error is a convenient alias for Root().Error.
func Error(msg string, ctx ...interface{}) { root.write(msg, LvlError, ctx) }

// Crit is a convenient alias for Root().Crit, terminating the process.
func Crit(msg string, ctx ...interface{}) {
	root.write(msg, LvlCrit, ctx)
	os.Exit(1)
}
