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

// Package testlog provides a log handler for unit tests.
package testlog

import (
	"fmt"
	"testing"

	"github.com/jackg825/dream-forge-web-sub001/log"
)

// Logger returns a logger which logs to the unit test log of t at the given
// verbosity level.
func Logger(t *testing.T, lvl log.Lvl) log.Logger {
	l := log.New()
	l.SetHandler(log.LvlFilterHandler(lvl, log.FuncHandler(func(r *log.Record) error {
		t.Helper()
		line := fmt.Sprintf("%s %s", r.Lvl.AlignedString(), r.Msg)
		for i := 0; i+1 < len(r.Ctx); i += 2 {
			line += fmt.Sprintf(" %v=%v", r.Ctx[i], r.Ctx[i+1])
		}
		t.Log(line)
		return nil
	})))
	return l
}
