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

// Package provider abstracts the external 3D-generation backends behind a
// uniform submit / poll / download capability interface, plus the registry
// that maps provider ids to drivers, credit costs and option schemas.
package provider

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/jackg825/dream-forge-web-sub001/core/types"
)

// State is the normalized lifecycle state of a provider task.
type State string

const (
	StateQueued    State = "queued"
	StateRunning   State = "running"
	StateSucceeded State = "succeeded"
	StateFailed    State = "failed"
	StateCancelled State = "cancelled"
)

// Terminal reports whether the state admits no further transitions.
func (s State) Terminal() bool {
	return s == StateSucceeded || s == StateFailed || s == StateCancelled
}

// ProgressIndeterminate marks a status whose provider reports no progress.
const ProgressIndeterminate = -1

// Status is one poll observation of a task.
type Status struct {
	State    State
	Progress int    // 0..100, or ProgressIndeterminate
	Message  string // failure detail when State == StateFailed
}

// Task identifies an in-flight provider job. SubscriptionKey is only used by
// providers whose polling channel is keyed separately from the task id.
type Task struct {
	ID              string
	SubscriptionKey string
}

// Options carries the per-submission tuning knobs.
type Options struct {
	Format types.MeshFormat
	Extra  map[string]string // provider-specific, validated by the registry
}

// Mesh is the capability interface every 3D mesh backend implements.
type Mesh interface {
	// Name returns the registry id of the provider.
	Name() string

	// Cost returns the credit cost of one submission.
	Cost() int

	// Submit starts a generation task from the given reference image URLs.
	Submit(ctx context.Context, imageURLs []string, opts Options) (Task, error)

	// Poll reports the current state of a task.
	Poll(ctx context.Context, task Task) (Status, error)

	// Download lists the artifacts of a succeeded task. The requested format
	// is a preference; drivers return whatever the task produced and callers
	// apply the fallback order.
	Download(ctx context.Context, task Task, format types.MeshFormat) ([]types.DownloadFile, error)
}

// RetextureOptions tunes a retexture submission.
type RetextureOptions struct {
	StyleURL   string // reference image anchoring the texture style
	TextPrompt string
	EnablePBR  bool
}

// Retexture drives the single retexture backend.
type Retexture interface {
	// Name returns the registry id of the mesh provider whose tasks this
	// backend can retexture.
	Name() string
	SubmitFromMesh(ctx context.Context, meshTaskID string, opts RetextureOptions) (Task, error)
	Poll(ctx context.Context, task Task) (Status, error)
	Download(ctx context.Context, task Task) ([]types.DownloadFile, error)
}

// Error is a provider-level failure carrying the upstream HTTP status and
// response detail.
type Error struct {
	Provider string
	Code     int
	Message  string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s (status %d)", e.Provider, e.Message, e.Code)
}

// RateLimited reports whether the upstream rejected the call for quota
// reasons.
func (e *Error) RateLimited() bool { return e.Code == http.StatusTooManyRequests }

// PickFile selects the artifact to store: the requested format if offered,
// otherwise the first match in the canonical fallback order.
func PickFile(files []types.DownloadFile, want types.MeshFormat) (types.DownloadFile, bool) {
	if want != "" {
		for _, f := range files {
			if f.Format == want {
				return f, true
			}
		}
	}
	for _, format := range types.FormatFallback {
		for _, f := range files {
			if f.Format == format {
				return f, true
			}
		}
	}
	return types.DownloadFile{}, false
}

// FetchBytes downloads an artifact from a provider-hosted URL.
func FetchBytes(ctx context.Context, client *http.Client, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch artifact: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, &Error{Provider: "download", Code: resp.StatusCode, Message: "artifact fetch rejected"}
	}
	return io.ReadAll(resp.Body)
}
