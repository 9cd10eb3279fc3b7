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

package core

import (
	"context"
	"fmt"
	"time"

	"github.com/jackg825/dream-forge-web-sub001/core/types"
	"github.com/jackg825/dream-forge-web-sub001/errs"
	"github.com/jackg825/dream-forge-web-sub001/params"
	"github.com/jackg825/dream-forge-web-sub001/provider"
	"github.com/jackg825/dream-forge-web-sub001/storage"
	"github.com/jackg825/dream-forge-web-sub001/storage/blob"
)

// PollResult is the client-facing outcome of one checkStatus call.
type PollResult struct {
	Pipeline *types.Pipeline `json:"pipeline"`
	State    provider.State  `json:"providerState,omitempty"`
	Progress int             `json:"providerProgress,omitempty"`
}

// CheckStatus performs at most one provider poll for the pipeline and
// advances it when the task reached a terminal state. Clients drive polling;
// the engine only enforces the minimum cadence between upstream calls and
// returns the stored record unchanged when a poll ran too recently.
func (e *Engine) CheckStatus(ctx context.Context, userID, id string) (*PollResult, error) {
	unlock := e.lock(id)
	defer unlock()

	p, err := e.loadOwned(userID, id)
	if err != nil {
		return nil, err
	}

	switch p.Status {
	case types.StatusGeneratingImages:
		// Batch jobs stranded in the queue by a restart are re-enqueued here;
		// realtime view generation has no provider task to poll.
		if p.BatchState == types.BatchQueued {
			select {
			case e.batchCh <- id:
			default:
			}
		}
		return &PollResult{Pipeline: p.Copy()}, nil
	case types.StatusGeneratingMesh, types.StatusGeneratingTexture:
	default:
		return &PollResult{Pipeline: p.Copy()}, nil
	}

	if last, ok := e.lastPoll.Get(id); ok {
		if since := time.Since(last.(time.Time)); since < params.PollInterval {
			return &PollResult{Pipeline: p.Copy()}, nil
		}
	}
	e.lastPoll.Add(id, time.Now())

	pollCtx, cancel := context.WithTimeout(ctx, params.PollTimeout)
	defer cancel()

	if p.Status == types.StatusGeneratingMesh {
		return e.pollMesh(pollCtx, p)
	}
	return e.pollTexture(pollCtx, p)
}

func (e *Engine) pollMesh(ctx context.Context, p *types.Pipeline) (*PollResult, error) {
	drv, err := e.providers.Mesh(p.Settings.Provider)
	if err != nil {
		out, ferr := e.failStage(p.ID, p.UserID, types.StatusGeneratingMesh, err)
		if out == nil {
			return nil, ferr
		}
		return &PollResult{Pipeline: out, State: provider.StateFailed}, nil
	}
	task := provider.Task{ID: p.ProviderTaskID, SubscriptionKey: p.ProviderSubscriptionKey}
	st, err := drv.Poll(ctx, task)
	if err != nil {
		// A failed poll is transient: the task is still running upstream, so
		// the pipeline stays put and the client polls again.
		e.logger.Warn("Mesh poll failed", "id", p.ID, "provider", drv.Name(), "err", err)
		return nil, errs.Classify(err)
	}
	providerPollCounter.WithLabelValues(drv.Name(), string(st.State)).Inc()

	switch st.State {
	case provider.StateSucceeded:
		return e.collectMesh(ctx, p, drv, task, st)
	case provider.StateFailed, provider.StateCancelled:
		cause := &provider.Error{Provider: drv.Name(), Code: 0, Message: st.Message}
		if st.Message == "" {
			cause.Message = fmt.Sprintf("task %s", st.State)
		}
		out, ferr := e.failStage(p.ID, p.UserID, types.StatusGeneratingMesh, cause)
		if out == nil {
			return nil, ferr
		}
		return &PollResult{Pipeline: out, State: st.State}, nil
	default:
		return &PollResult{Pipeline: p.Copy(), State: st.State, Progress: st.Progress}, nil
	}
}

// collectMesh downloads the finished artifact and lands the pipeline in
// mesh-ready. A succeeded task whose artifact list is still empty counts
// against the bounded retry budget instead of failing outright; some
// backends publish files a few polls after flipping to succeeded.
func (e *Engine) collectMesh(ctx context.Context, p *types.Pipeline, drv provider.Mesh, task provider.Task, st provider.Status) (*PollResult, error) {
	files, err := drv.Download(ctx, task, p.Settings.Format)
	if err != nil {
		e.logger.Warn("Mesh download listing failed", "id", p.ID, "err", err)
		return nil, errs.Classify(err)
	}
	file, ok := provider.PickFile(files, p.Settings.Format)
	if !ok {
		out, rerr := e.bumpDownloadRetries(p, types.StatusGeneratingMesh)
		if rerr != nil {
			return nil, rerr
		}
		return &PollResult{Pipeline: out, State: st.State, Progress: st.Progress}, nil
	}

	transferCtx, cancel := context.WithTimeout(ctx, params.TransferTimeout)
	defer cancel()
	data, err := provider.FetchBytes(transferCtx, e.httpc, file.URL)
	if err != nil {
		return nil, errs.Classify(err)
	}
	path := blob.Path(p.UserID, p.ID, fmt.Sprintf("mesh.%s", file.Format))
	url, err := e.blobs.Put(ctx, path, data, file.Format.ContentType())
	if err != nil {
		return nil, errs.Classify(err)
	}

	out, err := e.mutate(p.ID, func(tx *storage.Txn, p *types.Pipeline) error {
		p.MeshURL = url
		p.MeshStoragePath = path
		p.MeshFormat = file.Format
		p.MeshDownloadFiles = files
		p.DownloadRetries = 0
		p.Status = types.StatusMeshReady
		return e.ledger.IncrementGenerationCountIn(tx, p.UserID)
	})
	if err != nil {
		return nil, err
	}
	stageDuration.WithLabelValues("mesh").Observe(time.Since(p.UpdatedAt).Seconds())
	e.logger.Info("Mesh ready", "id", p.ID, "provider", drv.Name(), "format", file.Format)
	return &PollResult{Pipeline: out, State: provider.StateSucceeded, Progress: 100}, nil
}

func (e *Engine) pollTexture(ctx context.Context, p *types.Pipeline) (*PollResult, error) {
	rtx := e.providers.Retexture()
	task := provider.Task{ID: p.TextureTaskID}
	st, err := rtx.Poll(ctx, task)
	if err != nil {
		e.logger.Warn("Texture poll failed", "id", p.ID, "err", err)
		return nil, errs.Classify(err)
	}
	providerPollCounter.WithLabelValues(rtx.Name(), string(st.State)).Inc()

	switch st.State {
	case provider.StateSucceeded:
		return e.collectTexture(ctx, p, rtx, task, st)
	case provider.StateFailed, provider.StateCancelled:
		cause := &provider.Error{Provider: rtx.Name(), Message: st.Message}
		if st.Message == "" {
			cause.Message = fmt.Sprintf("task %s", st.State)
		}
		out, ferr := e.failStage(p.ID, p.UserID, types.StatusGeneratingTexture, cause)
		if out == nil {
			return nil, ferr
		}
		return &PollResult{Pipeline: out, State: st.State}, nil
	default:
		return &PollResult{Pipeline: p.Copy(), State: st.State, Progress: st.Progress}, nil
	}
}

// collectTexture downloads the textured model and completes the pipeline.
func (e *Engine) collectTexture(ctx context.Context, p *types.Pipeline, rtx provider.Retexture, task provider.Task, st provider.Status) (*PollResult, error) {
	files, err := rtx.Download(ctx, task)
	if err != nil {
		return nil, errs.Classify(err)
	}
	file, ok := provider.PickFile(files, types.FormatGLB)
	if !ok {
		out, rerr := e.bumpDownloadRetries(p, types.StatusGeneratingTexture)
		if rerr != nil {
			return nil, rerr
		}
		return &PollResult{Pipeline: out, State: st.State, Progress: st.Progress}, nil
	}

	transferCtx, cancel := context.WithTimeout(ctx, params.TransferTimeout)
	defer cancel()
	data, err := provider.FetchBytes(transferCtx, e.httpc, file.URL)
	if err != nil {
		return nil, errs.Classify(err)
	}
	path := blob.Path(p.UserID, p.ID, "textured.glb")
	url, err := e.blobs.Put(ctx, path, data, types.FormatGLB.ContentType())
	if err != nil {
		return nil, errs.Classify(err)
	}

	out, err := e.mutate(p.ID, func(tx *storage.Txn, p *types.Pipeline) error {
		p.TexturedModelURL = url
		p.TexturedModelStorage = path
		p.DownloadRetries = 0
		p.Status = types.StatusCompleted
		now := time.Now().UTC()
		p.CompletedAt = &now
		return nil
	})
	if err != nil {
		return nil, err
	}
	stageDuration.WithLabelValues("texture").Observe(time.Since(p.UpdatedAt).Seconds())
	e.logger.Info("Pipeline completed", "id", p.ID)
	return &PollResult{Pipeline: out, State: provider.StateSucceeded, Progress: 100}, nil
}

// bumpDownloadRetries counts a succeeded-but-empty artifact listing. Past
// the cap the stage fails and refunds; below it the pipeline stays in its
// generating state for the next poll.
func (e *Engine) bumpDownloadRetries(p *types.Pipeline, stage types.Status) (*types.Pipeline, error) {
	if p.DownloadRetries+1 >= params.MaxDownloadRetries {
		cause := &provider.Error{
			Provider: p.Settings.Provider,
			Message:  fmt.Sprintf("no downloadable artifact after %d attempts", params.MaxDownloadRetries),
		}
		out, ferr := e.failStage(p.ID, p.UserID, stage, cause)
		if out == nil {
			return nil, ferr
		}
		return out, nil
	}
	return e.mutate(p.ID, func(tx *storage.Txn, p *types.Pipeline) error {
		p.DownloadRetries++
		return nil
	})
}
