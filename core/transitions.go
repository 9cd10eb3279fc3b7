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
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackg825/dream-forge-web-sub001/core/types"
	"github.com/jackg825/dream-forge-web-sub001/errs"
	"github.com/jackg825/dream-forge-web-sub001/params"
	"github.com/jackg825/dream-forge-web-sub001/provider"
	"github.com/jackg825/dream-forge-web-sub001/storage"
	"github.com/jackg825/dream-forge-web-sub001/storage/blob"
	"github.com/jackg825/dream-forge-web-sub001/vision"
)

// GenerateViews debits the view-stage cost and synthesizes the four angle
// views. In realtime mode the fan-out runs within this call; in batch mode
// the pipeline is queued and the call returns immediately with the queued
// sub-state. A failed view stage can be retried and an images-ready set can
// be regenerated in full; either path debits again.
func (e *Engine) GenerateViews(ctx context.Context, userID, id string) (*types.Pipeline, error) {
	unlock := e.lock(id)
	defer unlock()

	p, err := e.loadOwned(userID, id)
	if err != nil {
		return nil, err
	}
	if !viewStageAllowed(p) {
		return nil, fmt.Errorf("%w: generateViews requires draft, images-ready or a failed view stage, pipeline is %s", ErrInvalidState, p.Status)
	}
	if p.ImageAnalysis == nil {
		return nil, fmt.Errorf("%w: generateViews requires a prior image analysis", ErrInvalidState)
	}
	cost := params.ViewsCost(p.Settings.GeminiModel)

	// Debit and transition in one transaction: a generating-images record
	// always has its consume row, and a rejected debit leaves no trace.
	batch := p.ProcessingMode == types.ModeBatch
	p, err = e.mutate(id, func(tx *storage.Txn, p *types.Pipeline) error {
		if err := e.ledger.DeductIn(tx, userID, cost, id); err != nil {
			return err
		}
		p.Status = types.StatusGeneratingImages
		p.CreditsCharged.Views = cost
		p.Error, p.ErrorStep = "", ""
		p.Progress = &types.GenerationProgress{Phase: "mesh-views"}
		if batch {
			p.BatchState = types.BatchQueued
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	creditCounter.WithLabelValues("views", "debit").Add(float64(cost))

	if batch {
		select {
		case e.batchCh <- id:
		default:
			e.logger.Warn("Batch queue full, pipeline awaits recovery", "id", id)
		}
		return p, nil
	}
	return e.runViewGeneration(ctx, p)
}

// viewStageAllowed reports whether the view stage may start or restart.
func viewStageAllowed(p *types.Pipeline) bool {
	switch p.Status {
	case types.StatusDraft, types.StatusImagesReady:
		return true
	}
	return p.Status == types.StatusFailed && p.ErrorStep == types.StatusGeneratingImages
}

// runViewGeneration performs the fan-out, stores the views and lands the
// pipeline in images-ready, or refunds and fails it. Callers hold the
// pipeline lock; p is already in generating-images with the debit applied.
func (e *Engine) runViewGeneration(ctx context.Context, p *types.Pipeline) (*types.Pipeline, error) {
	start := time.Now()
	id, userID := p.ID, p.UserID

	ref, refMime, err := e.fetchImage(ctx, p.InputImages[0])
	if err != nil {
		return e.failStage(id, userID, types.StatusGeneratingImages, err)
	}
	views, err := e.views.GenerateAllViews(ctx, ref, refMime, viewRequest(p), func(kind string, angle types.Angle, completed, total int) {
		if _, perr := e.mutate(id, func(tx *storage.Txn, p *types.Pipeline) error {
			p.Progress = &types.GenerationProgress{Phase: "mesh-views", MeshViewsCompleted: completed}
			return nil
		}); perr != nil {
			e.logger.Warn("Progress update failed", "id", id, "err", perr)
		}
	})
	if err != nil {
		return e.failStage(id, userID, types.StatusGeneratingImages, err)
	}

	stored := make(map[types.Angle]*types.ProcessedImage, len(views))
	palettes := make(map[types.Angle][]string, len(views))
	for _, angle := range types.Angles {
		view := views[angle]
		path := blob.Path(userID, id, fmt.Sprintf("mesh_%s.%s", angle, imageExt(view.Mime)))
		url, err := e.blobs.Put(ctx, path, view.Data, view.Mime)
		if err != nil {
			return e.failStage(id, userID, types.StatusGeneratingImages, err)
		}
		stored[angle] = &types.ProcessedImage{
			URL:          url,
			StoragePath:  path,
			Source:       types.SourceAI,
			ColorPalette: view.Palette,
			GeneratedAt:  time.Now().UTC(),
		}
		palettes[angle] = view.Palette
	}

	out, err := e.mutate(id, func(tx *storage.Txn, p *types.Pipeline) error {
		p.MeshImages = stored
		p.AggregatedColors = vision.AggregatePalette(palettes)
		p.Status = types.StatusImagesReady
		p.BatchState = types.BatchNone
		p.Progress = &types.GenerationProgress{Phase: "complete", MeshViewsCompleted: len(stored)}
		return nil
	})
	if err != nil {
		return nil, err
	}
	stageDuration.WithLabelValues("views").Observe(time.Since(start).Seconds())
	e.logger.Info("View generation complete", "id", id, "elapsed", time.Since(start))
	return out, nil
}

// failStage refunds the stage's charge, records the classified error and
// moves the pipeline to failed, all in one transaction. The stage charge is
// zeroed in the same write so a second failure cannot refund twice.
func (e *Engine) failStage(id, userID string, stage types.Status, cause error) (*types.Pipeline, error) {
	classified := errs.Classify(cause)
	detail, _ := json.Marshal(classified)

	out, err := e.mutate(id, func(tx *storage.Txn, p *types.Pipeline) error {
		var charged *int
		var label string
		switch stage {
		case types.StatusGeneratingImages:
			charged, label = &p.CreditsCharged.Views, "views"
		case types.StatusGeneratingMesh:
			charged, label = &p.CreditsCharged.Mesh, "mesh"
		case types.StatusGeneratingTexture:
			charged, label = &p.CreditsCharged.Texture, "texture"
		default:
			return fmt.Errorf("failStage: %s is not a generating stage", stage)
		}
		if *charged > 0 {
			if err := e.ledger.RefundIn(tx, userID, *charged, id); err != nil {
				return err
			}
			creditCounter.WithLabelValues(label, "refund").Add(float64(*charged))
			*charged = 0
		}
		p.Status = types.StatusFailed
		p.ErrorStep = stage
		p.Error = string(detail)
		p.BatchState = types.BatchNone
		p.Progress = nil
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.logger.Error("Stage failed", "id", id, "stage", stage, "code", classified.Code, "err", classified.TechnicalMessage)
	return out, classified
}

// RegenerateView re-synthesizes a single angle slot. Regenerations are free
// but capped per pipeline; the aggregated palette is recomputed from the
// resulting slot set.
func (e *Engine) RegenerateView(ctx context.Context, userID, id string, angle types.Angle, hint string) (*types.Pipeline, error) {
	unlock := e.lock(id)
	defer unlock()

	p, err := e.loadOwned(userID, id)
	if err != nil {
		return nil, err
	}
	if p.Status != types.StatusImagesReady {
		return nil, fmt.Errorf("%w: regenerateView requires images-ready, pipeline is %s", ErrInvalidState, p.Status)
	}
	if !angle.Valid() {
		return nil, errs.Validation("invalid_angle", "angle must be front, back, left or right")
	}
	if p.RegenerationsUsed >= params.MaxRegenerations {
		return nil, errs.Resource("regeneration_cap", fmt.Sprintf("the %d free view regenerations are used up", params.MaxRegenerations))
	}

	ref, refMime, err := e.fetchImage(ctx, p.InputImages[0])
	if err != nil {
		return nil, errs.Classify(err)
	}
	view, err := e.views.GenerateMeshView(ctx, ref, refMime, viewRequest(p), angle, hint)
	if err != nil {
		// A failed regeneration leaves the existing slot untouched and does
		// not consume the cap.
		return nil, errs.Classify(err)
	}
	path := blob.Path(userID, id, fmt.Sprintf("mesh_%s_r%d.%s", angle, p.RegenerationsUsed+1, imageExt(view.Mime)))
	url, err := e.blobs.Put(ctx, path, view.Data, view.Mime)
	if err != nil {
		return nil, errs.Classify(err)
	}

	return e.mutate(id, func(tx *storage.Txn, p *types.Pipeline) error {
		if p.RegenerationsUsed >= params.MaxRegenerations {
			return errs.Resource("regeneration_cap", fmt.Sprintf("the %d free view regenerations are used up", params.MaxRegenerations))
		}
		p.MeshImages[angle] = &types.ProcessedImage{
			URL:          url,
			StoragePath:  path,
			Source:       types.SourceAI,
			ColorPalette: view.Palette,
			GeneratedAt:  time.Now().UTC(),
		}
		p.RegenerationsUsed++
		palettes := make(map[types.Angle][]string, len(p.MeshImages))
		for a, img := range p.MeshImages {
			palettes[a] = img.ColorPalette
		}
		p.AggregatedColors = vision.AggregatePalette(palettes)
		return nil
	})
}

// StartMesh debits the provider's cost and submits the four views to the
// chosen 3D backend. A failed mesh stage can be retried with the same
// provider; switching providers requires a reset first, so the recorded
// charge always matches the provider that ran.
func (e *Engine) StartMesh(ctx context.Context, userID, id, providerName string, extra map[string]string) (*types.Pipeline, error) {
	unlock := e.lock(id)
	defer unlock()

	p, err := e.loadOwned(userID, id)
	if err != nil {
		return nil, err
	}
	retry := p.Status == types.StatusFailed && p.ErrorStep == types.StatusGeneratingMesh
	if p.Status != types.StatusImagesReady && !retry {
		return nil, fmt.Errorf("%w: startMesh requires images-ready or a failed mesh stage, pipeline is %s", ErrInvalidState, p.Status)
	}
	if !p.HasAllViews() {
		return nil, fmt.Errorf("%w: all four views must be present", ErrInvalidState)
	}

	name := providerName
	if name == "" {
		name = p.Settings.Provider
	}
	if name == "" {
		name = provider.Meshy
	}
	if retry && p.Settings.Provider != "" && name != p.Settings.Provider {
		return nil, fmt.Errorf("%w: retry must reuse provider %s; reset the step to switch", ErrInvalidState, p.Settings.Provider)
	}
	drv, err := e.providers.Mesh(name)
	if err != nil {
		return nil, errs.Validation("unknown_provider", err.Error())
	}
	if err := e.providers.ValidateOptions(name, extra); err != nil {
		return nil, errs.Validation("invalid_provider_options", err.Error())
	}
	cost := drv.Cost()

	p, err = e.mutate(id, func(tx *storage.Txn, p *types.Pipeline) error {
		if err := e.ledger.DeductIn(tx, userID, cost, id); err != nil {
			return err
		}
		p.Status = types.StatusGeneratingMesh
		p.CreditsCharged.Mesh = cost
		p.Settings.Provider = name
		if extra != nil {
			p.Settings.ProviderOptions = extra
		}
		p.Error, p.ErrorStep = "", ""
		p.ProviderTaskID, p.ProviderSubscriptionKey = "", ""
		p.DownloadRetries = 0
		return nil
	})
	if err != nil {
		return nil, err
	}
	creditCounter.WithLabelValues("mesh", "debit").Add(float64(cost))

	urls := make([]string, 0, len(types.Angles))
	for _, a := range types.Angles {
		urls = append(urls, p.MeshImages[a].URL)
	}
	task, err := drv.Submit(ctx, urls, provider.Options{Format: p.Settings.Format, Extra: p.Settings.ProviderOptions})
	if err != nil {
		return e.failStage(id, userID, types.StatusGeneratingMesh, err)
	}
	e.logger.Info("Mesh task submitted", "id", id, "provider", name, "task", task.ID)
	return e.mutate(id, func(tx *storage.Txn, p *types.Pipeline) error {
		p.ProviderTaskID = task.ID
		p.ProviderSubscriptionKey = task.SubscriptionKey
		return nil
	})
}

// StartTexture debits the texture cost and submits a retexture pass over
// the finished mesh, anchored on the front view as the style reference.
// Retexturing rides the mesh provider's task, so it is only available when
// the mesh was generated by the retexture backend's provider.
func (e *Engine) StartTexture(ctx context.Context, userID, id string, prompt string, enablePBR bool) (*types.Pipeline, error) {
	unlock := e.lock(id)
	defer unlock()

	p, err := e.loadOwned(userID, id)
	if err != nil {
		return nil, err
	}
	retry := p.Status == types.StatusFailed && p.ErrorStep == types.StatusGeneratingTexture
	if p.Status != types.StatusMeshReady && !retry {
		return nil, fmt.Errorf("%w: startTexture requires mesh-ready or a failed texture stage, pipeline is %s", ErrInvalidState, p.Status)
	}
	rtx := e.providers.Retexture()
	if p.Settings.Provider != rtx.Name() {
		return nil, fmt.Errorf("%w: texturing is only available for %s meshes", ErrInvalidState, rtx.Name())
	}
	if p.ProviderTaskID == "" {
		return nil, fmt.Errorf("%w: mesh task handle missing", ErrInvalidState)
	}

	p, err = e.mutate(id, func(tx *storage.Txn, p *types.Pipeline) error {
		if err := e.ledger.DeductIn(tx, userID, params.TextureCost, id); err != nil {
			return err
		}
		p.Status = types.StatusGeneratingTexture
		p.CreditsCharged.Texture = params.TextureCost
		p.Error, p.ErrorStep = "", ""
		p.TextureTaskID = ""
		return nil
	})
	if err != nil {
		return nil, err
	}
	creditCounter.WithLabelValues("texture", "debit").Add(float64(params.TextureCost))

	opts := provider.RetextureOptions{TextPrompt: prompt, EnablePBR: enablePBR}
	if front := p.MeshImages[types.AngleFront]; front != nil {
		opts.StyleURL = front.URL
	}
	task, err := rtx.SubmitFromMesh(ctx, p.ProviderTaskID, opts)
	if err != nil {
		return e.failStage(id, userID, types.StatusGeneratingTexture, err)
	}
	e.logger.Info("Texture task submitted", "id", id, "task", task.ID)
	return e.mutate(id, func(tx *storage.Txn, p *types.Pipeline) error {
		p.TextureTaskID = task.ID
		return nil
	})
}

// ResetStep rewinds the pipeline to an earlier checkpoint so a later stage
// can rerun, optionally with a different provider. Artifacts of the stages
// being rewound are detached unless keepResults is set; credits already
// consumed stay consumed. Busy pipelines cannot be reset.
func (e *Engine) ResetStep(userID, id string, target types.Status, keepResults bool) (*types.Pipeline, error) {
	unlock := e.lock(id)
	defer unlock()

	p, err := e.loadOwned(userID, id)
	if err != nil {
		return nil, err
	}
	if p.Status.Generating() {
		return nil, ErrBusy
	}
	switch target {
	case types.StatusDraft, types.StatusImagesReady, types.StatusMeshReady:
	default:
		return nil, errs.Validation("invalid_reset_target", "reset target must be draft, images-ready or mesh-ready")
	}
	if target == types.StatusImagesReady && !p.HasAllViews() {
		return nil, fmt.Errorf("%w: cannot reset to images-ready without stored views", ErrInvalidState)
	}
	if target == types.StatusMeshReady && p.MeshURL == "" {
		return nil, fmt.Errorf("%w: cannot reset to mesh-ready without a stored mesh", ErrInvalidState)
	}

	return e.mutate(id, func(tx *storage.Txn, p *types.Pipeline) error {
		// The cascade falls through: rewinding further clears everything
		// the nearer targets clear too. Consumed credits are not refunded;
		// the per-stage charge marker is zeroed along with its artifacts.
		if !keepResults {
			switch target {
			case types.StatusDraft:
				p.MeshImages = nil
				p.AggregatedColors = nil
				p.Progress = nil
				p.RegenerationsUsed = 0
				p.CreditsCharged.Views = 0
				fallthrough
			case types.StatusImagesReady:
				p.ProviderTaskID, p.ProviderSubscriptionKey = "", ""
				p.MeshURL, p.MeshStoragePath = "", ""
				p.MeshFormat = ""
				p.MeshDownloadFiles = nil
				p.DownloadRetries = 0
				p.CreditsCharged.Mesh = 0
				fallthrough
			case types.StatusMeshReady:
				p.TextureTaskID = ""
				p.TexturedModelURL, p.TexturedModelStorage = "", ""
				p.CompletedAt = nil
				p.CreditsCharged.Texture = 0
			}
		}
		p.Status = target
		p.BatchState = types.BatchNone
		p.Error, p.ErrorStep = "", ""
		return nil
	})
}

// batchLoop is the single-worker consumer of batch-mode view generations.
// One job runs at a time; queued jobs survive restarts through their
// persisted batch-queued sub-state, which CheckStatus re-enqueues.
func (e *Engine) batchLoop() {
	defer e.wg.Done()
	for {
		select {
		case <-e.quit:
			return
		case id := <-e.batchCh:
			e.runBatchJob(id)
		}
	}
}

func (e *Engine) runBatchJob(id string) {
	unlock := e.lock(id)
	defer unlock()

	p, err := e.store.GetPipeline(id)
	if err != nil {
		e.logger.Warn("Batch job vanished", "id", id, "err", err)
		return
	}
	if p.Status != types.StatusGeneratingImages || p.BatchState == types.BatchNone {
		return
	}
	p, err = e.mutate(id, func(tx *storage.Txn, p *types.Pipeline) error {
		p.BatchState = types.BatchProcessing
		return nil
	})
	if err != nil {
		e.logger.Error("Batch state update failed", "id", id, "err", err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), params.TransferTimeout)
	defer cancel()
	if _, err := e.runViewGeneration(ctx, p); err != nil {
		e.logger.Warn("Batch view generation failed", "id", id, "err", err)
	}
}
