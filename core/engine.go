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

// Package core implements the pipeline state machine: the persistent per-job
// record, its transitions, the coupling between transitions and the credit
// ledger, and the status poller driving provider tasks to terminal states.
package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru"

	"github.com/jackg825/dream-forge-web-sub001/core/types"
	"github.com/jackg825/dream-forge-web-sub001/ledger"
	"github.com/jackg825/dream-forge-web-sub001/log"
	"github.com/jackg825/dream-forge-web-sub001/params"
	"github.com/jackg825/dream-forge-web-sub001/provider"
	"github.com/jackg825/dream-forge-web-sub001/storage"
	"github.com/jackg825/dream-forge-web-sub001/storage/blob"
	"github.com/jackg825/dream-forge-web-sub001/vision"
)

// ViewGenerator is the slice of the vision generator the engine consumes.
// *vision.Generator implements it; tests substitute fakes.
type ViewGenerator interface {
	AnalyzeImage(ctx context.Context, ref []byte, refMime string, opts vision.AnalyzeOptions) (*types.ImageAnalysis, error)
	GenerateAllViews(ctx context.Context, ref []byte, refMime string, req vision.ViewRequest, progress vision.ProgressFunc) (map[types.Angle]*vision.GeneratedView, error)
	GenerateMeshView(ctx context.Context, ref []byte, refMime string, req vision.ViewRequest, angle types.Angle, hint string) (*vision.GeneratedView, error)
}

// Config wires an Engine.
type Config struct {
	Store     *storage.Store
	Blobs     blob.Store
	Ledger    *ledger.Ledger
	Views     ViewGenerator
	Providers *provider.Registry
	Client    *http.Client // used to fetch reference images and artifacts
	Logger    log.Logger   // defaults to the root logger's engine module
}

// Engine owns every pipeline mutation. Per-pipeline serialization is a
// process-local mutex per id; the store's single-writer transactions keep
// the persisted record consistent underneath.
type Engine struct {
	store     *storage.Store
	blobs     blob.Store
	ledger    *ledger.Ledger
	views     ViewGenerator
	providers *provider.Registry
	httpc     *http.Client
	logger    log.Logger

	locks    sync.Map   // pipeline id -> *sync.Mutex
	lastPoll *lru.Cache // pipeline id -> time.Time, poll cadence floor

	batchCh chan string
	quit    chan struct{}
	wg      sync.WaitGroup
}

// New creates an engine. Call Start to launch the batch worker.
func New(cfg Config) *Engine {
	cache, _ := lru.New(8192)
	httpc := cfg.Client
	if httpc == nil {
		httpc = &http.Client{Timeout: params.TransferTimeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.New("module", "engine")
	}
	return &Engine{
		store:     cfg.Store,
		blobs:     cfg.Blobs,
		ledger:    cfg.Ledger,
		views:     cfg.Views,
		providers: cfg.Providers,
		httpc:     httpc,
		logger:    logger,
		lastPoll:  cache,
		batchCh:   make(chan string, 256),
		quit:      make(chan struct{}),
	}
}

// Start launches the batch-mode worker.
func (e *Engine) Start() {
	e.wg.Add(1)
	go e.batchLoop()
}

// Stop terminates background work and waits for it to drain.
func (e *Engine) Stop() {
	close(e.quit)
	e.wg.Wait()
}

// lock serializes all transitions of one pipeline and returns the unlock.
func (e *Engine) lock(id string) func() {
	mu, _ := e.locks.LoadOrStore(id, new(sync.Mutex))
	m := mu.(*sync.Mutex)
	m.Lock()
	return m.Unlock
}

// loadOwned fetches the pipeline and enforces ownership.
func (e *Engine) loadOwned(userID, id string) (*types.Pipeline, error) {
	p, err := e.store.GetPipeline(id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if p.UserID != userID {
		return nil, ErrPermissionDenied
	}
	return p, nil
}

// mutate runs fn against the freshly loaded pipeline inside one store
// transaction and bumps UpdatedAt. Callers hold the pipeline lock.
func (e *Engine) mutate(id string, fn func(tx *storage.Txn, p *types.Pipeline) error) (*types.Pipeline, error) {
	var out *types.Pipeline
	err := e.store.Update(func(tx *storage.Txn) error {
		p, err := tx.Pipeline(id)
		if errors.Is(err, storage.ErrNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		if err := fn(tx, p); err != nil {
			return err
		}
		p.UpdatedAt = time.Now().UTC()
		out = p
		return tx.PutPipeline(p)
	})
	if err != nil {
		return nil, err
	}
	transitionCounter.WithLabelValues(string(out.Status)).Inc()
	return out.Copy(), nil
}

// CreateParams carries the createPipeline inputs.
type CreateParams struct {
	ImageURLs      []string
	Settings       types.Settings
	ProcessingMode types.ProcessingMode
	Description    string
	Analysis       *types.ImageAnalysis
}

// Create persists a new pipeline in the draft state.
func (e *Engine) Create(userID string, p CreateParams) (*types.Pipeline, error) {
	if len(p.ImageURLs) == 0 {
		return nil, fmt.Errorf("%w: at least one input image required", ErrInvalidState)
	}
	mode := p.ProcessingMode
	if mode == "" {
		mode = types.ModeRealtime
	}
	now := time.Now().UTC()
	pipe := &types.Pipeline{
		ID:              uuid.NewString(),
		UserID:          userID,
		Status:          types.StatusDraft,
		ProcessingMode:  mode,
		InputImages:     append([]string(nil), p.ImageURLs...),
		ImageAnalysis:   p.Analysis,
		UserDescription: p.Description,
		Settings:        p.Settings,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	err := e.store.Update(func(tx *storage.Txn) error {
		return tx.PutPipeline(pipe)
	})
	if err != nil {
		return nil, err
	}
	e.logger.Info("Created pipeline", "id", pipe.ID, "user", userID, "mode", mode, "images", len(pipe.InputImages))
	transitionCounter.WithLabelValues(string(types.StatusDraft)).Inc()
	return pipe.Copy(), nil
}

// Get returns the caller's pipeline projection.
func (e *Engine) Get(userID, id string) (*types.Pipeline, error) {
	p, err := e.loadOwned(userID, id)
	if err != nil {
		return nil, err
	}
	return p.Copy(), nil
}

// List returns the caller's pipelines, newest first.
func (e *Engine) List(userID string, status types.Status, limit int) ([]*types.Pipeline, error) {
	if limit <= 0 || limit > params.MaxListLimit {
		limit = params.MaxListLimit
	}
	pipes, err := e.store.ListPipelines(userID, status, limit)
	if err != nil {
		return nil, err
	}
	out := make([]*types.Pipeline, len(pipes))
	for i, p := range pipes {
		out[i] = p.Copy()
	}
	return out, nil
}

// Analyze runs the vision analysis of the reference image and attaches the
// result. The pipeline stays in draft.
func (e *Engine) Analyze(ctx context.Context, userID, id string, opts vision.AnalyzeOptions) (*types.Pipeline, error) {
	unlock := e.lock(id)
	defer unlock()

	p, err := e.loadOwned(userID, id)
	if err != nil {
		return nil, err
	}
	if p.Status != types.StatusDraft {
		return nil, fmt.Errorf("%w: analyze requires draft, pipeline is %s", ErrInvalidState, p.Status)
	}
	ref, refMime, err := e.fetchImage(ctx, p.InputImages[0])
	if err != nil {
		return nil, err
	}
	if opts.Model == "" {
		opts.Model = p.Settings.GeminiModel
	}
	if opts.Style == "" {
		opts.Style = p.Settings.SelectedStyle
	}
	if opts.ColorCount == 0 {
		opts.ColorCount = p.Settings.ColorCount
	}
	analysis, err := e.views.AnalyzeImage(ctx, ref, refMime, opts)
	if err != nil {
		return nil, err
	}
	return e.mutate(id, func(tx *storage.Txn, p *types.Pipeline) error {
		p.ImageAnalysis = analysis
		return nil
	})
}

// UpdateAnalysis replaces the attached analysis. Draft-only: once views
// have been generated the analysis anchored them and may not drift.
func (e *Engine) UpdateAnalysis(userID, id string, analysis *types.ImageAnalysis) (*types.Pipeline, error) {
	unlock := e.lock(id)
	defer unlock()

	p, err := e.loadOwned(userID, id)
	if err != nil {
		return nil, err
	}
	if p.Status != types.StatusDraft {
		return nil, fmt.Errorf("%w: analysis can only be edited in draft", ErrInvalidState)
	}
	return e.mutate(id, func(tx *storage.Txn, p *types.Pipeline) error {
		p.ImageAnalysis = analysis
		return nil
	})
}

// fetchImage downloads a reference image and sniffs its content type.
func (e *Engine) fetchImage(ctx context.Context, url string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", err
	}
	resp, err := e.httpc.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("fetch reference image: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("fetch reference image: status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return nil, "", err
	}
	mime := resp.Header.Get("Content-Type")
	if mime == "" || !strings.HasPrefix(mime, "image/") {
		mime = http.DetectContentType(data)
	}
	return data, mime, nil
}

// viewRequest assembles the vision request context from pipeline state.
func viewRequest(p *types.Pipeline) vision.ViewRequest {
	req := vision.ViewRequest{
		Model:       p.Settings.GeminiModel,
		Mode:        p.Settings.GenerationMode,
		Description: p.UserDescription,
		Style:       p.Settings.SelectedStyle,
	}
	if p.ImageAnalysis != nil {
		req.Palette = p.ImageAnalysis.ColorPalette
	}
	return req
}

// imageExt derives the storage extension from a MIME type.
func imageExt(mime string) string {
	switch mime {
	case "image/jpeg":
		return "jpg"
	case "image/webp":
		return "webp"
	default:
		return "png"
	}
}
