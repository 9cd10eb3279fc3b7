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

package vision

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jackg825/dream-forge-web-sub001/core/types"
	"github.com/jackg825/dream-forge-web-sub001/params"
)

// GeneratedView is one synthesized angle image with its extracted palette.
type GeneratedView struct {
	Data    []byte
	Mime    string
	Palette []string
}

// ProgressFunc is invoked after each successful view completion with the
// running completion count out of total.
type ProgressFunc func(kind string, angle types.Angle, completed, total int)

// GenerateMeshView synthesizes a single angle view. hint carries the user's
// regeneration adjustment, empty on first generation.
func (g *Generator) GenerateMeshView(ctx context.Context, ref []byte, refMime string, req ViewRequest, angle types.Angle, hint string) (*GeneratedView, error) {
	image, mime, _, err := g.generate(ctx, req.Model, buildViewPrompt(req, angle, hint), ref, refMime, true)
	if err != nil {
		return nil, err
	}
	palette, err := ExtractPalette(image)
	if err != nil {
		// A view without a readable palette is still a view; aggregation
		// just sees fewer contributions.
		g.logger.Warn("View palette extraction failed", "angle", angle, "err", err)
		palette = nil
	}
	return &GeneratedView{Data: image, Mime: mime, Palette: palette}, nil
}

// GenerateAllViews launches the four angle generations with staggered
// starts of 0, 1x, 2x and 3x the configured interval, respecting the
// provider's minimum gap between request initiations on one key, then
// awaits all four. Each request runs under its own timeout. If any angle
// fails the call returns the first error; in-flight siblings are cancelled
// and any stragglers' results are discarded.
func (g *Generator) GenerateAllViews(ctx context.Context, ref []byte, refMime string, req ViewRequest, progress ProgressFunc) (map[types.Angle]*GeneratedView, error) {
	var (
		mu        sync.Mutex
		views     = make(map[types.Angle]*GeneratedView, len(types.Angles))
		completed int
	)
	grp, gctx := errgroup.WithContext(ctx)
	start := time.Now()
	for i, angle := range types.Angles {
		i, angle := i, angle
		grp.Go(func() error {
			if delay := time.Duration(i) * params.ViewStagger; delay > 0 {
				select {
				case <-time.After(delay):
				case <-gctx.Done():
					return gctx.Err()
				}
			}
			callCtx, cancel := context.WithTimeout(gctx, params.ViewTimeout)
			defer cancel()
			view, err := g.GenerateMeshView(callCtx, ref, refMime, req, angle, "")
			if err != nil {
				return err
			}
			mu.Lock()
			views[angle] = view
			completed++
			done := completed
			mu.Unlock()
			if progress != nil {
				progress("mesh", angle, done, len(types.Angles))
			}
			return nil
		})
	}
	if err := grp.Wait(); err != nil {
		return nil, err
	}
	g.logger.Info("Generated mesh views", "count", len(views), "elapsed", time.Since(start))
	return views, nil
}
