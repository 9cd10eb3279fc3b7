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

// Package params centralizes the protocol constants of the generation
// pipeline: stage costs, retry caps and the various provider timeouts.
package params

import (
	"strings"
	"time"
)

// Credit costs per pipeline stage. Mesh costs are provider specific and live
// in the provider registry; these cover the remaining stages.
const (
	// ViewsCostFlash is the credit cost of a four-view generation round on a
	// flash-class vision model.
	ViewsCostFlash = 3

	// ViewsCostPro is the credit cost of a four-view generation round on a
	// pro-class vision model.
	ViewsCostPro = 4

	// TextureCost is the credit cost of the optional retexture stage.
	TextureCost = 10
)

// ViewsCost returns the credit cost of the view-generation stage for the
// given vision model identifier.
func ViewsCost(model string) int {
	if strings.Contains(model, "pro") {
		return ViewsCostPro
	}
	return ViewsCostFlash
}

const (
	// MaxRegenerations bounds the number of single-view regenerations a user
	// may run on one pipeline.
	MaxRegenerations = 4

	// MaxInputImages bounds the reference images accepted at creation.
	MaxInputImages = 4

	// MaxUserDescription bounds the free-text object description.
	MaxUserDescription = 300

	// MinColorCount and MaxColorCount bound the requested analysis palette;
	// DefaultColorCount is used when the caller does not ask for a size.
	MinColorCount     = 3
	MaxColorCount     = 12
	DefaultColorCount = 6

	// DominantColorCap is the length limit of the aggregated dominant-color
	// list derived from the per-view palettes.
	DominantColorCap = 7

	// MaxListLimit bounds a single listPipelines page.
	MaxListLimit = 50

	// MaxDownloadRetries is the number of consecutive polls that may observe
	// a succeeded task without a usable download before the pipeline fails.
	MaxDownloadRetries = 60
)

const (
	// ViewStagger is the minimum gap between request initiations against the
	// vision API on a single key. The four angle requests launch at offsets
	// 0, 1x, 2x and 3x of this interval.
	ViewStagger = 500 * time.Millisecond

	// ViewTimeout is the per-request deadline of one angle generation.
	ViewTimeout = 60 * time.Second

	// PollInterval is the per-pipeline floor between provider status polls.
	PollInterval = 3 * time.Second

	// PollTimeout is the deadline of one provider status poll.
	PollTimeout = 30 * time.Second

	// TransferTimeout is the deadline for downloading a finished model from
	// a provider and re-uploading it to blob storage.
	TransferTimeout = 540 * time.Second
)
