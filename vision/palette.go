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
	"bytes"
	"fmt"
	"image"
	"sort"
	"strings"

	// Decoders for the formats the vision backend emits.
	_ "image/jpeg"
	_ "image/png"

	"github.com/jackg825/dream-forge-web-sub001/core/types"
	"github.com/jackg825/dream-forge-web-sub001/params"
)

// paletteSize is how many colors one view contributes.
const paletteSize = 6

// ExtractPalette decodes an image and returns its dominant colors as
// uppercase hex codes, most frequent first. The extraction is a pure
// function of the pixel data: fixed sampling stride, fixed quantization
// grid, stable ordering.
func ExtractPalette(data []byte) ([]string, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode view image: %w", err)
	}
	bounds := img.Bounds()

	// Sample at most ~96x96 positions regardless of resolution.
	stride := 1
	if w := bounds.Dx(); w > 96 {
		stride = w / 96
	}
	if h := bounds.Dy(); h/stride > 96 {
		stride = h / 96
	}

	counts := make(map[string]int)
	order := make(map[string]int)
	for y := bounds.Min.Y; y < bounds.Max.Y; y += stride {
		for x := bounds.Min.X; x < bounds.Max.X; x += stride {
			r, g, b, a := img.At(x, y).RGBA()
			if a < 0x8000 {
				continue // transparent
			}
			hex := quantize(uint8(r>>8), uint8(g>>8), uint8(b>>8))
			if hex == "#FFFFFF" {
				continue // required-plain background
			}
			if _, seen := counts[hex]; !seen {
				order[hex] = len(order)
			}
			counts[hex]++
		}
	}

	colors := make([]string, 0, len(counts))
	for hex := range counts {
		colors = append(colors, hex)
	}
	sort.Slice(colors, func(i, j int) bool {
		if counts[colors[i]] != counts[colors[j]] {
			return counts[colors[i]] > counts[colors[j]]
		}
		return order[colors[i]] < order[colors[j]]
	})
	if len(colors) > paletteSize {
		colors = colors[:paletteSize]
	}
	return colors, nil
}

// quantize snaps a color to a 51-step-per-channel grid, collapsing noise
// into stable buckets.
func quantize(r, g, b uint8) string {
	const step = 51
	snap := func(v uint8) int {
		return ((int(v) + step/2) / step) * step
	}
	return fmt.Sprintf("#%02X%02X%02X", snap(r), snap(g), snap(b))
}

// AggregatePalette merges the per-view palettes into the pipeline's
// aggregated palette: hex codes tallied case-insensitively, ordered by
// descending frequency with ties broken by first appearance in canonical
// angle order, dominant list capped at seven.
func AggregatePalette(views map[types.Angle][]string) *types.AggregatedPalette {
	counts := make(map[string]int)
	order := make(map[string]int)
	for _, angle := range types.Angles {
		for _, c := range views[angle] {
			hex := strings.ToUpper(c)
			if _, seen := counts[hex]; !seen {
				order[hex] = len(order)
			}
			counts[hex]++
		}
	}

	unified := make([]string, 0, len(counts))
	for hex := range counts {
		unified = append(unified, hex)
	}
	sort.Slice(unified, func(i, j int) bool {
		if counts[unified[i]] != counts[unified[j]] {
			return counts[unified[i]] > counts[unified[j]]
		}
		return order[unified[i]] < order[unified[j]]
	})

	dominant := unified
	if len(dominant) > params.DominantColorCap {
		dominant = dominant[:params.DominantColorCap]
	}
	return &types.AggregatedPalette{
		Unified:        unified,
		DominantColors: append([]string(nil), dominant...),
	}
}
