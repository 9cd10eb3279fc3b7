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
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jackg825/dream-forge-web-sub001/core/types"
)

func TestAggregatePaletteOrdering(t *testing.T) {
	views := map[types.Angle][]string{
		types.AngleFront: {"#FF0000", "#00FF00", "#0000FF"},
		types.AngleBack:  {"#ff0000", "#00FF00"}, // lower case must tally with upper
		types.AngleLeft:  {"#FF0000", "#123456"},
		types.AngleRight: {"#0000FF"},
	}
	agg := AggregatePalette(views)

	// Frequencies: FF0000=3, 00FF00=2, 0000FF=2, 123456=1. The 00FF00 vs
	// 0000FF tie breaks on first appearance in angle order (front lists
	// green before blue).
	assert.Equal(t, []string{"#FF0000", "#00FF00", "#0000FF", "#123456"}, agg.Unified)
	assert.Equal(t, agg.Unified, agg.DominantColors)
}

func TestAggregatePaletteDominantCap(t *testing.T) {
	views := map[types.Angle][]string{
		types.AngleFront: {"#000001", "#000002", "#000003", "#000004", "#000005"},
		types.AngleBack:  {"#000006", "#000007", "#000008", "#000009"},
	}
	agg := AggregatePalette(views)
	assert.Len(t, agg.Unified, 9)
	assert.Len(t, agg.DominantColors, 7)
	assert.Equal(t, agg.Unified[:7], agg.DominantColors)
}

func TestAggregatePaletteDeterminism(t *testing.T) {
	views := map[types.Angle][]string{
		types.AngleFront: {"#FF0000", "#00FF00", "#0000FF"},
		types.AngleBack:  {"#0000FF", "#FF0000"},
		types.AngleLeft:  {"#00FF00"},
		types.AngleRight: {"#FF0000"},
	}
	first := AggregatePalette(views)
	for i := 0; i < 50; i++ {
		assert.Equal(t, first, AggregatePalette(views))
	}
}

func TestAggregatePaletteEmpty(t *testing.T) {
	agg := AggregatePalette(map[types.Angle][]string{})
	assert.Empty(t, agg.Unified)
	assert.Empty(t, agg.DominantColors)
}

// encodeTestImage paints a small PNG dominated by the first color.
func encodeTestImage(t *testing.T, dominant, minor color.RGBA) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 32, 32))
	for y := 0; y < 32; y++ {
		for x := 0; x < 32; x++ {
			if x < 8 {
				img.SetRGBA(x, y, minor)
			} else {
				img.SetRGBA(x, y, dominant)
			}
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestExtractPalette(t *testing.T) {
	data := encodeTestImage(t,
		color.RGBA{R: 255, A: 255},          // pure red, 3/4 of pixels
		color.RGBA{B: 255, A: 255},          // pure blue, 1/4 of pixels
	)
	palette, err := ExtractPalette(data)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(palette), 2)
	assert.Equal(t, "#FF0000", palette[0])
	assert.Equal(t, "#0000FF", palette[1])

	// Same bytes, same palette.
	again, err := ExtractPalette(data)
	require.NoError(t, err)
	assert.Equal(t, palette, again)
}

func TestExtractPaletteSkipsBackground(t *testing.T) {
	data := encodeTestImage(t,
		color.RGBA{R: 255, G: 255, B: 255, A: 255}, // white background dominates
		color.RGBA{G: 255, A: 255},
	)
	palette, err := ExtractPalette(data)
	require.NoError(t, err)
	require.NotEmpty(t, palette)
	assert.Equal(t, "#00FF00", palette[0])
	assert.NotContains(t, palette, "#FFFFFF")
}

func TestExtractPaletteRejectsGarbage(t *testing.T) {
	_, err := ExtractPalette([]byte("not an image"))
	assert.Error(t, err)
}
