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

package types

// PrintFriendliness scores how well the analyzed object will survive
// physical printing, with concrete suggestions per concern.
type PrintFriendliness struct {
	Score                   int      `json:"score"` // 1..5
	ColorSuggestions        []string `json:"colorSuggestions,omitempty"`
	StructuralConcerns      []string `json:"structuralConcerns,omitempty"`
	MaterialRecommendations []string `json:"materialRecommendations,omitempty"`
	OrientationTips         []string `json:"orientationTips,omitempty"`
}

// ImageAnalysis is the vision provider's structured description of the
// reference image, attached to the pipeline in the draft state.
type ImageAnalysis struct {
	Description       string            `json:"description"`
	ColorPalette      []string          `json:"colorPalette"`
	DominantColors    []string          `json:"dominantColors,omitempty"`
	DetectedMaterials []string          `json:"detectedMaterials,omitempty"`
	ObjectType        string            `json:"objectType,omitempty"`
	PrintFriendliness PrintFriendliness `json:"printFriendliness"`
	RecommendedStyle  Style             `json:"recommendedStyle,omitempty"`
	StyleConfidence   float64           `json:"styleConfidence,omitempty"` // 0..1
	StyleReasoning    string            `json:"styleReasoning,omitempty"`
	StyleSuitability  float64           `json:"styleSuitability,omitempty"` // 0..1
	AnalyzedWithStyle Style             `json:"analyzedWithStyle,omitempty"`
}

// Copy returns a deep copy of the analysis.
func (a *ImageAnalysis) Copy() *ImageAnalysis {
	cpy := *a
	cpy.ColorPalette = append([]string(nil), a.ColorPalette...)
	cpy.DominantColors = append([]string(nil), a.DominantColors...)
	cpy.DetectedMaterials = append([]string(nil), a.DetectedMaterials...)
	cpy.PrintFriendliness.ColorSuggestions = append([]string(nil), a.PrintFriendliness.ColorSuggestions...)
	cpy.PrintFriendliness.StructuralConcerns = append([]string(nil), a.PrintFriendliness.StructuralConcerns...)
	cpy.PrintFriendliness.MaterialRecommendations = append([]string(nil), a.PrintFriendliness.MaterialRecommendations...)
	cpy.PrintFriendliness.OrientationTips = append([]string(nil), a.PrintFriendliness.OrientationTips...)
	return &cpy
}
