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
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jackg825/dream-forge-web-sub001/core/types"
)

// AnalyzeOptions tunes one analysis call.
type AnalyzeOptions struct {
	Model       string
	ColorCount  int
	PrinterType types.PrinterType
	Locale      string
	Style       types.Style
}

// AnalyzeImage runs the structured analysis of a reference image and
// returns the parsed ImageAnalysis.
func (g *Generator) AnalyzeImage(ctx context.Context, ref []byte, refMime string, opts AnalyzeOptions) (*types.ImageAnalysis, error) {
	_, _, text, err := g.generate(ctx, opts.Model, buildAnalysisPrompt(opts), ref, refMime, false)
	if err != nil {
		return nil, err
	}
	analysis, err := parseAnalysis(text)
	if err != nil {
		return nil, err
	}
	analysis.AnalyzedWithStyle = opts.Style
	g.logger.Debug("Analyzed reference image", "object", analysis.ObjectType, "colors", len(analysis.ColorPalette))
	return analysis, nil
}

// parseAnalysis extracts the JSON document from the model's text response.
// Models wrap JSON in markdown fences often enough that we locate the
// outermost braces instead of trusting the framing.
func parseAnalysis(text string) (*types.ImageAnalysis, error) {
	start := strings.IndexByte(text, '{')
	end := strings.LastIndexByte(text, '}')
	if start < 0 || end <= start {
		return nil, fmt.Errorf("analysis response contains no JSON object: %.120q", text)
	}
	var analysis types.ImageAnalysis
	if err := json.Unmarshal([]byte(text[start:end+1]), &analysis); err != nil {
		return nil, fmt.Errorf("parse analysis: %w", err)
	}
	if analysis.Description == "" || len(analysis.ColorPalette) == 0 {
		return nil, fmt.Errorf("analysis response missing required fields")
	}
	for i, c := range analysis.ColorPalette {
		analysis.ColorPalette[i] = strings.ToUpper(c)
	}
	for i, c := range analysis.DominantColors {
		analysis.DominantColors[i] = strings.ToUpper(c)
	}
	if !analysis.RecommendedStyle.Valid() {
		analysis.RecommendedStyle = types.StyleNone
	}
	if analysis.PrintFriendliness.Score < 1 {
		analysis.PrintFriendliness.Score = 1
	} else if analysis.PrintFriendliness.Score > 5 {
		analysis.PrintFriendliness.Score = 5
	}
	return &analysis, nil
}
