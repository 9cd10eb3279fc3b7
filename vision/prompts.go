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
	"fmt"
	"strings"

	"github.com/jackg825/dream-forge-web-sub001/core/types"
	"github.com/jackg825/dream-forge-web-sub001/params"
)

// angleDirectives enumerates the closed angle set. The wording matters: the
// four prompts differ only in this directive, which is what keeps the views
// consistent in identity and palette.
var angleDirectives = map[types.Angle]string{
	types.AngleFront: "the FRONT view, facing the camera straight on",
	types.AngleBack:  "the BACK view, rotated exactly 180 degrees from the front",
	types.AngleLeft:  "the LEFT side view, rotated exactly 90 degrees counter-clockwise from the front",
	types.AngleRight: "the RIGHT side view, rotated exactly 90 degrees clockwise from the front",
}

// styleDirectives maps each preset to its prompt fragment.
var styleDirectives = map[types.Style]string{
	types.StyleNone:       "",
	types.StyleBobblehead: "Render the object as a bobblehead figurine: oversized head, small body, glossy finish.",
	types.StyleChibi:      "Render the object in chibi style: cute, compact proportions with an enlarged head.",
	types.StyleCartoon:    "Render the object as a stylized cartoon: bold outlines, simplified shapes, flat shading.",
	types.StyleEmoji:      "Render the object as a minimal emoji-like icon: rounded, glossy and extremely simplified.",
}

// ViewRequest carries the per-pipeline context anchoring a view prompt.
type ViewRequest struct {
	Model       string
	Mode        string // generation mode preset
	Description string // user-supplied object description
	Palette     []string
	Style       types.Style
}

// buildViewPrompt composes the per-angle generation prompt: role directive,
// angle descriptor, optional user description, anchored palette, style
// preset and an optional regeneration hint.
func buildViewPrompt(req ViewRequest, angle types.Angle, hint string) string {
	var b strings.Builder
	b.WriteString("You are a product photographer preparing turntable reference shots for 3D reconstruction. ")
	b.WriteString("Generate a single photorealistic image of the object in the attached reference photo, showing ")
	b.WriteString(angleDirectives[angle])
	b.WriteString(".")

	if req.Description != "" {
		fmt.Fprintf(&b, " The object is: %s.", req.Description)
	}
	if len(req.Palette) > 0 {
		// Verbatim palette anchor; the same string is sent for all four
		// angles so the model cannot drift between them.
		fmt.Fprintf(&b, " Use exactly this color palette: %s.", strings.Join(req.Palette, ", "))
	}
	if style := styleDirectives[req.Style]; style != "" {
		b.WriteString(" " + style)
	}
	if hint != "" {
		fmt.Fprintf(&b, " Adjustment requested by the user: %s.", hint)
	}
	b.WriteString(" The background must be plain solid white. Keep identity, proportions and colors identical across all views of this object.")
	return b.String()
}

// buildAnalysisPrompt composes the structured-analysis prompt. The model is
// instructed to answer in strict JSON matching the ImageAnalysis schema.
func buildAnalysisPrompt(opts AnalyzeOptions) string {
	count := opts.ColorCount
	if count == 0 {
		count = params.DefaultColorCount
	}
	var b strings.Builder
	b.WriteString("Analyze the attached reference photo of a single object for 3D printing. ")
	fmt.Fprintf(&b, "Respond with ONLY a JSON object (no markdown fences) with these fields: "+
		"description (string), colorPalette (array of exactly %d hex colors), "+
		"dominantColors (array of hex colors), detectedMaterials (array of strings), "+
		"objectType (string), printFriendliness {score (1-5 integer), colorSuggestions, "+
		"structuralConcerns, materialRecommendations, orientationTips (arrays of strings)}, "+
		"recommendedStyle (one of none|bobblehead|chibi|cartoon|emoji), "+
		"styleConfidence (0-1), styleReasoning (string), styleSuitability (0-1).",
		count)
	if opts.PrinterType != "" {
		fmt.Fprintf(&b, " The target printer is %s; tailor material and orientation advice to it.", opts.PrinterType)
	}
	if opts.Style != "" && opts.Style != types.StyleNone {
		fmt.Fprintf(&b, " Judge styleSuitability for the %q preset specifically.", opts.Style)
	}
	if opts.Locale != "" {
		fmt.Fprintf(&b, " Write all prose fields in locale %q.", opts.Locale)
	}
	return b.String()
}
