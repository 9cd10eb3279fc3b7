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
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jackg825/dream-forge-web-sub001/core/types"
	"github.com/jackg825/dream-forge-web-sub001/params"
)

// testPNG is a tiny solid-red image reused across fake responses.
func testPNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			img.SetRGBA(x, y, color.RGBA{R: 255, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

// imageResponse fakes a generateContent reply carrying one inline image.
func imageResponse(imageData []byte) []byte {
	payload := map[string]interface{}{
		"candidates": []map[string]interface{}{{
			"content": map[string]interface{}{
				"parts": []map[string]interface{}{{
					"inlineData": map[string]string{
						"mimeType": "image/png",
						"data":     base64.StdEncoding.EncodeToString(imageData),
					},
				}},
			},
		}},
	}
	out, _ := json.Marshal(payload)
	return out
}

func newTestGenerator(t *testing.T, handler http.HandlerFunc) *Generator {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewGenerator(Config{
		APIKey:   "test-key",
		Endpoint: srv.URL,
		Client:   srv.Client(),
	})
}

func TestGenerateAllViewsStagger(t *testing.T) {
	const latency = time.Second

	var (
		mu     sync.Mutex
		starts []time.Time
	)
	pixels := testPNG(t)
	g := newTestGenerator(t, func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		starts = append(starts, time.Now())
		mu.Unlock()
		time.Sleep(latency)
		w.Write(imageResponse(pixels))
	})

	var calls int32
	begin := time.Now()
	views, err := g.GenerateAllViews(context.Background(), []byte("ref"), "image/png", ViewRequest{}, func(kind string, angle types.Angle, completed, total int) {
		atomic.AddInt32(&calls, 1)
		assert.Equal(t, "mesh", kind)
		assert.Equal(t, 4, total)
	})
	elapsed := time.Since(begin)
	require.NoError(t, err)
	require.Len(t, views, 4)
	for _, angle := range types.Angles {
		require.NotNil(t, views[angle], angle)
		assert.NotEmpty(t, views[angle].Data)
		assert.Contains(t, views[angle].Palette, "#FF0000")
	}
	assert.EqualValues(t, 4, atomic.LoadInt32(&calls))

	// Stagger 0+500+1000+1500ms plus the last call's 1s latency: the whole
	// fan-out lands around 2.5s, far below the 4s a sequential run needs.
	assert.Less(t, elapsed, 2500*time.Millisecond+200*time.Millisecond, "fan-out too slow: %v", elapsed)
	assert.GreaterOrEqual(t, elapsed, 2500*time.Millisecond-200*time.Millisecond, "fan-out implausibly fast: %v", elapsed)

	// Request initiations honor the 500ms floor between starts.
	mu.Lock()
	defer mu.Unlock()
	require.Len(t, starts, 4)
	for i := 1; i < len(starts); i++ {
		gap := starts[i].Sub(starts[i-1])
		assert.GreaterOrEqual(t, gap, 450*time.Millisecond, "gap %d was %v", i, gap)
	}
}

func TestGenerateAllViewsFirstErrorWins(t *testing.T) {
	var requests int32
	pixels := testPNG(t)
	g := newTestGenerator(t, func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&requests, 1)
		if n == 2 {
			http.Error(w, `{"error":{"code":500,"message":"backend exploded"}}`, http.StatusInternalServerError)
			return
		}
		time.Sleep(50 * time.Millisecond)
		w.Write(imageResponse(pixels))
	})

	_, err := g.GenerateAllViews(context.Background(), []byte("ref"), "image/png", ViewRequest{}, nil)
	var perr *ProviderError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, http.StatusInternalServerError, perr.Code)
}

func TestGenerateMeshViewHintInPrompt(t *testing.T) {
	var prompt string
	pixels := testPNG(t)
	g := newTestGenerator(t, func(w http.ResponseWriter, r *http.Request) {
		var req genRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		prompt = req.Contents[0].Parts[0].Text
		w.Write(imageResponse(pixels))
	})

	req := ViewRequest{
		Description: "a ceramic mug",
		Palette:     []string{"#FF0000", "#00FF00"},
		Style:       types.StyleChibi,
	}
	view, err := g.GenerateMeshView(context.Background(), []byte("ref"), "image/png", req, types.AngleBack, "bigger ears")
	require.NoError(t, err)
	require.NotNil(t, view)

	assert.Contains(t, prompt, "BACK view")
	assert.Contains(t, prompt, "a ceramic mug")
	assert.Contains(t, prompt, "#FF0000, #00FF00")
	assert.Contains(t, prompt, "chibi")
	assert.Contains(t, prompt, "bigger ears")
	assert.Contains(t, prompt, "plain solid white")
}

func TestGenerateErrorTaxonomy(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		status int
		check  func(t *testing.T, err error)
	}{
		{
			name:   "content blocked",
			body:   `{"promptFeedback":{"blockReason":"SAFETY"}}`,
			status: http.StatusOK,
			check: func(t *testing.T, err error) {
				var blocked *ContentBlocked
				require.ErrorAs(t, err, &blocked)
				assert.Equal(t, "SAFETY", blocked.Reason)
			},
		},
		{
			name:   "safety rating above low",
			body:   `{"candidates":[{"content":{"parts":[{"text":"cannot do that"}]},"safetyRatings":[{"category":"HARM_CATEGORY_DANGEROUS","probability":"HIGH"}]}]}`,
			status: http.StatusOK,
			check: func(t *testing.T, err error) {
				var safety *SafetyBlocked
				require.ErrorAs(t, err, &safety)
				assert.Equal(t, "HIGH", safety.Probability)
			},
		},
		{
			name:   "no image with low ratings",
			body:   `{"candidates":[{"content":{"parts":[{"text":"here is a description instead"}]},"safetyRatings":[{"category":"HARM_CATEGORY_DANGEROUS","probability":"LOW"}]}]}`,
			status: http.StatusOK,
			check: func(t *testing.T, err error) {
				var noImage *NoImageReturned
				require.ErrorAs(t, err, &noImage)
				assert.Contains(t, noImage.Text, "description instead")
			},
		},
		{
			name:   "rate limited",
			body:   `{"error":{"code":429,"message":"quota"}}`,
			status: http.StatusTooManyRequests,
			check: func(t *testing.T, err error) {
				var perr *ProviderError
				require.ErrorAs(t, err, &perr)
				assert.True(t, perr.RateLimited())
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := newTestGenerator(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				fmt.Fprint(w, tt.body)
			})
			_, err := g.GenerateMeshView(context.Background(), []byte("ref"), "image/png", ViewRequest{}, types.AngleFront, "")
			tt.check(t, err)
		})
	}
}

func TestAnalyzeImageParsesFencedJSON(t *testing.T) {
	analysis := map[string]interface{}{
		"description":  "a red ceramic mug",
		"colorPalette": []string{"#ff0000", "#00ff00", "#0000ff"},
		"objectType":   "mug",
		"printFriendliness": map[string]interface{}{
			"score": 4,
		},
		"recommendedStyle": "chibi",
		"styleConfidence":  0.8,
	}
	inner, _ := json.Marshal(analysis)
	text := "```json\n" + string(inner) + "\n```"
	body, _ := json.Marshal(map[string]interface{}{
		"candidates": []map[string]interface{}{{
			"content": map[string]interface{}{
				"parts": []map[string]interface{}{{"text": text}},
			},
		}},
	})

	g := newTestGenerator(t, func(w http.ResponseWriter, r *http.Request) { w.Write(body) })
	got, err := g.AnalyzeImage(context.Background(), []byte("ref"), "image/jpeg", AnalyzeOptions{
		ColorCount: 3,
		Style:      types.StyleChibi,
	})
	require.NoError(t, err)
	assert.Equal(t, "a red ceramic mug", got.Description)
	// Hex codes are normalized to upper case at the parse boundary.
	assert.Equal(t, []string{"#FF0000", "#00FF00", "#0000FF"}, got.ColorPalette)
	assert.Equal(t, types.StyleChibi, got.AnalyzedWithStyle)
	assert.Equal(t, 4, got.PrintFriendliness.Score)
}

// An unset colorCount falls back to the default palette size instead of
// asking the model for zero colors.
func TestAnalysisPromptDefaultsColorCount(t *testing.T) {
	prompt := buildAnalysisPrompt(AnalyzeOptions{})
	assert.Contains(t, prompt, fmt.Sprintf("exactly %d hex colors", params.DefaultColorCount))
	assert.NotContains(t, prompt, "exactly 0 hex colors")

	prompt = buildAnalysisPrompt(AnalyzeOptions{ColorCount: 9})
	assert.Contains(t, prompt, "exactly 9 hex colors")
}

func TestParseAnalysisRejectsNonJSON(t *testing.T) {
	_, err := parseAnalysis("I could not analyze that image, sorry.")
	assert.Error(t, err)

	_, err = parseAnalysis(`{"description":""}`)
	assert.Error(t, err)
}
