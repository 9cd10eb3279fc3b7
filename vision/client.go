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

// Package vision synthesizes the analyzed description and the four
// consistent angle views of a reference image against a rate-limited
// generative vision API.
package vision

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/jackg825/dream-forge-web-sub001/log"
)

const defaultEndpoint = "https://generativelanguage.googleapis.com"

// DefaultModel is the vision model used when the pipeline settings name
// none.
const DefaultModel = "gemini-2.0-flash-exp"

// Config configures a Generator.
type Config struct {
	APIKey   string
	Model    string       // default model; per-call override via pipeline settings
	Endpoint string       // override for tests
	Client   *http.Client // override for tests
	RPS      float64      // process-wide request budget; 0 disables the limiter
}

// Generator talks to the vision API. One Generator is shared by all
// pipelines; the limiter is the process-wide leaky bucket guarding the
// upstream key.
type Generator struct {
	key      string
	model    string
	endpoint string
	httpc    *http.Client
	limiter  *rate.Limiter
	logger   log.Logger
}

// NewGenerator creates a generator from the given configuration.
func NewGenerator(cfg Config) *Generator {
	g := &Generator{
		key:      cfg.APIKey,
		model:    cfg.Model,
		endpoint: cfg.Endpoint,
		httpc:    cfg.Client,
		limiter:  rate.NewLimiter(rate.Inf, 1),
		logger:   log.New("module", "vision"),
	}
	if g.model == "" {
		g.model = DefaultModel
	}
	if g.endpoint == "" {
		g.endpoint = defaultEndpoint
	}
	if g.httpc == nil {
		g.httpc = &http.Client{Timeout: 90 * time.Second}
	}
	if cfg.RPS > 0 {
		g.limiter = rate.NewLimiter(rate.Limit(cfg.RPS), 1)
	}
	return g
}

// Wire types of the generateContent API.

type genPart struct {
	Text       string   `json:"text,omitempty"`
	InlineData *genBlob `json:"inline_data,omitempty"`
}

type genBlob struct {
	MimeType string `json:"mime_type"`
	Data     string `json:"data"` // standard base64
}

type genRequest struct {
	Contents []struct {
		Parts []genPart `json:"parts"`
	} `json:"contents"`
	GenerationConfig *genConfig `json:"generationConfig,omitempty"`
}

type genConfig struct {
	ResponseModalities []string `json:"responseModalities,omitempty"`
	Temperature        *float64 `json:"temperature,omitempty"`
}

type genResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text       string `json:"text"`
				InlineData *struct {
					MimeType string `json:"mimeType"`
					Data     string `json:"data"`
				} `json:"inlineData"`
			} `json:"parts"`
		} `json:"content"`
		FinishReason  string `json:"finishReason"`
		SafetyRatings []struct {
			Category    string `json:"category"`
			Probability string `json:"probability"`
		} `json:"safetyRatings"`
	} `json:"candidates"`
	PromptFeedback *struct {
		BlockReason string `json:"blockReason"`
	} `json:"promptFeedback"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// generate issues one generateContent call and applies the closed failure
// policy: API errors become ProviderError, block reasons ContentBlocked,
// image-less responses NoImageReturned or SafetyBlocked.
func (g *Generator) generate(ctx context.Context, model string, prompt string, ref []byte, refMime string, wantImage bool) (image []byte, imageMime, text string, err error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, "", "", err
	}
	var req genRequest
	parts := []genPart{{Text: prompt}}
	if ref != nil {
		parts = append(parts, genPart{InlineData: &genBlob{
			MimeType: refMime,
			Data:     base64.StdEncoding.EncodeToString(ref),
		}})
	}
	req.Contents = append(req.Contents, struct {
		Parts []genPart `json:"parts"`
	}{Parts: parts})
	if wantImage {
		req.GenerationConfig = &genConfig{ResponseModalities: []string{"TEXT", "IMAGE"}}
	}

	if model == "" {
		model = g.model
	}
	url := fmt.Sprintf("%s/v1beta/models/%s:generateContent", g.endpoint, model)
	payload, err := json.Marshal(&req)
	if err != nil {
		return nil, "", "", err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, "", "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", g.key)

	resp, err := g.httpc.Do(httpReq)
	if err != nil {
		return nil, "", "", fmt.Errorf("vision request: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<20))
	if err != nil {
		return nil, "", "", fmt.Errorf("vision response: %w", err)
	}

	var out genResponse
	if jsonErr := json.Unmarshal(body, &out); jsonErr != nil && resp.StatusCode == http.StatusOK {
		return nil, "", "", fmt.Errorf("vision decode: %w", jsonErr)
	}
	if resp.StatusCode != http.StatusOK {
		msg := http.StatusText(resp.StatusCode)
		if out.Error != nil {
			msg = out.Error.Message
		}
		return nil, "", "", &ProviderError{Code: resp.StatusCode, Message: msg}
	}
	if out.Error != nil {
		return nil, "", "", &ProviderError{Code: out.Error.Code, Message: out.Error.Message}
	}
	if out.PromptFeedback != nil && out.PromptFeedback.BlockReason != "" {
		return nil, "", "", &ContentBlocked{Reason: out.PromptFeedback.BlockReason}
	}
	if len(out.Candidates) == 0 {
		return nil, "", "", &NoImageReturned{}
	}

	cand := out.Candidates[0]
	for _, part := range cand.Content.Parts {
		if part.Text != "" {
			text += part.Text
		}
		if part.InlineData != nil && image == nil {
			image, err = base64.StdEncoding.DecodeString(part.InlineData.Data)
			if err != nil {
				return nil, "", "", fmt.Errorf("vision image decode: %w", err)
			}
			imageMime = part.InlineData.MimeType
		}
	}
	if wantImage && image == nil {
		for _, rating := range cand.SafetyRatings {
			if aboveLow(rating.Probability) {
				return nil, "", "", &SafetyBlocked{Category: rating.Category, Probability: rating.Probability}
			}
		}
		return nil, "", "", &NoImageReturned{Text: text}
	}
	return image, imageMime, text, nil
}

func aboveLow(probability string) bool {
	switch probability {
	case "MEDIUM", "HIGH":
		return true
	}
	return false
}
