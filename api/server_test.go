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

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jackg825/dream-forge-web-sub001/core"
	"github.com/jackg825/dream-forge-web-sub001/core/types"
	"github.com/jackg825/dream-forge-web-sub001/ledger"
	"github.com/jackg825/dream-forge-web-sub001/vision"
)

// stubEngine records calls and plays back scripted responses.
type stubEngine struct {
	pipeline *types.Pipeline
	poll     *core.PollResult
	err      error

	lastUser     string
	lastID       string
	lastProvider string
	lastAngle    types.Angle
	lastHint     string
	lastTarget   types.Status
	lastKeep     bool
	lastCreate   core.CreateParams
}

func (s *stubEngine) Create(userID string, p core.CreateParams) (*types.Pipeline, error) {
	s.lastUser, s.lastCreate = userID, p
	return s.pipeline, s.err
}

func (s *stubEngine) Get(userID, id string) (*types.Pipeline, error) {
	s.lastUser, s.lastID = userID, id
	return s.pipeline, s.err
}

func (s *stubEngine) List(userID string, status types.Status, limit int) ([]*types.Pipeline, error) {
	s.lastUser = userID
	if s.err != nil {
		return nil, s.err
	}
	return []*types.Pipeline{s.pipeline}, nil
}

func (s *stubEngine) Analyze(ctx context.Context, userID, id string, opts vision.AnalyzeOptions) (*types.Pipeline, error) {
	s.lastUser, s.lastID = userID, id
	return s.pipeline, s.err
}

func (s *stubEngine) UpdateAnalysis(userID, id string, analysis *types.ImageAnalysis) (*types.Pipeline, error) {
	s.lastUser, s.lastID = userID, id
	return s.pipeline, s.err
}

func (s *stubEngine) GenerateViews(ctx context.Context, userID, id string) (*types.Pipeline, error) {
	s.lastUser, s.lastID = userID, id
	return s.pipeline, s.err
}

func (s *stubEngine) RegenerateView(ctx context.Context, userID, id string, angle types.Angle, hint string) (*types.Pipeline, error) {
	s.lastUser, s.lastID, s.lastAngle, s.lastHint = userID, id, angle, hint
	return s.pipeline, s.err
}

func (s *stubEngine) StartMesh(ctx context.Context, userID, id, provider string, extra map[string]string) (*types.Pipeline, error) {
	s.lastUser, s.lastID, s.lastProvider = userID, id, provider
	return s.pipeline, s.err
}

func (s *stubEngine) StartTexture(ctx context.Context, userID, id, prompt string, enablePBR bool) (*types.Pipeline, error) {
	s.lastUser, s.lastID = userID, id
	return s.pipeline, s.err
}

func (s *stubEngine) CheckStatus(ctx context.Context, userID, id string) (*core.PollResult, error) {
	s.lastUser, s.lastID = userID, id
	return s.poll, s.err
}

func (s *stubEngine) ResetStep(userID, id string, target types.Status, keepResults bool) (*types.Pipeline, error) {
	s.lastUser, s.lastID, s.lastTarget, s.lastKeep = userID, id, target, keepResults
	return s.pipeline, s.err
}

var testSecret = []byte("0123456789abcdef0123456789abcdef")

func newTestServer(t *testing.T) (*httptest.Server, *stubEngine, string) {
	t.Helper()
	stub := &stubEngine{pipeline: &types.Pipeline{ID: "p1", UserID: "alice", Status: types.StatusDraft}}
	srv := httptest.NewServer(NewServer(stub, testSecret))
	t.Cleanup(srv.Close)
	token, err := IssueToken(testSecret, "alice")
	require.NoError(t, err)
	return srv, stub, token
}

func do(t *testing.T, method, url, token string, body interface{}) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, url, &buf)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func errCode(t *testing.T, resp *http.Response) string {
	t.Helper()
	var envelope map[string]errorBody
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&envelope))
	return envelope["error"].Code
}

func TestAuthRequired(t *testing.T) {
	srv, _, _ := newTestServer(t)

	resp := do(t, http.MethodGet, srv.URL+"/v1/pipelines", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "unauthenticated", errCode(t, resp))

	resp = do(t, http.MethodGet, srv.URL+"/v1/pipelines", "not-a-jwt", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestAuthRejectsForeignSecret(t *testing.T) {
	srv, _, _ := newTestServer(t)
	forged, err := IssueToken([]byte("another-secret-entirely-32bytes!"), "alice")
	require.NoError(t, err)

	resp := do(t, http.MethodGet, srv.URL+"/v1/pipelines", forged, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestCreatePipeline(t *testing.T) {
	srv, stub, token := newTestServer(t)

	resp := do(t, http.MethodPost, srv.URL+"/v1/pipelines", token, createRequest{
		ImageURLs:   []string{"https://img.test/a.png"},
		Description: "a fox",
	})
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "alice", stub.lastUser)
	assert.Equal(t, []string{"https://img.test/a.png"}, stub.lastCreate.ImageURLs)

	var p types.Pipeline
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&p))
	assert.Equal(t, "p1", p.ID)
}

func TestCreateValidatesBoundary(t *testing.T) {
	srv, _, token := newTestServer(t)

	tests := []struct {
		name string
		body createRequest
		code string
	}{
		{"no images", createRequest{}, "missing_images"},
		{"too many images", createRequest{ImageURLs: []string{"a", "b", "c", "d", "e"}}, "too_many_images"},
		{"long description", createRequest{
			ImageURLs:   []string{"a"},
			Description: string(make([]byte, 301)),
		}, "description_too_long"},
		{"bad mode", createRequest{ImageURLs: []string{"a"}, ProcessingMode: "warp"}, "invalid_mode"},
		{"bad style", createRequest{
			ImageURLs: []string{"a"},
			Settings:  types.Settings{SelectedStyle: "vaporwave"},
		}, "invalid_style"},
		{"bad format", createRequest{
			ImageURLs: []string{"a"},
			Settings:  types.Settings{Format: "usdz"},
		}, "invalid_format"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := do(t, http.MethodPost, srv.URL+"/v1/pipelines", token, tt.body)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			assert.Equal(t, tt.code, errCode(t, resp))
		})
	}
}

func TestListValidatesLimit(t *testing.T) {
	srv, _, token := newTestServer(t)

	resp := do(t, http.MethodGet, srv.URL+"/v1/pipelines?limit=0", token, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = do(t, http.MethodGet, srv.URL+"/v1/pipelines?status=transcending", token, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = do(t, http.MethodGet, srv.URL+"/v1/pipelines?status=draft&limit=5", token, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRegenerateValidatesAngle(t *testing.T) {
	srv, stub, token := newTestServer(t)

	resp := do(t, http.MethodPost, srv.URL+"/v1/pipelines/p1/views:regenerate", token, regenerateRequest{Angle: "diagonal"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "invalid_angle", errCode(t, resp))

	resp = do(t, http.MethodPost, srv.URL+"/v1/pipelines/p1/views:regenerate", token, regenerateRequest{Angle: types.AngleBack, Hint: "darker"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, types.AngleBack, stub.lastAngle)
	assert.Equal(t, "darker", stub.lastHint)
}

func TestAnalyzeValidatesColorCount(t *testing.T) {
	srv, _, token := newTestServer(t)

	resp := do(t, http.MethodPost, srv.URL+"/v1/pipelines/p1/analyze", token, analyzeRequest{ColorCount: 2})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "invalid_color_count", errCode(t, resp))

	resp = do(t, http.MethodPost, srv.URL+"/v1/pipelines/p1/analyze", token, analyzeRequest{ColorCount: 6})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestEngineErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"not found", core.ErrNotFound, http.StatusNotFound, "not_found"},
		{"foreign pipeline", core.ErrPermissionDenied, http.StatusForbidden, "permission_denied"},
		{"busy", core.ErrBusy, http.StatusConflict, "busy"},
		{"wrong state", core.ErrInvalidState, http.StatusConflict, "failed_precondition"},
		{"broke", ledger.ErrInsufficientCredits, http.StatusPaymentRequired, "insufficient_credits"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, stub, token := newTestServer(t)
			stub.err = tt.err
			resp := do(t, http.MethodGet, srv.URL+"/v1/pipelines/p1", token, nil)
			assert.Equal(t, tt.status, resp.StatusCode)
			assert.Equal(t, tt.code, errCode(t, resp))
		})
	}
}

func TestClassifiedErrorEnvelope(t *testing.T) {
	srv, stub, token := newTestServer(t)
	stub.err = &vision.ProviderError{Code: 429, Message: "quota"}

	// The engine hands classified errors up; the envelope carries the
	// user-facing message and the taxonomy details.
	resp := do(t, http.MethodPost, srv.URL+"/v1/pipelines/p1/views", token, nil)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)

	var envelope map[string]errorBody
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&envelope))
	assert.Equal(t, "rate_limited", envelope["error"].Code)
	assert.NotEmpty(t, envelope["error"].Message)
	assert.NotNil(t, envelope["error"].Details)
}

func TestResetPassesThrough(t *testing.T) {
	srv, stub, token := newTestServer(t)

	resp := do(t, http.MethodPost, srv.URL+"/v1/pipelines/p1/reset", token, resetRequest{Target: types.StatusImagesReady, KeepResults: true})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, types.StatusImagesReady, stub.lastTarget)
	assert.True(t, stub.lastKeep)
}

func TestCheckStatusResponse(t *testing.T) {
	srv, stub, token := newTestServer(t)
	stub.poll = &core.PollResult{Pipeline: stub.pipeline, State: "running", Progress: 55}

	resp := do(t, http.MethodPost, srv.URL+"/v1/pipelines/p1/status", token, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var res core.PollResult
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&res))
	assert.EqualValues(t, "running", res.State)
	assert.Equal(t, 55, res.Progress)
}

func TestMethodDiscipline(t *testing.T) {
	srv, _, token := newTestServer(t)

	resp := do(t, http.MethodDelete, srv.URL+"/v1/pipelines", token, nil)
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)

	resp = do(t, http.MethodGet, srv.URL+"/v1/pipelines/p1/views", token, nil)
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)

	resp = do(t, http.MethodPost, srv.URL+"/v1/pipelines/p1/teleport", token, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestStartMeshForwardsProvider(t *testing.T) {
	srv, stub, token := newTestServer(t)

	resp := do(t, http.MethodPost, srv.URL+"/v1/pipelines/p1/mesh", token, startMeshRequest{
		Provider: "rodin",
		Options:  map[string]string{},
	})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "rodin", stub.lastProvider)
	assert.Equal(t, "p1", stub.lastID)
}

func TestClassifiedErrorMapsByCategory(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"safety", &vision.SafetyBlocked{Category: "X", Probability: "HIGH"}, http.StatusUnprocessableEntity},
		{"service", &vision.ProviderError{Code: 503}, http.StatusBadGateway},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, stub, token := newTestServer(t)
			stub.err = tt.err
			resp := do(t, http.MethodPost, srv.URL+"/v1/pipelines/p1/views", token, nil)
			assert.Equal(t, tt.status, resp.StatusCode)
		})
	}
}
