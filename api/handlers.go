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
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/jackg825/dream-forge-web-sub001/core"
	"github.com/jackg825/dream-forge-web-sub001/core/types"
	"github.com/jackg825/dream-forge-web-sub001/errs"
	"github.com/jackg825/dream-forge-web-sub001/params"
	"github.com/jackg825/dream-forge-web-sub001/vision"
)

// handleCollection serves /v1/pipelines: create and list.
func (s *Server) handleCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.createPipeline(w, r)
	case http.MethodGet:
		s.listPipelines(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "use GET or POST", nil)
	}
}

// handlePipeline routes /v1/pipelines/{id}[/{action}].
func (s *Server) handlePipeline(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/pipelines/")
	id, action, _ := strings.Cut(rest, "/")
	if id == "" {
		writeError(w, http.StatusNotFound, "not_found", "missing pipeline id", nil)
		return
	}

	if action == "" {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "use GET", nil)
			return
		}
		s.getPipeline(w, r, id)
		return
	}
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "use POST", nil)
		return
	}
	switch action {
	case "analyze":
		s.analyzeImage(w, r, id)
	case "analysis":
		s.updateAnalysis(w, r, id)
	case "views":
		s.generateViews(w, r, id)
	case "views:regenerate":
		s.regenerateView(w, r, id)
	case "mesh":
		s.startMesh(w, r, id)
	case "texture":
		s.startTexture(w, r, id)
	case "status":
		s.checkStatus(w, r, id)
	case "reset":
		s.resetStep(w, r, id)
	default:
		writeError(w, http.StatusNotFound, "not_found", "unknown action "+action, nil)
	}
}

type createRequest struct {
	ImageURLs      []string             `json:"imageUrls"`
	ProcessingMode types.ProcessingMode `json:"processingMode,omitempty"`
	Description    string               `json:"description,omitempty"`
	Settings       types.Settings       `json:"settings,omitempty"`
	Analysis       *types.ImageAnalysis `json:"imageAnalysis,omitempty"`
}

func (s *Server) createPipeline(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, errs.Validation("bad_request", "malformed request body: "+err.Error()))
		return
	}
	if len(req.ImageURLs) == 0 {
		s.fail(w, errs.Validation("missing_images", "at least one input image is required"))
		return
	}
	if len(req.ImageURLs) > params.MaxInputImages {
		s.fail(w, errs.Validation("too_many_images", fmt.Sprintf("at most %d input images are allowed", params.MaxInputImages)))
		return
	}
	if len(req.Description) > params.MaxUserDescription {
		s.fail(w, errs.Validation("description_too_long", fmt.Sprintf("description may not exceed %d characters", params.MaxUserDescription)))
		return
	}
	if req.ProcessingMode != "" && !req.ProcessingMode.Valid() {
		s.fail(w, errs.Validation("invalid_mode", "processingMode must be realtime or batch"))
		return
	}
	if req.Settings.SelectedStyle != "" && !req.Settings.SelectedStyle.Valid() {
		s.fail(w, errs.Validation("invalid_style", "unknown style preset"))
		return
	}
	if req.Settings.Format != "" && !req.Settings.Format.Valid() {
		s.fail(w, errs.Validation("invalid_format", "format must be glb, fbx, obj or stl"))
		return
	}
	p, err := s.engine.Create(caller(r), core.CreateParams{
		ImageURLs:      req.ImageURLs,
		ProcessingMode: req.ProcessingMode,
		Description:    req.Description,
		Settings:       req.Settings,
		Analysis:       req.Analysis,
	})
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (s *Server) getPipeline(w http.ResponseWriter, r *http.Request, id string) {
	p, err := s.engine.Get(caller(r), id)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) listPipelines(w http.ResponseWriter, r *http.Request) {
	status := types.Status(r.URL.Query().Get("status"))
	if status != "" && !status.Valid() {
		s.fail(w, errs.Validation("invalid_status", "unknown status filter"))
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			s.fail(w, errs.Validation("invalid_limit", "limit must be a positive integer"))
			return
		}
		limit = n
	}
	list, err := s.engine.List(caller(r), status, limit)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"pipelines": list})
}

type analyzeRequest struct {
	ColorCount  int               `json:"colorCount,omitempty"`
	PrinterType types.PrinterType `json:"printerType,omitempty"`
	Style       types.Style       `json:"style,omitempty"`
	Locale      string            `json:"locale,omitempty"`
	Model       string            `json:"model,omitempty"`
}

func (s *Server) analyzeImage(w http.ResponseWriter, r *http.Request, id string) {
	var req analyzeRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, errs.Validation("bad_request", "malformed request body: "+err.Error()))
		return
	}
	if req.ColorCount != 0 && (req.ColorCount < params.MinColorCount || req.ColorCount > params.MaxColorCount) {
		s.fail(w, errs.Validation("invalid_color_count",
			fmt.Sprintf("colorCount must be in [%d, %d]", params.MinColorCount, params.MaxColorCount)))
		return
	}
	if req.Style != "" && !req.Style.Valid() {
		s.fail(w, errs.Validation("invalid_style", "unknown style preset"))
		return
	}
	if req.PrinterType != "" && !req.PrinterType.Valid() {
		s.fail(w, errs.Validation("invalid_printer", "printerType must be fdm, sla or resin"))
		return
	}
	p, err := s.engine.Analyze(r.Context(), caller(r), id, vision.AnalyzeOptions{
		Model:       req.Model,
		ColorCount:  req.ColorCount,
		PrinterType: req.PrinterType,
		Locale:      req.Locale,
		Style:       req.Style,
	})
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

type updateAnalysisRequest struct {
	Analysis *types.ImageAnalysis `json:"imageAnalysis"`
}

func (s *Server) updateAnalysis(w http.ResponseWriter, r *http.Request, id string) {
	var req updateAnalysisRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, errs.Validation("bad_request", "malformed request body: "+err.Error()))
		return
	}
	if req.Analysis == nil || req.Analysis.Description == "" {
		s.fail(w, errs.Validation("missing_analysis", "imageAnalysis with a description is required"))
		return
	}
	p, err := s.engine.UpdateAnalysis(caller(r), id, req.Analysis)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) generateViews(w http.ResponseWriter, r *http.Request, id string) {
	p, err := s.engine.GenerateViews(r.Context(), caller(r), id)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

type regenerateRequest struct {
	Angle types.Angle `json:"angle"`
	Hint  string      `json:"hint,omitempty"`
}

func (s *Server) regenerateView(w http.ResponseWriter, r *http.Request, id string) {
	var req regenerateRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, errs.Validation("bad_request", "malformed request body: "+err.Error()))
		return
	}
	if !req.Angle.Valid() {
		s.fail(w, errs.Validation("invalid_angle", "angle must be front, back, left or right"))
		return
	}
	if len(req.Hint) > params.MaxUserDescription {
		s.fail(w, errs.Validation("hint_too_long", fmt.Sprintf("hint may not exceed %d characters", params.MaxUserDescription)))
		return
	}
	p, err := s.engine.RegenerateView(r.Context(), caller(r), id, req.Angle, req.Hint)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

type startMeshRequest struct {
	Provider string            `json:"provider,omitempty"`
	Options  map[string]string `json:"options,omitempty"`
}

func (s *Server) startMesh(w http.ResponseWriter, r *http.Request, id string) {
	var req startMeshRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, errs.Validation("bad_request", "malformed request body: "+err.Error()))
		return
	}
	p, err := s.engine.StartMesh(r.Context(), caller(r), id, req.Provider, req.Options)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

type startTextureRequest struct {
	Prompt    string `json:"prompt,omitempty"`
	EnablePBR bool   `json:"enablePbr,omitempty"`
}

func (s *Server) startTexture(w http.ResponseWriter, r *http.Request, id string) {
	var req startTextureRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, errs.Validation("bad_request", "malformed request body: "+err.Error()))
		return
	}
	if len(req.Prompt) > params.MaxUserDescription {
		s.fail(w, errs.Validation("prompt_too_long", fmt.Sprintf("prompt may not exceed %d characters", params.MaxUserDescription)))
		return
	}
	p, err := s.engine.StartTexture(r.Context(), caller(r), id, req.Prompt, req.EnablePBR)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) checkStatus(w http.ResponseWriter, r *http.Request, id string) {
	res, err := s.engine.CheckStatus(r.Context(), caller(r), id)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type resetRequest struct {
	Target      types.Status `json:"target"`
	KeepResults bool         `json:"keepResults,omitempty"`
}

func (s *Server) resetStep(w http.ResponseWriter, r *http.Request, id string) {
	var req resetRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, errs.Validation("bad_request", "malformed request body: "+err.Error()))
		return
	}
	p, err := s.engine.ResetStep(caller(r), id, req.Target, req.KeepResults)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}
