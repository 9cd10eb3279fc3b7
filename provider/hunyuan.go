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

package provider

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/jackg825/dream-forge-web-sub001/core/types"
)

const hunyuanEndpoint = "https://hunyuan.tencentcloudapi.com"

// hunyuan drives the Hunyuan3D generation API.
type hunyuan struct {
	key      string
	endpoint string
	client   *http.Client
}

func newHunyuan(key, endpoint string, client *http.Client) *hunyuan {
	return &hunyuan{key: key, endpoint: endpoint, client: client}
}

func (h *hunyuan) Name() string { return Hunyuan }
func (h *hunyuan) Cost() int    { return 6 }

type hunyuanSubmitRequest struct {
	ImageURLs    []string `json:"image_urls"`
	FaceCount    int      `json:"face_count,omitempty"`
	ResultFormat string   `json:"result_format,omitempty"`
}

type hunyuanSubmitResponse struct {
	JobID string `json:"job_id"`
}

func (h *hunyuan) Submit(ctx context.Context, imageURLs []string, opts Options) (Task, error) {
	req := hunyuanSubmitRequest{ImageURLs: imageURLs}
	if v := opts.Extra["faceCount"]; v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Task{}, &Error{Provider: Hunyuan, Code: 0, Message: "invalid faceCount " + v}
		}
		req.FaceCount = n
	}
	if opts.Format != "" {
		req.ResultFormat = strings.ToUpper(string(opts.Format))
	}
	var resp hunyuanSubmitResponse
	err := doJSON(ctx, h.client, Hunyuan, http.MethodPost,
		h.endpoint+"/3d/submit", h.key, &req, &resp)
	if err != nil {
		return Task{}, err
	}
	if resp.JobID == "" {
		return Task{}, &Error{Provider: Hunyuan, Code: 0, Message: "submit returned no job id"}
	}
	return Task{ID: resp.JobID}, nil
}

type hunyuanQueryResponse struct {
	Status       string `json:"status"` // WAIT RUN DONE FAIL
	ErrorMessage string `json:"error_message"`
	ResultFiles  []struct {
		Type string `json:"type"`
		URL  string `json:"url"`
	} `json:"result_files"`
}

func (h *hunyuan) fetchJob(ctx context.Context, id string) (*hunyuanQueryResponse, error) {
	var resp hunyuanQueryResponse
	err := doJSON(ctx, h.client, Hunyuan, http.MethodGet,
		h.endpoint+"/3d/query/"+id, h.key, nil, &resp)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

func (h *hunyuan) Poll(ctx context.Context, task Task) (Status, error) {
	resp, err := h.fetchJob(ctx, task.ID)
	if err != nil {
		return Status{}, err
	}
	// Hunyuan reports no numeric progress.
	status := Status{State: hunyuanState(resp.Status), Progress: ProgressIndeterminate}
	status.Message = resp.ErrorMessage
	return status, nil
}

func (h *hunyuan) Download(ctx context.Context, task Task, format types.MeshFormat) ([]types.DownloadFile, error) {
	resp, err := h.fetchJob(ctx, task.ID)
	if err != nil {
		return nil, err
	}
	var files []types.DownloadFile
	for _, rf := range resp.ResultFiles {
		f := types.MeshFormat(strings.ToLower(rf.Type))
		if !f.Valid() || rf.URL == "" {
			continue
		}
		files = append(files, types.DownloadFile{Format: f, URL: rf.URL, Name: "model." + string(f)})
	}
	return files, nil
}

func hunyuanState(s string) State {
	switch s {
	case "WAIT":
		return StateQueued
	case "RUN":
		return StateRunning
	case "DONE":
		return StateSucceeded
	default:
		return StateFailed
	}
}
