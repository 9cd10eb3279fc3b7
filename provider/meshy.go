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
	"fmt"
	"net/http"

	"github.com/jackg825/dream-forge-web-sub001/core/types"
)

const meshyEndpoint = "https://api.meshy.ai"

// meshy drives the Meshy multi-image-to-3d API.
type meshy struct {
	key      string
	endpoint string
	client   *http.Client
}

func newMeshy(key, endpoint string, client *http.Client) *meshy {
	return &meshy{key: key, endpoint: endpoint, client: client}
}

func (m *meshy) Name() string { return Meshy }
func (m *meshy) Cost() int    { return 5 }

type meshySubmitRequest struct {
	ImageURLs     []string `json:"image_urls"`
	AIModel       string   `json:"ai_model,omitempty"`
	Topology      string   `json:"topology,omitempty"`
	ShouldTexture bool     `json:"should_texture"`
}

type meshySubmitResponse struct {
	Result string `json:"result"`
}

func (m *meshy) Submit(ctx context.Context, imageURLs []string, opts Options) (Task, error) {
	req := meshySubmitRequest{ImageURLs: imageURLs, ShouldTexture: true}
	if opts.Extra["precision"] == "high" {
		req.Topology = "quad"
	}
	var resp meshySubmitResponse
	err := doJSON(ctx, m.client, Meshy, http.MethodPost,
		m.endpoint+"/openapi/v1/multi-image-to-3d", m.key, &req, &resp)
	if err != nil {
		return Task{}, err
	}
	if resp.Result == "" {
		return Task{}, &Error{Provider: Meshy, Code: 0, Message: "submit returned no task id"}
	}
	return Task{ID: resp.Result}, nil
}

type meshyTask struct {
	Status    string            `json:"status"` // PENDING IN_PROGRESS SUCCEEDED FAILED CANCELED
	Progress  *int              `json:"progress"`
	ModelURLs map[string]string `json:"model_urls"`
	TaskError *struct {
		Message string `json:"message"`
	} `json:"task_error"`
}

func (m *meshy) fetchTask(ctx context.Context, id string) (*meshyTask, error) {
	var task meshyTask
	err := doJSON(ctx, m.client, Meshy, http.MethodGet,
		m.endpoint+"/openapi/v1/multi-image-to-3d/"+id, m.key, nil, &task)
	if err != nil {
		return nil, err
	}
	return &task, nil
}

func (m *meshy) Poll(ctx context.Context, task Task) (Status, error) {
	t, err := m.fetchTask(ctx, task.ID)
	if err != nil {
		return Status{}, err
	}
	status := Status{State: meshyState(t.Status), Progress: ProgressIndeterminate}
	if t.Progress != nil {
		status.Progress = *t.Progress
	}
	if t.TaskError != nil {
		status.Message = t.TaskError.Message
	}
	return status, nil
}

func (m *meshy) Download(ctx context.Context, task Task, format types.MeshFormat) ([]types.DownloadFile, error) {
	t, err := m.fetchTask(ctx, task.ID)
	if err != nil {
		return nil, err
	}
	var files []types.DownloadFile
	for name, url := range t.ModelURLs {
		f := types.MeshFormat(name)
		if !f.Valid() || url == "" {
			continue
		}
		files = append(files, types.DownloadFile{
			Format: f,
			URL:    url,
			Name:   fmt.Sprintf("model.%s", f),
		})
	}
	return files, nil
}

func meshyState(s string) State {
	switch s {
	case "PENDING":
		return StateQueued
	case "IN_PROGRESS":
		return StateRunning
	case "SUCCEEDED":
		return StateSucceeded
	case "CANCELED":
		return StateCancelled
	default:
		return StateFailed
	}
}

// meshyRetexture drives the Meshy retexture API against an existing mesh
// task.
type meshyRetexture struct {
	key      string
	endpoint string
	client   *http.Client
}

func newMeshyRetexture(key, endpoint string, client *http.Client) *meshyRetexture {
	return &meshyRetexture{key: key, endpoint: endpoint, client: client}
}

func (m *meshyRetexture) Name() string { return Meshy }

type meshyRetextureRequest struct {
	InputTaskID     string `json:"input_task_id"`
	ImageStyleURL   string `json:"image_style_url,omitempty"`
	TextStylePrompt string `json:"text_style_prompt,omitempty"`
	EnablePBR       bool   `json:"enable_pbr"`
}

func (m *meshyRetexture) SubmitFromMesh(ctx context.Context, meshTaskID string, opts RetextureOptions) (Task, error) {
	req := meshyRetextureRequest{
		InputTaskID:     meshTaskID,
		ImageStyleURL:   opts.StyleURL,
		TextStylePrompt: opts.TextPrompt,
		EnablePBR:       opts.EnablePBR,
	}
	var resp meshySubmitResponse
	err := doJSON(ctx, m.client, m.Name(), http.MethodPost,
		m.endpoint+"/openapi/v1/retexture", m.key, &req, &resp)
	if err != nil {
		return Task{}, err
	}
	if resp.Result == "" {
		return Task{}, &Error{Provider: m.Name(), Code: 0, Message: "submit returned no task id"}
	}
	return Task{ID: resp.Result}, nil
}

func (m *meshyRetexture) fetchTask(ctx context.Context, id string) (*meshyTask, error) {
	var task meshyTask
	err := doJSON(ctx, m.client, m.Name(), http.MethodGet,
		m.endpoint+"/openapi/v1/retexture/"+id, m.key, nil, &task)
	if err != nil {
		return nil, err
	}
	return &task, nil
}

func (m *meshyRetexture) Poll(ctx context.Context, task Task) (Status, error) {
	t, err := m.fetchTask(ctx, task.ID)
	if err != nil {
		return Status{}, err
	}
	status := Status{State: meshyState(t.Status), Progress: ProgressIndeterminate}
	if t.Progress != nil {
		status.Progress = *t.Progress
	}
	if t.TaskError != nil {
		status.Message = t.TaskError.Message
	}
	return status, nil
}

func (m *meshyRetexture) Download(ctx context.Context, task Task) ([]types.DownloadFile, error) {
	t, err := m.fetchTask(ctx, task.ID)
	if err != nil {
		return nil, err
	}
	var files []types.DownloadFile
	for name, url := range t.ModelURLs {
		f := types.MeshFormat(name)
		if !f.Valid() || url == "" {
			continue
		}
		files = append(files, types.DownloadFile{Format: f, URL: url, Name: "textured." + string(f)})
	}
	return files, nil
}
