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

	"github.com/jackg825/dream-forge-web-sub001/core/types"
)

const tripoEndpoint = "https://api.tripo3d.ai"

// tripo drives the Tripo multiview-to-model API.
type tripo struct {
	key      string
	endpoint string
	client   *http.Client
}

func newTripo(key, endpoint string, client *http.Client) *tripo {
	return &tripo{key: key, endpoint: endpoint, client: client}
}

func (t *tripo) Name() string { return Tripo }
func (t *tripo) Cost() int    { return 5 }

type tripoFile struct {
	URL string `json:"url"`
}

type tripoSubmitRequest struct {
	Type  string      `json:"type"`
	Files []tripoFile `json:"files"`
}

type tripoEnvelope struct {
	Code int `json:"code"`
	Data struct {
		TaskID   string `json:"task_id"`
		Status   string `json:"status"` // queued running success failed cancelled banned
		Progress *int   `json:"progress"`
		Output   struct {
			PBRModel string `json:"pbr_model"`
			Model    string `json:"model"`
		} `json:"output"`
		Message string `json:"message"`
	} `json:"data"`
}

func (t *tripo) Submit(ctx context.Context, imageURLs []string, opts Options) (Task, error) {
	req := tripoSubmitRequest{Type: "multiview_to_model"}
	for _, url := range imageURLs {
		req.Files = append(req.Files, tripoFile{URL: url})
	}
	var resp tripoEnvelope
	err := doJSON(ctx, t.client, Tripo, http.MethodPost,
		t.endpoint+"/v2/openapi/task", t.key, &req, &resp)
	if err != nil {
		return Task{}, err
	}
	if resp.Data.TaskID == "" {
		return Task{}, &Error{Provider: Tripo, Code: resp.Code, Message: "submit returned no task id"}
	}
	return Task{ID: resp.Data.TaskID}, nil
}

func (t *tripo) fetchTask(ctx context.Context, id string) (*tripoEnvelope, error) {
	var resp tripoEnvelope
	err := doJSON(ctx, t.client, Tripo, http.MethodGet,
		t.endpoint+"/v2/openapi/task/"+id, t.key, nil, &resp)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

func (t *tripo) Poll(ctx context.Context, task Task) (Status, error) {
	resp, err := t.fetchTask(ctx, task.ID)
	if err != nil {
		return Status{}, err
	}
	status := Status{State: tripoState(resp.Data.Status), Progress: ProgressIndeterminate}
	if resp.Data.Progress != nil {
		status.Progress = *resp.Data.Progress
	}
	status.Message = resp.Data.Message
	return status, nil
}

func (t *tripo) Download(ctx context.Context, task Task, format types.MeshFormat) ([]types.DownloadFile, error) {
	resp, err := t.fetchTask(ctx, task.ID)
	if err != nil {
		return nil, err
	}
	// Tripo only hands out glb; format conversion is the caller's fallback
	// problem.
	var files []types.DownloadFile
	if url := resp.Data.Output.PBRModel; url != "" {
		files = append(files, types.DownloadFile{Format: types.FormatGLB, URL: url, Name: "model.glb"})
	} else if url := resp.Data.Output.Model; url != "" {
		files = append(files, types.DownloadFile{Format: types.FormatGLB, URL: url, Name: "model.glb"})
	}
	return files, nil
}

func tripoState(s string) State {
	switch s {
	case "queued":
		return StateQueued
	case "running":
		return StateRunning
	case "success":
		return StateSucceeded
	case "cancelled":
		return StateCancelled
	default:
		return StateFailed
	}
}
