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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path"
	"strings"

	"github.com/jackg825/dream-forge-web-sub001/core/types"
)

const rodinEndpoint = "https://hyperhuman.deemos.com"

// rodin drives the Rodin (Hyper3D) generation API. Unlike the other
// backends it takes image bytes over multipart, so submission fetches the
// reference URLs first, and polling is keyed by a subscription key issued at
// submit time rather than the task uuid.
type rodin struct {
	key      string
	endpoint string
	client   *http.Client
}

func newRodin(key, endpoint string, client *http.Client) *rodin {
	return &rodin{key: key, endpoint: endpoint, client: client}
}

func (r *rodin) Name() string { return Rodin }
func (r *rodin) Cost() int    { return 8 }

type rodinSubmitResponse struct {
	UUID string `json:"uuid"`
	Jobs struct {
		SubscriptionKey string `json:"subscription_key"`
	} `json:"jobs"`
}

func (r *rodin) Submit(ctx context.Context, imageURLs []string, opts Options) (Task, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for i, url := range imageURLs {
		data, err := FetchBytes(ctx, r.client, url)
		if err != nil {
			return Task{}, fmt.Errorf("rodin reference fetch: %w", err)
		}
		name := path.Base(url)
		if name == "" || name == "/" || name == "." {
			name = fmt.Sprintf("view_%d.png", i)
		}
		part, err := mw.CreateFormFile("images", name)
		if err != nil {
			return Task{}, err
		}
		if _, err := part.Write(data); err != nil {
			return Task{}, err
		}
	}
	if opts.Format != "" {
		if err := mw.WriteField("geometry_file_format", string(opts.Format)); err != nil {
			return Task{}, err
		}
	}
	if err := mw.WriteField("tier", "Regular"); err != nil {
		return Task{}, err
	}
	if err := mw.Close(); err != nil {
		return Task{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint+"/api/v2/rodin", &buf)
	if err != nil {
		return Task{}, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+r.key)

	resp, err := r.client.Do(req)
	if err != nil {
		return Task{}, fmt.Errorf("rodin request: %w", err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Task{}, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Task{}, &Error{Provider: Rodin, Code: resp.StatusCode, Message: summarize(data)}
	}
	var out rodinSubmitResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return Task{}, fmt.Errorf("rodin decode: %w", err)
	}
	if out.UUID == "" {
		return Task{}, &Error{Provider: Rodin, Code: 0, Message: "submit returned no task uuid"}
	}
	return Task{ID: out.UUID, SubscriptionKey: out.Jobs.SubscriptionKey}, nil
}

type rodinStatusResponse struct {
	Jobs []struct {
		UUID   string `json:"uuid"`
		Status string `json:"status"` // Waiting Generating Done Failed
	} `json:"jobs"`
}

func (r *rodin) Poll(ctx context.Context, task Task) (Status, error) {
	var resp rodinStatusResponse
	err := doJSON(ctx, r.client, Rodin, http.MethodPost,
		r.endpoint+"/api/v2/status", r.key,
		map[string]string{"subscription_key": task.SubscriptionKey}, &resp)
	if err != nil {
		return Status{}, err
	}
	// One submission fans out into several internal jobs; the task is done
	// when all are, failed when any is.
	status := Status{State: StateSucceeded, Progress: ProgressIndeterminate}
	if len(resp.Jobs) == 0 {
		status.State = StateQueued
		return status, nil
	}
	for _, job := range resp.Jobs {
		switch job.Status {
		case "Failed":
			return Status{State: StateFailed, Progress: ProgressIndeterminate, Message: "rodin job failed"}, nil
		case "Waiting":
			status.State = StateQueued
		case "Generating":
			if status.State != StateQueued {
				status.State = StateRunning
			}
		}
	}
	return status, nil
}

type rodinDownloadResponse struct {
	List []struct {
		URL  string `json:"url"`
		Name string `json:"name"`
	} `json:"list"`
}

func (r *rodin) Download(ctx context.Context, task Task, format types.MeshFormat) ([]types.DownloadFile, error) {
	var resp rodinDownloadResponse
	err := doJSON(ctx, r.client, Rodin, http.MethodPost,
		r.endpoint+"/api/v2/download", r.key,
		map[string]string{"task_uuid": task.ID}, &resp)
	if err != nil {
		return nil, err
	}
	var files []types.DownloadFile
	for _, item := range resp.List {
		ext := strings.TrimPrefix(strings.ToLower(path.Ext(item.Name)), ".")
		f := types.MeshFormat(ext)
		if !f.Valid() || item.URL == "" {
			continue
		}
		files = append(files, types.DownloadFile{Format: f, URL: item.URL, Name: item.Name})
	}
	return files, nil
}
