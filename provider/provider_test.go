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
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jackg825/dream-forge-web-sub001/core/types"
)

func TestRegistryMembership(t *testing.T) {
	r := NewRegistry(Config{})
	assert.Equal(t, []string{Hunyuan, Meshy, Rodin, Tripo}, r.Names())

	_, err := r.Mesh("printful")
	assert.ErrorIs(t, err, ErrUnknownProvider)

	require.NotNil(t, r.Retexture())
}

func TestRegistryCosts(t *testing.T) {
	r := NewRegistry(Config{})
	for name, want := range map[string]int{Meshy: 5, Tripo: 5, Hunyuan: 6, Rodin: 8} {
		cost, err := r.Cost(name)
		require.NoError(t, err)
		assert.Equal(t, want, cost, name)
	}
}

func TestValidateOptions(t *testing.T) {
	r := NewRegistry(Config{})

	tests := []struct {
		provider string
		extra    map[string]string
		wantErr  bool
	}{
		{Meshy, nil, false},
		{Meshy, map[string]string{"precision": "standard"}, false},
		{Meshy, map[string]string{"precision": "high"}, false},
		{Meshy, map[string]string{"precision": "ultra"}, true},
		{Meshy, map[string]string{"faceCount": "50000"}, true},
		{Tripo, map[string]string{"precision": "high"}, true},
		{Hunyuan, map[string]string{"faceCount": "40000"}, false},
		{Hunyuan, map[string]string{"faceCount": "1500000"}, false},
		{Hunyuan, map[string]string{"faceCount": "39999"}, true},
		{Hunyuan, map[string]string{"faceCount": "1500001"}, true},
		{Hunyuan, map[string]string{"faceCount": "many"}, true},
		{Rodin, map[string]string{"anything": "x"}, true},
	}
	for _, tt := range tests {
		err := r.ValidateOptions(tt.provider, tt.extra)
		if tt.wantErr {
			assert.Error(t, err, "%s %v", tt.provider, tt.extra)
		} else {
			assert.NoError(t, err, "%s %v", tt.provider, tt.extra)
		}
	}
}

func TestPickFile(t *testing.T) {
	files := []types.DownloadFile{
		{Format: types.FormatOBJ, URL: "u/obj"},
		{Format: types.FormatFBX, URL: "u/fbx"},
	}
	// Requested format wins when present.
	f, ok := PickFile(files, types.FormatOBJ)
	require.True(t, ok)
	assert.Equal(t, types.FormatOBJ, f.Format)

	// Missing requested format falls back glb > fbx > obj > stl.
	f, ok = PickFile(files, types.FormatGLB)
	require.True(t, ok)
	assert.Equal(t, types.FormatFBX, f.Format)

	_, ok = PickFile(nil, types.FormatGLB)
	assert.False(t, ok)
}

func TestMeshyLifecycle(t *testing.T) {
	var polls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost:
			assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
			var req meshySubmitRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Len(t, req.ImageURLs, 4)
			json.NewEncoder(w).Encode(meshySubmitResponse{Result: "task-1"})
		default:
			polls++
			task := meshyTask{Status: "IN_PROGRESS"}
			if polls >= 2 {
				p := 100
				task = meshyTask{
					Status:    "SUCCEEDED",
					Progress:  &p,
					ModelURLs: map[string]string{"glb": "https://cdn/model.glb", "usdz": "https://cdn/model.usdz"},
				}
			}
			json.NewEncoder(w).Encode(task)
		}
	}))
	defer srv.Close()

	r := NewRegistry(Config{
		Keys:      map[string]string{Meshy: "test-key"},
		Endpoints: map[string]string{Meshy: srv.URL},
		Client:    srv.Client(),
	})
	m, err := r.Mesh(Meshy)
	require.NoError(t, err)

	task, err := m.Submit(context.Background(), []string{"a", "b", "c", "d"}, Options{})
	require.NoError(t, err)
	assert.Equal(t, "task-1", task.ID)

	status, err := m.Poll(context.Background(), task)
	require.NoError(t, err)
	assert.Equal(t, StateRunning, status.State)
	assert.Equal(t, ProgressIndeterminate, status.Progress)

	status, err = m.Poll(context.Background(), task)
	require.NoError(t, err)
	assert.Equal(t, StateSucceeded, status.State)
	assert.Equal(t, 100, status.Progress)

	// Unknown formats in the provider listing are dropped.
	files, err := m.Download(context.Background(), task, types.FormatGLB)
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, types.FormatGLB, files[0].Format)
}

func TestMeshyFailureSurfacesDetail(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(meshyTask{
			Status:    "FAILED",
			TaskError: &struct{ Message string `json:"message"` }{Message: "quota exceeded"},
		})
	}))
	defer srv.Close()

	r := NewRegistry(Config{Endpoints: map[string]string{Meshy: srv.URL}, Client: srv.Client()})
	m, _ := r.Mesh(Meshy)

	status, err := m.Poll(context.Background(), Task{ID: "t"})
	require.NoError(t, err)
	assert.Equal(t, StateFailed, status.State)
	assert.Equal(t, "quota exceeded", status.Message)
}

func TestProviderErrorMapping(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message":"slow down"}`, http.StatusTooManyRequests)
	}))
	defer srv.Close()

	r := NewRegistry(Config{Endpoints: map[string]string{Tripo: srv.URL}, Client: srv.Client()})
	m, _ := r.Mesh(Tripo)

	_, err := m.Submit(context.Background(), []string{"u"}, Options{})
	var perr *Error
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, Tripo, perr.Provider)
	assert.True(t, perr.RateLimited())
}

func TestRodinSubmitMultipart(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/ref/", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("png-bytes"))
	})
	mux.HandleFunc("/api/v2/rodin", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Len(t, r.MultipartForm.File["images"], 4)
		assert.Equal(t, "glb", r.FormValue("geometry_file_format"))
		json.NewEncoder(w).Encode(map[string]interface{}{
			"uuid": "rodin-1",
			"jobs": map[string]string{"subscription_key": "sub-1"},
		})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	r := NewRegistry(Config{Endpoints: map[string]string{Rodin: srv.URL}, Client: srv.Client()})
	m, _ := r.Mesh(Rodin)

	urls := []string{srv.URL + "/ref/f.png", srv.URL + "/ref/b.png", srv.URL + "/ref/l.png", srv.URL + "/ref/r.png"}
	task, err := m.Submit(context.Background(), urls, Options{Format: types.FormatGLB})
	require.NoError(t, err)
	assert.Equal(t, "rodin-1", task.ID)
	assert.Equal(t, "sub-1", task.SubscriptionKey)
}

func TestRodinPollAggregation(t *testing.T) {
	var jobs []map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{"jobs": jobs})
	}))
	defer srv.Close()

	r := NewRegistry(Config{Endpoints: map[string]string{Rodin: srv.URL}, Client: srv.Client()})
	m, _ := r.Mesh(Rodin)
	task := Task{ID: "u", SubscriptionKey: "s"}

	jobs = []map[string]string{{"uuid": "a", "status": "Generating"}, {"uuid": "b", "status": "Done"}}
	status, err := m.Poll(context.Background(), task)
	require.NoError(t, err)
	assert.Equal(t, StateRunning, status.State)

	jobs = []map[string]string{{"uuid": "a", "status": "Done"}, {"uuid": "b", "status": "Done"}}
	status, err = m.Poll(context.Background(), task)
	require.NoError(t, err)
	assert.Equal(t, StateSucceeded, status.State)

	jobs = []map[string]string{{"uuid": "a", "status": "Done"}, {"uuid": "b", "status": "Failed"}}
	status, err = m.Poll(context.Background(), task)
	require.NoError(t, err)
	assert.Equal(t, StateFailed, status.State)
}

func TestStateMappings(t *testing.T) {
	assert.Equal(t, StateQueued, meshyState("PENDING"))
	assert.Equal(t, StateRunning, meshyState("IN_PROGRESS"))
	assert.Equal(t, StateSucceeded, meshyState("SUCCEEDED"))
	assert.Equal(t, StateCancelled, meshyState("CANCELED"))
	assert.Equal(t, StateFailed, meshyState("EXPLODED"))

	assert.Equal(t, StateQueued, tripoState("queued"))
	assert.Equal(t, StateSucceeded, tripoState("success"))
	assert.Equal(t, StateFailed, tripoState("banned"))

	assert.Equal(t, StateQueued, hunyuanState("WAIT"))
	assert.Equal(t, StateRunning, hunyuanState("RUN"))
	assert.Equal(t, StateSucceeded, hunyuanState("DONE"))
	assert.Equal(t, StateFailed, hunyuanState("FAIL"))
}
