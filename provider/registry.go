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
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"time"
)

// Provider registry ids.
const (
	Meshy   = "meshy"
	Tripo   = "tripo"
	Hunyuan = "hunyuan"
	Rodin   = "rodin"
)

// ErrUnknownProvider is returned for ids outside the closed provider set.
var ErrUnknownProvider = errors.New("unknown provider")

// Config carries the per-provider credentials and, for tests, endpoint and
// transport overrides. Keys are held here explicitly; drivers never read the
// environment.
type Config struct {
	Keys      map[string]string // provider id -> API key
	Endpoints map[string]string // provider id -> base URL override
	Client    *http.Client      // shared transport; defaults to a 60s-timeout client
}

func (c Config) endpoint(name, dflt string) string {
	if url, ok := c.Endpoints[name]; ok {
		return url
	}
	return dflt
}

func (c Config) client() *http.Client {
	if c.Client != nil {
		return c.Client
	}
	return &http.Client{Timeout: 60 * time.Second}
}

// Registry owns the configured drivers. Costs and option schemas are
// registry data, not state-machine knowledge.
type Registry struct {
	mesh      map[string]Mesh
	retexture Retexture
}

// NewRegistry instantiates every driver against the given configuration.
func NewRegistry(cfg Config) *Registry {
	client := cfg.client()
	r := &Registry{mesh: make(map[string]Mesh)}
	for _, m := range []Mesh{
		newMeshy(cfg.Keys[Meshy], cfg.endpoint(Meshy, meshyEndpoint), client),
		newTripo(cfg.Keys[Tripo], cfg.endpoint(Tripo, tripoEndpoint), client),
		newHunyuan(cfg.Keys[Hunyuan], cfg.endpoint(Hunyuan, hunyuanEndpoint), client),
		newRodin(cfg.Keys[Rodin], cfg.endpoint(Rodin, rodinEndpoint), client),
	} {
		r.mesh[m.Name()] = m
	}
	r.retexture = newMeshyRetexture(cfg.Keys[Meshy], cfg.endpoint(Meshy, meshyEndpoint), client)
	return r
}

// NewTestRegistry builds a registry over pre-constructed drivers so engine
// tests can script provider behaviour.
func NewTestRegistry(mesh map[string]Mesh, retexture Retexture) *Registry {
	return &Registry{mesh: mesh, retexture: retexture}
}

// Mesh returns the driver registered under name.
func (r *Registry) Mesh(name string) (Mesh, error) {
	m, ok := r.mesh[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, name)
	}
	return m, nil
}

// Retexture returns the retexture driver.
func (r *Registry) Retexture() Retexture { return r.retexture }

// Names returns the registered provider ids, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.mesh))
	for name := range r.mesh {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Cost returns the credit cost of the named provider.
func (r *Registry) Cost(name string) (int, error) {
	m, err := r.Mesh(name)
	if err != nil {
		return 0, err
	}
	return m.Cost(), nil
}

// Hunyuan face count bounds.
const (
	hunyuanMinFaces = 40000
	hunyuanMaxFaces = 1500000
)

// ValidateOptions checks provider-specific extra options against the
// registry's option schema.
func (r *Registry) ValidateOptions(name string, extra map[string]string) error {
	if _, err := r.Mesh(name); err != nil {
		return err
	}
	for key, value := range extra {
		switch {
		case name == Meshy && key == "precision":
			if value != "standard" && value != "high" {
				return fmt.Errorf("meshy precision must be standard or high, got %q", value)
			}
		case name == Hunyuan && key == "faceCount":
			n, err := strconv.Atoi(value)
			if err != nil || n < hunyuanMinFaces || n > hunyuanMaxFaces {
				return fmt.Errorf("hunyuan faceCount must be in [%d, %d], got %q",
					hunyuanMinFaces, hunyuanMaxFaces, value)
			}
		default:
			return fmt.Errorf("option %q not supported by provider %q", key, name)
		}
	}
	return nil
}

// doJSON issues a JSON request and decodes the response into out, mapping
// non-2xx responses to *Error.
func doJSON(ctx context.Context, client *http.Client, provider, method, url, key string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", "Bearer "+key)

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%s request: %w", provider, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%s response: %w", provider, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &Error{Provider: provider, Code: resp.StatusCode, Message: summarize(data)}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%s decode: %w", provider, err)
	}
	return nil
}

// summarize trims an error body into something loggable.
func summarize(data []byte) string {
	const max = 256
	s := string(bytes.TrimSpace(data))
	if len(s) > max {
		s = s[:max] + "..."
	}
	if s == "" {
		s = "no error detail"
	}
	return s
}
