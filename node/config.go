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

package node

import (
	"errors"
	"path/filepath"

	"github.com/jackg825/dream-forge-web-sub001/vision"
)

// AzureConfig selects the Azure blob backend. All three fields must be set;
// otherwise artifacts land on the local filesystem.
type AzureConfig struct {
	Account   string
	Key       string
	Container string
}

func (c AzureConfig) enabled() bool {
	return c.Account != "" && c.Key != "" && c.Container != ""
}

// GeminiConfig configures the vision generator.
type GeminiConfig struct {
	APIKey   string
	Model    string
	Endpoint string
	RPS      float64
}

// Config collects everything a node needs to assemble its services.
type Config struct {
	// DataDir roots the document store and, without Azure, the blob store.
	DataDir string

	// HTTPAddr is the API listen address, e.g. ":8544".
	HTTPAddr string

	// JWTSecret is the shared HS256 key bearer tokens are verified with.
	JWTSecret string

	// MetricsAddr exposes Prometheus metrics when non-empty.
	MetricsAddr string

	Azure  AzureConfig
	Gemini GeminiConfig

	// ProviderKeys maps provider ids to API keys; ProviderEndpoints holds
	// base URL overrides for testing against stubs.
	ProviderKeys      map[string]string
	ProviderEndpoints map[string]string
}

// DefaultConfig is the baseline a TOML file or flags override.
var DefaultConfig = Config{
	DataDir:  "dreamforge-data",
	HTTPAddr: ":8544",
	Gemini:   GeminiConfig{Model: vision.DefaultModel, RPS: 1},
}

// Sanitize validates the configuration before assembly.
func (c *Config) Sanitize() error {
	if c.DataDir == "" {
		return errors.New("config: DataDir must be set")
	}
	if c.HTTPAddr == "" {
		return errors.New("config: HTTPAddr must be set")
	}
	if len(c.JWTSecret) < 32 {
		return errors.New("config: JWTSecret must be at least 32 bytes")
	}
	return nil
}

func (c *Config) storeDir() string { return filepath.Join(c.DataDir, "store") }
func (c *Config) blobDir() string  { return filepath.Join(c.DataDir, "blobs") }
