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

// Package blob abstracts the object store holding generated images and
// models. Callers hand over bytes and a hierarchical path and get back a
// durable URL; everything else is the store's business.
package blob

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
)

// Store uploads generated artifacts and serves them back. Paths are
// hierarchical and must carry the owning user and pipeline ids as prefix
// segments; returned URLs are opaque to callers and stay valid for at least
// seven days.
type Store interface {
	// Put uploads data under path with the given content type and returns a
	// durable URL.
	Put(ctx context.Context, path string, data []byte, contentType string) (string, error)

	// Get downloads the blob stored under path.
	Get(ctx context.Context, path string) ([]byte, error)
}

// PutBase64 decodes a standard-base64 payload and uploads it via store.
// Data URL prefixes ("data:image/png;base64,") are tolerated and stripped.
func PutBase64(ctx context.Context, store Store, path, encoded, contentType string) (string, error) {
	if i := strings.IndexByte(encoded, ','); i >= 0 && strings.HasPrefix(encoded, "data:") {
		encoded = encoded[i+1:]
	}
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("decode base64 blob: %w", err)
	}
	return store.Put(ctx, path, data, contentType)
}

// Path assembles the canonical blob path for a pipeline artifact.
func Path(userID, pipelineID string, name string) string {
	return fmt.Sprintf("pipelines/%s/%s/%s", userID, pipelineID, name)
}
