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

package blob

import (
	"context"
	"fmt"
	"io"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	azb "github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
)

// AzureConfig is the authentication and container configuration of an Azure
// blob store.
type AzureConfig struct {
	Account   string // Account name to authorize API requests with
	Token     string // Shared access key for the above account
	Container string // Blob container to upload artifacts into
}

// AzureStore stores artifacts as Azure block blobs.
type AzureStore struct {
	client    *azblob.Client
	container string
	account   string
}

// NewAzureStore creates an authenticated client against the Azure cloud.
func NewAzureStore(config AzureConfig) (*AzureStore, error) {
	credential, err := azblob.NewSharedKeyCredential(config.Account, config.Token)
	if err != nil {
		return nil, err
	}
	u := fmt.Sprintf("https://%s.blob.core.windows.net/", config.Account)
	client, err := azblob.NewClientWithSharedKeyCredential(u, credential, nil)
	if err != nil {
		return nil, err
	}
	return &AzureStore{client: client, container: config.Container, account: config.Account}, nil
}

// Put implements Store, uploading the payload as a block blob. Note, this
// assumes single-shot uploads; the SDK splits larger payloads into blocks on
// its own.
func (s *AzureStore) Put(ctx context.Context, path string, data []byte, contentType string) (string, error) {
	_, err := s.client.UploadBuffer(ctx, s.container, path, data, &azblob.UploadBufferOptions{
		HTTPHeaders: &azb.HTTPHeaders{BlobContentType: &contentType},
	})
	if err != nil {
		return "", fmt.Errorf("azure upload %s: %w", path, err)
	}
	return fmt.Sprintf("https://%s.blob.core.windows.net/%s/%s", s.account, s.container, path), nil
}

// Get implements Store.
func (s *AzureStore) Get(ctx context.Context, path string) ([]byte, error) {
	resp, err := s.client.DownloadStream(ctx, s.container, path, nil)
	if err != nil {
		return nil, fmt.Errorf("azure download %s: %w", path, err)
	}
	defer resp.Body.Close()
	return io.ReadAll(resp.Body)
}
