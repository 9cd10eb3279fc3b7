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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jackg825/dream-forge-web-sub001/core/types"
)

func testConfig(t *testing.T) Config {
	cfg := DefaultConfig
	cfg.DataDir = t.TempDir()
	cfg.HTTPAddr = "127.0.0.1:0"
	cfg.JWTSecret = "0123456789abcdef0123456789abcdef"
	return cfg
}

func TestConfigSanitize(t *testing.T) {
	cfg := testConfig(t)
	require.NoError(t, cfg.Sanitize())

	short := cfg
	short.JWTSecret = "too-short"
	assert.Error(t, short.Sanitize())

	nodir := cfg
	nodir.DataDir = ""
	assert.Error(t, nodir.Sanitize())

	noaddr := cfg
	noaddr.HTTPAddr = ""
	assert.Error(t, noaddr.Sanitize())
}

func TestNodeLifecycle(t *testing.T) {
	n, err := New(testConfig(t))
	require.NoError(t, err)

	require.NoError(t, n.Start())
	// Start is idempotent.
	require.NoError(t, n.Start())

	// The assembled ledger is live against the node's store.
	require.NoError(t, n.Ledger().Grant("u1", 20, types.TxBonus))
	balance, err := n.Ledger().Balance("u1")
	require.NoError(t, err)
	assert.Equal(t, int64(20), balance)

	require.NoError(t, n.Stop())
	require.NoError(t, n.Stop())
}

func TestNodeRejectsBadConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.JWTSecret = "nope"
	_, err := New(cfg)
	require.Error(t, err)
}
