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

// Package node assembles the storage, providers, engine and API server into
// one runnable unit with a clean start/stop lifecycle.
package node

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jackg825/dream-forge-web-sub001/api"
	"github.com/jackg825/dream-forge-web-sub001/core"
	"github.com/jackg825/dream-forge-web-sub001/ledger"
	"github.com/jackg825/dream-forge-web-sub001/log"
	"github.com/jackg825/dream-forge-web-sub001/provider"
	"github.com/jackg825/dream-forge-web-sub001/storage"
	"github.com/jackg825/dream-forge-web-sub001/storage/blob"
	"github.com/jackg825/dream-forge-web-sub001/vision"
)

// Node is a fully assembled dreamforge service instance.
type Node struct {
	config Config
	logger log.Logger

	store  *storage.Store
	blobs  blob.Store
	ledger *ledger.Ledger
	engine *core.Engine

	httpSrv    *http.Server
	metricsSrv *http.Server

	startOnce sync.Once
	stopOnce  sync.Once
	stopErr   error
}

// New assembles a node from the configuration. Nothing is listening until
// Start is called.
func New(config Config) (*Node, error) {
	if err := config.Sanitize(); err != nil {
		return nil, err
	}
	logger := log.New("module", "node")

	store, err := storage.Open(config.storeDir())
	if err != nil {
		return nil, fmt.Errorf("open document store: %w", err)
	}
	var blobs blob.Store
	if config.Azure.enabled() {
		blobs, err = blob.NewAzureStore(blob.AzureConfig{
			Account:   config.Azure.Account,
			Token:     config.Azure.Key,
			Container: config.Azure.Container,
		})
		if err != nil {
			store.Close()
			return nil, fmt.Errorf("open azure blob store: %w", err)
		}
		logger.Info("Using Azure blob storage", "account", config.Azure.Account, "container", config.Azure.Container)
	} else {
		blobs, err = blob.NewFSStore(config.blobDir(), "file://"+config.blobDir())
		if err != nil {
			store.Close()
			return nil, fmt.Errorf("open filesystem blob store: %w", err)
		}
		logger.Warn("Using filesystem blob storage, artifacts stay local", "dir", config.blobDir())
	}

	led := ledger.New(store)
	registry := provider.NewRegistry(provider.Config{
		Keys:      config.ProviderKeys,
		Endpoints: config.ProviderEndpoints,
	})
	views := vision.NewGenerator(vision.Config{
		APIKey:   config.Gemini.APIKey,
		Model:    config.Gemini.Model,
		Endpoint: config.Gemini.Endpoint,
		RPS:      config.Gemini.RPS,
	})
	engine := core.New(core.Config{
		Store:     store,
		Blobs:     blobs,
		Ledger:    led,
		Views:     views,
		Providers: registry,
	})

	n := &Node{
		config: config,
		logger: logger,
		store:  store,
		blobs:  blobs,
		ledger: led,
		engine: engine,
	}
	n.httpSrv = &http.Server{
		Addr:              config.HTTPAddr,
		Handler:           api.NewServer(engine, []byte(config.JWTSecret)),
		ReadHeaderTimeout: 10 * time.Second,
	}
	if config.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		n.metricsSrv = &http.Server{Addr: config.MetricsAddr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	}
	return n, nil
}

// Ledger exposes the credit ledger for administrative commands.
func (n *Node) Ledger() *ledger.Ledger { return n.ledger }

// Engine exposes the pipeline engine, mainly for tests.
func (n *Node) Engine() *core.Engine { return n.engine }

// Start launches the engine worker and the HTTP listeners.
func (n *Node) Start() error {
	var startErr error
	n.startOnce.Do(func() {
		n.engine.Start()

		listener, err := net.Listen("tcp", n.config.HTTPAddr)
		if err != nil {
			startErr = fmt.Errorf("listen %s: %w", n.config.HTTPAddr, err)
			return
		}
		n.logger.Info("HTTP API listening", "addr", listener.Addr())
		go func() {
			if err := n.httpSrv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
				n.logger.Error("HTTP server terminated", "err", err)
			}
		}()

		if n.metricsSrv != nil {
			mlistener, err := net.Listen("tcp", n.config.MetricsAddr)
			if err != nil {
				startErr = fmt.Errorf("listen %s: %w", n.config.MetricsAddr, err)
				return
			}
			n.logger.Info("Metrics listening", "addr", mlistener.Addr())
			go func() {
				if err := n.metricsSrv.Serve(mlistener); err != nil && !errors.Is(err, http.ErrServerClosed) {
					n.logger.Error("Metrics server terminated", "err", err)
				}
			}()
		}
	})
	return startErr
}

// Stop gracefully shuts down the listeners, drains the engine and closes
// the store. Safe to call multiple times.
func (n *Node) Stop() error {
	n.stopOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		if err := n.httpSrv.Shutdown(ctx); err != nil {
			n.stopErr = err
		}
		if n.metricsSrv != nil {
			if err := n.metricsSrv.Shutdown(ctx); err != nil && n.stopErr == nil {
				n.stopErr = err
			}
		}
		n.engine.Stop()
		if err := n.store.Close(); err != nil && n.stopErr == nil {
			n.stopErr = err
		}
		n.logger.Info("Node stopped")
	})
	return n.stopErr
}
