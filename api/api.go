// Copyright 2025 Blink Labs Software
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package api serves a read-only JSON view of the ledger over HTTP:
// balances, transfers, auction months, the order book and pool, governance
// proposals and gateway requests.
package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"
)

const DefaultListenAddress = ":8080"

type APIConfig struct {
	Logger        *slog.Logger
	ListenAddress string
	// Network is reported by the root endpoint
	Network string
	Version string
}

// API is the query server
type API struct {
	config     APIConfig
	logger     *slog.Logger
	node       LedgerNode
	httpServer *http.Server
	mu         sync.Mutex
}

func New(cfg APIConfig, node LedgerNode) *API {
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = DefaultListenAddress
	}
	return &API{
		config: cfg,
		logger: cfg.Logger.With("component", "api"),
		node:   node,
	}
}

// Handler returns the route table without starting a listener
func (a *API) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", a.handleRoot)
	mux.HandleFunc("GET /health", a.handleHealth)
	mux.HandleFunc("GET /api/v1/status", a.handleStatus)
	mux.HandleFunc("GET /api/v1/accounts/{address}", a.handleAccount)
	mux.HandleFunc("GET /api/v1/accounts/{address}/transfers", a.handleTransfers)
	mux.HandleFunc("GET /api/v1/auction/months/{month}", a.handleMonth)
	mux.HandleFunc("GET /api/v1/trade/orders", a.handleOrders)
	mux.HandleFunc("GET /api/v1/trade/pool", a.handlePool)
	mux.HandleFunc("GET /api/v1/governance/proposals", a.handleProposals)
	mux.HandleFunc("GET /api/v1/governance/proposals/{id}", a.handleProposal)
	mux.HandleFunc("GET /api/v1/gateway/requests/{id}", a.handleGatewayRequest)
	return mux
}

// Start binds the listener, so port conflicts are reported here, and serves
// in the background until Stop or ctx is done
func (a *API) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.httpServer != nil {
		return errors.New("server already started")
	}
	ln, err := net.Listen("tcp", a.config.ListenAddress)
	if err != nil {
		return fmt.Errorf("failed to listen for API server: %w", err)
	}
	server := &http.Server{
		Handler:           a.Handler(),
		ReadHeaderTimeout: 60 * time.Second,
	}
	a.httpServer = server
	go func() {
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("API server error", "error", err)
		}
	}()
	go func() {
		<-ctx.Done()
		//nolint:contextcheck
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		//nolint:contextcheck
		if err := a.Stop(shutdownCtx); err != nil {
			a.logger.Error("failed to shut down API server", "error", err)
		}
	}()
	a.logger.Info("API listener started on " + ln.Addr().String())
	return nil
}

// Stop gracefully shuts down the HTTP server
func (a *API) Stop(ctx context.Context) error {
	a.mu.Lock()
	srv := a.httpServer
	a.httpServer = nil
	a.mu.Unlock()
	if srv == nil {
		return nil
	}
	a.logger.Debug("shutting down API server")
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shut down API server: %w", err)
	}
	return nil
}
