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

package node

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"connectrpc.com/grpchealth"
	"connectrpc.com/grpcreflect"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
	"golang.org/x/sync/errgroup"

	"github.com/blinklabs-io/enledger"
	"github.com/blinklabs-io/enledger/api"
	"github.com/blinklabs-io/enledger/deployment"
	"github.com/blinklabs-io/enledger/internal/config"
	"github.com/blinklabs-io/enledger/internal/version"
)

// LedgerServiceName is the service reported by the health endpoint
const LedgerServiceName = "enledger.v1.Ledger"

// NewHandler serves Prometheus metrics plus the gRPC health and reflection
// services
func NewHandler(gatherer prometheus.Gatherer, checker grpchealth.Checker) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	mux.Handle(grpchealth.NewHandler(checker))
	mux.Handle(
		grpcreflect.NewHandlerV1(
			grpcreflect.NewStaticReflector(grpchealth.HealthV1ServiceName),
		),
	)
	mux.Handle(
		grpcreflect.NewHandlerV1Alpha(
			grpcreflect.NewStaticReflector(grpchealth.HealthV1ServiceName),
		),
	)
	// Use h2c so gRPC clients can connect without TLS
	return h2c.NewHandler(mux, &http2.Server{})
}

func Run(cfg *config.Config, logger *slog.Logger) error {
	logger.Debug(fmt.Sprintf("config: %+v", cfg), "component", "node")
	rec, err := deployment.Load(cfg.DeploymentFile)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf(
				"%w (create one with 'enledger deploy --out %s')",
				err,
				cfg.DeploymentFile,
			)
		}
		return err
	}
	shutdownTimeout, err := cfg.ShutdownTimeoutDuration()
	if err != nil {
		return err
	}

	// Wait for interrupt/termination signal
	signalCtx, signalCtxStop := signal.NotifyContext(
		context.Background(),
		syscall.SIGINT,
		syscall.SIGTERM,
	)
	defer signalCtxStop()

	opts, err := Options(signalCtx, cfg, rec, logger, prometheus.DefaultRegisterer)
	if err != nil {
		return err
	}
	n, err := enledger.New(enledger.NewConfig(opts...))
	if err != nil {
		return err
	}
	if err := n.Start(signalCtx); err != nil {
		if errors.Is(err, enledger.ErrJournalNotEmpty) {
			err = fmt.Errorf(
				"%w (point databasePath at an empty directory to start a new ledger)",
				err,
			)
		}
		return errors.Join(err, n.Stop())
	}

	var apiServer *api.API
	if cfg.ApiPort > 0 {
		apiServer = api.New(
			api.APIConfig{
				Logger:        logger,
				ListenAddress: fmt.Sprintf("%s:%d", cfg.BindAddr, cfg.ApiPort),
				Network:       rec.Network,
				Version:       version.GetVersionString(),
			},
			api.NewNodeAdapter(n),
		)
		if err := apiServer.Start(signalCtx); err != nil {
			return errors.Join(err, n.Stop())
		}
	}

	checker := grpchealth.NewStaticChecker(LedgerServiceName)
	metricsAddr := fmt.Sprintf("%s:%d", cfg.BindAddr, cfg.MetricsPort)
	metricsServer := &http.Server{
		Addr:              metricsAddr,
		Handler:           NewHandler(prometheus.DefaultGatherer, checker),
		ReadHeaderTimeout: 60 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	logger.Info(
		"serving prometheus metrics and health on "+metricsAddr,
		"component", "node",
	)

	g, gctx := errgroup.WithContext(signalCtx)
	g.Go(func() error {
		if err := metricsServer.ListenAndServe(); err != nil &&
			!errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics listener: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		if signalCtx.Err() != nil {
			logger.Info("signal received, initiating graceful shutdown", "component", "node")
		}
		checker.SetStatus("", grpchealth.StatusNotServing)
		checker.SetStatus(LedgerServiceName, grpchealth.StatusNotServing)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		var err error
		if shutdownErr := metricsServer.Shutdown(shutdownCtx); shutdownErr != nil {
			err = errors.Join(err, fmt.Errorf("metrics server shutdown: %w", shutdownErr))
		}
		if apiServer != nil {
			if stopErr := apiServer.Stop(shutdownCtx); stopErr != nil {
				err = errors.Join(err, stopErr)
			}
		}
		if stopErr := n.Stop(); stopErr != nil {
			err = errors.Join(err, stopErr)
		}
		if err == nil {
			logger.Info("shutdown complete", "component", "node")
		}
		return err
	})
	return g.Wait()
}
