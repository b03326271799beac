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

package node_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"connectrpc.com/grpchealth"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blinklabs-io/enledger"
	"github.com/blinklabs-io/enledger/chain"
	"github.com/blinklabs-io/enledger/deployment"
	"github.com/blinklabs-io/enledger/internal/config"
	"github.com/blinklabs-io/enledger/internal/node"
	"github.com/blinklabs-io/enledger/internal/test/testutil"
)

func healthStatus(t *testing.T, url string) string {
	t.Helper()
	resp, err := http.Post(
		url+"/grpc.health.v1.Health/Check",
		"application/json",
		strings.NewReader(`{"service":""}`),
	)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(body)
}

func TestHandlerServesMetricsAndHealth(t *testing.T) {
	registry := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "enledger_test_total",
		Help: "test counter",
	})
	registry.MustRegister(counter)
	counter.Inc()
	checker := grpchealth.NewStaticChecker(node.LedgerServiceName)
	server := httptest.NewServer(node.NewHandler(registry, checker))
	defer server.Close()

	resp, err := http.Get(server.URL + "/metrics")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Contains(t, string(body), "enledger_test_total 1")

	status := healthStatus(t, server.URL)
	assert.Contains(t, status, "SERVING")
	assert.NotContains(t, status, "NOT_SERVING")

	checker.SetStatus("", grpchealth.StatusNotServing)
	assert.Contains(t, healthStatus(t, server.URL), "NOT_SERVING")
}

func TestOptionsBuildNode(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.DatabasePath = ""
	cfg.Trade.FeeBps = 55
	cfg.Governance.QuorumBps = 1200
	rec, err := deployment.Derive(cfg.Network, testutil.Address("admin"), testutil.Address("treasury"), time.Now())
	require.NoError(t, err)

	opts, err := node.Options(context.Background(), cfg, rec, nil, prometheus.NewRegistry())
	require.NoError(t, err)
	n, err := enledger.New(enledger.NewConfig(opts...))
	require.NoError(t, err)
	require.NoError(t, n.Start(context.Background()))
	defer n.Stop() //nolint:errcheck
	require.NoError(t, n.View(func(chain.Snapshot) error {
		assert.Equal(t, uint64(55), n.Trade().FeeBps())
		assert.Equal(t, uint64(1200), n.Governance().Settings().QuorumBps)
		return nil
	}))

	cfg.Network = "mainnet"
	_, err = node.Options(context.Background(), cfg, rec, nil, nil)
	require.Error(t, err)
}
