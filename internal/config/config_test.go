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

package config_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blinklabs-io/enledger/internal/config"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "enledger.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadOverlaysFileOnDefaults(t *testing.T) {
	path := writeConfig(t, `
network: testnet
metricsPort: 9100
auction:
  slopeBps: 800
  onePackPerMonth: true
oracle:
  requireReading: true
gateway:
  marketRate: "2.5"
archive:
  bucket: gcs://ledger-archive/testnet
`)
	cfg, err := config.LoadConfig(path)
	require.NoError(t, err)

	expected := config.DefaultConfig()
	expected.Network = "testnet"
	expected.MetricsPort = 9100
	expected.Auction.SlopeBps = 800
	expected.Auction.OnePackPerMonth = true
	expected.Oracle.RequireReading = true
	expected.Gateway.MarketRate = "2.5"
	expected.Archive.Bucket = "gcs://ledger-archive/testnet"
	assert.Equal(t, expected, cfg)
}

func TestLoadEnvironmentWins(t *testing.T) {
	path := writeConfig(t, "network: testnet\n")
	t.Setenv("ENLEDGER_NETWORK", "mainnet")
	t.Setenv("ENLEDGER_DATABASE_PATH", "/var/lib/enledger")
	t.Setenv("ENLEDGER_ORACLE_REJECT_OVER_USAGE", "true")
	t.Setenv("ENLEDGER_ORACLE_REQUIRE_READING", "true")
	t.Setenv("ENLEDGER_TRADE_FEE_BPS", "25")
	t.Setenv("ENLEDGER_TRADE_REQUIRE_KWH_BACKING", "true")
	t.Setenv("ENLEDGER_API_PORT", "3000")
	cfg, err := config.LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "mainnet", cfg.Network)
	assert.Equal(t, "/var/lib/enledger", cfg.DatabasePath)
	assert.True(t, cfg.Oracle.RejectOverUsage)
	assert.True(t, cfg.Oracle.RequireReading)
	assert.Equal(t, uint64(25), cfg.Trade.FeeBps)
	assert.True(t, cfg.Trade.RequireKWhBacking)
	assert.Equal(t, uint(3000), cfg.ApiPort)
}

func TestLoadRejectsInvalid(t *testing.T) {
	testDefs := []string{
		"shutdownTimeout: soon\n",
		"tracingExporter: zipkin\n",
		"initialSupply: \"-5\"\n",
		"archive:\n  bucket: gcs://b\n  interval: never\n",
		"network: [not, a, string]\n",
	}
	for _, content := range testDefs {
		_, err := config.LoadConfig(writeConfig(t, content))
		require.Error(t, err, content)
	}
	_, err := config.LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestDurations(t *testing.T) {
	cfg := config.DefaultConfig()
	d, err := cfg.ShutdownTimeoutDuration()
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, d)
	d, err = cfg.ArchiveIntervalDuration()
	require.NoError(t, err)
	assert.Equal(t, 5*time.Minute, d)
}

func TestContext(t *testing.T) {
	assert.Nil(t, config.FromContext(context.Background()))
	cfg := config.DefaultConfig()
	ctx := config.WithContext(context.Background(), cfg)
	assert.Same(t, cfg, config.FromContext(ctx))
}
