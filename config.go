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

package enledger

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/blinklabs-io/enledger/archive"
	"github.com/blinklabs-io/enledger/chain"
	"github.com/blinklabs-io/enledger/deployment"
	"github.com/blinklabs-io/enledger/fixed"
	"github.com/blinklabs-io/enledger/gateway"
	"github.com/blinklabs-io/enledger/governance"
	"github.com/blinklabs-io/enledger/loan"
	"github.com/blinklabs-io/enledger/oracle"
)

const DefaultShutdownTimeout = 30 * time.Second

// DefaultInitialSupply is minted to the treasury when no supply is configured
var DefaultInitialSupply = fixed.Units(1_000_000)

type Config struct {
	promRegistry      prometheus.Registerer
	logger            *slog.Logger
	clock             chain.Clock
	deployment        *deployment.Record
	initialSupply     *uint256.Int
	gatewayRate18     *uint256.Int
	gatewayLimits     *gateway.Limits
	governance        *governance.Settings
	archiveStore      archive.ObjectStore
	archiveOpts       []archive.ArchiverOptionFunc
	genesisTime       time.Time
	dataDir           string
	savingsMode       oracle.SavingsMode
	loanParams        loan.Params
	blobCacheSize     int64
	auctionBase18     uint64
	auctionSlopeBps   uint64
	savingsRewardBps  uint64
	savingsScoreBonus uint64
	tradePremiumBps   uint64
	tradeFeeBps       uint64
	buySpreadBps      uint64
	sellSpreadBps     uint64
	shutdownTimeout   time.Duration
	onePackPerMonth   bool
	rejectOverUsage   bool
	requireReading    bool
	tradeKWhBacking   bool
	tracing           bool
	tracingStdout     bool
}

// ConfigOptionFunc is a type that represents functions that modify the node config
type ConfigOptionFunc func(*Config)

// NewConfig creates a new enledger config with the specified options
func NewConfig(opts ...ConfigOptionFunc) Config {
	c := Config{
		// Default logger will throw away logs
		// We do this so we don't have to add guards around every log operation
		logger:          slog.New(slog.NewJSONHandler(io.Discard, nil)),
		initialSupply:   DefaultInitialSupply.Clone(),
		gatewayRate18:   fixed.One(),
		loanParams:      loan.DefaultParams(),
		shutdownTimeout: DefaultShutdownTimeout,
	}
	for _, opt := range opts {
		opt(&c)
	}
	if c.logger == nil {
		c.logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return c
}

func (c *Config) validate() error {
	if c.deployment == nil {
		return errors.New("a deployment record is required")
	}
	if err := c.deployment.Validate(); err != nil {
		return err
	}
	if c.initialSupply == nil {
		return errors.New("initial supply must be set")
	}
	if c.gatewayRate18 == nil || c.gatewayRate18.IsZero() {
		return errors.New("gateway market rate must be positive")
	}
	if c.savingsMode != "" && !c.savingsMode.Valid() {
		return fmt.Errorf("invalid savings mode: %q", c.savingsMode)
	}
	if err := c.loanParams.Validate(); err != nil {
		return err
	}
	if c.governance != nil {
		if err := c.governance.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// WithLogger specifies the logger object to use for logging messages
func WithLogger(logger *slog.Logger) ConfigOptionFunc {
	return func(c *Config) {
		c.logger = logger
	}
}

// WithPrometheusRegistry specifies a prometheus.Registerer instance to add metrics to
func WithPrometheusRegistry(registry prometheus.Registerer) ConfigOptionFunc {
	return func(c *Config) {
		c.promRegistry = registry
	}
}

// WithDatabasePath specifies the persistent data directory to use. The default is to store everything in memory
func WithDatabasePath(dataDir string) ConfigOptionFunc {
	return func(c *Config) {
		c.dataDir = dataDir
	}
}

// WithBlobCacheSize sets the badger block cache size in bytes
func WithBlobCacheSize(size int64) ConfigOptionFunc {
	return func(c *Config) {
		c.blobCacheSize = size
	}
}

// WithDeployment specifies the component identities and role roster to apply at start-up
func WithDeployment(record *deployment.Record) ConfigOptionFunc {
	return func(c *Config) {
		c.deployment = record
	}
}

// WithClock replaces the wall clock, mostly for simulations and tests
func WithClock(clock chain.Clock, genesis time.Time) ConfigOptionFunc {
	return func(c *Config) {
		c.clock = clock
		c.genesisTime = genesis
	}
}

// WithInitialSupply sets the EnTo minted to the treasury at genesis
func WithInitialSupply(supply *uint256.Int) ConfigOptionFunc {
	return func(c *Config) {
		c.initialSupply = supply
	}
}

// WithAuctionCurve sets the bonding curve base price and slope. Zero values keep the defaults.
func WithAuctionCurve(basePrice18 uint64, slopeBps uint64) ConfigOptionFunc {
	return func(c *Config) {
		c.auctionBase18 = basePrice18
		c.auctionSlopeBps = slopeBps
	}
}

func WithOnePackPerMonth(enabled bool) ConfigOptionFunc {
	return func(c *Config) {
		c.onePackPerMonth = enabled
	}
}

// WithSavings selects how savings are paid and how they are rewarded
func WithSavings(mode oracle.SavingsMode, rewardBps uint64, scoreBonus uint64) ConfigOptionFunc {
	return func(c *Config) {
		c.savingsMode = mode
		c.savingsRewardBps = rewardBps
		c.savingsScoreBonus = scoreBonus
	}
}

// WithRejectOverUsage refuses usage reports above the purchased pack
func WithRejectOverUsage(reject bool) ConfigOptionFunc {
	return func(c *Config) {
		c.rejectOverUsage = reject
	}
}

// WithRequireReading refuses savings claims for months without a usage reading
func WithRequireReading(required bool) ConfigOptionFunc {
	return func(c *Config) {
		c.requireReading = required
	}
}

func WithLoanParams(params loan.Params) ConfigOptionFunc {
	return func(c *Config) {
		c.loanParams = params
	}
}

// WithTradeFees sets the listing premium over the reference price and the AMM swap fee
func WithTradeFees(minPremiumBps uint64, feeBps uint64) ConfigOptionFunc {
	return func(c *Config) {
		c.tradePremiumBps = minPremiumBps
		c.tradeFeeBps = feeBps
	}
}

// WithTradeKWhBacking limits AMM kWh sales to kWh the seller bought on the market
func WithTradeKWhBacking(required bool) ConfigOptionFunc {
	return func(c *Config) {
		c.tradeKWhBacking = required
	}
}

// WithGatewayRate sets the initial market rate, EnTo per fiat unit scaled by 1e18
func WithGatewayRate(rate18 *uint256.Int) ConfigOptionFunc {
	return func(c *Config) {
		c.gatewayRate18 = rate18
	}
}

func WithGatewaySpreads(buyBps uint64, sellBps uint64) ConfigOptionFunc {
	return func(c *Config) {
		c.buySpreadBps = buyBps
		c.sellSpreadBps = sellBps
	}
}

func WithGatewayLimits(limits gateway.Limits) ConfigOptionFunc {
	return func(c *Config) {
		c.gatewayLimits = &limits
	}
}

func WithGovernanceSettings(settings governance.Settings) ConfigOptionFunc {
	return func(c *Config) {
		c.governance = &settings
	}
}

// WithArchive copies the receipt journal to store in the background
func WithArchive(store archive.ObjectStore, opts ...archive.ArchiverOptionFunc) ConfigOptionFunc {
	return func(c *Config) {
		c.archiveStore = store
		c.archiveOpts = opts
	}
}

// WithTracing enables tracing. By default, spans are submitted to a HTTP(s) endpoint using OTLP. This can be configured
// using the OTEL_EXPORTER_OTLP_* env vars documented in the README for [go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp]
func WithTracing(tracing bool) ConfigOptionFunc {
	return func(c *Config) {
		c.tracing = tracing
	}
}

// WithTracingStdout enables tracing output to stdout. This also requires tracing to enabled separately. This is mostly useful for debugging
func WithTracingStdout(stdout bool) ConfigOptionFunc {
	return func(c *Config) {
		c.tracingStdout = stdout
	}
}

// WithShutdownTimeout bounds how long Stop waits for background work
func WithShutdownTimeout(timeout time.Duration) ConfigOptionFunc {
	return func(c *Config) {
		c.shutdownTimeout = timeout
	}
}
