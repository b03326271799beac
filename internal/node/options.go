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
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/blinklabs-io/enledger"
	"github.com/blinklabs-io/enledger/archive"
	"github.com/blinklabs-io/enledger/deployment"
	"github.com/blinklabs-io/enledger/fixed"
	"github.com/blinklabs-io/enledger/governance"
	"github.com/blinklabs-io/enledger/internal/config"
	"github.com/blinklabs-io/enledger/internal/sops"
	"github.com/blinklabs-io/enledger/oracle"
)

// Options translates the process configuration into node options
func Options(
	ctx context.Context,
	cfg *config.Config,
	rec *deployment.Record,
	logger *slog.Logger,
	registry prometheus.Registerer,
) ([]enledger.ConfigOptionFunc, error) {
	if rec.Network != cfg.Network {
		return nil, fmt.Errorf(
			"deployment record is for network %q, config selects %q",
			rec.Network,
			cfg.Network,
		)
	}
	supply, err := fixed.Parse(cfg.InitialSupply)
	if err != nil {
		return nil, err
	}
	rate, err := fixed.Parse(cfg.Gateway.MarketRate)
	if err != nil {
		return nil, err
	}
	threshold, err := fixed.Parse(cfg.Governance.ProposalThreshold)
	if err != nil {
		return nil, err
	}
	shutdownTimeout, err := cfg.ShutdownTimeoutDuration()
	if err != nil {
		return nil, err
	}
	govSettings := governance.DefaultSettings()
	govSettings.ProposalThreshold = threshold
	if cfg.Governance.VotingPowerMode != "" {
		govSettings.VotingPowerMode = governance.VotingPowerMode(cfg.Governance.VotingPowerMode)
	}
	if cfg.Governance.QuorumBps != 0 {
		govSettings.QuorumBps = cfg.Governance.QuorumBps
	}
	opts := []enledger.ConfigOptionFunc{
		enledger.WithLogger(logger),
		enledger.WithPrometheusRegistry(registry),
		enledger.WithDeployment(rec),
		enledger.WithDatabasePath(cfg.DatabasePath),
		enledger.WithBlobCacheSize(cfg.BlobCacheSize),
		enledger.WithInitialSupply(supply),
		enledger.WithAuctionCurve(cfg.Auction.BasePrice18, cfg.Auction.SlopeBps),
		enledger.WithOnePackPerMonth(cfg.Auction.OnePackPerMonth),
		enledger.WithSavings(
			oracle.SavingsMode(cfg.Oracle.SavingsMode),
			cfg.Oracle.SavingsRewardBps,
			cfg.Oracle.SavingsScoreBonus,
		),
		enledger.WithRejectOverUsage(cfg.Oracle.RejectOverUsage),
		enledger.WithRequireReading(cfg.Oracle.RequireReading),
		enledger.WithTradeFees(cfg.Trade.MinPremiumBps, cfg.Trade.FeeBps),
		enledger.WithTradeKWhBacking(cfg.Trade.RequireKWhBacking),
		enledger.WithGatewayRate(rate),
		enledger.WithGatewaySpreads(cfg.Gateway.BuySpreadBps, cfg.Gateway.SellSpreadBps),
		enledger.WithGovernanceSettings(govSettings),
		enledger.WithTracing(cfg.Tracing),
		enledger.WithTracingStdout(cfg.TracingExporter == config.TracingExporterStdout),
		enledger.WithShutdownTimeout(shutdownTimeout),
	}
	if cfg.Archive.Bucket != "" {
		bucket, prefix, err := archive.ParseBucketURL(cfg.Archive.Bucket)
		if err != nil {
			return nil, err
		}
		interval, err := cfg.ArchiveIntervalDuration()
		if err != nil {
			return nil, err
		}
		store, err := archive.NewGCSStore(ctx, bucket, cfg.Archive.CredentialsFile)
		if err != nil {
			return nil, err
		}
		archiveOpts := []archive.ArchiverOptionFunc{
			archive.WithPrefix(prefix),
			archive.WithInterval(interval),
		}
		if cfg.Archive.Encrypt {
			archiveOpts = append(archiveOpts, archive.WithEncryption(sops.KeyConfigFromEnv()))
		}
		opts = append(opts, enledger.WithArchive(store, archiveOpts...))
	}
	return opts, nil
}
