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

package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/blinklabs-io/enledger/fixed"
)

type ctxKey string

const configContextKey ctxKey = "enledger.config"

const (
	DefaultShutdownTimeout = "30s"
	DefaultArchiveInterval = "5m"

	TracingExporterOtlp   = "otlp"
	TracingExporterStdout = "stdout"
)

func WithContext(ctx context.Context, cfg *Config) context.Context {
	return context.WithValue(ctx, configContextKey, cfg)
}

func FromContext(ctx context.Context) *Config {
	cfg, ok := ctx.Value(configContextKey).(*Config)
	if !ok {
		return nil
	}
	return cfg
}

type AuctionConfig struct {
	BasePrice18     uint64 `yaml:"basePrice18"     split_words:"true"`
	SlopeBps        uint64 `yaml:"slopeBps"        split_words:"true"`
	OnePackPerMonth bool   `yaml:"onePackPerMonth" split_words:"true"`
}

type OracleConfig struct {
	SavingsMode       string `yaml:"savingsMode"       split_words:"true"`
	SavingsRewardBps  uint64 `yaml:"savingsRewardBps"  split_words:"true"`
	SavingsScoreBonus uint64 `yaml:"savingsScoreBonus" split_words:"true"`
	RejectOverUsage   bool   `yaml:"rejectOverUsage"   split_words:"true"`
	RequireReading    bool   `yaml:"requireReading"    split_words:"true"`
}

type TradeConfig struct {
	MinPremiumBps uint64 `yaml:"minPremiumBps" split_words:"true"`
	FeeBps        uint64 `yaml:"feeBps"        split_words:"true"`

	RequireKWhBacking bool `yaml:"requireKWhBacking" envconfig:"require_kwh_backing"`
}

type GatewayConfig struct {
	// MarketRate is EnTo per fiat unit, as a decimal
	MarketRate    string `yaml:"marketRate"    split_words:"true"`
	BuySpreadBps  uint64 `yaml:"buySpreadBps"  split_words:"true"`
	SellSpreadBps uint64 `yaml:"sellSpreadBps" split_words:"true"`
}

type GovernanceConfig struct {
	ProposalThreshold string `yaml:"proposalThreshold" split_words:"true"`
	VotingPowerMode   string `yaml:"votingPowerMode"   split_words:"true"`
	QuorumBps         uint64 `yaml:"quorumBps"         split_words:"true"`
}

type ArchiveConfig struct {
	// Bucket is a gcs://<bucket>[/prefix] URL. Archival is off when empty.
	Bucket          string `yaml:"bucket"`
	CredentialsFile string `yaml:"credentialsFile" split_words:"true"`
	Interval        string `yaml:"interval"`
	Encrypt         bool   `yaml:"encrypt"`
}

type Config struct {
	Network         string           `yaml:"network"`
	DatabasePath    string           `yaml:"databasePath"    split_words:"true"`
	DeploymentFile  string           `yaml:"deploymentFile"  split_words:"true"`
	BindAddr        string           `yaml:"bindAddr"        split_words:"true"`
	ShutdownTimeout string           `yaml:"shutdownTimeout" split_words:"true"`
	InitialSupply   string           `yaml:"initialSupply"   split_words:"true"`
	TracingExporter string           `yaml:"tracingExporter" split_words:"true"`
	Gateway         GatewayConfig    `yaml:"gateway"`
	Governance      GovernanceConfig `yaml:"governance"`
	Oracle          OracleConfig     `yaml:"oracle"`
	Archive         ArchiveConfig    `yaml:"archive"`
	Auction         AuctionConfig    `yaml:"auction"`
	Trade           TradeConfig      `yaml:"trade"`
	BlobCacheSize   int64            `yaml:"blobCacheSize"   split_words:"true"`
	MetricsPort     uint             `yaml:"metricsPort"     split_words:"true"`
	// ApiPort serves the read-only REST API. Zero disables it.
	ApiPort uint `yaml:"apiPort"         split_words:"true"`
	Tracing bool `yaml:"tracing"`
	Debug   bool `yaml:"debug"`
}

// DefaultConfig returns the settings used when neither a file nor the
// environment override them
func DefaultConfig() *Config {
	return &Config{
		Network:         "devnet",
		DatabasePath:    ".enledger",
		DeploymentFile:  "deployment.yaml",
		BindAddr:        "0.0.0.0",
		MetricsPort:     12798,
		ShutdownTimeout: DefaultShutdownTimeout,
		InitialSupply:   "1000000",
		TracingExporter: TracingExporterOtlp,
		Oracle: OracleConfig{
			SavingsMode: "mint",
		},
		Gateway: GatewayConfig{
			MarketRate:    "1",
			BuySpreadBps:  100,
			SellSpreadBps: 100,
		},
		Governance: GovernanceConfig{
			ProposalThreshold: "1000",
			VotingPowerMode:   "current",
		},
		Archive: ArchiveConfig{
			Interval: DefaultArchiveInterval,
		},
	}
}

// LoadConfig overlays the YAML file, if any, and then ENLEDGER_* environment
// variables onto the defaults. With no file given, ~/.enledger/enledger.yaml
// and /etc/enledger/enledger.yaml are tried in that order.
func LoadConfig(configFile string) (*Config, error) {
	cfg := DefaultConfig()
	if configFile == "" {
		if homeDir, err := os.UserHomeDir(); err == nil {
			userPath := filepath.Join(homeDir, ".enledger", "enledger.yaml")
			if _, err := os.Stat(userPath); err == nil {
				configFile = userPath
			}
		}
		if configFile == "" {
			systemPath := "/etc/enledger/enledger.yaml"
			if _, err := os.Stat(systemPath); err == nil {
				configFile = systemPath
			}
		}
	}
	if configFile != "" {
		buf, err := os.ReadFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		if err := yaml.Unmarshal(buf, cfg); err != nil {
			return nil, fmt.Errorf("error parsing config file: %w", err)
		}
	}
	if err := envconfig.Process("enledger", cfg); err != nil {
		return nil, fmt.Errorf("error processing environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	if c.Network == "" {
		errs = append(errs, errors.New("network must not be empty"))
	}
	if _, err := c.ShutdownTimeoutDuration(); err != nil {
		errs = append(errs, err)
	}
	if c.Archive.Bucket != "" {
		if _, err := c.ArchiveIntervalDuration(); err != nil {
			errs = append(errs, err)
		}
	}
	if _, err := fixed.Parse(c.InitialSupply); err != nil {
		errs = append(errs, fmt.Errorf("initialSupply: %w", err))
	}
	if _, err := fixed.Parse(c.Gateway.MarketRate); err != nil {
		errs = append(errs, fmt.Errorf("gateway.marketRate: %w", err))
	}
	if _, err := fixed.Parse(c.Governance.ProposalThreshold); err != nil {
		errs = append(errs, fmt.Errorf("governance.proposalThreshold: %w", err))
	}
	switch c.TracingExporter {
	case TracingExporterOtlp, TracingExporterStdout:
	default:
		errs = append(errs, fmt.Errorf(
			"invalid tracingExporter: %q (must be %q or %q)",
			c.TracingExporter,
			TracingExporterOtlp,
			TracingExporterStdout,
		))
	}
	return errors.Join(errs...)
}

func (c *Config) ShutdownTimeoutDuration() (time.Duration, error) {
	d, err := time.ParseDuration(c.ShutdownTimeout)
	if err != nil {
		return 0, fmt.Errorf("invalid shutdownTimeout %q: %w", c.ShutdownTimeout, err)
	}
	return d, nil
}

func (c *Config) ArchiveIntervalDuration() (time.Duration, error) {
	d, err := time.ParseDuration(c.Archive.Interval)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid archive interval %q", c.Archive.Interval)
	}
	return d, nil
}
