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
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/holiman/uint256"

	"github.com/blinklabs-io/enledger/archive"
	"github.com/blinklabs-io/enledger/auction"
	"github.com/blinklabs-io/enledger/chain"
	"github.com/blinklabs-io/enledger/database"
	"github.com/blinklabs-io/enledger/deployment"
	"github.com/blinklabs-io/enledger/event"
	"github.com/blinklabs-io/enledger/fixed"
	"github.com/blinklabs-io/enledger/gateway"
	"github.com/blinklabs-io/enledger/governance"
	"github.com/blinklabs-io/enledger/ledger"
	"github.com/blinklabs-io/enledger/loan"
	"github.com/blinklabs-io/enledger/oracle"
	"github.com/blinklabs-io/enledger/trade"
	"github.com/blinklabs-io/enledger/types"
)

const bootstrapOp = "node.bootstrap"

// roleManager is the role administration every component exposes
type roleManager interface {
	GrantRole(tx *chain.Tx, role types.Role, account types.Address) error
}

type Node struct {
	eventBus      *event.EventBus
	db            *database.Database
	executor      *chain.Executor
	ledger        *ledger.Ledger
	auction       *auction.Auction
	oracle        *oracle.Oracle
	loan          *loan.LoanModule
	trade         *trade.Trade
	governance    *governance.Governance
	gateway       *gateway.Gateway
	archiver      *archive.Archiver
	shutdownFuncs []func(context.Context) error
	config        Config
	done          chan struct{}
	startOnce     sync.Once
	shutdownOnce  sync.Once
}

// ErrJournalNotEmpty is returned by Start when the data directory already
// holds a receipt journal. Move the directory aside, or archive it, to start
// a fresh ledger.
var ErrJournalNotEmpty = errors.New("receipt journal is not empty")

func New(cfg Config) (*Node, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	n := &Node{
		config:   cfg,
		eventBus: event.NewEventBus(cfg.promRegistry, cfg.logger),
		done:     make(chan struct{}),
	}
	return n, nil
}

// Run starts the node and blocks until Stop is called
func (n *Node) Run(ctx context.Context) error {
	if err := n.Start(ctx); err != nil {
		return err
	}
	<-n.done
	return nil
}

// Start opens the database, builds and wires every component, and applies
// the deployment record. It returns once the node accepts transitions.
func (n *Node) Start(ctx context.Context) error {
	err := errors.New("node already started")
	n.startOnce.Do(func() {
		err = n.start(ctx)
	})
	return err
}

func (n *Node) start(ctx context.Context) error {
	// Configure tracing
	if n.config.tracing {
		if err := n.setupTracing(); err != nil {
			return err
		}
	}
	// Load database
	db, err := database.New(database.DatabaseConfig{
		Logger:        n.config.logger,
		PromRegistry:  n.config.promRegistry,
		DataDir:       n.config.dataDir,
		BlobCacheSize: n.config.blobCacheSize,
	})
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	n.db = db
	n.shutdownFuncs = append(n.shutdownFuncs, func(context.Context) error {
		return n.db.Close()
	})
	lastBlock, err := n.db.LastBlock()
	if err != nil {
		return fmt.Errorf("failed to read journal height: %w", err)
	}
	// Component state lives in memory only, so a journal from an earlier
	// run describes balances this node cannot rebuild
	if lastBlock > 0 {
		return fmt.Errorf(
			"%w: %s holds %d blocks",
			ErrJournalNotEmpty,
			n.db.DataDir(),
			lastBlock,
		)
	}
	// Start executor
	n.executor = chain.NewExecutor(chain.ExecutorConfig{
		Logger:        n.config.logger,
		PromRegistry:  n.config.promRegistry,
		EventBus:      n.eventBus,
		Clock:         n.config.clock,
		ReceiptSink:   n.db,
		ReceiptSource: n.db,
		GenesisTime:   n.config.genesisTime,
	})
	if err := n.executor.Start(); err != nil {
		return fmt.Errorf("failed to start executor: %w", err)
	}
	n.shutdownFuncs = append(n.shutdownFuncs, func(context.Context) error {
		return n.executor.Stop()
	})
	if err := n.buildComponents(); err != nil {
		return err
	}
	if err := n.registerParams(); err != nil {
		return err
	}
	if err := n.bootstrap(ctx); err != nil {
		return err
	}
	// Start archival
	if n.config.archiveStore != nil {
		opts := append(
			[]archive.ArchiverOptionFunc{
				archive.WithLogger(n.config.logger),
				archive.WithPromRegistry(n.config.promRegistry),
			},
			n.config.archiveOpts...,
		)
		archiver, err := archive.New(n.db, n.config.archiveStore, opts...)
		if err != nil {
			return err
		}
		if err := archiver.Start(); err != nil {
			return err
		}
		n.archiver = archiver
	}
	n.config.logger.Info(
		"node started",
		"component", "node",
		"network", n.config.deployment.Network,
		"height", n.executor.Height(),
	)
	return nil
}

func (n *Node) buildComponents() error {
	rec := n.config.deployment
	logger := n.config.logger
	reg := n.config.promRegistry
	var err error
	n.ledger, err = ledger.New(ledger.LedgerConfig{
		Logger:        logger,
		PromRegistry:  reg,
		InitialSupply: n.config.initialSupply,
		Admin:         rec.Admin,
		Treasury:      rec.Treasury,
	})
	if err != nil {
		return fmt.Errorf("ledger: %w", err)
	}
	n.auction, err = auction.New(auction.AuctionConfig{
		Logger:          logger,
		PromRegistry:    reg,
		Ledger:          n.ledger,
		GenesisSupply:   n.config.initialSupply,
		Address:         rec.Components[deployment.ComponentAuction],
		Admin:           rec.Admin,
		BasePrice18:     n.config.auctionBase18,
		SlopeBps:        n.config.auctionSlopeBps,
		OnePackPerMonth: n.config.onePackPerMonth,
	})
	if err != nil {
		return fmt.Errorf("auction: %w", err)
	}
	n.oracle, err = oracle.New(oracle.OracleConfig{
		Logger:            logger,
		PromRegistry:      reg,
		Ledger:            n.ledger,
		Auction:           n.auction,
		Address:           rec.Components[deployment.ComponentOracle],
		Admin:             rec.Admin,
		SavingsMode:       n.config.savingsMode,
		SavingsRewardBps:  n.config.savingsRewardBps,
		SavingsScoreBonus: n.config.savingsScoreBonus,
		RejectOverUsage:   n.config.rejectOverUsage,
		RequireReading:    n.config.requireReading,
	})
	if err != nil {
		return fmt.Errorf("oracle: %w", err)
	}
	n.loan, err = loan.New(loan.LoanConfig{
		Logger:       logger,
		PromRegistry: reg,
		Ledger:       n.ledger,
		Oracle:       n.oracle,
		Address:      rec.Components[deployment.ComponentLoan],
		Admin:        rec.Admin,
		Params:       n.config.loanParams,
	})
	if err != nil {
		return fmt.Errorf("loan: %w", err)
	}
	n.trade, err = trade.New(trade.TradeConfig{
		Logger:        logger,
		PromRegistry:  reg,
		Ledger:        n.ledger,
		PriceSource:   n.auction,
		Address:       rec.Components[deployment.ComponentTrade],
		Admin:         rec.Admin,
		MinPremiumBps: n.config.tradePremiumBps,
		FeeBps:        n.config.tradeFeeBps,

		RequireKWhBacking: n.config.tradeKWhBacking,
	})
	if err != nil {
		return fmt.Errorf("trade: %w", err)
	}
	n.governance, err = governance.New(governance.GovernanceConfig{
		Logger:       logger,
		PromRegistry: reg,
		Ledger:       n.ledger,
		Registry:     governance.NewParamRegistry(),
		Address:      rec.Components[deployment.ComponentGovernance],
		Admin:        rec.Admin,
		Settings:     n.config.governance,
	})
	if err != nil {
		return fmt.Errorf("governance: %w", err)
	}
	limits := gateway.Limits{}
	if n.config.gatewayLimits != nil {
		limits = *n.config.gatewayLimits
	}
	n.gateway, err = gateway.New(gateway.GatewayConfig{
		Logger:        logger,
		PromRegistry:  reg,
		Ledger:        n.ledger,
		MarketRate18:  n.config.gatewayRate18,
		Address:       rec.Components[deployment.ComponentGateway],
		Admin:         rec.Admin,
		BuySpreadBps:  n.config.buySpreadBps,
		SellSpreadBps: n.config.sellSpreadBps,
		Limits:        limits,
	})
	if err != nil {
		return fmt.Errorf("gateway: %w", err)
	}
	return nil
}

// registerParams lets executed proposals reach every tunable component.
// Setters run as the governance identity, which the default roster makes
// admin of each component.
func (n *Node) registerParams() error {
	reg := n.governance.Registry()
	params := map[string]governance.ParamSetter{
		governance.ParamAuctionSlopeBps:        governance.Uint64Param(n.auction.SetSlopeBps),
		governance.ParamTradeMinPremiumBps:     governance.Uint64Param(n.trade.SetMinPremiumBps),
		governance.ParamTradeFeeBps:            governance.Uint64Param(n.trade.SetFeeBps),
		governance.ParamLoanMinHealthBps:       governance.Uint64Param(n.loan.SetMinHealthBps),
		governance.ParamOracleSavingsRewardBps: governance.Uint64Param(n.oracle.SetSavingsRewardBps),
		governance.ParamGatewayBuySpreadBps:    governance.Uint64Param(n.gateway.SetBuySpreadBps),
		governance.ParamGatewaySellSpreadBps:   governance.Uint64Param(n.gateway.SetSellSpreadBps),
	}
	for name, setter := range params {
		if err := reg.Register(name, setter); err != nil {
			return fmt.Errorf("register %s: %w", name, err)
		}
	}
	return nil
}

// bootstrap applies the deployment record in one transition signed by the
// admin: the role roster, meter signers, the treasury allowances the
// components spend, and any parameter overrides
func (n *Node) bootstrap(ctx context.Context) error {
	rec := n.config.deployment
	return chain.Exec(ctx, n.executor, rec.Admin, bootstrapOp, func(tx *chain.Tx) error {
		if err := n.oracle.SetLoanModule(tx, n.loan.Address()); err != nil {
			return err
		}
		for _, signer := range rec.MeterSigners {
			if err := n.oracle.SetMeterSigner(tx, signer, true); err != nil {
				return err
			}
		}
		treasury := tx.As(rec.Treasury)
		for _, spender := range []types.Address{
			n.oracle.Address(),
			n.loan.Address(),
			n.trade.Address(),
			n.gateway.Address(),
		} {
			if err := n.ledger.Approve(treasury, spender, fixed.Max()); err != nil {
				return fmt.Errorf("treasury approval: %w", err)
			}
		}
		for _, grant := range rec.Roles {
			component, err := n.component(grant.Component)
			if err != nil {
				return err
			}
			if err := component.GrantRole(tx, grant.Role, grant.Account); err != nil {
				return fmt.Errorf("apply roster entry %s: %w", grant, err)
			}
		}
		gov := tx.As(n.governance.Address())
		for name, raw := range rec.Params {
			value, err := fixed.ParseInt(raw)
			if err != nil {
				return fmt.Errorf("param %s: %w", name, err)
			}
			applied, err := n.governance.Registry().Apply(gov, governance.ParamKey(name), value)
			if err != nil {
				return err
			}
			if !applied {
				return fmt.Errorf("unknown param %s", name)
			}
		}
		return nil
	})
}

func (n *Node) component(name string) (roleManager, error) {
	switch name {
	case deployment.ComponentLedger:
		return n.ledger, nil
	case deployment.ComponentAuction:
		return n.auction, nil
	case deployment.ComponentOracle:
		return n.oracle, nil
	case deployment.ComponentLoan:
		return n.loan, nil
	case deployment.ComponentTrade:
		return n.trade, nil
	case deployment.ComponentGovernance:
		return n.governance, nil
	case deployment.ComponentGateway:
		return n.gateway, nil
	}
	return nil, fmt.Errorf("%w: %q", deployment.ErrUnknownComponent, name)
}

// Exec runs fn as one transition signed by sender
func (n *Node) Exec(ctx context.Context, sender types.Address, op string, fn func(*chain.Tx) error) error {
	return chain.Exec(ctx, n.executor, sender, op, fn)
}

// View runs fn against a consistent view of every component
func (n *Node) View(fn func(chain.Snapshot) error) error {
	return chain.View(n.executor, fn)
}

// Balance reads an account's EnTo balance
func (n *Node) Balance(account types.Address) (*uint256.Int, error) {
	return chain.Read(n.executor, func(chain.Snapshot) (*uint256.Int, error) {
		return n.ledger.BalanceOf(account), nil
	})
}

func (n *Node) Deployment() *deployment.Record     { return n.config.deployment }
func (n *Node) EventBus() *event.EventBus          { return n.eventBus }
func (n *Node) Database() *database.Database       { return n.db }
func (n *Node) Executor() *chain.Executor          { return n.executor }
func (n *Node) Ledger() *ledger.Ledger             { return n.ledger }
func (n *Node) Auction() *auction.Auction          { return n.auction }
func (n *Node) Oracle() *oracle.Oracle             { return n.oracle }
func (n *Node) Loan() *loan.LoanModule             { return n.loan }
func (n *Node) Trade() *trade.Trade                { return n.trade }
func (n *Node) Governance() *governance.Governance { return n.governance }
func (n *Node) Gateway() *gateway.Gateway          { return n.gateway }

func (n *Node) Stop() error {
	var err error
	n.shutdownOnce.Do(func() {
		err = n.shutdown()
	})
	return err
}

func (n *Node) shutdown() error {
	shutdownTimeout := DefaultShutdownTimeout
	if n.config.shutdownTimeout > 0 {
		shutdownTimeout = n.config.shutdownTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var err error

	n.config.logger.Debug("starting graceful shutdown", "component", "node")

	// Stop background uploads before the journal closes
	if n.archiver != nil {
		if stopErr := n.archiver.Stop(); stopErr != nil {
			err = errors.Join(err, fmt.Errorf("archive shutdown: %w", stopErr))
		}
	}

	// Executor first, then database, in reverse registration order
	for i := len(n.shutdownFuncs) - 1; i >= 0; i-- {
		if fnErr := n.shutdownFuncs[i](ctx); fnErr != nil {
			err = errors.Join(err, fmt.Errorf("shutdown function: %w", fnErr))
		}
	}
	n.shutdownFuncs = nil

	if n.eventBus != nil {
		n.eventBus.Stop()
	}

	n.config.logger.Debug("graceful shutdown complete", "component", "node")
	close(n.done)
	return err
}
