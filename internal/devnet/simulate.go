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

// Package devnet runs a complete energy month against an in-process node: a
// deployment is derived, departments buy packs, a meter signs usage, and the
// savings flow on into loans, trading, governance and the fiat gateway.
package devnet

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/blinklabs-io/enledger"
	"github.com/blinklabs-io/enledger/chain"
	"github.com/blinklabs-io/enledger/deployment"
	"github.com/blinklabs-io/enledger/fixed"
	"github.com/blinklabs-io/enledger/gateway"
	"github.com/blinklabs-io/enledger/governance"
	"github.com/blinklabs-io/enledger/loan"
	"github.com/blinklabs-io/enledger/oracle"
	"github.com/blinklabs-io/enledger/trade"
	"github.com/blinklabs-io/enledger/types"
)

type Simulator struct {
	scenario     Scenario
	logger       *slog.Logger
	promRegistry prometheus.Registerer
	dataDir      string
	meterKey     *ecdsa.PrivateKey
	node         *enledger.Node
	clock        *chain.ManualClock
	admin        types.Address
	treasury     types.Address
	departments  []types.Address
}

// SimulatorOptionFunc configures a Simulator
type SimulatorOptionFunc func(*Simulator)

func WithScenario(scenario Scenario) SimulatorOptionFunc {
	return func(s *Simulator) {
		s.scenario = scenario
	}
}

func WithLogger(logger *slog.Logger) SimulatorOptionFunc {
	return func(s *Simulator) {
		s.logger = logger
	}
}

func WithPromRegistry(registry prometheus.Registerer) SimulatorOptionFunc {
	return func(s *Simulator) {
		s.promRegistry = registry
	}
}

// WithDatabasePath journals the simulated blocks to dataDir instead of memory
func WithDatabasePath(dataDir string) SimulatorOptionFunc {
	return func(s *Simulator) {
		s.dataDir = dataDir
	}
}

// WithMeterKey sets the meter signing key. A fresh key is generated otherwise.
func WithMeterKey(key *ecdsa.PrivateKey) SimulatorOptionFunc {
	return func(s *Simulator) {
		s.meterKey = key
	}
}

func NewSimulator(opts ...SimulatorOptionFunc) (*Simulator, error) {
	s := &Simulator{
		scenario: DefaultScenario(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	if err := s.scenario.Validate(); err != nil {
		return nil, err
	}
	if s.meterKey == nil {
		key, err := crypto.GenerateKey()
		if err != nil {
			return nil, fmt.Errorf("generate meter key: %w", err)
		}
		s.meterKey = key
	}
	network := s.scenario.Network
	s.admin = types.ComponentAddress(network, "admin")
	s.treasury = types.ComponentAddress(network, "treasury")
	for _, d := range s.scenario.Departments {
		s.departments = append(s.departments, types.ComponentAddress(network, "department/"+d.Name))
	}
	return s, nil
}

// Simulate runs DefaultScenario, or the one given with WithScenario
func Simulate(ctx context.Context, opts ...SimulatorOptionFunc) (*Report, error) {
	s, err := NewSimulator(opts...)
	if err != nil {
		return nil, err
	}
	return s.Run(ctx)
}

// Run starts a node, plays the scenario and stops the node again
func (s *Simulator) Run(ctx context.Context) (*Report, error) {
	if err := s.start(ctx); err != nil {
		return nil, err
	}
	report, err := s.play(ctx)
	if stopErr := s.node.Stop(); stopErr != nil {
		err = errors.Join(err, fmt.Errorf("stop node: %w", stopErr))
	}
	if err != nil {
		return nil, err
	}
	return report, nil
}

func (s *Simulator) start(ctx context.Context) error {
	genesis := s.scenario.MonthStart()
	rec, err := deployment.Derive(s.scenario.Network, s.admin, s.treasury, genesis)
	if err != nil {
		return err
	}
	if err := rec.AddMeterSigner(crypto.PubkeyToAddress(s.meterKey.PublicKey)); err != nil {
		return err
	}
	s.clock = chain.NewManualClock(genesis)
	opts := []enledger.ConfigOptionFunc{
		enledger.WithLogger(s.logger),
		enledger.WithDeployment(rec),
		enledger.WithClock(s.clock, genesis),
		enledger.WithDatabasePath(s.dataDir),
	}
	if s.promRegistry != nil {
		opts = append(opts, enledger.WithPrometheusRegistry(s.promRegistry))
	}
	n, err := enledger.New(enledger.NewConfig(opts...))
	if err != nil {
		return err
	}
	if err := n.Start(ctx); err != nil {
		return fmt.Errorf("start node: %w", err)
	}
	s.node = n
	return nil
}

func (s *Simulator) play(ctx context.Context) (*Report, error) {
	sc := s.scenario
	report := &Report{
		Network: sc.Network,
		Month:   sc.Month,
	}
	for i, d := range sc.Departments {
		pack, err := s.buyPack(ctx, s.departments[i], d.PackKWh)
		if err != nil {
			return nil, fmt.Errorf("department %s: %w", d.Name, err)
		}
		report.Departments = append(report.Departments, DepartmentReport{
			Name:     d.Name,
			Address:  s.departments[i],
			PackKWh:  d.PackKWh,
			PackCost: pack,
		})
	}
	for i, d := range sc.Departments {
		if err := s.recordUsage(ctx, s.departments[i], d.UsedKWh, i); err != nil {
			return nil, fmt.Errorf("department %s: %w", d.Name, err)
		}
	}
	for i, d := range sc.Departments {
		reward, err := chain.Call(ctx, s.node.Executor(), s.departments[i], "oracle.claim_savings",
			func(tx *chain.Tx) (*uint256.Int, error) {
				return s.node.Oracle().ClaimSavings(tx, sc.Month)
			})
		if err != nil {
			return nil, fmt.Errorf("department %s: %w", d.Name, err)
		}
		report.Departments[i].UsedKWh = d.UsedKWh
		report.Departments[i].SavedKWh = d.PackKWh - min(d.PackKWh, d.UsedKWh)
		report.Departments[i].Reward = reward
	}
	s.logger.Info("savings settled", "month", sc.Month)

	saver := sc.saver()
	counterparty := (saver + 1) % len(s.departments)
	var err error
	if report.Loan, err = s.borrow(ctx, s.departments[saver]); err != nil {
		return nil, err
	}
	if report.Trade, err = s.trade(ctx, s.departments[saver], s.departments[counterparty]); err != nil {
		return nil, err
	}
	if report.Governance, err = s.govern(ctx, s.departments[counterparty]); err != nil {
		return nil, err
	}
	if report.Gateway, err = s.fiatBuy(ctx, s.departments[counterparty]); err != nil {
		return nil, err
	}

	err = s.node.View(func(chain.Snapshot) error {
		for i := range report.Departments {
			addr := report.Departments[i].Address
			report.Departments[i].CreditScore = s.node.Oracle().CreditScore(addr)
			report.Departments[i].Balance = s.node.Ledger().BalanceOf(addr)
		}
		report.TotalSupply = s.node.Ledger().TotalSupply()
		return nil
	})
	if err != nil {
		return nil, err
	}
	report.Height = s.node.Executor().Height()
	s.logger.Info(
		"simulation finished",
		"height", report.Height,
		"supply", fixed.Format(report.TotalSupply),
	)
	return report, nil
}

// buyPack funds the department from the treasury and buys the pack at the
// current curve price
func (s *Simulator) buyPack(ctx context.Context, dept types.Address, kWh uint64) (*uint256.Int, error) {
	n := s.node
	err := n.Exec(ctx, s.treasury, "ledger.transfer", func(tx *chain.Tx) error {
		return n.Ledger().Transfer(tx, dept, fixed.Units(s.scenario.FundEnTo))
	})
	if err != nil {
		return nil, fmt.Errorf("fund: %w", err)
	}
	return chain.Call(ctx, n.Executor(), dept, "auction.buy_pack", func(tx *chain.Tx) (*uint256.Int, error) {
		cost, err := n.Auction().QuoteEnTo(kWh)
		if err != nil {
			return nil, err
		}
		if err := n.Ledger().Approve(tx, n.Auction().Address(), cost); err != nil {
			return nil, err
		}
		if _, err := n.Auction().BuyPack(tx, s.scenario.Month, kWh); err != nil {
			return nil, err
		}
		return cost, nil
	})
}

// recordUsage has the meter sign a reading and the admin, who holds ORACLE,
// submit it
func (s *Simulator) recordUsage(ctx context.Context, dept types.Address, kWh uint64, seq int) error {
	n := s.node
	var nonce [32]byte
	copy(nonce[:], crypto.Keccak256(
		[]byte(s.scenario.Network),
		dept.Bytes(),
		[]byte(fmt.Sprintf("%d/%d", s.scenario.Month, seq)),
	))
	sig, err := oracle.SignUsage(s.meterKey, n.Oracle().Address(), dept, s.scenario.Month, kWh, nonce)
	if err != nil {
		return err
	}
	return n.Exec(ctx, s.admin, "oracle.record_usage_signed", func(tx *chain.Tx) error {
		return n.Oracle().RecordUsageSigned(tx, dept, s.scenario.Month, kWh, nonce, sig)
	})
}

// borrow takes out a loan against the saver's new credit score, lets it
// accrue, then repays it and withdraws the collateral
func (s *Simulator) borrow(ctx context.Context, borrower types.Address) (LoanReport, error) {
	n := s.node
	sc := s.scenario.Loan
	principal := fixed.Units(sc.Principal)
	collateral := fixed.Units(sc.Collateral)
	opened, err := chain.Call(ctx, n.Executor(), borrower, "loan.request", func(tx *chain.Tx) (loan.Loan, error) {
		if err := n.Ledger().Approve(tx, n.Loan().Address(), fixed.Max()); err != nil {
			return loan.Loan{}, err
		}
		return n.Loan().RequestLoan(tx, principal, collateral)
	})
	if err != nil {
		return LoanReport{}, fmt.Errorf("request loan: %w", err)
	}
	s.clock.Advance(time.Duration(sc.Days) * 24 * time.Hour)
	debt, err := chain.Call(ctx, n.Executor(), borrower, "loan.repay", func(tx *chain.Tx) (*uint256.Int, error) {
		debt := n.Loan().Debt(borrower, tx.Time())
		if _, err := n.Loan().Repay(tx, debt); err != nil {
			return nil, err
		}
		return debt, nil
	})
	if err != nil {
		return LoanReport{}, fmt.Errorf("repay loan: %w", err)
	}
	err = n.Exec(ctx, borrower, "loan.withdraw_collateral", func(tx *chain.Tx) error {
		return n.Loan().WithdrawCollateral(tx, collateral)
	})
	if err != nil {
		return LoanReport{}, fmt.Errorf("withdraw collateral: %w", err)
	}
	interest, err := fixed.Sub(debt, principal)
	if err != nil {
		return LoanReport{}, err
	}
	s.logger.Info("loan repaid", "borrower", borrower.Hex(), "interest", fixed.Format(interest))
	return LoanReport{
		Borrower:  borrower,
		Principal: principal,
		RateBps:   opened.RateBps,
		Interest:  interest,
	}, nil
}

// trade seeds the pool, then the seller lists surplus at the minimum price
// and the buyer takes part of it
func (s *Simulator) trade(ctx context.Context, seller, buyer types.Address) (TradeReport, error) {
	n := s.node
	sc := s.scenario.Market
	err := n.Exec(ctx, s.admin, "trade.seed_amm", func(tx *chain.Tx) error {
		return n.Trade().SeedAmm(tx, fixed.Units(sc.SeedEnTo), sc.SeedKWh)
	})
	if err != nil {
		return TradeReport{}, fmt.Errorf("seed amm: %w", err)
	}
	order, err := chain.Call(ctx, n.Executor(), seller, "trade.list_surplus", func(tx *chain.Tx) (trade.Order, error) {
		price, err := n.Trade().MinListingPrice18()
		if err != nil {
			return trade.Order{}, err
		}
		return n.Trade().ListSurplus(tx, sc.ListKWh, price)
	})
	if err != nil {
		return TradeReport{}, fmt.Errorf("list surplus: %w", err)
	}
	paid, err := chain.Call(ctx, n.Executor(), buyer, "trade.buy_from_order", func(tx *chain.Tx) (*uint256.Int, error) {
		if err := n.Ledger().Approve(tx, n.Trade().Address(), fixed.Max()); err != nil {
			return nil, err
		}
		return n.Trade().BuyFromOrder(tx, order.ID, sc.BuyKWh, nil)
	})
	if err != nil {
		return TradeReport{}, fmt.Errorf("buy from order: %w", err)
	}
	return TradeReport{
		OrderID:  order.ID,
		Price18:  order.Price18,
		KWh:      sc.BuyKWh,
		EnToPaid: paid,
	}, nil
}

// govern stakes, proposes a new trade fee, votes it through and executes it
// after the timelock
func (s *Simulator) govern(ctx context.Context, voter types.Address) (GovernanceReport, error) {
	n := s.node
	gov := n.Governance()
	sc := s.scenario.Market
	var report GovernanceReport
	err := n.View(func(chain.Snapshot) error {
		report.FeeBpsBefore = n.Trade().FeeBps()
		return nil
	})
	if err != nil {
		return report, err
	}
	err = n.Exec(ctx, voter, "governance.stake", func(tx *chain.Tx) error {
		if err := n.Ledger().Approve(tx, gov.Address(), fixed.Units(sc.StakeEnTo)); err != nil {
			return err
		}
		return gov.Stake(tx, fixed.Units(sc.StakeEnTo))
	})
	if err != nil {
		return report, fmt.Errorf("stake: %w", err)
	}
	proposal, err := chain.Call(ctx, n.Executor(), voter, "governance.propose",
		func(tx *chain.Tx) (governance.Proposal, error) {
			return gov.Propose(
				tx,
				governance.ParamKey(governance.ParamTradeFeeBps),
				uint256.NewInt(sc.NewFeeBps),
				"adjust order book fee",
			)
		})
	if err != nil {
		return report, fmt.Errorf("propose: %w", err)
	}
	report.ProposalID = proposal.ID
	settings := gov.Settings()
	if settings.VotingDelay > 1 {
		if _, err := n.Executor().Mine(ctx, settings.VotingDelay-1); err != nil {
			return report, err
		}
	}
	err = n.Exec(ctx, voter, "governance.cast_vote", func(tx *chain.Tx) error {
		_, err := gov.CastVote(tx, proposal.ID, governance.VoteFor)
		return err
	})
	if err != nil {
		return report, fmt.Errorf("vote: %w", err)
	}
	if _, err := n.Executor().Mine(ctx, settings.VotingPeriod); err != nil {
		return report, err
	}
	err = n.Exec(ctx, voter, "governance.queue", func(tx *chain.Tx) error {
		_, err := gov.Queue(tx, proposal.ID)
		return err
	})
	if err != nil {
		return report, fmt.Errorf("queue: %w", err)
	}
	s.clock.Advance(settings.ExecutionDelay + time.Second)
	err = n.Exec(ctx, s.admin, "governance.execute", func(tx *chain.Tx) error {
		applied, err := gov.Execute(tx, proposal.ID)
		if err != nil {
			return err
		}
		if !applied {
			return fmt.Errorf("proposal %d stored without a setter", proposal.ID)
		}
		return nil
	})
	if err != nil {
		return report, fmt.Errorf("execute: %w", err)
	}
	err = n.View(func(chain.Snapshot) error {
		report.FeeBpsAfter = n.Trade().FeeBps()
		return nil
	})
	return report, err
}

// fiatBuy walks a gateway purchase from initiation to settlement
func (s *Simulator) fiatBuy(ctx context.Context, user types.Address) (GatewayReport, error) {
	n := s.node
	fiat := fixed.Units(s.scenario.Market.GatewayBuy)
	req, err := chain.Call(ctx, n.Executor(), user, "gateway.initiate_buy", func(tx *chain.Tx) (gateway.Request, error) {
		return n.Gateway().InitiateBuy(tx, fiat)
	})
	if err != nil {
		return GatewayReport{}, fmt.Errorf("initiate buy: %w", err)
	}
	settled, err := chain.Call(ctx, n.Executor(), s.admin, "gateway.confirm_fiat_deposit",
		func(tx *chain.Tx) (gateway.Request, error) {
			return n.Gateway().ConfirmFiatDeposit(tx, req.ID)
		})
	if err != nil {
		return GatewayReport{}, fmt.Errorf("confirm deposit: %w", err)
	}
	return GatewayReport{
		RequestID: settled.ID,
		FiatIn:    fiat,
		EnToOut:   settled.EnTo,
		Status:    string(settled.Status),
	}, nil
}
