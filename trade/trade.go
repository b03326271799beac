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

// Package trade is the secondary market for energy: a fixed-price order book
// for surplus kWh and a constant-product pool between EnTo and kWh.
package trade

import (
	"errors"
	"io"
	"log/slog"

	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/blinklabs-io/enledger/access"
	"github.com/blinklabs-io/enledger/chain"
	"github.com/blinklabs-io/enledger/fixed"
	"github.com/blinklabs-io/enledger/ledger"
	"github.com/blinklabs-io/enledger/types"
)

const (
	componentName = "trade"

	DefaultMinPremiumBps = 100
	DefaultFeeBps        = 30
	MaxFeeBps            = 1_000
)

var (
	ErrPriceUnavailable = errors.New("reference price unavailable")
	ErrInvalidParams    = errors.New("invalid trade parameters")
	ErrZeroAmount       = errors.New("amount must be positive")
)

// PriceSource supplies the reference price before the pool is seeded. The
// auction satisfies it.
type PriceSource interface {
	PreviewCurrentUnitPrice18() *uint256.Int
}

type TradeConfig struct {
	Logger       *slog.Logger
	PromRegistry prometheus.Registerer
	Ledger       *ledger.Ledger
	PriceSource  PriceSource
	// Address holds pool reserves and spends allowances
	Address       types.Address
	Admin         types.Address
	MinPremiumBps uint64
	// FeeBps of every swap input stays in the pool
	FeeBps uint64
	// RequireKWhBacking limits AMM kWh sales to the seller's net bought kWh
	RequireKWhBacking bool
}

// EnergyPosition is the kWh an account moved through the market
type EnergyPosition struct {
	KWhBought uint64
	KWhSold   uint64
}

// Backing is the kWh bought here and not yet sold again
func (p EnergyPosition) Backing() uint64 {
	if p.KWhSold >= p.KWhBought {
		return 0
	}
	return p.KWhBought - p.KWhSold
}

type Trade struct {
	config        TradeConfig
	logger        *slog.Logger
	metrics       *tradeMetrics
	access        *access.Control
	ledger        *ledger.Ledger
	prices        PriceSource
	orders        map[uint64]Order
	nextOrderID   uint64
	positions     map[types.Address]EnergyPosition
	reserveEnTo   *uint256.Int
	reserveKWh    uint64
	seeded        bool
	minPremiumBps uint64
	feeBps        uint64
}

func New(cfg TradeConfig) (*Trade, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	if cfg.Ledger == nil {
		return nil, errors.New("trade requires a ledger")
	}
	if cfg.Address == types.ZeroAddress || cfg.Admin == types.ZeroAddress {
		return nil, errors.New("trade address and admin must be set")
	}
	if cfg.MinPremiumBps == 0 {
		cfg.MinPremiumBps = DefaultMinPremiumBps
	}
	if cfg.FeeBps == 0 {
		cfg.FeeBps = DefaultFeeBps
	}
	if err := validateParams(cfg.MinPremiumBps, cfg.FeeBps); err != nil {
		return nil, err
	}
	t := &Trade{
		config:        cfg,
		logger:        cfg.Logger.With("component", componentName),
		access:        access.NewControl(componentName),
		ledger:        cfg.Ledger,
		prices:        cfg.PriceSource,
		orders:        make(map[uint64]Order),
		nextOrderID:   1,
		positions:     make(map[types.Address]EnergyPosition),
		reserveEnTo:   fixed.Zero(),
		minPremiumBps: cfg.MinPremiumBps,
		feeBps:        cfg.FeeBps,
	}
	t.access.Bootstrap(types.RoleDefaultAdmin, cfg.Admin)
	if cfg.PromRegistry != nil {
		t.metrics = &tradeMetrics{}
		t.metrics.init(cfg.PromRegistry)
	}
	return t, nil
}

func (t *Trade) Address() types.Address {
	return t.config.Address
}

func (t *Trade) Access() *access.Control {
	return t.access
}

func (t *Trade) MinPremiumBps() uint64 {
	return t.minPremiumBps
}

func (t *Trade) FeeBps() uint64 {
	return t.feeBps
}

func (t *Trade) RequireKWhBacking() bool {
	return t.config.RequireKWhBacking
}

// Position returns the kWh an account bought and sold here
func (t *Trade) Position(account types.Address) EnergyPosition {
	return t.positions[account]
}

// PreviewRefPrice18 is the pool spot price in kWh per whole EnTo once seeded,
// otherwise the auction's current price
func (t *Trade) PreviewRefPrice18() (*uint256.Int, error) {
	if t.seeded {
		if t.reserveEnTo.IsZero() {
			return nil, ErrPriceUnavailable
		}
		price, err := fixed.MulDiv(uint256.NewInt(t.reserveKWh), fixed.One(), t.reserveEnTo)
		if err != nil {
			return nil, err
		}
		// Under one kWh per whole EnTo rounds down to nothing
		if price.IsZero() {
			return nil, ErrPriceUnavailable
		}
		return price, nil
	}
	if t.prices == nil {
		return nil, ErrPriceUnavailable
	}
	price := t.prices.PreviewCurrentUnitPrice18()
	if price == nil || price.IsZero() {
		return nil, ErrPriceUnavailable
	}
	return price, nil
}

// MinListingPrice18 is the lowest price ListSurplus accepts right now
func (t *Trade) MinListingPrice18() (*uint256.Int, error) {
	ref, err := t.PreviewRefPrice18()
	if err != nil {
		return nil, err
	}
	return fixed.MulDivUp(
		ref,
		uint256.NewInt(fixed.BpsDenominator+t.minPremiumBps),
		uint256.NewInt(fixed.BpsDenominator),
	)
}

// SetMinPremiumBps changes the listing premium over the reference price (admin)
func (t *Trade) SetMinPremiumBps(tx *chain.Tx, minPremiumBps uint64) error {
	return t.setParams(tx, "trade.set_min_premium_bps", minPremiumBps, t.feeBps)
}

// SetFeeBps changes the pool fee (admin)
func (t *Trade) SetFeeBps(tx *chain.Tx, feeBps uint64) error {
	return t.setParams(tx, "trade.set_fee_bps", t.minPremiumBps, feeBps)
}

func (t *Trade) GrantRole(tx *chain.Tx, role types.Role, account types.Address) error {
	return t.access.GrantRole(tx, role, account)
}

func (t *Trade) RevokeRole(tx *chain.Tx, role types.Role, account types.Address) error {
	return t.access.RevokeRole(tx, role, account)
}

func (t *Trade) setParams(tx *chain.Tx, op string, minPremiumBps uint64, feeBps uint64) error {
	if err := t.access.Require(op, types.RoleDefaultAdmin, tx.Sender()); err != nil {
		return err
	}
	if err := validateParams(minPremiumBps, feeBps); err != nil {
		return types.NewError(types.KindValidation, op, err)
	}
	prevPremium, prevFee := t.minPremiumBps, t.feeBps
	t.minPremiumBps = minPremiumBps
	t.feeBps = feeBps
	tx.OnRevert(func() {
		t.minPremiumBps = prevPremium
		t.feeBps = prevFee
	})
	tx.Emit(ParamsUpdatedEventType, ParamsUpdatedEvent{
		MinPremiumBps: minPremiumBps,
		FeeBps:        feeBps,
	})
	return nil
}

func validateParams(minPremiumBps uint64, feeBps uint64) error {
	if minPremiumBps > fixed.BpsDenominator {
		return errors.Join(ErrInvalidParams, errors.New("min premium above 10000 bps"))
	}
	if feeBps == 0 {
		return errors.Join(ErrInvalidParams, errors.New("fee must be positive"))
	}
	if feeBps > MaxFeeBps {
		return errors.Join(ErrInvalidParams, errors.New("fee above 1000 bps"))
	}
	return nil
}

// addPosition records kWh moving from seller to buyer. Either side may be the
// zero address for the pool.
func (t *Trade) addPosition(tx *chain.Tx, buyer types.Address, seller types.Address, kWh uint64) {
	for _, side := range []struct {
		account types.Address
		bought  bool
	}{
		{buyer, true},
		{seller, false},
	} {
		if side.account == types.ZeroAddress {
			continue
		}
		account := side.account
		prev, existed := t.positions[account]
		next := prev
		if side.bought {
			next.KWhBought += kWh
		} else {
			next.KWhSold += kWh
		}
		t.positions[account] = next
		tx.OnRevert(func() {
			if existed {
				t.positions[account] = prev
			} else {
				delete(t.positions, account)
			}
		})
	}
}

func (t *Trade) observe(tx *chain.Tx) {
	if t.metrics == nil {
		return
	}
	tx.OnCommit(func() {
		var active int
		for _, o := range t.orders {
			if o.Active {
				active++
			}
		}
		t.metrics.activeOrders.Set(float64(active))
		t.metrics.reserveEnTo.Set(fixed.Float64(t.reserveEnTo))
		t.metrics.reserveKWh.Set(float64(t.reserveKWh))
	})
}
