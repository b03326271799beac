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

// Package auction sells monthly energy packs priced by a bonding curve over
// the EnTo supply.
package auction

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

const componentName = "auction"

var (
	ErrInvalidMonth     = errors.New("invalid month, expected YYYYMM")
	ErrZeroKWh          = errors.New("kWh must be positive")
	ErrPackExists       = errors.New("pack already purchased for this month")
	ErrInvalidCurve     = errors.New("invalid curve parameters")
	ErrPriceUnavailable = errors.New("unit price unavailable")
)

type AuctionConfig struct {
	Logger       *slog.Logger
	PromRegistry prometheus.Registerer
	Ledger       *ledger.Ledger
	// GenesisSupply is the supply the curve measures growth against
	GenesisSupply *uint256.Int
	// Address is the auction's own identity, which buyers approve as spender
	Address     types.Address
	Admin       types.Address
	BasePrice18 uint64
	SlopeBps    uint64
	// OnePackPerMonth rejects a second purchase by a department in a month
	OnePackPerMonth bool
}

// Pack is a department's purchase for a month. With repeat purchases allowed,
// UnitPrice18 is the EnTo-weighted average price.
type Pack struct {
	EnToPaid     *uint256.Int
	UnitPrice18  *uint256.Int
	Department   types.Address
	KWhPurchased uint64
	Month        uint32
	Purchases    uint32
}

// MonthStats aggregates every pack bought for a month
type MonthStats struct {
	TotalEnTo      *uint256.Int
	AvgUnitPrice18 *uint256.Int
	TotalKWh       uint64
	Month          uint32
	Purchases      uint32
}

type packKey struct {
	month      uint32
	department types.Address
}

type Auction struct {
	config          AuctionConfig
	logger          *slog.Logger
	metrics         *auctionMetrics
	access          *access.Control
	ledger          *ledger.Ledger
	packs           map[packKey]Pack
	months          map[uint32]MonthStats
	totalEnTo       *uint256.Int
	totalKWh        uint64
	basePrice18     uint64
	slopeBps        uint64
	onePackPerMonth bool
}

func New(cfg AuctionConfig) (*Auction, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	if cfg.Ledger == nil {
		return nil, errors.New("auction requires a ledger")
	}
	if cfg.Address == types.ZeroAddress || cfg.Admin == types.ZeroAddress {
		return nil, errors.New("auction address and admin must be set")
	}
	if cfg.BasePrice18 == 0 {
		cfg.BasePrice18 = DefaultBasePrice18
	}
	if cfg.SlopeBps == 0 {
		cfg.SlopeBps = DefaultSlopeBps
	}
	a := &Auction{
		config:          cfg,
		logger:          cfg.Logger.With("component", componentName),
		access:          access.NewControl(componentName),
		ledger:          cfg.Ledger,
		packs:           make(map[packKey]Pack),
		months:          make(map[uint32]MonthStats),
		totalEnTo:       fixed.Zero(),
		basePrice18:     cfg.BasePrice18,
		slopeBps:        cfg.SlopeBps,
		onePackPerMonth: cfg.OnePackPerMonth,
	}
	a.access.Bootstrap(types.RoleDefaultAdmin, cfg.Admin)
	if cfg.PromRegistry != nil {
		a.metrics = &auctionMetrics{}
		a.metrics.init(cfg.PromRegistry)
	}
	return a, nil
}

// Address is the auction's escrow identity
func (a *Auction) Address() types.Address {
	return a.config.Address
}

func (a *Auction) Access() *access.Control {
	return a.access
}

func (a *Auction) GenesisSupply() *uint256.Int {
	return fixed.Clone(a.config.GenesisSupply)
}

func (a *Auction) OnePackPerMonth() bool {
	return a.onePackPerMonth
}

// CurveParams returns the base price and slope
func (a *Auction) CurveParams() (uint64, uint64) {
	return a.basePrice18, a.slopeBps
}

// PreviewCurrentUnitPrice18 returns the kWh per whole EnTo a purchase made
// now would get
func (a *Auction) PreviewCurrentUnitPrice18() *uint256.Int {
	return CurvePrice18(
		a.ledger.TotalSupply(),
		a.config.GenesisSupply,
		a.basePrice18,
		a.slopeBps,
	)
}

// QuoteEnTo returns what BuyPack would charge for kWh right now
func (a *Auction) QuoteEnTo(kWh uint64) (*uint256.Int, error) {
	return EnToForKWh(kWh, a.PreviewCurrentUnitPrice18())
}

// Pack returns the pack a department bought for a month
func (a *Auction) Pack(month uint32, department types.Address) (Pack, bool) {
	pack, ok := a.packs[packKey{month: month, department: department}]
	if !ok {
		return Pack{}, false
	}
	return pack.clone(), true
}

// MonthStats returns the aggregate for a month, zero-valued if nothing was
// bought
func (a *Auction) MonthStats(month uint32) MonthStats {
	stats, ok := a.months[month]
	if !ok {
		return MonthStats{
			Month:          month,
			TotalEnTo:      fixed.Zero(),
			AvgUnitPrice18: fixed.Zero(),
		}
	}
	return stats.clone()
}

// TotalEnToCollected is the sum paid over all purchases
func (a *Auction) TotalEnToCollected() *uint256.Int {
	return a.totalEnTo.Clone()
}

// TotalKWhSold is the sum of kWh over all purchases
func (a *Auction) TotalKWhSold() uint64 {
	return a.totalKWh
}

// BuyPack charges the sender for kWh at the current unit price and records
// the purchase. The sender must have approved the auction as spender.
func (a *Auction) BuyPack(tx *chain.Tx, month uint32, kWh uint64) (Pack, error) {
	const op = "auction.buy_pack"
	buyer := tx.Sender()
	if !ValidMonth(month) {
		return Pack{}, types.NewError(types.KindValidation, op, ErrInvalidMonth)
	}
	if kWh == 0 {
		return Pack{}, types.NewError(types.KindValidation, op, ErrZeroKWh)
	}
	key := packKey{month: month, department: buyer}
	prevPack, exists := a.packs[key]
	if exists && a.onePackPerMonth {
		return Pack{}, types.NewError(types.KindState, op, ErrPackExists)
	}
	unitPrice18 := a.PreviewCurrentUnitPrice18()
	enToRequired, err := EnToForKWh(kWh, unitPrice18)
	if err != nil {
		return Pack{}, types.NewError(types.KindValidation, op, err)
	}
	if enToRequired.IsZero() {
		return Pack{}, types.Errorf(types.KindValidation, op, "purchase of %d kWh rounds to zero EnTo", kWh)
	}
	// Pull payment into the treasury with the auction as spender
	if err := a.ledger.TransferFrom(
		tx.As(a.config.Address),
		buyer,
		a.ledger.Treasury(),
		enToRequired,
	); err != nil {
		return Pack{}, err
	}

	pack := Pack{
		Month:        month,
		Department:   buyer,
		KWhPurchased: kWh,
		EnToPaid:     enToRequired,
		UnitPrice18:  unitPrice18,
		Purchases:    1,
	}
	if exists {
		if pack, err = accumulatePack(prevPack, kWh, enToRequired); err != nil {
			return Pack{}, types.NewError(types.KindValidation, op, err)
		}
	}
	stats, err := a.accumulateStats(month, kWh, enToRequired)
	if err != nil {
		return Pack{}, types.NewError(types.KindValidation, op, err)
	}
	totalEnTo, err := fixed.Add(a.totalEnTo, enToRequired)
	if err != nil {
		return Pack{}, types.NewError(types.KindValidation, op, err)
	}
	if a.totalKWh+kWh < a.totalKWh {
		return Pack{}, types.NewError(types.KindValidation, op, fixed.ErrOverflow)
	}

	prevStats, statsExisted := a.months[month]
	prevTotalEnTo, prevTotalKWh := a.totalEnTo, a.totalKWh
	a.packs[key] = pack
	a.months[month] = stats
	a.totalEnTo = totalEnTo
	a.totalKWh += kWh
	tx.OnRevert(func() {
		if exists {
			a.packs[key] = prevPack
		} else {
			delete(a.packs, key)
		}
		if statsExisted {
			a.months[month] = prevStats
		} else {
			delete(a.months, month)
		}
		a.totalEnTo = prevTotalEnTo
		a.totalKWh = prevTotalKWh
	})
	tx.Emit(PackPurchasedEventType, PackPurchasedEvent{
		Month:       month,
		Department:  buyer,
		KWh:         kWh,
		EnToPaid:    enToRequired.Clone(),
		UnitPrice18: unitPrice18.Clone(),
	})
	if a.metrics != nil {
		tx.OnCommit(func() {
			a.metrics.packsPurchased.Inc()
			a.metrics.kWhSold.Add(float64(kWh))
			a.metrics.unitPrice.Set(float64(a.PreviewCurrentUnitPrice18().Uint64()))
		})
	}
	return pack.clone(), nil
}

// SetOnePackPerMonth toggles the one-purchase-per-month rule (admin)
func (a *Auction) SetOnePackPerMonth(tx *chain.Tx, enabled bool) error {
	const op = "auction.set_one_pack_per_month"
	if err := a.access.Require(op, types.RoleDefaultAdmin, tx.Sender()); err != nil {
		return err
	}
	prev := a.onePackPerMonth
	a.onePackPerMonth = enabled
	tx.OnRevert(func() { a.onePackPerMonth = prev })
	tx.Emit(ConfigUpdatedEventType, ConfigUpdatedEvent{
		OnePackPerMonth: enabled,
		BasePrice18:     a.basePrice18,
		SlopeBps:        a.slopeBps,
	})
	return nil
}

// SetCurveParams changes the base price and slope (admin)
func (a *Auction) SetCurveParams(tx *chain.Tx, basePrice18 uint64, slopeBps uint64) error {
	const op = "auction.set_curve_params"
	if err := a.access.Require(op, types.RoleDefaultAdmin, tx.Sender()); err != nil {
		return err
	}
	if basePrice18 == 0 || basePrice18 > MaxUnitPrice18 {
		return types.NewError(types.KindValidation, op, ErrInvalidCurve)
	}
	prevBase, prevSlope := a.basePrice18, a.slopeBps
	a.basePrice18 = basePrice18
	a.slopeBps = slopeBps
	tx.OnRevert(func() {
		a.basePrice18 = prevBase
		a.slopeBps = prevSlope
	})
	tx.Emit(ConfigUpdatedEventType, ConfigUpdatedEvent{
		OnePackPerMonth: a.onePackPerMonth,
		BasePrice18:     basePrice18,
		SlopeBps:        slopeBps,
	})
	return nil
}

// SetSlopeBps changes only the slope (admin)
func (a *Auction) SetSlopeBps(tx *chain.Tx, slopeBps uint64) error {
	return a.SetCurveParams(tx, a.basePrice18, slopeBps)
}

func (a *Auction) GrantRole(tx *chain.Tx, role types.Role, account types.Address) error {
	return a.access.GrantRole(tx, role, account)
}

func (a *Auction) RevokeRole(tx *chain.Tx, role types.Role, account types.Address) error {
	return a.access.RevokeRole(tx, role, account)
}

func (a *Auction) accumulateStats(month uint32, kWh uint64, enTo *uint256.Int) (MonthStats, error) {
	stats, ok := a.months[month]
	if !ok {
		stats = MonthStats{Month: month, TotalEnTo: fixed.Zero()}
	}
	if stats.TotalKWh+kWh < stats.TotalKWh {
		return MonthStats{}, fixed.ErrOverflow
	}
	totalEnTo, err := fixed.Add(stats.TotalEnTo, enTo)
	if err != nil {
		return MonthStats{}, err
	}
	avg, err := AveragePrice18(stats.TotalKWh+kWh, totalEnTo)
	if err != nil {
		return MonthStats{}, err
	}
	return MonthStats{
		Month:          month,
		TotalKWh:       stats.TotalKWh + kWh,
		TotalEnTo:      totalEnTo,
		AvgUnitPrice18: avg,
		Purchases:      stats.Purchases + 1,
	}, nil
}

func accumulatePack(prev Pack, kWh uint64, enTo *uint256.Int) (Pack, error) {
	if prev.KWhPurchased+kWh < prev.KWhPurchased {
		return Pack{}, fixed.ErrOverflow
	}
	totalEnTo, err := fixed.Add(prev.EnToPaid, enTo)
	if err != nil {
		return Pack{}, err
	}
	avg, err := AveragePrice18(prev.KWhPurchased+kWh, totalEnTo)
	if err != nil {
		return Pack{}, err
	}
	return Pack{
		Month:        prev.Month,
		Department:   prev.Department,
		KWhPurchased: prev.KWhPurchased + kWh,
		EnToPaid:     totalEnTo,
		UnitPrice18:  avg,
		Purchases:    prev.Purchases + 1,
	}, nil
}

// AveragePrice18 is the EnTo-weighted mean price of a set of purchases,
// totalKWh × 10^18 / totalEnTo
func AveragePrice18(totalKWh uint64, totalEnTo *uint256.Int) (*uint256.Int, error) {
	if totalEnTo.IsZero() {
		return fixed.Zero(), nil
	}
	return fixed.MulDiv(uint256.NewInt(totalKWh), fixed.One(), totalEnTo)
}

// ValidMonth accepts YYYYMM values with a month between 01 and 12
func ValidMonth(month uint32) bool {
	year, m := month/100, month%100
	return year >= 1970 && year <= 9999 && m >= 1 && m <= 12
}

func (p Pack) clone() Pack {
	p.EnToPaid = fixed.Clone(p.EnToPaid)
	p.UnitPrice18 = fixed.Clone(p.UnitPrice18)
	return p
}

func (s MonthStats) clone() MonthStats {
	s.TotalEnTo = fixed.Clone(s.TotalEnTo)
	s.AvgUnitPrice18 = fixed.Clone(s.AvgUnitPrice18)
	return s
}
