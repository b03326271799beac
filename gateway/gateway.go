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

// Package gateway settles fiat on-ramp and off-ramp requests against the
// treasury. Fiat moves off-ledger; settlement operators confirm it.
package gateway

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/blinklabs-io/enledger/access"
	"github.com/blinklabs-io/enledger/chain"
	"github.com/blinklabs-io/enledger/fixed"
	"github.com/blinklabs-io/enledger/ledger"
	"github.com/blinklabs-io/enledger/types"
)

const (
	componentName = "gateway"

	MaxSpreadBps = 2_000

	DefaultMaxSingleBuyFiat   = 1_000_000
	DefaultMaxSingleSellEnTo  = 500_000
	DefaultDailyRedeemCapEnTo = 1_000_000

	secondsPerDay = 24 * 60 * 60
)

var (
	ErrInvalidRate       = errors.New("market rate must be positive")
	ErrInvalidSpread     = errors.New("spread out of range")
	ErrInvalidLimits     = errors.New("limits must be positive")
	ErrZeroAmount        = errors.New("amount must be positive")
	ErrLimitExceeded     = errors.New("single request limit exceeded")
	ErrDailyCapExceeded  = errors.New("daily redeem cap exceeded")
	ErrZeroQuote         = errors.New("amount too small to quote")
	ErrRequestNotFound   = errors.New("request not found")
	ErrRequestNotPending = errors.New("request is not pending")
	ErrWrongSide         = errors.New("request is on the other side")
	ErrNotRequester      = errors.New("only the requester may cancel")
)

type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusSettled   Status = "settled"
	StatusRefunded  Status = "refunded"
	StatusCancelled Status = "cancelled"
)

// Limits bound single requests and daily redemptions. Fiat amounts use 18
// decimals like EnTo.
type Limits struct {
	MaxSingleBuyFiat   *uint256.Int
	MaxSingleSellEnTo  *uint256.Int
	DailyRedeemCapEnTo *uint256.Int
}

func DefaultLimits() Limits {
	return Limits{
		MaxSingleBuyFiat:   fixed.Units(DefaultMaxSingleBuyFiat),
		MaxSingleSellEnTo:  fixed.Units(DefaultMaxSingleSellEnTo),
		DailyRedeemCapEnTo: fixed.Units(DefaultDailyRedeemCapEnTo),
	}
}

func (l Limits) clone() Limits {
	return Limits{
		MaxSingleBuyFiat:   fixed.Clone(l.MaxSingleBuyFiat),
		MaxSingleSellEnTo:  fixed.Clone(l.MaxSingleSellEnTo),
		DailyRedeemCapEnTo: fixed.Clone(l.DailyRedeemCapEnTo),
	}
}

func (l Limits) validate() error {
	for _, v := range []*uint256.Int{l.MaxSingleBuyFiat, l.MaxSingleSellEnTo, l.DailyRedeemCapEnTo} {
		if v == nil || v.IsZero() {
			return ErrInvalidLimits
		}
	}
	return nil
}

// Request is a fiat conversion with its quote locked at initiation
type Request struct {
	Fiat      *uint256.Int
	EnTo      *uint256.Int
	Rate18    *uint256.Int
	CreatedAt time.Time
	ClosedAt  time.Time
	Side      Side
	Status    Status
	User      types.Address
	ID        uint64
}

func (r Request) clone() Request {
	r.Fiat = fixed.Clone(r.Fiat)
	r.EnTo = fixed.Clone(r.EnTo)
	r.Rate18 = fixed.Clone(r.Rate18)
	return r
}

type GatewayConfig struct {
	Logger       *slog.Logger
	PromRegistry prometheus.Registerer
	Ledger       *ledger.Ledger
	// MarketRate18 is EnTo per fiat unit, scaled by 1e18
	MarketRate18 *uint256.Int
	// Address escrows sell requests and spends the treasury allowance
	Address       types.Address
	Admin         types.Address
	BuySpreadBps  uint64
	SellSpreadBps uint64
	// Limits fields left nil take their defaults
	Limits Limits
}

type Gateway struct {
	config        GatewayConfig
	logger        *slog.Logger
	metrics       *gatewayMetrics
	access        *access.Control
	ledger        *ledger.Ledger
	marketRate18  *uint256.Int
	buySpreadBps  uint64
	sellSpreadBps uint64
	limits        Limits
	requests      map[uint64]Request
	lastRequestID uint64
	redeemed      map[uint64]*uint256.Int
	escrow        *uint256.Int
}

func New(cfg GatewayConfig) (*Gateway, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	if cfg.Ledger == nil {
		return nil, errors.New("gateway requires a ledger")
	}
	if cfg.Address == types.ZeroAddress || cfg.Admin == types.ZeroAddress {
		return nil, errors.New("gateway address and admin must be set")
	}
	if cfg.MarketRate18 == nil || cfg.MarketRate18.IsZero() {
		return nil, ErrInvalidRate
	}
	if err := validateSpreads(cfg.BuySpreadBps, cfg.SellSpreadBps); err != nil {
		return nil, err
	}
	limits := DefaultLimits()
	if cfg.Limits.MaxSingleBuyFiat != nil {
		limits.MaxSingleBuyFiat = cfg.Limits.MaxSingleBuyFiat.Clone()
	}
	if cfg.Limits.MaxSingleSellEnTo != nil {
		limits.MaxSingleSellEnTo = cfg.Limits.MaxSingleSellEnTo.Clone()
	}
	if cfg.Limits.DailyRedeemCapEnTo != nil {
		limits.DailyRedeemCapEnTo = cfg.Limits.DailyRedeemCapEnTo.Clone()
	}
	if err := limits.validate(); err != nil {
		return nil, err
	}
	g := &Gateway{
		config:        cfg,
		logger:        cfg.Logger.With("component", componentName),
		access:        access.NewControl(componentName),
		ledger:        cfg.Ledger,
		marketRate18:  cfg.MarketRate18.Clone(),
		buySpreadBps:  cfg.BuySpreadBps,
		sellSpreadBps: cfg.SellSpreadBps,
		limits:        limits,
		requests:      make(map[uint64]Request),
		redeemed:      make(map[uint64]*uint256.Int),
		escrow:        fixed.Zero(),
	}
	g.access.Bootstrap(types.RoleDefaultAdmin, cfg.Admin)
	if cfg.PromRegistry != nil {
		g.metrics = &gatewayMetrics{}
		g.metrics.init(cfg.PromRegistry)
		g.metrics.marketRate.Set(fixed.Float64(g.marketRate18))
	}
	return g, nil
}

func validateSpreads(buyBps, sellBps uint64) error {
	if buyBps > MaxSpreadBps || sellBps > MaxSpreadBps {
		return fmt.Errorf("%w: buy %d, sell %d, max %d bps", ErrInvalidSpread, buyBps, sellBps, MaxSpreadBps)
	}
	return nil
}

func (g *Gateway) Address() types.Address {
	return g.config.Address
}

func (g *Gateway) Access() *access.Control {
	return g.access
}

func (g *Gateway) MarketRate18() *uint256.Int {
	return g.marketRate18.Clone()
}

func (g *Gateway) Spreads() (buyBps uint64, sellBps uint64) {
	return g.buySpreadBps, g.sellSpreadBps
}

func (g *Gateway) Limits() Limits {
	return g.limits.clone()
}

func (g *Gateway) LastRequestID() uint64 {
	return g.lastRequestID
}

func (g *Gateway) Request(id uint64) (Request, bool) {
	r, ok := g.requests[id]
	if !ok {
		return Request{}, false
	}
	return r.clone(), true
}

// Escrow is the EnTo held for pending sells
func (g *Gateway) Escrow() *uint256.Int {
	return g.escrow.Clone()
}

// RedeemedOn returns the EnTo committed to sells on the UTC day containing at
func (g *Gateway) RedeemedOn(at time.Time) *uint256.Int {
	return fixed.Clone(g.redeemed[dayIndex(at)])
}

func dayIndex(at time.Time) uint64 {
	return uint64(at.Unix()) / secondsPerDay //nolint:gosec
}

// PreviewBuy quotes the EnTo paid for fiatIn. The buy spread lowers the
// applied rate.
func (g *Gateway) PreviewBuy(fiatIn *uint256.Int) (*uint256.Int, *uint256.Int, error) {
	rate, err := fixed.Bps(g.marketRate18, fixed.BpsDenominator-g.buySpreadBps)
	if err != nil {
		return nil, nil, err
	}
	out, err := fixed.MulDiv(fiatIn, rate, fixed.One())
	if err != nil {
		return nil, nil, err
	}
	return out, rate, nil
}

// PreviewSell quotes the fiat paid out for enToIn. The sell spread raises the
// applied rate, so each fiat unit costs more EnTo.
func (g *Gateway) PreviewSell(enToIn *uint256.Int) (*uint256.Int, *uint256.Int, error) {
	rate, err := fixed.MulDivUp(
		g.marketRate18,
		uint256.NewInt(fixed.BpsDenominator+g.sellSpreadBps),
		uint256.NewInt(fixed.BpsDenominator),
	)
	if err != nil {
		return nil, nil, err
	}
	out, err := fixed.MulDiv(enToIn, fixed.One(), rate)
	if err != nil {
		return nil, nil, err
	}
	return out, rate, nil
}

// SetMarketRate is open to price feeders and admins
func (g *Gateway) SetMarketRate(tx *chain.Tx, rate18 *uint256.Int) error {
	const op = "gateway.set_market_rate"
	sender := tx.Sender()
	if !g.access.HasRole(types.RoleDefaultAdmin, sender) {
		if err := g.access.Require(op, types.RolePriceFeeder, sender); err != nil {
			return err
		}
	}
	if rate18 == nil || rate18.IsZero() {
		return types.NewError(types.KindValidation, op, ErrInvalidRate)
	}
	prev := g.marketRate18
	g.marketRate18 = rate18.Clone()
	tx.OnRevert(func() { g.marketRate18 = prev })
	tx.Emit(MarketRateUpdatedEventType, MarketRateUpdatedEvent{
		OldRate18: prev.Clone(),
		NewRate18: rate18.Clone(),
		Sender:    sender,
	})
	if g.metrics != nil {
		tx.OnCommit(func() { g.metrics.marketRate.Set(fixed.Float64(g.marketRate18)) })
	}
	return nil
}

func (g *Gateway) SetSpreads(tx *chain.Tx, buyBps uint64, sellBps uint64) error {
	const op = "gateway.set_spreads"
	if err := g.access.Require(op, types.RoleDefaultAdmin, tx.Sender()); err != nil {
		return err
	}
	if err := validateSpreads(buyBps, sellBps); err != nil {
		return types.NewError(types.KindValidation, op, err)
	}
	prevBuy, prevSell := g.buySpreadBps, g.sellSpreadBps
	g.buySpreadBps, g.sellSpreadBps = buyBps, sellBps
	tx.OnRevert(func() { g.buySpreadBps, g.sellSpreadBps = prevBuy, prevSell })
	tx.Emit(SpreadsUpdatedEventType, SpreadsUpdatedEvent{BuySpreadBps: buyBps, SellSpreadBps: sellBps})
	return nil
}

func (g *Gateway) SetBuySpreadBps(tx *chain.Tx, bps uint64) error {
	return g.SetSpreads(tx, bps, g.sellSpreadBps)
}

func (g *Gateway) SetSellSpreadBps(tx *chain.Tx, bps uint64) error {
	return g.SetSpreads(tx, g.buySpreadBps, bps)
}

func (g *Gateway) SetLimits(tx *chain.Tx, limits Limits) error {
	const op = "gateway.set_limits"
	if err := g.access.Require(op, types.RoleDefaultAdmin, tx.Sender()); err != nil {
		return err
	}
	if err := limits.validate(); err != nil {
		return types.NewError(types.KindValidation, op, err)
	}
	prev := g.limits
	g.limits = limits.clone()
	tx.OnRevert(func() { g.limits = prev })
	tx.Emit(LimitsUpdatedEventType, LimitsUpdatedEvent{Limits: limits.clone()})
	return nil
}

// InitiateBuy records the sender's intent to pay fiatIn off-ledger. The EnTo
// quote is fixed now and paid on ConfirmFiatDeposit.
func (g *Gateway) InitiateBuy(tx *chain.Tx, fiatIn *uint256.Int) (Request, error) {
	const op = "gateway.initiate_buy"
	if fiatIn == nil || fiatIn.IsZero() {
		return Request{}, types.NewError(types.KindValidation, op, ErrZeroAmount)
	}
	if fiatIn.Gt(g.limits.MaxSingleBuyFiat) {
		return Request{}, types.Errorf(
			types.KindValidation,
			op,
			"%w: %s fiat > %s",
			ErrLimitExceeded,
			fixed.Format(fiatIn),
			fixed.Format(g.limits.MaxSingleBuyFiat),
		)
	}
	enToOut, rate, err := g.PreviewBuy(fiatIn)
	if err != nil {
		return Request{}, types.NewError(types.KindValidation, op, err)
	}
	if enToOut.IsZero() {
		return Request{}, types.NewError(types.KindValidation, op, ErrZeroQuote)
	}
	r := g.addRequest(tx, SideBuy, fiatIn, enToOut, rate)
	tx.Emit(BuyInitiatedEventType, g.requestEvent(tx, r))
	g.count(tx, SideBuy, "initiated")
	return r.clone(), nil
}

// ConfirmFiatDeposit pays a pending buy from the treasury once the fiat has
// arrived
func (g *Gateway) ConfirmFiatDeposit(tx *chain.Tx, id uint64) (Request, error) {
	const op = "gateway.confirm_fiat_deposit"
	if err := g.access.Require(op, types.RoleSettlement, tx.Sender()); err != nil {
		return Request{}, err
	}
	r, err := g.pending(op, id, SideBuy)
	if err != nil {
		return Request{}, err
	}
	if err := g.ledger.TransferFrom(tx.As(g.config.Address), g.ledger.Treasury(), r.User, r.EnTo); err != nil {
		return Request{}, err
	}
	closed := g.closeRequest(tx, r, StatusSettled)
	tx.Emit(BuySettledEventType, g.requestEvent(tx, closed))
	g.settled(tx, closed)
	return closed.clone(), nil
}

// InitiateSell escrows enToIn from the sender against a locked fiat quote
func (g *Gateway) InitiateSell(tx *chain.Tx, enToIn *uint256.Int) (Request, error) {
	const op = "gateway.initiate_sell"
	user := tx.Sender()
	if enToIn == nil || enToIn.IsZero() {
		return Request{}, types.NewError(types.KindValidation, op, ErrZeroAmount)
	}
	if enToIn.Gt(g.limits.MaxSingleSellEnTo) {
		return Request{}, types.Errorf(
			types.KindValidation,
			op,
			"%w: %s EnTo > %s",
			ErrLimitExceeded,
			fixed.Format(enToIn),
			fixed.Format(g.limits.MaxSingleSellEnTo),
		)
	}
	day := dayIndex(tx.Time())
	used := fixed.Clone(g.redeemed[day])
	total, err := fixed.Add(used, enToIn)
	if err != nil {
		return Request{}, types.NewError(types.KindValidation, op, err)
	}
	if total.Gt(g.limits.DailyRedeemCapEnTo) {
		return Request{}, types.Errorf(
			types.KindValidation,
			op,
			"%w: %s of %s used today",
			ErrDailyCapExceeded,
			fixed.Format(used),
			fixed.Format(g.limits.DailyRedeemCapEnTo),
		)
	}
	fiatOut, rate, err := g.PreviewSell(enToIn)
	if err != nil {
		return Request{}, types.NewError(types.KindValidation, op, err)
	}
	if fiatOut.IsZero() {
		return Request{}, types.NewError(types.KindValidation, op, ErrZeroQuote)
	}
	if err := g.ledger.TransferFrom(tx.As(g.config.Address), user, g.config.Address, enToIn); err != nil {
		return Request{}, err
	}
	prevUsed, hadUsed := g.redeemed[day]
	g.redeemed[day] = total
	tx.OnRevert(func() {
		if hadUsed {
			g.redeemed[day] = prevUsed
		} else {
			delete(g.redeemed, day)
		}
	})
	g.setEscrow(tx, new(uint256.Int).Add(g.escrow, enToIn))
	r := g.addRequest(tx, SideSell, fiatOut, enToIn, rate)
	tx.Emit(SellInitiatedEventType, g.requestEvent(tx, r))
	g.count(tx, SideSell, "initiated")
	return r.clone(), nil
}

// ConfirmFiatPayout moves a sell's escrow to the treasury once the fiat has
// been paid out
func (g *Gateway) ConfirmFiatPayout(tx *chain.Tx, id uint64) (Request, error) {
	return g.closeSell(tx, "gateway.confirm_fiat_payout", id, StatusSettled)
}

// RefundSell returns a sell's escrow to the user. The day's redeemed amount
// is not released.
func (g *Gateway) RefundSell(tx *chain.Tx, id uint64) (Request, error) {
	return g.closeSell(tx, "gateway.refund_sell", id, StatusRefunded)
}

// CancelRequest lets a user withdraw a buy that has not been settled
func (g *Gateway) CancelRequest(tx *chain.Tx, id uint64) (Request, error) {
	const op = "gateway.cancel_request"
	r, err := g.pending(op, id, SideBuy)
	if err != nil {
		return Request{}, err
	}
	if r.User != tx.Sender() {
		return Request{}, types.NewError(types.KindAuthorization, op, ErrNotRequester)
	}
	closed := g.closeRequest(tx, r, StatusCancelled)
	tx.Emit(RequestCancelledEventType, g.requestEvent(tx, closed))
	g.count(tx, SideBuy, string(StatusCancelled))
	return closed.clone(), nil
}

func (g *Gateway) GrantRole(tx *chain.Tx, role types.Role, account types.Address) error {
	return g.access.GrantRole(tx, role, account)
}

func (g *Gateway) RevokeRole(tx *chain.Tx, role types.Role, account types.Address) error {
	return g.access.RevokeRole(tx, role, account)
}

func (g *Gateway) closeSell(tx *chain.Tx, op string, id uint64, status Status) (Request, error) {
	if err := g.access.Require(op, types.RoleSettlement, tx.Sender()); err != nil {
		return Request{}, err
	}
	r, err := g.pending(op, id, SideSell)
	if err != nil {
		return Request{}, err
	}
	to := g.ledger.Treasury()
	eventType := SellSettledEventType
	if status == StatusRefunded {
		to = r.User
		eventType = SellRefundedEventType
	}
	if err := g.ledger.Transfer(tx.As(g.config.Address), to, r.EnTo); err != nil {
		return Request{}, err
	}
	g.setEscrow(tx, new(uint256.Int).Sub(g.escrow, r.EnTo))
	closed := g.closeRequest(tx, r, status)
	tx.Emit(eventType, g.requestEvent(tx, closed))
	if status == StatusSettled {
		g.settled(tx, closed)
	} else {
		g.count(tx, SideSell, string(status))
	}
	return closed.clone(), nil
}

func (g *Gateway) pending(op string, id uint64, side Side) (Request, error) {
	r, ok := g.requests[id]
	if !ok {
		return Request{}, types.Errorf(types.KindState, op, "%w: %d", ErrRequestNotFound, id)
	}
	if r.Side != side {
		return Request{}, types.Errorf(types.KindValidation, op, "%w: request %d is a %s", ErrWrongSide, id, r.Side)
	}
	if r.Status != StatusPending {
		return Request{}, types.Errorf(types.KindState, op, "%w: request %d is %s", ErrRequestNotPending, id, r.Status)
	}
	return r, nil
}

func (g *Gateway) addRequest(tx *chain.Tx, side Side, fiat, enTo, rate *uint256.Int) Request {
	g.lastRequestID++
	r := Request{
		ID:        g.lastRequestID,
		Side:      side,
		Status:    StatusPending,
		User:      tx.Sender(),
		Fiat:      fiat.Clone(),
		EnTo:      enTo.Clone(),
		Rate18:    rate.Clone(),
		CreatedAt: tx.Time(),
	}
	g.requests[r.ID] = r
	tx.OnRevert(func() {
		delete(g.requests, r.ID)
		g.lastRequestID--
	})
	return r
}

func (g *Gateway) closeRequest(tx *chain.Tx, r Request, status Status) Request {
	closed := r.clone()
	closed.Status = status
	closed.ClosedAt = tx.Time()
	g.requests[r.ID] = closed
	tx.OnRevert(func() { g.requests[r.ID] = r })
	return closed
}

func (g *Gateway) setEscrow(tx *chain.Tx, amount *uint256.Int) {
	prev := g.escrow
	g.escrow = amount
	tx.OnRevert(func() { g.escrow = prev })
	if g.metrics != nil {
		tx.OnCommit(func() { g.metrics.escrow.Set(fixed.Float64(g.escrow)) })
	}
}

func (g *Gateway) requestEvent(tx *chain.Tx, r Request) RequestEvent {
	return RequestEvent{
		RequestID: r.ID,
		User:      r.User,
		Sender:    tx.Sender(),
		Fiat:      r.Fiat.Clone(),
		EnTo:      r.EnTo.Clone(),
		Rate18:    r.Rate18.Clone(),
		Time:      tx.Time(),
	}
}

func (g *Gateway) count(tx *chain.Tx, side Side, outcome string) {
	if g.metrics == nil {
		return
	}
	tx.OnCommit(func() {
		g.metrics.requests.WithLabelValues(string(side), outcome).Inc()
	})
}

func (g *Gateway) settled(tx *chain.Tx, r Request) {
	g.logger.Debug(
		"gateway request settled",
		"id", r.ID,
		"side", string(r.Side),
		"user", r.User.Hex(),
		"ento", fixed.Format(r.EnTo),
		"fiat", fixed.Format(r.Fiat),
	)
	if g.metrics == nil {
		return
	}
	tx.OnCommit(func() {
		g.metrics.requests.WithLabelValues(string(r.Side), string(StatusSettled)).Inc()
		g.metrics.fiatVolume.WithLabelValues(string(r.Side)).Add(fixed.Float64(r.Fiat))
		g.metrics.enToVolume.WithLabelValues(string(r.Side)).Add(fixed.Float64(r.EnTo))
	})
}
