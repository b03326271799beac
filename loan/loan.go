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

// Package loan lends EnTo from the treasury against escrowed EnTo collateral,
// priced by the borrower's credit score.
package loan

import (
	"errors"
	"io"
	"log/slog"
	"math"
	"time"

	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/blinklabs-io/enledger/access"
	"github.com/blinklabs-io/enledger/chain"
	"github.com/blinklabs-io/enledger/fixed"
	"github.com/blinklabs-io/enledger/ledger"
	"github.com/blinklabs-io/enledger/types"
)

const componentName = "loan"

var (
	ErrLoanActive      = errors.New("borrower already has an active loan")
	ErrNoActiveLoan    = errors.New("no active loan")
	ErrNoLoan          = errors.New("no loan for borrower")
	ErrZeroAmount      = errors.New("amount must be positive")
	ErrNoCreditScore   = errors.New("borrower has no credit score")
	ErrNoOracle        = errors.New("credit oracle not configured")
	ErrUnhealthy       = errors.New("health factor below minimum")
	ErrLoanHealthy     = errors.New("loan is healthy and not expired")
	ErrExceedsEscrowed = errors.New("amount exceeds escrowed collateral")
)

// CreditOracle supplies credit scores and accepts score adjustments from the
// loan component
type CreditOracle interface {
	CreditScore(department types.Address) uint64
	AdjustCreditScore(tx *chain.Tx, department types.Address, delta int64) error
}

type LoanConfig struct {
	Logger       *slog.Logger
	PromRegistry prometheus.Registerer
	Ledger       *ledger.Ledger
	// Oracle may be set later with SetOracle
	Oracle CreditOracle
	// Address holds escrowed collateral and spends the treasury allowance
	Address types.Address
	Admin   types.Address
	// Params defaults to DefaultParams when zero
	Params Params
}

// Loan is a borrower's position. A repaid loan stays on record inactive until
// its remaining collateral is withdrawn or rolled into a new loan.
type Loan struct {
	Principal       *uint256.Int
	Collateral      *uint256.Int
	AccruedInterest *uint256.Int
	StartTime       time.Time
	LastAccrual     time.Time
	Borrower        types.Address
	RateBps         uint64
	Active          bool
}

type LoanModule struct {
	config  LoanConfig
	logger  *slog.Logger
	metrics *loanMetrics
	access  *access.Control
	ledger  *ledger.Ledger
	oracle  CreditOracle
	loans   map[types.Address]Loan
	params  Params
}

func New(cfg LoanConfig) (*LoanModule, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	if cfg.Ledger == nil {
		return nil, errors.New("loan requires a ledger")
	}
	if cfg.Address == types.ZeroAddress || cfg.Admin == types.ZeroAddress {
		return nil, errors.New("loan address and admin must be set")
	}
	if cfg.Params == (Params{}) {
		cfg.Params = DefaultParams()
	}
	if err := cfg.Params.Validate(); err != nil {
		return nil, err
	}
	m := &LoanModule{
		config: cfg,
		logger: cfg.Logger.With("component", componentName),
		access: access.NewControl(componentName),
		ledger: cfg.Ledger,
		oracle: cfg.Oracle,
		loans:  make(map[types.Address]Loan),
		params: cfg.Params,
	}
	m.access.Bootstrap(types.RoleDefaultAdmin, cfg.Admin)
	if cfg.PromRegistry != nil {
		m.metrics = &loanMetrics{}
		m.metrics.init(cfg.PromRegistry)
	}
	return m, nil
}

func (m *LoanModule) Address() types.Address {
	return m.config.Address
}

func (m *LoanModule) Access() *access.Control {
	return m.access
}

func (m *LoanModule) Params() Params {
	return m.params
}

// Loan returns the borrower's position as last written, without interest
// accrued since LastAccrual
func (m *LoanModule) Loan(borrower types.Address) (Loan, bool) {
	l, ok := m.loans[borrower]
	if !ok {
		return Loan{}, false
	}
	return l.clone(), true
}

// PreviewAccruedInterest returns the interest owed at the given time
func (m *LoanModule) PreviewAccruedInterest(borrower types.Address, at time.Time) *uint256.Int {
	l, ok := m.loans[borrower]
	if !ok || !l.Active {
		return fixed.Zero()
	}
	interest, err := l.interestAt(at)
	if err != nil {
		return fixed.Max()
	}
	return interest
}

// Debt is principal plus interest at the given time
func (m *LoanModule) Debt(borrower types.Address, at time.Time) *uint256.Int {
	l, ok := m.loans[borrower]
	if !ok || !l.Active {
		return fixed.Zero()
	}
	debt, err := fixed.Add(l.Principal, m.PreviewAccruedInterest(borrower, at))
	if err != nil {
		return fixed.Max()
	}
	return debt
}

// HealthBps is collateral × 10000 / debt at the given time. A position with
// no debt reports math.MaxUint64.
func (m *LoanModule) HealthBps(borrower types.Address, at time.Time) uint64 {
	l, ok := m.loans[borrower]
	if !ok {
		return math.MaxUint64
	}
	return HealthBps(l.Collateral, m.Debt(borrower, at))
}

// HealthBps computes collateral × 10000 / debt, saturating at math.MaxUint64
func HealthBps(collateral *uint256.Int, debt *uint256.Int) uint64 {
	if debt.IsZero() {
		return math.MaxUint64
	}
	h, err := fixed.MulDiv(collateral, uint256.NewInt(fixed.BpsDenominator), debt)
	if err != nil || !h.IsUint64() {
		return math.MaxUint64
	}
	return h.Uint64()
}

// RateForScore returns the annual rate a borrower with score would get
func (m *LoanModule) RateForScore(score uint64) uint64 {
	return m.params.RateBps(score)
}

// RequestLoan escrows collateral from the sender and pays out principal from
// the treasury. Collateral left over from a repaid loan is rolled in.
func (m *LoanModule) RequestLoan(tx *chain.Tx, principal *uint256.Int, collateral *uint256.Int) (Loan, error) {
	const op = "loan.request"
	borrower := tx.Sender()
	if m.oracle == nil {
		return Loan{}, types.NewError(types.KindState, op, ErrNoOracle)
	}
	prev, existed := m.loans[borrower]
	if existed && prev.Active {
		return Loan{}, types.NewError(types.KindState, op, ErrLoanActive)
	}
	if principal == nil || principal.IsZero() || collateral == nil {
		return Loan{}, types.NewError(types.KindValidation, op, ErrZeroAmount)
	}
	score := m.oracle.CreditScore(borrower)
	if score == 0 {
		return Loan{}, types.NewError(types.KindValidation, op, ErrNoCreditScore)
	}
	totalCollateral := collateral.Clone()
	if existed {
		var err error
		if totalCollateral, err = fixed.Add(prev.Collateral, collateral); err != nil {
			return Loan{}, types.NewError(types.KindValidation, op, err)
		}
	}
	if totalCollateral.IsZero() {
		return Loan{}, types.NewError(types.KindValidation, op, ErrZeroAmount)
	}
	if h := HealthBps(totalCollateral, principal); h < m.params.MinHealthBps {
		return Loan{}, types.Errorf(
			types.KindHealth,
			op,
			"%w: %d < %d bps",
			ErrUnhealthy,
			h,
			m.params.MinHealthBps,
		)
	}
	self := tx.As(m.config.Address)
	if !collateral.IsZero() {
		if err := m.ledger.TransferFrom(self, borrower, m.config.Address, collateral); err != nil {
			return Loan{}, err
		}
	}
	if err := m.ledger.TransferFrom(self, m.ledger.Treasury(), borrower, principal); err != nil {
		return Loan{}, err
	}
	l := Loan{
		Borrower:        borrower,
		Principal:       principal.Clone(),
		Collateral:      totalCollateral,
		AccruedInterest: fixed.Zero(),
		RateBps:         m.params.RateBps(score),
		StartTime:       tx.Time(),
		LastAccrual:     tx.Time(),
		Active:          true,
	}
	m.setLoan(tx, l)
	tx.Emit(RequestedEventType, RequestedEvent{
		Borrower:   borrower,
		Principal:  principal.Clone(),
		Collateral: totalCollateral.Clone(),
		RateBps:    l.RateBps,
	})
	m.logger.Debug(
		"loan requested",
		"borrower", borrower.Hex(),
		"principal", fixed.Format(principal),
		"collateral", fixed.Format(totalCollateral),
		"rate_bps", l.RateBps,
	)
	m.observe(tx)
	return l.clone(), nil
}

// DepositCollateral adds to the sender's active loan
func (m *LoanModule) DepositCollateral(tx *chain.Tx, amount *uint256.Int) error {
	const op = "loan.deposit_collateral"
	borrower := tx.Sender()
	l, ok := m.loans[borrower]
	if !ok || !l.Active {
		return types.NewError(types.KindState, op, ErrNoActiveLoan)
	}
	if amount == nil || amount.IsZero() {
		return types.NewError(types.KindValidation, op, ErrZeroAmount)
	}
	collateral, err := fixed.Add(l.Collateral, amount)
	if err != nil {
		return types.NewError(types.KindValidation, op, err)
	}
	if err := m.ledger.TransferFrom(tx.As(m.config.Address), borrower, m.config.Address, amount); err != nil {
		return err
	}
	l.Collateral = collateral
	m.setLoan(tx, l)
	tx.Emit(CollateralDepositedEventType, CollateralEvent{
		Borrower:   borrower,
		Amount:     amount.Clone(),
		Collateral: collateral.Clone(),
	})
	m.observe(tx)
	return nil
}

// WithdrawCollateral returns escrowed collateral to the sender. While the
// loan is active the remaining position must stay at or above the minimum
// health factor.
func (m *LoanModule) WithdrawCollateral(tx *chain.Tx, amount *uint256.Int) error {
	const op = "loan.withdraw_collateral"
	borrower := tx.Sender()
	l, ok := m.loans[borrower]
	if !ok {
		return types.NewError(types.KindState, op, ErrNoLoan)
	}
	if amount == nil || amount.IsZero() {
		return types.NewError(types.KindValidation, op, ErrZeroAmount)
	}
	if amount.Gt(l.Collateral) {
		return types.NewError(types.KindValidation, op, ErrExceedsEscrowed)
	}
	if l.Active {
		var err error
		if l, err = l.accrue(tx.Time()); err != nil {
			return types.NewError(types.KindValidation, op, err)
		}
	}
	remaining, err := fixed.Sub(l.Collateral, amount)
	if err != nil {
		return types.NewError(types.KindValidation, op, err)
	}
	if l.Active {
		debt, err := l.debt()
		if err != nil {
			return types.NewError(types.KindValidation, op, err)
		}
		if h := HealthBps(remaining, debt); h < m.params.MinHealthBps {
			return types.Errorf(
				types.KindHealth,
				op,
				"%w: %d < %d bps",
				ErrUnhealthy,
				h,
				m.params.MinHealthBps,
			)
		}
	}
	if err := m.ledger.Transfer(tx.As(m.config.Address), borrower, amount); err != nil {
		return err
	}
	l.Collateral = remaining
	if !l.Active && remaining.IsZero() {
		m.deleteLoan(tx, borrower)
	} else {
		m.setLoan(tx, l)
	}
	tx.Emit(CollateralWithdrawnEventType, CollateralEvent{
		Borrower:   borrower,
		Amount:     amount.Clone(),
		Collateral: remaining.Clone(),
	})
	m.observe(tx)
	return nil
}

// Repay pays the sender's debt, interest first. Payment above the debt is not
// taken. The loan closes when principal reaches zero.
func (m *LoanModule) Repay(tx *chain.Tx, amount *uint256.Int) (Loan, error) {
	const op = "loan.repay"
	borrower := tx.Sender()
	l, ok := m.loans[borrower]
	if !ok || !l.Active {
		return Loan{}, types.NewError(types.KindState, op, ErrNoActiveLoan)
	}
	if amount == nil || amount.IsZero() {
		return Loan{}, types.NewError(types.KindValidation, op, ErrZeroAmount)
	}
	l, err := l.accrue(tx.Time())
	if err != nil {
		return Loan{}, types.NewError(types.KindValidation, op, err)
	}
	debt, err := l.debt()
	if err != nil {
		return Loan{}, types.NewError(types.KindValidation, op, err)
	}
	pay := fixed.Min(amount, debt)
	toInterest := fixed.Min(pay, l.AccruedInterest)
	toPrincipal := new(uint256.Int).Sub(pay, toInterest)
	if err := m.ledger.TransferFrom(tx.As(m.config.Address), borrower, m.ledger.Treasury(), pay); err != nil {
		return Loan{}, err
	}
	l.AccruedInterest = new(uint256.Int).Sub(l.AccruedInterest, toInterest)
	l.Principal = new(uint256.Int).Sub(l.Principal, toPrincipal)
	closed := l.Principal.IsZero()
	if closed {
		l.Active = false
	}
	m.setLoan(tx, l)
	if closed && m.params.RepayScoreBonus > 0 {
		if err := m.adjustScore(tx, borrower, int64(m.params.RepayScoreBonus)); err != nil { //nolint:gosec
			return Loan{}, err
		}
	}
	tx.Emit(RepaidEventType, RepaidEvent{
		Borrower:      borrower,
		InterestPaid:  toInterest,
		PrincipalPaid: toPrincipal,
		Remaining:     l.Principal.Clone(),
		Closed:        closed,
	})
	if m.metrics != nil {
		tx.OnCommit(func() { m.metrics.repayments.Inc() })
	}
	m.observe(tx)
	return l.clone(), nil
}

// Liquidate closes an unhealthy or expired loan. The liquidator receives the
// bonus share of the seized collateral, the treasury the rest, and any
// collateral above the debt goes back to the borrower.
func (m *LoanModule) Liquidate(tx *chain.Tx, borrower types.Address) (LiquidatedEvent, error) {
	const op = "loan.liquidate"
	liquidator := tx.Sender()
	l, ok := m.loans[borrower]
	if !ok || !l.Active {
		return LiquidatedEvent{}, types.NewError(types.KindState, op, ErrNoActiveLoan)
	}
	l, err := l.accrue(tx.Time())
	if err != nil {
		return LiquidatedEvent{}, types.NewError(types.KindValidation, op, err)
	}
	debt, err := l.debt()
	if err != nil {
		return LiquidatedEvent{}, types.NewError(types.KindValidation, op, err)
	}
	health := HealthBps(l.Collateral, debt)
	expired := tx.Time().Sub(l.StartTime) > m.params.MaxDuration
	if health >= m.params.LiquidationHealthBps && !expired {
		return LiquidatedEvent{}, types.Errorf(
			types.KindHealth,
			op,
			"%w: health %d bps",
			ErrLoanHealthy,
			health,
		)
	}
	seized := fixed.Min(l.Collateral, debt)
	bonus, err := fixed.Bps(seized, m.params.LiquidationBonusBps)
	if err != nil {
		return LiquidatedEvent{}, types.NewError(types.KindValidation, op, err)
	}
	toTreasury := new(uint256.Int).Sub(seized, bonus)
	returned := new(uint256.Int).Sub(l.Collateral, seized)
	self := tx.As(m.config.Address)
	for _, payout := range []struct {
		to     types.Address
		amount *uint256.Int
	}{
		{liquidator, bonus},
		{m.ledger.Treasury(), toTreasury},
		{borrower, returned},
	} {
		if payout.amount.IsZero() {
			continue
		}
		if err := m.ledger.Transfer(self, payout.to, payout.amount); err != nil {
			return LiquidatedEvent{}, err
		}
	}
	m.deleteLoan(tx, borrower)
	if m.params.LiquidationScorePenalty > 0 {
		if err := m.adjustScore(tx, borrower, -int64(m.params.LiquidationScorePenalty)); err != nil { //nolint:gosec
			return LiquidatedEvent{}, err
		}
	}
	evt := LiquidatedEvent{
		Borrower:   borrower,
		Liquidator: liquidator,
		Debt:       debt,
		Seized:     seized,
		Bonus:      bonus,
		Returned:   returned,
		HealthBps:  health,
		Expired:    expired,
	}
	tx.Emit(LiquidatedEventType, evt)
	m.logger.Info(
		"loan liquidated",
		"borrower", borrower.Hex(),
		"liquidator", liquidator.Hex(),
		"health_bps", health,
		"expired", expired,
	)
	if m.metrics != nil {
		trigger := "health"
		if health >= m.params.LiquidationHealthBps {
			trigger = "expiry"
		}
		tx.OnCommit(func() { m.metrics.liquidations.WithLabelValues(trigger).Inc() })
	}
	m.observe(tx)
	return evt, nil
}

// SetOracle replaces the credit score source (admin)
func (m *LoanModule) SetOracle(tx *chain.Tx, oracle CreditOracle) error {
	const op = "loan.set_oracle"
	if err := m.access.Require(op, types.RoleDefaultAdmin, tx.Sender()); err != nil {
		return err
	}
	if oracle == nil {
		return types.NewError(types.KindValidation, op, ErrNoOracle)
	}
	prev := m.oracle
	m.oracle = oracle
	tx.OnRevert(func() { m.oracle = prev })
	return nil
}

// SetParams replaces the loan terms (admin). Existing loans keep their rate.
func (m *LoanModule) SetParams(tx *chain.Tx, params Params) error {
	const op = "loan.set_params"
	if err := m.access.Require(op, types.RoleDefaultAdmin, tx.Sender()); err != nil {
		return err
	}
	if err := params.Validate(); err != nil {
		return types.NewError(types.KindValidation, op, err)
	}
	prev := m.params
	m.params = params
	tx.OnRevert(func() { m.params = prev })
	tx.Emit(ParamsUpdatedEventType, ParamsUpdatedEvent{Params: params})
	return nil
}

// SetMinHealthBps changes only the minimum health factor (admin)
func (m *LoanModule) SetMinHealthBps(tx *chain.Tx, minHealthBps uint64) error {
	params := m.params
	params.MinHealthBps = minHealthBps
	return m.SetParams(tx, params)
}

func (m *LoanModule) GrantRole(tx *chain.Tx, role types.Role, account types.Address) error {
	return m.access.GrantRole(tx, role, account)
}

func (m *LoanModule) RevokeRole(tx *chain.Tx, role types.Role, account types.Address) error {
	return m.access.RevokeRole(tx, role, account)
}

func (m *LoanModule) adjustScore(tx *chain.Tx, borrower types.Address, delta int64) error {
	if m.oracle == nil {
		return nil
	}
	return m.oracle.AdjustCreditScore(tx.As(m.config.Address), borrower, delta)
}

func (m *LoanModule) setLoan(tx *chain.Tx, l Loan) {
	prev, existed := m.loans[l.Borrower]
	m.loans[l.Borrower] = l
	tx.OnRevert(func() {
		if existed {
			m.loans[l.Borrower] = prev
		} else {
			delete(m.loans, l.Borrower)
		}
	})
}

func (m *LoanModule) deleteLoan(tx *chain.Tx, borrower types.Address) {
	prev, existed := m.loans[borrower]
	if !existed {
		return
	}
	delete(m.loans, borrower)
	tx.OnRevert(func() { m.loans[borrower] = prev })
}

func (m *LoanModule) observe(tx *chain.Tx) {
	if m.metrics == nil {
		return
	}
	tx.OnCommit(func() {
		var active int
		principal, collateral := fixed.Zero(), fixed.Zero()
		for _, l := range m.loans {
			if l.Active {
				active++
				principal.Add(principal, l.Principal)
			}
			collateral.Add(collateral, l.Collateral)
		}
		m.metrics.activeLoans.Set(float64(active))
		m.metrics.principal.Set(fixed.Float64(principal))
		m.metrics.collateral.Set(fixed.Float64(collateral))
	})
}

// interestAt returns accrued interest plus simple interest since LastAccrual
func (l Loan) interestAt(at time.Time) (*uint256.Int, error) {
	if !at.After(l.LastAccrual) || l.Principal.IsZero() {
		return l.AccruedInterest.Clone(), nil
	}
	elapsed := uint64(at.Sub(l.LastAccrual) / time.Second) //nolint:gosec
	factor := new(uint256.Int).Mul(uint256.NewInt(l.RateBps), uint256.NewInt(elapsed))
	pending, err := fixed.MulDiv(
		l.Principal,
		factor,
		uint256.NewInt(fixed.BpsDenominator*secondsPerYear),
	)
	if err != nil {
		return nil, err
	}
	return fixed.Add(l.AccruedInterest, pending)
}

func (l Loan) accrue(at time.Time) (Loan, error) {
	interest, err := l.interestAt(at)
	if err != nil {
		return Loan{}, err
	}
	l.AccruedInterest = interest
	if at.After(l.LastAccrual) {
		// Whole seconds only, so the remainder accrues next time
		l.LastAccrual = l.LastAccrual.Add(at.Sub(l.LastAccrual).Truncate(time.Second))
	}
	return l, nil
}

func (l Loan) debt() (*uint256.Int, error) {
	return fixed.Add(l.Principal, l.AccruedInterest)
}

func (l Loan) clone() Loan {
	l.Principal = fixed.Clone(l.Principal)
	l.Collateral = fixed.Clone(l.Collateral)
	l.AccruedInterest = fixed.Clone(l.AccruedInterest)
	return l
}
