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

// Package oracle accepts signed meter readings, settles monthly savings and
// keeps department credit scores.
package oracle

import (
	"errors"
	"io"
	"log/slog"

	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/blinklabs-io/enledger/access"
	"github.com/blinklabs-io/enledger/auction"
	"github.com/blinklabs-io/enledger/chain"
	"github.com/blinklabs-io/enledger/fixed"
	"github.com/blinklabs-io/enledger/ledger"
	"github.com/blinklabs-io/enledger/types"
)

const (
	componentName = "oracle"

	MaxCreditScore           = 100
	DefaultSavingsRewardBps  = fixed.BpsDenominator
	DefaultSavingsScoreBonus = 1
)

// SavingsMode selects how savings rewards are paid
type SavingsMode string

const (
	// SavingsMint mints the reward, which needs MINTER on the ledger
	SavingsMint SavingsMode = "mint"
	// SavingsTransfer pays from the treasury, which must approve the oracle
	SavingsTransfer SavingsMode = "transfer"
)

func (m SavingsMode) Valid() bool {
	return m == SavingsMint || m == SavingsTransfer
}

var (
	ErrUnknownSigner    = errors.New("signer is not an authorized meter signer")
	ErrNonceUsed        = errors.New("nonce already used")
	ErrNoPack           = errors.New("no energy pack for department and month")
	ErrSettled          = errors.New("month already settled")
	ErrOverUsage        = errors.New("consumption exceeds purchased kWh")
	ErrNoReading        = errors.New("no usage reading recorded for month")
	ErrInvalidScore     = errors.New("credit score out of range")
	ErrInvalidMode      = errors.New("invalid savings mode")
	ErrInvalidRewardBps = errors.New("savings reward bps out of range")
)

type OracleConfig struct {
	Logger       *slog.Logger
	PromRegistry prometheus.Registerer
	Ledger       *ledger.Ledger
	Auction      *auction.Auction
	// Verifier defaults to EIP191Verifier
	Verifier Verifier
	// Address is the oracle's identity, bound into every signed payload
	Address           types.Address
	Admin             types.Address
	SavingsMode       SavingsMode
	SavingsRewardBps  uint64
	SavingsScoreBonus uint64
	// RejectOverUsage refuses reports that push consumption past the pack
	RejectOverUsage bool
	// RequireReading refuses savings claims for months without a signed
	// usage reading
	RequireReading bool
}

// MonthUsage combines a department's pack with its recorded consumption
type MonthUsage struct {
	UnitPrice18  *uint256.Int
	Reward       *uint256.Int
	Department   types.Address
	KWhPurchased uint64
	KWhConsumed  uint64
	Month        uint32
	Settled      bool
}

type usageKey struct {
	month      uint32
	department types.Address
}

type usageState struct {
	reward   *uint256.Int
	consumed uint64
	reported bool
	settled  bool
}

type Oracle struct {
	config       OracleConfig
	logger       *slog.Logger
	metrics      *oracleMetrics
	access       *access.Control
	ledger       *ledger.Ledger
	auction      *auction.Auction
	verifier     Verifier
	usage        map[usageKey]usageState
	nonces       map[[32]byte]struct{}
	meterSigners map[types.Address]struct{}
	creditScores map[types.Address]uint64
	loanModule   types.Address
	mode         SavingsMode
	rewardBps    uint64
	scoreBonus   uint64
	rejectOver   bool
	requireRead  bool
}

func New(cfg OracleConfig) (*Oracle, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	if cfg.Ledger == nil || cfg.Auction == nil {
		return nil, errors.New("oracle requires a ledger and an auction")
	}
	if cfg.Address == types.ZeroAddress || cfg.Admin == types.ZeroAddress {
		return nil, errors.New("oracle address and admin must be set")
	}
	if cfg.Verifier == nil {
		cfg.Verifier = EIP191Verifier{}
	}
	if cfg.SavingsMode == "" {
		cfg.SavingsMode = SavingsMint
	}
	if !cfg.SavingsMode.Valid() {
		return nil, ErrInvalidMode
	}
	if cfg.SavingsRewardBps == 0 {
		cfg.SavingsRewardBps = DefaultSavingsRewardBps
	}
	if cfg.SavingsRewardBps > fixed.BpsDenominator {
		return nil, ErrInvalidRewardBps
	}
	if cfg.SavingsScoreBonus == 0 {
		cfg.SavingsScoreBonus = DefaultSavingsScoreBonus
	}
	o := &Oracle{
		config:       cfg,
		logger:       cfg.Logger.With("component", componentName),
		access:       access.NewControl(componentName),
		ledger:       cfg.Ledger,
		auction:      cfg.Auction,
		verifier:     cfg.Verifier,
		usage:        make(map[usageKey]usageState),
		nonces:       make(map[[32]byte]struct{}),
		meterSigners: make(map[types.Address]struct{}),
		creditScores: make(map[types.Address]uint64),
		mode:         cfg.SavingsMode,
		rewardBps:    cfg.SavingsRewardBps,
		scoreBonus:   cfg.SavingsScoreBonus,
		rejectOver:   cfg.RejectOverUsage,
		requireRead:  cfg.RequireReading,
	}
	o.access.Bootstrap(types.RoleDefaultAdmin, cfg.Admin)
	if cfg.PromRegistry != nil {
		o.metrics = &oracleMetrics{}
		o.metrics.init(cfg.PromRegistry)
	}
	return o, nil
}

func (o *Oracle) Address() types.Address {
	return o.config.Address
}

func (o *Oracle) Access() *access.Control {
	return o.access
}

func (o *Oracle) HasRole(role types.Role, account types.Address) bool {
	return o.access.HasRole(role, account)
}

func (o *Oracle) IsMeterSigner(signer types.Address) bool {
	_, ok := o.meterSigners[signer]
	return ok
}

func (o *Oracle) NonceUsed(nonce [32]byte) bool {
	_, ok := o.nonces[nonce]
	return ok
}

// CreditScore returns the department's score in [0, 100]
func (o *Oracle) CreditScore(department types.Address) uint64 {
	return o.creditScores[department]
}

func (o *Oracle) LoanModule() types.Address {
	return o.loanModule
}

func (o *Oracle) SavingsMode() SavingsMode {
	return o.mode
}

func (o *Oracle) SavingsRewardBps() uint64 {
	return o.rewardBps
}

func (o *Oracle) RejectOverUsage() bool {
	return o.rejectOver
}

// RequireReading reports whether claims need a recorded usage reading
func (o *Oracle) RequireReading() bool {
	return o.requireRead
}

// MonthUsage returns purchase and consumption for a department. The boolean
// is false when the department bought no pack for the month.
func (o *Oracle) MonthUsage(month uint32, department types.Address) (MonthUsage, bool) {
	pack, ok := o.auction.Pack(month, department)
	if !ok {
		return MonthUsage{
			Month:       month,
			Department:  department,
			UnitPrice18: fixed.Zero(),
			Reward:      fixed.Zero(),
		}, false
	}
	state := o.usage[usageKey{month: month, department: department}]
	return MonthUsage{
		Month:        month,
		Department:   department,
		KWhPurchased: pack.KWhPurchased,
		KWhConsumed:  state.consumed,
		UnitPrice18:  pack.UnitPrice18,
		Settled:      state.settled,
		Reward:       fixed.Clone(state.reward),
	}, true
}

// PreviewSavings returns the kWh saved and the reward a claim would pay now
func (o *Oracle) PreviewSavings(month uint32, department types.Address) (uint64, *uint256.Int, error) {
	mu, ok := o.MonthUsage(month, department)
	if !ok {
		return 0, nil, ErrNoPack
	}
	return o.savings(mu)
}

func (o *Oracle) savings(mu MonthUsage) (uint64, *uint256.Int, error) {
	if mu.KWhConsumed >= mu.KWhPurchased || mu.UnitPrice18.IsZero() {
		return 0, fixed.Zero(), nil
	}
	saved := mu.KWhPurchased - mu.KWhConsumed
	value, err := auction.EnToForKWh(saved, mu.UnitPrice18)
	if err != nil {
		return 0, nil, err
	}
	reward, err := fixed.Bps(value, o.rewardBps)
	if err != nil {
		return 0, nil, err
	}
	return saved, reward, nil
}

// RecordUsageSigned adds a meter reading to a department's month. The caller
// must hold ORACLE and the signature must come from an allowed meter signer.
func (o *Oracle) RecordUsageSigned(
	tx *chain.Tx,
	department types.Address,
	month uint32,
	kWh uint64,
	nonce [32]byte,
	signature []byte,
) (err error) {
	const op = "oracle.record_usage_signed"
	if o.metrics != nil {
		defer func() {
			if err != nil {
				o.metrics.rejectedReports.WithLabelValues(types.KindOf(err).String()).Inc()
			}
		}()
	}
	if err := o.access.Require(op, types.RoleOracle, tx.Sender()); err != nil {
		return err
	}
	if !auction.ValidMonth(month) {
		return types.NewError(types.KindValidation, op, auction.ErrInvalidMonth)
	}
	if kWh == 0 {
		return types.NewError(types.KindValidation, op, auction.ErrZeroKWh)
	}
	payload, err := UsagePayloadHash(o.config.Address, department, month, kWh, nonce)
	if err != nil {
		return types.NewError(types.KindValidation, op, err)
	}
	signer, err := o.verifier.RecoverSigner(payload, signature)
	if err != nil {
		return types.NewError(types.KindValidation, op, err)
	}
	if !o.IsMeterSigner(signer) {
		return types.Errorf(types.KindAuthorization, op, "%w: %s", ErrUnknownSigner, signer.Hex())
	}
	pack, ok := o.auction.Pack(month, department)
	if !ok {
		return types.NewError(types.KindState, op, ErrNoPack)
	}
	key := usageKey{month: month, department: department}
	prev := o.usage[key]
	if prev.settled {
		return types.NewError(types.KindState, op, ErrSettled)
	}
	if o.NonceUsed(nonce) {
		return types.NewError(types.KindReplay, op, ErrNonceUsed)
	}
	consumed := prev.consumed + kWh
	if consumed < prev.consumed {
		return types.NewError(types.KindValidation, op, fixed.ErrOverflow)
	}
	if o.rejectOver && consumed > pack.KWhPurchased {
		return types.Errorf(
			types.KindValidation,
			op,
			"%w: %d > %d",
			ErrOverUsage,
			consumed,
			pack.KWhPurchased,
		)
	}

	_, existed := o.usage[key]
	next := prev
	next.consumed = consumed
	next.reported = true
	o.usage[key] = next
	o.nonces[nonce] = struct{}{}
	tx.OnRevert(func() {
		if existed {
			o.usage[key] = prev
		} else {
			delete(o.usage, key)
		}
		delete(o.nonces, nonce)
	})
	tx.Emit(UsageRecordedEventType, UsageRecordedEvent{
		Department:    department,
		Month:         month,
		KWh:           kWh,
		TotalConsumed: consumed,
		Nonce:         nonce,
		Signer:        signer,
	})
	if o.metrics != nil {
		tx.OnCommit(func() {
			o.metrics.usageRecorded.Inc()
			o.metrics.kWhConsumed.Add(float64(kWh))
		})
	}
	return nil
}

// ClaimSavings settles the sender's month and pays the unused part of the pack
// back in EnTo. It succeeds once per department and month.
func (o *Oracle) ClaimSavings(tx *chain.Tx, month uint32) (*uint256.Int, error) {
	const op = "oracle.claim_savings"
	department := tx.Sender()
	mu, ok := o.MonthUsage(month, department)
	if !ok {
		return nil, types.NewError(types.KindState, op, ErrNoPack)
	}
	if mu.Settled {
		return nil, types.NewError(types.KindState, op, ErrSettled)
	}
	key := usageKey{month: month, department: department}
	prev, existed := o.usage[key]
	if o.requireRead && !prev.reported {
		return nil, types.NewError(types.KindState, op, ErrNoReading)
	}
	saved, reward, err := o.savings(mu)
	if err != nil {
		return nil, types.NewError(types.KindValidation, op, err)
	}
	if !reward.IsZero() {
		self := tx.As(o.config.Address)
		switch o.mode {
		case SavingsTransfer:
			err = o.ledger.TransferFrom(self, o.ledger.Treasury(), department, reward)
		default:
			err = o.ledger.Mint(self, department, reward)
		}
		if err != nil {
			return nil, err
		}
	}

	o.usage[key] = usageState{
		consumed: prev.consumed,
		reported: prev.reported,
		settled:  true,
		reward:   reward.Clone(),
	}
	tx.OnRevert(func() {
		if existed {
			o.usage[key] = prev
		} else {
			delete(o.usage, key)
		}
	})
	if saved > 0 {
		o.adjustScore(tx, department, int64(o.scoreBonus)) //nolint:gosec
	}
	tx.Emit(SavingsClaimedEventType, SavingsClaimedEvent{
		Department: department,
		Month:      month,
		KWhSaved:   saved,
		Reward:     reward.Clone(),
		Mode:       o.mode,
	})
	o.logger.Debug(
		"savings claimed",
		"department", department.Hex(),
		"month", month,
		"kwh_saved", saved,
		"reward", fixed.Format(reward),
	)
	if o.metrics != nil {
		tx.OnCommit(func() {
			o.metrics.savingsClaimed.Inc()
			o.metrics.kWhSaved.Add(float64(saved))
		})
	}
	return reward, nil
}

// SetCreditScore assigns a department's score (admin)
func (o *Oracle) SetCreditScore(tx *chain.Tx, department types.Address, score uint64) error {
	const op = "oracle.set_credit_score"
	if err := o.access.Require(op, types.RoleDefaultAdmin, tx.Sender()); err != nil {
		return err
	}
	if department == types.ZeroAddress {
		return types.NewError(types.KindValidation, op, ledger.ErrZeroAddress)
	}
	if score > MaxCreditScore {
		return types.Errorf(types.KindValidation, op, "%w: %d", ErrInvalidScore, score)
	}
	o.setScore(tx, department, score)
	return nil
}

// AdjustCreditScore moves a score by delta, clamped to [0, 100]. Only the
// configured loan module or an admin may call it.
func (o *Oracle) AdjustCreditScore(tx *chain.Tx, department types.Address, delta int64) error {
	const op = "oracle.adjust_credit_score"
	sender := tx.Sender()
	if sender != o.loanModule || o.loanModule == types.ZeroAddress {
		if err := o.access.Require(op, types.RoleDefaultAdmin, sender); err != nil {
			return err
		}
	}
	o.adjustScore(tx, department, delta)
	return nil
}

func (o *Oracle) adjustScore(tx *chain.Tx, department types.Address, delta int64) {
	score := int64(o.creditScores[department]) //nolint:gosec
	score += delta
	score = max(0, min(score, MaxCreditScore))
	o.setScore(tx, department, uint64(score)) //nolint:gosec
}

func (o *Oracle) setScore(tx *chain.Tx, department types.Address, score uint64) {
	prev, existed := o.creditScores[department]
	if existed && prev == score {
		return
	}
	o.creditScores[department] = score
	tx.OnRevert(func() {
		if existed {
			o.creditScores[department] = prev
		} else {
			delete(o.creditScores, department)
		}
	})
	tx.Emit(CreditScoreUpdatedEventType, CreditScoreUpdatedEvent{
		Department: department,
		Sender:     tx.Sender(),
		OldScore:   prev,
		NewScore:   score,
	})
}

// SetMeterSigner adds or removes a meter signing identity (admin)
func (o *Oracle) SetMeterSigner(tx *chain.Tx, signer types.Address, allowed bool) error {
	const op = "oracle.set_meter_signer"
	if err := o.access.Require(op, types.RoleDefaultAdmin, tx.Sender()); err != nil {
		return err
	}
	if signer == types.ZeroAddress {
		return types.NewError(types.KindValidation, op, ledger.ErrZeroAddress)
	}
	was := o.IsMeterSigner(signer)
	if allowed {
		o.meterSigners[signer] = struct{}{}
	} else {
		delete(o.meterSigners, signer)
	}
	tx.OnRevert(func() {
		if was {
			o.meterSigners[signer] = struct{}{}
		} else {
			delete(o.meterSigners, signer)
		}
	})
	tx.Emit(MeterSignerUpdatedEventType, MeterSignerUpdatedEvent{
		Signer:  signer,
		Allowed: allowed,
	})
	if o.metrics != nil {
		tx.OnCommit(func() {
			o.metrics.meterSigners.Set(float64(len(o.meterSigners)))
		})
	}
	return nil
}

// SetLoanModule names the component allowed to adjust credit scores (admin)
func (o *Oracle) SetLoanModule(tx *chain.Tx, loanModule types.Address) error {
	const op = "oracle.set_loan_module"
	if err := o.access.Require(op, types.RoleDefaultAdmin, tx.Sender()); err != nil {
		return err
	}
	prev := o.loanModule
	o.loanModule = loanModule
	tx.OnRevert(func() { o.loanModule = prev })
	o.emitConfig(tx)
	return nil
}

// SetSavingsParams changes how savings are paid (admin)
func (o *Oracle) SetSavingsParams(tx *chain.Tx, mode SavingsMode, rewardBps uint64) error {
	const op = "oracle.set_savings_params"
	if err := o.access.Require(op, types.RoleDefaultAdmin, tx.Sender()); err != nil {
		return err
	}
	if !mode.Valid() {
		return types.NewError(types.KindValidation, op, ErrInvalidMode)
	}
	if rewardBps > fixed.BpsDenominator {
		return types.Errorf(types.KindValidation, op, "%w: %d", ErrInvalidRewardBps, rewardBps)
	}
	prevMode, prevBps := o.mode, o.rewardBps
	o.mode = mode
	o.rewardBps = rewardBps
	tx.OnRevert(func() {
		o.mode = prevMode
		o.rewardBps = prevBps
	})
	o.emitConfig(tx)
	return nil
}

// SetSavingsRewardBps changes only the reward rate (admin)
func (o *Oracle) SetSavingsRewardBps(tx *chain.Tx, rewardBps uint64) error {
	return o.SetSavingsParams(tx, o.mode, rewardBps)
}

// SetRejectOverUsage toggles rejection of reports beyond the pack (admin)
func (o *Oracle) SetRejectOverUsage(tx *chain.Tx, reject bool) error {
	const op = "oracle.set_reject_over_usage"
	if err := o.access.Require(op, types.RoleDefaultAdmin, tx.Sender()); err != nil {
		return err
	}
	prev := o.rejectOver
	o.rejectOver = reject
	tx.OnRevert(func() { o.rejectOver = prev })
	o.emitConfig(tx)
	return nil
}

// SetRequireReading toggles whether savings claims need a usage reading (admin)
func (o *Oracle) SetRequireReading(tx *chain.Tx, required bool) error {
	const op = "oracle.set_require_reading"
	if err := o.access.Require(op, types.RoleDefaultAdmin, tx.Sender()); err != nil {
		return err
	}
	prev := o.requireRead
	o.requireRead = required
	tx.OnRevert(func() { o.requireRead = prev })
	o.emitConfig(tx)
	return nil
}

func (o *Oracle) GrantRole(tx *chain.Tx, role types.Role, account types.Address) error {
	return o.access.GrantRole(tx, role, account)
}

func (o *Oracle) RevokeRole(tx *chain.Tx, role types.Role, account types.Address) error {
	return o.access.RevokeRole(tx, role, account)
}

func (o *Oracle) RenounceRole(tx *chain.Tx, role types.Role, account types.Address) error {
	return o.access.RenounceRole(tx, role, account)
}

func (o *Oracle) emitConfig(tx *chain.Tx) {
	tx.Emit(ConfigUpdatedEventType, ConfigUpdatedEvent{
		LoanModule:       o.loanModule,
		Mode:             o.mode,
		SavingsRewardBps: o.rewardBps,
		RejectOverUsage:  o.rejectOver,
		RequireReading:   o.requireRead,
	})
}
