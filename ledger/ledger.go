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

// Package ledger holds EnTo balances and allowances. Every mutating method
// takes the transition it runs in; the caller is tx.Sender().
package ledger

import (
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/blinklabs-io/enledger/access"
	"github.com/blinklabs-io/enledger/chain"
	"github.com/blinklabs-io/enledger/fixed"
	"github.com/blinklabs-io/enledger/types"
)

const (
	Name     = "EnergyToken"
	Symbol   = "EnTo"
	Decimals = fixed.Decimals

	componentName = "ledger"
)

type LedgerConfig struct {
	Logger        *slog.Logger
	PromRegistry  prometheus.Registerer
	InitialSupply *uint256.Int
	Admin         types.Address
	Treasury      types.Address
}

type Ledger struct {
	config      LedgerConfig
	logger      *slog.Logger
	metrics     *ledgerMetrics
	access      *access.Control
	balances    map[types.Address]*uint256.Int
	allowances  map[types.Address]map[types.Address]*uint256.Int
	totalSupply *uint256.Int
}

// New creates the ledger with the initial supply credited to the treasury
func New(cfg LedgerConfig) (*Ledger, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	if cfg.Admin == types.ZeroAddress {
		return nil, errors.New("ledger admin must be set")
	}
	if cfg.Treasury == types.ZeroAddress {
		return nil, errors.New("ledger treasury must be set")
	}
	l := &Ledger{
		config:      cfg,
		logger:      cfg.Logger.With("component", componentName),
		access:      access.NewControl(componentName),
		balances:    make(map[types.Address]*uint256.Int),
		allowances:  make(map[types.Address]map[types.Address]*uint256.Int),
		totalSupply: fixed.Clone(cfg.InitialSupply),
	}
	l.access.Bootstrap(types.RoleDefaultAdmin, cfg.Admin)
	if !l.totalSupply.IsZero() {
		l.balances[cfg.Treasury] = l.totalSupply.Clone()
	}
	if cfg.PromRegistry != nil {
		l.metrics = &ledgerMetrics{}
		l.metrics.init(cfg.PromRegistry)
		l.updateMetrics()
	}
	return l, nil
}

func (l *Ledger) Name() string {
	return Name
}

func (l *Ledger) Symbol() string {
	return Symbol
}

func (l *Ledger) Decimals() uint8 {
	return Decimals
}

// Treasury is the account that received the initial supply
func (l *Ledger) Treasury() types.Address {
	return l.config.Treasury
}

// Access exposes the ledger's role membership
func (l *Ledger) Access() *access.Control {
	return l.access
}

// HasRole reports whether account holds role on the ledger
func (l *Ledger) HasRole(role types.Role, account types.Address) bool {
	return l.access.HasRole(role, account)
}

// BalanceOf returns a copy of the balance of account
func (l *Ledger) BalanceOf(account types.Address) *uint256.Int {
	return fixed.Clone(l.balances[account])
}

// Allowance returns how much spender may still move on behalf of owner
func (l *Ledger) Allowance(owner types.Address, spender types.Address) *uint256.Int {
	return fixed.Clone(l.allowances[owner][spender])
}

// TotalSupply returns a copy of the current supply
func (l *Ledger) TotalSupply() *uint256.Int {
	return l.totalSupply.Clone()
}

// Holders returns the number of accounts with a non-zero balance
func (l *Ledger) Holders() int {
	return len(l.balances)
}

func (l *Ledger) GrantRole(tx *chain.Tx, role types.Role, account types.Address) error {
	return l.access.GrantRole(tx, role, account)
}

func (l *Ledger) RevokeRole(tx *chain.Tx, role types.Role, account types.Address) error {
	return l.access.RevokeRole(tx, role, account)
}

func (l *Ledger) RenounceRole(tx *chain.Tx, role types.Role, account types.Address) error {
	return l.access.RenounceRole(tx, role, account)
}

// Transfer moves amount from the sender to to
func (l *Ledger) Transfer(tx *chain.Tx, to types.Address, amount *uint256.Int) error {
	return l.transfer(tx, "ledger.transfer", tx.Sender(), to, amount)
}

// TransferFrom moves amount from from to to, spending the sender's allowance
func (l *Ledger) TransferFrom(
	tx *chain.Tx,
	from types.Address,
	to types.Address,
	amount *uint256.Int,
) error {
	const op = "ledger.transfer_from"
	if err := l.spendAllowance(tx, op, from, tx.Sender(), amount); err != nil {
		return err
	}
	return l.transfer(tx, op, from, to, amount)
}

// Approve sets the allowance of spender over the sender's tokens
func (l *Ledger) Approve(tx *chain.Tx, spender types.Address, amount *uint256.Int) error {
	return l.approve(tx, "ledger.approve", tx.Sender(), spender, fixed.Clone(amount))
}

// IncreaseAllowance adds to the allowance of spender
func (l *Ledger) IncreaseAllowance(
	tx *chain.Tx,
	spender types.Address,
	added *uint256.Int,
) error {
	const op = "ledger.increase_allowance"
	newAllowance, err := fixed.Add(l.Allowance(tx.Sender(), spender), added)
	if err != nil {
		return types.NewError(types.KindValidation, op, err)
	}
	return l.approve(tx, op, tx.Sender(), spender, newAllowance)
}

// DecreaseAllowance subtracts from the allowance of spender
func (l *Ledger) DecreaseAllowance(
	tx *chain.Tx,
	spender types.Address,
	subtracted *uint256.Int,
) error {
	const op = "ledger.decrease_allowance"
	newAllowance, err := fixed.Sub(l.Allowance(tx.Sender(), spender), subtracted)
	if err != nil {
		return types.NewError(types.KindValidation, op, ErrAllowanceBelowZero)
	}
	return l.approve(tx, op, tx.Sender(), spender, newAllowance)
}

// Mint creates amount new tokens for to. The sender must hold the minter
// role.
func (l *Ledger) Mint(tx *chain.Tx, to types.Address, amount *uint256.Int) error {
	const op = "ledger.mint"
	if err := l.access.Require(op, types.RoleMinter, tx.Sender()); err != nil {
		return err
	}
	if to == types.ZeroAddress {
		return types.NewError(types.KindValidation, op, ErrZeroAddress)
	}
	newSupply, err := fixed.Add(l.totalSupply, amount)
	if err != nil {
		return types.NewError(types.KindValidation, op, err)
	}
	newBalance, err := fixed.Add(l.BalanceOf(to), amount)
	if err != nil {
		return types.NewError(types.KindValidation, op, err)
	}
	l.setSupply(tx, newSupply)
	l.setBalance(tx, to, newBalance)
	l.emitTransfer(tx, "mint", types.ZeroAddress, to, amount)
	return nil
}

// Burn destroys amount tokens held by from. The sender must hold the burner
// role.
func (l *Ledger) Burn(tx *chain.Tx, from types.Address, amount *uint256.Int) error {
	const op = "ledger.burn"
	if err := l.access.Require(op, types.RoleBurner, tx.Sender()); err != nil {
		return err
	}
	return l.burn(tx, op, from, amount)
}

// BurnOwn destroys amount of the sender's own tokens
func (l *Ledger) BurnOwn(tx *chain.Tx, amount *uint256.Int) error {
	return l.burn(tx, "ledger.burn_own", tx.Sender(), amount)
}

// BurnFrom destroys amount of from's tokens, spending the sender's allowance
func (l *Ledger) BurnFrom(tx *chain.Tx, from types.Address, amount *uint256.Int) error {
	const op = "ledger.burn_from"
	if err := l.spendAllowance(tx, op, from, tx.Sender(), amount); err != nil {
		return err
	}
	return l.burn(tx, op, from, amount)
}

func (l *Ledger) burn(
	tx *chain.Tx,
	op string,
	from types.Address,
	amount *uint256.Int,
) error {
	if from == types.ZeroAddress {
		return types.NewError(types.KindValidation, op, ErrZeroAddress)
	}
	newBalance, err := fixed.Sub(l.BalanceOf(from), amount)
	if err != nil {
		return types.NewError(
			types.KindValidation,
			op,
			&BalanceError{Account: from, Have: l.BalanceOf(from), Want: fixed.Clone(amount)},
		)
	}
	// Supply is at least any single balance, so this cannot underflow
	newSupply, err := fixed.Sub(l.totalSupply, amount)
	if err != nil {
		return types.NewError(types.KindValidation, op, err)
	}
	l.setBalance(tx, from, newBalance)
	l.setSupply(tx, newSupply)
	l.emitTransfer(tx, "burn", from, types.ZeroAddress, amount)
	return nil
}

func (l *Ledger) transfer(
	tx *chain.Tx,
	op string,
	from types.Address,
	to types.Address,
	amount *uint256.Int,
) error {
	if from == types.ZeroAddress || to == types.ZeroAddress {
		return types.NewError(types.KindValidation, op, ErrZeroAddress)
	}
	fromBalance := l.BalanceOf(from)
	newFrom, err := fixed.Sub(fromBalance, amount)
	if err != nil {
		return types.NewError(
			types.KindValidation,
			op,
			&BalanceError{Account: from, Have: fromBalance, Want: fixed.Clone(amount)},
		)
	}
	l.setBalance(tx, from, newFrom)
	newTo, err := fixed.Add(l.BalanceOf(to), amount)
	if err != nil {
		return types.NewError(types.KindValidation, op, err)
	}
	l.setBalance(tx, to, newTo)
	l.emitTransfer(tx, "transfer", from, to, amount)
	return nil
}

func (l *Ledger) spendAllowance(
	tx *chain.Tx,
	op string,
	owner types.Address,
	spender types.Address,
	amount *uint256.Int,
) error {
	current := l.Allowance(owner, spender)
	if fixed.IsMax(current) {
		return nil
	}
	remaining, err := fixed.Sub(current, amount)
	if err != nil {
		return types.NewError(
			types.KindValidation,
			op,
			&AllowanceError{Owner: owner, Spender: spender, Have: current, Want: fixed.Clone(amount)},
		)
	}
	l.setAllowance(tx, owner, spender, remaining)
	return nil
}

func (l *Ledger) approve(
	tx *chain.Tx,
	op string,
	owner types.Address,
	spender types.Address,
	amount *uint256.Int,
) error {
	if owner == types.ZeroAddress || spender == types.ZeroAddress {
		return types.NewError(types.KindValidation, op, ErrZeroAddress)
	}
	l.setAllowance(tx, owner, spender, amount)
	tx.Emit(ApprovalEventType, ApprovalEvent{
		Owner:   owner,
		Spender: spender,
		Amount:  amount.Clone(),
	})
	return nil
}

func (l *Ledger) emitTransfer(
	tx *chain.Tx,
	kind string,
	from types.Address,
	to types.Address,
	amount *uint256.Int,
) {
	tx.Emit(TransferEventType, TransferEvent{
		From:   from,
		To:     to,
		Amount: amount.Clone(),
	})
	if l.metrics != nil {
		tx.OnCommit(func() {
			l.metrics.transfers.WithLabelValues(kind).Inc()
			l.updateMetrics()
		})
	}
}

func (l *Ledger) updateMetrics() {
	if l.metrics == nil {
		return
	}
	l.metrics.totalSupply.Set(fixed.Float64(l.totalSupply))
	l.metrics.holders.Set(float64(len(l.balances)))
}

// setBalance replaces the balance of account. Balance values are never
// mutated in place, so the previous pointer is safe to restore.
func (l *Ledger) setBalance(tx *chain.Tx, account types.Address, amount *uint256.Int) {
	prev, existed := l.balances[account]
	if amount.IsZero() {
		delete(l.balances, account)
	} else {
		l.balances[account] = amount
	}
	tx.OnRevert(func() {
		if existed {
			l.balances[account] = prev
		} else {
			delete(l.balances, account)
		}
	})
}

func (l *Ledger) setSupply(tx *chain.Tx, amount *uint256.Int) {
	prev := l.totalSupply
	l.totalSupply = amount
	tx.OnRevert(func() { l.totalSupply = prev })
}

func (l *Ledger) setAllowance(
	tx *chain.Tx,
	owner types.Address,
	spender types.Address,
	amount *uint256.Int,
) {
	if _, ok := l.allowances[owner]; !ok {
		l.allowances[owner] = make(map[types.Address]*uint256.Int)
	}
	prev, existed := l.allowances[owner][spender]
	l.allowances[owner][spender] = amount
	tx.OnRevert(func() {
		if existed {
			l.allowances[owner][spender] = prev
		} else {
			delete(l.allowances[owner], spender)
		}
	})
}

// BalanceError reports an attempt to move more than an account holds. It
// matches ErrInsufficientBalance.
type BalanceError struct {
	Have    *uint256.Int
	Want    *uint256.Int
	Account types.Address
}

func (e *BalanceError) Error() string {
	return fmt.Sprintf(
		"%v: account %s has %s, needs %s",
		ErrInsufficientBalance,
		e.Account.Hex(),
		fixed.Format(e.Have),
		fixed.Format(e.Want),
	)
}

func (e *BalanceError) Is(target error) bool {
	return target == ErrInsufficientBalance
}

// AllowanceError reports a spend beyond the approved amount. It matches
// ErrInsufficientAllowance.
type AllowanceError struct {
	Have    *uint256.Int
	Want    *uint256.Int
	Owner   types.Address
	Spender types.Address
}

func (e *AllowanceError) Error() string {
	return fmt.Sprintf(
		"%v: %s may spend %s of %s, needs %s",
		ErrInsufficientAllowance,
		e.Spender.Hex(),
		fixed.Format(e.Have),
		e.Owner.Hex(),
		fixed.Format(e.Want),
	)
}

func (e *AllowanceError) Is(target error) bool {
	return target == ErrInsufficientAllowance
}
