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

package trade

import (
	"errors"

	"github.com/holiman/uint256"

	"github.com/blinklabs-io/enledger/chain"
	"github.com/blinklabs-io/enledger/fixed"
	"github.com/blinklabs-io/enledger/types"
)

var (
	ErrAlreadySeeded = errors.New("pool already seeded")
	ErrNotSeeded     = errors.New("pool not seeded")
	ErrSlippage      = errors.New("output below minimum")
	ErrZeroOutput    = errors.New("swap output rounds to zero")
	ErrUnbackedKWh   = errors.New("kWh sold exceeds kWh bought")
)

// Reserves returns the pool's EnTo and kWh
func (t *Trade) Reserves() (*uint256.Int, uint64) {
	return t.reserveEnTo.Clone(), t.reserveKWh
}

func (t *Trade) Seeded() bool {
	return t.seeded
}

// SwapOut is the constant-product output for amountIn after the fee:
// reserveOut × in' / (reserveIn + in'), in' = amountIn × (10000 − fee) / 10000
func SwapOut(
	amountIn *uint256.Int,
	reserveIn *uint256.Int,
	reserveOut *uint256.Int,
	feeBps uint64,
) (*uint256.Int, error) {
	inAfterFee, err := fixed.Bps(amountIn, fixed.BpsDenominator-feeBps)
	if err != nil {
		return nil, err
	}
	denominator, err := fixed.Add(reserveIn, inAfterFee)
	if err != nil {
		return nil, err
	}
	return fixed.MulDiv(reserveOut, inAfterFee, denominator)
}

// PreviewAmmEnToForKwh quotes the kWh AmmSwapEnToForKwh would return
func (t *Trade) PreviewAmmEnToForKwh(enToIn *uint256.Int) (uint64, error) {
	if !t.seeded {
		return 0, ErrNotSeeded
	}
	out, err := SwapOut(enToIn, t.reserveEnTo, uint256.NewInt(t.reserveKWh), t.feeBps)
	if err != nil {
		return 0, err
	}
	// Always below reserveKWh
	return out.Uint64(), nil
}

// PreviewAmmKwhForEnTo quotes the EnTo AmmSwapKwhForEnTo would return
func (t *Trade) PreviewAmmKwhForEnTo(kWhIn uint64) (*uint256.Int, error) {
	if !t.seeded {
		return nil, ErrNotSeeded
	}
	return SwapOut(uint256.NewInt(kWhIn), uint256.NewInt(t.reserveKWh), t.reserveEnTo, t.feeBps)
}

// SeedAmm sets the initial reserves, pulling EnTo from the treasury (admin,
// once)
func (t *Trade) SeedAmm(tx *chain.Tx, enToAmount *uint256.Int, kWhAmount uint64) error {
	const op = "trade.seed_amm"
	if err := t.access.Require(op, types.RoleDefaultAdmin, tx.Sender()); err != nil {
		return err
	}
	if t.seeded {
		return types.NewError(types.KindState, op, ErrAlreadySeeded)
	}
	if enToAmount == nil || enToAmount.IsZero() || kWhAmount == 0 {
		return types.NewError(types.KindValidation, op, ErrZeroAmount)
	}
	if err := t.ledger.TransferFrom(
		tx.As(t.config.Address),
		t.ledger.Treasury(),
		t.config.Address,
		enToAmount,
	); err != nil {
		return err
	}
	t.setReserves(tx, enToAmount.Clone(), kWhAmount)
	t.seeded = true
	tx.OnRevert(func() { t.seeded = false })
	tx.Emit(AmmSeededEventType, AmmSeededEvent{
		EnTo: enToAmount.Clone(),
		KWh:  kWhAmount,
	})
	t.logger.Info(
		"amm seeded",
		"ento", fixed.Format(enToAmount),
		"kwh", kWhAmount,
	)
	t.observe(tx)
	return nil
}

// AmmSwapEnToForKwh sells EnTo to the pool for kWh
func (t *Trade) AmmSwapEnToForKwh(tx *chain.Tx, enToIn *uint256.Int, minKWhOut uint64) (uint64, error) {
	const op = "trade.amm_swap_ento_for_kwh"
	trader := tx.Sender()
	if !t.seeded {
		return 0, types.NewError(types.KindState, op, ErrNotSeeded)
	}
	if enToIn == nil || enToIn.IsZero() {
		return 0, types.NewError(types.KindValidation, op, ErrZeroAmount)
	}
	kWhOut, err := t.PreviewAmmEnToForKwh(enToIn)
	if err != nil {
		return 0, types.NewError(types.KindValidation, op, err)
	}
	if kWhOut == 0 {
		return 0, types.NewError(types.KindValidation, op, ErrZeroOutput)
	}
	if kWhOut < minKWhOut {
		return 0, types.Errorf(types.KindValidation, op, "%w: %d < %d", ErrSlippage, kWhOut, minKWhOut)
	}
	reserveEnTo, err := fixed.Add(t.reserveEnTo, enToIn)
	if err != nil {
		return 0, types.NewError(types.KindValidation, op, err)
	}
	if err := t.ledger.TransferFrom(tx.As(t.config.Address), trader, t.config.Address, enToIn); err != nil {
		return 0, err
	}
	t.setReserves(tx, reserveEnTo, t.reserveKWh-kWhOut)
	t.addPosition(tx, trader, types.ZeroAddress, kWhOut)
	tx.Emit(AmmSwapEnToForKwhEventType, AmmSwapEvent{
		Trader:      trader,
		EnTo:        enToIn.Clone(),
		KWh:         kWhOut,
		ReserveEnTo: reserveEnTo.Clone(),
		ReserveKWh:  t.reserveKWh,
	})
	if t.metrics != nil {
		tx.OnCommit(func() {
			t.metrics.ammSwaps.WithLabelValues("ento_for_kwh").Inc()
			t.metrics.kWhTraded.WithLabelValues("amm").Add(float64(kWhOut))
		})
	}
	t.observe(tx)
	return kWhOut, nil
}

// AmmSwapKwhForEnTo sells kWh to the pool for EnTo. The kWh is a claim the
// trader makes about energy delivered outside the ledger: nothing is debited
// and the pool pays for it on trust. With RequireKWhBacking set, a trader can
// only sell what their position shows as bought and not yet sold.
func (t *Trade) AmmSwapKwhForEnTo(tx *chain.Tx, kWhIn uint64, minEnToOut *uint256.Int) (*uint256.Int, error) {
	const op = "trade.amm_swap_kwh_for_ento"
	trader := tx.Sender()
	if !t.seeded {
		return nil, types.NewError(types.KindState, op, ErrNotSeeded)
	}
	if kWhIn == 0 {
		return nil, types.NewError(types.KindValidation, op, ErrZeroAmount)
	}
	if t.reserveKWh+kWhIn < t.reserveKWh {
		return nil, types.NewError(types.KindValidation, op, fixed.ErrOverflow)
	}
	if t.config.RequireKWhBacking {
		if backed := t.Position(trader).Backing(); kWhIn > backed {
			return nil, types.Errorf(
				types.KindValidation,
				op,
				"%w: %d > %d",
				ErrUnbackedKWh,
				kWhIn,
				backed,
			)
		}
	}
	enToOut, err := t.PreviewAmmKwhForEnTo(kWhIn)
	if err != nil {
		return nil, types.NewError(types.KindValidation, op, err)
	}
	if enToOut.IsZero() {
		return nil, types.NewError(types.KindValidation, op, ErrZeroOutput)
	}
	if minEnToOut != nil && enToOut.Lt(minEnToOut) {
		return nil, types.Errorf(
			types.KindValidation,
			op,
			"%w: %s < %s",
			ErrSlippage,
			fixed.Format(enToOut),
			fixed.Format(minEnToOut),
		)
	}
	reserveEnTo := new(uint256.Int).Sub(t.reserveEnTo, enToOut)
	if err := t.ledger.Transfer(tx.As(t.config.Address), trader, enToOut); err != nil {
		return nil, err
	}
	t.setReserves(tx, reserveEnTo, t.reserveKWh+kWhIn)
	t.addPosition(tx, types.ZeroAddress, trader, kWhIn)
	tx.Emit(AmmSwapKwhForEnToEventType, AmmSwapEvent{
		Trader:      trader,
		EnTo:        enToOut.Clone(),
		KWh:         kWhIn,
		ReserveEnTo: reserveEnTo.Clone(),
		ReserveKWh:  t.reserveKWh,
	})
	if t.metrics != nil {
		tx.OnCommit(func() {
			t.metrics.ammSwaps.WithLabelValues("kwh_for_ento").Inc()
			t.metrics.kWhTraded.WithLabelValues("amm").Add(float64(kWhIn))
		})
	}
	t.observe(tx)
	return enToOut, nil
}

func (t *Trade) setReserves(tx *chain.Tx, enTo *uint256.Int, kWh uint64) {
	prevEnTo, prevKWh := t.reserveEnTo, t.reserveKWh
	t.reserveEnTo = enTo
	t.reserveKWh = kWh
	tx.OnRevert(func() {
		t.reserveEnTo = prevEnTo
		t.reserveKWh = prevKWh
	})
}
