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

package auction_test

import (
	"context"
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blinklabs-io/enledger/auction"
	"github.com/blinklabs-io/enledger/chain"
	"github.com/blinklabs-io/enledger/fixed"
	"github.com/blinklabs-io/enledger/internal/test/testutil"
	"github.com/blinklabs-io/enledger/ledger"
	"github.com/blinklabs-io/enledger/types"
)

const testMonth uint32 = 202508

var (
	admin       = testutil.Address("admin")
	treasury    = testutil.Address("treasury")
	deptA       = testutil.Address("deptA")
	deptB       = testutil.Address("deptB")
	auctionAddr = testutil.Address("auction")
)

type fixture struct {
	exec    *chain.Executor
	ledger  *ledger.Ledger
	auction *auction.Auction
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	e, _ := testutil.NewExecutor(t)
	l, err := ledger.New(ledger.LedgerConfig{
		Admin:         admin,
		Treasury:      treasury,
		InitialSupply: testutil.Units(100_000),
	})
	require.NoError(t, err)
	a, err := auction.New(auction.AuctionConfig{
		Ledger:        l,
		GenesisSupply: testutil.Units(100_000),
		Address:       auctionAddr,
		Admin:         admin,
	})
	require.NoError(t, err)
	return &fixture{exec: e, ledger: l, auction: a}
}

func (f *fixture) run(t *testing.T, sender types.Address, fn func(*chain.Tx) error) error {
	t.Helper()
	return chain.Exec(context.Background(), f.exec, sender, "test", fn)
}

// fund gives dept enough EnTo for amount and approves the auction
func (f *fixture) fund(t *testing.T, dept types.Address, amount *uint256.Int) {
	t.Helper()
	require.NoError(t, f.run(t, treasury, func(tx *chain.Tx) error {
		return f.ledger.Transfer(tx, dept, amount)
	}))
	require.NoError(t, f.run(t, dept, func(tx *chain.Tx) error {
		return f.ledger.Approve(tx, auctionAddr, amount)
	}))
}

func (f *fixture) buy(t *testing.T, dept types.Address, month uint32, kWh uint64) (auction.Pack, error) {
	t.Helper()
	return chain.Call(context.Background(), f.exec, dept, "auction.buy_pack", func(tx *chain.Tx) (auction.Pack, error) {
		return f.auction.BuyPack(tx, month, kWh)
	})
}

func TestBuyPackChargesExactly(t *testing.T) {
	f := newFixture(t)
	price := f.auction.PreviewCurrentUnitPrice18()
	require.False(t, price.IsZero())
	const kWh = 2_000
	debit, err := auction.EnToForKWh(kWh, price)
	require.NoError(t, err)
	f.fund(t, deptA, debit)

	pack, err := f.buy(t, deptA, testMonth, kWh)
	require.NoError(t, err)
	assert.Equal(t, uint64(kWh), pack.KWhPurchased)
	testutil.RequireAmount(t, debit, pack.EnToPaid)
	testutil.RequireAmount(t, price, pack.UnitPrice18)
	assert.True(t, f.ledger.BalanceOf(deptA).IsZero())
	testutil.RequireUnits(t, 100_000, f.ledger.BalanceOf(treasury))

	// enToPaid × unitPrice18 == kWh × 10^18
	lhs, err := fixed.Mul(pack.EnToPaid, pack.UnitPrice18)
	require.NoError(t, err)
	rhs, err := fixed.Mul(uint256.NewInt(kWh), fixed.One())
	require.NoError(t, err)
	testutil.RequireAmount(t, rhs, lhs)

	stored, ok := f.auction.Pack(testMonth, deptA)
	require.True(t, ok)
	assert.Equal(t, pack, stored)
	_, ok = f.auction.Pack(testMonth, deptB)
	assert.False(t, ok)
}

func TestBuyPackRequiresBalanceAndAllowance(t *testing.T) {
	f := newFixture(t)
	quote, err := f.auction.QuoteEnTo(1_000)
	require.NoError(t, err)

	_, err = f.buy(t, deptA, testMonth, 1_000)
	require.ErrorIs(t, err, ledger.ErrInsufficientAllowance)

	require.NoError(t, f.run(t, treasury, func(tx *chain.Tx) error {
		return f.ledger.Transfer(tx, deptA, quote)
	}))
	_, err = f.buy(t, deptA, testMonth, 1_000)
	require.ErrorIs(t, err, types.ErrValidation)
	require.ErrorIs(t, err, ledger.ErrInsufficientAllowance)
	_, ok := f.auction.Pack(testMonth, deptA)
	assert.False(t, ok)
}

func TestBuyPackValidation(t *testing.T) {
	f := newFixture(t)
	_, err := f.buy(t, deptA, 202513, 100)
	require.ErrorIs(t, err, auction.ErrInvalidMonth)
	_, err = f.buy(t, deptA, testMonth, 0)
	require.ErrorIs(t, err, auction.ErrZeroKWh)
}

func TestMonthStatsWeightedAverage(t *testing.T) {
	f := newFixture(t)
	f.fund(t, deptA, testutil.Units(1_000))
	f.fund(t, deptB, testutil.Units(1_000))
	p1, err := f.buy(t, deptA, testMonth, 1_000)
	require.NoError(t, err)
	p2, err := f.buy(t, deptB, testMonth, 2_000)
	require.NoError(t, err)
	stats := f.auction.MonthStats(testMonth)
	assert.Equal(t, uint64(3_000), stats.TotalKWh)
	assert.Equal(t, uint32(2), stats.Purchases)
	total, err := fixed.Add(p1.EnToPaid, p2.EnToPaid)
	require.NoError(t, err)
	testutil.RequireAmount(t, total, stats.TotalEnTo)
	avg, err := auction.AveragePrice18(3_000, total)
	require.NoError(t, err)
	testutil.RequireAmount(t, avg, stats.AvgUnitPrice18)
	testutil.RequireAmount(t, total, f.auction.TotalEnToCollected())
	assert.Equal(t, uint64(3_000), f.auction.TotalKWhSold())

	empty := f.auction.MonthStats(202509)
	assert.Equal(t, uint64(0), empty.TotalKWh)
	assert.True(t, empty.TotalEnTo.IsZero())
}

func TestOnePackPerMonth(t *testing.T) {
	f := newFixture(t)
	f.fund(t, deptA, testutil.Units(1_000))
	_, err := f.buy(t, deptA, testMonth, 100)
	require.NoError(t, err)
	// Accumulates while disabled
	pack, err := f.buy(t, deptA, testMonth, 100)
	require.NoError(t, err)
	assert.Equal(t, uint64(200), pack.KWhPurchased)
	assert.Equal(t, uint32(2), pack.Purchases)

	err = f.run(t, deptA, func(tx *chain.Tx) error {
		return f.auction.SetOnePackPerMonth(tx, true)
	})
	require.ErrorIs(t, err, types.ErrAuthorization)
	require.NoError(t, f.run(t, admin, func(tx *chain.Tx) error {
		return f.auction.SetOnePackPerMonth(tx, true)
	}))
	_, err = f.buy(t, deptA, testMonth, 100)
	require.ErrorIs(t, err, types.ErrStateError)
	require.ErrorIs(t, err, auction.ErrPackExists)
	_, err = f.buy(t, deptA, 202509, 100)
	require.NoError(t, err)
}

func TestSetCurveParams(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.run(t, admin, func(tx *chain.Tx) error {
		return f.auction.SetCurveParams(tx, 20, 5_000)
	}))
	base, slope := f.auction.CurveParams()
	assert.Equal(t, uint64(20), base)
	assert.Equal(t, uint64(5_000), slope)
	err := f.run(t, admin, func(tx *chain.Tx) error {
		return f.auction.SetCurveParams(tx, 0, 5_000)
	})
	require.ErrorIs(t, err, auction.ErrInvalidCurve)
}
