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

package gateway_test

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blinklabs-io/enledger/chain"
	"github.com/blinklabs-io/enledger/fixed"
	"github.com/blinklabs-io/enledger/gateway"
	"github.com/blinklabs-io/enledger/internal/test/testutil"
	"github.com/blinklabs-io/enledger/ledger"
	"github.com/blinklabs-io/enledger/types"
)

var (
	admin       = testutil.Address("admin")
	treasury    = testutil.Address("treasury")
	feeder      = testutil.Address("feeder")
	settlement  = testutil.Address("settlement")
	userA       = testutil.Address("userA")
	userB       = testutil.Address("userB")
	gatewayAddr = testutil.Address("gateway")
)

type fixture struct {
	exec     *chain.Executor
	clock    *chain.ManualClock
	ledger   *ledger.Ledger
	gw       *gateway.Gateway
	registry *prometheus.Registry
}

func newFixture(t *testing.T, limits gateway.Limits) *fixture {
	t.Helper()
	e, clock := testutil.NewExecutor(t)
	l, err := ledger.New(ledger.LedgerConfig{
		Admin:         admin,
		Treasury:      treasury,
		InitialSupply: testutil.Units(100_000),
	})
	require.NoError(t, err)
	registry := prometheus.NewRegistry()
	g, err := gateway.New(gateway.GatewayConfig{
		PromRegistry: registry,
		Ledger:       l,
		Address:      gatewayAddr,
		Admin:        admin,
		MarketRate18: fixed.MustParse("0.10"),
		Limits:       limits,
	})
	require.NoError(t, err)
	f := &fixture{exec: e, clock: clock, ledger: l, gw: g, registry: registry}
	require.NoError(t, f.run(t, admin, func(tx *chain.Tx) error {
		if err := g.GrantRole(tx, types.RolePriceFeeder, feeder); err != nil {
			return err
		}
		return g.GrantRole(tx, types.RoleSettlement, settlement)
	}))
	require.NoError(t, f.run(t, treasury, func(tx *chain.Tx) error {
		if err := l.Approve(tx, gatewayAddr, fixed.Max()); err != nil {
			return err
		}
		return l.Transfer(tx, userA, testutil.Units(5_000))
	}))
	require.NoError(t, f.run(t, userA, func(tx *chain.Tx) error {
		return l.Approve(tx, gatewayAddr, fixed.Max())
	}))
	return f
}

func (f *fixture) run(t *testing.T, sender types.Address, fn func(*chain.Tx) error) error {
	t.Helper()
	return chain.Exec(context.Background(), f.exec, sender, "test", fn)
}

func (f *fixture) call(
	t *testing.T,
	sender types.Address,
	fn func(*chain.Tx) (gateway.Request, error),
) (gateway.Request, error) {
	t.Helper()
	return chain.Call(context.Background(), f.exec, sender, "test", fn)
}

func TestPreviewAppliesSpreads(t *testing.T) {
	f := newFixture(t, gateway.Limits{})
	require.NoError(t, f.run(t, feeder, func(tx *chain.Tx) error {
		return f.gw.SetMarketRate(tx, fixed.MustParse("0.125"))
	}))
	require.NoError(t, f.run(t, admin, func(tx *chain.Tx) error {
		return f.gw.SetSpreads(tx, 2_000, 2_000)
	}))
	enTo, buyRate, err := f.gw.PreviewBuy(testutil.Units(10_000))
	require.NoError(t, err)
	testutil.RequireAmount(t, fixed.MustParse("0.1"), buyRate)
	testutil.RequireUnits(t, 1_000, enTo)

	require.NoError(t, f.run(t, feeder, func(tx *chain.Tx) error {
		return f.gw.SetMarketRate(tx, fixed.MustParse("0.10"))
	}))
	fiat, sellRate, err := f.gw.PreviewSell(testutil.Units(1_200))
	require.NoError(t, err)
	testutil.RequireAmount(t, fixed.MustParse("0.12"), sellRate)
	testutil.RequireUnits(t, 10_000, fiat)
	assert.InDelta(t, 0.10, gaugeValue(t, f.registry, "enledger_gateway_market_rate"), 1e-9)
}

func gaugeValue(t *testing.T, registry *prometheus.Registry, name string) float64 {
	t.Helper()
	families, err := registry.Gather()
	require.NoError(t, err)
	for _, family := range families {
		if family.GetName() == name {
			return family.GetMetric()[0].GetGauge().GetValue()
		}
	}
	t.Fatalf("metric %s not registered", name)
	return 0
}

func TestBuyFlow(t *testing.T) {
	f := newFixture(t, gateway.Limits{})
	require.NoError(t, f.run(t, admin, func(tx *chain.Tx) error {
		return f.gw.SetSpreads(tx, 500, 500)
	}))
	r, err := f.call(t, userB, func(tx *chain.Tx) (gateway.Request, error) {
		return f.gw.InitiateBuy(tx, testutil.Units(10_000))
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(1), r.ID)
	assert.Equal(t, f.gw.LastRequestID(), r.ID)
	assert.Equal(t, gateway.StatusPending, r.Status)
	// 10,000 fiat at 0.095
	testutil.RequireUnits(t, 950, r.EnTo)

	// A rate change after initiation does not move the quote
	require.NoError(t, f.run(t, feeder, func(tx *chain.Tx) error {
		return f.gw.SetMarketRate(tx, fixed.MustParse("0.20"))
	}))

	_, err = f.call(t, userB, func(tx *chain.Tx) (gateway.Request, error) {
		return f.gw.ConfirmFiatDeposit(tx, r.ID)
	})
	require.ErrorIs(t, err, types.ErrAuthorization)

	settled, err := f.call(t, settlement, func(tx *chain.Tx) (gateway.Request, error) {
		return f.gw.ConfirmFiatDeposit(tx, r.ID)
	})
	require.NoError(t, err)
	assert.Equal(t, gateway.StatusSettled, settled.Status)
	testutil.RequireUnits(t, 950, f.ledger.BalanceOf(userB))
	testutil.RequireUnits(t, 100_000-5_000-950, f.ledger.BalanceOf(treasury))

	_, err = f.call(t, settlement, func(tx *chain.Tx) (gateway.Request, error) {
		return f.gw.ConfirmFiatDeposit(tx, r.ID)
	})
	require.ErrorIs(t, err, types.ErrStateError)
	require.ErrorIs(t, err, gateway.ErrRequestNotPending)

	_, err = f.call(t, settlement, func(tx *chain.Tx) (gateway.Request, error) {
		return f.gw.ConfirmFiatDeposit(tx, 42)
	})
	require.ErrorIs(t, err, gateway.ErrRequestNotFound)
}

func TestSellPayoutAndRefund(t *testing.T) {
	f := newFixture(t, gateway.Limits{})
	require.NoError(t, f.run(t, admin, func(tx *chain.Tx) error {
		return f.gw.SetSpreads(tx, 400, 0)
	}))
	sell, err := f.call(t, userA, func(tx *chain.Tx) (gateway.Request, error) {
		return f.gw.InitiateSell(tx, testutil.Units(1_000))
	})
	require.NoError(t, err)
	testutil.RequireUnits(t, 10_000, sell.Fiat)
	testutil.RequireUnits(t, 4_000, f.ledger.BalanceOf(userA))
	testutil.RequireUnits(t, 1_000, f.gw.Escrow())
	testutil.RequireUnits(t, 1_000, f.ledger.BalanceOf(gatewayAddr))

	// A sell cannot be confirmed as a deposit
	_, err = f.call(t, settlement, func(tx *chain.Tx) (gateway.Request, error) {
		return f.gw.ConfirmFiatDeposit(tx, sell.ID)
	})
	require.ErrorIs(t, err, gateway.ErrWrongSide)

	paid, err := f.call(t, settlement, func(tx *chain.Tx) (gateway.Request, error) {
		return f.gw.ConfirmFiatPayout(tx, sell.ID)
	})
	require.NoError(t, err)
	assert.Equal(t, gateway.StatusSettled, paid.Status)
	testutil.RequireUnits(t, 0, f.gw.Escrow())
	testutil.RequireUnits(t, 100_000-5_000+1_000, f.ledger.BalanceOf(treasury))

	refund, err := f.call(t, userA, func(tx *chain.Tx) (gateway.Request, error) {
		return f.gw.InitiateSell(tx, testutil.Units(300))
	})
	require.NoError(t, err)
	_, err = f.call(t, userA, func(tx *chain.Tx) (gateway.Request, error) {
		return f.gw.RefundSell(tx, refund.ID)
	})
	require.ErrorIs(t, err, types.ErrAuthorization)
	refunded, err := f.call(t, settlement, func(tx *chain.Tx) (gateway.Request, error) {
		return f.gw.RefundSell(tx, refund.ID)
	})
	require.NoError(t, err)
	assert.Equal(t, gateway.StatusRefunded, refunded.Status)
	testutil.RequireUnits(t, 4_000, f.ledger.BalanceOf(userA))
	testutil.RequireUnits(t, 0, f.gw.Escrow())
	// Refunds still count toward the day
	testutil.RequireUnits(t, 1_300, f.gw.RedeemedOn(f.exec.Snapshot().Time))
}

func TestLimits(t *testing.T) {
	f := newFixture(t, gateway.Limits{
		MaxSingleBuyFiat:   testutil.Units(1_000),
		MaxSingleSellEnTo:  testutil.Units(500),
		DailyRedeemCapEnTo: testutil.Units(1_000_000),
	})
	_, err := f.call(t, userA, func(tx *chain.Tx) (gateway.Request, error) {
		return f.gw.InitiateBuy(tx, testutil.Units(5_000))
	})
	require.ErrorIs(t, err, types.ErrValidation)
	require.ErrorIs(t, err, gateway.ErrLimitExceeded)
	_, err = f.call(t, userA, func(tx *chain.Tx) (gateway.Request, error) {
		return f.gw.InitiateSell(tx, testutil.Units(600))
	})
	require.ErrorIs(t, err, gateway.ErrLimitExceeded)
	_, err = f.call(t, userA, func(tx *chain.Tx) (gateway.Request, error) {
		return f.gw.InitiateBuy(tx, fixed.Zero())
	})
	require.ErrorIs(t, err, gateway.ErrZeroAmount)
	assert.Equal(t, uint64(0), f.gw.LastRequestID())
}

func TestDailyRedeemCap(t *testing.T) {
	f := newFixture(t, gateway.Limits{DailyRedeemCapEnTo: testutil.Units(1_500)})
	_, err := f.call(t, userA, func(tx *chain.Tx) (gateway.Request, error) {
		return f.gw.InitiateSell(tx, testutil.Units(1_000))
	})
	require.NoError(t, err)
	_, err = f.call(t, userA, func(tx *chain.Tx) (gateway.Request, error) {
		return f.gw.InitiateSell(tx, testutil.Units(800))
	})
	require.ErrorIs(t, err, gateway.ErrDailyCapExceeded)
	// The rejected sell escrowed nothing
	testutil.RequireUnits(t, 4_000, f.ledger.BalanceOf(userA))

	f.clock.Advance(24*time.Hour + 10*time.Second)
	_, err = f.call(t, userA, func(tx *chain.Tx) (gateway.Request, error) {
		return f.gw.InitiateSell(tx, testutil.Units(800))
	})
	require.NoError(t, err)
	testutil.RequireUnits(t, 1_800, f.gw.Escrow())
}

func TestCancelBuy(t *testing.T) {
	f := newFixture(t, gateway.Limits{})
	r, err := f.call(t, userA, func(tx *chain.Tx) (gateway.Request, error) {
		return f.gw.InitiateBuy(tx, testutil.Units(1_000))
	})
	require.NoError(t, err)
	_, err = f.call(t, userB, func(tx *chain.Tx) (gateway.Request, error) {
		return f.gw.CancelRequest(tx, r.ID)
	})
	require.ErrorIs(t, err, gateway.ErrNotRequester)
	cancelled, err := f.call(t, userA, func(tx *chain.Tx) (gateway.Request, error) {
		return f.gw.CancelRequest(tx, r.ID)
	})
	require.NoError(t, err)
	assert.Equal(t, gateway.StatusCancelled, cancelled.Status)
	_, err = f.call(t, settlement, func(tx *chain.Tx) (gateway.Request, error) {
		return f.gw.ConfirmFiatDeposit(tx, r.ID)
	})
	require.ErrorIs(t, err, gateway.ErrRequestNotPending)
}

func TestAdminGuards(t *testing.T) {
	f := newFixture(t, gateway.Limits{})
	testDefs := []struct {
		name string
		fn   func(*chain.Tx) error
	}{
		{"rate", func(tx *chain.Tx) error { return f.gw.SetMarketRate(tx, fixed.MustParse("0.2")) }},
		{"spreads", func(tx *chain.Tx) error { return f.gw.SetSpreads(tx, 100, 100) }},
		{"limits", func(tx *chain.Tx) error { return f.gw.SetLimits(tx, gateway.DefaultLimits()) }},
		{"buy spread", func(tx *chain.Tx) error { return f.gw.SetBuySpreadBps(tx, 10) }},
	}
	for _, testDef := range testDefs {
		err := f.run(t, userA, testDef.fn)
		require.ErrorIs(t, err, types.ErrAuthorization, testDef.name)
	}
	// Feeders may not change spreads
	err := f.run(t, feeder, func(tx *chain.Tx) error { return f.gw.SetSpreads(tx, 1, 1) })
	require.ErrorIs(t, err, types.ErrAuthorization)

	err = f.run(t, admin, func(tx *chain.Tx) error { return f.gw.SetSpreads(tx, 2_001, 0) })
	require.ErrorIs(t, err, gateway.ErrInvalidSpread)
	err = f.run(t, admin, func(tx *chain.Tx) error { return f.gw.SetMarketRate(tx, fixed.Zero()) })
	require.ErrorIs(t, err, gateway.ErrInvalidRate)
	err = f.run(t, admin, func(tx *chain.Tx) error { return f.gw.SetLimits(tx, gateway.Limits{}) })
	require.ErrorIs(t, err, gateway.ErrInvalidLimits)

	require.NoError(t, f.run(t, admin, func(tx *chain.Tx) error {
		if err := f.gw.SetBuySpreadBps(tx, 300); err != nil {
			return err
		}
		return f.gw.SetSellSpreadBps(tx, 700)
	}))
	buy, sell := f.gw.Spreads()
	assert.Equal(t, uint64(300), buy)
	assert.Equal(t, uint64(700), sell)
}
