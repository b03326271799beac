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

package ledger_test

import (
	"context"
	"testing"

	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blinklabs-io/enledger/chain"
	"github.com/blinklabs-io/enledger/fixed"
	"github.com/blinklabs-io/enledger/internal/test/testutil"
	"github.com/blinklabs-io/enledger/ledger"
	"github.com/blinklabs-io/enledger/types"
)

var (
	admin    = testutil.Address("admin")
	treasury = testutil.Address("treasury")
	alice    = testutil.Address("alice")
	bob      = testutil.Address("bob")
	minter   = testutil.Address("minter")
)

func newTestLedger(t *testing.T) (*ledger.Ledger, *chain.Executor) {
	t.Helper()
	e, _ := testutil.NewExecutor(t)
	l, err := ledger.New(ledger.LedgerConfig{
		Admin:         admin,
		Treasury:      treasury,
		InitialSupply: testutil.Units(1_000_000),
		PromRegistry:  prometheus.NewRegistry(),
	})
	require.NoError(t, err)
	return l, e
}

func exec(t *testing.T, e *chain.Executor, sender types.Address, fn func(*chain.Tx) error) error {
	t.Helper()
	return chain.Exec(context.Background(), e, sender, "test", fn)
}

func TestGenesis(t *testing.T) {
	l, _ := newTestLedger(t)
	assert.Equal(t, "EnergyToken", l.Name())
	assert.Equal(t, "EnTo", l.Symbol())
	assert.Equal(t, uint8(18), l.Decimals())
	testutil.RequireUnits(t, 1_000_000, l.TotalSupply())
	testutil.RequireUnits(t, 1_000_000, l.BalanceOf(treasury))
	assert.True(t, l.HasRole(types.RoleDefaultAdmin, admin))

	_, err := ledger.New(ledger.LedgerConfig{Treasury: treasury})
	require.Error(t, err)
}

func TestTransfer(t *testing.T) {
	l, e := newTestLedger(t)
	require.NoError(t, exec(t, e, treasury, func(tx *chain.Tx) error {
		return l.Transfer(tx, alice, testutil.Units(100))
	}))
	testutil.RequireUnits(t, 100, l.BalanceOf(alice))
	testutil.RequireUnits(t, 999_900, l.BalanceOf(treasury))

	err := exec(t, e, alice, func(tx *chain.Tx) error {
		return l.Transfer(tx, bob, testutil.Units(101))
	})
	require.ErrorIs(t, err, types.ErrValidation)
	require.ErrorIs(t, err, ledger.ErrInsufficientBalance)
	testutil.RequireUnits(t, 100, l.BalanceOf(alice))

	err = exec(t, e, alice, func(tx *chain.Tx) error {
		return l.Transfer(tx, types.ZeroAddress, testutil.Units(1))
	})
	require.ErrorIs(t, err, ledger.ErrZeroAddress)

	receipt, err := e.Receipt(1)
	require.NoError(t, err)
	require.Len(t, receipt.Events, 1)
	evt := receipt.Events[0].Data.(ledger.TransferEvent)
	assert.Equal(t, treasury, evt.From)
	assert.Equal(t, alice, evt.To)
}

func TestSelfTransferKeepsBalance(t *testing.T) {
	l, e := newTestLedger(t)
	require.NoError(t, exec(t, e, treasury, func(tx *chain.Tx) error {
		return l.Transfer(tx, treasury, testutil.Units(10))
	}))
	testutil.RequireUnits(t, 1_000_000, l.BalanceOf(treasury))
}

func TestAllowances(t *testing.T) {
	l, e := newTestLedger(t)
	require.NoError(t, exec(t, e, treasury, func(tx *chain.Tx) error {
		return l.Approve(tx, alice, testutil.Units(50))
	}))
	testutil.RequireUnits(t, 50, l.Allowance(treasury, alice))

	require.NoError(t, exec(t, e, alice, func(tx *chain.Tx) error {
		return l.TransferFrom(tx, treasury, bob, testutil.Units(30))
	}))
	testutil.RequireUnits(t, 30, l.BalanceOf(bob))
	testutil.RequireUnits(t, 20, l.Allowance(treasury, alice))

	err := exec(t, e, alice, func(tx *chain.Tx) error {
		return l.TransferFrom(tx, treasury, bob, testutil.Units(21))
	})
	require.ErrorIs(t, err, ledger.ErrInsufficientAllowance)
	testutil.RequireUnits(t, 20, l.Allowance(treasury, alice))

	require.NoError(t, exec(t, e, treasury, func(tx *chain.Tx) error {
		return l.IncreaseAllowance(tx, alice, testutil.Units(5))
	}))
	testutil.RequireUnits(t, 25, l.Allowance(treasury, alice))
	require.NoError(t, exec(t, e, treasury, func(tx *chain.Tx) error {
		return l.DecreaseAllowance(tx, alice, testutil.Units(25))
	}))
	assert.True(t, l.Allowance(treasury, alice).IsZero())
	err = exec(t, e, treasury, func(tx *chain.Tx) error {
		return l.DecreaseAllowance(tx, alice, uint256.NewInt(1))
	})
	require.ErrorIs(t, err, ledger.ErrAllowanceBelowZero)

	err = exec(t, e, treasury, func(tx *chain.Tx) error {
		return l.Approve(tx, types.ZeroAddress, fixed.Zero())
	})
	require.ErrorIs(t, err, types.ErrValidation)
}

func TestInfiniteAllowanceNotDecremented(t *testing.T) {
	l, e := newTestLedger(t)
	require.NoError(t, exec(t, e, treasury, func(tx *chain.Tx) error {
		return l.Approve(tx, alice, fixed.Max())
	}))
	require.NoError(t, exec(t, e, alice, func(tx *chain.Tx) error {
		return l.TransferFrom(tx, treasury, bob, testutil.Units(10))
	}))
	assert.True(t, fixed.IsMax(l.Allowance(treasury, alice)))
}

func TestMintBurnRoles(t *testing.T) {
	l, e := newTestLedger(t)
	err := exec(t, e, minter, func(tx *chain.Tx) error {
		return l.Mint(tx, alice, testutil.Units(10))
	})
	require.ErrorIs(t, err, types.ErrAuthorization)

	require.NoError(t, exec(t, e, admin, func(tx *chain.Tx) error {
		if err := l.GrantRole(tx, types.RoleMinter, minter); err != nil {
			return err
		}
		return l.GrantRole(tx, types.RoleBurner, minter)
	}))
	require.NoError(t, exec(t, e, minter, func(tx *chain.Tx) error {
		return l.Mint(tx, alice, testutil.Units(10))
	}))
	testutil.RequireUnits(t, 1_000_010, l.TotalSupply())
	testutil.RequireUnits(t, 10, l.BalanceOf(alice))

	require.NoError(t, exec(t, e, minter, func(tx *chain.Tx) error {
		return l.Burn(tx, alice, testutil.Units(4))
	}))
	testutil.RequireUnits(t, 1_000_006, l.TotalSupply())

	require.NoError(t, exec(t, e, alice, func(tx *chain.Tx) error {
		return l.BurnOwn(tx, testutil.Units(6))
	}))
	assert.True(t, l.BalanceOf(alice).IsZero())
	testutil.RequireUnits(t, 1_000_000, l.TotalSupply())

	err = exec(t, e, alice, func(tx *chain.Tx) error {
		return l.BurnOwn(tx, uint256.NewInt(1))
	})
	require.ErrorIs(t, err, ledger.ErrInsufficientBalance)
}

func TestBurnFromSpendsAllowance(t *testing.T) {
	l, e := newTestLedger(t)
	require.NoError(t, exec(t, e, treasury, func(tx *chain.Tx) error {
		return l.Approve(tx, alice, testutil.Units(5))
	}))
	require.NoError(t, exec(t, e, alice, func(tx *chain.Tx) error {
		return l.BurnFrom(tx, treasury, testutil.Units(5))
	}))
	testutil.RequireUnits(t, 999_995, l.TotalSupply())
	assert.True(t, l.Allowance(treasury, alice).IsZero())
}

func TestFailedTransitionLeavesNoTrace(t *testing.T) {
	l, e := newTestLedger(t)
	err := exec(t, e, treasury, func(tx *chain.Tx) error {
		if err := l.Transfer(tx, alice, testutil.Units(100)); err != nil {
			return err
		}
		if err := l.Approve(tx, bob, testutil.Units(7)); err != nil {
			return err
		}
		// Second leg fails, the first must be undone
		return l.Transfer(tx, bob, testutil.Units(2_000_000))
	})
	require.ErrorIs(t, err, ledger.ErrInsufficientBalance)
	assert.True(t, l.BalanceOf(alice).IsZero())
	assert.True(t, l.Allowance(treasury, bob).IsZero())
	testutil.RequireUnits(t, 1_000_000, l.BalanceOf(treasury))
	assert.Equal(t, 1, l.Holders())
}

// Conservation: the sum of all balances equals the total supply
func TestSupplyConservation(t *testing.T) {
	l, e := newTestLedger(t)
	require.NoError(t, exec(t, e, admin, func(tx *chain.Tx) error {
		return l.GrantRole(tx, types.RoleMinter, minter)
	}))
	accounts := []types.Address{treasury, alice, bob, minter}
	for i := range 20 {
		from := accounts[i%len(accounts)]
		to := accounts[(i+1)%len(accounts)]
		_ = exec(t, e, from, func(tx *chain.Tx) error {
			return l.Transfer(tx, to, testutil.Units(uint64(i*1000)))
		})
		_ = exec(t, e, minter, func(tx *chain.Tx) error {
			return l.Mint(tx, to, testutil.Units(uint64(i)))
		})
	}
	sum := fixed.Zero()
	for _, account := range accounts {
		var err error
		sum, err = fixed.Add(sum, l.BalanceOf(account))
		require.NoError(t, err)
	}
	testutil.RequireAmount(t, l.TotalSupply(), sum)
}
