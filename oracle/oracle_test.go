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

package oracle_test

import (
	"context"
	"crypto/ecdsa"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blinklabs-io/enledger/auction"
	"github.com/blinklabs-io/enledger/chain"
	"github.com/blinklabs-io/enledger/internal/test/testutil"
	"github.com/blinklabs-io/enledger/ledger"
	"github.com/blinklabs-io/enledger/oracle"
	"github.com/blinklabs-io/enledger/types"
)

const testMonth uint32 = 202508

var (
	admin       = testutil.Address("admin")
	treasury    = testutil.Address("treasury")
	committee   = testutil.Address("oracleCommittee")
	deptA       = testutil.Address("deptA")
	deptB       = testutil.Address("deptB")
	loanAddr    = testutil.Address("loan")
	auctionAddr = testutil.Address("auction")
	oracleAddr  = testutil.Address("oracle")
)

type fixture struct {
	exec      *chain.Executor
	ledger    *ledger.Ledger
	auction   *auction.Auction
	oracle    *oracle.Oracle
	meterKey  *ecdsa.PrivateKey
	meterAddr types.Address
}

func newFixture(t *testing.T, cfg oracle.OracleConfig) *fixture {
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
	cfg.Ledger = l
	cfg.Auction = a
	cfg.Address = oracleAddr
	cfg.Admin = admin
	o, err := oracle.New(cfg)
	require.NoError(t, err)
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	f := &fixture{
		exec:      e,
		ledger:    l,
		auction:   a,
		oracle:    o,
		meterKey:  key,
		meterAddr: crypto.PubkeyToAddress(key.PublicKey),
	}
	require.NoError(t, f.run(t, admin, func(tx *chain.Tx) error {
		if err := l.GrantRole(tx, types.RoleMinter, oracleAddr); err != nil {
			return err
		}
		return o.GrantRole(tx, types.RoleOracle, committee)
	}))
	return f
}

func (f *fixture) run(t *testing.T, sender types.Address, fn func(*chain.Tx) error) error {
	t.Helper()
	return chain.Exec(context.Background(), f.exec, sender, "test", fn)
}

func (f *fixture) allowSigner(t *testing.T) {
	t.Helper()
	require.NoError(t, f.run(t, admin, func(tx *chain.Tx) error {
		return f.oracle.SetMeterSigner(tx, f.meterAddr, true)
	}))
}

func (f *fixture) buyPack(t *testing.T, dept types.Address, month uint32, kWh uint64) auction.Pack {
	t.Helper()
	cost, err := f.auction.QuoteEnTo(kWh)
	require.NoError(t, err)
	require.NoError(t, f.run(t, treasury, func(tx *chain.Tx) error {
		return f.ledger.Transfer(tx, dept, cost)
	}))
	pack, err := chain.Call(context.Background(), f.exec, dept, "test", func(tx *chain.Tx) (auction.Pack, error) {
		if err := f.ledger.Approve(tx, auctionAddr, cost); err != nil {
			return auction.Pack{}, err
		}
		return f.auction.BuyPack(tx, month, kWh)
	})
	require.NoError(t, err)
	return pack
}

func (f *fixture) record(
	t *testing.T,
	dept types.Address,
	month uint32,
	kWh uint64,
	nonce [32]byte,
) error {
	t.Helper()
	sig, err := oracle.SignUsage(f.meterKey, oracleAddr, dept, month, kWh, nonce)
	require.NoError(t, err)
	return f.run(t, committee, func(tx *chain.Tx) error {
		return f.oracle.RecordUsageSigned(tx, dept, month, kWh, nonce, sig)
	})
}

func (f *fixture) claim(t *testing.T, dept types.Address, month uint32) (*uint256.Int, error) {
	t.Helper()
	return chain.Call(context.Background(), f.exec, dept, "test", func(tx *chain.Tx) (*uint256.Int, error) {
		return f.oracle.ClaimSavings(tx, month)
	})
}

func nonce(s string) [32]byte {
	var ret [32]byte
	copy(ret[:], crypto.Keccak256([]byte(s)))
	return ret
}

func TestRecordUsageSignedAndReplay(t *testing.T) {
	f := newFixture(t, oracle.OracleConfig{})
	f.allowSigner(t)
	f.buyPack(t, deptA, testMonth, 1_200)

	n := nonce("nonce-1")
	require.NoError(t, f.record(t, deptA, testMonth, 300, n))
	mu, ok := f.oracle.MonthUsage(testMonth, deptA)
	require.True(t, ok)
	assert.Equal(t, uint64(1_200), mu.KWhPurchased)
	assert.Equal(t, uint64(300), mu.KWhConsumed)
	assert.False(t, mu.Settled)
	assert.True(t, f.oracle.NonceUsed(n))

	err := f.record(t, deptA, testMonth, 300, n)
	require.ErrorIs(t, err, types.ErrReplay)
	require.ErrorIs(t, err, oracle.ErrNonceUsed)
	// The nonce set is global, not per department
	f.buyPack(t, deptB, testMonth, 500)
	err = f.record(t, deptB, testMonth, 50, n)
	require.ErrorIs(t, err, types.ErrReplay)

	require.NoError(t, f.record(t, deptA, testMonth, 100, nonce("nonce-2")))
	mu, _ = f.oracle.MonthUsage(testMonth, deptA)
	assert.Equal(t, uint64(400), mu.KWhConsumed)
}

func TestRecordUsageRejectsUnauthorized(t *testing.T) {
	f := newFixture(t, oracle.OracleConfig{})
	f.buyPack(t, deptA, testMonth, 800)
	n := nonce("nonce-x")

	// Signer not on the allow-list yet
	err := f.record(t, deptA, testMonth, 200, n)
	require.ErrorIs(t, err, types.ErrAuthorization)
	require.ErrorIs(t, err, oracle.ErrUnknownSigner)
	assert.False(t, f.oracle.NonceUsed(n))

	f.allowSigner(t)
	// Signature over a different department recovers a different identity
	wrongSig, err := oracle.SignUsage(f.meterKey, oracleAddr, deptB, testMonth, 200, n)
	require.NoError(t, err)
	err = f.run(t, committee, func(tx *chain.Tx) error {
		return f.oracle.RecordUsageSigned(tx, deptA, testMonth, 200, n, wrongSig)
	})
	require.ErrorIs(t, err, types.ErrAuthorization)

	// Signature bound to another oracle identity
	otherSig, err := oracle.SignUsage(f.meterKey, testutil.Address("other"), deptA, testMonth, 200, n)
	require.NoError(t, err)
	err = f.run(t, committee, func(tx *chain.Tx) error {
		return f.oracle.RecordUsageSigned(tx, deptA, testMonth, 200, n, otherSig)
	})
	require.ErrorIs(t, err, types.ErrAuthorization)

	err = f.run(t, committee, func(tx *chain.Tx) error {
		return f.oracle.RecordUsageSigned(tx, deptA, testMonth, 200, n, []byte{1, 2, 3})
	})
	require.ErrorIs(t, err, types.ErrValidation)
	require.ErrorIs(t, err, oracle.ErrMalformedSignature)

	// Caller without ORACLE
	sig, err := oracle.SignUsage(f.meterKey, oracleAddr, deptA, testMonth, 200, n)
	require.NoError(t, err)
	err = f.run(t, deptA, func(tx *chain.Tx) error {
		return f.oracle.RecordUsageSigned(tx, deptA, testMonth, 200, n, sig)
	})
	require.ErrorIs(t, err, types.ErrAuthorization)
	assert.False(t, f.oracle.NonceUsed(n))
}

func TestRecordUsageRequiresPack(t *testing.T) {
	f := newFixture(t, oracle.OracleConfig{})
	f.allowSigner(t)
	err := f.record(t, deptA, 202510, 100, nonce("nonce-nopack"))
	require.ErrorIs(t, err, types.ErrStateError)
	require.ErrorIs(t, err, oracle.ErrNoPack)
	_, ok := f.oracle.MonthUsage(202510, deptA)
	assert.False(t, ok)
}

func TestClaimSavingsOnce(t *testing.T) {
	f := newFixture(t, oracle.OracleConfig{})
	f.allowSigner(t)
	pack := f.buyPack(t, deptA, testMonth, 1_500)
	require.NoError(t, f.record(t, deptA, testMonth, 700, nonce("nonce-claim-1")))

	expected, err := auction.EnToForKWh(800, pack.UnitPrice18)
	require.NoError(t, err)
	saved, preview, err := f.oracle.PreviewSavings(testMonth, deptA)
	require.NoError(t, err)
	assert.Equal(t, uint64(800), saved)
	testutil.RequireAmount(t, expected, preview)

	supplyBefore := f.ledger.TotalSupply()
	reward, err := f.claim(t, deptA, testMonth)
	require.NoError(t, err)
	testutil.RequireAmount(t, expected, reward)
	testutil.RequireAmount(t, expected, f.ledger.BalanceOf(deptA))
	supplyAfter := f.ledger.TotalSupply()
	assert.True(t, supplyAfter.Gt(supplyBefore))

	mu, _ := f.oracle.MonthUsage(testMonth, deptA)
	assert.True(t, mu.Settled)
	testutil.RequireAmount(t, expected, mu.Reward)
	assert.Equal(t, uint64(oracle.DefaultSavingsScoreBonus), f.oracle.CreditScore(deptA))

	_, err = f.claim(t, deptA, testMonth)
	require.ErrorIs(t, err, types.ErrStateError)
	require.ErrorIs(t, err, oracle.ErrSettled)

	err = f.record(t, deptA, testMonth, 10, nonce("late"))
	require.ErrorIs(t, err, types.ErrStateError)

	_, err = f.claim(t, deptB, testMonth)
	require.ErrorIs(t, err, oracle.ErrNoPack)
}

func TestClaimSavingsFromTreasury(t *testing.T) {
	f := newFixture(t, oracle.OracleConfig{
		SavingsMode:      oracle.SavingsTransfer,
		SavingsRewardBps: 5_000,
	})
	f.allowSigner(t)
	pack := f.buyPack(t, deptA, testMonth, 1_000)
	require.NoError(t, f.record(t, deptA, testMonth, 600, nonce("n")))

	// No treasury allowance: the claim fails and leaves the month open
	_, err := f.claim(t, deptA, testMonth)
	require.ErrorIs(t, err, ledger.ErrInsufficientAllowance)
	mu, _ := f.oracle.MonthUsage(testMonth, deptA)
	assert.False(t, mu.Settled)
	assert.Equal(t, uint64(0), f.oracle.CreditScore(deptA))

	require.NoError(t, f.run(t, treasury, func(tx *chain.Tx) error {
		return f.ledger.Approve(tx, oracleAddr, testutil.Units(1_000))
	}))
	supplyBefore := f.ledger.TotalSupply()
	reward, err := f.claim(t, deptA, testMonth)
	require.NoError(t, err)
	full, err := auction.EnToForKWh(400, pack.UnitPrice18)
	require.NoError(t, err)
	half := new(uint256.Int).Div(full, uint256.NewInt(2))
	testutil.RequireAmount(t, half, reward)
	testutil.RequireAmount(t, supplyBefore, f.ledger.TotalSupply())
}

func TestOverUsage(t *testing.T) {
	f := newFixture(t, oracle.OracleConfig{})
	f.allowSigner(t)
	f.buyPack(t, deptA, testMonth, 100)
	require.NoError(t, f.record(t, deptA, testMonth, 150, nonce("over")))
	reward, err := f.claim(t, deptA, testMonth)
	require.NoError(t, err)
	assert.True(t, reward.IsZero())
	assert.Equal(t, uint64(0), f.oracle.CreditScore(deptA))

	require.NoError(t, f.run(t, admin, func(tx *chain.Tx) error {
		return f.oracle.SetRejectOverUsage(tx, true)
	}))
	f.buyPack(t, deptA, 202509, 100)
	err = f.record(t, deptA, 202509, 101, nonce("over-2"))
	require.ErrorIs(t, err, types.ErrValidation)
	require.ErrorIs(t, err, oracle.ErrOverUsage)
	require.NoError(t, f.record(t, deptA, 202509, 100, nonce("exact")))
}

func TestClaimSavingsWithoutReading(t *testing.T) {
	// Default: a month with no reading counts as zero consumption
	f := newFixture(t, oracle.OracleConfig{})
	f.allowSigner(t)
	pack := f.buyPack(t, deptA, testMonth, 500)
	assert.False(t, f.oracle.RequireReading())
	reward, err := f.claim(t, deptA, testMonth)
	require.NoError(t, err)
	expected, err := auction.EnToForKWh(500, pack.UnitPrice18)
	require.NoError(t, err)
	testutil.RequireAmount(t, expected, reward)

	// Required: the claim waits for a signed reading
	f = newFixture(t, oracle.OracleConfig{RequireReading: true})
	f.allowSigner(t)
	pack = f.buyPack(t, deptA, testMonth, 500)
	assert.True(t, f.oracle.RequireReading())
	_, err = f.claim(t, deptA, testMonth)
	require.ErrorIs(t, err, types.ErrStateError)
	require.ErrorIs(t, err, oracle.ErrNoReading)
	mu, _ := f.oracle.MonthUsage(testMonth, deptA)
	assert.False(t, mu.Settled)
	assert.True(t, f.ledger.BalanceOf(deptA).IsZero())

	require.NoError(t, f.record(t, deptA, testMonth, 100, nonce("reading")))
	reward, err = f.claim(t, deptA, testMonth)
	require.NoError(t, err)
	expected, err = auction.EnToForKWh(400, pack.UnitPrice18)
	require.NoError(t, err)
	testutil.RequireAmount(t, expected, reward)
}

func TestSetRequireReading(t *testing.T) {
	f := newFixture(t, oracle.OracleConfig{})
	f.allowSigner(t)
	f.buyPack(t, deptA, testMonth, 300)

	err := f.run(t, deptA, func(tx *chain.Tx) error {
		return f.oracle.SetRequireReading(tx, true)
	})
	require.ErrorIs(t, err, types.ErrAuthorization)
	assert.False(t, f.oracle.RequireReading())

	require.NoError(t, f.run(t, admin, func(tx *chain.Tx) error {
		return f.oracle.SetRequireReading(tx, true)
	}))
	_, err = f.claim(t, deptA, testMonth)
	require.ErrorIs(t, err, oracle.ErrNoReading)

	require.NoError(t, f.run(t, admin, func(tx *chain.Tx) error {
		return f.oracle.SetRequireReading(tx, false)
	}))
	_, err = f.claim(t, deptA, testMonth)
	require.NoError(t, err)
}

func TestCreditScores(t *testing.T) {
	f := newFixture(t, oracle.OracleConfig{})
	err := f.run(t, deptA, func(tx *chain.Tx) error {
		return f.oracle.SetCreditScore(tx, deptA, 90)
	})
	require.ErrorIs(t, err, types.ErrAuthorization)
	err = f.run(t, admin, func(tx *chain.Tx) error {
		return f.oracle.SetCreditScore(tx, deptA, 101)
	})
	require.ErrorIs(t, err, oracle.ErrInvalidScore)
	require.NoError(t, f.run(t, admin, func(tx *chain.Tx) error {
		return f.oracle.SetCreditScore(tx, deptA, 72)
	}))
	assert.Equal(t, uint64(72), f.oracle.CreditScore(deptA))

	// Only the loan module or an admin may adjust
	err = f.run(t, loanAddr, func(tx *chain.Tx) error {
		return f.oracle.AdjustCreditScore(tx, deptA, 5)
	})
	require.ErrorIs(t, err, types.ErrAuthorization)
	require.NoError(t, f.run(t, admin, func(tx *chain.Tx) error {
		return f.oracle.SetLoanModule(tx, loanAddr)
	}))
	require.NoError(t, f.run(t, loanAddr, func(tx *chain.Tx) error {
		return f.oracle.AdjustCreditScore(tx, deptA, 50)
	}))
	assert.Equal(t, uint64(oracle.MaxCreditScore), f.oracle.CreditScore(deptA))
	require.NoError(t, f.run(t, loanAddr, func(tx *chain.Tx) error {
		return f.oracle.AdjustCreditScore(tx, deptA, -500)
	}))
	assert.Equal(t, uint64(0), f.oracle.CreditScore(deptA))
}

func TestMeterSignerEvents(t *testing.T) {
	f := newFixture(t, oracle.OracleConfig{})
	emitted, err := chain.Call(context.Background(), f.exec, admin, "test", func(tx *chain.Tx) ([]any, error) {
		if err := f.oracle.SetMeterSigner(tx, f.meterAddr, true); err != nil {
			return nil, err
		}
		var ret []any
		for _, evt := range tx.Events() {
			ret = append(ret, evt.Data)
		}
		return ret, nil
	})
	require.NoError(t, err)
	require.Len(t, emitted, 1)
	assert.Equal(
		t,
		oracle.MeterSignerUpdatedEvent{Signer: f.meterAddr, Allowed: true},
		emitted[0],
	)
	assert.True(t, f.oracle.IsMeterSigner(f.meterAddr))
	require.NoError(t, f.run(t, admin, func(tx *chain.Tx) error {
		return f.oracle.SetMeterSigner(tx, f.meterAddr, false)
	}))
	assert.False(t, f.oracle.IsMeterSigner(f.meterAddr))
}

func TestSignatureRoundTrip(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	signer := crypto.PubkeyToAddress(key.PublicKey)
	n := nonce("round-trip")
	payload, err := oracle.UsagePayloadHash(oracleAddr, deptA, testMonth, 42, n)
	require.NoError(t, err)
	require.Len(t, payload, 32)
	again, err := oracle.UsagePayloadHash(oracleAddr, deptA, testMonth, 42, n)
	require.NoError(t, err)
	assert.Equal(t, payload, again)

	sig, err := oracle.SignUsage(key, oracleAddr, deptA, testMonth, 42, n)
	require.NoError(t, err)
	require.Len(t, sig, 65)
	v := oracle.EIP191Verifier{}
	assert.True(t, oracle.Verify(v, payload, sig, signer))
	assert.False(t, oracle.Verify(v, payload, sig, deptA))

	other, err := oracle.UsagePayloadHash(oracleAddr, deptA, testMonth, 43, n)
	require.NoError(t, err)
	assert.False(t, oracle.Verify(v, other, sig, signer))

	bad := append([]byte{}, sig...)
	bad[64] = 5
	_, err = v.RecoverSigner(payload, bad)
	require.ErrorIs(t, err, oracle.ErrMalformedSignature)
}
