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

package enledger_test

import (
	"context"
	"testing"
	"time"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blinklabs-io/enledger"
	"github.com/blinklabs-io/enledger/chain"
	"github.com/blinklabs-io/enledger/database"
	"github.com/blinklabs-io/enledger/deployment"
	"github.com/blinklabs-io/enledger/fixed"
	"github.com/blinklabs-io/enledger/governance"
	"github.com/blinklabs-io/enledger/internal/test/testutil"
	"github.com/blinklabs-io/enledger/types"
)

var (
	admin    = testutil.Address("admin")
	treasury = testutil.Address("treasury")
	voter    = testutil.Address("voter")
)

func newRecord(t *testing.T) *deployment.Record {
	t.Helper()
	rec, err := deployment.Derive("devnet", admin, treasury, testutil.GenesisTime)
	require.NoError(t, err)
	return rec
}

func startNode(t *testing.T, rec *deployment.Record, opts ...enledger.ConfigOptionFunc) (*enledger.Node, *chain.ManualClock) {
	t.Helper()
	clock := chain.NewManualClock(testutil.GenesisTime)
	opts = append([]enledger.ConfigOptionFunc{
		enledger.WithDeployment(rec),
		enledger.WithClock(clock, testutil.GenesisTime),
	}, opts...)
	n, err := enledger.New(enledger.NewConfig(opts...))
	require.NoError(t, err)
	require.NoError(t, n.Start(context.Background()))
	t.Cleanup(func() {
		_ = n.Stop()
	})
	return n, clock
}

func TestNewRequiresDeployment(t *testing.T) {
	_, err := enledger.New(enledger.NewConfig())
	require.Error(t, err)
	_, err = enledger.New(enledger.NewConfig(
		enledger.WithDeployment(newRecord(t)),
		enledger.WithGatewayRate(fixed.Zero()),
	))
	require.Error(t, err)
}

func TestNodeAppliesDeployment(t *testing.T) {
	rec := newRecord(t)
	meter := testutil.Address("meter")
	require.NoError(t, rec.AddMeterSigner(meter))
	rec.Params = map[string]string{governance.ParamTradeFeeBps: "45"}
	n, _ := startNode(t, rec)

	require.Error(t, n.Start(context.Background()))
	assert.Equal(t, uint64(1), n.Executor().Height())
	require.NoError(t, n.View(func(chain.Snapshot) error {
		oracleAddr := rec.Components[deployment.ComponentOracle]
		gov := rec.Components[deployment.ComponentGovernance]
		assert.True(t, n.Ledger().HasRole(types.RoleMinter, oracleAddr))
		assert.True(t, n.Auction().Access().HasRole(types.RoleDefaultAdmin, gov))
		assert.True(t, n.Governance().Access().HasRole(types.RoleExecutor, admin))
		assert.True(t, n.Oracle().IsMeterSigner(meter))
		assert.Equal(t, n.Loan().Address(), n.Oracle().LoanModule())
		assert.True(t, fixed.IsMax(n.Ledger().Allowance(treasury, n.Loan().Address())))
		assert.True(t, fixed.IsMax(n.Ledger().Allowance(treasury, n.Gateway().Address())))
		assert.True(t, fixed.IsMax(n.Ledger().Allowance(treasury, n.Trade().Address())))
		assert.Equal(t, uint64(45), n.Trade().FeeBps())
		assert.Len(t, n.Governance().Registry().Names(), 8)
		return nil
	}))
	balance, err := n.Balance(treasury)
	require.NoError(t, err)
	assert.True(t, balance.Eq(enledger.DefaultInitialSupply))

	receipt, err := n.Database().ReceiptByBlock(1)
	require.NoError(t, err)
	assert.Equal(t, "node.bootstrap", receipt.Op)
	assert.Equal(t, admin, receipt.Sender)
}

func TestNodeRejectsUnknownParam(t *testing.T) {
	rec := newRecord(t)
	rec.Params = map[string]string{"NO_SUCH_PARAM": "1"}
	n, err := enledger.New(enledger.NewConfig(enledger.WithDeployment(rec)))
	require.NoError(t, err)
	require.Error(t, n.Start(context.Background()))
	require.NoError(t, n.Stop())
}

func stakeVoter(t *testing.T, n *enledger.Node) {
	t.Helper()
	ctx := context.Background()
	gov := n.Governance()
	require.NoError(t, n.Exec(ctx, treasury, "ledger.transfer", func(tx *chain.Tx) error {
		return n.Ledger().Transfer(tx, voter, fixed.Units(10_000))
	}))
	require.NoError(t, n.Exec(ctx, voter, "governance.stake", func(tx *chain.Tx) error {
		if err := n.Ledger().Approve(tx, gov.Address(), fixed.Max()); err != nil {
			return err
		}
		return gov.Stake(tx, fixed.Units(5_000))
	}))
}

// queueProposal takes a parameter change from proposal to the end of its
// timelock and returns its ID
func queueProposal(
	t *testing.T,
	n *enledger.Node,
	clock *chain.ManualClock,
	param string,
	value uint64,
) uint64 {
	t.Helper()
	ctx := context.Background()
	gov := n.Governance()
	proposal, err := chain.Call(ctx, n.Executor(), voter, "governance.propose", func(tx *chain.Tx) (governance.Proposal, error) {
		return gov.Propose(tx, governance.ParamKey(param), uint256.NewInt(value), "set "+param)
	})
	require.NoError(t, err)
	require.NoError(t, n.Exec(ctx, voter, "governance.cast_vote", func(tx *chain.Tx) error {
		_, err := gov.CastVote(tx, proposal.ID, governance.VoteFor)
		return err
	}))
	_, err = n.Executor().Mine(ctx, governance.DefaultVotingPeriod)
	require.NoError(t, err)
	require.NoError(t, n.Exec(ctx, voter, "governance.queue", func(tx *chain.Tx) error {
		_, err := gov.Queue(tx, proposal.ID)
		return err
	}))
	clock.Advance(governance.DefaultExecutionDelay + time.Second)
	return proposal.ID
}

func TestGovernanceTunesComponents(t *testing.T) {
	n, clock := startNode(t, newRecord(t))
	stakeVoter(t, n)
	id := queueProposal(t, n, clock, governance.ParamAuctionSlopeBps, 800)
	require.NoError(t, n.Exec(context.Background(), admin, "governance.execute", func(tx *chain.Tx) error {
		applied, err := n.Governance().Execute(tx, id)
		if err == nil {
			assert.True(t, applied)
		}
		return err
	}))
	require.NoError(t, n.View(func(chain.Snapshot) error {
		_, slope := n.Auction().CurveParams()
		assert.Equal(t, uint64(800), slope)
		return nil
	}))
}

func TestGovernanceCannotZeroTradeFee(t *testing.T) {
	n, clock := startNode(t, newRecord(t))
	stakeVoter(t, n)
	feeBefore := n.Trade().FeeBps()
	require.NotZero(t, feeBefore)

	id := queueProposal(t, n, clock, governance.ParamTradeFeeBps, 0)
	err := n.Exec(context.Background(), admin, "governance.execute", func(tx *chain.Tx) error {
		_, err := n.Governance().Execute(tx, id)
		return err
	})
	require.ErrorIs(t, err, types.ErrValidation)
	require.NoError(t, n.View(func(snap chain.Snapshot) error {
		assert.Equal(t, feeBefore, n.Trade().FeeBps())
		p, ok := n.Governance().Proposal(id)
		require.True(t, ok)
		assert.False(t, p.Executed)
		assert.Equal(t, governance.ProposalQueued, p.StateAt(snap.Block+1))
		return nil
	}))
}

func TestRestartRefusesExistingJournal(t *testing.T) {
	dir := t.TempDir()
	rec := newRecord(t)
	first, err := enledger.New(enledger.NewConfig(
		enledger.WithDeployment(rec),
		enledger.WithDatabasePath(dir),
	))
	require.NoError(t, err)
	require.NoError(t, first.Start(context.Background()))
	require.NoError(t, first.Exec(context.Background(), treasury, "ledger.transfer", func(tx *chain.Tx) error {
		return first.Ledger().Transfer(tx, voter, fixed.Units(1))
	}))
	height := first.Executor().Height()
	balance, err := first.Balance(voter)
	require.NoError(t, err)
	assert.True(t, balance.Eq(fixed.Units(1)))
	require.NoError(t, first.Stop())

	// A fresh ledger on top of the old journal would contradict its history
	second, err := enledger.New(enledger.NewConfig(
		enledger.WithDeployment(rec),
		enledger.WithDatabasePath(dir),
	))
	require.NoError(t, err)
	err = second.Start(context.Background())
	require.ErrorIs(t, err, enledger.ErrJournalNotEmpty)
	assert.Contains(t, err.Error(), dir)
	assert.Nil(t, second.Ledger())
	require.NoError(t, second.Stop())

	// The journal and its projections are left untouched
	db, err := database.New(database.DatabaseConfig{DataDir: dir})
	require.NoError(t, err)
	defer db.Close() //nolint:errcheck
	last, err := db.LastBlock()
	require.NoError(t, err)
	assert.Equal(t, height, last)
	history, err := db.TransferHistory(voter, 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.True(t, history[0].Amount.Eq(fixed.Units(1)))

	// A new data directory starts cleanly
	third, err := enledger.New(enledger.NewConfig(
		enledger.WithDeployment(rec),
		enledger.WithDatabasePath(t.TempDir()),
	))
	require.NoError(t, err)
	require.NoError(t, third.Start(context.Background()))
	defer third.Stop() //nolint:errcheck
	balance, err = third.Balance(voter)
	require.NoError(t, err)
	assert.True(t, balance.IsZero())
}
