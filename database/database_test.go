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

package database_test

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blinklabs-io/enledger/chain"
	"github.com/blinklabs-io/enledger/database"
	"github.com/blinklabs-io/enledger/event"
	"github.com/blinklabs-io/enledger/internal/test/testutil"
	"github.com/blinklabs-io/enledger/ledger"
	"github.com/blinklabs-io/enledger/types"
)

var (
	admin    = testutil.Address("admin")
	treasury = testutil.Address("treasury")
	userA    = testutil.Address("userA")
	userB    = testutil.Address("userB")
)

func newDatabase(t *testing.T, dataDir string) *database.Database {
	t.Helper()
	db, err := database.New(database.DatabaseConfig{DataDir: dataDir})
	require.NoError(t, err)
	return db
}

func transferReceipt(block uint64, from, to types.Address, whole uint64) chain.Receipt {
	return chain.Receipt{
		ID:     fmt.Sprintf("receipt-%d", block),
		Op:     "ledger.transfer",
		Time:   testutil.GenesisTime.Add(time.Duration(block) * time.Second),
		Block:  block,
		Sender: from,
		Events: []event.Event{
			{
				Type: ledger.TransferEventType,
				Data: ledger.TransferEvent{From: from, To: to, Amount: testutil.Units(whole)},
			},
		},
	}
}

func TestStoreAndLoadReceipt(t *testing.T) {
	db := newDatabase(t, "")
	defer db.Close()
	ctx := context.Background()

	require.NoError(t, db.StoreReceipt(ctx, transferReceipt(1, treasury, userA, 50)))
	last, err := db.LastBlock()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), last)
	projected, err := db.ProjectedBlock()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), projected)

	receipt, err := db.ReceiptByBlock(1)
	require.NoError(t, err)
	assert.Equal(t, "ledger.transfer", receipt.Op)
	assert.Equal(t, treasury, receipt.Sender)
	require.Len(t, receipt.Events, 1)
	assert.Equal(t, ledger.TransferEventType, receipt.Events[0].Type)
	raw, ok := receipt.Events[0].Data.(json.RawMessage)
	require.True(t, ok)
	var decoded ledger.TransferEvent
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, userA, decoded.To)
	testutil.RequireUnits(t, 50, decoded.Amount)

	err = db.StoreReceipt(ctx, transferReceipt(1, treasury, userB, 5))
	require.ErrorIs(t, err, database.ErrReceiptExists)
	_, err = db.ReceiptByBlock(2)
	require.ErrorIs(t, err, database.ErrReceiptNotFound)
}

func TestTransferHistoryFromExecutor(t *testing.T) {
	db := newDatabase(t, "")
	defer db.Close()
	e := chain.NewExecutor(chain.ExecutorConfig{
		Clock:       chain.NewManualClock(testutil.GenesisTime),
		GenesisTime: testutil.GenesisTime,
		ReceiptSink: db,
	})
	require.NoError(t, e.Start())
	defer func() { require.NoError(t, e.Stop()) }()
	l, err := ledger.New(ledger.LedgerConfig{
		Admin:         admin,
		Treasury:      treasury,
		InitialSupply: testutil.Units(1_000),
	})
	require.NoError(t, err)
	ctx := context.Background()
	for _, whole := range []uint64{10, 20, 30} {
		require.NoError(t, chain.Exec(ctx, e, treasury, "ledger.transfer", func(tx *chain.Tx) error {
			return l.Transfer(tx, userA, testutil.Units(whole))
		}))
	}
	require.NoError(t, chain.Exec(ctx, e, userA, "ledger.transfer", func(tx *chain.Tx) error {
		return l.Transfer(tx, userB, testutil.Units(5))
	}))

	history, err := db.TransferHistory(userA, 0)
	require.NoError(t, err)
	require.Len(t, history, 4)
	// Newest first
	assert.Equal(t, userB, history[0].To)
	testutil.RequireUnits(t, 5, history[0].Amount)
	testutil.RequireUnits(t, 30, history[1].Amount)
	assert.Equal(t, treasury, history[1].From)
	assert.Greater(t, history[0].Block, history[1].Block)

	limited, err := db.TransferHistory(userA, 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)
	none, err := db.TransferHistory(testutil.Address("stranger"), 10)
	require.NoError(t, err)
	assert.Empty(t, none)

	events, err := db.Events("ledger", 0)
	require.NoError(t, err)
	require.Len(t, events, 4)
	assert.Equal(t, string(ledger.TransferEventType), events[0].Type)
	assert.Equal(t, "ledger", events[0].Component)

	// The executor falls back to the journal for receipts it has not cached
	receipt, err := db.ReceiptByBlock(history[0].Block)
	require.NoError(t, err)
	assert.Equal(t, "ledger.transfer", receipt.Op)
}

func TestReopenKeepsJournal(t *testing.T) {
	dataDir := t.TempDir()
	db := newDatabase(t, dataDir)
	ctx := context.Background()
	for block := uint64(1); block <= 3; block++ {
		require.NoError(t, db.StoreReceipt(ctx, transferReceipt(block, treasury, userA, block)))
	}
	require.NoError(t, db.Close())

	db = newDatabase(t, dataDir)
	defer db.Close()
	assert.Equal(t, dataDir, db.DataDir())
	last, err := db.LastBlock()
	require.NoError(t, err)
	assert.Equal(t, uint64(3), last)
	var blocks []uint64
	require.NoError(t, db.RawReceipts(2, func(block uint64, data []byte) (bool, error) {
		blocks = append(blocks, block)
		assert.NotEmpty(t, data)
		return true, nil
	}))
	assert.Equal(t, []uint64{2, 3}, blocks)
	history, err := db.TransferHistory(userA, 0)
	require.NoError(t, err)
	assert.Len(t, history, 3)
}
