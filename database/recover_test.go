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

package database

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blinklabs-io/enledger/chain"
	"github.com/blinklabs-io/enledger/event"
	"github.com/blinklabs-io/enledger/ledger"
	"github.com/blinklabs-io/enledger/types"
)

func TestRecoverReplaysUnprojectedReceipts(t *testing.T) {
	dataDir := t.TempDir()
	db, err := New(DatabaseConfig{DataDir: dataDir})
	require.NoError(t, err)
	from := types.ComponentAddress("test", "treasury")
	to := types.ComponentAddress("test", "dept")
	for block := uint64(1); block <= 3; block++ {
		sr, err := encodeReceipt(chain.Receipt{
			ID:     fmt.Sprintf("r%d", block),
			Op:     "ledger.transfer",
			Time:   time.Unix(int64(block), 0),
			Block:  block,
			Sender: from,
			Events: []event.Event{{
				Type: ledger.TransferEventType,
				Data: ledger.TransferEvent{From: from, To: to},
			}},
		})
		require.NoError(t, err)
		data, err := json.Marshal(sr)
		require.NoError(t, err)
		// Journal only, as if the process stopped before projecting
		require.NoError(t, db.blob.put(block, data))
	}
	projected, err := db.ProjectedBlock()
	require.NoError(t, err)
	assert.Equal(t, uint64(0), projected)
	require.NoError(t, db.Close())

	db, err = New(DatabaseConfig{DataDir: dataDir})
	require.NoError(t, err)
	defer db.Close()
	projected, err = db.ProjectedBlock()
	require.NoError(t, err)
	assert.Equal(t, uint64(3), projected)
	history, err := db.TransferHistory(to, 0)
	require.NoError(t, err)
	assert.Len(t, history, 3)
}

func TestCommitBlockError(t *testing.T) {
	err := CommitBlockError{MetadataBlock: 5, BlobBlock: 3}
	assert.Equal(t, "commit block mismatch: 5 (metadata) > 3 (blob)", err.Error())
}
