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
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"gorm.io/gorm"

	"github.com/blinklabs-io/enledger/database/models"
	"github.com/blinklabs-io/enledger/ledger"
	"github.com/blinklabs-io/enledger/types"
)

// TransferRecord is a projected EnTo movement
type TransferRecord struct {
	Time   time.Time
	Amount *uint256.Int
	From   types.Address
	To     types.Address
	Block  uint64
}

// EventRecord is a projected event with its JSON payload
type EventRecord struct {
	Type      string
	Component string
	Data      json.RawMessage
	Block     uint64
	Index     uint32
}

// project writes one receipt into the sqlite projections and advances the
// commit block, all in one sqlite transaction
func (d *Database) project(sr storedReceipt) error {
	return d.metadata.db.Transaction(func(tx *gorm.DB) error {
		receiptRow := models.Receipt{
			TxID:       sr.ID,
			Op:         sr.Op,
			Time:       sr.Time,
			Block:      sr.Block,
			Sender:     sr.Sender.Bytes(),
			EventCount: len(sr.Events),
		}
		if err := tx.Create(&receiptRow).Error; err != nil {
			return err
		}
		eventRows := make([]models.Event, 0, len(sr.Events))
		var transferRows []models.Transfer
		for i, evt := range sr.Events {
			eventRows = append(eventRows, models.Event{
				Block:     sr.Block,
				Position:  uint32(i), //nolint:gosec
				Type:      string(evt.Type),
				Component: componentOf(string(evt.Type)),
				Data:      evt.Data,
			})
			if evt.Type != ledger.TransferEventType {
				continue
			}
			var transfer ledger.TransferEvent
			if err := json.Unmarshal(evt.Data, &transfer); err != nil {
				return fmt.Errorf("decode transfer in block %d: %w", sr.Block, err)
			}
			amount := "0"
			if transfer.Amount != nil {
				amount = transfer.Amount.ToBig().String()
			}
			transferRows = append(transferRows, models.Transfer{
				Block:       sr.Block,
				Time:        sr.Time,
				FromAddress: transfer.From.Bytes(),
				ToAddress:   transfer.To.Bytes(),
				Amount:      amount,
			})
		}
		if len(eventRows) > 0 {
			if err := tx.Create(&eventRows).Error; err != nil {
				return err
			}
		}
		if len(transferRows) > 0 {
			if err := tx.Create(&transferRows).Error; err != nil {
				return err
			}
		}
		return setCommitBlock(tx, sr.Block)
	})
}

// recover replays journaled receipts the projections have not seen. This
// covers a crash between the journal write and the sqlite commit.
func (d *Database) recover() error {
	projected, err := d.metadata.commitBlock()
	if err != nil {
		return fmt.Errorf("failed to get commit block from metadata store: %w", err)
	}
	journaled, err := d.blob.lastBlock()
	if err != nil {
		return fmt.Errorf("failed to get last block from receipt journal: %w", err)
	}
	if projected > journaled {
		return CommitBlockError{MetadataBlock: projected, BlobBlock: journaled}
	}
	if projected == journaled {
		return nil
	}
	replayed := 0
	err = d.blob.iterate(projected+1, func(block uint64, data []byte) (bool, error) {
		sr, err := decodeStoredReceipt(data)
		if err != nil {
			return false, err
		}
		if err := d.project(sr); err != nil {
			return false, fmt.Errorf("replay block %d: %w", block, err)
		}
		replayed++
		return true, nil
	})
	if err != nil {
		return err
	}
	d.logger.Info(
		"replayed receipt journal into projections",
		"from_block", projected+1,
		"to_block", journaled,
		"receipts", replayed,
	)
	return nil
}

// CommitBlockError reports projections that are ahead of the journal
type CommitBlockError struct {
	MetadataBlock uint64
	BlobBlock     uint64
}

func (e CommitBlockError) Error() string {
	return fmt.Sprintf(
		"commit block mismatch: %d (metadata) > %d (blob)",
		e.MetadataBlock,
		e.BlobBlock,
	)
}

// ProjectedBlock returns the last block applied to the projections
func (d *Database) ProjectedBlock() (uint64, error) {
	return d.metadata.commitBlock()
}

// TransferHistory returns the most recent transfers to or from account,
// newest first. A limit of zero or less returns all of them.
func (d *Database) TransferHistory(account types.Address, limit int) ([]TransferRecord, error) {
	var rows []models.Transfer
	query := d.metadata.db.
		Where("from_address = ? OR to_address = ?", account.Bytes(), account.Bytes()).
		Order("block DESC, id DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("query transfers: %w", err)
	}
	ret := make([]TransferRecord, 0, len(rows))
	for _, row := range rows {
		amount, err := uint256.FromDecimal(row.Amount)
		if err != nil {
			return nil, fmt.Errorf("transfer %d: %w", row.ID, err)
		}
		ret = append(ret, TransferRecord{
			Block:  row.Block,
			Time:   row.Time,
			From:   common.BytesToAddress(row.FromAddress),
			To:     common.BytesToAddress(row.ToAddress),
			Amount: amount,
		})
	}
	return ret, nil
}

// Events returns projected events for a component ("ledger", "oracle", ...)
// in emission order. An empty component matches all. A limit of zero or less
// returns all of them.
func (d *Database) Events(component string, limit int) ([]EventRecord, error) {
	var rows []models.Event
	query := d.metadata.db.Order("block ASC, position ASC")
	if component != "" {
		query = query.Where("component = ?", component)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	ret := make([]EventRecord, 0, len(rows))
	for _, row := range rows {
		ret = append(ret, EventRecord{
			Type:      row.Type,
			Component: row.Component,
			Data:      row.Data,
			Block:     row.Block,
			Index:     row.Position,
		})
	}
	return ret, nil
}

func componentOf(eventType string) string {
	component, _, _ := strings.Cut(eventType, ".")
	return component
}
