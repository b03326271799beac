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

// Package database persists committed receipts. A badger journal keeps every
// receipt and a sqlite store keeps the queryable projections derived from
// them.
package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/blinklabs-io/enledger/chain"
	"github.com/blinklabs-io/enledger/event"
	"github.com/blinklabs-io/enledger/types"
)

var (
	ErrReceiptNotFound = errors.New("receipt not found")
	ErrReceiptExists   = errors.New("receipt already stored for block")
)

type DatabaseConfig struct {
	Logger       *slog.Logger
	PromRegistry prometheus.Registerer
	// DataDir selects on-disk storage. Both stores are in memory when empty.
	DataDir       string
	BlobCacheSize int64
	// DisableGc turns off periodic value log GC of the journal
	DisableGc bool
}

type Database struct {
	config   DatabaseConfig
	logger   *slog.Logger
	metrics  *databaseMetrics
	blob     *blobStore
	metadata *metadataStore
	// Serializes writers so the journal and projections advance together
	writeMu sync.Mutex
}

// storedReceipt is the journal encoding of a chain.Receipt
type storedReceipt struct {
	Time   time.Time     `json:"time"`
	ID     string        `json:"id"`
	Op     string        `json:"op"`
	Events []storedEvent `json:"events"`
	Block  uint64        `json:"block"`
	Sender types.Address `json:"sender"`
}

type storedEvent struct {
	Timestamp time.Time       `json:"timestamp"`
	Type      event.EventType `json:"type"`
	Data      json.RawMessage `json:"data"`
}

// New opens both stores and brings the projections up to date with the
// journal
func New(cfg DatabaseConfig) (*Database, error) {
	if cfg.Logger == nil {
		// Create logger to throw away logs
		// We do this so we don't have to add guards around every log operation
		cfg.Logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	if cfg.BlobCacheSize <= 0 {
		cfg.BlobCacheSize = DefaultBlobCacheSize
	}
	logger := cfg.Logger.With("component", "database")
	blob, err := openBlobStore(cfg, logger)
	if err != nil {
		return nil, err
	}
	metadata, err := openMetadataStore(cfg.DataDir, logger)
	if err != nil {
		return nil, errors.Join(err, blob.Close())
	}
	d := &Database{
		config:   cfg,
		logger:   logger,
		blob:     blob,
		metadata: metadata,
	}
	if cfg.PromRegistry != nil {
		d.metrics = &databaseMetrics{}
		d.metrics.init(cfg.PromRegistry)
	}
	if err := d.recover(); err != nil {
		return nil, errors.Join(err, d.Close())
	}
	return d, nil
}

// DataDir returns the path to the data directory used for storage
func (d *Database) DataDir() string {
	return d.config.DataDir
}

// StoreReceipt journals the receipt and updates the projections. It
// satisfies chain.ReceiptSink.
func (d *Database) StoreReceipt(ctx context.Context, receipt chain.Receipt) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	start := time.Now()
	sr, err := encodeReceipt(receipt)
	if err != nil {
		return err
	}
	data, err := json.Marshal(sr)
	if err != nil {
		return fmt.Errorf("encode receipt %d: %w", receipt.Block, err)
	}
	d.writeMu.Lock()
	defer d.writeMu.Unlock()
	if err := d.blob.put(receipt.Block, data); err != nil {
		return fmt.Errorf("journal receipt %d: %w", receipt.Block, err)
	}
	if err := d.project(sr); err != nil {
		// The next open replays the journal into the projections
		return fmt.Errorf("project receipt %d: %w", receipt.Block, err)
	}
	if d.metrics != nil {
		d.metrics.receipts.Inc()
		d.metrics.events.Add(float64(len(sr.Events)))
		d.metrics.lastBlock.Set(float64(receipt.Block))
		d.metrics.storeDuration.Observe(time.Since(start).Seconds())
	}
	return nil
}

// ReceiptByBlock loads a journaled receipt. Event payloads come back as
// json.RawMessage. It satisfies chain.ReceiptSource.
func (d *Database) ReceiptByBlock(block uint64) (chain.Receipt, error) {
	data, err := d.blob.get(block)
	if err != nil {
		return chain.Receipt{}, err
	}
	sr, err := decodeStoredReceipt(data)
	if err != nil {
		return chain.Receipt{}, err
	}
	return sr.receipt(), nil
}

// LastBlock returns the highest journaled block, or zero
func (d *Database) LastBlock() (uint64, error) {
	return d.blob.lastBlock()
}

// RawReceipts calls fn with the JSON encoding of each journaled receipt from
// block onwards until fn returns false
func (d *Database) RawReceipts(from uint64, fn func(block uint64, data []byte) (bool, error)) error {
	return d.blob.iterate(from, fn)
}

// Close cleans up the database connections
func (d *Database) Close() error {
	var err error
	err = errors.Join(err, d.metadata.Close())
	err = errors.Join(err, d.blob.Close())
	return err
}

func encodeReceipt(receipt chain.Receipt) (storedReceipt, error) {
	sr := storedReceipt{
		ID:     receipt.ID,
		Op:     receipt.Op,
		Time:   receipt.Time.UTC(),
		Block:  receipt.Block,
		Sender: receipt.Sender,
		Events: make([]storedEvent, 0, len(receipt.Events)),
	}
	for _, evt := range receipt.Events {
		data, err := json.Marshal(evt.Data)
		if err != nil {
			return storedReceipt{}, fmt.Errorf("encode %s event: %w", evt.Type, err)
		}
		sr.Events = append(sr.Events, storedEvent{
			Type:      evt.Type,
			Timestamp: evt.Timestamp.UTC(),
			Data:      data,
		})
	}
	return sr, nil
}

func decodeStoredReceipt(data []byte) (storedReceipt, error) {
	var sr storedReceipt
	if err := json.Unmarshal(data, &sr); err != nil {
		return storedReceipt{}, fmt.Errorf("decode receipt: %w", err)
	}
	return sr, nil
}

func (sr storedReceipt) receipt() chain.Receipt {
	ret := chain.Receipt{
		ID:     sr.ID,
		Op:     sr.Op,
		Time:   sr.Time,
		Block:  sr.Block,
		Sender: sr.Sender,
		Events: make([]event.Event, 0, len(sr.Events)),
	}
	for _, evt := range sr.Events {
		ret.Events = append(ret.Events, event.Event{
			Type:      evt.Type,
			Timestamp: evt.Timestamp,
			Data:      evt.Data,
			Block:     sr.Block,
		})
	}
	return ret
}
