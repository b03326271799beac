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

// Package archive copies the receipt journal to object storage in
// newline-delimited JSON batches
package archive

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/blinklabs-io/enledger/internal/sops"
)

const (
	DefaultBatchSize = 1000
	DefaultInterval  = 5 * time.Minute

	cursorObject = "cursor"
)

var ErrObjectNotFound = errors.New("object not found")

// ReceiptSource yields journaled receipts in block order, starting at from
type ReceiptSource interface {
	RawReceipts(from uint64, fn func(block uint64, data []byte) (bool, error)) error
}

// ObjectStore is the minimal bucket interface the archiver writes through
type ObjectStore interface {
	Put(ctx context.Context, name string, data []byte) error
	Get(ctx context.Context, name string) ([]byte, error)
	Close() error
}

type Archiver struct {
	logger    *slog.Logger
	metrics   *archiveMetrics
	source    ReceiptSource
	store     ObjectStore
	keys      *sops.KeyConfig
	prefix    string
	batchSize int
	interval  time.Duration
	mu        sync.Mutex
	cancel    context.CancelFunc
	done      chan struct{}
}

// Batch describes one uploaded object
type Batch struct {
	Object    string
	FromBlock uint64
	ToBlock   uint64
	Receipts  int
}

func New(source ReceiptSource, store ObjectStore, opts ...ArchiverOptionFunc) (*Archiver, error) {
	if source == nil {
		return nil, errors.New("archive: receipt source is required")
	}
	if store == nil {
		return nil, errors.New("archive: object store is required")
	}
	a := &Archiver{
		source:    source,
		store:     store,
		batchSize: DefaultBatchSize,
		interval:  DefaultInterval,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.logger == nil {
		a.logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	a.logger = a.logger.With("component", "archive")
	if a.batchSize <= 0 {
		return nil, fmt.Errorf("archive: invalid batch size %d", a.batchSize)
	}
	if a.interval <= 0 {
		return nil, fmt.Errorf("archive: invalid interval %s", a.interval)
	}
	return a, nil
}

// Cursor returns the last archived block, or 0 when nothing was archived yet
func (a *Archiver) Cursor(ctx context.Context) (uint64, error) {
	data, err := a.store.Get(ctx, a.objectName(cursorObject))
	if err != nil {
		if errors.Is(err, ErrObjectNotFound) {
			return 0, nil
		}
		return 0, fmt.Errorf("read archive cursor: %w", err)
	}
	data, err = a.open(data)
	if err != nil {
		return 0, fmt.Errorf("read archive cursor: %w", err)
	}
	if len(data) != 8 {
		return 0, fmt.Errorf("read archive cursor: malformed value of %d bytes", len(data))
	}
	return binary.BigEndian.Uint64(data), nil
}

// ArchiveOnce uploads every receipt newer than the cursor in batches
func (a *Archiver) ArchiveOnce(ctx context.Context) ([]Batch, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	cursor, err := a.Cursor(ctx)
	if err != nil {
		return nil, err
	}
	var batches []Batch
	for {
		if err := ctx.Err(); err != nil {
			return batches, err
		}
		batch, buf, err := a.collect(cursor + 1)
		if err != nil {
			return batches, err
		}
		if batch.Receipts == 0 {
			return batches, nil
		}
		if err := a.upload(ctx, batch, buf); err != nil {
			if a.metrics != nil {
				a.metrics.failures.Inc()
			}
			return batches, err
		}
		cursor = batch.ToBlock
		batches = append(batches, batch)
	}
}

// Start archives on an interval until Stop is called
func (a *Archiver) Start() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cancel != nil {
		return errors.New("archive: already started")
	}
	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel
	a.done = make(chan struct{})
	go a.run(ctx, a.done)
	return nil
}

// Stop halts the background loop and closes the object store
func (a *Archiver) Stop() error {
	a.mu.Lock()
	cancel, done := a.cancel, a.done
	a.cancel = nil
	a.mu.Unlock()
	if cancel != nil {
		cancel()
		<-done
	}
	return a.store.Close()
}

func (a *Archiver) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			batches, err := a.ArchiveOnce(ctx)
			if err != nil && !errors.Is(err, context.Canceled) {
				a.logger.Error(
					"archive run failed",
					"error", err,
				)
			}
			if len(batches) > 0 {
				a.logger.Info(
					"archived receipts",
					"batches", len(batches),
					"to_block", batches[len(batches)-1].ToBlock,
				)
			}
		}
	}
}

func (a *Archiver) collect(from uint64) (Batch, []byte, error) {
	batch := Batch{FromBlock: from}
	var buf bytes.Buffer
	err := a.source.RawReceipts(from, func(block uint64, data []byte) (bool, error) {
		buf.Write(bytes.TrimSpace(data))
		buf.WriteByte('\n')
		batch.ToBlock = block
		batch.Receipts++
		return batch.Receipts < a.batchSize, nil
	})
	if err != nil {
		return Batch{}, nil, fmt.Errorf("read receipts: %w", err)
	}
	batch.Object = a.objectName(fmt.Sprintf("receipts/%020d-%020d.jsonl", batch.FromBlock, batch.ToBlock))
	return batch, buf.Bytes(), nil
}

func (a *Archiver) upload(ctx context.Context, batch Batch, data []byte) error {
	sealed, err := a.seal(data)
	if err != nil {
		return err
	}
	if err := a.store.Put(ctx, batch.Object, sealed); err != nil {
		return fmt.Errorf("upload %s: %w", batch.Object, err)
	}
	cursor := make([]byte, 8)
	binary.BigEndian.PutUint64(cursor, batch.ToBlock)
	if cursor, err = a.seal(cursor); err != nil {
		return err
	}
	if err := a.store.Put(ctx, a.objectName(cursorObject), cursor); err != nil {
		return fmt.Errorf("update archive cursor: %w", err)
	}
	if a.metrics != nil {
		a.metrics.batches.Inc()
		a.metrics.receipts.Add(float64(batch.Receipts))
		a.metrics.bytes.Add(float64(len(sealed)))
		a.metrics.cursor.Set(float64(batch.ToBlock))
	}
	a.logger.Debug(
		"uploaded receipt batch",
		"object", batch.Object,
		"receipts", batch.Receipts,
	)
	return nil
}

func (a *Archiver) seal(data []byte) ([]byte, error) {
	if a.keys == nil {
		return data, nil
	}
	ret, err := sops.Encrypt(data, *a.keys)
	if err != nil {
		return nil, fmt.Errorf("encrypt archive object: %w", err)
	}
	return ret, nil
}

func (a *Archiver) open(data []byte) ([]byte, error) {
	if !sops.IsEncrypted(data) {
		return data, nil
	}
	return sops.Decrypt(data)
}

func (a *Archiver) objectName(name string) string {
	if a.prefix == "" {
		return name
	}
	return a.prefix + "/" + name
}

type ArchiverOptionFunc func(*Archiver)

// WithLogger specifies the logger object to use for logging messages
func WithLogger(logger *slog.Logger) ArchiverOptionFunc {
	return func(a *Archiver) {
		a.logger = logger
	}
}

// WithPromRegistry specifies the prometheus registry to use for metrics
func WithPromRegistry(registry prometheus.Registerer) ArchiverOptionFunc {
	return func(a *Archiver) {
		if registry != nil {
			a.metrics = &archiveMetrics{}
			a.metrics.init(registry)
		}
	}
}

// WithPrefix places every object under prefix in the bucket
func WithPrefix(prefix string) ArchiverOptionFunc {
	return func(a *Archiver) {
		a.prefix = prefix
	}
}

func WithBatchSize(size int) ArchiverOptionFunc {
	return func(a *Archiver) {
		a.batchSize = size
	}
}

func WithInterval(interval time.Duration) ArchiverOptionFunc {
	return func(a *Archiver) {
		a.interval = interval
	}
}

// WithEncryption seals every uploaded object with SOPS
func WithEncryption(keys sops.KeyConfig) ArchiverOptionFunc {
	return func(a *Archiver) {
		a.keys = &keys
	}
}
