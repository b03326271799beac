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
	"encoding/binary"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
)

const (
	// DefaultBlobCacheSize is the badger block cache size in bytes
	DefaultBlobCacheSize = 256 << 20

	receiptKeyPrefix = "receipt/"
	lastBlockKey     = "meta/last_block"

	blobGcInterval = 5 * time.Minute
)

// blobStore is the badger-backed receipt journal. Each receipt is stored as
// JSON under a key that sorts by block.
type blobStore struct {
	db       *badger.DB
	logger   *slog.Logger
	gcTicker *time.Ticker
	gcStopCh chan struct{}
	gcWg     sync.WaitGroup
}

func openBlobStore(cfg DatabaseConfig, logger *slog.Logger) (*blobStore, error) {
	var badgerOpts badger.Options
	if cfg.DataDir == "" {
		badgerOpts = badger.DefaultOptions("").
			WithInMemory(true)
	} else {
		// Make sure that we can read data dir, and create if it doesn't exist
		if _, err := os.Stat(cfg.DataDir); err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("failed to read data dir: %w", err)
			}
			if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
				return nil, fmt.Errorf("failed to create data dir: %w", err)
			}
		}
		badgerOpts = badger.DefaultOptions(filepath.Join(cfg.DataDir, "blob")).
			WithBlockCacheSize(cfg.BlobCacheSize).
			WithCompression(options.Snappy)
	}
	badgerOpts = badgerOpts.
		WithLogger(&badgerLogger{logger: logger}).
		// The default INFO logging is a bit verbose
		WithLoggingLevel(badger.WARNING)
	db, err := badger.Open(badgerOpts)
	if err != nil {
		return nil, fmt.Errorf("open receipt journal: %w", err)
	}
	b := &blobStore{
		db:     db,
		logger: logger,
	}
	if cfg.DataDir != "" && !cfg.DisableGc {
		b.gcTicker = time.NewTicker(blobGcInterval)
		b.gcStopCh = make(chan struct{})
		b.gcWg.Add(1)
		go b.blobGc(b.gcTicker, b.gcStopCh)
	}
	return b, nil
}

func (b *blobStore) blobGc(t *time.Ticker, stop <-chan struct{}) {
	defer b.gcWg.Done()
	for {
		select {
		case <-t.C:
			for {
				// Keep going while GC is still rewriting files
				err := b.db.RunValueLogGC(0.5)
				if err == nil {
					continue
				}
				if !errors.Is(err, badger.ErrNoRewrite) {
					b.logger.Warn(
						fmt.Sprintf("blob DB: GC failure: %s", err),
						"component", "database",
					)
				}
				break
			}
		case <-stop:
			return
		}
	}
}

func (b *blobStore) Close() error {
	if b.gcTicker != nil {
		b.gcTicker.Stop()
		close(b.gcStopCh)
		b.gcWg.Wait()
		b.gcTicker = nil
	}
	return b.db.Close()
}

func receiptKey(block uint64) []byte {
	return fmt.Appendf(nil, "%s%020d", receiptKeyPrefix, block)
}

// put writes a receipt and advances the last block in one badger transaction
func (b *blobStore) put(block uint64, data []byte) error {
	return b.db.Update(func(txn *badger.Txn) error {
		key := receiptKey(block)
		if _, err := txn.Get(key); err == nil {
			return fmt.Errorf("%w: %d", ErrReceiptExists, block)
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		if err := txn.Set(key, data); err != nil {
			return err
		}
		last, err := getLastBlock(txn)
		if err != nil {
			return err
		}
		if block <= last {
			return nil
		}
		return txn.Set([]byte(lastBlockKey), binary.BigEndian.AppendUint64(nil, block))
	})
}

func (b *blobStore) get(block uint64) ([]byte, error) {
	var ret []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(receiptKey(block))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return ErrReceiptNotFound
			}
			return err
		}
		ret, err = item.ValueCopy(nil)
		return err
	})
	return ret, err
}

func (b *blobStore) lastBlock() (uint64, error) {
	var ret uint64
	err := b.db.View(func(txn *badger.Txn) error {
		var err error
		ret, err = getLastBlock(txn)
		return err
	})
	return ret, err
}

// iterate calls fn for each stored receipt from block onwards, in block
// order, until fn returns false
func (b *blobStore) iterate(from uint64, fn func(block uint64, data []byte) (bool, error)) error {
	return b.db.View(func(txn *badger.Txn) error {
		prefix := []byte(receiptKeyPrefix)
		it := txn.NewIterator(badger.IteratorOptions{
			Prefix:         prefix,
			PrefetchValues: true,
			PrefetchSize:   100,
		})
		defer it.Close()
		for it.Seek(receiptKey(from)); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			block, err := strconv.ParseUint(string(item.Key()[len(prefix):]), 10, 64)
			if err != nil {
				return fmt.Errorf("malformed receipt key %q: %w", item.Key(), err)
			}
			data, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			more, err := fn(block, data)
			if err != nil {
				return err
			}
			if !more {
				return nil
			}
		}
		return nil
	})
}

func getLastBlock(txn *badger.Txn) (uint64, error) {
	item, err := txn.Get([]byte(lastBlockKey))
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return 0, nil
		}
		return 0, err
	}
	val, err := item.ValueCopy(nil)
	if err != nil {
		return 0, err
	}
	if len(val) != 8 {
		return 0, fmt.Errorf("malformed last block value: %d bytes", len(val))
	}
	return binary.BigEndian.Uint64(val), nil
}

// badgerLogger routes badger's log output through slog
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(msg string, args ...any) {
	l.logger.Error(fmt.Sprintf(msg, args...), "component", "database")
}

func (l *badgerLogger) Warningf(msg string, args ...any) {
	l.logger.Warn(fmt.Sprintf(msg, args...), "component", "database")
}

func (l *badgerLogger) Infof(msg string, args ...any) {
	l.logger.Info(fmt.Sprintf(msg, args...), "component", "database")
}

func (l *badgerLogger) Debugf(msg string, args ...any) {
	l.logger.Debug(fmt.Sprintf(msg, args...), "component", "database")
}
