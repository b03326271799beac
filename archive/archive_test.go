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

package archive_test

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/blinklabs-io/enledger/archive"
	"github.com/blinklabs-io/enledger/internal/test/testutil"
)

type memStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	closed  bool
}

func newMemStore() *memStore {
	return &memStore{objects: make(map[string][]byte)}
}

func (s *memStore) Put(_ context.Context, name string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[name] = bytes.Clone(data)
	return nil
}

func (s *memStore) Get(_ context.Context, name string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.objects[name]
	if !ok {
		return nil, archive.ErrObjectNotFound
	}
	return bytes.Clone(data), nil
}

func (s *memStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *memStore) object(name string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.objects[name]
	return data, ok
}

type sliceSource struct {
	mu     sync.Mutex
	blocks []uint64
}

func (s *sliceSource) add(blocks ...uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blocks = append(s.blocks, blocks...)
}

func (s *sliceSource) RawReceipts(from uint64, fn func(uint64, []byte) (bool, error)) error {
	s.mu.Lock()
	blocks := append([]uint64(nil), s.blocks...)
	s.mu.Unlock()
	for _, block := range blocks {
		if block < from {
			continue
		}
		more, err := fn(block, []byte(fmt.Sprintf(`{"block":%d}`, block)))
		if err != nil {
			return err
		}
		if !more {
			return nil
		}
	}
	return nil
}

func TestArchiveOnceBatches(t *testing.T) {
	source := &sliceSource{}
	source.add(1, 2, 3, 4, 5)
	store := newMemStore()
	a, err := archive.New(source, store, archive.WithBatchSize(2), archive.WithPrefix("devnet"))
	require.NoError(t, err)

	batches, err := a.ArchiveOnce(context.Background())
	require.NoError(t, err)
	require.Len(t, batches, 3)
	assert.Equal(t, uint64(1), batches[0].FromBlock)
	assert.Equal(t, uint64(2), batches[0].ToBlock)
	assert.Equal(t, 1, batches[2].Receipts)

	data, ok := store.object(batches[0].Object)
	require.True(t, ok)
	assert.Equal(t, "{\"block\":1}\n{\"block\":2}\n", string(data))
	assert.Contains(t, batches[0].Object, "devnet/receipts/")

	cursor, err := a.Cursor(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(5), cursor)

	// Nothing new
	batches, err = a.ArchiveOnce(context.Background())
	require.NoError(t, err)
	assert.Empty(t, batches)

	source.add(6)
	batches, err = a.ArchiveOnce(context.Background())
	require.NoError(t, err)
	require.Len(t, batches, 1)
	assert.Equal(t, uint64(6), batches[0].FromBlock)
}

func TestNewValidation(t *testing.T) {
	_, err := archive.New(nil, newMemStore())
	require.Error(t, err)
	_, err = archive.New(&sliceSource{}, nil)
	require.Error(t, err)
	_, err = archive.New(&sliceSource{}, newMemStore(), archive.WithBatchSize(0))
	require.Error(t, err)
}

func TestParseBucketURL(t *testing.T) {
	bucket, prefix, err := archive.ParseBucketURL("gcs://ledger-archive/devnet/receipts/")
	require.NoError(t, err)
	assert.Equal(t, "ledger-archive", bucket)
	assert.Equal(t, "devnet/receipts", prefix)
	_, _, err = archive.ParseBucketURL("s3://bucket")
	require.Error(t, err)
	_, _, err = archive.ParseBucketURL("gcs://")
	require.Error(t, err)
}

func TestStartStop(t *testing.T) {
	defer goleak.VerifyNone(t)
	source := &sliceSource{}
	source.add(1, 2)
	store := newMemStore()
	a, err := archive.New(source, store, archive.WithInterval(10*time.Millisecond))
	require.NoError(t, err)
	require.NoError(t, a.Start())
	require.Error(t, a.Start())
	testutil.WaitForCondition(t, func() bool {
		_, ok := store.object("cursor")
		return ok
	}, 2*time.Second, "archiver never uploaded")
	require.NoError(t, a.Stop())
	assert.True(t, store.closed)
}
