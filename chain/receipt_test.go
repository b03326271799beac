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

package chain

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
)

func TestReceiptCache_LRUEviction(t *testing.T) {
	cache := newReceiptCache(3, nil)

	_, ok := cache.Get(1)
	assert.False(t, ok)

	for i := uint64(1); i <= 3; i++ {
		cache.Put(Receipt{Block: i, Op: "test"})
	}
	assert.Equal(t, 3, cache.Len())

	// Touch block 1 so block 2 becomes least recently used
	_, ok = cache.Get(1)
	assert.True(t, ok)

	cache.Put(Receipt{Block: 4})
	assert.Equal(t, 3, cache.Len())
	_, ok = cache.Get(2)
	assert.False(t, ok)
	for _, block := range []uint64{1, 3, 4} {
		_, ok := cache.Get(block)
		assert.True(t, ok, "block %d", block)
	}
}

func TestReceiptCache_UpdateExisting(t *testing.T) {
	cache := newReceiptCache(3, prometheus.NewRegistry())
	cache.Put(Receipt{Block: 1, Op: "first"})
	cache.Put(Receipt{Block: 1, Op: "second"})
	assert.Equal(t, 1, cache.Len())
	got, ok := cache.Get(1)
	assert.True(t, ok)
	assert.Equal(t, "second", got.Op)
}

func TestReceiptCache_DefaultCapacity(t *testing.T) {
	cache := newReceiptCache(0, nil)
	assert.Equal(t, DefaultReceiptCacheCapacity, cache.capacity)
}
