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
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/blinklabs-io/enledger/event"
	"github.com/blinklabs-io/enledger/types"
)

// DefaultReceiptCacheCapacity is the default number of recent receipts kept
// in memory
const DefaultReceiptCacheCapacity = 4096

// Receipt records a committed transition and the events it produced, in
// emission order
type Receipt struct {
	ID     string
	Op     string
	Time   time.Time
	Events []event.Event
	Block  uint64
	Sender types.Address
}

// ReceiptSink persists receipts after commit. A failing sink does not undo
// the transition.
type ReceiptSink interface {
	StoreReceipt(ctx context.Context, receipt Receipt) error
}

// ReceiptSource looks up receipts that are no longer cached
type ReceiptSource interface {
	ReceiptByBlock(block uint64) (Receipt, error)
}

// receiptCache is an LRU cache for receipts keyed by block height.
// All methods are thread-safe.
type receiptCache struct {
	mu             sync.Mutex
	capacity       int
	items          map[uint64]*list.Element
	order          *list.List // front = most recent, back = least recent
	cachedReceipts prometheus.Gauge
}

func newReceiptCache(
	capacity int,
	promRegistry prometheus.Registerer,
) *receiptCache {
	if capacity <= 0 {
		capacity = DefaultReceiptCacheCapacity
	}
	c := &receiptCache{
		capacity: capacity,
		items:    make(map[uint64]*list.Element),
		order:    list.New(),
	}
	if promRegistry != nil {
		c.cachedReceipts = promauto.With(promRegistry).NewGauge(
			prometheus.GaugeOpts{
				Name: "enledger_chain_cached_receipts",
				Help: "current number of receipts in the executor LRU cache",
			},
		)
	}
	return c
}

func (c *receiptCache) updateMetrics() {
	if c.cachedReceipts != nil {
		c.cachedReceipts.Set(float64(c.order.Len()))
	}
}

// Get retrieves a receipt by block height. Accessing a receipt moves it to
// the front of the LRU list.
func (c *receiptCache) Get(block uint64) (Receipt, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if elem, ok := c.items[block]; ok {
		c.order.MoveToFront(elem)
		return elem.Value.(Receipt), true
	}
	return Receipt{}, false
}

// Put adds or replaces a receipt, evicting the least recently used entry
// when at capacity
func (c *receiptCache) Put(receipt Receipt) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if elem, ok := c.items[receipt.Block]; ok {
		c.order.MoveToFront(elem)
		elem.Value = receipt
		return
	}
	if c.order.Len() >= c.capacity {
		if elem := c.order.Back(); elem != nil {
			c.order.Remove(elem)
			delete(c.items, elem.Value.(Receipt).Block)
		}
	}
	c.items[receipt.Block] = c.order.PushFront(receipt)
	c.updateMetrics()
}

// Len returns the number of cached receipts
func (c *receiptCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}
