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

package event

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// failingSink stands in for a remote sink such as an unreachable archive
type failingSink struct {
	closed bool
}

func (f *failingSink) Deliver(Event) error {
	return errors.New("sink unavailable")
}

func (f *failingSink) Close() {
	f.closed = true
}

func TestFailingSinkIsUnregistered(t *testing.T) {
	eb := NewEventBus(nil, nil)
	defer eb.Stop()
	sink := &failingSink{}
	id := eb.RegisterSubscriber("loan.liquidated", sink)
	require.NotZero(t, id)

	eb.Publish("loan.liquidated", NewEvent("loan.liquidated", "laboratories"))

	eb.mu.RLock()
	_, stillRegistered := eb.subscribers["loan.liquidated"][id]
	eb.mu.RUnlock()
	assert.False(t, stillRegistered)
	assert.True(t, sink.closed)
}

func TestChannelSubscriberDropsWhenFull(t *testing.T) {
	sub := newChannelSubscriber(3, nil)
	for i := range 3 {
		require.NoError(t, sub.Deliver(NewEvent("ledger.transfer", i)))
	}
	done := make(chan error, 1)
	go func() {
		done <- sub.Deliver(NewEvent("ledger.transfer", "overflow"))
	}()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Deliver blocked on a full buffer")
	}
	assert.Len(t, sub.ch, 3)
	for i := range 3 {
		assert.Equal(t, i, (<-sub.ch).Data)
	}
}

func TestChannelSubscriberClosed(t *testing.T) {
	sub := newChannelSubscriber(1, nil)
	sub.Close()
	sub.Close()
	require.NoError(t, sub.Deliver(NewEvent("ledger.transfer", "late")))
	_, ok := <-sub.ch
	assert.False(t, ok)
}

func TestPublishToFullSubscriberReturns(t *testing.T) {
	eb := NewEventBus(nil, nil)
	defer eb.Stop()
	_, ch := eb.Subscribe("oracle.usage_recorded")
	for range EventQueueSize {
		eb.Publish("oracle.usage_recorded", NewEvent("oracle.usage_recorded", nil))
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		eb.Publish("oracle.usage_recorded", NewEvent("oracle.usage_recorded", "overflow"))
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked on a full subscriber")
	}
	assert.Len(t, ch, EventQueueSize)
}
