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

package event_test

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blinklabs-io/enledger/event"
)

const (
	transferType event.EventType = "ledger.transfer"
	repaidType   event.EventType = "loan.repaid"
)

type transfer struct {
	From   string
	To     string
	Amount uint64
}

func receive(t *testing.T, ch <-chan event.Event) event.Event {
	t.Helper()
	select {
	case evt, ok := <-ch:
		require.True(t, ok, "event channel closed unexpectedly")
		return evt
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}
	return event.Event{}
}

func TestPublishReachesEverySubscriber(t *testing.T) {
	eb := event.NewEventBus(nil, nil)
	defer eb.Stop()
	_, ch1 := eb.Subscribe(transferType)
	_, ch2 := eb.Subscribe(transferType)
	_, other := eb.Subscribe(repaidType)

	payload := transfer{From: "treasury", To: "facilities", Amount: 100}
	evt := event.NewEvent(transferType, payload)
	evt.Block = 3
	eb.Publish(transferType, evt)

	for _, ch := range []<-chan event.Event{ch1, ch2} {
		got := receive(t, ch)
		assert.Equal(t, transferType, got.Type)
		assert.Equal(t, uint64(3), got.Block)
		data, ok := got.Data.(transfer)
		require.True(t, ok, "unexpected payload type %T", got.Data)
		assert.Equal(t, payload, data)
	}
	select {
	case got := <-other:
		t.Fatalf("repaid subscriber received %s", got.Type)
	default:
	}
}

func TestPublishPreservesOrder(t *testing.T) {
	eb := event.NewEventBus(nil, nil)
	defer eb.Stop()
	_, ch := eb.Subscribe(transferType)
	for i := range uint64(20) {
		eb.Publish(transferType, event.NewEvent(transferType, transfer{Amount: i}))
	}
	for i := range uint64(20) {
		got := receive(t, ch)
		assert.Equal(t, i, got.Data.(transfer).Amount)
	}
}

func TestWildcardSubscriber(t *testing.T) {
	eb := event.NewEventBus(nil, nil)
	defer eb.Stop()
	_, all := eb.Subscribe(event.AllEventsType)
	eb.Publish(transferType, event.NewEvent(transferType, transfer{Amount: 1}))
	eb.Publish(repaidType, event.NewEvent(repaidType, "facilities"))
	assert.Equal(t, transferType, receive(t, all).Type)
	assert.Equal(t, repaidType, receive(t, all).Type)
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	eb := event.NewEventBus(nil, nil)
	defer eb.Stop()
	id, ch := eb.Subscribe(transferType)
	eb.Unsubscribe(transferType, id)
	select {
	case _, ok := <-ch:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("channel was not closed")
	}
	// Publishing with no subscribers left is a no-op
	eb.Publish(transferType, event.NewEvent(transferType, nil))
	// Unknown ids are ignored
	eb.Unsubscribe(transferType, id)
	eb.Unsubscribe(repaidType, 42)
}

func TestSubscribeFuncSurvivesPanic(t *testing.T) {
	eb := event.NewEventBus(nil, nil)
	defer eb.Stop()
	var calls atomic.Int32
	eb.SubscribeFunc(repaidType, func(evt event.Event) {
		if calls.Add(1) == 1 {
			panic("handler bug")
		}
	})
	eb.Publish(repaidType, event.NewEvent(repaidType, "first"))
	eb.Publish(repaidType, event.NewEvent(repaidType, "second"))
	require.Eventually(t, func() bool {
		return calls.Load() == 2
	}, 2*time.Second, 10*time.Millisecond)
}

func TestPublishAsync(t *testing.T) {
	eb := event.NewEventBus(nil, nil)
	defer eb.Stop()
	var total atomic.Uint64
	eb.SubscribeFunc(transferType, func(evt event.Event) {
		total.Add(evt.Data.(transfer).Amount)
	})
	for _, amount := range []uint64{10, 20, 30} {
		require.True(t, eb.PublishAsync(transferType, event.NewEvent(transferType, transfer{Amount: amount})))
	}
	require.Eventually(t, func() bool {
		return total.Load() == 60
	}, 2*time.Second, 10*time.Millisecond)
}

func TestStopClosesSubscribersAndAllowsReuse(t *testing.T) {
	eb := event.NewEventBus(nil, nil)
	defer eb.Stop()
	_, ch := eb.Subscribe(transferType)
	eb.SubscribeFunc(repaidType, func(event.Event) {})
	eb.Stop()
	_, ok := <-ch
	assert.False(t, ok)

	var calls atomic.Int32
	require.NotZero(t, eb.SubscribeFunc(repaidType, func(event.Event) {
		calls.Add(1)
	}))
	require.True(t, eb.PublishAsync(repaidType, event.NewEvent(repaidType, "facilities")))
	require.Eventually(t, func() bool {
		return calls.Load() == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestConcurrentPublishAndStop(t *testing.T) {
	for range 200 {
		eb := event.NewEventBus(nil, nil)
		id, ch := eb.Subscribe(transferType)
		var wg sync.WaitGroup
		wg.Add(3)
		go func() {
			defer wg.Done()
			for i := range uint64(10) {
				eb.Publish(transferType, event.NewEvent(transferType, transfer{Amount: i}))
			}
		}()
		go func() {
			defer wg.Done()
			for range 3 {
				eb.SubscribeFunc(repaidType, func(event.Event) {})
			}
		}()
		go func() {
			defer wg.Done()
			eb.Unsubscribe(transferType, id)
			eb.Stop()
		}()
		for range ch {
		}
		wg.Wait()
	}
}

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	eb := event.NewEventBus(reg, nil)
	defer eb.Stop()
	_, _ = eb.Subscribe(transferType)
	eb.Publish(transferType, event.NewEvent(transferType, transfer{Amount: 1}))
	eb.Publish(transferType, event.NewEvent(transferType, transfer{Amount: 2}))
	count, err := testutil.GatherAndCount(reg)
	require.NoError(t, err)
	assert.Positive(t, count)
}
