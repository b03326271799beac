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

package chain_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/blinklabs-io/enledger/chain"
	"github.com/blinklabs-io/enledger/event"
	"github.com/blinklabs-io/enledger/types"
)

var (
	testAlice = types.ComponentAddress("test", "alice")
	testBob   = types.ComponentAddress("test", "bob")
)

type recordingSink struct {
	mu       sync.Mutex
	receipts []chain.Receipt
	err      error
}

func (s *recordingSink) StoreReceipt(_ context.Context, r chain.Receipt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.receipts = append(s.receipts, r)
	return s.err
}

func newTestExecutor(t *testing.T, cfg chain.ExecutorConfig) *chain.Executor {
	t.Helper()
	e := chain.NewExecutor(cfg)
	require.NoError(t, e.Start())
	t.Cleanup(func() {
		require.NoError(t, e.Stop())
	})
	return e
}

func TestExecutorCommitAdvancesHeight(t *testing.T) {
	defer goleak.VerifyNone(t)
	clock := chain.NewManualClock(time.Unix(1_700_000_000, 0))
	sink := &recordingSink{}
	e := chain.NewExecutor(chain.ExecutorConfig{
		Clock:        clock,
		ReceiptSink:  sink,
		PromRegistry: prometheus.NewRegistry(),
	})
	require.NoError(t, e.Start())
	counter := 0
	ret, err := chain.Call(
		context.Background(),
		e,
		testAlice,
		"test.increment",
		func(tx *chain.Tx) (int, error) {
			prev := counter
			counter++
			tx.OnRevert(func() { counter = prev })
			tx.Emit("test.incremented", counter)
			assert.Equal(t, testAlice, tx.Sender())
			assert.Equal(t, uint64(1), tx.Block())
			return counter, nil
		},
	)
	require.NoError(t, err)
	assert.Equal(t, 1, ret)
	assert.Equal(t, uint64(1), e.Height())
	receipt, err := e.Receipt(1)
	require.NoError(t, err)
	assert.Equal(t, "test.increment", receipt.Op)
	assert.Equal(t, testAlice, receipt.Sender)
	require.Len(t, receipt.Events, 1)
	assert.Equal(t, uint64(1), receipt.Events[0].Block)
	require.Len(t, sink.receipts, 1)
	assert.Equal(t, receipt.ID, sink.receipts[0].ID)
	require.NoError(t, e.Stop())
}

func TestExecutorRejectedTransitionReverts(t *testing.T) {
	sink := &recordingSink{}
	bus := event.NewEventBus(nil, nil)
	defer bus.Stop()
	_, evtCh := bus.Subscribe(event.AllEventsType)
	e := newTestExecutor(t, chain.ExecutorConfig{ReceiptSink: sink, EventBus: bus})
	balances := map[types.Address]uint64{testAlice: 10}
	err := chain.Exec(
		context.Background(),
		e,
		testAlice,
		"test.transfer",
		func(tx *chain.Tx) error {
			balances[testAlice] -= 5
			tx.OnRevert(func() { balances[testAlice] += 5 })
			balances[testBob] += 5
			tx.OnRevert(func() { balances[testBob] -= 5 })
			tx.Emit("test.transfer", 5)
			return types.Errorf(types.KindValidation, "test.transfer", "rejected late")
		},
	)
	require.ErrorIs(t, err, types.ErrValidation)
	assert.Equal(t, uint64(10), balances[testAlice])
	assert.Equal(t, uint64(0), balances[testBob])
	assert.Equal(t, uint64(0), e.Height())
	assert.Empty(t, sink.receipts)
	select {
	case evt := <-evtCh:
		t.Fatalf("unexpected event from rejected transition: %s", evt.Type)
	case <-time.After(50 * time.Millisecond):
	}
	_, err = e.Receipt(1)
	require.ErrorIs(t, err, chain.ErrReceiptNotFound)
}

func TestExecutorPanicReverts(t *testing.T) {
	e := newTestExecutor(t, chain.ExecutorConfig{})
	value := 1
	err := chain.Exec(context.Background(), e, testAlice, "test.panic", func(tx *chain.Tx) error {
		value = 2
		tx.OnRevert(func() { value = 1 })
		panic("boom")
	})
	var panicErr chain.TransitionPanicError
	require.ErrorAs(t, err, &panicErr)
	assert.Equal(t, "test.panic", panicErr.Op)
	assert.Equal(t, 1, value)
	// The executor keeps working afterwards
	require.NoError(t, chain.Exec(context.Background(), e, testAlice, "test.noop", func(*chain.Tx) error {
		return nil
	}))
	assert.Equal(t, uint64(1), e.Height())
}

func TestExecutorAsSharesTransition(t *testing.T) {
	e := newTestExecutor(t, chain.ExecutorConfig{})
	escrow := types.ComponentAddress("test", "escrow")
	err := chain.Exec(context.Background(), e, testAlice, "test.as", func(tx *chain.Tx) error {
		inner := tx.As(escrow)
		assert.Equal(t, escrow, inner.Sender())
		assert.Equal(t, testAlice, inner.Origin())
		assert.Equal(t, tx.ID(), inner.ID())
		inner.Emit("test.inner", nil)
		tx.Emit("test.outer", nil)
		return nil
	})
	require.NoError(t, err)
	receipt, err := e.Receipt(1)
	require.NoError(t, err)
	require.Len(t, receipt.Events, 2)
	assert.Equal(t, event.EventType("test.inner"), receipt.Events[0].Type)
	assert.Equal(t, event.EventType("test.outer"), receipt.Events[1].Type)
}

func TestExecutorEventsPublishedInCommitOrder(t *testing.T) {
	bus := event.NewEventBus(nil, nil)
	defer bus.Stop()
	_, evtCh := bus.Subscribe(event.AllEventsType)
	e := newTestExecutor(t, chain.ExecutorConfig{EventBus: bus})
	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = chain.Exec(context.Background(), e, testAlice, "test.emit", func(tx *chain.Tx) error {
				tx.Emit("test.a", i)
				tx.Emit("test.b", i)
				return nil
			})
		}()
	}
	wg.Wait()
	var lastBlock uint64
	for range 40 {
		select {
		case evt := <-evtCh:
			assert.GreaterOrEqual(t, evt.Block, lastBlock)
			lastBlock = evt.Block
		case <-time.After(time.Second):
			t.Fatal("timeout waiting for events")
		}
	}
	assert.Equal(t, uint64(20), lastBlock)
}

func TestExecutorMonotonicTime(t *testing.T) {
	start := time.Unix(1_700_000_000, 0)
	clock := chain.NewManualClock(start)
	e := newTestExecutor(t, chain.ExecutorConfig{Clock: clock})
	stamp := func() time.Time {
		ret, err := chain.Call(context.Background(), e, testAlice, "test.time", func(tx *chain.Tx) (time.Time, error) {
			return tx.Time(), nil
		})
		require.NoError(t, err)
		return ret
	}
	first := stamp()
	clock.Set(start.Add(-time.Hour))
	second := stamp()
	assert.False(t, second.Before(first))
	clock.Advance(2 * time.Hour)
	third := stamp()
	assert.Equal(t, start.Add(time.Hour).UTC(), third)
}

func TestExecutorMine(t *testing.T) {
	e := newTestExecutor(t, chain.ExecutorConfig{})
	height, err := e.Mine(context.Background(), 5)
	require.NoError(t, err)
	assert.Equal(t, uint64(5), height)
	snap, err := chain.Read(e, func(s chain.Snapshot) (chain.Snapshot, error) {
		return s, nil
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(5), snap.Block)
}

func TestExecutorCanceledBeforeRun(t *testing.T) {
	e := newTestExecutor(t, chain.ExecutorConfig{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	ran := false
	err := chain.Exec(ctx, e, testAlice, "test.canceled", func(*chain.Tx) error {
		ran = true
		return nil
	})
	require.ErrorIs(t, err, context.Canceled)
	assert.False(t, ran)
	assert.Equal(t, uint64(0), e.Height())
}

func TestExecutorLifecycle(t *testing.T) {
	defer goleak.VerifyNone(t)
	e := chain.NewExecutor(chain.ExecutorConfig{})
	err := chain.Exec(context.Background(), e, testAlice, "test.early", func(*chain.Tx) error { return nil })
	require.ErrorIs(t, err, chain.ErrExecutorNotStarted)
	require.NoError(t, e.Start())
	require.ErrorIs(t, e.Start(), chain.ErrExecutorStarted)
	require.NoError(t, e.Stop())
	require.NoError(t, e.Stop())
	err = chain.Exec(context.Background(), e, testAlice, "test.late", func(*chain.Tx) error { return nil })
	require.ErrorIs(t, err, chain.ErrExecutorStopped)
	require.ErrorIs(t, e.Start(), chain.ErrExecutorStopped)
}

func TestExecutorSinkFailureKeepsCommit(t *testing.T) {
	sink := &recordingSink{err: errors.New("disk full")}
	e := newTestExecutor(t, chain.ExecutorConfig{ReceiptSink: sink})
	require.NoError(t, chain.Exec(context.Background(), e, testAlice, "test.store", func(*chain.Tx) error {
		return nil
	}))
	assert.Equal(t, uint64(1), e.Height())
}
