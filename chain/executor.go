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
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/blinklabs-io/enledger/event"
	"github.com/blinklabs-io/enledger/types"
)

const (
	DefaultQueueSize = 256

	mineOp = "chain.mine"
)

type ExecutorConfig struct {
	Logger           *slog.Logger
	PromRegistry     prometheus.Registerer
	EventBus         *event.EventBus
	Clock            Clock
	ReceiptSink      ReceiptSink
	ReceiptSource    ReceiptSource
	QueueSize        int
	ReceiptCacheSize int
	// GenesisTime is the timestamp of block zero. Transitions are never
	// stamped earlier than this.
	GenesisTime time.Time
}

// Snapshot is the chain position a read observes
type Snapshot struct {
	Time  time.Time
	Block uint64
}

// Unix is Time in whole seconds
func (s Snapshot) Unix() uint64 {
	return uint64(s.Time.Unix()) //nolint:gosec
}

type request struct {
	ctx      context.Context
	fn       func(*Tx) (any, error)
	resultCh chan result
	op       string
	mine     uint64
	sender   types.Address
}

type result struct {
	value any
	err   error
}

// Executor applies state transitions one at a time. Each committed transition
// advances the block height by one and gets a receipt. Reads may run
// concurrently with each other but never with a transition.
type Executor struct {
	config    ExecutorConfig
	logger    *slog.Logger
	tracer    trace.Tracer
	metrics   *executorMetrics
	receipts  *receiptCache
	queue     chan *request
	done      chan struct{}
	stoppedCh chan struct{}
	wg        sync.WaitGroup
	stateMu   sync.RWMutex
	height    uint64
	lastTime  time.Time
	runMu     sync.Mutex
	running   bool
	stopped   bool
}

func NewExecutor(cfg ExecutorConfig) *Executor {
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	if cfg.Clock == nil {
		cfg.Clock = SystemClock{}
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	e := &Executor{
		config:    cfg,
		logger:    cfg.Logger.With("component", "chain"),
		tracer:    otel.Tracer("github.com/blinklabs-io/enledger/chain"),
		receipts:  newReceiptCache(cfg.ReceiptCacheSize, cfg.PromRegistry),
		queue:     make(chan *request, cfg.QueueSize),
		done:      make(chan struct{}),
		stoppedCh: make(chan struct{}),
		lastTime:  cfg.GenesisTime.UTC(),
	}
	if cfg.PromRegistry != nil {
		e.initMetrics(cfg.PromRegistry)
	}
	return e
}

// Start launches the worker goroutine
func (e *Executor) Start() error {
	e.runMu.Lock()
	defer e.runMu.Unlock()
	if e.stopped {
		return ErrExecutorStopped
	}
	if e.running {
		return ErrExecutorStarted
	}
	e.running = true
	e.wg.Add(1)
	go e.run()
	e.logger.Debug("executor started", "height", e.Height())
	return nil
}

// Stop waits for the in-flight transition to finish and shuts down the
// worker. Queued transitions fail with ErrExecutorStopped.
func (e *Executor) Stop() error {
	e.runMu.Lock()
	defer e.runMu.Unlock()
	if e.stopped {
		return nil
	}
	e.stopped = true
	close(e.done)
	e.wg.Wait()
	// Fail anything left in the queue
	for {
		select {
		case req := <-e.queue:
			req.resultCh <- result{err: ErrExecutorStopped}
		default:
			close(e.stoppedCh)
			e.logger.Debug("executor stopped", "height", e.Height())
			return nil
		}
	}
}

func (e *Executor) run() {
	defer e.wg.Done()
	for {
		select {
		case <-e.done:
			return
		case req := <-e.queue:
			if e.metrics != nil {
				e.metrics.queueDepth.Set(float64(len(e.queue)))
			}
			req.resultCh <- e.execute(req)
		}
	}
}

func (e *Executor) submit(req *request) (any, error) {
	e.runMu.Lock()
	running, stopped := e.running, e.stopped
	e.runMu.Unlock()
	if stopped {
		return nil, ErrExecutorStopped
	}
	if !running {
		return nil, ErrExecutorNotStarted
	}
	select {
	case e.queue <- req:
	case <-req.ctx.Done():
		return nil, req.ctx.Err()
	case <-e.done:
		return nil, ErrExecutorStopped
	}
	if e.metrics != nil {
		e.metrics.queueDepth.Set(float64(len(e.queue)))
	}
	// Once queued, the transition runs to completion even if the caller
	// goes away
	select {
	case res := <-req.resultCh:
		return res.value, res.err
	case <-e.stoppedCh:
		// Stop has drained the queue, so a result is either present now or
		// never coming
		select {
		case res := <-req.resultCh:
			return res.value, res.err
		default:
			return nil, ErrExecutorStopped
		}
	}
}

// now returns the timestamp for the next transition, never earlier than the
// previous one. Caller must hold stateMu.
func (e *Executor) now() time.Time {
	now := e.config.Clock.Now().UTC()
	if now.Before(e.lastTime) {
		return e.lastTime
	}
	return now
}

func (e *Executor) execute(req *request) result {
	if err := req.ctx.Err(); err != nil {
		return result{err: err}
	}
	if req.op == mineOp {
		e.stateMu.Lock()
		e.height += req.mine
		e.lastTime = e.now()
		height := e.height
		e.stateMu.Unlock()
		if e.metrics != nil {
			e.metrics.height.Set(float64(height))
		}
		return result{value: height}
	}
	start := time.Now()
	ctx, span := e.tracer.Start(
		req.ctx,
		req.op,
		trace.WithAttributes(
			attribute.String("sender", req.sender.Hex()),
		),
	)
	defer span.End()
	e.stateMu.Lock()
	tx := &Tx{
		sender: req.sender,
		state: &txState{
			ctx:    ctx,
			id:     uuid.NewString(),
			op:     req.op,
			origin: req.sender,
			block:  e.height + 1,
			time:   e.now(),
		},
	}
	value, err := e.apply(tx, req.fn)
	if err != nil {
		tx.revert()
		e.stateMu.Unlock()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		e.observe(req.op, "rejected", start)
		e.logger.Debug(
			"transition rejected",
			"op", req.op,
			"sender", req.sender.Hex(),
			"kind", types.KindOf(err).String(),
			"error", err,
		)
		return result{err: err}
	}
	e.height = tx.state.block
	e.lastTime = tx.state.time
	receipt := Receipt{
		ID:     tx.state.id,
		Op:     tx.state.op,
		Time:   tx.state.time,
		Block:  tx.state.block,
		Sender: tx.state.origin,
		Events: tx.state.events,
	}
	commitHooks := tx.state.commit
	e.stateMu.Unlock()
	for _, fn := range commitHooks {
		fn()
	}
	span.SetAttributes(
		attribute.Int64("block", int64(receipt.Block)), //nolint:gosec
		attribute.Int("events", len(receipt.Events)),
	)
	e.observe(req.op, "committed", start)
	if e.metrics != nil {
		e.metrics.height.Set(float64(receipt.Block))
	}
	e.commit(ctx, receipt)
	return result{value: value}
}

// apply runs the transition function, turning a panic into an error
func (e *Executor) apply(tx *Tx, fn func(*Tx) (any, error)) (ret any, err error) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error(
				"transition panic",
				"op", tx.state.op,
				"panic", r,
			)
			ret = nil
			err = TransitionPanicError{Op: tx.state.op, Value: r}
		}
	}()
	return fn(tx)
}

// commit hands the receipt to the sink and publishes its events. This runs on
// the worker goroutine, so events reach subscribers in commit order.
func (e *Executor) commit(ctx context.Context, receipt Receipt) {
	e.receipts.Put(receipt)
	if e.config.ReceiptSink != nil {
		if err := e.config.ReceiptSink.StoreReceipt(ctx, receipt); err != nil {
			e.logger.Error(
				"failed to store receipt",
				"block", receipt.Block,
				"op", receipt.Op,
				"error", err,
			)
		}
	}
	if e.config.EventBus != nil {
		for _, evt := range receipt.Events {
			e.config.EventBus.Publish(evt.Type, evt)
		}
	}
}

func (e *Executor) observe(op string, outcome string, start time.Time) {
	if e.metrics == nil {
		return
	}
	e.metrics.transitions.WithLabelValues(op, outcome).Inc()
	e.metrics.duration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

// Height returns the current block height
func (e *Executor) Height() uint64 {
	e.stateMu.RLock()
	defer e.stateMu.RUnlock()
	return e.height
}

// Snapshot returns the current chain position. The time is the later of the
// clock and the last committed transition.
func (e *Executor) Snapshot() Snapshot {
	e.stateMu.RLock()
	defer e.stateMu.RUnlock()
	return e.snapshot()
}

func (e *Executor) snapshot() Snapshot {
	return Snapshot{
		Block: e.height,
		Time:  e.now(),
	}
}

// Mine advances the block height by n without applying a transition
func (e *Executor) Mine(ctx context.Context, n uint64) (uint64, error) {
	if n == 0 {
		return e.Height(), nil
	}
	value, err := e.submit(&request{
		ctx:      ctx,
		op:       mineOp,
		mine:     n,
		resultCh: make(chan result, 1),
	})
	if err != nil {
		return 0, err
	}
	return value.(uint64), nil
}

// Receipt returns the receipt for the transition committed at block
func (e *Executor) Receipt(block uint64) (Receipt, error) {
	if receipt, ok := e.receipts.Get(block); ok {
		return receipt, nil
	}
	if e.config.ReceiptSource != nil {
		return e.config.ReceiptSource.ReceiptByBlock(block)
	}
	return Receipt{}, ErrReceiptNotFound
}

// Call submits a transition as sender and waits for it to commit or fail
func Call[T any](
	ctx context.Context,
	e *Executor,
	sender types.Address,
	op string,
	fn func(*Tx) (T, error),
) (T, error) {
	var zero T
	value, err := e.submit(&request{
		ctx:    ctx,
		op:     op,
		sender: sender,
		fn: func(tx *Tx) (any, error) {
			return fn(tx)
		},
		resultCh: make(chan result, 1),
	})
	if err != nil {
		return zero, err
	}
	if value == nil {
		return zero, nil
	}
	ret, ok := value.(T)
	if !ok {
		return zero, errors.New("unexpected transition result type")
	}
	return ret, nil
}

// Exec is Call for transitions that return nothing
func Exec(
	ctx context.Context,
	e *Executor,
	sender types.Address,
	op string,
	fn func(*Tx) error,
) error {
	_, err := Call(ctx, e, sender, op, func(tx *Tx) (struct{}, error) {
		return struct{}{}, fn(tx)
	})
	return err
}

// Read runs fn against a consistent view of state
func Read[T any](e *Executor, fn func(Snapshot) (T, error)) (T, error) {
	e.stateMu.RLock()
	defer e.stateMu.RUnlock()
	return fn(e.snapshot())
}

// View is Read for functions that only return an error
func View(e *Executor, fn func(Snapshot) error) error {
	e.stateMu.RLock()
	defer e.stateMu.RUnlock()
	return fn(e.snapshot())
}
