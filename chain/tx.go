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
	"time"

	"github.com/blinklabs-io/enledger/event"
	"github.com/blinklabs-io/enledger/types"
)

// Tx is the context of a single state transition. Component methods record
// an undo action for every mutation so that a failed transition leaves no
// trace, and emit events that are only published if it commits.
type Tx struct {
	state  *txState
	sender types.Address
}

type txState struct {
	ctx    context.Context
	time   time.Time
	id     string
	op     string
	undo   []func()
	commit []func()
	events []event.Event
	block  uint64
	origin types.Address
}

// Context returns the context of the submitting caller
func (t *Tx) Context() context.Context {
	return t.state.ctx
}

// Sender is the identity the current call is made as
func (t *Tx) Sender() types.Address {
	return t.sender
}

// Origin is the identity that submitted the transition
func (t *Tx) Origin() types.Address {
	return t.state.origin
}

// Block is the height this transition commits at
func (t *Tx) Block() uint64 {
	return t.state.block
}

// Time is the timestamp of this transition
func (t *Tx) Time() time.Time {
	return t.state.time
}

// Unix is Time() in whole seconds
func (t *Tx) Unix() uint64 {
	return uint64(t.state.time.Unix()) //nolint:gosec
}

// ID uniquely identifies the transition
func (t *Tx) ID() string {
	return t.state.id
}

// Op is the name the transition was submitted under
func (t *Tx) Op() string {
	return t.state.op
}

// As returns a view of the same transition with a different sender. A
// component uses this to act on its own escrow account when it calls into
// another component.
func (t *Tx) As(sender types.Address) *Tx {
	return &Tx{
		state:  t.state,
		sender: sender,
	}
}

// OnRevert registers an action that restores state if the transition fails.
// Actions run in reverse registration order.
func (t *Tx) OnRevert(undo func()) {
	t.state.undo = append(t.state.undo, undo)
}

// OnCommit registers an action that runs once the transition has committed.
// It is meant for side effects such as metrics that must not observe a
// reverted transition.
func (t *Tx) OnCommit(fn func()) {
	t.state.commit = append(t.state.commit, fn)
}

// Emit queues a domain event
func (t *Tx) Emit(eventType event.EventType, data any) {
	t.state.events = append(
		t.state.events,
		event.Event{
			Type:      eventType,
			Data:      data,
			Timestamp: t.state.time,
			Block:     t.state.block,
		},
	)
}

// Events returns the events emitted so far
func (t *Tx) Events() []event.Event {
	return t.state.events
}

func (t *Tx) revert() {
	for i := len(t.state.undo) - 1; i >= 0; i-- {
		t.state.undo[i]()
	}
	t.state.undo = nil
	t.state.commit = nil
	t.state.events = nil
}
