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

// Package testutil provides common test helpers: a running executor with a
// controllable clock, well-known test identities, and deterministic
// synchronization helpers in place of time.Sleep.
package testutil

import (
	"testing"
	"time"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"github.com/blinklabs-io/enledger/chain"
	"github.com/blinklabs-io/enledger/fixed"
	"github.com/blinklabs-io/enledger/types"
)

// GenesisTime is the clock start used by NewExecutor
var GenesisTime = time.Date(2025, time.August, 1, 0, 0, 0, 0, time.UTC)

// NewExecutor returns a started executor driven by a manual clock. The
// executor is stopped when the test finishes.
func NewExecutor(t *testing.T) (*chain.Executor, *chain.ManualClock) {
	t.Helper()
	clock := chain.NewManualClock(GenesisTime)
	e := chain.NewExecutor(chain.ExecutorConfig{
		Clock:       clock,
		GenesisTime: GenesisTime,
	})
	require.NoError(t, e.Start())
	t.Cleanup(func() {
		require.NoError(t, e.Stop())
	})
	return e, clock
}

// Address derives a stable test identity from a name
func Address(name string) types.Address {
	return types.ComponentAddress("test", name)
}

// Units returns whole EnTo in base units
func Units(whole uint64) *uint256.Int {
	return fixed.Units(whole)
}

// RequireUnits asserts that actual equals whole EnTo
func RequireUnits(t *testing.T, whole uint64, actual *uint256.Int, msgAndArgs ...any) {
	t.Helper()
	require.Equal(t, fixed.Format(fixed.Units(whole)), fixed.Format(actual), msgAndArgs...)
}

// RequireAmount asserts that two amounts are equal, printing both in token
// units on failure
func RequireAmount(t *testing.T, expected *uint256.Int, actual *uint256.Int, msgAndArgs ...any) {
	t.Helper()
	require.Equal(t, fixed.Format(expected), fixed.Format(actual), msgAndArgs...)
}

// WaitForCondition polls the given condition function until it returns true
// or the timeout expires. This replaces the common pattern of
// time.Sleep followed by an assertion check.
func WaitForCondition(
	t *testing.T,
	condition func() bool,
	timeout time.Duration,
	msg string,
) {
	t.Helper()
	require.Eventually(
		t,
		condition,
		timeout,
		10*time.Millisecond,
		msg,
	)
}

// WaitForConditionWithInterval is like WaitForCondition but allows specifying
// a custom polling interval.
func WaitForConditionWithInterval(
	t *testing.T,
	condition func() bool,
	timeout time.Duration,
	interval time.Duration,
	msg string,
) {
	t.Helper()
	require.Eventually(
		t,
		condition,
		timeout,
		interval,
		msg,
	)
}

// RequireReceive waits for a value on the given channel or fails the test
// if the timeout expires. This replaces the common pattern of
// time.Sleep followed by reading a channel.
func RequireReceive[T any](
	t *testing.T,
	ch <-chan T,
	timeout time.Duration,
	msg string,
) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(timeout):
		t.Fatalf("timeout waiting for channel receive: %s", msg)
		var zero T
		return zero // unreachable
	}
}

// RequireNoReceive verifies that no value is received on the given channel
// within the specified duration. This replaces the pattern of
// time.Sleep followed by a non-blocking channel read to confirm
// that nothing was sent.
func RequireNoReceive[T any](
	t *testing.T,
	ch <-chan T,
	duration time.Duration,
	msg string,
) {
	t.Helper()
	select {
	case v := <-ch:
		t.Fatalf(
			"unexpected value received on channel: %v: %s",
			v,
			msg,
		)
	case <-time.After(duration):
		// Expected: nothing received
	}
}
