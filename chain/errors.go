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
	"errors"
	"fmt"
)

var (
	ErrExecutorStopped    = errors.New("executor is stopped")
	ErrExecutorNotStarted = errors.New("executor is not started")
	ErrExecutorStarted    = errors.New("executor is already started")
	ErrReceiptNotFound    = errors.New("receipt not found")
)

// TransitionPanicError is returned when a transition function panics. The
// transition is reverted like any other failure.
type TransitionPanicError struct {
	Op    string
	Value any
}

func (e TransitionPanicError) Error() string {
	return fmt.Sprintf("transition %s panicked: %v", e.Op, e.Value)
}
