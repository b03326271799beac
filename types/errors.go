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

package types

import (
	"errors"
	"fmt"
)

// ErrorKind classifies why a state transition was rejected
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindAuthorization
	KindValidation
	KindReplay
	KindState
	KindHealth
	KindTiming
)

// Kind sentinels. Every *Error unwraps to exactly one of these, so callers
// can use errors.Is(err, types.ErrReplay) without knowing the concrete type.
var (
	ErrAuthorization   = errors.New("authorization")
	ErrValidation      = errors.New("validation")
	ErrReplay          = errors.New("replay")
	ErrStateError      = errors.New("invalid state")
	ErrHealthViolation = errors.New("health violation")
	ErrTimingViolation = errors.New("timing violation")
)

func (k ErrorKind) String() string {
	switch k {
	case KindAuthorization:
		return "Authorization"
	case KindValidation:
		return "Validation"
	case KindReplay:
		return "Replay"
	case KindState:
		return "StateError"
	case KindHealth:
		return "HealthViolation"
	case KindTiming:
		return "TimingViolation"
	default:
		return "Unknown"
	}
}

func (k ErrorKind) sentinel() error {
	switch k {
	case KindAuthorization:
		return ErrAuthorization
	case KindValidation:
		return ErrValidation
	case KindReplay:
		return ErrReplay
	case KindState:
		return ErrStateError
	case KindHealth:
		return ErrHealthViolation
	case KindTiming:
		return ErrTimingViolation
	default:
		return nil
	}
}

// Error is returned by every rejected operation
type Error struct {
	Err  error
	Op   string
	Kind ErrorKind
}

func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() []error {
	ret := make([]error, 0, 2)
	if s := e.Kind.sentinel(); s != nil {
		ret = append(ret, s)
	}
	if e.Err != nil {
		ret = append(ret, e.Err)
	}
	return ret
}

// NewError wraps err with a kind and the name of the failing operation
func NewError(kind ErrorKind, op string, err error) error {
	return &Error{
		Kind: kind,
		Op:   op,
		Err:  err,
	}
}

// Errorf builds a kinded error from a format string
func Errorf(kind ErrorKind, op string, format string, args ...any) error {
	return &Error{
		Kind: kind,
		Op:   op,
		Err:  fmt.Errorf(format, args...),
	}
}

// KindOf returns the kind of the first *Error found in the chain of err
func KindOf(err error) ErrorKind {
	var tmpErr *Error
	if errors.As(err, &tmpErr) {
		return tmpErr.Kind
	}
	return KindUnknown
}
