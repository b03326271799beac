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

// Package fixed implements checked unsigned 256-bit arithmetic for token
// amounts with 18 fractional digits. Every operation that could wrap returns
// an error instead.
package fixed

import (
	"errors"

	"github.com/holiman/uint256"
)

const (
	Decimals = 18
	// BpsDenominator is the basis point scale (1 bps = 1/10000)
	BpsDenominator = 10_000
)

var (
	ErrOverflow       = errors.New("arithmetic overflow")
	ErrUnderflow      = errors.New("arithmetic underflow")
	ErrDivisionByZero = errors.New("division by zero")
)

var one = uint256.NewInt(1_000_000_000_000_000_000)

// One returns 10^18, the fixed-point representation of 1.0
func One() *uint256.Int {
	return one.Clone()
}

// Zero returns a new zero value
func Zero() *uint256.Int {
	return new(uint256.Int)
}

// Max returns the largest representable value, used for unlimited allowances
func Max() *uint256.Int {
	return new(uint256.Int).SetAllOne()
}

// IsMax returns true if v is the largest representable value
func IsMax(v *uint256.Int) bool {
	return v != nil && v.Eq(Max())
}

// Units converts a whole number of tokens into its 18-decimal representation
func Units(whole uint64) *uint256.Int {
	ret := uint256.NewInt(whole)
	// Cannot overflow: 2^64 * 10^18 < 2^256
	return ret.Mul(ret, one)
}

// Add returns a + b
func Add(a, b *uint256.Int) (*uint256.Int, error) {
	ret, overflow := new(uint256.Int).AddOverflow(a, b)
	if overflow {
		return nil, ErrOverflow
	}
	return ret, nil
}

// Sub returns a - b
func Sub(a, b *uint256.Int) (*uint256.Int, error) {
	ret, underflow := new(uint256.Int).SubOverflow(a, b)
	if underflow {
		return nil, ErrUnderflow
	}
	return ret, nil
}

// Mul returns a * b
func Mul(a, b *uint256.Int) (*uint256.Int, error) {
	ret, overflow := new(uint256.Int).MulOverflow(a, b)
	if overflow {
		return nil, ErrOverflow
	}
	return ret, nil
}

// Div returns floor(a / b)
func Div(a, b *uint256.Int) (*uint256.Int, error) {
	if b.IsZero() {
		return nil, ErrDivisionByZero
	}
	return new(uint256.Int).Div(a, b), nil
}

// MulDiv returns floor(a * b / d) with a 512-bit intermediate product
func MulDiv(a, b, d *uint256.Int) (*uint256.Int, error) {
	if d.IsZero() {
		return nil, ErrDivisionByZero
	}
	ret, overflow := new(uint256.Int).MulDivOverflow(a, b, d)
	if overflow {
		return nil, ErrOverflow
	}
	return ret, nil
}

// MulDivUp returns ceil(a * b / d)
func MulDivUp(a, b, d *uint256.Int) (*uint256.Int, error) {
	ret, err := MulDiv(a, b, d)
	if err != nil {
		return nil, err
	}
	prod, overflow := new(uint256.Int).MulOverflow(a, b)
	if overflow {
		// The exact product does not fit, fall back to checking the remainder
		// of the rounded-down result
		check, err := Mul(ret, d)
		if err != nil || !check.Eq(prod) {
			return Add(ret, uint256.NewInt(1))
		}
		return ret, nil
	}
	if !new(uint256.Int).Mod(prod, d).IsZero() {
		return Add(ret, uint256.NewInt(1))
	}
	return ret, nil
}

// Bps returns floor(v * bps / 10000)
func Bps(v *uint256.Int, bps uint64) (*uint256.Int, error) {
	return MulDiv(v, uint256.NewInt(bps), uint256.NewInt(BpsDenominator))
}

// Min returns a copy of the smaller of a and b
func Min(a, b *uint256.Int) *uint256.Int {
	if a.Lt(b) {
		return a.Clone()
	}
	return b.Clone()
}

// Clone copies v, treating nil as zero
func Clone(v *uint256.Int) *uint256.Int {
	if v == nil {
		return Zero()
	}
	return v.Clone()
}
