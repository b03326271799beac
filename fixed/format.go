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

package fixed

import (
	"errors"
	"fmt"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
)

// Parse converts a human-readable token amount such as "12.5" into base
// units. More than 18 fractional digits is rejected rather than rounded.
func Parse(s string) (*uint256.Int, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, fmt.Errorf("parse amount %q: %w", s, err)
	}
	if d.IsNegative() {
		return nil, fmt.Errorf("parse amount %q: negative", s)
	}
	scaled := d.Shift(Decimals)
	if !scaled.Equal(scaled.Truncate(0)) {
		return nil, fmt.Errorf(
			"parse amount %q: more than %d decimal places",
			s,
			Decimals,
		)
	}
	ret, overflow := uint256.FromBig(scaled.BigInt())
	if overflow {
		return nil, ErrOverflow
	}
	return ret, nil
}

// MustParse is like Parse but panics on error. It is meant for constants.
func MustParse(s string) *uint256.Int {
	ret, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return ret
}

// ParseInt parses a plain base-10 integer in base units
func ParseInt(s string) (*uint256.Int, error) {
	if s == "" {
		return nil, errors.New("empty amount")
	}
	ret, err := uint256.FromDecimal(s)
	if err != nil {
		return nil, fmt.Errorf("parse integer %q: %w", s, err)
	}
	return ret, nil
}

// Format renders base units as a decimal token amount without trailing zeros
func Format(v *uint256.Int) string {
	if v == nil {
		return "0"
	}
	return decimal.NewFromBigInt(v.ToBig(), -Decimals).String()
}

// Float64 approximates a token amount as a float, for metrics
func Float64(v *uint256.Int) float64 {
	if v == nil {
		return 0
	}
	ret, _ := decimal.NewFromBigInt(v.ToBig(), -Decimals).Float64()
	return ret
}
