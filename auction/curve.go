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

package auction

import (
	"slices"

	"github.com/holiman/uint256"

	"github.com/blinklabs-io/enledger/fixed"
)

const (
	DefaultBasePrice18 uint64 = 10
	DefaultSlopeBps    uint64 = 10_000

	// MaxUnitPrice18 is the curve ceiling: 10^18 kWh per EnTo
	MaxUnitPrice18 uint64 = 1_000_000_000_000_000_000
)

// pricePoints holds every divisor of 10^18 in ascending order. Snapping the
// curve onto these keeps kWh × 10^18 / price exact for any kWh.
var pricePoints = func() []uint64 {
	ret := make([]uint64, 0, 19*19)
	pow2 := uint64(1)
	for range 19 {
		v := pow2
		for range 19 {
			ret = append(ret, v)
			v *= 5
		}
		pow2 *= 2
	}
	slices.Sort(ret)
	return ret
}()

// CurvePrice18 evaluates the bonding curve
//
//	raw = base × (10000 + slopeBps × supply / genesis) / 10000
//
// snapped down to the nearest divisor of 10^18 and clamped to
// [1, MaxUnitPrice18]. A zero genesis supply yields the base price.
func CurvePrice18(
	supply *uint256.Int,
	genesis *uint256.Int,
	base uint64,
	slopeBps uint64,
) *uint256.Int {
	raw := rawPrice(supply, genesis, base, slopeBps)
	return uint256.NewInt(snapPrice(raw))
}

func rawPrice(
	supply *uint256.Int,
	genesis *uint256.Int,
	base uint64,
	slopeBps uint64,
) *uint256.Int {
	baseInt := uint256.NewInt(base)
	if genesis == nil || genesis.IsZero() || supply == nil {
		return baseInt
	}
	growth, err := fixed.MulDiv(uint256.NewInt(slopeBps), supply, genesis)
	if err != nil {
		return fixed.Max()
	}
	factor, err := fixed.Add(growth, uint256.NewInt(fixed.BpsDenominator))
	if err != nil {
		return fixed.Max()
	}
	ret, err := fixed.MulDiv(baseInt, factor, uint256.NewInt(fixed.BpsDenominator))
	if err != nil {
		return fixed.Max()
	}
	return ret
}

func snapPrice(raw *uint256.Int) uint64 {
	if !raw.IsUint64() || raw.Uint64() >= MaxUnitPrice18 {
		return MaxUnitPrice18
	}
	v := raw.Uint64()
	if v <= 1 {
		return 1
	}
	idx, found := slices.BinarySearch(pricePoints, v)
	if found {
		return pricePoints[idx]
	}
	return pricePoints[idx-1]
}

// EnToForKWh returns the base units needed to buy kWh at price18
func EnToForKWh(kWh uint64, price18 *uint256.Int) (*uint256.Int, error) {
	return fixed.MulDiv(uint256.NewInt(kWh), fixed.One(), price18)
}
