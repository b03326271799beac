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

package loan

import (
	"errors"
	"fmt"
	"time"

	"github.com/blinklabs-io/enledger/fixed"
)

const (
	DefaultMinRateBps              = 400
	DefaultMaxRateBps              = 2_000
	DefaultMinHealthBps            = 5_000
	DefaultLiquidationHealthBps    = 5_000
	DefaultLiquidationBonusBps     = 500
	DefaultMaxDuration             = 180 * 24 * time.Hour
	DefaultRepayScoreBonus         = 5
	DefaultLiquidationScorePenalty = 20

	secondsPerYear = 365 * 24 * 60 * 60
)

var ErrInvalidParams = errors.New("invalid loan parameters")

// Params are the tunable loan terms
type Params struct {
	MinRateBps           uint64
	MaxRateBps           uint64
	MinHealthBps         uint64
	LiquidationHealthBps uint64
	LiquidationBonusBps  uint64
	// MaxDuration is the age after which a loan may be liquidated regardless
	// of health
	MaxDuration             time.Duration
	RepayScoreBonus         uint64
	LiquidationScorePenalty uint64
}

func DefaultParams() Params {
	return Params{
		MinRateBps:              DefaultMinRateBps,
		MaxRateBps:              DefaultMaxRateBps,
		MinHealthBps:            DefaultMinHealthBps,
		LiquidationHealthBps:    DefaultLiquidationHealthBps,
		LiquidationBonusBps:     DefaultLiquidationBonusBps,
		MaxDuration:             DefaultMaxDuration,
		RepayScoreBonus:         DefaultRepayScoreBonus,
		LiquidationScorePenalty: DefaultLiquidationScorePenalty,
	}
}

func (p Params) Validate() error {
	switch {
	case p.MaxRateBps > fixed.BpsDenominator:
		return fmt.Errorf("%w: max rate %d bps", ErrInvalidParams, p.MaxRateBps)
	case p.MinRateBps > p.MaxRateBps:
		return fmt.Errorf("%w: min rate above max rate", ErrInvalidParams)
	case p.MinHealthBps == 0:
		return fmt.Errorf("%w: min health must be positive", ErrInvalidParams)
	case p.LiquidationBonusBps > fixed.BpsDenominator:
		return fmt.Errorf("%w: liquidation bonus %d bps", ErrInvalidParams, p.LiquidationBonusBps)
	case p.MaxDuration <= 0:
		return fmt.Errorf("%w: max duration must be positive", ErrInvalidParams)
	case p.RepayScoreBonus > 100 || p.LiquidationScorePenalty > 100:
		return fmt.Errorf("%w: score adjustment above 100", ErrInvalidParams)
	}
	return nil
}

// RateBps maps a credit score in [0, 100] to an annual rate. Higher scores
// borrow cheaper.
func (p Params) RateBps(score uint64) uint64 {
	score = min(score, 100)
	return p.MaxRateBps - (p.MaxRateBps-p.MinRateBps)*score/100
}
