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

package governance

import (
	"errors"
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"

	"github.com/blinklabs-io/enledger/chain"
	"github.com/blinklabs-io/enledger/types"
)

// Parameter names understood by the registry once the node wires them
const (
	ParamAuctionSlopeBps        = "AUCTION_SLOPE_BPS"
	ParamTradeMinPremiumBps     = "TRADE_MIN_PREMIUM_BPS"
	ParamTradeFeeBps            = "TRADE_FEE_BPS"
	ParamLoanMinHealthBps       = "LOAN_MIN_HEALTH_BPS"
	ParamOracleSavingsRewardBps = "ORACLE_SAVINGS_REWARD_BPS"
	ParamGovQuorumBps           = "GOV_QUORUM_BPS"
	ParamGatewayBuySpreadBps    = "GATEWAY_BUY_SPREAD_BPS"
	ParamGatewaySellSpreadBps   = "GATEWAY_SELL_SPREAD_BPS"
)

var ErrParamExists = errors.New("parameter already registered")

// ParamKey is keccak256 of the parameter name
func ParamKey(name string) common.Hash {
	return crypto.Keccak256Hash([]byte(name))
}

// ParamSetter applies an executed proposal's value. The transition passed in
// acts as the governance component.
type ParamSetter func(tx *chain.Tx, value *uint256.Int) error

// Uint64Param adapts a setter taking a uint64, rejecting larger values
func Uint64Param(fn func(tx *chain.Tx, value uint64) error) ParamSetter {
	return func(tx *chain.Tx, value *uint256.Int) error {
		if !value.IsUint64() {
			return types.Errorf(
				types.KindValidation,
				"governance.apply_param",
				"value %s does not fit in 64 bits",
				value.ToBig().String(),
			)
		}
		return fn(tx, value.Uint64())
	}
}

type registeredParam struct {
	setter ParamSetter
	name   string
}

// ParamRegistry maps parameter keys to the component setters that apply them
type ParamRegistry struct {
	params map[common.Hash]registeredParam
}

func NewParamRegistry() *ParamRegistry {
	return &ParamRegistry{
		params: make(map[common.Hash]registeredParam),
	}
}

// Register binds name to setter
func (r *ParamRegistry) Register(name string, setter ParamSetter) error {
	key := ParamKey(name)
	if _, ok := r.params[key]; ok {
		return fmt.Errorf("%w: %s", ErrParamExists, name)
	}
	r.params[key] = registeredParam{name: name, setter: setter}
	return nil
}

// Name returns the registered name for key
func (r *ParamRegistry) Name(key common.Hash) (string, bool) {
	p, ok := r.params[key]
	return p.name, ok
}

// Names lists registered parameters alphabetically
func (r *ParamRegistry) Names() []string {
	ret := make([]string, 0, len(r.params))
	for _, p := range r.params {
		ret = append(ret, p.name)
	}
	sort.Strings(ret)
	return ret
}

// Apply runs the setter for key. It reports false for unknown keys.
func (r *ParamRegistry) Apply(tx *chain.Tx, key common.Hash, value *uint256.Int) (bool, error) {
	p, ok := r.params[key]
	if !ok {
		return false, nil
	}
	if err := p.setter(tx, value); err != nil {
		return false, fmt.Errorf("apply %s: %w", p.name, err)
	}
	return true, nil
}
