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

package trade

import (
	"github.com/holiman/uint256"

	"github.com/blinklabs-io/enledger/event"
	"github.com/blinklabs-io/enledger/types"
)

const (
	OrderListedEventType       event.EventType = "trade.order_listed"
	OrderFilledEventType       event.EventType = "trade.order_filled"
	OrderCancelledEventType    event.EventType = "trade.order_cancelled"
	AmmSeededEventType         event.EventType = "trade.amm_seeded"
	AmmSwapEnToForKwhEventType event.EventType = "trade.amm_swap_ento_for_kwh"
	AmmSwapKwhForEnToEventType event.EventType = "trade.amm_swap_kwh_for_ento"
	ParamsUpdatedEventType     event.EventType = "trade.params_updated"
)

type OrderListedEvent struct {
	Price18 *uint256.Int
	Seller  types.Address
	OrderID uint64
	KWh     uint64
}

type OrderFilledEvent struct {
	EnToPaid     *uint256.Int
	Buyer        types.Address
	Seller       types.Address
	OrderID      uint64
	KWh          uint64
	KWhRemaining uint64
}

type OrderCancelledEvent struct {
	Seller       types.Address
	OrderID      uint64
	KWhRemaining uint64
}

type AmmSeededEvent struct {
	EnTo *uint256.Int
	KWh  uint64
}

type AmmSwapEvent struct {
	EnTo        *uint256.Int
	ReserveEnTo *uint256.Int
	Trader      types.Address
	KWh         uint64
	ReserveKWh  uint64
}

type ParamsUpdatedEvent struct {
	MinPremiumBps uint64
	FeeBps        uint64
}
