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

package gateway

import (
	"time"

	"github.com/holiman/uint256"

	"github.com/blinklabs-io/enledger/event"
	"github.com/blinklabs-io/enledger/types"
)

const (
	MarketRateUpdatedEventType event.EventType = "gateway.market_rate_updated"
	SpreadsUpdatedEventType    event.EventType = "gateway.spreads_updated"
	LimitsUpdatedEventType     event.EventType = "gateway.limits_updated"
	BuyInitiatedEventType      event.EventType = "gateway.buy_initiated"
	BuySettledEventType        event.EventType = "gateway.buy_settled"
	SellInitiatedEventType     event.EventType = "gateway.sell_initiated"
	SellSettledEventType       event.EventType = "gateway.sell_settled"
	SellRefundedEventType      event.EventType = "gateway.sell_refunded"
	RequestCancelledEventType  event.EventType = "gateway.request_cancelled"
)

type MarketRateUpdatedEvent struct {
	OldRate18 *uint256.Int
	NewRate18 *uint256.Int
	Sender    types.Address
}

type SpreadsUpdatedEvent struct {
	BuySpreadBps  uint64
	SellSpreadBps uint64
}

type LimitsUpdatedEvent struct {
	Limits Limits
}

// RequestEvent is emitted for every request lifecycle step
type RequestEvent struct {
	Fiat      *uint256.Int
	EnTo      *uint256.Int
	Rate18    *uint256.Int
	Time      time.Time
	User      types.Address
	Sender    types.Address
	RequestID uint64
}
