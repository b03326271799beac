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
	"github.com/holiman/uint256"

	"github.com/blinklabs-io/enledger/event"
	"github.com/blinklabs-io/enledger/types"
)

const (
	PackPurchasedEventType event.EventType = "auction.pack_purchased"
	ConfigUpdatedEventType event.EventType = "auction.config_updated"
)

type PackPurchasedEvent struct {
	EnToPaid    *uint256.Int
	UnitPrice18 *uint256.Int
	Department  types.Address
	KWh         uint64
	Month       uint32
}

type ConfigUpdatedEvent struct {
	BasePrice18     uint64
	SlopeBps        uint64
	OnePackPerMonth bool
}
