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
	"github.com/holiman/uint256"

	"github.com/blinklabs-io/enledger/event"
	"github.com/blinklabs-io/enledger/types"
)

const (
	RequestedEventType           event.EventType = "loan.requested"
	CollateralDepositedEventType event.EventType = "loan.collateral_deposited"
	CollateralWithdrawnEventType event.EventType = "loan.collateral_withdrawn"
	RepaidEventType              event.EventType = "loan.repaid"
	LiquidatedEventType          event.EventType = "loan.liquidated"
	ParamsUpdatedEventType       event.EventType = "loan.params_updated"
)

type RequestedEvent struct {
	Principal  *uint256.Int
	Collateral *uint256.Int
	Borrower   types.Address
	RateBps    uint64
}

type CollateralEvent struct {
	Amount     *uint256.Int
	Collateral *uint256.Int
	Borrower   types.Address
}

type RepaidEvent struct {
	InterestPaid  *uint256.Int
	PrincipalPaid *uint256.Int
	Remaining     *uint256.Int
	Borrower      types.Address
	Closed        bool
}

type LiquidatedEvent struct {
	Debt       *uint256.Int
	Seized     *uint256.Int
	Bonus      *uint256.Int
	Returned   *uint256.Int
	Borrower   types.Address
	Liquidator types.Address
	HealthBps  uint64
	Expired    bool
}

type ParamsUpdatedEvent struct {
	Params Params
}
