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

package ledger

import (
	"github.com/holiman/uint256"

	"github.com/blinklabs-io/enledger/event"
	"github.com/blinklabs-io/enledger/types"
)

const (
	TransferEventType event.EventType = "ledger.transfer"
	ApprovalEventType event.EventType = "ledger.approval"
)

// TransferEvent records a balance movement. Mints come from the zero address
// and burns go to it.
type TransferEvent struct {
	From   types.Address
	To     types.Address
	Amount *uint256.Int
}

// ApprovalEvent records a new allowance value
type ApprovalEvent struct {
	Owner   types.Address
	Spender types.Address
	Amount  *uint256.Int
}
