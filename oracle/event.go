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

package oracle

import (
	"github.com/holiman/uint256"

	"github.com/blinklabs-io/enledger/event"
	"github.com/blinklabs-io/enledger/types"
)

const (
	UsageRecordedEventType      event.EventType = "oracle.usage_recorded"
	SavingsClaimedEventType     event.EventType = "oracle.savings_claimed"
	CreditScoreUpdatedEventType event.EventType = "oracle.credit_score_updated"
	MeterSignerUpdatedEventType event.EventType = "oracle.meter_signer_updated"
	ConfigUpdatedEventType      event.EventType = "oracle.config_updated"
)

type UsageRecordedEvent struct {
	Department    types.Address
	Signer        types.Address
	Nonce         [32]byte
	KWh           uint64
	TotalConsumed uint64
	Month         uint32
}

type SavingsClaimedEvent struct {
	Reward     *uint256.Int
	Department types.Address
	Mode       SavingsMode
	KWhSaved   uint64
	Month      uint32
}

type CreditScoreUpdatedEvent struct {
	Department types.Address
	Sender     types.Address
	OldScore   uint64
	NewScore   uint64
}

type MeterSignerUpdatedEvent struct {
	Signer  types.Address
	Allowed bool
}

type ConfigUpdatedEvent struct {
	LoanModule       types.Address
	Mode             SavingsMode
	SavingsRewardBps uint64
	RejectOverUsage  bool
	RequireReading   bool
}
