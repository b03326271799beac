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
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/blinklabs-io/enledger/event"
	"github.com/blinklabs-io/enledger/types"
)

const (
	StakedEventType            event.EventType = "governance.staked"
	UnstakeRequestedEventType  event.EventType = "governance.unstake_requested"
	UnstakedEventType          event.EventType = "governance.unstaked"
	ProposalCreatedEventType   event.EventType = "governance.proposal_created"
	VoteCastEventType          event.EventType = "governance.vote_cast"
	ProposalQueuedEventType    event.EventType = "governance.proposal_queued"
	ProposalExecutedEventType  event.EventType = "governance.proposal_executed"
	ProposalCancelledEventType event.EventType = "governance.proposal_cancelled"
	ParamsUpdatedEventType     event.EventType = "governance.params_updated"
)

type StakeEvent struct {
	Amount *uint256.Int
	Staker types.Address
}

type UnstakeRequestedEvent struct {
	Amount   *uint256.Int
	UnlockAt time.Time
	Staker   types.Address
}

type ProposalCreatedEvent struct {
	NewValue    *uint256.Int
	Description string
	Proposer    types.Address
	ParamKey    common.Hash
	ID          uint64
	StartBlock  uint64
	EndBlock    uint64
}

type VoteCastEvent struct {
	Weight     *uint256.Int
	Voter      types.Address
	ProposalID uint64
	Support    VoteType
}

type ProposalQueuedEvent struct {
	ETA        time.Time
	ProposalID uint64
}

type ProposalExecutedEvent struct {
	NewValue   *uint256.Int
	ParamKey   common.Hash
	ProposalID uint64
	// Applied is false for keys with no registered setter, which are only
	// stored
	Applied bool
}

type ProposalCancelledEvent struct {
	Sender     types.Address
	ProposalID uint64
}

type ParamsUpdatedEvent struct {
	Settings Settings
}
