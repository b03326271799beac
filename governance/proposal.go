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
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/blinklabs-io/enledger/chain"
	"github.com/blinklabs-io/enledger/fixed"
	"github.com/blinklabs-io/enledger/types"
)

// VoteType is the support value of a ballot
type VoteType uint8

const (
	VoteAgainst VoteType = 0
	VoteFor     VoteType = 1
	VoteAbstain VoteType = 2
)

func (v VoteType) String() string {
	switch v {
	case VoteAgainst:
		return "against"
	case VoteFor:
		return "for"
	case VoteAbstain:
		return "abstain"
	default:
		return fmt.Sprintf("VoteType(%d)", uint8(v))
	}
}

type ProposalState int

const (
	ProposalPending ProposalState = iota
	ProposalActive
	ProposalSucceeded
	ProposalDefeated
	ProposalQueued
	ProposalExecuted
	ProposalCancelled
)

func (s ProposalState) String() string {
	switch s {
	case ProposalPending:
		return "Pending"
	case ProposalActive:
		return "Active"
	case ProposalSucceeded:
		return "Succeeded"
	case ProposalDefeated:
		return "Defeated"
	case ProposalQueued:
		return "Queued"
	case ProposalExecuted:
		return "Executed"
	case ProposalCancelled:
		return "Cancelled"
	default:
		return fmt.Sprintf("ProposalState(%d)", int(s))
	}
}

var (
	ErrProposalNotFound = errors.New("proposal not found")
	ErrBelowThreshold   = errors.New("stake below proposal threshold")
	ErrVotingClosed     = errors.New("voting window is not open")
	ErrAlreadyVoted     = errors.New("already voted")
	ErrInvalidSupport   = errors.New("invalid vote type")
	ErrNoVotingPower    = errors.New("no voting power")
	ErrNotSucceeded     = errors.New("proposal has not succeeded")
	ErrNotQueued        = errors.New("proposal is not queued")
	ErrTimelock         = errors.New("execution delay has not elapsed")
	ErrNotCancellable   = errors.New("proposal can no longer be cancelled")
)

type Proposal struct {
	NewValue     *uint256.Int
	ForVotes     *uint256.Int
	AgainstVotes *uint256.Int
	AbstainVotes *uint256.Int
	// QuorumVotes is the for plus abstain weight needed to pass, fixed from
	// the total stake at creation
	QuorumVotes  *uint256.Int
	ETA          time.Time
	Description  string
	PowerMode    VotingPowerMode
	Proposer     types.Address
	ParamKey     common.Hash
	ID           uint64
	CreatedBlock uint64
	StartBlock   uint64
	EndBlock     uint64
	Queued       bool
	Executed     bool
	Cancelled    bool
}

func (p Proposal) clone() Proposal {
	p.NewValue = fixed.Clone(p.NewValue)
	p.ForVotes = fixed.Clone(p.ForVotes)
	p.AgainstVotes = fixed.Clone(p.AgainstVotes)
	p.AbstainVotes = fixed.Clone(p.AbstainVotes)
	p.QuorumVotes = fixed.Clone(p.QuorumVotes)
	return p
}

// QuorumReached reports whether for plus abstain weight meets the quorum
func (p Proposal) QuorumReached() bool {
	participation := new(uint256.Int).Add(p.ForVotes, p.AbstainVotes)
	return !participation.Lt(p.QuorumVotes)
}

// StateAt evaluates the proposal's lifecycle state for a transition in block
func (p Proposal) StateAt(block uint64) ProposalState {
	switch {
	case p.Cancelled:
		return ProposalCancelled
	case p.Executed:
		return ProposalExecuted
	case p.Queued:
		return ProposalQueued
	case block < p.StartBlock:
		return ProposalPending
	case block <= p.EndBlock:
		return ProposalActive
	case p.QuorumReached() && p.ForVotes.Gt(p.AgainstVotes):
		return ProposalSucceeded
	default:
		return ProposalDefeated
	}
}

func (g *Governance) Proposal(id uint64) (Proposal, bool) {
	p, ok := g.proposals[id]
	if !ok {
		return Proposal{}, false
	}
	return p.clone(), true
}

// Proposals returns all proposals ordered by ID
func (g *Governance) Proposals() []Proposal {
	ret := make([]Proposal, 0, len(g.proposals))
	for _, p := range g.proposals {
		ret = append(ret, p.clone())
	}
	sort.Slice(ret, func(i, j int) bool { return ret[i].ID < ret[j].ID })
	return ret
}

// State returns the state of a proposal as seen by a transition in block
func (g *Governance) State(id uint64, block uint64) (ProposalState, error) {
	p, ok := g.proposals[id]
	if !ok {
		return 0, types.NewError(types.KindState, "governance.state", ErrProposalNotFound)
	}
	return p.StateAt(block), nil
}

// Ballot returns the support a voter gave on a proposal
func (g *Governance) Ballot(id uint64, voter types.Address) (VoteType, bool) {
	v, ok := g.votes[id][voter]
	return v, ok
}

// Propose opens a parameter change. The voting window starts votingDelay
// blocks after the current one and lasts votingPeriod blocks.
func (g *Governance) Propose(
	tx *chain.Tx,
	paramKey common.Hash,
	newValue *uint256.Int,
	description string,
) (Proposal, error) {
	const op = "governance.propose"
	proposer := tx.Sender()
	if paramKey == (common.Hash{}) {
		return Proposal{}, types.Errorf(types.KindValidation, op, "empty parameter key")
	}
	if newValue == nil {
		return Proposal{}, types.Errorf(types.KindValidation, op, "missing value")
	}
	power := g.VotingPower(proposer)
	if power.Lt(g.settings.ProposalThreshold) {
		return Proposal{}, types.Errorf(
			types.KindValidation,
			op,
			"%w: %s < %s",
			ErrBelowThreshold,
			fixed.Format(power),
			fixed.Format(g.settings.ProposalThreshold),
		)
	}
	quorum, err := fixed.Bps(g.totalStaked, g.settings.QuorumBps)
	if err != nil {
		return Proposal{}, types.NewError(types.KindValidation, op, err)
	}
	start := tx.Block() + g.settings.VotingDelay
	p := Proposal{
		ID:           g.nextProposalID,
		Proposer:     proposer,
		ParamKey:     paramKey,
		NewValue:     newValue.Clone(),
		Description:  description,
		CreatedBlock: tx.Block(),
		StartBlock:   start,
		EndBlock:     start + g.settings.VotingPeriod,
		ForVotes:     fixed.Zero(),
		AgainstVotes: fixed.Zero(),
		AbstainVotes: fixed.Zero(),
		QuorumVotes:  quorum,
		PowerMode:    g.settings.VotingPowerMode,
	}
	g.nextProposalID++
	g.proposals[p.ID] = p
	tx.OnRevert(func() {
		delete(g.proposals, p.ID)
		g.nextProposalID--
	})
	tx.Emit(ProposalCreatedEventType, ProposalCreatedEvent{
		ID:          p.ID,
		Proposer:    proposer,
		ParamKey:    paramKey,
		NewValue:    newValue.Clone(),
		Description: description,
		StartBlock:  p.StartBlock,
		EndBlock:    p.EndBlock,
	})
	g.countStage(tx, "created")
	g.logger.Debug(
		"proposal created",
		"id", p.ID,
		"proposer", proposer.Hex(),
		"start_block", p.StartBlock,
		"end_block", p.EndBlock,
	)
	return p.clone(), nil
}

// CastVote records the sender's single ballot on an active proposal
func (g *Governance) CastVote(tx *chain.Tx, id uint64, support VoteType) (*uint256.Int, error) {
	const op = "governance.cast_vote"
	voter := tx.Sender()
	p, ok := g.proposals[id]
	if !ok {
		return nil, types.NewError(types.KindState, op, ErrProposalNotFound)
	}
	if support > VoteAbstain {
		return nil, types.Errorf(types.KindValidation, op, "%w: %d", ErrInvalidSupport, support)
	}
	if state := p.StateAt(tx.Block()); state != ProposalActive {
		return nil, types.Errorf(
			types.KindTiming,
			op,
			"%w: proposal %d is %s at block %d",
			ErrVotingClosed,
			id,
			state,
			tx.Block(),
		)
	}
	if _, voted := g.votes[id][voter]; voted {
		return nil, types.NewError(types.KindState, op, ErrAlreadyVoted)
	}
	weight := g.VotingPower(voter)
	if p.PowerMode == VotingPowerSnapshot {
		weight = g.VotingPowerAt(voter, p.CreatedBlock)
	}
	if weight.IsZero() {
		return nil, types.NewError(types.KindValidation, op, ErrNoVotingPower)
	}
	updated := p.clone()
	switch support {
	case VoteFor:
		updated.ForVotes.Add(updated.ForVotes, weight)
	case VoteAgainst:
		updated.AgainstVotes.Add(updated.AgainstVotes, weight)
	case VoteAbstain:
		updated.AbstainVotes.Add(updated.AbstainVotes, weight)
	}
	g.proposals[id] = updated
	ballots, hadBallots := g.votes[id]
	if !hadBallots {
		ballots = make(map[types.Address]VoteType)
		g.votes[id] = ballots
	}
	ballots[voter] = support
	tx.OnRevert(func() {
		g.proposals[id] = p
		delete(ballots, voter)
		if !hadBallots {
			delete(g.votes, id)
		}
	})
	tx.Emit(VoteCastEventType, VoteCastEvent{
		ProposalID: id,
		Voter:      voter,
		Support:    support,
		Weight:     weight.Clone(),
	})
	if g.metrics != nil {
		tx.OnCommit(func() {
			g.metrics.votes.WithLabelValues(support.String()).Inc()
		})
	}
	return weight, nil
}

// Queue starts the timelock on a succeeded proposal. Anyone may call it.
func (g *Governance) Queue(tx *chain.Tx, id uint64) (time.Time, error) {
	const op = "governance.queue"
	p, ok := g.proposals[id]
	if !ok {
		return time.Time{}, types.NewError(types.KindState, op, ErrProposalNotFound)
	}
	switch state := p.StateAt(tx.Block()); state {
	case ProposalSucceeded:
	case ProposalPending, ProposalActive:
		return time.Time{}, types.Errorf(
			types.KindTiming,
			op,
			"%w: voting ends at block %d",
			ErrNotSucceeded,
			p.EndBlock,
		)
	default:
		return time.Time{}, types.Errorf(types.KindState, op, "%w: proposal is %s", ErrNotSucceeded, state)
	}
	updated := p.clone()
	updated.Queued = true
	updated.ETA = tx.Time().Add(g.settings.ExecutionDelay)
	g.proposals[id] = updated
	tx.OnRevert(func() { g.proposals[id] = p })
	tx.Emit(ProposalQueuedEventType, ProposalQueuedEvent{ProposalID: id, ETA: updated.ETA})
	g.countStage(tx, "queued")
	return updated.ETA, nil
}

// Execute applies a queued proposal's value once its ETA has passed. Values
// for keys with no registered setter are stored without being applied.
func (g *Governance) Execute(tx *chain.Tx, id uint64) (bool, error) {
	const op = "governance.execute"
	if err := g.access.Require(op, types.RoleExecutor, tx.Sender()); err != nil {
		return false, err
	}
	p, ok := g.proposals[id]
	if !ok {
		return false, types.NewError(types.KindState, op, ErrProposalNotFound)
	}
	if state := p.StateAt(tx.Block()); state != ProposalQueued {
		return false, types.Errorf(types.KindState, op, "%w: proposal is %s", ErrNotQueued, state)
	}
	if tx.Time().Before(p.ETA) {
		return false, types.Errorf(
			types.KindTiming,
			op,
			"%w: eta %s",
			ErrTimelock,
			p.ETA.Format(time.RFC3339),
		)
	}
	applied, err := g.registry.Apply(tx.As(g.config.Address), p.ParamKey, p.NewValue)
	if err != nil {
		return false, err
	}
	updated := p.clone()
	updated.Executed = true
	g.proposals[id] = updated
	prevValue, hadValue := g.paramStore[p.ParamKey]
	g.paramStore[p.ParamKey] = p.NewValue.Clone()
	tx.OnRevert(func() {
		g.proposals[id] = p
		if hadValue {
			g.paramStore[p.ParamKey] = prevValue
		} else {
			delete(g.paramStore, p.ParamKey)
		}
	})
	tx.Emit(ProposalExecutedEventType, ProposalExecutedEvent{
		ProposalID: id,
		ParamKey:   p.ParamKey,
		NewValue:   p.NewValue.Clone(),
		Applied:    applied,
	})
	g.countStage(tx, "executed")
	name, _ := g.registry.Name(p.ParamKey)
	g.logger.Info(
		"proposal executed",
		"id", id,
		"param", name,
		"value", p.NewValue.ToBig().String(),
		"applied", applied,
	)
	return applied, nil
}

// Cancel withdraws a proposal that has not been executed. Only the proposer
// or an admin may cancel.
func (g *Governance) Cancel(tx *chain.Tx, id uint64) error {
	const op = "governance.cancel"
	sender := tx.Sender()
	p, ok := g.proposals[id]
	if !ok {
		return types.NewError(types.KindState, op, ErrProposalNotFound)
	}
	if sender != p.Proposer {
		if err := g.access.Require(op, types.RoleDefaultAdmin, sender); err != nil {
			return err
		}
	}
	if p.Executed || p.Cancelled {
		return types.Errorf(types.KindState, op, "%w: proposal is %s", ErrNotCancellable, p.StateAt(tx.Block()))
	}
	updated := p.clone()
	updated.Cancelled = true
	g.proposals[id] = updated
	tx.OnRevert(func() { g.proposals[id] = p })
	tx.Emit(ProposalCancelledEventType, ProposalCancelledEvent{ProposalID: id, Sender: sender})
	g.countStage(tx, "cancelled")
	return nil
}

func (g *Governance) countStage(tx *chain.Tx, stage string) {
	if g.metrics == nil {
		return
	}
	tx.OnCommit(func() {
		g.metrics.proposals.WithLabelValues(stage).Inc()
	})
}
