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

// Package governance lets EnTo stakers change protocol parameters through
// timelocked, stake-weighted proposals.
package governance

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/blinklabs-io/enledger/access"
	"github.com/blinklabs-io/enledger/chain"
	"github.com/blinklabs-io/enledger/fixed"
	"github.com/blinklabs-io/enledger/ledger"
	"github.com/blinklabs-io/enledger/types"
)

const (
	componentName = "governance"

	DefaultVotingDelay    = 1
	DefaultVotingPeriod   = 20
	DefaultExecutionDelay = 2 * 24 * time.Hour
	DefaultCooldown       = 3 * 24 * time.Hour
	DefaultQuorumBps      = 400

	MaxVotingDelay    = 50_400
	MaxVotingPeriod   = 100_800
	MaxExecutionDelay = 30 * 24 * time.Hour
	MaxCooldown       = 90 * 24 * time.Hour
)

// VotingPowerMode selects when a voter's stake is measured
type VotingPowerMode string

const (
	// VotingPowerCurrent uses the stake at the time of the vote
	VotingPowerCurrent VotingPowerMode = "current"
	// VotingPowerSnapshot uses the stake at the proposal's creation block
	VotingPowerSnapshot VotingPowerMode = "snapshot"
)

var (
	ErrInsufficientStake = errors.New("insufficient stake")
	ErrCooldownActive    = errors.New("unstake cooldown has not elapsed")
	ErrInvalidSettings   = errors.New("invalid governance settings")
	ErrZeroAmount        = errors.New("amount must be positive")
)

// Settings are the admin-tunable governance parameters
type Settings struct {
	ProposalThreshold *uint256.Int
	VotingPowerMode   VotingPowerMode
	VotingDelay       uint64
	VotingPeriod      uint64
	ExecutionDelay    time.Duration
	Cooldown          time.Duration
	QuorumBps         uint64
}

func DefaultSettings() Settings {
	return Settings{
		VotingDelay:       DefaultVotingDelay,
		VotingPeriod:      DefaultVotingPeriod,
		ExecutionDelay:    DefaultExecutionDelay,
		Cooldown:          DefaultCooldown,
		ProposalThreshold: fixed.One(),
		QuorumBps:         DefaultQuorumBps,
		VotingPowerMode:   VotingPowerCurrent,
	}
}

func (s Settings) Validate() error {
	switch {
	case s.VotingDelay > MaxVotingDelay:
		return fmt.Errorf("%w: voting delay %d > %d blocks", ErrInvalidSettings, s.VotingDelay, MaxVotingDelay)
	case s.VotingPeriod < 1 || s.VotingPeriod > MaxVotingPeriod:
		return fmt.Errorf("%w: voting period %d outside [1, %d] blocks", ErrInvalidSettings, s.VotingPeriod, MaxVotingPeriod)
	case s.ExecutionDelay < 0 || s.ExecutionDelay > MaxExecutionDelay:
		return fmt.Errorf("%w: execution delay %s", ErrInvalidSettings, s.ExecutionDelay)
	case s.Cooldown < 0 || s.Cooldown > MaxCooldown:
		return fmt.Errorf("%w: cooldown %s", ErrInvalidSettings, s.Cooldown)
	case s.ProposalThreshold == nil || s.ProposalThreshold.IsZero():
		return fmt.Errorf("%w: proposal threshold must be positive", ErrInvalidSettings)
	case s.QuorumBps > fixed.BpsDenominator:
		return fmt.Errorf("%w: quorum %d bps", ErrInvalidSettings, s.QuorumBps)
	case s.VotingPowerMode != VotingPowerCurrent && s.VotingPowerMode != VotingPowerSnapshot:
		return fmt.Errorf("%w: voting power mode %q", ErrInvalidSettings, s.VotingPowerMode)
	}
	return nil
}

func (s Settings) clone() Settings {
	s.ProposalThreshold = fixed.Clone(s.ProposalThreshold)
	return s
}

type GovernanceConfig struct {
	Logger       *slog.Logger
	PromRegistry prometheus.Registerer
	Ledger       *ledger.Ledger
	// Registry defaults to an empty registry
	Registry *ParamRegistry
	// Address holds staked EnTo and acts on components when applying
	// parameters
	Address types.Address
	Admin   types.Address
	// Executor is granted EXECUTOR if set
	Executor types.Address
	// Settings defaults to DefaultSettings
	Settings *Settings
}

// StakeInfo is an account's staking position
type StakeInfo struct {
	Staked         *uint256.Int
	PendingUnstake *uint256.Int
	UnlockAt       time.Time
}

type checkpoint struct {
	staked *uint256.Int
	block  uint64
}

type Governance struct {
	config         GovernanceConfig
	logger         *slog.Logger
	metrics        *governanceMetrics
	access         *access.Control
	ledger         *ledger.Ledger
	registry       *ParamRegistry
	settings       Settings
	stakes         map[types.Address]StakeInfo
	checkpoints    map[types.Address][]checkpoint
	totalStaked    *uint256.Int
	proposals      map[uint64]Proposal
	votes          map[uint64]map[types.Address]VoteType
	nextProposalID uint64
	paramStore     map[common.Hash]*uint256.Int
}

func New(cfg GovernanceConfig) (*Governance, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	if cfg.Ledger == nil {
		return nil, errors.New("governance requires a ledger")
	}
	if cfg.Address == types.ZeroAddress || cfg.Admin == types.ZeroAddress {
		return nil, errors.New("governance address and admin must be set")
	}
	if cfg.Registry == nil {
		cfg.Registry = NewParamRegistry()
	}
	settings := DefaultSettings()
	if cfg.Settings != nil {
		settings = cfg.Settings.clone()
	}
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	g := &Governance{
		config:         cfg,
		logger:         cfg.Logger.With("component", componentName),
		access:         access.NewControl(componentName),
		ledger:         cfg.Ledger,
		registry:       cfg.Registry,
		settings:       settings,
		stakes:         make(map[types.Address]StakeInfo),
		checkpoints:    make(map[types.Address][]checkpoint),
		totalStaked:    fixed.Zero(),
		proposals:      make(map[uint64]Proposal),
		votes:          make(map[uint64]map[types.Address]VoteType),
		nextProposalID: 1,
		paramStore:     make(map[common.Hash]*uint256.Int),
	}
	g.access.Bootstrap(types.RoleDefaultAdmin, cfg.Admin)
	if cfg.Executor != types.ZeroAddress {
		g.access.Bootstrap(types.RoleExecutor, cfg.Executor)
	}
	if err := g.registry.Register(ParamGovQuorumBps, Uint64Param(g.applyQuorumBps)); err != nil {
		return nil, err
	}
	if cfg.PromRegistry != nil {
		g.metrics = &governanceMetrics{}
		g.metrics.init(cfg.PromRegistry)
	}
	return g, nil
}

func (g *Governance) Address() types.Address {
	return g.config.Address
}

func (g *Governance) Access() *access.Control {
	return g.access
}

// Registry is where components register their governable parameters
func (g *Governance) Registry() *ParamRegistry {
	return g.registry
}

func (g *Governance) Settings() Settings {
	return g.settings.clone()
}

// ParamValue returns the last executed value for key
func (g *Governance) ParamValue(key common.Hash) (*uint256.Int, bool) {
	v, ok := g.paramStore[key]
	if !ok {
		return nil, false
	}
	return v.Clone(), true
}

func (g *Governance) TotalStaked() *uint256.Int {
	return g.totalStaked.Clone()
}

func (g *Governance) StakeOf(account types.Address) StakeInfo {
	s, ok := g.stakes[account]
	if !ok {
		return StakeInfo{Staked: fixed.Zero(), PendingUnstake: fixed.Zero()}
	}
	return StakeInfo{
		Staked:         s.Staked.Clone(),
		PendingUnstake: s.PendingUnstake.Clone(),
		UnlockAt:       s.UnlockAt,
	}
}

// VotingPower is the account's current stake. Stake pending withdrawal still
// counts until it is withdrawn.
func (g *Governance) VotingPower(account types.Address) *uint256.Int {
	return g.StakeOf(account).Staked
}

// VotingPowerAt is the account's stake as of the end of block
func (g *Governance) VotingPowerAt(account types.Address, block uint64) *uint256.Int {
	cps := g.checkpoints[account]
	// First checkpoint after block
	i := sort.Search(len(cps), func(i int) bool { return cps[i].block > block })
	if i == 0 {
		return fixed.Zero()
	}
	return cps[i-1].staked.Clone()
}

// Stake locks amount from the sender. Voting power rises immediately.
func (g *Governance) Stake(tx *chain.Tx, amount *uint256.Int) error {
	const op = "governance.stake"
	staker := tx.Sender()
	if amount == nil || amount.IsZero() {
		return types.NewError(types.KindValidation, op, ErrZeroAmount)
	}
	info := g.StakeOf(staker)
	staked, err := fixed.Add(info.Staked, amount)
	if err != nil {
		return types.NewError(types.KindValidation, op, err)
	}
	total, err := fixed.Add(g.totalStaked, amount)
	if err != nil {
		return types.NewError(types.KindValidation, op, err)
	}
	if err := g.ledger.TransferFrom(tx.As(g.config.Address), staker, g.config.Address, amount); err != nil {
		return err
	}
	info.Staked = staked
	g.setStake(tx, staker, info, total)
	tx.Emit(StakedEventType, StakeEvent{Staker: staker, Amount: amount.Clone()})
	return nil
}

// RequestUnstake marks amount for withdrawal and restarts the cooldown
func (g *Governance) RequestUnstake(tx *chain.Tx, amount *uint256.Int) error {
	const op = "governance.request_unstake"
	staker := tx.Sender()
	if amount == nil || amount.IsZero() {
		return types.NewError(types.KindValidation, op, ErrZeroAmount)
	}
	info := g.StakeOf(staker)
	pending, err := fixed.Add(info.PendingUnstake, amount)
	if err != nil {
		return types.NewError(types.KindValidation, op, err)
	}
	if pending.Gt(info.Staked) {
		return types.Errorf(
			types.KindValidation,
			op,
			"%w: requested %s of %s staked",
			ErrInsufficientStake,
			fixed.Format(pending),
			fixed.Format(info.Staked),
		)
	}
	info.PendingUnstake = pending
	info.UnlockAt = tx.Time().Add(g.settings.Cooldown)
	g.setStake(tx, staker, info, g.totalStaked)
	tx.Emit(UnstakeRequestedEventType, UnstakeRequestedEvent{
		Staker:   staker,
		Amount:   amount.Clone(),
		UnlockAt: info.UnlockAt,
	})
	return nil
}

// WithdrawUnstaked returns pending stake once the cooldown has elapsed
func (g *Governance) WithdrawUnstaked(tx *chain.Tx, amount *uint256.Int) error {
	const op = "governance.withdraw_unstaked"
	staker := tx.Sender()
	if amount == nil || amount.IsZero() {
		return types.NewError(types.KindValidation, op, ErrZeroAmount)
	}
	info := g.StakeOf(staker)
	if amount.Gt(info.PendingUnstake) {
		return types.Errorf(
			types.KindValidation,
			op,
			"%w: %s pending",
			ErrInsufficientStake,
			fixed.Format(info.PendingUnstake),
		)
	}
	if tx.Time().Before(info.UnlockAt) {
		return types.Errorf(
			types.KindTiming,
			op,
			"%w: unlocks at %s",
			ErrCooldownActive,
			info.UnlockAt.Format(time.RFC3339),
		)
	}
	if err := g.ledger.Transfer(tx.As(g.config.Address), staker, amount); err != nil {
		return err
	}
	info.PendingUnstake = new(uint256.Int).Sub(info.PendingUnstake, amount)
	info.Staked = new(uint256.Int).Sub(info.Staked, amount)
	g.setStake(tx, staker, info, new(uint256.Int).Sub(g.totalStaked, amount))
	tx.Emit(UnstakedEventType, StakeEvent{Staker: staker, Amount: amount.Clone()})
	return nil
}

// SetSettings replaces the governance settings (admin). Open proposals keep
// the windows they were created with.
func (g *Governance) SetSettings(tx *chain.Tx, settings Settings) error {
	const op = "governance.set_settings"
	if err := g.access.Require(op, types.RoleDefaultAdmin, tx.Sender()); err != nil {
		return err
	}
	return g.applySettings(tx, op, settings)
}

func (g *Governance) SetVotingDelay(tx *chain.Tx, blocks uint64) error {
	s := g.Settings()
	s.VotingDelay = blocks
	return g.SetSettings(tx, s)
}

func (g *Governance) SetVotingPeriod(tx *chain.Tx, blocks uint64) error {
	s := g.Settings()
	s.VotingPeriod = blocks
	return g.SetSettings(tx, s)
}

func (g *Governance) SetExecutionDelay(tx *chain.Tx, delay time.Duration) error {
	s := g.Settings()
	s.ExecutionDelay = delay
	return g.SetSettings(tx, s)
}

func (g *Governance) SetCooldown(tx *chain.Tx, cooldown time.Duration) error {
	s := g.Settings()
	s.Cooldown = cooldown
	return g.SetSettings(tx, s)
}

func (g *Governance) SetProposalThreshold(tx *chain.Tx, threshold *uint256.Int) error {
	s := g.Settings()
	s.ProposalThreshold = fixed.Clone(threshold)
	return g.SetSettings(tx, s)
}

func (g *Governance) SetQuorumBps(tx *chain.Tx, quorumBps uint64) error {
	s := g.Settings()
	s.QuorumBps = quorumBps
	return g.SetSettings(tx, s)
}

func (g *Governance) SetVotingPowerMode(tx *chain.Tx, mode VotingPowerMode) error {
	s := g.Settings()
	s.VotingPowerMode = mode
	return g.SetSettings(tx, s)
}

func (g *Governance) GrantRole(tx *chain.Tx, role types.Role, account types.Address) error {
	return g.access.GrantRole(tx, role, account)
}

func (g *Governance) RevokeRole(tx *chain.Tx, role types.Role, account types.Address) error {
	return g.access.RevokeRole(tx, role, account)
}

// applyQuorumBps is the registry setter for GOV_QUORUM_BPS. Passing the vote
// is the authorization.
func (g *Governance) applyQuorumBps(tx *chain.Tx, quorumBps uint64) error {
	s := g.Settings()
	s.QuorumBps = quorumBps
	return g.applySettings(tx, "governance.apply_quorum_bps", s)
}

func (g *Governance) applySettings(tx *chain.Tx, op string, settings Settings) error {
	settings = settings.clone()
	if err := settings.Validate(); err != nil {
		return types.NewError(types.KindValidation, op, err)
	}
	prev := g.settings
	g.settings = settings
	tx.OnRevert(func() { g.settings = prev })
	tx.Emit(ParamsUpdatedEventType, ParamsUpdatedEvent{Settings: settings.clone()})
	return nil
}

func (g *Governance) setStake(tx *chain.Tx, staker types.Address, info StakeInfo, total *uint256.Int) {
	prev, existed := g.stakes[staker]
	prevTotal := g.totalStaked
	if info.Staked.IsZero() && info.PendingUnstake.IsZero() {
		delete(g.stakes, staker)
	} else {
		g.stakes[staker] = info
	}
	g.totalStaked = total
	prevCheckpoints := g.checkpoints[staker]
	g.checkpoints[staker] = withCheckpoint(prevCheckpoints, checkpoint{block: tx.Block(), staked: info.Staked.Clone()})
	tx.OnRevert(func() {
		if existed {
			g.stakes[staker] = prev
		} else {
			delete(g.stakes, staker)
		}
		g.totalStaked = prevTotal
		if prevCheckpoints == nil {
			delete(g.checkpoints, staker)
		} else {
			g.checkpoints[staker] = prevCheckpoints
		}
	})
	if g.metrics != nil {
		tx.OnCommit(func() {
			g.metrics.totalStaked.Set(fixed.Float64(g.totalStaked))
			g.metrics.stakers.Set(float64(len(g.stakes)))
		})
	}
}

// withCheckpoint returns a new slice with cp appended, replacing a checkpoint
// for the same block. The input slice is never modified.
func withCheckpoint(cps []checkpoint, cp checkpoint) []checkpoint {
	ret := make([]checkpoint, len(cps), len(cps)+1)
	copy(ret, cps)
	if n := len(ret); n > 0 && ret[n-1].block == cp.block {
		ret[n-1] = cp
		return ret
	}
	return append(ret, cp)
}
