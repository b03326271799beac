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

package api

import (
	"time"

	"github.com/holiman/uint256"

	"github.com/blinklabs-io/enledger/auction"
	"github.com/blinklabs-io/enledger/database"
	"github.com/blinklabs-io/enledger/gateway"
	"github.com/blinklabs-io/enledger/governance"
	"github.com/blinklabs-io/enledger/loan"
	"github.com/blinklabs-io/enledger/trade"
	"github.com/blinklabs-io/enledger/types"
)

// LedgerNode is what the API server reads from. It decouples the HTTP
// server from the concrete node and allows testing with fakes.
type LedgerNode interface {
	Status() (StatusInfo, error)
	Account(account types.Address) (AccountInfo, error)
	// Transfers returns up to limit transfers touching account, newest first
	Transfers(account types.Address, limit int) ([]database.TransferRecord, error)
	Month(month uint32) (auction.MonthStats, error)
	// Orders returns the active orders by ascending id
	Orders() ([]trade.Order, error)
	Pool() (PoolInfo, error)
	// Proposals returns every proposal by ascending id
	Proposals() ([]ProposalInfo, error)
	GatewayRequest(id uint64) (gateway.Request, bool, error)
}

type StatusInfo struct {
	Time        time.Time
	TotalSupply *uint256.Int
	UnitPrice18 *uint256.Int
	Network     string
	Height      uint64
	Holders     int
}

type AccountInfo struct {
	Balance     *uint256.Int
	VotingPower *uint256.Int
	Debt        *uint256.Int
	// Loan is nil when the account never borrowed
	Loan        *loan.Loan
	Stake       governance.StakeInfo
	Address     types.Address
	CreditScore uint64
}

type PoolInfo struct {
	ReserveEnTo *uint256.Int
	// RefPrice18 and MinListingPrice18 are nil when no price is available
	RefPrice18        *uint256.Int
	MinListingPrice18 *uint256.Int
	ReserveKWh        uint64
	FeeBps            uint64
	MinPremiumBps     uint64
	Seeded            bool
}

type ProposalInfo struct {
	Proposal governance.Proposal
	Name     string
	State    governance.ProposalState
}
