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
	"github.com/blinklabs-io/enledger"
	"github.com/blinklabs-io/enledger/auction"
	"github.com/blinklabs-io/enledger/chain"
	"github.com/blinklabs-io/enledger/database"
	"github.com/blinklabs-io/enledger/gateway"
	"github.com/blinklabs-io/enledger/trade"
	"github.com/blinklabs-io/enledger/types"
)

// NodeAdapter serves LedgerNode reads from a running node. Component state
// is read inside a single executor view so each response is consistent.
type NodeAdapter struct {
	node *enledger.Node
}

var _ LedgerNode = (*NodeAdapter)(nil)

func NewNodeAdapter(n *enledger.Node) *NodeAdapter {
	return &NodeAdapter{node: n}
}

func (a *NodeAdapter) network() string {
	if rec := a.node.Deployment(); rec != nil {
		return rec.Network
	}
	return ""
}

func (a *NodeAdapter) Status() (StatusInfo, error) {
	var ret StatusInfo
	err := a.node.View(func(snap chain.Snapshot) error {
		ret = StatusInfo{
			Time:        snap.Time,
			Height:      snap.Block,
			Network:     a.network(),
			TotalSupply: a.node.Ledger().TotalSupply(),
			Holders:     a.node.Ledger().Holders(),
			UnitPrice18: a.node.Auction().PreviewCurrentUnitPrice18(),
		}
		return nil
	})
	return ret, err
}

func (a *NodeAdapter) Account(account types.Address) (AccountInfo, error) {
	var ret AccountInfo
	err := a.node.View(func(snap chain.Snapshot) error {
		ret = AccountInfo{
			Address:     account,
			Balance:     a.node.Ledger().BalanceOf(account),
			CreditScore: a.node.Oracle().CreditScore(account),
			Stake:       a.node.Governance().StakeOf(account),
			VotingPower: a.node.Governance().VotingPower(account),
		}
		if l, ok := a.node.Loan().Loan(account); ok {
			ret.Loan = &l
			ret.Debt = a.node.Loan().Debt(account, snap.Time)
		}
		return nil
	})
	return ret, err
}

func (a *NodeAdapter) Transfers(account types.Address, limit int) ([]database.TransferRecord, error) {
	return a.node.Database().TransferHistory(account, limit)
}

func (a *NodeAdapter) Month(month uint32) (auction.MonthStats, error) {
	return chain.Read(a.node.Executor(), func(chain.Snapshot) (auction.MonthStats, error) {
		return a.node.Auction().MonthStats(month), nil
	})
}

func (a *NodeAdapter) Orders() ([]trade.Order, error) {
	return chain.Read(a.node.Executor(), func(chain.Snapshot) ([]trade.Order, error) {
		return a.node.Trade().ActiveOrders(), nil
	})
}

func (a *NodeAdapter) Pool() (PoolInfo, error) {
	var ret PoolInfo
	err := a.node.View(func(chain.Snapshot) error {
		t := a.node.Trade()
		reserveEnTo, reserveKWh := t.Reserves()
		ret = PoolInfo{
			ReserveEnTo:   reserveEnTo,
			ReserveKWh:    reserveKWh,
			FeeBps:        t.FeeBps(),
			MinPremiumBps: t.MinPremiumBps(),
			Seeded:        t.Seeded(),
		}
		// An unseeded pool has no price
		if price, err := t.PreviewRefPrice18(); err == nil {
			ret.RefPrice18 = price
		}
		if price, err := t.MinListingPrice18(); err == nil {
			ret.MinListingPrice18 = price
		}
		return nil
	})
	return ret, err
}

func (a *NodeAdapter) Proposals() ([]ProposalInfo, error) {
	return chain.Read(a.node.Executor(), func(snap chain.Snapshot) ([]ProposalInfo, error) {
		g := a.node.Governance()
		proposals := g.Proposals()
		ret := make([]ProposalInfo, 0, len(proposals))
		for _, p := range proposals {
			name, _ := g.Registry().Name(p.ParamKey)
			ret = append(ret, ProposalInfo{
				Proposal: p,
				Name:     name,
				// As the next block would see it
				State: p.StateAt(snap.Block + 1),
			})
		}
		return ret, nil
	})
}

func (a *NodeAdapter) GatewayRequest(id uint64) (gateway.Request, bool, error) {
	var (
		ret   gateway.Request
		found bool
	)
	err := a.node.View(func(chain.Snapshot) error {
		ret, found = a.node.Gateway().Request(id)
		return nil
	})
	return ret, found, err
}
