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

// Amounts are decimal strings in base units (18 decimals). Prices are kWh
// per whole EnTo in the same scale.

// ErrorResponse is the body of every non-2xx response
type ErrorResponse struct {
	Error      string `json:"error"`
	Message    string `json:"message"`
	StatusCode int    `json:"status_code"`
}

type RootResponse struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	Network string `json:"network"`
}

type HealthResponse struct {
	IsHealthy bool   `json:"is_healthy"`
	Height    uint64 `json:"height"`
}

type StatusResponse struct {
	Network     string `json:"network"`
	TotalSupply string `json:"total_supply"`
	UnitPrice   string `json:"unit_price"`
	Height      uint64 `json:"height"`
	Time        int64  `json:"time"`
	Holders     int    `json:"holders"`
}

type LoanResponse struct {
	Principal       string `json:"principal"`
	Collateral      string `json:"collateral"`
	AccruedInterest string `json:"accrued_interest"`
	Debt            string `json:"debt"`
	StartTime       int64  `json:"start_time"`
	RateBps         uint64 `json:"rate_bps"`
	Active          bool   `json:"active"`
}

type AccountResponse struct {
	Loan           *LoanResponse `json:"loan"`
	Address        string        `json:"address"`
	Balance        string        `json:"balance"`
	Staked         string        `json:"staked"`
	PendingUnstake string        `json:"pending_unstake"`
	VotingPower    string        `json:"voting_power"`
	CreditScore    uint64        `json:"credit_score"`
}

type TransferResponse struct {
	From   string `json:"from"`
	To     string `json:"to"`
	Amount string `json:"amount"`
	Block  uint64 `json:"block"`
	Time   int64  `json:"time"`
}

type MonthResponse struct {
	TotalEnTo    string `json:"total_ento"`
	AvgUnitPrice string `json:"avg_unit_price"`
	TotalKWh     uint64 `json:"total_kwh"`
	Month        uint32 `json:"month"`
	Purchases    uint32 `json:"purchases"`
}

type OrderResponse struct {
	Seller       string `json:"seller"`
	Price        string `json:"price"`
	ID           uint64 `json:"id"`
	KWhTotal     uint64 `json:"kwh_total"`
	KWhRemaining uint64 `json:"kwh_remaining"`
	CreatedAt    int64  `json:"created_at"`
}

type PoolResponse struct {
	ReserveEnTo     *string `json:"reserve_ento"`
	RefPrice        *string `json:"ref_price"`
	MinListingPrice *string `json:"min_listing_price"`
	ReserveKWh      uint64  `json:"reserve_kwh"`
	FeeBps          uint64  `json:"fee_bps"`
	MinPremiumBps   uint64  `json:"min_premium_bps"`
	Seeded          bool    `json:"seeded"`
}

type ProposalResponse struct {
	Param        string `json:"param"`
	ParamKey     string `json:"param_key"`
	NewValue     string `json:"new_value"`
	Description  string `json:"description"`
	Proposer     string `json:"proposer"`
	State        string `json:"state"`
	ForVotes     string `json:"for_votes"`
	AgainstVotes string `json:"against_votes"`
	AbstainVotes string `json:"abstain_votes"`
	QuorumVotes  string `json:"quorum_votes"`
	ID           uint64 `json:"id"`
	StartBlock   uint64 `json:"start_block"`
	EndBlock     uint64 `json:"end_block"`
	ETA          int64  `json:"eta,omitempty"`
}

type GatewayRequestResponse struct {
	User      string `json:"user"`
	Side      string `json:"side"`
	Status    string `json:"status"`
	Fiat      string `json:"fiat"`
	EnTo      string `json:"ento"`
	Rate      string `json:"rate"`
	ID        uint64 `json:"id"`
	CreatedAt int64  `json:"created_at"`
	ClosedAt  int64  `json:"closed_at,omitempty"`
}
