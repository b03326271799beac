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
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/holiman/uint256"

	"github.com/blinklabs-io/enledger/auction"
	"github.com/blinklabs-io/enledger/database"
	"github.com/blinklabs-io/enledger/gateway"
	"github.com/blinklabs-io/enledger/trade"
	"github.com/blinklabs-io/enledger/types"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	//nolint:errcheck,errchkjson
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ErrorResponse{
		StatusCode: status,
		Error:      http.StatusText(status),
		Message:    message,
	})
}

// internalError logs err and hides it from the client
func (a *API) internalError(w http.ResponseWriter, what string, err error) {
	a.logger.Error("failed to "+what, "error", err)
	writeError(w, http.StatusInternalServerError, "failed to "+what)
}

func amount(v *uint256.Int) string {
	if v == nil {
		return "0"
	}
	return v.Dec()
}

func optionalAmount(v *uint256.Int) *string {
	if v == nil {
		return nil
	}
	ret := v.Dec()
	return &ret
}

func pathAddress(w http.ResponseWriter, r *http.Request) (types.Address, bool) {
	addr, err := types.ParseAddress(r.PathValue("address"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return types.ZeroAddress, false
	}
	return addr, true
}

func pathID(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	id, err := strconv.ParseUint(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return 0, false
	}
	return id, true
}

func pagination(w http.ResponseWriter, r *http.Request) (PaginationParams, bool) {
	params, err := ParsePagination(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return params, false
	}
	return params, true
}

func (a *API) handleRoot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, RootResponse{
		Name:    "enledger",
		Version: a.config.Version,
		Network: a.config.Network,
	})
}

func (a *API) handleHealth(w http.ResponseWriter, _ *http.Request) {
	status, err := a.node.Status()
	if err != nil {
		a.logger.Warn("health check failed", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, HealthResponse{})
		return
	}
	writeJSON(w, http.StatusOK, HealthResponse{
		IsHealthy: true,
		Height:    status.Height,
	})
}

func (a *API) handleStatus(w http.ResponseWriter, _ *http.Request) {
	status, err := a.node.Status()
	if err != nil {
		a.internalError(w, "retrieve status", err)
		return
	}
	writeJSON(w, http.StatusOK, StatusResponse{
		Network:     status.Network,
		Height:      status.Height,
		Time:        status.Time.Unix(),
		TotalSupply: amount(status.TotalSupply),
		Holders:     status.Holders,
		UnitPrice:   amount(status.UnitPrice18),
	})
}

func (a *API) handleAccount(w http.ResponseWriter, r *http.Request) {
	addr, ok := pathAddress(w, r)
	if !ok {
		return
	}
	info, err := a.node.Account(addr)
	if err != nil {
		a.internalError(w, "retrieve account", err)
		return
	}
	resp := AccountResponse{
		Address:        info.Address.Hex(),
		Balance:        amount(info.Balance),
		Staked:         amount(info.Stake.Staked),
		PendingUnstake: amount(info.Stake.PendingUnstake),
		VotingPower:    amount(info.VotingPower),
		CreditScore:    info.CreditScore,
	}
	if l := info.Loan; l != nil {
		resp.Loan = &LoanResponse{
			Principal:       amount(l.Principal),
			Collateral:      amount(l.Collateral),
			AccruedInterest: amount(l.AccruedInterest),
			Debt:            amount(info.Debt),
			StartTime:       l.StartTime.Unix(),
			RateBps:         l.RateBps,
			Active:          l.Active,
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleTransfers pages through an account's transfers, newest first by
// default
func (a *API) handleTransfers(w http.ResponseWriter, r *http.Request) {
	addr, ok := pathAddress(w, r)
	if !ok {
		return
	}
	params, ok := pagination(w, r)
	if !ok {
		return
	}
	if r.URL.Query().Get("order") == "" {
		params.Order = PaginationOrderDesc
	}
	// History comes back newest first
	records, err := a.node.Transfers(addr, 0)
	if err != nil {
		a.internalError(w, "retrieve transfers", err)
		return
	}
	ascending := make([]database.TransferRecord, len(records))
	for i, rec := range records {
		ascending[len(records)-1-i] = rec
	}
	page := Paginate(ascending, params)
	resp := make([]TransferResponse, 0, len(page))
	for _, rec := range page {
		resp = append(resp, TransferResponse{
			From:   rec.From.Hex(),
			To:     rec.To.Hex(),
			Amount: amount(rec.Amount),
			Block:  rec.Block,
			Time:   rec.Time.Unix(),
		})
	}
	SetPaginationHeaders(w, len(records), params)
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleMonth(w http.ResponseWriter, r *http.Request) {
	month, err := strconv.ParseUint(r.PathValue("month"), 10, 32)
	if err != nil || !auction.ValidMonth(uint32(month)) {
		writeError(w, http.StatusBadRequest, auction.ErrInvalidMonth.Error())
		return
	}
	stats, err := a.node.Month(uint32(month))
	if err != nil {
		a.internalError(w, "retrieve month", err)
		return
	}
	writeJSON(w, http.StatusOK, MonthResponse{
		Month:        stats.Month,
		TotalKWh:     stats.TotalKWh,
		TotalEnTo:    amount(stats.TotalEnTo),
		AvgUnitPrice: amount(stats.AvgUnitPrice18),
		Purchases:    stats.Purchases,
	})
}

func orderResponse(o trade.Order) OrderResponse {
	return OrderResponse{
		ID:           o.ID,
		Seller:       o.Seller.Hex(),
		Price:        amount(o.Price18),
		KWhTotal:     o.KWhTotal,
		KWhRemaining: o.KWhRemaining,
		CreatedAt:    o.CreatedAt.Unix(),
	}
}

func (a *API) handleOrders(w http.ResponseWriter, r *http.Request) {
	params, ok := pagination(w, r)
	if !ok {
		return
	}
	orders, err := a.node.Orders()
	if err != nil {
		a.internalError(w, "retrieve orders", err)
		return
	}
	page := Paginate(orders, params)
	resp := make([]OrderResponse, 0, len(page))
	for _, o := range page {
		resp = append(resp, orderResponse(o))
	}
	SetPaginationHeaders(w, len(orders), params)
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handlePool(w http.ResponseWriter, _ *http.Request) {
	pool, err := a.node.Pool()
	if err != nil {
		a.internalError(w, "retrieve pool", err)
		return
	}
	resp := PoolResponse{
		ReserveKWh:      pool.ReserveKWh,
		RefPrice:        optionalAmount(pool.RefPrice18),
		MinListingPrice: optionalAmount(pool.MinListingPrice18),
		FeeBps:          pool.FeeBps,
		MinPremiumBps:   pool.MinPremiumBps,
		Seeded:          pool.Seeded,
	}
	if pool.Seeded {
		resp.ReserveEnTo = optionalAmount(pool.ReserveEnTo)
	}
	writeJSON(w, http.StatusOK, resp)
}

func proposalResponse(info ProposalInfo) ProposalResponse {
	p := info.Proposal
	resp := ProposalResponse{
		ID:           p.ID,
		Param:        info.Name,
		ParamKey:     p.ParamKey.Hex(),
		NewValue:     amount(p.NewValue),
		Description:  p.Description,
		Proposer:     p.Proposer.Hex(),
		State:        info.State.String(),
		ForVotes:     amount(p.ForVotes),
		AgainstVotes: amount(p.AgainstVotes),
		AbstainVotes: amount(p.AbstainVotes),
		QuorumVotes:  amount(p.QuorumVotes),
		StartBlock:   p.StartBlock,
		EndBlock:     p.EndBlock,
	}
	if p.Queued {
		resp.ETA = p.ETA.Unix()
	}
	return resp
}

func (a *API) handleProposals(w http.ResponseWriter, r *http.Request) {
	params, ok := pagination(w, r)
	if !ok {
		return
	}
	proposals, err := a.node.Proposals()
	if err != nil {
		a.internalError(w, "retrieve proposals", err)
		return
	}
	page := Paginate(proposals, params)
	resp := make([]ProposalResponse, 0, len(page))
	for _, info := range page {
		resp = append(resp, proposalResponse(info))
	}
	SetPaginationHeaders(w, len(proposals), params)
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleProposal(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	proposals, err := a.node.Proposals()
	if err != nil {
		a.internalError(w, "retrieve proposals", err)
		return
	}
	for _, info := range proposals {
		if info.Proposal.ID == id {
			writeJSON(w, http.StatusOK, proposalResponse(info))
			return
		}
	}
	writeError(w, http.StatusNotFound, "proposal not found")
}

func (a *API) handleGatewayRequest(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	req, found, err := a.node.GatewayRequest(id)
	if err != nil {
		a.internalError(w, "retrieve gateway request", err)
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, "request not found")
		return
	}
	writeJSON(w, http.StatusOK, gatewayResponse(req))
}

func gatewayResponse(r gateway.Request) GatewayRequestResponse {
	resp := GatewayRequestResponse{
		ID:        r.ID,
		User:      r.User.Hex(),
		Side:      string(r.Side),
		Status:    string(r.Status),
		Fiat:      amount(r.Fiat),
		EnTo:      amount(r.EnTo),
		Rate:      amount(r.Rate18),
		CreatedAt: r.CreatedAt.Unix(),
	}
	if !r.ClosedAt.IsZero() {
		resp.ClosedAt = r.ClosedAt.Unix()
	}
	return resp
}
