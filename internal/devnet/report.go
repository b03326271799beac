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

package devnet

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/holiman/uint256"

	"github.com/blinklabs-io/enledger/fixed"
	"github.com/blinklabs-io/enledger/types"
)

type DepartmentReport struct {
	Name        string
	Address     types.Address
	PackKWh     uint64
	UsedKWh     uint64
	SavedKWh    uint64
	PackCost    *uint256.Int
	Reward      *uint256.Int
	Balance     *uint256.Int
	CreditScore uint64
}

type LoanReport struct {
	Borrower  types.Address
	Principal *uint256.Int
	Interest  *uint256.Int
	RateBps   uint64
}

type TradeReport struct {
	Price18  *uint256.Int
	EnToPaid *uint256.Int
	OrderID  uint64
	KWh      uint64
}

type GovernanceReport struct {
	ProposalID   uint64
	FeeBpsBefore uint64
	FeeBpsAfter  uint64
}

type GatewayReport struct {
	FiatIn    *uint256.Int
	EnToOut   *uint256.Int
	Status    string
	RequestID uint64
}

// Report is the outcome of one simulated month
type Report struct {
	Network     string
	Departments []DepartmentReport
	Loan        LoanReport
	Trade       TradeReport
	Governance  GovernanceReport
	Gateway     GatewayReport
	TotalSupply *uint256.Int
	Height      uint64
	Month       uint32
}

// Print writes the report as aligned text
func (r *Report) Print(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "network\t%s\nmonth\t%d\nheight\t%d\nsupply\t%s EnTo\n\n",
		r.Network, r.Month, r.Height, fixed.Format(r.TotalSupply))
	fmt.Fprintln(tw, "DEPARTMENT\tPACK kWh\tUSED kWh\tSAVED kWh\tCOST\tREWARD\tSCORE\tBALANCE")
	for _, d := range r.Departments {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%s\t%s\t%d\t%s\n",
			d.Name,
			d.PackKWh,
			d.UsedKWh,
			d.SavedKWh,
			fixed.Format(d.PackCost),
			fixed.Format(d.Reward),
			d.CreditScore,
			fixed.Format(d.Balance),
		)
	}
	fmt.Fprintf(tw, "\nloan\t%s principal at %d bps, %s interest\n",
		fixed.Format(r.Loan.Principal), r.Loan.RateBps, fixed.Format(r.Loan.Interest))
	fmt.Fprintf(tw, "trade\torder %d, %d kWh for %s EnTo\n",
		r.Trade.OrderID, r.Trade.KWh, fixed.Format(r.Trade.EnToPaid))
	fmt.Fprintf(tw, "governance\tproposal %d, trade fee %d -> %d bps\n",
		r.Governance.ProposalID, r.Governance.FeeBpsBefore, r.Governance.FeeBpsAfter)
	fmt.Fprintf(tw, "gateway\trequest %d %s, %s fiat -> %s EnTo\n",
		r.Gateway.RequestID, r.Gateway.Status, fixed.Format(r.Gateway.FiatIn), fixed.Format(r.Gateway.EnToOut))
	return tw.Flush()
}
