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
	"bytes"
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/blinklabs-io/enledger/auction"
)

const (
	DefaultNetwork = "simnet"
	DefaultMonth   = 202508
)

// Department is one simulated participant: the pack it buys and the usage
// its meter reports
type Department struct {
	Name    string `yaml:"name"`
	PackKWh uint64 `yaml:"packKWh"`
	UsedKWh uint64 `yaml:"usedKWh"`
}

// LoanScenario describes the loan the first saving department takes out
type LoanScenario struct {
	Principal  uint64 `yaml:"principal"`
	Collateral uint64 `yaml:"collateral"`
	Days       uint   `yaml:"days"`
}

// MarketScenario covers the trade, governance and gateway steps
type MarketScenario struct {
	SeedEnTo   uint64 `yaml:"seedEnTo"`
	SeedKWh    uint64 `yaml:"seedKWh"`
	ListKWh    uint64 `yaml:"listKWh"`
	BuyKWh     uint64 `yaml:"buyKWh"`
	StakeEnTo  uint64 `yaml:"stakeEnTo"`
	NewFeeBps  uint64 `yaml:"newFeeBps"`
	GatewayBuy uint64 `yaml:"gatewayBuyFiat"`
}

// Scenario is the simulation input. Amounts are whole EnTo.
type Scenario struct {
	Network     string         `yaml:"network"`
	Month       uint32         `yaml:"month"`
	FundEnTo    uint64         `yaml:"fundEnTo"`
	Departments []Department   `yaml:"departments"`
	Loan        LoanScenario   `yaml:"loan"`
	Market      MarketScenario `yaml:"market"`
}

var (
	ErrTooFewDepartments = errors.New("scenario needs at least two departments")
	ErrNoSaver           = errors.New("scenario needs a department that uses less than its pack")
)

// DefaultScenario is a two-department month where the first department saves
func DefaultScenario() Scenario {
	return Scenario{
		Network:  DefaultNetwork,
		Month:    DefaultMonth,
		FundEnTo: 100_000,
		Departments: []Department{
			{Name: "facilities", PackKWh: 1_200, UsedKWh: 1_000},
			{Name: "laboratories", PackKWh: 800, UsedKWh: 800},
		},
		Loan: LoanScenario{
			Principal:  1_000,
			Collateral: 2_000,
			Days:       30,
		},
		Market: MarketScenario{
			SeedEnTo:   10_000,
			SeedKWh:    20_000,
			ListKWh:    150,
			BuyKWh:     100,
			StakeEnTo:  5_000,
			NewFeeBps:  40,
			GatewayBuy: 250,
		},
	}
}

// LoadScenario overlays a YAML file onto DefaultScenario
func LoadScenario(path string) (Scenario, error) {
	s := DefaultScenario()
	data, err := os.ReadFile(path)
	if err != nil {
		return s, fmt.Errorf("read scenario: %w", err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&s); err != nil {
		return s, fmt.Errorf("parse scenario %s: %w", path, err)
	}
	return s, s.Validate()
}

func (s Scenario) Validate() error {
	if s.Network == "" {
		return errors.New("scenario network must be set")
	}
	if !auction.ValidMonth(s.Month) {
		return fmt.Errorf("%w: %d", auction.ErrInvalidMonth, s.Month)
	}
	if len(s.Departments) < 2 {
		return ErrTooFewDepartments
	}
	seen := make(map[string]bool, len(s.Departments))
	for _, d := range s.Departments {
		if d.Name == "" || d.PackKWh == 0 || d.UsedKWh == 0 {
			return fmt.Errorf("department %q needs a name, a pack and usage", d.Name)
		}
		if seen[d.Name] {
			return fmt.Errorf("duplicate department %q", d.Name)
		}
		seen[d.Name] = true
	}
	if s.saver() < 0 {
		return ErrNoSaver
	}
	if s.Market.BuyKWh > s.Market.ListKWh {
		return fmt.Errorf("market buy %d exceeds listing %d", s.Market.BuyKWh, s.Market.ListKWh)
	}
	return nil
}

// MonthStart is the first instant of the scenario month in UTC
func (s Scenario) MonthStart() time.Time {
	return time.Date(int(s.Month/100), time.Month(s.Month%100), 1, 0, 0, 0, 0, time.UTC)
}

func (s Scenario) saver() int {
	for i, d := range s.Departments {
		if d.UsedKWh < d.PackKWh {
			return i
		}
	}
	return -1
}
