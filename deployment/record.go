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

// Package deployment holds the persisted description of a network: the
// identities of its components and the roles granted on each of them
package deployment

import (
	"errors"
	"fmt"
	"slices"
	"sort"
	"time"

	"github.com/blinklabs-io/enledger/types"
)

const (
	ComponentLedger     = "ledger"
	ComponentAuction    = "auction"
	ComponentOracle     = "oracle"
	ComponentLoan       = "loan"
	ComponentTrade      = "trade"
	ComponentGovernance = "governance"
	ComponentGateway    = "gateway"
)

// Components lists every component in wiring order
var Components = []string{
	ComponentLedger,
	ComponentAuction,
	ComponentOracle,
	ComponentLoan,
	ComponentTrade,
	ComponentGovernance,
	ComponentGateway,
}

var (
	ErrUnknownComponent = errors.New("unknown component")
	ErrGrantExists      = errors.New("role already granted")
	ErrGrantNotFound    = errors.New("role not granted")
)

// RoleGrant is one entry of the role roster
type RoleGrant struct {
	Component string        `yaml:"component" json:"component"`
	Role      types.Role    `yaml:"role"      json:"role"`
	Account   types.Address `yaml:"account"   json:"account"`
}

func (g RoleGrant) String() string {
	return fmt.Sprintf("%s %s %s", g.Component, g.Role, g.Account.Hex())
}

type Record struct {
	GeneratedAt  time.Time                `yaml:"generatedAt"            json:"generatedAt"`
	Components   map[string]types.Address `yaml:"components"             json:"components"`
	Params       map[string]string        `yaml:"params,omitempty"       json:"params,omitempty"`
	Network      string                   `yaml:"network"                json:"network"`
	Roles        []RoleGrant              `yaml:"roles"                  json:"roles"`
	MeterSigners []types.Address          `yaml:"meterSigners,omitempty" json:"meterSigners,omitempty"`
	Admin        types.Address            `yaml:"admin"                  json:"admin"`
	Treasury     types.Address            `yaml:"treasury"               json:"treasury"`
}

// Derive builds a fresh record for a network. Component identities are
// derived from the network name, and the default roster lets governance
// administer every parameterised component, the oracle mint savings, and the
// admin operate the privileged roles until they are handed over.
func Derive(network string, admin types.Address, treasury types.Address, now time.Time) (*Record, error) {
	if network == "" {
		return nil, errors.New("network name is required")
	}
	if admin == types.ZeroAddress {
		return nil, errors.New("admin address is required")
	}
	if treasury == types.ZeroAddress {
		treasury = admin
	}
	r := &Record{
		Network:     network,
		GeneratedAt: now.UTC(),
		Admin:       admin,
		Treasury:    treasury,
		Components:  make(map[string]types.Address, len(Components)),
	}
	for _, name := range Components {
		r.Components[name] = types.ComponentAddress(network, name)
	}
	gov := r.Components[ComponentGovernance]
	r.Roles = []RoleGrant{
		{Component: ComponentLedger, Role: types.RoleMinter, Account: r.Components[ComponentOracle]},
		{Component: ComponentOracle, Role: types.RoleOracle, Account: admin},
		{Component: ComponentGovernance, Role: types.RoleExecutor, Account: admin},
		{Component: ComponentGateway, Role: types.RolePriceFeeder, Account: admin},
		{Component: ComponentGateway, Role: types.RoleSettlement, Account: admin},
	}
	for _, name := range []string{
		ComponentAuction,
		ComponentOracle,
		ComponentLoan,
		ComponentTrade,
		ComponentGateway,
	} {
		r.Roles = append(r.Roles, RoleGrant{Component: name, Role: types.RoleDefaultAdmin, Account: gov})
	}
	return r, nil
}

// Address returns the identity of a named component
func (r *Record) Address(component string) (types.Address, error) {
	addr, ok := r.Components[component]
	if !ok {
		return types.ZeroAddress, fmt.Errorf("%w: %q", ErrUnknownComponent, component)
	}
	return addr, nil
}

// Grant adds an entry to the roster
func (r *Record) Grant(component string, role types.Role, account types.Address) error {
	grant, err := r.grant(component, role, account)
	if err != nil {
		return err
	}
	if slices.Contains(r.Roles, grant) {
		return fmt.Errorf("%w: %s", ErrGrantExists, grant)
	}
	r.Roles = append(r.Roles, grant)
	return nil
}

// Revoke removes an entry from the roster
func (r *Record) Revoke(component string, role types.Role, account types.Address) error {
	grant, err := r.grant(component, role, account)
	if err != nil {
		return err
	}
	idx := slices.Index(r.Roles, grant)
	if idx < 0 {
		return fmt.Errorf("%w: %s", ErrGrantNotFound, grant)
	}
	r.Roles = slices.Delete(r.Roles, idx, idx+1)
	return nil
}

// RolesFor returns the roster entries of one component
func (r *Record) RolesFor(component string) []RoleGrant {
	var ret []RoleGrant
	for _, g := range r.Roles {
		if g.Component == component {
			ret = append(ret, g)
		}
	}
	return ret
}

// AddMeterSigner records a meter key the oracle should accept
func (r *Record) AddMeterSigner(signer types.Address) error {
	if signer == types.ZeroAddress {
		return errors.New("meter signer must not be the zero address")
	}
	if !slices.Contains(r.MeterSigners, signer) {
		r.MeterSigners = append(r.MeterSigners, signer)
	}
	return nil
}

// Validate checks the record is complete and internally consistent
func (r *Record) Validate() error {
	if r.Network == "" {
		return errors.New("deployment: network is empty")
	}
	if r.Admin == types.ZeroAddress {
		return errors.New("deployment: admin is the zero address")
	}
	var errs []error
	for _, name := range Components {
		if addr, ok := r.Components[name]; !ok || addr == types.ZeroAddress {
			errs = append(errs, fmt.Errorf("deployment: missing component %q", name))
		}
	}
	for _, g := range r.Roles {
		if _, err := r.grant(g.Component, g.Role, g.Account); err != nil {
			errs = append(errs, fmt.Errorf("deployment: roster entry %s: %w", g, err))
		}
	}
	return errors.Join(errs...)
}

func (r *Record) grant(component string, role types.Role, account types.Address) (RoleGrant, error) {
	if _, err := r.Address(component); err != nil {
		return RoleGrant{}, err
	}
	if !role.Valid() {
		return RoleGrant{}, fmt.Errorf("unknown role: %q", role)
	}
	if account == types.ZeroAddress {
		return RoleGrant{}, errors.New("account must not be the zero address")
	}
	return RoleGrant{Component: component, Role: role, Account: account}, nil
}

// sortRoles keeps saved files stable across edits
func (r *Record) sortRoles() {
	order := make(map[string]int, len(Components))
	for i, name := range Components {
		order[name] = i
	}
	sort.SliceStable(r.Roles, func(i, j int) bool {
		a, b := r.Roles[i], r.Roles[j]
		if a.Component != b.Component {
			return order[a.Component] < order[b.Component]
		}
		return a.Role < b.Role
	})
}
