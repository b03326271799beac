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

// Package access implements role-based access control for a single
// component. Each role has an admin role whose holders may grant and revoke
// it; by default that is the default admin role.
package access

import (
	"bytes"
	"errors"
	"slices"

	"github.com/blinklabs-io/enledger/chain"
	"github.com/blinklabs-io/enledger/event"
	"github.com/blinklabs-io/enledger/types"
)

const (
	RoleGrantedEventType event.EventType = "access.role_granted"
	RoleRevokedEventType event.EventType = "access.role_revoked"
)

var (
	ErrMissingRole      = errors.New("missing role")
	ErrRenounceForOther = errors.New("can only renounce roles for self")
)

// RoleEvent is emitted when a role changes hands
type RoleEvent struct {
	Component string
	Role      types.Role
	Account   types.Address
	Sender    types.Address
}

// Control holds the role membership of one component. It is not safe for
// concurrent use; mutations happen inside executor transitions.
type Control struct {
	component string
	members   map[types.Role]map[types.Address]struct{}
	admins    map[types.Role]types.Role
}

func NewControl(component string) *Control {
	return &Control{
		component: component,
		members:   make(map[types.Role]map[types.Address]struct{}),
		admins:    make(map[types.Role]types.Role),
	}
}

// Component returns the name of the component this control belongs to
func (c *Control) Component() string {
	return c.component
}

// HasRole reports whether account holds role
func (c *Control) HasRole(role types.Role, account types.Address) bool {
	_, ok := c.members[role][account]
	return ok
}

// Require returns an Authorization error unless account holds role
func (c *Control) Require(
	op string,
	role types.Role,
	account types.Address,
) error {
	if c.HasRole(role, account) {
		return nil
	}
	return types.NewError(
		types.KindAuthorization,
		op,
		&MissingRoleError{Role: role, Account: account},
	)
}

// RoleAdmin returns the role whose holders administer role
func (c *Control) RoleAdmin(role types.Role) types.Role {
	if admin, ok := c.admins[role]; ok {
		return admin
	}
	return types.RoleDefaultAdmin
}

// SetRoleAdmin changes the admin role of role at construction time
func (c *Control) SetRoleAdmin(role types.Role, admin types.Role) {
	c.admins[role] = admin
}

// Bootstrap grants a role outside of any transition. It is used while
// assembling genesis state.
func (c *Control) Bootstrap(role types.Role, account types.Address) {
	c.add(role, account)
}

// Members returns the holders of role in address order
func (c *Control) Members(role types.Role) []types.Address {
	ret := make([]types.Address, 0, len(c.members[role]))
	for account := range c.members[role] {
		ret = append(ret, account)
	}
	slices.SortFunc(ret, func(a, b types.Address) int {
		return bytes.Compare(a[:], b[:])
	})
	return ret
}

// GrantRole gives account the role. The sender must hold the role's admin
// role. Granting a role that is already held changes nothing.
func (c *Control) GrantRole(
	tx *chain.Tx,
	role types.Role,
	account types.Address,
) error {
	op := c.component + ".grant_role"
	if err := c.Require(op, c.RoleAdmin(role), tx.Sender()); err != nil {
		return err
	}
	return c.GrantRoleUnchecked(tx, role, account)
}

// GrantRoleUnchecked grants a role without an admin check. It is for
// components that manage their own role roster.
func (c *Control) GrantRoleUnchecked(
	tx *chain.Tx,
	role types.Role,
	account types.Address,
) error {
	if account == types.ZeroAddress {
		return types.Errorf(
			types.KindValidation,
			c.component+".grant_role",
			"cannot grant %s to the zero address",
			role,
		)
	}
	if c.HasRole(role, account) {
		return nil
	}
	c.add(role, account)
	tx.OnRevert(func() { c.remove(role, account) })
	tx.Emit(RoleGrantedEventType, RoleEvent{
		Component: c.component,
		Role:      role,
		Account:   account,
		Sender:    tx.Sender(),
	})
	return nil
}

// RevokeRole removes the role from account. The sender must hold the role's
// admin role.
func (c *Control) RevokeRole(
	tx *chain.Tx,
	role types.Role,
	account types.Address,
) error {
	op := c.component + ".revoke_role"
	if err := c.Require(op, c.RoleAdmin(role), tx.Sender()); err != nil {
		return err
	}
	c.revoke(tx, role, account)
	return nil
}

// RenounceRole lets the sender give up one of its own roles
func (c *Control) RenounceRole(
	tx *chain.Tx,
	role types.Role,
	account types.Address,
) error {
	if account != tx.Sender() {
		return types.NewError(
			types.KindAuthorization,
			c.component+".renounce_role",
			ErrRenounceForOther,
		)
	}
	c.revoke(tx, role, account)
	return nil
}

func (c *Control) revoke(tx *chain.Tx, role types.Role, account types.Address) {
	if !c.HasRole(role, account) {
		return
	}
	c.remove(role, account)
	tx.OnRevert(func() { c.add(role, account) })
	tx.Emit(RoleRevokedEventType, RoleEvent{
		Component: c.component,
		Role:      role,
		Account:   account,
		Sender:    tx.Sender(),
	})
}

func (c *Control) add(role types.Role, account types.Address) {
	if _, ok := c.members[role]; !ok {
		c.members[role] = make(map[types.Address]struct{})
	}
	c.members[role][account] = struct{}{}
}

func (c *Control) remove(role types.Role, account types.Address) {
	delete(c.members[role], account)
	if len(c.members[role]) == 0 {
		delete(c.members, role)
	}
}

// MissingRoleError identifies which role the caller lacked
type MissingRoleError struct {
	Role    types.Role
	Account types.Address
}

func (e *MissingRoleError) Error() string {
	return "account " + e.Account.Hex() + " is missing role " + string(e.Role)
}

func (e *MissingRoleError) Is(target error) bool {
	return target == ErrMissingRole
}
