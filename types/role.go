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

package types

import "fmt"

// Role is a named capability checked at the start of privileged operations
type Role string

const (
	RoleDefaultAdmin Role = "DEFAULT_ADMIN_ROLE"
	RoleMinter       Role = "MINTER_ROLE"
	RoleBurner       Role = "BURNER_ROLE"
	RoleOracle       Role = "ORACLE_ROLE"
	RoleExecutor     Role = "EXECUTOR_ROLE"
	RolePriceFeeder  Role = "PRICE_FEEDER"
	RoleSettlement   Role = "SETTLEMENT_ROLE"
)

var knownRoles = []Role{
	RoleDefaultAdmin,
	RoleMinter,
	RoleBurner,
	RoleOracle,
	RoleExecutor,
	RolePriceFeeder,
	RoleSettlement,
}

// Valid returns true for the roles the system knows about
func (r Role) Valid() bool {
	for _, known := range knownRoles {
		if r == known {
			return true
		}
	}
	return false
}

// ParseRole accepts either the canonical name ("MINTER_ROLE") or the short
// form without the suffix ("MINTER")
func ParseRole(s string) (Role, error) {
	if r := Role(s); r.Valid() {
		return r, nil
	}
	if r := Role(s + "_ROLE"); r.Valid() {
		return r, nil
	}
	return "", fmt.Errorf("unknown role: %q", s)
}
