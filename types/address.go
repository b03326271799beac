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

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Address identifies an account: a department, an operator, or the escrow
// account owned by a system component
type Address = common.Address

// ZeroAddress is the null identity. Nothing may be sent to it.
var ZeroAddress = Address{}

// ParseAddress decodes a hex address, rejecting malformed input
func ParseAddress(s string) (Address, error) {
	if !common.IsHexAddress(s) {
		return ZeroAddress, fmt.Errorf("invalid address: %q", s)
	}
	return common.HexToAddress(s), nil
}

// ComponentAddress derives the stable escrow identity of a named component
// within a network. The same inputs always produce the same address.
func ComponentAddress(network string, component string) Address {
	h := crypto.Keccak256([]byte("enledger:" + network + ":" + component))
	return common.BytesToAddress(h[12:])
}
