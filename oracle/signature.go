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

package oracle

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/blinklabs-io/enledger/types"
)

const signatureLength = 65

var ErrMalformedSignature = errors.New("malformed signature")

// Verifier recovers the identity that signed a message. Implementations
// return ErrMalformedSignature for input that is not a signature at all.
type Verifier interface {
	RecoverSigner(message []byte, signature []byte) (types.Address, error)
}

// Verify reports whether signature over message was produced by expected
func Verify(v Verifier, message []byte, signature []byte, expected types.Address) bool {
	signer, err := v.RecoverSigner(message, signature)
	return err == nil && signer == expected
}

// EIP191Verifier checks secp256k1 signatures made with the Ethereum signed
// message prefix, as produced by personal_sign and wallet signMessage
type EIP191Verifier struct{}

func (EIP191Verifier) RecoverSigner(message []byte, signature []byte) (types.Address, error) {
	if len(signature) != signatureLength {
		return types.ZeroAddress, fmt.Errorf(
			"%w: expected %d bytes, got %d",
			ErrMalformedSignature,
			signatureLength,
			len(signature),
		)
	}
	sig := make([]byte, signatureLength)
	copy(sig, signature)
	if sig[64] >= 27 {
		sig[64] -= 27
	}
	if sig[64] > 1 {
		return types.ZeroAddress, fmt.Errorf("%w: invalid recovery id", ErrMalformedSignature)
	}
	pub, err := crypto.SigToPub(accounts.TextHash(message), sig)
	if err != nil {
		return types.ZeroAddress, fmt.Errorf("%w: %w", ErrMalformedSignature, err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}

var usageArguments = func() abi.Arguments {
	addressType, _ := abi.NewType("address", "", nil)
	uint256Type, _ := abi.NewType("uint256", "", nil)
	bytes32Type, _ := abi.NewType("bytes32", "", nil)
	return abi.Arguments{
		{Name: "oracle", Type: addressType},
		{Name: "department", Type: addressType},
		{Name: "month", Type: uint256Type},
		{Name: "kWh", Type: uint256Type},
		{Name: "nonce", Type: bytes32Type},
	}
}()

// UsagePayloadHash is keccak256(abi.encode(oracle, department, month, kWh,
// nonce)). Including the oracle identity keeps a reading signed for one
// deployment from being accepted by another.
func UsagePayloadHash(
	oracle types.Address,
	department types.Address,
	month uint32,
	kWh uint64,
	nonce [32]byte,
) ([]byte, error) {
	packed, err := usageArguments.Pack(
		oracle,
		department,
		new(big.Int).SetUint64(uint64(month)),
		new(big.Int).SetUint64(kWh),
		nonce,
	)
	if err != nil {
		return nil, fmt.Errorf("encode usage payload: %w", err)
	}
	return crypto.Keccak256(packed), nil
}

// SignUsage produces the signature a meter signer attaches to a reading
func SignUsage(
	key *ecdsa.PrivateKey,
	oracle types.Address,
	department types.Address,
	month uint32,
	kWh uint64,
	nonce [32]byte,
) ([]byte, error) {
	payload, err := UsagePayloadHash(oracle, department, month, kWh, nonce)
	if err != nil {
		return nil, err
	}
	sig, err := crypto.Sign(accounts.TextHash(payload), key)
	if err != nil {
		return nil, fmt.Errorf("sign usage: %w", err)
	}
	sig[64] += 27
	return sig, nil
}
