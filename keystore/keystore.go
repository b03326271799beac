// Copyright 2026 Blink Labs Software
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

// Package keystore manages meter signing keys. Meters sign usage readings
// with secp256k1 keys kept in JSON key files that only their owner may read.
package keystore

import (
	"crypto/ecdsa"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/blinklabs-io/enledger/oracle"
	"github.com/blinklabs-io/enledger/types"
)

// Common errors returned by KeyStore operations.
var (
	ErrKeysNotLoaded    = errors.New("keys not loaded")
	ErrUnknownSigner    = errors.New("no key loaded for signer")
	ErrDuplicateKey     = errors.New("key already loaded")
	ErrInsecureFileMode = errors.New("insecure file permissions")
)

// SignedReading is a usage report ready for submission to the oracle
type SignedReading struct {
	Signer     types.Address `json:"signer"`
	Department types.Address `json:"department"`
	Month      uint32        `json:"month"`
	KWh        uint64        `json:"kWh"`
	Nonce      common.Hash   `json:"nonce"`
	Signature  hexutil.Bytes `json:"signature"`
}

// KeyStoreConfig holds configuration for the KeyStore.
type KeyStoreConfig struct {
	// KeyPaths are meter key files loaded by LoadFromFiles
	KeyPaths []string
	Logger   *slog.Logger
	// Rand is the nonce source, crypto/rand by default
	Rand io.Reader
}

// KeyStore holds the meter keys this process can sign with
type KeyStore struct {
	config KeyStoreConfig
	logger *slog.Logger
	mu     sync.RWMutex
	keys   map[types.Address]*ecdsa.PrivateKey
	order  []types.Address
}

// NewKeyStore creates a new KeyStore with the given configuration.
func NewKeyStore(config KeyStoreConfig) *KeyStore {
	if config.Logger == nil {
		config.Logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	if config.Rand == nil {
		config.Rand = rand.Reader
	}
	return &KeyStore{
		config: config,
		logger: config.Logger.With("component", "keystore"),
		keys:   make(map[types.Address]*ecdsa.PrivateKey),
	}
}

// LoadFromFiles loads every configured key file. Files with group or other
// access are rejected.
func (ks *KeyStore) LoadFromFiles() error {
	for _, path := range ks.config.KeyPaths {
		key, err := LoadKeyFile(path)
		if err != nil {
			return err
		}
		addr, err := ks.Add(key)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		ks.logger.Info(
			"loaded meter key",
			"path", path,
			"signer", addr.Hex(),
		)
	}
	return nil
}

// Add registers a key and returns its signer address
func (ks *KeyStore) Add(key *ecdsa.PrivateKey) (types.Address, error) {
	if key == nil {
		return types.ZeroAddress, errors.New("nil key")
	}
	addr := crypto.PubkeyToAddress(key.PublicKey)
	ks.mu.Lock()
	defer ks.mu.Unlock()
	if _, ok := ks.keys[addr]; ok {
		return addr, fmt.Errorf("%w: %s", ErrDuplicateKey, addr.Hex())
	}
	ks.keys[addr] = key
	ks.order = append(ks.order, addr)
	return addr, nil
}

// Addresses returns the loaded signers in load order
func (ks *KeyStore) Addresses() []types.Address {
	ks.mu.RLock()
	defer ks.mu.RUnlock()
	return append([]types.Address(nil), ks.order...)
}

// Default returns the first loaded signer
func (ks *KeyStore) Default() (types.Address, error) {
	ks.mu.RLock()
	defer ks.mu.RUnlock()
	if len(ks.order) == 0 {
		return types.ZeroAddress, ErrKeysNotLoaded
	}
	return ks.order[0], nil
}

// SignUsage signs a reading for the oracle at oracleAddr with a fresh random
// nonce
func (ks *KeyStore) SignUsage(
	signer types.Address,
	oracleAddr types.Address,
	department types.Address,
	month uint32,
	kWh uint64,
) (SignedReading, error) {
	ks.mu.RLock()
	key, ok := ks.keys[signer]
	ks.mu.RUnlock()
	if !ok {
		return SignedReading{}, fmt.Errorf("%w: %s", ErrUnknownSigner, signer.Hex())
	}
	var nonce [32]byte
	if _, err := io.ReadFull(ks.config.Rand, nonce[:]); err != nil {
		return SignedReading{}, fmt.Errorf("generate nonce: %w", err)
	}
	sig, err := oracle.SignUsage(key, oracleAddr, department, month, kWh, nonce)
	if err != nil {
		return SignedReading{}, err
	}
	ks.logger.Debug(
		"signed usage",
		"signer", signer.Hex(),
		"department", department.Hex(),
		"month", month,
		"kwh", kWh,
	)
	return SignedReading{
		Signer:     signer,
		Department: department,
		Month:      month,
		KWh:        kWh,
		Nonce:      nonce,
		Signature:  sig,
	}, nil
}
