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

package keystore

import (
	"crypto/ecdsa"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/blinklabs-io/enledger/types"
)

// KeyTypeMeterSigning is the envelope type of a meter key file
const KeyTypeMeterSigning = "MeterSigningKey_secp256k1"

// keyFileEnvelope represents the JSON structure of a meter key file.
type keyFileEnvelope struct {
	Type        string `json:"type"`
	Description string `json:"description"`
	KeyHex      string `json:"keyHex"`
	// Address is informational and checked against the key when present
	Address string `json:"address,omitempty"`
}

// LoadKeyFile loads a meter key from path.
// Returns ErrInsecureFileMode if the file has group or other access.
//
// The file is opened first and permissions are checked on the open handle
// (via fstat on Unix) to avoid a TOCTOU race between the permission check
// and the read.
func LoadKeyFile(path string) (*ecdsa.PrivateKey, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open key file %q: %w", path, err)
	}
	defer f.Close()

	if err := checkOpenFilePermissions(f); err != nil {
		return nil, err
	}

	// Valid key files are a few hundred bytes
	const maxKeyFileSize = 64 << 10
	data, err := io.ReadAll(io.LimitReader(f, maxKeyFileSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read key file %q: %w", path, err)
	}
	key, err := parseKeyEnvelope(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse key file %q: %w", path, err)
	}
	return key, nil
}

// parseKeyEnvelope decodes a meter key file.
func parseKeyEnvelope(fileBytes []byte) (*ecdsa.PrivateKey, error) {
	var env keyFileEnvelope
	if err := json.Unmarshal(fileBytes, &env); err != nil {
		return nil, fmt.Errorf("could not parse key file envelope: %w", err)
	}
	if env.Type != KeyTypeMeterSigning {
		return nil, fmt.Errorf("unknown key type: %s", env.Type)
	}
	key, err := crypto.HexToECDSA(strings.TrimPrefix(env.KeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("could not decode key: %w", err)
	}
	if env.Address != "" {
		expected, err := types.ParseAddress(env.Address)
		if err != nil {
			return nil, err
		}
		if actual := crypto.PubkeyToAddress(key.PublicKey); actual != expected {
			return nil, fmt.Errorf(
				"key file address %s does not match key %s",
				expected.Hex(),
				actual.Hex(),
			)
		}
	}
	return key, nil
}

// WriteKeyFile stores key at path, readable by the owner only. An existing
// file is never overwritten.
func WriteKeyFile(path string, key *ecdsa.PrivateKey, description string) error {
	if key == nil {
		return errors.New("nil key")
	}
	data, err := json.MarshalIndent(keyFileEnvelope{
		Type:        KeyTypeMeterSigning,
		Description: description,
		KeyHex:      hex.EncodeToString(crypto.FromECDSA(key)),
		Address:     crypto.PubkeyToAddress(key.PublicKey).Hex(),
	}, "", "    ")
	if err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return fmt.Errorf("failed to create key file %q: %w", path, err)
	}
	if _, err := f.Write(append(data, '\n')); err != nil {
		f.Close()
		return fmt.Errorf("failed to write key file %q: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return err
	}
	return restrictToOwner(path)
}

// GenerateKeyFile creates a new meter key and writes it to path
func GenerateKeyFile(path string, description string) (*ecdsa.PrivateKey, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	if err := WriteKeyFile(path, key, description); err != nil {
		return nil, err
	}
	return key, nil
}
