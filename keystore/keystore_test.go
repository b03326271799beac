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

package keystore_test

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blinklabs-io/enledger/internal/test/testutil"
	"github.com/blinklabs-io/enledger/keystore"
	"github.com/blinklabs-io/enledger/oracle"
)

func TestGenerateAndLoadKeyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "meter.key")
	key, err := keystore.GenerateKeyFile(path, "north wing meter")
	require.NoError(t, err)

	loaded, err := keystore.LoadKeyFile(path)
	require.NoError(t, err)
	assert.Equal(t, crypto.FromECDSA(key), crypto.FromECDSA(loaded))

	// Existing key files are never replaced
	_, err = keystore.GenerateKeyFile(path, "again")
	require.Error(t, err)
}

func TestLoadKeyFileRejectsBadEnvelope(t *testing.T) {
	dir := t.TempDir()
	testDefs := map[string]string{
		"type":    `{"type":"VrfSigningKey_PraosVRF","keyHex":"00"}`,
		"hex":     `{"type":"MeterSigningKey_secp256k1","keyHex":"zz"}`,
		"json":    `not json`,
		"address": `{"type":"MeterSigningKey_secp256k1","keyHex":"4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318","address":"0x0000000000000000000000000000000000000001"}`,
	}
	for name, content := range testDefs {
		path := filepath.Join(dir, name+".key")
		require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
		_, err := keystore.LoadKeyFile(path)
		require.Error(t, err, name)
	}
}

func TestKeyStoreSignsVerifiableUsage(t *testing.T) {
	dir := t.TempDir()
	paths := []string{filepath.Join(dir, "a.key"), filepath.Join(dir, "b.key")}
	for _, p := range paths {
		_, err := keystore.GenerateKeyFile(p, "")
		require.NoError(t, err)
	}
	ks := keystore.NewKeyStore(keystore.KeyStoreConfig{
		KeyPaths: paths,
		Rand:     bytes.NewReader(bytes.Repeat([]byte{7}, 64)),
	})
	require.NoError(t, ks.LoadFromFiles())
	signers := ks.Addresses()
	require.Len(t, signers, 2)
	first, err := ks.Default()
	require.NoError(t, err)
	assert.Equal(t, signers[0], first)

	oracleAddr := testutil.Address("oracle")
	dept := testutil.Address("dept")
	reading, err := ks.SignUsage(first, oracleAddr, dept, 202508, 640)
	require.NoError(t, err)
	assert.Equal(t, byte(7), reading.Nonce[0])

	payload, err := oracle.UsagePayloadHash(oracleAddr, dept, 202508, 640, reading.Nonce)
	require.NoError(t, err)
	assert.True(t, oracle.Verify(oracle.EIP191Verifier{}, payload, reading.Signature, first))

	_, err = ks.SignUsage(testutil.Address("stranger"), oracleAddr, dept, 202508, 640)
	require.ErrorIs(t, err, keystore.ErrUnknownSigner)

	// Loading the same files twice is refused
	require.ErrorIs(t, ks.LoadFromFiles(), keystore.ErrDuplicateKey)
}

func TestEmptyKeyStore(t *testing.T) {
	ks := keystore.NewKeyStore(keystore.KeyStoreConfig{})
	_, err := ks.Default()
	require.ErrorIs(t, err, keystore.ErrKeysNotLoaded)
	assert.Empty(t, ks.Addresses())
}
