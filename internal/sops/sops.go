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

// Package sops encrypts and decrypts files at rest with SOPS master keys
// from GCP KMS, AWS KMS or age
package sops

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	sopsapi "github.com/getsops/sops/v3"
	"github.com/getsops/sops/v3/aes"
	"github.com/getsops/sops/v3/age"
	scommon "github.com/getsops/sops/v3/cmd/sops/common"
	"github.com/getsops/sops/v3/config"
	"github.com/getsops/sops/v3/decrypt"
	"github.com/getsops/sops/v3/gcpkms"
	skeys "github.com/getsops/sops/v3/keys"
	awskms "github.com/getsops/sops/v3/kms"
	jsonstore "github.com/getsops/sops/v3/stores/json"
	"github.com/getsops/sops/v3/version"
)

var (
	ErrAlreadyEncrypted = errors.New("already encrypted")
	ErrNoMasterKeys     = errors.New(
		"SOPS requires at least one master key to encrypt: set a GCP KMS resource ID, AWS KMS key ARNs or age recipients",
	)
)

// KeyConfig selects the master keys used to encrypt. Decryption finds its
// keys from the file metadata and the usual SOPS environment.
type KeyConfig struct {
	GcpKmsResourceID string
	AwsKmsKeyArns    string
	AwsKmsProfile    string
	// AgeRecipients is a comma separated list of age public keys
	AgeRecipients string
}

// KeyConfigFromEnv reads ENLEDGER_GCP_KMS_RESOURCE_ID,
// ENLEDGER_AWS_KMS_KEY_ARNS, ENLEDGER_AWS_KMS_PROFILE and
// ENLEDGER_AGE_RECIPIENTS
func KeyConfigFromEnv() KeyConfig {
	return KeyConfig{
		GcpKmsResourceID: os.Getenv("ENLEDGER_GCP_KMS_RESOURCE_ID"),
		AwsKmsKeyArns:    os.Getenv("ENLEDGER_AWS_KMS_KEY_ARNS"),
		AwsKmsProfile:    os.Getenv("ENLEDGER_AWS_KMS_PROFILE"),
		AgeRecipients:    os.Getenv("ENLEDGER_AGE_RECIPIENTS"),
	}
}

// IsEncrypted reports whether data is a SOPS binary-store document
func IsEncrypted(data []byte) bool {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return false
	}
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &doc); err != nil {
		return false
	}
	_, ok := doc["sops"]
	return ok
}

func Decrypt(data []byte) ([]byte, error) {
	ret, err := decrypt.Data(data, "binary")
	if err != nil {
		return nil, fmt.Errorf("sops decrypt: %w", err)
	}
	return ret, nil
}

// Encrypt wraps data in a SOPS binary-store document encrypted for the
// configured master keys
func Encrypt(data []byte, keys KeyConfig) ([]byte, error) {
	storeConfig := &config.JSONBinaryStoreConfig{}
	input := jsonstore.NewBinaryStore(storeConfig)
	output := jsonstore.NewBinaryStore(storeConfig)

	if IsEncrypted(data) {
		return nil, ErrAlreadyEncrypted
	}
	branches, err := input.LoadPlainFile(data)
	if err != nil {
		return nil, fmt.Errorf("error loading data: %w", err)
	}
	keyGroups, err := keys.keyGroups()
	if err != nil {
		return nil, err
	}
	tree := sopsapi.Tree{
		Branches: branches,
		Metadata: sopsapi.Metadata{
			KeyGroups: keyGroups,
			Version:   version.Version,
		},
	}
	dataKey, errs := tree.GenerateDataKey()
	if len(errs) > 0 {
		return nil, fmt.Errorf("failed generating data key: %v", errs)
	}
	if err := scommon.EncryptTree(scommon.EncryptTreeOpts{
		DataKey: dataKey,
		Tree:    &tree,
		Cipher:  aes.NewCipher(),
	}); err != nil {
		return nil, fmt.Errorf("failed encrypt: %w", err)
	}
	encrypted, err := output.EmitEncryptedFile(tree)
	if err != nil {
		return nil, fmt.Errorf("failed output: %w", err)
	}
	return encrypted, nil
}

func (k KeyConfig) keyGroups() ([]sopsapi.KeyGroup, error) {
	keyGroups := []sopsapi.KeyGroup{}
	if k.GcpKmsResourceID != "" {
		keys := []skeys.MasterKey{}
		for _, key := range gcpkms.MasterKeysFromResourceIDString(k.GcpKmsResourceID) {
			keys = append(keys, key)
		}
		if len(keys) > 0 {
			keyGroups = append(keyGroups, keys)
		}
	}
	if k.AwsKmsKeyArns != "" {
		keys := []skeys.MasterKey{}
		for _, key := range awskms.MasterKeysFromArnString(k.AwsKmsKeyArns, nil, k.AwsKmsProfile) {
			keys = append(keys, key)
		}
		if len(keys) > 0 {
			keyGroups = append(keyGroups, keys)
		}
	}
	if k.AgeRecipients != "" {
		ageKeys, err := age.MasterKeysFromRecipients(k.AgeRecipients)
		if err != nil {
			return nil, fmt.Errorf("parse age recipients: %w", err)
		}
		keys := []skeys.MasterKey{}
		for _, key := range ageKeys {
			keys = append(keys, key)
		}
		if len(keys) > 0 {
			keyGroups = append(keyGroups, keys)
		}
	}
	if len(keyGroups) == 0 {
		return nil, ErrNoMasterKeys
	}
	return keyGroups, nil
}
