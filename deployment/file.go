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

package deployment

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/blinklabs-io/enledger/internal/sops"
)

// SaveOptions controls how a record is written
type SaveOptions struct {
	// Encrypt wraps the file with SOPS using Keys
	Encrypt bool
	Keys    sops.KeyConfig
}

// Load reads a record from a YAML or JSON file, chosen by extension. SOPS
// encrypted files are decrypted transparently.
func Load(path string) (*Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read deployment record: %w", err)
	}
	if sops.IsEncrypted(data) {
		data, err = sops.Decrypt(data)
		if err != nil {
			return nil, fmt.Errorf("decrypt deployment record %s: %w", path, err)
		}
	}
	r, err := Unmarshal(data, isJSON(path))
	if err != nil {
		return nil, fmt.Errorf("parse deployment record %s: %w", path, err)
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return r, nil
}

// Save writes a record to path, replacing any existing file
func Save(path string, r *Record, opts SaveOptions) error {
	if err := r.Validate(); err != nil {
		return err
	}
	data, err := Marshal(r, isJSON(path))
	if err != nil {
		return err
	}
	if opts.Encrypt {
		data, err = sops.Encrypt(data, opts.Keys)
		if err != nil {
			return fmt.Errorf("encrypt deployment record: %w", err)
		}
	}
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o600); err != nil {
		return fmt.Errorf("write deployment record: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("write deployment record: %w", err)
	}
	return nil
}

func Marshal(r *Record, asJSON bool) ([]byte, error) {
	r.sortRoles()
	if asJSON {
		data, err := json.MarshalIndent(r, "", "  ")
		if err != nil {
			return nil, err
		}
		return append(data, '\n'), nil
	}
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(r); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func Unmarshal(data []byte, asJSON bool) (*Record, error) {
	r := &Record{}
	if asJSON {
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(r); err != nil {
			return nil, err
		}
		return r, nil
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(r); err != nil {
		return nil, err
	}
	return r, nil
}

func isJSON(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".json")
}
