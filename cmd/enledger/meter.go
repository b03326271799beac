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

package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/spf13/cobra"

	"github.com/blinklabs-io/enledger/deployment"
	"github.com/blinklabs-io/enledger/keystore"
	"github.com/blinklabs-io/enledger/types"
)

var meterFlags = struct {
	key         string
	description string
	file        string
	department  string
	month       uint32
	kWh         uint64
}{}

func meterKeygenCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Create a meter signing key file",
		Run: func(*cobra.Command, []string) {
			logger := commonRun()
			key, err := keystore.GenerateKeyFile(meterFlags.key, meterFlags.description)
			if err != nil {
				slog.Error(err.Error())
				os.Exit(1)
			}
			logger.Info(
				"wrote meter key to "+meterFlags.key,
				"signer", crypto.PubkeyToAddress(key.PublicKey).Hex(),
			)
		},
	}
	cmd.Flags().StringVar(&meterFlags.description, "description", "", "free-form key description")
	return cmd
}

func meterSignCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sign",
		Short: "Sign a usage reading for submission to the oracle",
		Run: func(cmd *cobra.Command, _ []string) {
			cfg := configFromCommand(cmd)
			path := meterFlags.file
			if path == "" {
				path = cfg.DeploymentFile
			}
			rec, err := deployment.Load(path)
			if err != nil {
				slog.Error(err.Error())
				os.Exit(1)
			}
			oracleAddr, err := rec.Address(deployment.ComponentOracle)
			if err != nil {
				slog.Error(err.Error())
				os.Exit(1)
			}
			dept, err := types.ParseAddress(meterFlags.department)
			if err != nil {
				slog.Error(err.Error())
				os.Exit(1)
			}
			ks := keystore.NewKeyStore(keystore.KeyStoreConfig{
				KeyPaths: []string{meterFlags.key},
			})
			if err := ks.LoadFromFiles(); err != nil {
				slog.Error(err.Error())
				os.Exit(1)
			}
			signer, err := ks.Default()
			if err != nil {
				slog.Error(err.Error())
				os.Exit(1)
			}
			reading, err := ks.SignUsage(signer, oracleAddr, dept, meterFlags.month, meterFlags.kWh)
			if err != nil {
				slog.Error(err.Error())
				os.Exit(1)
			}
			out, err := json.MarshalIndent(reading, "", "  ")
			if err != nil {
				slog.Error(err.Error())
				os.Exit(1)
			}
			fmt.Println(string(out))
		},
	}
	cmd.Flags().StringVarP(&meterFlags.file, "file", "f", "", "deployment record (default from config deploymentFile)")
	cmd.Flags().StringVar(&meterFlags.department, "department", "", "department address")
	cmd.Flags().Uint32Var(&meterFlags.month, "month", 0, "billing month as YYYYMM")
	cmd.Flags().Uint64Var(&meterFlags.kWh, "kwh", 0, "metered consumption in kWh")
	_ = cmd.MarkFlagRequired("department")
	_ = cmd.MarkFlagRequired("month")
	_ = cmd.MarkFlagRequired("kwh")
	return cmd
}

func meterCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "meter",
		Short: "Manage meter keys and sign usage readings",
	}
	cmd.PersistentFlags().StringVarP(&meterFlags.key, "key", "k", "meter.key", "meter key file")
	cmd.AddCommand(meterKeygenCommand())
	cmd.AddCommand(meterSignCommand())
	return cmd
}
