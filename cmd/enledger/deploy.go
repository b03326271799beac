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
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/blinklabs-io/enledger/deployment"
	"github.com/blinklabs-io/enledger/internal/config"
	"github.com/blinklabs-io/enledger/internal/sops"
	"github.com/blinklabs-io/enledger/types"
)

var deployFlags = struct {
	out          string
	network      string
	admin        string
	treasury     string
	meterSigners []string
	params       map[string]string
	encrypt      bool
	force        bool
}{}

// buildDeployment derives a fresh deployment record from the deploy flags
func buildDeployment(cfg *config.Config, now time.Time) (*deployment.Record, error) {
	network := deployFlags.network
	if network == "" {
		network = cfg.Network
	}
	admin, err := types.ParseAddress(deployFlags.admin)
	if err != nil {
		return nil, fmt.Errorf("admin: %w", err)
	}
	var treasury types.Address
	if deployFlags.treasury != "" {
		if treasury, err = types.ParseAddress(deployFlags.treasury); err != nil {
			return nil, fmt.Errorf("treasury: %w", err)
		}
	}
	rec, err := deployment.Derive(network, admin, treasury, now)
	if err != nil {
		return nil, err
	}
	for _, s := range deployFlags.meterSigners {
		signer, err := types.ParseAddress(s)
		if err != nil {
			return nil, fmt.Errorf("meter signer: %w", err)
		}
		if err := rec.AddMeterSigner(signer); err != nil {
			return nil, err
		}
	}
	if len(deployFlags.params) > 0 {
		rec.Params = make(map[string]string, len(deployFlags.params))
		for name, value := range deployFlags.params {
			rec.Params[name] = value
		}
	}
	return rec, rec.Validate()
}

func deployRun(_ *cobra.Command, _ []string, cfg *config.Config) {
	logger := commonRun()
	out := deployFlags.out
	if out == "" {
		out = cfg.DeploymentFile
	}
	if !deployFlags.force {
		if _, err := os.Stat(out); err == nil {
			slog.Error(fmt.Sprintf("%s already exists, use --force to replace it", out))
			os.Exit(1)
		} else if !errors.Is(err, os.ErrNotExist) {
			slog.Error(err.Error())
			os.Exit(1)
		}
	}
	rec, err := buildDeployment(cfg, time.Now())
	if err != nil {
		slog.Error(err.Error())
		os.Exit(1)
	}
	opts := deployment.SaveOptions{Encrypt: deployFlags.encrypt}
	if opts.Encrypt {
		opts.Keys = sops.KeyConfigFromEnv()
	}
	if err := deployment.Save(out, rec, opts); err != nil {
		slog.Error(err.Error())
		os.Exit(1)
	}
	for _, name := range deployment.Components {
		logger.Info(
			"component deployed",
			"component", name,
			"address", rec.Components[name].Hex(),
		)
	}
	logger.Info(
		"wrote deployment record to "+out,
		"network", rec.Network,
		"admin", rec.Admin.Hex(),
		"treasury", rec.Treasury.Hex(),
		"roles", len(rec.Roles),
		"encrypted", opts.Encrypt,
	)
}

func deployCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "deploy",
		Short: "Derive component addresses and the role roster and write a deployment record",
		Run: func(cmd *cobra.Command, args []string) {
			deployRun(cmd, args, configFromCommand(cmd))
		},
	}
	cmd.Flags().StringVarP(&deployFlags.out, "out", "o", "", "output file (default from config deploymentFile)")
	cmd.Flags().StringVar(&deployFlags.network, "network", "", "network name (default from config)")
	cmd.Flags().StringVar(&deployFlags.admin, "admin", "", "admin account address")
	cmd.Flags().StringVar(&deployFlags.treasury, "treasury", "", "treasury account address (default admin)")
	cmd.Flags().StringArrayVar(&deployFlags.meterSigners, "meter-signer", nil, "allowed meter signer address (repeatable)")
	cmd.Flags().StringToStringVar(&deployFlags.params, "param", nil, "governance parameter override NAME=VALUE (repeatable)")
	cmd.Flags().BoolVar(&deployFlags.encrypt, "encrypt", false, "encrypt the record with SOPS using ENLEDGER_* key settings")
	cmd.Flags().BoolVar(&deployFlags.force, "force", false, "replace an existing record")
	_ = cmd.MarkFlagRequired("admin")
	return cmd
}
