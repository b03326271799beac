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
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/blinklabs-io/enledger/deployment"
	"github.com/blinklabs-io/enledger/internal/config"
	"github.com/blinklabs-io/enledger/internal/sops"
	"github.com/blinklabs-io/enledger/types"
)

var rolesFlags = struct {
	file string
}{}

func rolesFile(cfg *config.Config) string {
	if rolesFlags.file != "" {
		return rolesFlags.file
	}
	return cfg.DeploymentFile
}

// parseGrant reads COMPONENT ROLE ACCOUNT arguments
func parseGrant(args []string) (deployment.RoleGrant, error) {
	role, err := types.ParseRole(args[1])
	if err != nil {
		return deployment.RoleGrant{}, err
	}
	account, err := types.ParseAddress(args[2])
	if err != nil {
		return deployment.RoleGrant{}, fmt.Errorf("account: %w", err)
	}
	return deployment.RoleGrant{
		Component: args[0],
		Role:      role,
		Account:   account,
	}, nil
}

// updateRoster applies fn to the record at path and writes it back, keeping
// SOPS encryption if the file had it
func updateRoster(path string, fn func(*deployment.Record) error) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	rec, err := deployment.Load(path)
	if err != nil {
		return err
	}
	if err := fn(rec); err != nil {
		return err
	}
	opts := deployment.SaveOptions{Encrypt: sops.IsEncrypted(raw)}
	if opts.Encrypt {
		opts.Keys = sops.KeyConfigFromEnv()
	}
	return deployment.Save(path, rec, opts)
}

func rolesListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list [component]",
		Short: "Show the role roster",
		Args:  cobra.MaximumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			cfg := configFromCommand(cmd)
			rec, err := deployment.Load(rolesFile(cfg))
			if err != nil {
				slog.Error(err.Error())
				os.Exit(1)
			}
			components := deployment.Components
			if len(args) == 1 {
				if _, err := rec.Address(args[0]); err != nil {
					slog.Error(err.Error())
					os.Exit(1)
				}
				components = args[:1]
			}
			for _, component := range components {
				for _, grant := range rec.RolesFor(component) {
					fmt.Println(grant.String())
				}
			}
		},
	}
}

func rolesChangeCommand(use string, short string, apply func(*deployment.Record, deployment.RoleGrant) error) *cobra.Command {
	return &cobra.Command{
		Use:   use + " COMPONENT ROLE ACCOUNT",
		Short: short,
		Args:  cobra.ExactArgs(3),
		Run: func(cmd *cobra.Command, args []string) {
			cfg := configFromCommand(cmd)
			logger := commonRun()
			grant, err := parseGrant(args)
			if err != nil {
				slog.Error(err.Error())
				os.Exit(1)
			}
			path := rolesFile(cfg)
			err = updateRoster(path, func(rec *deployment.Record) error {
				return apply(rec, grant)
			})
			if err != nil {
				slog.Error(err.Error())
				os.Exit(1)
			}
			logger.Info(
				fmt.Sprintf("%s %s", use, grant),
				"file", path,
			)
		},
	}
}

func rolesCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "roles",
		Short: "Inspect and edit the role roster of a deployment record",
	}
	cmd.PersistentFlags().StringVarP(&rolesFlags.file, "file", "f", "", "deployment record (default from config deploymentFile)")
	cmd.AddCommand(rolesListCommand())
	cmd.AddCommand(rolesChangeCommand(
		"grant",
		"Add a role grant, applied when the node next starts",
		func(rec *deployment.Record, g deployment.RoleGrant) error {
			return rec.Grant(g.Component, g.Role, g.Account)
		},
	))
	cmd.AddCommand(rolesChangeCommand(
		"revoke",
		"Remove a role grant",
		func(rec *deployment.Record, g deployment.RoleGrant) error {
			return rec.Revoke(g.Component, g.Role, g.Account)
		},
	))
	return cmd
}
