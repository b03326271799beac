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
	"context"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/blinklabs-io/enledger/internal/devnet"
	"github.com/blinklabs-io/enledger/keystore"
)

var simulateFlags = struct {
	scenario string
	month    uint32
	dataDir  string
	network  string
	meterKey string
}{}

func simulateRun() {
	logger := commonRun()
	scenario := devnet.DefaultScenario()
	if simulateFlags.scenario != "" {
		var err error
		if scenario, err = devnet.LoadScenario(simulateFlags.scenario); err != nil {
			slog.Error(err.Error())
			os.Exit(1)
		}
	}
	if simulateFlags.month != 0 {
		scenario.Month = simulateFlags.month
	}
	if simulateFlags.network != "" {
		scenario.Network = simulateFlags.network
	}
	opts := []devnet.SimulatorOptionFunc{
		devnet.WithScenario(scenario),
		devnet.WithLogger(logger),
		devnet.WithDatabasePath(simulateFlags.dataDir),
	}
	if simulateFlags.meterKey != "" {
		key, err := keystore.LoadKeyFile(simulateFlags.meterKey)
		if err != nil {
			slog.Error(err.Error())
			os.Exit(1)
		}
		opts = append(opts, devnet.WithMeterKey(key))
	}
	report, err := devnet.Simulate(context.Background(), opts...)
	if err != nil {
		slog.Error(err.Error())
		os.Exit(1)
	}
	if err := report.Print(os.Stdout); err != nil {
		slog.Error(err.Error())
		os.Exit(1)
	}
}

func simulateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Play a full energy month against an in-memory node and print the outcome",
		Run: func(*cobra.Command, []string) {
			simulateRun()
		},
	}
	cmd.Flags().StringVar(&simulateFlags.scenario, "scenario", "", "scenario YAML file")
	cmd.Flags().Uint32Var(&simulateFlags.month, "month", 0, "month to simulate as YYYYMM")
	cmd.Flags().StringVar(&simulateFlags.network, "network", "", "network name for the simulated deployment")
	cmd.Flags().StringVar(&simulateFlags.dataDir, "data-dir", "", "journal blocks to this directory instead of memory")
	cmd.Flags().StringVar(&simulateFlags.meterKey, "meter-key", "", "sign readings with this meter key file instead of a throwaway key")
	return cmd
}
