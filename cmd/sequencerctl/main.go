// Copyright 2024 PolyCrypt GmbH
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Command sequencerctl is the operator CLI for a running sequencer: thin
// HTTP clients against its own API, replacing the ad hoc
// check_balance.py/list_open_channels.py/close_all_channels.py scripts and
// demo/cli.py a Python-based operator would otherwise reach for.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix("SEQUENCERCTL")
	v.AutomaticEnv()
	v.SetDefault("addr", "http://localhost:8080")

	root := &cobra.Command{
		Use:   "sequencerctl",
		Short: "Operate a running StreamChannel sequencer",
	}
	root.PersistentFlags().String("addr", v.GetString("addr"), "base URL of the sequencer API")
	_ = v.BindPFlag("addr", root.PersistentFlags().Lookup("addr"))

	root.AddCommand(
		newSeedCmd(v),
		newGetCmd(v),
		newListByOwnerCmd(v),
		newValidateCmd(v),
		newSettleCmd(v),
		newFinalizeCmd(v),
	)
	return root
}
