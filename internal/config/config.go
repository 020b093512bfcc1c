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

// Package config loads the sequencer's environment configuration through
// viper, splitting environment variables into a required set (the service
// cannot boot without them) and an optional set with sane defaults.
package config

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/viper"
)

// Config is the fully resolved, validated runtime configuration.
type Config struct {
	Port                  string
	DatabaseURL           string
	RPCURL                string
	ChannelManagerAddress common.Address
	SequencerPrivateKey   string

	// ChainID is 0 when CHAIN_ID is unset. Settlement then resolves the
	// chain id from the RPC node and holds it itself (settlement.Client.ChainID);
	// this field is not updated.
	ChainID uint64

	// PruneInterval, when non-zero, enables Manager.RunSweeper.
	// Unset by default: pruning is purely additive.
	PruneInterval string
}

// Load reads environment variables into a Config, failing fast if any
// required variable is missing or malformed.
func Load() (*Config, error) {
	v := viper.New()
	v.AutomaticEnv()
	v.SetDefault("PORT", "8080")

	required := []string{"DATABASE_URL", "RPC_URL", "CHANNEL_MANAGER_ADDRESS", "SEQUENCER_PRIVATE_KEY"}
	for _, key := range required {
		if v.GetString(key) == "" {
			return nil, fmt.Errorf("config: missing required environment variable %s", key)
		}
	}

	contractAddr := v.GetString("CHANNEL_MANAGER_ADDRESS")
	if !common.IsHexAddress(contractAddr) {
		return nil, fmt.Errorf("config: CHANNEL_MANAGER_ADDRESS is not a valid address: %s", contractAddr)
	}

	return &Config{
		Port:                  v.GetString("PORT"),
		DatabaseURL:           v.GetString("DATABASE_URL"),
		RPCURL:                v.GetString("RPC_URL"),
		ChannelManagerAddress: common.HexToAddress(contractAddr),
		SequencerPrivateKey:   v.GetString("SEQUENCER_PRIVATE_KEY"),
		ChainID:               v.GetUint64("CHAIN_ID"),
		PruneInterval:         v.GetString("PRUNE_INTERVAL"),
	}, nil
}
