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

package config_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/streamchannel/sequencer/internal/config"
)

func TestLoadFailsWithoutRequiredVars(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("RPC_URL", "")
	t.Setenv("CHANNEL_MANAGER_ADDRESS", "")
	t.Setenv("SEQUENCER_PRIVATE_KEY", "")

	_, err := config.Load()
	require.Error(t, err)
}

func TestLoadSucceedsWithRequiredVars(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/sequencer")
	t.Setenv("RPC_URL", "http://localhost:8545")
	t.Setenv("CHANNEL_MANAGER_ADDRESS", "0x000000000000000000000000000000000000009a")
	t.Setenv("SEQUENCER_PRIVATE_KEY", "0xabc")
	t.Setenv("CHAIN_ID", "31337")

	cfg, err := config.Load()
	require.NoError(t, err)
	require.Equal(t, "8080", cfg.Port)
	require.Equal(t, uint64(31337), cfg.ChainID)
}
