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

package settlement

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
)

func TestStreamChannelABIParses(t *testing.T) {
	parsed := mustParseABI()
	require.Contains(t, parsed.Methods, "sequencer")
	require.Contains(t, parsed.Methods, "finalCloseBySequencer")
	require.Contains(t, parsed.Methods, "publishIntermediateChannelState")
	require.Contains(t, parsed.Methods, "getUserChannelLength")
	require.Contains(t, parsed.Methods, "userChannels")
}

func TestPackFinalCloseBySequencer(t *testing.T) {
	parsed := mustParseABI()
	var id [32]byte
	id[0] = 0x01
	recipient := common.HexToAddress("0x000000000000000000000000000000000000b0")

	data, err := parsed.Pack("finalCloseBySequencer",
		id, big.NewInt(2), big.NewInt(12345),
		[]common.Address{recipient}, []*big.Int{big.NewInt(25_000)}, []byte{1, 2, 3})
	require.NoError(t, err)
	require.NotEmpty(t, data)

	// The 4-byte method selector must be the keccak256 prefix of the
	// canonical function signature.
	require.Equal(t, parsed.Methods["finalCloseBySequencer"].ID, data[:4])
}

func TestSplitRecipients(t *testing.T) {
	addrs, amounts := splitRecipients(nil)
	require.Empty(t, addrs)
	require.Empty(t, amounts)
}
