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

package store

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/streamchannel/sequencer/internal/domain"
)

// These exercise the record<->domain conversion without touching Postgres;
// the Store methods themselves need a live database and are not exercised
// by this package's tests.
func TestChannelRecordRoundTrip(t *testing.T) {
	ch := &domain.Channel{
		ID:                 domain.ChannelID{0x01, 0x02},
		Owner:              common.HexToAddress("0x00000000000000000000000000000000000c0c"),
		Balance:            big.NewInt(500_000),
		Expiry:             1_900_000_000,
		SequenceNumber:     7,
		UserSignature:      []byte{1, 2, 3},
		SequencerSignature: []byte{4, 5, 6},
		SignatureTimestamp: 1_800_000_000,
	}

	rec := fromDomain(ch)
	require.False(t, rec.SettlementTxHash.Valid)
	require.False(t, rec.FinalizedAt.Valid)

	back, err := rec.toDomain()
	require.NoError(t, err)
	require.Equal(t, ch.ID, back.ID)
	require.Equal(t, ch.Owner, back.Owner)
	require.Equal(t, 0, ch.Balance.Cmp(back.Balance))
	require.Equal(t, ch.SequenceNumber, back.SequenceNumber)
}

func TestChannelRecordFinalizedRoundTrip(t *testing.T) {
	ch := &domain.Channel{
		ID:               domain.ChannelID{0x09},
		Owner:            common.HexToAddress("0x00000000000000000000000000000000000d0d"),
		Balance:          big.NewInt(0),
		SettlementTxHash: "0xdeadbeef",
		FinalizedAtUnix:  1_800_000_001,
	}

	rec := fromDomain(ch)
	require.True(t, rec.SettlementTxHash.Valid)
	require.Equal(t, "0xdeadbeef", rec.SettlementTxHash.String)

	back, err := rec.toDomain()
	require.NoError(t, err)
	require.Equal(t, "0xdeadbeef", back.SettlementTxHash)
	require.Equal(t, int64(1_800_000_001), back.FinalizedAtUnix)
}
