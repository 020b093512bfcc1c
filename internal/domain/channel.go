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

// Package domain holds the sequencer's core value types: the Channel
// record, its Recipients, and the Voucher a payer submits to move money
// through it. These types are shared by crypto, store, state, settlement
// and api so none of those packages needs to import another's internal
// representation.
package domain

import (
	"encoding/hex"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// ChannelID is the 32-byte identifier the on-chain contract derives as
// keccak(owner || expiryTime || amount || domainSeparator). The sequencer
// never recomputes it, only indexes by it.
type ChannelID [32]byte

func (id ChannelID) Hex() string {
	return "0x" + common.Bytes2Hex(id[:])
}

// ChannelIDFromHex parses a 0x-prefixed or bare 32-byte hex string.
func ChannelIDFromHex(s string) (ChannelID, error) {
	b, err := decodeFixedHex(s, 32)
	if err != nil {
		return ChannelID{}, err
	}
	var id ChannelID
	copy(id[:], b)
	return id, nil
}

// Recipient is one (address, cumulative amount) pair. Cumulative amounts
// are monotone non-decreasing across successive admitted states for a
// given recipient within a channel.
type Recipient struct {
	Address common.Address
	Amount  *big.Int
}

// Channel is the authoritative record for one payment channel: the unit of
// state the sequencer admits vouchers into.
type Channel struct {
	ID       ChannelID
	Owner    common.Address
	Balance  *big.Int // original deposit; the solvency ceiling, never mutated
	Expiry   uint64   // unix seconds

	SequenceNumber     uint64
	Recipients         []Recipient // ordered, index is the on-chain array position
	UserSignature      []byte      // 65 bytes, r||s||v
	SequencerSignature []byte
	SignatureTimestamp uint64

	// Records the outcome of Settlement.Finalize so a restarted sequencer
	// knows this channel is terminal. Zero value means "not yet finalised".
	SettlementTxHash string
	FinalizedAtUnix  int64
}

// Clone returns a deep copy safe to hand to a reader without it aliasing
// the authoritative copy held by State.
func (c *Channel) Clone() *Channel {
	cp := *c
	cp.Balance = new(big.Int).Set(c.Balance)
	cp.Recipients = make([]Recipient, len(c.Recipients))
	for i, r := range c.Recipients {
		cp.Recipients[i] = Recipient{Address: r.Address, Amount: new(big.Int).Set(r.Amount)}
	}
	cp.UserSignature = append([]byte(nil), c.UserSignature...)
	cp.SequencerSignature = append([]byte(nil), c.SequencerSignature...)
	return &cp
}

// TotalOwed sums the cumulative amounts across all recipients.
func (c *Channel) TotalOwed() *big.Int {
	total := new(big.Int)
	for _, r := range c.Recipients {
		total.Add(total, r.Amount)
	}
	return total
}

// RecipientAmount returns the cumulative amount on file for addr and
// whether that recipient exists yet.
func (c *Channel) RecipientAmount(addr common.Address) (*big.Int, bool) {
	for _, r := range c.Recipients {
		if r.Address == addr {
			return r.Amount, true
		}
	}
	return nil, false
}

// Voucher is the transient payer-signed input to Validate/Settle. Amounts
// are cumulative, not deltas: recipients[i] is owed amounts[i] in total
// across the channel's lifetime.
type Voucher struct {
	ChannelID      ChannelID
	SequenceNumber uint64
	Timestamp      uint64
	Recipients     []Recipient
	UserSignature  []byte
	Purpose        string
}

func decodeFixedHex(s string, n int) ([]byte, error) {
	s = trimHexPrefix(s)
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, err
	}
	if len(b) != n {
		return nil, fmt.Errorf("expected %d bytes, got %d", n, len(b))
	}
	return b, nil
}

func trimHexPrefix(s string) string {
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		return s[2:]
	}
	return s
}
