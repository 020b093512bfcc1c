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

// Package crypto implements the EIP-712-style typed-data hashing the
// StreamChannel contract expects, signature recovery, and sequencer
// co-signing: a pure encode function feeding a separate verify step,
// built on go-ethereum's secp256k1 primitives. The byte layout below
// must match the on-chain contract's hashing bit-for-bit: any deviation
// here is a total-failure bug.
package crypto

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/streamchannel/sequencer/internal/domain"
)

// DomainName and DomainVersion are single-sourced here: any change
// invalidates every voucher signed under the old values.
const (
	DomainName    = "StreamChannel"
	DomainVersion = "1"
)

var (
	domainTypeHash = crypto.Keccak256(
		[]byte("EIP712Domain(string name,string version,uint256 chainId,address verifyingContract)"),
	)
	channelDataTypeHash = crypto.Keccak256(
		[]byte("ChannelData(bytes32 channelId,uint256 sequenceNumber,uint256 timestamp,address[] recipients,uint256[] amounts)"),
	)
	nameHash    = crypto.Keccak256([]byte(DomainName))
	versionHash = crypto.Keccak256([]byte(DomainVersion))
)

// DomainSeparator computes keccak(encode(EIP712Domain type hash, name hash,
// version hash, chainId, verifyingContract)).
func DomainSeparator(chainID uint64, verifyingContract common.Address) common.Hash {
	buf := make([]byte, 0, 5*32)
	buf = append(buf, domainTypeHash...)
	buf = append(buf, nameHash...)
	buf = append(buf, versionHash...)
	buf = append(buf, padUint64(chainID)...)
	buf = append(buf, padAddress(verifyingContract)...)
	return common.BytesToHash(crypto.Keccak256(buf))
}

// hashAddresses tightly-packs each address, left-padded to 32 bytes (the
// exact byte layout the StreamChannel contract's array hashing expects),
// then keccaks the result. An empty slice hashes to keccak256(nil).
func hashAddresses(addrs []common.Address) common.Hash {
	buf := make([]byte, 0, 32*len(addrs))
	for _, a := range addrs {
		buf = append(buf, padAddress(a)...)
	}
	return common.BytesToHash(crypto.Keccak256(buf))
}

func hashAmounts(amounts []*big.Int) common.Hash {
	buf := make([]byte, 0, 32*len(amounts))
	for _, a := range amounts {
		buf = append(buf, padBigInt(a)...)
	}
	return common.BytesToHash(crypto.Keccak256(buf))
}

// StructHash computes the ChannelData struct hash for a (channelId,
// sequenceNumber, timestamp, recipients, amounts) tuple.
func StructHash(channelID domain.ChannelID, sequenceNumber, timestamp uint64, recipients []domain.Recipient) common.Hash {
	addrs := make([]common.Address, len(recipients))
	amounts := make([]*big.Int, len(recipients))
	for i, r := range recipients {
		addrs[i] = r.Address
		amounts[i] = r.Amount
	}
	recipientsHash := hashAddresses(addrs)
	amountsHash := hashAmounts(amounts)

	buf := make([]byte, 0, 6*32)
	buf = append(buf, channelDataTypeHash...)
	buf = append(buf, channelID[:]...)
	buf = append(buf, padUint64(sequenceNumber)...)
	buf = append(buf, padUint64(timestamp)...)
	buf = append(buf, recipientsHash[:]...)
	buf = append(buf, amountsHash[:]...)
	return common.BytesToHash(crypto.Keccak256(buf))
}

// Digest computes the final EIP-712 digest: keccak("\x19\x01" ||
// domainSeparator || structHash). This is the sole object that is ever
// signed or recovered.
func Digest(chainID uint64, verifyingContract common.Address, channelID domain.ChannelID, sequenceNumber, timestamp uint64, recipients []domain.Recipient) common.Hash {
	domainSeparator := DomainSeparator(chainID, verifyingContract)
	structHash := StructHash(channelID, sequenceNumber, timestamp, recipients)

	buf := make([]byte, 0, 2+32+32)
	buf = append(buf, 0x19, 0x01)
	buf = append(buf, domainSeparator[:]...)
	buf = append(buf, structHash[:]...)
	return common.BytesToHash(crypto.Keccak256(buf))
}

func padAddress(a common.Address) []byte {
	buf := make([]byte, 32)
	copy(buf[12:], a[:])
	return buf
}

func padUint64(v uint64) []byte {
	return padBigInt(new(big.Int).SetUint64(v))
}

func padBigInt(v *big.Int) []byte {
	buf := make([]byte, 32)
	v.FillBytes(buf)
	return buf
}
