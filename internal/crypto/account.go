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

package crypto

import (
	"crypto/ecdsa"

	"github.com/ethereum/go-ethereum/common"
	gethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// SequencerAccount holds the sequencer's single secp256k1 signing key: one
// shared, read-only-after-boot resource, handed by reference to State for
// voucher co-signing and to Settlement for transaction signing. Narrowed down
// to the single key this service ever needs, since the sequencer signs with
// exactly one identity rather than holding a wallet of many.
type SequencerAccount struct {
	key     *ecdsa.PrivateKey
	address common.Address
}

// NewSequencerAccount wraps an already-parsed private key.
func NewSequencerAccount(key *ecdsa.PrivateKey) *SequencerAccount {
	return &SequencerAccount{key: key, address: gethcrypto.PubkeyToAddress(key.PublicKey)}
}

// SequencerAccountFromHex parses a 0x-prefixed hex private key, the format
// SEQUENCER_PRIVATE_KEY is configured in.
func SequencerAccountFromHex(hexKey string) (*SequencerAccount, error) {
	key, err := gethcrypto.HexToECDSA(trimHex(hexKey))
	if err != nil {
		return nil, err
	}
	return NewSequencerAccount(key), nil
}

// Address returns the wallet address derived from the signing key.
func (a *SequencerAccount) Address() common.Address { return a.address }

// Sign co-signs digest with the sequencer's key (see Cosign).
func (a *SequencerAccount) Sign(digest common.Hash) ([]byte, error) {
	return Cosign(a.key, digest)
}

// PrivateKey exposes the raw key for Settlement's transaction signing,
// which needs it to authorise on-chain calls, not just off-chain vouchers.
func (a *SequencerAccount) PrivateKey() *ecdsa.PrivateKey { return a.key }

func trimHex(s string) string {
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		return s[2:]
	}
	return s
}
