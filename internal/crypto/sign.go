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
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	gethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/streamchannel/sequencer/internal/apperr"
	"github.com/streamchannel/sequencer/internal/domain"
)

// SignatureLength is the wire length of an r||s||v secp256k1 signature.
const SignatureLength = 65

// Verify recovers the signer of digest(channel, voucher) and reports
// whether it equals channel.Owner. It never mutates channel or voucher.
func Verify(chainID uint64, verifyingContract common.Address, channel *domain.Channel, sequenceNumber, timestamp uint64, recipients []domain.Recipient, sig []byte) error {
	digest := Digest(chainID, verifyingContract, channel.ID, sequenceNumber, timestamp, recipients)
	recovered, err := RecoverAddress(digest, sig)
	if err != nil {
		return apperr.Wrap(apperr.BadSignature, err, "signature recovery failed")
	}
	if recovered != channel.Owner {
		return apperr.New(apperr.BadSignature, "recovered %s, expected owner %s", recovered.Hex(), channel.Owner.Hex())
	}
	return nil
}

// RecoverAddress recovers the signer address from a 65-byte r||s||v
// signature over digest, exactly as SigToPub/PubkeyToAddress resolve an
// ECDSA recovery on secp256k1.
func RecoverAddress(digest common.Hash, sig []byte) (common.Address, error) {
	if len(sig) != SignatureLength {
		return common.Address{}, fmt.Errorf("invalid signature length: got %d, want %d", len(sig), SignatureLength)
	}
	// go-ethereum's Ecrecover/SigToPub expect v in {0,1}; callers following
	// the usual 27/28 convention are normalised here so both wire conventions
	// are accepted. Any other v value (such as an EIP-155 style one) is not
	// normalised and fails recovery.
	normalized := append([]byte(nil), sig...)
	if normalized[64] >= 27 {
		normalized[64] -= 27
	}
	pub, err := gethcrypto.SigToPub(digest.Bytes(), normalized)
	if err != nil {
		return common.Address{}, err
	}
	return gethcrypto.PubkeyToAddress(*pub), nil
}

// Cosign signs digest with the sequencer's private key, producing the
// co-signature that makes a voucher dually-signed and on-chain-redeemable.
// Deterministic per (digest, key): go-ethereum's secp256k1 Sign already
// uses RFC6979 nonce derivation, so repeated calls with the same inputs
// reproduce the same signature.
func Cosign(key *ecdsa.PrivateKey, digest common.Hash) ([]byte, error) {
	sig, err := gethcrypto.Sign(digest.Bytes(), key)
	if err != nil {
		return nil, err
	}
	// go-ethereum returns v in {0,1}; the on-chain ecrecover convention
	// expects {27,28}, matching what payer SDKs (out of scope, but the wire
	// contract we must honour) produce.
	sig[64] += 27
	return sig, nil
}
