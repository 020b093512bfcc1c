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
	"encoding/hex"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/streamchannel/sequencer/internal/apperr"
	"github.com/streamchannel/sequencer/internal/domain"
)

// The parse helpers below give every value that crosses the wire as a
// string a single conversion point into the typed value the rest of the
// service operates on.

// ParseAddress parses a 20-byte hex address, with or without 0x prefix.
func ParseAddress(s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, apperr.New(apperr.MalformedRequest, "invalid address: %s", s)
	}
	return common.HexToAddress(s), nil
}

// ParseChannelID parses a 32-byte hex channel id.
func ParseChannelID(s string) (domain.ChannelID, error) {
	id, err := domain.ChannelIDFromHex(s)
	if err != nil {
		return domain.ChannelID{}, apperr.Wrap(apperr.MalformedRequest, err, "invalid channel id: %s", s)
	}
	return id, nil
}

// ParseAmount parses a decimal integer string into a non-negative *big.Int.
func ParseAmount(s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok || v.Sign() < 0 {
		return nil, apperr.New(apperr.MalformedRequest, "invalid uint256: %s", s)
	}
	return v, nil
}

// ParseSignature decodes a 0x-prefixed or bare hex signature string into
// its raw bytes, requiring the canonical 65-byte r||s||v length.
func ParseSignature(s string) ([]byte, error) {
	trimmed := strings.TrimPrefix(s, "0x")
	b, err := hex.DecodeString(trimmed)
	if err != nil {
		return nil, apperr.Wrap(apperr.MalformedRequest, err, "invalid signature hex")
	}
	if len(b) != SignatureLength {
		return nil, apperr.New(apperr.MalformedRequest, "invalid signature length: got %d, want %d", len(b), SignatureLength)
	}
	return b, nil
}

// FormatSignature renders raw signature bytes as a 0x-prefixed hex string.
func FormatSignature(sig []byte) string {
	return "0x" + hex.EncodeToString(sig)
}

// FormatAmount renders a *big.Int as a decimal string, defaulting nil to "0".
func FormatAmount(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
