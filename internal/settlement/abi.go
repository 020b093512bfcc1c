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

// Package settlement drives on-chain closure of channels through the
// StreamChannel contract: the identity check at boot and the finalise /
// publish-intermediate-state calls.
package settlement

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// streamChannelABI names only the entry points this client calls;
// a hand-written subset of the full contract ABI is enough since this
// package never calls anything else on it.
const streamChannelABI = `[
	{"type":"function","name":"sequencer","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address"}]},
	{"type":"function","name":"finalCloseBySequencer","stateMutability":"nonpayable","inputs":[
		{"name":"channelId","type":"bytes32"},
		{"name":"sequenceNumber","type":"uint256"},
		{"name":"timestamp","type":"uint256"},
		{"name":"recipients","type":"address[]"},
		{"name":"amounts","type":"uint256[]"},
		{"name":"userSignature","type":"bytes"}
	],"outputs":[]},
	{"type":"function","name":"publishIntermediateChannelState","stateMutability":"nonpayable","inputs":[
		{"name":"channelId","type":"bytes32"},
		{"name":"sequenceNumber","type":"uint256"},
		{"name":"timestamp","type":"uint256"},
		{"name":"recipients","type":"address[]"},
		{"name":"amounts","type":"uint256[]"},
		{"name":"userSignature","type":"bytes"},
		{"name":"sequencerSignature","type":"bytes"}
	],"outputs":[]},
	{"type":"function","name":"getUserChannelLength","stateMutability":"view","inputs":[
		{"name":"owner","type":"address"}
	],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"userChannels","stateMutability":"view","inputs":[
		{"name":"owner","type":"address"},
		{"name":"index","type":"uint256"}
	],"outputs":[{"name":"","type":"bytes32"}]}
]`

// parsedABI is computed once at package init; every Client shares it rather
// than re-parsing the JSON on each call.
var parsedABI = mustParseABI()

func mustParseABI() abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(streamChannelABI))
	if err != nil {
		panic("settlement: invalid embedded ABI: " + err.Error())
	}
	return parsed
}
