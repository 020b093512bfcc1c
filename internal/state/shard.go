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

// Package state is the authoritative in-memory channel map and the
// concurrency core of the sequencer: reads by different channels proceed in
// parallel, writes to the same channel are serialised, and a reader never
// observes an intermediate update.
package state

import (
	"hash/fnv"
	"sync"

	"github.com/streamchannel/sequencer/internal/domain"
)

// shardCount picks a modest fan-out: enough to de-contend a high-frequency
// micropayment workload without holding thousands of idle mutexes for the
// typical deployment's channel count.
const shardCount = 64

// channelEntry pairs a channel with its own mutex so the settle path can
// serialise mutation without blocking readers of other channels.
type channelEntry struct {
	mu      sync.Mutex
	channel *domain.Channel
}

type shard struct {
	mu       sync.RWMutex
	channels map[domain.ChannelID]*channelEntry
}

func newShards() [shardCount]*shard {
	var shards [shardCount]*shard
	for i := range shards {
		shards[i] = &shard{channels: make(map[domain.ChannelID]*channelEntry)}
	}
	return shards
}

func shardFor(shards *[shardCount]*shard, id domain.ChannelID) *shard {
	h := fnv.New32a()
	h.Write(id[:])
	return shards[h.Sum32()%shardCount]
}
