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

package state

import (
	"context"
	"time"
)

// Sweep drops channels that are both expired and already finalised on-chain
// from memory, leaving the durable record in Store untouched. This pruning
// is optional: after a channel's on-chain acknowledgement, a sequencer may
// drop it from its working set, but nothing requires it; callers only run
// this if PRUNE_INTERVAL is configured.
func (m *Manager) Sweep(ctx context.Context) int {
	now := uint64(m.clock().Unix())
	pruned := 0
	for _, sh := range m.shards {
		sh.mu.Lock()
		for id, entry := range sh.channels {
			entry.mu.Lock()
			ch := entry.channel
			if ch.FinalizedAtUnix != 0 && now > ch.Expiry {
				delete(sh.channels, id)
				pruned++
			}
			entry.mu.Unlock()
		}
		sh.mu.Unlock()
	}
	return pruned
}

// RunSweeper blocks, running Sweep on interval until ctx is cancelled.
func (m *Manager) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n := m.Sweep(ctx)
			if n > 0 {
				m.log.WithField("pruned", n).Info("state: sweep pruned finalised channels")
			}
		}
	}
}
