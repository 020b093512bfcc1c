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

// Package store persists channel state to Postgres. Every row mirrors the
// in-memory domain.Channel exactly; the table is a durability log that the
// state manager replays on boot, not a cache with its own invalidation
// rules.
package store

import migrate "github.com/rubenv/sql-migrate"

// migrations is the ordered set of schema changes applied by Open. New
// migrations are appended, never edited, once shipped.
var migrations = &migrate.MemoryMigrationSource{
	Migrations: []*migrate.Migration{
		{
			Id: "0001_channels",
			Up: []string{
				`CREATE TABLE IF NOT EXISTS channels (
					id                   BYTEA PRIMARY KEY,
					owner                BYTEA NOT NULL,
					balance              NUMERIC(78,0) NOT NULL,
					expiry               BIGINT NOT NULL,
					sequence_number      BIGINT NOT NULL,
					user_signature       BYTEA NOT NULL,
					sequencer_signature  BYTEA NOT NULL,
					signature_timestamp  BIGINT NOT NULL,
					settlement_tx_hash   TEXT,
					finalized_at         BIGINT,
					updated_at           TIMESTAMPTZ NOT NULL DEFAULT now()
				)`,
				`CREATE INDEX IF NOT EXISTS channels_owner_idx ON channels (owner)`,
				`CREATE TABLE IF NOT EXISTS channel_recipients (
					channel_id  BYTEA NOT NULL REFERENCES channels (id) ON DELETE CASCADE,
					position    INTEGER NOT NULL,
					address     BYTEA NOT NULL,
					amount      NUMERIC(78,0) NOT NULL,
					PRIMARY KEY (channel_id, position)
				)`,
			},
			Down: []string{
				`DROP TABLE IF EXISTS channel_recipients`,
				`DROP TABLE IF EXISTS channels`,
			},
		},
	},
}
