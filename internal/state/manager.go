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
	"bytes"
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"

	"github.com/streamchannel/sequencer/internal/apperr"
	"github.com/streamchannel/sequencer/internal/crypto"
	"github.com/streamchannel/sequencer/internal/domain"
)

// timestampTolerance is the clock-skew/in-flight-signing allowance a
// voucher's timestamp is checked against.
const timestampTolerance = 15 * time.Minute

// Persister is the durability boundary State writes through before a
// mutation becomes visible to subsequent readers (implemented by
// internal/store.Store; narrowed to an interface so tests can fake it).
type Persister interface {
	Upsert(ctx context.Context, ch *domain.Channel) error
}

// Clock abstracts wall-clock time so tests can control "now" without
// sleeping or racing real time.
type Clock func() time.Time

// Manager is the authoritative in-memory channel map plus the settle/validate
// algorithm. All exported methods are safe for concurrent use.
type Manager struct {
	shards [shardCount]*shard

	store             Persister
	chainID           uint64
	verifyingContract common.Address
	sequencer         *crypto.SequencerAccount
	clock             Clock
	log               *logrus.Entry
}

// Config bundles the values Manager needs beyond the store handle.
type Config struct {
	ChainID           uint64
	VerifyingContract common.Address
	Sequencer         *crypto.SequencerAccount
	Clock             Clock // nil defaults to time.Now
}

// NewManager constructs an empty Manager. Call Bootstrap to seed it from the
// durable store on startup.
func NewManager(store Persister, cfg Config, log *logrus.Entry) *Manager {
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Manager{
		shards:            newShards(),
		store:             store,
		chainID:           cfg.ChainID,
		verifyingContract: cfg.VerifyingContract,
		sequencer:         cfg.Sequencer,
		clock:             clock,
		log:               log,
	}
}

// Bootstrap loads every channel from the store into memory. Called once at
// startup before the API begins serving traffic.
func (m *Manager) Bootstrap(channels map[domain.ChannelID]*domain.Channel) {
	for id, ch := range channels {
		sh := shardFor(&m.shards, id)
		sh.channels[id] = &channelEntry{channel: ch}
	}
	m.log.WithField("channels", len(channels)).Info("state: bootstrap complete")
}

// Seed inserts a fresh channel at sequenceNumber=0, empty recipients, no
// signatures stored yet. Fails AlreadyExists if id is already known.
// Persists before returning.
func (m *Manager) Seed(ctx context.Context, id domain.ChannelID, owner common.Address, balance *big.Int, expiry uint64) (*domain.Channel, error) {
	sh := shardFor(&m.shards, id)

	sh.mu.Lock()
	if _, exists := sh.channels[id]; exists {
		sh.mu.Unlock()
		return nil, apperr.New(apperr.AlreadyExists, "channel %s already seeded", id.Hex())
	}
	ch := &domain.Channel{
		ID:      id,
		Owner:   owner,
		Balance: new(big.Int).Set(balance),
		Expiry:  expiry,
	}
	entry := &channelEntry{channel: ch}
	sh.channels[id] = entry
	sh.mu.Unlock()

	entry.mu.Lock()
	defer entry.mu.Unlock()
	if err := m.store.Upsert(ctx, ch); err != nil {
		sh.mu.Lock()
		delete(sh.channels, id)
		sh.mu.Unlock()
		return nil, err
	}
	m.log.WithFields(logrus.Fields{"channel_id": id.Hex(), "owner": owner.Hex()}).Info("state: channel seeded")
	return ch.Clone(), nil
}

// Settle is the central voucher admission algorithm.
func (m *Manager) Settle(ctx context.Context, voucher domain.Voucher) (*domain.Channel, error) {
	sh := shardFor(&m.shards, voucher.ChannelID)

	sh.mu.RLock()
	entry, ok := sh.channels[voucher.ChannelID]
	sh.mu.RUnlock()
	if !ok {
		return nil, apperr.New(apperr.NotFound, "channel %s not found", voucher.ChannelID.Hex())
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	ch := entry.channel

	now := uint64(m.clock().Unix())

	// An exact re-submission of the already-admitted state is not a stale
	// sequence, it's a retry.
	if voucher.SequenceNumber == ch.SequenceNumber && voucherMatchesAdmitted(ch, voucher) {
		return ch.Clone(), nil
	}

	if err := m.checkAdmission(ch, voucher, now); err != nil {
		return nil, err
	}

	if err := crypto.Verify(m.chainID, m.verifyingContract, ch, voucher.SequenceNumber, voucher.Timestamp, voucher.Recipients, voucher.UserSignature); err != nil {
		return nil, err
	}

	digest := crypto.Digest(m.chainID, m.verifyingContract, ch.ID, voucher.SequenceNumber, voucher.Timestamp, voucher.Recipients)
	sequencerSig, err := m.sequencer.Sign(digest)
	if err != nil {
		return nil, apperr.Wrap(apperr.BadSignature, err, "cosign failed")
	}

	next := ch.Clone()
	next.SequenceNumber = voucher.SequenceNumber
	next.Recipients = cloneRecipients(voucher.Recipients)
	next.UserSignature = append([]byte(nil), voucher.UserSignature...)
	next.SequencerSignature = sequencerSig
	next.SignatureTimestamp = voucher.Timestamp

	if err := m.store.Upsert(ctx, next); err != nil {
		return nil, err
	}

	entry.channel = next
	m.log.WithFields(logrus.Fields{
		"channel_id":      ch.ID.Hex(),
		"sequence_number": next.SequenceNumber,
	}).Info("state: settle admitted")
	return next.Clone(), nil
}

// Validate runs steps 3-9 without mutation: a pure read used to preview
// whether a voucher would be admitted.
func (m *Manager) Validate(ctx context.Context, voucher domain.Voucher) (*domain.Channel, error) {
	sh := shardFor(&m.shards, voucher.ChannelID)

	sh.mu.RLock()
	entry, ok := sh.channels[voucher.ChannelID]
	sh.mu.RUnlock()
	if !ok {
		return nil, apperr.New(apperr.NotFound, "channel %s not found", voucher.ChannelID.Hex())
	}

	entry.mu.Lock()
	ch := entry.channel
	entry.mu.Unlock()

	now := uint64(m.clock().Unix())
	if voucher.SequenceNumber == ch.SequenceNumber && voucherMatchesAdmitted(ch, voucher) {
		return ch.Clone(), nil
	}
	if err := m.checkAdmission(ch, voucher, now); err != nil {
		return nil, err
	}
	if err := crypto.Verify(m.chainID, m.verifyingContract, ch, voucher.SequenceNumber, voucher.Timestamp, voucher.Recipients, voucher.UserSignature); err != nil {
		return nil, err
	}
	return ch.Clone(), nil
}

// Get returns a snapshot of the current channel.
func (m *Manager) Get(id domain.ChannelID) (*domain.Channel, error) {
	sh := shardFor(&m.shards, id)
	sh.mu.RLock()
	entry, ok := sh.channels[id]
	sh.mu.RUnlock()
	if !ok {
		return nil, apperr.New(apperr.NotFound, "channel %s not found", id.Hex())
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	return entry.channel.Clone(), nil
}

// ListByOwner returns every channel owned by addr currently held in memory.
func (m *Manager) ListByOwner(owner common.Address) []domain.ChannelID {
	var ids []domain.ChannelID
	for _, sh := range m.shards {
		sh.mu.RLock()
		for id, entry := range sh.channels {
			entry.mu.Lock()
			if entry.channel.Owner == owner {
				ids = append(ids, id)
			}
			entry.mu.Unlock()
		}
		sh.mu.RUnlock()
	}
	return ids
}

// Count returns the number of channels currently held in memory, across all
// shards. Used to drive the channels-held gauge without tracking a separate
// counter that could drift from the map itself.
func (m *Manager) Count() int {
	n := 0
	for _, sh := range m.shards {
		sh.mu.RLock()
		n += len(sh.channels)
		sh.mu.RUnlock()
	}
	return n
}

// MarkFinalized records a settlement outcome against the in-memory copy and
// persists it, so readers observe the terminal state immediately and it
// survives a restart without waiting for the next bootstrap.
func (m *Manager) MarkFinalized(ctx context.Context, id domain.ChannelID, txHash string, finalizedAtUnix int64) error {
	sh := shardFor(&m.shards, id)
	sh.mu.RLock()
	entry, ok := sh.channels[id]
	sh.mu.RUnlock()
	if !ok {
		return apperr.New(apperr.NotFound, "channel %s not found", id.Hex())
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	next := entry.channel.Clone()
	next.SettlementTxHash = txHash
	next.FinalizedAtUnix = finalizedAtUnix
	if err := m.store.Upsert(ctx, next); err != nil {
		return err
	}
	entry.channel = next
	return nil
}

func (m *Manager) checkAdmission(ch *domain.Channel, voucher domain.Voucher, now uint64) error {
	if now > ch.Expiry {
		return apperr.New(apperr.Expired, "channel %s expired at %d", ch.ID.Hex(), ch.Expiry)
	}
	if voucher.Timestamp > ch.Expiry {
		return apperr.New(apperr.BadTimestamp, "voucher timestamp %d after channel expiry %d", voucher.Timestamp, ch.Expiry)
	}
	tolerance := uint64(timestampTolerance.Seconds())
	if now > tolerance && voucher.Timestamp < now-tolerance {
		return apperr.New(apperr.BadTimestamp, "voucher timestamp %d too far in the past", voucher.Timestamp)
	}
	if voucher.SequenceNumber <= ch.SequenceNumber {
		return apperr.New(apperr.StaleSequence, "sequence %d not greater than current %d", voucher.SequenceNumber, ch.SequenceNumber)
	}
	for _, r := range voucher.Recipients {
		if existing, ok := ch.RecipientAmount(r.Address); ok && r.Amount.Cmp(existing) < 0 {
			return apperr.New(apperr.AmountRegression, "recipient %s cumulative decreased", r.Address.Hex())
		}
	}
	total := new(big.Int)
	for _, r := range voucher.Recipients {
		total.Add(total, r.Amount)
	}
	if ch.Balance != nil && total.Cmp(ch.Balance) > 0 {
		return apperr.New(apperr.Insolvent, "total owed %s exceeds deposit %s", total.String(), ch.Balance.String())
	}
	return nil
}

func voucherMatchesAdmitted(ch *domain.Channel, voucher domain.Voucher) bool {
	if voucher.Timestamp != ch.SignatureTimestamp {
		return false
	}
	if !bytes.Equal(voucher.UserSignature, ch.UserSignature) {
		return false
	}
	if len(voucher.Recipients) != len(ch.Recipients) {
		return false
	}
	for i, r := range voucher.Recipients {
		if r.Address != ch.Recipients[i].Address || r.Amount.Cmp(ch.Recipients[i].Amount) != 0 {
			return false
		}
	}
	return true
}

func cloneRecipients(rs []domain.Recipient) []domain.Recipient {
	out := make([]domain.Recipient, len(rs))
	for i, r := range rs {
		out[i] = domain.Recipient{Address: r.Address, Amount: new(big.Int).Set(r.Amount)}
	}
	return out
}
