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

package state_test

import (
	"context"
	"crypto/ecdsa"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	gethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/streamchannel/sequencer/internal/apperr"
	"github.com/streamchannel/sequencer/internal/crypto"
	"github.com/streamchannel/sequencer/internal/domain"
	"github.com/streamchannel/sequencer/internal/state"
)

// fakeStore is an in-memory Persister stand-in for internal/store.Store,
// used so these tests exercise exactly the Manager algorithm and nothing
// about Postgres.
type fakeStore struct {
	mu   sync.Mutex
	rows map[domain.ChannelID]*domain.Channel
}

func newFakeStore() *fakeStore {
	return &fakeStore{rows: make(map[domain.ChannelID]*domain.Channel)}
}

func (f *fakeStore) Upsert(_ context.Context, ch *domain.Channel) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows[ch.ID] = ch.Clone()
	return nil
}

const testChainID = 31337

func newTestManager(t *testing.T) (*state.Manager, *crypto.SequencerAccount, common.Address) {
	t.Helper()
	sequencerKey, err := gethcrypto.GenerateKey()
	require.NoError(t, err)
	sequencer := crypto.NewSequencerAccount(sequencerKey)
	verifyingContract := common.HexToAddress("0x0000000000000000000000000000000000009A")

	log := logrus.NewEntry(logrus.New())
	mgr := state.NewManager(newFakeStore(), state.Config{
		ChainID:           testChainID,
		VerifyingContract: verifyingContract,
		Sequencer:         sequencer,
	}, log)
	return mgr, sequencer, verifyingContract
}

func sign(t *testing.T, ownerKey *ecdsa.PrivateKey, verifyingContract common.Address, channelID domain.ChannelID, seq, ts uint64, recipients []domain.Recipient) []byte {
	t.Helper()
	digest := crypto.Digest(testChainID, verifyingContract, channelID, seq, ts, recipients)
	sig, err := crypto.Cosign(ownerKey, digest)
	require.NoError(t, err)
	return sig
}

func TestScenarioA_SingleVoucherHappyPath(t *testing.T) {
	mgr, _, verifyingContract := newTestManager(t)
	ownerKey, err := gethcrypto.GenerateKey()
	require.NoError(t, err)
	owner := gethcrypto.PubkeyToAddress(ownerKey.PublicKey)

	channelID := domain.ChannelID{0x01}
	now := uint64(time.Now().Unix())
	ctx := context.Background()

	_, err = mgr.Seed(ctx, channelID, owner, big.NewInt(1_000_000), now+3600)
	require.NoError(t, err)

	recipient := common.HexToAddress("0x000000000000000000000000000000000000b0")
	recipients := []domain.Recipient{{Address: recipient, Amount: big.NewInt(10_000)}}
	sig := sign(t, ownerKey, verifyingContract, channelID, 1, now, recipients)

	ch, err := mgr.Settle(ctx, domain.Voucher{
		ChannelID:      channelID,
		SequenceNumber: 1,
		Timestamp:      now,
		Recipients:     recipients,
		UserSignature:  sig,
	})
	require.NoError(t, err)
	require.Equal(t, uint64(1), ch.SequenceNumber)
	require.NotEmpty(t, ch.SequencerSignature)
	require.Len(t, ch.Recipients, 1)
	require.Equal(t, 0, ch.Recipients[0].Amount.Cmp(big.NewInt(10_000)))
}

func seedAndAdvanceToB(t *testing.T) (*state.Manager, *ecdsa.PrivateKey, common.Address, domain.ChannelID, uint64) {
	t.Helper()
	mgr, _, verifyingContract := newTestManager(t)
	ownerKey, err := gethcrypto.GenerateKey()
	require.NoError(t, err)
	owner := gethcrypto.PubkeyToAddress(ownerKey.PublicKey)
	channelID := domain.ChannelID{0x02}
	now := uint64(time.Now().Unix())
	ctx := context.Background()

	_, err = mgr.Seed(ctx, channelID, owner, big.NewInt(1_000_000), now+3600)
	require.NoError(t, err)

	recipient := common.HexToAddress("0x000000000000000000000000000000000000b0")

	for i, amount := range []int64{10_000, 25_000} {
		recipients := []domain.Recipient{{Address: recipient, Amount: big.NewInt(amount)}}
		sig := sign(t, ownerKey, verifyingContract, channelID, uint64(i+1), now, recipients)
		_, err := mgr.Settle(ctx, domain.Voucher{
			ChannelID: channelID, SequenceNumber: uint64(i + 1), Timestamp: now,
			Recipients: recipients, UserSignature: sig,
		})
		require.NoError(t, err)
	}
	return mgr, ownerKey, verifyingContract, channelID, now
}

func TestScenarioC_RegressionRejected(t *testing.T) {
	mgr, ownerKey, verifyingContract, channelID, now := seedAndAdvanceToB(t)
	recipient := common.HexToAddress("0x000000000000000000000000000000000000b0")
	recipients := []domain.Recipient{{Address: recipient, Amount: big.NewInt(20_000)}}
	sig := sign(t, ownerKey, verifyingContract, channelID, 3, now, recipients)

	_, err := mgr.Settle(context.Background(), domain.Voucher{
		ChannelID: channelID, SequenceNumber: 3, Timestamp: now, Recipients: recipients, UserSignature: sig,
	})
	ae, ok := apperr.As(err)
	require.True(t, ok)
	require.Equal(t, apperr.AmountRegression, ae.Kind)

	ch, err := mgr.Get(channelID)
	require.NoError(t, err)
	require.Equal(t, uint64(2), ch.SequenceNumber)
}

func TestScenarioD_InsolventRejected(t *testing.T) {
	mgr, ownerKey, verifyingContract, channelID, now := seedAndAdvanceToB(t)
	recipient := common.HexToAddress("0x000000000000000000000000000000000000b0")
	recipients := []domain.Recipient{{Address: recipient, Amount: big.NewInt(2_000_000)}}
	sig := sign(t, ownerKey, verifyingContract, channelID, 3, now, recipients)

	_, err := mgr.Settle(context.Background(), domain.Voucher{
		ChannelID: channelID, SequenceNumber: 3, Timestamp: now, Recipients: recipients, UserSignature: sig,
	})
	ae, ok := apperr.As(err)
	require.True(t, ok)
	require.Equal(t, apperr.Insolvent, ae.Kind)
}

func TestScenarioE_StaleSequence(t *testing.T) {
	mgr, ownerKey, verifyingContract, channelID, now := seedAndAdvanceToB(t)
	recipient := common.HexToAddress("0x000000000000000000000000000000000000b0")
	recipients := []domain.Recipient{{Address: recipient, Amount: big.NewInt(30_000)}}
	sig := sign(t, ownerKey, verifyingContract, channelID, 2, now, recipients)

	_, err := mgr.Settle(context.Background(), domain.Voucher{
		ChannelID: channelID, SequenceNumber: 2, Timestamp: now, Recipients: recipients, UserSignature: sig,
	})
	ae, ok := apperr.As(err)
	require.True(t, ok)
	require.Equal(t, apperr.StaleSequence, ae.Kind)
}

// Scenario F: concurrent settles racing on the same channel must produce
// exactly one of the two permitted outcomes, never a torn or duplicated
// commit.
func TestScenarioF_ConcurrentRace(t *testing.T) {
	mgr, ownerKey, verifyingContract, channelID, now := seedAndAdvanceToB(t)
	recipient := common.HexToAddress("0x000000000000000000000000000000000000b0")

	recipients3 := []domain.Recipient{{Address: recipient, Amount: big.NewInt(30_000)}}
	recipients4 := []domain.Recipient{{Address: recipient, Amount: big.NewInt(40_000)}}
	sig3 := sign(t, ownerKey, verifyingContract, channelID, 3, now, recipients3)
	sig4 := sign(t, ownerKey, verifyingContract, channelID, 4, now, recipients4)

	var wg sync.WaitGroup
	results := make([]error, 2)
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, err := mgr.Settle(context.Background(), domain.Voucher{
			ChannelID: channelID, SequenceNumber: 3, Timestamp: now, Recipients: recipients3, UserSignature: sig3,
		})
		results[0] = err
	}()
	go func() {
		defer wg.Done()
		_, err := mgr.Settle(context.Background(), domain.Voucher{
			ChannelID: channelID, SequenceNumber: 4, Timestamp: now, Recipients: recipients4, UserSignature: sig4,
		})
		results[1] = err
	}()
	wg.Wait()

	ch, err := mgr.Get(channelID)
	require.NoError(t, err)
	require.Equal(t, uint64(4), ch.SequenceNumber)
	amount, ok := ch.RecipientAmount(recipient)
	require.True(t, ok)
	require.Equal(t, 0, amount.Cmp(big.NewInt(40_000)))

	// Sequence 4 must have succeeded; sequence 3 either succeeded earlier or
	// lost the race with StaleSequence. Never both fail, never both succeed
	// out of order.
	require.NoError(t, results[1])
}

func TestSeedRejectsDuplicate(t *testing.T) {
	mgr, _, _ := newTestManager(t)
	owner := common.HexToAddress("0x00000000000000000000000000000000000aaa")
	channelID := domain.ChannelID{0x03}
	ctx := context.Background()

	_, err := mgr.Seed(ctx, channelID, owner, big.NewInt(1000), uint64(time.Now().Unix())+3600)
	require.NoError(t, err)

	_, err = mgr.Seed(ctx, channelID, owner, big.NewInt(1000), uint64(time.Now().Unix())+3600)
	ae, ok := apperr.As(err)
	require.True(t, ok)
	require.Equal(t, apperr.AlreadyExists, ae.Kind)
}

func TestSettleUnknownChannelNotFound(t *testing.T) {
	mgr, ownerKey, verifyingContract, _, now := seedAndAdvanceToB(t)
	unknown := domain.ChannelID{0xFF}
	recipients := []domain.Recipient{{Address: common.HexToAddress("0x000000000000000000000000000000000000b0"), Amount: big.NewInt(1)}}
	sig := sign(t, ownerKey, verifyingContract, unknown, 1, now, recipients)

	_, err := mgr.Settle(context.Background(), domain.Voucher{
		ChannelID: unknown, SequenceNumber: 1, Timestamp: now, Recipients: recipients, UserSignature: sig,
	})
	ae, ok := apperr.As(err)
	require.True(t, ok)
	require.Equal(t, apperr.NotFound, ae.Kind)
}

func TestIdempotentReplayReturnsCurrentState(t *testing.T) {
	mgr, ownerKey, verifyingContract, channelID, now := seedAndAdvanceToB(t)
	recipient := common.HexToAddress("0x000000000000000000000000000000000000b0")
	recipients := []domain.Recipient{{Address: recipient, Amount: big.NewInt(25_000)}}
	sig := sign(t, ownerKey, verifyingContract, channelID, 2, now, recipients)

	// Replaying sequence 2 with the exact same fields that were already
	// admitted must succeed and return the current state, not StaleSequence.
	ch, err := mgr.Settle(context.Background(), domain.Voucher{
		ChannelID: channelID, SequenceNumber: 2, Timestamp: now, Recipients: recipients, UserSignature: sig,
	})
	require.NoError(t, err)
	require.Equal(t, uint64(2), ch.SequenceNumber)
}
