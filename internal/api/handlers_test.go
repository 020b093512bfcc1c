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

package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	gethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/streamchannel/sequencer/internal/api"
	"github.com/streamchannel/sequencer/internal/apperr"
	"github.com/streamchannel/sequencer/internal/crypto"
	"github.com/streamchannel/sequencer/internal/domain"
)

// fakeState is a minimal in-memory stand-in for *internal/state.Manager,
// enough to drive the HTTP layer end to end without Postgres.
type fakeState struct {
	channels map[domain.ChannelID]*domain.Channel
}

func newFakeState() *fakeState {
	return &fakeState{channels: make(map[domain.ChannelID]*domain.Channel)}
}

func (f *fakeState) Seed(_ context.Context, id domain.ChannelID, owner common.Address, balance *big.Int, expiry uint64) (*domain.Channel, error) {
	if _, ok := f.channels[id]; ok {
		return nil, apperr.New(apperr.AlreadyExists, "already seeded")
	}
	ch := &domain.Channel{ID: id, Owner: owner, Balance: balance, Expiry: expiry}
	f.channels[id] = ch
	return ch.Clone(), nil
}

func (f *fakeState) Settle(_ context.Context, voucher domain.Voucher) (*domain.Channel, error) {
	ch, ok := f.channels[voucher.ChannelID]
	if !ok {
		return nil, apperr.New(apperr.NotFound, "not found")
	}
	if voucher.SequenceNumber <= ch.SequenceNumber {
		return nil, apperr.New(apperr.StaleSequence, "stale")
	}
	next := ch.Clone()
	next.SequenceNumber = voucher.SequenceNumber
	next.Recipients = voucher.Recipients
	next.UserSignature = voucher.UserSignature
	next.SequencerSignature = []byte("sequencer-sig")
	next.SignatureTimestamp = voucher.Timestamp
	f.channels[voucher.ChannelID] = next
	return next.Clone(), nil
}

func (f *fakeState) Validate(_ context.Context, voucher domain.Voucher) (*domain.Channel, error) {
	ch, ok := f.channels[voucher.ChannelID]
	if !ok {
		return nil, apperr.New(apperr.NotFound, "not found")
	}
	return ch.Clone(), nil
}

func (f *fakeState) Get(id domain.ChannelID) (*domain.Channel, error) {
	ch, ok := f.channels[id]
	if !ok {
		return nil, apperr.New(apperr.NotFound, "not found")
	}
	return ch.Clone(), nil
}

func (f *fakeState) ListByOwner(owner common.Address) []domain.ChannelID {
	var ids []domain.ChannelID
	for id, ch := range f.channels {
		if ch.Owner == owner {
			ids = append(ids, id)
		}
	}
	return ids
}

func (f *fakeState) Count() int {
	return len(f.channels)
}

func (f *fakeState) MarkFinalized(_ context.Context, id domain.ChannelID, txHash string, finalizedAtUnix int64) error {
	ch, ok := f.channels[id]
	if !ok {
		return apperr.New(apperr.NotFound, "not found")
	}
	next := ch.Clone()
	next.SettlementTxHash = txHash
	next.FinalizedAtUnix = finalizedAtUnix
	f.channels[id] = next
	return nil
}

type fakeSettler struct{ txHash string }

func (f *fakeSettler) Finalize(_ context.Context, ch *domain.Channel) (string, error) {
	return f.txHash, nil
}

func (f *fakeSettler) ListByOwnerOnChain(_ context.Context, _ common.Address) ([]domain.ChannelID, error) {
	return nil, nil
}

func newTestServer() (http.Handler, *fakeState) {
	st := newFakeState()
	log := logrus.NewEntry(logrus.New())
	reg := prometheus.NewRegistry()
	return api.NewServer(st, &fakeSettler{txHash: "0xabc123"}, log, reg), st
}

func TestHealthEndpoint(t *testing.T) {
	srv, _ := newTestServer()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestSeedAndGetChannel(t *testing.T) {
	srv, _ := newTestServer()
	channelID := domain.ChannelID{0x01}
	owner := common.HexToAddress("0x00000000000000000000000000000000000aaa")

	body, _ := json.Marshal(map[string]interface{}{
		"channelId":       channelID.Hex(),
		"owner":           owner.Hex(),
		"balance":         "1000000",
		"expiryTimestamp": time.Now().Unix() + 3600,
	})
	req := httptest.NewRequest(http.MethodPost, "/channel/seed", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	getReq := httptest.NewRequest(http.MethodGet, "/channel/"+channelID.Hex(), nil)
	getRec := httptest.NewRecorder()
	srv.ServeHTTP(getRec, getReq)
	require.Equal(t, http.StatusOK, getRec.Code)
}

func TestSettleRoundTrip(t *testing.T) {
	srv, st := newTestServer()
	ownerKey, err := gethcrypto.GenerateKey()
	require.NoError(t, err)
	owner := gethcrypto.PubkeyToAddress(ownerKey.PublicKey)
	channelID := domain.ChannelID{0x02}
	st.channels[channelID] = &domain.Channel{ID: channelID, Owner: owner, Balance: big.NewInt(1_000_000), Expiry: uint64(time.Now().Unix()) + 3600}

	recipient := common.HexToAddress("0x000000000000000000000000000000000000b0")
	now := uint64(time.Now().Unix())
	digest := crypto.Digest(1, common.Address{}, channelID, 1, now, []domain.Recipient{{Address: recipient, Amount: big.NewInt(10_000)}})
	sig, err := crypto.Cosign(ownerKey, digest)
	require.NoError(t, err)

	body, _ := json.Marshal(map[string]interface{}{
		"channelId":      channelID.Hex(),
		"sequenceNumber": 1,
		"timestamp":      now,
		"receiver":       recipient.Hex(),
		"amount":         "10000",
		"userSignature":  crypto.FormatSignature(sig),
	})
	req := httptest.NewRequest(http.MethodPost, "/settle", bytes.NewReader(body))
	req.RemoteAddr = "127.0.0.1:12345"
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestSettleUnknownChannelReturns404(t *testing.T) {
	srv, _ := newTestServer()
	body, _ := json.Marshal(map[string]interface{}{
		"channelId":      domain.ChannelID{0xFF}.Hex(),
		"sequenceNumber": 1,
		"timestamp":      time.Now().Unix(),
		"receiver":       "0x00000000000000000000000000000000000000b0",
		"amount":         "1",
		"userSignature":  crypto.FormatSignature(make([]byte, crypto.SignatureLength)),
	})
	req := httptest.NewRequest(http.MethodPost, "/settle", bytes.NewReader(body))
	req.RemoteAddr = "127.0.0.1:12345"
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestFinalizeRecordsTxHash(t *testing.T) {
	srv, st := newTestServer()
	owner := common.HexToAddress("0x00000000000000000000000000000000000ccc")
	channelID := domain.ChannelID{0x03}
	st.channels[channelID] = &domain.Channel{ID: channelID, Owner: owner, Balance: big.NewInt(1), Expiry: uint64(time.Now().Unix()) + 3600}

	body, _ := json.Marshal(map[string]string{"channelId": channelID.Hex()})
	req := httptest.NewRequest(http.MethodPost, "/channel/finalize", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "0xabc123", st.channels[channelID].SettlementTxHash)
}

func TestMetricsEndpointExposesPrometheusText(t *testing.T) {
	srv, _ := newTestServer()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "go_goroutines")
}
