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

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi"
	"github.com/sirupsen/logrus"

	"github.com/streamchannel/sequencer/internal/apperr"
	"github.com/streamchannel/sequencer/internal/crypto"
)

func (s *Server) handleSeed(w http.ResponseWriter, r *http.Request) {
	var req seedRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	channelID, err := crypto.ParseChannelID(req.ChannelID)
	if err != nil {
		writeError(w, err)
		return
	}
	owner, err := crypto.ParseAddress(req.Owner)
	if err != nil {
		writeError(w, err)
		return
	}
	balance, err := crypto.ParseAmount(req.Balance)
	if err != nil {
		writeError(w, err)
		return
	}
	if req.ExpiryTimestamp <= 0 {
		writeError(w, apperr.New(apperr.MalformedRequest, "expiryTimestamp must be positive"))
		return
	}

	log := s.log.WithFields(logrus.Fields{"channel_id": channelID.Hex(), "owner": owner.Hex()})
	ch, err := s.state.Seed(r.Context(), channelID, owner, balance, uint64(req.ExpiryTimestamp))
	if err != nil {
		log.WithError(err).Warn("api: seed rejected")
		writeError(w, err)
		return
	}
	s.metrics.channelsSeeded.Inc()
	log.Info("api: channel seeded")
	writeChannel(w, http.StatusOK, ch)
}

func (s *Server) handleGetChannel(w http.ResponseWriter, r *http.Request) {
	channelID, err := crypto.ParseChannelID(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	ch, err := s.state.Get(channelID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeChannel(w, http.StatusOK, ch)
}

func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	var req voucherRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	voucher, err := req.canonicalize()
	if err != nil {
		writeError(w, err)
		return
	}
	ch, err := s.state.Validate(r.Context(), voucher)
	if err != nil {
		writeError(w, err)
		return
	}
	writeChannel(w, http.StatusOK, ch)
}

func (s *Server) handleSettle(w http.ResponseWriter, r *http.Request) {
	var req voucherRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	voucher, err := req.canonicalize()
	if err != nil {
		writeError(w, err)
		return
	}

	log := s.log.WithFields(logrus.Fields{
		"channel_id":      voucher.ChannelID.Hex(),
		"sequence_number": voucher.SequenceNumber,
	})
	ch, err := s.state.Settle(r.Context(), voucher)
	if err != nil {
		if ae, ok := apperr.As(err); ok {
			s.metrics.settlesRejected.WithLabelValues(string(ae.Kind)).Inc()
		}
		log.WithError(err).Warn("api: settle rejected")
		writeError(w, err)
		return
	}
	s.metrics.settlesAdmitted.Inc()
	log.Info("api: settle admitted")
	writeChannel(w, http.StatusOK, ch)
}

type finalizeRequest struct {
	ChannelID string `json:"channelId"`
}

type finalizeResponse struct {
	TransactionHash string `json:"transactionHash"`
}

func (s *Server) handleFinalize(w http.ResponseWriter, r *http.Request) {
	var req finalizeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	channelID, err := crypto.ParseChannelID(req.ChannelID)
	if err != nil {
		writeError(w, err)
		return
	}

	ch, err := s.state.Get(channelID)
	if err != nil {
		writeError(w, err)
		return
	}

	log := s.log.WithField("channel_id", channelID.Hex())
	txHash, err := s.settlement.Finalize(r.Context(), ch)
	if err != nil {
		log.WithError(err).Error("api: finalize failed")
		writeError(w, err)
		return
	}
	if err := s.state.MarkFinalized(r.Context(), channelID, txHash, time.Now().Unix()); err != nil {
		log.WithError(err).Error("api: failed to record finalize outcome")
		writeError(w, err)
		return
	}
	log.WithField("tx_hash", txHash).Info("api: channel finalized")
	writeJSON(w, http.StatusOK, finalizeResponse{TransactionHash: txHash})
}

type byOwnerResponse struct {
	ChannelIDs []string `json:"channelIds"`
}

func (s *Server) handleListByOwner(w http.ResponseWriter, r *http.Request) {
	owner, err := crypto.ParseAddress(chi.URLParam(r, "addr"))
	if err != nil {
		writeError(w, err)
		return
	}
	ids := s.state.ListByOwner(owner)
	if len(ids) == 0 {
		onChain, err := s.settlement.ListByOwnerOnChain(r.Context(), owner)
		if err != nil {
			s.log.WithError(err).WithField("owner", owner.Hex()).Warn("api: on-chain by-owner fallback failed, returning memory-only result")
		} else {
			ids = onChain
		}
	}
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.Hex()
	}
	writeJSON(w, http.StatusOK, byOwnerResponse{ChannelIDs: out})
}
