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

// Package api is the HTTP surface: chi routes, JSON (de)serialisation, and
// translation of internal/apperr.Error into HTTP status codes. Handlers are
// thin dispatchers; all business logic lives in
// internal/state and internal/settlement.
package api

import (
	"encoding/json"
	"net/http"

	"github.com/streamchannel/sequencer/internal/apperr"
	"github.com/streamchannel/sequencer/internal/crypto"
	"github.com/streamchannel/sequencer/internal/domain"
)

type seedRequest struct {
	ChannelID       string `json:"channelId"`
	Owner           string `json:"owner"`
	Balance         string `json:"balance"`
	ExpiryTimestamp int64  `json:"expiryTimestamp"`
}

// voucherRequest accepts both wire forms a caller might send: the
// single-recipient convenience form (Receiver/Amount) and the explicit
// array form (Recipients/Amounts). canonicalize collapses either into the
// array form State operates on exclusively.
type voucherRequest struct {
	ChannelID      string   `json:"channelId"`
	SequenceNumber uint64   `json:"sequenceNumber"`
	Timestamp      uint64   `json:"timestamp"`
	UserSignature  string   `json:"userSignature"`
	Purpose        string   `json:"purpose"`

	Receiver string `json:"receiver"`
	Amount   string `json:"amount"`

	Recipients []string `json:"recipients"`
	Amounts    []string `json:"amounts"`
}

func (r voucherRequest) canonicalize() (domain.Voucher, error) {
	channelID, err := crypto.ParseChannelID(r.ChannelID)
	if err != nil {
		return domain.Voucher{}, err
	}
	sig, err := crypto.ParseSignature(r.UserSignature)
	if err != nil {
		return domain.Voucher{}, err
	}

	var recipients []domain.Recipient
	switch {
	case len(r.Recipients) > 0 || len(r.Amounts) > 0:
		if len(r.Recipients) != len(r.Amounts) {
			return domain.Voucher{}, apperr.New(apperr.MalformedRequest,
				"recipients and amounts length mismatch: %d vs %d", len(r.Recipients), len(r.Amounts))
		}
		recipients = make([]domain.Recipient, len(r.Recipients))
		for i := range r.Recipients {
			addr, err := crypto.ParseAddress(r.Recipients[i])
			if err != nil {
				return domain.Voucher{}, err
			}
			amount, err := crypto.ParseAmount(r.Amounts[i])
			if err != nil {
				return domain.Voucher{}, err
			}
			recipients[i] = domain.Recipient{Address: addr, Amount: amount}
		}
	case r.Receiver != "":
		addr, err := crypto.ParseAddress(r.Receiver)
		if err != nil {
			return domain.Voucher{}, err
		}
		amount, err := crypto.ParseAmount(r.Amount)
		if err != nil {
			return domain.Voucher{}, err
		}
		recipients = []domain.Recipient{{Address: addr, Amount: amount}}
	default:
		return domain.Voucher{}, apperr.New(apperr.MalformedRequest, "voucher names no recipients")
	}

	return domain.Voucher{
		ChannelID:      channelID,
		SequenceNumber: r.SequenceNumber,
		Timestamp:      r.Timestamp,
		Recipients:     recipients,
		UserSignature:  sig,
		Purpose:        r.Purpose,
	}, nil
}

type recipientDTO struct {
	RecipientAddress string `json:"recipientAddress"`
	Balance          string `json:"balance"`
}

type channelDTO struct {
	ChannelID          string         `json:"channelId"`
	Owner              string         `json:"owner"`
	Balance            string         `json:"balance"`
	ExpiryTimestamp    uint64         `json:"expiryTimestamp"`
	SequenceNumber     uint64         `json:"sequenceNumber"`
	UserSignature      string         `json:"userSignature"`
	SequencerSignature string         `json:"sequencerSignature"`
	SignatureTimestamp uint64         `json:"signatureTimestamp"`
	Recipients         []recipientDTO `json:"recipients"`
}

func toChannelDTO(ch *domain.Channel) channelDTO {
	recipients := make([]recipientDTO, len(ch.Recipients))
	for i, r := range ch.Recipients {
		recipients[i] = recipientDTO{
			RecipientAddress: r.Address.Hex(),
			Balance:          crypto.FormatAmount(r.Amount),
		}
	}
	return channelDTO{
		ChannelID:          ch.ID.Hex(),
		Owner:              ch.Owner.Hex(),
		Balance:            crypto.FormatAmount(ch.Balance),
		ExpiryTimestamp:    ch.Expiry,
		SequenceNumber:     ch.SequenceNumber,
		UserSignature:      crypto.FormatSignature(ch.UserSignature),
		SequencerSignature: crypto.FormatSignature(ch.SequencerSignature),
		SignatureTimestamp: ch.SignatureTimestamp,
		Recipients:         recipients,
	}
}

type channelEnvelope struct {
	Channel channelDTO `json:"channel"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeChannel(w http.ResponseWriter, status int, ch *domain.Channel) {
	writeJSON(w, status, channelEnvelope{Channel: toChannelDTO(ch)})
}

// writeError maps a domain error to its HTTP status and the
// "<kind>:<detail>" error body shape.
func writeError(w http.ResponseWriter, err error) {
	if ae, ok := apperr.As(err); ok {
		writeJSON(w, ae.Status(), errorResponse{Error: ae.Error()})
		return
	}
	writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal: " + err.Error()})
}

func decodeJSON(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return apperr.Wrap(apperr.MalformedRequest, err, "invalid request body")
	}
	return nil
}
