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

// Package apperr defines the sequencer's error taxonomy.
//
// Every error the State, Store, Crypto and Settlement components can raise
// is one of the Kinds below. The API layer maps each Kind to a fixed HTTP
// status; the only status the API sets outside this table is the rate
// limiter's 429.
package apperr

import (
	"fmt"
	"net/http"
)

// Kind identifies a class of domain error, not a Go type. Two errors of the
// same Kind are the same kind of failure even if their messages differ.
type Kind string

const (
	MalformedRequest   Kind = "MalformedRequest"
	NotFound           Kind = "NotFound"
	AlreadyExists      Kind = "AlreadyExists"
	Expired            Kind = "Expired"
	BadTimestamp       Kind = "BadTimestamp"
	StaleSequence      Kind = "StaleSequence"
	AmountRegression   Kind = "AmountRegression"
	Insolvent          Kind = "Insolvent"
	BadSignature       Kind = "BadSignature"
	StorageFailure     Kind = "StorageFailure"
	SettlementReverted Kind = "SettlementReverted"
	Timeout            Kind = "Timeout"
)

// statusByKind is the sole source of truth for Kind -> HTTP status.
var statusByKind = map[Kind]int{
	MalformedRequest:   http.StatusBadRequest,
	NotFound:           http.StatusNotFound,
	AlreadyExists:      http.StatusConflict,
	Expired:            http.StatusGone,
	BadTimestamp:       http.StatusBadRequest,
	StaleSequence:      http.StatusConflict,
	AmountRegression:   http.StatusBadRequest,
	Insolvent:          http.StatusPaymentRequired,
	BadSignature:       http.StatusUnauthorized,
	StorageFailure:     http.StatusInternalServerError,
	SettlementReverted: http.StatusBadGateway,
	Timeout:            http.StatusGatewayTimeout,
}

// Error is a structured domain error: a Kind plus a human detail string and
// an optional wrapped cause for logging/%w chains.
type Error struct {
	Kind   Kind
	Detail string
	Cause  error
}

func (e *Error) Error() string {
	if e.Detail == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

func (e *Error) Unwrap() error { return e.Cause }

// Status returns the HTTP status code for this error's Kind.
func (e *Error) Status() int {
	if s, ok := statusByKind[e.Kind]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// New constructs an *Error with the given Kind and formatted detail.
func New(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Detail: fmt.Sprintf(format, args...)}
}

// Wrap constructs an *Error with the given Kind, detail and underlying cause.
func Wrap(kind Kind, cause error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Detail: fmt.Sprintf(format, args...), Cause: cause}
}

// As extracts an *Error from err, following the Unwrap chain.
func As(err error) (*Error, bool) {
	for err != nil {
		if ae, ok := err.(*Error); ok {
			return ae, true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return nil, false
		}
		err = u.Unwrap()
	}
	return nil, false
}

// Retryable reports whether calling clients should automatically retry.
// Only StorageFailure, Timeout, and transient network faults qualify.
func (e *Error) Retryable() bool {
	switch e.Kind {
	case StorageFailure, Timeout:
		return true
	default:
		return false
	}
}
