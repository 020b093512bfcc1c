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
	"context"
	"math/big"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/streamchannel/sequencer/internal/domain"
)

// StateManager is the subset of *internal/state.Manager the API depends on,
// narrowed to an interface so handlers are testable against a fake.
type StateManager interface {
	Seed(ctx context.Context, id domain.ChannelID, owner common.Address, balance *big.Int, expiry uint64) (*domain.Channel, error)
	Settle(ctx context.Context, voucher domain.Voucher) (*domain.Channel, error)
	Validate(ctx context.Context, voucher domain.Voucher) (*domain.Channel, error)
	Get(id domain.ChannelID) (*domain.Channel, error)
	ListByOwner(owner common.Address) []domain.ChannelID
	MarkFinalized(ctx context.Context, id domain.ChannelID, txHash string, finalizedAtUnix int64) error
	Count() int
}

// Settler is the subset of *internal/settlement.Client the finalize and
// by-owner handlers depend on.
type Settler interface {
	Finalize(ctx context.Context, ch *domain.Channel) (string, error)
	ListByOwnerOnChain(ctx context.Context, owner common.Address) ([]domain.ChannelID, error)
}

// Server wires State and Settlement behind the admission/query HTTP surface.
type Server struct {
	state      StateManager
	settlement Settler
	log        *logrus.Entry
	metrics    *metrics
	limiter    *ipRateLimiter
}

// NewServer constructs the chi router. log carries no per-request
// fields yet; each handler derives its own via WithFields.
func NewServer(state StateManager, settlement Settler, log *logrus.Entry, reg *prometheus.Registry) http.Handler {
	s := &Server{
		state:      state,
		settlement: settlement,
		log:        log,
		metrics:    newMetrics(reg, state),
		limiter:    newIPRateLimiter(rate.Limit(20), 40),
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.AllowAll().Handler)

	r.Get("/health", s.handleHealth)
	r.Get("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}).ServeHTTP)

	r.Post("/channel/seed", s.handleSeed)
	r.Get("/channel/{id}", s.handleGetChannel)
	r.With(s.limiter.middleware).Post("/validate", s.handleValidate)
	r.With(s.limiter.middleware).Post("/settle", s.handleSettle)
	r.Post("/channel/finalize", s.handleFinalize)
	r.Get("/channels/by-owner/{addr}", s.handleListByOwner)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ipRateLimiter backs /settle and /validate with a per-source-IP token
// bucket, protecting the admission path from a runaway or malicious payer
// without touching monotonicity/solvency logic.
type ipRateLimiter struct {
	mu       sync.Mutex
	limit    rate.Limit
	burst    int
	visitors map[string]*rate.Limiter
	lastSeen map[string]time.Time
}

const visitorIdleTimeout = 10 * time.Minute

func newIPRateLimiter(limit rate.Limit, burst int) *ipRateLimiter {
	return &ipRateLimiter{
		limit:    limit,
		burst:    burst,
		visitors: make(map[string]*rate.Limiter),
		lastSeen: make(map[string]time.Time),
	}
}

func (rl *ipRateLimiter) allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	for k, seen := range rl.lastSeen {
		if now.Sub(seen) > visitorIdleTimeout {
			delete(rl.lastSeen, k)
			delete(rl.visitors, k)
		}
	}

	l, ok := rl.visitors[key]
	if !ok {
		l = rate.NewLimiter(rl.limit, rl.burst)
		rl.visitors[key] = l
	}
	rl.lastSeen[key] = now
	return l.Allow()
}

func (rl *ipRateLimiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.RemoteAddr
		if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
			key = host
		}
		if !rl.allow(key) {
			writeJSON(w, http.StatusTooManyRequests, errorResponse{Error: "RateLimited: too many requests"})
			return
		}
		next.ServeHTTP(w, r)
	})
}
