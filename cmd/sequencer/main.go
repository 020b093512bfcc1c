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

// Command sequencer runs the StreamChannel off-chain sequencer: it admits
// vouchers, enforces the channel invariants, co-signs accepted states, and
// drives on-chain settlement.
package main

import (
	"context"
	"errors"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/streamchannel/sequencer/internal/api"
	"github.com/streamchannel/sequencer/internal/config"
	"github.com/streamchannel/sequencer/internal/crypto"
	"github.com/streamchannel/sequencer/internal/logging"
	"github.com/streamchannel/sequencer/internal/settlement"
	"github.com/streamchannel/sequencer/internal/state"
	"github.com/streamchannel/sequencer/internal/store"
)

func main() {
	log := logging.New()
	entry := logging.Component(log, "main")

	cfg, err := config.Load()
	if err != nil {
		entry.WithError(err).Fatal("failed to load configuration")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := store.Open(ctx, cfg.DatabaseURL, logging.Component(log, "store"))
	if err != nil {
		entry.WithError(err).Fatal("failed to open store")
	}
	defer db.Close()

	channels, err := db.LoadAll(ctx)
	if err != nil {
		entry.WithError(err).Fatal("failed to load channels")
	}

	sequencer, err := crypto.SequencerAccountFromHex(cfg.SequencerPrivateKey)
	if err != nil {
		entry.WithError(err).Fatal("failed to parse sequencer private key")
	}

	var chainIDBig *big.Int
	if cfg.ChainID != 0 {
		chainIDBig = new(big.Int).SetUint64(cfg.ChainID)
	}

	settlementClient, err := settlement.Dial(ctx, cfg.RPCURL, cfg.ChannelManagerAddress, chainIDBig, sequencer, logging.Component(log, "settlement"))
	if err != nil {
		entry.WithError(err).Fatal("failed to dial rpc")
	}
	defer settlementClient.Close()

	if err := settlementClient.CheckIdentity(ctx); err != nil {
		entry.WithError(err).Fatal("sequencer identity check failed")
	}

	// cfg.ChainID may have been left unset (0); settlementClient.ChainID
	// carries whatever Dial actually resolved the chain id to, from the RPC
	// node if it wasn't configured. State must sign/verify against that same
	// value or every voucher digest will disagree with the on-chain contract.
	manager := state.NewManager(db, state.Config{
		ChainID:           settlementClient.ChainID(),
		VerifyingContract: cfg.ChannelManagerAddress,
		Sequencer:         sequencer,
	}, logging.Component(log, "state"))
	manager.Bootstrap(channels)

	if cfg.PruneInterval != "" {
		interval, err := time.ParseDuration(cfg.PruneInterval)
		if err != nil {
			entry.WithError(err).Fatal("invalid PRUNE_INTERVAL")
		}
		go manager.RunSweeper(ctx, interval)
	}

	reg := prometheus.NewRegistry()
	handler := api.NewServer(manager, settlementClient, logging.Component(log, "api"), reg)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: handler,
	}

	go func() {
		entry.WithField("port", cfg.Port).Info("sequencer listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			entry.WithError(err).Fatal("server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	entry.Info("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		entry.WithError(err).Error("graceful shutdown failed")
	}
}
