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

package settlement

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/streamchannel/sequencer/internal/apperr"
	"github.com/streamchannel/sequencer/internal/crypto"
	"github.com/streamchannel/sequencer/internal/domain"
)

// inclusionTimeout bounds how long Finalize/PublishIntermediateState wait
// for a submitted transaction to be mined.
const inclusionTimeout = 60 * time.Second

// Client drives the StreamChannel contract over JSON-RPC.
type Client struct {
	eth             *ethclient.Client
	contractAddress common.Address
	chainID         *big.Int
	sequencer       *crypto.SequencerAccount
	log             *logrus.Entry
}

// Dial connects to the configured RPC endpoint. If chainID is nil (CHAIN_ID
// was left unset), it resolves the chain id from the node itself via
// eth_chainId before returning, so callers never have to special-case an
// unconfigured chain id afterwards. It does not perform the sequencer
// identity check; call CheckIdentity separately once a Client exists so
// callers can log that failure distinctly from a connection failure.
func Dial(ctx context.Context, rpcURL string, contractAddress common.Address, chainID *big.Int, sequencer *crypto.SequencerAccount, log *logrus.Entry) (*Client, error) {
	eth, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, apperr.Wrap(apperr.StorageFailure, err, "dial rpc %s", rpcURL)
	}
	if chainID == nil {
		resolved, err := eth.ChainID(ctx)
		if err != nil {
			eth.Close()
			return nil, apperr.Wrap(apperr.StorageFailure, err, "resolve chain id from rpc")
		}
		chainID = resolved
		log.WithField("chain_id", chainID.String()).Info("settlement: resolved chain id from rpc node")
	}
	return &Client{
		eth:             eth,
		contractAddress: contractAddress,
		chainID:         chainID,
		sequencer:       sequencer,
		log:             log,
	}, nil
}

// Close releases the underlying RPC connection.
func (c *Client) Close() { c.eth.Close() }

// ChainID returns the chain id this client signs transactions and verifies
// EIP-712 digests against: either the configured value, or the value
// resolved from the RPC node during Dial.
func (c *Client) ChainID() uint64 { return c.chainID.Uint64() }

// CheckIdentity reads the contract's advertised sequencer() address and
// aborts boot if it does not match the configured signing key's address,
// catching the single most common misconfiguration early.
func (c *Client) CheckIdentity(ctx context.Context) error {
	data, err := parsedABI.Pack("sequencer")
	if err != nil {
		return apperr.Wrap(apperr.StorageFailure, err, "pack sequencer() call")
	}
	out, err := c.eth.CallContract(ctx, ethereum.CallMsg{To: &c.contractAddress, Data: data}, nil)
	if err != nil {
		return apperr.Wrap(apperr.StorageFailure, err, "call sequencer()")
	}
	results, err := parsedABI.Unpack("sequencer", out)
	if err != nil {
		return apperr.Wrap(apperr.StorageFailure, err, "unpack sequencer() result")
	}
	if len(results) != 1 {
		return apperr.New(apperr.StorageFailure, "sequencer() returned unexpected shape")
	}
	onChain, ok := results[0].(common.Address)
	if !ok {
		return apperr.New(apperr.StorageFailure, "sequencer() returned unexpected shape")
	}
	expected := c.sequencer.Address()
	if onChain != expected {
		return apperr.New(apperr.StorageFailure,
			"configured signing key %s does not match on-chain sequencer %s", expected.Hex(), onChain.Hex())
	}
	c.log.WithField("sequencer", onChain.Hex()).Info("settlement: identity check passed")
	return nil
}

// Finalize marshals ch's last admitted dually-signed state into a
// finalCloseBySequencer call, signs, broadcasts and awaits mined inclusion.
// On success it returns the transaction hash; the caller is responsible for
// recording it against the channel.
func (c *Client) Finalize(ctx context.Context, ch *domain.Channel) (string, error) {
	addrs, amounts := splitRecipients(ch.Recipients)
	data, err := parsedABI.Pack("finalCloseBySequencer",
		[32]byte(ch.ID), new(big.Int).SetUint64(ch.SequenceNumber), new(big.Int).SetUint64(ch.SignatureTimestamp),
		addrs, amounts, ch.UserSignature)
	if err != nil {
		return "", apperr.Wrap(apperr.StorageFailure, err, "pack finalCloseBySequencer")
	}
	return c.sendAndWait(ctx, data)
}

// PublishIntermediateState anchors the latest dually-signed state on-chain
// without closing the channel, for dispute resistance. Requires both
// signatures already on file.
func (c *Client) PublishIntermediateState(ctx context.Context, ch *domain.Channel) (string, error) {
	if len(ch.SequencerSignature) == 0 {
		return "", apperr.New(apperr.MalformedRequest, "channel %s has no sequencer signature on file", ch.ID.Hex())
	}
	addrs, amounts := splitRecipients(ch.Recipients)
	data, err := parsedABI.Pack("publishIntermediateChannelState",
		[32]byte(ch.ID), new(big.Int).SetUint64(ch.SequenceNumber), new(big.Int).SetUint64(ch.SignatureTimestamp),
		addrs, amounts, ch.UserSignature, ch.SequencerSignature)
	if err != nil {
		return "", apperr.Wrap(apperr.StorageFailure, err, "pack publishIntermediateChannelState")
	}
	return c.sendAndWait(ctx, data)
}

func (c *Client) sendAndWait(ctx context.Context, data []byte) (string, error) {
	waitCtx, cancel := context.WithTimeout(ctx, inclusionTimeout)
	defer cancel()

	nonce, err := c.eth.PendingNonceAt(waitCtx, c.sequencer.Address())
	if err != nil {
		return "", apperr.Wrap(apperr.StorageFailure, err, "fetch nonce")
	}
	gasPrice, err := c.eth.SuggestGasPrice(waitCtx)
	if err != nil {
		return "", apperr.Wrap(apperr.StorageFailure, err, "suggest gas price")
	}
	gasLimit, err := c.eth.EstimateGas(waitCtx, ethereum.CallMsg{
		From: c.sequencer.Address(), To: &c.contractAddress, Data: data,
	})
	if err != nil {
		return "", apperr.Wrap(apperr.SettlementReverted, err, "gas estimation reverted")
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &c.contractAddress,
		Value:    big.NewInt(0),
		Gas:      gasLimit,
		GasPrice: gasPrice,
		Data:     data,
	})
	signer := types.NewEIP155Signer(c.chainID)
	signedTx, err := types.SignTx(tx, signer, c.sequencer.PrivateKey())
	if err != nil {
		return "", apperr.Wrap(apperr.StorageFailure, err, "sign transaction")
	}
	if err := c.eth.SendTransaction(waitCtx, signedTx); err != nil {
		return "", apperr.Wrap(apperr.StorageFailure, err, "broadcast transaction")
	}

	var g errgroup.Group
	var receipt *types.Receipt
	g.Go(func() error {
		r, err := bind.WaitMined(waitCtx, c.eth, signedTx)
		if err != nil {
			return err
		}
		receipt = r
		return nil
	})
	if err := g.Wait(); err != nil {
		if waitCtx.Err() != nil {
			return "", apperr.Wrap(apperr.Timeout, err, "settlement tx %s not mined within %s", signedTx.Hash().Hex(), inclusionTimeout)
		}
		return "", apperr.Wrap(apperr.StorageFailure, err, "wait mined")
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return "", apperr.New(apperr.SettlementReverted, "transaction %s reverted", signedTx.Hash().Hex())
	}
	return signedTx.Hash().Hex(), nil
}

// ListByOwnerOnChain enumerates owner's channels directly from the
// contract's own getUserChannelLength/userChannels accessors. The in-memory
// index (state.Manager.ListByOwner) is authoritative for anything this
// sequencer has itself seeded or admitted; this is the fallback for a
// channel opened, or held, by a different sequencer instance that this
// process's map never learned about.
func (c *Client) ListByOwnerOnChain(ctx context.Context, owner common.Address) ([]domain.ChannelID, error) {
	lengthData, err := parsedABI.Pack("getUserChannelLength", owner)
	if err != nil {
		return nil, apperr.Wrap(apperr.StorageFailure, err, "pack getUserChannelLength")
	}
	lengthOut, err := c.eth.CallContract(ctx, ethereum.CallMsg{To: &c.contractAddress, Data: lengthData}, nil)
	if err != nil {
		return nil, apperr.Wrap(apperr.StorageFailure, err, "call getUserChannelLength")
	}
	lengthResults, err := parsedABI.Unpack("getUserChannelLength", lengthOut)
	if err != nil {
		return nil, apperr.Wrap(apperr.StorageFailure, err, "unpack getUserChannelLength result")
	}
	if len(lengthResults) != 1 {
		return nil, apperr.New(apperr.StorageFailure, "getUserChannelLength returned unexpected shape")
	}
	length, ok := lengthResults[0].(*big.Int)
	if !ok {
		return nil, apperr.New(apperr.StorageFailure, "getUserChannelLength returned unexpected shape")
	}

	ids := make([]domain.ChannelID, 0, length.Int64())
	for i := int64(0); i < length.Int64(); i++ {
		data, err := parsedABI.Pack("userChannels", owner, big.NewInt(i))
		if err != nil {
			return nil, apperr.Wrap(apperr.StorageFailure, err, "pack userChannels")
		}
		out, err := c.eth.CallContract(ctx, ethereum.CallMsg{To: &c.contractAddress, Data: data}, nil)
		if err != nil {
			return nil, apperr.Wrap(apperr.StorageFailure, err, "call userChannels")
		}
		results, err := parsedABI.Unpack("userChannels", out)
		if err != nil {
			return nil, apperr.Wrap(apperr.StorageFailure, err, "unpack userChannels result")
		}
		if len(results) != 1 {
			return nil, apperr.New(apperr.StorageFailure, "userChannels returned unexpected shape")
		}
		raw, ok := results[0].([32]byte)
		if !ok {
			return nil, apperr.New(apperr.StorageFailure, "userChannels returned unexpected shape")
		}
		ids = append(ids, domain.ChannelID(raw))
	}
	return ids, nil
}

func splitRecipients(recipients []domain.Recipient) ([]common.Address, []*big.Int) {
	addrs := make([]common.Address, len(recipients))
	amounts := make([]*big.Int, len(recipients))
	for i, r := range recipients {
		addrs[i] = r.Address
		amounts[i] = r.Amount
	}
	return addrs, amounts
}
