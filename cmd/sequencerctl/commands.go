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

package main

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func clientFromCmd(cmd *cobra.Command, v *viper.Viper) *apiClient {
	addr, _ := cmd.Flags().GetString("addr")
	if addr == "" {
		addr = v.GetString("addr")
	}
	return newAPIClient(addr)
}

func printResult(result map[string]interface{}) {
	b, _ := json.MarshalIndent(result, "", "  ")
	fmt.Println(string(b))
}

// newSeedCmd corresponds to demo/cli.py's channel-open step, rebuilt as a
// call against this service's own /channel/seed endpoint instead of
// signing an on-chain open transaction directly.
func newSeedCmd(v *viper.Viper) *cobra.Command {
	var owner, balance string
	var expiry int64

	cmd := &cobra.Command{
		Use:   "seed <channelId>",
		Short: "Seed a new channel",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFromCmd(cmd, v)
			result, err := client.do(http.MethodPost, "/channel/seed", map[string]interface{}{
				"channelId":       args[0],
				"owner":           owner,
				"balance":         balance,
				"expiryTimestamp": expiry,
			})
			if err != nil {
				return err
			}
			printResult(result)
			return nil
		},
	}
	cmd.Flags().StringVar(&owner, "owner", "", "channel owner address")
	cmd.Flags().StringVar(&balance, "balance", "0", "deposit amount")
	cmd.Flags().Int64Var(&expiry, "expiry", 0, "expiry unix timestamp")
	_ = cmd.MarkFlagRequired("owner")
	_ = cmd.MarkFlagRequired("expiry")
	return cmd
}

// newGetCmd replaces an ad hoc balance-check script with a direct query
// against the sequencer's own authoritative record.
func newGetCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "get <channelId>",
		Short: "Fetch a channel's current state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFromCmd(cmd, v)
			result, err := client.do(http.MethodGet, "/channel/"+args[0], nil)
			if err != nil {
				return err
			}
			printResult(result)
			return nil
		},
	}
}

// newListByOwnerCmd rebuilds list_open_channels.py's enumeration as a call
// to /channels/by-owner, which answers from the sequencer's in-memory index
// and pages userChannels() on chain only when that index has none.
func newListByOwnerCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "list-by-owner <address>",
		Short: "List channel ids owned by an address",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFromCmd(cmd, v)
			result, err := client.do(http.MethodGet, "/channels/by-owner/"+args[0], nil)
			if err != nil {
				return err
			}
			printResult(result)
			return nil
		},
	}
}

func voucherFlags(cmd *cobra.Command) (seq *int64, ts *int64, receiver, amount, sig, purpose *string) {
	seq = cmd.Flags().Int64("sequence", 0, "voucher sequence number")
	ts = cmd.Flags().Int64("timestamp", 0, "voucher timestamp (unix seconds)")
	receiver = cmd.Flags().String("receiver", "", "recipient address")
	amount = cmd.Flags().String("amount", "0", "cumulative amount owed to receiver")
	sig = cmd.Flags().String("signature", "", "65-byte hex user signature")
	purpose = cmd.Flags().String("purpose", "", "optional free-text purpose")
	return
}

func voucherBody(channelID string, seq, ts int64, receiver, amount, sig, purpose string) map[string]interface{} {
	return map[string]interface{}{
		"channelId":      channelID,
		"sequenceNumber": seq,
		"timestamp":      ts,
		"receiver":       receiver,
		"amount":         amount,
		"userSignature":  sig,
		"purpose":        purpose,
	}
}

func newValidateCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <channelId>",
		Short: "Dry-run a voucher without admitting it",
		Args:  cobra.ExactArgs(1),
	}
	seq, ts, receiver, amount, sig, purpose := voucherFlags(cmd)
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		client := clientFromCmd(cmd, v)
		result, err := client.do(http.MethodPost, "/validate", voucherBody(args[0], *seq, *ts, *receiver, *amount, *sig, *purpose))
		if err != nil {
			return err
		}
		printResult(result)
		return nil
	}
	return cmd
}

func newSettleCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settle <channelId>",
		Short: "Submit a signed voucher for admission",
		Args:  cobra.ExactArgs(1),
	}
	seq, ts, receiver, amount, sig, purpose := voucherFlags(cmd)
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		client := clientFromCmd(cmd, v)
		result, err := client.do(http.MethodPost, "/settle", voucherBody(args[0], *seq, *ts, *receiver, *amount, *sig, *purpose))
		if err != nil {
			return err
		}
		printResult(result)
		return nil
	}
	return cmd
}

// newFinalizeCmd replaces close_all_channels.py's per-channel closure loop
// with a single call per channel against /channel/finalize.
func newFinalizeCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "finalize <channelId>",
		Short: "Close a channel on-chain with its latest dually-signed state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFromCmd(cmd, v)
			result, err := client.do(http.MethodPost, "/channel/finalize", map[string]interface{}{"channelId": args[0]})
			if err != nil {
				return err
			}
			printResult(result)
			return nil
		},
	}
}
