package main

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/better-wallet/ledger-custody/internal/network"
	"github.com/better-wallet/ledger-custody/internal/txn"
	"github.com/better-wallet/ledger-custody/pkg/types"
)

type decodedOperation struct {
	Type        txn.OperationType `json:"type"`
	Source      string            `json:"source,omitempty"`
	Destination string            `json:"destination"`
	Amount      string            `json:"amount"`
	AssetCode   string            `json:"asset_code,omitempty"`
	AssetIssuer string            `json:"asset_issuer,omitempty"`
}

type decodedSignature struct {
	Hint string `json:"hint"`
}

type decodedEnvelope struct {
	Source         string             `json:"source"`
	Sequence       int64              `json:"sequence"`
	Fee            int64              `json:"fee"`
	Memo           string             `json:"memo,omitempty"`
	ValidAfter     *time.Time         `json:"valid_after,omitempty"`
	ValidBefore    *time.Time         `json:"valid_before,omitempty"`
	Operations     []decodedOperation `json:"operations"`
	Signatures     []decodedSignature `json:"signatures"`
	Network        types.Network      `json:"network,omitempty"`
	Hash           string             `json:"hash,omitempty"`
	SignedBySource *bool              `json:"signed_by_source,omitempty"`
}

func newDecodeCmd() *cobra.Command {
	var networkName string

	cmd := &cobra.Command{
		Use:   "decode [envelope]",
		Short: "Decode a base64 transaction envelope",
		Long: `Prints the contents of an envelope as JSON. The envelope is taken from the
argument or stdin. With --network the hash is computed for that network and
the source account's signature is verified.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			encoded, err := readEnvelope(cmd.InOrStdin(), args)
			if err != nil {
				return err
			}
			env, err := txn.DecodeEnvelope(encoded)
			if err != nil {
				return err
			}

			out := describe(env)
			if networkName != "" {
				n := types.Network(strings.ToUpper(networkName))
				cfg, err := network.NewResolver().Resolve(n)
				if err != nil {
					return err
				}
				hash, err := env.HashHex(cfg.Passphrase)
				if err != nil {
					return err
				}
				signed, err := env.SignedBy(cfg.Passphrase, env.Tx.Source)
				if err != nil {
					return err
				}
				out.Network, out.Hash, out.SignedBySource = n, hash, &signed
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		},
	}

	cmd.Flags().StringVar(&networkName, "network", "", "Network to hash and verify against: PUBLIC or TESTNET")
	return cmd
}

func readEnvelope(in io.Reader, args []string) (string, error) {
	if len(args) == 1 {
		return args[0], nil
	}
	raw, err := io.ReadAll(in)
	if err != nil {
		return "", fmt.Errorf("failed to read envelope: %w", err)
	}
	if strings.TrimSpace(string(raw)) == "" {
		return "", fmt.Errorf("no envelope given")
	}
	return string(raw), nil
}

func describe(env *txn.Envelope) decodedEnvelope {
	out := decodedEnvelope{
		Source:     env.Tx.Source,
		Sequence:   env.Tx.SeqNum,
		Fee:        env.Tx.Fee,
		Memo:       env.Tx.Memo,
		Operations: make([]decodedOperation, 0, len(env.Tx.Operations)),
		Signatures: make([]decodedSignature, 0, len(env.Signatures)),
	}
	if tb := env.Tx.TimeBounds; tb.MinTime > 0 {
		t := time.Unix(tb.MinTime, 0).UTC()
		out.ValidAfter = &t
	}
	if tb := env.Tx.TimeBounds; tb.MaxTime > 0 {
		t := time.Unix(tb.MaxTime, 0).UTC()
		out.ValidBefore = &t
	}
	for _, op := range env.Tx.Operations {
		out.Operations = append(out.Operations, decodedOperation{
			Type:        op.Type,
			Source:      op.Source,
			Destination: op.Destination,
			Amount:      txn.FormatAmount(op.Amount),
			AssetCode:   op.Asset.Code,
			AssetIssuer: op.Asset.Issuer,
		})
	}
	for _, sig := range env.Signatures {
		out.Signatures = append(out.Signatures, decodedSignature{Hint: hex.EncodeToString(sig.Hint[:])})
	}
	return out
}
