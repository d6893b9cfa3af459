package main

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/better-wallet/ledger-custody/internal/config"
	"github.com/better-wallet/ledger-custody/internal/crypto"
	"github.com/better-wallet/ledger-custody/internal/keyexec"
)

func newMasterKeyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "masterkey",
		Short: "Generate or wrap the server master key",
	}
	cmd.AddCommand(newMasterKeyGenerateCmd(), newMasterKeyWrapCmd())
	return cmd
}

func newMasterKeyGenerateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "generate",
		Short: "Print a new random base64 master key for MASTER_KEY",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			raw := make([]byte, crypto.KeySize)
			if _, err := io.ReadFull(rand.Reader, raw); err != nil {
				return fmt.Errorf("failed to generate master key: %w", err)
			}
			defer crypto.Wipe(raw)

			_, err := fmt.Fprintln(cmd.OutOrStdout(), base64.StdEncoding.EncodeToString(raw))
			return err
		},
	}
}

func newMasterKeyWrapCmd() *cobra.Command {
	var (
		source     string
		keyEnv     string
		keyID      string
		region     string
		vaultAddr  string
		transitKey string
	)

	cmd := &cobra.Command{
		Use:   "wrap",
		Short: "Wrap a master key with AWS KMS or Vault Transit for MASTER_KEY_CIPHERTEXT",
		Long: `Reads the base64 master key from an environment variable (MASTER_KEY by
default), wraps it with the selected key management service and prints the
ciphertext to store in MASTER_KEY_CIPHERTEXT. Vault authenticates with
VAULT_TOKEN from the environment.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			encoded, err := secretFromEnv(keyEnv)
			if err != nil {
				return err
			}
			key, err := crypto.DeriveKey(string(encoded))
			crypto.Wipe(encoded)
			if err != nil {
				return err
			}
			defer key.Destroy()

			var provider keyexec.KMSProvider
			switch source {
			case config.MasterKeyAWSKMS:
				provider, err = keyexec.NewAWSKMSProvider(cmd.Context(), keyID, region)
			case config.MasterKeyVault:
				provider, err = keyexec.NewVaultProvider(vaultAddr, "", transitKey)
			default:
				return fmt.Errorf("--source must be %q or %q", config.MasterKeyAWSKMS, config.MasterKeyVault)
			}
			if err != nil {
				return err
			}

			ciphertext, err := keyexec.Wrap(cmd.Context(), provider, key.Bytes())
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), ciphertext)
			return err
		},
	}

	cmd.Flags().StringVar(&source, "source", config.MasterKeyAWSKMS, "Key management service: aws-kms or vault")
	cmd.Flags().StringVar(&keyEnv, "key-env", "MASTER_KEY", "Environment variable holding the base64 master key")
	cmd.Flags().StringVar(&keyID, "kms-key-id", "", "AWS KMS key id or ARN")
	cmd.Flags().StringVar(&region, "kms-region", "", "AWS region")
	cmd.Flags().StringVar(&vaultAddr, "vault-addr", "", "Vault address")
	cmd.Flags().StringVar(&transitKey, "transit-key", "", "Vault Transit key name")
	return cmd
}
