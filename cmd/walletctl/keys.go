package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/better-wallet/ledger-custody/internal/api"
	"github.com/better-wallet/ledger-custody/internal/crypto"
	"github.com/better-wallet/ledger-custody/internal/keypair"
	"github.com/better-wallet/ledger-custody/pkg/types"
)

const (
	defaultSeedEnv       = "WALLETCTL_SEED"
	defaultPassphraseEnv = "WALLETCTL_PASSPHRASE"
)

func newKeygenCmd() *cobra.Command {
	var reveal bool

	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate a new ed25519 keypair",
		Long: `Prints the address of a new random keypair. The seed is only printed with
--reveal-seed; prefer "walletctl seal", which never shows it.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			kp, err := keypair.Random()
			if err != nil {
				return err
			}
			defer kp.Destroy()

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "address: %s\n", kp.Address())
			if !reveal {
				return nil
			}

			seed, err := kp.Seed()
			if err != nil {
				return err
			}
			defer seed.Destroy()
			_, err = fmt.Fprintf(out, "seed:    %s\n", seed.Bytes())
			return err
		},
	}

	cmd.Flags().BoolVar(&reveal, "reveal-seed", false, "Also print the secret seed")
	return cmd
}

func newSealCmd() *cobra.Command {
	var (
		method        string
		networkName   string
		seedEnv       string
		passphraseEnv string
		externalRef   string
	)

	cmd := &cobra.Command{
		Use:   "seal",
		Short: "Seal a secret under a passphrase and print a non-custodial wallet payload",
		Long: `Encrypts a seed under a key stretched from a passphrase and prints the JSON
body for POST /v1/wallets/non-custodial. The seed is read from $WALLETCTL_SEED;
when it is unset a new keypair is generated. The passphrase is read from
$WALLETCTL_PASSPHRASE and never leaves this machine.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			derivation := types.KeyDerivation(method)
			if derivation != types.KeyDerivationPBKDF2 && derivation != types.KeyDerivationArgon2 {
				return fmt.Errorf("--kdf must be %s or %s", types.KeyDerivationPBKDF2, types.KeyDerivationArgon2)
			}
			network := types.Network(networkName)
			if !network.Valid() {
				return fmt.Errorf("--network must be %s or %s", types.NetworkPublic, types.NetworkTestnet)
			}

			passphrase, err := secretFromEnv(passphraseEnv)
			if err != nil {
				return err
			}
			defer crypto.Wipe(passphrase)

			kp, err := loadOrGenerate(seedEnv)
			if err != nil {
				return err
			}
			defer kp.Destroy()

			seed, err := kp.Seed()
			if err != nil {
				return err
			}
			defer seed.Destroy()

			sealed, err := crypto.SealWithPassphrase(derivation, passphrase, seed.Bytes())
			if err != nil {
				return err
			}

			payload := api.CreateNonCustodialWalletRequest{
				SealedSecretInput: api.SealedSecretInput{
					EncryptedSecretKey: sealed.Ciphertext,
					EncryptionIV:       sealed.IV,
					EncryptionAuthTag:  sealed.AuthTag,
					KeyDerivation:      derivation,
				},
				Network:   network,
				PublicKey: kp.Address(),
			}
			if externalRef != "" {
				payload.ExternalCustodyRef = &externalRef
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(payload)
		},
	}

	cmd.Flags().StringVar(&method, "kdf", string(types.KeyDerivationArgon2), "Passphrase key derivation: PBKDF2 or ARGON2")
	cmd.Flags().StringVar(&networkName, "network", string(types.NetworkTestnet), "Network of the wallet: PUBLIC or TESTNET")
	cmd.Flags().StringVar(&seedEnv, "seed-env", defaultSeedEnv, "Environment variable holding an existing S... seed")
	cmd.Flags().StringVar(&passphraseEnv, "passphrase-env", defaultPassphraseEnv, "Environment variable holding the passphrase")
	cmd.Flags().StringVar(&externalRef, "external-ref", "", "External custody module reference")
	return cmd
}

func newOpenCmd() *cobra.Command {
	var (
		file          string
		passphraseEnv string
		reveal        bool
	)

	cmd := &cobra.Command{
		Use:   "open",
		Short: "Check that a sealed payload or backup opens with the passphrase",
		Long: `Reads a payload printed by "walletctl seal" (or the equivalent fields of a
backup export) from --file or stdin, decrypts it and checks that the seed
belongs to the recorded public key.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var in io.Reader = cmd.InOrStdin()
			if file != "" {
				f, err := os.Open(file)
				if err != nil {
					return fmt.Errorf("failed to open %s: %w", file, err)
				}
				defer f.Close()
				in = f
			}

			var payload api.CreateNonCustodialWalletRequest
			if err := json.NewDecoder(in).Decode(&payload); err != nil {
				return fmt.Errorf("failed to parse payload: %w", err)
			}

			passphrase, err := secretFromEnv(passphraseEnv)
			if err != nil {
				return err
			}
			defer crypto.Wipe(passphrase)

			sealed := &types.SealedSecret{
				Ciphertext: payload.EncryptedSecretKey,
				IV:         payload.EncryptionIV,
				AuthTag:    payload.EncryptionAuthTag,
			}
			seed, err := crypto.OpenWithPassphrase(payload.KeyDerivation, passphrase, sealed)
			if err != nil {
				return err
			}
			defer seed.Destroy()

			kp, err := keypair.ParseSeedBytes(seed.Bytes())
			if err != nil {
				return err
			}
			defer kp.Destroy()

			if payload.PublicKey != "" && kp.Address() != payload.PublicKey {
				return fmt.Errorf("sealed seed belongs to %s, not %s", kp.Address(), payload.PublicKey)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "ok: %s\n", kp.Address())
			if reveal {
				_, err = fmt.Fprintf(out, "seed: %s\n", seed.Bytes())
			}
			return err
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "Payload file (defaults to stdin)")
	cmd.Flags().StringVar(&passphraseEnv, "passphrase-env", defaultPassphraseEnv, "Environment variable holding the passphrase")
	cmd.Flags().BoolVar(&reveal, "reveal-seed", false, "Print the decrypted seed")
	return cmd
}

func loadOrGenerate(seedEnv string) (*keypair.Full, error) {
	raw := os.Getenv(seedEnv)
	if raw == "" {
		return keypair.Random()
	}
	b := []byte(raw)
	defer crypto.Wipe(b)
	return keypair.ParseSeedBytes(b)
}
