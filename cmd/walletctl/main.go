// Command walletctl is the operator and client companion of the custody
// server. It generates master keys and keypairs, seals secrets under a
// passphrase before they are handed to the server, and inspects envelopes.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/better-wallet/ledger-custody/internal/config"
)

func main() {
	if err := config.LoadDotEnv(".env"); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if err := NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// NewRootCmd builds the command tree. Each call returns fresh commands so
// tests can execute them independently.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "walletctl",
		Short:        "Operator and client tooling for ledger custody",
		SilenceUsage: true,
	}

	cmd.AddCommand(
		newMasterKeyCmd(),
		newKeygenCmd(),
		newSealCmd(),
		newOpenCmd(),
		newDecodeCmd(),
	)
	return cmd
}

// secretFromEnv reads a secret from the named environment variable. Secrets
// are never accepted as flag values so they stay out of shell history.
func secretFromEnv(name string) ([]byte, error) {
	v := os.Getenv(name)
	if v == "" {
		return nil, fmt.Errorf("%s is not set", name)
	}
	return []byte(v), nil
}
