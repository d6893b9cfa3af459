package keyexec

import (
	"context"
	"fmt"

	"github.com/better-wallet/ledger-custody/internal/crypto"
	"github.com/better-wallet/ledger-custody/internal/keypair"
	"github.com/better-wallet/ledger-custody/internal/txn"
	apperrors "github.com/better-wallet/ledger-custody/pkg/errors"
	"github.com/better-wallet/ledger-custody/pkg/types"
)

// CustodialExecutor performs every operation that touches a server-held
// secret. The master key and the decrypted seed live only inside one method
// call and are wiped before it returns; no method performs network I/O.
type CustodialExecutor struct {
	keys MasterKeySource
}

// NewCustodialExecutor creates an executor backed by keys.
func NewCustodialExecutor(keys MasterKeySource) *CustodialExecutor {
	return &CustodialExecutor{keys: keys}
}

// GenerateKey creates a keypair and returns its address and the seed sealed
// under the master key.
func (e *CustodialExecutor) GenerateKey(ctx context.Context) (string, *types.SealedSecret, error) {
	masterKey, err := e.keys.MasterKey(ctx)
	if err != nil {
		return "", nil, err
	}
	defer masterKey.Destroy()

	kp, err := keypair.Random()
	if err != nil {
		return "", nil, fmt.Errorf("failed to generate key: %w", err)
	}
	defer kp.Destroy()

	seed, err := kp.Seed()
	if err != nil {
		return "", nil, err
	}
	defer seed.Destroy()

	sealed, err := crypto.Encrypt(seed.Bytes(), masterKey)
	if err != nil {
		return "", nil, fmt.Errorf("failed to seal secret: %w", err)
	}

	return kp.Address(), sealed, nil
}

// SignEnvelope adds the wallet's signature to env for the network identified
// by passphrase.
func (e *CustodialExecutor) SignEnvelope(ctx context.Context, sealed *types.SealedSecret, publicKey, passphrase string, env *txn.Envelope) error {
	kp, err := e.open(ctx, sealed, publicKey)
	if err != nil {
		return err
	}
	defer kp.Destroy()

	return env.Sign(passphrase, kp)
}

// Reseal decrypts and re-encrypts a secret under a fresh IV. The old
// ciphertext is useless once the caller overwrites it.
func (e *CustodialExecutor) Reseal(ctx context.Context, sealed *types.SealedSecret, publicKey string) (*types.SealedSecret, error) {
	masterKey, err := e.keys.MasterKey(ctx)
	if err != nil {
		return nil, err
	}
	defer masterKey.Destroy()

	plaintext, err := e.decryptMatching(sealed, publicKey, masterKey)
	if err != nil {
		return nil, err
	}
	defer plaintext.Destroy()

	return crypto.Encrypt(plaintext.Bytes(), masterKey)
}

// Verify checks that sealed decrypts under the master key to the seed of
// publicKey.
func (e *CustodialExecutor) Verify(ctx context.Context, sealed *types.SealedSecret, publicKey string) error {
	kp, err := e.open(ctx, sealed, publicKey)
	if err != nil {
		return err
	}
	kp.Destroy()
	return nil
}

func (e *CustodialExecutor) open(ctx context.Context, sealed *types.SealedSecret, publicKey string) (*keypair.Full, error) {
	masterKey, err := e.keys.MasterKey(ctx)
	if err != nil {
		return nil, err
	}
	defer masterKey.Destroy()

	plaintext, err := e.decryptMatching(sealed, publicKey, masterKey)
	if err != nil {
		return nil, err
	}
	defer plaintext.Destroy()

	return keypair.ParseSeedBytes(plaintext.Bytes())
}

func (e *CustodialExecutor) decryptMatching(sealed *types.SealedSecret, publicKey string, masterKey *crypto.Key) (*crypto.Buffer, error) {
	if sealed == nil {
		return nil, apperrors.InvalidOperation("wallet has no server-held secret")
	}

	plaintext, err := crypto.Decrypt(sealed, masterKey)
	if err != nil {
		return nil, err
	}

	kp, err := keypair.ParseSeedBytes(plaintext.Bytes())
	if err != nil {
		plaintext.Destroy()
		return nil, apperrors.Decryption("decrypted secret is not a valid seed")
	}
	defer kp.Destroy()

	if kp.Address() != publicKey {
		plaintext.Destroy()
		return nil, apperrors.Validation("secret does not belong to the wallet public key")
	}
	return plaintext, nil
}
