package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/pbkdf2"

	apperrors "github.com/better-wallet/ledger-custody/pkg/errors"
	"github.com/better-wallet/ledger-custody/pkg/types"
)

// Passphrase KDF parameters. They are part of the client-side format and
// must not change without a new KeyDerivation value.
const (
	SaltSize         = 16
	PBKDF2Iterations = 600_000
	Argon2Time       = 3
	Argon2MemoryKiB  = 64 * 1024
	Argon2Threads    = 4
)

// DeriveFromPassphrase stretches a passphrase into an encryption key. This is
// only used client side (walletctl); the server never sees the passphrase.
func DeriveFromPassphrase(method types.KeyDerivation, passphrase, salt []byte) (*Key, error) {
	if len(passphrase) == 0 {
		return nil, apperrors.Validation("passphrase is empty")
	}
	if len(salt) != SaltSize {
		return nil, apperrors.Validationf("salt must be %d bytes", SaltSize)
	}

	var raw []byte
	switch method {
	case types.KeyDerivationPBKDF2:
		raw = pbkdf2.Key(passphrase, salt, PBKDF2Iterations, KeySize, sha256.New)
	case types.KeyDerivationArgon2:
		raw = argon2.IDKey(passphrase, salt, Argon2Time, Argon2MemoryKiB, Argon2Threads, KeySize)
	default:
		return nil, apperrors.Validationf("key derivation %q does not use a passphrase", method)
	}
	defer Wipe(raw)

	return NewKey(raw)
}

// SealWithPassphrase encrypts plaintext under a passphrase-derived key. The
// random salt is prepended to the ciphertext so the stored triple stays
// self-contained.
func SealWithPassphrase(method types.KeyDerivation, passphrase, plaintext []byte) (*types.SealedSecret, error) {
	salt := make([]byte, SaltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}

	key, err := DeriveFromPassphrase(method, passphrase, salt)
	if err != nil {
		return nil, err
	}
	defer key.Destroy()

	sealed, err := Encrypt(plaintext, key)
	if err != nil {
		return nil, err
	}

	ct, err := base64.StdEncoding.DecodeString(sealed.Ciphertext)
	if err != nil {
		return nil, fmt.Errorf("failed to re-encode ciphertext: %w", err)
	}
	sealed.Ciphertext = base64.StdEncoding.EncodeToString(append(salt, ct...))
	return sealed, nil
}

// OpenWithPassphrase reverses SealWithPassphrase.
func OpenWithPassphrase(method types.KeyDerivation, passphrase []byte, sealed *types.SealedSecret) (*Buffer, error) {
	if sealed == nil {
		return nil, apperrors.Decryption("no sealed secret")
	}
	raw, err := base64.StdEncoding.DecodeString(sealed.Ciphertext)
	if err != nil || len(raw) < SaltSize {
		return nil, apperrors.Decryption("ciphertext is malformed")
	}

	key, err := DeriveFromPassphrase(method, passphrase, raw[:SaltSize])
	if err != nil {
		return nil, err
	}
	defer key.Destroy()

	inner := &types.SealedSecret{
		Ciphertext: base64.StdEncoding.EncodeToString(raw[SaltSize:]),
		IV:         sealed.IV,
		AuthTag:    sealed.AuthTag,
	}
	return Decrypt(inner, key)
}
