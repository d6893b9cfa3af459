package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
	"strings"

	apperrors "github.com/better-wallet/ledger-custody/pkg/errors"
	"github.com/better-wallet/ledger-custody/pkg/types"
)

const (
	// KeySize is the AES-256 key length.
	KeySize = 32
	// IVSize is the per-encryption nonce length. GCM is used with a 16-byte
	// nonce rather than the 12-byte default.
	IVSize = 16
	// TagSize is the GCM authentication tag length.
	TagSize = 16
)

// Key is a 32-byte symmetric key held in a Buffer.
type Key struct {
	*Buffer
}

// NewKey copies raw into a new Key. raw must be exactly KeySize bytes.
func NewKey(raw []byte) (*Key, error) {
	if len(raw) != KeySize {
		return nil, apperrors.Configuration(fmt.Sprintf("key must be %d bytes, got %d", KeySize, len(raw)))
	}
	return &Key{Buffer: NewBuffer(raw)}, nil
}

// Clone returns an independent copy that must be destroyed separately.
func (k *Key) Clone() *Key {
	return &Key{Buffer: NewBuffer(k.Bytes())}
}

// DeriveKey decodes a base64 master key. Anything that does not decode to
// exactly 32 bytes is a configuration error; the error never echoes the input.
func DeriveKey(masterKeyEncoded string) (*Key, error) {
	encoded := strings.TrimSpace(masterKeyEncoded)
	if encoded == "" {
		return nil, apperrors.Configuration("master key is not configured")
	}

	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, apperrors.Configuration("master key is not valid base64")
	}
	defer Wipe(raw)

	if len(raw) != KeySize {
		return nil, apperrors.Configuration(fmt.Sprintf("master key must decode to %d bytes, got %d", KeySize, len(raw)))
	}

	return NewKey(raw)
}

func newGCM(key *Key) (cipher.AEAD, error) {
	if key == nil || key.Len() != KeySize {
		return nil, apperrors.Configuration("encryption key is not available")
	}
	block, err := aes.NewCipher(key.Bytes())
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCMWithNonceSize(block, IVSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return gcm, nil
}

// Encrypt seals plaintext with AES-256-GCM under a fresh random IV.
func Encrypt(plaintext []byte, key *Key) (*types.SealedSecret, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	iv := make([]byte, IVSize)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return nil, fmt.Errorf("failed to generate iv: %w", err)
	}

	sealed := gcm.Seal(nil, iv, plaintext, nil)
	split := len(sealed) - TagSize

	return &types.SealedSecret{
		Ciphertext: base64.StdEncoding.EncodeToString(sealed[:split]),
		IV:         base64.StdEncoding.EncodeToString(iv),
		AuthTag:    base64.StdEncoding.EncodeToString(sealed[split:]),
	}, nil
}

// Decrypt opens a sealed secret. Any malformed field or tag mismatch yields a
// DecryptionError and no plaintext.
func Decrypt(sealed *types.SealedSecret, key *Key) (*Buffer, error) {
	if sealed == nil {
		return nil, apperrors.Decryption("no sealed secret")
	}
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	ciphertext, err := base64.StdEncoding.DecodeString(sealed.Ciphertext)
	if err != nil {
		return nil, apperrors.Decryption("ciphertext is not valid base64")
	}
	iv, err := base64.StdEncoding.DecodeString(sealed.IV)
	if err != nil || len(iv) != IVSize {
		return nil, apperrors.Decryption("iv is malformed")
	}
	tag, err := base64.StdEncoding.DecodeString(sealed.AuthTag)
	if err != nil || len(tag) != TagSize {
		return nil, apperrors.Decryption("auth tag is malformed")
	}

	combined := make([]byte, 0, len(ciphertext)+TagSize)
	combined = append(combined, ciphertext...)
	combined = append(combined, tag...)

	plaintext, err := gcm.Open(nil, iv, combined, nil)
	if err != nil {
		return nil, apperrors.Decryption("authentication tag mismatch")
	}
	defer Wipe(plaintext)

	return NewBuffer(plaintext), nil
}
