// Package keypair implements ed25519 account keys and their checksummed text
// encoding: public keys render as G... addresses, seeds as S... strings.
package keypair

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/better-wallet/ledger-custody/internal/crypto"
	apperrors "github.com/better-wallet/ledger-custody/pkg/errors"
)

const payloadSize = 32

// Full is a keypair capable of signing. The private half lives in a
// crypto.Buffer and is wiped by Destroy.
type Full struct {
	address string
	public  ed25519.PublicKey
	private *crypto.Buffer
}

// Random generates a fresh keypair from the system CSPRNG.
func Random() (*Full, error) {
	seed := make([]byte, ed25519.SeedSize)
	defer crypto.Wipe(seed)
	if _, err := io.ReadFull(rand.Reader, seed); err != nil {
		return nil, fmt.Errorf("failed to read random seed: %w", err)
	}
	return FromRawSeed(seed)
}

// FromRawSeed builds a keypair from a 32 byte ed25519 seed.
func FromRawSeed(seed []byte) (*Full, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, apperrors.Validationf("seed must be %d bytes", ed25519.SeedSize)
	}
	priv := ed25519.NewKeyFromSeed(seed)
	defer crypto.Wipe(priv)

	pub := make(ed25519.PublicKey, ed25519.PublicKeySize)
	copy(pub, priv[ed25519.SeedSize:])

	return &Full{
		address: encodeCheck(versionAccountID, pub),
		public:  pub,
		private: crypto.NewBuffer(priv),
	}, nil
}

// ParseSeed decodes an S... seed string.
func ParseSeed(seed string) (*Full, error) {
	raw, err := decodeCheck(versionSeed, strings.TrimSpace(seed))
	if err != nil {
		return nil, apperrors.Validation("secret seed is malformed")
	}
	defer crypto.Wipe(raw)
	return FromRawSeed(raw)
}

// ParseSeedBytes is ParseSeed for a seed held in a byte slice.
func ParseSeedBytes(seed []byte) (*Full, error) {
	raw, err := decodeCheckBytes(versionSeed, bytes.TrimSpace(seed))
	if err != nil {
		return nil, apperrors.Validation("secret seed is malformed")
	}
	defer crypto.Wipe(raw)
	return FromRawSeed(raw)
}

// ParseAddress decodes a G... address into its raw public key.
func ParseAddress(address string) (ed25519.PublicKey, error) {
	raw, err := decodeCheck(versionAccountID, address)
	if err != nil {
		return nil, apperrors.Validationf("invalid account address %q", address)
	}
	return ed25519.PublicKey(raw), nil
}

// IsValidAddress reports whether address is a well formed G... address.
func IsValidAddress(address string) bool {
	_, err := decodeCheck(versionAccountID, address)
	return err == nil
}

// Address returns the G... encoding of the public key.
func (kp *Full) Address() string { return kp.address }

// PublicKey returns the raw ed25519 public key.
func (kp *Full) PublicKey() ed25519.PublicKey { return kp.public }

// Seed returns the S... encoding of the private seed in a Buffer the caller
// must destroy.
func (kp *Full) Seed() (*crypto.Buffer, error) {
	priv := kp.private.Bytes()
	if len(priv) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("keypair has been destroyed")
	}
	encoded := []byte(encodeCheck(versionSeed, priv[:ed25519.SeedSize]))
	defer crypto.Wipe(encoded)
	return crypto.NewBuffer(encoded), nil
}

// Sign signs message with the private key.
func (kp *Full) Sign(message []byte) ([]byte, error) {
	priv := kp.private.Bytes()
	if len(priv) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("keypair has been destroyed")
	}
	return ed25519.Sign(ed25519.PrivateKey(priv), message), nil
}

// Hint is the last four bytes of the public key, used to match a signature to
// its signer without carrying the whole key.
func (kp *Full) Hint() [4]byte { return Hint(kp.public) }

// Destroy wipes the private key. The keypair can no longer sign afterwards.
func (kp *Full) Destroy() {
	if kp == nil {
		return
	}
	kp.private.Destroy()
}

// Format prints only the address.
func (kp *Full) Format(f fmt.State, _ rune) { _, _ = io.WriteString(f, kp.address) }

// LogValue implements slog.LogValuer.
func (kp *Full) LogValue() slog.Value { return slog.StringValue(kp.address) }

// Hint returns the signature hint for a raw public key.
func Hint(pub ed25519.PublicKey) [4]byte {
	var h [4]byte
	if len(pub) >= 4 {
		copy(h[:], pub[len(pub)-4:])
	}
	return h
}

// Verify checks signature over message against a G... address.
func Verify(address string, message, signature []byte) bool {
	pub, err := ParseAddress(address)
	if err != nil {
		return false
	}
	return ed25519.Verify(pub, message, signature)
}
