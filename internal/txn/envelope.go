package txn

import (
	"bytes"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/algorand/go-codec/codec"

	"github.com/better-wallet/ledger-custody/internal/keypair"
	apperrors "github.com/better-wallet/ledger-custody/pkg/errors"
)

// codecHandle encodes canonically so that an envelope re-encodes to the same
// bytes it was decoded from, which keeps transaction hashes stable.
var codecHandle *codec.MsgpackHandle

func init() {
	codecHandle = new(codec.MsgpackHandle)
	codecHandle.ErrorIfNoField = true
	codecHandle.ErrorIfNoArrayExpand = true
	codecHandle.Canonical = true
	codecHandle.RecursiveEmptyCheck = true
	codecHandle.WriteExt = true
	codecHandle.PositiveIntUnsigned = true
}

func encode(v any) ([]byte, error) {
	var buf []byte
	if err := codec.NewEncoderBytes(&buf, codecHandle).Encode(v); err != nil {
		return nil, fmt.Errorf("failed to encode: %w", err)
	}
	return buf, nil
}

func decode(raw []byte, v any) error {
	return codec.NewDecoderBytes(raw, codecHandle).Decode(v)
}

var envelopeTypeTx = []byte("TX")

// TimeBounds is the validity window of a transaction, in unix seconds. A zero
// MaxTime means unbounded.
type TimeBounds struct {
	_struct struct{} `codec:",omitempty,omitemptyarray"`

	MinTime int64 `codec:"min"`
	MaxTime int64 `codec:"max"`
}

// Transaction is the signed body of an envelope.
type Transaction struct {
	_struct struct{} `codec:",omitempty,omitemptyarray"`

	Source     string      `codec:"src"`
	Fee        int64       `codec:"fee"`
	SeqNum     int64       `codec:"seq"`
	TimeBounds TimeBounds  `codec:"tb"`
	Memo       string      `codec:"memo"`
	Operations []Operation `codec:"ops"`
}

// DecoratedSignature pairs a signature with the hint of the key that made it.
type DecoratedSignature struct {
	_struct struct{} `codec:",omitempty,omitemptyarray"`

	Hint      [4]byte `codec:"hint"`
	Signature []byte  `codec:"sig"`
}

// Envelope is a transaction plus the signatures collected so far.
type Envelope struct {
	_struct struct{} `codec:",omitempty,omitemptyarray"`

	Tx         Transaction          `codec:"tx"`
	Signatures []DecoratedSignature `codec:"sigs"`
}

// Encode returns the base64 wire form of the envelope.
func (e *Envelope) Encode() (string, error) {
	raw, err := encode(e)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// DecodeEnvelope parses the base64 wire form produced by Encode.
func DecodeEnvelope(encoded string) (*Envelope, error) {
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(encoded))
	if err != nil || len(raw) == 0 {
		return nil, apperrors.Validation("envelope is not valid base64")
	}
	var env Envelope
	if err := decode(raw, &env); err != nil {
		return nil, apperrors.Validation("envelope does not decode")
	}
	if !keypair.IsValidAddress(env.Tx.Source) {
		return nil, apperrors.Validation("envelope has no valid source account")
	}
	if len(env.Tx.Operations) == 0 {
		return nil, apperrors.Validation("envelope has no operations")
	}
	return &env, nil
}

// Hash is the value every signer signs: sha256(networkID || "TX" || tx),
// where networkID is the sha256 of the network passphrase.
func (e *Envelope) Hash(passphrase string) ([32]byte, error) {
	body, err := encode(&e.Tx)
	if err != nil {
		return [32]byte{}, err
	}
	networkID := sha256.Sum256([]byte(passphrase))

	var payload bytes.Buffer
	payload.Write(networkID[:])
	payload.Write(envelopeTypeTx)
	payload.Write(body)
	return sha256.Sum256(payload.Bytes()), nil
}

// HashHex is Hash rendered as lowercase hex.
func (e *Envelope) HashHex(passphrase string) (string, error) {
	h, err := e.Hash(passphrase)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(h[:]), nil
}

// Sign appends a signature by kp. Signing twice with the same key is rejected.
func (e *Envelope) Sign(passphrase string, kp *keypair.Full) error {
	hash, err := e.Hash(passphrase)
	if err != nil {
		return err
	}
	if e.signedBy(hash, kp.Address()) {
		return apperrors.Validationf("envelope is already signed by %s", kp.Address())
	}
	sig, err := kp.Sign(hash[:])
	if err != nil {
		return err
	}
	e.Signatures = append(e.Signatures, DecoratedSignature{Hint: kp.Hint(), Signature: sig})
	return nil
}

// SignedBy reports whether the envelope carries a valid signature by address
// for the given network.
func (e *Envelope) SignedBy(passphrase, address string) (bool, error) {
	hash, err := e.Hash(passphrase)
	if err != nil {
		return false, err
	}
	return e.signedBy(hash, address), nil
}

func (e *Envelope) signedBy(hash [32]byte, address string) bool {
	pub, err := keypair.ParseAddress(address)
	if err != nil {
		return false
	}
	hint := keypair.Hint(pub)
	for _, s := range e.Signatures {
		if s.Hint == hint && keypair.Verify(address, hash[:], s.Signature) {
			return true
		}
	}
	return false
}
