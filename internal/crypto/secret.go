package crypto

import (
	"fmt"
	"log/slog"
)

const redacted = "[REDACTED]"

// Buffer holds sensitive bytes (a master key or a decrypted secret). The
// backing memory is pinned when the platform allows it and overwritten by
// Destroy. Every formatting path prints a constant instead of the contents.
type Buffer struct {
	b      []byte
	locked bool
}

// NewBuffer copies src into a new Buffer. The caller keeps ownership of src.
func NewBuffer(src []byte) *Buffer {
	b := make([]byte, len(src))
	copy(b, src)
	return &Buffer{b: b, locked: lockMemory(b)}
}

// Bytes exposes the underlying slice. Callers must not retain it past Destroy.
func (s *Buffer) Bytes() []byte {
	if s == nil {
		return nil
	}
	return s.b
}

// Len returns the number of bytes held.
func (s *Buffer) Len() int {
	if s == nil {
		return 0
	}
	return len(s.b)
}

// Destroy zeroes and unpins the buffer. It is safe to call more than once.
func (s *Buffer) Destroy() {
	if s == nil || s.b == nil {
		return
	}
	Wipe(s.b)
	if s.locked {
		unlockMemory(s.b)
		s.locked = false
	}
	s.b = nil
}

// String implements fmt.Stringer.
func (s *Buffer) String() string { return redacted }

// GoString implements fmt.GoStringer.
func (s *Buffer) GoString() string { return redacted }

// Format implements fmt.Formatter so %x, %v and friends never print contents.
func (s *Buffer) Format(f fmt.State, _ rune) { _, _ = f.Write([]byte(redacted)) }

// LogValue implements slog.LogValuer.
func (s *Buffer) LogValue() slog.Value { return slog.StringValue(redacted) }

// MarshalJSON refuses to serialize the contents.
func (s *Buffer) MarshalJSON() ([]byte, error) { return []byte(`"` + redacted + `"`), nil }

// Wipe overwrites b with zeros.
func Wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
