package crypto

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	apperrors "github.com/better-wallet/ledger-custody/pkg/errors"
	"github.com/better-wallet/ledger-custody/pkg/types"
)

func randomKey(t *testing.T) *Key {
	t.Helper()
	raw := make([]byte, KeySize)
	_, err := rand.Read(raw)
	require.NoError(t, err)
	key, err := NewKey(raw)
	require.NoError(t, err)
	t.Cleanup(key.Destroy)
	return key
}

func TestDeriveKey(t *testing.T) {
	valid := base64.StdEncoding.EncodeToString(make([]byte, 32))

	t.Run("accepts 32 byte key", func(t *testing.T) {
		key, err := DeriveKey(valid)
		require.NoError(t, err)
		defer key.Destroy()
		assert.Equal(t, KeySize, key.Len())
	})

	tests := []struct {
		name    string
		encoded string
	}{
		{name: "empty", encoded: ""},
		{name: "whitespace", encoded: "   "},
		{name: "not base64", encoded: "!!!not-base64!!!"},
		{name: "too short", encoded: base64.StdEncoding.EncodeToString(make([]byte, 16))},
		{name: "too long", encoded: base64.StdEncoding.EncodeToString(make([]byte, 33))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key, err := DeriveKey(tt.encoded)
			assert.Nil(t, key)
			require.Error(t, err)
			assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeConfiguration))
		})
	}

	t.Run("error never echoes the key", func(t *testing.T) {
		encoded := base64.StdEncoding.EncodeToString([]byte("sixteen byte key"))
		_, err := DeriveKey(encoded)
		require.Error(t, err)
		assert.NotContains(t, err.Error(), encoded)
	})
}

func TestEncryptDecrypt(t *testing.T) {
	key := randomKey(t)

	t.Run("round trip", func(t *testing.T) {
		plaintext := []byte("SBZVMB74Z76QZ3ZOY7UTDFYKMEGKW5XFJEB6PFKBF4UYSSWHG4EDH7PY")

		sealed, err := Encrypt(plaintext, key)
		require.NoError(t, err)

		iv, err := base64.StdEncoding.DecodeString(sealed.IV)
		require.NoError(t, err)
		assert.Len(t, iv, IVSize)

		tag, err := base64.StdEncoding.DecodeString(sealed.AuthTag)
		require.NoError(t, err)
		assert.Len(t, tag, TagSize)

		out, err := Decrypt(sealed, key)
		require.NoError(t, err)
		defer out.Destroy()
		assert.Equal(t, plaintext, out.Bytes())
	})

	t.Run("same plaintext yields different ciphertexts", func(t *testing.T) {
		plaintext := []byte("same plaintext")

		a, err := Encrypt(plaintext, key)
		require.NoError(t, err)
		b, err := Encrypt(plaintext, key)
		require.NoError(t, err)

		assert.NotEqual(t, a.IV, b.IV)
		assert.NotEqual(t, a.Ciphertext, b.Ciphertext)

		for _, sealed := range []*types.SealedSecret{a, b} {
			out, err := Decrypt(sealed, key)
			require.NoError(t, err)
			assert.Equal(t, plaintext, out.Bytes())
			out.Destroy()
		}
	})

	t.Run("wrong key fails", func(t *testing.T) {
		sealed, err := Encrypt([]byte("secret"), key)
		require.NoError(t, err)

		out, err := Decrypt(sealed, randomKey(t))
		assert.Nil(t, out)
		assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeDecryption))
	})

	t.Run("malformed fields fail as decryption errors", func(t *testing.T) {
		sealed, err := Encrypt([]byte("secret"), key)
		require.NoError(t, err)

		cases := map[string]*types.SealedSecret{
			"bad ciphertext encoding": {Ciphertext: "%%%", IV: sealed.IV, AuthTag: sealed.AuthTag},
			"short iv":                {Ciphertext: sealed.Ciphertext, IV: base64.StdEncoding.EncodeToString(make([]byte, 12)), AuthTag: sealed.AuthTag},
			"short tag":               {Ciphertext: sealed.Ciphertext, IV: sealed.IV, AuthTag: base64.StdEncoding.EncodeToString(make([]byte, 8))},
		}
		for name, c := range cases {
			t.Run(name, func(t *testing.T) {
				out, err := Decrypt(c, key)
				assert.Nil(t, out)
				assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeDecryption))
			})
		}
	})

	t.Run("missing key is a configuration error", func(t *testing.T) {
		_, err := Encrypt([]byte("x"), nil)
		assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeConfiguration))
	})
}

func TestEncryptDecrypt_Properties(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		raw := rapid.SliceOfN(rapid.Byte(), KeySize, KeySize).Draw(t, "key")
		plaintext := rapid.SliceOf(rapid.Byte()).Draw(t, "plaintext")

		key, err := NewKey(raw)
		require.NoError(t, err)
		defer key.Destroy()

		sealed, err := Encrypt(plaintext, key)
		require.NoError(t, err)

		out, err := Decrypt(sealed, key)
		require.NoError(t, err)
		defer out.Destroy()
		assert.Equal(t, len(plaintext), out.Len())
		if len(plaintext) > 0 {
			assert.Equal(t, plaintext, out.Bytes())
		}
	})
}

func flipByte(t *rapid.T, encoded string, label string) string {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	require.NoError(t, err)
	if len(raw) == 0 {
		return encoded
	}
	i := rapid.IntRange(0, len(raw)-1).Draw(t, label+"_index")
	mask := rapid.ByteRange(1, 255).Draw(t, label+"_mask")
	raw[i] ^= mask
	return base64.StdEncoding.EncodeToString(raw)
}

func TestDecrypt_TamperProperties(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		raw := rapid.SliceOfN(rapid.Byte(), KeySize, KeySize).Draw(t, "key")
		plaintext := rapid.SliceOfN(rapid.Byte(), 1, 128).Draw(t, "plaintext")
		field := rapid.SampledFrom([]string{"ciphertext", "iv", "tag"}).Draw(t, "field")

		key, err := NewKey(raw)
		require.NoError(t, err)
		defer key.Destroy()

		sealed, err := Encrypt(plaintext, key)
		require.NoError(t, err)

		tampered := *sealed
		switch field {
		case "ciphertext":
			tampered.Ciphertext = flipByte(t, sealed.Ciphertext, field)
		case "iv":
			tampered.IV = flipByte(t, sealed.IV, field)
		case "tag":
			tampered.AuthTag = flipByte(t, sealed.AuthTag, field)
		}

		out, err := Decrypt(&tampered, key)
		assert.Nil(t, out)
		require.Error(t, err)
		assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeDecryption))
	})
}

func TestBufferRedaction(t *testing.T) {
	key := randomKey(t)
	secret := base64.StdEncoding.EncodeToString(key.Bytes())

	for _, verb := range []string{"%v", "%s", "%x", "%#v", "%+v"} {
		out := fmt.Sprintf(verb, key)
		assert.Equal(t, redacted, out, verb)
		assert.NotContains(t, out, secret)
	}

	js, err := key.MarshalJSON()
	require.NoError(t, err)
	assert.JSONEq(t, `"[REDACTED]"`, string(js))
}

func TestBufferDestroy(t *testing.T) {
	raw := []byte("0123456789abcdef0123456789abcdef")
	key, err := NewKey(raw)
	require.NoError(t, err)

	view := key.Bytes()
	key.Destroy()

	assert.Equal(t, make([]byte, KeySize), view)
	assert.Nil(t, key.Bytes())
	assert.NotPanics(t, key.Destroy)
}

func TestKeyClone(t *testing.T) {
	key := randomKey(t)
	clone := key.Clone()
	assert.Equal(t, key.Bytes(), clone.Bytes())

	clone.Destroy()
	assert.Len(t, key.Bytes(), KeySize)
	assert.NotEqual(t, make([]byte, KeySize), key.Bytes())
}
