package main

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/better-wallet/ledger-custody/internal/api"
	"github.com/better-wallet/ledger-custody/internal/crypto"
	"github.com/better-wallet/ledger-custody/internal/keypair"
	"github.com/better-wallet/ledger-custody/internal/network"
	"github.com/better-wallet/ledger-custody/internal/txn"
	"github.com/better-wallet/ledger-custody/pkg/types"
)

func executeCommand(t *testing.T, stdin io.Reader, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	if stdin != nil {
		cmd.SetIn(stdin)
	}
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestMasterKeyGenerate(t *testing.T) {
	out, err := executeCommand(t, nil, "masterkey", "generate")
	require.NoError(t, err)

	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(out))
	require.NoError(t, err)
	assert.Len(t, raw, crypto.KeySize)

	again, err := executeCommand(t, nil, "masterkey", "generate")
	require.NoError(t, err)
	assert.NotEqual(t, out, again)
}

func TestMasterKeyWrap_Validation(t *testing.T) {
	t.Setenv("MASTER_KEY", "")
	_, err := executeCommand(t, nil, "masterkey", "wrap", "--source", "vault")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "MASTER_KEY is not set")

	t.Setenv("MASTER_KEY", base64.StdEncoding.EncodeToString(make([]byte, crypto.KeySize)))
	_, err = executeCommand(t, nil, "masterkey", "wrap", "--source", "env")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--source")
}

func TestKeygen(t *testing.T) {
	out, err := executeCommand(t, nil, "keygen")
	require.NoError(t, err)
	assert.Contains(t, out, "address: G")
	assert.NotContains(t, out, "seed:")

	out, err = executeCommand(t, nil, "keygen", "--reveal-seed")
	require.NoError(t, err)
	assert.Contains(t, out, "seed:    S")
}

func TestSealAndOpen(t *testing.T) {
	kp, err := keypair.Random()
	require.NoError(t, err)
	seed, err := kp.Seed()
	require.NoError(t, err)
	t.Setenv(defaultSeedEnv, string(seed.Bytes()))
	seed.Destroy()
	t.Setenv(defaultPassphraseEnv, "correct horse battery staple")

	tests := []struct {
		name string
		kdf  types.KeyDerivation
	}{
		{"pbkdf2", types.KeyDerivationPBKDF2},
		{"argon2", types.KeyDerivationArgon2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := executeCommand(t, nil, "seal", "--kdf", string(tt.kdf), "--network", "PUBLIC")
			require.NoError(t, err)

			var payload api.CreateNonCustodialWalletRequest
			require.NoError(t, json.Unmarshal([]byte(out), &payload))
			assert.Equal(t, kp.Address(), payload.PublicKey)
			assert.Equal(t, types.NetworkPublic, payload.Network)
			assert.Equal(t, tt.kdf, payload.KeyDerivation)
			assert.NotEmpty(t, payload.EncryptedSecretKey)

			opened, err := executeCommand(t, strings.NewReader(out), "open")
			require.NoError(t, err)
			assert.Equal(t, "ok: "+kp.Address()+"\n", opened)
		})
	}
}

func TestOpen_WrongPassphrase(t *testing.T) {
	t.Setenv(defaultSeedEnv, "")
	t.Setenv(defaultPassphraseEnv, "first passphrase")
	out, err := executeCommand(t, nil, "seal", "--kdf", "PBKDF2")
	require.NoError(t, err)

	t.Setenv(defaultPassphraseEnv, "second passphrase")
	_, err = executeCommand(t, strings.NewReader(out), "open")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decrypt")
}

func TestSeal_RejectsBadFlags(t *testing.T) {
	t.Setenv(defaultPassphraseEnv, "pass")

	_, err := executeCommand(t, nil, "seal", "--kdf", "NONE")
	require.Error(t, err)

	_, err = executeCommand(t, nil, "seal", "--network", "MAINNET")
	require.Error(t, err)
}

func TestDecode(t *testing.T) {
	kp, err := keypair.Random()
	require.NoError(t, err)
	dest, err := keypair.Random()
	require.NoError(t, err)

	env := &txn.Envelope{Tx: txn.Transaction{
		Source:     kp.Address(),
		Fee:        200,
		SeqNum:     42,
		TimeBounds: txn.TimeBounds{MaxTime: 1_700_000_300},
		Memo:       "invoice 7",
		Operations: []txn.Operation{
			{Type: txn.OpPayment, Destination: dest.Address(), Amount: 12_500_000},
			{Type: txn.OpCreateAccount, Destination: dest.Address(), Amount: 10_000_000},
		},
	}}
	require.NoError(t, env.Sign(network.DefaultTestnetPassphrase, kp))
	encoded, err := env.Encode()
	require.NoError(t, err)
	wantHash, err := env.HashHex(network.DefaultTestnetPassphrase)
	require.NoError(t, err)

	t.Run("offline", func(t *testing.T) {
		out, err := executeCommand(t, nil, "decode", encoded)
		require.NoError(t, err)

		var got decodedEnvelope
		require.NoError(t, json.Unmarshal([]byte(out), &got))
		assert.Equal(t, kp.Address(), got.Source)
		assert.Equal(t, int64(42), got.Sequence)
		assert.Equal(t, "invoice 7", got.Memo)
		require.Len(t, got.Operations, 2)
		assert.Equal(t, "1.2500000", got.Operations[0].Amount)
		assert.Equal(t, txn.OpCreateAccount, got.Operations[1].Type)
		assert.Len(t, got.Signatures, 1)
		assert.Nil(t, got.ValidAfter)
		require.NotNil(t, got.ValidBefore)
		assert.Equal(t, int64(1_700_000_300), got.ValidBefore.Unix())
		assert.Empty(t, got.Hash)
	})

	t.Run("with network from stdin", func(t *testing.T) {
		out, err := executeCommand(t, strings.NewReader(encoded+"\n"), "decode", "--network", "testnet")
		require.NoError(t, err)

		var got decodedEnvelope
		require.NoError(t, json.Unmarshal([]byte(out), &got))
		assert.Equal(t, wantHash, got.Hash)
		require.NotNil(t, got.SignedBySource)
		assert.True(t, *got.SignedBySource)
	})

	t.Run("wrong network", func(t *testing.T) {
		out, err := executeCommand(t, nil, "decode", "--network", "PUBLIC", encoded)
		require.NoError(t, err)

		var got decodedEnvelope
		require.NoError(t, json.Unmarshal([]byte(out), &got))
		assert.NotEqual(t, wantHash, got.Hash)
		assert.False(t, *got.SignedBySource)
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := executeCommand(t, nil, "decode", "not-an-envelope")
		require.Error(t, err)
	})
}
