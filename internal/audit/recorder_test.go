package audit

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/better-wallet/ledger-custody/internal/storage"
	"github.com/better-wallet/ledger-custody/pkg/types"
)

const seed = "SBZVMB74Z76QZ3ZOY7UTDFYKMEGKW5XFJEB6PFKBF4UYSSWHG4EDH7PY"

func TestScrub(t *testing.T) {
	details := map[string]any{
		"hash":        "abc",
		"secret_key":  seed,
		"master_key":  "c2VjcmV0",
		"note":        "leaked " + seed + " here",
		"nested":      map[string]any{"passphrase": "hunter2", "fee": 100},
		"list":        []any{seed, 1},
		"error":       errors.New("bad seed " + seed),
		"public_key":  "GAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAWHF",
		"operations":  3,
		"rotation_to": nil,
	}

	out := Scrub(details)

	assert.Equal(t, "abc", out["hash"])
	assert.Equal(t, redacted, out["secret_key"])
	assert.Equal(t, redacted, out["master_key"])
	assert.Equal(t, "leaked [REDACTED] here", out["note"])
	assert.Equal(t, redacted, out["nested"].(map[string]any)["passphrase"])
	assert.Equal(t, 100, out["nested"].(map[string]any)["fee"])
	assert.Equal(t, []any{redacted, 1}, out["list"])
	assert.Equal(t, "bad seed [REDACTED]", out["error"])
	assert.Equal(t, details["public_key"], out["public_key"])
	assert.Equal(t, seed, details["secret_key"], "input is not modified")

	assert.Nil(t, Scrub(nil))
}

func TestAppendInTx(t *testing.T) {
	ctx := context.Background()
	repo := storage.NewMemory()
	r := NewRecorder(repo)
	walletID := uuid.New()

	err := repo.WithTx(ctx, func(tx storage.Tx) error {
		return r.Append(ctx, tx, walletID, "u1", types.AuditCreate, map[string]any{"seed": seed})
	})
	require.NoError(t, err)

	entries, err := repo.ListAuditEntries(ctx, walletID, 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, types.AuditCreate, entries[0].Operation)
	assert.Equal(t, redacted, entries[0].Details["seed"])
}

func TestAppendDetachedSurvivesCancellation(t *testing.T) {
	repo := storage.NewMemory()
	r := NewRecorder(repo)
	walletID := uuid.New()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.NoError(t, r.AppendDetached(ctx, walletID, "u1", types.AuditSubmitTransaction, map[string]any{"successful": false}))

	entries, err := repo.ListAuditEntries(context.Background(), walletID, 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, types.AuditSubmitTransaction, entries[0].Operation)
}
