package storage

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/better-wallet/ledger-custody/pkg/types"
)

func newWallet(owner string, network types.Network, publicKey string) *types.Wallet {
	return &types.Wallet{
		ID:              uuid.New(),
		OwnerID:         owner,
		PublicKey:       publicKey,
		KeyDerivation:   types.KeyDerivationNone,
		Network:         network,
		Custody:         types.CustodyServer,
		RotationVersion: 1,
	}
}

func create(t *testing.T, m *Memory, w *types.Wallet) error {
	t.Helper()
	return m.WithTx(context.Background(), func(tx Tx) error {
		return tx.CreateWallet(context.Background(), w)
	})
}

func TestMemoryCreateAndGet(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	w := newWallet("u1", types.NetworkTestnet, "GPUB1")
	w.SetSealed(&types.SealedSecret{Ciphertext: "c", IV: "i", AuthTag: "t"})
	require.NoError(t, create(t, m, w))

	got, err := m.GetWallet(ctx, w.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "GPUB1", got.PublicKey)
	assert.False(t, got.CreatedAt.IsZero())

	*got.EncryptedSecretKey = "mutated"
	again, _ := m.GetWallet(ctx, w.ID)
	assert.Equal(t, "c", *again.EncryptedSecretKey, "reads return copies")

	byOwner, err := m.GetWalletByOwnerNetwork(ctx, "u1", types.NetworkTestnet)
	require.NoError(t, err)
	assert.Equal(t, w.ID, byOwner.ID)

	byKey, err := m.GetWalletByPublicKey(ctx, "GPUB1")
	require.NoError(t, err)
	assert.Equal(t, w.ID, byKey.ID)

	missing, err := m.GetWallet(ctx, uuid.New())
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestMemoryUniqueConstraints(t *testing.T) {
	m := NewMemory()
	require.NoError(t, create(t, m, newWallet("u1", types.NetworkTestnet, "GPUB1")))

	err := create(t, m, newWallet("u1", types.NetworkTestnet, "GPUB2"))
	constraint, ok := IsUniqueViolation(err)
	require.True(t, ok)
	assert.Equal(t, ConstraintOwnerNetwork, constraint)

	err = create(t, m, newWallet("u2", types.NetworkPublic, "GPUB1"))
	constraint, ok = IsUniqueViolation(err)
	require.True(t, ok)
	assert.Equal(t, ConstraintPublicKey, constraint)

	require.NoError(t, create(t, m, newWallet("u1", types.NetworkPublic, "GPUB3")))
	list, err := m.ListWalletsByOwner(context.Background(), "u1")
	require.NoError(t, err)
	assert.Len(t, list, 2)
}

func TestMemoryTxRollback(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	w := newWallet("u1", types.NetworkTestnet, "GPUB1")

	boom := errors.New("boom")
	err := m.WithTx(ctx, func(tx Tx) error {
		require.NoError(t, tx.CreateWallet(ctx, w))
		require.NoError(t, tx.AppendAudit(ctx, &types.AuditLogEntry{WalletID: w.ID, UserID: "u1", Operation: types.AuditCreate}))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	got, _ := m.GetWallet(ctx, w.ID)
	assert.Nil(t, got)
	entries, _ := m.ListAuditEntries(ctx, w.ID, 0)
	assert.Empty(t, entries)
}

func TestMemoryUpdateWallet(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	w := newWallet("u1", types.NetworkTestnet, "GPUB1")
	require.NoError(t, create(t, m, w))
	other := newWallet("u1", types.NetworkPublic, "GPUB2")
	require.NoError(t, create(t, m, other))

	t.Run("version bump", func(t *testing.T) {
		assert.Equal(t, 1, w.RowVersion)
		w.RotationVersion = 2
		err := m.WithTx(ctx, func(tx Tx) error { return tx.UpdateWallet(ctx, w) })
		require.NoError(t, err)
		assert.Equal(t, 2, w.RowVersion)

		got, _ := m.GetWallet(ctx, w.ID)
		assert.Equal(t, 2, got.RotationVersion)
		assert.Equal(t, 2, got.RowVersion)
	})

	t.Run("stale row version", func(t *testing.T) {
		stale := *w
		stale.RowVersion = 1
		stale.RotationVersion = 3
		err := m.WithTx(ctx, func(tx Tx) error { return tx.UpdateWallet(ctx, &stale) })
		assert.ErrorIs(t, err, ErrStaleWallet)

		got, _ := m.GetWallet(ctx, w.ID)
		assert.Equal(t, 2, got.RotationVersion)
	})

	t.Run("writes that keep the rotation version still conflict", func(t *testing.T) {
		a, _ := m.GetWallet(ctx, w.ID)
		b, _ := m.GetWallet(ctx, w.ID)

		a.Network = types.NetworkTestnet
		require.NoError(t, m.WithTx(ctx, func(tx Tx) error { return tx.UpdateWallet(ctx, a) }))

		b.RotationVersion++
		err := m.WithTx(ctx, func(tx Tx) error { return tx.UpdateWallet(ctx, b) })
		assert.ErrorIs(t, err, ErrStaleWallet)
	})

	t.Run("network already claimed", func(t *testing.T) {
		moved, _ := m.GetWallet(ctx, w.ID)
		moved.Network = types.NetworkPublic
		err := m.WithTx(ctx, func(tx Tx) error { return tx.UpdateWallet(ctx, moved) })
		constraint, ok := IsUniqueViolation(err)
		require.True(t, ok)
		assert.Equal(t, ConstraintOwnerNetwork, constraint)
	})
}

func TestMemoryConcurrentCreate(t *testing.T) {
	m := NewMemory()

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			w := newWallet("u1", types.NetworkTestnet, uuid.NewString())
			err := m.WithTx(context.Background(), func(tx Tx) error {
				return tx.CreateWallet(context.Background(), w)
			})
			if err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	list, _ := m.ListWalletsByOwner(context.Background(), "u1")
	assert.Len(t, list, 1)
}

func TestMemoryAuditOrdering(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	id := uuid.New()

	for _, op := range []types.AuditOperation{types.AuditCreate, types.AuditSignTransaction, types.AuditSubmitTransaction} {
		op := op
		require.NoError(t, m.WithTx(ctx, func(tx Tx) error {
			return tx.AppendAudit(ctx, &types.AuditLogEntry{WalletID: id, UserID: "u1", Operation: op})
		}))
	}

	entries, err := m.ListAuditEntries(ctx, id, 2)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, types.AuditSubmitTransaction, entries[0].Operation)
	assert.Equal(t, types.AuditSignTransaction, entries[1].Operation)
}
