package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/better-wallet/ledger-custody/pkg/types"
)

// Memory is an in-process Repository with the same unique constraints and
// optimistic version check as the Postgres schema. Transactions are
// serialized; a failed transaction leaves no trace.
type Memory struct {
	txMu sync.Mutex

	mu      sync.RWMutex
	wallets map[uuid.UUID]*types.Wallet
	audit   []*types.AuditLogEntry
	now     func() time.Time
}

// NewMemory creates an empty memory store.
func NewMemory() *Memory {
	return &Memory{
		wallets: make(map[uuid.UUID]*types.Wallet),
		now:     time.Now,
	}
}

// GetWallet implements Repository.
func (m *Memory) GetWallet(_ context.Context, id uuid.UUID) (*types.Wallet, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return cloneWallet(m.wallets[id]), nil
}

// GetWalletByOwnerNetwork implements Repository.
func (m *Memory) GetWalletByOwnerNetwork(_ context.Context, ownerID string, network types.Network) (*types.Wallet, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return cloneWallet(m.find(func(w *types.Wallet) bool {
		return w.OwnerID == ownerID && w.Network == network
	})), nil
}

// GetWalletByPublicKey implements Repository.
func (m *Memory) GetWalletByPublicKey(_ context.Context, publicKey string) (*types.Wallet, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return cloneWallet(m.find(func(w *types.Wallet) bool { return w.PublicKey == publicKey })), nil
}

// ListWalletsByOwner implements Repository.
func (m *Memory) ListWalletsByOwner(_ context.Context, ownerID string) ([]*types.Wallet, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*types.Wallet
	for _, w := range m.wallets {
		if w.OwnerID == ownerID {
			out = append(out, cloneWallet(w))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// ListAuditEntries implements Repository.
func (m *Memory) ListAuditEntries(_ context.Context, walletID uuid.UUID, limit int) ([]*types.AuditLogEntry, error) {
	if limit <= 0 || limit > DefaultAuditLimit {
		limit = DefaultAuditLimit
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*types.AuditLogEntry
	for i := len(m.audit) - 1; i >= 0 && len(out) < limit; i-- {
		if m.audit[i].WalletID == walletID {
			e := *m.audit[i]
			out = append(out, &e)
		}
	}
	return out, nil
}

// WithTx implements Repository.
func (m *Memory) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	m.txMu.Lock()
	defer m.txMu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	tx := &memTx{m: m, staged: make(map[uuid.UUID]*types.Wallet)}
	if err := fn(tx); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for id, w := range tx.staged {
		m.wallets[id] = w
	}
	m.audit = append(m.audit, tx.audit...)
	return nil
}

func (m *Memory) find(match func(*types.Wallet) bool) *types.Wallet {
	for _, w := range m.wallets {
		if match(w) {
			return w
		}
	}
	return nil
}

type memTx struct {
	m      *Memory
	staged map[uuid.UUID]*types.Wallet
	audit  []*types.AuditLogEntry
}

// view returns the wallet set as this transaction sees it.
func (t *memTx) view() map[uuid.UUID]*types.Wallet {
	t.m.mu.RLock()
	defer t.m.mu.RUnlock()

	out := make(map[uuid.UUID]*types.Wallet, len(t.m.wallets)+len(t.staged))
	for id, w := range t.m.wallets {
		out[id] = w
	}
	for id, w := range t.staged {
		out[id] = w
	}
	return out
}

func checkUnique(view map[uuid.UUID]*types.Wallet, candidate *types.Wallet) error {
	for id, w := range view {
		if id == candidate.ID {
			continue
		}
		if w.OwnerID == candidate.OwnerID && w.Network == candidate.Network {
			return &UniqueViolationError{Constraint: ConstraintOwnerNetwork}
		}
		if w.PublicKey == candidate.PublicKey {
			return &UniqueViolationError{Constraint: ConstraintPublicKey}
		}
	}
	return nil
}

func (t *memTx) CreateWallet(_ context.Context, wallet *types.Wallet) error {
	view := t.view()
	if _, exists := view[wallet.ID]; exists {
		return &UniqueViolationError{Constraint: "wallets_pkey"}
	}
	if err := checkUnique(view, wallet); err != nil {
		return err
	}

	now := t.m.now()
	wallet.CreatedAt, wallet.UpdatedAt = now, now
	wallet.RowVersion = 1
	t.staged[wallet.ID] = cloneWallet(wallet)
	return nil
}

func (t *memTx) UpdateWallet(_ context.Context, wallet *types.Wallet) error {
	view := t.view()
	current, ok := view[wallet.ID]
	if !ok || current.RowVersion != wallet.RowVersion {
		return ErrStaleWallet
	}
	if err := checkUnique(view, wallet); err != nil {
		return err
	}

	wallet.RowVersion = current.RowVersion + 1
	wallet.UpdatedAt = t.m.now()
	stored := cloneWallet(wallet)
	stored.OwnerID, stored.PublicKey, stored.CreatedAt = current.OwnerID, current.PublicKey, current.CreatedAt
	t.staged[wallet.ID] = stored
	return nil
}

func (t *memTx) AppendAudit(_ context.Context, entry *types.AuditLogEntry) error {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	entry.CreatedAt = t.m.now()

	e := *entry
	if entry.Details != nil {
		e.Details = make(map[string]any, len(entry.Details))
		for k, v := range entry.Details {
			e.Details[k] = v
		}
	}
	t.audit = append(t.audit, &e)
	return nil
}

func cloneWallet(w *types.Wallet) *types.Wallet {
	if w == nil {
		return nil
	}
	c := *w
	c.EncryptedSecretKey = cloneString(w.EncryptedSecretKey)
	c.EncryptionIV = cloneString(w.EncryptionIV)
	c.EncryptionAuthTag = cloneString(w.EncryptionAuthTag)
	c.ExternalCustodyRef = cloneString(w.ExternalCustodyRef)
	if w.MultisigConfig != nil {
		cfg := *w.MultisigConfig
		cfg.Signers = append([]types.MultisigSigner(nil), w.MultisigConfig.Signers...)
		c.MultisigConfig = &cfg
	}
	return &c
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
