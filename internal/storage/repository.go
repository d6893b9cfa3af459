package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/better-wallet/ledger-custody/pkg/types"
)

// Unique constraint names shared by the Postgres schema and the memory store.
const (
	ConstraintOwnerNetwork = "wallets_owner_network_key"
	ConstraintPublicKey    = "wallets_public_key_key"
)

// DefaultAuditLimit caps ListAuditEntries when no limit is given.
const DefaultAuditLimit = 100

// ErrStaleWallet is returned by UpdateWallet when the row changed since it was
// read.
var ErrStaleWallet = errors.New("wallet was modified concurrently")

// UniqueViolationError reports an insert or update rejected by a unique
// constraint.
type UniqueViolationError struct {
	Constraint string
}

func (e *UniqueViolationError) Error() string {
	return fmt.Sprintf("unique constraint %q violated", e.Constraint)
}

// IsUniqueViolation reports whether err is a unique violation, and on which
// constraint.
func IsUniqueViolation(err error) (string, bool) {
	var uv *UniqueViolationError
	if errors.As(err, &uv) {
		return uv.Constraint, true
	}
	return "", false
}

// Repository is the wallet store. Lookups return nil, nil when nothing matches.
// Writes only happen inside WithTx so a business change and its audit entry
// commit together.
type Repository interface {
	GetWallet(ctx context.Context, id uuid.UUID) (*types.Wallet, error)
	GetWalletByOwnerNetwork(ctx context.Context, ownerID string, network types.Network) (*types.Wallet, error)
	GetWalletByPublicKey(ctx context.Context, publicKey string) (*types.Wallet, error)
	ListWalletsByOwner(ctx context.Context, ownerID string) ([]*types.Wallet, error)
	ListAuditEntries(ctx context.Context, walletID uuid.UUID, limit int) ([]*types.AuditLogEntry, error)

	WithTx(ctx context.Context, fn func(tx Tx) error) error
}

// Tx is the write side of a storage transaction.
type Tx interface {
	CreateWallet(ctx context.Context, wallet *types.Wallet) error
	// UpdateWallet persists wallet if its stored row version still equals
	// wallet.RowVersion, otherwise it returns ErrStaleWallet. On success
	// wallet.RowVersion holds the new version.
	UpdateWallet(ctx context.Context, wallet *types.Wallet) error
	AppendAudit(ctx context.Context, entry *types.AuditLogEntry) error
}

var (
	_ Repository = (*Store)(nil)
	_ Repository = (*Memory)(nil)
)
