package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/better-wallet/ledger-custody/pkg/types"
)

const pgUniqueViolation = "23505"

// DBTX is an interface that both pgxpool.Pool and pgx.Tx implement
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

// Store is the Postgres Repository.
type Store struct {
	pool    *pgxpool.Pool
	wallets *WalletRepository
	audit   *AuditRepository
}

// New creates a new Store instance
func New(ctx context.Context, dsn string) (*Store, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database DSN: %w", err)
	}

	config.MaxConns = 25
	config.MinConns = 5

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create database pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{pool: pool, wallets: &WalletRepository{}, audit: &AuditRepository{}}, nil
}

// Close closes the database connection pool
func (s *Store) Close() {
	s.pool.Close()
}

// DB returns the underlying database pool for direct queries
func (s *Store) DB() *pgxpool.Pool {
	return s.pool
}

// WithTx runs fn inside a database transaction, committing only if fn
// succeeds.
func (s *Store) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if err := fn(&pgTx{tx: tx, wallets: s.wallets, audit: s.audit}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", mapError(err))
	}
	return nil
}

type pgTx struct {
	tx      pgx.Tx
	wallets *WalletRepository
	audit   *AuditRepository
}

func (t *pgTx) CreateWallet(ctx context.Context, wallet *types.Wallet) error {
	return t.wallets.CreateTx(ctx, t.tx, wallet)
}

func (t *pgTx) UpdateWallet(ctx context.Context, wallet *types.Wallet) error {
	return t.wallets.UpdateTx(ctx, t.tx, wallet)
}

func (t *pgTx) AppendAudit(ctx context.Context, entry *types.AuditLogEntry) error {
	return t.audit.CreateTx(ctx, t.tx, entry)
}

// mapError converts a Postgres unique violation into UniqueViolationError.
func mapError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		return &UniqueViolationError{Constraint: pgErr.ConstraintName}
	}
	return err
}

// GetWallet implements Repository.
func (s *Store) GetWallet(ctx context.Context, id uuid.UUID) (*types.Wallet, error) {
	return s.wallets.GetByID(ctx, s.pool, id)
}

// GetWalletByOwnerNetwork implements Repository.
func (s *Store) GetWalletByOwnerNetwork(ctx context.Context, ownerID string, network types.Network) (*types.Wallet, error) {
	return s.wallets.GetByOwnerNetwork(ctx, s.pool, ownerID, network)
}

// GetWalletByPublicKey implements Repository.
func (s *Store) GetWalletByPublicKey(ctx context.Context, publicKey string) (*types.Wallet, error) {
	return s.wallets.GetByPublicKey(ctx, s.pool, publicKey)
}

// ListWalletsByOwner implements Repository.
func (s *Store) ListWalletsByOwner(ctx context.Context, ownerID string) ([]*types.Wallet, error) {
	return s.wallets.ListByOwner(ctx, s.pool, ownerID)
}

// ListAuditEntries implements Repository.
func (s *Store) ListAuditEntries(ctx context.Context, walletID uuid.UUID, limit int) ([]*types.AuditLogEntry, error) {
	return s.audit.ListByWallet(ctx, s.pool, walletID, limit)
}
