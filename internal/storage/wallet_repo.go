package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/better-wallet/ledger-custody/pkg/types"
)

const walletColumns = `
	id, owner_id, public_key, encrypted_secret_key, encryption_iv, encryption_auth_tag,
	key_derivation, network, custody, external_custody_ref, is_multisig, multisig_config,
	rotation_version, row_version, created_at, updated_at`

// WalletRepository handles wallet data operations
type WalletRepository struct{}

// CreateTx inserts a wallet using the provided transaction or connection
func (r *WalletRepository) CreateTx(ctx context.Context, db DBTX, wallet *types.Wallet) error {
	multisig, err := marshalMultisig(wallet.MultisigConfig)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO wallets (
			id, owner_id, public_key, encrypted_secret_key, encryption_iv, encryption_auth_tag,
			key_derivation, network, custody, external_custody_ref, is_multisig, multisig_config,
			rotation_version
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING row_version, created_at, updated_at
	`

	err = db.QueryRow(ctx, query,
		wallet.ID,
		wallet.OwnerID,
		wallet.PublicKey,
		wallet.EncryptedSecretKey,
		wallet.EncryptionIV,
		wallet.EncryptionAuthTag,
		wallet.KeyDerivation,
		wallet.Network,
		wallet.Custody,
		wallet.ExternalCustodyRef,
		wallet.IsMultiSig,
		multisig,
		wallet.RotationVersion,
	).Scan(&wallet.RowVersion, &wallet.CreatedAt, &wallet.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create wallet: %w", mapError(err))
	}

	return nil
}

// UpdateTx rewrites the mutable columns of a wallet, guarded by the row
// version the caller read. Every update bumps the row version, so two writers
// that read the same row cannot both succeed.
func (r *WalletRepository) UpdateTx(ctx context.Context, db DBTX, wallet *types.Wallet) error {
	multisig, err := marshalMultisig(wallet.MultisigConfig)
	if err != nil {
		return err
	}

	query := `
		UPDATE wallets SET
			encrypted_secret_key = $3,
			encryption_iv = $4,
			encryption_auth_tag = $5,
			key_derivation = $6,
			network = $7,
			custody = $8,
			external_custody_ref = $9,
			is_multisig = $10,
			multisig_config = $11,
			rotation_version = $12,
			row_version = row_version + 1,
			updated_at = NOW()
		WHERE id = $1 AND row_version = $2
		RETURNING row_version, updated_at
	`

	err = db.QueryRow(ctx, query,
		wallet.ID,
		wallet.RowVersion,
		wallet.EncryptedSecretKey,
		wallet.EncryptionIV,
		wallet.EncryptionAuthTag,
		wallet.KeyDerivation,
		wallet.Network,
		wallet.Custody,
		wallet.ExternalCustodyRef,
		wallet.IsMultiSig,
		multisig,
		wallet.RotationVersion,
	).Scan(&wallet.RowVersion, &wallet.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrStaleWallet
	}
	if err != nil {
		return fmt.Errorf("failed to update wallet: %w", mapError(err))
	}

	return nil
}

// GetByID retrieves a wallet by ID
func (r *WalletRepository) GetByID(ctx context.Context, db DBTX, id uuid.UUID) (*types.Wallet, error) {
	return r.getOne(ctx, db, `SELECT `+walletColumns+` FROM wallets WHERE id = $1`, id)
}

// GetByOwnerNetwork retrieves the wallet an owner holds on a network
func (r *WalletRepository) GetByOwnerNetwork(ctx context.Context, db DBTX, ownerID string, network types.Network) (*types.Wallet, error) {
	return r.getOne(ctx, db, `SELECT `+walletColumns+` FROM wallets WHERE owner_id = $1 AND network = $2`, ownerID, network)
}

// GetByPublicKey retrieves a wallet by its public key, across all owners
func (r *WalletRepository) GetByPublicKey(ctx context.Context, db DBTX, publicKey string) (*types.Wallet, error) {
	return r.getOne(ctx, db, `SELECT `+walletColumns+` FROM wallets WHERE public_key = $1`, publicKey)
}

// ListByOwner retrieves all wallets of an owner
func (r *WalletRepository) ListByOwner(ctx context.Context, db DBTX, ownerID string) ([]*types.Wallet, error) {
	rows, err := db.Query(ctx, `SELECT `+walletColumns+` FROM wallets WHERE owner_id = $1 ORDER BY created_at`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list wallets: %w", err)
	}
	defer rows.Close()

	var wallets []*types.Wallet
	for rows.Next() {
		wallet, err := scanWallet(rows)
		if err != nil {
			return nil, err
		}
		wallets = append(wallets, wallet)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate wallets: %w", err)
	}

	return wallets, nil
}

func (r *WalletRepository) getOne(ctx context.Context, db DBTX, query string, args ...interface{}) (*types.Wallet, error) {
	wallet, err := scanWallet(db.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return wallet, nil
}

func scanWallet(row pgx.Row) (*types.Wallet, error) {
	var (
		wallet   types.Wallet
		multisig []byte
	)
	err := row.Scan(
		&wallet.ID,
		&wallet.OwnerID,
		&wallet.PublicKey,
		&wallet.EncryptedSecretKey,
		&wallet.EncryptionIV,
		&wallet.EncryptionAuthTag,
		&wallet.KeyDerivation,
		&wallet.Network,
		&wallet.Custody,
		&wallet.ExternalCustodyRef,
		&wallet.IsMultiSig,
		&multisig,
		&wallet.RotationVersion,
		&wallet.RowVersion,
		&wallet.CreatedAt,
		&wallet.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan wallet: %w", err)
	}

	if len(multisig) > 0 {
		wallet.MultisigConfig = &types.MultisigConfig{}
		if err := json.Unmarshal(multisig, wallet.MultisigConfig); err != nil {
			return nil, fmt.Errorf("failed to decode multisig config: %w", err)
		}
	}

	return &wallet, nil
}

func marshalMultisig(cfg *types.MultisigConfig) ([]byte, error) {
	if cfg == nil {
		return nil, nil
	}
	raw, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to encode multisig config: %w", err)
	}
	return raw, nil
}
