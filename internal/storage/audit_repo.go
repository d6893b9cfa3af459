package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/better-wallet/ledger-custody/pkg/types"
)

// AuditRepository handles audit log operations. There is deliberately no
// update or delete; the table also rejects them with a trigger.
type AuditRepository struct{}

// CreateTx appends an audit entry using the provided transaction or connection
func (r *AuditRepository) CreateTx(ctx context.Context, db DBTX, entry *types.AuditLogEntry) error {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}

	var details []byte
	if len(entry.Details) > 0 {
		raw, err := json.Marshal(entry.Details)
		if err != nil {
			return fmt.Errorf("failed to encode audit details: %w", err)
		}
		details = raw
	}

	query := `
		INSERT INTO audit_logs (id, wallet_id, user_id, operation, details)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at
	`

	err := db.QueryRow(ctx, query,
		entry.ID,
		entry.WalletID,
		entry.UserID,
		entry.Operation,
		details,
	).Scan(&entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create audit log: %w", err)
	}

	return nil
}

// ListByWallet returns the newest entries of a wallet first
func (r *AuditRepository) ListByWallet(ctx context.Context, db DBTX, walletID uuid.UUID, limit int) ([]*types.AuditLogEntry, error) {
	if limit <= 0 || limit > DefaultAuditLimit {
		limit = DefaultAuditLimit
	}

	query := `
		SELECT id, wallet_id, user_id, operation, details, created_at
		FROM audit_logs
		WHERE wallet_id = $1
		ORDER BY created_at DESC, id
		LIMIT $2
	`

	rows, err := db.Query(ctx, query, walletID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit logs: %w", err)
	}
	defer rows.Close()

	var entries []*types.AuditLogEntry
	for rows.Next() {
		var (
			entry   types.AuditLogEntry
			details []byte
		)
		if err := rows.Scan(&entry.ID, &entry.WalletID, &entry.UserID, &entry.Operation, &details, &entry.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan audit log: %w", err)
		}
		if len(details) > 0 {
			if err := json.Unmarshal(details, &entry.Details); err != nil {
				return nil, fmt.Errorf("failed to decode audit details: %w", err)
			}
		}
		entries = append(entries, &entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate audit logs: %w", err)
	}

	return entries, nil
}
