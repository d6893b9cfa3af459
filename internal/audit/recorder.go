// Package audit appends the immutable record kept for every sensitive wallet
// operation.
package audit

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/better-wallet/ledger-custody/internal/logger"
	"github.com/better-wallet/ledger-custody/internal/storage"
	"github.com/better-wallet/ledger-custody/pkg/types"
)

// DetachedTimeout bounds an audit write that must outlive its request.
const DetachedTimeout = 5 * time.Second

const redacted = "[REDACTED]"

var (
	sensitiveKeyParts = []string{"secret", "seed", "private", "passphrase", "master"}
	seedPattern       = regexp.MustCompile(`S[A-Z2-7]{55}`)
)

// Recorder writes audit entries.
type Recorder struct {
	repo    storage.Repository
	timeout time.Duration
}

// NewRecorder creates a Recorder on repo.
func NewRecorder(repo storage.Repository) *Recorder {
	return &Recorder{repo: repo, timeout: DetachedTimeout}
}

// Entry builds a scrubbed audit entry.
func Entry(walletID uuid.UUID, userID string, op types.AuditOperation, details map[string]any) *types.AuditLogEntry {
	return &types.AuditLogEntry{
		ID:        uuid.New(),
		WalletID:  walletID,
		UserID:    userID,
		Operation: op,
		Details:   Scrub(details),
	}
}

// Append writes an entry inside tx, so it commits or rolls back with the
// business change it describes.
func (r *Recorder) Append(ctx context.Context, tx storage.Tx, walletID uuid.UUID, userID string, op types.AuditOperation, details map[string]any) error {
	if err := tx.AppendAudit(ctx, Entry(walletID, userID, op, details)); err != nil {
		return fmt.Errorf("failed to append %s audit entry: %w", op, err)
	}
	return nil
}

// AppendDetached writes an entry in its own transaction, even when ctx has
// already been cancelled. It is used after a network call whose effect may
// have happened regardless of the caller going away.
func (r *Recorder) AppendDetached(ctx context.Context, walletID uuid.UUID, userID string, op types.AuditOperation, details map[string]any) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
	defer cancel()

	err := r.repo.WithTx(ctx, func(tx storage.Tx) error {
		return r.Append(ctx, tx, walletID, userID, op, details)
	})
	if err != nil {
		logger.Error(ctx, "audit write failed", "wallet_id", walletID, "operation", op, "error", err)
	}
	return err
}

// Scrub returns a copy of details with anything that could be key material
// replaced by a placeholder: values under secret-sounding keys and any string
// shaped like an encoded seed.
func Scrub(details map[string]any) map[string]any {
	if details == nil {
		return nil
	}
	out := make(map[string]any, len(details))
	for k, v := range details {
		if isSensitiveKey(k) {
			out[k] = redacted
			continue
		}
		out[k] = scrubValue(v)
	}
	return out
}

func scrubValue(v any) any {
	switch val := v.(type) {
	case string:
		return seedPattern.ReplaceAllString(val, redacted)
	case map[string]any:
		return Scrub(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = scrubValue(item)
		}
		return out
	case []string:
		out := make([]string, len(val))
		for i, item := range val {
			out[i] = seedPattern.ReplaceAllString(item, redacted)
		}
		return out
	case error:
		return seedPattern.ReplaceAllString(val.Error(), redacted)
	default:
		return v
	}
}

func isSensitiveKey(k string) bool {
	k = strings.ToLower(k)
	for _, part := range sensitiveKeyParts {
		if strings.Contains(k, part) {
			return true
		}
	}
	return false
}
