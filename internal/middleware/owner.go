package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	apperrors "github.com/better-wallet/ledger-custody/pkg/errors"
)

// OwnerHeader carries the caller identity resolved by the upstream
// authentication layer.
const OwnerHeader = "X-Owner-ID"

const maxOwnerIDLength = 256

type ownerKey struct{}

// RequireOwner rejects requests without a resolved owner and stores the owner
// id in the request context.
func RequireOwner(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ownerID := strings.TrimSpace(r.Header.Get(OwnerHeader))
		if ownerID == "" || len(ownerID) > maxOwnerIDLength {
			writeAppError(w, apperrors.New("unauthorized", "Owner identity is required", http.StatusUnauthorized))
			return
		}
		next.ServeHTTP(w, r.WithContext(WithOwnerID(r.Context(), ownerID)))
	})
}

// WithOwnerID stores ownerID in ctx.
func WithOwnerID(ctx context.Context, ownerID string) context.Context {
	return context.WithValue(ctx, ownerKey{}, ownerID)
}

// OwnerID returns the owner id stored by RequireOwner.
func OwnerID(ctx context.Context) string {
	id, _ := ctx.Value(ownerKey{}).(string)
	return id
}

func writeAppError(w http.ResponseWriter, appErr *apperrors.AppError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(appErr.StatusCode)
	_ = json.NewEncoder(w).Encode(appErr)
}
