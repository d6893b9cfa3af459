package middleware

import (
	"fmt"
	"net/http"

	apperrors "github.com/better-wallet/ledger-custody/pkg/errors"
)

// DefaultMaxBodyBytes fits the largest request the API accepts: a
// 100-operation envelope or a backup bundle.
const DefaultMaxBodyBytes = 256 << 10

// ErrCodePayloadTooLarge is returned for bodies over the limit.
const ErrCodePayloadTooLarge = "payload_too_large"

// LimitBody caps request bodies at maxBytes. A declared Content-Length over
// the cap is rejected up front; anything else is cut off while reading.
func LimitBody(maxBytes int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.ContentLength > maxBytes {
				writeAppError(w, apperrors.NewWithDetail(ErrCodePayloadTooLarge, "Request body too large",
					fmt.Sprintf("limit is %d bytes", maxBytes), http.StatusRequestEntityTooLarge))
				return
			}
			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			next.ServeHTTP(w, r)
		})
	}
}
