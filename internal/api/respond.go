package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/better-wallet/ledger-custody/internal/logger"
	"github.com/better-wallet/ledger-custody/internal/middleware"
	apperrors "github.com/better-wallet/ledger-custody/pkg/errors"
)

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError renders AppErrors as-is. Anything else is logged and hidden
// behind a generic internal error.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	appErr, ok := apperrors.IsAppError(err)
	if !ok {
		logger.Error(r.Context(), "request failed", "path", r.URL.Path, "error", err)
		appErr = apperrors.ErrInternalError
	}
	writeJSON(w, appErr.StatusCode, appErr)
}

func decodeBody(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return apperrors.Validation("request body is required")
		}
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return apperrors.NewWithDetail(middleware.ErrCodePayloadTooLarge, "Request body too large",
				"body exceeds the request size limit", http.StatusRequestEntityTooLarge)
		}
		return apperrors.Validation("invalid JSON body: " + err.Error())
	}
	return nil
}

func walletIDParam(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, "walletID"))
	if err != nil {
		return uuid.Nil, apperrors.Validation("wallet id must be a UUID")
	}
	return id, nil
}
