package errors

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// AppError represents an application-level error with HTTP status code
type AppError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	Detail     string `json:"detail,omitempty"`
	StatusCode int    `json:"-"`
}

func (e *AppError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, e.Detail)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Error codes
const (
	ErrCodeConfiguration    = "configuration_error"
	ErrCodeValidation       = "validation_error"
	ErrCodeNotFound         = "not_found"
	ErrCodeWalletNotFound   = "wallet_not_found"
	ErrCodeAccountNotFound  = "account_not_found"
	ErrCodeConflict         = "conflict"
	ErrCodeDecryption       = "decryption_error"
	ErrCodeInvalidOperation = "invalid_operation"
	ErrCodeInternalError    = "internal_error"

	// Ledger errors share the "ledger_" prefix so callers can match the class
	// as a whole or a specific rejection reason.
	ErrCodeLedgerRejected        = "ledger_rejected"
	ErrCodeLedgerBadSequence     = "ledger_bad_sequence"
	ErrCodeLedgerExpired         = "ledger_envelope_expired"
	ErrCodeLedgerInsufficientFee = "ledger_insufficient_fee"
	ErrCodeLedgerUnavailable     = "ledger_unavailable"
)

const ledgerCodePrefix = "ledger_"

// Predefined errors
var (
	ErrNotFound = &AppError{
		Code:       ErrCodeNotFound,
		Message:    "Resource not found",
		StatusCode: http.StatusNotFound,
	}

	ErrInternalError = &AppError{
		Code:       ErrCodeInternalError,
		Message:    "Internal server error",
		StatusCode: http.StatusInternalServerError,
	}
)

// New creates a new AppError
func New(code, message string, statusCode int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		StatusCode: statusCode,
	}
}

// NewWithDetail creates a new AppError with additional detail
func NewWithDetail(code, message, detail string, statusCode int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		Detail:     detail,
		StatusCode: statusCode,
	}
}

// Configuration reports a missing or malformed master key or other process
// configuration. The detail must never include the offending value.
func Configuration(detail string) *AppError {
	return NewWithDetail(ErrCodeConfiguration, "Configuration error", detail, http.StatusInternalServerError)
}

// Validation reports malformed input rejected before any network call.
func Validation(detail string) *AppError {
	return NewWithDetail(ErrCodeValidation, "Invalid request parameters", detail, http.StatusBadRequest)
}

// Validationf is Validation with formatting.
func Validationf(format string, args ...any) *AppError {
	return Validation(fmt.Sprintf(format, args...))
}

// Conflict reports a uniqueness violation that must not be merged.
func Conflict(detail string) *AppError {
	return NewWithDetail(ErrCodeConflict, "Request conflict", detail, http.StatusConflict)
}

// Decryption reports an authentication tag mismatch.
func Decryption(detail string) *AppError {
	return NewWithDetail(ErrCodeDecryption, "Failed to decrypt key material", detail, http.StatusInternalServerError)
}

// InvalidOperation reports an operation that is not allowed for the target.
func InvalidOperation(detail string) *AppError {
	return NewWithDetail(ErrCodeInvalidOperation, "Operation not allowed", detail, http.StatusUnprocessableEntity)
}

// WalletNotFound creates a wallet not found error
func WalletNotFound(walletID string) *AppError {
	return &AppError{
		Code:       ErrCodeWalletNotFound,
		Message:    "Wallet not found",
		Detail:     fmt.Sprintf("wallet_id: %s", walletID),
		StatusCode: http.StatusNotFound,
	}
}

// AccountNotFound reports that the ledger has no account for a public key.
func AccountNotFound(publicKey string) *AppError {
	return &AppError{
		Code:       ErrCodeAccountNotFound,
		Message:    "Ledger account not found",
		Detail:     fmt.Sprintf("public_key: %s", publicKey),
		StatusCode: http.StatusNotFound,
	}
}

// Ledger creates a ledger error carrying the gateway's reason verbatim.
func Ledger(code, reason string) *AppError {
	if !strings.HasPrefix(code, ledgerCodePrefix) {
		code = ErrCodeLedgerRejected
	}
	status := http.StatusBadRequest
	if code == ErrCodeLedgerUnavailable {
		status = http.StatusBadGateway
	}
	return NewWithDetail(code, "Ledger rejected the request", reason, status)
}

// IsAppError checks if an error is an AppError
func IsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// IsCode reports whether err is an AppError with the given code.
func IsCode(err error, code string) bool {
	appErr, ok := IsAppError(err)
	return ok && appErr.Code == code
}

// IsLedgerError reports whether err belongs to the ledger error class.
func IsLedgerError(err error) bool {
	appErr, ok := IsAppError(err)
	return ok && strings.HasPrefix(appErr.Code, ledgerCodePrefix)
}
