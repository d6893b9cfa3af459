package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/better-wallet/ledger-custody/internal/app"
	"github.com/better-wallet/ledger-custody/internal/middleware"
	apperrors "github.com/better-wallet/ledger-custody/pkg/errors"
	"github.com/better-wallet/ledger-custody/pkg/types"
)

// WalletResponse represents a wallet in API responses. Ciphertext is only
// ever returned through the backup endpoint.
type WalletResponse struct {
	ID                 uuid.UUID             `json:"id"`
	OwnerID            string                `json:"owner_id"`
	PublicKey          string                `json:"public_key"`
	Network            types.Network         `json:"network"`
	Custody            types.Custody         `json:"custody"`
	KeyDerivation      types.KeyDerivation   `json:"key_derivation"`
	HasEncryptedSecret bool                  `json:"has_encrypted_secret"`
	ExternalCustodyRef *string               `json:"external_custody_ref,omitempty"`
	IsMultiSig         bool                  `json:"is_multisig"`
	MultisigConfig     *types.MultisigConfig `json:"multisig_config,omitempty"`
	RotationVersion    int                   `json:"rotation_version"`
	CreatedAt          int64                 `json:"created_at"` // Unix timestamp in milliseconds
	UpdatedAt          int64                 `json:"updated_at"`
}

func newWalletResponse(w *types.Wallet) WalletResponse {
	return WalletResponse{
		ID:                 w.ID,
		OwnerID:            w.OwnerID,
		PublicKey:          w.PublicKey,
		Network:            w.Network,
		Custody:            w.Custody,
		KeyDerivation:      w.KeyDerivation,
		HasEncryptedSecret: w.Sealed() != nil,
		ExternalCustodyRef: w.ExternalCustodyRef,
		IsMultiSig:         w.IsMultiSig,
		MultisigConfig:     w.MultisigConfig,
		RotationVersion:    w.RotationVersion,
		CreatedAt:          w.CreatedAt.UnixMilli(),
		UpdatedAt:          w.UpdatedAt.UnixMilli(),
	}
}

// NetworkRequest selects a network
type NetworkRequest struct {
	Network types.Network `json:"network"`
}

// CreateWalletRequest represents the custodial wallet creation request
type CreateWalletRequest struct {
	Network        types.Network         `json:"network"`
	MultisigConfig *types.MultisigConfig `json:"multisig_config,omitempty"`
}

// SealedSecretInput is a client-side encrypted secret. All three fields are
// supplied together or not at all.
type SealedSecretInput struct {
	EncryptedSecretKey string              `json:"encrypted_secret_key,omitempty"`
	EncryptionIV       string              `json:"encryption_iv,omitempty"`
	EncryptionAuthTag  string              `json:"encryption_auth_tag,omitempty"`
	KeyDerivation      types.KeyDerivation `json:"key_derivation,omitempty"`
}

func (in SealedSecretInput) sealed() *types.SealedSecret {
	if in.EncryptedSecretKey == "" && in.EncryptionIV == "" && in.EncryptionAuthTag == "" {
		return nil
	}
	return &types.SealedSecret{Ciphertext: in.EncryptedSecretKey, IV: in.EncryptionIV, AuthTag: in.EncryptionAuthTag}
}

// CreateNonCustodialWalletRequest registers a wallet whose key stays with the client
type CreateNonCustodialWalletRequest struct {
	SealedSecretInput
	Network            types.Network         `json:"network"`
	PublicKey          string                `json:"public_key"`
	ExternalCustodyRef *string               `json:"external_custody_ref,omitempty"`
	MultisigConfig     *types.MultisigConfig `json:"multisig_config,omitempty"`
}

// RotateKeysRequest carries replacement key material for non-custodial wallets
type RotateKeysRequest struct {
	SealedSecretInput
	ExternalCustodyRef *string `json:"external_custody_ref,omitempty"`
}

// FundRequest names the account to fund on testnet
type FundRequest struct {
	PublicKey string `json:"public_key"`
}

func (s *Server) handleEnsureWallet(w http.ResponseWriter, r *http.Request) {
	var req NetworkRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	wallet, err := s.walletService.EnsureWallet(r.Context(), middleware.OwnerID(r.Context()), req.Network)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newWalletResponse(wallet))
}

func (s *Server) handleCreateWallet(w http.ResponseWriter, r *http.Request) {
	var req CreateWalletRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	wallet, err := s.walletService.CreateWallet(r.Context(), &app.CreateWalletRequest{
		OwnerID:  middleware.OwnerID(r.Context()),
		Network:  req.Network,
		Multisig: req.MultisigConfig,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, newWalletResponse(wallet))
}

func (s *Server) handleCreateNonCustodialWallet(w http.ResponseWriter, r *http.Request) {
	var req CreateNonCustodialWalletRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	wallet, err := s.walletService.CreateNonCustodialWallet(r.Context(), &app.CreateNonCustodialWalletRequest{
		OwnerID:            middleware.OwnerID(r.Context()),
		Network:            req.Network,
		PublicKey:          req.PublicKey,
		Sealed:             req.sealed(),
		KeyDerivation:      req.KeyDerivation,
		ExternalCustodyRef: req.ExternalCustodyRef,
		Multisig:           req.MultisigConfig,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, newWalletResponse(wallet))
}

func (s *Server) handleListWallets(w http.ResponseWriter, r *http.Request) {
	wallets, err := s.walletService.ListWallets(r.Context(), middleware.OwnerID(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	out := make([]WalletResponse, 0, len(wallets))
	for _, wallet := range wallets {
		out = append(out, newWalletResponse(wallet))
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": out})
}

func (s *Server) handleGetWallet(w http.ResponseWriter, r *http.Request) {
	id, err := walletIDParam(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	wallet, err := s.walletService.GetWallet(r.Context(), id, middleware.OwnerID(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newWalletResponse(wallet))
}

func (s *Server) handleGetBalance(w http.ResponseWriter, r *http.Request) {
	id, err := walletIDParam(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	n := types.Network(r.URL.Query().Get("network"))
	snapshot, err := s.walletService.GetBalance(r.Context(), id, middleware.OwnerID(r.Context()), n)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snapshot)
}

func (s *Server) handleListAudit(w http.ResponseWriter, r *http.Request) {
	id, err := walletIDParam(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if limit, err = strconv.Atoi(raw); err != nil || limit < 0 {
			writeError(w, r, apperrors.Validation("limit must be a non-negative integer"))
			return
		}
	}
	entries, err := s.walletService.ListAuditLog(r.Context(), id, middleware.OwnerID(r.Context()), limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": entries})
}

func (s *Server) handleSwitchNetwork(w http.ResponseWriter, r *http.Request) {
	id, err := walletIDParam(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req NetworkRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	wallet, err := s.walletService.SwitchNetwork(r.Context(), id, middleware.OwnerID(r.Context()), req.Network)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newWalletResponse(wallet))
}

func (s *Server) handleRotateKeys(w http.ResponseWriter, r *http.Request) {
	id, err := walletIDParam(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req RotateKeysRequest
	if r.ContentLength != 0 {
		if err := decodeBody(r, &req); err != nil {
			writeError(w, r, err)
			return
		}
	}
	wallet, err := s.walletService.RotateKeys(r.Context(), &app.RotateKeysRequest{
		WalletID:           id,
		OwnerID:            middleware.OwnerID(r.Context()),
		Sealed:             req.sealed(),
		KeyDerivation:      req.KeyDerivation,
		ExternalCustodyRef: req.ExternalCustodyRef,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newWalletResponse(wallet))
}

func (s *Server) handleExportBackup(w http.ResponseWriter, r *http.Request) {
	id, err := walletIDParam(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	bundle, err := s.walletService.ExportBackup(r.Context(), id, middleware.OwnerID(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, bundle)
}

func (s *Server) handleRecoverWallet(w http.ResponseWriter, r *http.Request) {
	var bundle types.BackupBundle
	if err := decodeBody(r, &bundle); err != nil {
		writeError(w, r, err)
		return
	}
	if bundle.ExportedAt.IsZero() {
		bundle.ExportedAt = time.Now().UTC()
	}
	wallet, err := s.walletService.RecoverWallet(r.Context(), middleware.OwnerID(r.Context()), &bundle)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, newWalletResponse(wallet))
}

func (s *Server) handleFundTestnet(w http.ResponseWriter, r *http.Request) {
	var req FundRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	res, err := s.walletService.FundTestnet(r.Context(), middleware.OwnerID(r.Context()), req.PublicKey)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
