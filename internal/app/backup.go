package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/better-wallet/ledger-custody/internal/keypair"
	"github.com/better-wallet/ledger-custody/internal/logger"
	"github.com/better-wallet/ledger-custody/internal/storage"
	apperrors "github.com/better-wallet/ledger-custody/pkg/errors"
	"github.com/better-wallet/ledger-custody/pkg/types"
)

// RotateKeysRequest represents a key rotation. Server-held wallets take no
// replacement material; client-held and external wallets must supply a new
// ciphertext, a new external reference, or both.
type RotateKeysRequest struct {
	WalletID           uuid.UUID
	OwnerID            string
	Sealed             *types.SealedSecret
	KeyDerivation      types.KeyDerivation
	ExternalCustodyRef *string
}

// ExportBackup returns the wallet's public key and its ciphertext exactly as
// stored. Nothing is decrypted.
func (s *WalletService) ExportBackup(ctx context.Context, walletID uuid.UUID, ownerID string) (bundle *types.BackupBundle, err error) {
	defer func() { s.metrics.IncWalletOp("export_backup", err) }()

	w, err := s.GetWallet(ctx, walletID, ownerID)
	if err != nil {
		return nil, err
	}
	sealed := w.Sealed()
	if sealed == nil {
		return nil, apperrors.InvalidOperation("wallet stores no ciphertext to export")
	}

	bundle = &types.BackupBundle{
		PublicKey:          w.PublicKey,
		EncryptedSecretKey: sealed.Ciphertext,
		EncryptionIV:       sealed.IV,
		EncryptionAuthTag:  sealed.AuthTag,
		KeyDerivation:      w.KeyDerivation,
		Network:            w.Network,
		IsMultiSig:         w.IsMultiSig,
		MultisigConfig:     w.MultisigConfig,
		ExportedAt:         time.Now().UTC(),
	}

	err = s.repo.WithTx(ctx, func(tx storage.Tx) error {
		return s.audit.Append(ctx, tx, w.ID, ownerID, types.AuditBackupExport, map[string]any{
			"network":          string(w.Network),
			"key_derivation":   string(w.KeyDerivation),
			"rotation_version": w.RotationVersion,
		})
	})
	if err != nil {
		return nil, err
	}
	return bundle, nil
}

// RecoverWallet recreates a wallet from a backup bundle. The public key must
// not exist for any owner. Bundles sealed under the master key are decrypted
// once to prove they match their public key and become server-held again;
// passphrase-sealed bundles are stored verbatim as client-held.
func (s *WalletService) RecoverWallet(ctx context.Context, ownerID string, bundle *types.BackupBundle) (w *types.Wallet, err error) {
	defer func() { s.metrics.IncWalletOp("recover_wallet", err) }()

	if bundle == nil {
		return nil, apperrors.Validation("backup bundle is required")
	}
	if err := validateOwnerNetwork(ownerID, bundle.Network); err != nil {
		return nil, err
	}
	if !keypair.IsValidAddress(bundle.PublicKey) {
		return nil, apperrors.Validation("bundle public key is not a valid account address")
	}
	if !bundle.KeyDerivation.Valid() {
		return nil, apperrors.Validationf("unsupported key derivation %q", bundle.KeyDerivation)
	}
	sealed := &types.SealedSecret{
		Ciphertext: bundle.EncryptedSecretKey,
		IV:         bundle.EncryptionIV,
		AuthTag:    bundle.EncryptionAuthTag,
	}
	if err := validateSealed(sealed); err != nil {
		return nil, err
	}
	if bundle.IsMultiSig != (bundle.MultisigConfig != nil) {
		return nil, apperrors.Validation("isMultiSig and multisigConfig disagree")
	}
	if err := ValidateMultisigConfig(bundle.MultisigConfig); err != nil {
		return nil, err
	}

	if err := s.ensureAvailable(ctx, ownerID, bundle.Network, bundle.PublicKey); err != nil {
		return nil, err
	}

	custody := types.CustodyClient
	if bundle.KeyDerivation == types.KeyDerivationNone {
		if err := s.exec.Verify(ctx, sealed, bundle.PublicKey); err != nil {
			return nil, err
		}
		custody = types.CustodyServer
	}

	w = &types.Wallet{
		ID:              uuid.New(),
		OwnerID:         ownerID,
		PublicKey:       bundle.PublicKey,
		KeyDerivation:   bundle.KeyDerivation,
		Network:         bundle.Network,
		Custody:         custody,
		IsMultiSig:      bundle.IsMultiSig,
		MultisigConfig:  bundle.MultisigConfig,
		RotationVersion: 1,
	}
	w.SetSealed(sealed)

	err = s.repo.WithTx(ctx, func(tx storage.Tx) error {
		if err := tx.CreateWallet(ctx, w); err != nil {
			return err
		}
		return s.audit.Append(ctx, tx, w.ID, ownerID, types.AuditRecovery, map[string]any{
			"network":        string(w.Network),
			"public_key":     w.PublicKey,
			"custody":        string(custody),
			"key_derivation": string(w.KeyDerivation),
			"exported_at":    bundle.ExportedAt.UTC().Format(time.RFC3339),
		})
	})
	if err != nil {
		return nil, conflictOnUnique(err)
	}

	logger.Info(ctx, "wallet recovered", "wallet_id", w.ID, "network", w.Network, "custody", custody)
	return w, nil
}

// RotateKeys replaces the wallet's protected key material and bumps its
// rotation version. The previous ciphertext is overwritten in the same write.
func (s *WalletService) RotateKeys(ctx context.Context, req *RotateKeysRequest) (w *types.Wallet, err error) {
	defer func() { s.metrics.IncWalletOp("rotate_keys", err) }()

	w, err = s.GetWallet(ctx, req.WalletID, req.OwnerID)
	if err != nil {
		return nil, err
	}
	previous := w.RotationVersion

	details := map[string]any{"from_version": previous}
	switch w.Custody {
	case types.CustodyServer:
		if req.Sealed != nil || req.ExternalCustodyRef != nil {
			return nil, apperrors.InvalidOperation("server-held wallets are re-sealed server side")
		}
		resealed, err := s.exec.Reseal(ctx, w.Sealed(), w.PublicKey)
		if err != nil {
			return nil, err
		}
		w.SetSealed(resealed)
		details["mode"] = "reseal"

	case types.CustodyClient, types.CustodyExternal:
		if err := s.applyClientRotation(w, req); err != nil {
			return nil, err
		}
		details["mode"] = "replace"
		details["has_ciphertext"] = w.Sealed() != nil
		details["has_external_ref"] = w.ExternalCustodyRef != nil

	default:
		return nil, apperrors.InvalidOperation(fmt.Sprintf("unknown custody %q", w.Custody))
	}

	w.RotationVersion = previous + 1
	details["to_version"] = w.RotationVersion
	details["custody"] = string(w.Custody)

	err = s.repo.WithTx(ctx, func(tx storage.Tx) error {
		if err := tx.UpdateWallet(ctx, w); err != nil {
			return err
		}
		return s.audit.Append(ctx, tx, w.ID, req.OwnerID, types.AuditRotateKey, details)
	})
	if errors.Is(err, storage.ErrStaleWallet) {
		return nil, apperrors.Conflict("wallet was modified concurrently")
	}
	if err != nil {
		return nil, err
	}

	logger.Info(ctx, "wallet keys rotated", "wallet_id", w.ID, "rotation_version", w.RotationVersion)
	return w, nil
}

func (s *WalletService) applyClientRotation(w *types.Wallet, req *RotateKeysRequest) error {
	if req.Sealed == nil && req.ExternalCustodyRef == nil {
		return apperrors.Validation("a new encrypted secret or external_custody_ref is required")
	}
	ref, err := normalizeRef(req.ExternalCustodyRef)
	if err != nil {
		return err
	}

	if req.Sealed != nil {
		method := req.KeyDerivation
		if method == "" {
			method = w.KeyDerivation
		}
		derivation, err := clientKeyDerivation(req.Sealed, method)
		if err != nil {
			return err
		}
		w.SetSealed(req.Sealed)
		w.KeyDerivation = derivation
	} else {
		w.SetSealed(nil)
		w.KeyDerivation = types.KeyDerivationNone
	}

	if ref != nil {
		w.ExternalCustodyRef = ref
		w.Custody = types.CustodyExternal
	} else {
		w.ExternalCustodyRef = nil
		w.Custody = types.CustodyClient
	}
	return nil
}
