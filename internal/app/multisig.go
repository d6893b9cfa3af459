package app

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/better-wallet/ledger-custody/internal/keypair"
	apperrors "github.com/better-wallet/ledger-custody/pkg/errors"
	"github.com/better-wallet/ledger-custody/pkg/types"
)

const (
	maxSignerWeight = 255
	maxSigners      = 20
)

// ValidateMultisigConfig checks a threshold configuration. A nil config is
// valid and means a single-key wallet.
func ValidateMultisigConfig(cfg *types.MultisigConfig) error {
	if cfg == nil {
		return nil
	}
	if len(cfg.Signers) == 0 {
		return apperrors.Validation("multisig config needs at least one signer")
	}
	if len(cfg.Signers) > maxSigners {
		return apperrors.Validationf("multisig config allows at most %d signers", maxSigners)
	}
	if cfg.Threshold < 1 {
		return apperrors.Validation("multisig threshold must be at least 1")
	}

	seen := make(map[string]struct{}, len(cfg.Signers))
	for i, signer := range cfg.Signers {
		if !keypair.IsValidAddress(signer.Key) {
			return apperrors.Validationf("signer %d: key is not a valid account address", i)
		}
		if signer.Weight < 1 || signer.Weight > maxSignerWeight {
			return apperrors.Validationf("signer %d: weight must be between 1 and %d", i, maxSignerWeight)
		}
		if _, dup := seen[signer.Key]; dup {
			return apperrors.Validationf("signer %d: duplicate key", i)
		}
		seen[signer.Key] = struct{}{}
	}

	if cfg.Threshold > cfg.TotalWeight() {
		return apperrors.Validationf("threshold %d exceeds total signer weight %d", cfg.Threshold, cfg.TotalWeight())
	}
	return nil
}

// SignerRef names one signing wallet and the owner allowed to use it.
type SignerRef struct {
	WalletID uuid.UUID
	OwnerID  string
}

// MultisigCoordinator relays an envelope through a series of signing
// wallets, feeding each signature's output into the next call. It does not
// check the threshold; the ledger accepts or rejects the result on submit.
type MultisigCoordinator struct {
	wallets *WalletService
}

// NewMultisigCoordinator creates a coordinator signing through wallets.
func NewMultisigCoordinator(wallets *WalletService) *MultisigCoordinator {
	return &MultisigCoordinator{wallets: wallets}
}

// CollectSignatures signs envelope with each signer in order. Every signer
// must hold a distinct key on the server; client-held signers sign on their
// own side and hand the envelope back.
func (c *MultisigCoordinator) CollectSignatures(ctx context.Context, n types.Network, envelope string, signers []SignerRef) (*SignedTransaction, error) {
	if len(signers) == 0 {
		return nil, apperrors.Validation("at least one signer is required")
	}

	seen := make(map[string]struct{}, len(signers))
	for i, ref := range signers {
		w, err := c.wallets.GetWallet(ctx, ref.WalletID, ref.OwnerID)
		if err != nil {
			return nil, err
		}
		if w.Custody != types.CustodyServer {
			return nil, apperrors.InvalidOperation(fmt.Sprintf("signer %d does not hold a server key", i))
		}
		if _, dup := seen[w.PublicKey]; dup {
			return nil, apperrors.Validationf("signer %d repeats key %s", i, w.PublicKey)
		}
		seen[w.PublicKey] = struct{}{}
	}

	var out *SignedTransaction
	for _, ref := range signers {
		signed, err := c.wallets.SignTransaction(ctx, &SignTransactionRequest{
			WalletID: ref.WalletID,
			OwnerID:  ref.OwnerID,
			Envelope: envelope,
			Network:  n,
		})
		if err != nil {
			return nil, err
		}
		envelope = signed.Envelope
		out = signed
	}
	return out, nil
}
