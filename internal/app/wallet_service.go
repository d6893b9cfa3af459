package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/better-wallet/ledger-custody/internal/audit"
	"github.com/better-wallet/ledger-custody/internal/keyexec"
	"github.com/better-wallet/ledger-custody/internal/keypair"
	"github.com/better-wallet/ledger-custody/internal/ledger"
	"github.com/better-wallet/ledger-custody/internal/lock"
	"github.com/better-wallet/ledger-custody/internal/logger"
	"github.com/better-wallet/ledger-custody/internal/metrics"
	"github.com/better-wallet/ledger-custody/internal/network"
	"github.com/better-wallet/ledger-custody/internal/storage"
	"github.com/better-wallet/ledger-custody/internal/txn"
	apperrors "github.com/better-wallet/ledger-custody/pkg/errors"
	"github.com/better-wallet/ledger-custody/pkg/types"
)

// Deps are the collaborators of a WalletService.
type Deps struct {
	Repo     storage.Repository
	Executor *keyexec.CustodialExecutor
	Networks *network.Resolver
	Gateways *ledger.Registry
	Faucet   ledger.Faucet
	Locker   lock.Locker
	Audit    *audit.Recorder
	Metrics  *metrics.Metrics
	Builder  *txn.Builder
}

// WalletService handles wallet operations for every custody kind
type WalletService struct {
	repo     storage.Repository
	exec     *keyexec.CustodialExecutor
	networks *network.Resolver
	gateways *ledger.Registry
	faucet   ledger.Faucet
	locker   lock.Locker
	audit    *audit.Recorder
	metrics  *metrics.Metrics
	builder  *txn.Builder
}

// NewWalletService creates a new wallet service
func NewWalletService(d Deps) *WalletService {
	s := &WalletService{
		repo:     d.Repo,
		exec:     d.Executor,
		networks: d.Networks,
		gateways: d.Gateways,
		faucet:   d.Faucet,
		locker:   d.Locker,
		audit:    d.Audit,
		metrics:  d.Metrics,
		builder:  d.Builder,
	}
	if s.networks == nil {
		s.networks = network.NewResolver()
	}
	if s.locker == nil {
		s.locker = lock.NewLocal()
	}
	if s.audit == nil {
		s.audit = audit.NewRecorder(d.Repo)
	}
	if s.builder == nil {
		s.builder = txn.NewBuilder()
	}
	return s
}

// CreateWalletRequest represents a request to create a custodial wallet
type CreateWalletRequest struct {
	OwnerID  string
	Network  types.Network
	Multisig *types.MultisigConfig
}

// CreateNonCustodialWalletRequest represents a request to register a wallet
// whose key never reaches the server. Sealed is client ciphertext stored
// verbatim; both it and ExternalCustodyRef may be absent.
type CreateNonCustodialWalletRequest struct {
	OwnerID            string
	Network            types.Network
	PublicKey          string
	Sealed             *types.SealedSecret
	KeyDerivation      types.KeyDerivation
	ExternalCustodyRef *string
	Multisig           *types.MultisigConfig
}

// FundResult is the outcome of a faucet call.
type FundResult struct {
	Success   bool   `json:"success"`
	PublicKey string `json:"public_key"`
}

// EnsureWallet returns the owner's wallet on network, creating a custodial one
// if none exists. A concurrent creator winning the insert is not an error:
// the loser returns the winner's wallet.
func (s *WalletService) EnsureWallet(ctx context.Context, ownerID string, n types.Network) (w *types.Wallet, err error) {
	defer func() { s.metrics.IncWalletOp("ensure_wallet", err) }()

	if err := validateOwnerNetwork(ownerID, n); err != nil {
		return nil, err
	}

	existing, err := s.repo.GetWalletByOwnerNetwork(ctx, ownerID, n)
	if err != nil {
		return nil, fmt.Errorf("failed to get wallet: %w", err)
	}
	if existing != nil {
		return existing, nil
	}

	w, err = s.createCustodial(ctx, ownerID, n, nil, types.AuditAutoCreate)
	if constraint, ok := storage.IsUniqueViolation(err); ok && constraint == storage.ConstraintOwnerNetwork {
		winner, getErr := s.repo.GetWalletByOwnerNetwork(ctx, ownerID, n)
		if getErr != nil {
			return nil, fmt.Errorf("failed to get wallet: %w", getErr)
		}
		if winner == nil {
			return nil, fmt.Errorf("wallet for %s vanished after unique violation", n)
		}
		logger.Debug(ctx, "lost wallet creation race", "owner_id", ownerID, "network", n, "wallet_id", winner.ID)
		return winner, nil
	}
	if err != nil {
		return nil, err
	}
	return w, nil
}

// CreateWallet creates a custodial wallet and fails with a conflict if the
// owner already has one on the network.
func (s *WalletService) CreateWallet(ctx context.Context, req *CreateWalletRequest) (w *types.Wallet, err error) {
	defer func() { s.metrics.IncWalletOp("create_wallet", err) }()

	if err := validateOwnerNetwork(req.OwnerID, req.Network); err != nil {
		return nil, err
	}
	if err := ValidateMultisigConfig(req.Multisig); err != nil {
		return nil, err
	}

	existing, err := s.repo.GetWalletByOwnerNetwork(ctx, req.OwnerID, req.Network)
	if err != nil {
		return nil, fmt.Errorf("failed to get wallet: %w", err)
	}
	if existing != nil {
		return nil, apperrors.Conflict(fmt.Sprintf("owner already has a %s wallet", req.Network))
	}

	w, err = s.createCustodial(ctx, req.OwnerID, req.Network, req.Multisig, types.AuditCreate)
	if err != nil {
		return nil, conflictOnUnique(err)
	}
	return w, nil
}

func (s *WalletService) createCustodial(ctx context.Context, ownerID string, n types.Network, multisig *types.MultisigConfig, op types.AuditOperation) (*types.Wallet, error) {
	publicKey, sealed, err := s.exec.GenerateKey(ctx)
	if err != nil {
		return nil, err
	}

	w := &types.Wallet{
		ID:              uuid.New(),
		OwnerID:         ownerID,
		PublicKey:       publicKey,
		KeyDerivation:   types.KeyDerivationNone,
		Network:         n,
		Custody:         types.CustodyServer,
		IsMultiSig:      multisig != nil,
		MultisigConfig:  multisig,
		RotationVersion: 1,
	}
	w.SetSealed(sealed)

	err = s.repo.WithTx(ctx, func(tx storage.Tx) error {
		if err := tx.CreateWallet(ctx, w); err != nil {
			return err
		}
		return s.audit.Append(ctx, tx, w.ID, ownerID, op, map[string]any{
			"network":    string(n),
			"public_key": publicKey,
			"custody":    string(types.CustodyServer),
			"multisig":   w.IsMultiSig,
		})
	})
	if err != nil {
		return nil, err
	}

	logger.Info(ctx, "wallet created", "wallet_id", w.ID, "network", n, "custody", w.Custody, "operation", op)
	return w, nil
}

// CreateNonCustodialWallet registers a client-held or externally held wallet.
// Ciphertext is stored as given and never decrypted.
func (s *WalletService) CreateNonCustodialWallet(ctx context.Context, req *CreateNonCustodialWalletRequest) (w *types.Wallet, err error) {
	defer func() { s.metrics.IncWalletOp("create_non_custodial_wallet", err) }()

	if err := validateOwnerNetwork(req.OwnerID, req.Network); err != nil {
		return nil, err
	}
	if !keypair.IsValidAddress(req.PublicKey) {
		return nil, apperrors.Validation("public_key is not a valid account address")
	}
	derivation, err := clientKeyDerivation(req.Sealed, req.KeyDerivation)
	if err != nil {
		return nil, err
	}
	ref, err := normalizeRef(req.ExternalCustodyRef)
	if err != nil {
		return nil, err
	}
	if err := ValidateMultisigConfig(req.Multisig); err != nil {
		return nil, err
	}

	if err := s.ensureAvailable(ctx, req.OwnerID, req.Network, req.PublicKey); err != nil {
		return nil, err
	}

	w = &types.Wallet{
		ID:                 uuid.New(),
		OwnerID:            req.OwnerID,
		PublicKey:          req.PublicKey,
		KeyDerivation:      derivation,
		Network:            req.Network,
		Custody:            types.CustodyClient,
		ExternalCustodyRef: ref,
		IsMultiSig:         req.Multisig != nil,
		MultisigConfig:     req.Multisig,
		RotationVersion:    1,
	}
	if ref != nil {
		w.Custody = types.CustodyExternal
	}
	w.SetSealed(req.Sealed)

	err = s.repo.WithTx(ctx, func(tx storage.Tx) error {
		if err := tx.CreateWallet(ctx, w); err != nil {
			return err
		}
		return s.audit.Append(ctx, tx, w.ID, req.OwnerID, types.AuditCreate, map[string]any{
			"network":        string(req.Network),
			"public_key":     req.PublicKey,
			"custody":        string(w.Custody),
			"key_derivation": string(derivation),
			"has_ciphertext": req.Sealed != nil,
			"multisig":       w.IsMultiSig,
		})
	})
	if err != nil {
		return nil, conflictOnUnique(err)
	}

	logger.Info(ctx, "wallet registered", "wallet_id", w.ID, "network", w.Network, "custody", w.Custody)
	return w, nil
}

// GetWallet returns a wallet owned by ownerID. A wallet owned by someone
// else is reported as not found.
func (s *WalletService) GetWallet(ctx context.Context, walletID uuid.UUID, ownerID string) (*types.Wallet, error) {
	w, err := s.repo.GetWallet(ctx, walletID)
	if err != nil {
		return nil, fmt.Errorf("failed to get wallet: %w", err)
	}
	if w == nil || w.OwnerID != ownerID {
		return nil, apperrors.WalletNotFound(walletID.String())
	}
	return w, nil
}

// ListWallets returns all wallets of an owner, oldest first.
func (s *WalletService) ListWallets(ctx context.Context, ownerID string) ([]*types.Wallet, error) {
	if ownerID == "" {
		return nil, apperrors.Validation("owner_id is required")
	}
	wallets, err := s.repo.ListWalletsByOwner(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list wallets: %w", err)
	}
	return wallets, nil
}

// ListAuditLog returns the newest audit entries of a wallet.
func (s *WalletService) ListAuditLog(ctx context.Context, walletID uuid.UUID, ownerID string, limit int) ([]*types.AuditLogEntry, error) {
	if _, err := s.GetWallet(ctx, walletID, ownerID); err != nil {
		return nil, err
	}
	entries, err := s.repo.ListAuditEntries(ctx, walletID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit entries: %w", err)
	}
	return entries, nil
}

// SwitchNetwork moves a wallet to another network. The owner must not already
// have a different wallet there.
func (s *WalletService) SwitchNetwork(ctx context.Context, walletID uuid.UUID, ownerID string, n types.Network) (w *types.Wallet, err error) {
	defer func() { s.metrics.IncWalletOp("switch_network", err) }()

	if !n.Valid() {
		return nil, apperrors.Validationf("unsupported network %q", n)
	}
	w, err = s.GetWallet(ctx, walletID, ownerID)
	if err != nil {
		return nil, err
	}
	if w.Network == n {
		return w, nil
	}

	other, err := s.repo.GetWalletByOwnerNetwork(ctx, ownerID, n)
	if err != nil {
		return nil, fmt.Errorf("failed to get wallet: %w", err)
	}
	if other != nil {
		return nil, apperrors.Conflict(fmt.Sprintf("owner already has a %s wallet", n))
	}

	from := w.Network
	w.Network = n
	err = s.repo.WithTx(ctx, func(tx storage.Tx) error {
		if err := tx.UpdateWallet(ctx, w); err != nil {
			return err
		}
		return s.audit.Append(ctx, tx, w.ID, ownerID, types.AuditSwitchNetwork, map[string]any{
			"from": string(from),
			"to":   string(n),
		})
	})
	if err != nil {
		return nil, conflictOnUnique(err)
	}

	logger.Info(ctx, "wallet network switched", "wallet_id", w.ID, "from", from, "to", n)
	return w, nil
}

// GetBalance loads the wallet's account from the ledger. n overrides the
// wallet's network when set. The audit entry is best effort.
func (s *WalletService) GetBalance(ctx context.Context, walletID uuid.UUID, ownerID string, n types.Network) (*types.AccountSnapshot, error) {
	w, err := s.GetWallet(ctx, walletID, ownerID)
	if err != nil {
		return nil, err
	}
	if n == "" {
		n = w.Network
	}
	gateway, err := s.gateways.For(n)
	if err != nil {
		return nil, err
	}

	snapshot, err := gateway.LoadAccount(ctx, w.PublicKey)
	s.metrics.IncWalletOp("get_balance", err)

	details := map[string]any{"network": string(n)}
	if err != nil {
		details["error"] = errorCode(err)
	} else {
		details["balances"] = len(snapshot.Balances)
	}
	_ = s.audit.AppendDetached(ctx, w.ID, ownerID, types.AuditBalanceCheck, details)

	if err != nil {
		return nil, err
	}
	return snapshot, nil
}

// FundTestnet asks the faucet to fund the owner's wallet with publicKey. Only
// TESTNET wallets qualify; anything else fails before any outbound call.
func (s *WalletService) FundTestnet(ctx context.Context, ownerID, publicKey string) (res *FundResult, err error) {
	defer func() { s.metrics.IncWalletOp("fund_testnet", err) }()

	w, err := s.repo.GetWalletByPublicKey(ctx, publicKey)
	if err != nil {
		return nil, fmt.Errorf("failed to get wallet: %w", err)
	}
	if w == nil || w.OwnerID != ownerID {
		return nil, apperrors.WalletNotFound(publicKey)
	}
	if w.Network != types.NetworkTestnet {
		return nil, apperrors.InvalidOperation(fmt.Sprintf("faucet funding is only available on %s", types.NetworkTestnet))
	}
	if s.faucet == nil {
		return nil, apperrors.InvalidOperation("no faucet is configured")
	}

	if err := s.faucet.Fund(ctx, publicKey); err != nil {
		return nil, err
	}

	logger.Info(ctx, "testnet account funded", "wallet_id", w.ID)
	return &FundResult{Success: true, PublicKey: publicKey}, nil
}

// ensureAvailable rejects a new wallet whose owner/network slot or public key
// is taken.
func (s *WalletService) ensureAvailable(ctx context.Context, ownerID string, n types.Network, publicKey string) error {
	byKey, err := s.repo.GetWalletByPublicKey(ctx, publicKey)
	if err != nil {
		return fmt.Errorf("failed to get wallet: %w", err)
	}
	if byKey != nil {
		return apperrors.Conflict("public key is already registered")
	}

	existing, err := s.repo.GetWalletByOwnerNetwork(ctx, ownerID, n)
	if err != nil {
		return fmt.Errorf("failed to get wallet: %w", err)
	}
	if existing != nil {
		return apperrors.Conflict(fmt.Sprintf("owner already has a %s wallet", n))
	}
	return nil
}

func validateOwnerNetwork(ownerID string, n types.Network) error {
	if ownerID == "" {
		return apperrors.Validation("owner_id is required")
	}
	if !n.Valid() {
		return apperrors.Validationf("unsupported network %q", n)
	}
	return nil
}

// clientKeyDerivation checks a client-supplied secret. Client ciphertext is
// always passphrase derived; NONE would claim the master key sealed it.
func clientKeyDerivation(sealed *types.SealedSecret, method types.KeyDerivation) (types.KeyDerivation, error) {
	if sealed == nil {
		if method == "" {
			return types.KeyDerivationNone, nil
		}
		if !method.Valid() {
			return "", apperrors.Validationf("unsupported key derivation %q", method)
		}
		return method, nil
	}
	if err := validateSealed(sealed); err != nil {
		return "", err
	}
	if method != types.KeyDerivationPBKDF2 && method != types.KeyDerivationArgon2 {
		return "", apperrors.Validation("client ciphertext requires key_derivation PBKDF2 or ARGON2")
	}
	return method, nil
}

func validateSealed(sealed *types.SealedSecret) error {
	if sealed.Ciphertext == "" || sealed.IV == "" || sealed.AuthTag == "" {
		return apperrors.Validation("encrypted_secret_key, encryption_iv and encryption_auth_tag must be supplied together")
	}
	return nil
}

func normalizeRef(ref *string) (*string, error) {
	if ref == nil {
		return nil, nil
	}
	if *ref == "" {
		return nil, apperrors.Validation("external_custody_ref must not be empty")
	}
	v := *ref
	return &v, nil
}

// conflictOnUnique maps storage races to the error the caller would have got
// had it lost the pre-check.
func conflictOnUnique(err error) error {
	if errors.Is(err, storage.ErrStaleWallet) {
		return apperrors.Conflict("wallet was modified concurrently")
	}
	constraint, ok := storage.IsUniqueViolation(err)
	if !ok {
		return err
	}
	switch constraint {
	case storage.ConstraintOwnerNetwork:
		return apperrors.Conflict("owner already has a wallet on this network")
	case storage.ConstraintPublicKey:
		return apperrors.Conflict("public key is already registered")
	default:
		return apperrors.Conflict(constraint)
	}
}

func errorCode(err error) string {
	if appErr, ok := apperrors.IsAppError(err); ok {
		return appErr.Code
	}
	return apperrors.ErrCodeInternalError
}
