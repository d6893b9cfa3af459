package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/better-wallet/ledger-custody/internal/lock"
	"github.com/better-wallet/ledger-custody/internal/logger"
	"github.com/better-wallet/ledger-custody/internal/storage"
	"github.com/better-wallet/ledger-custody/internal/txn"
	apperrors "github.com/better-wallet/ledger-custody/pkg/errors"
	"github.com/better-wallet/ledger-custody/pkg/types"
)

// PrepareTransactionRequest represents a request to build an unsigned envelope
type PrepareTransactionRequest struct {
	WalletID   uuid.UUID
	OwnerID    string
	Operations []txn.OperationInput
	Memo       string
	// FeeCap is the per-operation fee bid in stroops; zero uses the base fee.
	FeeCap int64
}

// PreparedTransaction is an unsigned envelope plus what a client needs to
// verify it before signing.
type PreparedTransaction struct {
	Envelope          string        `json:"envelope"`
	Hash              string        `json:"hash"`
	Network           types.Network `json:"network"`
	NetworkPassphrase string        `json:"network_passphrase"`
	Sequence          int64         `json:"sequence"`
	FeePerOperation   int64         `json:"fee_per_operation"`
	TotalFee          int64         `json:"total_fee"`
	Operations        int           `json:"operations"`
	ValidBefore       time.Time     `json:"valid_before"`
}

// SignTransactionRequest represents a request to sign, or for non-custodial
// wallets to record, an envelope
type SignTransactionRequest struct {
	WalletID uuid.UUID
	OwnerID  string
	Envelope string
	// Network selects the signing domain; empty means the wallet's network.
	Network types.Network
	// Consent is the human-readable statement the client approved. It is
	// kept in the audit trail only.
	Consent string
}

// SignedTransaction is the envelope returned by SignTransaction.
type SignedTransaction struct {
	Envelope       string `json:"envelope"`
	Hash           string `json:"hash"`
	Signatures     int    `json:"signatures"`
	SignedByWallet bool   `json:"signed_by_wallet"`
}

// SubmitTransactionRequest represents a request to submit a signed envelope
type SubmitTransactionRequest struct {
	WalletID uuid.UUID
	OwnerID  string
	Envelope string
	Network  types.Network
}

// PrepareTransaction builds an unsigned envelope from the account's current
// sequence and the network base fee. Preparation is serialized per wallet and
// network so each build reads a settled account state. Two prepares before
// either is submitted still use the same sequence number; only one of them
// can be applied.
func (s *WalletService) PrepareTransaction(ctx context.Context, req *PrepareTransactionRequest) (out *PreparedTransaction, err error) {
	defer func() { s.metrics.IncWalletOp("prepare_transaction", err) }()

	ops, err := txn.CompileOperations(req.Operations)
	if err != nil {
		return nil, err
	}
	if len(req.Memo) > txn.MaxMemoBytes {
		return nil, apperrors.Validationf("memo must be at most %d bytes", txn.MaxMemoBytes)
	}
	if req.FeeCap < 0 {
		return nil, apperrors.Validation("fee cap must not be negative")
	}
	if req.FeeCap > txn.MaxTotalFee/int64(len(ops)) {
		return nil, apperrors.Validationf("fee cap exceeds the maximum total fee %d", txn.MaxTotalFee)
	}

	w, err := s.GetWallet(ctx, req.WalletID, req.OwnerID)
	if err != nil {
		return nil, err
	}
	netCfg, err := s.networks.Resolve(w.Network)
	if err != nil {
		return nil, err
	}
	gateway, err := s.gateways.For(w.Network)
	if err != nil {
		return nil, err
	}

	unlock, err := s.locker.Lock(ctx, lock.Key(w.ID.String(), string(w.Network)))
	if err != nil {
		return nil, fmt.Errorf("failed to acquire prepare lock: %w", err)
	}
	defer unlock()

	account, err := gateway.LoadAccount(ctx, w.PublicKey)
	if err != nil {
		return nil, err
	}
	baseFee, err := gateway.FetchBaseFee(ctx)
	if err != nil {
		return nil, err
	}

	built, err := s.builder.Build(txn.BuildRequest{
		Source:          w.PublicKey,
		CurrentSequence: account.Sequence,
		BaseFee:         baseFee,
		FeeCap:          req.FeeCap,
		Memo:            req.Memo,
		Operations:      ops,
	})
	if err != nil {
		return nil, err
	}

	encoded, err := built.Envelope.Encode()
	if err != nil {
		return nil, err
	}
	hash, err := built.Envelope.HashHex(netCfg.Passphrase)
	if err != nil {
		return nil, err
	}

	out = &PreparedTransaction{
		Envelope:          encoded,
		Hash:              hash,
		Network:           w.Network,
		NetworkPassphrase: netCfg.Passphrase,
		Sequence:          built.Envelope.Tx.SeqNum,
		FeePerOperation:   built.FeePerOp,
		TotalFee:          built.TotalFee,
		Operations:        len(ops),
		ValidBefore:       built.ValidBefore,
	}

	if err := s.audit.AppendDetached(ctx, w.ID, req.OwnerID, types.AuditPrepareTransaction, map[string]any{
		"network":      string(w.Network),
		"hash":         hash,
		"sequence":     out.Sequence,
		"operations":   out.Operations,
		"fee_per_op":   out.FeePerOperation,
		"total_fee":    out.TotalFee,
		"valid_before": out.ValidBefore.Unix(),
	}); err != nil {
		return nil, err
	}
	return out, nil
}

// SignTransaction adds the wallet's signature to an envelope. Server-held
// wallets decrypt their secret for the duration of the signature only.
// Client-held and external wallets never decrypt: the envelope the client
// signed is recorded with its consent and echoed back unchanged.
func (s *WalletService) SignTransaction(ctx context.Context, req *SignTransactionRequest) (out *SignedTransaction, err error) {
	defer func() { s.metrics.IncWalletOp("sign_transaction", err) }()

	env, err := txn.DecodeEnvelope(req.Envelope)
	if err != nil {
		return nil, err
	}
	w, err := s.GetWallet(ctx, req.WalletID, req.OwnerID)
	if err != nil {
		return nil, err
	}
	n := req.Network
	if n == "" {
		n = w.Network
	}
	netCfg, err := s.networks.Resolve(n)
	if err != nil {
		return nil, err
	}

	encoded := strings.TrimSpace(req.Envelope)
	switch w.Custody {
	case types.CustodyServer:
		if err := s.exec.SignEnvelope(ctx, w.Sealed(), w.PublicKey, netCfg.Passphrase, env); err != nil {
			return nil, err
		}
		if encoded, err = env.Encode(); err != nil {
			return nil, err
		}
	case types.CustodyClient, types.CustodyExternal:
	default:
		return nil, apperrors.InvalidOperation(fmt.Sprintf("unknown custody %q", w.Custody))
	}

	hash, err := env.HashHex(netCfg.Passphrase)
	if err != nil {
		return nil, err
	}
	signed, err := env.SignedBy(netCfg.Passphrase, w.PublicKey)
	if err != nil {
		return nil, err
	}

	details := map[string]any{
		"network":          string(n),
		"hash":             hash,
		"custody":          string(w.Custody),
		"signatures":       len(env.Signatures),
		"signed_by_wallet": signed,
	}
	if req.Consent != "" {
		details["consent"] = req.Consent
	}
	err = s.repo.WithTx(ctx, func(tx storage.Tx) error {
		return s.audit.Append(ctx, tx, w.ID, req.OwnerID, types.AuditSignTransaction, details)
	})
	if err != nil {
		return nil, err
	}

	logger.Info(ctx, "transaction signed", "wallet_id", w.ID, "custody", w.Custody, "hash", hash)
	return &SignedTransaction{
		Envelope:       encoded,
		Hash:           hash,
		Signatures:     len(env.Signatures),
		SignedByWallet: signed,
	}, nil
}

// SubmitTransaction hands a signed envelope to the ledger. A rejection is
// returned as a ledger error and never retried. The outcome is audited even
// when the caller has gone away.
func (s *WalletService) SubmitTransaction(ctx context.Context, req *SubmitTransactionRequest) (res *types.SubmitResult, err error) {
	defer func() { s.metrics.IncWalletOp("submit_transaction", err) }()

	env, err := txn.DecodeEnvelope(req.Envelope)
	if err != nil {
		return nil, err
	}
	w, err := s.GetWallet(ctx, req.WalletID, req.OwnerID)
	if err != nil {
		return nil, err
	}
	n := req.Network
	if n == "" {
		n = w.Network
	}
	netCfg, err := s.networks.Resolve(n)
	if err != nil {
		return nil, err
	}
	gateway, err := s.gateways.For(n)
	if err != nil {
		return nil, err
	}
	hash, err := env.HashHex(netCfg.Passphrase)
	if err != nil {
		return nil, err
	}

	res, err = gateway.Submit(ctx, strings.TrimSpace(req.Envelope))

	details := map[string]any{
		"network":    string(n),
		"hash":       hash,
		"sequence":   env.Tx.SeqNum,
		"signatures": len(env.Signatures),
	}
	if err != nil {
		details["successful"] = false
		details["error_code"] = errorCode(err)
		if appErr, ok := apperrors.IsAppError(err); ok {
			details["reason"] = appErr.Detail
		}
	} else {
		details["successful"] = res.Successful
		details["ledger_seq"] = res.LedgerSeq
	}
	// The ledger has already decided; a failed audit write is logged by the
	// recorder but does not hide that outcome from the caller.
	_ = s.audit.AppendDetached(ctx, w.ID, req.OwnerID, types.AuditSubmitTransaction, details)

	if err != nil {
		logger.Warn(ctx, "transaction rejected", "wallet_id", w.ID, "hash", hash, "error", err)
		return nil, err
	}
	logger.Info(ctx, "transaction submitted", "wallet_id", w.ID, "hash", res.Hash, "ledger_seq", res.LedgerSeq)
	return res, nil
}
