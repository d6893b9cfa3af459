package api

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/better-wallet/ledger-custody/internal/app"
	"github.com/better-wallet/ledger-custody/internal/middleware"
	"github.com/better-wallet/ledger-custody/internal/txn"
	apperrors "github.com/better-wallet/ledger-custody/pkg/errors"
	"github.com/better-wallet/ledger-custody/pkg/types"
)

// OperationRequest is one element of a prepare request. Type selects the
// variant: "payment", "create_account" or "fragment".
type OperationRequest struct {
	Type            string `json:"type"`
	Destination     string `json:"destination,omitempty"`
	Amount          string `json:"amount,omitempty"`
	AssetCode       string `json:"asset_code,omitempty"`
	AssetIssuer     string `json:"asset_issuer,omitempty"`
	StartingBalance string `json:"starting_balance,omitempty"`
	Fragment        string `json:"fragment,omitempty"`
}

func (o OperationRequest) input(i int) (txn.OperationInput, error) {
	switch o.Type {
	case string(txn.OpPayment):
		return txn.Payment{Destination: o.Destination, Amount: o.Amount, AssetCode: o.AssetCode, AssetIssuer: o.AssetIssuer}, nil
	case string(txn.OpCreateAccount):
		return txn.CreateAccount{Destination: o.Destination, StartingBalance: o.StartingBalance}, nil
	case "fragment":
		return txn.RawFragment{Encoded: o.Fragment}, nil
	default:
		return nil, apperrors.Validationf("operation %d: unknown type %q", i, o.Type)
	}
}

// PrepareTransactionRequest is the API request to build an unsigned envelope
type PrepareTransactionRequest struct {
	Operations []OperationRequest `json:"operations"`
	Memo       string             `json:"memo,omitempty"`
	FeeCap     int64              `json:"fee_cap_stroops,omitempty"`
}

// EnvelopeRequest carries an envelope to sign or submit
type EnvelopeRequest struct {
	Envelope string        `json:"envelope"`
	Network  types.Network `json:"network,omitempty"`
	Consent  string        `json:"consent,omitempty"`
}

// MultisigSignRequest relays an envelope through several of the caller's wallets
type MultisigSignRequest struct {
	Envelope string        `json:"envelope"`
	Network  types.Network `json:"network"`
	Signers  []uuid.UUID   `json:"signers"`
}

func (s *Server) handlePrepareTransaction(w http.ResponseWriter, r *http.Request) {
	id, err := walletIDParam(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req PrepareTransactionRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	ops := make([]txn.OperationInput, 0, len(req.Operations))
	for i, o := range req.Operations {
		in, err := o.input(i)
		if err != nil {
			writeError(w, r, err)
			return
		}
		ops = append(ops, in)
	}

	prepared, err := s.walletService.PrepareTransaction(r.Context(), &app.PrepareTransactionRequest{
		WalletID:   id,
		OwnerID:    middleware.OwnerID(r.Context()),
		Operations: ops,
		Memo:       req.Memo,
		FeeCap:     req.FeeCap,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, prepared)
}

func (s *Server) handleSignTransaction(w http.ResponseWriter, r *http.Request) {
	id, err := walletIDParam(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req EnvelopeRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	signed, err := s.walletService.SignTransaction(r.Context(), &app.SignTransactionRequest{
		WalletID: id,
		OwnerID:  middleware.OwnerID(r.Context()),
		Envelope: req.Envelope,
		Network:  req.Network,
		Consent:  req.Consent,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, signed)
}

func (s *Server) handleSubmitTransaction(w http.ResponseWriter, r *http.Request) {
	id, err := walletIDParam(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req EnvelopeRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	res, err := s.walletService.SubmitTransaction(r.Context(), &app.SubmitTransactionRequest{
		WalletID: id,
		OwnerID:  middleware.OwnerID(r.Context()),
		Envelope: req.Envelope,
		Network:  req.Network,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleMultisigSign(w http.ResponseWriter, r *http.Request) {
	var req MultisigSignRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	ownerID := middleware.OwnerID(r.Context())
	signers := make([]app.SignerRef, 0, len(req.Signers))
	for _, id := range req.Signers {
		signers = append(signers, app.SignerRef{WalletID: id, OwnerID: ownerID})
	}

	signed, err := s.multisig.CollectSignatures(r.Context(), req.Network, req.Envelope, signers)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, signed)
}
