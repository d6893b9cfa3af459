// Package txn builds, encodes and signs ledger transaction envelopes.
package txn

import (
	"math"
	"time"

	"github.com/better-wallet/ledger-custody/internal/keypair"
	apperrors "github.com/better-wallet/ledger-custody/pkg/errors"
)

const (
	// ValidityWindow is how long a built envelope remains submittable.
	ValidityWindow = 300 * time.Second
	// MaxMemoBytes bounds the text memo.
	MaxMemoBytes = 28
	// MaxTotalFee is the largest fee an envelope may bid in total, the range
	// of the ledger's unsigned 32 bit fee field.
	MaxTotalFee int64 = math.MaxUint32
)

// BuildRequest carries everything the builder needs. CurrentSequence is the
// account's sequence as loaded from the ledger; the envelope uses the next one.
type BuildRequest struct {
	Source          string
	CurrentSequence int64
	BaseFee         int64
	// FeeCap is the caller's per-operation fee bid in stroops. Zero means none.
	FeeCap     int64
	Memo       string
	Operations []Operation
}

// Built is an unsigned envelope plus the values the caller needs to verify it.
type Built struct {
	Envelope    *Envelope
	FeePerOp    int64
	TotalFee    int64
	ValidBefore time.Time
}

// Builder constructs unsigned envelopes.
type Builder struct {
	now func() time.Time
}

// NewBuilder returns a builder using the wall clock.
func NewBuilder() *Builder {
	return &Builder{now: time.Now}
}

// WithClock returns a copy of b that reads time from now.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	return &Builder{now: now}
}

// FeePerOperation decides the per-operation fee. The cap only ever raises the
// bid above the network base fee; a cap below base is ignored.
func FeePerOperation(baseFee, feeCap int64) int64 {
	if feeCap > baseFee {
		return feeCap
	}
	return baseFee
}

// Build assembles the envelope. Operations keep their input order.
func (b *Builder) Build(req BuildRequest) (*Built, error) {
	if !keypair.IsValidAddress(req.Source) {
		return nil, apperrors.Validationf("invalid source account %q", req.Source)
	}
	if len(req.Operations) == 0 {
		return nil, apperrors.Validation("at least one operation is required")
	}
	if len(req.Memo) > MaxMemoBytes {
		return nil, apperrors.Validationf("memo must be at most %d bytes", MaxMemoBytes)
	}
	if req.BaseFee <= 0 {
		return nil, apperrors.Validation("network base fee must be positive")
	}
	if req.FeeCap < 0 {
		return nil, apperrors.Validation("fee cap must not be negative")
	}

	perOp := FeePerOperation(req.BaseFee, req.FeeCap)
	if perOp > MaxTotalFee/int64(len(req.Operations)) {
		return nil, apperrors.Validationf("fee of %d per operation over %d operations exceeds the maximum total fee %d",
			perOp, len(req.Operations), MaxTotalFee)
	}
	validBefore := b.now().Add(ValidityWindow).Truncate(time.Second)

	ops := make([]Operation, len(req.Operations))
	copy(ops, req.Operations)

	env := &Envelope{
		Tx: Transaction{
			Source:     req.Source,
			Fee:        perOp * int64(len(ops)),
			SeqNum:     req.CurrentSequence + 1,
			TimeBounds: TimeBounds{MinTime: 0, MaxTime: validBefore.Unix()},
			Memo:       req.Memo,
			Operations: ops,
		},
	}

	return &Built{
		Envelope:    env,
		FeePerOp:    perOp,
		TotalFee:    env.Tx.Fee,
		ValidBefore: validBefore,
	}, nil
}
