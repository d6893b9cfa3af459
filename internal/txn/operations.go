package txn

import (
	"encoding/base64"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/better-wallet/ledger-custody/internal/keypair"
	apperrors "github.com/better-wallet/ledger-custody/pkg/errors"
)

// OperationType is the wire discriminator of an Operation.
type OperationType string

// OperationType constants
const (
	OpPayment       OperationType = "payment"
	OpCreateAccount OperationType = "create_account"
)

// AmountDecimals is the fixed precision of ledger amounts. One unit is 10^7
// stroops.
const AmountDecimals = 7

const maxOperations = 100

var assetCodePattern = regexp.MustCompile(`^[A-Za-z0-9]{1,12}$`)

// Asset identifies what a payment moves. The zero value is the native asset.
type Asset struct {
	_struct struct{} `codec:",omitempty,omitemptyarray"`

	Code   string `codec:"code"`
	Issuer string `codec:"issuer"`
}

// IsNative reports whether a is the native asset.
func (a Asset) IsNative() bool { return a.Code == "" && a.Issuer == "" }

// Operation is one encoded ledger operation.
type Operation struct {
	_struct struct{} `codec:",omitempty,omitemptyarray"`

	Type        OperationType `codec:"type"`
	Source      string        `codec:"src"`
	Destination string        `codec:"dst"`
	Amount      int64         `codec:"amt"`
	Asset       Asset         `codec:"asset"`
}

// OperationInput is a caller-supplied operation. It is either a Payment, a
// CreateAccount or a RawFragment.
type OperationInput interface {
	isOperationInput()
}

// Payment moves Amount of an asset to Destination. AssetCode and AssetIssuer
// are either both empty (native) or both set.
type Payment struct {
	Destination string
	Amount      string
	AssetCode   string
	AssetIssuer string
}

// CreateAccount funds a new account with a starting balance of native asset.
type CreateAccount struct {
	Destination     string
	StartingBalance string
}

// RawFragment is a base64 operation already encoded by the caller.
type RawFragment struct {
	Encoded string
}

func (Payment) isOperationInput()       {}
func (CreateAccount) isOperationInput() {}
func (RawFragment) isOperationInput()   {}

// CompileOperations validates inputs and converts them to Operations,
// preserving their order.
func CompileOperations(inputs []OperationInput) ([]Operation, error) {
	if len(inputs) == 0 {
		return nil, apperrors.Validation("at least one operation is required")
	}
	if len(inputs) > maxOperations {
		return nil, apperrors.Validationf("at most %d operations are allowed", maxOperations)
	}

	ops := make([]Operation, 0, len(inputs))
	for i, in := range inputs {
		var (
			op  Operation
			err error
		)
		switch v := in.(type) {
		case Payment:
			op, err = compilePayment(v)
		case CreateAccount:
			op, err = compileCreateAccount(v)
		case RawFragment:
			op, err = decodeFragment(v)
		default:
			err = apperrors.Validationf("unsupported operation %T", in)
		}
		if err != nil {
			return nil, apperrors.Validationf("operation %d: %s", i, errorMessage(err))
		}
		ops = append(ops, op)
	}
	return ops, nil
}

func compilePayment(p Payment) (Operation, error) {
	if !keypair.IsValidAddress(p.Destination) {
		return Operation{}, apperrors.Validationf("invalid destination %q", p.Destination)
	}
	amount, err := ParseAmount(p.Amount)
	if err != nil {
		return Operation{}, err
	}
	asset, err := parseAsset(p.AssetCode, p.AssetIssuer)
	if err != nil {
		return Operation{}, err
	}
	return Operation{Type: OpPayment, Destination: p.Destination, Amount: amount, Asset: asset}, nil
}

func compileCreateAccount(c CreateAccount) (Operation, error) {
	if !keypair.IsValidAddress(c.Destination) {
		return Operation{}, apperrors.Validationf("invalid destination %q", c.Destination)
	}
	amount, err := ParseAmount(c.StartingBalance)
	if err != nil {
		return Operation{}, err
	}
	return Operation{Type: OpCreateAccount, Destination: c.Destination, Amount: amount}, nil
}

func decodeFragment(f RawFragment) (Operation, error) {
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(f.Encoded))
	if err != nil || len(raw) == 0 {
		return Operation{}, apperrors.Validation("fragment is not valid base64")
	}
	var op Operation
	if err := decode(raw, &op); err != nil {
		return Operation{}, apperrors.Validation("fragment does not decode to an operation")
	}
	if err := op.validate(); err != nil {
		return Operation{}, err
	}
	return op, nil
}

// EncodeFragment encodes op the way RawFragment expects it.
func EncodeFragment(op Operation) (string, error) {
	raw, err := encode(&op)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

func (op Operation) validate() error {
	switch op.Type {
	case OpPayment, OpCreateAccount:
	default:
		return apperrors.Validationf("unsupported operation type %q", op.Type)
	}
	if !keypair.IsValidAddress(op.Destination) {
		return apperrors.Validationf("invalid destination %q", op.Destination)
	}
	if op.Source != "" && !keypair.IsValidAddress(op.Source) {
		return apperrors.Validationf("invalid operation source %q", op.Source)
	}
	if op.Amount <= 0 {
		return apperrors.Validation("amount must be positive")
	}
	if op.Type == OpCreateAccount && !op.Asset.IsNative() {
		return apperrors.Validation("create_account only moves the native asset")
	}
	if _, err := parseAsset(op.Asset.Code, op.Asset.Issuer); err != nil {
		return err
	}
	return nil
}

func parseAsset(code, issuer string) (Asset, error) {
	if code == "" && issuer == "" {
		return Asset{}, nil
	}
	if strings.EqualFold(code, "XLM") && issuer == "" {
		return Asset{}, nil
	}
	if code == "" || issuer == "" {
		return Asset{}, apperrors.Validation("asset code and issuer must be supplied together")
	}
	if !assetCodePattern.MatchString(code) {
		return Asset{}, apperrors.Validationf("invalid asset code %q", code)
	}
	if !keypair.IsValidAddress(issuer) {
		return Asset{}, apperrors.Validationf("invalid asset issuer %q", issuer)
	}
	return Asset{Code: code, Issuer: issuer}, nil
}

// ParseAmount converts a decimal string with at most seven fractional digits
// into stroops.
func ParseAmount(s string) (int64, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return 0, apperrors.Validationf("invalid amount %q", s)
	}
	if !d.IsPositive() {
		return 0, apperrors.Validationf("amount %q must be positive", s)
	}
	if d.Exponent() < -AmountDecimals && !d.Equal(d.Truncate(AmountDecimals)) {
		return 0, apperrors.Validationf("amount %q has more than %d decimal places", s, AmountDecimals)
	}

	stroops := d.Shift(AmountDecimals)
	if !stroops.IsInteger() || stroops.GreaterThan(decimal.NewFromInt(maxInt64)) {
		return 0, apperrors.Validationf("amount %q is out of range", s)
	}
	return stroops.IntPart(), nil
}

// FormatAmount renders stroops with seven decimal places.
func FormatAmount(stroops int64) string {
	return decimal.New(stroops, -AmountDecimals).StringFixed(AmountDecimals)
}

const maxInt64 = 1<<63 - 1

func errorMessage(err error) string {
	if appErr, ok := apperrors.IsAppError(err); ok && appErr.Detail != "" {
		return appErr.Detail
	}
	return err.Error()
}
