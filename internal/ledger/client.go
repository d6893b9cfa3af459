// Package ledger talks to the ledger gateway of each network: account state,
// base fee and transaction submission, plus the testnet faucet.
package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/better-wallet/ledger-custody/internal/metrics"
	"github.com/better-wallet/ledger-custody/internal/network"
	apperrors "github.com/better-wallet/ledger-custody/pkg/errors"
	"github.com/better-wallet/ledger-custody/pkg/types"
)

// DefaultTimeout bounds every outbound gateway call.
const DefaultTimeout = 20 * time.Second

const maxBodyBytes = 1 << 20

// Gateway is the ledger collaborator used by the wallet service.
type Gateway interface {
	LoadAccount(ctx context.Context, publicKey string) (*types.AccountSnapshot, error)
	FetchBaseFee(ctx context.Context) (int64, error)
	Submit(ctx context.Context, envelope string) (*types.SubmitResult, error)
}

// Options tunes a Client.
type Options struct {
	Timeout time.Duration
	// RPS limits outbound requests per second. Zero disables limiting.
	RPS        float64
	HTTPClient *http.Client
	Metrics    *metrics.Metrics
}

// Client is an HTTP gateway client for one network.
type Client struct {
	network  types.Network
	endpoint string
	http     *http.Client
	timeout  time.Duration
	limiter  *rate.Limiter
	metrics  *metrics.Metrics
}

// NewClient creates a gateway client for cfg.
func NewClient(cfg network.Config, opts Options) (*Client, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("ledger endpoint is required for %s", cfg.Network)
	}
	if _, err := url.Parse(cfg.Endpoint); err != nil {
		return nil, fmt.Errorf("invalid ledger endpoint: %w", err)
	}

	c := &Client{
		network:  cfg.Network,
		endpoint: strings.TrimRight(cfg.Endpoint, "/"),
		http:     opts.HTTPClient,
		timeout:  opts.Timeout,
		metrics:  opts.Metrics,
	}
	if c.http == nil {
		c.http = &http.Client{}
	}
	if c.timeout <= 0 {
		c.timeout = DefaultTimeout
	}
	if opts.RPS > 0 {
		burst := int(opts.RPS)
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(opts.RPS), burst)
	}
	return c, nil
}

type accountResponse struct {
	ID       string `json:"id"`
	Sequence string `json:"sequence"`
	Balances []struct {
		AssetType   string `json:"asset_type"`
		AssetCode   string `json:"asset_code"`
		AssetIssuer string `json:"asset_issuer"`
		Balance     string `json:"balance"`
	} `json:"balances"`
}

// LoadAccount returns balances and the current sequence number. An account
// the ledger does not know is AccountNotFound.
func (c *Client) LoadAccount(ctx context.Context, publicKey string) (*types.AccountSnapshot, error) {
	var resp accountResponse
	status, body, err := c.do(ctx, "load_account", http.MethodGet, "/accounts/"+url.PathEscape(publicKey), nil)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNotFound {
		return nil, apperrors.AccountNotFound(publicKey)
	}
	if status != http.StatusOK {
		return nil, c.statusError(status, body)
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, apperrors.Ledger(apperrors.ErrCodeLedgerUnavailable, "malformed account response")
	}

	seq, err := strconv.ParseInt(resp.Sequence, 10, 64)
	if err != nil {
		return nil, apperrors.Ledger(apperrors.ErrCodeLedgerUnavailable, "malformed account sequence")
	}

	snap := &types.AccountSnapshot{PublicKey: publicKey, Sequence: seq}
	for _, b := range resp.Balances {
		snap.Balances = append(snap.Balances, types.Balance{
			AssetType:   b.AssetType,
			AssetCode:   b.AssetCode,
			AssetIssuer: b.AssetIssuer,
			Balance:     b.Balance,
		})
	}
	return snap, nil
}

// FetchBaseFee returns the base fee of the last closed ledger in stroops.
func (c *Client) FetchBaseFee(ctx context.Context) (int64, error) {
	status, body, err := c.do(ctx, "fetch_base_fee", http.MethodGet, "/fee_stats", nil)
	if err != nil {
		return 0, err
	}
	if status != http.StatusOK {
		return 0, c.statusError(status, body)
	}

	var resp struct {
		LastLedgerBaseFee string `json:"last_ledger_base_fee"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return 0, apperrors.Ledger(apperrors.ErrCodeLedgerUnavailable, "malformed fee response")
	}
	fee, err := strconv.ParseInt(resp.LastLedgerBaseFee, 10, 64)
	if err != nil || fee <= 0 {
		return 0, apperrors.Ledger(apperrors.ErrCodeLedgerUnavailable, "malformed base fee")
	}
	return fee, nil
}

type submitResponse struct {
	Successful bool   `json:"successful"`
	Hash       string `json:"hash"`
	Ledger     int64  `json:"ledger"`
	ResultXDR  string `json:"result_xdr"`
}

type problemResponse struct {
	Title  string `json:"title"`
	Detail string `json:"detail"`
	Extras struct {
		ResultCodes struct {
			Transaction string   `json:"transaction"`
			Operations  []string `json:"operations"`
		} `json:"result_codes"`
		ResultXDR string `json:"result_xdr"`
	} `json:"extras"`
}

// Submit posts a signed envelope. It is never retried: a resubmission after an
// ambiguous failure may apply twice or fail for an unrelated reason.
func (c *Client) Submit(ctx context.Context, envelope string) (*types.SubmitResult, error) {
	form := url.Values{"tx": {envelope}}
	status, body, err := c.do(ctx, "submit", http.MethodPost, "/transactions", form)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, c.statusError(status, body)
	}

	var resp submitResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, apperrors.Ledger(apperrors.ErrCodeLedgerUnavailable, "malformed submit response")
	}
	// A 200 can still carry a failed transaction: it consumed the sequence
	// number and the fee but its operations did not apply.
	if !resp.Successful {
		reason := fmt.Sprintf("transaction %s failed in ledger %d", resp.Hash, resp.Ledger)
		if resp.ResultXDR != "" {
			reason += ": result " + resp.ResultXDR
		}
		return nil, apperrors.Ledger(apperrors.ErrCodeLedgerRejected, reason)
	}
	return &types.SubmitResult{
		Successful:    resp.Successful,
		Hash:          resp.Hash,
		LedgerSeq:     resp.Ledger,
		ResultPayload: resp.ResultXDR,
	}, nil
}

func (c *Client) do(ctx context.Context, op, method, path string, form url.Values) (int, []byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	status, body, err := c.roundTrip(ctx, method, path, form)

	outcome := "ok"
	switch {
	case err != nil:
		outcome = "error"
	case status >= 500:
		outcome = "unavailable"
	case status >= 400:
		outcome = "rejected"
	}
	c.metrics.ObserveGateway(string(c.network), op, outcome, time.Since(start))

	return status, body, err
}

func (c *Client) roundTrip(ctx context.Context, method, path string, form url.Values) (int, []byte, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return 0, nil, apperrors.Ledger(apperrors.ErrCodeLedgerUnavailable, "rate limit wait aborted")
		}
	}

	var reader io.Reader
	if form != nil {
		reader = strings.NewReader(form.Encode())
	}
	req, err := http.NewRequestWithContext(ctx, method, c.endpoint+path, reader)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		reason := "gateway request failed"
		if errors.Is(err, context.DeadlineExceeded) {
			reason = "gateway request timed out"
		}
		return 0, nil, apperrors.Ledger(apperrors.ErrCodeLedgerUnavailable, reason)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return 0, nil, apperrors.Ledger(apperrors.ErrCodeLedgerUnavailable, "failed to read gateway response")
	}
	return resp.StatusCode, body, nil
}

// statusError maps a non-200 gateway response onto the ledger error classes.
// The reason carries the gateway's own words.
func (c *Client) statusError(status int, body []byte) error {
	if status >= 500 {
		return apperrors.Ledger(apperrors.ErrCodeLedgerUnavailable, fmt.Sprintf("gateway returned %d", status))
	}

	var p problemResponse
	if err := json.Unmarshal(body, &p); err != nil {
		return apperrors.Ledger(apperrors.ErrCodeLedgerRejected, strings.TrimSpace(string(body)))
	}

	codes := p.Extras.ResultCodes
	reason := codes.Transaction
	if len(codes.Operations) > 0 {
		reason += " [" + strings.Join(codes.Operations, ",") + "]"
	}
	if reason == "" {
		reason = strings.TrimSpace(p.Title + ": " + p.Detail)
	}

	return apperrors.Ledger(classify(codes.Transaction), reason)
}

func classify(txCode string) string {
	switch txCode {
	case "tx_bad_seq":
		return apperrors.ErrCodeLedgerBadSequence
	case "tx_too_late", "tx_too_early":
		return apperrors.ErrCodeLedgerExpired
	case "tx_insufficient_fee":
		return apperrors.ErrCodeLedgerInsufficientFee
	default:
		return apperrors.ErrCodeLedgerRejected
	}
}
