package ledger

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/better-wallet/ledger-custody/internal/metrics"
	apperrors "github.com/better-wallet/ledger-custody/pkg/errors"
	"github.com/better-wallet/ledger-custody/pkg/types"
)

// Faucet funds testnet accounts.
type Faucet interface {
	Fund(ctx context.Context, publicKey string) error
}

// FaucetClient calls GET <url>?addr=<publicKey>.
type FaucetClient struct {
	url     string
	http    *http.Client
	timeout time.Duration
	metrics *metrics.Metrics
}

// NewFaucetClient creates a faucet client. An empty url yields a client whose
// Fund always fails with InvalidOperation.
func NewFaucetClient(faucetURL string, opts Options) *FaucetClient {
	f := &FaucetClient{url: faucetURL, http: opts.HTTPClient, timeout: opts.Timeout, metrics: opts.Metrics}
	if f.http == nil {
		f.http = &http.Client{}
	}
	if f.timeout <= 0 {
		f.timeout = DefaultTimeout
	}
	return f
}

// Fund asks the faucet to fund publicKey. A non-2xx response is a ledger
// rejection carrying the faucet's body verbatim.
func (f *FaucetClient) Fund(ctx context.Context, publicKey string) error {
	if f.url == "" {
		return apperrors.InvalidOperation("no faucet is configured")
	}
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	u, err := url.Parse(f.url)
	if err != nil {
		return fmt.Errorf("invalid faucet url: %w", err)
	}
	q := u.Query()
	q.Set("addr", publicKey)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return fmt.Errorf("failed to build faucet request: %w", err)
	}

	start := time.Now()
	resp, err := f.http.Do(req)
	if err != nil {
		f.metrics.ObserveGateway(string(types.NetworkTestnet), "faucet", "error", time.Since(start))
		return apperrors.Ledger(apperrors.ErrCodeLedgerUnavailable, "faucet request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		f.metrics.ObserveGateway(string(types.NetworkTestnet), "faucet", "rejected", time.Since(start))
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
		return apperrors.Ledger(apperrors.ErrCodeLedgerRejected, strings.TrimSpace(string(body)))
	}
	f.metrics.ObserveGateway(string(types.NetworkTestnet), "faucet", "ok", time.Since(start))
	return nil
}
