package api

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/better-wallet/ledger-custody/internal/app"
	"github.com/better-wallet/ledger-custody/internal/config"
	"github.com/better-wallet/ledger-custody/internal/keyexec"
	"github.com/better-wallet/ledger-custody/internal/ledger"
	"github.com/better-wallet/ledger-custody/internal/metrics"
	"github.com/better-wallet/ledger-custody/internal/middleware"
	"github.com/better-wallet/ledger-custody/internal/network"
	"github.com/better-wallet/ledger-custody/internal/storage"
	"github.com/better-wallet/ledger-custody/internal/txn"
	apperrors "github.com/better-wallet/ledger-custody/pkg/errors"
	"github.com/better-wallet/ledger-custody/pkg/types"
)

const destination = "GAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAWHF"

// stubGateway funds every account at sequence 1 and accepts any envelope
// signed by its source.
type stubGateway struct {
	mu   sync.Mutex
	seqs map[string]int64
}

func (g *stubGateway) LoadAccount(_ context.Context, publicKey string) (*types.AccountSnapshot, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	seq, ok := g.seqs[publicKey]
	if !ok {
		seq = 1
	}
	return &types.AccountSnapshot{PublicKey: publicKey, Sequence: seq}, nil
}

func (g *stubGateway) FetchBaseFee(context.Context) (int64, error) { return 100, nil }

func (g *stubGateway) Submit(_ context.Context, encoded string) (*types.SubmitResult, error) {
	env, err := txn.DecodeEnvelope(encoded)
	if err != nil {
		return nil, err
	}
	if ok, _ := env.SignedBy(network.DefaultTestnetPassphrase, env.Tx.Source); !ok {
		return nil, apperrors.Ledger(apperrors.ErrCodeLedgerRejected, "tx_bad_auth")
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.seqs[env.Tx.Source] = env.Tx.SeqNum
	hash, _ := env.HashHex(network.DefaultTestnetPassphrase)
	return &types.SubmitResult{Successful: true, Hash: hash, LedgerSeq: 10}, nil
}

func newTestServer(t *testing.T) http.Handler {
	t.Helper()

	raw := make([]byte, 32)
	_, err := rand.Read(raw)
	require.NoError(t, err)

	gateway := &stubGateway{seqs: make(map[string]int64)}
	m := metrics.New()
	svc := app.NewWalletService(app.Deps{
		Metrics:  m,
		Repo:     storage.NewMemory(),
		Executor: keyexec.NewCustodialExecutor(keyexec.NewEnvMasterKey(base64.StdEncoding.EncodeToString(raw))),
		Gateways: ledger.NewStaticRegistry(map[types.Network]ledger.Gateway{
			types.NetworkTestnet: gateway,
			types.NetworkPublic:  gateway,
		}),
	})
	return NewServer(&config.Config{Port: 0}, svc, m).Routes()
}

func do(t *testing.T, h http.Handler, method, path, owner string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if owner != "" {
		req.Header.Set(middleware.OwnerHeader, owner)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestHealthAndMetrics(t *testing.T) {
	h := newTestServer(t)

	rec := do(t, h, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	do(t, h, http.MethodPost, "/v1/wallets/ensure", "u1", NetworkRequest{Network: types.NetworkTestnet})
	rec = do(t, h, http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "custody_wallet_operations_total")
}

func TestWalletRoutes(t *testing.T) {
	h := newTestServer(t)

	rec := do(t, h, http.MethodPost, "/v1/wallets/ensure", "", NetworkRequest{Network: types.NetworkTestnet})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = do(t, h, http.MethodPost, "/v1/wallets/ensure", "u1", NetworkRequest{Network: types.NetworkTestnet})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.NotContains(t, rec.Body.String(), "encrypted_secret_key")
	wallet := decode[WalletResponse](t, rec)
	assert.Equal(t, types.CustodyServer, wallet.Custody)
	assert.True(t, wallet.HasEncryptedSecret)

	rec = do(t, h, http.MethodPost, "/v1/wallets", "u1", CreateWalletRequest{Network: types.NetworkTestnet})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, apperrors.ErrCodeConflict, decode[apperrors.AppError](t, rec).Code)

	rec = do(t, h, http.MethodGet, "/v1/wallets/"+wallet.ID.String(), "u2", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, h, http.MethodGet, "/v1/wallets/not-a-uuid", "u1", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodGet, "/v1/wallets", "u1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[struct {
		Data []WalletResponse `json:"data"`
	}](t, rec)
	require.Len(t, list.Data, 1)

	rec = do(t, h, http.MethodGet, "/v1/wallets/"+wallet.ID.String()+"/backup", "u1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
	bundle := decode[types.BackupBundle](t, rec)
	assert.Equal(t, wallet.PublicKey, bundle.PublicKey)

	rec = do(t, h, http.MethodPost, "/v1/wallets/recover", "u2", bundle)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = do(t, h, http.MethodPost, "/v1/wallets/"+wallet.ID.String()+"/rotate", "u1", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 2, decode[WalletResponse](t, rec).RotationVersion)

	rec = do(t, h, http.MethodGet, "/v1/wallets/"+wallet.ID.String()+"/audit?limit=10", "u1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	audit := decode[struct {
		Data []types.AuditLogEntry `json:"data"`
	}](t, rec)
	require.Len(t, audit.Data, 3)
	assert.Equal(t, types.AuditRotateKey, audit.Data[0].Operation)
}

func TestTransactionRoutes(t *testing.T) {
	h := newTestServer(t)

	rec := do(t, h, http.MethodPost, "/v1/wallets/ensure", "u1", NetworkRequest{Network: types.NetworkTestnet})
	require.Equal(t, http.StatusOK, rec.Code)
	wallet := decode[WalletResponse](t, rec)
	base := "/v1/wallets/" + wallet.ID.String() + "/transactions/"

	rec = do(t, h, http.MethodPost, base+"prepare", "u1", PrepareTransactionRequest{
		Operations: []OperationRequest{{Type: "bridge", Destination: destination, Amount: "1"}},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodPost, base+"prepare", "u1", PrepareTransactionRequest{
		Operations: []OperationRequest{{Type: "payment", Destination: destination, Amount: "10"}},
		Memo:       "hello",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	prepared := decode[app.PreparedTransaction](t, rec)
	assert.Equal(t, int64(2), prepared.Sequence)
	assert.Equal(t, network.DefaultTestnetPassphrase, prepared.NetworkPassphrase)

	rec = do(t, h, http.MethodPost, base+"sign", "u1", EnvelopeRequest{Envelope: prepared.Envelope})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	signed := decode[app.SignedTransaction](t, rec)
	assert.Equal(t, 1, signed.Signatures)

	rec = do(t, h, http.MethodPost, base+"submit", "u1", EnvelopeRequest{Envelope: prepared.Envelope})
	assert.Equal(t, http.StatusBadRequest, rec.Code, "unsigned envelope is rejected by the ledger")
	assert.Equal(t, apperrors.ErrCodeLedgerRejected, decode[apperrors.AppError](t, rec).Code)

	rec = do(t, h, http.MethodPost, base+"submit", "u1", EnvelopeRequest{Envelope: signed.Envelope})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.True(t, decode[types.SubmitResult](t, rec).Successful)
}

func TestFaucetRoute_PublicWallet(t *testing.T) {
	h := newTestServer(t)

	rec := do(t, h, http.MethodPost, "/v1/wallets/ensure", "u1", NetworkRequest{Network: types.NetworkPublic})
	require.Equal(t, http.StatusOK, rec.Code)
	wallet := decode[WalletResponse](t, rec)

	rec = do(t, h, http.MethodPost, "/v1/faucet", "u1", FundRequest{PublicKey: wallet.PublicKey})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, apperrors.ErrCodeInvalidOperation, decode[apperrors.AppError](t, rec).Code)
}
