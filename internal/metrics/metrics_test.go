package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics(t *testing.T) {
	m := New()

	m.ObserveGateway("TESTNET", "load_account", "ok", 20*time.Millisecond)
	m.ObserveGateway("TESTNET", "load_account", "ok", 30*time.Millisecond)
	m.IncWalletOp("SIGN_TRANSACTION", nil)
	m.IncWalletOp("SIGN_TRANSACTION", errors.New("boom"))

	assert.Equal(t, 2.0, testutil.ToFloat64(m.gatewayRequests.WithLabelValues("TESTNET", "load_account", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.walletOps.WithLabelValues("SIGN_TRANSACTION", "error")))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "custody_ledger_requests_total")
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveGateway("PUBLIC", "submit", "ok", time.Second)
		m.IncWalletOp("CREATE", nil)
	})

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
