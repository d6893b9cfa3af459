package middleware

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/better-wallet/ledger-custody/internal/logger"
)

func TestRequireOwner(t *testing.T) {
	var seen string
	handler := RequireOwner(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = OwnerID(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	tests := []struct {
		name       string
		header     string
		wantStatus int
		wantOwner  string
	}{
		{name: "present", header: "user-1", wantStatus: http.StatusNoContent, wantOwner: "user-1"},
		{name: "trimmed", header: "  user-2 ", wantStatus: http.StatusNoContent, wantOwner: "user-2"},
		{name: "missing", header: "", wantStatus: http.StatusUnauthorized},
		{name: "too_long", header: strings.Repeat("x", maxOwnerIDLength+1), wantStatus: http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seen = ""
			req := httptest.NewRequest(http.MethodGet, "/v1/wallets", nil)
			if tt.header != "" {
				req.Header.Set(OwnerHeader, tt.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, tt.wantOwner, seen)
		})
	}
}

func TestRequestID(t *testing.T) {
	var fromCtx string
	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fromCtx = logger.GetRequestID(r.Context())
	}))

	tests := []struct {
		name     string
		upstream string
		reused   bool
	}{
		{name: "generated", upstream: ""},
		{name: "upstream", upstream: "lb-7f3a.91_x", reused: true},
		{name: "newline", upstream: "abc\ninjected=1"},
		{name: "too_long", upstream: strings.Repeat("a", 65)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.upstream != "" {
				req.Header.Set(RequestIDHeader, tt.upstream)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			assert.Equal(t, fromCtx, rec.Header().Get(RequestIDHeader))
			if tt.reused {
				assert.Equal(t, tt.upstream, fromCtx)
				return
			}
			_, err := uuid.Parse(fromCtx)
			require.NoError(t, err)
		})
	}
}

func TestLimitBody(t *testing.T) {
	var readErr error
	handler := LimitBody(16)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, readErr = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusNoContent)
	}))

	t.Run("within_limit", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"a":1}`)))
		assert.Equal(t, http.StatusNoContent, rec.Code)
		assert.NoError(t, readErr)
	})

	t.Run("declared_too_large", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(strings.Repeat("x", 32))))
		assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
		assert.Contains(t, rec.Body.String(), ErrCodePayloadTooLarge)
	})

	t.Run("streamed_too_large", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(strings.Repeat("x", 32)))
		req.ContentLength = -1
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		var tooLarge *http.MaxBytesError
		assert.ErrorAs(t, readErr, &tooLarge)
	})
}

func TestStatusRecorder(t *testing.T) {
	rec := newStatusRecorder(httptest.NewRecorder())
	rec.WriteHeader(http.StatusTeapot)
	rec.WriteHeader(http.StatusOK)
	_, err := rec.Write([]byte("short and stout"))
	require.NoError(t, err)

	assert.Equal(t, http.StatusTeapot, rec.status)
	assert.Equal(t, 15, rec.bytes)
}

func TestLogging(t *testing.T) {
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewJSONHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(prev) })

	handler := RequestID(Logging(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"ok":true}`))
	})))

	req := httptest.NewRequest(http.MethodPost, "/v1/wallets", strings.NewReader(`{"secret":"do-not-log"}`))
	handler.ServeHTTP(httptest.NewRecorder(), req)

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "http request", line["msg"])
	assert.Equal(t, "/v1/wallets", line["path"])
	assert.EqualValues(t, http.StatusCreated, line["status"])
	assert.EqualValues(t, 11, line["bytes"])
	assert.NotContains(t, buf.String(), "do-not-log")
}
