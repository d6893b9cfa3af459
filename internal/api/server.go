package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/better-wallet/ledger-custody/internal/app"
	"github.com/better-wallet/ledger-custody/internal/config"
	"github.com/better-wallet/ledger-custody/internal/logger"
	"github.com/better-wallet/ledger-custody/internal/metrics"
	"github.com/better-wallet/ledger-custody/internal/middleware"
)

// Server represents the HTTP server
type Server struct {
	config        *config.Config
	walletService *app.WalletService
	multisig      *app.MultisigCoordinator
	metrics       *metrics.Metrics
	httpServer    *http.Server
}

// NewServer creates a new API server. m may be nil to disable /metrics.
func NewServer(cfg *config.Config, walletService *app.WalletService, m *metrics.Metrics) *Server {
	return &Server{
		config:        cfg,
		walletService: walletService,
		multisig:      app.NewMultisigCoordinator(walletService),
		metrics:       m,
	}
}

// Routes builds the router. Every /v1 route requires an owner identity
// resolved upstream.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logging)
	r.Use(middleware.LimitBody(middleware.DefaultMaxBodyBytes))

	r.Get("/health", s.handleHealth)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}

	r.Route("/v1", func(v chi.Router) {
		v.Use(middleware.RequireOwner)

		v.Route("/wallets", func(wr chi.Router) {
			wr.Get("/", s.handleListWallets)
			wr.Post("/", s.handleCreateWallet)
			wr.Post("/ensure", s.handleEnsureWallet)
			wr.Post("/non-custodial", s.handleCreateNonCustodialWallet)
			wr.Post("/recover", s.handleRecoverWallet)

			wr.Route("/{walletID}", func(one chi.Router) {
				one.Get("/", s.handleGetWallet)
				one.Get("/balance", s.handleGetBalance)
				one.Get("/audit", s.handleListAudit)
				one.Get("/backup", s.handleExportBackup)
				one.Post("/network", s.handleSwitchNetwork)
				one.Post("/rotate", s.handleRotateKeys)

				one.Post("/transactions/prepare", s.handlePrepareTransaction)
				one.Post("/transactions/sign", s.handleSignTransaction)
				one.Post("/transactions/submit", s.handleSubmitTransaction)
			})
		})

		v.Post("/multisig/sign", s.handleMultisigSign)
		v.Post("/faucet", s.handleFundTestnet)
	})

	return r
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.config.Port),
		Handler:      s.Routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 45 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	logger.Info(context.Background(), "starting server", "port", s.config.Port)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// handleHealth handles health check requests
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
