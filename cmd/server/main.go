package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/better-wallet/ledger-custody/internal/api"
	"github.com/better-wallet/ledger-custody/internal/app"
	"github.com/better-wallet/ledger-custody/internal/config"
	"github.com/better-wallet/ledger-custody/internal/keyexec"
	"github.com/better-wallet/ledger-custody/internal/ledger"
	"github.com/better-wallet/ledger-custody/internal/lock"
	"github.com/better-wallet/ledger-custody/internal/logger"
	"github.com/better-wallet/ledger-custody/internal/metrics"
	"github.com/better-wallet/ledger-custody/internal/network"
	"github.com/better-wallet/ledger-custody/internal/storage"
	"github.com/better-wallet/ledger-custody/pkg/types"
)

func main() {
	if err := config.LoadDotEnv(".env"); err != nil {
		log.Fatalf("Failed to load .env: %v", err)
	}

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	if err := logger.Init(); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}

	ctx := context.Background()

	// Initialize storage
	var repo storage.Repository
	switch cfg.StorageBackend {
	case config.StorageMemory:
		repo = storage.NewMemory()
		slog.Warn("using in-memory storage; wallets are lost on restart")
	default:
		store, err := storage.New(ctx, cfg.PostgresDSN)
		if err != nil {
			slog.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer store.Close()
		repo = store
		slog.Info("connected to database")
	}

	// Master key source; the key itself is only read when first needed
	keys, err := keyexec.NewMasterKeySource(ctx, keyexec.MasterKeyConfig{
		Source:          cfg.MasterKeySource,
		Encoded:         cfg.MasterKey,
		Ciphertext:      cfg.MasterKeyCiphertext,
		AWSKMSKeyID:     cfg.KMSAWSKeyID,
		AWSKMSRegion:    cfg.KMSAWSRegion,
		VaultAddress:    cfg.VaultAddress,
		VaultToken:      cfg.VaultToken,
		VaultTransitKey: cfg.VaultTransitKey,
	})
	if err != nil {
		slog.Error("failed to initialize master key source", "error", err)
		os.Exit(1)
	}
	if wrapped, ok := keys.(*keyexec.WrappedMasterKey); ok {
		defer wrapped.Close()
	}
	slog.Info("initialized master key source", "source", cfg.MasterKeySource)

	var m *metrics.Metrics
	if cfg.MetricsEnabled {
		m = metrics.New()
	}

	// Ledger gateways
	resolver := network.NewResolver(
		network.Config{
			Network:    types.NetworkPublic,
			Endpoint:   cfg.LedgerPublicURL,
			Passphrase: cfg.LedgerPublicPassphrase,
		},
		network.Config{
			Network:    types.NetworkTestnet,
			Endpoint:   cfg.LedgerTestnetURL,
			Passphrase: cfg.LedgerTestnetPassphrase,
			FaucetURL:  cfg.FaucetURL,
		},
	)
	gatewayOpts := ledger.Options{Timeout: cfg.LedgerTimeout, RPS: cfg.LedgerRPS, Metrics: m}
	gateways, err := ledger.NewRegistry(resolver, gatewayOpts)
	if err != nil {
		slog.Error("failed to initialize ledger gateways", "error", err)
		os.Exit(1)
	}
	testnet, err := resolver.Resolve(types.NetworkTestnet)
	if err != nil {
		slog.Error("failed to resolve testnet", "error", err)
		os.Exit(1)
	}
	faucet := ledger.NewFaucetClient(testnet.FaucetURL, gatewayOpts)

	// Prepare locking
	var locker lock.Locker = lock.NewLocal()
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer client.Close()
		if err := client.Ping(ctx).Err(); err != nil {
			slog.Error("failed to connect to redis", "addr", cfg.RedisAddr, "error", err)
			os.Exit(1)
		}
		ttl := lock.TTLFor(cfg.LedgerTimeout)
		locker = lock.NewRedis(client, ttl)
		slog.Info("using redis prepare lock", "addr", cfg.RedisAddr, "ttl", ttl)
	}

	// Initialize application services
	walletService := app.NewWalletService(app.Deps{
		Repo:     repo,
		Executor: keyexec.NewCustodialExecutor(keys),
		Networks: resolver,
		Gateways: gateways,
		Faucet:   faucet,
		Locker:   locker,
		Metrics:  m,
	})

	// Initialize API server
	server := api.NewServer(cfg, walletService, m)

	// Start server in a goroutine
	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- server.Start()
	}()

	// Setup signal handling for graceful shutdown
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	// Wait for either server error or shutdown signal
	select {
	case err := <-serverErrors:
		slog.Error("server error", "error", err)
		os.Exit(1)

	case sig := <-shutdown:
		slog.Info("received shutdown signal", "signal", sig.String())

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			slog.Error("error during shutdown", "error", err)
			slog.Warn("forcing shutdown")
		}

		slog.Info("server stopped")
	}
}
