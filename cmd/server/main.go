package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/mwestcott/b24import/internal/config"
	"github.com/mwestcott/b24import/internal/crm"
	"github.com/mwestcott/b24import/internal/ledger"
	"github.com/mwestcott/b24import/internal/logging"
	"github.com/mwestcott/b24import/internal/web"
)

func main() {
	// Load .env file if it exists (Overload overwrites existing env vars)
	if err := godotenv.Overload(); err != nil {
		slog.Info("no .env file found, using environment variables")
	} else {
		slog.Info("loaded .env file (overwriting existing env vars)")
	}

	// Load and validate configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Setup structured logging based on config
	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)

	slog.Info("configuration loaded",
		"port", cfg.Server.Port,
		"primary_entity", cfg.Import.PrimaryEntity,
		"dependent_entity", cfg.Import.DependentEntity,
		"request_delay", cfg.CRM.RequestDelay,
		"ledger_mirror", cfg.Database.MirrorEnabled(),
	)

	client, err := crm.NewClient(cfg.CRM.WebhookURL,
		crm.WithDelay(cfg.CRM.RequestDelay),
		crm.WithTimeout(cfg.CRM.Timeout),
	)
	if err != nil {
		slog.Error("failed to create CRM client", "error", err)
		os.Exit(1)
	}

	if err := os.MkdirAll(cfg.Import.LedgerDir, 0o755); err != nil {
		slog.Error("failed to create ledger directory", "dir", cfg.Import.LedgerDir, "error", err)
		os.Exit(1)
	}

	ctx := context.Background()

	// The Postgres ledger mirror is optional; without it runs write
	// CSV ledgers only.
	var store *ledger.Store
	if cfg.Database.MirrorEnabled() {
		poolConfig, err := pgxpool.ParseConfig(cfg.Database.URL)
		if err != nil {
			slog.Error("failed to parse database URL", "error", err)
			os.Exit(1)
		}
		poolConfig.MaxConns = int32(cfg.Database.MaxConns)
		poolConfig.MinConns = int32(cfg.Database.MinConns)

		pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
		if err != nil {
			slog.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer pool.Close()

		if err := pool.Ping(ctx); err != nil {
			slog.Error("failed to ping database", "error", err)
			os.Exit(1)
		}

		store = ledger.NewStore(pool)
		if err := store.EnsureSchema(ctx); err != nil {
			slog.Error("failed to ensure ledger schema", "error", err)
			os.Exit(1)
		}
		slog.Info("ledger mirror enabled")
	}

	server := web.NewServer(cfg, client, store)

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		slog.Info("shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("shutdown error", "error", err)
		}
	}()

	slog.Info("server starting", "addr", cfg.Server.Addr())
	if err := server.Start(cfg.Server.Addr()); err != nil {
		slog.Info("server stopped", "error", err)
	}
}
