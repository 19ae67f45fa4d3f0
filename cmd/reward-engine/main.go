package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Kurokamori/reward-engine/internal/api"
	"github.com/Kurokamori/reward-engine/internal/cleanup"
	"github.com/Kurokamori/reward-engine/internal/config"
	"github.com/Kurokamori/reward-engine/internal/engine"
	"github.com/Kurokamori/reward-engine/internal/ledger"
	"github.com/Kurokamori/reward-engine/internal/notify"
	"github.com/Kurokamori/reward-engine/internal/scoring"
	"github.com/Kurokamori/reward-engine/internal/storage"
	"github.com/Kurokamori/reward-engine/internal/tables"
)

func main() {
	// Setup structured logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	slog.Info("starting reward-engine",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)

	// Create context for initialization
	initCtx, initCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer initCancel()

	// Run database migrations
	slog.Info("running database migrations", "dir", cfg.Database.MigrationsDir)
	if err := storage.MigrateFromDSN(initCtx, cfg.Database.DSN, cfg.Database.MigrationsDir); err != nil {
		slog.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}

	// Initialize database repository
	repo, err := storage.NewPostgresRepository(initCtx, storage.PostgresConfig{
		DSN:          cfg.Database.DSN,
		MaxOpenConns: int32(cfg.Database.MaxOpenConns),
		MaxIdleConns: int32(cfg.Database.MaxIdleConns),
	})
	if err != nil {
		slog.Error("failed to create database repository", "error", err)
		os.Exit(1)
	}
	slog.Info("database connected successfully")

	// Initialize event broker. Redis fans events out across instances;
	// without it a single-instance in-memory broker still serves watchers.
	var broker notify.Broker
	if cfg.Redis.Address != "" {
		redisBroker, err := notify.NewRedisBroker(cfg.Redis.Address, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			slog.Error("failed to connect to redis", "error", err, "address", cfg.Redis.Address)
			os.Exit(1)
		}
		broker = redisBroker
		slog.Info("redis broker connected", "address", cfg.Redis.Address)
	} else {
		broker = notify.NewMemoryBroker()
		slog.Info("using in-memory event broker")
	}

	// Load balance tables
	tableLoader := tables.NewLoader()
	if err := tableLoader.LoadFromDir(cfg.Tables.Dir); err != nil {
		slog.Warn("failed to load balance tables from dir", "dir", cfg.Tables.Dir, "error", err)
	}

	// Wire up the engine and ledger
	scorer := scoring.NewScorer(tableLoader, nil)
	rewardEngine := engine.NewEngine(scorer, repo)
	allocLedger := ledger.NewLedger(repo, broker)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Start pool expiry worker if enabled
	if cfg.Expiry.Enabled {
		cleaner := cleanup.NewCleaner(repo, broker, cfg.Expiry.Interval, cfg.Expiry.MaxAge)
		cleaner.Start(ctx)
	}

	// Setup HTTP server
	server := api.NewServer(cfg.Server, rewardEngine, allocLedger, broker, repo)
	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      server.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		slog.Info("HTTP server starting", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down gracefully...")

	// Cancel context to stop background workers
	cancel()

	// Shutdown HTTP server with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	if err := broker.Close(); err != nil {
		slog.Error("broker close error", "error", err)
	}

	if err := repo.Close(); err != nil {
		slog.Error("repository close error", "error", err)
	}

	slog.Info("reward-engine stopped")
}
