// Harrier - Commission calculation and audit engine for fund
// administration.

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

	"github.com/fundops/harrier/internal/api"
	"github.com/fundops/harrier/internal/bus"
	"github.com/fundops/harrier/internal/cache"
	"github.com/fundops/harrier/internal/credits"
	"github.com/fundops/harrier/internal/domain"
	"github.com/fundops/harrier/internal/export"
	"github.com/fundops/harrier/internal/history"
	"github.com/fundops/harrier/internal/repository"
	"github.com/fundops/harrier/internal/run"
	"github.com/fundops/harrier/internal/volume"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	// Load configuration
	cfg := domain.DefaultConfig()
	if os.Getenv("HARRIER_TIER") == "pro" {
		cfg = domain.ProConfig()
	}
	if err := cfg.FromEnv(); err != nil {
		fmt.Fprintln(os.Stderr, "configuration error:", err)
		os.Exit(1)
	}

	setupLogger(cfg.Logging)

	slog.Info("starting harrier",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)
	slog.Info("configuration loaded",
		"tier", cfg.Tier,
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
	)

	vatTable, err := cfg.VAT.Table()
	if err != nil {
		slog.Error("invalid VAT configuration", "error", err)
		os.Exit(1)
	}

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		slog.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Initialize Repository
	repo, err := repository.New(cfg.Repository)
	if err != nil {
		slog.Error("failed to initialize repository", "error", err)
		os.Exit(1)
	}
	defer repo.Close()
	slog.Info("repository initialized", "driver", cfg.Repository.Driver)

	// Initialize Cache
	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		slog.Error("failed to initialize cache", "error", err)
		os.Exit(1)
	}
	defer cacheImpl.Close()
	slog.Info("cache initialized", "type", cfg.Cache.Type)

	// Initialize EventBus
	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		slog.Error("failed to initialize event bus", "error", err)
		os.Exit(1)
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	// Initialize supporting services
	volumeSvc := volume.NewService(repo, cacheImpl)
	ledger := credits.NewLedger(repo)

	// Initialize run orchestrator and replay verifier
	orchestrator := run.NewOrchestrator(repo, busImpl, ledger, volumeSvc, vatTable, cfg.Engine)
	verifier := export.NewVerifier(repo, busImpl)
	slog.Info("calculation engine initialized",
		"batch_size", cfg.Engine.BatchSize,
		"actor_id", cfg.Engine.ActorID,
	)

	// Start history recorder: execution history is persisted off the
	// calculation path.
	recorder := history.NewRecorder(busImpl, repo)
	if err := recorder.Start(); err != nil {
		slog.Error("failed to start history recorder", "error", err)
		os.Exit(1)
	}

	// Initialize Server
	srv := api.NewServer(cfg.Server, repo, cacheImpl, busImpl, orchestrator, verifier, Version)

	// Start Server in goroutine
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("harrier is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)

	printBanner(cfg, Version)

	// Wait for shutdown signal
	<-ctx.Done()
	slog.Info("shutting down...")

	if err := recorder.Stop(); err != nil {
		slog.Error("failed to stop history recorder", "error", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	slog.Info("harrier shutdown complete")
}

func setupLogger(cfg domain.LoggingConfig) {
	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	} else {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	}
	slog.SetDefault(slog.New(handler))
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  HARRIER - Commission Calculation & Audit Engine")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Tier:     %s\n", cfg.Tier)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST /events                    - Ingest a distribution event")
	fmt.Println("    GET  /rules                     - List active rules")
	fmt.Println("    POST /rules                     - Create a rule version")
	fmt.Println("    POST /rules/validate            - Validate a rule")
	fmt.Println("    POST /credits                   - Post an investor credit")
	fmt.Println("    POST /runs                      - Create a calculation run")
	fmt.Println("    POST /runs/{id}/execute         - Compute commissions")
	fmt.Println("    POST /runs/{id}/approve         - Approve a run")
	fmt.Println("    POST /runs/{id}/lock            - Lock and pin exports")
	fmt.Println("    GET  /runs/{id}/exports/{shape} - Render an export shape")
	fmt.Println("    POST /runs/{id}/replay          - Verify by replay")
	fmt.Println("    GET  /health                    - Health check")
	fmt.Println()
}
