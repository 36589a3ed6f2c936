// Harrier - Multi-stage transaction fraud detection pipeline.
// Copyright (c) 2026 opensource.finance
// Licensed under the Apache License 2.0

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

	"github.com/opensource-finance/harrier/internal/alerts"
	"github.com/opensource-finance/harrier/internal/api"
	"github.com/opensource-finance/harrier/internal/bus"
	"github.com/opensource-finance/harrier/internal/cache"
	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/features"
	"github.com/opensource-finance/harrier/internal/repository"
	"github.com/opensource-finance/harrier/internal/scoring"
	"github.com/opensource-finance/harrier/internal/worker"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	// Initialize structured logger
	logLevel := slog.LevelInfo
	if os.Getenv("HARRIER_DEBUG") == "true" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	slog.Info("starting harrier",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)

	// Load configuration
	cfg := domain.DefaultConfig()

	// Check for Pro tier via environment
	if os.Getenv("HARRIER_TIER") == "pro" {
		cfg = domain.ProConfig()
		slog.Info("running in Pro tier mode")
	}

	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		cfg.Narrative.APIKey = key
	}

	slog.Info("configuration loaded",
		"tier", cfg.Tier,
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
	)

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

	// Initialize Feature Engine
	engine := features.NewEngine(repo, cacheImpl, cfg.Pipeline, logger)
	slog.Info("feature engine initialized",
		"velocity_window_days", cfg.Pipeline.VelocityWindowDays,
	)

	// Initialize Risk Scorer with the built-in compliance override rules
	overrides, err := scoring.DefaultRuleSet(logger)
	if err != nil {
		slog.Error("failed to compile override rules", "error", err)
		os.Exit(1)
	}
	scorer := scoring.NewScorer(cfg.Pipeline, overrides, nil, logger)
	slog.Info("risk scorer initialized", "model_version", scorer.Metrics().ModelVersion)

	// Initialize Alert Manager with the narrative fallback chain
	narrative, err := alerts.DefaultChain(cfg.Narrative, logger)
	if err != nil {
		slog.Error("failed to initialize narrative chain", "error", err)
		os.Exit(1)
	}
	alertMgr := alerts.NewManager(repo, cfg.Pipeline, narrative, logger)
	slog.Info("alert manager initialized",
		"alert_threshold", cfg.Pipeline.AlertThreshold,
		"ai_narratives", cfg.Narrative.Enabled && cfg.Narrative.APIKey != "",
	)

	// Initialize the pipeline workers
	pipeline := worker.NewPipeline(busImpl, repo, cacheImpl, engine, scorer, alertMgr, cfg.Pipeline, logger)
	if err := pipeline.Start(); err != nil {
		slog.Error("failed to start pipeline", "error", err)
		os.Exit(1)
	}
	slog.Info("pipeline started", "shards", cfg.Pipeline.WorkerShards)

	// Initialize Server
	srv := api.NewServer(cfg.Server, repo, cacheImpl, busImpl, engine, scorer, alertMgr, Version)

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

	// Stop the pipeline first so in-flight events drain before the stores close
	pipeline.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	slog.Info("harrier shutdown complete")
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  ╔═══════════════════════════════════════════╗")
	fmt.Println("  ║               🦅 HARRIER                  ║")
	fmt.Println("  ║       Fraud Detection Pipeline            ║")
	fmt.Println("  ║    Low passes, nothing gets through.      ║")
	fmt.Println("  ╚═══════════════════════════════════════════╝")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Tier:     %s\n", cfg.Tier)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    GET   /features/{txnId}   - Feature vector for a transaction")
	fmt.Println("    POST  /features/compute   - Stateless what-if featurization")
	fmt.Println("    GET   /alerts             - List alerts (status, risk_threshold)")
	fmt.Println("    GET   /alerts/{id}        - Get alert by ID")
	fmt.Println("    PATCH /alerts/{id}        - Update alert status/notes/assignee")
	fmt.Println("    GET   /alerts/stats       - Alert aggregates")
	fmt.Println("    GET   /model/metrics      - Scoring model metrics")
	fmt.Println("    GET   /pipeline/stats     - Per-stage processed counters")
	fmt.Println("    GET   /health             - Health check")
	fmt.Println()
}
