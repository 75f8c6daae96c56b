// Tracklog - Listen History Ingestion with Write-Time Deduplication
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tracklog

// Command tracklog runs the listen ingestion server.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tomtom215/tracklog/internal/api"
	"github.com/tomtom215/tracklog/internal/cache"
	"github.com/tomtom215/tracklog/internal/config"
	"github.com/tomtom215/tracklog/internal/fingerprint"
	"github.com/tomtom215/tracklog/internal/ingest"
	"github.com/tomtom215/tracklog/internal/logging"
	"github.com/tomtom215/tracklog/internal/metrics"
	"github.com/tomtom215/tracklog/internal/store"
	"github.com/tomtom215/tracklog/internal/supervisor"
	"github.com/tomtom215/tracklog/internal/supervisor/services"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

// maintenanceInterval spaces badger GC and duckdb checkpoints.
const maintenanceInterval = 10 * time.Minute

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:     cfg.Logging.Level,
		Format:    cfg.Logging.Format,
		Caller:    cfg.Logging.Caller,
		Timestamp: true,
	})
	metrics.SetAppInfo(version)

	logging.Info().
		Str("version", version).
		Str("store", cfg.Store.Backend).
		Str("cache", cfg.Cache.Backend).
		Str("mode", cfg.Ingest.Mode).
		Dur("fuzz_tolerance", cfg.Ingest.FuzzTolerance).
		Msg("Starting Tracklog")

	if err := run(cfg); err != nil {
		logging.Fatal().Err(err).Msg("Tracklog stopped with error")
	}
	logging.Info().Msg("Application stopped gracefully")
}

func run(cfg *config.Config) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	matcher := fingerprint.NewMatcher(cfg.Ingest.ToleranceSeconds())

	listenStore, err := store.New(ctx, cfg.Store, cfg.Breaker, matcher)
	if err != nil {
		return fmt.Errorf("open listen store: %w", err)
	}
	defer func() {
		if err := listenStore.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing listen store")
		}
	}()
	logging.Info().Str("backend", listenStore.Name()).Msg("Listen store ready")

	recent, err := cache.New(ctx, cfg.Cache, matcher)
	if err != nil {
		return fmt.Errorf("open recent-write cache: %w", err)
	}
	defer func() {
		if err := recent.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing cache")
		}
	}()

	pipeline := ingest.NewPipeline(listenStore, recent, matcher,
		ingest.WithMaxListens(cfg.Ingest.MaxListensPerRequest))
	reader := ingest.NewReader(listenStore, cfg.Ingest.DefaultQueryCount, cfg.Ingest.MaxQueryCount)

	tree := supervisor.NewTree(logging.NewSlogLogger(), supervisor.TreeConfig{
		FailureThreshold: 5,
		FailureBackoff:   15 * time.Second,
		ShutdownTimeout:  cfg.Server.ShutdownTimeout,
	})

	deps := api.Deps{
		Submitter:    pipeline,
		Reader:       reader,
		Store:        listenStore,
		MaxListens:   cfg.Ingest.MaxListensPerRequest,
		MaxBodyBytes: cfg.Server.MaxBodyBytes,
	}

	if cfg.Ingest.Mode == config.IngestModeNATS {
		qc, err := initQueue(cfg.Queue, pipeline, tree)
		if err != nil {
			return err
		}
		defer qc.Shutdown()
		deps.Publisher = qc.publisher
	}

	if task, ok := services.CacheJanitorTask(recent); ok {
		tree.AddDataService(services.NewPeriodicService("cache-janitor", cfg.Cache.CleanupInterval, task))
	}
	tree.AddDataService(services.NewPeriodicService("store-maintenance", maintenanceInterval,
		services.StoreMaintenanceTask(listenStore)))

	server := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           api.NewRouter(api.NewHandler(deps), api.NewTokenAuth(cfg.Security.TokenUsers()), cfg.Security),
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       60 * time.Second,
	}
	tree.AddAPIService(services.NewHTTPServerService(server, cfg.Server.ShutdownTimeout))
	logging.Info().Str("addr", server.Addr).Int("tokens", len(cfg.Security.Tokens)).Msg("HTTP server service added")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logging.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	// The tree delivers exactly one error, after every service has stopped.
	var treeErr error
	if err := <-tree.ServeBackground(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logging.Error().Err(err).Msg("Supervisor tree error")
		treeErr = err
	}

	if unstopped, _ := tree.UnstoppedServiceReport(); len(unstopped) > 0 {
		for _, svc := range unstopped {
			logging.Warn().Str("service", svc.Name).Msg("Service failed to stop")
		}
	}
	return treeErr
}
