// Package main is the entry point for the quantlab strategy validation server.
//
// Quantlab exposes the validation pipeline over HTTP:
// - Backtesting of weight-producing allocation strategies with a transaction cost model
// - Grid-search optimization of strategy parameters
// - Walk-forward analysis over rolling in-sample/out-of-sample windows
// - Monte Carlo robustness testing (bootstrap replay and parameter perturbation)
// - Multi-strategy comparison with composite ranking
//
// Every analysis is recorded as a run in runs.db so results survive restarts and
// can be fetched asynchronously. Background jobs (run retention, WAL checkpoints,
// maintenance and optional R2 backups) are driven by a cron scheduler.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aristath/quantlab/internal/config"
	"github.com/aristath/quantlab/internal/di"
	"github.com/aristath/quantlab/internal/server"
	"github.com/aristath/quantlab/pkg/logger"
)

// version is overridden at build time with -ldflags "-X main.version=..."
var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		// fallback logger so the configuration error is still reported
		fallbackLog := logger.New(logger.Config{
			Level:  "info",
			Pretty: true,
		})
		fallbackLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.LogPretty,
	})

	log.Info().Str("version", version).Msg("Starting quantlab")

	// Databases, services and jobs are all created by di.Wire
	container, jobs, err := di.Wire(cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to wire dependencies")
	}
	defer func() {
		if err := container.Close(); err != nil {
			log.Error().Err(err).Msg("Failed to close databases")
		}
	}()

	srv := server.New(server.Config{
		Log:       log,
		Config:    cfg,
		Container: container,
		Jobs:      jobs,
		Version:   version,
	})

	container.Scheduler.Start()

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	log.Info().Int("port", cfg.Port).Msg("Server started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	// in-flight requests and running analyses get 30 seconds to finish
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	container.Scheduler.Stop()

	if err := container.RunService.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Background runs did not finish in time")
	}

	log.Info().Msg("Server stopped")
}
