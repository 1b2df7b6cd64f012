package di

import (
	"context"
	"fmt"
	"time"

	"github.com/aristath/quantlab/internal/config"
	"github.com/aristath/quantlab/internal/database"
	"github.com/aristath/quantlab/internal/events"
	"github.com/aristath/quantlab/internal/metrics"
	"github.com/aristath/quantlab/internal/modules/allocation"
	"github.com/aristath/quantlab/internal/modules/backtesting"
	"github.com/aristath/quantlab/internal/modules/comparison"
	"github.com/aristath/quantlab/internal/modules/montecarlo"
	"github.com/aristath/quantlab/internal/modules/runs"
	"github.com/aristath/quantlab/internal/modules/walkforward"
	"github.com/aristath/quantlab/internal/reliability"
	"github.com/aristath/quantlab/internal/workers"
	"github.com/rs/zerolog"
)

// InitializeServices creates the event bus, metrics, worker pool, strategy
// registry, run service and, when configured, the R2 backup service.
// Runs left running by a previous process are marked failed.
func InitializeServices(container *Container, cfg *config.Config, log zerolog.Logger) error {
	if container == nil || container.RunsDB == nil {
		return fmt.Errorf("container has no runs database")
	}

	container.EventBus = events.NewBus(log)
	container.Metrics = metrics.New()
	container.WorkerPool = workers.NewPool(cfg.Workers)
	container.Registry = allocation.NewDefaultRegistry()
	container.Defaults = BuildDefaults(cfg)

	container.RunRepo = runs.NewRepository(container.RunsDB.Conn())
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	interrupted, err := container.RunRepo.FailRunning(ctx, "interrupted by restart")
	if err != nil {
		return fmt.Errorf("failed to reconcile interrupted runs: %w", err)
	}
	if interrupted > 0 {
		log.Warn().Int64("runs", interrupted).Msg("Marked interrupted runs as failed")
	}
	container.RunService = runs.NewService(container.RunRepo, container.EventBus, container.Metrics, log)

	if cfg.R2.Enabled() {
		client, err := reliability.NewR2Client(ctx, cfg.R2.AccountID, cfg.R2.AccessKeyID, cfg.R2.SecretAccessKey, cfg.R2.BucketName, log)
		if err != nil {
			return fmt.Errorf("failed to create r2 client: %w", err)
		}
		container.BackupService = reliability.NewBackupService(client, []*database.DB{container.RunsDB}, cfg.DataDir, container.EventBus, log)
	} else {
		log.Info().Msg("R2 credentials not configured, backups disabled")
	}

	log.Info().
		Int("workers", container.WorkerPool.Size()).
		Strs("strategies", container.Registry.Names()).
		Msg("Services initialized")
	return nil
}

// BuildDefaults derives the analysis defaults from configuration. The
// comparison pipeline runs at most comparison.DefaultConfig's trial count
// per strategy.
func BuildDefaults(cfg *config.Config) Defaults {
	backtest := backtesting.DefaultConfig()
	backtest.RiskFreeRate = cfg.RiskFreeRate

	wf := walkforward.DefaultConfig()
	wf.Backtest = backtest

	mc := montecarlo.DefaultConfig()
	mc.NumSimulations = cfg.MCSimulations
	mc.Seed = cfg.MCSeed
	mc.RiskFreeRate = cfg.RiskFreeRate

	cmp := comparison.DefaultConfig()
	cmp.Backtest = backtest
	cmp.WalkForward = wf
	cmpSims := min(cmp.MonteCarlo.NumSimulations, mc.NumSimulations)
	cmp.MonteCarlo = mc
	cmp.MonteCarlo.NumSimulations = cmpSims

	return Defaults{
		Backtest:    backtest,
		WalkForward: wf,
		MonteCarlo:  mc,
		Comparison:  cmp,
	}
}
