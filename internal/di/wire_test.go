package di

import (
	"context"
	"testing"

	"github.com/aristath/quantlab/internal/config"
	"github.com/aristath/quantlab/internal/modules/runs"
	"github.com/aristath/quantlab/internal/progress"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		DataDir:       t.TempDir(),
		Port:          8001,
		Workers:       2,
		MCSimulations: 100,
		MCSeed:        9,
		RiskFreeRate:  0.03,
		RetentionDays: 30,
		CleanupCron:   "0 0 3 * * *",
		BackupCron:    "0 30 3 * * *",
		R2:            config.R2Config{RetentionDays: 14},
	}
}

func TestWire(t *testing.T) {
	cfg := testConfig(t)

	container, jobs, err := Wire(cfg, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = container.RunService.Shutdown(context.Background())
		_ = container.Close()
	})

	assert.NotNil(t, container.RunsDB)
	assert.NotNil(t, container.EventBus)
	assert.NotNil(t, container.Metrics)
	assert.Equal(t, 2, container.WorkerPool.Size())
	assert.NotEmpty(t, container.Registry.Names())
	assert.NotNil(t, container.RunService)
	assert.Nil(t, container.BackupService)

	assert.Nil(t, jobs.Backup)
	byName := jobs.ByName()
	assert.Len(t, byName, 3)
	assert.Contains(t, byName, "run_history_cleanup")
	assert.Contains(t, byName, "wal_checkpoint")
	assert.Contains(t, byName, "daily_maintenance")
	assert.Len(t, container.Scheduler.Jobs(), 3)
}

func TestWire_FailsInterruptedRuns(t *testing.T) {
	cfg := testConfig(t)

	container, _, err := Wire(cfg, zerolog.Nop())
	require.NoError(t, err)
	run, err := container.RunRepo.Create(context.Background(), runs.KindBacktest, map[string]string{"a": "b"})
	require.NoError(t, err)
	require.NoError(t, container.RunService.Shutdown(context.Background()))
	require.NoError(t, container.Close())

	container, _, err = Wire(cfg, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = container.RunService.Shutdown(context.Background())
		_ = container.Close()
	})

	stored, err := container.RunService.Get(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, runs.StatusFailed, stored.Status)
	assert.Equal(t, "interrupted by restart", stored.Error)

	_, err = container.RunService.Execute(context.Background(), runs.KindBacktest, nil,
		func(context.Context, *progress.Reporter) (any, error) { return 1, nil })
	assert.NoError(t, err)
}

func TestBuildDefaults(t *testing.T) {
	cfg := testConfig(t)
	d := BuildDefaults(cfg)

	assert.Equal(t, 0.03, d.Backtest.RiskFreeRate)
	assert.Equal(t, 0.03, d.WalkForward.Backtest.RiskFreeRate)
	assert.Equal(t, 100, d.MonteCarlo.NumSimulations)
	assert.Equal(t, uint64(9), d.MonteCarlo.Seed)
	assert.Equal(t, 0.03, d.MonteCarlo.RiskFreeRate)
	assert.Equal(t, 100, d.Comparison.MonteCarlo.NumSimulations)
	assert.Equal(t, 0.03, d.Comparison.Backtest.RiskFreeRate)

	cfg.MCSimulations = 5000
	assert.Equal(t, 250, BuildDefaults(cfg).Comparison.MonteCarlo.NumSimulations)
}
