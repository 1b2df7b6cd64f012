/**
 * Package di provides dependency injection type definitions.
 *
 * The Container holds every long-lived component of the server and is the
 * single source of truth the HTTP layer and the scheduler draw from.
 */
package di

import (
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
	"github.com/aristath/quantlab/internal/scheduler"
	"github.com/aristath/quantlab/internal/workers"
)

// Container holds all dependencies for the application.
type Container struct {
	// RunsDB stores run history (SQLite, WAL mode)
	RunsDB *database.DB

	EventBus   *events.Bus
	Metrics    *metrics.Metrics
	WorkerPool *workers.Pool
	Registry   *allocation.Registry

	RunRepo    *runs.Repository
	RunService *runs.Service

	// BackupService is nil when R2 credentials are not configured
	BackupService *reliability.BackupService
	Scheduler     *scheduler.Scheduler

	Defaults Defaults
}

// Defaults are the analysis configurations requests start from.
type Defaults struct {
	Backtest    backtesting.Config
	WalkForward walkforward.Config
	MonteCarlo  montecarlo.Config
	Comparison  comparison.Config
}

// JobInstances holds the scheduled jobs for manual triggering via API.
// Backup is nil when R2 is disabled.
type JobInstances struct {
	RunCleanup    scheduler.Job
	WALCheckpoint scheduler.Job
	Maintenance   scheduler.Job
	Backup        scheduler.Job
}

// ByName returns the non-nil jobs keyed by name.
func (j *JobInstances) ByName() map[string]scheduler.Job {
	out := make(map[string]scheduler.Job)
	for _, job := range []scheduler.Job{j.RunCleanup, j.WALCheckpoint, j.Maintenance, j.Backup} {
		if job != nil {
			out[job.Name()] = job
		}
	}
	return out
}

// Close releases the databases.
func (c *Container) Close() error {
	if c.RunsDB == nil {
		return nil
	}
	return c.RunsDB.Close()
}
