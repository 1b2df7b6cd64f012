package di

import (
	"fmt"

	"github.com/aristath/quantlab/internal/config"
	"github.com/aristath/quantlab/internal/database"
	"github.com/aristath/quantlab/internal/modules/runs"
	"github.com/aristath/quantlab/internal/reliability"
	"github.com/aristath/quantlab/internal/scheduler"
	"github.com/rs/zerolog"
)

// Fixed maintenance schedules (seconds field first)
const (
	walCheckpointSchedule = "0 0 * * * *"
	maintenanceSchedule   = "0 0 2 * * *"
)

// RegisterJobs creates the scheduler and registers every maintenance job.
// The scheduler is not started.
func RegisterJobs(container *Container, cfg *config.Config, log zerolog.Logger) (*JobInstances, error) {
	if container == nil {
		return nil, fmt.Errorf("container cannot be nil")
	}

	sched := scheduler.New(log)
	instances := &JobInstances{
		RunCleanup:    runs.NewCleanupJob(container.RunRepo, container.EventBus, cfg.RetentionDays, log),
		WALCheckpoint: scheduler.NewWALCheckpointJob(log, container.RunsDB),
		Maintenance:   reliability.NewMaintenanceJob([]*database.DB{container.RunsDB}, cfg.DataDir, log),
	}
	if container.BackupService != nil {
		instances.Backup = reliability.NewR2BackupJob(container.BackupService, cfg.R2.RetentionDays, log)
	}

	schedules := []struct {
		spec string
		job  scheduler.Job
	}{
		{cfg.CleanupCron, instances.RunCleanup},
		{walCheckpointSchedule, instances.WALCheckpoint},
		{maintenanceSchedule, instances.Maintenance},
		{cfg.BackupCron, instances.Backup},
	}
	for _, s := range schedules {
		if s.job == nil {
			continue
		}
		if err := sched.AddJob(s.spec, s.job); err != nil {
			return nil, fmt.Errorf("failed to register %s: %w", s.job.Name(), err)
		}
	}

	container.Scheduler = sched
	return instances, nil
}
