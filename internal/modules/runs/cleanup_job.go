package runs

import (
	"context"
	"time"

	"github.com/aristath/quantlab/internal/events"
	"github.com/rs/zerolog"
)

// CleanupJob deletes finished runs older than the retention period.
// It should be scheduled to run daily.
type CleanupJob struct {
	repo          *Repository
	bus           *events.Bus
	retentionDays int
	log           zerolog.Logger
}

// NewCleanupJob creates a run-history cleanup job. bus may be nil.
func NewCleanupJob(repo *Repository, bus *events.Bus, retentionDays int, log zerolog.Logger) *CleanupJob {
	return &CleanupJob{
		repo:          repo,
		bus:           bus,
		retentionDays: retentionDays,
		log:           log.With().Str("job", "run_history_cleanup").Logger(),
	}
}

// Run deletes expired runs.
func (j *CleanupJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	cutoff := j.repo.now().AddDate(0, 0, -j.retentionDays)
	deleted, err := j.repo.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		j.log.Error().Err(err).Msg("Failed to delete expired runs")
		return err
	}

	if deleted > 0 {
		j.log.Info().
			Int64("deleted", deleted).
			Int("retention_days", j.retentionDays).
			Msg("Run history cleanup completed")
		if j.bus != nil {
			j.bus.Emit(events.RunsCleanedUp, "runs", &events.RunsCleanedUpData{
				Deleted:       deleted,
				RetentionDays: j.retentionDays,
			})
		}
	}
	return nil
}

// Name returns the job name for scheduling and logging.
func (j *CleanupJob) Name() string {
	return "run_history_cleanup"
}
