package scheduler

import (
	"context"
	"time"

	"github.com/aristath/quantlab/internal/database"
	"github.com/rs/zerolog"
)

// walFrameLimit is the WAL size in frames above which the job truncates.
const walFrameLimit = 1000

// WALCheckpointJob checks WAL growth and truncates the log when it grows
// past walFrameLimit frames.
type WALCheckpointJob struct {
	databases []*database.DB
	log       zerolog.Logger
}

// NewWALCheckpointJob creates a WAL checkpoint job. nil databases are skipped.
func NewWALCheckpointJob(log zerolog.Logger, databases ...*database.DB) *WALCheckpointJob {
	return &WALCheckpointJob{
		databases: databases,
		log:       log.With().Str("job", "wal_checkpoint").Logger(),
	}
}

// Name returns the job name
func (j *WALCheckpointJob) Name() string {
	return "wal_checkpoint"
}

// Run executes the WAL checkpoint check
func (j *WALCheckpointJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	checked, truncated := 0, 0
	for _, db := range j.databases {
		if db == nil {
			continue
		}

		// PRAGMA wal_checkpoint returns: busy, log, checkpointed
		var busy, frames, checkpointed int
		err := db.QueryRowContext(ctx, "PRAGMA wal_checkpoint(PASSIVE)").Scan(&busy, &frames, &checkpointed)
		if err != nil {
			j.log.Warn().
				Err(err).
				Str("database", db.Name()).
				Msg("Failed to check WAL checkpoint")
			continue
		}
		checked++

		if frames > walFrameLimit {
			j.log.Warn().
				Str("database", db.Name()).
				Int("wal_frames", frames).
				Int("checkpointed", checkpointed).
				Msg("WAL file is large, truncating")
			if err := db.WALCheckpoint(ctx, "TRUNCATE"); err != nil {
				j.log.Warn().Err(err).Str("database", db.Name()).Msg("WAL truncate failed")
				continue
			}
			truncated++
			continue
		}

		j.log.Debug().
			Str("database", db.Name()).
			Int("wal_frames", frames).
			Msg("WAL checkpoint status OK")
	}

	j.log.Info().
		Int("checked", checked).
		Int("truncated", truncated).
		Msg("WAL checkpoint check completed")
	return nil
}
