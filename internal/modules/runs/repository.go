package runs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Repository stores runs in the runs table.
type Repository struct {
	db  *sql.DB
	now func() time.Time
}

// NewRepository creates a new run repository.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db, now: time.Now}
}

// Create inserts a running run for kind with the encoded request.
func (r *Repository) Create(ctx context.Context, kind Kind, request any) (*Run, error) {
	payload, err := encodePayload(request)
	if err != nil {
		return nil, err
	}

	run := &Run{
		ID:        uuid.NewString(),
		Kind:      kind,
		Status:    StatusRunning,
		CreatedAt: r.now().UTC().Truncate(time.Millisecond),
		Request:   request,
	}

	_, err = r.db.ExecContext(ctx,
		"INSERT INTO runs (id, kind, status, created_at, request) VALUES (?, ?, ?, ?, ?)",
		run.ID, string(run.Kind), string(run.Status), run.CreatedAt.UnixMilli(), payload,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert run: %w", err)
	}
	return run, nil
}

// Complete stores result and marks the run completed.
func (r *Repository) Complete(ctx context.Context, id string, result any, duration time.Duration) error {
	payload, err := encodePayload(result)
	if err != nil {
		return err
	}
	return r.finish(ctx, id, StatusCompleted, "", payload, duration)
}

// Fail marks the run failed with runErr.
func (r *Repository) Fail(ctx context.Context, id string, runErr error, duration time.Duration) error {
	message := ""
	if runErr != nil {
		message = runErr.Error()
	}
	return r.finish(ctx, id, StatusFailed, message, nil, duration)
}

func (r *Repository) finish(ctx context.Context, id string, status Status, message string, result []byte, duration time.Duration) error {
	res, err := r.db.ExecContext(ctx,
		"UPDATE runs SET status = ?, error = ?, result = ?, finished_at = ?, duration_ms = ? WHERE id = ?",
		string(status), message, result, r.now().UTC().UnixMilli(), duration.Milliseconds(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to update run %s: %w", id, err)
	}
	return expectRow(res, id)
}

// Get loads a run with its decoded payloads.
func (r *Repository) Get(ctx context.Context, id string) (*Run, error) {
	row := r.db.QueryRowContext(ctx,
		"SELECT id, kind, status, created_at, finished_at, duration_ms, error, request, result FROM runs WHERE id = ?", id)

	var (
		run        Run
		createdAt  int64
		finishedAt sql.NullInt64
		request    []byte
		result     []byte
	)
	err := row.Scan(&run.ID, &run.Kind, &run.Status, &createdAt, &finishedAt, &run.DurationMs, &run.Error, &request, &result)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run %s: %w", id, err)
	}

	run.CreatedAt = time.UnixMilli(createdAt).UTC()
	if finishedAt.Valid {
		t := time.UnixMilli(finishedAt.Int64).UTC()
		run.FinishedAt = &t
	}
	if run.Request, err = decodePayload(request); err != nil {
		return nil, fmt.Errorf("run %s request: %w", id, err)
	}
	if run.Result, err = decodePayload(result); err != nil {
		return nil, fmt.Errorf("run %s result: %w", id, err)
	}
	return &run, nil
}

// List returns runs newest first, without payloads.
func (r *Repository) List(ctx context.Context, opts ListOptions) ([]Run, error) {
	var (
		where []string
		args  []any
	)
	if opts.Kind != "" {
		where = append(where, "kind = ?")
		args = append(args, string(opts.Kind))
	}
	if opts.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(opts.Status))
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}

	query := "SELECT id, kind, status, created_at, finished_at, duration_ms, error FROM runs"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, id LIMIT ? OFFSET ?"
	args = append(args, limit, max(opts.Offset, 0))

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	runs := []Run{}
	for rows.Next() {
		var (
			run        Run
			createdAt  int64
			finishedAt sql.NullInt64
		)
		if err := rows.Scan(&run.ID, &run.Kind, &run.Status, &createdAt, &finishedAt, &run.DurationMs, &run.Error); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		run.CreatedAt = time.UnixMilli(createdAt).UTC()
		if finishedAt.Valid {
			t := time.UnixMilli(finishedAt.Int64).UTC()
			run.FinishedAt = &t
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// Delete removes a run.
func (r *Repository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, "DELETE FROM runs WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete run %s: %w", id, err)
	}
	return expectRow(res, id)
}

// DeleteOlderThan removes finished runs created before cutoff and returns
// how many were deleted. Running runs are kept.
func (r *Repository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		"DELETE FROM runs WHERE created_at < ? AND status != ?", cutoff.UnixMilli(), string(StatusRunning))
	if err != nil {
		return 0, fmt.Errorf("failed to delete old runs: %w", err)
	}
	deleted, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return deleted, nil
}

// CountByStatus returns the number of runs per status.
func (r *Repository) CountByStatus(ctx context.Context) (map[Status]int, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT status, COUNT(*) FROM runs GROUP BY status")
	if err != nil {
		return nil, fmt.Errorf("failed to count runs: %w", err)
	}
	defer rows.Close()

	counts := make(map[Status]int)
	for rows.Next() {
		var (
			status Status
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("failed to scan run count: %w", err)
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

// FailRunning marks every running run failed. Called at startup, when no
// run can still be executing.
func (r *Repository) FailRunning(ctx context.Context, reason string) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		"UPDATE runs SET status = ?, error = ?, finished_at = ? WHERE status = ?",
		string(StatusFailed), reason, r.now().UTC().UnixMilli(), string(StatusRunning))
	if err != nil {
		return 0, fmt.Errorf("failed to fail running runs: %w", err)
	}
	return res.RowsAffected()
}

func expectRow(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected for run %s: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	return nil
}
