// Package progress reports the lifecycle of long-running analysis runs
// (backtests, walk-forward analyses, Monte Carlo simulations, comparisons).
package progress

import (
	"sync"
	"time"
)

// Event names for the run lifecycle
const (
	EventRunStarted   = "RUN_STARTED"
	EventRunProgress  = "RUN_PROGRESS"
	EventRunCompleted = "RUN_COMPLETED"
	EventRunFailed    = "RUN_FAILED"
)

// Throttle interval for progress events
const throttleInterval = 100 * time.Millisecond

// Emitter receives run lifecycle events.
type Emitter interface {
	Emit(event string, data any)
}

// StartedEvent is emitted when a run begins
type StartedEvent struct {
	RunID string `json:"run_id"`
	Kind  string `json:"kind"`
}

// ProgressEvent is emitted while a run executes
type ProgressEvent struct {
	RunID   string         `json:"run_id"`
	Kind    string         `json:"kind"`
	Current int            `json:"current,omitempty"`
	Total   int            `json:"total,omitempty"`
	Phase   string         `json:"phase,omitempty"`
	Message string         `json:"message,omitempty"`
	Details map[string]any `json:"details,omitempty"`
}

// CompletedEvent is emitted when a run finishes
type CompletedEvent struct {
	RunID      string `json:"run_id"`
	Kind       string `json:"kind"`
	DurationMs int64  `json:"duration_ms"`
}

// FailedEvent is emitted when a run fails
type FailedEvent struct {
	RunID      string `json:"run_id"`
	Kind       string `json:"kind"`
	Error      string `json:"error"`
	DurationMs int64  `json:"duration_ms"`
}

// Reporter emits progress for one run. A nil *Reporter is valid and
// discards everything, so analysis code can report unconditionally.
// Safe for concurrent use by workers.
type Reporter struct {
	emitter Emitter
	runID   string
	kind    string
	started time.Time

	lastReport time.Time
	mu         sync.Mutex
}

// NewReporter creates a reporter for a run.
func NewReporter(emitter Emitter, runID, kind string) *Reporter {
	return &Reporter{emitter: emitter, runID: runID, kind: kind}
}

// Started emits RUN_STARTED and starts the duration clock.
func (r *Reporter) Started() {
	if r == nil || r.emitter == nil {
		return
	}
	r.mu.Lock()
	r.started = time.Now()
	r.mu.Unlock()

	r.emitter.Emit(EventRunStarted, StartedEvent{RunID: r.runID, Kind: r.kind})
}

// Report reports numeric progress. Events are throttled except for the
// final one (current >= total).
func (r *Reporter) Report(current, total int, message string) {
	r.ReportWithDetails(current, total, message, nil)
}

// ReportPhase reports a named phase.
func (r *Reporter) ReportPhase(phase, message string) {
	if r == nil || r.emitter == nil {
		return
	}

	r.mu.Lock()
	r.lastReport = time.Now()
	r.mu.Unlock()

	r.emitter.Emit(EventRunProgress, ProgressEvent{
		RunID:   r.runID,
		Kind:    r.kind,
		Phase:   phase,
		Message: message,
	})
}

// ReportWithDetails reports progress with additional details.
func (r *Reporter) ReportWithDetails(current, total int, message string, details map[string]any) {
	if r == nil || r.emitter == nil {
		return
	}

	r.mu.Lock()
	if current < total && time.Since(r.lastReport) < throttleInterval {
		r.mu.Unlock()
		return
	}
	r.lastReport = time.Now()
	r.mu.Unlock()

	r.emitter.Emit(EventRunProgress, ProgressEvent{
		RunID:   r.runID,
		Kind:    r.kind,
		Current: current,
		Total:   total,
		Message: message,
		Details: details,
	})
}

// Completed emits RUN_COMPLETED.
func (r *Reporter) Completed() {
	if r == nil || r.emitter == nil {
		return
	}
	r.emitter.Emit(EventRunCompleted, CompletedEvent{
		RunID:      r.runID,
		Kind:       r.kind,
		DurationMs: r.elapsed().Milliseconds(),
	})
}

// Failed emits RUN_FAILED.
func (r *Reporter) Failed(err error) {
	if r == nil || r.emitter == nil {
		return
	}

	errMsg := ""
	if err != nil {
		errMsg = err.Error()
	}
	r.emitter.Emit(EventRunFailed, FailedEvent{
		RunID:      r.runID,
		Kind:       r.kind,
		Error:      errMsg,
		DurationMs: r.elapsed().Milliseconds(),
	})
}

func (r *Reporter) elapsed() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started.IsZero() {
		return 0
	}
	return time.Since(r.started)
}
