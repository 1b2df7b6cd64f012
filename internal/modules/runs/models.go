// Package runs keeps the history of analysis runs triggered through the API
// and executes them with progress reporting and metrics.
package runs

import (
	"errors"
	"time"
)

// ErrRunNotFound is returned when a run id is unknown.
var ErrRunNotFound = errors.New("run not found")

// Kind is the analysis a run performed.
type Kind string

// Run kinds
const (
	KindBacktest    Kind = "backtest"
	KindWalkForward Kind = "walk_forward"
	KindMonteCarlo  Kind = "monte_carlo"
	KindComparison  Kind = "comparison"
)

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	switch k {
	case KindBacktest, KindWalkForward, KindMonteCarlo, KindComparison:
		return true
	}
	return false
}

// Status is the lifecycle state of a run.
type Status string

// Run statuses
const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Run is one stored analysis run. Request and Result hold the decoded
// payloads when loaded from the store.
type Run struct {
	ID         string     `json:"id"`
	Kind       Kind       `json:"kind"`
	Status     Status     `json:"status"`
	CreatedAt  time.Time  `json:"created_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	DurationMs int64      `json:"duration_ms"`
	Error      string     `json:"error,omitempty"`
	Request    any        `json:"request,omitempty"`
	Result     any        `json:"result,omitempty"`
}

// ListOptions filters and pages List.
type ListOptions struct {
	Kind   Kind
	Status Status
	Limit  int
	Offset int
}

// DefaultListLimit applies when ListOptions.Limit is not positive.
const DefaultListLimit = 50
