// Package events provides the in-process event bus that streams run
// lifecycle and system events to SSE and websocket clients.
package events

import (
	"time"

	"github.com/aristath/quantlab/internal/progress"
)

// EventType identifies an event
type EventType string

// Event types
const (
	RunStarted   EventType = progress.EventRunStarted
	RunProgress  EventType = progress.EventRunProgress
	RunCompleted EventType = progress.EventRunCompleted
	RunFailed    EventType = progress.EventRunFailed

	RunDeleted          EventType = "RUN_DELETED"
	RunsCleanedUp       EventType = "RUNS_CLEANED_UP"
	BackupCompleted     EventType = "BACKUP_COMPLETED"
	SystemStatusChanged EventType = "SYSTEM_STATUS_CHANGED"
	ErrorOccurred       EventType = "ERROR_OCCURRED"
)

// Event is one message on the bus
type Event struct {
	Type      EventType `json:"type"`
	Module    string    `json:"module"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data,omitempty"`
}
