package events

import (
	"encoding/json"

	"github.com/aristath/quantlab/internal/progress"
)

// RunDeletedData contains data for RunDeleted events
type RunDeletedData struct {
	RunID string `json:"run_id"`
}

// RunsCleanedUpData contains data for RunsCleanedUp events
type RunsCleanedUpData struct {
	Deleted       int64 `json:"deleted"`
	RetentionDays int   `json:"retention_days"`
}

// BackupCompletedData contains data for BackupCompleted events
type BackupCompletedData struct {
	Filename  string `json:"filename"`
	SizeBytes int64  `json:"size_bytes"`
	Checksum  string `json:"checksum"`
}

// SystemStatusData contains data for SystemStatusChanged events
type SystemStatusData struct {
	Status      string `json:"status"`
	RunningRuns int    `json:"running_runs"`
	Message     string `json:"message,omitempty"`
}

// ErrorEventData contains data for ErrorOccurred events
type ErrorEventData struct {
	Error   string         `json:"error"`
	Context map[string]any `json:"context,omitempty"`
}

// UnmarshalJSON decodes an event, giving Data the concrete type registered
// for its event type. Unknown types decode to map[string]any.
func (e *Event) UnmarshalJSON(data []byte) error {
	type alias Event
	aux := &struct {
		Data json.RawMessage `json:"data"`
		*alias
	}{
		alias: (*alias)(e),
	}
	if err := json.Unmarshal(data, aux); err != nil {
		return err
	}
	if len(aux.Data) == 0 {
		e.Data = nil
		return nil
	}

	var target any
	switch aux.Type {
	case RunStarted:
		target = &progress.StartedEvent{}
	case RunProgress:
		target = &progress.ProgressEvent{}
	case RunCompleted:
		target = &progress.CompletedEvent{}
	case RunFailed:
		target = &progress.FailedEvent{}
	case RunDeleted:
		target = &RunDeletedData{}
	case RunsCleanedUp:
		target = &RunsCleanedUpData{}
	case BackupCompleted:
		target = &BackupCompletedData{}
	case SystemStatusChanged:
		target = &SystemStatusData{}
	case ErrorOccurred:
		target = &ErrorEventData{}
	default:
		target = &map[string]any{}
	}
	if err := json.Unmarshal(aux.Data, target); err != nil {
		return err
	}

	if m, ok := target.(*map[string]any); ok {
		e.Data = *m
	} else {
		e.Data = target
	}
	return nil
}
