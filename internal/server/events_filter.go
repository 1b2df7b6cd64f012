package server

import (
	"net/http"

	"github.com/aristath/quantlab/internal/events"
	"github.com/aristath/quantlab/internal/progress"
	"github.com/aristath/quantlab/internal/utils"
)

// eventFilter selects events by type and, optionally, by run
type eventFilter struct {
	types map[events.EventType]bool
	runID string
}

// parseEventFilter reads ?types=A,B and ?run_id=X
func parseEventFilter(r *http.Request) eventFilter {
	f := eventFilter{runID: r.URL.Query().Get("run_id")}
	if types := utils.ParseCSV(r.URL.Query().Get("types")); len(types) > 0 {
		f.types = make(map[events.EventType]bool, len(types))
		for _, t := range types {
			f.types[events.EventType(t)] = true
		}
	}
	return f
}

func (f eventFilter) match(e *events.Event) bool {
	if f.types != nil && !f.types[e.Type] {
		return false
	}
	if f.runID != "" && eventRunID(e.Data) != f.runID {
		return false
	}
	return true
}

// eventRunID returns the run an event belongs to, or "" for system events
func eventRunID(data any) string {
	switch d := data.(type) {
	case progress.StartedEvent:
		return d.RunID
	case progress.ProgressEvent:
		return d.RunID
	case progress.CompletedEvent:
		return d.RunID
	case progress.FailedEvent:
		return d.RunID
	case *events.RunDeletedData:
		return d.RunID
	}
	return ""
}

// wireEvent is the JSON shape sent to stream clients
type wireEvent struct {
	Type      string `json:"type"`
	Module    string `json:"module,omitempty"`
	Timestamp string `json:"timestamp"`
	Data      any    `json:"data,omitempty"`
	Message   string `json:"message,omitempty"`
}
