// Package utils holds small helpers shared by handlers and services.
package utils

import (
	"time"

	"github.com/rs/zerolog"
)

// Slow-operation thresholds for Timer
const (
	slowWarnThreshold = 30 * time.Second
	slowInfoThreshold = 10 * time.Second
)

// Timer measures an operation and logs its duration
type Timer struct {
	start time.Time
	name  string
	log   zerolog.Logger
}

// NewTimer starts a timer for the named operation
func NewTimer(name string, log zerolog.Logger) *Timer {
	return &Timer{start: time.Now(), name: name, log: log}
}

// Stop logs the elapsed time at debug level, escalating for slow operations.
func (t *Timer) Stop() time.Duration {
	return t.StopWithContext(nil)
}

// StopWithContext is Stop with extra log fields.
func (t *Timer) StopWithContext(fields map[string]interface{}) time.Duration {
	duration := time.Since(t.start)

	level := zerolog.DebugLevel
	switch {
	case duration > slowWarnThreshold:
		level = zerolog.WarnLevel
	case duration > slowInfoThreshold:
		level = zerolog.InfoLevel
	}

	event := t.log.WithLevel(level).
		Str("operation", t.name).
		Dur("duration_ms", duration)
	if len(fields) > 0 {
		event = event.Fields(fields)
	}
	event.Msg("Performance measurement")

	return duration
}

// OperationTimer provides a defer-friendly way to measure operation duration
//
// Usage:
//
//	func MyFunction() {
//	    defer utils.OperationTimer("my_function", log)()
//	}
func OperationTimer(operation string, log zerolog.Logger) func() {
	t := NewTimer(operation, log)
	return func() { t.Stop() }
}
