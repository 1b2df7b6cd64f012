package server

import (
	"context"
	"sync"
	"time"

	"github.com/aristath/quantlab/internal/events"
	"github.com/aristath/quantlab/internal/modules/runs"
	"github.com/rs/zerolog"
)

// StatusMonitor periodically checks system status and emits
// SYSTEM_STATUS_CHANGED when the overall status or the number of running
// runs changes
type StatusMonitor struct {
	eventBus       *events.Bus
	systemHandlers *SystemHandlers
	log            zerolog.Logger

	mu          sync.Mutex
	lastStatus  string
	lastRunning int
	cancel      context.CancelFunc
	done        chan struct{}
}

// NewStatusMonitor creates a new status monitor
func NewStatusMonitor(eventBus *events.Bus, systemHandlers *SystemHandlers, log zerolog.Logger) *StatusMonitor {
	return &StatusMonitor{
		eventBus:       eventBus,
		systemHandlers: systemHandlers,
		log:            log.With().Str("component", "status_monitor").Logger(),
		lastRunning:    -1,
	}
}

// Start begins periodic status monitoring
func (m *StatusMonitor) Start(interval time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.done = make(chan struct{})
	go m.monitor(ctx, interval, m.done)
	m.log.Info().Dur("interval", interval).Msg("Status monitor started")
}

// Stop ends monitoring and waits for the loop to exit
func (m *StatusMonitor) Stop() {
	m.mu.Lock()
	cancel, done := m.cancel, m.done
	m.cancel = nil
	m.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (m *StatusMonitor) monitor(ctx context.Context, interval time.Duration, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	m.Check(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Check(ctx)
		}
	}
}

// Check compares the current status with the last one seen and emits an
// event on change. It reports whether an event was emitted.
func (m *StatusMonitor) Check(ctx context.Context) bool {
	snapshot := m.systemHandlers.GetSystemStatusSnapshot(ctx)
	running := snapshot.Runs[runs.StatusRunning]

	m.mu.Lock()
	changed := snapshot.Status != m.lastStatus || running != m.lastRunning
	m.lastStatus = snapshot.Status
	m.lastRunning = running
	m.mu.Unlock()

	if !changed {
		return false
	}

	data := &events.SystemStatusData{Status: snapshot.Status, RunningRuns: running}
	if len(snapshot.Errors) > 0 {
		data.Message = snapshot.Errors[0]
	}
	m.log.Debug().Str("status", snapshot.Status).Int("running", running).Msg("System status changed")
	if m.eventBus != nil {
		m.eventBus.Emit(events.SystemStatusChanged, "system", data)
	}
	return true
}
