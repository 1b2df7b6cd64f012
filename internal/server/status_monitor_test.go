package server

import (
	"context"
	"testing"
	"time"

	"github.com/aristath/quantlab/internal/events"
	"github.com/aristath/quantlab/internal/modules/runs"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusMonitor_EmitsOnChange(t *testing.T) {
	srv, container := newTestServer(t)

	var received []*events.SystemStatusData
	container.EventBus.Subscribe(events.SystemStatusChanged, func(e *events.Event) {
		received = append(received, e.Data.(*events.SystemStatusData))
	})

	monitor := NewStatusMonitor(container.EventBus, srv.systemHandlers, zerolog.Nop())
	ctx := context.Background()

	assert.True(t, monitor.Check(ctx))
	assert.False(t, monitor.Check(ctx))

	_, err := container.RunRepo.Create(ctx, runs.KindMonteCarlo, nil)
	require.NoError(t, err)
	assert.True(t, monitor.Check(ctx))

	require.Len(t, received, 2)
	assert.Equal(t, StatusHealthy, received[0].Status)
	assert.Equal(t, 0, received[0].RunningRuns)
	assert.Equal(t, 1, received[1].RunningRuns)
}

func TestStatusMonitor_StartStop(t *testing.T) {
	srv, container := newTestServer(t)
	monitor := NewStatusMonitor(container.EventBus, srv.systemHandlers, zerolog.Nop())
	monitor.Start(time.Hour)
	monitor.Start(time.Hour)
	monitor.Stop()
	monitor.Stop()
}
