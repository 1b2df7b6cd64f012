package events

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/aristath/quantlab/internal/progress"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBus_SubscribeByType(t *testing.T) {
	bus := NewBus(zerolog.Nop())

	var got []*Event
	unsubscribe := bus.Subscribe(RunStarted, func(e *Event) { got = append(got, e) })

	bus.Emit(RunStarted, "backtest", progress.StartedEvent{RunID: "r1"})
	bus.Emit(RunCompleted, "backtest", nil)
	require.Len(t, got, 1)
	assert.Equal(t, RunStarted, got[0].Type)
	assert.Equal(t, "backtest", got[0].Module)
	assert.False(t, got[0].Timestamp.IsZero())

	unsubscribe()
	bus.Emit(RunStarted, "backtest", nil)
	assert.Len(t, got, 1)
	assert.Equal(t, 0, bus.SubscriberCount())
}

func TestBus_SubscribeAll(t *testing.T) {
	bus := NewBus(zerolog.Nop())

	var n atomic.Int64
	unsubscribe := bus.SubscribeAll(func(*Event) { n.Add(1) })
	defer unsubscribe()

	bus.Emit(RunStarted, "m", nil)
	bus.Emit(ErrorOccurred, "m", nil)
	assert.Equal(t, int64(2), n.Load())
}

func TestBus_PanickingHandlerDoesNotStopDelivery(t *testing.T) {
	bus := NewBus(zerolog.Nop())

	delivered := false
	bus.Subscribe(RunFailed, func(*Event) { panic("boom") })
	bus.SubscribeAll(func(*Event) { delivered = true })

	assert.NotPanics(t, func() { bus.Emit(RunFailed, "m", nil) })
	assert.True(t, delivered)
}

func TestBus_ConcurrentEmit(t *testing.T) {
	bus := NewBus(zerolog.Nop())

	var n atomic.Int64
	bus.SubscribeAll(func(*Event) { n.Add(1) })

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			bus.Emit(RunProgress, "m", nil)
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(50), n.Load())
}

func TestBus_EmitterFeedsReporter(t *testing.T) {
	bus := NewBus(zerolog.Nop())

	var got []*Event
	bus.SubscribeAll(func(e *Event) { got = append(got, e) })

	reporter := progress.NewReporter(bus.Emitter("montecarlo"), "run-1", "monte_carlo")
	reporter.Started()
	reporter.Completed()

	require.Len(t, got, 2)
	assert.Equal(t, RunStarted, got[0].Type)
	assert.Equal(t, "montecarlo", got[0].Module)
	assert.Equal(t, RunCompleted, got[1].Type)
}

func TestEvent_JSONRoundTripRestoresTypedData(t *testing.T) {
	tests := []struct {
		name string
		in   Event
		want any
	}{
		{"progress", Event{Type: RunProgress, Data: progress.ProgressEvent{RunID: "r", Current: 3, Total: 10}},
			&progress.ProgressEvent{RunID: "r", Current: 3, Total: 10}},
		{"failed", Event{Type: RunFailed, Data: progress.FailedEvent{RunID: "r", Error: "boom"}},
			&progress.FailedEvent{RunID: "r", Error: "boom"}},
		{"cleanup", Event{Type: RunsCleanedUp, Data: RunsCleanedUpData{Deleted: 4, RetentionDays: 30}},
			&RunsCleanedUpData{Deleted: 4, RetentionDays: 30}},
		{"unknown", Event{Type: "CUSTOM", Data: map[string]any{"k": "v"}},
			map[string]any{"k": "v"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw, err := json.Marshal(tt.in)
			require.NoError(t, err)

			var out Event
			require.NoError(t, json.Unmarshal(raw, &out))
			assert.Equal(t, tt.in.Type, out.Type)
			assert.Equal(t, tt.want, out.Data)
		})
	}
}

func TestEvent_UnmarshalWithoutData(t *testing.T) {
	var out Event
	require.NoError(t, json.Unmarshal([]byte(`{"type":"RUN_STARTED","module":"m"}`), &out))
	assert.Nil(t, out.Data)
}
