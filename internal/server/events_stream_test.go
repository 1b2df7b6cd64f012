package server

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/aristath/quantlab/internal/events"
	"github.com/aristath/quantlab/internal/progress"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

func newStreamServer(t *testing.T, bus *events.Bus) *httptest.Server {
	t.Helper()
	router := chi.NewRouter()
	router.Get("/stream", NewEventsStreamHandler(bus, zerolog.Nop()).ServeHTTP)
	router.Get("/ws", NewEventsWebSocketHandler(bus, zerolog.Nop()).ServeHTTP)
	ts := httptest.NewServer(router)
	t.Cleanup(ts.Close)
	return ts
}

// readSSE returns a channel of decoded data lines
func readSSE(t *testing.T, resp *http.Response) <-chan wireEvent {
	t.Helper()
	out := make(chan wireEvent, 10)
	go func() {
		defer close(out)
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, "data: ") {
				continue
			}
			var e wireEvent
			if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &e); err != nil {
				return
			}
			out <- e
		}
	}()
	return out
}

func next(t *testing.T, ch <-chan wireEvent) wireEvent {
	t.Helper()
	select {
	case e, ok := <-ch:
		require.True(t, ok, "stream closed")
		return e
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for event")
		return wireEvent{}
	}
}

func TestEventsStream_FiltersByTypeAndRun(t *testing.T) {
	bus := events.NewBus(zerolog.Nop())
	ts := newStreamServer(t, bus)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, "GET", ts.URL+"/stream?types=RUN_COMPLETED,RUN_FAILED&run_id=r1", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	stream := readSSE(t, resp)
	assert.Equal(t, "connected", next(t, stream).Type)

	emitter := bus.Emitter("backtest")
	progress.NewReporter(emitter, "r2", "backtest").Completed()
	progress.NewReporter(emitter, "r1", "backtest").ReportPhase("allocate", "ignored")
	progress.NewReporter(emitter, "r1", "backtest").Completed()

	e := next(t, stream)
	assert.Equal(t, string(events.RunCompleted), e.Type)
	assert.Equal(t, "backtest", e.Module)
	data, ok := e.Data.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "r1", data["run_id"])

	cancel()
	assert.Eventually(t, func() bool { return bus.SubscriberCount() == 0 }, 5*time.Second, 10*time.Millisecond)
}

func TestEventsWebSocket(t *testing.T) {
	bus := events.NewBus(zerolog.Nop())
	ts := newStreamServer(t, bus)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(ts.URL, "http")+"/ws?types=RUNS_CLEANED_UP", nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	var e wireEvent
	require.NoError(t, wsjson.Read(ctx, conn, &e))
	assert.Equal(t, "connected", e.Type)

	bus.Emit(events.RunDeleted, "runs", &events.RunDeletedData{RunID: "x"})
	bus.Emit(events.RunsCleanedUp, "runs", &events.RunsCleanedUpData{Deleted: 4, RetentionDays: 30})

	require.NoError(t, wsjson.Read(ctx, conn, &e))
	assert.Equal(t, string(events.RunsCleanedUp), e.Type)
	data, ok := e.Data.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, float64(4), data["deleted"])

	require.NoError(t, conn.Close(websocket.StatusNormalClosure, ""))
	assert.Eventually(t, func() bool { return bus.SubscriberCount() == 0 }, 5*time.Second, 10*time.Millisecond)
}

func TestEventFilter(t *testing.T) {
	req := httptest.NewRequest("GET", "/stream?types=RUN_STARTED&run_id=a", nil)
	f := parseEventFilter(req)

	assert.True(t, f.match(&events.Event{Type: events.RunStarted, Data: progress.StartedEvent{RunID: "a"}}))
	assert.False(t, f.match(&events.Event{Type: events.RunStarted, Data: progress.StartedEvent{RunID: "b"}}))
	assert.False(t, f.match(&events.Event{Type: events.RunCompleted, Data: progress.CompletedEvent{RunID: "a"}}))

	all := parseEventFilter(httptest.NewRequest("GET", "/stream", nil))
	assert.True(t, all.match(&events.Event{Type: events.BackupCompleted, Data: &events.BackupCompletedData{}}))
}
