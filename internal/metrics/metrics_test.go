package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_RunLifecycle(t *testing.T) {
	m := New()

	m.RunStarted()
	assert.Equal(t, 1.0, testutil.ToFloat64(m.runsInFlight))

	m.RunFinished("backtest", "completed", 150*time.Millisecond)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.runsInFlight))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.runsTotal.WithLabelValues("backtest", "completed")))
}

func TestMetrics_Outcomes(t *testing.T) {
	m := New()

	m.ObserveTrials(95, 5)
	m.ObserveWindows(4, 0)
	m.ObserveGridCells(12, 2)

	assert.Equal(t, 95.0, testutil.ToFloat64(m.trialsTotal.WithLabelValues("success")))
	assert.Equal(t, 5.0, testutil.ToFloat64(m.trialsTotal.WithLabelValues("failed")))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.windowsTotal.WithLabelValues("success")))
	assert.Equal(t, 10.0, testutil.ToFloat64(m.cellsTotal.WithLabelValues("success")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.cellsTotal.WithLabelValues("failed")))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RunStarted()
		m.RunFinished("backtest", "failed", time.Second)
		m.ObserveTrials(1, 1)
		m.ObserveRequest("GET", "/api/runs", 200)
	})
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.ObserveRequest("POST", "/api/backtest", 422)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `quantlab_http_requests_total{method="POST",route="/api/backtest",status="4xx"} 1`)
	assert.Contains(t, string(body), "go_goroutines")
}

func TestStatusClass(t *testing.T) {
	assert.Equal(t, "2xx", statusClass(204))
	assert.Equal(t, "3xx", statusClass(304))
	assert.Equal(t, "4xx", statusClass(404))
	assert.Equal(t, "5xx", statusClass(503))
}
