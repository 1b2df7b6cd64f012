// Package metrics exposes Prometheus counters for analysis runs.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "quantlab"

// Metrics holds the collectors of one registry. A nil *Metrics records nothing.
type Metrics struct {
	registry *prometheus.Registry

	runsTotal    *prometheus.CounterVec
	runDuration  *prometheus.HistogramVec
	runsInFlight prometheus.Gauge
	trialsTotal  *prometheus.CounterVec
	windowsTotal *prometheus.CounterVec
	cellsTotal   *prometheus.CounterVec
	httpRequests *prometheus.CounterVec
}

// New creates a registry with the run collectors plus the Go and process
// collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		runsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "runs",
				Name:      "total",
				Help:      "Analysis runs by kind and final status",
			},
			[]string{"kind", "status"},
		),
		runDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "runs",
				Name:      "duration_seconds",
				Help:      "Wall time of analysis runs",
				Buckets:   []float64{0.05, 0.25, 1, 5, 15, 60, 300, 900},
			},
			[]string{"kind"},
		),
		runsInFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "runs",
				Name:      "in_flight",
				Help:      "Analysis runs currently executing",
			},
		),
		trialsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "montecarlo",
				Name:      "trials_total",
				Help:      "Monte Carlo trials by outcome",
			},
			[]string{"outcome"},
		),
		windowsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "walkforward",
				Name:      "windows_total",
				Help:      "Walk-forward windows by outcome",
			},
			[]string{"outcome"},
		),
		cellsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "optimizer",
				Name:      "grid_cells_total",
				Help:      "Optimizer grid cells by outcome",
			},
			[]string{"outcome"},
		),
		httpRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "HTTP requests by route pattern and status class",
			},
			[]string{"method", "route", "status"},
		),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RunStarted marks a run as in flight.
func (m *Metrics) RunStarted() {
	if m == nil {
		return
	}
	m.runsInFlight.Inc()
}

// RunFinished records the outcome of a run started with RunStarted.
func (m *Metrics) RunFinished(kind, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.runsInFlight.Dec()
	m.runsTotal.WithLabelValues(kind, status).Inc()
	m.runDuration.WithLabelValues(kind).Observe(d.Seconds())
}

// ObserveTrials adds Monte Carlo trial outcomes.
func (m *Metrics) ObserveTrials(successful, failed int) {
	if m == nil {
		return
	}
	addOutcomes(m.trialsTotal, successful, failed)
}

// ObserveWindows adds walk-forward window outcomes.
func (m *Metrics) ObserveWindows(successful, failed int) {
	if m == nil {
		return
	}
	addOutcomes(m.windowsTotal, successful, failed)
}

// ObserveGridCells adds optimizer cell outcomes.
func (m *Metrics) ObserveGridCells(evaluated, failed int) {
	if m == nil {
		return
	}
	addOutcomes(m.cellsTotal, evaluated-failed, failed)
}

// ObserveRequest counts one HTTP request.
func (m *Metrics) ObserveRequest(method, route string, status int) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, statusClass(status)).Inc()
}

func addOutcomes(vec *prometheus.CounterVec, successful, failed int) {
	if successful > 0 {
		vec.WithLabelValues("success").Add(float64(successful))
	}
	if failed > 0 {
		vec.WithLabelValues("failed").Add(float64(failed))
	}
}

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
