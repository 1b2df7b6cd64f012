// Package handlers provides HTTP handlers for strategy comparisons.
package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/aristath/quantlab/internal/domain"
	"github.com/aristath/quantlab/internal/metrics"
	"github.com/aristath/quantlab/internal/modules/allocation"
	"github.com/aristath/quantlab/internal/modules/comparison"
	"github.com/aristath/quantlab/internal/modules/runs"
	"github.com/aristath/quantlab/internal/progress"
	"github.com/aristath/quantlab/internal/utils"
	"github.com/aristath/quantlab/internal/workers"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// Request is the body of POST /api/comparison. An empty strategy list
// compares the default set.
type Request struct {
	Prices     domain.PriceData    `json:"prices"`
	Benchmark  []domain.PricePoint `json:"benchmark,omitempty"`
	Strategies []string            `json:"strategies,omitempty"`
	Config     comparison.Config   `json:"config"`
	Async      bool                `json:"async,omitempty"`
}

// Handler handles comparison HTTP requests
type Handler struct {
	runs     *runs.Service
	registry *allocation.Registry
	pool     *workers.Pool
	metrics  *metrics.Metrics
	defaults comparison.Config
	log      zerolog.Logger
}

// NewHandler creates a new comparison handler
func NewHandler(runService *runs.Service, registry *allocation.Registry, pool *workers.Pool, m *metrics.Metrics, defaults comparison.Config, log zerolog.Logger) *Handler {
	return &Handler{
		runs:     runService,
		registry: registry,
		pool:     pool,
		metrics:  m,
		defaults: defaults,
		log:      log.With().Str("handler", "comparison").Logger(),
	}
}

// HandleRun compares strategies on the posted price history
func (h *Handler) HandleRun(w http.ResponseWriter, r *http.Request) {
	req := Request{Config: h.defaults}
	if err := utils.DecodeJSON(w, r, &req); err != nil {
		utils.WriteError(w, h.log, http.StatusBadRequest, err.Error())
		return
	}
	if len(req.Prices) == 0 {
		utils.WriteError(w, h.log, http.StatusUnprocessableEntity, domain.ErrNoPriceData.Error())
		return
	}
	if q := utils.ParseCSV(r.URL.Query().Get("strategies")); len(req.Strategies) == 0 && len(q) > 0 {
		req.Strategies = q
	}

	if req.Config.MonteCarlo.Seed == 0 {
		req.Config.MonteCarlo.Seed = uint64(time.Now().UnixNano())
	}
	framework, err := comparison.NewFramework(req.Config, h.registry, h.pool, h.log)
	if err != nil {
		utils.WriteError(w, h.log, http.StatusBadRequest, err.Error())
		return
	}

	runs.Dispatch(w, r, h.runs, h.log, runs.KindComparison, req.Async, req, func(ctx context.Context, reporter *progress.Reporter) (any, error) {
		defer utils.NewTimer("comparison", h.log).Stop()

		result, err := framework.CompareWithProgress(ctx, req.Prices, req.Benchmark, req.Strategies, reporter)
		if err != nil {
			return nil, err
		}
		for _, s := range result.Strategies {
			if s.Optimization != nil {
				h.metrics.ObserveGridCells(s.Optimization.Evaluated, s.Optimization.Failed)
			}
			if s.WalkForward != nil {
				h.metrics.ObserveWindows(s.WalkForward.SuccessfulWindows, s.WalkForward.FailedWindows)
			}
			if s.MonteCarlo != nil {
				h.metrics.ObserveTrials(s.MonteCarlo.Successful, s.MonteCarlo.Failed)
			}
		}
		return result, nil
	})
}

// RegisterRoutes registers the comparison routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/comparison", h.HandleRun)
}
