// Package handlers provides HTTP handlers for walk-forward analysis.
package handlers

import (
	"context"
	"net/http"

	"github.com/aristath/quantlab/internal/domain"
	"github.com/aristath/quantlab/internal/metrics"
	"github.com/aristath/quantlab/internal/modules/allocation"
	"github.com/aristath/quantlab/internal/modules/runs"
	"github.com/aristath/quantlab/internal/modules/walkforward"
	"github.com/aristath/quantlab/internal/progress"
	"github.com/aristath/quantlab/internal/utils"
	"github.com/aristath/quantlab/internal/workers"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// Request is the body of POST /api/walk-forward
type Request struct {
	Prices   domain.PriceData   `json:"prices"`
	Strategy string             `json:"strategy"`
	Config   walkforward.Config `json:"config"`
	Async    bool               `json:"async,omitempty"`
}

// Handler handles walk-forward HTTP requests
type Handler struct {
	runs     *runs.Service
	registry *allocation.Registry
	pool     *workers.Pool
	metrics  *metrics.Metrics
	defaults walkforward.Config
	log      zerolog.Logger
}

// NewHandler creates a new walk-forward handler
func NewHandler(runService *runs.Service, registry *allocation.Registry, pool *workers.Pool, m *metrics.Metrics, defaults walkforward.Config, log zerolog.Logger) *Handler {
	return &Handler{
		runs:     runService,
		registry: registry,
		pool:     pool,
		metrics:  m,
		defaults: defaults,
		log:      log.With().Str("handler", "walk_forward").Logger(),
	}
}

// HandleRun runs a walk-forward analysis of one registered strategy
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
	if req.Strategy == "" {
		utils.WriteError(w, h.log, http.StatusBadRequest, "strategy is required")
		return
	}

	strategy, err := h.registry.Get(req.Strategy)
	if err != nil {
		utils.WriteError(w, h.log, http.StatusBadRequest, err.Error())
		return
	}
	analyzer, err := walkforward.NewAnalyzer(req.Config, h.pool, h.log)
	if err != nil {
		utils.WriteError(w, h.log, http.StatusBadRequest, err.Error())
		return
	}

	runs.Dispatch(w, r, h.runs, h.log, runs.KindWalkForward, req.Async, req, func(ctx context.Context, reporter *progress.Reporter) (any, error) {
		defer utils.NewTimer("walk_forward", h.log).Stop()

		result, err := analyzer.RunWithProgress(ctx, req.Prices, strategy.Method(), reporter)
		if err != nil {
			return nil, err
		}
		h.metrics.ObserveWindows(result.Summary.SuccessfulWindows, result.Summary.FailedWindows)
		return result, nil
	})
}

// RegisterRoutes registers the walk-forward routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/walk-forward", h.HandleRun)
}
