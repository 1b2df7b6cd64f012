// Package handlers provides HTTP handlers for backtests.
package handlers

import (
	"context"
	"net/http"

	"github.com/aristath/quantlab/internal/domain"
	"github.com/aristath/quantlab/internal/modules/allocation"
	"github.com/aristath/quantlab/internal/modules/backtesting"
	"github.com/aristath/quantlab/internal/modules/runs"
	"github.com/aristath/quantlab/internal/progress"
	"github.com/aristath/quantlab/internal/utils"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// Request is the body of POST /api/backtest. Target weights come from
// config.target_weights, or from strategy fitted on the full history, or
// default to equal weights.
type Request struct {
	Prices    domain.PriceData    `json:"prices"`
	Benchmark []domain.PricePoint `json:"benchmark,omitempty"`
	Config    backtesting.Config  `json:"config"`
	Strategy  string              `json:"strategy,omitempty"`
	Params    domain.Params       `json:"params,omitempty"`
	Async     bool                `json:"async,omitempty"`
}

// Handler handles backtest HTTP requests
type Handler struct {
	runs     *runs.Service
	registry *allocation.Registry
	defaults backtesting.Config
	log      zerolog.Logger
}

// NewHandler creates a new backtest handler. defaults fills every config
// field the request leaves out.
func NewHandler(runService *runs.Service, registry *allocation.Registry, defaults backtesting.Config, log zerolog.Logger) *Handler {
	return &Handler{
		runs:     runService,
		registry: registry,
		defaults: defaults,
		log:      log.With().Str("handler", "backtest").Logger(),
	}
}

// HandleRun runs a backtest
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

	engine, err := backtesting.NewEngine(req.Config, h.log)
	if err != nil {
		utils.WriteError(w, h.log, http.StatusBadRequest, err.Error())
		return
	}

	var strategy *allocation.Strategy
	if req.Strategy != "" {
		s, err := h.registry.Get(req.Strategy)
		if err != nil {
			utils.WriteError(w, h.log, http.StatusBadRequest, err.Error())
			return
		}
		strategy = &s
	}

	runs.Dispatch(w, r, h.runs, h.log, runs.KindBacktest, req.Async, req, func(ctx context.Context, reporter *progress.Reporter) (any, error) {
		defer utils.NewTimer("backtest", h.log).Stop()

		targets := req.Config.TargetWeights
		if strategy != nil && len(targets) == 0 {
			reporter.ReportPhase("allocate", strategy.Name)
			fitted, err := strategy.Fit(ctx, req.Prices, req.Params)
			if err != nil {
				return nil, err
			}
			targets = fitted
		}

		reporter.ReportPhase("backtest", "replaying price history")
		return engine.RunWithTargets(ctx, req.Prices, req.Benchmark, targets)
	})
}

// RegisterRoutes registers the backtest routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/backtest", h.HandleRun)
}
