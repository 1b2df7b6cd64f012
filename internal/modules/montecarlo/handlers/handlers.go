// Package handlers provides HTTP handlers for Monte Carlo robustness runs.
package handlers

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/aristath/quantlab/internal/domain"
	"github.com/aristath/quantlab/internal/metrics"
	"github.com/aristath/quantlab/internal/modules/allocation"
	"github.com/aristath/quantlab/internal/modules/backtesting"
	"github.com/aristath/quantlab/internal/modules/montecarlo"
	"github.com/aristath/quantlab/internal/modules/optimization"
	"github.com/aristath/quantlab/internal/modules/runs"
	"github.com/aristath/quantlab/internal/progress"
	"github.com/aristath/quantlab/internal/utils"
	"github.com/aristath/quantlab/internal/workers"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// Scenario replay modes
const (
	// ReplayBacktest replays each scenario through the backtesting engine
	ReplayBacktest = "backtest"
	// ReplayConstantMix holds the allocated weights for the whole scenario
	ReplayConstantMix = "constant_mix"
)

// Request is the body of POST /api/monte-carlo. The baseline parameters are
// the strategy defaults overridden by params, or the grid-search optimum
// when optimize is set.
type Request struct {
	Prices   domain.PriceData   `json:"prices"`
	Strategy string             `json:"strategy"`
	Params   domain.Params      `json:"params,omitempty"`
	Optimize bool               `json:"optimize,omitempty"`
	Replay   string             `json:"replay,omitempty"`
	Config   montecarlo.Config  `json:"config"`
	Backtest backtesting.Config `json:"backtest"`
	Async    bool               `json:"async,omitempty"`
}

// Defaults are the configurations requests start from.
type Defaults struct {
	MonteCarlo montecarlo.Config
	Backtest   backtesting.Config
}

// Handler handles Monte Carlo HTTP requests
type Handler struct {
	runs     *runs.Service
	registry *allocation.Registry
	pool     *workers.Pool
	metrics  *metrics.Metrics
	defaults Defaults
	log      zerolog.Logger
}

// NewHandler creates a new Monte Carlo handler
func NewHandler(runService *runs.Service, registry *allocation.Registry, pool *workers.Pool, m *metrics.Metrics, defaults Defaults, log zerolog.Logger) *Handler {
	return &Handler{
		runs:     runService,
		registry: registry,
		pool:     pool,
		metrics:  m,
		defaults: defaults,
		log:      log.With().Str("handler", "monte_carlo").Logger(),
	}
}

// ResolveSeed returns seed, or a clock-derived seed when it is zero.
func ResolveSeed(seed uint64) uint64 {
	if seed != 0 {
		return seed
	}
	return uint64(time.Now().UnixNano())
}

// HandleRun runs a Monte Carlo robustness analysis of one registered strategy
func (h *Handler) HandleRun(w http.ResponseWriter, r *http.Request) {
	req := Request{
		Config:   h.defaults.MonteCarlo,
		Backtest: h.defaults.Backtest,
		Replay:   ReplayBacktest,
	}
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
	if req.Replay != ReplayBacktest && req.Replay != ReplayConstantMix {
		utils.WriteError(w, h.log, http.StatusBadRequest, fmt.Sprintf("unknown replay %q", req.Replay))
		return
	}

	strategy, err := h.registry.Get(req.Strategy)
	if err != nil {
		utils.WriteError(w, h.log, http.StatusBadRequest, err.Error())
		return
	}

	req.Config.Seed = ResolveSeed(req.Config.Seed)
	req.Config.RiskFreeRate = req.Backtest.RiskFreeRate
	engine, err := montecarlo.NewEngine(req.Config, h.pool, h.log)
	if err != nil {
		utils.WriteError(w, h.log, http.StatusBadRequest, err.Error())
		return
	}
	backtester, err := backtesting.NewEngine(req.Backtest, h.log)
	if err != nil {
		utils.WriteError(w, h.log, http.StatusBadRequest, err.Error())
		return
	}

	runs.Dispatch(w, r, h.runs, h.log, runs.KindMonteCarlo, req.Async, req, func(ctx context.Context, reporter *progress.Reporter) (any, error) {
		defer utils.NewTimer("monte_carlo", h.log).Stop()

		symbols := req.Prices.Symbols()
		returns, err := req.Prices.ReturnsMatrix(symbols)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrInsufficientHistory, err)
		}

		baseline := strategy.BaseParams.Merge(req.Params)
		if req.Optimize {
			reporter.ReportPhase("optimize", strategy.Name)
			optimizer := optimization.NewStrategyOptimizer(h.pool, req.Backtest.RiskFreeRate, h.log)
			method := strategy.Method()
			method.BaseParams = baseline
			opt, err := optimizer.Optimize(ctx, method, symbols, returns)
			if err != nil {
				return nil, err
			}
			h.metrics.ObserveGridCells(opt.Evaluated, opt.Failed)
			baseline = opt.Params
		}

		scenario := montecarlo.FromStrategy(strategy.Func)
		if req.Replay == ReplayBacktest {
			scenario = montecarlo.FromBacktest(backtester, symbols, req.Prices.Dates()[0], strategy.Func)
		}

		reporter.ReportPhase("simulate", fmt.Sprintf("%d trials", req.Config.NumSimulations))
		result, err := engine.RunWithProgress(ctx, returns, baseline, scenario, reporter)
		if err != nil {
			return nil, err
		}
		h.metrics.ObserveTrials(result.Successful, result.Failed)
		return result, nil
	})
}

// RegisterRoutes registers the Monte Carlo routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/monte-carlo", h.HandleRun)
}
