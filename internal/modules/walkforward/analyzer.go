// Package walkforward validates a strategy out of sample: it re-optimizes on
// a rolling in-sample window and backtests the chosen weights on the dates
// that follow.
package walkforward

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync/atomic"

	"github.com/aristath/quantlab/internal/domain"
	"github.com/aristath/quantlab/internal/modules/backtesting"
	"github.com/aristath/quantlab/internal/modules/optimization"
	"github.com/aristath/quantlab/internal/modules/portfolio"
	"github.com/aristath/quantlab/internal/progress"
	"github.com/aristath/quantlab/internal/workers"
	"github.com/aristath/quantlab/pkg/formulas"
	"github.com/rs/zerolog"
)

// Config configures an Analyzer. Window sizes count trading dates.
type Config struct {
	LookbackWindow int                `json:"lookback_window"`
	HoldoutWindow  int                `json:"holdout_window"`
	StepSize       int                `json:"step_size"`
	Backtest       backtesting.Config `json:"backtest"`
}

// DefaultConfig returns a one-year lookback, one-quarter holdout and
// monthly step.
func DefaultConfig() Config {
	return Config{
		LookbackWindow: 252,
		HoldoutWindow:  63,
		StepSize:       21,
		Backtest:       backtesting.DefaultConfig(),
	}
}

// Validate checks window sizes.
func (c Config) Validate() error {
	var errs domain.ValidationErrors
	if c.LookbackWindow < 3 {
		errs = append(errs, domain.ValidationError{Field: "lookback_window", Message: "must be at least 3"})
	}
	if c.HoldoutWindow < 2 {
		errs = append(errs, domain.ValidationError{Field: "holdout_window", Message: "must be at least 2"})
	}
	if c.StepSize < 1 {
		errs = append(errs, domain.ValidationError{Field: "step_size", Message: "must be at least 1"})
	}
	if len(errs) > 0 {
		return errs
	}
	return nil
}

// Period is the outcome of one window.
type Period struct {
	Window      Window                      `json:"window"`
	Params      domain.Params               `json:"params,omitempty"`
	Weights     map[string]float64          `json:"weights,omitempty"`
	FellBack    bool                        `json:"fell_back"`
	InSample    *portfolio.PerformanceStats `json:"in_sample,omitempty"`
	OutOfSample *portfolio.PerformanceStats `json:"out_of_sample,omitempty"`
	Success     bool                        `json:"success"`
	Error       string                      `json:"error,omitempty"`
}

// Summary aggregates the successful periods.
type Summary struct {
	TotalWindows      int `json:"total_windows"`
	SuccessfulWindows int `json:"successful_windows"`
	FailedWindows     int `json:"failed_windows"`

	MeanReturn             float64 `json:"mean_return"`
	MeanSharpe             float64 `json:"mean_sharpe"`
	MeanMaxDrawdown        float64 `json:"mean_max_drawdown"`
	WinRate                float64 `json:"win_rate"`
	PositiveSharpeRate     float64 `json:"positive_sharpe_rate"`
	RobustnessScore        float64 `json:"robustness_score"`
	MeanInSampleAnnualized float64 `json:"mean_in_sample_annualized_return"`
	MeanOOSAnnualized      float64 `json:"mean_out_of_sample_annualized_return"`
	// Efficiency is mean OOS annualized return over mean in-sample
	// annualized return; 0 when the in-sample mean is not positive.
	Efficiency float64 `json:"efficiency"`

	ParameterStability map[string]float64 `json:"parameter_stability"`
	OverallStability   float64            `json:"overall_stability"`
}

// Result is the report of one walk-forward analysis.
type Result struct {
	Method  string   `json:"method"`
	Config  Config   `json:"config"`
	Periods []Period `json:"periods"`
	Summary Summary  `json:"summary"`
}

// Analyzer runs walk-forward analyses. It is safe for concurrent use.
type Analyzer struct {
	cfg       Config
	engine    *backtesting.Engine
	optimizer *optimization.StrategyOptimizer
	pool      *workers.Pool
	log       zerolog.Logger
}

// NewAnalyzer validates cfg and creates an analyzer whose windows and grid
// cells run on pool.
func NewAnalyzer(cfg Config, pool *workers.Pool, log zerolog.Logger) (*Analyzer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	engine, err := backtesting.NewEngine(cfg.Backtest, log)
	if err != nil {
		return nil, err
	}
	return &Analyzer{
		cfg:       cfg,
		engine:    engine,
		optimizer: optimization.NewStrategyOptimizer(pool, cfg.Backtest.RiskFreeRate, log),
		pool:      pool,
		log:       log.With().Str("component", "walkforward").Logger(),
	}, nil
}

// Run analyzes method over prices.
func (a *Analyzer) Run(ctx context.Context, prices domain.PriceData, method optimization.Method) (*Result, error) {
	return a.RunWithProgress(ctx, prices, method, nil)
}

// RunWithProgress analyzes method over prices, reporting each finished window.
// Zero windows is fatal; a failed window is logged and excluded.
func (a *Analyzer) RunWithProgress(ctx context.Context, prices domain.PriceData, method optimization.Method, reporter *progress.Reporter) (*Result, error) {
	dates := prices.Dates()
	if len(dates) == 0 {
		return nil, domain.ErrNoPriceData
	}

	windows := GenerateWindows(dates, a.cfg.LookbackWindow, a.cfg.HoldoutWindow, a.cfg.StepSize)
	if len(windows) == 0 {
		return nil, fmt.Errorf("%w: %d dates cannot hold a %d+%d window",
			domain.ErrInsufficientHistory, len(dates), a.cfg.LookbackWindow, a.cfg.HoldoutWindow)
	}

	a.log.Info().
		Str("method", method.Name).
		Int("windows", len(windows)).
		Int("dates", len(dates)).
		Msg("Starting walk-forward analysis")

	done := newCounter(len(windows), reporter)
	results, err := workers.Map(ctx, a.pool, len(windows), func(ctx context.Context, i int) (Period, error) {
		period, err := a.runWindow(ctx, prices, method, windows[i])
		done.increment()
		return period, err
	})
	if err != nil {
		return nil, err
	}

	periods := make([]Period, len(results))
	for i, r := range results {
		if r.Err != nil {
			a.log.Warn().
				Str("method", method.Name).
				Int("window", i).
				Time("in_sample_start", windows[i].InSampleStart).
				Err(r.Err).
				Msg("Walk-forward window failed")
			periods[i] = Period{Window: windows[i], Error: r.Err.Error()}
			continue
		}
		periods[i] = r.Value
	}

	result := &Result{
		Method:  method.Name,
		Config:  a.cfg,
		Periods: periods,
		Summary: Summarize(periods),
	}

	a.log.Info().
		Str("method", method.Name).
		Int("successful", result.Summary.SuccessfulWindows).
		Int("failed", result.Summary.FailedWindows).
		Float64("robustness", result.Summary.RobustnessScore).
		Msg("Walk-forward analysis completed")

	return result, nil
}

func (a *Analyzer) runWindow(ctx context.Context, prices domain.PriceData, method optimization.Method, w Window) (Period, error) {
	inSample := prices.Between(w.InSampleStart, w.InSampleEnd)
	symbols := inSample.Symbols()
	returns, err := inSample.ReturnsMatrix(symbols)
	if err != nil {
		return Period{}, fmt.Errorf("in-sample returns: %w", err)
	}

	opt, err := a.optimizer.Optimize(ctx, method, symbols, returns)
	if err != nil {
		return Period{}, fmt.Errorf("optimize: %w", err)
	}

	isResult, err := a.engine.RunWithTargets(ctx, inSample, nil, opt.WeightMap)
	if err != nil {
		return Period{}, fmt.Errorf("in-sample backtest: %w", err)
	}

	outOfSample := prices.Between(w.OutOfSampleStart, w.OutOfSampleEnd)
	oosResult, err := a.engine.RunWithTargets(ctx, outOfSample, nil, opt.WeightMap)
	if err != nil {
		return Period{}, fmt.Errorf("out-of-sample backtest: %w", err)
	}

	return Period{
		Window:      w,
		Params:      opt.Params,
		Weights:     opt.WeightMap,
		FellBack:    opt.FellBack,
		InSample:    isResult.Stats,
		OutOfSample: oosResult.Stats,
		Success:     true,
	}, nil
}

// Summarize aggregates the successful periods.
func Summarize(periods []Period) Summary {
	s := Summary{
		TotalWindows:       len(periods),
		ParameterStability: map[string]float64{},
	}

	var successful []Period
	for _, p := range periods {
		if p.Success && p.OutOfSample != nil && p.InSample != nil {
			successful = append(successful, p)
		}
	}
	s.SuccessfulWindows = len(successful)
	s.FailedWindows = s.TotalWindows - s.SuccessfulWindows
	if len(successful) == 0 {
		return s
	}

	var wins, positiveSharpe int
	for _, p := range successful {
		oos := p.OutOfSample
		s.MeanReturn += oos.TotalReturn
		s.MeanSharpe += oos.SharpeRatio
		s.MeanMaxDrawdown += oos.MaxDrawdown
		s.MeanOOSAnnualized += oos.AnnualizedReturn
		s.MeanInSampleAnnualized += p.InSample.AnnualizedReturn
		if oos.TotalReturn > 0 {
			wins++
		}
		if oos.SharpeRatio > 0 {
			positiveSharpe++
		}
	}

	n := float64(len(successful))
	s.MeanReturn /= n
	s.MeanSharpe /= n
	s.MeanMaxDrawdown /= n
	s.MeanOOSAnnualized /= n
	s.MeanInSampleAnnualized /= n
	s.WinRate = float64(wins) / n
	s.PositiveSharpeRate = float64(positiveSharpe) / n
	s.RobustnessScore = (s.WinRate + s.PositiveSharpeRate) / 2
	if s.MeanInSampleAnnualized > 0 {
		s.Efficiency = s.MeanOOSAnnualized / s.MeanInSampleAnnualized
	}

	s.ParameterStability, s.OverallStability = ParameterStability(successful)
	return s
}

// ParameterStability scores each numeric parameter chosen across periods
// as 1 - min(1, CV). The overall score is the mean, or 1 when no numeric
// parameter was tuned.
func ParameterStability(periods []Period) (map[string]float64, float64) {
	values := make(map[string][]float64)
	for _, p := range periods {
		for k, v := range p.Params {
			if f, ok := domain.AsFloat(v); ok {
				values[k] = append(values[k], f)
			}
		}
	}

	scores := make(map[string]float64, len(values))
	if len(values) == 0 {
		return scores, 1
	}
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var total float64
	for _, k := range keys {
		cv := formulas.CoefficientOfVariation(values[k])
		scores[k] = 1 - math.Min(1, cv)
		total += scores[k]
	}
	return scores, total / float64(len(scores))
}

// counter reports finished windows to a progress reporter.
type counter struct {
	total    int
	reporter *progress.Reporter
	n        atomic.Int64
}

func newCounter(total int, reporter *progress.Reporter) *counter {
	return &counter{total: total, reporter: reporter}
}

func (c *counter) increment() {
	c.reporter.Report(int(c.n.Add(1)), c.total, "walk-forward window finished")
}
