// Package comparison runs allocation strategies through the full validation
// pipeline (grid search, backtest, walk-forward, Monte Carlo) on the same
// price history and ranks them.
package comparison

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aristath/quantlab/internal/domain"
	"github.com/aristath/quantlab/internal/modules/allocation"
	"github.com/aristath/quantlab/internal/modules/backtesting"
	"github.com/aristath/quantlab/internal/modules/montecarlo"
	"github.com/aristath/quantlab/internal/modules/optimization"
	"github.com/aristath/quantlab/internal/modules/walkforward"
	"github.com/aristath/quantlab/internal/progress"
	"github.com/aristath/quantlab/internal/workers"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Config configures a Framework. The backtest configuration is shared by
// the full-period backtest, the walk-forward windows and the Monte Carlo
// replays.
type Config struct {
	Backtest    backtesting.Config `json:"backtest"`
	WalkForward walkforward.Config `json:"walk_forward"`
	MonteCarlo  montecarlo.Config  `json:"monte_carlo"`
	// Parallelism bounds how many strategies run at once.
	Parallelism int `json:"parallelism"`
}

// DefaultConfig returns the default pipeline with 250 Monte Carlo trials
// per strategy.
func DefaultConfig() Config {
	mc := montecarlo.DefaultConfig()
	mc.NumSimulations = 250
	return Config{
		Backtest:    backtesting.DefaultConfig(),
		WalkForward: walkforward.DefaultConfig(),
		MonteCarlo:  mc,
		Parallelism: 2,
	}
}

// RiskMetrics is one row of the risk table.
type RiskMetrics struct {
	TotalReturn       float64 `json:"total_return"`
	AnnualizedReturn  float64 `json:"annualized_return"`
	Volatility        float64 `json:"volatility"`
	SharpeRatio       float64 `json:"sharpe_ratio"`
	SortinoRatio      float64 `json:"sortino_ratio"`
	CalmarRatio       float64 `json:"calmar_ratio"`
	MaxDrawdown       float64 `json:"max_drawdown"`
	VaR95             float64 `json:"var_95"`
	VaR99             float64 `json:"var_99"`
	ExpectedShortfall float64 `json:"expected_shortfall_95"`
	CostDrag          float64 `json:"cost_drag"`
	TradeCount        int     `json:"trade_count"`
}

// MonteCarloSummary is the part of a Monte Carlo result kept per strategy.
type MonteCarloSummary struct {
	Successful          int                                        `json:"successful"`
	Failed              int                                        `json:"failed"`
	RobustnessScore     float64                                    `json:"robustness_score"`
	IsRobust            bool                                       `json:"is_robust"`
	Robustness          montecarlo.RobustnessMetrics               `json:"robustness"`
	ConfidenceIntervals map[string][]montecarlo.ConfidenceInterval `json:"confidence_intervals"`
}

// StrategyReport is the pipeline outcome of one strategy.
type StrategyReport struct {
	Name         string                           `json:"name"`
	Optimization *optimization.OptimizationResult `json:"optimization,omitempty"`
	Backtest     *backtesting.Result              `json:"backtest,omitempty"`
	WalkForward  *walkforward.Summary             `json:"walk_forward,omitempty"`
	MonteCarlo   *MonteCarloSummary               `json:"monte_carlo,omitempty"`
	Risk         RiskMetrics                      `json:"risk"`
	// Robustness is the mean of the walk-forward and Monte Carlo robustness
	// scores that are available.
	Robustness float64  `json:"robustness"`
	Score      float64  `json:"score"`
	Rank       int      `json:"rank"`
	Success    bool     `json:"success"`
	Error      string   `json:"error,omitempty"`
	Warnings   []string `json:"warnings,omitempty"`
}

// RankEntry is one line of the ranking.
type RankEntry struct {
	Rank  int     `json:"rank"`
	Name  string  `json:"name"`
	Score float64 `json:"score"`
}

// Result is the report of one comparison.
type Result struct {
	Strategies []StrategyReport `json:"strategies"`
	Ranking    []RankEntry      `json:"ranking"`
	Best       string           `json:"best,omitempty"`
	Insights   Insights         `json:"insights"`
	Failed     []string         `json:"failed,omitempty"`
	StartDate  time.Time        `json:"start_date"`
	EndDate    time.Time        `json:"end_date"`
}

// Framework compares strategies from a registry. It is safe for concurrent use.
type Framework struct {
	cfg        Config
	registry   *allocation.Registry
	backtester *backtesting.Engine
	optimizer  *optimization.StrategyOptimizer
	analyzer   *walkforward.Analyzer
	montecarlo *montecarlo.Engine
	log        zerolog.Logger
}

// NewFramework validates cfg and wires the pipeline stages onto pool.
func NewFramework(cfg Config, registry *allocation.Registry, pool *workers.Pool, log zerolog.Logger) (*Framework, error) {
	if cfg.Parallelism < 1 {
		cfg.Parallelism = 1
	}
	cfg.WalkForward.Backtest = cfg.Backtest
	cfg.MonteCarlo.RiskFreeRate = cfg.Backtest.RiskFreeRate

	backtester, err := backtesting.NewEngine(cfg.Backtest, log)
	if err != nil {
		return nil, err
	}
	analyzer, err := walkforward.NewAnalyzer(cfg.WalkForward, pool, log)
	if err != nil {
		return nil, err
	}
	mc, err := montecarlo.NewEngine(cfg.MonteCarlo, pool, log)
	if err != nil {
		return nil, err
	}

	return &Framework{
		cfg:        cfg,
		registry:   registry,
		backtester: backtester,
		optimizer:  optimization.NewStrategyOptimizer(pool, cfg.Backtest.RiskFreeRate, log),
		analyzer:   analyzer,
		montecarlo: mc,
		log:        log.With().Str("component", "comparison").Logger(),
	}, nil
}

// Compare runs every named strategy (the default set when names is empty)
// on prices. A strategy that fails is reported and left out of the ranking;
// only missing price data and cancellation fail the comparison.
func (f *Framework) Compare(ctx context.Context, prices domain.PriceData, benchmark []domain.PricePoint, names []string) (*Result, error) {
	return f.CompareWithProgress(ctx, prices, benchmark, names, nil)
}

// CompareWithProgress is Compare reporting each pipeline stage.
func (f *Framework) CompareWithProgress(ctx context.Context, prices domain.PriceData, benchmark []domain.PricePoint, names []string, reporter *progress.Reporter) (*Result, error) {
	dates := prices.Dates()
	if len(dates) == 0 {
		return nil, domain.ErrNoPriceData
	}
	names = uniqueNames(names)

	symbols := prices.Symbols()
	returns, err := prices.ReturnsMatrix(symbols)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInsufficientHistory, err)
	}

	f.log.Info().
		Strs("strategies", names).
		Int("symbols", len(symbols)).
		Int("dates", len(dates)).
		Msg("Starting strategy comparison")

	reports := make([]StrategyReport, len(names))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.cfg.Parallelism)
	for i, name := range names {
		g.Go(func() error {
			report, err := f.runStrategy(gctx, name, prices, benchmark, symbols, returns, dates[0], reporter)
			if err != nil {
				return err
			}
			reports[i] = report
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	result := &Result{
		Strategies: reports,
		StartDate:  dates[0],
		EndDate:    dates[len(dates)-1],
	}
	for _, r := range reports {
		if !r.Success {
			result.Failed = append(result.Failed, r.Name)
		}
	}

	result.Ranking = Rank(result.Strategies)
	if len(result.Ranking) > 0 {
		result.Best = result.Ranking[0].Name
	}
	result.Insights = BuildInsights(result.Strategies, result.Ranking)

	f.log.Info().
		Str("best", result.Best).
		Int("ranked", len(result.Ranking)).
		Int("failed", len(result.Failed)).
		Msg("Strategy comparison completed")

	return result, nil
}

// runStrategy returns an error only on cancellation; every other failure is
// recorded on the report.
func (f *Framework) runStrategy(ctx context.Context, name string, prices domain.PriceData, benchmark []domain.PricePoint, symbols []string, returns [][]float64, start time.Time, reporter *progress.Reporter) (StrategyReport, error) {
	report := StrategyReport{Name: name}
	log := f.log.With().Str("strategy", name).Logger()

	fail := func(stage string, err error) (StrategyReport, error) {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		log.Warn().Str("stage", stage).Err(err).Msg("Strategy failed")
		report.Error = fmt.Sprintf("%s: %v", stage, err)
		return report, nil
	}

	strategy, err := f.registry.Get(name)
	if err != nil {
		return fail("lookup", err)
	}
	method := strategy.Method()

	reporter.ReportPhase("optimize", name)
	opt, err := f.optimizer.Optimize(ctx, method, symbols, returns)
	if err != nil {
		return fail("optimize", err)
	}
	opt.Cells = nil
	report.Optimization = opt

	reporter.ReportPhase("backtest", name)
	bt, err := f.backtester.RunWithTargets(ctx, prices, benchmark, opt.WeightMap)
	if err != nil {
		return fail("backtest", err)
	}
	bt.History = nil
	report.Backtest = bt
	report.Risk = riskMetrics(bt)

	var robustness []float64

	reporter.ReportPhase("walk_forward", name)
	wf, err := f.analyzer.Run(ctx, prices, method)
	switch {
	case err == nil:
		report.WalkForward = &wf.Summary
		if wf.Summary.SuccessfulWindows > 0 {
			robustness = append(robustness, wf.Summary.RobustnessScore)
		}
	case ctx.Err() != nil:
		return report, ctx.Err()
	default:
		log.Warn().Err(err).Msg("Walk-forward analysis unavailable")
		report.Warnings = append(report.Warnings, fmt.Sprintf("walk_forward: %v", err))
	}

	reporter.ReportPhase("monte_carlo", name)
	scenario := montecarlo.FromBacktest(f.backtester, symbols, start, strategy.Func)
	mc, err := f.montecarlo.Run(ctx, returns, opt.Params, scenario)
	switch {
	case err == nil:
		report.MonteCarlo = &MonteCarloSummary{
			Successful:          mc.Successful,
			Failed:              mc.Failed,
			RobustnessScore:     mc.RobustnessScore,
			IsRobust:            mc.IsRobust,
			Robustness:          mc.Robustness,
			ConfidenceIntervals: mc.ConfidenceIntervals,
		}
		robustness = append(robustness, mc.RobustnessScore)
	case ctx.Err() != nil:
		return report, ctx.Err()
	case errors.Is(err, montecarlo.ErrNoSuccessfulTrials):
		report.Warnings = append(report.Warnings, "monte_carlo: every trial failed")
	default:
		log.Warn().Err(err).Msg("Monte Carlo analysis unavailable")
		report.Warnings = append(report.Warnings, fmt.Sprintf("monte_carlo: %v", err))
	}

	for _, r := range robustness {
		report.Robustness += r / float64(len(robustness))
	}
	report.Success = true
	return report, nil
}

func riskMetrics(bt *backtesting.Result) RiskMetrics {
	s := bt.Stats
	return RiskMetrics{
		TotalReturn:       s.TotalReturn,
		AnnualizedReturn:  s.AnnualizedReturn,
		Volatility:        s.Volatility,
		SharpeRatio:       s.SharpeRatio,
		SortinoRatio:      s.SortinoRatio,
		CalmarRatio:       s.CalmarRatio,
		MaxDrawdown:       s.MaxDrawdown,
		VaR95:             s.VaR95,
		VaR99:             s.VaR99,
		ExpectedShortfall: s.ExpectedShortfall,
		CostDrag:          s.CostDrag,
		TradeCount:        s.TradeCount,
	}
}

func uniqueNames(names []string) []string {
	if len(names) == 0 {
		names = allocation.DefaultComparison
	}
	seen := make(map[string]bool, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	return out
}
