// Package montecarlo estimates how robust a strategy's performance is by
// re-running it on resampled return histories with jittered parameters.
package montecarlo

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"sort"
	"sync/atomic"

	"github.com/aristath/quantlab/internal/domain"
	"github.com/aristath/quantlab/internal/modules/portfolio"
	"github.com/aristath/quantlab/internal/progress"
	"github.com/aristath/quantlab/internal/workers"
	"github.com/aristath/quantlab/pkg/formulas"
	"github.com/rs/zerolog"
)

// ErrNoSuccessfulTrials is returned when every trial failed.
var ErrNoSuccessfulTrials = errors.New("no successful monte carlo trials")

// Metric names used as confidence interval keys.
const (
	MetricTotalReturn = "total_return"
	MetricVolatility  = "volatility"
	MetricSharpe      = "sharpe"
	MetricMaxDrawdown = "max_drawdown"
	MetricVaR95       = "var_95"
)

var metricNames = []string{MetricTotalReturn, MetricVolatility, MetricSharpe, MetricMaxDrawdown, MetricVaR95}

// Config configures an Engine.
type Config struct {
	NumSimulations          int       `json:"num_simulations"`
	Method                  Method    `json:"method"`
	BlockLength             int       `json:"block_length"`
	ConfidenceLevels        []float64 `json:"confidence_levels"`
	PerturbationMagnitude   float64   `json:"perturbation_magnitude"`
	PerturbationProbability float64   `json:"perturbation_probability"`
	RobustnessThreshold     float64   `json:"robustness_threshold"`
	RiskFreeRate            float64   `json:"risk_free_rate"`
	Seed                    uint64    `json:"seed"`
	// ScenarioLength is the number of periods per generated history; 0 uses
	// the length of the input history. Ignored by MethodShuffle.
	ScenarioLength int `json:"scenario_length"`
	// KeepReturns retains every trial's return series in the result.
	KeepReturns bool `json:"keep_returns"`
}

// DefaultConfig returns 1000 block-bootstrap trials.
func DefaultConfig() Config {
	return Config{
		NumSimulations:          1000,
		Method:                  MethodBootstrap,
		BlockLength:             20,
		ConfidenceLevels:        []float64{0.90, 0.95, 0.99},
		PerturbationMagnitude:   0.1,
		PerturbationProbability: 0.5,
		RobustnessThreshold:     0.5,
		RiskFreeRate:            0.02,
	}
}

// Validate checks every field.
func (c Config) Validate() error {
	var errs domain.ValidationErrors
	if c.NumSimulations < 1 {
		errs = append(errs, domain.ValidationError{Field: "num_simulations", Message: "must be at least 1"})
	}
	switch c.Method {
	case MethodBootstrap, MethodNormal, MethodShuffle:
	default:
		errs = append(errs, domain.ValidationError{Field: "method", Message: fmt.Sprintf("unknown method %q", c.Method)})
	}
	if c.BlockLength < 1 {
		errs = append(errs, domain.ValidationError{Field: "block_length", Message: "must be at least 1"})
	}
	if len(c.ConfidenceLevels) == 0 {
		errs = append(errs, domain.ValidationError{Field: "confidence_levels", Message: "at least one level is required"})
	}
	for _, l := range c.ConfidenceLevels {
		if l <= 0 || l >= 1 {
			errs = append(errs, domain.ValidationError{Field: "confidence_levels", Message: fmt.Sprintf("level %v outside (0, 1)", l)})
		}
	}
	if c.PerturbationMagnitude < 0 || c.PerturbationMagnitude >= 1 {
		errs = append(errs, domain.ValidationError{Field: "perturbation_magnitude", Message: "must be in [0, 1)"})
	}
	if c.PerturbationProbability < 0 || c.PerturbationProbability > 1 {
		errs = append(errs, domain.ValidationError{Field: "perturbation_probability", Message: "must be in [0, 1]"})
	}
	if c.ScenarioLength < 0 {
		errs = append(errs, domain.ValidationError{Field: "scenario_length", Message: "must be >= 0"})
	}
	if len(errs) > 0 {
		return errs
	}
	return nil
}

// Scenario is the outcome of one trial. Failed trials carry TotalReturn -1
// and are excluded from every aggregate.
type Scenario struct {
	Index         int                `json:"index"`
	Returns       []float64          `json:"returns,omitempty"`
	TotalReturn   float64            `json:"total_return"`
	Volatility    float64            `json:"volatility"`
	Sharpe        float64            `json:"sharpe"`
	MaxDrawdown   float64            `json:"max_drawdown"`
	VaR95         float64            `json:"var_95"`
	Params        domain.Params      `json:"params,omitempty"`
	Perturbations map[string]float64 `json:"perturbations,omitempty"`
	Perturbed     bool               `json:"perturbed"`
	Failed        bool               `json:"failed"`
	Error         string             `json:"error,omitempty"`
}

func (s Scenario) metric(name string) float64 {
	switch name {
	case MetricTotalReturn:
		return s.TotalReturn
	case MetricVolatility:
		return s.Volatility
	case MetricSharpe:
		return s.Sharpe
	case MetricMaxDrawdown:
		return s.MaxDrawdown
	case MetricVaR95:
		return s.VaR95
	default:
		return math.NaN()
	}
}

// ConfidenceInterval is a two-sided quantile interval of one metric.
type ConfidenceInterval struct {
	Level  float64 `json:"level"`
	Lower  float64 `json:"lower"`
	Upper  float64 `json:"upper"`
	Median float64 `json:"median"`
	Mean   float64 `json:"mean"`
}

// RobustnessMetrics compares trials against the baseline.
type RobustnessMetrics struct {
	ReturnRobustness   float64 `json:"return_robustness"`
	SharpeRobustness   float64 `json:"sharpe_robustness"`
	PositiveReturnRate float64 `json:"positive_return_rate"`
	PositiveSharpeRate float64 `json:"positive_sharpe_rate"`
	WorstReturn        float64 `json:"worst_return"`
	BestReturn         float64 `json:"best_return"`
	WorstSharpe        float64 `json:"worst_sharpe"`
	BestSharpe         float64 `json:"best_sharpe"`
	Downside5          float64 `json:"downside_5th_percentile"`
}

// DistributionStats describes a metric across trials.
type DistributionStats struct {
	Mean           float64 `json:"mean"`
	Median         float64 `json:"median"`
	StdDev         float64 `json:"std_dev"`
	Skewness       float64 `json:"skewness"`
	ExcessKurtosis float64 `json:"excess_kurtosis"`
}

// ScenarioSummary identifies one trial of the scenario analysis.
type ScenarioSummary struct {
	Index       int     `json:"index"`
	TotalReturn float64 `json:"total_return"`
	Sharpe      float64 `json:"sharpe"`
	MaxDrawdown float64 `json:"max_drawdown"`
	Perturbed   bool    `json:"perturbed"`
}

// ScenarioAnalysis picks representative trials ranked by total return.
type ScenarioAnalysis struct {
	Worst ScenarioSummary `json:"worst"`
	P5    ScenarioSummary `json:"p5"`
	P25   ScenarioSummary `json:"p25"`
	P75   ScenarioSummary `json:"p75"`
	P95   ScenarioSummary `json:"p95"`
	Best  ScenarioSummary `json:"best"`
}

// ParameterSensitivity correlates the perturbation applied to a parameter
// with trial outcomes.
type ParameterSensitivity struct {
	Samples           int     `json:"samples"`
	SharpeCorrelation float64 `json:"sharpe_correlation"`
	ReturnCorrelation float64 `json:"return_correlation"`
}

// Result is the report of one Monte Carlo run.
type Result struct {
	Config              Config                          `json:"config"`
	Baseline            Scenario                        `json:"baseline"`
	Simulations         int                             `json:"simulations"`
	Successful          int                             `json:"successful"`
	Failed              int                             `json:"failed"`
	ConfidenceIntervals map[string][]ConfidenceInterval `json:"confidence_intervals"`
	Robustness          RobustnessMetrics               `json:"robustness"`
	ReturnDistribution  DistributionStats               `json:"return_distribution"`
	SharpeDistribution  DistributionStats               `json:"sharpe_distribution"`
	ScenarioAnalysis    ScenarioAnalysis                `json:"scenario_analysis"`
	Sensitivity         map[string]ParameterSensitivity `json:"sensitivity"`
	RobustnessScore     float64                         `json:"robustness_score"`
	IsRobust            bool                            `json:"is_robust"`
	Scenarios           []Scenario                      `json:"scenarios,omitempty"`
}

// Engine runs Monte Carlo robustness analyses. It is safe for concurrent use.
type Engine struct {
	cfg          Config
	sampler      *BlockBootstrapSampler
	perturbation *ParameterPerturbation
	pool         *workers.Pool
	log          zerolog.Logger
}

// NewEngine validates cfg and creates an engine running trials on pool.
func NewEngine(cfg Config, pool *workers.Pool, log zerolog.Logger) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	sampler, err := NewBlockBootstrapSampler(cfg.BlockLength)
	if err != nil {
		return nil, err
	}
	perturbation, err := NewParameterPerturbation(cfg.PerturbationMagnitude)
	if err != nil {
		return nil, err
	}
	return &Engine{
		cfg:          cfg,
		sampler:      sampler,
		perturbation: perturbation,
		pool:         pool,
		log:          log.With().Str("component", "montecarlo").Logger(),
	}, nil
}

// Config returns the engine configuration.
func (e *Engine) Config() Config {
	return e.cfg
}

// Run simulates fn over alternate histories of returns ([asset][period]).
func (e *Engine) Run(ctx context.Context, returns [][]float64, baseline domain.Params, fn ScenarioFunc) (*Result, error) {
	return e.RunWithProgress(ctx, returns, baseline, fn, nil)
}

// RunWithProgress is Run reporting finished trials. A failing baseline is
// fatal; failing trials are excluded. Zero successful trials returns
// ErrNoSuccessfulTrials.
func (e *Engine) RunWithProgress(ctx context.Context, returns [][]float64, baseline domain.Params, fn ScenarioFunc, reporter *progress.Reporter) (*Result, error) {
	n := periods(returns)
	if n < 2 {
		return nil, fmt.Errorf("%w: %d periods", domain.ErrInsufficientHistory, n)
	}
	if baseline == nil {
		baseline = domain.Params{}
	}

	base, err := e.evaluate(ctx, -1, returns, baseline, fn)
	if err != nil {
		return nil, fmt.Errorf("baseline evaluation failed: %w", err)
	}
	base.Params = baseline

	gen, err := e.generator(returns)
	if err != nil {
		return nil, err
	}
	length := e.cfg.ScenarioLength
	if length == 0 {
		length = n
	}

	var finished atomic.Int64
	results, err := workers.Map(ctx, e.pool, e.cfg.NumSimulations, func(ctx context.Context, t int) (Scenario, error) {
		s := e.trial(ctx, t, gen, length, baseline, fn)
		reporter.Report(int(finished.Add(1)), e.cfg.NumSimulations, "monte carlo trial finished")
		return s, nil
	})
	if err != nil {
		return nil, err
	}

	scenarios := make([]Scenario, len(results))
	var ok []Scenario
	for i, r := range results {
		scenarios[i] = r.Value
		if !r.Value.Failed {
			ok = append(ok, r.Value)
		}
	}

	result := &Result{
		Config:      e.cfg,
		Baseline:    base,
		Simulations: len(scenarios),
		Successful:  len(ok),
		Failed:      len(scenarios) - len(ok),
	}
	if e.cfg.KeepReturns {
		result.Scenarios = scenarios
	}

	if len(ok) == 0 {
		e.log.Warn().Int("simulations", len(scenarios)).Msg("Every Monte Carlo trial failed")
		return nil, ErrNoSuccessfulTrials
	}

	e.aggregate(result, ok)

	e.log.Info().
		Int("simulations", result.Simulations).
		Int("failed", result.Failed).
		Float64("robustness_score", result.RobustnessScore).
		Bool("is_robust", result.IsRobust).
		Msg("Monte Carlo simulation completed")

	return result, nil
}

func (e *Engine) generator(returns [][]float64) (generator, error) {
	switch e.cfg.Method {
	case MethodNormal:
		g, err := newNormalGenerator(returns)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrInsufficientHistory, err)
		}
		return g, nil
	case MethodShuffle:
		return &shuffleGenerator{returns: returns}, nil
	default:
		return &bootstrapGenerator{returns: returns, sampler: e.sampler}, nil
	}
}

// trialRNG seeds trial t independently of scheduling order.
func (e *Engine) trialRNG(t int) *rand.Rand {
	return rand.New(rand.NewPCG(e.cfg.Seed, uint64(t)))
}

func (e *Engine) trial(ctx context.Context, t int, gen generator, length int, baseline domain.Params, fn ScenarioFunc) Scenario {
	rng := e.trialRNG(t)
	history := gen.generate(rng, length)

	params := baseline
	var applied map[string]float64
	perturbed := rng.Float64() < e.cfg.PerturbationProbability
	if perturbed {
		params, applied = e.perturbation.Perturb(rng, baseline)
	}

	s, err := e.evaluate(ctx, t, history, params, fn)
	if err != nil {
		e.log.Debug().Int("trial", t).Err(err).Msg("Monte Carlo trial failed")
		s = Scenario{Index: t, TotalReturn: -1, Failed: true, Error: err.Error()}
	}
	s.Params = params
	s.Perturbations = applied
	s.Perturbed = perturbed
	if !e.cfg.KeepReturns {
		s.Returns = nil
	}
	return s
}

func (e *Engine) evaluate(ctx context.Context, index int, returns [][]float64, params domain.Params, fn ScenarioFunc) (Scenario, error) {
	outcome, err := fn(ctx, returns, params.Clone())
	if err != nil {
		return Scenario{}, err
	}
	if outcome == nil || len(outcome.Returns) == 0 {
		return Scenario{}, fmt.Errorf("%w: scenario produced no returns", domain.ErrInsufficientData)
	}

	stats := portfolio.StatsFromReturns(outcome.Returns, e.cfg.RiskFreeRate)
	s := Scenario{
		Index:       index,
		Returns:     outcome.Returns,
		TotalReturn: stats.TotalReturn,
		Volatility:  stats.Volatility,
		Sharpe:      stats.SharpeRatio,
		MaxDrawdown: stats.MaxDrawdown,
		VaR95:       stats.VaR95,
	}
	for _, name := range metricNames {
		if v := s.metric(name); math.IsNaN(v) || math.IsInf(v, 0) {
			return Scenario{}, fmt.Errorf("non-finite %s", name)
		}
	}
	return s, nil
}

func (e *Engine) aggregate(result *Result, ok []Scenario) {
	values := make(map[string][]float64, len(metricNames))
	for _, name := range metricNames {
		series := make([]float64, len(ok))
		for i, s := range ok {
			series[i] = s.metric(name)
		}
		values[name] = series
	}

	result.ConfidenceIntervals = ConfidenceIntervals(values, e.cfg.ConfidenceLevels)
	result.Robustness = Robustness(ok, result.Baseline, e.cfg.RobustnessThreshold)
	result.ReturnDistribution = Distribution(values[MetricTotalReturn])
	result.SharpeDistribution = Distribution(values[MetricSharpe])
	result.ScenarioAnalysis = AnalyzeScenarios(ok)
	result.Sensitivity = Sensitivity(ok)
	result.RobustnessScore = 0.4*result.Robustness.ReturnRobustness +
		0.4*result.Robustness.SharpeRobustness +
		0.2*result.Robustness.PositiveReturnRate
	result.IsRobust = result.RobustnessScore >= e.cfg.RobustnessThreshold
}

// ConfidenceIntervals computes a quantile interval per metric per level.
func ConfidenceIntervals(values map[string][]float64, levels []float64) map[string][]ConfidenceInterval {
	out := make(map[string][]ConfidenceInterval, len(values))
	for name, series := range values {
		sorted := make([]float64, len(series))
		copy(sorted, series)
		sort.Float64s(sorted)

		median := formulas.PercentileSorted(sorted, 0.5)
		mean := formulas.Mean(sorted)
		intervals := make([]ConfidenceInterval, len(levels))
		for i, level := range levels {
			tail := (1 - level) / 2
			intervals[i] = ConfidenceInterval{
				Level:  level,
				Lower:  formulas.PercentileSorted(sorted, tail),
				Upper:  formulas.PercentileSorted(sorted, 1-tail),
				Median: median,
				Mean:   mean,
			}
		}
		out[name] = intervals
	}
	return out
}

// Robustness compares trials with the baseline: the return (Sharpe)
// robustness is the fraction of trials reaching threshold times the
// baseline's value.
func Robustness(trials []Scenario, baseline Scenario, threshold float64) RobustnessMetrics {
	var m RobustnessMetrics
	if len(trials) == 0 {
		return m
	}

	returns := make([]float64, len(trials))
	m.WorstReturn, m.BestReturn = math.Inf(1), math.Inf(-1)
	m.WorstSharpe, m.BestSharpe = math.Inf(1), math.Inf(-1)
	var retOK, sharpeOK, posRet, posSharpe int
	for i, s := range trials {
		returns[i] = s.TotalReturn
		if s.TotalReturn >= threshold*baseline.TotalReturn {
			retOK++
		}
		if s.Sharpe >= threshold*baseline.Sharpe {
			sharpeOK++
		}
		if s.TotalReturn > 0 {
			posRet++
		}
		if s.Sharpe > 0 {
			posSharpe++
		}
		m.WorstReturn = math.Min(m.WorstReturn, s.TotalReturn)
		m.BestReturn = math.Max(m.BestReturn, s.TotalReturn)
		m.WorstSharpe = math.Min(m.WorstSharpe, s.Sharpe)
		m.BestSharpe = math.Max(m.BestSharpe, s.Sharpe)
	}

	n := float64(len(trials))
	m.ReturnRobustness = float64(retOK) / n
	m.SharpeRobustness = float64(sharpeOK) / n
	m.PositiveReturnRate = float64(posRet) / n
	m.PositiveSharpeRate = float64(posSharpe) / n
	m.Downside5 = formulas.Percentile(returns, 0.05)
	return m
}

// Distribution summarizes a metric across trials.
func Distribution(values []float64) DistributionStats {
	return DistributionStats{
		Mean:           formulas.Mean(values),
		Median:         formulas.Median(values),
		StdDev:         formulas.StdDev(values),
		Skewness:       formulas.Skewness(values),
		ExcessKurtosis: formulas.ExcessKurtosis(values),
	}
}

// AnalyzeScenarios ranks trials by total return (ties by index) and picks
// the trials at the extremes and at the 5th, 25th, 75th and 95th percentile
// ranks.
func AnalyzeScenarios(trials []Scenario) ScenarioAnalysis {
	if len(trials) == 0 {
		return ScenarioAnalysis{}
	}
	ranked := make([]Scenario, len(trials))
	copy(ranked, trials)
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].TotalReturn != ranked[j].TotalReturn {
			return ranked[i].TotalReturn < ranked[j].TotalReturn
		}
		return ranked[i].Index < ranked[j].Index
	})

	at := func(p float64) ScenarioSummary {
		s := ranked[int(math.Round(p*float64(len(ranked)-1)))]
		return ScenarioSummary{
			Index:       s.Index,
			TotalReturn: s.TotalReturn,
			Sharpe:      s.Sharpe,
			MaxDrawdown: s.MaxDrawdown,
			Perturbed:   s.Perturbed,
		}
	}
	return ScenarioAnalysis{
		Worst: at(0),
		P5:    at(0.05),
		P25:   at(0.25),
		P75:   at(0.75),
		P95:   at(0.95),
		Best:  at(1),
	}
}

// Sensitivity correlates each parameter's applied perturbation with trial
// Sharpe and return over the perturbed trials. Parameters perturbed in
// fewer than three trials are omitted.
func Sensitivity(trials []Scenario) map[string]ParameterSensitivity {
	type samples struct{ u, sharpe, ret []float64 }
	byParam := make(map[string]*samples)
	for _, s := range trials {
		if !s.Perturbed {
			continue
		}
		for k, u := range s.Perturbations {
			p, ok := byParam[k]
			if !ok {
				p = &samples{}
				byParam[k] = p
			}
			p.u = append(p.u, u)
			p.sharpe = append(p.sharpe, s.Sharpe)
			p.ret = append(p.ret, s.TotalReturn)
		}
	}

	out := make(map[string]ParameterSensitivity, len(byParam))
	for k, p := range byParam {
		if len(p.u) < 3 {
			continue
		}
		out[k] = ParameterSensitivity{
			Samples:           len(p.u),
			SharpeCorrelation: formulas.Correlation(p.u, p.sharpe),
			ReturnCorrelation: formulas.Correlation(p.u, p.ret),
		}
	}
	return out
}
