package montecarlo

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/aristath/quantlab/internal/domain"
	"github.com/aristath/quantlab/internal/modules/backtesting"
	testingpkg "github.com/aristath/quantlab/internal/testing"
	"github.com/aristath/quantlab/internal/workers"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func universeReturns(t *testing.T, days int) ([]string, [][]float64) {
	t.Helper()
	prices := testingpkg.NewDefaultUniverseFixtures(days)
	symbols := prices.Symbols()
	returns, err := prices.ReturnsMatrix(symbols)
	require.NoError(t, err)
	return symbols, returns
}

func newEngine(t *testing.T, cfg Config, workersN int) *Engine {
	t.Helper()
	e, err := NewEngine(cfg, workers.NewPool(workersN), zerolog.Nop())
	require.NoError(t, err)
	return e
}

func equalWeight(_ context.Context, returns [][]float64, _ domain.Params) (*domain.Allocation, error) {
	return &domain.Allocation{Weights: domain.EqualWeights(len(returns))}, nil
}

func TestEngine_ConstantStrategyIsPerfectlyRobust(t *testing.T) {
	baseline := make([]float64, 252)
	for i := range baseline {
		baseline[i] = 0.001
		if i%3 == 0 {
			baseline[i] = -0.0005
		}
	}
	constant := func(context.Context, [][]float64, domain.Params) (*ScenarioOutcome, error) {
		return &ScenarioOutcome{Returns: baseline}, nil
	}

	cfg := DefaultConfig()
	cfg.NumSimulations = 1000
	cfg.RobustnessThreshold = 0.5
	cfg.Seed = 1

	_, returns := universeReturns(t, 253)
	result, err := newEngine(t, cfg, 4).Run(context.Background(), returns, domain.Params{"k": 1.0}, constant)
	require.NoError(t, err)

	assert.Equal(t, 1000, result.Simulations)
	assert.Equal(t, 1000, result.Successful)
	assert.Equal(t, 1.0, result.Robustness.ReturnRobustness)
	assert.Equal(t, 1.0, result.Robustness.SharpeRobustness)
	assert.Equal(t, 1.0, result.Robustness.PositiveReturnRate)
	assert.InDelta(t, 1.0, result.RobustnessScore, 1e-12)
	assert.True(t, result.IsRobust)

	ci := result.ConfidenceIntervals[MetricTotalReturn]
	require.Len(t, ci, 3)
	for _, interval := range ci {
		assert.InDelta(t, result.Baseline.TotalReturn, interval.Lower, 1e-12)
		assert.InDelta(t, result.Baseline.TotalReturn, interval.Upper, 1e-12)
	}
	assert.Equal(t, 0.0, result.ReturnDistribution.StdDev)
}

func TestEngine_ReproducibleAcrossWorkerCounts(t *testing.T) {
	_, returns := universeReturns(t, 200)
	cfg := DefaultConfig()
	cfg.NumSimulations = 64
	cfg.Seed = 2024
	fn := FromStrategy(equalWeight)

	r1, err := newEngine(t, cfg, 1).Run(context.Background(), returns, domain.Params{"lookback": 20}, fn)
	require.NoError(t, err)
	r8, err := newEngine(t, cfg, 8).Run(context.Background(), returns, domain.Params{"lookback": 20}, fn)
	require.NoError(t, err)

	assert.Equal(t, r1.ConfidenceIntervals, r8.ConfidenceIntervals)
	assert.Equal(t, r1.Robustness, r8.Robustness)
	assert.Equal(t, r1.ScenarioAnalysis, r8.ScenarioAnalysis)
	assert.Equal(t, r1.RobustnessScore, r8.RobustnessScore)
}

func TestEngine_Methods(t *testing.T) {
	_, returns := universeReturns(t, 150)

	for _, method := range []Method{MethodBootstrap, MethodNormal, MethodShuffle} {
		t.Run(string(method), func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Method = method
			cfg.NumSimulations = 50
			cfg.Seed = 9

			result, err := newEngine(t, cfg, 4).Run(context.Background(), returns, nil, FromStrategy(equalWeight))
			require.NoError(t, err)
			assert.Equal(t, 50, result.Successful)

			for _, name := range metricNames {
				intervals := result.ConfidenceIntervals[name]
				require.Len(t, intervals, 3, name)
				for i, ci := range intervals {
					assert.LessOrEqual(t, ci.Lower, ci.Median, name)
					assert.GreaterOrEqual(t, ci.Upper, ci.Median, name)
					if i > 0 {
						// wider confidence gives a wider interval
						assert.LessOrEqual(t, ci.Lower, intervals[i-1].Lower, name)
						assert.GreaterOrEqual(t, ci.Upper, intervals[i-1].Upper, name)
					}
				}
			}

			sa := result.ScenarioAnalysis
			assert.LessOrEqual(t, sa.Worst.TotalReturn, sa.P5.TotalReturn)
			assert.LessOrEqual(t, sa.P5.TotalReturn, sa.P25.TotalReturn)
			assert.LessOrEqual(t, sa.P25.TotalReturn, sa.P75.TotalReturn)
			assert.LessOrEqual(t, sa.P75.TotalReturn, sa.P95.TotalReturn)
			assert.LessOrEqual(t, sa.P95.TotalReturn, sa.Best.TotalReturn)
			assert.Equal(t, result.Robustness.WorstReturn, sa.Worst.TotalReturn)
			assert.Equal(t, result.Robustness.BestReturn, sa.Best.TotalReturn)
		})
	}
}

func TestEngine_FailedTrialsAreExcluded(t *testing.T) {
	_, returns := universeReturns(t, 120)
	cfg := DefaultConfig()
	cfg.NumSimulations = 200
	cfg.PerturbationProbability = 0.5
	cfg.Seed = 5
	cfg.KeepReturns = true

	// perturbed trials fail, baseline trials succeed
	fn := func(ctx context.Context, r [][]float64, params domain.Params) (*ScenarioOutcome, error) {
		if params.Float("k", 1) != 1 {
			return nil, errors.New("unstable")
		}
		return FromStrategy(equalWeight)(ctx, r, params)
	}

	result, err := newEngine(t, cfg, 4).Run(context.Background(), returns, domain.Params{"k": 1.0}, fn)
	require.NoError(t, err)

	assert.Greater(t, result.Failed, 0)
	assert.Greater(t, result.Successful, 0)
	assert.Equal(t, 200, result.Failed+result.Successful)
	require.Len(t, result.Scenarios, 200)
	for _, s := range result.Scenarios {
		if s.Failed {
			assert.True(t, s.Perturbed)
			assert.Equal(t, -1.0, s.TotalReturn)
			assert.Equal(t, "unstable", s.Error)
		} else {
			assert.Len(t, s.Returns, 119)
		}
	}
	assert.Greater(t, result.Robustness.WorstReturn, -1.0)
}

func TestEngine_AllTrialsFailed(t *testing.T) {
	_, returns := universeReturns(t, 60)
	cfg := DefaultConfig()
	cfg.NumSimulations = 20
	cfg.PerturbationProbability = 1

	fn := func(ctx context.Context, r [][]float64, params domain.Params) (*ScenarioOutcome, error) {
		if params.Float("k", 1) != 1 {
			return nil, errors.New("unstable")
		}
		return FromStrategy(equalWeight)(ctx, r, params)
	}

	_, err := newEngine(t, cfg, 2).Run(context.Background(), returns, domain.Params{"k": 1.0}, fn)
	assert.ErrorIs(t, err, ErrNoSuccessfulTrials)
}

func TestEngine_BaselineFailureIsFatal(t *testing.T) {
	_, returns := universeReturns(t, 60)
	failing := func(context.Context, [][]float64, domain.Params) (*ScenarioOutcome, error) {
		return nil, errors.New("no convergence")
	}

	_, err := newEngine(t, DefaultConfig(), 2).Run(context.Background(), returns, nil, failing)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "baseline")
}

func TestEngine_InsufficientHistory(t *testing.T) {
	_, err := newEngine(t, DefaultConfig(), 1).Run(context.Background(), [][]float64{{0.01}}, nil, FromStrategy(equalWeight))
	assert.ErrorIs(t, err, domain.ErrInsufficientHistory)
}

func TestEngine_Cancelled(t *testing.T) {
	_, returns := universeReturns(t, 60)
	ctx, cancel := context.WithCancel(context.Background())

	calls := 0
	fn := func(ctx context.Context, r [][]float64, params domain.Params) (*ScenarioOutcome, error) {
		calls++
		if calls == 1 {
			// baseline succeeds, then the run is aborted
			defer cancel()
		}
		return FromStrategy(equalWeight)(ctx, r, params)
	}

	_, err := newEngine(t, DefaultConfig(), 1).Run(ctx, returns, nil, fn)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestEngine_SensitivityTracksPerturbedParameter(t *testing.T) {
	_, returns := universeReturns(t, 120)
	cfg := DefaultConfig()
	cfg.NumSimulations = 200
	cfg.PerturbationProbability = 1
	cfg.PerturbationMagnitude = 0.5
	cfg.Seed = 3

	// scale the baseline portfolio return by the leverage parameter
	fn := func(ctx context.Context, r [][]float64, params domain.Params) (*ScenarioOutcome, error) {
		out, err := FromStrategy(equalWeight)(ctx, r, params)
		if err != nil {
			return nil, err
		}
		lev := params.Float("leverage", 1)
		scaled := make([]float64, len(out.Returns))
		for i, v := range out.Returns {
			scaled[i] = 0.0005*lev + 0.1*v
		}
		out.Returns = scaled
		return out, nil
	}

	result, err := newEngine(t, cfg, 4).Run(context.Background(), returns, domain.Params{"leverage": 1.0, "name": "x"}, fn)
	require.NoError(t, err)

	sens, ok := result.Sensitivity["leverage"]
	require.True(t, ok)
	assert.Equal(t, 200, sens.Samples)
	assert.Greater(t, sens.ReturnCorrelation, 0.5)
	assert.NotContains(t, result.Sensitivity, "name")
}

func TestNewEngine_InvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.NumSimulations = 0
	cfg.Method = "garch"
	cfg.ConfidenceLevels = []float64{0.95, 1.2}

	_, err := NewEngine(cfg, workers.NewPool(1), zerolog.Nop())
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrInvalidConfig)

	var verrs domain.ValidationErrors
	require.True(t, errors.As(err, &verrs))
	assert.Len(t, verrs, 3)
}

func TestFromBacktest_AppliesCosts(t *testing.T) {
	symbols, returns := universeReturns(t, 120)

	bcfg := backtesting.DefaultConfig()
	engine, err := backtesting.NewEngine(bcfg, zerolog.Nop())
	require.NoError(t, err)

	fn := FromBacktest(engine, symbols, testingpkg.FixtureStart, equalWeight)
	out, err := fn(context.Background(), returns, nil)
	require.NoError(t, err)

	assert.Len(t, out.Returns, 119)
	assert.Greater(t, out.Metadata["total_costs"], 0.0)

	free := FromStrategy(equalWeight)
	ref, err := free(context.Background(), returns, nil)
	require.NoError(t, err)
	assert.Len(t, ref.Returns, 119)

	_, err = fn(context.Background(), returns[:2], nil)
	assert.ErrorIs(t, err, domain.ErrInsufficientData)
}

func TestPricePaths(t *testing.T) {
	prices := PricePaths([]string{"A"}, [][]float64{{0.1, -0.5}}, testingpkg.FixtureStart)
	require.Len(t, prices["A"], 3)
	assert.InDelta(t, 100.0, prices["A"][0].Price, 1e-12)
	assert.InDelta(t, 110.0, prices["A"][1].Price, 1e-9)
	assert.InDelta(t, 55.0, prices["A"][2].Price, 1e-9)
	assert.True(t, prices["A"][0].Date.Before(prices["A"][1].Date))
}

func TestRobustness_NegativeBaseline(t *testing.T) {
	trials := []Scenario{
		{TotalReturn: -0.05, Sharpe: -0.5},
		{TotalReturn: 0.02, Sharpe: 0.3},
	}
	baseline := Scenario{TotalReturn: -0.04, Sharpe: -0.4}

	m := Robustness(trials, baseline, 0.5)
	// threshold is 0.5 * -0.04 = -0.02
	assert.Equal(t, 0.5, m.ReturnRobustness)
	assert.Equal(t, 0.5, m.SharpeRobustness)
	assert.Equal(t, 0.5, m.PositiveReturnRate)
	assert.Equal(t, -0.05, m.WorstReturn)
	assert.Equal(t, 0.02, m.BestReturn)
	assert.False(t, math.IsInf(m.WorstSharpe, 0))
}
