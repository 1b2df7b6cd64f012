package backtesting

import (
	"context"
	"testing"

	"github.com/aristath/quantlab/internal/domain"
	"github.com/aristath/quantlab/internal/modules/rebalancing"
	"github.com/aristath/quantlab/internal/modules/trading"
	testingpkg "github.com/aristath/quantlab/internal/testing"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newEngine(t *testing.T, cfg Config) *Engine {
	t.Helper()
	e, err := NewEngine(cfg, zerolog.Nop())
	require.NoError(t, err)
	return e
}

func halfHalfConfig() Config {
	cfg := DefaultConfig()
	cfg.InitialCash = 100000
	cfg.TargetWeights = map[string]float64{"AAA": 0.5, "BBB": 0.5}
	cfg.Frequency = rebalancing.FrequencyMonthly
	cfg.Threshold = 0.05
	return cfg
}

func TestEngine_EmptyPriceDataIsFatal(t *testing.T) {
	e := newEngine(t, DefaultConfig())

	_, err := e.Run(context.Background(), domain.PriceData{}, nil)
	assert.ErrorIs(t, err, domain.ErrNoPriceData)

	_, err = e.Run(context.Background(), domain.PriceData{"AAA": nil}, nil)
	assert.ErrorIs(t, err, domain.ErrNoPriceData)
}

func TestNewEngine_RejectsInvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.InitialCash = 0
	_, err := NewEngine(cfg, zerolog.Nop())
	assert.ErrorIs(t, err, domain.ErrInvalidConfig)

	cfg = DefaultConfig()
	cfg.Costs.VariableCostBps = -1
	_, err = NewEngine(cfg, zerolog.Nop())
	assert.ErrorIs(t, err, domain.ErrInvalidConfig)
}

func TestEngine_FlatPricesTradeOnlyOnce(t *testing.T) {
	prices := testingpkg.NewFlatPriceFixtures(map[string]float64{"AAA": 100, "BBB": 50}, 120)
	e := newEngine(t, halfHalfConfig())

	res, err := e.Run(context.Background(), prices, nil)
	require.NoError(t, err)

	require.Len(t, res.Transactions, 2)
	first := res.Transactions[0].Date
	for _, tx := range res.Transactions {
		assert.Equal(t, first, tx.Date, "all trades happen on the first rebalance")
	}
	assert.Greater(t, res.RebalanceCount, 1, "monthly schedule still fires")
	assert.Greater(t, res.RejectedTrades[domain.ReasonBelowMinTradeSize], 0)

	for symbol, target := range res.TargetWeights {
		assert.InDelta(t, target, res.FinalWeights[symbol], 0.05)
	}
	assert.Equal(t, 2, res.Stats.TradeCount)
	assert.Less(t, res.Stats.TotalReturn, 0.0, "costs are the only P&L")
}

func TestEngine_DriftTriggersRebalanceSellsFirst(t *testing.T) {
	prices := testingpkg.NewFlatPriceFixtures(map[string]float64{"AAA": 100, "BBB": 50}, 40)
	for i := 20; i < 40; i++ {
		prices["AAA"][i].Price = 200
	}

	cfg := halfHalfConfig()
	cfg.Frequency = rebalancing.FrequencyQuarterly
	e := newEngine(t, cfg)

	res, err := e.Run(context.Background(), prices, nil)
	require.NoError(t, err)

	assert.Equal(t, 2, res.RebalanceCount)
	require.Len(t, res.Transactions, 4)

	sell, buy := res.Transactions[2], res.Transactions[3]
	assert.Equal(t, "AAA", sell.Symbol)
	assert.Less(t, sell.Shares, 0.0)
	assert.Equal(t, "BBB", buy.Symbol)
	assert.Greater(t, buy.Shares, 0.0)
	assert.Equal(t, prices["AAA"][20].Date, sell.Date)

	for symbol, target := range res.TargetWeights {
		assert.InDelta(t, target, res.FinalWeights[symbol], 0.05)
	}
}

func TestEngine_ValuationInvariantOnEveryDate(t *testing.T) {
	prices := testingpkg.NewDefaultUniverseFixtures(300)
	cfg := DefaultConfig()
	cfg.Frequency = rebalancing.FrequencyWeekly
	e := newEngine(t, cfg)

	res, err := e.Run(context.Background(), prices, nil)
	require.NoError(t, err)
	require.Len(t, res.History, 300)

	for _, snap := range res.History {
		sum := snap.Cash
		weights := snap.CashWeight
		for _, p := range snap.Positions {
			sum += p.MarketValue
			weights += p.Weight
		}
		assert.InDelta(t, snap.TotalValue, sum, 1e-6)
		assert.InDelta(t, 1.0, weights, 1e-9)
		assert.GreaterOrEqual(t, snap.Cash, 0.0)
	}
	assert.Equal(t, res.Stats.TradeCount, len(res.Transactions))
}

func TestEngine_MissingDatesAreSkippedPerSymbol(t *testing.T) {
	prices := testingpkg.NewFlatPriceFixtures(map[string]float64{"AAA": 100, "BBB": 50}, 30)
	// BBB starts trading ten days late
	prices["BBB"] = prices["BBB"][10:]

	e := newEngine(t, halfHalfConfig())
	res, err := e.Run(context.Background(), prices, nil)
	require.NoError(t, err)

	require.NotEmpty(t, res.Transactions)
	assert.Equal(t, "AAA", res.Transactions[0].Symbol)
	for _, tx := range res.Transactions {
		if tx.Symbol == "BBB" {
			assert.False(t, tx.Date.Before(prices["BBB"][0].Date))
		}
	}
	assert.Equal(t, 30, len(res.History))
}

func TestEngine_BenchmarkIdenticalToPortfolio(t *testing.T) {
	prices := testingpkg.NewRandomWalkFixtures(3, []testingpkg.RandomWalkSpec{{Symbol: "AAA", Drift: 0.0005, Vol: 0.01}}, 200)

	cfg := DefaultConfig()
	cfg.TargetWeights = map[string]float64{"AAA": 1}
	cfg.Costs = trading.CostConfig{MinTradeSize: 1}
	cfg.Threshold = 1
	e := newEngine(t, cfg)

	res, err := e.Run(context.Background(), prices, prices["AAA"])
	require.NoError(t, err)
	require.NotNil(t, res.Benchmark)
	require.NotNil(t, res.Relative)

	assert.InDelta(t, res.Benchmark.TotalReturn, res.Stats.TotalReturn, 1e-9)
	assert.InDelta(t, 0.0, res.Relative.ExcessReturn, 1e-9)
	assert.InDelta(t, 0.0, res.Relative.TrackingError, 1e-9)
	assert.InDelta(t, 1.0, res.Relative.Beta, 1e-6)
	assert.InDelta(t, 0.0, res.Relative.Alpha, 1e-6)
	assert.Equal(t, 199, res.Relative.CommonPeriods)
}

func TestEngine_BenchmarkRelativeMetrics(t *testing.T) {
	prices := testingpkg.NewDefaultUniverseFixtures(250)
	e := newEngine(t, DefaultConfig())

	res, err := e.Run(context.Background(), prices, testingpkg.NewBenchmarkFixture(250))
	require.NoError(t, err)
	require.NotNil(t, res.Relative)

	assert.Greater(t, res.Relative.TrackingError, 0.0)
	assert.InDelta(t, res.Stats.TotalReturn-res.Benchmark.TotalReturn, res.Relative.ExcessReturn, 1e-12)
}

func TestEngine_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	e := newEngine(t, DefaultConfig())
	_, err := e.Run(ctx, testingpkg.NewDefaultUniverseFixtures(50), nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestEventType_String(t *testing.T) {
	assert.Equal(t, "MARKET_DATA_UPDATE", EventMarketDataUpdate.String())
	assert.Equal(t, "REBALANCE", EventRebalance.String())
	assert.Equal(t, "PERFORMANCE_MEASUREMENT", EventPerformanceMeasurement.String())
	assert.Equal(t, "UNKNOWN", EventType(99).String())
}

func TestEngine_RepeatedRunsAreBitIdentical(t *testing.T) {
	prices := testingpkg.NewDefaultUniverseFixtures(200)
	e := newEngine(t, DefaultConfig())

	first, err := e.Run(context.Background(), prices, nil)
	require.NoError(t, err)

	for i := 0; i < 20; i++ {
		res, err := e.Run(context.Background(), prices, nil)
		require.NoError(t, err)

		assert.Equal(t, first.Stats.TotalReturn, res.Stats.TotalReturn, "run %d", i)
		assert.Equal(t, first.Stats.SharpeRatio, res.Stats.SharpeRatio, "run %d", i)
		assert.Equal(t, first.Stats.Volatility, res.Stats.Volatility, "run %d", i)
		assert.Equal(t, first.Stats.Returns, res.Stats.Returns, "run %d", i)
		assert.Equal(t, first.FinalWeights, res.FinalWeights, "run %d", i)
	}
}

func TestEngine_UnpricedTargetDoesNotForceRebalances(t *testing.T) {
	prices := testingpkg.NewFlatPriceFixtures(map[string]float64{"AAA": 100}, 120)
	cfg := halfHalfConfig()
	cfg.TargetWeights = map[string]float64{"AAA": 0.5, "CCC": 0.5}
	e := newEngine(t, cfg)

	res, err := e.Run(context.Background(), prices, nil)
	require.NoError(t, err)

	// 120 trading days span about six months of monthly cadence
	assert.GreaterOrEqual(t, res.RebalanceCount, 1)
	assert.LessOrEqual(t, res.RebalanceCount, 7)
	assert.Len(t, res.Transactions, 1)
	assert.InDelta(t, 0.5, res.FinalWeights["AAA"], 0.01)
	assert.Zero(t, res.FinalWeights["CCC"])
	require.Len(t, res.Validation.Warnings, 1)
	assert.Contains(t, res.Validation.Warnings[0], "CCC")
}
