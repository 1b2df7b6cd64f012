package comparison

import (
	"testing"

	"github.com/aristath/quantlab/internal/modules/montecarlo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func report(name string, sharpe, ret, dd, vol, rob float64) StrategyReport {
	return StrategyReport{
		Name:    name,
		Success: true,
		Risk: RiskMetrics{
			SharpeRatio: sharpe,
			TotalReturn: ret,
			MaxDrawdown: dd,
			Volatility:  vol,
		},
		Robustness: rob,
	}
}

func TestRank_CompositeScore(t *testing.T) {
	reports := []StrategyReport{
		report("b", 0.5, 0.3, 0.2, 0.1, 0.5),
		report("a", 1.0, 0.2, 0.1, 0.2, 0.5),
		{Name: "broken", Error: "backtest: boom"},
	}

	ranking := Rank(reports)
	require.Len(t, ranking, 2)

	// a: sharpe 0.30 + drawdown 0.20 + robustness 0.10
	// b: return 0.25 + volatility 0.15 + robustness 0.10
	assert.Equal(t, "a", ranking[0].Name)
	assert.InDelta(t, 0.6, ranking[0].Score, 1e-12)
	assert.Equal(t, "b", ranking[1].Name)
	assert.InDelta(t, 0.5, ranking[1].Score, 1e-12)

	assert.Equal(t, 2, reports[0].Rank)
	assert.Equal(t, 1, reports[1].Rank)
	assert.Equal(t, 0, reports[2].Rank)
	assert.Zero(t, reports[2].Score)
}

func TestRank_TiesBreakByName(t *testing.T) {
	reports := []StrategyReport{
		report("zeta", 1, 0.1, 0.1, 0.1, 0.5),
		report("alpha", 1, 0.1, 0.1, 0.1, 0.5),
	}

	ranking := Rank(reports)
	require.Len(t, ranking, 2)
	assert.Equal(t, "alpha", ranking[0].Name)
	assert.Equal(t, "zeta", ranking[1].Name)
	assert.InDelta(t, 1.0, ranking[0].Score, 1e-12)
}

func TestRank_NothingSucceeded(t *testing.T) {
	ranking := Rank([]StrategyReport{{Name: "x"}})
	assert.Empty(t, ranking)
}

func TestBuildInsights(t *testing.T) {
	reports := []StrategyReport{
		report("growth", 0.8, 0.40, 0.30, 0.25, 0.4),
		report("defensive", 1.2, 0.15, 0.05, 0.08, 0.9),
	}
	reports[0].MonteCarlo = &MonteCarloSummary{IsRobust: false, RobustnessScore: 0.3}
	reports[1].MonteCarlo = &montecarloSummaryRobust

	ranking := Rank(reports)
	ins := BuildInsights(reports, ranking)

	assert.Equal(t, "growth", ins.HighestReturn)
	assert.Equal(t, "defensive", ins.LowestRisk)
	assert.Equal(t, "defensive", ins.BestRiskAdjusted)
	assert.Equal(t, "defensive", ins.MostRobust)

	assert.Contains(t, ins.Summary[0], "defensive ranks first")
	assert.Contains(t, ins.Summary, "The highest-return strategy (growth) is not the best risk-adjusted one (defensive).")
	assert.Contains(t, ins.Summary, "growth is not robust under resampling (score 0.30).")
}

func TestBuildInsights_Empty(t *testing.T) {
	ins := BuildInsights([]StrategyReport{{Name: "x"}}, nil)
	assert.Empty(t, ins.HighestReturn)
	assert.Equal(t, []string{"No strategy completed the validation pipeline."}, ins.Summary)
}

var montecarloSummaryRobust = MonteCarloSummary{
	IsRobust:        true,
	RobustnessScore: 0.9,
	Robustness:      montecarlo.RobustnessMetrics{},
}
