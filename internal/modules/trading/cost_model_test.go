package trading

import (
	"math"
	"testing"

	"github.com/aristath/quantlab/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCostModel_Breakdown(t *testing.T) {
	model, err := NewCostModel(CostConfig{
		FixedCost:               1,
		VariableCostBps:         10,
		MarketImpactCoefficient: 0.1,
		MarketImpactExponent:    0.5,
		BidAskSpreadBps:         4,
		MinTradeSize:            100,
	})
	require.NoError(t, err)

	b := model.Cost(10000, 1000000)

	assert.False(t, b.Skipped)
	assert.InDelta(t, 1.0, b.Fixed, 1e-12)
	assert.InDelta(t, 10.0, b.Variable, 1e-12)
	assert.InDelta(t, 4.0, b.BidAskSpread, 1e-12)
	// 0.1 * 10000 * sqrt(0.01)
	assert.InDelta(t, 100.0, b.MarketImpact, 1e-9)
	assert.InDelta(t, 115.0, b.Total, 1e-9)
}

func TestCostModel_SellsCostTheSameAsBuys(t *testing.T) {
	model, err := NewCostModel(DefaultCostConfig())
	require.NoError(t, err)

	assert.Equal(t, model.Cost(5000, 1e6), model.Cost(-5000, 1e6))
}

func TestCostModel_BelowMinTradeSizeIsSkipped(t *testing.T) {
	model, err := NewCostModel(DefaultCostConfig())
	require.NoError(t, err)

	b := model.Cost(99.99, 1e6)
	assert.True(t, b.Skipped)
	assert.Equal(t, 0.0, b.Total)

	assert.True(t, model.Cost(0, 1e6).Skipped)
}

func TestCostModel_UnknownVolumeHasNoImpact(t *testing.T) {
	model, err := NewCostModel(DefaultCostConfig())
	require.NoError(t, err)

	assert.Equal(t, 0.0, model.Cost(50000, 0).MarketImpact)
}

func TestCostModel_ImpactIsSuperlinear(t *testing.T) {
	model, err := NewCostModel(DefaultCostConfig())
	require.NoError(t, err)

	small := model.Cost(10000, 1e6).MarketImpact
	large := model.Cost(40000, 1e6).MarketImpact
	// 4x the size at exponent 0.5 costs 8x
	assert.InDelta(t, 8.0, large/small, 1e-9)
}

func TestCostModel_TotalMonotonicInVariableBps(t *testing.T) {
	prev := -1.0
	for _, bps := range []float64{0, 1, 5, 5, 10, 50, 100} {
		cfg := DefaultCostConfig()
		cfg.VariableCostBps = bps
		model, err := NewCostModel(cfg)
		require.NoError(t, err)

		total := model.Cost(25000, 2e6).Total
		assert.GreaterOrEqual(t, total, prev, "bps=%v", bps)
		prev = total
	}
}

func TestNewCostModel_RejectsNegativeRates(t *testing.T) {
	cfg := DefaultCostConfig()
	cfg.VariableCostBps = -1
	cfg.MinTradeSize = -5

	_, err := NewCostModel(cfg)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrInvalidConfig)

	var verrs domain.ValidationErrors
	require.ErrorAs(t, err, &verrs)
	assert.Len(t, verrs, 2)
}

func TestCostModel_BreakEvenTradeSize(t *testing.T) {
	tests := []struct {
		name     string
		cfg      CostConfig
		ratio    float64
		expected float64
	}{
		{"fixed plus variable", CostConfig{FixedCost: 2, VariableCostBps: 20}, 0.01, 250},
		{"min trade size floor", CostConfig{FixedCost: 0, VariableCostBps: 5, MinTradeSize: 100}, 0.01, 100},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			model, err := NewCostModel(tt.cfg)
			require.NoError(t, err)
			assert.InDelta(t, tt.expected, model.BreakEvenTradeSize(tt.ratio), 1e-9)
		})
	}

	model, err := NewCostModel(CostConfig{VariableCostBps: 200})
	require.NoError(t, err)
	assert.True(t, math.IsInf(model.BreakEvenTradeSize(0.01), 1))
}
