package optimization

import (
	"testing"

	"github.com/aristath/quantlab/pkg/formulas"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRiskParity_UncorrelatedIsInverseVolatility(t *testing.T) {
	cov := [][]float64{
		{0.04, 0},
		{0, 0.01},
	}

	weights, err := NewRiskParityOptimizer().Optimize(cov, nil)
	require.NoError(t, err)
	assert.InDelta(t, 1.0/3, weights[0], 1e-3)
	assert.InDelta(t, 2.0/3, weights[1], 1e-3)
}

func TestRiskParity_EqualContributions(t *testing.T) {
	cov := [][]float64{
		{0.04, 0.006, 0.002},
		{0.006, 0.09, 0.01},
		{0.002, 0.01, 0.0225},
	}

	weights, err := NewRiskParityOptimizer().Optimize(cov, nil)
	require.NoError(t, err)

	rc := formulas.RiskContributions(weights, cov)
	for _, c := range rc {
		assert.InDelta(t, 1.0/3, c, 1e-3)
	}
	assert.InDelta(t, 1.0, RiskParityQuality(weights, cov), 1e-2)
}

func TestRiskParity_CustomBudget(t *testing.T) {
	cov := [][]float64{
		{0.04, 0},
		{0, 0.04},
	}

	weights, err := NewRiskParityOptimizer().Optimize(cov, []float64{3, 1})
	require.NoError(t, err)

	rc := formulas.RiskContributions(weights, cov)
	assert.InDelta(t, 0.75, rc[0], 1e-3)
	assert.InDelta(t, 0.25, rc[1], 1e-3)
}

func TestRiskParity_InvalidInput(t *testing.T) {
	opt := NewRiskParityOptimizer()

	_, err := opt.Optimize(nil, nil)
	assert.Error(t, err)

	_, err = opt.Optimize([][]float64{{0.04, 0}, {0, 0}}, nil)
	assert.Error(t, err)

	_, err = opt.Optimize([][]float64{{0.04, 0}, {0, 0.04}}, []float64{1})
	assert.Error(t, err)
}

func TestRiskParityQuality_ConcentratedRiskScoresLower(t *testing.T) {
	cov := [][]float64{
		{0.04, 0},
		{0, 0.01},
	}
	balanced := RiskParityQuality([]float64{1.0 / 3, 2.0 / 3}, cov)
	concentrated := RiskParityQuality([]float64{0.9, 0.1}, cov)
	assert.Greater(t, balanced, concentrated)
}
