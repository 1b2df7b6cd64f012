package optimization

import (
	"testing"

	"github.com/aristath/quantlab/pkg/formulas"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var covTestReturns = [][]float64{
	{0.01, -0.02, 0.015, 0.005, -0.01, 0.02, 0.0, -0.005},
	{0.02, -0.01, 0.01, 0.0, -0.015, 0.025, 0.005, -0.01},
	{-0.005, 0.01, -0.002, 0.004, 0.006, -0.008, 0.003, 0.001},
}

func TestEstimateCovariance_SampleMatchesFormulas(t *testing.T) {
	expected, err := formulas.CovarianceMatrix(covTestReturns)
	require.NoError(t, err)

	cov, err := EstimateCovariance(covTestReturns, CovarianceSample, 0)
	require.NoError(t, err)
	assert.Equal(t, expected, cov)

	cov, err = EstimateCovariance(covTestReturns, "", 0)
	require.NoError(t, err)
	assert.Equal(t, expected, cov)
}

func TestEstimateCovariance_LedoitWolfShrinksOffDiagonal(t *testing.T) {
	sample, err := EstimateCovariance(covTestReturns, CovarianceSample, 0)
	require.NoError(t, err)
	shrunk, err := EstimateCovariance(covTestReturns, CovarianceLedoitWolf, 0)
	require.NoError(t, err)

	for i := range shrunk {
		for j := range shrunk {
			assert.InDelta(t, shrunk[i][j], shrunk[j][i], 1e-15, "shrunk matrix should be symmetric")
		}
		assert.Greater(t, shrunk[i][i], 0.0)
	}

	// the dispersion of the diagonal shrinks toward the average variance
	spread := func(m [][]float64) float64 {
		lo, hi := m[0][0], m[0][0]
		for i := range m {
			lo = min(lo, m[i][i])
			hi = max(hi, m[i][i])
		}
		return hi - lo
	}
	assert.Less(t, spread(shrunk), spread(sample))
}

func TestEstimateCovariance_EWMA(t *testing.T) {
	cov, err := EstimateCovariance(covTestReturns, CovarianceEWMA, 4)
	require.NoError(t, err)
	require.Len(t, cov, 3)
	for i := range cov {
		assert.Greater(t, cov[i][i], 0.0)
	}

	_, err = EstimateCovariance(covTestReturns, CovarianceEWMA, 0)
	assert.Error(t, err)
}

func TestEstimateCovariance_UnknownMethod(t *testing.T) {
	_, err := EstimateCovariance(covTestReturns, "robust", 0)
	assert.Error(t, err)
}

func TestTimeDecayWeights(t *testing.T) {
	w, err := timeDecayWeights(3, 1)
	require.NoError(t, err)

	// each step back halves the weight: 1/7, 2/7, 4/7
	assert.InDelta(t, 1.0/7, w[0], 1e-12)
	assert.InDelta(t, 2.0/7, w[1], 1e-12)
	assert.InDelta(t, 4.0/7, w[2], 1e-12)

	_, err = timeDecayWeights(0, 1)
	assert.Error(t, err)
}

func TestExpectedReturns_Annualized(t *testing.T) {
	mu := ExpectedReturns([][]float64{{0.001, 0.001}, {-0.002, 0.0}})
	assert.InDelta(t, 0.252, mu[0], 1e-12)
	assert.InDelta(t, -0.252, mu[1], 1e-12)
}
