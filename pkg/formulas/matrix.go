package formulas

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// CovarianceMatrix builds the sample covariance matrix of an asset return
// matrix laid out as [asset][period]. Periods are truncated to the shortest series.
func CovarianceMatrix(returns [][]float64) ([][]float64, error) {
	n := len(returns)
	if n == 0 {
		return nil, fmt.Errorf("empty return matrix")
	}
	periods := len(returns[0])
	for _, r := range returns {
		if len(r) < periods {
			periods = len(r)
		}
	}
	if periods < 2 {
		return nil, fmt.Errorf("need at least 2 periods, got %d", periods)
	}

	// gonum expects observations in rows, variables in columns
	obs := mat.NewDense(periods, n, nil)
	for i := 0; i < n; i++ {
		for t := 0; t < periods; t++ {
			obs.Set(t, i, returns[i][t])
		}
	}

	var cov mat.SymDense
	stat.CovarianceMatrix(&cov, obs, nil)

	out := make([][]float64, n)
	for i := 0; i < n; i++ {
		out[i] = make([]float64, n)
		for j := 0; j < n; j++ {
			out[i][j] = cov.At(i, j)
		}
	}
	return out, nil
}

// ScaleMatrix multiplies every element of m by factor, returning a new matrix.
func ScaleMatrix(m [][]float64, factor float64) [][]float64 {
	out := make([][]float64, len(m))
	for i := range m {
		out[i] = make([]float64, len(m[i]))
		for j := range m[i] {
			out[i][j] = m[i][j] * factor
		}
	}
	return out
}

// CorrelationMatrixFromCovariance calculates the correlation matrix from a covariance matrix.
//
// Formula: corr(i,j) = cov(i,j) / sqrt(cov(i,i) * cov(j,j))
func CorrelationMatrixFromCovariance(cov [][]float64) ([][]float64, error) {
	n := len(cov)
	if n == 0 {
		return nil, fmt.Errorf("empty covariance matrix")
	}
	for i := 0; i < n; i++ {
		if len(cov[i]) != n {
			return nil, fmt.Errorf("covariance matrix is not square")
		}
	}

	vars := make([]float64, n)
	for i := 0; i < n; i++ {
		v := cov[i][i]
		if v <= 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("invalid variance on diagonal at %d: %v", i, v)
		}
		vars[i] = v
	}

	corr := make([][]float64, n)
	for i := 0; i < n; i++ {
		corr[i] = make([]float64, n)
	}

	for i := 0; i < n; i++ {
		corr[i][i] = 1.0
		for j := i + 1; j < n; j++ {
			val := cov[i][j] / math.Sqrt(vars[i]*vars[j])
			val = math.Max(-1.0, math.Min(1.0, val))
			corr[i][j] = val
			corr[j][i] = val
		}
	}

	return corr, nil
}

// CorrelationToDistance converts correlation matrix to distance matrix.
// Distance formula: d_ij = sqrt(2 * (1 - ρ_ij))
func CorrelationToDistance(corrMatrix [][]float64) [][]float64 {
	n := len(corrMatrix)
	distMatrix := make([][]float64, n)

	for i := 0; i < n; i++ {
		distMatrix[i] = make([]float64, n)
		for j := 0; j < n; j++ {
			corr := math.Max(-1.0, math.Min(1.0, corrMatrix[i][j]))
			distMatrix[i][j] = math.Sqrt(2.0 * (1.0 - corr))
		}
	}

	return distMatrix
}

// InverseVarianceWeights calculates weights proportional to 1/variance.
// Falls back to equal weights when no variance is positive.
func InverseVarianceWeights(variances []float64) []float64 {
	n := len(variances)
	weights := make([]float64, n)

	var totalInvVariance float64
	for _, v := range variances {
		if v > 0 {
			totalInvVariance += 1.0 / v
		}
	}

	if totalInvVariance == 0 {
		for i := range weights {
			weights[i] = 1.0 / float64(n)
		}
		return weights
	}

	for i, v := range variances {
		if v > 0 {
			weights[i] = (1.0 / v) / totalInvVariance
		}
	}

	return weights
}

// RiskContributions returns each asset's share of portfolio variance:
// RC_i = w_i (Σw)_i / (w'Σw). Returns zeros when portfolio variance is zero.
func RiskContributions(weights []float64, cov [][]float64) []float64 {
	n := len(weights)
	out := make([]float64, n)
	marginal := make([]float64, n)
	var variance float64
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			marginal[i] += cov[i][j] * weights[j]
		}
		variance += weights[i] * marginal[i]
	}
	if variance <= 0 {
		return out
	}
	for i := 0; i < n; i++ {
		out[i] = weights[i] * marginal[i] / variance
	}
	return out
}
