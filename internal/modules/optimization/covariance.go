package optimization

import (
	"fmt"
	"math"

	"github.com/aristath/quantlab/pkg/formulas"
)

// CovarianceMethod selects how a covariance matrix is estimated from returns.
type CovarianceMethod string

const (
	CovarianceSample     CovarianceMethod = "sample"
	CovarianceLedoitWolf CovarianceMethod = "ledoit_wolf"
	CovarianceEWMA       CovarianceMethod = "ewma"
)

// EstimateCovariance returns the daily covariance of a [asset][period]
// return matrix. halfLife is only used by CovarianceEWMA.
func EstimateCovariance(returns [][]float64, method CovarianceMethod, halfLife float64) ([][]float64, error) {
	switch method {
	case CovarianceSample, "":
		return formulas.CovarianceMatrix(returns)
	case CovarianceLedoitWolf:
		sample, err := formulas.CovarianceMatrix(returns)
		if err != nil {
			return nil, fmt.Errorf("failed to calculate sample covariance: %w", err)
		}
		return ShrinkCovariance(sample)
	case CovarianceEWMA:
		weights, err := timeDecayWeights(periods(returns), halfLife)
		if err != nil {
			return nil, err
		}
		return weightedCovariance(returns, weights)
	default:
		return nil, fmt.Errorf("unknown covariance method: %s", method)
	}
}

// ShrinkCovariance shrinks a sample covariance toward a constant-covariance
// target: Σ = (1-δ)·S + δ·F, with δ estimated from the dispersion of S and
// capped at 0.5.
func ShrinkCovariance(sample [][]float64) ([][]float64, error) {
	n := len(sample)
	if n == 0 {
		return nil, fmt.Errorf("empty covariance matrix")
	}
	if n == 1 {
		return [][]float64{{sample[0][0]}}, nil
	}

	var avgVar, avgCov float64
	for i := 0; i < n; i++ {
		avgVar += sample[i][i]
		for j := 0; j < n; j++ {
			if i != j {
				avgCov += sample[i][j]
			}
		}
	}
	avgVar /= float64(n)
	avgCov /= float64(n * (n - 1))

	target := func(i, j int) float64 {
		if i == j {
			return avgVar
		}
		if avgVar <= 0 {
			return 0
		}
		return avgCov
	}

	shrinkage := 0.2
	if n > 2 && avgVar > 0 {
		var sumSqDiff, sum, sumSq float64
		for i := 0; i < n; i++ {
			for j := 0; j < n; j++ {
				diff := sample[i][j] - target(i, j)
				sumSqDiff += diff * diff
				sum += sample[i][j]
				sumSq += sample[i][j] * sample[i][j]
			}
		}
		count := float64(n * n)
		meanSqDiff := sumSqDiff / count
		mean := sum / count
		dispersion := sumSq/count - mean*mean
		if dispersion > 0 && meanSqDiff > 0 {
			shrinkage = math.Min(0.5, math.Max(0, dispersion/(dispersion+meanSqDiff)))
		}
	}

	out := make([][]float64, n)
	for i := 0; i < n; i++ {
		out[i] = make([]float64, n)
		for j := 0; j < n; j++ {
			out[i][j] = (1-shrinkage)*sample[i][j] + shrinkage*target(i, j)
		}
	}
	return out, nil
}

// timeDecayWeights returns normalized observation weights (oldest first)
// decaying exponentially with the given half-life in periods.
func timeDecayWeights(n int, halfLife float64) ([]float64, error) {
	if n == 0 {
		return nil, fmt.Errorf("no observations")
	}
	if halfLife <= 0 {
		return nil, fmt.Errorf("invalid half-life: %v", halfLife)
	}

	lambda := math.Ln2 / halfLife
	weights := make([]float64, n)
	var sum float64
	for i := 0; i < n; i++ {
		age := float64(n - 1 - i)
		weights[i] = math.Exp(-lambda * age)
		sum += weights[i]
	}
	for i := range weights {
		weights[i] /= sum
	}
	return weights, nil
}

// weightedCovariance computes a weighted covariance with the effective
// sample correction denom = 1 - Σw².
func weightedCovariance(returns [][]float64, weights []float64) ([][]float64, error) {
	n := len(returns)
	t := len(weights)
	if n == 0 {
		return nil, fmt.Errorf("empty return matrix")
	}

	mu := make([]float64, n)
	for i, r := range returns {
		if len(r) < t {
			return nil, fmt.Errorf("inconsistent return lengths")
		}
		for k := 0; k < t; k++ {
			mu[i] += weights[k] * r[k]
		}
	}

	var sumW2 float64
	for _, w := range weights {
		sumW2 += w * w
	}
	denom := 1 - sumW2
	if denom <= 0 {
		return nil, fmt.Errorf("invalid effective-sample denominator: %v", denom)
	}

	cov := make([][]float64, n)
	for i := range cov {
		cov[i] = make([]float64, n)
	}
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			var s float64
			for k := 0; k < t; k++ {
				s += weights[k] * (returns[i][k] - mu[i]) * (returns[j][k] - mu[j])
			}
			cov[i][j] = s / denom
			cov[j][i] = cov[i][j]
		}
	}
	return cov, nil
}

// ExpectedReturns returns annualized mean returns per asset.
func ExpectedReturns(returns [][]float64) []float64 {
	mu := make([]float64, len(returns))
	for i, r := range returns {
		mu[i] = formulas.Mean(r) * formulas.TradingDaysPerYear
	}
	return mu
}

func periods(returns [][]float64) int {
	if len(returns) == 0 {
		return 0
	}
	minLen := len(returns[0])
	for _, r := range returns[1:] {
		if len(r) < minLen {
			minLen = len(r)
		}
	}
	return minLen
}

func clamp(value, min, max float64) float64 {
	return math.Max(min, math.Min(max, value))
}
