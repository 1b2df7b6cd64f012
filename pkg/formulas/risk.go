package formulas

import (
	"math"
	"sort"
)

// Drawdown describes the worst peak-to-trough decline of a value series.
// Indexes refer to the input series; RecoveryIndex is -1 when the series
// never regained the peak after the trough.
type Drawdown struct {
	MaxDrawdown   float64 // positive fraction, e.g. 0.25 = 25% decline
	PeakIndex     int
	TroughIndex   int
	RecoveryIndex int
}

// CalculateMaxDrawdown walks a value (equity) series and returns its maximum drawdown.
func CalculateMaxDrawdown(values []float64) Drawdown {
	dd := Drawdown{RecoveryIndex: -1}
	if len(values) == 0 {
		return dd
	}

	peak := values[0]
	peakIdx := 0
	for i, v := range values {
		if v > peak {
			peak = v
			peakIdx = i
		}
		if peak <= 0 {
			continue
		}
		current := (peak - v) / peak
		if current > dd.MaxDrawdown {
			dd.MaxDrawdown = current
			dd.PeakIndex = peakIdx
			dd.TroughIndex = i
		}
	}

	if dd.MaxDrawdown == 0 {
		return dd
	}

	peakValue := values[dd.PeakIndex]
	for i := dd.TroughIndex + 1; i < len(values); i++ {
		if values[i] >= peakValue {
			dd.RecoveryIndex = i
			break
		}
	}
	return dd
}

// MaxDrawdownFromReturns compounds returns into an equity curve starting at 1
// and returns its maximum drawdown fraction.
func MaxDrawdownFromReturns(returns []float64) float64 {
	if len(returns) == 0 {
		return 0
	}
	equity := make([]float64, len(returns)+1)
	equity[0] = 1
	for i, r := range returns {
		equity[i+1] = equity[i] * (1 + r)
	}
	return CalculateMaxDrawdown(equity).MaxDrawdown
}

// HistoricalVaR returns the (1-confidence) quantile of returns.
// Negative values are losses: VaR95 = -0.02 means a 2% daily loss at 95%.
func HistoricalVaR(returns []float64, confidence float64) float64 {
	if len(returns) == 0 {
		return 0
	}
	return Percentile(returns, 1.0-confidence)
}

// CalculateCVaR calculates Conditional Value at Risk (Expected Shortfall) at the
// specified confidence level: the mean of the worst (1-confidence) share of returns.
func CalculateCVaR(returns []float64, confidence float64) float64 {
	if len(returns) == 0 {
		return 0.0
	}
	if len(returns) == 1 {
		return returns[0]
	}

	sorted := make([]float64, len(returns))
	copy(sorted, returns)
	sort.Float64s(sorted)

	tailCount := int(math.Ceil(float64(len(sorted)) * (1.0 - confidence)))
	if tailCount == 0 {
		tailCount = 1
	}
	if tailCount > len(sorted) {
		tailCount = len(sorted)
	}

	sum := 0.0
	for _, r := range sorted[:tailCount] {
		sum += r
	}
	return sum / float64(tailCount)
}

// PortfolioReturns combines an asset return matrix ([asset][period]) with
// weights into a single portfolio return series. Periods are truncated to
// the shortest asset series.
func PortfolioReturns(returns [][]float64, weights []float64) []float64 {
	if len(returns) == 0 || len(weights) != len(returns) {
		return []float64{}
	}

	minLen := len(returns[0])
	for _, r := range returns[1:] {
		if len(r) < minLen {
			minLen = len(r)
		}
	}

	out := make([]float64, minLen)
	for t := 0; t < minLen; t++ {
		var pr float64
		for i, w := range weights {
			pr += w * returns[i][t]
		}
		out[t] = pr
	}
	return out
}
