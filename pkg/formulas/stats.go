// Package formulas holds the pure statistical helpers shared by the validation pipeline.
package formulas

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// TradingDaysPerYear is the annualization factor for daily series.
const TradingDaysPerYear = 252.0

// Mean calculates the arithmetic mean of a slice of float64 values
func Mean(data []float64) float64 {
	if len(data) == 0 {
		return 0
	}
	return stat.Mean(data, nil)
}

// StdDev calculates the sample standard deviation of a slice of float64 values
func StdDev(data []float64) float64 {
	if len(data) < 2 || isConstant(data) {
		return 0
	}
	return stat.StdDev(data, nil)
}

// Variance calculates the sample variance of a slice of float64 values
func Variance(data []float64) float64 {
	if len(data) < 2 || isConstant(data) {
		return 0
	}
	return stat.Variance(data, nil)
}

// isConstant reports whether every element equals the first. Rounding in the
// two-pass variance would otherwise leave a tiny non-zero dispersion.
func isConstant(data []float64) bool {
	for _, v := range data[1:] {
		if v != data[0] {
			return false
		}
	}
	return true
}

// AnnualizedVolatility calculates annualized volatility from daily returns
// Formula: Std Dev of Daily Returns × sqrt(252 trading days)
func AnnualizedVolatility(dailyReturns []float64) float64 {
	return StdDev(dailyReturns) * math.Sqrt(TradingDaysPerYear)
}

// CalculateReturns converts prices to percentage returns
// Returns[i] = (Price[i] - Price[i-1]) / Price[i-1]
func CalculateReturns(prices []float64) []float64 {
	if len(prices) < 2 {
		return []float64{}
	}

	returns := make([]float64, len(prices)-1)
	for i := 1; i < len(prices); i++ {
		if prices[i-1] != 0 {
			returns[i-1] = (prices[i] - prices[i-1]) / prices[i-1]
		}
	}

	return returns
}

// Correlation calculates the Pearson correlation coefficient between two datasets
func Correlation(x, y []float64) float64 {
	if len(x) < 2 || len(x) != len(y) {
		return 0
	}
	c := stat.Correlation(x, y, nil)
	if math.IsNaN(c) {
		return 0
	}
	return c
}

// Covariance calculates the covariance between two datasets
func Covariance(x, y []float64) float64 {
	if len(x) < 2 || len(x) != len(y) {
		return 0
	}
	return stat.Covariance(x, y, nil)
}

// CumulativeReturn compounds a series of periodic returns: Π(1+r) - 1.
func CumulativeReturn(returns []float64) float64 {
	cumulative := 1.0
	for _, r := range returns {
		cumulative *= 1 + r
	}
	return cumulative - 1
}

// CalculateAnnualReturn calculates annualized return from daily returns
//
// Formula: ((1+r1)*(1+r2)*...*(1+rN))^(252/N) - 1
//
// For very short series (< 3 periods) the simple cumulative return is
// returned to avoid extreme annualization.
func CalculateAnnualReturn(returns []float64) float64 {
	if len(returns) == 0 {
		return 0.0
	}

	cumulative := 1.0 + CumulativeReturn(returns)
	numPeriods := float64(len(returns))
	if numPeriods < 3 {
		return cumulative - 1
	}
	if cumulative <= 0 {
		return -1
	}

	years := numPeriods / TradingDaysPerYear
	return math.Pow(cumulative, 1.0/years) - 1
}

// SharpeRatio computes (annualized return - riskFreeRate) / annualized volatility.
// Returns 0 when volatility is zero.
func SharpeRatio(dailyReturns []float64, riskFreeRate float64) float64 {
	vol := AnnualizedVolatility(dailyReturns)
	if vol == 0 {
		return 0
	}
	return (CalculateAnnualReturn(dailyReturns) - riskFreeRate) / vol
}

// CalculateSortinoRatio computes the annualized Sortino ratio.
// Downside deviation uses returns below targetReturn only.
func CalculateSortinoRatio(returns []float64, riskFreeRate, targetReturn, periodsPerYear float64) float64 {
	if len(returns) < 2 {
		return 0
	}

	var downsideSq float64
	for _, r := range returns {
		if r < targetReturn {
			d := r - targetReturn
			downsideSq += d * d
		}
	}
	downsideDev := math.Sqrt(downsideSq/float64(len(returns))) * math.Sqrt(periodsPerYear)
	if downsideDev == 0 {
		return 0
	}

	annualReturn := Mean(returns) * periodsPerYear
	return (annualReturn - riskFreeRate) / downsideDev
}

// Percentile returns the empirical p-th quantile (0..1) of data: the
// smallest value whose empirical CDF reaches p. data does not need to be sorted.
func Percentile(data []float64, p float64) float64 {
	if len(data) == 0 {
		return 0
	}
	sorted := make([]float64, len(data))
	copy(sorted, data)
	sort.Float64s(sorted)
	return PercentileSorted(sorted, p)
}

// PercentileSorted is Percentile for data that is already sorted ascending.
// p is clamped to [0, 1].
func PercentileSorted(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	if math.IsNaN(p) {
		p = 0
	}
	return stat.Quantile(math.Max(0, math.Min(1, p)), stat.Empirical, sorted, nil)
}

// Median returns the 50th percentile. For an even count this is the lower
// of the two middle values.
func Median(data []float64) float64 {
	return Percentile(data, 0.5)
}

// Skewness returns the sample skewness, 0 for fewer than 3 observations.
func Skewness(data []float64) float64 {
	if len(data) < 3 || StdDev(data) == 0 {
		return 0
	}
	return stat.Skew(data, nil)
}

// ExcessKurtosis returns the sample excess kurtosis, 0 for fewer than 4 observations.
func ExcessKurtosis(data []float64) float64 {
	if len(data) < 4 || StdDev(data) == 0 {
		return 0
	}
	return stat.ExKurtosis(data, nil)
}

// CoefficientOfVariation returns std/|mean|. A zero mean yields 0 when the
// data has no dispersion and +Inf otherwise.
func CoefficientOfVariation(data []float64) float64 {
	if len(data) < 2 {
		return 0
	}
	sd := StdDev(data)
	m := math.Abs(Mean(data))
	if m == 0 {
		if sd == 0 {
			return 0
		}
		return math.Inf(1)
	}
	return sd / m
}
