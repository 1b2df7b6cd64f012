package formulas

import (
	"math"

	"github.com/markcheno/go-talib"
)

// PriceIndex compounds a return series into a price path starting at 1.
// The result has len(returns)+1 points.
func PriceIndex(returns []float64) []float64 {
	index := make([]float64, len(returns)+1)
	index[0] = 1
	for i, r := range returns {
		index[i+1] = index[i] * (1 + r)
	}
	return index
}

// RateOfChange returns the latest period-over-period rate of change of
// closes as a fraction, or nil if there are not more than period closes.
//
// Formula: (close_t / close_{t-period}) - 1
func RateOfChange(closes []float64, period int) *float64 {
	if period <= 0 || len(closes) <= period {
		return nil
	}

	roc := talib.Roc(closes, period)
	if len(roc) == 0 {
		return nil
	}
	last := roc[len(roc)-1]
	if math.IsNaN(last) || math.IsInf(last, 0) {
		return nil
	}

	result := last / 100
	return &result
}
