package domain

import (
	"context"
	"fmt"
	"math"
	"sort"
)

// Params holds strategy hyperparameters. Values are float64, int, bool or string.
type Params map[string]interface{}

// Clone returns a shallow copy.
func (p Params) Clone() Params {
	out := make(Params, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// Merge returns a copy of p with the entries of override applied on top.
func (p Params) Merge(override Params) Params {
	out := p.Clone()
	for k, v := range override {
		out[k] = v
	}
	return out
}

// Keys returns parameter names in sorted order.
func (p Params) Keys() []string {
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Float returns a numeric parameter as float64, or def when absent or non-numeric.
func (p Params) Float(key string, def float64) float64 {
	if v, ok := AsFloat(p[key]); ok {
		return v
	}
	return def
}

// Int returns a numeric parameter rounded to int, or def when absent or non-numeric.
func (p Params) Int(key string, def int) int {
	if v, ok := AsFloat(p[key]); ok {
		return int(math.Round(v))
	}
	return def
}

// Str returns a string parameter, or def when absent or not a string.
func (p Params) Str(key, def string) string {
	if v, ok := p[key].(string); ok && v != "" {
		return v
	}
	return def
}

// AsFloat converts the numeric kinds a Params value may hold.
// JSON decoding yields float64 for every number.
func AsFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	default:
		return 0, false
	}
}

// Allocation is the output of a strategy function: one weight per row of
// the returns matrix it was given.
type Allocation struct {
	Weights  []float64              `json:"weights"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// StrategyFunc turns a returns matrix laid out as [asset][period] into
// portfolio weights. Implementations must be safe for concurrent use.
type StrategyFunc func(ctx context.Context, returns [][]float64, params Params) (*Allocation, error)

// EqualWeights returns n weights of 1/n.
func EqualWeights(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = 1.0 / float64(n)
	}
	return out
}

// NormalizeWeights validates a weight vector of the expected length and
// scales it to sum to 1. Negative, NaN or all-zero weights are rejected.
func NormalizeWeights(weights []float64, n int) ([]float64, error) {
	if len(weights) != n {
		return nil, fmt.Errorf("%w: got %d weights for %d assets", ErrInvalidWeights, len(weights), n)
	}

	var sum float64
	for i, w := range weights {
		if math.IsNaN(w) || math.IsInf(w, 0) || w < 0 {
			return nil, fmt.Errorf("%w: weight %d is %v", ErrInvalidWeights, i, w)
		}
		sum += w
	}
	if sum <= 0 {
		return nil, fmt.Errorf("%w: weights sum to zero", ErrInvalidWeights)
	}

	out := make([]float64, n)
	for i, w := range weights {
		out[i] = w / sum
	}
	return out, nil
}

// WeightMap pairs symbols with weights.
func WeightMap(symbols []string, weights []float64) map[string]float64 {
	out := make(map[string]float64, len(symbols))
	for i, s := range symbols {
		if i < len(weights) {
			out[s] = weights[i]
		}
	}
	return out
}
