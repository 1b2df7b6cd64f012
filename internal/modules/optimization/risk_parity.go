package optimization

import (
	"fmt"
	"math"

	"github.com/aristath/quantlab/pkg/formulas"
	"gonum.org/v1/gonum/optimize"
)

// RiskParityOptimizer finds weights whose risk contributions match a budget
// (equal risk contribution by default).
type RiskParityOptimizer struct {
	tolerance float64
}

// NewRiskParityOptimizer creates a new risk parity optimizer.
func NewRiskParityOptimizer() *RiskParityOptimizer {
	return &RiskParityOptimizer{tolerance: 1e-4}
}

// Optimize solves min ½y'Σy - Σ bᵢ·ln yᵢ over y > 0 in log space and
// normalizes y to weights; at the optimum yᵢ(Σy)ᵢ = bᵢ. A nil budget means
// equal contributions. Falls back to multiplicative updates when the solver
// does not reach the tolerance.
func (rp *RiskParityOptimizer) Optimize(cov [][]float64, budget []float64) ([]float64, error) {
	n := len(cov)
	if n == 0 {
		return nil, fmt.Errorf("empty covariance matrix")
	}
	for i := range cov {
		if len(cov[i]) != n {
			return nil, fmt.Errorf("covariance matrix is not square")
		}
		if cov[i][i] <= 0 {
			return nil, fmt.Errorf("non-positive variance for asset %d", i)
		}
	}
	if n == 1 {
		return []float64{1}, nil
	}

	b, err := riskBudget(budget, n)
	if err != nil {
		return nil, err
	}

	problem := optimize.Problem{
		Func: func(x []float64) float64 {
			y := expVec(x)
			var logTerm float64
			for i := range x {
				logTerm += b[i] * x[i]
			}
			return 0.5*quadForm(y, cov) - logTerm
		},
		Grad: func(grad, x []float64) {
			y := expVec(x)
			for i := 0; i < n; i++ {
				var sy float64
				for j := 0; j < n; j++ {
					sy += cov[i][j] * y[j]
				}
				grad[i] = y[i]*sy - b[i]
			}
		},
	}

	initial := make([]float64, n)
	for i := range initial {
		initial[i] = math.Log(1 / (math.Sqrt(cov[i][i]) * math.Sqrt(float64(n))))
	}

	if x, err := minimizeWithFallback(problem, initial); err == nil {
		w := normalize(expVec(x))
		if rp.budgetError(w, cov, b) < rp.tolerance {
			return w, nil
		}
	}

	return rp.multiplicative(cov, b), nil
}

// multiplicative iterates wᵢ ← wᵢ·sqrt(bᵢ/RCᵢ) from inverse-volatility weights.
func (rp *RiskParityOptimizer) multiplicative(cov [][]float64, b []float64) []float64 {
	n := len(cov)
	w := make([]float64, n)
	for i := range w {
		w[i] = 1 / math.Sqrt(cov[i][i])
	}
	w = normalize(w)

	for iter := 0; iter < 5000; iter++ {
		rc := formulas.RiskContributions(w, cov)
		for i := range w {
			if rc[i] > 0 {
				w[i] *= math.Sqrt(b[i] / rc[i])
			}
		}
		w = normalize(w)
		if rp.budgetError(w, cov, b) < rp.tolerance*0.1 {
			break
		}
	}
	return w
}

func (rp *RiskParityOptimizer) budgetError(w []float64, cov [][]float64, b []float64) float64 {
	rc := formulas.RiskContributions(w, cov)
	var maxErr float64
	for i := range rc {
		maxErr = math.Max(maxErr, math.Abs(rc[i]-b[i]))
	}
	return maxErr
}

// RiskParityQuality scores how evenly risk is spread: 1 - CV of the risk
// contributions. Equal contributions score 1.
func RiskParityQuality(weights []float64, cov [][]float64) float64 {
	rc := formulas.RiskContributions(weights, cov)
	return 1 - formulas.CoefficientOfVariation(rc)
}

func riskBudget(budget []float64, n int) ([]float64, error) {
	if budget == nil {
		b := make([]float64, n)
		for i := range b {
			b[i] = 1.0 / float64(n)
		}
		return b, nil
	}
	if len(budget) != n {
		return nil, fmt.Errorf("risk budget has %d entries for %d assets", len(budget), n)
	}
	for i, v := range budget {
		if v <= 0 {
			return nil, fmt.Errorf("risk budget %d must be positive", i)
		}
	}
	return normalize(budget), nil
}

func expVec(x []float64) []float64 {
	y := make([]float64, len(x))
	for i, v := range x {
		y[i] = math.Exp(v)
	}
	return y
}

func normalize(w []float64) []float64 {
	out := make([]float64, len(w))
	var sum float64
	for _, v := range w {
		sum += v
	}
	for i, v := range w {
		out[i] = v / sum
	}
	return out
}
