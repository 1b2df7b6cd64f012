package optimization

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/optimize"
)

// MVObjective selects the mean-variance problem to solve.
type MVObjective string

const (
	// MVMinVolatility minimizes w'Σw
	MVMinVolatility MVObjective = "min_volatility"
	// MVMaxSharpe maximizes (μ'w - rf) / sqrt(w'Σw)
	MVMaxSharpe MVObjective = "max_sharpe"
	// MVMaxUtility maximizes μ'w - (λ/2)·w'Σw
	MVMaxUtility MVObjective = "max_utility"
)

// Bounds constrains every weight to [Min, Max].
type Bounds struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// LongOnly allows any weight in [0, 1].
var LongOnly = Bounds{Min: 0, Max: 1}

// Validate checks that n assets can be fully invested within the bounds.
func (b Bounds) Validate(n int) error {
	if b.Min < 0 || b.Max <= 0 || b.Min > b.Max {
		return fmt.Errorf("invalid weight bounds [%v, %v]", b.Min, b.Max)
	}
	if float64(n)*b.Max < 1-1e-9 {
		return fmt.Errorf("max weight %v too small for %d assets", b.Max, n)
	}
	if float64(n)*b.Min > 1+1e-9 {
		return fmt.Errorf("min weight %v too large for %d assets", b.Min, n)
	}
	return nil
}

// MVProblem is one mean-variance optimization. Mu and Cov must share units
// (both annualized or both daily).
type MVProblem struct {
	Mu           []float64
	Cov          [][]float64
	Objective    MVObjective
	RiskAversion float64
	RiskFreeRate float64
	Bounds       Bounds
}

// MVOptimizer solves mean-variance problems with a penalty method for the
// budget constraint and projection onto the weight bounds.
type MVOptimizer struct {
	penaltyWeight float64
}

// NewMVOptimizer creates a new mean-variance optimizer.
func NewMVOptimizer() *MVOptimizer {
	return &MVOptimizer{penaltyWeight: 1000.0}
}

// Optimize returns weights summing to 1 within the problem's bounds.
func (mvo *MVOptimizer) Optimize(p MVProblem) ([]float64, error) {
	n := len(p.Mu)
	if n == 0 {
		return nil, fmt.Errorf("no assets provided")
	}
	if len(p.Cov) != n {
		return nil, fmt.Errorf("covariance matrix size %d doesn't match asset count %d", len(p.Cov), n)
	}
	for i := range p.Cov {
		if len(p.Cov[i]) != n {
			return nil, fmt.Errorf("covariance matrix row %d has size %d, expected %d", i, len(p.Cov[i]), n)
		}
	}
	if p.Bounds == (Bounds{}) {
		p.Bounds = LongOnly
	}
	if err := p.Bounds.Validate(n); err != nil {
		return nil, err
	}
	if n == 1 {
		return []float64{1}, nil
	}

	var objective func(w []float64) float64
	switch p.Objective {
	case MVMinVolatility:
		objective = func(w []float64) float64 {
			return quadForm(w, p.Cov)
		}
	case MVMaxSharpe:
		objective = func(w []float64) float64 {
			stdDev := math.Sqrt(math.Max(quadForm(w, p.Cov), 1e-10))
			return -(dot(p.Mu, w) - p.RiskFreeRate) / stdDev
		}
	case MVMaxUtility, "":
		lambda := p.RiskAversion
		if lambda <= 0 {
			lambda = 1
		}
		objective = func(w []float64) float64 {
			return -(dot(p.Mu, w) - 0.5*lambda*quadForm(w, p.Cov))
		}
	default:
		return nil, fmt.Errorf("unknown objective: %s", p.Objective)
	}

	problem := optimize.Problem{
		Func: func(x []float64) float64 {
			w := mvo.projectToBounds(x, p.Bounds)
			sum := 0.0
			for _, v := range w {
				sum += v
			}
			return objective(w) + mvo.penaltyWeight*(sum-1)*(sum-1)
		},
	}

	initial := make([]float64, n)
	for i := range initial {
		initial[i] = 1.0 / float64(n)
	}

	x, err := minimizeWithFallback(problem, initial)
	if err != nil {
		return nil, err
	}

	return mvo.normalizeWithinBounds(mvo.projectToBounds(x, p.Bounds), p.Bounds), nil
}

// minimizeWithFallback runs Nelder-Mead and BFGS (numerical gradient) and
// keeps the lower objective among the runs that returned a finite point.
func minimizeWithFallback(problem optimize.Problem, initial []float64) ([]float64, error) {
	if problem.Grad == nil {
		f := problem.Func
		problem.Grad = func(grad, x []float64) {
			numericalGradient(f, grad, x)
		}
	}

	var best []float64
	bestF := math.Inf(1)
	var lastErr error
	for _, method := range []optimize.Method{&optimize.NelderMead{}, &optimize.BFGS{}} {
		result, err := optimize.Minimize(problem, initial, &optimize.Settings{}, method)
		if err != nil && result == nil {
			lastErr = err
			continue
		}
		if !finite(result.X) || math.IsNaN(result.F) {
			lastErr = fmt.Errorf("optimization diverged: status=%v", result.Status)
			continue
		}
		if result.F < bestF {
			bestF = result.F
			best = result.X
		}
	}

	if best == nil {
		return nil, fmt.Errorf("optimization failed: %w", lastErr)
	}
	return best, nil
}

func numericalGradient(f func([]float64) float64, grad, x []float64) {
	const h = 1e-7
	xh := make([]float64, len(x))
	copy(xh, x)
	for i := range x {
		xh[i] = x[i] + h
		up := f(xh)
		xh[i] = x[i] - h
		down := f(xh)
		xh[i] = x[i]
		grad[i] = (up - down) / (2 * h)
	}
}

func (mvo *MVOptimizer) projectToBounds(x []float64, b Bounds) []float64 {
	proj := make([]float64, len(x))
	for i := range x {
		proj[i] = clamp(x[i], b.Min, b.Max)
	}
	return proj
}

// normalizeWithinBounds scales w to sum to 1, then repeatedly clips weights
// that left the bounds and redistributes the excess over the free weights.
func (mvo *MVOptimizer) normalizeWithinBounds(w []float64, b Bounds) []float64 {
	n := len(w)
	out := make([]float64, n)
	copy(out, w)

	sum := 0.0
	for _, v := range out {
		sum += v
	}
	if sum <= 0 {
		for i := range out {
			out[i] = 1.0 / float64(n)
		}
		return out
	}
	for i := range out {
		out[i] /= sum
	}

	for iter := 0; iter < 100; iter++ {
		var excess, freeSum float64
		fixed := make([]bool, n)
		for i, v := range out {
			switch {
			case v > b.Max:
				excess += v - b.Max
				out[i] = b.Max
				fixed[i] = true
			case v < b.Min:
				excess -= b.Min - v
				out[i] = b.Min
				fixed[i] = true
			default:
				freeSum += v
			}
		}
		if math.Abs(excess) < 1e-12 {
			break
		}
		if freeSum <= 0 {
			break
		}
		for i := range out {
			if !fixed[i] {
				out[i] += excess * out[i] / freeSum
			}
		}
	}
	return out
}

func quadForm(w []float64, cov [][]float64) float64 {
	var v float64
	for i := range w {
		for j := range w {
			v += w[i] * w[j] * cov[i][j]
		}
	}
	return v
}

func dot(a, b []float64) float64 {
	var s float64
	for i := range a {
		s += a[i] * b[i]
	}
	return s
}

func finite(x []float64) bool {
	for _, v := range x {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
