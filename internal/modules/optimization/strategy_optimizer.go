// Package optimization provides portfolio optimization formulas and the
// grid search that tunes strategy hyperparameters against a data window.
package optimization

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/aristath/quantlab/internal/domain"
	"github.com/aristath/quantlab/internal/workers"
	"github.com/aristath/quantlab/pkg/formulas"
	"github.com/rs/zerolog"
)

// Objective scores the weights produced by a grid cell.
type Objective string

const (
	// ObjectiveSharpe scores by in-window annualized Sharpe ratio
	ObjectiveSharpe Objective = "sharpe"
	// ObjectiveRiskParity scores by 1 - CV of risk contributions
	ObjectiveRiskParity Objective = "risk_parity"
)

// Grid maps a hyperparameter name to the values to try.
type Grid map[string][]interface{}

// Cells returns the cartesian product of the grid in a deterministic order:
// keys sorted, the last key varying fastest. base is copied into every cell.
// An empty grid yields a single cell holding base.
func (g Grid) Cells(base domain.Params) []domain.Params {
	keys := make([]string, 0, len(g))
	for k, values := range g {
		if len(values) > 0 {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	cells := []domain.Params{base.Clone()}
	for _, k := range keys {
		next := make([]domain.Params, 0, len(cells)*len(g[k]))
		for _, cell := range cells {
			for _, v := range g[k] {
				c := cell.Clone()
				c[k] = v
				next = append(next, c)
			}
		}
		cells = next
	}
	return cells
}

// Size returns the number of cells.
func (g Grid) Size() int {
	size := 1
	for _, values := range g {
		if len(values) > 0 {
			size *= len(values)
		}
	}
	return size
}

// Method is a named strategy function with the grid to search.
type Method struct {
	Name       string
	Func       domain.StrategyFunc
	Grid       Grid
	BaseParams domain.Params
	Objective  Objective
}

// CellResult is the evaluation of one grid cell.
type CellResult struct {
	Index   int           `json:"index"`
	Params  domain.Params `json:"params"`
	Weights []float64     `json:"weights,omitempty"`
	Score   float64       `json:"score"`
	Error   string        `json:"error,omitempty"`
}

// OptimizationResult is the best cell of a grid search. FellBack is set when
// every cell failed and equal weights were returned instead.
type OptimizationResult struct {
	Method    string             `json:"method"`
	Objective Objective          `json:"objective"`
	Params    domain.Params      `json:"params"`
	Weights   []float64          `json:"weights"`
	WeightMap map[string]float64 `json:"weight_map"`
	Score     float64            `json:"score"`
	Evaluated int                `json:"evaluated"`
	Failed    int                `json:"failed"`
	FellBack  bool               `json:"fell_back"`
	Cells     []CellResult       `json:"cells,omitempty"`
}

// StrategyOptimizer grid-searches strategy hyperparameters.
type StrategyOptimizer struct {
	pool         *workers.Pool
	riskFreeRate float64
	log          zerolog.Logger
}

// NewStrategyOptimizer creates an optimizer evaluating cells on pool.
func NewStrategyOptimizer(pool *workers.Pool, riskFreeRate float64, log zerolog.Logger) *StrategyOptimizer {
	return &StrategyOptimizer{
		pool:         pool,
		riskFreeRate: riskFreeRate,
		log:          log.With().Str("component", "strategy_optimizer").Logger(),
	}
}

// Optimize evaluates every grid cell on returns ([asset][period], rows
// aligned with symbols) and keeps the highest score; ties go to the lowest
// cell index. Failed cells are skipped. If every cell fails the result
// holds equal weights with FellBack set. Only cancellation and malformed
// input are returned as errors.
func (o *StrategyOptimizer) Optimize(ctx context.Context, method Method, symbols []string, returns [][]float64) (*OptimizationResult, error) {
	if len(symbols) == 0 || len(returns) != len(symbols) {
		return nil, fmt.Errorf("%w: %d return rows for %d symbols", domain.ErrInsufficientData, len(returns), len(symbols))
	}
	if method.Func == nil {
		return nil, fmt.Errorf("%w: method %q has no strategy function", domain.ErrInvalidConfig, method.Name)
	}
	objective := method.Objective
	if objective == "" {
		objective = ObjectiveSharpe
	}

	var cov [][]float64
	if objective == ObjectiveRiskParity {
		var err error
		if cov, err = formulas.CovarianceMatrix(returns); err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrInsufficientData, err)
		}
	}

	cells := method.Grid.Cells(method.BaseParams)
	results, err := workers.Map(ctx, o.pool, len(cells), func(ctx context.Context, i int) (CellResult, error) {
		return o.evaluate(ctx, method.Func, objective, cells[i], i, returns, cov)
	})
	if err != nil {
		return nil, err
	}

	result := &OptimizationResult{
		Method:    method.Name,
		Objective: objective,
		Evaluated: len(cells),
		Cells:     make([]CellResult, len(results)),
	}

	best := -1
	for i, r := range results {
		cell := r.Value
		if r.Err != nil {
			cell = CellResult{Index: i, Params: cells[i], Error: r.Err.Error()}
			result.Failed++
			o.log.Debug().Str("method", method.Name).Int("cell", i).Err(r.Err).Msg("Grid cell failed")
		} else if best < 0 || cell.Score > results[best].Value.Score {
			best = i
		}
		result.Cells[i] = cell
	}

	if best < 0 {
		o.log.Warn().
			Str("method", method.Name).
			Int("cells", len(cells)).
			Msg("All grid cells failed, falling back to equal weights")
		result.Params = method.BaseParams.Clone()
		result.Weights = domain.EqualWeights(len(symbols))
		result.FellBack = true
		result.Score = o.score(objective, result.Weights, returns, cov)
	} else {
		result.Params = results[best].Value.Params
		result.Weights = results[best].Value.Weights
		result.Score = results[best].Value.Score
	}
	result.WeightMap = domain.WeightMap(symbols, result.Weights)

	return result, nil
}

func (o *StrategyOptimizer) evaluate(ctx context.Context, fn domain.StrategyFunc, objective Objective, params domain.Params, index int, returns, cov [][]float64) (CellResult, error) {
	alloc, err := fn(ctx, returns, params)
	if err != nil {
		return CellResult{}, err
	}
	if alloc == nil {
		return CellResult{}, fmt.Errorf("%w: strategy returned no allocation", domain.ErrInvalidWeights)
	}
	weights, err := domain.NormalizeWeights(alloc.Weights, len(returns))
	if err != nil {
		return CellResult{}, err
	}

	score := o.score(objective, weights, returns, cov)
	if math.IsNaN(score) || math.IsInf(score, 0) {
		return CellResult{}, fmt.Errorf("non-finite %s score", objective)
	}

	return CellResult{Index: index, Params: params, Weights: weights, Score: score}, nil
}

func (o *StrategyOptimizer) score(objective Objective, weights []float64, returns, cov [][]float64) float64 {
	switch objective {
	case ObjectiveRiskParity:
		return RiskParityQuality(weights, cov)
	default:
		return formulas.SharpeRatio(formulas.PortfolioReturns(returns, weights), o.riskFreeRate)
	}
}
