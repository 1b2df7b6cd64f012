package allocation

import (
	"context"
	"fmt"
	"sort"

	"github.com/aristath/quantlab/internal/domain"
	"github.com/aristath/quantlab/internal/modules/optimization"
	"github.com/aristath/quantlab/pkg/formulas"
)

const minPeriods = 2

// EqualWeight allocates 1/n to every asset.
func EqualWeight(ctx context.Context, returns [][]float64, _ domain.Params) (*domain.Allocation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(returns) == 0 {
		return nil, fmt.Errorf("%w: no assets", domain.ErrInsufficientData)
	}
	return &domain.Allocation{Weights: domain.EqualWeights(len(returns))}, nil
}

// MeanVariance solves a long-only Markowitz problem on annualized moments.
//
// Params: objective (max_sharpe), risk_aversion (2), covariance
// (ledoit_wolf), half_life (63), lookback (0 = all periods), min_weight (0),
// max_weight (1), risk_free_rate (0.02).
func MeanVariance(ctx context.Context, returns [][]float64, params domain.Params) (*domain.Allocation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	window, err := trailing(returns, params.Int("lookback", 0))
	if err != nil {
		return nil, err
	}
	cov, err := annualCovariance(window, params)
	if err != nil {
		return nil, err
	}

	objective := optimization.MVObjective(params.Str("objective", string(optimization.MVMaxSharpe)))
	mu := optimization.ExpectedReturns(window)
	weights, err := optimization.NewMVOptimizer().Optimize(optimization.MVProblem{
		Mu:           mu,
		Cov:          cov,
		Objective:    objective,
		RiskAversion: params.Float("risk_aversion", 2),
		RiskFreeRate: params.Float("risk_free_rate", 0.02),
		Bounds:       bounds(params),
	})
	if err != nil {
		return nil, fmt.Errorf("mean-variance optimization failed: %w", err)
	}

	return &domain.Allocation{
		Weights:  weights,
		Metadata: map[string]interface{}{"expected_returns": mu, "objective": string(objective)},
	}, nil
}

// BlackLitterman blends inverse-variance equilibrium weights with absolute
// momentum views (annualized mean return over view_lookback periods) and
// maximizes utility on the posterior returns.
//
// Params: risk_aversion (2.5), tau (0.05), view_confidence (0.5),
// view_lookback (63), covariance (ledoit_wolf), min_weight, max_weight.
func BlackLitterman(ctx context.Context, returns [][]float64, params domain.Params) (*domain.Allocation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(returns) == 0 {
		return nil, fmt.Errorf("%w: no assets", domain.ErrInsufficientData)
	}
	cov, err := annualCovariance(returns, params)
	if err != nil {
		return nil, err
	}

	n := len(returns)
	variances := make([]float64, n)
	for i := range cov {
		variances[i] = cov[i][i]
	}
	marketWeights := formulas.InverseVarianceWeights(variances)

	viewWindow, err := trailing(returns, params.Int("view_lookback", 63))
	if err != nil {
		return nil, err
	}
	viewReturns := optimization.ExpectedReturns(viewWindow)
	confidence := params.Float("view_confidence", 0.5)
	views := make([]optimization.View, n)
	for i := range views {
		views[i] = optimization.AbsoluteView(n, i, viewReturns[i], confidence)
	}

	model := optimization.NewBlackLitterman(params.Float("risk_aversion", 2.5), params.Float("tau", 0.05))
	posterior, err := model.PosteriorReturns(cov, marketWeights, views)
	if err != nil {
		return nil, fmt.Errorf("black-litterman posterior failed: %w", err)
	}

	weights, err := optimization.NewMVOptimizer().Optimize(optimization.MVProblem{
		Mu:           posterior,
		Cov:          cov,
		Objective:    optimization.MVMaxUtility,
		RiskAversion: model.RiskAversion,
		Bounds:       bounds(params),
	})
	if err != nil {
		return nil, fmt.Errorf("black-litterman optimization failed: %w", err)
	}

	return &domain.Allocation{
		Weights: weights,
		Metadata: map[string]interface{}{
			"market_weights":    marketWeights,
			"implied_returns":   model.ImpliedReturns(cov, marketWeights),
			"posterior_returns": posterior,
		},
	}, nil
}

// RiskParity equalizes each asset's contribution to portfolio variance.
//
// Params: covariance (sample), half_life (63), lookback (0 = all periods).
func RiskParity(ctx context.Context, returns [][]float64, params domain.Params) (*domain.Allocation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	window, err := trailing(returns, params.Int("lookback", 0))
	if err != nil {
		return nil, err
	}
	cov, err := covariance(window, params, optimization.CovarianceSample)
	if err != nil {
		return nil, err
	}

	weights, err := optimization.NewRiskParityOptimizer().Optimize(cov, nil)
	if err != nil {
		return nil, fmt.Errorf("risk parity optimization failed: %w", err)
	}
	return &domain.Allocation{
		Weights:  weights,
		Metadata: map[string]interface{}{"risk_contributions": formulas.RiskContributions(weights, cov)},
	}, nil
}

// HierarchicalRiskParity clusters assets by correlation distance and splits
// risk recursively down the dendrogram.
//
// Params: linkage (single), covariance (sample), half_life (63), lookback.
func HierarchicalRiskParity(ctx context.Context, returns [][]float64, params domain.Params) (*domain.Allocation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	window, err := trailing(returns, params.Int("lookback", 0))
	if err != nil {
		return nil, err
	}
	cov, err := covariance(window, params, optimization.CovarianceSample)
	if err != nil {
		return nil, err
	}

	linkage := optimization.Linkage(params.Str("linkage", string(optimization.LinkageSingle)))
	weights, err := optimization.NewHRPOptimizer().Optimize(cov, linkage)
	if err != nil {
		return nil, fmt.Errorf("hrp optimization failed: %w", err)
	}
	return &domain.Allocation{Weights: weights}, nil
}

// Momentum holds the top_n assets by rate of change over lookback periods,
// weighted by their rate of change. Assets with non-positive momentum are
// excluded; if none qualify the allocation is equal weight.
//
// Params: lookback (63), top_n (0 = every positive asset).
func Momentum(ctx context.Context, returns [][]float64, params domain.Params) (*domain.Allocation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	n := len(returns)
	if n == 0 {
		return nil, fmt.Errorf("%w: no assets", domain.ErrInsufficientData)
	}
	lookback := params.Int("lookback", 63)
	if lookback <= 0 {
		return nil, fmt.Errorf("%w: lookback must be positive, got %d", domain.ErrInvalidConfig, lookback)
	}

	type scored struct {
		index int
		roc   float64
	}
	var candidates []scored
	for i, series := range returns {
		if len(series) < lookback {
			return nil, fmt.Errorf("%w: momentum needs %d periods, have %d", domain.ErrInsufficientData, lookback, len(series))
		}
		roc := formulas.RateOfChange(formulas.PriceIndex(series), lookback)
		if roc != nil && *roc > 0 {
			candidates = append(candidates, scored{index: i, roc: *roc})
		}
	}

	weights := make([]float64, n)
	if len(candidates) == 0 {
		return &domain.Allocation{
			Weights:  domain.EqualWeights(n),
			Metadata: map[string]interface{}{"selected": 0},
		}, nil
	}

	sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].roc > candidates[j].roc })
	if topN := params.Int("top_n", 0); topN > 0 && topN < len(candidates) {
		candidates = candidates[:topN]
	}
	var total float64
	for _, c := range candidates {
		total += c.roc
	}
	for _, c := range candidates {
		weights[c.index] = c.roc / total
	}

	return &domain.Allocation{
		Weights:  weights,
		Metadata: map[string]interface{}{"selected": len(candidates)},
	}, nil
}

// trailing returns the last lookback periods of every row; non-positive or
// oversized lookbacks keep the whole matrix.
func trailing(returns [][]float64, lookback int) ([][]float64, error) {
	if len(returns) == 0 {
		return nil, fmt.Errorf("%w: no assets", domain.ErrInsufficientData)
	}
	out := make([][]float64, len(returns))
	for i, r := range returns {
		if len(r) < minPeriods {
			return nil, fmt.Errorf("%w: %d periods for asset %d", domain.ErrInsufficientData, len(r), i)
		}
		if lookback > 0 && lookback < len(r) {
			r = r[len(r)-lookback:]
		}
		out[i] = r
	}
	return out, nil
}

func covariance(returns [][]float64, params domain.Params, def optimization.CovarianceMethod) ([][]float64, error) {
	method := optimization.CovarianceMethod(params.Str("covariance", string(def)))
	cov, err := optimization.EstimateCovariance(returns, method, params.Float("half_life", 63))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInsufficientData, err)
	}
	return cov, nil
}

func annualCovariance(returns [][]float64, params domain.Params) ([][]float64, error) {
	cov, err := covariance(returns, params, optimization.CovarianceLedoitWolf)
	if err != nil {
		return nil, err
	}
	return formulas.ScaleMatrix(cov, formulas.TradingDaysPerYear), nil
}

func bounds(params domain.Params) optimization.Bounds {
	return optimization.Bounds{
		Min: params.Float("min_weight", 0),
		Max: params.Float("max_weight", 1),
	}
}
