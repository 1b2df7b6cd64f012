package allocation

import (
	"context"
	"errors"
	"fmt"

	"github.com/aristath/quantlab/internal/domain"
)

// Fit runs the strategy once over the full return history of prices with
// its base parameters overridden by params, and returns weights by symbol.
func (s Strategy) Fit(ctx context.Context, prices domain.PriceData, params domain.Params) (map[string]float64, error) {
	symbols := prices.Symbols()
	returns, err := prices.ReturnsMatrix(symbols)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInsufficientHistory, err)
	}

	alloc, err := s.Func(ctx, returns, s.BaseParams.Merge(params))
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return nil, fmt.Errorf("strategy %s: %w", s.Name, err)
	}
	if alloc == nil {
		return nil, fmt.Errorf("strategy %s: %w: no allocation returned", s.Name, domain.ErrInvalidWeights)
	}
	weights, err := domain.NormalizeWeights(alloc.Weights, len(symbols))
	if err != nil {
		return nil, fmt.Errorf("strategy %s: %w", s.Name, err)
	}
	return domain.WeightMap(symbols, weights), nil
}
