package montecarlo

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"github.com/aristath/quantlab/internal/domain"
	"github.com/aristath/quantlab/internal/modules/backtesting"
	"github.com/aristath/quantlab/pkg/formulas"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distmv"
	"gonum.org/v1/gonum/stat/distuv"
)

// Method selects how alternate return histories are generated.
type Method string

const (
	// MethodBootstrap resamples contiguous blocks of history
	MethodBootstrap Method = "bootstrap"
	// MethodNormal draws i.i.d. from a multivariate normal fit to history
	MethodNormal Method = "normal"
	// MethodShuffle permutes the historical periods
	MethodShuffle Method = "shuffle"
)

// ScenarioOutcome is what a ScenarioFunc produces for one return history:
// the portfolio's periodic return series and the weights it held.
type ScenarioOutcome struct {
	Returns  []float64              `json:"returns"`
	Weights  []float64              `json:"weights,omitempty"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// ScenarioFunc evaluates a strategy on one [asset][period] return history.
// Implementations must be safe for concurrent use.
type ScenarioFunc func(ctx context.Context, returns [][]float64, params domain.Params) (*ScenarioOutcome, error)

// FromStrategy evaluates a weight function as a constant-mix portfolio held
// over the scenario.
func FromStrategy(fn domain.StrategyFunc) ScenarioFunc {
	return func(ctx context.Context, returns [][]float64, params domain.Params) (*ScenarioOutcome, error) {
		alloc, err := fn(ctx, returns, params)
		if err != nil {
			return nil, err
		}
		if alloc == nil {
			return nil, fmt.Errorf("%w: strategy returned no allocation", domain.ErrInvalidWeights)
		}
		weights, err := domain.NormalizeWeights(alloc.Weights, len(returns))
		if err != nil {
			return nil, err
		}
		return &ScenarioOutcome{
			Returns:  formulas.PortfolioReturns(returns, weights),
			Weights:  weights,
			Metadata: alloc.Metadata,
		}, nil
	}
}

// FromBacktest evaluates a weight function by replaying the scenario
// through the backtester, so rebalancing and transaction costs apply.
// Scenario returns are compounded into price paths starting at 100 on
// trading days from start; rows map to symbols in order.
func FromBacktest(engine *backtesting.Engine, symbols []string, start time.Time, fn domain.StrategyFunc) ScenarioFunc {
	return func(ctx context.Context, returns [][]float64, params domain.Params) (*ScenarioOutcome, error) {
		if len(returns) != len(symbols) {
			return nil, fmt.Errorf("%w: %d return rows for %d symbols", domain.ErrInsufficientData, len(returns), len(symbols))
		}
		alloc, err := fn(ctx, returns, params)
		if err != nil {
			return nil, err
		}
		if alloc == nil {
			return nil, fmt.Errorf("%w: strategy returned no allocation", domain.ErrInvalidWeights)
		}
		weights, err := domain.NormalizeWeights(alloc.Weights, len(returns))
		if err != nil {
			return nil, err
		}

		prices := PricePaths(symbols, returns, start)
		result, err := engine.RunWithTargets(ctx, prices, nil, domain.WeightMap(symbols, weights))
		if err != nil {
			return nil, err
		}
		return &ScenarioOutcome{
			Returns: result.Stats.Returns,
			Weights: weights,
			Metadata: map[string]interface{}{
				"total_costs": result.Stats.TotalCosts,
				"trades":      result.Stats.TradeCount,
			},
		}, nil
	}
}

// PricePaths compounds [asset][period] returns into price series starting
// at 100 on consecutive trading days from start.
func PricePaths(symbols []string, returns [][]float64, start time.Time) domain.PriceData {
	n := periods(returns)
	days := domain.TradingDays(start, n+1)
	out := make(domain.PriceData, len(symbols))
	for i, symbol := range symbols {
		index := formulas.PriceIndex(returns[i][:n])
		series := make([]domain.PricePoint, len(index))
		for t, v := range index {
			series[t] = domain.PricePoint{Date: days[t], Price: 100 * v}
		}
		out[symbol] = series
	}
	return out
}

// generator produces one alternate history per call.
type generator interface {
	generate(rng *rand.Rand, length int) [][]float64
}

type bootstrapGenerator struct {
	returns [][]float64
	sampler *BlockBootstrapSampler
}

func (g *bootstrapGenerator) generate(rng *rand.Rand, length int) [][]float64 {
	return g.sampler.SampleMatrix(rng, g.returns, length)
}

type shuffleGenerator struct {
	returns [][]float64
}

func (g *shuffleGenerator) generate(rng *rand.Rand, _ int) [][]float64 {
	return ShuffleMatrix(rng, g.returns)
}

// normalGenerator draws from a multivariate normal fit to history, or from
// independent normals when the covariance is not positive definite.
type normalGenerator struct {
	mu    []float64
	sigma *mat.SymDense
	stds  []float64
	joint bool
}

func newNormalGenerator(returns [][]float64) (*normalGenerator, error) {
	cov, err := formulas.CovarianceMatrix(returns)
	if err != nil {
		return nil, err
	}
	n := len(returns)
	g := &normalGenerator{
		mu:    make([]float64, n),
		sigma: mat.NewSymDense(n, nil),
		stds:  make([]float64, n),
	}
	for i := 0; i < n; i++ {
		g.mu[i] = formulas.Mean(returns[i])
		g.stds[i] = math.Sqrt(math.Max(cov[i][i], 0))
		for j := i; j < n; j++ {
			g.sigma.SetSym(i, j, cov[i][j])
		}
	}

	var chol mat.Cholesky
	g.joint = chol.Factorize(g.sigma)
	return g, nil
}

func (g *normalGenerator) generate(rng *rand.Rand, length int) [][]float64 {
	n := len(g.mu)
	out := make([][]float64, n)
	for i := range out {
		out[i] = make([]float64, length)
	}

	src := rngSource{rng}
	if g.joint {
		if dist, ok := distmv.NewNormal(g.mu, g.sigma, src); ok {
			draw := make([]float64, n)
			for t := 0; t < length; t++ {
				dist.Rand(draw)
				for i := range out {
					out[i][t] = draw[i]
				}
			}
			return out
		}
	}

	for i := range out {
		if g.stds[i] == 0 {
			for t := range out[i] {
				out[i][t] = g.mu[i]
			}
			continue
		}
		dist := distuv.Normal{Mu: g.mu[i], Sigma: g.stds[i], Src: src}
		for t := range out[i] {
			out[i][t] = dist.Rand()
		}
	}
	return out
}
