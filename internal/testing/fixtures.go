package testing

import (
	"math"
	"math/rand/v2"
	"time"

	"github.com/aristath/quantlab/internal/domain"
)

// FixtureStart is the first date of every generated series.
var FixtureStart = time.Date(2022, 1, 3, 0, 0, 0, 0, time.UTC)

// TradingDays returns n consecutive weekdays starting at start (or the next weekday).
func TradingDays(start time.Time, n int) []time.Time {
	return domain.TradingDays(start, n)
}

// NewFlatPriceFixtures returns constant prices for every symbol over n trading days.
func NewFlatPriceFixtures(prices map[string]float64, n int) domain.PriceData {
	days := TradingDays(FixtureStart, n)
	out := make(domain.PriceData, len(prices))
	for symbol, price := range prices {
		series := make([]domain.PricePoint, n)
		for i, d := range days {
			series[i] = domain.PricePoint{Date: d, Price: price}
		}
		out[symbol] = series
	}
	return out
}

// NewTrendPriceFixtures compounds a constant daily return per symbol from a price of 100.
func NewTrendPriceFixtures(dailyReturns map[string]float64, n int) domain.PriceData {
	days := TradingDays(FixtureStart, n)
	out := make(domain.PriceData, len(dailyReturns))
	for symbol, r := range dailyReturns {
		series := make([]domain.PricePoint, n)
		for i, d := range days {
			series[i] = domain.PricePoint{Date: d, Price: 100 * math.Pow(1+r, float64(i))}
		}
		out[symbol] = series
	}
	return out
}

// RandomWalkSpec parameterizes one symbol of NewRandomWalkFixtures.
type RandomWalkSpec struct {
	Symbol string
	Drift  float64 // mean daily return
	Vol    float64 // daily standard deviation
	Volume float64 // shares traded per day, 0 for none
}

// NewRandomWalkFixtures generates reproducible geometric random walks from a
// price of 100. A shared market factor correlates the symbols.
func NewRandomWalkFixtures(seed uint64, specs []RandomWalkSpec, n int) domain.PriceData {
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	days := TradingDays(FixtureStart, n)

	out := make(domain.PriceData, len(specs))
	prices := make([]float64, len(specs))
	for i, spec := range specs {
		prices[i] = 100
		out[spec.Symbol] = make([]domain.PricePoint, 0, n)
	}

	for t, d := range days {
		market := rng.NormFloat64()
		for i, spec := range specs {
			if t > 0 {
				shock := 0.5*market + math.Sqrt(0.75)*rng.NormFloat64()
				prices[i] *= math.Max(0.01, 1+spec.Drift+spec.Vol*shock)
			}
			out[spec.Symbol] = append(out[spec.Symbol], domain.PricePoint{
				Date:   d,
				Price:  prices[i],
				Volume: spec.Volume,
			})
		}
	}
	return out
}

// NewDefaultUniverseFixtures returns four correlated random walks with
// distinct risk and return profiles over n trading days.
func NewDefaultUniverseFixtures(n int) domain.PriceData {
	return NewRandomWalkFixtures(42, []RandomWalkSpec{
		{Symbol: "BOND", Drift: 0.0002, Vol: 0.003, Volume: 2e6},
		{Symbol: "EQUITY", Drift: 0.0006, Vol: 0.012, Volume: 1e6},
		{Symbol: "GOLD", Drift: 0.0003, Vol: 0.009, Volume: 5e5},
		{Symbol: "TECH", Drift: 0.0008, Vol: 0.02, Volume: 8e5},
	}, n)
}

// NewBenchmarkFixture returns a single random-walk benchmark series.
func NewBenchmarkFixture(n int) []domain.PricePoint {
	data := NewRandomWalkFixtures(7, []RandomWalkSpec{{Symbol: "INDEX", Drift: 0.0004, Vol: 0.01}}, n)
	return data["INDEX"]
}
