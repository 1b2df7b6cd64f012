package backtesting

import (
	"math"
	"time"

	"github.com/aristath/quantlab/internal/domain"
	"github.com/aristath/quantlab/internal/modules/portfolio"
	"github.com/aristath/quantlab/pkg/formulas"
)

// BenchmarkStats describes a single benchmark price series.
type BenchmarkStats struct {
	TotalReturn      float64 `json:"total_return"`
	AnnualizedReturn float64 `json:"annualized_return"`
	Volatility       float64 `json:"volatility"`
	SharpeRatio      float64 `json:"sharpe_ratio"`
	MaxDrawdown      float64 `json:"max_drawdown"`
}

// RelativeMetrics compares the portfolio with the benchmark on the dates both share.
type RelativeMetrics struct {
	ExcessReturn     float64 `json:"excess_return"`
	TrackingError    float64 `json:"tracking_error"`
	InformationRatio float64 `json:"information_ratio"`
	Beta             float64 `json:"beta"`
	Alpha            float64 `json:"alpha"`
	CommonPeriods    int     `json:"common_periods"`
}

func (e *Engine) benchmarkMetrics(state *portfolio.State, stats *portfolio.PerformanceStats, benchmark []domain.PricePoint) (*BenchmarkStats, *RelativeMetrics) {
	series := domain.SortedSeries(benchmark)
	prices := make([]float64, 0, len(series))
	for _, pt := range series {
		prices = append(prices, pt.Price)
	}
	if len(prices) < 2 || prices[0] <= 0 {
		return nil, nil
	}

	bench := portfolio.ComputeStats(prices, e.cfg.RiskFreeRate)
	bs := &BenchmarkStats{
		TotalReturn:      prices[len(prices)-1]/prices[0] - 1,
		AnnualizedReturn: bench.AnnualizedReturn,
		Volatility:       bench.Volatility,
		SharpeRatio:      bench.SharpeRatio,
		MaxDrawdown:      bench.MaxDrawdown,
	}

	portfolioReturns, benchReturns := alignedReturns(state.History(), series)
	rel := &RelativeMetrics{
		ExcessReturn:  stats.TotalReturn - bs.TotalReturn,
		CommonPeriods: len(portfolioReturns),
	}
	if len(portfolioReturns) < 2 {
		return bs, rel
	}

	diff := make([]float64, len(portfolioReturns))
	for i := range diff {
		diff[i] = portfolioReturns[i] - benchReturns[i]
	}

	rel.TrackingError = formulas.AnnualizedVolatility(diff)
	if rel.TrackingError > 0 {
		rel.InformationRatio = formulas.Mean(diff) * formulas.TradingDaysPerYear / rel.TrackingError
	}
	if v := formulas.Variance(benchReturns); v > 0 {
		rel.Beta = formulas.Covariance(portfolioReturns, benchReturns) / v
	}
	rel.Alpha = stats.AnnualizedReturn - rel.Beta*bs.AnnualizedReturn
	if math.IsNaN(rel.Alpha) {
		rel.Alpha = 0
	}

	return bs, rel
}

// alignedReturns builds portfolio and benchmark return series over the
// consecutive dates present in both.
func alignedReturns(history []portfolio.Snapshot, benchmark []domain.PricePoint) ([]float64, []float64) {
	benchByDate := make(map[time.Time]float64, len(benchmark))
	for _, pt := range benchmark {
		benchByDate[domain.DateOnly(pt.Date)] = pt.Price
	}

	var pv, bv []float64
	for _, snap := range history {
		if price, ok := benchByDate[domain.DateOnly(snap.Date)]; ok && price > 0 {
			pv = append(pv, snap.TotalValue)
			bv = append(bv, price)
		}
	}

	pr := make([]float64, 0, len(pv))
	br := make([]float64, 0, len(bv))
	for i := 1; i < len(pv); i++ {
		if pv[i-1] <= 0 {
			continue
		}
		pr = append(pr, pv[i]/pv[i-1]-1)
		br = append(br, bv[i]/bv[i-1]-1)
	}
	return pr, br
}
