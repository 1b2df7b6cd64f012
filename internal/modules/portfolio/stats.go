package portfolio

import (
	"fmt"
	"time"

	"github.com/aristath/quantlab/internal/domain"
	"github.com/aristath/quantlab/pkg/formulas"
)

// PerformanceStats summarizes a run. Return-like fields are fractions;
// VaR and expected shortfall are daily quantiles where negative means loss.
type PerformanceStats struct {
	StartDate        time.Time `json:"start_date"`
	EndDate          time.Time `json:"end_date"`
	InitialValue     float64   `json:"initial_value"`
	FinalValue       float64   `json:"final_value"`
	TotalReturn      float64   `json:"total_return"`
	AnnualizedReturn float64   `json:"annualized_return"`
	Volatility       float64   `json:"volatility"`
	SharpeRatio      float64   `json:"sharpe_ratio"`
	SortinoRatio     float64   `json:"sortino_ratio"`
	CalmarRatio      float64   `json:"calmar_ratio"`

	MaxDrawdown        float64    `json:"max_drawdown"`
	DrawdownPeakDate   time.Time  `json:"drawdown_peak_date"`
	DrawdownTroughDate time.Time  `json:"drawdown_trough_date"`
	RecoveryDate       *time.Time `json:"recovery_date,omitempty"`
	// RecoveryDays counts calendar days from trough to recovery, -1 when the
	// peak was never regained.
	RecoveryDays int `json:"recovery_days"`

	VaR95             float64 `json:"var_95"`
	VaR99             float64 `json:"var_99"`
	ExpectedShortfall float64 `json:"expected_shortfall_95"`

	TotalCosts float64 `json:"total_costs"`
	CostDrag   float64 `json:"cost_drag"`
	TradeCount int     `json:"trade_count"`
	Periods    int     `json:"periods"`

	Returns []float64 `json:"returns"`
}

// PerformanceStats derives statistics from the valuation history. At least
// two snapshots are required.
func (s *State) PerformanceStats(riskFreeRate float64) (*PerformanceStats, error) {
	if len(s.history) < 2 {
		return nil, fmt.Errorf("%w: %d snapshots, need at least 2", domain.ErrInsufficientHistory, len(s.history))
	}

	values := make([]float64, len(s.history))
	for i, snap := range s.history {
		values[i] = snap.TotalValue
	}

	initial := s.initialCash
	if initial <= 0 {
		initial = values[0]
	}

	stats := ComputeStats(values, riskFreeRate)
	stats.StartDate = s.history[0].Date
	stats.EndDate = s.history[len(s.history)-1].Date
	stats.InitialValue = initial
	stats.FinalValue = values[len(values)-1]
	if initial > 0 {
		stats.TotalReturn = stats.FinalValue/initial - 1
	}

	dd := formulas.CalculateMaxDrawdown(values)
	stats.DrawdownPeakDate = s.history[dd.PeakIndex].Date
	stats.DrawdownTroughDate = s.history[dd.TroughIndex].Date
	stats.RecoveryDays = -1
	if dd.RecoveryIndex >= 0 {
		recovered := s.history[dd.RecoveryIndex].Date
		stats.RecoveryDate = &recovered
		stats.RecoveryDays = int(recovered.Sub(stats.DrawdownTroughDate).Hours() / 24)
	}

	stats.TotalCosts = s.TotalCosts()
	stats.TradeCount = len(s.transactions)
	if initial > 0 {
		stats.CostDrag = stats.TotalCosts / initial
	}

	return stats, nil
}

// ComputeStats derives the return and risk statistics of a value series.
// It fills every field that does not depend on dates or trades.
func ComputeStats(values []float64, riskFreeRate float64) *PerformanceStats {
	returns := make([]float64, 0, len(values))
	for i := 1; i < len(values); i++ {
		if values[i-1] <= 0 {
			returns = append(returns, 0)
			continue
		}
		returns = append(returns, values[i]/values[i-1]-1)
	}
	return StatsFromReturns(returns, riskFreeRate)
}

// StatsFromReturns derives return and risk statistics from a daily return series.
func StatsFromReturns(returns []float64, riskFreeRate float64) *PerformanceStats {
	stats := &PerformanceStats{
		Returns:      returns,
		Periods:      len(returns),
		RecoveryDays: -1,
	}
	if len(returns) == 0 {
		return stats
	}

	stats.TotalReturn = formulas.CumulativeReturn(returns)
	stats.AnnualizedReturn = formulas.CalculateAnnualReturn(returns)
	stats.Volatility = formulas.AnnualizedVolatility(returns)
	if stats.Volatility > 0 {
		stats.SharpeRatio = (stats.AnnualizedReturn - riskFreeRate) / stats.Volatility
	}
	stats.SortinoRatio = formulas.CalculateSortinoRatio(returns, riskFreeRate, 0, formulas.TradingDaysPerYear)
	stats.MaxDrawdown = formulas.MaxDrawdownFromReturns(returns)
	if stats.MaxDrawdown > 0 {
		stats.CalmarRatio = stats.AnnualizedReturn / stats.MaxDrawdown
	}
	stats.VaR95 = formulas.HistoricalVaR(returns, 0.95)
	stats.VaR99 = formulas.HistoricalVaR(returns, 0.99)
	stats.ExpectedShortfall = formulas.CalculateCVaR(returns, 0.95)
	return stats
}
