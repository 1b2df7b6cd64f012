// Package backtesting replays price history through a portfolio, trading
// toward target weights under a rebalancing policy and a cost model.
package backtesting

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/aristath/quantlab/internal/domain"
	"github.com/aristath/quantlab/internal/modules/portfolio"
	"github.com/aristath/quantlab/internal/modules/rebalancing"
	"github.com/aristath/quantlab/internal/modules/trading"
	"github.com/rs/zerolog"
)

// Config configures an Engine.
type Config struct {
	InitialCash   float64                  `json:"initial_cash"`
	TargetWeights map[string]float64       `json:"target_weights,omitempty"`
	Frequency     rebalancing.Frequency    `json:"frequency"`
	Threshold     float64                  `json:"threshold"`
	WeightPolicy  rebalancing.WeightPolicy `json:"weight_policy"`
	Costs         trading.CostConfig       `json:"costs"`
	RiskFreeRate  float64                  `json:"risk_free_rate"`
	// DefaultDailyVolume is the average daily traded value assumed when a
	// price point carries no volume. Zero disables market impact for those dates.
	DefaultDailyVolume float64 `json:"default_daily_volume"`
}

// DefaultConfig returns a monthly, 5% drift, equal-weight configuration.
func DefaultConfig() Config {
	return Config{
		InitialCash:  100000,
		Frequency:    rebalancing.FrequencyMonthly,
		Threshold:    0.05,
		WeightPolicy: rebalancing.WeightPolicyRenormalize,
		Costs:        trading.DefaultCostConfig(),
		RiskFreeRate: 0.02,
	}
}

// Engine runs backtests. It holds no per-run state and is safe for concurrent use.
type Engine struct {
	cfg   Config
	costs *trading.CostModel
	log   zerolog.Logger
}

// NewEngine validates cfg and creates an engine.
func NewEngine(cfg Config, log zerolog.Logger) (*Engine, error) {
	if cfg.InitialCash <= 0 || math.IsNaN(cfg.InitialCash) {
		return nil, domain.ValidationErrors{{Field: "initial_cash", Message: "must be > 0"}}
	}
	if cfg.Frequency == "" {
		cfg.Frequency = rebalancing.FrequencyMonthly
	}
	if cfg.Frequency.Days() == 0 {
		return nil, domain.ValidationErrors{{Field: "frequency", Message: fmt.Sprintf("unknown frequency %q", cfg.Frequency)}}
	}

	costs, err := trading.NewCostModel(cfg.Costs)
	if err != nil {
		return nil, fmt.Errorf("cost model: %w", err)
	}

	return &Engine{
		cfg:   cfg,
		costs: costs,
		log:   log.With().Str("component", "backtesting").Logger(),
	}, nil
}

// Config returns the engine configuration.
func (e *Engine) Config() Config {
	return e.cfg
}

// Result is the report of one backtest.
type Result struct {
	Stats          *portfolio.PerformanceStats  `json:"stats"`
	Benchmark      *BenchmarkStats              `json:"benchmark,omitempty"`
	Relative       *RelativeMetrics             `json:"relative,omitempty"`
	Transactions   []portfolio.Transaction      `json:"transactions"`
	History        []portfolio.Snapshot         `json:"history,omitempty"`
	FinalWeights   map[string]float64           `json:"final_weights"`
	TargetWeights  map[string]float64           `json:"target_weights"`
	Validation     rebalancing.ValidationResult `json:"validation"`
	RebalanceCount int                          `json:"rebalance_count"`
	RejectedTrades map[string]int               `json:"rejected_trades"`
	StartDate      time.Time                    `json:"start_date"`
	EndDate        time.Time                    `json:"end_date"`
}

// Run backtests the configured target weights, or equal weights across the
// priced symbols when none are configured.
func (e *Engine) Run(ctx context.Context, prices domain.PriceData, benchmark []domain.PricePoint) (*Result, error) {
	return e.RunWithTargets(ctx, prices, benchmark, e.cfg.TargetWeights)
}

// RunWithTargets backtests the given target weights.
func (e *Engine) RunWithTargets(ctx context.Context, prices domain.PriceData, benchmark []domain.PricePoint, targets map[string]float64) (*Result, error) {
	dates := prices.Dates()
	if len(dates) == 0 {
		return nil, domain.ErrNoPriceData
	}
	symbols := prices.Symbols()

	if len(targets) == 0 {
		targets = domain.WeightMap(symbols, domain.EqualWeights(len(symbols)))
	}

	strategy, validation, err := rebalancing.NewStrategy(rebalancing.Config{
		TargetWeights: targets,
		Frequency:     e.cfg.Frequency,
		Threshold:     e.cfg.Threshold,
		WeightPolicy:  e.cfg.WeightPolicy,
	})
	if err != nil {
		return nil, fmt.Errorf("rebalancing strategy: %w", err)
	}

	universe := symbols
	for _, s := range strategy.Symbols() {
		if _, ok := prices[s]; !ok {
			universe = append(universe, s)
		}
		if len(prices[s]) == 0 && strategy.Targets()[s] > 0 {
			validation.Warnings = append(validation.Warnings, fmt.Sprintf("target symbol %s has no price data and stays in cash", s))
		}
	}

	r := &run{
		engine:   e,
		strategy: strategy,
		state:    portfolio.NewState(e.cfg.InitialCash, universe),
		index:    prices.Index(),
		result: &Result{
			Validation:     validation,
			TargetWeights:  strategy.Targets(),
			RejectedTrades: make(map[string]int),
			StartDate:      dates[0],
			EndDate:        dates[len(dates)-1],
		},
	}

	for _, date := range dates {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if err := r.handle(Event{Type: EventMarketDataUpdate, Date: date}); err != nil {
			return nil, err
		}
		tradable := func(symbol string) bool {
			pt, ok := r.index[symbol][date]
			return ok && pt.Price > 0
		}
		if strategy.NeedsRebalancingTradable(r.state.Weights(), date, tradable) {
			if err := r.handle(Event{Type: EventRebalance, Date: date}); err != nil {
				return nil, err
			}
		}
	}

	if err := r.handle(Event{Type: EventPerformanceMeasurement, Date: dates[len(dates)-1]}); err != nil {
		return nil, err
	}

	if len(benchmark) > 0 {
		r.result.Benchmark, r.result.Relative = e.benchmarkMetrics(r.state, r.result.Stats, benchmark)
	}

	e.log.Debug().
		Int("dates", len(dates)).
		Int("rebalances", r.result.RebalanceCount).
		Int("trades", len(r.result.Transactions)).
		Float64("total_return", r.result.Stats.TotalReturn).
		Msg("Backtest completed")

	return r.result, nil
}

// run is the mutable state of one backtest.
type run struct {
	engine   *Engine
	strategy *rebalancing.Strategy
	state    *portfolio.State
	index    map[string]map[time.Time]domain.PricePoint
	result   *Result
}

func (r *run) handle(ev Event) error {
	switch ev.Type {
	case EventMarketDataUpdate:
		r.state.UpdatePrices(r.pricesOn(ev.Date), ev.Date)
		return nil

	case EventRebalance:
		r.rebalance(ev.Date)
		return nil

	case EventPerformanceMeasurement:
		stats, err := r.state.PerformanceStats(r.engine.cfg.RiskFreeRate)
		if err != nil {
			return fmt.Errorf("performance measurement: %w", err)
		}
		r.result.Stats = stats
		r.result.Transactions = r.state.Transactions()
		r.result.History = r.state.History()
		r.result.FinalWeights = r.state.Weights()
		return nil

	default:
		return fmt.Errorf("unknown event %v", ev.Type)
	}
}

func (r *run) pricesOn(date time.Time) map[string]float64 {
	out := make(map[string]float64, len(r.index))
	for symbol, series := range r.index {
		if pt, ok := series[date]; ok && pt.Price > 0 {
			out[symbol] = pt.Price
		}
	}
	return out
}

type order struct {
	symbol string
	target float64
	delta  float64
	point  domain.PricePoint
}

// rebalance trades every symbol priced on date toward its target value.
// Sells run before buys so their proceeds fund the buys.
func (r *run) rebalance(date time.Time) {
	targets := r.strategy.TargetValues(r.state.TotalValue())

	var sells, buys []order
	for _, symbol := range r.state.Symbols() {
		pt, ok := r.index[symbol][date]
		if !ok || pt.Price <= 0 {
			continue
		}
		pos, _ := r.state.Position(symbol)
		o := order{
			symbol: symbol,
			target: targets[symbol],
			delta:  targets[symbol] - pos.Shares*pt.Price,
			point:  pt,
		}
		if o.delta < 0 {
			sells = append(sells, o)
		} else {
			buys = append(buys, o)
		}
	}
	sort.Slice(sells, func(i, j int) bool { return sells[i].symbol < sells[j].symbol })
	sort.Slice(buys, func(i, j int) bool { return buys[i].symbol < buys[j].symbol })

	for _, o := range append(sells, buys...) {
		res := r.state.ExecuteTrade(o.symbol, o.target, o.point.Price, r.engine.costs, r.dailyVolume(o.point), date)
		if !res.Executed {
			r.result.RejectedTrades[res.Reason]++
			if res.Reason == domain.ReasonInsufficientFunds {
				r.engine.log.Debug().
					Str("symbol", o.symbol).
					Time("date", date).
					Float64("delta", o.delta).
					Msg("Trade not funded")
			}
		}
	}

	r.strategy.MarkRebalanced(date)
	r.result.RebalanceCount++
}

func (r *run) dailyVolume(pt domain.PricePoint) float64 {
	if pt.Volume > 0 {
		return pt.Volume * pt.Price
	}
	return r.engine.cfg.DefaultDailyVolume
}
