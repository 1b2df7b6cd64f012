// Package portfolio owns the cash, position and valuation bookkeeping of a
// single simulation run and derives its performance statistics.
package portfolio

import (
	"math"
	"sort"
	"time"

	"github.com/aristath/quantlab/internal/domain"
	"github.com/aristath/quantlab/internal/modules/trading"
)

// shareEpsilon is the residual share count treated as a closed position.
const shareEpsilon = 1e-9

// CostCalculator prices a trade. *trading.CostModel satisfies it.
type CostCalculator interface {
	Cost(tradeValue, avgDailyVolume float64) trading.CostBreakdown
}

// Position is one holding. MarketValue and Weight are recomputed on every
// valuation and never stored stale.
type Position struct {
	Symbol       string  `json:"symbol"`
	Shares       float64 `json:"shares"`
	AverageCost  float64 `json:"average_cost"`
	CurrentPrice float64 `json:"current_price"`
	MarketValue  float64 `json:"market_value"`
	Weight       float64 `json:"weight"`
}

// Snapshot is the immutable valuation recorded for one simulated date.
type Snapshot struct {
	Date       time.Time           `json:"date"`
	TotalValue float64             `json:"total_value"`
	Cash       float64             `json:"cash"`
	CashWeight float64             `json:"cash_weight"`
	Positions  map[string]Position `json:"positions"`
}

// Transaction records one executed trade.
type Transaction struct {
	Date       time.Time             `json:"date"`
	Symbol     string                `json:"symbol"`
	Shares     float64               `json:"shares"`
	Price      float64               `json:"price"`
	TradeValue float64               `json:"trade_value"`
	Costs      trading.CostBreakdown `json:"costs"`
	CashAfter  float64               `json:"cash_after"`
}

// TradeResult reports the outcome of ExecuteTrade. Reason is set only when
// the trade was not executed.
type TradeResult struct {
	Executed bool                  `json:"executed"`
	Shares   float64               `json:"shares"`
	Value    float64               `json:"value"`
	Costs    trading.CostBreakdown `json:"costs"`
	Partial  bool                  `json:"partial"`
	Reason   string                `json:"reason,omitempty"`
}

// State is the portfolio of one backtest run. It is not safe for concurrent
// use; every run owns its own State.
type State struct {
	initialCash  float64
	cash         float64
	totalValue   float64
	positions    map[string]*Position
	symbols      []string
	history      []Snapshot
	transactions []Transaction
}

// NewState creates a portfolio holding only cash, over a fixed symbol universe.
func NewState(initialCash float64, symbols []string) *State {
	sorted := make([]string, len(symbols))
	copy(sorted, symbols)
	sort.Strings(sorted)

	positions := make(map[string]*Position, len(sorted))
	for _, s := range sorted {
		positions[s] = &Position{Symbol: s}
	}

	return &State{
		initialCash: initialCash,
		cash:        initialCash,
		totalValue:  initialCash,
		positions:   positions,
		symbols:     sorted,
	}
}

// InitialCash returns the starting endowment.
func (s *State) InitialCash() float64 { return s.initialCash }

// Cash returns the uninvested balance.
func (s *State) Cash() float64 { return s.cash }

// TotalValue returns cash plus the market value of every position.
func (s *State) TotalValue() float64 { return s.totalValue }

// Symbols returns the universe in sorted order.
func (s *State) Symbols() []string { return s.symbols }

// Position returns a copy of the holding for symbol.
func (s *State) Position(symbol string) (Position, bool) {
	p, ok := s.positions[symbol]
	if !ok {
		return Position{}, false
	}
	return *p, true
}

// Positions returns copies of every holding keyed by symbol.
func (s *State) Positions() map[string]Position {
	out := make(map[string]Position, len(s.positions))
	for sym, p := range s.positions {
		out[sym] = *p
	}
	return out
}

// Weights returns the current weight of every symbol.
func (s *State) Weights() map[string]float64 {
	out := make(map[string]float64, len(s.positions))
	for sym, p := range s.positions {
		out[sym] = p.Weight
	}
	return out
}

// CashWeight returns cash as a fraction of total value.
func (s *State) CashWeight() float64 {
	if s.totalValue <= 0 {
		return 0
	}
	return s.cash / s.totalValue
}

// History returns the valuation snapshots, one per UpdatePrices call.
func (s *State) History() []Snapshot { return s.history }

// Transactions returns the executed trades in order.
func (s *State) Transactions() []Transaction { return s.transactions }

// TotalCosts sums the costs of every executed trade.
func (s *State) TotalCosts() float64 {
	var total float64
	for _, tx := range s.transactions {
		total += tx.Costs.Total
	}
	return total
}

// UpdatePrices revalues every position and appends one snapshot for date.
// Symbols missing from prices keep their last price.
func (s *State) UpdatePrices(prices map[string]float64, date time.Time) {
	for sym, p := range s.positions {
		if price, ok := prices[sym]; ok && price > 0 {
			p.CurrentPrice = price
		}
	}
	s.revalue()
	s.history = append(s.history, s.snapshot(date))
}

// ExecuteTrade moves the position in symbol toward targetValue at price.
//
// A buy that cannot be funded is shrunk to the largest affordable size and
// retried once; a buy with no affordable size, or a sell whose proceeds do
// not cover its own cost, is rejected with insufficient_funds. Cash never
// goes negative.
func (s *State) ExecuteTrade(symbol string, targetValue, price float64, costs CostCalculator, avgDailyVolume float64, date time.Time) TradeResult {
	pos, ok := s.positions[symbol]
	if !ok {
		return TradeResult{Reason: domain.ReasonUnknownSymbol}
	}
	if price <= 0 || math.IsNaN(price) {
		return TradeResult{Reason: domain.ReasonNoPrice}
	}

	currentValue := pos.Shares * price
	return s.execute(pos, targetValue-currentValue, price, costs, avgDailyVolume, date, true)
}

func (s *State) execute(pos *Position, tradeValue, price float64, costs CostCalculator, adv float64, date time.Time, allowShrink bool) TradeResult {
	breakdown := costs.Cost(tradeValue, adv)
	if breakdown.Skipped {
		return TradeResult{Reason: domain.ReasonBelowMinTradeSize}
	}

	if tradeValue > 0 {
		if tradeValue+breakdown.Total > s.cash {
			affordable := s.cash - breakdown.Total
			if !allowShrink || affordable <= 0 {
				return TradeResult{Reason: domain.ReasonInsufficientFunds}
			}
			result := s.execute(pos, affordable, price, costs, adv, date, false)
			result.Partial = result.Executed
			return result
		}
	} else if -tradeValue < breakdown.Total {
		return TradeResult{Reason: domain.ReasonInsufficientFunds}
	}

	shares := tradeValue / price
	s.applyFill(pos, shares, price)

	s.cash -= tradeValue + breakdown.Total
	if s.cash < 0 {
		// rounding residue from the shrunk retry
		s.cash = 0
	}
	pos.CurrentPrice = price
	s.revalue()

	s.transactions = append(s.transactions, Transaction{
		Date:       date,
		Symbol:     pos.Symbol,
		Shares:     shares,
		Price:      price,
		TradeValue: tradeValue,
		Costs:      breakdown,
		CashAfter:  s.cash,
	})

	return TradeResult{
		Executed: true,
		Shares:   shares,
		Value:    tradeValue,
		Costs:    breakdown,
	}
}

// applyFill updates share count and the long-side weighted average cost.
func (s *State) applyFill(pos *Position, shares, price float64) {
	newShares := pos.Shares + shares

	switch {
	case math.Abs(newShares) < shareEpsilon:
		newShares = 0
		pos.AverageCost = 0
	case shares > 0 && pos.Shares > 0:
		pos.AverageCost = (pos.Shares*pos.AverageCost + shares*price) / newShares
	case newShares > 0 && pos.Shares <= 0:
		pos.AverageCost = price
	case newShares < 0:
		pos.AverageCost = 0
	}

	pos.Shares = newShares
}

func (s *State) revalue() {
	// summed in symbol order so identical inputs give bit-identical totals
	total := s.cash
	for _, sym := range s.symbols {
		p := s.positions[sym]
		p.MarketValue = p.Shares * p.CurrentPrice
		total += p.MarketValue
	}
	s.totalValue = total

	for _, sym := range s.symbols {
		p := s.positions[sym]
		if total > 0 {
			p.Weight = p.MarketValue / total
		} else {
			p.Weight = 0
		}
	}
}

func (s *State) snapshot(date time.Time) Snapshot {
	return Snapshot{
		Date:       date,
		TotalValue: s.totalValue,
		Cash:       s.cash,
		CashWeight: s.CashWeight(),
		Positions:  s.Positions(),
	}
}
