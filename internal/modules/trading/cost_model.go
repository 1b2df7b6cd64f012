// Package trading prices the friction of simulated trades.
package trading

import (
	"math"

	"github.com/aristath/quantlab/internal/domain"
)

// CostConfig configures a CostModel. Rates are in basis points of trade value.
type CostConfig struct {
	FixedCost               float64 `json:"fixed_cost"`
	VariableCostBps         float64 `json:"variable_cost_bps"`
	MarketImpactCoefficient float64 `json:"market_impact_coefficient"`
	MarketImpactExponent    float64 `json:"market_impact_exponent"`
	BidAskSpreadBps         float64 `json:"bid_ask_spread_bps"`
	MinTradeSize            float64 `json:"min_trade_size"`
}

// DefaultCostConfig returns the defaults used when a request omits cost settings.
func DefaultCostConfig() CostConfig {
	return CostConfig{
		FixedCost:               0,
		VariableCostBps:         5,
		MarketImpactCoefficient: 0.1,
		MarketImpactExponent:    0.5, // square-root law
		BidAskSpreadBps:         2,
		MinTradeSize:            100,
	}
}

// Validate checks every field and reports all violations at once.
func (c CostConfig) Validate() error {
	var errs domain.ValidationErrors
	check := func(field string, v float64) {
		if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			errs = append(errs, domain.ValidationError{Field: field, Message: "must be a finite value >= 0"})
		}
	}
	check("fixed_cost", c.FixedCost)
	check("variable_cost_bps", c.VariableCostBps)
	check("market_impact_coefficient", c.MarketImpactCoefficient)
	check("market_impact_exponent", c.MarketImpactExponent)
	check("bid_ask_spread_bps", c.BidAskSpreadBps)
	check("min_trade_size", c.MinTradeSize)

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// CostBreakdown itemizes the cost of one trade. Skipped trades cost nothing
// and must not be executed.
type CostBreakdown struct {
	Fixed        float64 `json:"fixed"`
	Variable     float64 `json:"variable"`
	MarketImpact float64 `json:"market_impact"`
	BidAskSpread float64 `json:"bid_ask_spread"`
	Total        float64 `json:"total"`
	Skipped      bool    `json:"skipped"`
}

// CostModel is immutable after construction and safe for concurrent use.
type CostModel struct {
	cfg CostConfig
}

// NewCostModel validates cfg and returns a model.
func NewCostModel(cfg CostConfig) (*CostModel, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &CostModel{cfg: cfg}, nil
}

// Config returns the model's configuration.
func (m *CostModel) Config() CostConfig {
	return m.cfg
}

// Cost prices a trade of tradeValue (signed; sells are negative) given the
// instrument's average daily traded value.
//
// Market impact is coef·|v|·(|v|/adv)^exp and is zero when adv is unknown.
// Every other component is linear in |v|.
func (m *CostModel) Cost(tradeValue, avgDailyVolume float64) CostBreakdown {
	v := math.Abs(tradeValue)
	if v < m.cfg.MinTradeSize || v == 0 {
		return CostBreakdown{Skipped: true}
	}

	b := CostBreakdown{
		Fixed:        m.cfg.FixedCost,
		Variable:     v * m.cfg.VariableCostBps / 10000,
		BidAskSpread: v * m.cfg.BidAskSpreadBps / 10000,
	}
	if avgDailyVolume > 0 {
		b.MarketImpact = m.cfg.MarketImpactCoefficient * v * math.Pow(v/avgDailyVolume, m.cfg.MarketImpactExponent)
	}
	b.Total = b.Fixed + b.Variable + b.MarketImpact + b.BidAskSpread
	return b
}

// BreakEvenTradeSize returns the smallest trade whose linear costs stay
// within maxCostRatio of its value, ignoring market impact:
// (fixed + v·rate)/v = maxCostRatio solves to v = fixed/(maxCostRatio - rate).
// Returns +Inf when the linear rate alone exceeds maxCostRatio.
func (m *CostModel) BreakEvenTradeSize(maxCostRatio float64) float64 {
	rate := (m.cfg.VariableCostBps + m.cfg.BidAskSpreadBps) / 10000
	denominator := maxCostRatio - rate
	if denominator <= 0 {
		return math.Inf(1)
	}
	return math.Max(m.cfg.FixedCost/denominator, m.cfg.MinTradeSize)
}
