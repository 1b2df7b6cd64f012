package portfolio

import (
	"math/rand/v2"
	"testing"
	"time"

	"github.com/aristath/quantlab/internal/domain"
	"github.com/aristath/quantlab/internal/modules/trading"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func day(d int) time.Time {
	return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, d)
}

func costModel(t *testing.T, cfg trading.CostConfig) *trading.CostModel {
	t.Helper()
	m, err := trading.NewCostModel(cfg)
	require.NoError(t, err)
	return m
}

func linearCosts(t *testing.T) *trading.CostModel {
	return costModel(t, trading.CostConfig{VariableCostBps: 10, MinTradeSize: 100})
}

func assertValuationInvariants(t *testing.T, s *State) {
	t.Helper()
	sumMV := 0.0
	sumWeights := 0.0
	for _, p := range s.Positions() {
		assert.InDelta(t, p.Shares*p.CurrentPrice, p.MarketValue, 1e-6)
		sumMV += p.MarketValue
		sumWeights += p.Weight
	}
	assert.InDelta(t, s.Cash()+sumMV, s.TotalValue(), 1e-6)
	if s.TotalValue() > 0 {
		assert.InDelta(t, 1.0, sumWeights+s.CashWeight(), 1e-9)
	}
	assert.GreaterOrEqual(t, s.Cash(), 0.0)
}

func TestState_BuyUpdatesCashSharesAndCost(t *testing.T) {
	s := NewState(10000, []string{"AAA", "BBB"})
	s.UpdatePrices(map[string]float64{"AAA": 50, "BBB": 20}, day(0))

	res := s.ExecuteTrade("AAA", 5000, 50, linearCosts(t), 0, day(0))

	require.True(t, res.Executed)
	assert.InDelta(t, 100.0, res.Shares, 1e-9)
	assert.InDelta(t, 5.0, res.Costs.Total, 1e-9)
	assert.InDelta(t, 4995.0, s.Cash(), 1e-9)
	assert.InDelta(t, 9995.0, s.TotalValue(), 1e-9)

	pos, ok := s.Position("AAA")
	require.True(t, ok)
	assert.InDelta(t, 50.0, pos.AverageCost, 1e-9)
	assert.InDelta(t, 5000.0/9995.0, pos.Weight, 1e-12)
	require.Len(t, s.Transactions(), 1)
	assert.InDelta(t, 4995.0, s.Transactions()[0].CashAfter, 1e-9)
	assertValuationInvariants(t, s)
}

func TestState_WeightedAverageCost(t *testing.T) {
	s := NewState(100000, []string{"AAA"})
	costs := costModel(t, trading.CostConfig{MinTradeSize: 1})

	s.ExecuteTrade("AAA", 1000, 10, costs, 0, day(0)) // 100 @ 10
	s.ExecuteTrade("AAA", 3000, 20, costs, 0, day(1)) // position worth 2000, buy 50 @ 20
	pos, _ := s.Position("AAA")
	assert.InDelta(t, 150.0, pos.Shares, 1e-9)
	assert.InDelta(t, (100*10.0+50*20.0)/150, pos.AverageCost, 1e-9)

	s.ExecuteTrade("AAA", 1000, 20, costs, 0, day(2)) // sell 100, cost basis unchanged
	pos, _ = s.Position("AAA")
	assert.InDelta(t, 50.0, pos.Shares, 1e-9)
	assert.InDelta(t, (100*10.0+50*20.0)/150, pos.AverageCost, 1e-9)

	s.ExecuteTrade("AAA", 0, 20, costs, 0, day(3))
	pos, _ = s.Position("AAA")
	assert.Equal(t, 0.0, pos.Shares)
	assert.Equal(t, 0.0, pos.AverageCost)
}

func TestState_UnaffordableBuyIsShrunkOnce(t *testing.T) {
	s := NewState(1000, []string{"AAA"})

	res := s.ExecuteTrade("AAA", 5000, 10, linearCosts(t), 0, day(0))

	require.True(t, res.Executed)
	assert.True(t, res.Partial)
	// shrunk to cash - cost(5000) = 995
	assert.InDelta(t, 995.0, res.Value, 1e-9)
	assert.InDelta(t, 99.5, res.Shares, 1e-9)
	assert.InDelta(t, 1000-995-0.995, s.Cash(), 1e-9)
	assertValuationInvariants(t, s)
}

func TestState_NoAffordableSizeIsInsufficientFunds(t *testing.T) {
	s := NewState(100, []string{"AAA"})
	costs := costModel(t, trading.CostConfig{FixedCost: 150, MinTradeSize: 10})

	res := s.ExecuteTrade("AAA", 5000, 10, costs, 0, day(0))

	assert.False(t, res.Executed)
	assert.Equal(t, domain.ReasonInsufficientFunds, res.Reason)
	assert.Equal(t, 100.0, s.Cash())
	assert.Empty(t, s.Transactions())
}

func TestState_ShrunkTradeBelowMinimumIsSkipped(t *testing.T) {
	s := NewState(150, []string{"AAA"})
	costs := costModel(t, trading.CostConfig{VariableCostBps: 10, MinTradeSize: 200})

	res := s.ExecuteTrade("AAA", 5000, 10, costs, 0, day(0))

	assert.False(t, res.Executed)
	assert.Equal(t, domain.ReasonBelowMinTradeSize, res.Reason)
	assert.Equal(t, 150.0, s.Cash())
}

func TestState_SellThatCannotCoverItsCost(t *testing.T) {
	s := NewState(10000, []string{"AAA"})
	cheap := costModel(t, trading.CostConfig{MinTradeSize: 1})
	expensive := costModel(t, trading.CostConfig{FixedCost: 500, MinTradeSize: 1})

	require.True(t, s.ExecuteTrade("AAA", 1000, 10, cheap, 0, day(0)).Executed)

	res := s.ExecuteTrade("AAA", 800, 10, expensive, 0, day(1))
	assert.False(t, res.Executed)
	assert.Equal(t, domain.ReasonInsufficientFunds, res.Reason)
}

func TestState_RejectsUnknownSymbolAndMissingPrice(t *testing.T) {
	s := NewState(1000, []string{"AAA"})

	assert.Equal(t, domain.ReasonUnknownSymbol, s.ExecuteTrade("ZZZ", 500, 10, linearCosts(t), 0, day(0)).Reason)
	assert.Equal(t, domain.ReasonNoPrice, s.ExecuteTrade("AAA", 500, 0, linearCosts(t), 0, day(0)).Reason)
}

func TestState_SmallTradeIsSkipped(t *testing.T) {
	s := NewState(1000, []string{"AAA"})

	res := s.ExecuteTrade("AAA", 50, 10, linearCosts(t), 0, day(0))
	assert.False(t, res.Executed)
	assert.Equal(t, domain.ReasonBelowMinTradeSize, res.Reason)
}

func TestState_InvariantsHoldOverRandomTrading(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	symbols := []string{"AAA", "BBB", "CCC"}
	s := NewState(100000, symbols)
	costs := costModel(t, trading.DefaultCostConfig())

	prices := map[string]float64{"AAA": 100, "BBB": 50, "CCC": 25}
	for d := 0; d < 200; d++ {
		for sym := range prices {
			prices[sym] *= 1 + (rng.Float64()-0.5)*0.04
		}
		s.UpdatePrices(prices, day(d))
		assertValuationInvariants(t, s)

		sym := symbols[rng.IntN(len(symbols))]
		target := rng.Float64() * s.TotalValue() * 0.8
		s.ExecuteTrade(sym, target, prices[sym], costs, 5e6, day(d))
		assertValuationInvariants(t, s)
	}
	assert.Len(t, s.History(), 200)
}

func TestState_UpdatePricesKeepsLastPriceForMissingSymbols(t *testing.T) {
	s := NewState(10000, []string{"AAA"})
	costs := costModel(t, trading.CostConfig{MinTradeSize: 1})
	s.ExecuteTrade("AAA", 5000, 10, costs, 0, day(0))

	s.UpdatePrices(map[string]float64{}, day(1))

	pos, _ := s.Position("AAA")
	assert.Equal(t, 10.0, pos.CurrentPrice)
	assert.InDelta(t, 10000.0, s.TotalValue(), 1e-9)
}

func TestState_SnapshotsAreImmutable(t *testing.T) {
	s := NewState(10000, []string{"AAA"})
	costs := costModel(t, trading.CostConfig{MinTradeSize: 1})
	s.UpdatePrices(map[string]float64{"AAA": 10}, day(0))

	s.ExecuteTrade("AAA", 5000, 10, costs, 0, day(0))

	first := s.History()[0]
	assert.Equal(t, 0.0, first.Positions["AAA"].Shares)
	assert.Equal(t, 10000.0, first.Cash)
}
