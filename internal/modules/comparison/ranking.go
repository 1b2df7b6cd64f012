package comparison

import (
	"fmt"
	"sort"
)

// Composite score weights.
const (
	weightSharpe     = 0.30
	weightReturn     = 0.25
	weightDrawdown   = 0.20
	weightVolatility = 0.15
	weightRobustness = 0.10
)

// Rank scores the successful reports in place and returns them ordered by
// composite score, ties broken by name. Each metric is min-max normalized
// across the successful reports; drawdown and volatility are inverted so
// lower is better. A metric on which every report is equal scores 1.
func Rank(reports []StrategyReport) []RankEntry {
	var idx []int
	for i, r := range reports {
		if r.Success {
			idx = append(idx, i)
		}
	}
	if len(idx) == 0 {
		return []RankEntry{}
	}

	column := func(get func(StrategyReport) float64) []float64 {
		out := make([]float64, len(idx))
		for k, i := range idx {
			out[k] = get(reports[i])
		}
		return out
	}
	sharpe := normalize(column(func(r StrategyReport) float64 { return r.Risk.SharpeRatio }), false)
	ret := normalize(column(func(r StrategyReport) float64 { return r.Risk.TotalReturn }), false)
	dd := normalize(column(func(r StrategyReport) float64 { return r.Risk.MaxDrawdown }), true)
	vol := normalize(column(func(r StrategyReport) float64 { return r.Risk.Volatility }), true)
	rob := normalize(column(func(r StrategyReport) float64 { return r.Robustness }), false)

	ranking := make([]RankEntry, len(idx))
	for k, i := range idx {
		score := weightSharpe*sharpe[k] +
			weightReturn*ret[k] +
			weightDrawdown*dd[k] +
			weightVolatility*vol[k] +
			weightRobustness*rob[k]
		reports[i].Score = score
		ranking[k] = RankEntry{Name: reports[i].Name, Score: score}
	}

	sort.SliceStable(ranking, func(a, b int) bool {
		if ranking[a].Score != ranking[b].Score {
			return ranking[a].Score > ranking[b].Score
		}
		return ranking[a].Name < ranking[b].Name
	})

	byName := make(map[string]int, len(ranking))
	for pos := range ranking {
		ranking[pos].Rank = pos + 1
		byName[ranking[pos].Name] = pos + 1
	}
	for _, i := range idx {
		reports[i].Rank = byName[reports[i].Name]
	}
	return ranking
}

func normalize(values []float64, invert bool) []float64 {
	out := make([]float64, len(values))
	lo, hi := values[0], values[0]
	for _, v := range values[1:] {
		lo = min(lo, v)
		hi = max(hi, v)
	}
	for i, v := range values {
		switch {
		case hi == lo:
			out[i] = 1
		case invert:
			out[i] = (hi - v) / (hi - lo)
		default:
			out[i] = (v - lo) / (hi - lo)
		}
	}
	return out
}

// Insights names the standout strategies and summarizes the comparison.
type Insights struct {
	HighestReturn    string   `json:"highest_return,omitempty"`
	LowestRisk       string   `json:"lowest_risk,omitempty"`
	BestRiskAdjusted string   `json:"best_risk_adjusted,omitempty"`
	MostRobust       string   `json:"most_robust,omitempty"`
	Summary          []string `json:"summary"`
}

// BuildInsights derives insights from scored reports. Ties go to the
// alphabetically first name.
func BuildInsights(reports []StrategyReport, ranking []RankEntry) Insights {
	ins := Insights{Summary: []string{}}

	var ok []StrategyReport
	for _, r := range reports {
		if r.Success {
			ok = append(ok, r)
		}
	}
	if len(ok) == 0 {
		ins.Summary = append(ins.Summary, "No strategy completed the validation pipeline.")
		return ins
	}
	sort.SliceStable(ok, func(a, b int) bool { return ok[a].Name < ok[b].Name })

	pick := func(better func(a, b StrategyReport) bool) StrategyReport {
		best := ok[0]
		for _, r := range ok[1:] {
			if better(r, best) {
				best = r
			}
		}
		return best
	}
	highest := pick(func(a, b StrategyReport) bool { return a.Risk.TotalReturn > b.Risk.TotalReturn })
	lowest := pick(func(a, b StrategyReport) bool { return a.Risk.Volatility < b.Risk.Volatility })
	riskAdj := pick(func(a, b StrategyReport) bool { return a.Risk.SharpeRatio > b.Risk.SharpeRatio })
	robust := pick(func(a, b StrategyReport) bool { return a.Robustness > b.Robustness })

	ins.HighestReturn = highest.Name
	ins.LowestRisk = lowest.Name
	ins.BestRiskAdjusted = riskAdj.Name
	ins.MostRobust = robust.Name

	if len(ranking) > 0 {
		ins.Summary = append(ins.Summary, fmt.Sprintf("%s ranks first with a composite score of %.3f.", ranking[0].Name, ranking[0].Score))
	}
	ins.Summary = append(ins.Summary,
		fmt.Sprintf("%s has the highest total return (%.2f%%).", highest.Name, highest.Risk.TotalReturn*100),
		fmt.Sprintf("%s has the lowest volatility (%.2f%%).", lowest.Name, lowest.Risk.Volatility*100),
		fmt.Sprintf("%s has the best risk-adjusted return (Sharpe %.2f).", riskAdj.Name, riskAdj.Risk.SharpeRatio),
		fmt.Sprintf("%s is the most robust out of sample (%.2f).", robust.Name, robust.Robustness),
	)
	if highest.Name != riskAdj.Name {
		ins.Summary = append(ins.Summary, fmt.Sprintf(
			"The highest-return strategy (%s) is not the best risk-adjusted one (%s).", highest.Name, riskAdj.Name))
	}
	for _, r := range ok {
		if r.MonteCarlo != nil && !r.MonteCarlo.IsRobust {
			ins.Summary = append(ins.Summary, fmt.Sprintf(
				"%s is not robust under resampling (score %.2f).", r.Name, r.MonteCarlo.RobustnessScore))
		}
	}
	return ins
}
