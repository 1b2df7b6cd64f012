// Package rebalancing decides, on each simulated date, whether a portfolio
// should trade back toward its target weights.
package rebalancing

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/aristath/quantlab/internal/domain"
)

// weightSumTolerance is how far target weights may sum from 1.
const weightSumTolerance = 1e-6

// Frequency is a rebalance cadence.
type Frequency string

const (
	FrequencyDaily     Frequency = "daily"
	FrequencyWeekly    Frequency = "weekly"
	FrequencyMonthly   Frequency = "monthly"
	FrequencyQuarterly Frequency = "quarterly"
)

// Days returns the calendar-day count of the cadence, 0 for unknown values.
func (f Frequency) Days() int {
	switch f {
	case FrequencyDaily:
		return 1
	case FrequencyWeekly:
		return 7
	case FrequencyMonthly:
		return 30
	case FrequencyQuarterly:
		return 90
	default:
		return 0
	}
}

// WeightPolicy controls how targets that do not sum to 1 are handled.
type WeightPolicy string

const (
	// WeightPolicyStrict rejects targets that do not sum to 1
	WeightPolicyStrict WeightPolicy = "strict"
	// WeightPolicyRenormalize scales targets to sum to 1
	WeightPolicyRenormalize WeightPolicy = "renormalize"
)

// Config configures a Strategy.
type Config struct {
	TargetWeights map[string]float64 `json:"target_weights"`
	Frequency     Frequency          `json:"frequency"`
	Threshold     float64            `json:"threshold"`
	WeightPolicy  WeightPolicy       `json:"weight_policy"`
}

// ValidationResult reports what NewStrategy did to the targets.
type ValidationResult struct {
	OriginalSum  float64  `json:"original_sum"`
	Renormalized bool     `json:"renormalized"`
	Warnings     []string `json:"warnings,omitempty"`
}

// Strategy holds target weights, cadence, drift threshold and the date of
// the last rebalance.
type Strategy struct {
	targets           map[string]float64
	frequency         Frequency
	threshold         float64
	lastRebalanceDate *time.Time
}

// NewStrategy validates cfg. Negative or non-finite targets, unknown
// frequencies and negative thresholds are always rejected; a weight sum
// away from 1 is rejected or renormalized according to WeightPolicy.
func NewStrategy(cfg Config) (*Strategy, ValidationResult, error) {
	var result ValidationResult
	var errs domain.ValidationErrors

	if len(cfg.TargetWeights) == 0 {
		errs = append(errs, domain.ValidationError{Field: "target_weights", Message: "must not be empty"})
	}
	if cfg.Frequency.Days() == 0 {
		errs = append(errs, domain.ValidationError{Field: "frequency", Message: fmt.Sprintf("unknown frequency %q", cfg.Frequency)})
	}
	if cfg.Threshold < 0 || math.IsNaN(cfg.Threshold) {
		errs = append(errs, domain.ValidationError{Field: "threshold", Message: "must be >= 0"})
	}

	var sum float64
	for _, symbol := range sortedKeys(cfg.TargetWeights) {
		w := cfg.TargetWeights[symbol]
		if w < 0 || math.IsNaN(w) || math.IsInf(w, 0) {
			errs = append(errs, domain.ValidationError{Field: "target_weights." + symbol, Message: "must be a finite value >= 0"})
			continue
		}
		sum += w
	}
	result.OriginalSum = sum

	policy := cfg.WeightPolicy
	if policy == "" {
		policy = WeightPolicyStrict
	}

	targets := make(map[string]float64, len(cfg.TargetWeights))
	for s, w := range cfg.TargetWeights {
		targets[s] = w
	}

	if len(errs) == 0 && math.Abs(sum-1) > weightSumTolerance {
		switch {
		case policy == WeightPolicyRenormalize && sum > 0:
			for s := range targets {
				targets[s] /= sum
			}
			result.Renormalized = true
			result.Warnings = append(result.Warnings, fmt.Sprintf("target weights summed to %.6f and were renormalized", sum))
		default:
			errs = append(errs, domain.ValidationError{Field: "target_weights", Message: fmt.Sprintf("must sum to 1, got %.6f", sum)})
		}
	}

	if len(errs) > 0 {
		return nil, result, errs
	}

	return &Strategy{
		targets:   targets,
		frequency: cfg.Frequency,
		threshold: cfg.Threshold,
	}, result, nil
}

// Targets returns a copy of the target weights.
func (s *Strategy) Targets() map[string]float64 {
	out := make(map[string]float64, len(s.targets))
	for k, v := range s.targets {
		out[k] = v
	}
	return out
}

// Symbols returns the target symbols in sorted order.
func (s *Strategy) Symbols() []string { return sortedKeys(s.targets) }

// Threshold returns the drift threshold.
func (s *Strategy) Threshold() float64 { return s.threshold }

// LastRebalanceDate returns the date of the last rebalance, nil before the first.
func (s *Strategy) LastRebalanceDate() *time.Time { return s.lastRebalanceDate }

// NeedsRebalancing reports whether the portfolio should trade on date. It is
// true before the first rebalance, once the cadence has elapsed in calendar
// days, or when any weight drifts more than the threshold from its target.
// Symbols present on one side only count as weight 0 on the other.
// It does not modify the strategy.
func (s *Strategy) NeedsRebalancing(currentWeights map[string]float64, date time.Time) bool {
	return s.NeedsRebalancingTradable(currentWeights, date, nil)
}

// NeedsRebalancingTradable is NeedsRebalancing with drift measured only over
// symbols for which tradable returns true. A nil tradable includes every symbol.
func (s *Strategy) NeedsRebalancingTradable(currentWeights map[string]float64, date time.Time, tradable func(symbol string) bool) bool {
	if s.lastRebalanceDate == nil {
		return true
	}

	elapsed := int(domain.DateOnly(date).Sub(domain.DateOnly(*s.lastRebalanceDate)).Hours() / 24)
	if elapsed >= s.frequency.Days() {
		return true
	}

	return s.MaxDriftTradable(currentWeights, tradable) > s.threshold
}

// MaxDrift returns the largest absolute difference between current and target weights.
func (s *Strategy) MaxDrift(currentWeights map[string]float64) float64 {
	return s.MaxDriftTradable(currentWeights, nil)
}

// MaxDriftTradable is MaxDrift restricted to symbols for which tradable
// returns true. Drift in a symbol that cannot trade cannot be corrected.
func (s *Strategy) MaxDriftTradable(currentWeights map[string]float64, tradable func(symbol string) bool) float64 {
	include := func(symbol string) bool { return tradable == nil || tradable(symbol) }

	var maxDrift float64
	for symbol, target := range s.targets {
		if include(symbol) {
			maxDrift = math.Max(maxDrift, math.Abs(currentWeights[symbol]-target))
		}
	}
	for symbol, current := range currentWeights {
		if _, ok := s.targets[symbol]; !ok && include(symbol) {
			maxDrift = math.Max(maxDrift, math.Abs(current))
		}
	}
	return maxDrift
}

// MarkRebalanced records date as the last rebalance.
func (s *Strategy) MarkRebalanced(date time.Time) {
	d := domain.DateOnly(date)
	s.lastRebalanceDate = &d
}

// TargetValues scales target weights into currency targets.
func (s *Strategy) TargetValues(totalValue float64) map[string]float64 {
	out := make(map[string]float64, len(s.targets))
	for symbol, w := range s.targets {
		out[symbol] = w * totalValue
	}
	return out
}

func sortedKeys(m map[string]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
