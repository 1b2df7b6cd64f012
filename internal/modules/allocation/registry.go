// Package allocation provides the named allocation strategies the
// validation pipeline backtests, tunes and compares.
package allocation

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/aristath/quantlab/internal/domain"
	"github.com/aristath/quantlab/internal/modules/optimization"
)

// Built-in strategy names.
const (
	NameEqualWeight    = "equal_weight"
	NameMeanVariance   = "mean_variance"
	NameBlackLitterman = "black_litterman"
	NameRiskParity     = "risk_parity"
	NameHRP            = "hrp"
	NameMomentum       = "momentum"
)

// ErrUnknownStrategy is returned when a strategy name is not registered.
var ErrUnknownStrategy = errors.New("unknown strategy")

// DefaultComparison lists the strategies compared when none are requested.
var DefaultComparison = []string{NameEqualWeight, NameMeanVariance, NameBlackLitterman, NameRiskParity}

// Strategy is a registered strategy function with its hyperparameter grid.
type Strategy struct {
	Name        string
	Description string
	Func        domain.StrategyFunc
	Grid        optimization.Grid
	BaseParams  domain.Params
	Objective   optimization.Objective
}

// Method converts the strategy into an optimizer method.
func (s Strategy) Method() optimization.Method {
	return optimization.Method{
		Name:       s.Name,
		Func:       s.Func,
		Grid:       s.Grid,
		BaseParams: s.BaseParams,
		Objective:  s.Objective,
	}
}

// Registry holds strategies by name. It is safe for concurrent use.
type Registry struct {
	mu         sync.RWMutex
	strategies map[string]Strategy
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{strategies: make(map[string]Strategy)}
}

// NewDefaultRegistry creates a registry holding every built-in strategy.
func NewDefaultRegistry() *Registry {
	r := NewRegistry()
	for _, s := range builtins() {
		if err := r.Register(s); err != nil {
			panic(err)
		}
	}
	return r
}

// Register adds a strategy. Names must be unique.
func (r *Registry) Register(s Strategy) error {
	if s.Name == "" {
		return fmt.Errorf("%w: strategy name is required", domain.ErrInvalidConfig)
	}
	if s.Func == nil {
		return fmt.Errorf("%w: strategy %q has no function", domain.ErrInvalidConfig, s.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.strategies[s.Name]; exists {
		return fmt.Errorf("%w: strategy %q already registered", domain.ErrInvalidConfig, s.Name)
	}
	r.strategies[s.Name] = s
	return nil
}

// Get returns the named strategy.
func (r *Registry) Get(name string) (Strategy, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.strategies[name]
	if !ok {
		return Strategy{}, fmt.Errorf("%w: %s", ErrUnknownStrategy, name)
	}
	return s, nil
}

// Names returns registered strategy names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.strategies))
	for name := range r.strategies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func builtins() []Strategy {
	return []Strategy{
		{
			Name:        NameEqualWeight,
			Description: "Equal weight across all assets",
			Func:        EqualWeight,
			Objective:   optimization.ObjectiveSharpe,
		},
		{
			Name:        NameMeanVariance,
			Description: "Long-only mean-variance optimization",
			Func:        MeanVariance,
			Grid: optimization.Grid{
				"objective":     {string(optimization.MVMinVolatility), string(optimization.MVMaxSharpe), string(optimization.MVMaxUtility)},
				"risk_aversion": {1.0, 3.0},
			},
			BaseParams: domain.Params{"covariance": string(optimization.CovarianceLedoitWolf)},
			Objective:  optimization.ObjectiveSharpe,
		},
		{
			Name:        NameBlackLitterman,
			Description: "Black-Litterman with momentum views",
			Func:        BlackLitterman,
			Grid: optimization.Grid{
				"tau":             {0.025, 0.05, 0.1},
				"view_confidence": {0.25, 0.5, 0.75},
			},
			Objective: optimization.ObjectiveSharpe,
		},
		{
			Name:        NameRiskParity,
			Description: "Equal risk contribution",
			Func:        RiskParity,
			Grid: optimization.Grid{
				"covariance": {string(optimization.CovarianceSample), string(optimization.CovarianceLedoitWolf)},
				"lookback":   {0, 126},
			},
			Objective: optimization.ObjectiveRiskParity,
		},
		{
			Name:        NameHRP,
			Description: "Hierarchical risk parity",
			Func:        HierarchicalRiskParity,
			Grid: optimization.Grid{
				"linkage": {string(optimization.LinkageSingle), string(optimization.LinkageComplete), string(optimization.LinkageAverage)},
			},
			Objective: optimization.ObjectiveSharpe,
		},
		{
			Name:        NameMomentum,
			Description: "Rate-of-change momentum",
			Func:        Momentum,
			Grid: optimization.Grid{
				"lookback": {21, 63, 126},
				"top_n":    {0, 2},
			},
			Objective: optimization.ObjectiveSharpe,
		},
	}
}
