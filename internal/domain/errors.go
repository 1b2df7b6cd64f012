package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Structural failures abort a whole run. Unit-level failures (one window,
// one trial, one grid cell) are logged and excluded instead.
var (
	// ErrNoPriceData is returned when a run receives no usable price history
	ErrNoPriceData = errors.New("no price data")

	// ErrInsufficientHistory is returned when the history is too short for the
	// requested analysis (fewer than two valuation snapshots, zero windows)
	ErrInsufficientHistory = errors.New("insufficient history")

	// ErrInsufficientData is returned for a single window or period that does
	// not hold enough observations
	ErrInsufficientData = errors.New("insufficient data")

	// ErrInvalidWeights is returned when a weight vector cannot be used
	ErrInvalidWeights = errors.New("invalid weights")

	// ErrInvalidConfig is returned by constructors rejecting a configuration
	ErrInvalidConfig = errors.New("invalid config")
)

// Reasons reported on trades that were not executed
const (
	ReasonInsufficientFunds = "insufficient_funds"
	ReasonBelowMinTradeSize = "below_min_trade_size"
	ReasonNoPrice           = "no_price"
	ReasonUnknownSymbol     = "unknown_symbol"
)

// ValidationError describes one rejected configuration field.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors collects every rejected field of a configuration.
// It matches ErrInvalidConfig under errors.Is.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	var messages []string
	for _, err := range e {
		messages = append(messages, err.Error())
	}
	return strings.Join(messages, "; ")
}

// Is reports whether target is ErrInvalidConfig.
func (e ValidationErrors) Is(target error) bool {
	return target == ErrInvalidConfig
}
