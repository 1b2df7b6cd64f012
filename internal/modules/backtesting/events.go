package backtesting

import "time"

// EventType is the closed set of transitions the engine performs.
type EventType int

const (
	// EventMarketDataUpdate revalues the portfolio at the date's prices
	EventMarketDataUpdate EventType = iota
	// EventRebalance trades toward target weights
	EventRebalance
	// EventPerformanceMeasurement derives statistics after the last date
	EventPerformanceMeasurement
)

func (e EventType) String() string {
	switch e {
	case EventMarketDataUpdate:
		return "MARKET_DATA_UPDATE"
	case EventRebalance:
		return "REBALANCE"
	case EventPerformanceMeasurement:
		return "PERFORMANCE_MEASUREMENT"
	default:
		return "UNKNOWN"
	}
}

// Event is one transition of the simulation.
type Event struct {
	Type EventType
	Date time.Time
}
