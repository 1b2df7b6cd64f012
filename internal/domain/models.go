// Package domain provides the types shared by the validation pipeline.
package domain

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// PricePoint is one daily close for an instrument. Volume is optional and
// measured in shares; zero means unknown.
type PricePoint struct {
	Date   time.Time `json:"date"`
	Price  float64   `json:"price"`
	Volume float64   `json:"volume,omitempty"`
}

// UnmarshalJSON accepts dates as "2006-01-02" or RFC3339.
func (p *PricePoint) UnmarshalJSON(data []byte) error {
	var raw struct {
		Date   string  `json:"date"`
		Price  float64 `json:"price"`
		Volume float64 `json:"volume"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	date, err := ParseDate(raw.Date)
	if err != nil {
		return err
	}

	p.Date = date
	p.Price = raw.Price
	p.Volume = raw.Volume
	return nil
}

// ParseDate parses a calendar date in either "2006-01-02" or RFC3339 form
// and truncates it to midnight UTC.
func ParseDate(s string) (time.Time, error) {
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: expected YYYY-MM-DD or RFC3339", s)
	}
	return DateOnly(t), nil
}

// DateOnly normalizes t to midnight UTC so dates can be compared and used as map keys.
func DateOnly(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// PriceData maps symbol to its daily closes. Dates need not align across symbols.
type PriceData map[string][]PricePoint

// Symbols returns the symbols in sorted order.
func (p PriceData) Symbols() []string {
	symbols := make([]string, 0, len(p))
	for s := range p {
		symbols = append(symbols, s)
	}
	sort.Strings(symbols)
	return symbols
}

// Dates returns the sorted union of every symbol's dates.
func (p PriceData) Dates() []time.Time {
	seen := make(map[time.Time]struct{})
	for _, series := range p {
		for _, pt := range series {
			seen[DateOnly(pt.Date)] = struct{}{}
		}
	}

	dates := make([]time.Time, 0, len(seen))
	for d := range seen {
		dates = append(dates, d)
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })
	return dates
}

// Index returns per-symbol lookups keyed by normalized date.
func (p PriceData) Index() map[string]map[time.Time]PricePoint {
	idx := make(map[string]map[time.Time]PricePoint, len(p))
	for symbol, series := range p {
		bySymbol := make(map[time.Time]PricePoint, len(series))
		for _, pt := range series {
			bySymbol[DateOnly(pt.Date)] = pt
		}
		idx[symbol] = bySymbol
	}
	return idx
}

// Between returns the subset of points with from <= date <= to.
// Symbols without any point in range are dropped.
func (p PriceData) Between(from, to time.Time) PriceData {
	from, to = DateOnly(from), DateOnly(to)
	out := make(PriceData, len(p))
	for symbol, series := range p {
		var kept []PricePoint
		for _, pt := range series {
			d := DateOnly(pt.Date)
			if d.Before(from) || d.After(to) {
				continue
			}
			kept = append(kept, pt)
		}
		if len(kept) > 0 {
			out[symbol] = kept
		}
	}
	return out
}

// ReturnsMatrix builds simple returns for the given symbols on the dates
// every symbol shares, laid out as [asset][period]. At least two common
// dates are required.
func (p PriceData) ReturnsMatrix(symbols []string) ([][]float64, error) {
	if len(symbols) == 0 {
		return nil, ErrNoPriceData
	}

	idx := p.Index()
	var common []time.Time
	for _, d := range p.Dates() {
		inAll := true
		for _, s := range symbols {
			pt, ok := idx[s][d]
			if !ok || pt.Price <= 0 {
				inAll = false
				break
			}
		}
		if inAll {
			common = append(common, d)
		}
	}
	if len(common) < 2 {
		return nil, fmt.Errorf("%w: %d common dates across %d symbols", ErrInsufficientData, len(common), len(symbols))
	}

	out := make([][]float64, len(symbols))
	for i, s := range symbols {
		row := make([]float64, len(common)-1)
		for t := 1; t < len(common); t++ {
			prev := idx[s][common[t-1]].Price
			row[t-1] = idx[s][common[t]].Price/prev - 1
		}
		out[i] = row
	}
	return out, nil
}

// TradingDays returns n consecutive weekdays starting at start (or the next
// weekday). Holidays are not modelled.
func TradingDays(start time.Time, n int) []time.Time {
	days := make([]time.Time, 0, n)
	d := DateOnly(start)
	for len(days) < n {
		if d.Weekday() != time.Saturday && d.Weekday() != time.Sunday {
			days = append(days, d)
		}
		d = d.AddDate(0, 0, 1)
	}
	return days
}

// SeriesReturns converts a single price series (sorted by date) to simple returns.
func SeriesReturns(series []PricePoint) []float64 {
	sorted := SortedSeries(series)
	if len(sorted) < 2 {
		return []float64{}
	}
	out := make([]float64, 0, len(sorted)-1)
	for i := 1; i < len(sorted); i++ {
		if sorted[i-1].Price <= 0 {
			out = append(out, 0)
			continue
		}
		out = append(out, sorted[i].Price/sorted[i-1].Price-1)
	}
	return out
}

// SortedSeries returns a copy of series ordered by date.
func SortedSeries(series []PricePoint) []PricePoint {
	out := make([]PricePoint, len(series))
	copy(out, series)
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out
}
