package walkforward

import (
	"time"
)

// Window is one in-sample/out-of-sample split. All bounds are inclusive.
type Window struct {
	Index            int       `json:"index"`
	InSampleStart    time.Time `json:"in_sample_start"`
	InSampleEnd      time.Time `json:"in_sample_end"`
	OutOfSampleStart time.Time `json:"out_of_sample_start"`
	OutOfSampleEnd   time.Time `json:"out_of_sample_end"`
}

// WindowCount returns how many windows fit in n dates:
// floor((n - lookback - holdout) / step) + 1, or 0 when none fit.
func WindowCount(n, lookback, holdout, step int) int {
	if lookback <= 0 || holdout <= 0 || step <= 0 || n < lookback+holdout {
		return 0
	}
	return (n-lookback-holdout)/step + 1
}

// GenerateWindows slides over sorted dates. Window i optimizes on
// dates[i*step : i*step+lookback] and tests on the following holdout dates.
func GenerateWindows(dates []time.Time, lookback, holdout, step int) []Window {
	count := WindowCount(len(dates), lookback, holdout, step)
	windows := make([]Window, 0, count)
	for i := 0; i < count; i++ {
		start := i * step
		split := start + lookback
		end := split + holdout
		windows = append(windows, Window{
			Index:            i,
			InSampleStart:    dates[start],
			InSampleEnd:      dates[split-1],
			OutOfSampleStart: dates[split],
			OutOfSampleEnd:   dates[end-1],
		})
	}
	return windows
}
