package walkforward

import (
	"testing"

	testingpkg "github.com/aristath/quantlab/internal/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWindowCount(t *testing.T) {
	tests := []struct {
		name                       string
		n, lookback, holdout, step int
		expected                   int
	}{
		{"one year lookback over 400 days", 400, 252, 63, 21, 5},
		{"exact fit", 315, 252, 63, 21, 1},
		{"one date short", 314, 252, 63, 21, 0},
		{"step of one", 10, 5, 2, 1, 4},
		{"invalid step", 400, 252, 63, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, WindowCount(tt.n, tt.lookback, tt.holdout, tt.step))
		})
	}
}

func TestGenerateWindows_Bounds(t *testing.T) {
	dates := testingpkg.TradingDays(testingpkg.FixtureStart, 400)

	windows := GenerateWindows(dates, 252, 63, 21)
	require.Len(t, windows, 5)

	for i, w := range windows {
		start := i * 21
		assert.Equal(t, i, w.Index)
		assert.Equal(t, dates[start], w.InSampleStart)
		assert.Equal(t, dates[start+251], w.InSampleEnd)
		assert.Equal(t, dates[start+252], w.OutOfSampleStart)
		assert.Equal(t, dates[start+314], w.OutOfSampleEnd)
		assert.True(t, w.InSampleEnd.Before(w.OutOfSampleStart))
	}
}
