package runs

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/aristath/quantlab/internal/domain"
	"github.com/aristath/quantlab/internal/progress"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDispatch(t *testing.T) {
	svc, _ := newService(t)

	ok := func(context.Context, *progress.Reporter) (any, error) { return map[string]int{"trades": 4}, nil }
	short := func(context.Context, *progress.Reporter) (any, error) {
		return nil, fmt.Errorf("walk-forward: %w", domain.ErrInsufficientHistory)
	}

	t.Run("sync success", func(t *testing.T) {
		w := httptest.NewRecorder()
		Dispatch(w, httptest.NewRequest("POST", "/", nil), svc, zerolog.Nop(), KindBacktest, false, nil, ok)
		require.Equal(t, http.StatusOK, w.Code)

		var run Run
		require.NoError(t, json.NewDecoder(w.Body).Decode(&run))
		assert.Equal(t, StatusCompleted, run.Status)
	})

	t.Run("sync failure maps status", func(t *testing.T) {
		w := httptest.NewRecorder()
		Dispatch(w, httptest.NewRequest("POST", "/", nil), svc, zerolog.Nop(), KindWalkForward, false, nil, short)
		require.Equal(t, http.StatusUnprocessableEntity, w.Code)

		var body map[string]string
		require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
		assert.NotEmpty(t, body["run_id"])
		assert.Contains(t, body["error"], "insufficient history")
	})

	t.Run("async", func(t *testing.T) {
		w := httptest.NewRecorder()
		Dispatch(w, httptest.NewRequest("POST", "/", nil), svc, zerolog.Nop(), KindMonteCarlo, true, nil, ok)
		require.Equal(t, http.StatusAccepted, w.Code)

		var run Run
		require.NoError(t, json.NewDecoder(w.Body).Decode(&run))
		assert.Equal(t, StatusRunning, run.Status)
		assert.Eventually(t, func() bool {
			stored, err := svc.Get(context.Background(), run.ID)
			return err == nil && stored.Status == StatusCompleted
		}, 5*time.Second, 10*time.Millisecond)
	})
}
