package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/aristath/quantlab/internal/modules/allocation"
	"github.com/aristath/quantlab/internal/modules/backtesting"
	"github.com/aristath/quantlab/internal/modules/runs"
	testingpkg "github.com/aristath/quantlab/internal/testing"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRouter(t *testing.T) http.Handler {
	t.Helper()
	repo := runs.NewRepository(testingpkg.NewTestDB(t, "runs").Conn())
	svc := runs.NewService(repo, nil, nil, zerolog.Nop())
	t.Cleanup(func() { _ = svc.Shutdown(context.Background()) })

	h := NewHandler(svc, allocation.NewDefaultRegistry(), backtesting.DefaultConfig(), zerolog.Nop())
	router := chi.NewRouter()
	router.Route("/api", h.RegisterRoutes)
	return router
}

func post(t *testing.T, router http.Handler, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("POST", "/api/backtest", bytes.NewReader(payload)))
	return w
}

type runResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Result struct {
		Stats struct {
			TotalReturn float64 `json:"total_return"`
		} `json:"stats"`
		TargetWeights map[string]float64 `json:"target_weights"`
	} `json:"result"`
}

func TestHandleRun_Strategy(t *testing.T) {
	router := setupRouter(t)

	w := post(t, router, map[string]interface{}{
		"prices":    testingpkg.NewDefaultUniverseFixtures(260),
		"benchmark": testingpkg.NewBenchmarkFixture(260),
		"strategy":  allocation.NameEqualWeight,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var run runResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&run))
	assert.NotEmpty(t, run.ID)
	assert.Equal(t, string(runs.StatusCompleted), run.Status)
	require.Len(t, run.Result.TargetWeights, 4)
	for symbol, weight := range run.Result.TargetWeights {
		assert.InDelta(t, 0.25, weight, 1e-9, symbol)
	}
}

func TestHandleRun_ExplicitTargets(t *testing.T) {
	router := setupRouter(t)

	w := post(t, router, map[string]interface{}{
		"prices": testingpkg.NewFlatPriceFixtures(map[string]float64{"A": 50, "B": 20}, 60),
		"config": map[string]interface{}{
			"target_weights": map[string]float64{"A": 0.6, "B": 0.4},
		},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var run runResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&run))
	assert.InDelta(t, 0.6, run.Result.TargetWeights["A"], 1e-9)
	assert.InDelta(t, 0.4, run.Result.TargetWeights["B"], 1e-9)
}

func TestHandleRun_Async(t *testing.T) {
	router := setupRouter(t)

	w := post(t, router, map[string]interface{}{
		"prices": testingpkg.NewDefaultUniverseFixtures(60),
		"async":  true,
	})
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	var run runResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&run))
	assert.Equal(t, string(runs.StatusRunning), run.Status)
}

func TestHandleRun_Rejected(t *testing.T) {
	router := setupRouter(t)
	prices := testingpkg.NewDefaultUniverseFixtures(30)

	tests := []struct {
		name string
		body interface{}
		code int
	}{
		{"no prices", map[string]interface{}{"strategy": allocation.NameEqualWeight}, http.StatusUnprocessableEntity},
		{"unknown strategy", map[string]interface{}{"prices": prices, "strategy": "nope"}, http.StatusBadRequest},
		{"invalid cash", map[string]interface{}{"prices": prices, "config": map[string]interface{}{"initial_cash": -1}}, http.StatusBadRequest},
		{"unknown field", map[string]interface{}{"prices": prices, "bogus": 1}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := post(t, router, tt.body)
			assert.Equal(t, tt.code, w.Code, w.Body.String())
		})
	}
}
