package server

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	"github.com/aristath/quantlab/internal/di"
	"github.com/aristath/quantlab/internal/scheduler"
)

type stubJob struct {
	name string
	err  error
	runs int
}

func (j *stubJob) Run() error {
	j.runs++
	return j.err
}

func (j *stubJob) Name() string { return j.name }

func TestHandleRunJob_WithoutScheduler(t *testing.T) {
	ok := &stubJob{name: "ok"}
	failing := &stubJob{name: "failing", err: errors.New("disk full")}

	h := NewSystemHandlers(&di.Container{}, map[string]scheduler.Job{
		ok.name:      ok,
		failing.name: failing,
	}, "", zerolog.Nop())
	assert.Equal(t, "dev", h.version)

	r := chi.NewRouter()
	r.Post("/jobs/{name}/run", h.HandleRunJob)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/jobs/ok/run", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"completed"`)
	assert.Equal(t, 1, ok.runs)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/jobs/failing/run", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "disk full")
	assert.Equal(t, 1, failing.runs)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/jobs/missing/run", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}
