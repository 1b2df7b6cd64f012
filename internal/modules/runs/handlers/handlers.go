// Package handlers provides HTTP handlers for the run history.
package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/aristath/quantlab/internal/modules/runs"
	"github.com/aristath/quantlab/internal/utils"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// Handler handles run history HTTP requests
type Handler struct {
	service *runs.Service
	log     zerolog.Logger
}

// NewHandler creates a new run history handler
func NewHandler(service *runs.Service, log zerolog.Logger) *Handler {
	return &Handler{
		service: service,
		log:     log.With().Str("handler", "runs").Logger(),
	}
}

// HandleList returns stored runs newest first.
// Query parameters: kind, status, limit, offset.
func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	opts := runs.ListOptions{
		Kind:   runs.Kind(q.Get("kind")),
		Status: runs.Status(q.Get("status")),
	}
	if opts.Kind != "" && !opts.Kind.Valid() {
		utils.WriteError(w, h.log, http.StatusBadRequest, "unknown run kind: "+string(opts.Kind))
		return
	}
	for name, dst := range map[string]*int{"limit": &opts.Limit, "offset": &opts.Offset} {
		raw := q.Get(name)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			utils.WriteError(w, h.log, http.StatusBadRequest, "invalid "+name)
			return
		}
		*dst = n
	}

	list, err := h.service.List(r.Context(), opts)
	if err != nil {
		utils.WriteError(w, h.log, http.StatusInternalServerError, err.Error())
		return
	}
	utils.WriteJSON(w, h.log, http.StatusOK, map[string]interface{}{
		"runs":  list,
		"count": len(list),
	})
}

// HandleGet returns one run with its request and result.
func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	run, err := h.service.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeLookupError(w, err)
		return
	}
	utils.WriteJSON(w, h.log, http.StatusOK, run)
}

// HandleDelete removes a run.
func (h *Handler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.writeLookupError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) writeLookupError(w http.ResponseWriter, err error) {
	if errors.Is(err, runs.ErrRunNotFound) {
		utils.WriteError(w, h.log, http.StatusNotFound, err.Error())
		return
	}
	utils.WriteError(w, h.log, http.StatusInternalServerError, err.Error())
}
