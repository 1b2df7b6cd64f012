// Package handlers provides HTTP handlers for the strategy registry.
package handlers

import (
	"net/http"

	"github.com/aristath/quantlab/internal/domain"
	"github.com/aristath/quantlab/internal/modules/allocation"
	"github.com/aristath/quantlab/internal/modules/optimization"
	"github.com/aristath/quantlab/internal/utils"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// StrategyInfo describes a registered strategy
type StrategyInfo struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Objective   optimization.Objective `json:"objective"`
	Grid        optimization.Grid      `json:"grid,omitempty"`
	BaseParams  domain.Params          `json:"base_params,omitempty"`
	GridCells   int                    `json:"grid_cells"`
}

// WeightsRequest is the body of POST /api/strategies/{name}/weights
type WeightsRequest struct {
	Prices domain.PriceData `json:"prices"`
	Params domain.Params    `json:"params,omitempty"`
}

// WeightsResponse holds the fitted weights by symbol
type WeightsResponse struct {
	Strategy string             `json:"strategy"`
	Weights  map[string]float64 `json:"weights"`
}

// Handler handles strategy registry HTTP requests
type Handler struct {
	registry *allocation.Registry
	log      zerolog.Logger
}

// NewHandler creates a new strategy handler
func NewHandler(registry *allocation.Registry, log zerolog.Logger) *Handler {
	return &Handler{
		registry: registry,
		log:      log.With().Str("handler", "strategies").Logger(),
	}
}

// HandleList lists the registered strategies
func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	names := h.registry.Names()
	infos := make([]StrategyInfo, 0, len(names))
	for _, name := range names {
		s, err := h.registry.Get(name)
		if err != nil {
			continue
		}
		infos = append(infos, StrategyInfo{
			Name:        s.Name,
			Description: s.Description,
			Objective:   s.Objective,
			Grid:        s.Grid,
			BaseParams:  s.BaseParams,
			GridCells:   s.Grid.Size(),
		})
	}

	utils.WriteJSON(w, h.log, http.StatusOK, map[string]interface{}{
		"strategies": infos,
		"count":      len(infos),
	})
}

// HandleWeights fits one strategy on the posted price history
func (h *Handler) HandleWeights(w http.ResponseWriter, r *http.Request) {
	strategy, err := h.registry.Get(chi.URLParam(r, "name"))
	if err != nil {
		utils.WriteError(w, h.log, http.StatusNotFound, err.Error())
		return
	}

	var req WeightsRequest
	if err := utils.DecodeJSON(w, r, &req); err != nil {
		utils.WriteError(w, h.log, http.StatusBadRequest, err.Error())
		return
	}
	if len(req.Prices) == 0 {
		utils.WriteError(w, h.log, http.StatusUnprocessableEntity, domain.ErrNoPriceData.Error())
		return
	}

	weights, err := strategy.Fit(r.Context(), req.Prices, req.Params)
	if err != nil {
		utils.WriteError(w, h.log, utils.ErrorStatus(err), err.Error())
		return
	}

	utils.WriteJSON(w, h.log, http.StatusOK, WeightsResponse{Strategy: strategy.Name, Weights: weights})
}

// RegisterRoutes registers the strategy routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/strategies", func(r chi.Router) {
		r.Get("/", h.HandleList)
		r.Post("/{name}/weights", h.HandleWeights)
	})
}
