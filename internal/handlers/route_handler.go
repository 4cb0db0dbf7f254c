package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/transitgo/backend/internal/services"
)

type RouteHandler struct {
	routes *services.RouteService
}

func NewRouteHandler(routes *services.RouteService) *RouteHandler {
	return &RouteHandler{routes: routes}
}

// ListRoutes returns all routes
// @Summary List routes
// @Tags routes
// @Produce json
// @Success 200 {array} models.Route
// @Router /routes [get]
func (h *RouteHandler) ListRoutes(w http.ResponseWriter, r *http.Request) {
	routes, err := h.routes.ListRoutes(r.Context())
	if err != nil {
		services.SendErrorResponse(w, err.Error(), statusForError(err), nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(routes)
}

// FindRoutes matches routes between two stop names
// @Summary Find routes between stops
// @Description Returns routes where the origin stop comes before the destination stop in travel order. Reverse pairs match nothing.
// @Tags routes
// @Produce json
// @Param origin query string true "Origin stop name"
// @Param destination query string true "Destination stop name"
// @Success 200 {array} models.Route
// @Router /routes/find [get]
func (h *RouteHandler) FindRoutes(w http.ResponseWriter, r *http.Request) {
	origin := r.URL.Query().Get("origin")
	destination := r.URL.Query().Get("destination")
	if origin == "" || destination == "" {
		services.SendErrorResponse(w, "origin and destination query parameters are required", http.StatusBadRequest, nil)
		return
	}

	routes, err := h.routes.FindRoutes(r.Context(), origin, destination)
	if err != nil {
		services.SendErrorResponse(w, err.Error(), statusForError(err), nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(routes)
}

// RouteStops returns a route's stops in travel order
// @Summary List stops for a route
// @Tags routes
// @Produce json
// @Param routeId path string true "Route id"
// @Success 200 {array} models.RouteStop
// @Router /routes/{routeId}/stops [get]
func (h *RouteHandler) RouteStops(w http.ResponseWriter, r *http.Request) {
	stops, err := h.routes.RouteStops(r.Context(), chi.URLParam(r, "routeId"))
	if err != nil {
		services.SendErrorResponse(w, err.Error(), statusForError(err), nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(stops)
}

// ListStops returns all distinct stop names
// @Summary List stop names
// @Tags routes
// @Produce json
// @Success 200 {array} string
// @Router /stops [get]
func (h *RouteHandler) ListStops(w http.ResponseWriter, r *http.Request) {
	stops, err := h.routes.ListStops(r.Context())
	if err != nil {
		services.SendErrorResponse(w, err.Error(), statusForError(err), nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(stops)
}
