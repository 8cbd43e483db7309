package handlers

import (
	"net/http"

	"shoutmap/internal/domain/geo"
)

// GeoHandler handles geocoding HTTP requests
type GeoHandler struct {
	geocoder geo.Geocoder
}

// NewGeoHandler creates a new geocoding handler
func NewGeoHandler(geocoder geo.Geocoder) *GeoHandler {
	return &GeoHandler{
		geocoder: geocoder,
	}
}

// Search forward-geocodes a free-text query
func (h *GeoHandler) Search(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if query == "" {
		respondWithError(w, http.StatusBadRequest, "Missing query", nil)
		return
	}

	places, err := h.geocoder.Search(r.Context(), query)
	if err != nil {
		respondWithError(w, http.StatusBadGateway, "Geocoding failed", err)
		return
	}

	respondWithJSON(w, http.StatusOK, places)
}

// Reverse resolves coordinates to a place name
func (h *GeoHandler) Reverse(w http.ResponseWriter, r *http.Request) {
	lat, lng, ok := parseLatLng(w, r)
	if !ok {
		return
	}

	place, err := h.geocoder.Reverse(r.Context(), lat, lng)
	if err != nil {
		respondWithError(w, http.StatusBadGateway, "Reverse geocoding failed", err)
		return
	}
	if place == nil {
		respondWithError(w, http.StatusNotFound, "No place at these coordinates", nil)
		return
	}

	respondWithJSON(w, http.StatusOK, place)
}
