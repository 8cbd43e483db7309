package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"shoutmap/internal/adapter/storage"
	"shoutmap/internal/domain/geo"
	"shoutmap/internal/domain/shout"
	geoservice "shoutmap/internal/service/geo"
	"shoutmap/internal/service/ratelimit"
)

// ShoutHandler handles shout HTTP requests
type ShoutHandler struct {
	store      shout.Store
	geo        *geoservice.Service
	limiter    *ratelimit.Limiter
	maxContent int
}

// NewShoutHandler creates a new shout handler
func NewShoutHandler(store shout.Store, geo *geoservice.Service, limiter *ratelimit.Limiter, maxContent int) *ShoutHandler {
	return &ShoutHandler{
		store:      store,
		geo:        geo,
		limiter:    limiter,
		maxContent: maxContent,
	}
}

// CreateShout pins a shout at the caller's position
func (h *ShoutHandler) CreateShout(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	allowed, err := h.limiter.Allow(r.Context(), "shout", userID)
	if err != nil {
		respondWithError(w, http.StatusServiceUnavailable, "Rate limiter unavailable", err)
		return
	}
	if !allowed {
		respondWithError(w, http.StatusTooManyRequests, "Shout budget exhausted", nil)
		return
	}

	type createShoutRequest struct {
		Content   string  `json:"content"`
		Latitude  float64 `json:"lat"`
		Longitude float64 `json:"lng"`
	}

	var req createShoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	if req.Content == "" {
		respondWithError(w, http.StatusBadRequest, "Content is required", nil)
		return
	}
	if h.maxContent > 0 && len(req.Content) > h.maxContent {
		respondWithError(w, http.StatusBadRequest, "Content too long", nil)
		return
	}

	sh := shout.Shout{
		ID:        uuid.New().String(),
		UserID:    userID,
		Content:   req.Content,
		Location:  geo.Location{Latitude: req.Latitude, Longitude: req.Longitude},
		CreatedAt: time.Now(),
	}

	if err := h.store.SaveShout(r.Context(), sh); err != nil {
		respondWithError(w, http.StatusInternalServerError, "Failed to create shout", err)
		return
	}

	respondWithJSON(w, http.StatusCreated, sh)
}

// GetNearbyShouts returns unexpired shouts near a location
func (h *ShoutHandler) GetNearbyShouts(w http.ResponseWriter, r *http.Request) {
	lat, lng, ok := parseLatLng(w, r)
	if !ok {
		return
	}

	radius := h.geo.ClampRadius(parseRadius(r))
	now := time.Now()

	shouts, err := h.store.FindNearbyShouts(r.Context(), lat, lng, radius, now)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "Failed to find nearby shouts", err)
		return
	}

	// The store already filters by lifetime; this guards the boundary where a
	// row expires between query and response.
	respondWithJSON(w, http.StatusOK, shout.FilterActive(shouts, now))
}

// DeleteShout removes the caller's shout
func (h *ShoutHandler) DeleteShout(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	id := chi.URLParam(r, "id")
	if id == "" {
		respondWithError(w, http.StatusBadRequest, "Missing shout ID", nil)
		return
	}

	sh, err := h.store.GetShout(r.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			respondWithError(w, http.StatusNotFound, "Shout not found", nil)
		} else {
			respondWithError(w, http.StatusInternalServerError, "Failed to get shout", err)
		}
		return
	}

	if sh.UserID != userID {
		respondWithError(w, http.StatusForbidden, "Not your shout", nil)
		return
	}

	if err := h.store.DeleteShout(r.Context(), id); err != nil {
		respondWithError(w, http.StatusInternalServerError, "Failed to delete shout", err)
		return
	}

	respondWithJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}
