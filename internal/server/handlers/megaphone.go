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
	"shoutmap/internal/domain/megaphone"
	"shoutmap/internal/domain/profile"
	geoservice "shoutmap/internal/service/geo"
	"shoutmap/internal/service/ratelimit"
)

// MegaphoneHandler handles megaphone HTTP requests
type MegaphoneHandler struct {
	store    megaphone.Store
	profiles profile.Store
	geo      *geoservice.Service
	limiter  *ratelimit.Limiter
}

// NewMegaphoneHandler creates a new megaphone handler
func NewMegaphoneHandler(store megaphone.Store, profiles profile.Store, geo *geoservice.Service, limiter *ratelimit.Limiter) *MegaphoneHandler {
	return &MegaphoneHandler{
		store:    store,
		profiles: profiles,
		geo:      geo,
		limiter:  limiter,
	}
}

// CreateMegaphone creates a megaphone hosted by the caller. Placement is
// validated against the host's declared position: a megaphone cannot be
// planted further than the base-distance cap from where the host claims to be.
func (h *MegaphoneHandler) CreateMegaphone(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	allowed, err := h.limiter.Allow(r.Context(), "megaphone", userID)
	if err != nil {
		respondWithError(w, http.StatusServiceUnavailable, "Rate limiter unavailable", err)
		return
	}
	if !allowed {
		respondWithError(w, http.StatusTooManyRequests, "Megaphone budget exhausted", nil)
		return
	}

	type createMegaphoneRequest struct {
		Title           string  `json:"title"`
		Category        string  `json:"category"`
		Latitude        float64 `json:"lat"`
		Longitude       float64 `json:"lng"`
		StartsAt        string  `json:"starts_at"`
		DurationMinutes int     `json:"duration_minutes"`
		Capacity        int     `json:"capacity"`
		Private         bool    `json:"private"`
	}

	var req createMegaphoneRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	if req.Title == "" {
		respondWithError(w, http.StatusBadRequest, "Title is required", nil)
		return
	}
	if req.DurationMinutes <= 0 {
		respondWithError(w, http.StatusBadRequest, "Duration must be positive", nil)
		return
	}

	startsAt, err := time.Parse(time.RFC3339, req.StartsAt)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid start time", err)
		return
	}

	host, err := h.profiles.GetProfile(r.Context(), userID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			respondWithError(w, http.StatusNotFound, "Profile not found", nil)
		} else {
			respondWithError(w, http.StatusInternalServerError, "Failed to get profile", err)
		}
		return
	}

	placement := geo.Location{Latitude: req.Latitude, Longitude: req.Longitude}
	if host.Location == nil {
		respondWithError(w, http.StatusBadRequest, "Set your position before hosting", nil)
		return
	}
	if !h.geo.IsWithinMeters(placement, *host.Location, megaphone.MaxDistanceFromBaseMeters) {
		respondWithError(w, http.StatusBadRequest, "Too far from your position", nil)
		return
	}

	m := megaphone.Megaphone{
		ID:        uuid.New().String(),
		HostID:    userID,
		Title:     req.Title,
		Category:  megaphone.Category(req.Category),
		Location:  placement,
		StartsAt:  startsAt,
		Duration:  time.Duration(req.DurationMinutes) * time.Minute,
		Capacity:  req.Capacity,
		Private:   req.Private,
		CreatedAt: time.Now(),
	}

	if err := h.store.SaveMegaphone(r.Context(), m); err != nil {
		respondWithError(w, http.StatusInternalServerError, "Failed to create megaphone", err)
		return
	}

	respondWithJSON(w, http.StatusCreated, m)
}

// GetMegaphone returns a megaphone by ID
func (h *MegaphoneHandler) GetMegaphone(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		respondWithError(w, http.StatusBadRequest, "Missing megaphone ID", nil)
		return
	}

	m, err := h.store.GetMegaphone(r.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			respondWithError(w, http.StatusNotFound, "Megaphone not found", nil)
		} else {
			respondWithError(w, http.StatusInternalServerError, "Failed to get megaphone", err)
		}
		return
	}

	respondWithJSON(w, http.StatusOK, m)
}

// GetNearbyMegaphones returns public megaphones near a location
func (h *MegaphoneHandler) GetNearbyMegaphones(w http.ResponseWriter, r *http.Request) {
	lat, lng, ok := parseLatLng(w, r)
	if !ok {
		return
	}

	radius := h.geo.ClampRadius(parseRadius(r))

	megaphones, err := h.store.FindNearbyMegaphones(r.Context(), lat, lng, radius, time.Now())
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "Failed to find nearby megaphones", err)
		return
	}

	respondWithJSON(w, http.StatusOK, megaphones)
}

// ActiveMegaphones returns megaphones the caller hosts or joined
func (h *MegaphoneHandler) ActiveMegaphones(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	megaphones, err := h.store.ActiveForUser(r.Context(), userID, time.Now())
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "Failed to list megaphones", err)
		return
	}

	respondWithJSON(w, http.StatusOK, megaphones)
}

// JoinMegaphone adds the caller to a megaphone
func (h *MegaphoneHandler) JoinMegaphone(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	id := chi.URLParam(r, "id")
	if id == "" {
		respondWithError(w, http.StatusBadRequest, "Missing megaphone ID", nil)
		return
	}

	m, err := h.store.GetMegaphone(r.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			respondWithError(w, http.StatusNotFound, "Megaphone not found", nil)
		} else {
			respondWithError(w, http.StatusInternalServerError, "Failed to get megaphone", err)
		}
		return
	}

	if time.Now().After(m.EndsAt()) {
		respondWithError(w, http.StatusGone, "Megaphone has ended", nil)
		return
	}

	if m.Capacity > 0 {
		count, err := h.store.MemberCount(r.Context(), id)
		if err != nil {
			respondWithError(w, http.StatusInternalServerError, "Failed to count members", err)
			return
		}
		if count >= m.Capacity {
			respondWithError(w, http.StatusConflict, "Megaphone is full", nil)
			return
		}
	}

	if err := h.store.Join(r.Context(), id, userID); err != nil {
		respondWithError(w, http.StatusInternalServerError, "Failed to join megaphone", err)
		return
	}

	respondWithJSON(w, http.StatusOK, map[string]string{"status": "joined"})
}
