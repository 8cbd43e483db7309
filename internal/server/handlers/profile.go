package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"shoutmap/internal/adapter/storage"
	"shoutmap/internal/domain/geo"
	"shoutmap/internal/domain/profile"
	geoservice "shoutmap/internal/service/geo"
)

// ProfileHandler handles profile-related HTTP requests
type ProfileHandler struct {
	store profile.Store
	geo   *geoservice.Service
}

// NewProfileHandler creates a new profile handler
func NewProfileHandler(store profile.Store, geo *geoservice.Service) *ProfileHandler {
	return &ProfileHandler{
		store: store,
		geo:   geo,
	}
}

// GetProfile returns a profile by ID
func (h *ProfileHandler) GetProfile(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		respondWithError(w, http.StatusBadRequest, "Missing profile ID", nil)
		return
	}

	p, err := h.store.GetProfile(r.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			respondWithError(w, http.StatusNotFound, "Profile not found", nil)
		} else {
			respondWithError(w, http.StatusInternalServerError, "Failed to get profile", err)
		}
		return
	}

	respondWithJSON(w, http.StatusOK, p)
}

// SaveProfile creates or updates the caller's profile
func (h *ProfileHandler) SaveProfile(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	type saveProfileRequest struct {
		DisplayName string   `json:"display_name"`
		Avatar      string   `json:"avatar"`
		Bio         string   `json:"bio"`
		Tags        []string `json:"tags"`
		BaseName    string   `json:"base_name"`
	}

	var req saveProfileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	if req.DisplayName == "" {
		respondWithError(w, http.StatusBadRequest, "Display name is required", nil)
		return
	}

	now := time.Now()
	p := profile.Profile{
		ID:          userID,
		DisplayName: req.DisplayName,
		Avatar:      req.Avatar,
		Bio:         req.Bio,
		Tags:        req.Tags,
		BaseName:    req.BaseName,
		Active:      true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if existing, err := h.store.GetProfile(r.Context(), userID); err == nil {
		p.CreatedAt = existing.CreatedAt
		p.Location = existing.Location
	}

	if err := h.store.SaveProfile(r.Context(), p); err != nil {
		respondWithError(w, http.StatusInternalServerError, "Failed to save profile", err)
		return
	}

	respondWithJSON(w, http.StatusOK, p)
}

// SetLocation updates the caller's position. The stored position is fuzzed to
// the requested privacy level before it touches persistence; precise
// coordinates never leave this handler.
func (h *ProfileHandler) SetLocation(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	type setLocationRequest struct {
		Latitude  float64 `json:"lat"`
		Longitude float64 `json:"lng"`
		Accuracy  float64 `json:"accuracy"`
		Privacy   string  `json:"privacy"`
	}

	var req setLocationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	loc := h.geo.FuzzLocation(geo.Location{
		Latitude:  req.Latitude,
		Longitude: req.Longitude,
		Accuracy:  req.Accuracy,
		Timestamp: time.Now(),
	}, req.Privacy)

	if err := h.store.SetLocation(r.Context(), userID, &loc); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			respondWithError(w, http.StatusNotFound, "Profile not found", nil)
		} else {
			respondWithError(w, http.StatusInternalServerError, "Failed to update location", err)
		}
		return
	}

	respondWithJSON(w, http.StatusOK, loc)
}

// SetActive flips the caller's online flag
func (h *ProfileHandler) SetActive(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	type setActiveRequest struct {
		Active bool `json:"active"`
	}

	var req setActiveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	if err := h.store.SetActive(r.Context(), userID, req.Active); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			respondWithError(w, http.StatusNotFound, "Profile not found", nil)
		} else {
			respondWithError(w, http.StatusInternalServerError, "Failed to update active flag", err)
		}
		return
	}

	respondWithJSON(w, http.StatusOK, map[string]bool{"active": req.Active})
}

// GetNearbyProfiles returns active profiles near a location
func (h *ProfileHandler) GetNearbyProfiles(w http.ResponseWriter, r *http.Request) {
	lat, lng, ok := parseLatLng(w, r)
	if !ok {
		return
	}

	radius := h.geo.ClampRadius(parseRadius(r))

	profiles, err := h.store.FindNearbyProfiles(r.Context(), lat, lng, radius)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "Failed to find nearby profiles", err)
		return
	}

	respondWithJSON(w, http.StatusOK, profiles)
}

// parseLatLng reads required lat/lng query parameters.
func parseLatLng(w http.ResponseWriter, r *http.Request) (float64, float64, bool) {
	latStr := r.URL.Query().Get("lat")
	lngStr := r.URL.Query().Get("lng")

	if latStr == "" || lngStr == "" {
		respondWithError(w, http.StatusBadRequest, "Missing location parameters", nil)
		return 0, 0, false
	}

	lat, err := strconv.ParseFloat(latStr, 64)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid latitude", err)
		return 0, 0, false
	}

	lng, err := strconv.ParseFloat(lngStr, 64)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid longitude", err)
		return 0, 0, false
	}

	return lat, lng, true
}

// parseRadius reads the optional radius query parameter in meters.
func parseRadius(r *http.Request) float64 {
	radiusStr := r.URL.Query().Get("radius")
	if radiusStr == "" {
		return 0
	}

	radius, err := strconv.ParseFloat(radiusStr, 64)
	if err != nil {
		return 0
	}
	return radius
}
