package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"shoutmap/internal/adapter/storage"
	"shoutmap/internal/domain/social"
)

// SocialHandler handles social-graph HTTP requests
type SocialHandler struct {
	store social.Store
}

// NewSocialHandler creates a new social handler
func NewSocialHandler(store social.Store) *SocialHandler {
	return &SocialHandler{
		store: store,
	}
}

// CreateInvitation sends an invitation from the caller to another profile
func (h *SocialHandler) CreateInvitation(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	type createInvitationRequest struct {
		ToID string `json:"to_id"`
	}

	var req createInvitationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	if req.ToID == "" {
		respondWithError(w, http.StatusBadRequest, "Missing recipient", nil)
		return
	}
	if req.ToID == userID {
		respondWithError(w, http.StatusBadRequest, "Cannot invite yourself", nil)
		return
	}

	banned, err := h.store.IsBanned(r.Context(), userID, req.ToID)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "Failed to check ban state", err)
		return
	}
	if banned {
		// Indistinguishable from success on purpose: a ban must not be
		// detectable by the banned side.
		respondWithJSON(w, http.StatusCreated, map[string]string{"status": "pending"})
		return
	}

	inv, err := h.store.CreateInvitation(r.Context(), userID, req.ToID)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "Failed to create invitation", err)
		return
	}

	respondWithJSON(w, http.StatusCreated, inv)
}

// RespondToInvitation accepts or cancels an invitation. The recipient may
// accept or decline; either side may cancel an accepted connection.
func (h *SocialHandler) RespondToInvitation(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	id := chi.URLParam(r, "id")
	if id == "" {
		respondWithError(w, http.StatusBadRequest, "Missing invitation ID", nil)
		return
	}

	type respondRequest struct {
		Status social.InvitationStatus `json:"status"`
	}

	var req respondRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	if req.Status != social.StatusAccepted && req.Status != social.StatusCancelled {
		respondWithError(w, http.StatusBadRequest, "Invalid status", nil)
		return
	}

	inv, err := h.store.GetInvitation(r.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			respondWithError(w, http.StatusNotFound, "Invitation not found", nil)
		} else {
			respondWithError(w, http.StatusInternalServerError, "Failed to get invitation", err)
		}
		return
	}

	// Only the recipient accepts; either party cancels.
	if req.Status == social.StatusAccepted && inv.ToID != userID {
		respondWithError(w, http.StatusForbidden, "Only the recipient can accept", nil)
		return
	}
	if inv.FromID != userID && inv.ToID != userID {
		respondWithError(w, http.StatusForbidden, "Not your invitation", nil)
		return
	}

	if err := h.store.UpdateInvitationStatus(r.Context(), id, req.Status); err != nil {
		respondWithError(w, http.StatusInternalServerError, "Failed to update invitation", err)
		return
	}

	respondWithJSON(w, http.StatusOK, map[string]string{"status": string(req.Status)})
}

// PendingInvitations returns pending invitations addressed to the caller
func (h *SocialHandler) PendingInvitations(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	invitations, err := h.store.PendingInvitations(r.Context(), userID)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "Failed to list invitations", err)
		return
	}

	respondWithJSON(w, http.StatusOK, invitations)
}

// Connections returns the caller's accepted connections
func (h *SocialHandler) Connections(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	connections, err := h.store.Connections(r.Context(), userID)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "Failed to list connections", err)
		return
	}

	respondWithJSON(w, http.StatusOK, connections)
}

// Ban hides another profile from the caller and vice versa
func (h *SocialHandler) Ban(w http.ResponseWriter, r *http.Request) {
	h.pairAction(w, r, h.store.Ban)
}

// Unban removes a ban
func (h *SocialHandler) Unban(w http.ResponseWriter, r *http.Request) {
	h.pairAction(w, r, h.store.Unban)
}

// Mute silences notifications from another profile
func (h *SocialHandler) Mute(w http.ResponseWriter, r *http.Request) {
	h.pairAction(w, r, h.store.Mute)
}

// Unmute removes a mute
func (h *SocialHandler) Unmute(w http.ResponseWriter, r *http.Request) {
	h.pairAction(w, r, h.store.Unmute)
}

// Follow subscribes the caller to another profile's activity
func (h *SocialHandler) Follow(w http.ResponseWriter, r *http.Request) {
	h.pairAction(w, r, h.store.Follow)
}

// Unfollow removes a follow
func (h *SocialHandler) Unfollow(w http.ResponseWriter, r *http.Request) {
	h.pairAction(w, r, h.store.Unfollow)
}

func (h *SocialHandler) pairAction(w http.ResponseWriter, r *http.Request, action func(ctx context.Context, userID, otherID string) error) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	otherID := chi.URLParam(r, "id")
	if otherID == "" {
		respondWithError(w, http.StatusBadRequest, "Missing profile ID", nil)
		return
	}
	if otherID == userID {
		respondWithError(w, http.StatusBadRequest, "Cannot target yourself", nil)
		return
	}

	if err := action(r.Context(), userID, otherID); err != nil {
		respondWithError(w, http.StatusInternalServerError, "Failed to update relationship", err)
		return
	}

	respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
