package handlers

import (
	"encoding/json"
	"net/http"

	"shoutmap/internal/service/session"
)

// InboxHandler serves the merged conversation feed. It reads from the
// caller's live session so the feed reflects the same aggregates the
// websocket pushes.
type InboxHandler struct {
	sessions *session.Manager
}

// NewInboxHandler creates a new inbox handler
func NewInboxHandler(sessions *session.Manager) *InboxHandler {
	return &InboxHandler{
		sessions: sessions,
	}
}

// Feed returns the caller's threads sorted by most recent activity
func (h *InboxHandler) Feed(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	s, err := h.sessions.Acquire(userID)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "Failed to open session", err)
		return
	}
	defer h.sessions.Release(s)

	threads, err := s.Inbox.Feed(r.Context())
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "Failed to build inbox", err)
		return
	}

	respondWithJSON(w, http.StatusOK, threads)
}

// SetActive marks a conversation as open so its unread badge is pinned to
// zero while the caller is looking at it. An empty ID clears the active
// conversation.
func (h *InboxHandler) SetActive(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	type setActiveRequest struct {
		ConversationID string `json:"conversation_id"`
	}

	var req setActiveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	s, err := h.sessions.Acquire(userID)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "Failed to open session", err)
		return
	}
	defer h.sessions.Release(s)

	s.Unread.SetActive(r.Context(), req.ConversationID)

	respondWithJSON(w, http.StatusOK, map[string]string{"active": req.ConversationID})
}
