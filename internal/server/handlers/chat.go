package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"shoutmap/internal/domain/chat"
	"shoutmap/internal/domain/megaphone"
	"shoutmap/internal/domain/social"
)

// ChatHandler handles conversation HTTP requests
type ChatHandler struct {
	store      chat.Store
	social     social.Store
	megaphones megaphone.Store
	maxContent int
	pageSize   int
}

// NewChatHandler creates a new chat handler
func NewChatHandler(store chat.Store, socialStore social.Store, megaphones megaphone.Store, maxContent, pageSize int) *ChatHandler {
	return &ChatHandler{
		store:      store,
		social:     socialStore,
		megaphones: megaphones,
		maxContent: maxContent,
		pageSize:   pageSize,
	}
}

// Messages returns a conversation's messages, oldest first, with reaction
// aggregates resolved in one grouped query.
func (h *ChatHandler) Messages(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	conversationID := chi.URLParam(r, "id")
	if !h.authorized(w, r, userID, conversationID) {
		return
	}

	limit := h.pageSize
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if parsed, err := strconv.Atoi(limitStr); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	messages, err := h.store.Messages(r.Context(), conversationID, limit)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "Failed to list messages", err)
		return
	}

	ids := make([]string, len(messages))
	for i, m := range messages {
		ids[i] = m.ID
	}

	reactions, err := h.store.ReactionCounts(r.Context(), ids, userID)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "Failed to load reactions", err)
		return
	}

	type messageResponse struct {
		chat.Message
		ReactionCount int  `json:"reaction_count"`
		Reacted       bool `json:"reacted"`
	}

	out := make([]messageResponse, len(messages))
	for i, m := range messages {
		state := reactions[m.ID]
		out[i] = messageResponse{Message: m, ReactionCount: state.Count, Reacted: state.Reacted}
	}

	respondWithJSON(w, http.StatusOK, out)
}

// SendMessage appends a message to a conversation
func (h *ChatHandler) SendMessage(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	conversationID := chi.URLParam(r, "id")
	if !h.authorized(w, r, userID, conversationID) {
		return
	}

	type sendMessageRequest struct {
		Content string `json:"content"`
	}

	var req sendMessageRequest
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

	m := chat.Message{
		ID:             uuid.New().String(),
		ConversationID: conversationID,
		SenderID:       userID,
		Content:        req.Content,
		CreatedAt:      time.Now(),
	}

	if err := h.store.SaveMessage(r.Context(), m); err != nil {
		respondWithError(w, http.StatusInternalServerError, "Failed to send message", err)
		return
	}

	respondWithJSON(w, http.StatusCreated, m)
}

// ToggleReaction flips the caller's reaction on a message
func (h *ChatHandler) ToggleReaction(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	messageID := chi.URLParam(r, "messageID")
	if messageID == "" {
		respondWithError(w, http.StatusBadRequest, "Missing message ID", nil)
		return
	}

	type toggleRequest struct {
		Emoji string `json:"emoji"`
	}

	var req toggleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.Emoji == "" {
		respondWithError(w, http.StatusBadRequest, "Missing emoji", nil)
		return
	}

	state, err := h.store.ReactionCounts(r.Context(), []string{messageID}, userID)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "Failed to read reaction state", err)
		return
	}

	if state[messageID].Reacted {
		err = h.store.RemoveReaction(r.Context(), messageID, userID, req.Emoji)
	} else {
		err = h.store.AddReaction(r.Context(), messageID, userID, req.Emoji)
	}
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "Failed to toggle reaction", err)
		return
	}

	respondWithJSON(w, http.StatusOK, map[string]bool{"reacted": !state[messageID].Reacted})
}

// MarkRead advances the caller's read cursor for a conversation
func (h *ChatHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	conversationID := chi.URLParam(r, "id")
	if conversationID == "" {
		respondWithError(w, http.StatusBadRequest, "Missing conversation ID", nil)
		return
	}

	if err := h.store.MarkRead(r.Context(), userID, conversationID, time.Now()); err != nil {
		respondWithError(w, http.StatusInternalServerError, "Failed to mark read", err)
		return
	}

	respondWithJSON(w, http.StatusOK, map[string]string{"status": "read"})
}

// authorized checks the caller may read and write the conversation: DM
// threads require exact participation and no ban on either side, megaphone
// threads require membership.
func (h *ChatHandler) authorized(w http.ResponseWriter, r *http.Request, userID, conversationID string) bool {
	if conversationID == "" {
		respondWithError(w, http.StatusBadRequest, "Missing conversation ID", nil)
		return false
	}
	if !strings.HasPrefix(conversationID, "dm:") && !strings.HasPrefix(conversationID, "mp:") {
		respondWithError(w, http.StatusBadRequest, "Unknown conversation kind", nil)
		return false
	}

	ok, err := canAccessConversation(r.Context(), h.social, h.megaphones, userID, conversationID)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "Failed to check conversation access", err)
		return false
	}
	if !ok {
		respondWithError(w, http.StatusForbidden, "Conversation unavailable", nil)
		return false
	}
	return true
}
