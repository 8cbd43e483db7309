package chat

import (
	"context"
	"sort"
	"strings"
	"time"
)

// Message is a chat message in a conversation. A conversation is either a
// direct pair of profiles or a megaphone's group chat.
type Message struct {
	ID             string              `json:"id"`
	ConversationID string              `json:"conversation_id"`
	SenderID       string              `json:"sender_id"`
	Content        string              `json:"content"`
	CreatedAt      time.Time           `json:"created_at"`
	Reactions      map[string][]string `json:"reactions,omitempty"` // emoji -> reacting user IDs
}

// UnreadCursor marks the boundary between read and unread messages for one
// user in one conversation.
type UnreadCursor struct {
	UserID         string    `json:"user_id"`
	ConversationID string    `json:"conversation_id"`
	LastReadAt     time.Time `json:"last_read_at"`
}

// DirectConversationID derives the canonical conversation ID for a pair of
// profiles. The ID is order-independent so both sides address the same thread.
func DirectConversationID(a, b string) string {
	pair := []string{a, b}
	sort.Strings(pair)
	return "dm:" + strings.Join(pair, ":")
}

// MegaphoneConversationID derives the conversation ID for a megaphone's
// group chat.
func MegaphoneConversationID(megaphoneID string) string {
	return "mp:" + megaphoneID
}

// Reaction is one user's emoji reaction to one message.
type Reaction struct {
	MessageID string    `json:"message_id"`
	UserID    string    `json:"user_id"`
	Emoji     string    `json:"emoji"`
	CreatedAt time.Time `json:"created_at"`
}

// ReactionState is the settled aggregate for one message as seen by one user.
type ReactionState struct {
	Count   int  `json:"count"`
	Reacted bool `json:"reacted"`
}

// Store defines persistence for messages, reactions and unread cursors.
type Store interface {
	// SaveMessage inserts a message
	SaveMessage(ctx context.Context, m Message) error

	// Messages returns messages for a conversation, oldest first
	Messages(ctx context.Context, conversationID string, limit int) ([]Message, error)

	// LastMessage returns the most recent message in a conversation, or nil
	LastMessage(ctx context.Context, conversationID string) (*Message, error)

	// AddReaction records a reaction; AddReaction of an existing row is a no-op
	AddReaction(ctx context.Context, messageID, userID, emoji string) error

	// RemoveReaction removes a reaction
	RemoveReaction(ctx context.Context, messageID, userID, emoji string) error

	// ReactionCounts returns the settled reaction aggregate for a batch of
	// messages from the viewer's perspective, in one grouped query
	ReactionCounts(ctx context.Context, messageIDs []string, viewerID string) (map[string]ReactionState, error)

	// UnreadCounts returns, per conversation, the number of messages newer
	// than the viewer's cursor authored by someone else
	UnreadCounts(ctx context.Context, viewerID string, conversationIDs []string) (map[string]int, error)

	// MarkRead advances the viewer's cursor for a conversation
	MarkRead(ctx context.Context, viewerID, conversationID string, at time.Time) error
}
