package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"

	"shoutmap/internal/domain/chat"
	"shoutmap/internal/realtime"
)

// ChatStore implements storage for messages, reactions and unread cursors
type ChatStore struct {
	db      *pgxpool.Pool
	changes *realtime.Publisher
}

// NewChatStore creates a new chat store
func NewChatStore(db *pgxpool.Pool, changes *realtime.Publisher) *ChatStore {
	return &ChatStore{
		db:      db,
		changes: changes,
	}
}

// SaveMessage inserts a message
func (s *ChatStore) SaveMessage(ctx context.Context, m chat.Message) error {
	query := `
		INSERT INTO messages (id, conversation_id, sender_id, content, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`

	_, err := s.db.Exec(ctx, query, m.ID, m.ConversationID, m.SenderID, m.Content, m.CreatedAt)
	if err != nil {
		return fmt.Errorf("error saving message: %w", err)
	}

	s.changes.Changed("messages", realtime.OpInsert, m)

	return nil
}

// Messages returns messages for a conversation, oldest first
func (s *ChatStore) Messages(ctx context.Context, conversationID string, limit int) ([]chat.Message, error) {
	if limit <= 0 {
		limit = 50
	}

	// Page from the newest end, then flip to oldest-first for display.
	query := `
		SELECT id, conversation_id, sender_id, content, created_at
		FROM (
			SELECT id, conversation_id, sender_id, content, created_at
			FROM messages
			WHERE conversation_id = $1
			ORDER BY created_at DESC
			LIMIT $2
		) page
		ORDER BY created_at ASC
	`

	rows, err := s.db.Query(ctx, query, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("error querying messages: %w", err)
	}
	defer rows.Close()

	var messages []chat.Message
	for rows.Next() {
		var m chat.Message
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.Content, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("error scanning message: %w", err)
		}
		messages = append(messages, m)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating messages: %w", err)
	}

	return messages, nil
}

// LastMessage returns the most recent message in a conversation, or nil
func (s *ChatStore) LastMessage(ctx context.Context, conversationID string) (*chat.Message, error) {
	query := `
		SELECT id, conversation_id, sender_id, content, created_at
		FROM messages
		WHERE conversation_id = $1
		ORDER BY created_at DESC
		LIMIT 1
	`

	rows, err := s.db.Query(ctx, query, conversationID)
	if err != nil {
		return nil, fmt.Errorf("error querying last message: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}

	var m chat.Message
	if err := rows.Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.Content, &m.CreatedAt); err != nil {
		return nil, fmt.Errorf("error scanning last message: %w", err)
	}

	return &m, nil
}

// AddReaction records a reaction; adding an existing reaction is a no-op
func (s *ChatStore) AddReaction(ctx context.Context, messageID, userID, emoji string) error {
	query := `
		INSERT INTO reactions (message_id, user_id, emoji, created_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (message_id, user_id, emoji) DO NOTHING
	`

	tag, err := s.db.Exec(ctx, query, messageID, userID, emoji)
	if err != nil {
		return fmt.Errorf("error adding reaction: %w", err)
	}

	if tag.RowsAffected() > 0 {
		s.changes.Changed("reactions", realtime.OpInsert, chat.Reaction{
			MessageID: messageID,
			UserID:    userID,
			Emoji:     emoji,
			CreatedAt: time.Now(),
		})
	}

	return nil
}

// RemoveReaction removes a reaction
func (s *ChatStore) RemoveReaction(ctx context.Context, messageID, userID, emoji string) error {
	query := `DELETE FROM reactions WHERE message_id = $1 AND user_id = $2 AND emoji = $3`

	tag, err := s.db.Exec(ctx, query, messageID, userID, emoji)
	if err != nil {
		return fmt.Errorf("error removing reaction: %w", err)
	}

	if tag.RowsAffected() > 0 {
		s.changes.Changed("reactions", realtime.OpDelete, chat.Reaction{
			MessageID: messageID,
			UserID:    userID,
			Emoji:     emoji,
		})
	}

	return nil
}

// ReactionCounts returns the settled reaction aggregate for a batch of
// messages from the viewer's perspective, in one grouped query
func (s *ChatStore) ReactionCounts(ctx context.Context, messageIDs []string, viewerID string) (map[string]chat.ReactionState, error) {
	out := make(map[string]chat.ReactionState, len(messageIDs))
	if len(messageIDs) == 0 {
		return out, nil
	}

	query := `
		SELECT
			message_id,
			count(*),
			bool_or(user_id = $2)
		FROM reactions
		WHERE message_id = ANY($1)
		GROUP BY message_id
	`

	rows, err := s.db.Query(ctx, query, messageIDs, viewerID)
	if err != nil {
		return nil, fmt.Errorf("error querying reaction counts: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var messageID string
		var state chat.ReactionState
		if err := rows.Scan(&messageID, &state.Count, &state.Reacted); err != nil {
			return nil, fmt.Errorf("error scanning reaction count: %w", err)
		}
		out[messageID] = state
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating reaction counts: %w", err)
	}

	return out, nil
}

// UnreadCounts returns, per conversation, the number of messages newer than
// the viewer's cursor authored by someone else
func (s *ChatStore) UnreadCounts(ctx context.Context, viewerID string, conversationIDs []string) (map[string]int, error) {
	out := make(map[string]int, len(conversationIDs))
	if len(conversationIDs) == 0 {
		return out, nil
	}

	query := `
		SELECT
			m.conversation_id,
			count(*)
		FROM messages m
		LEFT JOIN unread_cursors c
			ON c.conversation_id = m.conversation_id AND c.user_id = $1
		WHERE m.conversation_id = ANY($2)
		AND m.sender_id <> $1
		AND m.created_at > COALESCE(c.last_read_at, '-infinity')
		GROUP BY m.conversation_id
	`

	rows, err := s.db.Query(ctx, query, viewerID, conversationIDs)
	if err != nil {
		return nil, fmt.Errorf("error querying unread counts: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var conversationID string
		var count int
		if err := rows.Scan(&conversationID, &count); err != nil {
			return nil, fmt.Errorf("error scanning unread count: %w", err)
		}
		out[conversationID] = count
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating unread counts: %w", err)
	}

	return out, nil
}

// MarkRead advances the viewer's cursor for a conversation. The cursor never
// moves backwards.
func (s *ChatStore) MarkRead(ctx context.Context, viewerID, conversationID string, at time.Time) error {
	query := `
		INSERT INTO unread_cursors (user_id, conversation_id, last_read_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id, conversation_id) DO UPDATE
		SET last_read_at = GREATEST(unread_cursors.last_read_at, $3)
	`

	if _, err := s.db.Exec(ctx, query, viewerID, conversationID, at); err != nil {
		return fmt.Errorf("error advancing read cursor: %w", err)
	}

	return nil
}
