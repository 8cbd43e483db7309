package realtime

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"shoutmap/internal/domain/chat"
)

// UnreadStore is the slice of chat persistence the unread aggregator needs.
type UnreadStore interface {
	UnreadCounts(ctx context.Context, viewerID string, conversationIDs []string) (map[string]int, error)
	MarkRead(ctx context.Context, viewerID, conversationID string, at time.Time) error
}

// UnreadCounts keeps per-conversation unread badges for one viewer: the
// number of messages newer than the viewer's cursor authored by someone else.
// New-message events schedule a debounced re-read; the conversation the
// viewer currently has open never accumulates unread.
type UnreadCounts struct {
	store    UnreadStore
	viewerID string

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.RWMutex
	tracked map[string]struct{}
	counts  map[string]int
	active  string

	deb      *refetcher
	listener *Listener
}

// NewUnreadCounts creates an unread aggregator for one viewer, subscribed to
// the messages change stream.
func NewUnreadCounts(reg *Registry, store UnreadStore, viewerID string, window time.Duration) (*UnreadCounts, error) {
	ctx, cancel := context.WithCancel(context.Background())

	uc := &UnreadCounts{
		store:    store,
		viewerID: viewerID,
		ctx:      ctx,
		cancel:   cancel,
		tracked:  make(map[string]struct{}),
		counts:   make(map[string]int),
	}
	uc.deb = newRefetcher(window, uc.refresh)

	listener, err := NewListener(reg, ListenerConfig{
		Table:   "messages",
		Enabled: true,
		Filter:  uc.tracksEvent,
		Callbacks: Callbacks{
			OnInsert: func(ChangeEvent) { uc.deb.Invalidate() },
			OnDelete: func(ChangeEvent) { uc.deb.Invalidate() },
		},
	})
	if err != nil {
		cancel()
		return nil, err
	}
	uc.listener = listener

	return uc, nil
}

// Track adds conversations to the badge set and schedules an initial read.
func (uc *UnreadCounts) Track(conversationIDs ...string) {
	uc.mu.Lock()
	for _, id := range conversationIDs {
		uc.tracked[id] = struct{}{}
	}
	uc.mu.Unlock()

	uc.deb.Invalidate()
}

// Count returns the settled unread count for a conversation.
func (uc *UnreadCounts) Count(conversationID string) int {
	uc.mu.RLock()
	defer uc.mu.RUnlock()
	return uc.counts[conversationID]
}

// SetActive marks a conversation as open. An open conversation's badge is
// pinned to zero and its cursor advanced, so messages arriving while the
// viewer is looking at the thread never count as unread. Pass "" when the
// viewer closes the conversation; the outgoing conversation is marked read
// up to that moment.
func (uc *UnreadCounts) SetActive(ctx context.Context, conversationID string) {
	uc.mu.Lock()
	previous := uc.active
	uc.active = conversationID
	if conversationID != "" {
		uc.counts[conversationID] = 0
		uc.tracked[conversationID] = struct{}{}
	}
	uc.mu.Unlock()

	// The conversation being closed was visible until now: advance its
	// cursor so the messages suppressed while it was open do not resurface
	// as unread.
	if previous != "" && previous != conversationID {
		if err := uc.store.MarkRead(ctx, uc.viewerID, previous, time.Now()); err != nil {
			log.Printf("unread counts: mark read %s: %v", previous, err)
		}
	}

	if conversationID != "" {
		if err := uc.store.MarkRead(ctx, uc.viewerID, conversationID, time.Now()); err != nil {
			log.Printf("unread counts: mark read %s: %v", conversationID, err)
		}
	}
}

// MarkRead advances the viewer's cursor for a conversation and zeroes its
// badge.
func (uc *UnreadCounts) MarkRead(ctx context.Context, conversationID string) error {
	if err := uc.store.MarkRead(ctx, uc.viewerID, conversationID, time.Now()); err != nil {
		return err
	}

	uc.mu.Lock()
	uc.counts[conversationID] = 0
	uc.mu.Unlock()

	return nil
}

// Close stops the aggregator and releases its change-stream claim.
func (uc *UnreadCounts) Close() {
	uc.cancel()
	uc.deb.Close()
	uc.listener.Close()
}

func (uc *UnreadCounts) tracksEvent(event ChangeEvent) bool {
	var row chat.Message
	if err := json.Unmarshal(event.Row, &row); err != nil {
		log.Printf("unread counts: decode row: %v", err)
		return false
	}

	// The viewer's own messages never affect their badges.
	if row.SenderID == uc.viewerID {
		return false
	}

	uc.mu.RLock()
	defer uc.mu.RUnlock()
	_, ok := uc.tracked[row.ConversationID]
	return ok
}

func (uc *UnreadCounts) refresh() {
	uc.mu.RLock()
	ids := make([]string, 0, len(uc.tracked))
	for id := range uc.tracked {
		ids = append(ids, id)
	}
	uc.mu.RUnlock()

	if len(ids) == 0 {
		return
	}

	counts, err := uc.store.UnreadCounts(uc.ctx, uc.viewerID, ids)
	if err != nil {
		log.Printf("unread counts: refresh: %v", err)
		return
	}

	if uc.ctx.Err() != nil {
		return
	}

	uc.mu.Lock()
	for _, id := range ids {
		if id == uc.active {
			// Suppressed while the conversation is open.
			uc.counts[id] = 0
			continue
		}
		uc.counts[id] = counts[id]
	}
	uc.mu.Unlock()
}
