package realtime

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"shoutmap/internal/domain/chat"
)

// ReactionStore is the slice of chat persistence the reaction aggregator
// needs.
type ReactionStore interface {
	ReactionCounts(ctx context.Context, messageIDs []string, viewerID string) (map[string]chat.ReactionState, error)
	AddReaction(ctx context.Context, messageID, userID, emoji string) error
	RemoveReaction(ctx context.Context, messageID, userID, emoji string) error
}

// ReactionCounts keeps a settled reaction aggregate for a tracked set of
// messages, fed by the reactions change stream. Bursts of change events
// collapse into one grouped re-read; only the optimistic step of Toggle is
// counter-based, so concurrent edits from other clients can never drift the
// counts.
type ReactionCounts struct {
	store    ReactionStore
	viewerID string
	emoji    string

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.RWMutex
	tracked map[string]struct{}
	state   map[string]chat.ReactionState

	deb      *refetcher
	listener *Listener
}

// NewReactionCounts creates a reaction aggregator for one viewer and one
// reaction emoji (the map UI only offers a single "like" reaction per
// surface). It subscribes to the reactions change stream through the registry.
func NewReactionCounts(reg *Registry, store ReactionStore, viewerID, emoji string, window time.Duration) (*ReactionCounts, error) {
	ctx, cancel := context.WithCancel(context.Background())

	rc := &ReactionCounts{
		store:    store,
		viewerID: viewerID,
		emoji:    emoji,
		ctx:      ctx,
		cancel:   cancel,
		tracked:  make(map[string]struct{}),
		state:    make(map[string]chat.ReactionState),
	}
	rc.deb = newRefetcher(window, rc.refresh)

	listener, err := NewListener(reg, ListenerConfig{
		Table:   "reactions",
		Enabled: true,
		Filter:  rc.tracksEvent,
		Callbacks: Callbacks{
			OnInsert: func(ChangeEvent) { rc.deb.Invalidate() },
			OnDelete: func(ChangeEvent) { rc.deb.Invalidate() },
		},
	})
	if err != nil {
		cancel()
		return nil, err
	}
	rc.listener = listener

	return rc, nil
}

// Track adds messages to the aggregate and schedules an initial read.
func (rc *ReactionCounts) Track(messageIDs ...string) {
	rc.mu.Lock()
	for _, id := range messageIDs {
		rc.tracked[id] = struct{}{}
	}
	rc.mu.Unlock()

	rc.deb.Invalidate()
}

// Count returns the settled reaction count for a message.
func (rc *ReactionCounts) Count(messageID string) int {
	rc.mu.RLock()
	defer rc.mu.RUnlock()
	return rc.state[messageID].Count
}

// HasReacted reports whether the viewer has reacted to a message, against the
// last-settled state.
func (rc *ReactionCounts) HasReacted(messageID string) bool {
	rc.mu.RLock()
	defer rc.mu.RUnlock()
	return rc.state[messageID].Reacted
}

// Toggle flips the viewer's reaction on a message: the local aggregate is
// updated optimistically, the mutation is issued, and on failure the true
// state is restored by a forced re-read. Toggling twice returns the aggregate
// to its pre-toggle value.
func (rc *ReactionCounts) Toggle(ctx context.Context, messageID string) error {
	rc.mu.Lock()
	prev := rc.state[messageID]
	next := prev
	if prev.Reacted {
		next.Reacted = false
		next.Count = prev.Count - 1
	} else {
		next.Reacted = true
		next.Count = prev.Count + 1
	}
	rc.state[messageID] = next
	rc.tracked[messageID] = struct{}{}
	rc.mu.Unlock()

	var err error
	if prev.Reacted {
		err = rc.store.RemoveReaction(ctx, messageID, rc.viewerID, rc.emoji)
	} else {
		err = rc.store.AddReaction(ctx, messageID, rc.viewerID, rc.emoji)
	}

	if err != nil {
		// No partial-failure bookkeeping: re-read and trust the server.
		rc.refresh()
		return err
	}

	return nil
}

// Close stops the aggregator and releases its change-stream claim.
func (rc *ReactionCounts) Close() {
	rc.cancel()
	rc.deb.Close()
	rc.listener.Close()
}

func (rc *ReactionCounts) tracksEvent(event ChangeEvent) bool {
	var row chat.Reaction
	if err := json.Unmarshal(event.Row, &row); err != nil {
		log.Printf("reaction counts: decode row: %v", err)
		return false
	}

	rc.mu.RLock()
	defer rc.mu.RUnlock()
	_, ok := rc.tracked[row.MessageID]
	return ok
}

func (rc *ReactionCounts) refresh() {
	rc.mu.RLock()
	ids := make([]string, 0, len(rc.tracked))
	for id := range rc.tracked {
		ids = append(ids, id)
	}
	rc.mu.RUnlock()

	if len(ids) == 0 {
		return
	}

	state, err := rc.store.ReactionCounts(rc.ctx, ids, rc.viewerID)
	if err != nil {
		log.Printf("reaction counts: refresh: %v", err)
		return
	}

	// The aggregator may have been closed while the read was in flight.
	if rc.ctx.Err() != nil {
		return
	}

	rc.mu.Lock()
	for _, id := range ids {
		rc.state[id] = state[id]
	}
	rc.mu.Unlock()
}
