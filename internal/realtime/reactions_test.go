package realtime

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shoutmap/internal/domain/chat"
)

// fakeReactionStore holds reaction rows in memory and counts grouped reads.
type fakeReactionStore struct {
	mu      sync.Mutex
	rows    map[string]map[string]struct{} // messageID -> reacting user IDs
	reads   int
	failMut error
}

func newFakeReactionStore() *fakeReactionStore {
	return &fakeReactionStore{rows: make(map[string]map[string]struct{})}
}

func (s *fakeReactionStore) ReactionCounts(_ context.Context, messageIDs []string, viewerID string) (map[string]chat.ReactionState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.reads++
	out := make(map[string]chat.ReactionState, len(messageIDs))
	for _, id := range messageIDs {
		users := s.rows[id]
		_, reacted := users[viewerID]
		out[id] = chat.ReactionState{Count: len(users), Reacted: reacted}
	}
	return out, nil
}

func (s *fakeReactionStore) AddReaction(_ context.Context, messageID, userID, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failMut != nil {
		return s.failMut
	}
	if s.rows[messageID] == nil {
		s.rows[messageID] = make(map[string]struct{})
	}
	s.rows[messageID][userID] = struct{}{}
	return nil
}

func (s *fakeReactionStore) RemoveReaction(_ context.Context, messageID, userID, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failMut != nil {
		return s.failMut
	}
	delete(s.rows[messageID], userID)
	return nil
}

func (s *fakeReactionStore) readCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reads
}

func (s *fakeReactionStore) seed(messageID string, userIDs ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.rows[messageID] == nil {
		s.rows[messageID] = make(map[string]struct{})
	}
	for _, id := range userIDs {
		s.rows[messageID][id] = struct{}{}
	}
}

func TestReactionCountsBurstCoalesces(t *testing.T) {
	bus := NewMemoryBus()
	reg := NewRegistry(bus)
	pub := NewPublisher(bus)
	store := newFakeReactionStore()

	rc, err := NewReactionCounts(reg, store, "viewer", "❤️", 50*time.Millisecond)
	require.NoError(t, err)
	defer rc.Close()

	rc.Track("m1")
	require.Eventually(t, func() bool { return store.readCount() == 1 }, time.Second, 5*time.Millisecond)

	// Five reactions land within one debounce window.
	for i, u := range []string{"u1", "u2", "u3", "u4", "u5"} {
		store.seed("m1", u)
		pub.Changed("reactions", OpInsert, chat.Reaction{MessageID: "m1", UserID: u})
		if i < 4 {
			time.Sleep(5 * time.Millisecond)
		}
	}

	require.Eventually(t, func() bool { return rc.Count("m1") == 5 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 2, store.readCount(), "a burst of five events settles into one grouped re-read")
	assert.False(t, rc.HasReacted("m1"))
}

func TestReactionCountsIgnoresUntrackedMessages(t *testing.T) {
	bus := NewMemoryBus()
	reg := NewRegistry(bus)
	pub := NewPublisher(bus)
	store := newFakeReactionStore()

	rc, err := NewReactionCounts(reg, store, "viewer", "❤️", 20*time.Millisecond)
	require.NoError(t, err)
	defer rc.Close()

	rc.Track("m1")
	require.Eventually(t, func() bool { return store.readCount() == 1 }, time.Second, 5*time.Millisecond)

	pub.Changed("reactions", OpInsert, chat.Reaction{MessageID: "other", UserID: "u1"})

	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, 1, store.readCount(), "events for untracked messages never trigger a re-read")
}

func TestReactionCountsToggle(t *testing.T) {
	bus := NewMemoryBus()
	reg := NewRegistry(bus)
	store := newFakeReactionStore()
	store.seed("m1", "u1", "u2")

	rc, err := NewReactionCounts(reg, store, "viewer", "❤️", 20*time.Millisecond)
	require.NoError(t, err)
	defer rc.Close()

	rc.Track("m1")
	require.Eventually(t, func() bool { return rc.Count("m1") == 2 }, time.Second, 5*time.Millisecond)

	// Toggle on: optimistic bump is visible immediately.
	require.NoError(t, rc.Toggle(context.Background(), "m1"))
	assert.Equal(t, 3, rc.Count("m1"))
	assert.True(t, rc.HasReacted("m1"))

	// Toggle off returns to the pre-toggle aggregate.
	require.NoError(t, rc.Toggle(context.Background(), "m1"))
	assert.Equal(t, 2, rc.Count("m1"))
	assert.False(t, rc.HasReacted("m1"))
}

func TestReactionCountsToggleRollback(t *testing.T) {
	bus := NewMemoryBus()
	reg := NewRegistry(bus)
	store := newFakeReactionStore()
	store.seed("m1", "u1")

	rc, err := NewReactionCounts(reg, store, "viewer", "❤️", 20*time.Millisecond)
	require.NoError(t, err)
	defer rc.Close()

	rc.Track("m1")
	require.Eventually(t, func() bool { return rc.Count("m1") == 1 }, time.Second, 5*time.Millisecond)

	store.failMut = errors.New("write rejected")
	err = rc.Toggle(context.Background(), "m1")
	require.Error(t, err)

	// The failed mutation forces a re-read, restoring the true state.
	assert.Equal(t, 1, rc.Count("m1"))
	assert.False(t, rc.HasReacted("m1"))
}

func TestReactionCountsClose(t *testing.T) {
	bus := NewMemoryBus()
	reg := NewRegistry(bus)
	store := newFakeReactionStore()

	rc, err := NewReactionCounts(reg, store, "viewer", "❤️", 20*time.Millisecond)
	require.NoError(t, err)
	require.Equal(t, 1, bus.SubscriberCount(ChangeTopic("reactions")))

	rc.Close()
	assert.Equal(t, 0, bus.SubscriberCount(ChangeTopic("reactions")))
}
