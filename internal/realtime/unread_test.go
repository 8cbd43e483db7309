package realtime

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shoutmap/internal/domain/chat"
)

// fakeUnreadStore keeps messages and read cursors in memory.
type fakeUnreadStore struct {
	mu       sync.Mutex
	messages []chat.Message
	cursors  map[string]time.Time // conversationID -> viewer's cursor
	reads    int
}

func newFakeUnreadStore() *fakeUnreadStore {
	return &fakeUnreadStore{cursors: make(map[string]time.Time)}
}

func (s *fakeUnreadStore) UnreadCounts(_ context.Context, viewerID string, conversationIDs []string) (map[string]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.reads++
	out := make(map[string]int, len(conversationIDs))
	for _, convID := range conversationIDs {
		cursor := s.cursors[convID]
		for _, m := range s.messages {
			if m.ConversationID == convID && m.SenderID != viewerID && m.CreatedAt.After(cursor) {
				out[convID]++
			}
		}
	}
	return out, nil
}

func (s *fakeUnreadStore) MarkRead(_ context.Context, _, conversationID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cursors[conversationID] = at
	return nil
}

func (s *fakeUnreadStore) addMessage(m chat.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, m)
}

func (s *fakeUnreadStore) readCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reads
}

func TestUnreadCountsBadges(t *testing.T) {
	bus := NewMemoryBus()
	reg := NewRegistry(bus)
	pub := NewPublisher(bus)
	store := newFakeUnreadStore()

	uc, err := NewUnreadCounts(reg, store, "viewer", 20*time.Millisecond)
	require.NoError(t, err)
	defer uc.Close()

	conv := chat.DirectConversationID("viewer", "peer")
	uc.Track(conv)

	msg := chat.Message{ID: "m1", ConversationID: conv, SenderID: "peer", CreatedAt: time.Now()}
	store.addMessage(msg)
	pub.Changed("messages", OpInsert, msg)

	require.Eventually(t, func() bool { return uc.Count(conv) == 1 }, time.Second, 5*time.Millisecond)
}

func TestUnreadCountsOwnMessagesDoNotCount(t *testing.T) {
	bus := NewMemoryBus()
	reg := NewRegistry(bus)
	pub := NewPublisher(bus)
	store := newFakeUnreadStore()

	uc, err := NewUnreadCounts(reg, store, "viewer", 20*time.Millisecond)
	require.NoError(t, err)
	defer uc.Close()

	conv := chat.DirectConversationID("viewer", "peer")
	uc.Track(conv)
	require.Eventually(t, func() bool { return store.readCount() >= 1 }, time.Second, 5*time.Millisecond)
	before := store.readCount()

	msg := chat.Message{ID: "m1", ConversationID: conv, SenderID: "viewer", CreatedAt: time.Now()}
	store.addMessage(msg)
	pub.Changed("messages", OpInsert, msg)

	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, before, store.readCount(), "the viewer's own messages never schedule a re-read")
	assert.Equal(t, 0, uc.Count(conv))
}

func TestUnreadCountsActiveConversationSuppressed(t *testing.T) {
	bus := NewMemoryBus()
	reg := NewRegistry(bus)
	pub := NewPublisher(bus)
	store := newFakeUnreadStore()

	uc, err := NewUnreadCounts(reg, store, "viewer", 20*time.Millisecond)
	require.NoError(t, err)
	defer uc.Close()

	conv := chat.DirectConversationID("viewer", "peer")
	uc.SetActive(context.Background(), conv)

	// Messages arriving while the conversation is open never show as unread,
	// even after the debounced re-read lands.
	msg := chat.Message{ID: "m1", ConversationID: conv, SenderID: "peer", CreatedAt: time.Now().Add(time.Minute)}
	store.addMessage(msg)
	pub.Changed("messages", OpInsert, msg)

	time.Sleep(80 * time.Millisecond)
	assert.Equal(t, 0, uc.Count(conv))

	// Once closed, new messages count again.
	uc.SetActive(context.Background(), "")
	msg2 := chat.Message{ID: "m2", ConversationID: conv, SenderID: "peer", CreatedAt: time.Now().Add(2 * time.Minute)}
	store.addMessage(msg2)
	pub.Changed("messages", OpInsert, msg2)

	require.Eventually(t, func() bool { return uc.Count(conv) > 0 }, time.Second, 5*time.Millisecond)
}

func TestUnreadCountsCloseMarksActiveRead(t *testing.T) {
	bus := NewMemoryBus()
	reg := NewRegistry(bus)
	pub := NewPublisher(bus)
	store := newFakeUnreadStore()

	uc, err := NewUnreadCounts(reg, store, "viewer", 20*time.Millisecond)
	require.NoError(t, err)
	defer uc.Close()

	conv := chat.DirectConversationID("viewer", "peer")
	uc.SetActive(context.Background(), conv)

	msg := chat.Message{ID: "m1", ConversationID: conv, SenderID: "peer", CreatedAt: time.Now()}
	store.addMessage(msg)
	pub.Changed("messages", OpInsert, msg)
	time.Sleep(60 * time.Millisecond)

	// Closing the conversation reads it up to that moment: the message seen
	// while it was open must not resurface as a badge on later refreshes.
	uc.SetActive(context.Background(), "")
	pub.Changed("messages", OpInsert, msg)
	time.Sleep(60 * time.Millisecond)

	assert.Equal(t, 0, uc.Count(conv))
}

func TestUnreadCountsMarkRead(t *testing.T) {
	bus := NewMemoryBus()
	reg := NewRegistry(bus)
	pub := NewPublisher(bus)
	store := newFakeUnreadStore()

	uc, err := NewUnreadCounts(reg, store, "viewer", 20*time.Millisecond)
	require.NoError(t, err)
	defer uc.Close()

	conv := chat.DirectConversationID("viewer", "peer")
	uc.Track(conv)

	msg := chat.Message{ID: "m1", ConversationID: conv, SenderID: "peer", CreatedAt: time.Now()}
	store.addMessage(msg)
	pub.Changed("messages", OpInsert, msg)
	require.Eventually(t, func() bool { return uc.Count(conv) == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, uc.MarkRead(context.Background(), conv))
	assert.Equal(t, 0, uc.Count(conv))
}
