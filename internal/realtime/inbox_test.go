package realtime

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shoutmap/internal/domain/chat"
	"shoutmap/internal/domain/megaphone"
	"shoutmap/internal/domain/profile"
	"shoutmap/internal/domain/social"
)

func invitationAt(id, from, to string, status social.InvitationStatus, at time.Time) social.Invitation {
	return social.Invitation{ID: id, FromID: from, ToID: to, Status: status, CreatedAt: at, UpdatedAt: at}
}

type fakeInboxStore struct {
	last       map[string]*chat.Message
	megaphones []megaphone.Megaphone
	profiles   map[string]profile.Profile
	lastErr    error
}

func (s *fakeInboxStore) LastMessage(_ context.Context, conversationID string) (*chat.Message, error) {
	if s.lastErr != nil {
		return nil, s.lastErr
	}
	return s.last[conversationID], nil
}

func (s *fakeInboxStore) ActiveForUser(_ context.Context, _ string, _ time.Time) ([]megaphone.Megaphone, error) {
	return s.megaphones, nil
}

func (s *fakeInboxStore) GetProfiles(_ context.Context, ids []string) (map[string]profile.Profile, error) {
	out := make(map[string]profile.Profile, len(ids))
	for _, id := range ids {
		if p, ok := s.profiles[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}

func newInboxFixture(t *testing.T, store *fakeInboxStore, connStore *fakeConnectionStore) *Inbox {
	t.Helper()

	bus := NewMemoryBus()
	reg := NewRegistry(bus)

	cs, err := NewConnectionSet(reg, connStore, "me", 10*time.Millisecond)
	require.NoError(t, err)
	t.Cleanup(cs.Close)

	uc, err := NewUnreadCounts(reg, newFakeUnreadStore(), "me", 10*time.Millisecond)
	require.NoError(t, err)
	t.Cleanup(uc.Close)

	// Let the connection set's initial read settle.
	require.Eventually(t, func() bool { return connStore.readCount() >= 1 }, time.Second, 5*time.Millisecond)

	return NewInbox(store, cs, uc, "me")
}

func TestInboxFeedMergesSources(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	connStore := &fakeConnectionStore{}
	connStore.set(invitationAt("i1", "ana", "me", social.StatusPending, base.Add(3*time.Hour)))
	connStore.set(invitationAt("i2", "bob", "me", social.StatusAccepted, base))

	dmConv := chat.DirectConversationID("me", "bob")
	mpConv := chat.MegaphoneConversationID("mp1")
	store := &fakeInboxStore{
		last: map[string]*chat.Message{
			dmConv: {ID: "m1", ConversationID: dmConv, SenderID: "bob", Content: "see you there", CreatedAt: base.Add(time.Hour)},
			mpConv: {ID: "m2", ConversationID: mpConv, SenderID: "cleo", Content: "starting soon", CreatedAt: base.Add(2 * time.Hour)},
		},
		megaphones: []megaphone.Megaphone{
			{ID: "mp1", HostID: "cleo", Title: "Park run", CreatedAt: base},
		},
		profiles: map[string]profile.Profile{
			"ana":  {ID: "ana", DisplayName: "Ana"},
			"bob":  {ID: "bob", DisplayName: "Bob"},
			"cleo": {ID: "cleo", DisplayName: "Cleo"},
		},
	}

	ib := newInboxFixture(t, store, connStore)

	feed, err := ib.Feed(context.Background())
	require.NoError(t, err)
	require.Len(t, feed, 3)

	// Reverse chronological: invitation (3h) > megaphone message (2h) > DM (1h).
	assert.Equal(t, ThreadInvitation, feed[0].Kind)
	assert.Equal(t, "Ana", feed[0].Title)
	assert.True(t, feed[0].Pending)
	assert.Zero(t, feed[0].Unread)

	assert.Equal(t, ThreadMegaphone, feed[1].Kind)
	assert.Equal(t, "Park run", feed[1].Title)
	assert.Equal(t, "starting soon", feed[1].Preview)
	assert.Equal(t, "Cleo", feed[1].PreviewSender)

	assert.Equal(t, ThreadDirect, feed[2].Kind)
	assert.Equal(t, "Bob", feed[2].Title)
	assert.Equal(t, "see you there", feed[2].Preview)
}

func TestInboxFeedEmptyThreadUsesCreationTime(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	connStore := &fakeConnectionStore{}
	// Fresh connection with no messages yet, accepted after the other thread's
	// last message.
	connStore.set(invitationAt("i1", "bob", "me", social.StatusAccepted, base.Add(2*time.Hour)))
	connStore.set(invitationAt("i2", "dan", "me", social.StatusAccepted, base))

	danConv := chat.DirectConversationID("me", "dan")
	store := &fakeInboxStore{
		last: map[string]*chat.Message{
			danConv: {ID: "m1", ConversationID: danConv, SenderID: "dan", Content: "hello", CreatedAt: base.Add(time.Hour)},
		},
		profiles: map[string]profile.Profile{
			"bob": {ID: "bob", DisplayName: "Bob"},
			"dan": {ID: "dan", DisplayName: "Dan"},
		},
	}

	ib := newInboxFixture(t, store, connStore)

	feed, err := ib.Feed(context.Background())
	require.NoError(t, err)
	require.Len(t, feed, 2)

	// The empty thread floats on its creation time instead of sinking below
	// every thread that has messages.
	assert.Equal(t, "Bob", feed[0].Title)
	assert.Empty(t, feed[0].Preview)
	assert.Equal(t, "Dan", feed[1].Title)
}

func TestInboxFeedDegradesPerItem(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	connStore := &fakeConnectionStore{}
	connStore.set(invitationAt("i1", "bob", "me", social.StatusAccepted, base))

	store := &fakeInboxStore{
		lastErr:  errors.New("preview query failed"),
		profiles: map[string]profile.Profile{"bob": {ID: "bob", DisplayName: "Bob"}},
	}

	ib := newInboxFixture(t, store, connStore)

	// A broken preview lookup degrades that thread to defaults, it never
	// breaks the feed.
	feed, err := ib.Feed(context.Background())
	require.NoError(t, err)
	require.Len(t, feed, 1)
	assert.Equal(t, "Bob", feed[0].Title)
	assert.Empty(t, feed[0].Preview)
	assert.True(t, feed[0].LastActivity.Equal(base))
}

func TestInboxFeedFallsBackToIDWithoutProfile(t *testing.T) {
	connStore := &fakeConnectionStore{}
	connStore.set(invitationAt("i1", "ghost", "me", social.StatusPending, time.Now()))

	store := &fakeInboxStore{profiles: map[string]profile.Profile{}}

	ib := newInboxFixture(t, store, connStore)

	feed, err := ib.Feed(context.Background())
	require.NoError(t, err)
	require.Len(t, feed, 1)
	assert.Equal(t, "ghost", feed[0].Title)
}
