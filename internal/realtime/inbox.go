package realtime

import (
	"context"
	"log"
	"sort"
	"time"

	"shoutmap/internal/domain/chat"
	"shoutmap/internal/domain/megaphone"
	"shoutmap/internal/domain/profile"
)

// ThreadKind distinguishes the three sources merged into the inbox feed.
type ThreadKind string

const (
	ThreadInvitation ThreadKind = "invitation"
	ThreadDirect     ThreadKind = "direct"
	ThreadMegaphone  ThreadKind = "megaphone"
)

// Thread is one row of the unified inbox feed.
type Thread struct {
	Kind           ThreadKind `json:"kind"`
	ConversationID string     `json:"conversation_id,omitempty"`
	PeerID         string     `json:"peer_id,omitempty"`
	Title          string     `json:"title"`
	Preview        string     `json:"preview,omitempty"`
	PreviewSender  string     `json:"preview_sender,omitempty"`
	LastActivity   time.Time  `json:"last_activity"`
	Unread         int        `json:"unread"`
	Pending        bool       `json:"pending,omitempty"`
}

// InboxStore is the persistence slice the inbox composition needs.
type InboxStore interface {
	LastMessage(ctx context.Context, conversationID string) (*chat.Message, error)
	ActiveForUser(ctx context.Context, userID string, now time.Time) ([]megaphone.Megaphone, error)
	GetProfiles(ctx context.Context, ids []string) (map[string]profile.Profile, error)
}

// Inbox merges pending incoming invitations, accepted connections (as DM
// threads) and the user's active megaphones (as group threads) into one
// reverse-chronological feed with unread badges.
type Inbox struct {
	store       InboxStore
	connections *ConnectionSet
	unread      *UnreadCounts
	userID      string
}

// NewInbox composes the aggregators into a feed builder for one user.
func NewInbox(store InboxStore, connections *ConnectionSet, unread *UnreadCounts, userID string) *Inbox {
	return &Inbox{
		store:       store,
		connections: connections,
		unread:      unread,
		userID:      userID,
	}
}

// Feed builds the merged feed. Fetch failures for a single item are logged
// and that item falls back to defaults; a broken preview never breaks the
// feed. Threads that have no messages yet sort by their creation time, so a
// fresh connection surfaces at the top instead of sinking to the bottom.
func (ib *Inbox) Feed(ctx context.Context) ([]Thread, error) {
	pending := ib.connections.Pending()
	connections := ib.connections.Connections()

	megaphones, err := ib.store.ActiveForUser(ctx, ib.userID, time.Now())
	if err != nil {
		return nil, err
	}

	// One batch lookup for every display name the feed needs.
	idSet := make(map[string]struct{})
	for _, inv := range pending {
		idSet[inv.FromID] = struct{}{}
	}
	for _, conn := range connections {
		idSet[conn.PeerID] = struct{}{}
	}

	var conversationIDs []string
	for _, conn := range connections {
		conversationIDs = append(conversationIDs, chat.DirectConversationID(ib.userID, conn.PeerID))
	}
	for _, m := range megaphones {
		conversationIDs = append(conversationIDs, chat.MegaphoneConversationID(m.ID))
	}
	ib.unread.Track(conversationIDs...)

	lastByConversation := make(map[string]*chat.Message, len(conversationIDs))
	for _, convID := range conversationIDs {
		msg, err := ib.store.LastMessage(ctx, convID)
		if err != nil {
			log.Printf("inbox: last message for %s: %v", convID, err)
			continue
		}
		lastByConversation[convID] = msg
		if msg != nil {
			idSet[msg.SenderID] = struct{}{}
		}
	}

	ids := make([]string, 0, len(idSet))
	for id := range idSet {
		ids = append(ids, id)
	}
	profiles, err := ib.store.GetProfiles(ctx, ids)
	if err != nil {
		log.Printf("inbox: batch profile lookup: %v", err)
		profiles = map[string]profile.Profile{}
	}

	displayName := func(id string) string {
		if p, ok := profiles[id]; ok {
			return p.DisplayName
		}
		return id
	}

	var feed []Thread

	// A pending invitation has no message history: it sorts by creation time
	// and is visually distinguished rather than read/unread.
	for _, inv := range pending {
		feed = append(feed, Thread{
			Kind:         ThreadInvitation,
			PeerID:       inv.FromID,
			Title:        displayName(inv.FromID),
			LastActivity: inv.CreatedAt,
			Pending:      true,
		})
	}

	for _, conn := range connections {
		convID := chat.DirectConversationID(ib.userID, conn.PeerID)
		thread := Thread{
			Kind:           ThreadDirect,
			ConversationID: convID,
			PeerID:         conn.PeerID,
			Title:          displayName(conn.PeerID),
			LastActivity:   conn.Since,
			Unread:         ib.unread.Count(convID),
		}
		if msg := lastByConversation[convID]; msg != nil {
			thread.Preview = msg.Content
			thread.PreviewSender = displayName(msg.SenderID)
			thread.LastActivity = msg.CreatedAt
		}
		feed = append(feed, thread)
	}

	for _, m := range megaphones {
		convID := chat.MegaphoneConversationID(m.ID)
		thread := Thread{
			Kind:           ThreadMegaphone,
			ConversationID: convID,
			Title:          m.Title,
			LastActivity:   m.CreatedAt,
			Unread:         ib.unread.Count(convID),
		}
		if msg := lastByConversation[convID]; msg != nil {
			thread.Preview = msg.Content
			thread.PreviewSender = displayName(msg.SenderID)
			thread.LastActivity = msg.CreatedAt
		}
		feed = append(feed, thread)
	}

	sort.SliceStable(feed, func(i, j int) bool {
		return feed[i].LastActivity.After(feed[j].LastActivity)
	})

	return feed, nil
}
