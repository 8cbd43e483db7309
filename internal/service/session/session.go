package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"shoutmap/internal/domain/chat"
	"shoutmap/internal/domain/megaphone"
	"shoutmap/internal/domain/profile"
	"shoutmap/internal/realtime"
)

// Config tunes per-user realtime sessions.
type Config struct {
	DebounceWindow time.Duration
	IdleTimeout    time.Duration
	ReactionEmoji  string
}

// ChatStore is the slice of chat persistence the aggregators need.
type ChatStore interface {
	realtime.UnreadStore
	realtime.ReactionStore
	LastMessage(ctx context.Context, conversationID string) (*chat.Message, error)
}

// MegaphoneStore is the slice of megaphone persistence the inbox needs.
type MegaphoneStore interface {
	ActiveForUser(ctx context.Context, userID string, now time.Time) ([]megaphone.Megaphone, error)
}

// ProfileStore is the slice of profile persistence the inbox needs.
type ProfileStore interface {
	GetProfiles(ctx context.Context, ids []string) (map[string]profile.Profile, error)
}

// Stores bundles the persistence a session's aggregators read from.
type Stores struct {
	Chat       ChatStore
	Social     realtime.ConnectionStore
	Megaphones MegaphoneStore
	Profiles   ProfileStore
}

// Session is one user's live realtime state: connection set, unread badges,
// reaction aggregates and the composed inbox. Sessions are shared between
// the websocket gateway and HTTP handlers; the change-stream subscriptions
// underneath are shared through the registry either way.
type Session struct {
	UserID      string
	Connections *realtime.ConnectionSet
	Unread      *realtime.UnreadCounts
	Reactions   *realtime.ReactionCounts
	Inbox       *realtime.Inbox

	refs     int
	lastUsed time.Time
}

// Manager hands out refcounted sessions keyed by user ID. A session created
// for an HTTP request lingers for IdleTimeout so a burst of requests reuses
// the same aggregators instead of resubscribing per request.
type Manager struct {
	reg    *realtime.Registry
	stores Stores
	cfg    Config

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewManager creates a session manager over the registry.
func NewManager(reg *realtime.Registry, stores Stores, cfg Config) *Manager {
	if cfg.DebounceWindow <= 0 {
		cfg.DebounceWindow = realtime.DefaultDebounceWindow
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 5 * time.Minute
	}
	if cfg.ReactionEmoji == "" {
		cfg.ReactionEmoji = "❤️"
	}
	return &Manager{
		reg:      reg,
		stores:   stores,
		cfg:      cfg,
		sessions: make(map[string]*Session),
	}
}

// Acquire returns the user's session, creating it on first use. Every
// Acquire must be paired with a Release.
func (m *Manager) Acquire(userID string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.sessions[userID]; ok {
		s.refs++
		s.lastUsed = time.Now()
		return s, nil
	}

	connections, err := realtime.NewConnectionSet(m.reg, m.stores.Social, userID, m.cfg.DebounceWindow)
	if err != nil {
		return nil, fmt.Errorf("creating connection set: %w", err)
	}

	unread, err := realtime.NewUnreadCounts(m.reg, m.stores.Chat, userID, m.cfg.DebounceWindow)
	if err != nil {
		connections.Close()
		return nil, fmt.Errorf("creating unread counts: %w", err)
	}

	reactions, err := realtime.NewReactionCounts(m.reg, m.stores.Chat, userID, m.cfg.ReactionEmoji, m.cfg.DebounceWindow)
	if err != nil {
		connections.Close()
		unread.Close()
		return nil, fmt.Errorf("creating reaction counts: %w", err)
	}

	s := &Session{
		UserID:      userID,
		Connections: connections,
		Unread:      unread,
		Reactions:   reactions,
		Inbox: realtime.NewInbox(inboxStore{
			chat:       m.stores.Chat,
			megaphones: m.stores.Megaphones,
			profiles:   m.stores.Profiles,
		}, connections, unread, userID),
		refs:     1,
		lastUsed: time.Now(),
	}
	m.sessions[userID] = s

	return s, nil
}

// Release drops one claim on the session. Idle sessions are torn down by
// Sweep, not here, so back-to-back requests keep their aggregators warm.
func (m *Manager) Release(s *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s.refs--
	s.lastUsed = time.Now()
}

// Sweep closes sessions that have been unreferenced longer than IdleTimeout.
func (m *Manager) Sweep(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for userID, s := range m.sessions {
		if s.refs <= 0 && now.Sub(s.lastUsed) >= m.cfg.IdleTimeout {
			s.close()
			delete(m.sessions, userID)
		}
	}
}

// Run sweeps periodically until the context is cancelled.
func (m *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.IdleTimeout / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			m.Sweep(now)
		}
	}
}

// Close tears down every session.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for userID, s := range m.sessions {
		s.close()
		delete(m.sessions, userID)
	}
}

// ActiveSessions returns the number of live sessions.
func (m *Manager) ActiveSessions() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

func (s *Session) close() {
	s.Connections.Close()
	s.Unread.Close()
	s.Reactions.Close()
}

// inboxStore adapts the session stores to the inbox's read interface.
type inboxStore struct {
	chat       ChatStore
	megaphones MegaphoneStore
	profiles   ProfileStore
}

func (s inboxStore) LastMessage(ctx context.Context, conversationID string) (*chat.Message, error) {
	return s.chat.LastMessage(ctx, conversationID)
}

func (s inboxStore) ActiveForUser(ctx context.Context, userID string, now time.Time) ([]megaphone.Megaphone, error) {
	return s.megaphones.ActiveForUser(ctx, userID, now)
}

func (s inboxStore) GetProfiles(ctx context.Context, ids []string) (map[string]profile.Profile, error) {
	return s.profiles.GetProfiles(ctx, ids)
}
