package realtime

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"shoutmap/internal/domain/social"
)

// ConnectionStore is the slice of social persistence the connection
// aggregator needs.
type ConnectionStore interface {
	Connections(ctx context.Context, userID string) ([]social.Connection, error)
	PendingInvitations(ctx context.Context, toID string) ([]social.Invitation, error)
}

// ConnectionSet keeps one user's accepted connections and pending incoming
// invitations live against the invitations change stream. Each invitation
// status transition triggers exactly one debounced re-read of both lists.
type ConnectionSet struct {
	store  ConnectionStore
	userID string

	ctx    context.Context
	cancel context.CancelFunc

	mu          sync.RWMutex
	connections []social.Connection
	pending     []social.Invitation

	deb      *refetcher
	listener *Listener
}

// NewConnectionSet creates the aggregator and schedules its initial read.
func NewConnectionSet(reg *Registry, store ConnectionStore, userID string, window time.Duration) (*ConnectionSet, error) {
	ctx, cancel := context.WithCancel(context.Background())

	cs := &ConnectionSet{
		store:  store,
		userID: userID,
		ctx:    ctx,
		cancel: cancel,
	}
	cs.deb = newRefetcher(window, cs.refresh)

	invalidate := func(ChangeEvent) { cs.deb.Invalidate() }
	listener, err := NewListener(reg, ListenerConfig{
		Table:   "invitations",
		Enabled: true,
		Filter:  cs.tracksEvent,
		Callbacks: Callbacks{
			OnInsert: invalidate,
			OnUpdate: invalidate,
			OnDelete: invalidate,
		},
	})
	if err != nil {
		cancel()
		return nil, err
	}
	cs.listener = listener

	cs.deb.Invalidate()

	return cs, nil
}

// Connections returns the last-settled accepted connections.
func (cs *ConnectionSet) Connections() []social.Connection {
	cs.mu.RLock()
	defer cs.mu.RUnlock()

	out := make([]social.Connection, len(cs.connections))
	copy(out, cs.connections)
	return out
}

// Pending returns the last-settled pending incoming invitations.
func (cs *ConnectionSet) Pending() []social.Invitation {
	cs.mu.RLock()
	defer cs.mu.RUnlock()

	out := make([]social.Invitation, len(cs.pending))
	copy(out, cs.pending)
	return out
}

// Connected reports whether the user has an accepted connection to the peer.
func (cs *ConnectionSet) Connected(peerID string) bool {
	cs.mu.RLock()
	defer cs.mu.RUnlock()

	for _, c := range cs.connections {
		if c.PeerID == peerID {
			return true
		}
	}
	return false
}

// Close stops the aggregator and releases its change-stream claim.
func (cs *ConnectionSet) Close() {
	cs.cancel()
	cs.deb.Close()
	cs.listener.Close()
}

func (cs *ConnectionSet) tracksEvent(event ChangeEvent) bool {
	var row social.Invitation
	if err := json.Unmarshal(event.Row, &row); err != nil {
		log.Printf("connection set: decode row: %v", err)
		return false
	}
	return row.FromID == cs.userID || row.ToID == cs.userID
}

func (cs *ConnectionSet) refresh() {
	connections, err := cs.store.Connections(cs.ctx, cs.userID)
	if err != nil {
		log.Printf("connection set: refresh connections: %v", err)
		return
	}

	pending, err := cs.store.PendingInvitations(cs.ctx, cs.userID)
	if err != nil {
		log.Printf("connection set: refresh invitations: %v", err)
		return
	}

	if cs.ctx.Err() != nil {
		return
	}

	cs.mu.Lock()
	cs.connections = connections
	cs.pending = pending
	cs.mu.Unlock()
}
