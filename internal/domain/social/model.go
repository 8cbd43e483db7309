package social

import (
	"context"
	"time"
)

// InvitationStatus is the state of a directed invitation between two profiles.
type InvitationStatus string

const (
	StatusPending   InvitationStatus = "pending"
	StatusAccepted  InvitationStatus = "accepted"
	StatusCancelled InvitationStatus = "cancelled"
)

// Invitation is a directed relationship request. Exactly one row represents a
// given ordered (FromID, ToID) pair at a time; an accepted invitation implies
// bidirectional visibility.
type Invitation struct {
	ID        string           `json:"id"`
	FromID    string           `json:"from_id"`
	ToID      string           `json:"to_id"`
	Status    InvitationStatus `json:"status"`
	CreatedAt time.Time        `json:"created_at"`
	UpdatedAt time.Time        `json:"updated_at"`
}

// Connection is an accepted relationship as seen from one side.
type Connection struct {
	PeerID string    `json:"peer_id"`
	Since  time.Time `json:"since"`
}

// Follow is a one-way subscription to another profile's activity.
type Follow struct {
	FollowerID string    `json:"follower_id"`
	FolloweeID string    `json:"followee_id"`
	CreatedAt  time.Time `json:"created_at"`
}

// Ban hides the banned profile's content from the banning user and vice versa.
type Ban struct {
	UserID    string    `json:"user_id"`
	BannedID  string    `json:"banned_id"`
	CreatedAt time.Time `json:"created_at"`
}

// Mute silences notifications from a profile without hiding content.
type Mute struct {
	UserID    string    `json:"user_id"`
	MutedID   string    `json:"muted_id"`
	CreatedAt time.Time `json:"created_at"`
}

// Store defines persistence for the social graph.
type Store interface {
	// CreateInvitation creates a pending invitation from one profile to another
	CreateInvitation(ctx context.Context, fromID, toID string) (*Invitation, error)

	// GetInvitation retrieves an invitation by ID
	GetInvitation(ctx context.Context, id string) (*Invitation, error)

	// UpdateInvitationStatus transitions an invitation's status
	UpdateInvitationStatus(ctx context.Context, id string, status InvitationStatus) error

	// PendingInvitations returns pending invitations addressed to a user
	PendingInvitations(ctx context.Context, toID string) ([]Invitation, error)

	// Connections returns the accepted connections for a user
	Connections(ctx context.Context, userID string) ([]Connection, error)

	// IsBanned reports whether either user has banned the other
	IsBanned(ctx context.Context, userID, otherID string) (bool, error)

	// Ban records a ban; Unban removes it
	Ban(ctx context.Context, userID, bannedID string) error
	Unban(ctx context.Context, userID, bannedID string) error

	// Mute records a mute; Unmute removes it
	Mute(ctx context.Context, userID, mutedID string) error
	Unmute(ctx context.Context, userID, mutedID string) error

	// Follow records a follow; Unfollow removes it
	Follow(ctx context.Context, followerID, followeeID string) error
	Unfollow(ctx context.Context, followerID, followeeID string) error
}
