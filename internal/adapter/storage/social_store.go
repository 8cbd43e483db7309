package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"shoutmap/internal/domain/social"
	"shoutmap/internal/realtime"
)

// SocialStore implements storage for the social graph
type SocialStore struct {
	db      *pgxpool.Pool
	changes *realtime.Publisher
}

// NewSocialStore creates a new social store
func NewSocialStore(db *pgxpool.Pool, changes *realtime.Publisher) *SocialStore {
	return &SocialStore{
		db:      db,
		changes: changes,
	}
}

// CreateInvitation creates a pending invitation from one profile to another.
// A second invitation for the same ordered pair reuses the existing row.
func (s *SocialStore) CreateInvitation(ctx context.Context, fromID, toID string) (*social.Invitation, error) {
	if fromID == toID {
		return nil, fmt.Errorf("cannot invite yourself")
	}

	query := `
		INSERT INTO invitations (id, from_id, to_id, status, created_at, updated_at)
		VALUES ($1, $2, $3, 'pending', $4, $4)
		ON CONFLICT (from_id, to_id) DO UPDATE
		SET status = 'pending', updated_at = $4
		WHERE invitations.status = 'cancelled'
		RETURNING id, from_id, to_id, status, created_at, updated_at
	`

	now := time.Now()
	var inv social.Invitation
	err := s.db.QueryRow(ctx, query, uuid.New().String(), fromID, toID, now).Scan(
		&inv.ID,
		&inv.FromID,
		&inv.ToID,
		&inv.Status,
		&inv.CreatedAt,
		&inv.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Conflict with a pending or accepted row, return it unchanged.
			return s.invitationByPair(ctx, fromID, toID)
		}
		return nil, fmt.Errorf("error creating invitation: %w", err)
	}

	s.changes.Changed("invitations", realtime.OpInsert, inv)

	return &inv, nil
}

// GetInvitation retrieves an invitation by ID
func (s *SocialStore) GetInvitation(ctx context.Context, id string) (*social.Invitation, error) {
	query := `
		SELECT id, from_id, to_id, status, created_at, updated_at
		FROM invitations
		WHERE id = $1
	`

	var inv social.Invitation
	err := s.db.QueryRow(ctx, query, id).Scan(
		&inv.ID,
		&inv.FromID,
		&inv.ToID,
		&inv.Status,
		&inv.CreatedAt,
		&inv.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("error querying invitation: %w", err)
	}

	return &inv, nil
}

// UpdateInvitationStatus transitions an invitation's status
func (s *SocialStore) UpdateInvitationStatus(ctx context.Context, id string, status social.InvitationStatus) error {
	query := `
		UPDATE invitations
		SET status = $2, updated_at = now()
		WHERE id = $1
		RETURNING id, from_id, to_id, status, created_at, updated_at
	`

	var inv social.Invitation
	err := s.db.QueryRow(ctx, query, id, string(status)).Scan(
		&inv.ID,
		&inv.FromID,
		&inv.ToID,
		&inv.Status,
		&inv.CreatedAt,
		&inv.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("error updating invitation: %w", err)
	}

	s.changes.Changed("invitations", realtime.OpUpdate, inv)

	return nil
}

// PendingInvitations returns pending invitations addressed to a user
func (s *SocialStore) PendingInvitations(ctx context.Context, toID string) ([]social.Invitation, error) {
	query := `
		SELECT id, from_id, to_id, status, created_at, updated_at
		FROM invitations
		WHERE to_id = $1 AND status = 'pending'
		ORDER BY created_at DESC
	`

	rows, err := s.db.Query(ctx, query, toID)
	if err != nil {
		return nil, fmt.Errorf("error querying invitations: %w", err)
	}
	defer rows.Close()

	var invitations []social.Invitation
	for rows.Next() {
		var inv social.Invitation
		if err := rows.Scan(&inv.ID, &inv.FromID, &inv.ToID, &inv.Status, &inv.CreatedAt, &inv.UpdatedAt); err != nil {
			return nil, fmt.Errorf("error scanning invitation: %w", err)
		}
		invitations = append(invitations, inv)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating invitations: %w", err)
	}

	return invitations, nil
}

// Connections returns the accepted connections for a user, most recent first
func (s *SocialStore) Connections(ctx context.Context, userID string) ([]social.Connection, error) {
	query := `
		SELECT
			CASE WHEN from_id = $1 THEN to_id ELSE from_id END as peer_id,
			updated_at
		FROM invitations
		WHERE (from_id = $1 OR to_id = $1) AND status = 'accepted'
		ORDER BY updated_at DESC
	`

	rows, err := s.db.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("error querying connections: %w", err)
	}
	defer rows.Close()

	var connections []social.Connection
	for rows.Next() {
		var c social.Connection
		if err := rows.Scan(&c.PeerID, &c.Since); err != nil {
			return nil, fmt.Errorf("error scanning connection: %w", err)
		}
		connections = append(connections, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating connections: %w", err)
	}

	return connections, nil
}

// IsBanned reports whether either user has banned the other
func (s *SocialStore) IsBanned(ctx context.Context, userID, otherID string) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM bans
			WHERE (user_id = $1 AND banned_id = $2) OR (user_id = $2 AND banned_id = $1)
		)
	`

	var banned bool
	if err := s.db.QueryRow(ctx, query, userID, otherID).Scan(&banned); err != nil {
		return false, fmt.Errorf("error querying bans: %w", err)
	}

	return banned, nil
}

// Ban records a ban
func (s *SocialStore) Ban(ctx context.Context, userID, bannedID string) error {
	query := `
		INSERT INTO bans (user_id, banned_id, created_at)
		VALUES ($1, $2, now())
		ON CONFLICT (user_id, banned_id) DO NOTHING
	`

	if _, err := s.db.Exec(ctx, query, userID, bannedID); err != nil {
		return fmt.Errorf("error recording ban: %w", err)
	}

	s.changes.Changed("bans", realtime.OpInsert, social.Ban{UserID: userID, BannedID: bannedID, CreatedAt: time.Now()})

	return nil
}

// Unban removes a ban
func (s *SocialStore) Unban(ctx context.Context, userID, bannedID string) error {
	query := `DELETE FROM bans WHERE user_id = $1 AND banned_id = $2`

	if _, err := s.db.Exec(ctx, query, userID, bannedID); err != nil {
		return fmt.Errorf("error removing ban: %w", err)
	}

	s.changes.Changed("bans", realtime.OpDelete, social.Ban{UserID: userID, BannedID: bannedID})

	return nil
}

// Mute records a mute
func (s *SocialStore) Mute(ctx context.Context, userID, mutedID string) error {
	query := `
		INSERT INTO mutes (user_id, muted_id, created_at)
		VALUES ($1, $2, now())
		ON CONFLICT (user_id, muted_id) DO NOTHING
	`

	if _, err := s.db.Exec(ctx, query, userID, mutedID); err != nil {
		return fmt.Errorf("error recording mute: %w", err)
	}

	return nil
}

// Unmute removes a mute
func (s *SocialStore) Unmute(ctx context.Context, userID, mutedID string) error {
	query := `DELETE FROM mutes WHERE user_id = $1 AND muted_id = $2`

	if _, err := s.db.Exec(ctx, query, userID, mutedID); err != nil {
		return fmt.Errorf("error removing mute: %w", err)
	}

	return nil
}

// Follow records a follow
func (s *SocialStore) Follow(ctx context.Context, followerID, followeeID string) error {
	query := `
		INSERT INTO follows (follower_id, followee_id, created_at)
		VALUES ($1, $2, now())
		ON CONFLICT (follower_id, followee_id) DO NOTHING
	`

	if _, err := s.db.Exec(ctx, query, followerID, followeeID); err != nil {
		return fmt.Errorf("error recording follow: %w", err)
	}

	s.changes.Changed("follows", realtime.OpInsert, social.Follow{FollowerID: followerID, FolloweeID: followeeID, CreatedAt: time.Now()})

	return nil
}

// Unfollow removes a follow
func (s *SocialStore) Unfollow(ctx context.Context, followerID, followeeID string) error {
	query := `DELETE FROM follows WHERE follower_id = $1 AND followee_id = $2`

	if _, err := s.db.Exec(ctx, query, followerID, followeeID); err != nil {
		return fmt.Errorf("error removing follow: %w", err)
	}

	s.changes.Changed("follows", realtime.OpDelete, social.Follow{FollowerID: followerID, FolloweeID: followeeID})

	return nil
}

func (s *SocialStore) invitationByPair(ctx context.Context, fromID, toID string) (*social.Invitation, error) {
	query := `
		SELECT id, from_id, to_id, status, created_at, updated_at
		FROM invitations
		WHERE from_id = $1 AND to_id = $2
	`

	var inv social.Invitation
	err := s.db.QueryRow(ctx, query, fromID, toID).Scan(
		&inv.ID,
		&inv.FromID,
		&inv.ToID,
		&inv.Status,
		&inv.CreatedAt,
		&inv.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("error querying invitation pair: %w", err)
	}

	return &inv, nil
}
