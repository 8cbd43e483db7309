package storage

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"shoutmap/internal/domain/shout"
	"shoutmap/internal/realtime"
)

// ShoutStore implements storage for shouts
type ShoutStore struct {
	db      *pgxpool.Pool
	changes *realtime.Publisher
}

// NewShoutStore creates a new shout store
func NewShoutStore(db *pgxpool.Pool, changes *realtime.Publisher) *ShoutStore {
	return &ShoutStore{
		db:      db,
		changes: changes,
	}
}

// SaveShout inserts a shout
func (s *ShoutStore) SaveShout(ctx context.Context, sh shout.Shout) error {
	query := `
		INSERT INTO shouts (id, user_id, content, location, created_at)
		VALUES ($1, $2, $3, ST_MakePoint($4, $5)::geography, $6)
	`

	_, err := s.db.Exec(
		ctx,
		query,
		sh.ID,
		sh.UserID,
		sh.Content,
		sh.Location.Longitude,
		sh.Location.Latitude,
		sh.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("error saving shout: %w", err)
	}

	s.changes.Changed("shouts", realtime.OpInsert, sh)

	return nil
}

// GetShout retrieves a shout by ID
func (s *ShoutStore) GetShout(ctx context.Context, id string) (*shout.Shout, error) {
	query := `
		SELECT
			id, user_id, content,
			ST_X(location::geometry) as lng, ST_Y(location::geometry) as lat,
			created_at
		FROM shouts
		WHERE id = $1
	`

	var sh shout.Shout
	err := s.db.QueryRow(ctx, query, id).Scan(
		&sh.ID,
		&sh.UserID,
		&sh.Content,
		&sh.Location.Longitude,
		&sh.Location.Latitude,
		&sh.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("error querying shout: %w", err)
	}

	return &sh, nil
}

// FindNearbyShouts returns unexpired shouts within radiusMeters of a point,
// newest first. Expiry is enforced in the query so stale rows never surface,
// whether or not the cleanup job has swept them yet.
func (s *ShoutStore) FindNearbyShouts(ctx context.Context, lat, lng, radiusMeters float64, now time.Time) ([]shout.Shout, error) {
	query := `
		SELECT
			id, user_id, content,
			ST_X(location::geometry) as lng, ST_Y(location::geometry) as lat,
			created_at
		FROM shouts
		WHERE created_at > $4
		AND ST_DWithin(geography(location), geography(ST_MakePoint($1, $2)), $3)
		ORDER BY created_at DESC
		LIMIT 100
	`

	rows, err := s.db.Query(ctx, query, lng, lat, radiusMeters, now.Add(-shout.Lifetime))
	if err != nil {
		return nil, fmt.Errorf("error querying nearby shouts: %w", err)
	}
	defer rows.Close()

	var shouts []shout.Shout
	for rows.Next() {
		var sh shout.Shout
		err := rows.Scan(
			&sh.ID,
			&sh.UserID,
			&sh.Content,
			&sh.Location.Longitude,
			&sh.Location.Latitude,
			&sh.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("error scanning shout: %w", err)
		}
		shouts = append(shouts, sh)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating shouts: %w", err)
	}

	return shouts, nil
}

// DeleteShout removes a shout
func (s *ShoutStore) DeleteShout(ctx context.Context, id string) error {
	query := `DELETE FROM shouts WHERE id = $1`

	tag, err := s.db.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("error deleting shout: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	s.changes.Changed("shouts", realtime.OpDelete, shout.Shout{ID: id})

	return nil
}

// DeleteExpired sweeps shouts older than their lifetime. Returns the number
// of rows removed.
func (s *ShoutStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	query := `DELETE FROM shouts WHERE created_at <= $1`

	tag, err := s.db.Exec(ctx, query, now.Add(-shout.Lifetime))
	if err != nil {
		return 0, fmt.Errorf("error sweeping expired shouts: %w", err)
	}

	return tag.RowsAffected(), nil
}

// RunExpirySweep deletes expired shouts periodically until the context is
// cancelled. Expiry is enforced at query time regardless; the sweep keeps
// the table from accumulating dead rows.
func (s *ShoutStore) RunExpirySweep(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			removed, err := s.DeleteExpired(ctx, now)
			if err != nil {
				log.Printf("Shout expiry sweep failed: %v", err)
				continue
			}
			if removed > 0 {
				log.Printf("Shout expiry sweep removed %d rows", removed)
			}
		}
	}
}
