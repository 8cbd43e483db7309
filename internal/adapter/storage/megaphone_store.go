package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"shoutmap/internal/domain/megaphone"
	"shoutmap/internal/realtime"
)

// MegaphoneStore implements storage for megaphones and membership
type MegaphoneStore struct {
	db      *pgxpool.Pool
	changes *realtime.Publisher
}

// NewMegaphoneStore creates a new megaphone store
func NewMegaphoneStore(db *pgxpool.Pool, changes *realtime.Publisher) *MegaphoneStore {
	return &MegaphoneStore{
		db:      db,
		changes: changes,
	}
}

// SaveMegaphone inserts or updates a megaphone
func (s *MegaphoneStore) SaveMegaphone(ctx context.Context, m megaphone.Megaphone) error {
	query := `
		INSERT INTO megaphones (
			id, host_id, title, category,
			location, starts_at, duration_seconds,
			capacity, private, official, created_at
		) VALUES (
			$1, $2, $3, $4,
			ST_MakePoint($5, $6)::geography, $7, $8,
			$9, $10, $11, $12
		)
		ON CONFLICT (id) DO UPDATE
		SET
			title = $3,
			category = $4,
			location = ST_MakePoint($5, $6)::geography,
			starts_at = $7,
			duration_seconds = $8,
			capacity = $9,
			private = $10,
			official = $11
	`

	_, err := s.db.Exec(
		ctx,
		query,
		m.ID,
		m.HostID,
		m.Title,
		string(m.Category),
		m.Location.Longitude,
		m.Location.Latitude,
		m.StartsAt,
		int64(m.Duration.Seconds()),
		m.Capacity,
		m.Private,
		m.Official,
		m.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("error saving megaphone: %w", err)
	}

	s.changes.Changed("megaphones", realtime.OpUpdate, m)

	return nil
}

// GetMegaphone retrieves a megaphone by ID
func (s *MegaphoneStore) GetMegaphone(ctx context.Context, id string) (*megaphone.Megaphone, error) {
	query := `
		SELECT
			id, host_id, title, category,
			ST_X(location::geometry) as lng, ST_Y(location::geometry) as lat,
			starts_at, duration_seconds, capacity, private, official, created_at
		FROM megaphones
		WHERE id = $1
	`

	m, err := scanMegaphone(s.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("error querying megaphone: %w", err)
	}

	return m, nil
}

// FindNearbyMegaphones returns non-private megaphones within radiusMeters
// whose window has not yet ended
func (s *MegaphoneStore) FindNearbyMegaphones(ctx context.Context, lat, lng, radiusMeters float64, now time.Time) ([]megaphone.Megaphone, error) {
	query := `
		SELECT
			id, host_id, title, category,
			ST_X(location::geometry) as lng, ST_Y(location::geometry) as lat,
			starts_at, duration_seconds, capacity, private, official, created_at
		FROM megaphones
		WHERE NOT private
		AND starts_at + make_interval(secs => duration_seconds) > $4
		AND ST_DWithin(geography(location), geography(ST_MakePoint($1, $2)), $3)
		ORDER BY
			official DESC,
			ST_Distance(geography(location), geography(ST_MakePoint($1, $2)))
		LIMIT 50
	`

	rows, err := s.db.Query(ctx, query, lng, lat, radiusMeters, now)
	if err != nil {
		return nil, fmt.Errorf("error querying nearby megaphones: %w", err)
	}
	defer rows.Close()

	return collectMegaphones(rows)
}

// ActiveForUser returns megaphones the user hosts or joined whose window has
// not yet ended
func (s *MegaphoneStore) ActiveForUser(ctx context.Context, userID string, now time.Time) ([]megaphone.Megaphone, error) {
	query := `
		SELECT DISTINCT
			m.id, m.host_id, m.title, m.category,
			ST_X(m.location::geometry) as lng, ST_Y(m.location::geometry) as lat,
			m.starts_at, m.duration_seconds, m.capacity, m.private, m.official, m.created_at
		FROM megaphones m
		LEFT JOIN megaphone_members mm ON mm.megaphone_id = m.id
		WHERE (m.host_id = $1 OR mm.user_id = $1)
		AND m.starts_at + make_interval(secs => m.duration_seconds) > $2
		ORDER BY m.starts_at
	`

	rows, err := s.db.Query(ctx, query, userID, now)
	if err != nil {
		return nil, fmt.Errorf("error querying active megaphones: %w", err)
	}
	defer rows.Close()

	return collectMegaphones(rows)
}

// Join adds a user to a megaphone
func (s *MegaphoneStore) Join(ctx context.Context, megaphoneID, userID string) error {
	query := `
		INSERT INTO megaphone_members (megaphone_id, user_id, joined_at)
		VALUES ($1, $2, now())
		ON CONFLICT (megaphone_id, user_id) DO NOTHING
	`

	if _, err := s.db.Exec(ctx, query, megaphoneID, userID); err != nil {
		return fmt.Errorf("error joining megaphone: %w", err)
	}

	s.changes.Changed("megaphone_members", realtime.OpInsert, map[string]string{
		"megaphone_id": megaphoneID,
		"user_id":      userID,
	})

	return nil
}

// IsMember reports whether the user hosts or joined the megaphone
func (s *MegaphoneStore) IsMember(ctx context.Context, megaphoneID, userID string) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM megaphones WHERE id = $1 AND host_id = $2
			UNION
			SELECT 1 FROM megaphone_members WHERE megaphone_id = $1 AND user_id = $2
		)
	`

	var member bool
	if err := s.db.QueryRow(ctx, query, megaphoneID, userID).Scan(&member); err != nil {
		return false, fmt.Errorf("error querying membership: %w", err)
	}

	return member, nil
}

// MemberCount returns the number of joined users including the host
func (s *MegaphoneStore) MemberCount(ctx context.Context, megaphoneID string) (int, error) {
	query := `
		SELECT 1 + count(*)
		FROM megaphone_members
		WHERE megaphone_id = $1
	`

	var count int
	if err := s.db.QueryRow(ctx, query, megaphoneID).Scan(&count); err != nil {
		return 0, fmt.Errorf("error counting members: %w", err)
	}

	return count, nil
}

func scanMegaphone(row pgx.Row) (*megaphone.Megaphone, error) {
	var m megaphone.Megaphone
	var category string
	var durationSeconds int64

	err := row.Scan(
		&m.ID,
		&m.HostID,
		&m.Title,
		&category,
		&m.Location.Longitude,
		&m.Location.Latitude,
		&m.StartsAt,
		&durationSeconds,
		&m.Capacity,
		&m.Private,
		&m.Official,
		&m.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	m.Category = megaphone.Category(category)
	m.Duration = time.Duration(durationSeconds) * time.Second

	return &m, nil
}

func collectMegaphones(rows pgx.Rows) ([]megaphone.Megaphone, error) {
	var megaphones []megaphone.Megaphone
	for rows.Next() {
		m, err := scanMegaphone(rows)
		if err != nil {
			return nil, fmt.Errorf("error scanning megaphone: %w", err)
		}
		megaphones = append(megaphones, *m)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating megaphones: %w", err)
	}

	return megaphones, nil
}
