package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"shoutmap/internal/domain/geo"
	"shoutmap/internal/domain/profile"
	"shoutmap/internal/realtime"
)

// ProfileStore implements storage for profiles
type ProfileStore struct {
	db      *pgxpool.Pool
	changes *realtime.Publisher
}

// NewProfileStore creates a new profile store
func NewProfileStore(db *pgxpool.Pool, changes *realtime.Publisher) *ProfileStore {
	return &ProfileStore{
		db:      db,
		changes: changes,
	}
}

// SaveProfile inserts or updates a profile
func (s *ProfileStore) SaveProfile(ctx context.Context, p profile.Profile) error {
	query := `
		INSERT INTO profiles (
			id, display_name, avatar, bio, tags,
			location, location_accuracy, location_at,
			base_name, active, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5,
			CASE WHEN $6::float8 IS NOT NULL THEN ST_MakePoint($6, $7)::geography ELSE NULL END,
			$8, $9,
			$10, $11, $12, $13
		)
		ON CONFLICT (id) DO UPDATE
		SET
			display_name = $2,
			avatar = $3,
			bio = $4,
			tags = $5,
			location = CASE WHEN $6::float8 IS NOT NULL THEN ST_MakePoint($6, $7)::geography ELSE profiles.location END,
			location_accuracy = $8,
			location_at = $9,
			base_name = $10,
			active = $11,
			updated_at = $13
	`

	var lng, lat *float64
	var accuracy *float64
	var locationAt *time.Time
	if p.Location != nil {
		lng = &p.Location.Longitude
		lat = &p.Location.Latitude
		accuracy = &p.Location.Accuracy
		locationAt = &p.Location.Timestamp
	}

	_, err := s.db.Exec(
		ctx,
		query,
		p.ID,
		p.DisplayName,
		p.Avatar,
		p.Bio,
		p.Tags,
		lng,
		lat,
		accuracy,
		locationAt,
		p.BaseName,
		p.Active,
		p.CreatedAt,
		p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("error saving profile: %w", err)
	}

	s.changes.Changed("profiles", realtime.OpUpdate, p)

	return nil
}

// GetProfile retrieves a profile by ID
func (s *ProfileStore) GetProfile(ctx context.Context, id string) (*profile.Profile, error) {
	query := `
		SELECT
			id, display_name, avatar, bio, tags,
			ST_X(location::geometry) as lng, ST_Y(location::geometry) as lat,
			location_accuracy, location_at,
			base_name, active, created_at, updated_at
		FROM profiles
		WHERE id = $1
	`

	p, err := scanProfile(s.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("error querying profile: %w", err)
	}

	return p, nil
}

// GetProfiles retrieves a batch of profiles by ID list
func (s *ProfileStore) GetProfiles(ctx context.Context, ids []string) (map[string]profile.Profile, error) {
	if len(ids) == 0 {
		return map[string]profile.Profile{}, nil
	}

	query := `
		SELECT
			id, display_name, avatar, bio, tags,
			ST_X(location::geometry) as lng, ST_Y(location::geometry) as lat,
			location_accuracy, location_at,
			base_name, active, created_at, updated_at
		FROM profiles
		WHERE id = ANY($1)
	`

	rows, err := s.db.Query(ctx, query, ids)
	if err != nil {
		return nil, fmt.Errorf("error querying profiles: %w", err)
	}
	defer rows.Close()

	out := make(map[string]profile.Profile, len(ids))
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, fmt.Errorf("error scanning profile: %w", err)
		}
		out[p.ID] = *p
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating profiles: %w", err)
	}

	return out, nil
}

// FindNearbyProfiles returns active profiles within radiusMeters of a point
func (s *ProfileStore) FindNearbyProfiles(ctx context.Context, lat, lng, radiusMeters float64) ([]profile.Profile, error) {
	query := `
		SELECT
			id, display_name, avatar, bio, tags,
			ST_X(location::geometry) as lng, ST_Y(location::geometry) as lat,
			location_accuracy, location_at,
			base_name, active, created_at, updated_at
		FROM profiles
		WHERE location IS NOT NULL
		AND active
		AND ST_DWithin(geography(location), geography(ST_MakePoint($1, $2)), $3)
		ORDER BY ST_Distance(geography(location), geography(ST_MakePoint($1, $2)))
		LIMIT 100
	`

	rows, err := s.db.Query(ctx, query, lng, lat, radiusMeters)
	if err != nil {
		return nil, fmt.Errorf("error querying nearby profiles: %w", err)
	}
	defer rows.Close()

	var profiles []profile.Profile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, fmt.Errorf("error scanning profile: %w", err)
		}
		profiles = append(profiles, *p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating profiles: %w", err)
	}

	return profiles, nil
}

// SetLocation updates a profile's declared position
func (s *ProfileStore) SetLocation(ctx context.Context, id string, loc *geo.Location) error {
	query := `
		UPDATE profiles
		SET
			location = CASE WHEN $2::float8 IS NOT NULL THEN ST_MakePoint($2, $3)::geography ELSE NULL END,
			location_accuracy = $4,
			location_at = $5,
			updated_at = now()
		WHERE id = $1
	`

	var lng, lat, accuracy *float64
	var at *time.Time
	if loc != nil {
		lng = &loc.Longitude
		lat = &loc.Latitude
		accuracy = &loc.Accuracy
		at = &loc.Timestamp
	}

	tag, err := s.db.Exec(ctx, query, id, lng, lat, accuracy, at)
	if err != nil {
		return fmt.Errorf("error updating location: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	s.changes.Changed("profiles", realtime.OpUpdate, profile.Profile{ID: id, Location: loc})

	return nil
}

// SetActive flips a profile's online flag
func (s *ProfileStore) SetActive(ctx context.Context, id string, active bool) error {
	query := `UPDATE profiles SET active = $2, updated_at = now() WHERE id = $1`

	tag, err := s.db.Exec(ctx, query, id, active)
	if err != nil {
		return fmt.Errorf("error updating active flag: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	s.changes.Changed("profiles", realtime.OpUpdate, profile.Profile{ID: id, Active: active})

	return nil
}

func scanProfile(row pgx.Row) (*profile.Profile, error) {
	var p profile.Profile
	var lng, lat, accuracy *float64
	var locationAt *time.Time

	err := row.Scan(
		&p.ID,
		&p.DisplayName,
		&p.Avatar,
		&p.Bio,
		&p.Tags,
		&lng,
		&lat,
		&accuracy,
		&locationAt,
		&p.BaseName,
		&p.Active,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if lng != nil && lat != nil {
		p.Location = &geo.Location{Longitude: *lng, Latitude: *lat}
		if accuracy != nil {
			p.Location.Accuracy = *accuracy
		}
		if locationAt != nil {
			p.Location.Timestamp = *locationAt
		}
	}

	return &p, nil
}
