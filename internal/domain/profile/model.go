package profile

import (
	"context"
	"time"

	"shoutmap/internal/domain/geo"
)

// Profile is a user as other users see them on the map.
type Profile struct {
	ID          string        `json:"id"`
	DisplayName string        `json:"display_name"`
	Avatar      string        `json:"avatar"`
	Bio         string        `json:"bio,omitempty"`
	Tags        []string      `json:"tags,omitempty"`
	Location    *geo.Location `json:"location,omitempty"`
	BaseName    string        `json:"base_name,omitempty"`
	Active      bool          `json:"active"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

// Store defines persistence for profiles.
type Store interface {
	// SaveProfile inserts or updates a profile
	SaveProfile(ctx context.Context, p Profile) error

	// GetProfile retrieves a profile by ID
	GetProfile(ctx context.Context, id string) (*Profile, error)

	// GetProfiles retrieves a batch of profiles by ID list
	GetProfiles(ctx context.Context, ids []string) (map[string]Profile, error)

	// FindNearbyProfiles returns active profiles within radiusMeters of a point
	FindNearbyProfiles(ctx context.Context, lat, lng, radiusMeters float64) ([]Profile, error)

	// SetLocation updates a profile's declared position
	SetLocation(ctx context.Context, id string, loc *geo.Location) error

	// SetActive flips a profile's online flag
	SetActive(ctx context.Context, id string, active bool) error
}
