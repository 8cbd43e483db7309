package shout

import (
	"context"
	"time"

	"shoutmap/internal/domain/geo"
)

// Lifetime is how long a shout stays visible after creation. Older rows are
// filtered out even if no delete event has arrived for them.
const Lifetime = 30 * time.Minute

// Shout is an ephemeral message pinned to a position on the map.
type Shout struct {
	ID        string       `json:"id"`
	UserID    string       `json:"user_id"`
	Content   string       `json:"content"`
	Location  geo.Location `json:"location"`
	CreatedAt time.Time    `json:"created_at"`
}

// Expired reports whether the shout's visibility lifetime has passed.
func (s Shout) Expired(now time.Time) bool {
	return now.Sub(s.CreatedAt) >= Lifetime
}

// FilterActive drops shouts whose lifetime has passed.
func FilterActive(shouts []Shout, now time.Time) []Shout {
	active := make([]Shout, 0, len(shouts))
	for _, s := range shouts {
		if !s.Expired(now) {
			active = append(active, s)
		}
	}
	return active
}

// Store defines persistence for shouts.
type Store interface {
	// SaveShout inserts a shout
	SaveShout(ctx context.Context, s Shout) error

	// GetShout retrieves a shout by ID
	GetShout(ctx context.Context, id string) (*Shout, error)

	// FindNearbyShouts returns unexpired shouts within radiusMeters of a point
	FindNearbyShouts(ctx context.Context, lat, lng, radiusMeters float64, now time.Time) ([]Shout, error)

	// DeleteShout removes a shout
	DeleteShout(ctx context.Context, id string) error
}
