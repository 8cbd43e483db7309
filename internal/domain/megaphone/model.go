package megaphone

import (
	"context"
	"time"

	"shoutmap/internal/domain/geo"
)

// Category classifies a megaphone on the map.
type Category string

const (
	CategoryMeetup  Category = "meetup"
	CategorySport   Category = "sport"
	CategoryFood    Category = "food"
	CategoryCulture Category = "culture"
	CategoryOther   Category = "other"
)

// MaxDistanceFromBaseMeters is how far from the host's declared base a
// megaphone may be placed. Enforced at creation, not re-validated later.
const MaxDistanceFromBaseMeters = 20_000.0

// Megaphone is a user-hosted event with a position and a time window.
type Megaphone struct {
	ID        string        `json:"id"`
	HostID    string        `json:"host_id"`
	Title     string        `json:"title"`
	Category  Category      `json:"category"`
	Location  geo.Location  `json:"location"`
	StartsAt  time.Time     `json:"starts_at"`
	Duration  time.Duration `json:"duration"`
	Capacity  int           `json:"capacity"`
	Private   bool          `json:"private"`
	Official  bool          `json:"official"`
	CreatedAt time.Time     `json:"created_at"`
}

// EndsAt returns the end of the megaphone's time window.
func (m Megaphone) EndsAt() time.Time {
	return m.StartsAt.Add(m.Duration)
}

// ActiveAt reports whether the megaphone's window covers the given instant.
func (m Megaphone) ActiveAt(now time.Time) bool {
	return !now.Before(m.StartsAt) && now.Before(m.EndsAt())
}

// Store defines persistence for megaphones and membership.
type Store interface {
	// SaveMegaphone inserts or updates a megaphone
	SaveMegaphone(ctx context.Context, m Megaphone) error

	// GetMegaphone retrieves a megaphone by ID
	GetMegaphone(ctx context.Context, id string) (*Megaphone, error)

	// FindNearbyMegaphones returns non-private megaphones within radiusMeters
	// whose window has not yet ended
	FindNearbyMegaphones(ctx context.Context, lat, lng, radiusMeters float64, now time.Time) ([]Megaphone, error)

	// ActiveForUser returns megaphones the user hosts or joined whose window
	// has not yet ended
	ActiveForUser(ctx context.Context, userID string, now time.Time) ([]Megaphone, error)

	// Join adds a user to a megaphone
	Join(ctx context.Context, megaphoneID, userID string) error

	// IsMember reports whether the user hosts or joined the megaphone
	IsMember(ctx context.Context, megaphoneID, userID string) (bool, error)

	// MemberCount returns the number of joined users including the host
	MemberCount(ctx context.Context, megaphoneID string) (int, error)
}
