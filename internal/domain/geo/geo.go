package geo

import (
	"context"
	"time"
)

// Location is a point on the map as reported by a client or stored for an
// entity. Accuracy is in meters when known.
type Location struct {
	Latitude  float64   `json:"lat"`
	Longitude float64   `json:"lng"`
	Accuracy  float64   `json:"accuracy,omitempty"`
	Timestamp time.Time `json:"timestamp,omitempty"`
}

// Place is a geocoding result, forward or reverse.
type Place struct {
	Name      string  `json:"name"`
	Latitude  float64 `json:"lat"`
	Longitude float64 `json:"lng"`
	Locality  string  `json:"locality,omitempty"`
	Country   string  `json:"country,omitempty"`
}

// Service defines the interface for geospatial helpers.
type Service interface {
	// DistanceMeters calculates the distance between two locations in meters
	DistanceMeters(a, b Location) float64

	// FuzzLocation reduces the precision of a location for privacy
	FuzzLocation(location Location, precisionLevel string) Location

	// IsWithinMeters checks if a location is within a radius of a center point
	IsWithinMeters(location, center Location, radiusMeters float64) bool
}

// Geocoder resolves free-text queries to coordinates and back.
type Geocoder interface {
	// Search returns up to a capped number of places matching the query
	Search(ctx context.Context, query string) ([]Place, error)

	// Reverse returns the place containing the given coordinates
	Reverse(ctx context.Context, lat, lng float64) (*Place, error)
}
