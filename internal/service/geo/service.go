package geo

import (
	"math"
	"math/rand"

	"shoutmap/internal/domain/geo"
)

const earthRadiusMeters = 6_371_000.0

// Config tunes the geospatial helpers.
type Config struct {
	DefaultRadiusMeters float64
	MinRadiusMeters     float64
	MaxRadiusMeters     float64
}

// Service implements the geo.Service interface.
type Service struct {
	config        Config
	privacyLevels map[string]float64 // level -> degrees of fuzz
}

// NewService creates a geospatial service.
func NewService(config Config) *Service {
	return &Service{
		config: config,
		privacyLevels: map[string]float64{
			"precise":      0,
			"neighborhood": 0.01, // ~1km
			"approximate":  0.04, // ~4km
		},
	}
}

// DistanceMeters calculates the Haversine distance between two locations.
func (s *Service) DistanceMeters(a, b geo.Location) float64 {
	lat1 := a.Latitude * math.Pi / 180.0
	lon1 := a.Longitude * math.Pi / 180.0
	lat2 := b.Latitude * math.Pi / 180.0
	lon2 := b.Longitude * math.Pi / 180.0

	dLat := lat2 - lat1
	dLon := lon2 - lon1

	hSin := math.Sin(dLat / 2)
	hSin *= hSin

	vSin := math.Sin(dLon / 2)
	vSin *= vSin

	h := hSin + math.Cos(lat1)*math.Cos(lat2)*vSin

	return 2 * earthRadiusMeters * math.Asin(math.Sqrt(h))
}

// FuzzLocation reduces the precision of a location for privacy. "precise"
// passes the location through, "disabled" zeroes it, unknown levels default
// to neighborhood precision.
func (s *Service) FuzzLocation(location geo.Location, precisionLevel string) geo.Location {
	if precisionLevel == "precise" {
		return location
	}

	fuzzed := location

	if precisionLevel == "disabled" {
		fuzzed.Latitude = 0
		fuzzed.Longitude = 0
		fuzzed.Accuracy = 0
		return fuzzed
	}

	precision, ok := s.privacyLevels[precisionLevel]
	if !ok {
		precision = s.privacyLevels["neighborhood"]
	}

	// Snap to a grid, then add a small offset so the grid itself does not
	// leak through repeated reports.
	fuzzed.Latitude = math.Round(location.Latitude/precision) * precision
	fuzzed.Longitude = math.Round(location.Longitude/precision) * precision
	fuzzed.Latitude += (rand.Float64() - 0.5) * precision * 0.5
	fuzzed.Longitude += (rand.Float64() - 0.5) * precision * 0.5
	fuzzed.Accuracy = precision * 111_320

	return fuzzed
}

// IsWithinMeters checks if a location is within a radius of a center point.
func (s *Service) IsWithinMeters(location, center geo.Location, radiusMeters float64) bool {
	return s.DistanceMeters(location, center) <= radiusMeters
}

// ClampRadius bounds a client-supplied search radius to the configured range.
func (s *Service) ClampRadius(radiusMeters float64) float64 {
	if radiusMeters <= 0 {
		return s.config.DefaultRadiusMeters
	}
	if radiusMeters < s.config.MinRadiusMeters {
		return s.config.MinRadiusMeters
	}
	if radiusMeters > s.config.MaxRadiusMeters {
		return s.config.MaxRadiusMeters
	}
	return radiusMeters
}
