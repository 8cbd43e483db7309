package realtime

import (
	"encoding/json"
	"fmt"
	"log"
	"math"
	"strings"
	"sync"
	"time"
)

// CellSizeDeg is the side of a geo cell in degrees. 0.01 degrees is about
// 1.1 km of latitude; longitude resolution shrinks toward the poles.
const CellSizeDeg = 0.01

// metersPerDegreeLat is the near-constant length of one degree of latitude.
const metersPerDegreeLat = 111_320.0

// Cell identifies one geo bucket by its rounded coordinates.
type Cell struct {
	Lat float64
	Lng float64
}

// CellOf returns the cell containing a coordinate.
func CellOf(lat, lng float64) Cell {
	return Cell{
		Lat: math.Round(lat/CellSizeDeg) * CellSizeDeg,
		Lng: math.Round(lng/CellSizeDeg) * CellSizeDeg,
	}
}

// Key returns the canonical "lat,lng" form of the cell.
func (c Cell) Key() string {
	return fmt.Sprintf("%.2f,%.2f", c.Lat, c.Lng)
}

// Topic returns the bus topic for the cell. Dots are not allowed inside a
// topic token, so the decimal points are mapped to underscores.
func (c Cell) Topic() string {
	return "geo." + strings.ReplaceAll(fmt.Sprintf("%.2f.%.2f", c.Lat, c.Lng), ".", "_")
}

// CoverageCells enumerates every cell needed to cover radiusMeters around a
// point. The set always contains the center's own cell; the longitude step
// count is corrected by cos(lat) so coverage holds away from the equator.
func CoverageCells(lat, lng, radiusMeters float64) []Cell {
	cellMetersLat := metersPerDegreeLat * CellSizeDeg
	cellMetersLng := metersPerDegreeLat * math.Cos(lat*math.Pi/180) * CellSizeDeg

	stepsLat := int(math.Ceil(radiusMeters / cellMetersLat))
	stepsLng := stepsLat
	if cellMetersLng > 1 {
		stepsLng = int(math.Ceil(radiusMeters / cellMetersLng))
	}

	center := CellOf(lat, lng)
	seen := make(map[string]struct{})
	var cells []Cell

	for dLat := -stepsLat; dLat <= stepsLat; dLat++ {
		for dLng := -stepsLng; dLng <= stepsLng; dLng++ {
			cell := CellOf(center.Lat+float64(dLat)*CellSizeDeg, center.Lng+float64(dLng)*CellSizeDeg)
			if _, ok := seen[cell.Key()]; ok {
				continue
			}
			seen[cell.Key()] = struct{}{}
			cells = append(cells, cell)
		}
	}

	return cells
}

// BroadcastEvent is an ephemeral, non-persisted message exchanged between
// viewers sharing a geo cell: location pings, bounces, typing indicators.
type BroadcastEvent struct {
	UserID string    `json:"user_id"`
	Type   string    `json:"type"`
	Lat    float64   `json:"lat,omitempty"`
	Lng    float64   `json:"lng,omitempty"`
	At     time.Time `json:"at"`
}

// Broadcaster publishes and receives geo-bucketed broadcast events. A sender
// publishes to the single cell containing its position; receivers subscribe
// to every cell covering their radius, so delivery near cell boundaries comes
// from the redundant multi-cell receive side, not from multi-cell publish.
type Broadcaster struct {
	bus      Bus
	registry *Registry
}

// NewBroadcaster creates a broadcaster over the bus and registry.
func NewBroadcaster(bus Bus, registry *Registry) *Broadcaster {
	return &Broadcaster{bus: bus, registry: registry}
}

// Publish fires an event into the sender's own cell and forgets it. Publish
// failures are logged; broadcast delivery is best-effort by design.
func (b *Broadcaster) Publish(selfID, eventType string, lat, lng float64) {
	event := BroadcastEvent{
		UserID: selfID,
		Type:   eventType,
		Lat:    lat,
		Lng:    lng,
		At:     time.Now(),
	}

	data, err := json.Marshal(event)
	if err != nil {
		log.Printf("broadcast: marshal %s event: %v", eventType, err)
		return
	}

	if err := b.bus.Publish(CellOf(lat, lng).Topic(), data); err != nil {
		log.Printf("broadcast: publish %s event: %v", eventType, err)
	}
}

// Subscribe attaches onEvent to every cell covering radiusMeters around the
// given center. Events from selfID are suppressed, and a repeated event with
// an unchanged (user, type, timestamp) tuple is delivered only once. The
// returned teardown releases every cell subscription.
func (b *Broadcaster) Subscribe(selfID string, lat, lng, radiusMeters float64, onEvent func(BroadcastEvent)) (func(), error) {
	sub := &broadcastSub{
		selfID:  selfID,
		onEvent: onEvent,
		lastAt:  make(map[string]time.Time),
	}

	cells := CoverageCells(lat, lng, radiusMeters)
	handles := make([]*Handle, 0, len(cells))
	for _, cell := range cells {
		handle, _, err := b.registry.Acquire(cell.Topic(), sub.handle)
		if err != nil {
			for _, h := range handles {
				h.Release()
			}
			return nil, fmt.Errorf("subscribing to cell %s: %w", cell.Key(), err)
		}
		handles = append(handles, handle)
	}

	var once sync.Once
	teardown := func() {
		once.Do(func() {
			for _, h := range handles {
				h.Release()
			}
		})
	}

	return teardown, nil
}

type broadcastSub struct {
	selfID  string
	onEvent func(BroadcastEvent)

	mu     sync.Mutex
	lastAt map[string]time.Time // (user|type) -> timestamp of last delivered event
}

func (s *broadcastSub) handle(data []byte) {
	var event BroadcastEvent
	if err := json.Unmarshal(data, &event); err != nil {
		log.Printf("broadcast: decode event: %v", err)
		return
	}

	// Never deliver a viewer's own events back to them.
	if event.UserID == s.selfID {
		return
	}

	// A rebroadcast with an unchanged timestamp is a no-op.
	key := event.UserID + "|" + event.Type
	s.mu.Lock()
	if last, ok := s.lastAt[key]; ok && !event.At.After(last) {
		s.mu.Unlock()
		return
	}
	s.lastAt[key] = event.At
	s.mu.Unlock()

	s.onEvent(event)
}
