package realtime

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCellOf(t *testing.T) {
	assert.Equal(t, "52.40,16.90", CellOf(52.4012, 16.9043).Key())
	assert.Equal(t, "52.40,16.90", CellOf(52.3999, 16.8999).Key())
	assert.Equal(t, "52.41,16.91", CellOf(52.4051, 16.9051).Key())
	assert.Equal(t, "-33.87,151.21", CellOf(-33.8688, 151.2093).Key())
}

func TestCellTopic(t *testing.T) {
	assert.Equal(t, "geo.52_40_16_90", CellOf(52.4012, 16.9043).Topic())
}

func TestCoverageCells(t *testing.T) {
	t.Run("always contains the center cell", func(t *testing.T) {
		cells := CoverageCells(52.4012, 16.9043, 0)
		require.NotEmpty(t, cells)

		keys := make(map[string]struct{}, len(cells))
		for _, c := range cells {
			keys[c.Key()] = struct{}{}
		}
		assert.Contains(t, keys, CellOf(52.4012, 16.9043).Key())
	})

	t.Run("2km radius covers the center and its ring", func(t *testing.T) {
		// One cell is ~1.1 km of latitude, so 2000 m needs 2 steps out in
		// latitude and, at 52°N, 3 steps out in longitude: a 5x7 grid.
		cells := CoverageCells(52.4012, 16.9043, 2000)
		assert.Len(t, cells, 35)
	})

	t.Run("no duplicate cells", func(t *testing.T) {
		cells := CoverageCells(52.4012, 16.9043, 5000)
		seen := make(map[string]struct{}, len(cells))
		for _, c := range cells {
			_, dup := seen[c.Key()]
			require.False(t, dup, "duplicate cell %s", c.Key())
			seen[c.Key()] = struct{}{}
		}
	})

	t.Run("longitude step widens away from the equator", func(t *testing.T) {
		atEquator := CoverageCells(0, 0, 2000)
		atHighLat := CoverageCells(70, 0, 2000)
		assert.Greater(t, len(atHighLat), len(atEquator),
			"the same radius spans more longitude cells at high latitude")
	})
}

func TestBroadcasterPublishSubscribe(t *testing.T) {
	bus := NewMemoryBus()
	reg := NewRegistry(bus)
	b := NewBroadcaster(bus, reg)

	var got []BroadcastEvent
	teardown, err := b.Subscribe("viewer", 52.4012, 16.9043, 2000, func(e BroadcastEvent) {
		got = append(got, e)
	})
	require.NoError(t, err)
	defer teardown()

	// A sender in a neighboring cell still reaches the viewer because the
	// viewer's coverage set includes that cell.
	b.Publish("sender", "ping", 52.4112, 16.9143)

	require.Len(t, got, 1)
	assert.Equal(t, "sender", got[0].UserID)
	assert.Equal(t, "ping", got[0].Type)
}

func TestBroadcasterPublishesToOwnCellOnly(t *testing.T) {
	bus := NewMemoryBus()
	reg := NewRegistry(bus)
	b := NewBroadcaster(bus, reg)

	var direct int
	_, err := bus.Subscribe(CellOf(52.4012, 16.9043).Topic(), func(string, []byte) { direct++ })
	require.NoError(t, err)

	var neighbor int
	_, err = bus.Subscribe(CellOf(52.4112, 16.9043).Topic(), func(string, []byte) { neighbor++ })
	require.NoError(t, err)

	b.Publish("sender", "ping", 52.4012, 16.9043)

	assert.Equal(t, 1, direct)
	assert.Equal(t, 0, neighbor, "publish goes to the sender's cell, not its neighbors")
}

func TestBroadcasterSuppressesOwnEvents(t *testing.T) {
	bus := NewMemoryBus()
	reg := NewRegistry(bus)
	b := NewBroadcaster(bus, reg)

	var got int
	teardown, err := b.Subscribe("self", 52.4012, 16.9043, 2000, func(BroadcastEvent) { got++ })
	require.NoError(t, err)
	defer teardown()

	b.Publish("self", "ping", 52.4012, 16.9043)
	assert.Equal(t, 0, got)

	b.Publish("other", "ping", 52.4012, 16.9043)
	assert.Equal(t, 1, got)
}

func TestBroadcastSubDedupe(t *testing.T) {
	var got []BroadcastEvent
	sub := &broadcastSub{
		selfID:  "viewer",
		onEvent: func(e BroadcastEvent) { got = append(got, e) },
		lastAt:  make(map[string]time.Time),
	}

	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	deliver := func(userID, eventType string, at time.Time) {
		data, err := json.Marshal(BroadcastEvent{UserID: userID, Type: eventType, At: at})
		require.NoError(t, err)
		sub.handle(data)
	}

	deliver("sender", "ping", at)
	deliver("sender", "ping", at) // unchanged tuple, dropped
	deliver("sender", "ping", at.Add(time.Second))
	deliver("sender", "typing", at) // different type, its own dedupe key
	deliver("other", "ping", at)

	require.Len(t, got, 4)
	assert.Equal(t, "ping", got[0].Type)
	assert.True(t, got[1].At.After(got[0].At))
}

func TestBroadcasterTeardown(t *testing.T) {
	bus := NewMemoryBus()
	reg := NewRegistry(bus)
	b := NewBroadcaster(bus, reg)

	teardown, err := b.Subscribe("viewer", 52.4012, 16.9043, 2000, func(BroadcastEvent) {})
	require.NoError(t, err)
	require.NotZero(t, reg.ActiveTopics())

	teardown()
	assert.Equal(t, 0, reg.ActiveTopics())

	// Idempotent.
	teardown()
	assert.Equal(t, 0, reg.ActiveTopics())
}

func TestBroadcasterSharedCells(t *testing.T) {
	bus := NewMemoryBus()
	reg := NewRegistry(bus)
	b := NewBroadcaster(bus, reg)

	t1, err := b.Subscribe("a", 52.4012, 16.9043, 2000, func(BroadcastEvent) {})
	require.NoError(t, err)
	topicsAfterFirst := reg.ActiveTopics()

	t2, err := b.Subscribe("b", 52.4012, 16.9043, 2000, func(BroadcastEvent) {})
	require.NoError(t, err)
	assert.Equal(t, topicsAfterFirst, reg.ActiveTopics(), "overlapping viewers share cell subscriptions")

	t1()
	assert.Equal(t, topicsAfterFirst, reg.ActiveTopics(), "cells stay live while a viewer remains")

	t2()
	assert.Equal(t, 0, reg.ActiveTopics())
}
