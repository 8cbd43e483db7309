package shout

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestExpired(t *testing.T) {
	now := time.Now()

	fresh := Shout{CreatedAt: now.Add(-Lifetime + time.Second)}
	assert.False(t, fresh.Expired(now))

	// A shout exactly at the lifetime boundary is gone.
	boundary := Shout{CreatedAt: now.Add(-Lifetime)}
	assert.True(t, boundary.Expired(now))

	stale := Shout{CreatedAt: now.Add(-Lifetime - time.Hour)}
	assert.True(t, stale.Expired(now))
}

func TestFilterActive(t *testing.T) {
	now := time.Now()

	shouts := []Shout{
		{ID: "a", CreatedAt: now.Add(-time.Minute)},
		{ID: "b", CreatedAt: now.Add(-Lifetime)},
		{ID: "c", CreatedAt: now},
	}

	active := FilterActive(shouts, now)
	assert.Len(t, active, 2)
	assert.Equal(t, "a", active[0].ID)
	assert.Equal(t, "c", active[1].ID)
}
