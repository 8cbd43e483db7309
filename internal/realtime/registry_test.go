package realtime

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryAcquire(t *testing.T) {
	t.Run("first acquire creates the transport subscription", func(t *testing.T) {
		bus := NewMemoryBus()
		reg := NewRegistry(bus)

		handle, fresh, err := reg.Acquire("changes.messages", func([]byte) {})
		require.NoError(t, err)
		assert.True(t, fresh)
		assert.Equal(t, 1, bus.SubscriberCount("changes.messages"))

		handle.Release()
	})

	t.Run("concurrent consumers share one transport subscription", func(t *testing.T) {
		bus := NewMemoryBus()
		reg := NewRegistry(bus)

		var first, second int
		h1, fresh1, err := reg.Acquire("changes.messages", func([]byte) { first++ })
		require.NoError(t, err)
		h2, fresh2, err := reg.Acquire("changes.messages", func([]byte) { second++ })
		require.NoError(t, err)

		assert.True(t, fresh1)
		assert.False(t, fresh2)
		assert.Equal(t, 1, bus.SubscriberCount("changes.messages"))

		require.NoError(t, bus.Publish("changes.messages", []byte("x")))
		assert.Equal(t, 1, first)
		assert.Equal(t, 1, second)

		h1.Release()
		h2.Release()
	})

	t.Run("second acquire does not disturb the existing stream", func(t *testing.T) {
		bus := NewMemoryBus()
		reg := NewRegistry(bus)

		var got int
		h1, _, err := reg.Acquire("geo.52_40.16_90", func([]byte) { got++ })
		require.NoError(t, err)

		require.NoError(t, bus.Publish("geo.52_40.16_90", []byte("a")))
		assert.Equal(t, 1, got)

		h2, _, err := reg.Acquire("geo.52_40.16_90", func([]byte) {})
		require.NoError(t, err)

		require.NoError(t, bus.Publish("geo.52_40.16_90", []byte("b")))
		assert.Equal(t, 2, got, "first consumer keeps receiving after a second joins")

		h1.Release()
		h2.Release()
	})
}

func TestRegistryRelease(t *testing.T) {
	t.Run("teardown only when the last consumer releases", func(t *testing.T) {
		bus := NewMemoryBus()
		reg := NewRegistry(bus)

		h1, _, err := reg.Acquire("changes.reactions", func([]byte) {})
		require.NoError(t, err)
		h2, _, err := reg.Acquire("changes.reactions", func([]byte) {})
		require.NoError(t, err)

		h1.Release()
		assert.Equal(t, 1, bus.SubscriberCount("changes.reactions"))
		assert.Equal(t, 1, reg.ActiveTopics())

		h2.Release()
		assert.Equal(t, 0, bus.SubscriberCount("changes.reactions"))
		assert.Equal(t, 0, reg.ActiveTopics())
	})

	t.Run("released handler stops receiving", func(t *testing.T) {
		bus := NewMemoryBus()
		reg := NewRegistry(bus)

		var released, kept int
		h1, _, err := reg.Acquire("changes.shouts", func([]byte) { released++ })
		require.NoError(t, err)
		h2, _, err := reg.Acquire("changes.shouts", func([]byte) { kept++ })
		require.NoError(t, err)

		h1.Release()
		require.NoError(t, bus.Publish("changes.shouts", []byte("x")))

		assert.Equal(t, 0, released)
		assert.Equal(t, 1, kept)

		h2.Release()
	})

	t.Run("double release is a no-op", func(t *testing.T) {
		bus := NewMemoryBus()
		reg := NewRegistry(bus)

		h1, _, err := reg.Acquire("changes.invitations", func([]byte) {})
		require.NoError(t, err)
		h2, _, err := reg.Acquire("changes.invitations", func([]byte) {})
		require.NoError(t, err)

		h1.Release()
		h1.Release()

		// The second consumer's claim must survive the double release.
		assert.Equal(t, 1, bus.SubscriberCount("changes.invitations"))

		h2.Release()
		assert.Equal(t, 0, bus.SubscriberCount("changes.invitations"))
	})

	t.Run("topic can be reacquired after teardown", func(t *testing.T) {
		bus := NewMemoryBus()
		reg := NewRegistry(bus)

		h, fresh, err := reg.Acquire("changes.profiles", func([]byte) {})
		require.NoError(t, err)
		require.True(t, fresh)
		h.Release()

		h, fresh, err = reg.Acquire("changes.profiles", func([]byte) {})
		require.NoError(t, err)
		assert.True(t, fresh, "a fully released topic subscribes from scratch")
		h.Release()
	})
}
