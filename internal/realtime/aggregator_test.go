package realtime

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRefetcherCoalesces(t *testing.T) {
	var refreshes int32
	r := newRefetcher(50*time.Millisecond, func() { atomic.AddInt32(&refreshes, 1) })
	defer r.Close()

	// A burst inside the window settles into exactly one refresh.
	for i := 0; i < 5; i++ {
		r.Invalidate()
		time.Sleep(5 * time.Millisecond)
	}

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&refreshes) == 1
	}, time.Second, 5*time.Millisecond)

	// And stays at one.
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(1), atomic.LoadInt32(&refreshes))
}

func TestRefetcherSeparateBursts(t *testing.T) {
	var refreshes int32
	r := newRefetcher(20*time.Millisecond, func() { atomic.AddInt32(&refreshes, 1) })
	defer r.Close()

	r.Invalidate()
	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&refreshes) == 1
	}, time.Second, 5*time.Millisecond)

	r.Invalidate()
	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&refreshes) == 2
	}, time.Second, 5*time.Millisecond)
}

func TestRefetcherClose(t *testing.T) {
	var refreshes int32
	r := newRefetcher(20*time.Millisecond, func() { atomic.AddInt32(&refreshes, 1) })

	r.Invalidate()
	r.Close()

	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, int32(0), atomic.LoadInt32(&refreshes), "close cancels the pending refresh")

	// Invalidate after close is inert.
	r.Invalidate()
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, int32(0), atomic.LoadInt32(&refreshes))
}

func TestRefetcherDefaultWindow(t *testing.T) {
	r := newRefetcher(0, func() {})
	defer r.Close()
	assert.Equal(t, DefaultDebounceWindow, r.window)
}
