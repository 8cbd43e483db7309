package realtime

import (
	"sync"
	"time"
)

// DefaultDebounceWindow coalesces bursts of change events into a single
// aggregate recomputation.
const DefaultDebounceWindow = 100 * time.Millisecond

// refetcher turns N invalidations inside a debounce window into exactly one
// refresh. A later invalidation resets the pending timer, so the refresh runs
// once the burst settles. Refresh is always a full re-read of the backing
// store, never counter arithmetic across events.
type refetcher struct {
	window  time.Duration
	refresh func()

	mu     sync.Mutex
	timer  *time.Timer
	closed bool
}

func newRefetcher(window time.Duration, refresh func()) *refetcher {
	if window <= 0 {
		window = DefaultDebounceWindow
	}
	return &refetcher{window: window, refresh: refresh}
}

// Invalidate schedules a refresh after the debounce window, superseding any
// refresh already pending.
func (r *refetcher) Invalidate() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return
	}

	if r.timer != nil {
		r.timer.Stop()
	}
	r.timer = time.AfterFunc(r.window, func() {
		r.mu.Lock()
		if r.closed {
			r.mu.Unlock()
			return
		}
		r.timer = nil
		r.mu.Unlock()

		r.refresh()
	})
}

// Close cancels any pending refresh.
func (r *refetcher) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.closed = true
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
}
