package realtime

import (
	"fmt"
	"sync"
)

// Registry hands out shared subscriptions keyed by topic name. Concurrent
// consumers of the same topic share one underlying transport subscription;
// the transport is only unsubscribed when the last consumer releases.
type Registry struct {
	bus     Bus
	mu      sync.Mutex
	entries map[string]*registryEntry
}

type registryEntry struct {
	sub      Subscription
	refs     int
	nextID   int
	handlers map[int]func([]byte)
}

// NewRegistry creates a registry over the given bus.
func NewRegistry(bus Bus) *Registry {
	return &Registry{
		bus:     bus,
		entries: make(map[string]*registryEntry),
	}
}

// Acquire attaches a handler to the topic's shared subscription, creating the
// underlying transport subscription on first use. The returned bool is true
// when this call created the subscription. Acquiring an already-subscribed
// topic never tears down or disturbs the existing stream.
func (r *Registry) Acquire(topic string, handler func([]byte)) (*Handle, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[topic]
	if !ok {
		entry = &registryEntry{handlers: make(map[int]func([]byte))}
		sub, err := r.bus.Subscribe(topic, func(_ string, data []byte) {
			r.dispatch(topic, data)
		})
		if err != nil {
			return nil, false, fmt.Errorf("subscribing to %s: %w", topic, err)
		}
		entry.sub = sub
		r.entries[topic] = entry
	}

	entry.refs++
	entry.nextID++
	id := entry.nextID
	entry.handlers[id] = handler

	return &Handle{registry: r, topic: topic, id: id}, !ok, nil
}

// ActiveTopics returns the number of topics with a live transport subscription.
func (r *Registry) ActiveTopics() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

func (r *Registry) dispatch(topic string, data []byte) {
	r.mu.Lock()
	entry, ok := r.entries[topic]
	if !ok {
		r.mu.Unlock()
		return
	}
	handlers := make([]func([]byte), 0, len(entry.handlers))
	for _, h := range entry.handlers {
		handlers = append(handlers, h)
	}
	r.mu.Unlock()

	for _, h := range handlers {
		h(data)
	}
}

func (r *Registry) release(topic string, id int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[topic]
	if !ok {
		return
	}

	delete(entry.handlers, id)
	entry.refs--
	if entry.refs > 0 {
		return
	}

	// Last consumer gone, tear down the transport subscription.
	entry.sub.Unsubscribe()
	delete(r.entries, topic)
}

// Handle is one consumer's claim on a shared topic subscription.
type Handle struct {
	registry *Registry
	topic    string
	id       int
	once     sync.Once
}

// Topic returns the topic this handle is attached to.
func (h *Handle) Topic() string {
	return h.topic
}

// Release detaches this consumer. The underlying subscription is only torn
// down when no consumers remain. Releasing twice is a no-op.
func (h *Handle) Release() {
	h.once.Do(func() {
		h.registry.release(h.topic, h.id)
	})
}
