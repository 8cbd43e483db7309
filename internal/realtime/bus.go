package realtime

import (
	"sync"

	"github.com/nats-io/nats.go"
)

// Bus is the pub/sub transport the realtime layer rides on. Reconnection and
// backoff are the transport's responsibility, not this layer's.
type Bus interface {
	// Publish sends a payload to every subscriber of a topic
	Publish(topic string, data []byte) error

	// Subscribe registers a handler for a topic
	Subscribe(topic string, handler func(topic string, data []byte)) (Subscription, error)
}

// Subscription is a live topic subscription that can be torn down.
type Subscription interface {
	Unsubscribe() error
}

// natsBus adapts a NATS connection to the Bus interface.
type natsBus struct {
	nc *nats.Conn
}

// NewNATSBus wraps a NATS connection as a Bus.
func NewNATSBus(nc *nats.Conn) Bus {
	return &natsBus{nc: nc}
}

func (b *natsBus) Publish(topic string, data []byte) error {
	return b.nc.Publish(topic, data)
}

func (b *natsBus) Subscribe(topic string, handler func(string, []byte)) (Subscription, error) {
	sub, err := b.nc.Subscribe(topic, func(msg *nats.Msg) {
		handler(msg.Subject, msg.Data)
	})
	if err != nil {
		return nil, err
	}
	return sub, nil
}

// MemoryBus is an in-process Bus used by tests and single-node runs.
// Delivery is synchronous in Publish.
type MemoryBus struct {
	mu     sync.RWMutex
	nextID int
	subs   map[string]map[int]func(string, []byte)
}

// NewMemoryBus creates an empty in-process bus.
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{subs: make(map[string]map[int]func(string, []byte))}
}

func (b *MemoryBus) Publish(topic string, data []byte) error {
	b.mu.RLock()
	handlers := make([]func(string, []byte), 0, len(b.subs[topic]))
	for _, h := range b.subs[topic] {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		h(topic, data)
	}
	return nil
}

func (b *MemoryBus) Subscribe(topic string, handler func(string, []byte)) (Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.subs[topic] == nil {
		b.subs[topic] = make(map[int]func(string, []byte))
	}
	b.nextID++
	id := b.nextID
	b.subs[topic][id] = handler

	return &memorySubscription{bus: b, topic: topic, id: id}, nil
}

// SubscriberCount returns the number of live subscriptions for a topic.
func (b *MemoryBus) SubscriberCount(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[topic])
}

type memorySubscription struct {
	bus   *MemoryBus
	topic string
	id    int
}

func (s *memorySubscription) Unsubscribe() error {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()

	if handlers, ok := s.bus.subs[s.topic]; ok {
		delete(handlers, s.id)
		if len(handlers) == 0 {
			delete(s.bus.subs, s.topic)
		}
	}
	return nil
}
