package realtime

import (
	"encoding/json"
	"log"
	"sync"
	"time"
)

// Op is the kind of row change carried by a ChangeEvent.
type Op string

const (
	OpInsert Op = "insert"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
)

// ChangeEvent is a row-level change notification published by the storage
// layer after a successful write. Row holds the affected row's snapshot;
// consumers decode it into the typed entity for the table, never a loose map.
type ChangeEvent struct {
	Table string          `json:"table"`
	Op    Op              `json:"op"`
	Row   json.RawMessage `json:"row"`
	At    time.Time       `json:"at"`
}

// ChangeTopic returns the bus topic carrying change events for a table.
func ChangeTopic(table string) string {
	return "changes." + table
}

// Publisher emits change events for store writes.
type Publisher struct {
	bus Bus
}

// NewPublisher creates a change-event publisher over the bus.
func NewPublisher(bus Bus) *Publisher {
	return &Publisher{bus: bus}
}

// Changed publishes a change event for a table row. Publish failures are
// logged and dropped; a missed notification degrades to stale reads, it is
// never allowed to fail the write that caused it.
func (p *Publisher) Changed(table string, op Op, row interface{}) {
	raw, err := json.Marshal(row)
	if err != nil {
		log.Printf("change event: marshal row for %s: %v", table, err)
		return
	}

	event := ChangeEvent{Table: table, Op: op, Row: raw, At: time.Now()}
	data, err := json.Marshal(event)
	if err != nil {
		log.Printf("change event: marshal event for %s: %v", table, err)
		return
	}

	if err := p.bus.Publish(ChangeTopic(table), data); err != nil {
		log.Printf("change event: publish %s %s: %v", table, op, err)
	}
}

// Callbacks are the typed handlers a Listener invokes per change kind. Any of
// them may be nil.
type Callbacks struct {
	OnInsert func(ChangeEvent)
	OnUpdate func(ChangeEvent)
	OnDelete func(ChangeEvent)
}

// ListenerConfig configures a change-stream listener for one table.
type ListenerConfig struct {
	Table   string
	Enabled bool

	// Filter, when set, drops events it returns false for before any
	// callback runs.
	Filter func(ChangeEvent) bool

	Callbacks Callbacks
}

// Listener subscribes to a table's change stream and invokes typed callbacks.
// Callbacks live in a mutable cell: they can be swapped at any time without
// resubscribing. The subscription is established once at construction.
type Listener struct {
	handle *Handle

	mu     sync.Mutex
	cbs    Callbacks
	filter func(ChangeEvent) bool
}

// NewListener subscribes to the table's change stream through the registry.
// With Enabled=false no subscription is created and the listener is inert.
func NewListener(reg *Registry, cfg ListenerConfig) (*Listener, error) {
	l := &Listener{
		cbs:    cfg.Callbacks,
		filter: cfg.Filter,
	}

	if !cfg.Enabled {
		return l, nil
	}

	handle, _, err := reg.Acquire(ChangeTopic(cfg.Table), l.handleEvent)
	if err != nil {
		return nil, err
	}
	l.handle = handle

	return l, nil
}

// SetCallbacks swaps the listener's callbacks without touching the
// subscription.
func (l *Listener) SetCallbacks(cbs Callbacks) {
	l.mu.Lock()
	l.cbs = cbs
	l.mu.Unlock()
}

// Close releases the listener's claim on the change stream.
func (l *Listener) Close() {
	if l.handle != nil {
		l.handle.Release()
	}
}

func (l *Listener) handleEvent(data []byte) {
	var event ChangeEvent
	if err := json.Unmarshal(data, &event); err != nil {
		log.Printf("change listener: decode event: %v", err)
		return
	}

	l.mu.Lock()
	cbs := l.cbs
	filter := l.filter
	l.mu.Unlock()

	if filter != nil && !filter(event) {
		return
	}

	switch event.Op {
	case OpInsert:
		if cbs.OnInsert != nil {
			cbs.OnInsert(event)
		}
	case OpUpdate:
		if cbs.OnUpdate != nil {
			cbs.OnUpdate(event)
		}
	case OpDelete:
		if cbs.OnDelete != nil {
			cbs.OnDelete(event)
		}
	default:
		log.Printf("change listener: unknown op %q on %s", event.Op, event.Table)
	}
}
