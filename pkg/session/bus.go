package session

import (
	"log"
	"sync"

	"github.com/omnivibe/wavelink/pkg/protocol"
)

// Handler receives a dispatched event. Handlers run synchronously on
// the session's dispatch goroutine, so they must not block.
type Handler func(protocol.Event)

// Subscription identifies a registered handler so it can be removed.
// The zero value is never issued.
type Subscription struct {
	event protocol.EventName
	id    uint64
}

type busEntry struct {
	id uint64
	fn Handler
}

// Bus is an in-process publish/subscribe registry mapping event names
// to ordered handler lists. Handlers for an event fire in registration
// order; a handler that panics is logged and skipped without affecting
// the rest.
type Bus struct {
	mu       sync.Mutex
	nextID   uint64
	handlers map[protocol.EventName][]busEntry
	logger   *log.Logger
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{
		handlers: make(map[protocol.EventName][]busEntry),
	}
}

// SetLogger sets a logger for reporting handler panics.
func (b *Bus) SetLogger(logger *log.Logger) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.logger = logger
}

func (b *Bus) logf(format string, args ...interface{}) {
	if b.logger != nil {
		b.logger.Printf(format, args...)
	}
}

// Subscribe registers a handler under an event name. Multiple handlers
// per event are permitted and independent.
func (b *Bus) Subscribe(event protocol.EventName, fn Handler) Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	b.handlers[event] = append(b.handlers[event], busEntry{id: b.nextID, fn: fn})
	return Subscription{event: event, id: b.nextID}
}

// Unsubscribe removes a previously registered handler. Removal does not
// affect a dispatch pass already in flight, but prevents all future
// dispatches to the handler. Unknown subscriptions are a no-op.
func (b *Bus) Unsubscribe(sub Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	entries := b.handlers[sub.event]
	for i, entry := range entries {
		if entry.id == sub.id {
			b.handlers[sub.event] = append(entries[:i:i], entries[i+1:]...)
			return
		}
	}
}

// Dispatch synchronously invokes every handler currently registered for
// the event's name, in registration order. The handler list is
// snapshotted up front, so handlers may subscribe or unsubscribe during
// the pass without changing it.
func (b *Bus) Dispatch(event protocol.Event) {
	b.mu.Lock()
	entries := b.handlers[event.EventName()]
	snapshot := make([]busEntry, len(entries))
	copy(snapshot, entries)
	b.mu.Unlock()

	for _, entry := range snapshot {
		b.invoke(event, entry)
	}
}

// invoke runs one handler, isolating the rest from its panics.
func (b *Bus) invoke(event protocol.Event, entry busEntry) {
	defer func() {
		if r := recover(); r != nil {
			b.logf("handler for %s panicked: %v", event.EventName(), r)
		}
	}()
	entry.fn(event)
}

// HandlerCount reports how many handlers are registered for an event.
func (b *Bus) HandlerCount(event protocol.EventName) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.handlers[event])
}
