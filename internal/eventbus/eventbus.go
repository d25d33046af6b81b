// Package eventbus provides publish/subscribe for session lifecycle and
// channel events, so that out-of-process consumers (a fleet dashboard,
// a status daemon) can observe a running session without the core
// caring who, if anyone, is listening.
package eventbus

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// EventType classifies event categories.
type EventType string

const (
	EventSessionConnected    EventType = "session.connected"
	EventSessionDisconnected EventType = "session.disconnected"
	EventChannelOpened       EventType = "channel.opened"
	EventChannelError        EventType = "channel.error"
	EventFocusChanged        EventType = "focus.changed"
)

// Event is a single occurrence published onto the bus.
type Event struct {
	ID        string                 `json:"id"`
	Type      EventType              `json:"type"`
	Source    string                 `json:"source"`
	Payload   map[string]interface{} `json:"payload"`
	Timestamp time.Time              `json:"timestamp"`
}

// Handler processes events of a subscribed type.
type Handler func(ctx context.Context, event *Event) error

// Bus provides publish/subscribe for lifecycle and channel events.
//
// A RedisBus backing this interface lets a fleet-management backend
// subscribe to events raised by a head unit without the head unit
// having any notion of who is downstream; a LocalBus is sufficient for
// a single-process embedder that only wants in-Go callbacks.
type Bus interface {
	// Publish sends an event to all subscribers of the event type.
	Publish(ctx context.Context, event *Event) error

	// Subscribe registers a handler for a specific event type.
	// Returns an unsubscribe function.
	Subscribe(eventType EventType, handler Handler) (unsubscribe func())

	// Close shuts down the event bus.
	Close() error
}

// ============================================================================
// LOCAL BUS (in-process)
// ============================================================================

// LocalBus is an in-memory pub/sub implementation, sufficient for a
// single embedder process with no fleet backend attached.
type LocalBus struct {
	mu          sync.RWMutex
	subscribers map[EventType][]subscriberEntry
	nextID      int
	closed      bool
}

type subscriberEntry struct {
	id      int
	handler Handler
}

// NewLocalBus creates a new in-memory event bus.
func NewLocalBus() *LocalBus {
	return &LocalBus{subscribers: make(map[EventType][]subscriberEntry)}
}

// Publish sends an event to all matching subscribers asynchronously.
func (b *LocalBus) Publish(ctx context.Context, event *Event) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil
	}

	for _, entry := range b.subscribers[event.Type] {
		h := entry.handler
		go func() {
			if err := h(ctx, event); err != nil {
				slog.Warn("eventbus: handler error", "type", event.Type, "error", err)
			}
		}()
	}
	return nil
}

// Subscribe registers a handler for a specific event type.
func (b *LocalBus) Subscribe(eventType EventType, handler Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	b.subscribers[eventType] = append(b.subscribers[eventType], subscriberEntry{id: id, handler: handler})

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		subs := b.subscribers[eventType]
		for i, entry := range subs {
			if entry.id == id {
				b.subscribers[eventType] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
	}
}

// Close shuts down the event bus.
func (b *LocalBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.subscribers = nil
	return nil
}
