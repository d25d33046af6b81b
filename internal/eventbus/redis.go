// Package eventbus — Redis-backed Bus for cross-process event
// distribution, so a fleet-management backend running elsewhere can
// subscribe to session events raised by a head unit on the vehicle.
package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// PubSubClient is a minimal interface for Redis Pub/Sub operations,
// satisfied by a thin wrapper around *redis.Client so this package
// never imports the concrete driver; cmd/aacored constructs the real
// client and injects it.
type PubSubClient interface {
	Publish(ctx context.Context, channel string, message []byte) error
	Subscribe(ctx context.Context, channel string, handler func([]byte)) (unsubscribe func(), err error)
}

// RedisBus distributes events across processes using Redis Pub/Sub.
// In-process subscribers receive events through their Redis
// subscription; Publish delivers to them directly only when the Redis
// publish fails.
type RedisBus struct {
	mu         sync.RWMutex
	pubsub     PubSubClient
	prefix     string
	localSubs  map[EventType][]subscriberEntry
	nextID     int
	unsubFuncs []func()
	closed     bool
}

// NewRedisBus creates a new Redis-backed event bus.
func NewRedisBus(client PubSubClient, channelPrefix string) *RedisBus {
	if channelPrefix == "" {
		channelPrefix = "aacore:events:"
	}
	return &RedisBus{
		pubsub:    client,
		prefix:    channelPrefix,
		localSubs: make(map[EventType][]subscriberEntry),
	}
}

// Publish sends an event to Redis Pub/Sub so all subscribing processes
// receive it. Returns immediately after publishing — delivery is
// asynchronous.
func (b *RedisBus) Publish(ctx context.Context, event *Event) error {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return fmt.Errorf("eventbus: bus is closed")
	}
	b.mu.RUnlock()

	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("eventbus: marshal event: %w", err)
	}

	channel := b.prefix + string(event.Type)
	if err := b.pubsub.Publish(ctx, channel, data); err != nil {
		slog.Warn("eventbus: redis publish failed, falling back to local", "type", event.Type, "error", err)
		b.deliverLocal(ctx, event)
		return nil
	}
	return nil
}

// Subscribe registers a handler for a specific event type. The handler
// receives events published from any process (via Redis) as well as
// local publishers.
func (b *RedisBus) Subscribe(eventType EventType, handler Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	b.localSubs[eventType] = append(b.localSubs[eventType], subscriberEntry{id: id, handler: handler})

	channel := b.prefix + string(eventType)
	unsub, err := b.pubsub.Subscribe(context.Background(), channel, func(data []byte) {
		var event Event
		if err := json.Unmarshal(data, &event); err != nil {
			slog.Warn("eventbus: failed to unmarshal event", "error", err)
			return
		}
		b.deliverLocal(context.Background(), &event)
	})
	if err != nil {
		slog.Warn("eventbus: redis subscribe failed, local-only", "type", eventType, "error", err)
	} else {
		b.unsubFuncs = append(b.unsubFuncs, unsub)
	}

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		subs := b.localSubs[eventType]
		for i, entry := range subs {
			if entry.id == id {
				b.localSubs[eventType] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
	}
}

// Close shuts down the bus and all Redis subscriptions.
func (b *RedisBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	for _, unsub := range b.unsubFuncs {
		unsub()
	}
	b.unsubFuncs = nil
	b.localSubs = nil
	return nil
}

func (b *RedisBus) deliverLocal(ctx context.Context, event *Event) {
	b.mu.RLock()
	handlers := b.localSubs[event.Type]
	b.mu.RUnlock()

	for _, entry := range handlers {
		h := entry.handler
		go func() {
			if err := h(ctx, event); err != nil {
				slog.Warn("eventbus: handler error", "type", event.Type, "error", err)
			}
		}()
	}
}
