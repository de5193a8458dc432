/*
bus.go - Queue sync event bus

PURPOSE:
  Relays state-change notifications to dependent read-model caches. Two
  delivery paths:
  - In-process subscribers: invoked synchronously in registration order on
    the publishing goroutine. A slow handler delays the ones after it, so
    handlers must not block indefinitely.
  - Streaming listeners: long-lived push channels for remote consumers. Each
    listener has its own cursor; one disconnect never affects the others.

DELIVERY SEMANTICS:
  Per-listener publish order is preserved. Events are ephemeral: there is no
  persistence or replay, and a reconnecting listener re-derives state from
  the source of truth, not from bus history.

FAILURE ISOLATION:
  A panicking subscriber is recovered and logged; delivery continues to the
  remaining subscribers. A listener that stops draining its channel is
  disconnected rather than allowed to stall the publisher.

SEE ALSO:
  - types.go: SyncEvent, EventType
  - api/stream.go: SSE bridge over Stream
*/
package engine

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// BUS
// =============================================================================

// Handler consumes a sync event. Invoked synchronously on publish.
type Handler func(SyncEvent)

// SubscriberToken identifies a subscription for Unsubscribe.
type SubscriberToken string

// listenerBuffer is the per-listener channel depth. A listener further
// behind than this is dropped instead of blocking the publisher.
const listenerBuffer = 64

type subscriber struct {
	token     SubscriberToken
	eventType EventType
	handler   Handler
}

type listener struct {
	id string
	ch chan SyncEvent
}

// Bus is the in-process publish/subscribe channel plus the push channel to
// remote listeners. Owns no domain data; it is a relay.
type Bus struct {
	mu          sync.RWMutex
	subscribers []subscriber
	listeners   map[string]*listener
}

func NewBus() *Bus {
	return &Bus{listeners: make(map[string]*listener)}
}

// =============================================================================
// IN-PROCESS SUBSCRIBERS
// =============================================================================

// Subscribe registers a handler for one event type. Handlers fire in
// registration order on the publishing goroutine.
func (b *Bus) Subscribe(eventType EventType, handler Handler) SubscriberToken {
	b.mu.Lock()
	defer b.mu.Unlock()

	token := SubscriberToken(uuid.NewString())
	b.subscribers = append(b.subscribers, subscriber{token: token, eventType: eventType, handler: handler})
	return token
}

// Unsubscribe removes a subscription. Safe to call during an in-flight
// publish; the current fan-out completes over its own snapshot.
func (b *Bus) Unsubscribe(token SubscriberToken) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, sub := range b.subscribers {
		if sub.token == token {
			b.subscribers = append(b.subscribers[:i], b.subscribers[i+1:]...)
			return
		}
	}
}

// Publish emits an event to matching in-process subscribers and every
// streaming listener. The event is immutable once published.
func (b *Bus) Publish(eventType EventType, payload map[string]any) {
	event := SyncEvent{
		ID:        uuid.NewString(),
		Type:      eventType,
		Payload:   payload,
		EmittedAt: time.Now().UTC(),
	}

	// Snapshot under read lock so subscribe/unsubscribe during fan-out can't
	// corrupt the iteration. Listener sends stay under the read lock: closes
	// take the write lock, so a channel can't close mid-send.
	b.mu.RLock()
	subs := make([]subscriber, len(b.subscribers))
	copy(subs, b.subscribers)

	var stalled []string
	for _, l := range b.listeners {
		select {
		case l.ch <- event:
		default:
			stalled = append(stalled, l.id)
		}
	}
	b.mu.RUnlock()

	// Listeners that stopped draining get cut loose rather than stalling
	// the publisher.
	for _, id := range stalled {
		log.Printf("[Bus] Dropping stalled listener %s", id)
		b.dropListener(id)
	}

	for _, sub := range subs {
		if sub.eventType != eventType {
			continue
		}
		b.invoke(sub, event)
	}
}

// invoke isolates handler panics so one failing subscriber cannot prevent
// delivery to the rest or crash the publisher.
func (b *Bus) invoke(sub subscriber, event SyncEvent) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[Bus] Subscriber panic on %s: %v", event.Type, r)
		}
	}()
	sub.handler(event)
}

// =============================================================================
// STREAMING LISTENERS
// =============================================================================

// Stream registers a push listener and returns its event channel. The first
// delivered event is a connected greeting. The channel closes when ctx is
// done or the listener falls too far behind; events already delivered to
// other listeners are unaffected either way.
func (b *Bus) Stream(ctx context.Context) <-chan SyncEvent {
	l := &listener{
		id: uuid.NewString(),
		ch: make(chan SyncEvent, listenerBuffer),
	}

	l.ch <- SyncEvent{
		ID:        uuid.NewString(),
		Type:      EventConnected,
		Payload:   map[string]any{"listener": l.id},
		EmittedAt: time.Now().UTC(),
	}

	b.mu.Lock()
	b.listeners[l.id] = l
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.dropListener(l.id)
	}()

	return l.ch
}

func (b *Bus) dropListener(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if l, ok := b.listeners[id]; ok {
		delete(b.listeners, id)
		close(l.ch)
	}
}

// ListenerCount reports connected streaming listeners (for status surfaces).
func (b *Bus) ListenerCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.listeners)
}
