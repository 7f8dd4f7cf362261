// Package events provides the in-process publish/subscribe fabric that
// delivers typed system events to subscribed agents.
package events

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/nolan-sh/nolan/internal/common/logger"
	v1 "github.com/nolan-sh/nolan/pkg/api/v1"
)

// DefaultCapacity is the per-subscriber buffer of the broadcast channel.
const DefaultCapacity = 1000

// Bus is a bounded broadcast. Publishing never blocks: when a lagging
// subscriber's buffer is full its oldest undelivered event is dropped and
// the lag is logged.
type Bus struct {
	mu       sync.RWMutex
	subs     map[uint64]*subscriber
	nextID   uint64
	capacity int
	closed   bool
	logger   *logger.Logger
}

type subscriber struct {
	id      uint64
	ch      chan v1.Event
	dropped uint64
}

// NewBus creates a bus with the given per-subscriber capacity (0 means
// DefaultCapacity).
func NewBus(capacity int, log *logger.Logger) *Bus {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Bus{
		subs:     make(map[uint64]*subscriber),
		capacity: capacity,
		logger:   log.WithFields(zap.String("component", "event-bus")),
	}
}

// Publish broadcasts an event to every subscriber.
func (b *Bus) Publish(event v1.Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}

	for _, sub := range b.subs {
		select {
		case sub.ch <- event:
			continue
		default:
		}

		// Buffer full: drop the oldest undelivered event to make room.
		select {
		case <-sub.ch:
			sub.dropped++
			b.logger.Warn("subscriber lagging, dropped oldest event",
				zap.Uint64("subscriber", sub.id),
				zap.Uint64("total_dropped", sub.dropped))
		default:
		}
		select {
		case sub.ch <- event:
		default:
		}
	}
}

// Emit constructs and publishes an event.
func (b *Bus) Emit(kind v1.EventKind, payload interface{}, source string) {
	b.Publish(v1.Event{
		Kind:      kind,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
		Source:    source,
	})
}

// Subscribe registers a new subscriber. The returned cancel function must
// be called to release the subscription.
func (b *Bus) Subscribe() (<-chan v1.Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	sub := &subscriber{id: b.nextID, ch: make(chan v1.Event, b.capacity)}
	b.subs[sub.id] = sub

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if _, ok := b.subs[sub.id]; ok {
			delete(b.subs, sub.id)
			close(sub.ch)
		}
	}
	return sub.ch, cancel
}

// Close shuts the bus down and closes all subscriber channels.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, sub := range b.subs {
		delete(b.subs, id)
		close(sub.ch)
	}
}

// SubscriberCount returns the number of active subscribers.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
