package bus

import (
	"strings"
	"sync"

	"github.com/converse-chat/converse/internal/domain"
)

// Bus is an in-process publish/subscribe event bus with topic-prefix
// filtering. Topics follow the two routing granularities of the router:
// "conversation:{id}" for live-open viewers and "user:{id}" for personal
// channels. Delivery is at-most-once: a full subscriber buffer drops the
// event rather than blocking the publisher.
type Bus struct {
	mu   sync.RWMutex
	subs map[int]*subscription
	next int
}

type subscription struct {
	prefix string
	ch     chan domain.Event
}

// New creates a new event bus.
func New() *Bus {
	return &Bus{
		subs: make(map[int]*subscription),
	}
}

// Broadcast implements domain.Broadcaster.
func (b *Bus) Broadcast(evt domain.Event) {
	b.Publish(evt)
}

// Publish sends an event to all subscribers whose prefix matches evt.Topic.
func (b *Bus) Publish(evt domain.Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		if strings.HasPrefix(evt.Topic, sub.prefix) {
			select {
			case sub.ch <- evt:
			default:
				// Drop event if subscriber is full (non-blocking).
			}
		}
	}
}

// Subscribe returns a channel that receives events whose topic matches the
// given prefix. An exact topic is simply its own prefix. bufSize controls
// the channel buffer. Returns the channel and an unsubscribe function.
func (b *Bus) Subscribe(prefix string, bufSize int) (<-chan domain.Event, func()) {
	ch := make(chan domain.Event, bufSize)
	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = &subscription{prefix: prefix, ch: ch}
	b.mu.Unlock()

	return ch, func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}
}
