// Package events fans committed session events out to live subscribers.
package events

import (
	"sync"
	"sync/atomic"

	"github.com/turbine-shutdown/backend/internal/models"
)

// DefaultBuffer is the per-subscriber queue length.
const DefaultBuffer = 64

type subscriber struct {
	sessionID string
	ch        chan models.SessionEvent
}

// Broker implements session.Publisher. A slow subscriber loses events
// instead of stalling the publisher.
type Broker struct {
	mu      sync.RWMutex
	subs    map[uint64]*subscriber
	nextID  uint64
	buffer  int
	dropped atomic.Uint64
}

// NewBroker creates a broker with the given per-subscriber buffer.
func NewBroker(buffer int) *Broker {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Broker{subs: make(map[uint64]*subscriber), buffer: buffer}
}

// Subscribe registers for events of one session, or of every session when
// sessionID is empty. The returned func unsubscribes and closes the channel.
func (b *Broker) Subscribe(sessionID string) (<-chan models.SessionEvent, func()) {
	sub := &subscriber{sessionID: sessionID, ch: make(chan models.SessionEvent, b.buffer)}

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = sub
	b.mu.Unlock()

	var once sync.Once
	return sub.ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(sub.ch)
		})
	}
}

// Publish delivers the event to every matching subscriber without blocking.
func (b *Broker) Publish(event models.SessionEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		if sub.sessionID != "" && sub.sessionID != event.SessionID {
			continue
		}
		select {
		case sub.ch <- event:
		default:
			b.dropped.Add(1)
		}
	}
}

// Subscribers returns the number of live subscriptions.
func (b *Broker) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Dropped returns how many deliveries were skipped because a queue was full.
func (b *Broker) Dropped() uint64 { return b.dropped.Load() }
