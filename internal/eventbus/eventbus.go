// Package eventbus broadcasts forgemodel.Event values to any number of
// subscribers without letting a slow or abandoned subscriber block the
// publisher.
package eventbus

import (
	"sync"

	"github.com/ultracode-dev/forge/internal/forgemodel"
)

// DefaultBufferSize is the per-subscriber channel buffer used by
// Subscribe when a caller does not request a specific size.
const DefaultBufferSize = 64

// Bus fans events out to any number of subscribers. A single project
// run typically has one store-writer subscriber and one or more
// presentation-layer subscribers (CLI status line, a future TUI).
type Bus struct {
	mu   sync.RWMutex
	subs map[int]chan forgemodel.Event
	next int
	done bool
}

// New creates an empty Bus.
func New() *Bus {
	return &Bus{subs: make(map[int]chan forgemodel.Event)}
}

// Subscription is a handle returned by Subscribe. Call Unsubscribe when
// the consumer is done listening so the Bus stops tracking it.
type Subscription struct {
	id     int
	bus    *Bus
	Events <-chan forgemodel.Event
}

// Unsubscribe removes the subscription and closes its channel. Safe to
// call more than once.
func (s *Subscription) Unsubscribe() {
	s.bus.unsubscribe(s.id)
}

// Subscribe registers a new listener with a channel buffered to
// bufferSize (DefaultBufferSize if bufferSize <= 0).
func (b *Bus) Subscribe(bufferSize int) *Subscription {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	ch := make(chan forgemodel.Event, bufferSize)

	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.next
	b.next++
	if b.done {
		close(ch)
		return &Subscription{id: id, bus: b, Events: ch}
	}
	b.subs[id] = ch
	return &Subscription{id: id, bus: b, Events: ch}
}

func (b *Bus) unsubscribe(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch, ok := b.subs[id]
	if !ok {
		return
	}
	delete(b.subs, id)
	close(ch)
}

// Publish fans event out to every current subscriber. If a subscriber's
// buffer is full, the event is dropped for that subscriber rather than
// blocking the publisher or the other subscribers.
func (b *Bus) Publish(event forgemodel.Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.done {
		return
	}
	for _, ch := range b.subs {
		select {
		case ch <- event:
		default:
		}
	}
}

// Close shuts down the bus: every current subscriber's channel is
// closed and no further Subscribe call will receive events. Safe to
// call more than once.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.done {
		return
	}
	b.done = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}

// SubscriberCount reports the number of currently active subscribers.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
