// Package bus is the in-process broadcast channel for notification
// triggers. Delivery is synchronous and in subscription order; there is no
// cross-process delivery.
package bus

import (
	"sync"

	"github.com/nhle/reminders/internal/model"
)

// Publisher is the narrow capability handed to trigger producers.
type Publisher interface {
	Publish(ev model.NotificationEvent)
}

// Handler receives events on the publishing goroutine.
type Handler func(ev model.NotificationEvent)

// Bus is a single named broadcast channel.
type Bus struct {
	name string

	mu       sync.RWMutex
	nextID   int
	handlers []subscription

	// publishMu serialises Publish so every subscriber observes events in
	// the same order, one at a time.
	publishMu sync.Mutex
}

type subscription struct {
	id int
	fn Handler
}

// New creates a bus.
func New(name string) *Bus {
	return &Bus{name: name}
}

// Name returns the channel name.
func (b *Bus) Name() string {
	return b.name
}

// Subscribe registers fn and returns a func that removes it.
func (b *Bus) Subscribe(fn Handler) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	b.handlers = append(b.handlers, subscription{id: id, fn: fn})

	var once sync.Once
	return func() {
		once.Do(func() { b.remove(id) })
	}
}

func (b *Bus) remove(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, s := range b.handlers {
		if s.id == id {
			b.handlers = append(b.handlers[:i:i], b.handlers[i+1:]...)
			return
		}
	}
}

// Publish delivers ev to every current subscriber before returning.
// Handlers must not publish on the same bus.
func (b *Bus) Publish(ev model.NotificationEvent) {
	b.publishMu.Lock()
	defer b.publishMu.Unlock()

	b.mu.RLock()
	handlers := make([]subscription, len(b.handlers))
	copy(handlers, b.handlers)
	b.mu.RUnlock()

	for _, s := range handlers {
		s.fn(ev)
	}
}

// Len returns the number of subscribers.
func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers)
}
