package alerts

import (
	"sync"
	"sync/atomic"

	"github.com/mr1hm/nepal-hazard-watch/internal/models"
)

// Listener receives alert set changes. It runs on the goroutine that made
// the change and must not block.
type Listener func(models.AlertChange)

type Broadcaster struct {
	listeners map[uint64]Listener
	nextID    atomic.Uint64
	mu        sync.RWMutex
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		listeners: make(map[uint64]Listener),
	}
}

// Subscribe registers fn and returns a func that removes it. The returned
// func is safe to call more than once.
func (b *Broadcaster) Subscribe(fn Listener) func() {
	id := b.nextID.Add(1)

	b.mu.Lock()
	b.listeners[id] = fn
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.listeners, id)
			b.mu.Unlock()
		})
	}
}

// Broadcast calls every listener with c. Listeners are called outside the
// lock so they may unsubscribe themselves.
func (b *Broadcaster) Broadcast(c models.AlertChange) {
	b.mu.RLock()
	fns := make([]Listener, 0, len(b.listeners))
	for _, fn := range b.listeners {
		fns = append(fns, fn)
	}
	b.mu.RUnlock()

	for _, fn := range fns {
		fn(c)
	}
}

func (b *Broadcaster) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.listeners)
}

// Close drops all listeners.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id := range b.listeners {
		delete(b.listeners, id)
	}
}
