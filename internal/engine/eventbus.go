package engine

import (
	"context"
	"sync"

	"github.com/soochol/ingest/internal/ingest"
)

type EventHandler func(ingest.Event)

// EventBus fans lifecycle events out to in-process subscribers. Handlers run
// synchronously on the publishing goroutine and must not block.
type EventBus struct {
	mu       sync.RWMutex
	nextID   uint64
	handlers []subscription
}

type subscription struct {
	id      uint64
	handler EventHandler
}

func NewEventBus() *EventBus {
	return &EventBus{}
}

// Subscribe registers handler and returns a func that removes it. The
// returned func is safe to call more than once.
func (b *EventBus) Subscribe(handler EventHandler) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	b.handlers = append(b.handlers, subscription{id: id, handler: handler})
	return func() { b.remove(id) }
}

func (b *EventBus) remove(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, sub := range b.handlers {
		if sub.id == id {
			b.handlers = append(b.handlers[:i:i], b.handlers[i+1:]...)
			return
		}
	}
}

func (b *EventBus) Publish(event ingest.Event) {
	b.mu.RLock()
	handlers := make([]subscription, len(b.handlers))
	copy(handlers, b.handlers)
	b.mu.RUnlock()
	for _, sub := range handlers {
		sub.handler(event)
	}
}

// Channel returns a buffered channel receiving events until ctx is done,
// when the subscription is removed and the channel closed. Events are
// dropped when the buffer is full.
func (b *EventBus) Channel(ctx context.Context, bufSize int) <-chan ingest.Event {
	ch := make(chan ingest.Event, bufSize)
	var mu sync.Mutex
	closed := false
	unsubscribe := b.Subscribe(func(e ingest.Event) {
		mu.Lock()
		defer mu.Unlock()
		if closed {
			return
		}
		select {
		case ch <- e:
		default:
		}
	})
	go func() {
		<-ctx.Done()
		unsubscribe()
		mu.Lock()
		closed = true
		close(ch)
		mu.Unlock()
	}()
	return ch
}
