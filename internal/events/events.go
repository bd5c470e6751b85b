// Package events is the synchronous progress/completion pub-sub the
// orchestrator emits to and the CLI (or any other embedder) subscribes to.
package events

import (
	"sync"

	"github.com/datallboy/gonzb/internal/domain"
)

type Kind string

const (
	KindProgress  Kind = "progress"
	KindCompleted Kind = "completed"
	KindFailed    Kind = "failed"
)

// Event is the single shape delivered to every subscriber; fields not
// relevant to Kind are left zero.
type Event struct {
	Kind         Kind
	JobID        string
	BytesWritten uint64
	TotalBytes   uint64
	Status       domain.JobStatus
	Err          error
}

// Subscriber receives events synchronously, in the goroutine that published
// them; it must not block for long.
type Subscriber func(Event)

// Bus delivers events to subscribers in the order they registered.
type Bus struct {
	mu          sync.RWMutex
	subscribers []Subscriber
}

func NewBus() *Bus {
	return &Bus{}
}

// Subscribe registers a callback and returns an unsubscribe function.
func (b *Bus) Subscribe(s Subscriber) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.subscribers = append(b.subscribers, s)
	idx := len(b.subscribers) - 1

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if idx < len(b.subscribers) {
			b.subscribers[idx] = nil
		}
	}
}

// Publish delivers ev to every live subscriber, synchronously, in
// registration order.
func (b *Bus) Publish(ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, s := range b.subscribers {
		if s != nil {
			s(ev)
		}
	}
}
