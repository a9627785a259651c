package events

import (
	"sync"
	"time"
)

// Kind identifies the category of a lifecycle event.
type Kind string

const (
	KindStateChange      Kind = "state_change"
	KindProbeFault       Kind = "probe_fault"
	KindConsoleLine      Kind = "console_line"
	KindShutdownStep     Kind = "shutdown_step"
	KindProfileActivated Kind = "profile_activated"
	KindCommand          Kind = "command"
)

// Event is a single lifecycle notification published to subscribers.
// Delivery is fire-and-forget: a slow subscriber loses events rather than
// blocking the publisher.
type Event struct {
	At      time.Time `json:"at"`
	Kind    Kind      `json:"kind"`
	Profile string    `json:"profile,omitempty"`
	Role    string    `json:"role,omitempty"`
	From    string    `json:"from,omitempty"`
	To      string    `json:"to,omitempty"`
	Message string    `json:"message,omitempty"`
}

// Bus is a small in-process publish/subscribe hub for lifecycle events.
// Safe for concurrent use.
type Bus struct {
	mu   sync.RWMutex
	subs map[int]chan Event
	next int
}

func NewBus() *Bus {
	return &Bus{subs: make(map[int]chan Event)}
}

// Subscribe registers a new subscriber with the given channel buffer.
// The returned cancel func removes the subscription and closes the channel.
func (b *Bus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan Event, buffer)
	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = ch
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		if c, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(c)
		}
		b.mu.Unlock()
	}
	return ch, cancel
}

// Publish delivers e to all subscribers without blocking. Events for full
// subscriber buffers are dropped.
func (b *Bus) Publish(e Event) {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

// Subscribers reports the number of active subscriptions.
func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
