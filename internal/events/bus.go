// Package events carries account lifecycle notifications to interested
// sinks (the debug log, the CLI). Publishing never blocks: slow subscribers
// drop events.
package events

import (
	"sync"
	"time"
)

type EventType string

const (
	EventRefresh   EventType = "refresh"
	EventRateLimit EventType = "ratelimit"
	EventEvict     EventType = "evict"
	EventRecover   EventType = "recover"
	EventDispatch  EventType = "dispatch"
)

type Event struct {
	Type      EventType `json:"type"`
	Email     string    `json:"email,omitempty"`
	Endpoint  string    `json:"endpoint,omitempty"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"ts"`
}

// Bus fans events out to subscribers and keeps a bounded backlog so a late
// subscriber still sees recent history. The backlog is a plain slice, oldest
// first; once full, publishing shifts the oldest entry out.
type Bus struct {
	mu      sync.Mutex
	history []Event
	limit   int
	subs    map[int]chan Event
	nextSub int
}

func NewBus(limit int) *Bus {
	if limit <= 0 {
		limit = 200
	}
	return &Bus{
		history: make([]Event, 0, limit),
		limit:   limit,
		subs:    make(map[int]chan Event),
	}
}

func (b *Bus) Publish(e Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.history) == b.limit {
		copy(b.history, b.history[1:])
		b.history = b.history[:b.limit-1]
	}
	b.history = append(b.history, e)

	for _, ch := range b.subs {
		// Drop rather than stall: a sink that stopped draining must not
		// hold up the dispatch path.
		select {
		case ch <- e:
		default:
		}
	}
}

// Subscribe registers a listener and returns the current backlog, oldest
// first.
func (b *Bus) Subscribe() (id int, ch <-chan Event, backlog []Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	c := make(chan Event, 64)
	id = b.nextSub
	b.nextSub++
	b.subs[id] = c

	return id, c, append([]Event(nil), b.history...)
}

func (b *Bus) Unsubscribe(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if c, ok := b.subs[id]; ok {
		delete(b.subs, id)
		close(c)
	}
}

// Recent returns the buffered backlog, oldest first.
func (b *Bus) Recent() []Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Event(nil), b.history...)
}
