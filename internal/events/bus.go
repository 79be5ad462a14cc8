// Package events carries change notifications from the data layer to
// whoever is listening (the websocket hub, tests, the CLI).
package events

import (
	"sync"
	"time"
)

// Event types
const (
	TypeDataChange = "dataChange"
	TypeDataSync   = "dataSync"
)

// Actions carried by dataChange events
const (
	ActionCreated  = "created"
	ActionUpsert   = "upsert"
	ActionUpdated  = "updated"
	ActionResolved = "resolved"
)

// Event is a single notification. Record is set for dataChange,
// Online for dataSync.
type Event struct {
	Type       string      `json:"type"`
	Collection string      `json:"collection"`
	Action     string      `json:"action,omitempty"`
	Record     interface{} `json:"record,omitempty"`
	Online     *bool       `json:"online,omitempty"`
	Timestamp  time.Time   `json:"timestamp"`
}

// DataChange builds a dataChange event
func DataChange(collection, action string, record interface{}) Event {
	return Event{
		Type:       TypeDataChange,
		Collection: collection,
		Action:     action,
		Record:     record,
		Timestamp:  time.Now().UTC(),
	}
}

// DataSync builds a dataSync event
func DataSync(collection string, online bool) Event {
	return Event{
		Type:       TypeDataSync,
		Collection: collection,
		Online:     &online,
		Timestamp:  time.Now().UTC(),
	}
}

// Publisher is the write side of the bus
type Publisher interface {
	Publish(Event)
}

// Bus fans events out to subscribers. Publish never blocks: a subscriber
// whose buffer is full misses the event.
type Bus struct {
	mu     sync.RWMutex
	subs   map[chan Event]struct{}
	closed bool
}

// NewBus creates an empty bus
func NewBus() *Bus {
	return &Bus{subs: make(map[chan Event]struct{})}
}

// Subscribe returns a channel receiving every event published from now on
func (b *Bus) Subscribe(buffer int) <-chan Event {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan Event, buffer)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return ch
	}
	b.subs[ch] = struct{}{}
	return ch
}

// Unsubscribe removes and closes a subscription
func (b *Bus) Unsubscribe(ch <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for c := range b.subs {
		if c == ch {
			delete(b.subs, c)
			close(c)
			return
		}
	}
}

// Publish delivers e to every subscriber with room in its buffer.
// A nil *Bus drops everything, so it can stand in for "no publisher".
func (b *Bus) Publish(e Event) {
	if b == nil {
		return
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

// Close closes every subscription; later Publish calls are dropped
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for ch := range b.subs {
		close(ch)
	}
	b.subs = nil
}
