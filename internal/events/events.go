// Package events publishes engine lifecycle events to in-process
// subscribers. Every successful mutation emits exactly one event; the
// websocket hub and tests subscribe.
package events

import (
	"sync"
	"time"

	"github.com/mbd888/pullpay/internal/idgen"
)

// Type identifies what happened.
type Type string

const (
	TypeInitialized        Type = "engine.initialized"
	TypeAdminUpdated       Type = "admin.updated"
	TypeManagerUpdated     Type = "merchant.manager.updated"
	TypeDebitorUpdated     Type = "merchant.debitor.updated"
	TypeDestinationUpdated Type = "merchant.destination.updated"
	TypeDelegateUpdated    Type = "user.delegate.updated"
	TypeUserDebited        Type = "user.debited"
	TypeRecordClosed       Type = "record.closed"
)

// Event is one engine lifecycle event. Data carries type-specific fields
// (merchant, token, identities, amounts) as strings and numbers ready for
// JSON transport.
type Event struct {
	ID        string         `json:"id"`
	Type      Type           `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data,omitempty"`
}

// Dispatcher fans events out to subscribers. A nil *Dispatcher is valid
// and drops everything, so wiring events is optional in tests.
type Dispatcher struct {
	mu   sync.Mutex
	subs map[int]chan *Event
	next int
}

// NewDispatcher creates an empty dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{subs: make(map[int]chan *Event)}
}

// Subscribe returns a channel of future events and a cancel function.
// The channel is buffered; a subscriber that falls behind misses events
// rather than blocking emitters.
func (d *Dispatcher) Subscribe() (<-chan *Event, func()) {
	d.mu.Lock()
	defer d.mu.Unlock()

	id := d.next
	d.next++
	ch := make(chan *Event, 64)
	d.subs[id] = ch

	cancel := func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		if _, ok := d.subs[id]; ok {
			delete(d.subs, id)
			close(ch)
		}
	}
	return ch, cancel
}

// Emit publishes an event to all subscribers. Fire-and-forget.
func (d *Dispatcher) Emit(t Type, data map[string]any) {
	if d == nil {
		return
	}
	ev := &Event{
		ID:        idgen.WithPrefix("evt_"),
		Type:      t,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	for _, ch := range d.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}
