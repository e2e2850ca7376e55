// Package bus is the in-process fan-out of order-lifecycle events to live
// dashboard subscribers. The bus never holds authoritative state; the order
// ledger does.
package bus

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event kinds published on the bus.
const (
	EventOrderCreated = "order_created"
	EventOrderStatus  = "order_status"
	EventCallStarted  = "call_started"
	EventCallEnded    = "call_ended"
)

// Event is a transient notification. Subscribers refresh from the ledger;
// a dropped event is recovered by the next one.
type Event struct {
	Type        string         `json:"type"`
	OrderNumber string         `json:"order_number,omitempty"`
	CallID      string         `json:"call_id,omitempty"`
	Data        map[string]any `json:"data,omitempty"`
	At          time.Time      `json:"at"`
}

// Filter selects which events a subscriber receives.
type Filter int

const (
	// FilterAll delivers every event.
	FilterAll Filter = iota
	// FilterOrders delivers only order lifecycle events.
	FilterOrders
)

func (f Filter) matches(e Event) bool {
	if f != FilterOrders {
		return true
	}
	return e.Type == EventOrderCreated || e.Type == EventOrderStatus
}

// Subscription is one live feed. Events arrives in publish order for this
// subscriber; when the subscriber falls behind, the oldest queued event is
// dropped rather than blocking the publisher.
type Subscription struct {
	ID     string
	Events <-chan Event

	filter Filter
	ch     chan Event
}

// Bus fans events out to any number of subscribers.
type Bus struct {
	mu        sync.Mutex
	subs      map[string]*Subscription
	queueSize int
}

// New creates a bus whose subscribers each buffer up to queueSize events.
func New(queueSize int) *Bus {
	if queueSize <= 0 {
		queueSize = 64
	}
	return &Bus{
		subs:      make(map[string]*Subscription),
		queueSize: queueSize,
	}
}

// Subscribe registers a new subscriber. The caller must Unsubscribe when the
// downstream connection closes; subscriptions are never collected implicitly.
func (b *Bus) Subscribe(filter Filter) *Subscription {
	ch := make(chan Event, b.queueSize)
	sub := &Subscription{
		ID:     uuid.NewString(),
		Events: ch,
		filter: filter,
		ch:     ch,
	}
	b.mu.Lock()
	b.subs[sub.ID] = sub
	b.mu.Unlock()
	return sub
}

// Unsubscribe removes a subscriber and closes its event channel.
func (b *Bus) Unsubscribe(id string) {
	b.mu.Lock()
	sub, ok := b.subs[id]
	if ok {
		delete(b.subs, id)
	}
	b.mu.Unlock()
	if ok {
		close(sub.ch)
	}
}

// Publish delivers the event to every matching subscriber without blocking.
// A full subscriber queue sheds its oldest event to make room.
func (b *Bus) Publish(e Event) {
	if e.At.IsZero() {
		e.At = time.Now()
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	for _, sub := range b.subs {
		if !sub.filter.matches(e) {
			continue
		}
		for {
			select {
			case sub.ch <- e:
			default:
				// Queue full: shed the oldest and retry. Only
				// consumers can touch the channel while the lock is
				// held, so the retry cannot spin.
				select {
				case <-sub.ch:
				default:
				}
				continue
			}
			break
		}
	}
}

// SubscriberCount reports the number of live subscriptions.
func (b *Bus) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
