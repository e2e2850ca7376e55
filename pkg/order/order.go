// Package order is the authoritative, concurrency-safe ledger of all orders
// placed through the voice line.
package order

import (
	"errors"
	"time"
)

var (
	// ErrEmptyOrder rejects order creation with no line items.
	ErrEmptyOrder = errors.New("order: empty line item list")
	// ErrInvalidTransition rejects status moves that go backward or leave
	// a terminal status.
	ErrInvalidTransition = errors.New("order: invalid status transition")
	// ErrNotFound is returned for lookups of unknown order numbers.
	ErrNotFound = errors.New("order: not found")
)

// Status is an order's kitchen state.
type Status string

const (
	StatusReceived  Status = "received"
	StatusPreparing Status = "preparing"
	StatusReady     Status = "ready"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

var statusRank = map[Status]int{
	StatusReceived:  0,
	StatusPreparing: 1,
	StatusReady:     2,
	StatusCompleted: 3,
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	if s == StatusCancelled {
		return true
	}
	_, ok := statusRank[s]
	return ok
}

// Terminal reports whether s admits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// CanTransition reports whether an order may move from one status to
// another. Re-asserting the current status is allowed (idempotent);
// forward moves and cancellation from any non-terminal status are allowed;
// backward moves and moves out of a terminal status are not.
func CanTransition(from, to Status) bool {
	if !from.Valid() || !to.Valid() {
		return false
	}
	if from == to {
		return true
	}
	if from.Terminal() {
		return false
	}
	if to == StatusCancelled {
		return true
	}
	return statusRank[to] > statusRank[from]
}

// LineItem is one cart line, immutable once the order is created.
type LineItem struct {
	Item      string   `json:"item"`
	Size      string   `json:"size,omitempty"`
	Quantity  int      `json:"quantity"`
	Modifiers []string `json:"modifiers,omitempty"`
	UnitPrice float64  `json:"unit_price,omitempty"`
}

// StatusChange is one appended entry in an order's transition history.
type StatusChange struct {
	Status Status    `json:"status"`
	At     time.Time `json:"at"`
}

// Order is owned by the Ledger and mutated only through it. Line items
// never change after creation; only the status does, and every applied
// transition is appended to History.
type Order struct {
	Number    string         `json:"order_number"`
	Items     []LineItem     `json:"items"`
	Phone     string         `json:"phone,omitempty"`
	Status    Status         `json:"status"`
	Total     float64        `json:"total"`
	History   []StatusChange `json:"history"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// Active reports whether the order still needs kitchen attention.
func (o *Order) Active() bool {
	return !o.Status.Terminal()
}

func (o *Order) clone() *Order {
	cp := *o
	cp.Items = make([]LineItem, len(o.Items))
	copy(cp.Items, o.Items)
	cp.History = make([]StatusChange, len(o.History))
	copy(cp.History, o.History)
	return &cp
}
