package order

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/pizzaline/pizzaline/pkg/bus"
)

// Store is the ledger's durable persistence boundary. Save rewrites the full
// record set; a mutation is not acknowledged to the caller until Save
// returns.
type Store interface {
	Load(ctx context.Context) ([]*Order, error)
	Save(ctx context.Context, orders []*Order) error
	Close() error
}

// Notifier receives outbound notification triggers. The ledger invokes it on
// its own goroutine after the mutation commits, so a slow delivery never
// stalls the caller. Delivery itself (SMS or otherwise) is the
// implementation's concern; failures must not fail the order mutation.
type Notifier interface {
	OrderCreated(ctx context.Context, o *Order)
	OrderReady(ctx context.Context, o *Order)
}

// Ledger is the single source of truth for orders. All mutations run inside
// one critical section and persist synchronously before returning; reads
// take a shared lock and never queue behind anything longer than an
// in-flight write.
type Ledger struct {
	mu       sync.RWMutex
	byNumber map[string]*Order
	ordered  []*Order
	nextSeq  int

	store    Store
	events   *bus.Bus
	notifier Notifier
	logger   *slog.Logger
	now      func() time.Time
}

// Config carries the ledger's collaborators. Store is required; the rest
// default to no-ops.
type Config struct {
	Store    Store
	Events   *bus.Bus
	Notifier Notifier
	Logger   *slog.Logger
	Now      func() time.Time
}

// NewLedger loads existing orders from the store and resumes the order
// number sequence past the highest number seen. A store that resets on
// process start therefore also resets the sequence; that is documented
// behavior, not a bug.
func NewLedger(ctx context.Context, cfg Config) (*Ledger, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("order: store is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	existing, err := cfg.Store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("order: load store: %w", err)
	}

	l := &Ledger{
		byNumber: make(map[string]*Order, len(existing)),
		nextSeq:  1,
		store:    cfg.Store,
		events:   cfg.Events,
		notifier: cfg.Notifier,
		logger:   cfg.Logger,
		now:      cfg.Now,
	}
	for _, o := range existing {
		if o == nil || o.Number == "" {
			continue
		}
		l.byNumber[o.Number] = o
		l.ordered = append(l.ordered, o)
		var seq int
		if _, err := fmt.Sscanf(o.Number, "%d", &seq); err == nil && seq >= l.nextSeq {
			l.nextSeq = seq + 1
		}
	}
	return l, nil
}

// Create adds a new order with status received. The order is persisted
// before Create returns: a returned order survives a crash immediately
// after the call.
func (l *Ledger) Create(ctx context.Context, items []LineItem, phone string) (*Order, error) {
	if len(items) == 0 {
		return nil, ErrEmptyOrder
	}

	now := l.now()
	copied := make([]LineItem, len(items))
	copy(copied, items)

	var total float64
	for _, it := range copied {
		qty := it.Quantity
		if qty < 1 {
			qty = 1
		}
		total += it.UnitPrice * float64(qty)
	}

	l.mu.Lock()
	o := &Order{
		Number:    fmt.Sprintf("%04d", l.nextSeq),
		Items:     copied,
		Phone:     phone,
		Status:    StatusReceived,
		Total:     total,
		History:   []StatusChange{{Status: StatusReceived, At: now}},
		CreatedAt: now,
		UpdatedAt: now,
	}
	l.nextSeq++

	if err := l.store.Save(ctx, l.snapshotLocked(append(l.ordered, o))); err != nil {
		l.nextSeq--
		l.mu.Unlock()
		return nil, fmt.Errorf("order: persist create: %w", err)
	}
	l.byNumber[o.Number] = o
	l.ordered = append(l.ordered, o)
	result := o.clone()
	l.mu.Unlock()

	l.logger.Info("order created", "order_number", result.Number, "items", len(result.Items), "total", result.Total)
	l.publish(bus.Event{Type: bus.EventOrderCreated, OrderNumber: result.Number, Data: map[string]any{
		"status": string(result.Status),
		"total":  result.Total,
	}})
	l.notify(ctx, result, Notifier.OrderCreated)
	return result, nil
}

// AdvanceStatus applies a status transition. Re-asserting the current
// status is a no-op that returns the order unchanged; invalid moves return
// ErrInvalidTransition with the order untouched.
func (l *Ledger) AdvanceStatus(ctx context.Context, number string, to Status) (*Order, error) {
	if !to.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, to)
	}

	l.mu.Lock()
	o, ok := l.byNumber[number]
	if !ok {
		l.mu.Unlock()
		return nil, ErrNotFound
	}
	if o.Status == to {
		result := o.clone()
		l.mu.Unlock()
		return result, nil
	}
	if !CanTransition(o.Status, to) {
		from := o.Status
		l.mu.Unlock()
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}

	prev := o.Status
	prevHistory := len(o.History)
	now := l.now()
	o.Status = to
	o.UpdatedAt = now
	o.History = append(o.History, StatusChange{Status: to, At: now})

	if err := l.store.Save(ctx, l.snapshotLocked(l.ordered)); err != nil {
		o.Status = prev
		o.History = o.History[:prevHistory]
		l.mu.Unlock()
		return nil, fmt.Errorf("order: persist status: %w", err)
	}
	result := o.clone()
	l.mu.Unlock()

	l.logger.Info("order status advanced", "order_number", number, "from", prev, "to", to)
	l.publish(bus.Event{Type: bus.EventOrderStatus, OrderNumber: number, Data: map[string]any{
		"from": string(prev),
		"to":   string(to),
	}})
	if to == StatusReady {
		l.notify(ctx, result, Notifier.OrderReady)
	}
	return result, nil
}

// Get returns a copy of one order, or ErrNotFound.
func (l *Ledger) Get(number string) (*Order, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	o, ok := l.byNumber[number]
	if !ok {
		return nil, ErrNotFound
	}
	return o.clone(), nil
}

// ListActive returns non-terminal orders in creation order.
func (l *Ledger) ListActive() []*Order {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]*Order, 0, len(l.ordered))
	for _, o := range l.ordered {
		if o.Active() {
			out = append(out, o.clone())
		}
	}
	return out
}

// List returns every order in creation order.
func (l *Ledger) List() []*Order {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]*Order, 0, len(l.ordered))
	for _, o := range l.ordered {
		out = append(out, o.clone())
	}
	return out
}

// CountActiveForPhone counts non-terminal orders for one caller.
func (l *Ledger) CountActiveForPhone(phone string) int {
	if phone == "" {
		return 0
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	n := 0
	for _, o := range l.ordered {
		if o.Phone == phone && o.Active() {
			n++
		}
	}
	return n
}

// FindByPhone returns the most recent order for a phone number, or
// ErrNotFound.
func (l *Ledger) FindByPhone(phone string) (*Order, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for i := len(l.ordered) - 1; i >= 0; i-- {
		if l.ordered[i].Phone == phone {
			return l.ordered[i].clone(), nil
		}
	}
	return nil, ErrNotFound
}

// notify fires one notification without blocking the mutation path. The
// context is detached from the caller so an ended call or request does not
// cancel an in-flight delivery.
func (l *Ledger) notify(ctx context.Context, o *Order, send func(Notifier, context.Context, *Order)) {
	if l.notifier == nil {
		return
	}
	go send(l.notifier, context.WithoutCancel(ctx), o)
}

func (l *Ledger) publish(e bus.Event) {
	if l.events != nil {
		l.events.Publish(e)
	}
}

// snapshotLocked copies the given order list for the store. Caller holds mu.
func (l *Ledger) snapshotLocked(orders []*Order) []*Order {
	out := make([]*Order, len(orders))
	for i, o := range orders {
		out[i] = o.clone()
	}
	return out
}
