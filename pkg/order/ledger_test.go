package order

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/pizzaline/pizzaline/pkg/bus"
)

type memStore struct {
	mu    sync.Mutex
	saves int
	last  []*Order
	fail  error
}

func (m *memStore) Load(context.Context) ([]*Order, error) { return m.last, nil }

func (m *memStore) Save(_ context.Context, orders []*Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return m.fail
	}
	m.saves++
	m.last = orders
	return nil
}

func (m *memStore) Close() error { return nil }

type recordingNotifier struct {
	mu      sync.Mutex
	created []string
	ready   []string
}

func (n *recordingNotifier) OrderCreated(_ context.Context, o *Order) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.created = append(n.created, o.Number)
}

func (n *recordingNotifier) OrderReady(_ context.Context, o *Order) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.ready = append(n.ready, o.Number)
}

func (n *recordingNotifier) createdNumbers() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.created...)
}

func (n *recordingNotifier) readyNumbers() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.ready...)
}

// waitForNotifications polls until get returns at least one entry.
// Notifications are delivered off the mutation path.
func waitForNotifications(t *testing.T, get func() []string) []string {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		if got := get(); len(got) > 0 {
			return got
		}
		if time.Now().After(deadline) {
			t.Fatal("no notification arrived")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func newTestLedger(t *testing.T, store Store) *Ledger {
	t.Helper()
	if store == nil {
		store = &memStore{}
	}
	l, err := NewLedger(context.Background(), Config{Store: store})
	if err != nil {
		t.Fatalf("NewLedger: %v", err)
	}
	return l
}

func someItems() []LineItem {
	return []LineItem{{Item: "taro milk tea", Size: "M", Quantity: 1, Modifiers: []string{"boba"}, UnitPrice: 5.5}}
}

func TestCreateRejectsEmptyOrder(t *testing.T) {
	l := newTestLedger(t, nil)
	if _, err := l.Create(context.Background(), nil, "+15551234567"); !errors.Is(err, ErrEmptyOrder) {
		t.Fatalf("Create(nil) error = %v, want ErrEmptyOrder", err)
	}
}

func TestCreateAssignsDistinctNumbersAndPersists(t *testing.T) {
	store := &memStore{}
	l := newTestLedger(t, store)

	seen := make(map[string]bool)
	for i := 0; i < 25; i++ {
		o, err := l.Create(context.Background(), someItems(), "+15551234567")
		if err != nil {
			t.Fatalf("Create %d: %v", i, err)
		}
		if seen[o.Number] {
			t.Fatalf("duplicate order number %s", o.Number)
		}
		seen[o.Number] = true
		if o.Status != StatusReceived {
			t.Fatalf("new order status = %s, want received", o.Status)
		}
	}
	if store.saves != 25 {
		t.Fatalf("store saves = %d, want 25 (one per mutation)", store.saves)
	}
}

func TestCreateFailedPersistLeavesNoOrder(t *testing.T) {
	store := &memStore{fail: errors.New("disk full")}
	l := newTestLedger(t, store)
	if _, err := l.Create(context.Background(), someItems(), ""); err == nil {
		t.Fatal("Create succeeded despite store failure")
	}
	store.fail = nil
	o, err := l.Create(context.Background(), someItems(), "")
	if err != nil {
		t.Fatalf("Create after recovery: %v", err)
	}
	if o.Number != "0001" {
		t.Fatalf("number after failed create = %s, want 0001", o.Number)
	}
	if len(l.ListActive()) != 1 {
		t.Fatalf("active orders = %d, want 1", len(l.ListActive()))
	}
}

func TestAdvanceStatusChainAndHistory(t *testing.T) {
	l := newTestLedger(t, nil)
	o, _ := l.Create(context.Background(), someItems(), "")

	for _, st := range []Status{StatusPreparing, StatusReady, StatusCompleted} {
		got, err := l.AdvanceStatus(context.Background(), o.Number, st)
		if err != nil {
			t.Fatalf("AdvanceStatus(%s): %v", st, err)
		}
		if got.Status != st {
			t.Fatalf("status = %s, want %s", got.Status, st)
		}
	}

	final, _ := l.Get(o.Number)
	want := []Status{StatusReceived, StatusPreparing, StatusReady, StatusCompleted}
	if len(final.History) != len(want) {
		t.Fatalf("history length = %d, want %d", len(final.History), len(want))
	}
	for i, st := range want {
		if final.History[i].Status != st {
			t.Fatalf("history[%d] = %s, want %s", i, final.History[i].Status, st)
		}
	}
}

func TestAdvanceStatusRejectsBackwardAndTerminalMoves(t *testing.T) {
	l := newTestLedger(t, nil)
	o, _ := l.Create(context.Background(), someItems(), "")

	if _, err := l.AdvanceStatus(context.Background(), o.Number, StatusCompleted); err != nil {
		t.Fatalf("advance to completed: %v", err)
	}
	if _, err := l.AdvanceStatus(context.Background(), o.Number, StatusPreparing); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("terminal escape error = %v, want ErrInvalidTransition", err)
	}
	got, _ := l.Get(o.Number)
	if got.Status != StatusCompleted {
		t.Fatalf("status after rejected move = %s, want completed", got.Status)
	}

	o2, _ := l.Create(context.Background(), someItems(), "")
	l.AdvanceStatus(context.Background(), o2.Number, StatusReady)
	if _, err := l.AdvanceStatus(context.Background(), o2.Number, StatusReceived); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("backward move error = %v, want ErrInvalidTransition", err)
	}
}

func TestAdvanceStatusIdempotentOnSameTarget(t *testing.T) {
	store := &memStore{}
	l := newTestLedger(t, store)
	o, _ := l.Create(context.Background(), someItems(), "")

	l.AdvanceStatus(context.Background(), o.Number, StatusReady)
	savesBefore := store.saves
	got, err := l.AdvanceStatus(context.Background(), o.Number, StatusReady)
	if err != nil {
		t.Fatalf("repeat AdvanceStatus: %v", err)
	}
	if got.Status != StatusReady {
		t.Fatalf("status = %s, want ready", got.Status)
	}
	if store.saves != savesBefore {
		t.Fatal("idempotent repeat should not rewrite the store")
	}
	final, _ := l.Get(o.Number)
	if len(final.History) != 2 {
		t.Fatalf("history length = %d, want 2 (no duplicate entry)", len(final.History))
	}
}

func TestAdvanceStatusUnknownOrder(t *testing.T) {
	l := newTestLedger(t, nil)
	if _, err := l.AdvanceStatus(context.Background(), "9999", StatusReady); !errors.Is(err, ErrNotFound) {
		t.Fatalf("error = %v, want ErrNotFound", err)
	}
}

func TestCancelFromAnyNonTerminalStatus(t *testing.T) {
	l := newTestLedger(t, nil)
	for _, from := range []Status{StatusReceived, StatusPreparing, StatusReady} {
		o, _ := l.Create(context.Background(), someItems(), "")
		if from != StatusReceived {
			if _, err := l.AdvanceStatus(context.Background(), o.Number, from); err != nil {
				t.Fatalf("setup advance to %s: %v", from, err)
			}
		}
		if _, err := l.AdvanceStatus(context.Background(), o.Number, StatusCancelled); err != nil {
			t.Fatalf("cancel from %s: %v", from, err)
		}
	}
}

func TestReadyTriggersExactlyOneEventAndNotification(t *testing.T) {
	events := bus.New(16)
	notifier := &recordingNotifier{}
	store := &memStore{}
	l, err := NewLedger(context.Background(), Config{Store: store, Events: events, Notifier: notifier})
	if err != nil {
		t.Fatalf("NewLedger: %v", err)
	}
	sub := events.Subscribe(bus.FilterOrders)
	defer events.Unsubscribe(sub.ID)

	o, err := l.Create(context.Background(), someItems(), "+15551234567")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := l.AdvanceStatus(context.Background(), o.Number, StatusReady); err != nil {
		t.Fatalf("AdvanceStatus: %v", err)
	}

	if e := <-sub.Events; e.Type != bus.EventOrderCreated || e.OrderNumber != o.Number {
		t.Fatalf("first event = %+v, want order_created for %s", e, o.Number)
	}
	if e := <-sub.Events; e.Type != bus.EventOrderStatus || e.Data["to"] != string(StatusReady) {
		t.Fatalf("second event = %+v, want order_status to ready", e)
	}
	select {
	case e := <-sub.Events:
		t.Fatalf("unexpected extra event %+v", e)
	default:
	}

	created := waitForNotifications(t, notifier.createdNumbers)
	if len(created) != 1 || created[0] != o.Number {
		t.Fatalf("created notifications = %v, want exactly [%s]", created, o.Number)
	}
	ready := waitForNotifications(t, notifier.readyNumbers)
	if len(ready) != 1 || ready[0] != o.Number {
		t.Fatalf("ready notifications = %v, want exactly [%s]", ready, o.Number)
	}
}

// stallingNotifier blocks every delivery until released.
type stallingNotifier struct {
	release chan struct{}
	seen    chan string
}

func (n *stallingNotifier) OrderCreated(_ context.Context, o *Order) {
	<-n.release
	n.seen <- o.Number
}

func (n *stallingNotifier) OrderReady(context.Context, *Order) {}

func TestNotifierDoesNotBlockMutations(t *testing.T) {
	notifier := &stallingNotifier{release: make(chan struct{}), seen: make(chan string, 1)}
	l, err := NewLedger(context.Background(), Config{Store: &memStore{}, Notifier: notifier})
	if err != nil {
		t.Fatalf("NewLedger: %v", err)
	}

	done := make(chan *Order, 1)
	go func() {
		o, err := l.Create(context.Background(), someItems(), "+15551234567")
		if err != nil {
			t.Errorf("Create: %v", err)
			return
		}
		done <- o
	}()

	var o *Order
	select {
	case o = <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Create stalled behind the notifier")
	}

	close(notifier.release)
	select {
	case num := <-notifier.seen:
		if num != o.Number {
			t.Fatalf("notified order = %s, want %s", num, o.Number)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("notification never delivered")
	}
}

func TestListActiveExcludesTerminalAndKeepsCreationOrder(t *testing.T) {
	l := newTestLedger(t, nil)
	a, _ := l.Create(context.Background(), someItems(), "")
	b, _ := l.Create(context.Background(), someItems(), "")
	c, _ := l.Create(context.Background(), someItems(), "")
	l.AdvanceStatus(context.Background(), b.Number, StatusCancelled)

	active := l.ListActive()
	if len(active) != 2 {
		t.Fatalf("active = %d, want 2", len(active))
	}
	if active[0].Number != a.Number || active[1].Number != c.Number {
		t.Fatalf("active order = [%s %s], want [%s %s]", active[0].Number, active[1].Number, a.Number, c.Number)
	}
}

func TestCountActiveForPhone(t *testing.T) {
	l := newTestLedger(t, nil)
	phone := "+15551234567"
	for i := 0; i < 3; i++ {
		l.Create(context.Background(), someItems(), phone)
	}
	o, _ := l.Create(context.Background(), someItems(), phone)
	l.AdvanceStatus(context.Background(), o.Number, StatusCompleted)
	l.Create(context.Background(), someItems(), "+15559990000")

	if got := l.CountActiveForPhone(phone); got != 3 {
		t.Fatalf("CountActiveForPhone = %d, want 3", got)
	}
}

func TestConcurrentCreatesStayDistinct(t *testing.T) {
	l := newTestLedger(t, nil)
	const n = 40

	var wg sync.WaitGroup
	numbers := make(chan string, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			o, err := l.Create(context.Background(), someItems(), "")
			if err != nil {
				t.Errorf("Create: %v", err)
				return
			}
			numbers <- o.Number
		}()
	}
	wg.Wait()
	close(numbers)

	seen := make(map[string]bool)
	for num := range numbers {
		if seen[num] {
			t.Fatalf("duplicate order number %s under concurrency", num)
		}
		seen[num] = true
	}
}

func TestFileStoreRoundTripAndReset(t *testing.T) {
	path := filepath.Join(t.TempDir(), "orders.json")
	store, err := OpenFileStore(path, false)
	if err != nil {
		t.Fatalf("OpenFileStore: %v", err)
	}

	orders := []*Order{{
		Number:    "0001",
		Items:     someItems(),
		Phone:     "+15551234567",
		Status:    StatusReceived,
		History:   []StatusChange{{Status: StatusReceived, At: time.Now().UTC()}},
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}}
	if err := store.Save(context.Background(), orders); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := store.Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(loaded) != 1 || loaded[0].Number != "0001" || loaded[0].Status != StatusReceived {
		t.Fatalf("loaded = %+v, want the saved order back", loaded)
	}

	fresh, err := OpenFileStore(path, true)
	if err != nil {
		t.Fatalf("OpenFileStore fresh: %v", err)
	}
	loaded, err = fresh.Load(context.Background())
	if err != nil {
		t.Fatalf("Load after reset: %v", err)
	}
	if len(loaded) != 0 {
		t.Fatalf("orders after reset = %d, want 0", len(loaded))
	}
}

func TestLedgerResumesSequenceFromStore(t *testing.T) {
	store := &memStore{last: []*Order{
		{Number: "0007", Items: someItems(), Status: StatusReceived},
	}}
	l := newTestLedger(t, store)
	o, err := l.Create(context.Background(), someItems(), "")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if o.Number != "0008" {
		t.Fatalf("resumed number = %s, want 0008", o.Number)
	}
}
