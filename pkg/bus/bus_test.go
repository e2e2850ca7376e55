package bus

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestPublishDeliversInOrder(t *testing.T) {
	b := New(16)
	sub := b.Subscribe(FilterAll)
	defer b.Unsubscribe(sub.ID)

	for i := 0; i < 5; i++ {
		b.Publish(Event{Type: EventOrderStatus, OrderNumber: fmt.Sprintf("%04d", i)})
	}
	for i := 0; i < 5; i++ {
		e := <-sub.Events
		if want := fmt.Sprintf("%04d", i); e.OrderNumber != want {
			t.Fatalf("event %d order = %s, want %s", i, e.OrderNumber, want)
		}
	}
}

func TestOrdersFilterSkipsCallEvents(t *testing.T) {
	b := New(16)
	sub := b.Subscribe(FilterOrders)
	defer b.Unsubscribe(sub.ID)

	b.Publish(Event{Type: EventCallStarted, CallID: "c1"})
	b.Publish(Event{Type: EventOrderCreated, OrderNumber: "0001"})

	e := <-sub.Events
	if e.Type != EventOrderCreated {
		t.Fatalf("first delivered event = %s, want %s", e.Type, EventOrderCreated)
	}
	select {
	case e := <-sub.Events:
		t.Fatalf("unexpected extra event %s", e.Type)
	default:
	}
}

func TestSlowSubscriberDropsOldestWithoutBlockingPublisher(t *testing.T) {
	b := New(2)
	sub := b.Subscribe(FilterAll)
	defer b.Unsubscribe(sub.ID)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 100; i++ {
			b.Publish(Event{Type: EventOrderStatus, OrderNumber: fmt.Sprintf("%04d", i)})
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publisher blocked on a slow subscriber")
	}

	// The queue holds the latest events only.
	e := <-sub.Events
	if e.OrderNumber != "0098" {
		t.Fatalf("oldest surviving event = %s, want 0098", e.OrderNumber)
	}
	e = <-sub.Events
	if e.OrderNumber != "0099" {
		t.Fatalf("latest event = %s, want 0099", e.OrderNumber)
	}
}

func TestConcurrentPublishPerSubscriberOrder(t *testing.T) {
	b := New(1024)
	const publishers = 8
	const perPublisher = 50

	subs := make([]*Subscription, 3)
	for i := range subs {
		subs[i] = b.Subscribe(FilterAll)
	}

	var wg sync.WaitGroup
	for p := 0; p < publishers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perPublisher; i++ {
				b.Publish(Event{
					Type:   EventOrderStatus,
					CallID: fmt.Sprintf("caller-%d", p),
					Data:   map[string]any{"seq": i},
				})
			}
		}(p)
	}
	wg.Wait()

	for si, sub := range subs {
		lastSeq := make(map[string]int)
		for i := 0; i < publishers*perPublisher; i++ {
			e := <-sub.Events
			seq := e.Data["seq"].(int)
			if prev, ok := lastSeq[e.CallID]; ok && seq <= prev {
				t.Fatalf("subscriber %d saw %s seq %d after %d", si, e.CallID, seq, prev)
			}
			lastSeq[e.CallID] = seq
		}
		b.Unsubscribe(sub.ID)
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := New(4)
	sub := b.Subscribe(FilterAll)
	b.Unsubscribe(sub.ID)
	if _, ok := <-sub.Events; ok {
		t.Fatal("channel still open after Unsubscribe")
	}
	if b.SubscriberCount() != 0 {
		t.Fatalf("SubscriberCount = %d, want 0", b.SubscriberCount())
	}
}
