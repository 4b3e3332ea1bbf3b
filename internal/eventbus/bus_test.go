package eventbus

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"ttgw-go/internal/events"
)

func TestPublishDeliversToSubscriber(t *testing.T) {
	b := New(zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go b.Run(ctx)
	defer b.Stop()

	got := make(chan events.Kind, 1)
	b.Subscribe(func(ev events.Event) { got <- ev.Kind })

	b.Publish(events.Event{Kind: events.KindDevReset})

	select {
	case k := <-got:
		if k != events.KindDevReset {
			t.Fatalf("got kind %v, want KindDevReset", k)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for delivery")
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := New(zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go b.Run(ctx)
	defer b.Stop()

	var mu sync.Mutex
	count := 0
	sub := b.Subscribe(func(ev events.Event) {
		mu.Lock()
		count++
		mu.Unlock()
	})
	sub.Unsubscribe()

	b.Publish(events.Event{Kind: events.KindDevReset})
	// Give the worker a moment to process (or not) the event.
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if count != 0 {
		t.Fatalf("got %d deliveries after Unsubscribe, want 0", count)
	}
}

func TestHandlerPanicDoesNotStopWorker(t *testing.T) {
	b := New(zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go b.Run(ctx)
	defer b.Stop()

	b.Subscribe(func(ev events.Event) { panic("boom") })
	got := make(chan struct{}, 1)
	b.Subscribe(func(ev events.Event) { got <- struct{}{} })

	b.Publish(events.Event{Kind: events.KindDevReset})

	select {
	case <-got:
	case <-time.After(time.Second):
		t.Fatal("a panicking handler must not prevent later handlers from running")
	}

	// The worker itself must still be alive for a second event.
	got2 := make(chan struct{}, 1)
	b.Subscribe(func(ev events.Event) { got2 <- struct{}{} })
	b.Publish(events.Event{Kind: events.KindDevReset})
	select {
	case <-got2:
	case <-time.After(time.Second):
		t.Fatal("worker should still process events after a handler panic")
	}
}
