package bus

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/nofendian17/hl-whale-signal/internal/events"
)

func TestPublishDeliversToTypeAndWildcardSubscribers(t *testing.T) {
	b := New()
	ctx := context.Background()
	b.Connect(ctx)
	defer b.Disconnect(time.Second)

	var mu sync.Mutex
	var typed, wild int

	done := make(chan struct{}, 2)
	b.Subscribe(events.TypeTrade, func(_ context.Context, ev *events.StandardEvent) error {
		mu.Lock()
		typed++
		mu.Unlock()
		done <- struct{}{}
		return nil
	}, 5)
	b.Subscribe(events.Type("*"), func(_ context.Context, ev *events.StandardEvent) error {
		mu.Lock()
		wild++
		mu.Unlock()
		done <- struct{}{}
		return nil
	}, 5)

	ev := events.New(events.TypeTrade, "test", nil)
	if !b.Publish(ctx, ev, events.DefaultPriority) {
		t.Fatal("expected Publish to succeed on a connected bus")
	}

	for i := 0; i < 2; i++ {
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for handler delivery")
		}
	}

	mu.Lock()
	defer mu.Unlock()
	if typed != 1 || wild != 1 {
		t.Errorf("typed=%d wild=%d, want 1 and 1", typed, wild)
	}
}

func TestSubscribePriorityOrdersHandlers(t *testing.T) {
	b := New()
	ctx := context.Background()
	b.Connect(ctx)
	defer b.Disconnect(time.Second)

	var mu sync.Mutex
	var order []string
	done := make(chan struct{}, 2)

	b.Subscribe(events.TypeSignal, func(_ context.Context, ev *events.StandardEvent) error {
		mu.Lock()
		order = append(order, "low-priority-runs-second")
		mu.Unlock()
		done <- struct{}{}
		return nil
	}, 10)
	b.Subscribe(events.TypeSignal, func(_ context.Context, ev *events.StandardEvent) error {
		mu.Lock()
		order = append(order, "high-priority-runs-first")
		mu.Unlock()
		done <- struct{}{}
		return nil
	}, 1)

	b.Publish(ctx, events.New(events.TypeSignal, "test", nil), events.DefaultPriority)

	for i := 0; i < 2; i++ {
		<-done
	}

	mu.Lock()
	defer mu.Unlock()
	if len(order) != 2 || order[0] != "high-priority-runs-first" {
		t.Errorf("handler order = %v, want high priority first", order)
	}
}

func TestPublishOnDisconnectedBusIsDroppedNotBlocked(t *testing.T) {
	b := New()

	ok := b.Publish(context.Background(), events.New(events.TypeTrade, "test", nil), events.DefaultPriority)
	if ok {
		t.Fatal("expected Publish on a never-connected bus to fail")
	}
	if b.Dropped() != 1 {
		t.Errorf("Dropped() = %d, want 1", b.Dropped())
	}
}

func TestDisconnectIsIdempotentAndWaitsForDrain(t *testing.T) {
	b := New()
	ctx := context.Background()
	b.Connect(ctx)

	processed := make(chan struct{})
	b.Subscribe(events.TypeTrade, func(_ context.Context, ev *events.StandardEvent) error {
		close(processed)
		return nil
	}, events.DefaultPriority)

	b.Publish(ctx, events.New(events.TypeTrade, "test", nil), events.DefaultPriority)
	b.Disconnect(time.Second)
	b.Disconnect(time.Second) // must not panic or block

	select {
	case <-processed:
	case <-time.After(time.Second):
		t.Fatal("expected the in-flight event to be processed before Disconnect returned")
	}
}

func TestHandlerPanicIsRecoveredAndDoesNotStopDispatch(t *testing.T) {
	b := New()
	ctx := context.Background()
	b.Connect(ctx)
	defer b.Disconnect(time.Second)

	done := make(chan struct{})
	b.Subscribe(events.TypeTrade, func(_ context.Context, ev *events.StandardEvent) error {
		panic("boom")
	}, 1)
	b.Subscribe(events.TypeTrade, func(_ context.Context, ev *events.StandardEvent) error {
		close(done)
		return nil
	}, 2)

	b.Publish(ctx, events.New(events.TypeTrade, "test", nil), events.DefaultPriority)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("expected the second handler to still run after the first panicked")
	}
}

func TestTryPublishReturnsErrBusNotConnected(t *testing.T) {
	b := New()

	ok, err := b.TryPublish(context.Background(), events.New(events.TypeTrade, "test", nil), events.DefaultPriority)
	if ok {
		t.Fatal("expected TryPublish on a never-connected bus to fail")
	}
	if err != ErrBusNotConnected {
		t.Errorf("err = %v, want ErrBusNotConnected", err)
	}
}

func TestUnsubscribeRemovesOnlyItsOwnHandler(t *testing.T) {
	b := New()
	ctx := context.Background()
	b.Connect(ctx)
	defer b.Disconnect(time.Second)

	var mu sync.Mutex
	var fired []string
	done := make(chan struct{}, 1)

	staleID := b.Subscribe(events.TypeTrade, func(_ context.Context, ev *events.StandardEvent) error {
		mu.Lock()
		fired = append(fired, "stale")
		mu.Unlock()
		return nil
	}, 1)
	b.Subscribe(events.TypeTrade, func(_ context.Context, ev *events.StandardEvent) error {
		mu.Lock()
		fired = append(fired, "kept")
		mu.Unlock()
		done <- struct{}{}
		return nil
	}, 2)

	b.Unsubscribe(staleID)
	b.Publish(ctx, events.New(events.TypeTrade, "test", nil), events.DefaultPriority)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for the kept handler")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(fired) != 1 || fired[0] != "kept" {
		t.Errorf("fired = %v, want only [kept]", fired)
	}
}
