package processors

import (
	"context"
	"testing"
	"time"

	"github.com/nofendian17/hl-whale-signal/internal/bus"
	"github.com/nofendian17/hl-whale-signal/internal/events"
)

// newTestBus returns a connected bus that disconnects when the test ends.
func newTestBus(t *testing.T) *bus.Bus {
	t.Helper()
	b := bus.New()
	ctx := context.Background()
	b.Connect(ctx)
	t.Cleanup(func() { b.Disconnect(time.Second) })
	return b
}

// publishAndWait publishes ev and gives the bus's single worker goroutine
// time to dispatch it to every subscriber before returning.
func publishAndWait(t *testing.T, b *bus.Bus, ev *events.StandardEvent) {
	t.Helper()
	if !b.Publish(context.Background(), ev, events.DefaultPriority) {
		t.Fatal("expected Publish to succeed")
	}
	time.Sleep(50 * time.Millisecond)
}
