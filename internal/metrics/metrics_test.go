package metrics

import (
	"context"
	"testing"
)

// With no MeterProvider installed, otel.Meter returns a no-op implementation
// whose instruments are non-nil but inert — these just pin down that every
// Collector/Bus method is safe to call unconditionally from call sites that
// don't check for a real exporter.

func TestNewCollectorInstrumentsAreUsableBeforeAnyExporterIsInstalled(t *testing.T) {
	c := NewCollector("test_collector")
	ctx := context.Background()

	c.IncReceived(ctx)
	c.IncProcessed(ctx)
	c.IncFiltered(ctx)
	c.IncEmitted(ctx, 3)
	c.SetBufferSize(ctx, 5)
	c.SetBufferSize(ctx, -2)
}

func TestZeroValueCollectorDoesNotPanic(t *testing.T) {
	var c Collector
	ctx := context.Background()

	c.IncReceived(ctx)
	c.IncProcessed(ctx)
	c.IncFiltered(ctx)
	c.IncEmitted(ctx, 1)
	c.SetBufferSize(ctx, 1)
}

func TestNewBusInstrumentsAreUsable(t *testing.T) {
	b := NewBus()
	ctx := context.Background()

	b.IncPublished(ctx)
	b.IncDropped(ctx)
	b.IncErrors(ctx)
}

func TestZeroValueBusDoesNotPanic(t *testing.T) {
	var b Bus
	ctx := context.Background()

	b.IncPublished(ctx)
	b.IncDropped(ctx)
	b.IncErrors(ctx)
}
