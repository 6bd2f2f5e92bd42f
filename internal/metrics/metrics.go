// Package metrics wires the ambient instrumentation concern: every
// collector, the bus, and the processors report through otel counters so
// an operator can wire a real exporter without touching call sites.
package metrics

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "hl-whale-signal"

// Collector holds the per-collector instrument set named in spec §4.2.
type Collector struct {
	MessagesReceived  metric.Int64Counter
	MessagesProcessed metric.Int64Counter
	MessagesFiltered  metric.Int64Counter
	EventsEmitted     metric.Int64Counter
	BufferSize        metric.Int64UpDownCounter
}

// NewCollector creates the instrument set for a named collector. Uses the
// global MeterProvider, which defaults to a no-op implementation until an
// operator installs a real one — the call sites never need to change.
func NewCollector(name string) *Collector {
	meter := otel.Meter(meterName)
	c := &Collector{}
	c.MessagesReceived, _ = meter.Int64Counter(name + ".messages_received")
	c.MessagesProcessed, _ = meter.Int64Counter(name + ".messages_processed")
	c.MessagesFiltered, _ = meter.Int64Counter(name + ".messages_filtered")
	c.EventsEmitted, _ = meter.Int64Counter(name + ".events_emitted")
	c.BufferSize, _ = meter.Int64UpDownCounter(name + ".buffer_size")
	return c
}

func (c *Collector) IncReceived(ctx context.Context)  { c.add(ctx, c.MessagesReceived, 1) }
func (c *Collector) IncProcessed(ctx context.Context) { c.add(ctx, c.MessagesProcessed, 1) }
func (c *Collector) IncFiltered(ctx context.Context)  { c.add(ctx, c.MessagesFiltered, 1) }
func (c *Collector) IncEmitted(ctx context.Context, n int64) {
	if c.EventsEmitted != nil {
		c.EventsEmitted.Add(ctx, n)
	}
}
func (c *Collector) SetBufferSize(ctx context.Context, delta int64) {
	if c.BufferSize != nil {
		c.BufferSize.Add(ctx, delta)
	}
}

func (c *Collector) add(ctx context.Context, counter metric.Int64Counter, n int64) {
	if counter != nil {
		counter.Add(ctx, n)
	}
}

// Bus holds the bus's own instrument set (spec §4.3).
type Bus struct {
	Published metric.Int64Counter
	Dropped   metric.Int64Counter
	Errors    metric.Int64Counter
}

// NewBus creates the bus instrument set.
func NewBus() *Bus {
	meter := otel.Meter(meterName)
	b := &Bus{}
	b.Published, _ = meter.Int64Counter("bus.published")
	b.Dropped, _ = meter.Int64Counter("bus.dropped")
	b.Errors, _ = meter.Int64Counter("bus.errors")
	return b
}

func (b *Bus) IncPublished(ctx context.Context) { addCounter(ctx, b.Published) }
func (b *Bus) IncDropped(ctx context.Context)   { addCounter(ctx, b.Dropped) }
func (b *Bus) IncErrors(ctx context.Context)    { addCounter(ctx, b.Errors) }

func addCounter(ctx context.Context, counter metric.Int64Counter) {
	if counter != nil {
		counter.Add(ctx, 1)
	}
}
