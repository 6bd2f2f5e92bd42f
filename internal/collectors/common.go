// Package collectors holds the per-stream WebSocket collectors of spec
// §4.2: Candle, Orderbook, Trades, AllMids, Trader-Positions, and
// Trader-Orders. Each wraps a wsexchange.Manager subscription, filters
// and transforms raw frames, and publishes StandardEvents onto the bus.
//
// The shared buffered-flusher (timer + size triggers) is grounded on the
// teacher's handlers.RunningTradeHandler.batchSaverWorker
// (handlers/running_trade.go): a channel-fed goroutine that flushes on
// whichever fires first, a size threshold or a ticker.
package collectors

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/nofendian17/hl-whale-signal/internal/events"
	"github.com/nofendian17/hl-whale-signal/internal/metrics"
)

// Flusher batches items and flushes them on a size or time trigger,
// calling flushFn with the batch (never empty).
type Flusher[T any] struct {
	flushFn  func(batch []T)
	maxSize  int
	interval time.Duration

	in   chan T
	done chan struct{}
	wg   sync.WaitGroup
}

// NewFlusher starts the background worker immediately.
func NewFlusher[T any](maxSize int, interval time.Duration, flushFn func(batch []T)) *Flusher[T] {
	f := &Flusher[T]{
		flushFn:  flushFn,
		maxSize:  maxSize,
		interval: interval,
		in:       make(chan T, maxSize*4),
		done:     make(chan struct{}),
	}
	f.wg.Add(1)
	go f.run()
	return f
}

// Add enqueues one item. Non-blocking best-effort: if the internal
// channel is full the item is dropped and logged, mirroring the bus's
// own bounded-queue policy (spec §5).
func (f *Flusher[T]) Add(item T) {
	select {
	case f.in <- item:
	default:
		log.Printf("⚠️  collectors: flusher buffer full, dropping item")
	}
}

// Stop flushes any pending batch and stops the worker.
func (f *Flusher[T]) Stop() {
	close(f.done)
	f.wg.Wait()
}

func (f *Flusher[T]) run() {
	defer f.wg.Done()
	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()

	batch := make([]T, 0, f.maxSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		f.flushFn(batch)
		batch = make([]T, 0, f.maxSize)
	}

	for {
		select {
		case item := <-f.in:
			batch = append(batch, item)
			if len(batch) >= f.maxSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-f.done:
			// Drain whatever is already queued before the final flush.
			for {
				select {
				case item := <-f.in:
					batch = append(batch, item)
				default:
					flush()
					return
				}
			}
		}
	}
}

// SymbolFilter is the single target_symbol gate every symbol-scoped
// collector applies before persisting (spec §4 Symbol filter).
type SymbolFilter struct {
	Target string
}

// Allow reports whether symbol matches the configured target, or passes
// everything through if no target is configured (empty = no filter).
func (s SymbolFilter) Allow(symbol string) bool {
	if s.Target == "" {
		return true
	}
	return symbol == s.Target
}

// Metrics is the per-collector counter set of spec §4.2
// (messages_received/processed/filtered, events_emitted, buffer_size). It
// mirrors its counts into an otel Collector when constructed via
// NewMetrics, so the in-process Snapshot() used by status endpoints/tests
// and the exported otel instruments stay in lockstep (spec §4.2 metrics
// surface). The otel field is left nil-safe so tests can still build a
// bare &Metrics{} (see common_test.go).
type Metrics struct {
	mu                sync.Mutex
	MessagesReceived  int64
	MessagesProcessed int64
	MessagesFiltered  int64
	EventsEmitted     int64
	BufferSize        int64

	otel *metrics.Collector
}

// NewMetrics builds a Metrics backed by an otel Collector named for the
// owning collector (e.g. "candle_collector"), grounded on
// internal/metrics.NewCollector.
func NewMetrics(name string) *Metrics {
	return &Metrics{otel: metrics.NewCollector(name)}
}

func (m *Metrics) IncReceived() {
	m.mu.Lock()
	m.MessagesReceived++
	m.mu.Unlock()
	if m.otel != nil {
		m.otel.IncReceived(context.Background())
	}
}

func (m *Metrics) IncProcessed() {
	m.mu.Lock()
	m.MessagesProcessed++
	m.mu.Unlock()
	if m.otel != nil {
		m.otel.IncProcessed(context.Background())
	}
}

func (m *Metrics) IncFiltered() {
	m.mu.Lock()
	m.MessagesFiltered++
	m.mu.Unlock()
	if m.otel != nil {
		m.otel.IncFiltered(context.Background())
	}
}

func (m *Metrics) IncEmitted() {
	m.mu.Lock()
	m.EventsEmitted++
	m.mu.Unlock()
	if m.otel != nil {
		m.otel.IncEmitted(context.Background(), 1)
	}
}

func (m *Metrics) SetBuffer(n int64) {
	m.mu.Lock()
	delta := n - m.BufferSize
	m.BufferSize = n
	otel := m.otel
	m.mu.Unlock()
	if otel != nil {
		otel.SetBufferSize(context.Background(), delta)
	}
}

// Snapshot returns a copy safe to read concurrently with updates.
func (m *Metrics) Snapshot() Metrics {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Metrics{
		MessagesReceived:  m.MessagesReceived,
		MessagesProcessed: m.MessagesProcessed,
		MessagesFiltered:  m.MessagesFiltered,
		EventsEmitted:     m.EventsEmitted,
		BufferSize:        m.BufferSize,
		otel:              m.otel,
	}
}

// Publisher is the subset of bus.Bus collectors depend on, kept narrow so
// tests can supply a fake.
type Publisher interface {
	Publish(ctx context.Context, ev *events.StandardEvent, priority int) bool
}
