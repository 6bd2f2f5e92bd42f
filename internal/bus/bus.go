// Package bus is the pub/sub fabric carrying StandardEvents between
// collectors and processors (spec §4.3). It is single-threaded cooperative:
// one worker goroutine drains a bounded queue and invokes handlers
// sequentially, so handler code stays simple and ordering per-handler is
// preserved. Modeled on the teacher's realtime.Broker register/unregister
// loop, generalized from byte-slice SSE fan-out to typed, prioritized
// per-event-type subscriptions.
package bus

import (
	"context"
	"errors"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/nofendian17/hl-whale-signal/internal/events"
	"github.com/nofendian17/hl-whale-signal/internal/metrics"
)

// ErrBusNotConnected is returned by TryPublish on a disconnected bus.
var ErrBusNotConnected = errors.New("bus: not connected")

// Handler processes a single StandardEvent. Errors are counted but never
// redelivered and never unsubscribe the handler (spec §4.3, §7).
type Handler func(ctx context.Context, ev *events.StandardEvent) error

const wildcard = "*"

// defaultQueueSize bounds the many-writer/single-reader queue.
const defaultQueueSize = 10000

// publishBlockWait is how long Publish may block when the queue is full
// before failing with dropped++ (spec §5 suspension points).
const publishBlockWait = 50 * time.Millisecond

type subscription struct {
	id       uint64
	handler  Handler
	priority int
}

// SubscriptionID identifies one Subscribe call for later per-handler
// Unsubscribe, rather than the previous all-handlers-for-a-type removal.
type SubscriptionID struct {
	eventType events.Type
	id        uint64
}

// Bus is a pub/sub carrier for StandardEvents. Zero value is not usable;
// construct with New.
type Bus struct {
	mu          sync.RWMutex
	handlers    map[events.Type][]subscription
	wildcardSub []subscription

	queue     chan *events.StandardEvent
	connected bool
	drainDone chan struct{}

	metrics *metrics.Bus
	dropped int64
	nextID  uint64
}

// New creates a Bus with a bounded internal queue.
func New() *Bus {
	return &Bus{
		handlers: make(map[events.Type][]subscription),
		queue:    make(chan *events.StandardEvent, defaultQueueSize),
		metrics:  metrics.NewBus(),
	}
}

// Connect starts the worker goroutine. Idempotent.
func (b *Bus) Connect(ctx context.Context) {
	b.mu.Lock()
	if b.connected {
		b.mu.Unlock()
		return
	}
	b.connected = true
	b.drainDone = make(chan struct{})
	b.mu.Unlock()

	go b.run(ctx)
}

// Disconnect stops accepting publishes and waits up to drainTimeout for the
// queue to drain. Idempotent.
func (b *Bus) Disconnect(drainTimeout time.Duration) {
	b.mu.Lock()
	if !b.connected {
		b.mu.Unlock()
		return
	}
	b.connected = false
	close(b.queue)
	done := b.drainDone
	b.mu.Unlock()

	select {
	case <-done:
	case <-time.After(drainTimeout):
		log.Printf("⚠️  bus: drain timeout after %v, some events left unhandled", drainTimeout)
	}
}

// WithScope runs fn with the bus connected, guaranteeing Disconnect runs on
// every exit path (scoped-acquisition pattern, spec §4.3/§9).
func WithScope(ctx context.Context, b *Bus, drainTimeout time.Duration, fn func() error) error {
	b.Connect(ctx)
	defer b.Disconnect(drainTimeout)
	return fn()
}

// Subscribe registers a handler for eventType (or wildcard "*") at the given
// priority. Lower priority numbers run first. The returned SubscriptionID
// is the token Unsubscribe needs to remove this handler specifically.
func (b *Bus) Subscribe(eventType events.Type, handler Handler, priority int) SubscriptionID {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	sub := subscription{id: b.nextID, handler: handler, priority: priority}
	if string(eventType) == wildcard {
		b.wildcardSub = append(b.wildcardSub, sub)
		sort.SliceStable(b.wildcardSub, func(i, j int) bool { return b.wildcardSub[i].priority < b.wildcardSub[j].priority })
		return SubscriptionID{eventType: eventType, id: sub.id}
	}
	b.handlers[eventType] = append(b.handlers[eventType], sub)
	sort.SliceStable(b.handlers[eventType], func(i, j int) bool {
		return b.handlers[eventType][i].priority < b.handlers[eventType][j].priority
	})
	return SubscriptionID{eventType: eventType, id: sub.id}
}

// Unsubscribe removes exactly the handler identified by id, leaving every
// other subscription for its event type intact.
func (b *Bus) Unsubscribe(id SubscriptionID) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if string(id.eventType) == wildcard {
		b.wildcardSub = removeSub(b.wildcardSub, id.id)
		return
	}
	subs := removeSub(b.handlers[id.eventType], id.id)
	if len(subs) == 0 {
		delete(b.handlers, id.eventType)
		return
	}
	b.handlers[id.eventType] = subs
}

func removeSub(subs []subscription, id uint64) []subscription {
	for i, s := range subs {
		if s.id == id {
			return append(subs[:i], subs[i+1:]...)
		}
	}
	return subs
}

// Publish enqueues ev at the given priority. Returns false (and increments
// dropped) if the bus is disconnected or the queue is saturated for longer
// than the publish-block window. It discards the distinguishing error from
// TryPublish to keep the common call site a simple boolean check.
func (b *Bus) Publish(ctx context.Context, ev *events.StandardEvent, priority int) bool {
	ok, _ := b.TryPublish(ctx, ev, priority)
	return ok
}

// TryPublish is Publish with the reason for a drop surfaced: it returns
// ErrBusNotConnected when the bus isn't accepting publishes at all,
// distinct from a saturated-queue drop (ok=false, err=nil).
func (b *Bus) TryPublish(ctx context.Context, ev *events.StandardEvent, priority int) (bool, error) {
	b.mu.RLock()
	connected := b.connected
	b.mu.RUnlock()
	if !connected {
		b.incDropped(ctx)
		return false, ErrBusNotConnected
	}

	ev.Priority = priority
	select {
	case b.queue <- ev:
		b.metrics.IncPublished(ctx)
		return true, nil
	case <-time.After(publishBlockWait):
		b.incDropped(ctx)
		return false, nil
	}
}

// PublishBulk publishes every event in evs, short-circuiting dropped ones;
// returns the count actually enqueued.
func (b *Bus) PublishBulk(ctx context.Context, evs []*events.StandardEvent, priority int) int {
	count := 0
	for _, ev := range evs {
		if b.Publish(ctx, ev, priority) {
			count++
		}
	}
	return count
}

// Dropped returns the number of events dropped since construction.
func (b *Bus) Dropped() int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.dropped
}

func (b *Bus) incDropped(ctx context.Context) {
	b.mu.Lock()
	b.dropped++
	b.mu.Unlock()
	b.metrics.IncDropped(ctx)
}

func (b *Bus) run(ctx context.Context) {
	defer close(b.drainDone)
	for ev := range b.queue {
		b.dispatch(ctx, ev)
	}
}

func (b *Bus) dispatch(ctx context.Context, ev *events.StandardEvent) {
	b.mu.RLock()
	direct := append([]subscription(nil), b.handlers[ev.EventType]...)
	wild := append([]subscription(nil), b.wildcardSub...)
	b.mu.RUnlock()

	all := mergeByPriority(direct, wild)
	for _, sub := range all {
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Printf("❌ bus: handler panic for %s: %v", ev.EventType, r)
					b.metrics.IncErrors(ctx)
				}
			}()
			if err := sub.handler(ctx, ev); err != nil {
				log.Printf("⚠️  bus: handler error for %s: %v", ev.EventType, err)
				b.metrics.IncErrors(ctx)
			}
		}()
	}
}

func mergeByPriority(direct, wild []subscription) []subscription {
	combined := append(append([]subscription(nil), direct...), wild...)
	sort.SliceStable(combined, func(i, j int) bool { return combined[i].priority < combined[j].priority })
	return combined
}
