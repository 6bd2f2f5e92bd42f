package collectors

import (
	"context"
	"encoding/json"
	"log"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/nofendian17/hl-whale-signal/internal/events"
	"github.com/nofendian17/hl-whale-signal/internal/wsexchange"
)

type rawLevel struct {
	Px string `json:"px"`
	Sz string `json:"sz"`
	N  int    `json:"n"`
}

type rawOrderbookFrame struct {
	Coin   string       `json:"coin"`
	Levels [][]rawLevel `json:"levels"`
	TimeMs int64        `json:"time"`
}

// OrderbookCollector implements the save-on-change policy of spec §4.2:
// the latest snapshot always lives in memory, but is only persisted when
// it has moved far enough or long enough since the last persisted one.
type OrderbookCollector struct {
	filter  SymbolFilter
	bus     Publisher
	metrics *Metrics
	source  string

	priceChangePct float64
	maxSaveInterval time.Duration

	mu            sync.Mutex
	latest        *events.OrderBookSnapshot
	lastSavedMid  float64
	lastSavedTime time.Time
}

// NewOrderbookCollector subscribes to the orderbook channel for symbol.
func NewOrderbookCollector(mgr *wsexchange.Manager, symbol string, bus Publisher, priceChangePct float64, maxSaveInterval time.Duration) *OrderbookCollector {
	c := &OrderbookCollector{
		filter:          SymbolFilter{Target: symbol},
		bus:             bus,
		metrics:         NewMetrics("orderbook_collector"),
		source:          "orderbook_collector",
		priceChangePct:  priceChangePct,
		maxSaveInterval: maxSaveInterval,
	}
	mgr.Subscribe(wsexchange.ChannelSpec{Type: "l2Book", Coin: symbol}, c.handle)
	return c
}

func (c *OrderbookCollector) handle(raw []byte) {
	c.metrics.IncReceived()

	var frame rawOrderbookFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		log.Printf("⚠️  orderbook_collector: malformed frame: %v", err)
		c.metrics.IncFiltered()
		return
	}
	if !c.filter.Allow(frame.Coin) {
		c.metrics.IncFiltered()
		return
	}
	if len(frame.Levels) != 2 {
		c.metrics.IncFiltered()
		return
	}

	snap := &events.OrderBookSnapshot{
		Symbol: frame.Coin,
		Bids:   toBookLevels(frame.Levels[0]),
		Asks:   toBookLevels(frame.Levels[1]),
		Time:   time.UnixMilli(frame.TimeMs).UTC(),
	}
	snap.DeriveBookMetrics()

	c.mu.Lock()
	c.latest = snap
	shouldSave := c.lastSavedTime.IsZero() ||
		(c.lastSavedMid != 0 && math.Abs(snap.Mid-c.lastSavedMid)/c.lastSavedMid >= c.priceChangePct) ||
		time.Since(c.lastSavedTime) >= c.maxSaveInterval
	if shouldSave {
		c.lastSavedMid = snap.Mid
		c.lastSavedTime = snap.Time
	}
	c.mu.Unlock()

	c.metrics.IncProcessed()
	if shouldSave {
		c.publish(snap)
	} else {
		c.metrics.IncFiltered()
	}
}

func toBookLevels(raw []rawLevel) []events.BookLevel {
	out := make([]events.BookLevel, 0, len(raw))
	for _, l := range raw {
		px, err := strconv.ParseFloat(l.Px, 64)
		if err != nil {
			continue
		}
		sz, err := strconv.ParseFloat(l.Sz, 64)
		if err != nil {
			continue
		}
		out = append(out, events.BookLevel{Price: px, Size: sz, OrderCount: l.N})
	}
	return out
}

func (c *OrderbookCollector) publish(snap *events.OrderBookSnapshot) {
	ev := events.New(events.TypeOrderBook, c.source, snap)
	if c.bus.Publish(context.Background(), ev, events.DefaultPriority) {
		c.metrics.IncEmitted()
	}
}

// Stop flushes the last in-memory snapshot regardless of the save-on-change
// gate, per spec §4.2.
func (c *OrderbookCollector) Stop() {
	c.mu.Lock()
	snap := c.latest
	c.mu.Unlock()
	if snap != nil {
		c.publish(snap)
	}
}

// Metrics returns a snapshot of the collector's counters.
func (c *OrderbookCollector) Metrics() Metrics { return c.metrics.Snapshot() }
