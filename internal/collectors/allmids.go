package collectors

import (
	"context"
	"encoding/json"
	"log"
	"strconv"
	"sync"
	"time"

	"github.com/nofendian17/hl-whale-signal/internal/events"
	"github.com/nofendian17/hl-whale-signal/internal/wsexchange"
)

type rawAllMidsFrame struct {
	Mids map[string]string `json:"mids"`
}

// AllMidsCollector emits a ticker event only when a coin's mid price
// changes — not on every heartbeat push (spec §4.2 AllMids collector).
type AllMidsCollector struct {
	filter  SymbolFilter
	bus     Publisher
	metrics *Metrics
	source  string

	mu   sync.Mutex
	prev map[string]float64
}

// NewAllMidsCollector subscribes to the allMids channel.
func NewAllMidsCollector(mgr *wsexchange.Manager, symbol string, bus Publisher) *AllMidsCollector {
	c := &AllMidsCollector{
		filter:  SymbolFilter{Target: symbol},
		bus:     bus,
		metrics: NewMetrics("allmids_collector"),
		source:  "allmids_collector",
		prev:    make(map[string]float64),
	}
	mgr.Subscribe(wsexchange.ChannelSpec{Type: "allMids"}, c.handle)
	return c
}

func (c *AllMidsCollector) handle(raw []byte) {
	c.metrics.IncReceived()

	var frame rawAllMidsFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		log.Printf("⚠️  allmids_collector: malformed frame: %v", err)
		c.metrics.IncFiltered()
		return
	}

	now := time.Now().UTC()
	emitted := 0

	for coin, priceStr := range frame.Mids {
		if !c.filter.Allow(coin) {
			continue
		}
		price, err := strconv.ParseFloat(priceStr, 64)
		if err != nil {
			continue
		}

		c.mu.Lock()
		prevPrice, seen := c.prev[coin]
		changed := !seen || prevPrice != price
		c.prev[coin] = price
		c.mu.Unlock()

		if !changed {
			continue
		}

		change := 0.0
		changePct := 0.0
		if seen && prevPrice != 0 {
			change = price - prevPrice
			changePct = change / prevPrice * 100
		}

		ticker := &events.TickerUpdate{
			Symbol:        coin,
			Price:         price,
			Change:        change,
			ChangePercent: changePct,
			Time:          now,
		}
		ev := events.New(events.TypeTicker, c.source, ticker)
		if c.bus.Publish(context.Background(), ev, events.DefaultPriority) {
			c.metrics.IncEmitted()
			emitted++
		}
	}

	if emitted > 0 {
		c.metrics.IncProcessed()
	} else {
		c.metrics.IncFiltered()
	}
}

// Metrics returns a snapshot of the collector's counters.
func (c *AllMidsCollector) Metrics() Metrics { return c.metrics.Snapshot() }
