package collectors

import (
	"context"
	"encoding/json"
	"log"
	"strconv"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/nofendian17/hl-whale-signal/internal/events"
	"github.com/nofendian17/hl-whale-signal/internal/wsexchange"
)

type rawTradeFrame struct {
	Coin   string `json:"coin"`
	Side   string `json:"side"`
	Px     string `json:"px"`
	Sz     string `json:"sz"`
	Time   int64  `json:"time"`
	TID    int64  `json:"tid"`
}

// TradesCollector filters by usd_value and drops late duplicates from WS
// replay by tracking the highest trade_id seen (spec §4.2 Trades collector).
type TradesCollector struct {
	filter      SymbolFilter
	bus         Publisher
	metrics     *Metrics
	source      string
	minValueUSD float64

	flusher *Flusher[*events.MarketTrade]

	mu         sync.Mutex
	maxTradeID int64
}

// NewTradesCollector subscribes to the trades channel for symbol.
func NewTradesCollector(mgr *wsexchange.Manager, symbol string, bus Publisher, minValueUSD float64, flushInterval time.Duration, bufferMax int) *TradesCollector {
	c := &TradesCollector{
		filter:      SymbolFilter{Target: symbol},
		bus:         bus,
		metrics:     NewMetrics("trades_collector"),
		source:      "trades_collector",
		minValueUSD: minValueUSD,
	}
	c.flusher = NewFlusher(bufferMax, flushInterval, c.flush)
	mgr.Subscribe(wsexchange.ChannelSpec{Type: "trades", Coin: symbol}, c.handle)
	return c
}

func (c *TradesCollector) handle(raw []byte) {
	c.metrics.IncReceived()

	var frame rawTradeFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		log.Printf("⚠️  trades_collector: malformed frame: %v", err)
		c.metrics.IncFiltered()
		return
	}
	if !c.filter.Allow(frame.Coin) {
		c.metrics.IncFiltered()
		return
	}

	c.mu.Lock()
	isLateDuplicate := frame.TID <= c.maxTradeID && c.maxTradeID != 0
	if frame.TID > c.maxTradeID {
		c.maxTradeID = frame.TID
	}
	c.mu.Unlock()
	if isLateDuplicate {
		c.metrics.IncFiltered()
		return
	}

	price, err := decimal.NewFromString(frame.Px)
	if err != nil {
		c.metrics.IncFiltered()
		return
	}
	size, err := decimal.NewFromString(frame.Sz)
	if err != nil {
		c.metrics.IncFiltered()
		return
	}
	usdValue, _ := price.Mul(size).Abs().Float64()
	if usdValue < c.minValueUSD {
		c.metrics.IncFiltered()
		return
	}

	side := events.SideBuy
	if frame.Side == "A" || frame.Side == "sell" {
		side = events.SideSell
	}

	priceF, _ := price.Float64()
	sizeF, _ := size.Float64()

	trade := &events.MarketTrade{
		Symbol:   frame.Coin,
		Side:     side,
		Price:    priceF,
		Size:     sizeF,
		USDValue: usdValue,
		TradeID:  strconv.FormatInt(frame.TID, 10),
		Source:   c.source,
		Time:     time.UnixMilli(frame.Time).UTC(),
	}

	c.metrics.IncProcessed()
	c.flusher.Add(trade)
}

func (c *TradesCollector) flush(batch []*events.MarketTrade) {
	ctx := context.Background()
	for _, trade := range batch {
		ev := events.New(events.TypeTrade, c.source, trade)
		if c.bus.Publish(ctx, ev, events.DefaultPriority) {
			c.metrics.IncEmitted()
		}
	}
}

// Stop flushes the remaining buffer.
func (c *TradesCollector) Stop() { c.flusher.Stop() }

// Metrics returns a snapshot of the collector's counters.
func (c *TradesCollector) Metrics() Metrics { return c.metrics.Snapshot() }
