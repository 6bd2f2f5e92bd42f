package collectors

import (
	"context"
	"encoding/json"
	"log"
	"strconv"
	"time"

	"github.com/nofendian17/hl-whale-signal/internal/events"
	"github.com/nofendian17/hl-whale-signal/internal/wsexchange"
)

// rawCandleFrame is the wire shape of one candle channel push.
type rawCandleFrame struct {
	Symbol string `json:"s"`
	Open   string `json:"o"`
	High   string `json:"h"`
	Low    string `json:"l"`
	Close  string `json:"c"`
	Volume string `json:"v"`
	Trades int    `json:"n"`
	OpenMs int64  `json:"t"`
}

// CandleCollector owns the candle stream for one target symbol across
// every configured interval (spec §4.2 Candle collector).
type CandleCollector struct {
	filter   SymbolFilter
	bus      Publisher
	metrics  *Metrics
	flusher  *Flusher[*events.Candle]
	source   string
}

// NewCandleCollector wires handlers for every interval and starts the
// shared flusher.
func NewCandleCollector(mgr *wsexchange.Manager, symbol string, intervals []string, bus Publisher, flushInterval time.Duration, bufferMax int) *CandleCollector {
	c := &CandleCollector{
		filter:  SymbolFilter{Target: symbol},
		bus:     bus,
		metrics: NewMetrics("candle_collector"),
		source:  "candle_collector",
	}
	c.flusher = NewFlusher(bufferMax, flushInterval, c.flush)

	for _, interval := range intervals {
		interval := interval
		mgr.Subscribe(wsexchange.ChannelSpec{Type: "candle", Coin: symbol, Interval: interval}, func(raw []byte) {
			c.handle(interval, raw)
		})
	}
	return c
}

func (c *CandleCollector) handle(interval string, raw []byte) {
	c.metrics.IncReceived()

	var frame rawCandleFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		log.Printf("⚠️  candle_collector: malformed frame: %v", err)
		c.metrics.IncFiltered()
		return
	}

	if !c.filter.Allow(frame.Symbol) {
		c.metrics.IncFiltered()
		return
	}

	candle, err := parseCandle(frame, interval)
	if err != nil {
		log.Printf("⚠️  candle_collector: %v", err)
		c.metrics.IncFiltered()
		return
	}
	if !candle.Valid() {
		log.Printf("⚠️  candle_collector: invalid OHLC for %s %s", candle.Symbol, candle.Interval)
		c.metrics.IncFiltered()
		return
	}

	c.metrics.IncProcessed()
	c.flusher.Add(candle)
	c.metrics.SetBuffer(int64(c.metrics.MessagesReceived - c.metrics.MessagesProcessed))
}

func parseCandle(f rawCandleFrame, interval string) (*events.Candle, error) {
	open, err := strconv.ParseFloat(f.Open, 64)
	if err != nil {
		return nil, err
	}
	high, err := strconv.ParseFloat(f.High, 64)
	if err != nil {
		return nil, err
	}
	low, err := strconv.ParseFloat(f.Low, 64)
	if err != nil {
		return nil, err
	}
	closePrice, err := strconv.ParseFloat(f.Close, 64)
	if err != nil {
		return nil, err
	}
	volume, err := strconv.ParseFloat(f.Volume, 64)
	if err != nil {
		return nil, err
	}

	return &events.Candle{
		Symbol:     f.Symbol,
		Interval:   events.Interval(interval),
		OpenTime:   time.UnixMilli(f.OpenMs).UTC(),
		Open:       open,
		High:       high,
		Low:        low,
		Close:      closePrice,
		Volume:     volume,
		TradeCount: f.Trades,
	}, nil
}

func (c *CandleCollector) flush(batch []*events.Candle) {
	ctx := context.Background()
	for _, candle := range batch {
		ev := events.New(events.TypeOHLCV, c.source, candle)
		if c.bus.Publish(ctx, ev, events.DefaultPriority) {
			c.metrics.IncEmitted()
		}
	}
}

// Stop flushes any pending candles.
func (c *CandleCollector) Stop() { c.flusher.Stop() }

// Metrics returns a snapshot of the collector's counters.
func (c *CandleCollector) Metrics() Metrics { return c.metrics.Snapshot() }
