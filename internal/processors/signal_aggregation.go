package processors

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/nofendian17/hl-whale-signal/internal/bus"
	"github.com/nofendian17/hl-whale-signal/internal/events"
)

const (
	positionTTL      = 24 * time.Hour
	positionCacheCap = 10000
	biasThreshold    = 0.2
	emitDeltaMin     = 0.1
	// maxPriceAge is spec §9 Open Question 4's resolution: a previous
	// price older than this is treated as missing rather than stale data.
	maxPriceAge = 5 * time.Minute
)

type cachedPosition struct {
	size     float64
	observed time.Time
}

// SignalAggregationProcessor keeps the score-weighted long/short bias for
// the target symbol current and emits a de-noised AggregatedSignal
// whenever the recommendation flips or the bias moves enough
// (spec §4.4 Signal-Aggregation Processor).
type SignalAggregationProcessor struct {
	b            *bus.Bus
	targetSymbol string
	source       string

	mu           sync.Mutex
	positions    map[string]cachedPosition // trader -> last known position in target symbol
	insertOrder  []string                  // LRU eviction order
	scores       map[string]float64        // trader -> score/100 weight
	lastPrice    float64
	lastPriceAt  time.Time
	lastRec      events.Recommendation
	lastNetBias  float64
	haveEmitted  bool
}

// NewSignalAggregationProcessor subscribes to trader_positions and
// scored_traders.
func NewSignalAggregationProcessor(b *bus.Bus, targetSymbol string) *SignalAggregationProcessor {
	p := &SignalAggregationProcessor{
		b:            b,
		targetSymbol: targetSymbol,
		source:       "signal_aggregation_processor",
		positions:    make(map[string]cachedPosition),
		scores:       make(map[string]float64),
		lastRec:      events.RecommendationNeutral,
	}
	b.Subscribe(events.TypeTraderPositions, p.handlePosition, events.DefaultPriority)
	b.Subscribe(events.TypeScoredTraders, p.handleScores, events.DefaultPriority)
	b.Subscribe(events.TypeTicker, p.handleTicker, events.DefaultPriority)
	return p
}

func (p *SignalAggregationProcessor) handleTicker(ctx context.Context, ev *events.StandardEvent) error {
	tick, ok := ev.Payload.(*events.TickerUpdate)
	if !ok || tick.Symbol != p.targetSymbol {
		return nil
	}
	p.mu.Lock()
	p.lastPrice = tick.Price
	p.lastPriceAt = time.Now()
	p.mu.Unlock()
	return nil
}

func (p *SignalAggregationProcessor) handleScores(ctx context.Context, ev *events.StandardEvent) error {
	scored, ok := ev.Payload.(*events.ScoredTraders)
	if !ok {
		return nil
	}
	p.mu.Lock()
	for _, t := range scored.Traders {
		p.scores[t.TraderAddress] = t.Score / 100
	}
	p.mu.Unlock()
	return nil
}

func (p *SignalAggregationProcessor) handlePosition(ctx context.Context, ev *events.StandardEvent) error {
	snap, ok := ev.Payload.(*events.TraderPositionsSnapshot)
	if !ok {
		return nil
	}

	var targetSize float64
	var hasTarget bool
	for _, pos := range snap.Positions {
		if pos.Coin == p.targetSymbol {
			targetSize = pos.Size
			hasTarget = true
			break
		}
	}

	p.mu.Lock()
	p.evictExpiredLocked(time.Now())
	if hasTarget {
		for i, addr := range p.insertOrder {
			if addr == snap.TraderAddress {
				p.insertOrder = append(p.insertOrder[:i], p.insertOrder[i+1:]...)
				break
			}
		}
		p.insertOrder = append(p.insertOrder, snap.TraderAddress)
		if len(p.insertOrder) > positionCacheCap {
			oldest := p.insertOrder[0]
			p.insertOrder = p.insertOrder[1:]
			delete(p.positions, oldest)
		}
		p.positions[snap.TraderAddress] = cachedPosition{size: targetSize, observed: time.Now()}
	} else {
		delete(p.positions, snap.TraderAddress)
	}

	signal, changed := p.computeLocked()
	p.mu.Unlock()

	if changed {
		out := events.Derive(events.TypeSignal, p.source, signal, ev)
		p.b.Publish(ctx, out, events.DefaultPriority)
	}
	return nil
}

// evictExpiredLocked drops entries older than the 24h TTL. Caller holds mu.
func (p *SignalAggregationProcessor) evictExpiredLocked(now time.Time) {
	for trader, cached := range p.positions {
		if now.Sub(cached.observed) > positionTTL {
			delete(p.positions, trader)
		}
	}
}

// computeLocked recomputes the aggregated signal and decides, per the
// emission policy, whether it should be published. Caller holds mu.
func (p *SignalAggregationProcessor) computeLocked() (*events.AggregatedSignal, bool) {
	var longScore, shortScore, totalWeight float64
	var tradersLong, tradersShort, tradersFlat int
	var netExposure float64

	for trader, cached := range p.positions {
		weight := p.scores[trader]
		switch {
		case cached.size > 0:
			longScore += weight
			tradersLong++
		case cached.size < 0:
			shortScore += weight
			tradersShort++
		default:
			tradersFlat++
		}
		totalWeight += weight
		netExposure += cached.size
	}

	var longBias, shortBias float64
	if totalWeight > 0 {
		longBias = longScore / totalWeight
		shortBias = shortScore / totalWeight
	}
	netBias := longBias - shortBias

	rec := events.RecommendationNeutral
	switch {
	case netBias > biasThreshold:
		rec = events.RecommendationBuy
	case netBias < -biasThreshold:
		rec = events.RecommendationSell
	}
	confidence := math.Min(math.Abs(netBias)*2, 1.0)

	// A previous price older than maxPriceAge is treated as missing
	// rather than stale (spec §9 Open Question 4).
	priceAtSignal := p.lastPrice
	if p.lastPriceAt.IsZero() || time.Since(p.lastPriceAt) > maxPriceAge {
		priceAtSignal = 0
	}

	signal := &events.AggregatedSignal{
		Symbol:         p.targetSymbol,
		Recommendation: rec,
		Confidence:     confidence,
		LongBias:       longBias,
		ShortBias:      shortBias,
		NetBias:        netBias,
		TradersLong:    tradersLong,
		TradersShort:   tradersShort,
		TradersFlat:    tradersFlat,
		NetExposure:    netExposure,
		PriceAtSignal:  priceAtSignal,
		Time:           time.Now().UTC(),
	}

	shouldEmit := !p.haveEmitted || rec != p.lastRec || math.Abs(netBias-p.lastNetBias) >= emitDeltaMin
	if shouldEmit {
		p.haveEmitted = true
		p.lastRec = rec
		p.lastNetBias = netBias
	}
	return signal, shouldEmit
}
