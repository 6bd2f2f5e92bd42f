package processors

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/nofendian17/hl-whale-signal/internal/bus"
	"github.com/nofendian17/hl-whale-signal/internal/cache"
	"github.com/nofendian17/hl-whale-signal/internal/events"
)

const (
	whaleAlertTTL   = time.Hour
	whaleDedupWindow = 60 * time.Second
)

// WhaleAlertProcessor classifies tier-qualifying traders and raises
// WhaleAlerts on their position changes, de-duplicated within a short
// window (spec §4.4 Whale-Alert Processor).
type WhaleAlertProcessor struct {
	b            *bus.Bus
	cache        *cache.Client
	targetSymbol string
	source       string

	mu         sync.Mutex
	accountVal map[string]float64  // trader -> account_value, from scored_traders
	prevSizes  map[string]float64  // trader -> last known size in target symbol
	prevPrices map[string]float64  // trader -> last known non-zero per-unit price in target symbol
	dedup      map[string]time.Time // dedup key -> expiry
}

// NewWhaleAlertProcessor subscribes to trader_positions and scored_traders.
// cacheClient backs the dedup window with a cross-restart SetNX guard on
// top of the in-process map (spec §4.4); a nil cacheClient runs in-process
// only, which tests rely on.
func NewWhaleAlertProcessor(b *bus.Bus, targetSymbol string, cacheClient *cache.Client) *WhaleAlertProcessor {
	p := &WhaleAlertProcessor{
		b:            b,
		cache:        cacheClient,
		targetSymbol: targetSymbol,
		source:       "whale_alert_processor",
		accountVal:   make(map[string]float64),
		prevSizes:    make(map[string]float64),
		prevPrices:   make(map[string]float64),
		dedup:        make(map[string]time.Time),
	}
	b.Subscribe(events.TypeScoredTraders, p.handleScores, events.DefaultPriority)
	b.Subscribe(events.TypeTraderPositions, p.handlePosition, events.DefaultPriority)
	return p
}

func (p *WhaleAlertProcessor) handleScores(ctx context.Context, ev *events.StandardEvent) error {
	scored, ok := ev.Payload.(*events.ScoredTraders)
	if !ok {
		return nil
	}
	p.mu.Lock()
	for _, t := range scored.Traders {
		p.accountVal[t.TraderAddress] = t.AccountValue
	}
	p.mu.Unlock()
	return nil
}

func (p *WhaleAlertProcessor) handlePosition(ctx context.Context, ev *events.StandardEvent) error {
	snap, ok := ev.Payload.(*events.TraderPositionsSnapshot)
	if !ok {
		return nil
	}

	var size, price float64
	var hasTarget bool
	for _, pos := range snap.Positions {
		if pos.Coin == p.targetSymbol {
			size = pos.Size
			hasTarget = true
			if pos.Size != 0 {
				price = math.Abs(pos.PositionValue / pos.Size)
			} else {
				price = pos.EntryPrice
			}
			break
		}
	}
	if !hasTarget {
		return nil
	}

	p.mu.Lock()
	accountValue := p.accountVal[snap.TraderAddress]
	tier, qualifies := classifyTier(accountValue)
	prevSize := p.prevSizes[snap.TraderAddress]
	p.prevSizes[snap.TraderAddress] = size
	if price == 0 {
		// A flat (size==0) position carries no entry price; fall back to
		// the last observed non-zero price for a still-usable magnitude.
		price = p.prevPrices[snap.TraderAddress]
	} else {
		p.prevPrices[snap.TraderAddress] = price
	}
	if !qualifies || math.Abs(size-prevSize) < positionSizeTolerance {
		p.mu.Unlock()
		return nil
	}

	action := actionFor(prevSize, size)
	bucket := sizeBucket(size)
	dedupKey := fmt.Sprintf("%s|%s|%s|%s", snap.TraderAddress, p.targetSymbol, action, bucket)
	now := time.Now().UTC()
	if expiry, exists := p.dedup[dedupKey]; exists && now.Before(expiry) {
		p.mu.Unlock()
		return nil
	}
	p.dedup[dedupKey] = now.Add(whaleDedupWindow)
	p.evictDedupLocked(now)
	p.mu.Unlock()

	if p.cache != nil {
		cctx, cancel := context.WithTimeout(ctx, time.Second)
		fresh, err := p.cache.SetNX(cctx, cache.WhaleDedupKey(snap.TraderAddress, p.targetSymbol, string(action), bucket), now, whaleDedupWindow)
		cancel()
		if err == nil && !fresh {
			return nil
		}
	}

	magnitudeUSD := math.Abs(size-prevSize) * price
	priority := priorityFor(tier, magnitudeUSD)
	change := events.WhaleChange{
		Address:      snap.TraderAddress,
		Tier:         tier,
		Coin:         p.targetSymbol,
		PrevSize:     prevSize,
		CurrSize:     size,
		ChangePct:    changePct(prevSize, size),
		AccountValue: accountValue,
	}
	alert := &events.WhaleAlert{
		Priority:     priority,
		Title:        fmt.Sprintf("%s %s position in %s", tier, action, p.targetSymbol),
		Description:  fmt.Sprintf("trader %s %s %s position: %.4f -> %.4f", snap.TraderAddress, action, p.targetSymbol, prevSize, size),
		DetectedAt:   now,
		ExpiresAt:    now.Add(whaleAlertTTL),
		Changes:      []events.WhaleChange{change},
		SignalImpact: string(directionOf(size)),
	}

	out := events.Derive(events.TypeWhaleAlert, p.source, alert, ev)
	p.b.Publish(ctx, out, events.DefaultPriority)
	return nil
}

// evictDedupLocked drops expired dedup entries. Caller holds mu.
func (p *WhaleAlertProcessor) evictDedupLocked(now time.Time) {
	for k, expiry := range p.dedup {
		if now.After(expiry) {
			delete(p.dedup, k)
		}
	}
}

func classifyTier(accountValue float64) (events.WhaleTier, bool) {
	switch {
	case accountValue >= 10_000_000:
		return events.TierMega, true
	case accountValue >= 1_000_000:
		return events.TierLarge, true
	case accountValue >= 100_000:
		return events.TierMid, true
	default:
		return "", false
	}
}

// priorityFor maps tier to AlertPriority per spec §4.4/§9 Open Question 3:
// MEGA -> CRITICAL if the dollar magnitude of the change (size delta in
// coin units times the position's per-unit price) is >= $1M, else HIGH;
// LARGE -> MEDIUM; MID -> LOW.
func priorityFor(tier events.WhaleTier, magnitudeUSD float64) events.AlertPriority {
	switch tier {
	case events.TierMega:
		if magnitudeUSD >= 1_000_000 {
			return events.AlertCritical
		}
		return events.AlertHigh
	case events.TierLarge:
		return events.AlertMedium
	default:
		return events.AlertLow
	}
}

func sizeBucket(size float64) string {
	abs := math.Abs(size)
	switch {
	case abs >= 1000:
		return "xlarge"
	case abs >= 100:
		return "large"
	case abs >= 10:
		return "medium"
	default:
		return "small"
	}
}

func changePct(prev, curr float64) float64 {
	if prev == 0 {
		return 0
	}
	return (curr - prev) / math.Abs(prev) * 100
}
