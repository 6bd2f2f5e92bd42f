package processors

import (
	"context"
	"errors"
	"log"
	"math"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nofendian17/hl-whale-signal/internal/bus"
	"github.com/nofendian17/hl-whale-signal/internal/cache"
	"github.com/nofendian17/hl-whale-signal/internal/events"
)

const positionSizeTolerance = 1e-12

// PositionDetectionProcessor diffs successive TraderPositionsSnapshots per
// trader and emits a PositionChange for every coin whose size moved
// (spec §4.4 Position-Detection Processor). Only the configured target
// symbol's changes are emitted.
type PositionDetectionProcessor struct {
	b            *bus.Bus
	cache        *cache.Client
	targetSymbol string
	source       string

	mu        sync.Mutex
	prevState map[string]map[string]float64 // trader -> coin -> size
}

// NewPositionDetectionProcessor subscribes to trader_positions.
// cacheClient, when non-nil, seeds the target symbol's previous size from
// Redis on this process's first sighting of a trader (surviving restarts)
// and mirrors every detected change back to it (spec §4.4; spec §5's
// processor-state-ownership invariant still holds — prevState remains the
// read/write path this processor uses during normal operation, cache is a
// durability mirror around it). A nil cacheClient runs in-process only,
// which tests rely on.
func NewPositionDetectionProcessor(b *bus.Bus, targetSymbol string, cacheClient *cache.Client) *PositionDetectionProcessor {
	p := &PositionDetectionProcessor{
		b:            b,
		cache:        cacheClient,
		targetSymbol: targetSymbol,
		source:       "position_detection_processor",
		prevState:    make(map[string]map[string]float64),
	}
	b.Subscribe(events.TypeTraderPositions, p.handle, events.DefaultPriority)
	return p
}

func (p *PositionDetectionProcessor) handle(ctx context.Context, ev *events.StandardEvent) error {
	snap, ok := ev.Payload.(*events.TraderPositionsSnapshot)
	if !ok {
		return nil
	}

	curr := make(map[string]float64, len(snap.Positions))
	for _, pos := range snap.Positions {
		curr[pos.Coin] = pos.Size
	}

	p.mu.Lock()
	prev := p.prevState[snap.TraderAddress]
	_, seenTarget := prev[p.targetSymbol]
	if prev == nil {
		prev = make(map[string]float64)
	}
	p.prevState[snap.TraderAddress] = curr
	p.mu.Unlock()

	if !seenTarget && p.cache != nil {
		var cached float64
		cctx, cancel := context.WithTimeout(ctx, time.Second)
		err := p.cache.Get(cctx, cache.PositionKey(snap.TraderAddress, p.targetSymbol), &cached)
		cancel()
		if err == nil {
			prev[p.targetSymbol] = cached
		} else if !errors.Is(err, redis.Nil) {
			log.Printf("⚠️  position_detection_processor: cache read-through failed for %s/%s: %v", snap.TraderAddress, p.targetSymbol, err)
		}
	}

	coins := make(map[string]bool, len(prev)+len(curr))
	for c := range prev {
		coins[c] = true
	}
	for c := range curr {
		coins[c] = true
	}

	for coin := range coins {
		if coin != p.targetSymbol {
			continue
		}
		prevSize := prev[coin]
		currSize := curr[coin]
		if math.Abs(currSize-prevSize) < positionSizeTolerance {
			continue
		}

		change := &events.PositionChange{
			TraderAddress: snap.TraderAddress,
			Coin:          coin,
			PrevSize:      prevSize,
			CurrSize:      currSize,
			Delta:         currSize - prevSize,
			Direction:     directionOf(currSize),
			Action:        actionFor(prevSize, currSize),
			Time:          time.Now().UTC(),
		}
		out := events.Derive(events.TypePositionChange, p.source, change, ev)
		p.b.Publish(ctx, out, events.DefaultPriority)

		if p.cache != nil {
			cctx, cancel := context.WithTimeout(ctx, time.Second)
			if err := p.cache.Set(cctx, cache.PositionKey(snap.TraderAddress, coin), currSize, 0); err != nil {
				log.Printf("⚠️  position_detection_processor: cache mirror failed for %s/%s: %v", snap.TraderAddress, coin, err)
			}
			cancel()
		}
	}
	return nil
}

func directionOf(size float64) events.Direction {
	switch {
	case size > 0:
		return events.DirectionLong
	case size < 0:
		return events.DirectionShort
	default:
		return events.DirectionFlat
	}
}

func actionFor(prevSize, currSize float64) events.Action {
	switch {
	case math.Abs(prevSize) < positionSizeTolerance:
		return events.ActionOpen
	case math.Abs(currSize) < positionSizeTolerance:
		return events.ActionClose
	case math.Abs(currSize) > math.Abs(prevSize):
		return events.ActionIncrease
	case math.Abs(currSize) < math.Abs(prevSize):
		return events.ActionDecrease
	default:
		return events.ActionModify
	}
}
