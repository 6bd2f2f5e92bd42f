// Package processors holds the event-to-event transforms of spec §4.4:
// Position-Detection, Trader-Scoring, Signal-Aggregation, Whale-Alert.
// Each subscribes to the bus for its input types and publishes derived
// events. Grounded on original_source/hyperliquid-system/src/strategies/
// trader_scoring.py and signal_generation.py for the exact formulas, and
// on the teacher's bus.Handler-style subscription idiom
// (handlers/running_trade.go) for the Go shape.
package processors

import (
	"context"
	"sort"
	"time"

	"github.com/nofendian17/hl-whale-signal/internal/bus"
	"github.com/nofendian17/hl-whale-signal/internal/events"
)

// ScoringConfig mirrors spec §4.4's scoring/filter parameters.
type ScoringConfig struct {
	MinScore        float64
	MinAccountValue float64
	MaxTrackedCount int
}

// ScoringProcessor computes spec §4.4's weighted score per trader off the
// leaderboard event and emits scored_traders.
type ScoringProcessor struct {
	cfg    ScoringConfig
	b      *bus.Bus
	source string
}

// NewScoringProcessor subscribes to the leaderboard event type.
func NewScoringProcessor(b *bus.Bus, cfg ScoringConfig) *ScoringProcessor {
	p := &ScoringProcessor{cfg: cfg, b: b, source: "trader_scoring_processor"}
	b.Subscribe(events.TypeLeaderboard, p.handle, events.DefaultPriority)
	return p
}

func (p *ScoringProcessor) handle(ctx context.Context, ev *events.StandardEvent) error {
	board, ok := ev.Payload.(*events.Leaderboard)
	if !ok {
		return nil
	}

	scored := make([]events.ScoredTrader, 0, len(board.Rows))
	for _, row := range board.Rows {
		if row.AccountValue < p.cfg.MinAccountValue {
			continue
		}
		score := calculateTraderScore(row)
		if score < p.cfg.MinScore {
			continue
		}
		scored = append(scored, events.ScoredTrader{
			TraderAddress:      row.TraderAddress,
			Score:              score,
			Tags:               tagsFor(row, score),
			AccountValue:       row.AccountValue,
			WindowPerformances: row.WindowPerformances,
		})
	}

	sort.Slice(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	if p.cfg.MaxTrackedCount > 0 && len(scored) > p.cfg.MaxTrackedCount {
		scored = scored[:p.cfg.MaxTrackedCount]
	}

	out := events.Derive(events.TypeScoredTraders, p.source, &events.ScoredTraders{Traders: scored, Time: time.Now().UTC()}, ev)
	p.b.Publish(ctx, out, events.DefaultPriority)
	return nil
}

// calculateTraderScore is spec §4.4's weighted formula, one-to-one with
// trader_scoring.py's calculate_trader_score.
func calculateTraderScore(row events.LeaderboardRow) float64 {
	perf := row.WindowPerformances

	score := 0.0

	allTime := perf["allTime"].ROI
	score += clampMax(allTime*30, 30)

	month := perf["month"].ROI
	score += clampMax(month*50, 25)

	week := perf["week"].ROI
	score += clamp(week*100, -10, 20)

	switch {
	case row.AccountValue >= 10_000_000:
		score += 15
	case row.AccountValue >= 5_000_000:
		score += 12
	case row.AccountValue >= 1_000_000:
		score += 8
	case row.AccountValue >= 100_000:
		score += 4
	}

	monthVolume := perf["month"].Volume
	switch {
	case monthVolume >= 100_000_000:
		score += 10
	case monthVolume >= 50_000_000:
		score += 7
	case monthVolume >= 10_000_000:
		score += 4
	case monthVolume >= 1_000_000:
		score += 2
	}

	day := perf["day"].ROI
	if day > 0 && week > 0 && month > 0 {
		score += 5
	}

	return score
}

func tagsFor(row events.LeaderboardRow, score float64) []string {
	var tags []string
	if row.AccountValue >= 10_000_000 {
		tags = append(tags, "whale")
	}
	if row.AccountValue >= 1_000_000 {
		tags = append(tags, "large")
	}
	if score >= 80 {
		tags = append(tags, "top_performer")
	}
	if score >= 90 {
		tags = append(tags, "elite")
	}

	day := row.WindowPerformances["day"].ROI
	week := row.WindowPerformances["week"].ROI
	month := row.WindowPerformances["month"].ROI
	if day > 0 && week > 0 && month > 0 {
		tags = append(tags, "consistent")
	}
	if row.WindowPerformances["allTime"].ROI > 1.0 {
		tags = append(tags, "high_performer")
	}

	monthVolume := row.WindowPerformances["month"].Volume
	switch {
	case monthVolume >= 100_000_000:
		tags = append(tags, "high_volume")
	case monthVolume >= 10_000_000:
		tags = append(tags, "medium_volume")
	}

	return tags
}

func clampMax(v, max float64) float64 {
	if v > max {
		return max
	}
	return v
}

func clamp(v, min, max float64) float64 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
