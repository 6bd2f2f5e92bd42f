package processors

import (
	"context"
	"testing"

	"github.com/nofendian17/hl-whale-signal/internal/events"
)

func TestCalculateTraderScoreWeightsEachComponent(t *testing.T) {
	row := events.LeaderboardRow{
		TraderAddress: "0xabc",
		AccountValue:  10_000_000,
		WindowPerformances: map[string]events.WindowPerformance{
			"allTime": {ROI: 1.0},  // clamp(1.0*30, 30) = 30
			"month":   {ROI: 1.0, Volume: 100_000_000}, // clamp(1.0*50, 25) = 25, +10 volume
			"week":    {ROI: 0.1},  // clamp(0.1*100, -10, 20) = 10
			"day":     {ROI: 0.05},
		},
	}

	got := calculateTraderScore(row)
	// 30 (allTime, clamped) + 25 (month, clamped) + 10 (week) + 15 (account value tier)
	// + 10 (month volume tier) + 5 (all-positive bonus) = 95
	want := 95.0
	if got != want {
		t.Errorf("calculateTraderScore = %v, want %v", got, want)
	}
}

func TestCalculateTraderScoreClampsExtremeROI(t *testing.T) {
	row := events.LeaderboardRow{
		WindowPerformances: map[string]events.WindowPerformance{
			"allTime": {ROI: 100}, // would be 3000 unclamped, must cap at 30
			"month":   {ROI: 100}, // would be 5000 unclamped, must cap at 25
			"week":    {ROI: -100}, // would be -10000 unclamped, must floor at -10
		},
	}

	got := calculateTraderScore(row)
	want := 30.0 + 25.0 - 10.0
	if got != want {
		t.Errorf("calculateTraderScore = %v, want %v (clamped)", got, want)
	}
}

func TestTagsForAppliesWhaleAndPerformanceTags(t *testing.T) {
	row := events.LeaderboardRow{
		AccountValue: 10_000_000,
		WindowPerformances: map[string]events.WindowPerformance{
			"day":     {ROI: 0.01},
			"week":    {ROI: 0.01},
			"month":   {ROI: 0.01, Volume: 200_000_000},
			"allTime": {ROI: 1.5},
		},
	}

	tags := tagsFor(row, 95)

	want := map[string]bool{
		"whale": false, "large": false, "top_performer": false, "elite": false,
		"consistent": false, "high_performer": false, "high_volume": false,
	}
	for _, tag := range tags {
		want[tag] = true
	}
	for tag, present := range want {
		if !present {
			t.Errorf("expected tag %q to be present in %v", tag, tags)
		}
	}
}

func TestScoringProcessorFiltersBelowThresholdsAndCaps(t *testing.T) {
	b := newTestBus(t)

	out := make(chan *events.ScoredTraders, 1)
	b.Subscribe(events.TypeScoredTraders, func(_ context.Context, ev *events.StandardEvent) error {
		out <- ev.Payload.(*events.ScoredTraders)
		return nil
	}, events.DefaultPriority)

	NewScoringProcessor(b, ScoringConfig{MinScore: 5, MinAccountValue: 100_000, MaxTrackedCount: 1})

	board := &events.Leaderboard{Rows: []events.LeaderboardRow{
		{TraderAddress: "below_account_value", AccountValue: 1_000, WindowPerformances: map[string]events.WindowPerformance{"allTime": {ROI: 10}}},
		{TraderAddress: "low_score", AccountValue: 200_000, WindowPerformances: map[string]events.WindowPerformance{}},
		{TraderAddress: "best", AccountValue: 10_000_000, WindowPerformances: map[string]events.WindowPerformance{"allTime": {ROI: 1}}},
		{TraderAddress: "second_best", AccountValue: 5_000_000, WindowPerformances: map[string]events.WindowPerformance{"allTime": {ROI: 0.5}}},
	}}

	publishAndWait(t, b, events.New(events.TypeLeaderboard, "test", board))

	select {
	case scored := <-out:
		if len(scored.Traders) != 1 {
			t.Fatalf("expected MaxTrackedCount to cap the result at 1, got %d", len(scored.Traders))
		}
		if scored.Traders[0].TraderAddress != "best" {
			t.Errorf("expected the highest-scoring trader to survive the cap, got %s", scored.Traders[0].TraderAddress)
		}
	default:
		t.Fatal("expected a scored_traders event to be published")
	}
}
