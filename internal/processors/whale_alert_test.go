package processors

import (
	"context"
	"testing"

	"github.com/nofendian17/hl-whale-signal/internal/events"
)

func TestClassifyTierBoundaries(t *testing.T) {
	cases := []struct {
		accountValue float64
		wantTier     events.WhaleTier
		wantOK       bool
	}{
		{9_999_999, events.TierLarge, true},
		{10_000_000, events.TierMega, true},
		{1_000_000, events.TierLarge, true},
		{100_000, events.TierMid, true},
		{99_999, "", false},
	}
	for _, c := range cases {
		tier, ok := classifyTier(c.accountValue)
		if tier != c.wantTier || ok != c.wantOK {
			t.Errorf("classifyTier(%v) = (%v, %v), want (%v, %v)", c.accountValue, tier, ok, c.wantTier, c.wantOK)
		}
	}
}

func TestPriorityForMegaTierUsesDollarMagnitude(t *testing.T) {
	// $2M dollar magnitude (e.g. a 1-coin delta at $2M/coin) -> CRITICAL
	if got := priorityFor(events.TierMega, 2_000_000); got != events.AlertCritical {
		t.Errorf("priorityFor(mega, large magnitude) = %v, want CRITICAL", got)
	}
	// Tiny dollar magnitude, below $1M -> HIGH
	if got := priorityFor(events.TierMega, 200); got != events.AlertHigh {
		t.Errorf("priorityFor(mega, small magnitude) = %v, want HIGH", got)
	}
	if got := priorityFor(events.TierLarge, 2_000_000); got != events.AlertMedium {
		t.Errorf("priorityFor(large) = %v, want MEDIUM", got)
	}
	if got := priorityFor(events.TierMid, 200_000); got != events.AlertLow {
		t.Errorf("priorityFor(mid) = %v, want LOW", got)
	}
}

func TestWhaleAlertProcessorSuppressesSubThresholdAccounts(t *testing.T) {
	b := newTestBus(t)
	alerts := make(chan *events.WhaleAlert, 10)
	b.Subscribe(events.TypeWhaleAlert, func(_ context.Context, ev *events.StandardEvent) error {
		alerts <- ev.Payload.(*events.WhaleAlert)
		return nil
	}, events.DefaultPriority)

	NewWhaleAlertProcessor(b, "BTC", nil)

	// No scored_traders event ever arrives for this trader, so account_value
	// defaults to 0 and classifyTier must reject it.
	publishAndWait(t, b, events.New(events.TypeTraderPositions, "test", &events.TraderPositionsSnapshot{
		TraderAddress: "0xsmall",
		Positions:     []events.Position{{Coin: "BTC", Size: 500}},
	}))

	select {
	case a := <-alerts:
		t.Fatalf("expected no alert for a sub-threshold account, got %+v", a)
	default:
	}
}

func TestWhaleAlertProcessorDedupsRepeatedAlertsWithinWindow(t *testing.T) {
	b := newTestBus(t)
	alerts := make(chan *events.WhaleAlert, 10)
	b.Subscribe(events.TypeWhaleAlert, func(_ context.Context, ev *events.StandardEvent) error {
		alerts <- ev.Payload.(*events.WhaleAlert)
		return nil
	}, events.DefaultPriority)

	NewWhaleAlertProcessor(b, "BTC", nil)

	publishAndWait(t, b, events.New(events.TypeScoredTraders, "test", &events.ScoredTraders{
		Traders: []events.ScoredTrader{{TraderAddress: "0xwhale", AccountValue: 20_000_000}},
	}))

	publishAndWait(t, b, events.New(events.TypeTraderPositions, "test", &events.TraderPositionsSnapshot{
		TraderAddress: "0xwhale",
		Positions:     []events.Position{{Coin: "BTC", Size: 50}},
	}))
	first := <-alerts
	if first.Priority == "" {
		t.Fatalf("expected a populated alert, got %+v", first)
	}

	// 50 -> 60 is a new (action, bucket) pair ("increase", "medium"): must emit.
	publishAndWait(t, b, events.New(events.TypeTraderPositions, "test", &events.TraderPositionsSnapshot{
		TraderAddress: "0xwhale",
		Positions:     []events.Position{{Coin: "BTC", Size: 60}},
	}))
	second := <-alerts
	if second.Priority == "" {
		t.Fatalf("expected a populated alert for the new action/bucket pair, got %+v", second)
	}

	// 60 -> 65 repeats the same ("increase", "medium") pair within the dedup
	// window and must be suppressed.
	publishAndWait(t, b, events.New(events.TypeTraderPositions, "test", &events.TraderPositionsSnapshot{
		TraderAddress: "0xwhale",
		Positions:     []events.Position{{Coin: "BTC", Size: 65}},
	}))

	select {
	case a := <-alerts:
		t.Fatalf("expected the repeat action/bucket change to be deduped, got %+v", a)
	default:
	}
}
