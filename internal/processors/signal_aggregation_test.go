package processors

import (
	"context"
	"testing"

	"github.com/nofendian17/hl-whale-signal/internal/events"
)

func scoreEvent(traders ...events.ScoredTrader) *events.StandardEvent {
	return events.New(events.TypeScoredTraders, "test", &events.ScoredTraders{Traders: traders})
}

func positionEvent(trader string, coin string, size float64) *events.StandardEvent {
	return events.New(events.TypeTraderPositions, "test", &events.TraderPositionsSnapshot{
		TraderAddress: trader,
		Positions:     []events.Position{{Coin: coin, Size: size}},
	})
}

func TestSignalAggregationEmitsBuyWhenLongBiasDominates(t *testing.T) {
	b := newTestBus(t)
	signals := make(chan *events.AggregatedSignal, 10)
	b.Subscribe(events.TypeSignal, func(_ context.Context, ev *events.StandardEvent) error {
		signals <- ev.Payload.(*events.AggregatedSignal)
		return nil
	}, events.DefaultPriority)

	NewSignalAggregationProcessor(b, "BTC")

	publishAndWait(t, b, scoreEvent(
		events.ScoredTrader{TraderAddress: "a", Score: 100},
		events.ScoredTrader{TraderAddress: "b", Score: 20},
	))
	publishAndWait(t, b, positionEvent("a", "BTC", 10))
	<-signals // first emission: just "a" long, net_bias 1.0

	// A lighter-weighted short joins: net_bias drops to ~0.667 but stays
	// above the BUY threshold, and the 0.333 move clears emitDeltaMin.
	publishAndWait(t, b, positionEvent("b", "BTC", -5))

	select {
	case sig := <-signals:
		if sig.Recommendation != events.RecommendationBuy {
			t.Errorf("Recommendation = %v, want BUY", sig.Recommendation)
		}
		if sig.TradersLong != 1 || sig.TradersShort != 1 {
			t.Errorf("TradersLong=%d TradersShort=%d, want 1 and 1", sig.TradersLong, sig.TradersShort)
		}
	default:
		t.Fatal("expected a second signal once the short joined and moved net_bias")
	}
}

func TestSignalAggregationDeNoisesUnchangedRecommendation(t *testing.T) {
	b := newTestBus(t)
	signals := make(chan *events.AggregatedSignal, 10)
	b.Subscribe(events.TypeSignal, func(_ context.Context, ev *events.StandardEvent) error {
		signals <- ev.Payload.(*events.AggregatedSignal)
		return nil
	}, events.DefaultPriority)

	NewSignalAggregationProcessor(b, "BTC")

	publishAndWait(t, b, scoreEvent(events.ScoredTrader{TraderAddress: "a", Score: 100}))
	publishAndWait(t, b, positionEvent("a", "BTC", 10))
	first := <-signals
	if first.Recommendation != events.RecommendationBuy {
		t.Fatalf("expected the first emission to be BUY, got %v", first.Recommendation)
	}

	// A second trader with no score weight (score=0) joining long doesn't
	// move net_bias (still 100% long, weight contributed is 0) and the
	// recommendation doesn't flip, so no second signal is expected.
	publishAndWait(t, b, positionEvent("c", "BTC", 1))

	select {
	case sig := <-signals:
		t.Fatalf("expected the emission gate to suppress an unchanged signal, got %+v", sig)
	default:
	}
}

func TestSignalAggregationNetsOppositeBiasToNeutral(t *testing.T) {
	b := newTestBus(t)
	signals := make(chan *events.AggregatedSignal, 10)
	b.Subscribe(events.TypeSignal, func(_ context.Context, ev *events.StandardEvent) error {
		signals <- ev.Payload.(*events.AggregatedSignal)
		return nil
	}, events.DefaultPriority)

	NewSignalAggregationProcessor(b, "BTC")

	publishAndWait(t, b, scoreEvent(
		events.ScoredTrader{TraderAddress: "long1", Score: 100},
		events.ScoredTrader{TraderAddress: "short1", Score: 100},
	))
	publishAndWait(t, b, positionEvent("long1", "BTC", 10))
	<-signals

	publishAndWait(t, b, positionEvent("short1", "BTC", -10))
	sig := <-signals
	if sig.Recommendation != events.RecommendationNeutral {
		t.Errorf("Recommendation = %v, want NEUTRAL with equal opposing weight", sig.Recommendation)
	}
	if sig.NetBias != 0 {
		t.Errorf("NetBias = %v, want 0", sig.NetBias)
	}
}
