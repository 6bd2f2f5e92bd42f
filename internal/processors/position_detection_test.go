package processors

import (
	"context"
	"testing"

	"github.com/nofendian17/hl-whale-signal/internal/events"
)

func TestPositionDetectionEmitsNoChangeOnFirstSightingOfZero(t *testing.T) {
	b := newTestBus(t)
	changes := make(chan *events.PositionChange, 10)
	b.Subscribe(events.TypePositionChange, func(_ context.Context, ev *events.StandardEvent) error {
		changes <- ev.Payload.(*events.PositionChange)
		return nil
	}, events.DefaultPriority)

	NewPositionDetectionProcessor(b, "BTC", nil)

	publishAndWait(t, b, events.New(events.TypeTraderPositions, "test", &events.TraderPositionsSnapshot{
		TraderAddress: "0xabc",
		Positions:     nil, // no BTC position yet: prev=0, curr=0, no change
	}))

	select {
	case c := <-changes:
		t.Fatalf("expected no position_change for an untouched coin, got %+v", c)
	default:
	}
}

func TestPositionDetectionClassifiesOpenIncreaseCloseActions(t *testing.T) {
	b := newTestBus(t)
	changes := make(chan *events.PositionChange, 10)
	b.Subscribe(events.TypePositionChange, func(_ context.Context, ev *events.StandardEvent) error {
		changes <- ev.Payload.(*events.PositionChange)
		return nil
	}, events.DefaultPriority)

	p := NewPositionDetectionProcessor(b, "BTC", nil)
	_ = p

	snapshot := func(size float64) *events.TraderPositionsSnapshot {
		return &events.TraderPositionsSnapshot{
			TraderAddress: "0xabc",
			Positions:     []events.Position{{Coin: "BTC", Size: size}},
		}
	}

	// 0 -> 5: open, long
	publishAndWait(t, b, events.New(events.TypeTraderPositions, "test", snapshot(5)))
	open := <-changes
	if open.Action != events.ActionOpen || open.Direction != events.DirectionLong {
		t.Errorf("first change = %+v, want open/long", open)
	}

	// 5 -> 8: increase, long
	publishAndWait(t, b, events.New(events.TypeTraderPositions, "test", snapshot(8)))
	inc := <-changes
	if inc.Action != events.ActionIncrease || inc.Delta != 3 {
		t.Errorf("second change = %+v, want increase with delta 3", inc)
	}

	// 8 -> 0: close
	publishAndWait(t, b, events.New(events.TypeTraderPositions, "test", snapshot(0)))
	closeChange := <-changes
	if closeChange.Action != events.ActionClose || closeChange.Direction != events.DirectionFlat {
		t.Errorf("third change = %+v, want close/flat", closeChange)
	}

	// 0 -> -4: open, short (flip handled as a fresh open since prev was flat)
	publishAndWait(t, b, events.New(events.TypeTraderPositions, "test", snapshot(-4)))
	short := <-changes
	if short.Action != events.ActionOpen || short.Direction != events.DirectionShort {
		t.Errorf("fourth change = %+v, want open/short", short)
	}
}

func TestPositionDetectionOnlyEmitsForTargetSymbol(t *testing.T) {
	b := newTestBus(t)
	changes := make(chan *events.PositionChange, 10)
	b.Subscribe(events.TypePositionChange, func(_ context.Context, ev *events.StandardEvent) error {
		changes <- ev.Payload.(*events.PositionChange)
		return nil
	}, events.DefaultPriority)

	NewPositionDetectionProcessor(b, "BTC", nil)

	publishAndWait(t, b, events.New(events.TypeTraderPositions, "test", &events.TraderPositionsSnapshot{
		TraderAddress: "0xabc",
		Positions:     []events.Position{{Coin: "ETH", Size: 100}},
	}))

	select {
	case c := <-changes:
		t.Fatalf("expected ETH position changes to be filtered out, got %+v", c)
	default:
	}
}
