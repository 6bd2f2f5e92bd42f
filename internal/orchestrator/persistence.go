package orchestrator

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/nofendian17/hl-whale-signal/internal/collectors"
	"github.com/nofendian17/hl-whale-signal/internal/events"
	"github.com/nofendian17/hl-whale-signal/internal/repository"
)

// registerPersistence subscribes the repository's Save*/Upsert* calls to
// every event type that spec §4.5 says must be durably stored, making the
// repository the bus's sole storage consumer. Grounded on the teacher's
// per-domain repository-subscriber wiring (handlers/running_trade.go
// calling straight into a repository from a bus handler).
func (a *App) registerPersistence(ctx context.Context) {
	a.bus.Subscribe(events.TypeTrade, a.persistTrade, events.DefaultPriority)
	a.bus.Subscribe(events.TypeOHLCV, a.persistCandle, events.DefaultPriority)
	a.bus.Subscribe(events.TypeOrderBook, a.persistOrderbook, events.DefaultPriority)
	a.bus.Subscribe(events.TypeTicker, a.persistTicker, events.DefaultPriority)
	a.bus.Subscribe(events.TypeOnchainMetric, a.persistOnchainMetric, events.DefaultPriority)
	a.bus.Subscribe(events.TypeTraderPositions, a.persistTraderPositions, events.DefaultPriority)
	a.bus.Subscribe(events.TypeTraderOrder, a.persistTraderOrder, events.DefaultPriority)
	a.bus.Subscribe(events.TypeSignal, a.persistSignal, events.DefaultPriority)
	a.bus.Subscribe(events.TypeLeaderboard, a.persistLeaderboard, events.DefaultPriority)
	a.bus.Subscribe(events.TypeWhaleAlert, a.persistWhaleAlert, events.DefaultPriority)
}

func (a *App) persistTrade(_ context.Context, ev *events.StandardEvent) error {
	t, ok := ev.Payload.(*events.MarketTrade)
	if !ok {
		return nil
	}
	return a.repo.SaveTrades([]*repository.Trade{{
		Source: t.Source, Symbol: t.Symbol, TradeID: t.TradeID,
		Side: string(t.Side), Price: t.Price, Size: t.Size,
		USDValue: t.USDValue, Time: t.Time,
	}})
}

func (a *App) persistCandle(_ context.Context, ev *events.StandardEvent) error {
	c, ok := ev.Payload.(*events.Candle)
	if !ok || !c.Valid() {
		return nil
	}
	return a.repo.SaveCandles([]*repository.Candle{{
		Symbol: c.Symbol, Interval: string(c.Interval), OpenTime: c.OpenTime,
		Open: c.Open, High: c.High, Low: c.Low, Close: c.Close,
		Volume: c.Volume, TradeCount: c.TradeCount,
	}})
}

func (a *App) persistOrderbook(_ context.Context, ev *events.StandardEvent) error {
	snap, ok := ev.Payload.(*events.OrderBookSnapshot)
	if !ok {
		return nil
	}
	bidsJSON, err := repository.MarshalJSON(snap.Bids)
	if err != nil {
		return err
	}
	asksJSON, err := repository.MarshalJSON(snap.Asks)
	if err != nil {
		return err
	}
	return a.repo.SaveOrderbookSnapshot(snap.Symbol, bidsJSON, asksJSON,
		snap.Mid, snap.Spread, snap.BidDepth, snap.AskDepth, snap.Imbalance, snap.Time)
}

func (a *App) persistTicker(_ context.Context, ev *events.StandardEvent) error {
	t, ok := ev.Payload.(*events.TickerUpdate)
	if !ok {
		return nil
	}
	return a.repo.SaveTicker(&repository.Ticker{
		Symbol: t.Symbol, Price: t.Price, Change: t.Change,
		ChangePercent: t.ChangePercent, Time: t.Time,
	})
}

// persistOnchainMetric routes funding/open-interest samples: the funding
// and daily-stats fetchers publish a raw map (httpcollectors.go), not a
// typed struct, since a single onchain_metric type carries several
// distinct shapes (spec §6).
func (a *App) persistOnchainMetric(_ context.Context, ev *events.StandardEvent) error {
	m, ok := ev.Payload.(map[string]interface{})
	if !ok {
		return nil
	}
	symbol, _ := m["symbol"].(string)
	t, _ := m["time"].(time.Time)

	if rate, ok := m["funding_rate"].(float64); ok {
		premium, _ := m["premium"].(float64)
		return a.repo.SaveFunding(&repository.Funding{Symbol: symbol, FundingRate: rate, Premium: premium, Time: t})
	}
	if metric, ok := m["metric"].(string); ok && metric == "open_interest" {
		value, _ := m["value"].(float64)
		return a.repo.SaveOpenInterest(&repository.OpenInterest{Symbol: symbol, Value: value, Time: t})
	}
	return nil
}

func (a *App) persistTraderPositions(_ context.Context, ev *events.StandardEvent) error {
	snap, ok := ev.Payload.(*events.TraderPositionsSnapshot)
	if !ok {
		return nil
	}
	positionsJSON, err := repository.MarshalJSON(snap.Positions)
	if err != nil {
		return err
	}
	if err := a.repo.SaveTraderPosition(&repository.TraderPosition{
		TraderAddress: snap.TraderAddress, AccountValue: snap.AccountValue,
		TotalNotional: snap.TotalNotional, MarginUsed: snap.MarginUsed,
		PositionsJSON: string(positionsJSON), Time: snap.Time,
	}); err != nil {
		return err
	}
	for _, p := range snap.Positions {
		if err := a.repo.UpsertTraderCurrentState(&repository.TraderCurrentState{
			TraderAddress: snap.TraderAddress, Coin: p.Coin, Size: p.Size,
			EntryPrice: p.EntryPrice, PositionValue: p.PositionValue,
			UnrealizedPnL: p.UnrealizedPnL, Leverage: p.Leverage,
			LiquidationPrice: p.LiquidationPrice, MarginUsed: p.MarginUsed,
			UpdatedAt: snap.Time,
		}); err != nil {
			log.Printf("⚠️  orchestrator: persist trader_current_state for %s/%s: %v", snap.TraderAddress, p.Coin, err)
		}
	}
	return nil
}

func (a *App) persistTraderOrder(_ context.Context, ev *events.StandardEvent) error {
	o, ok := ev.Payload.(*collectors.TraderOrderEvent)
	if !ok {
		return nil
	}
	return a.repo.SaveTraderOrder(&repository.TraderOrder{
		TraderAddress: o.TraderAddress, OrderID: o.OrderID, Coin: o.Coin,
		Action: string(o.Action), Price: o.Price, Size: o.Size, Time: o.Time,
	})
}

func (a *App) persistSignal(_ context.Context, ev *events.StandardEvent) error {
	s, ok := ev.Payload.(*events.AggregatedSignal)
	if !ok {
		return nil
	}
	return a.repo.SaveSignal(&repository.Signal{
		Symbol: s.Symbol, Recommendation: string(s.Recommendation), Confidence: s.Confidence,
		LongBias: s.LongBias, ShortBias: s.ShortBias, NetBias: s.NetBias,
		TradersLong: s.TradersLong, TradersShort: s.TradersShort, TradersFlat: s.TradersFlat,
		NetExposure: s.NetExposure, PriceAtSignal: s.PriceAtSignal, Time: s.Time,
	})
}

func (a *App) persistLeaderboard(_ context.Context, ev *events.StandardEvent) error {
	lb, ok := ev.Payload.(*events.Leaderboard)
	if !ok {
		return nil
	}
	rowsJSON, err := repository.MarshalJSON(lb.Rows)
	if err != nil {
		return err
	}
	return a.repo.SaveLeaderboardHistory(rowsJSON, lb.Time)
}

func (a *App) persistWhaleAlert(ctx context.Context, ev *events.StandardEvent) error {
	alert, ok := ev.Payload.(*events.WhaleAlert)
	if !ok {
		return nil
	}
	changesJSON, err := repository.MarshalJSON(alert.Changes)
	if err != nil {
		return err
	}
	if err := a.repo.SaveWhaleAlert(&repository.WhaleAlert{
		Priority: string(alert.Priority), Title: alert.Title, Description: alert.Description,
		ChangesJSON: string(changesJSON), SignalImpact: alert.SignalImpact,
		DetectedAt: alert.DetectedAt, ExpiresAt: alert.ExpiresAt,
	}); err != nil {
		return err
	}
	return a.alertSink.Deliver(ctx, alert)
}

// registerAlertSink has no subscriptions of its own: whale-alert delivery
// piggybacks on persistWhaleAlert above so a stored alert and a delivered
// one share one failure path. Kept as a named step in Start for symmetry
// with registerPersistence and as the obvious place to add a dedicated
// sink subscription later.
func (a *App) registerAlertSink(_ context.Context) {}

// scoredCache caches the most recently emitted scored_traders event so the
// trader-selection job (async relative to the bus) can read the scoring
// processor's latest output without a synchronous request/response path
// (spec §9 Open Question 2: reconciliation reads the most recent scored
// set). Grounded on the teacher's realtime.Broker last-value cache used
// for late SSE subscribers (realtime/broker.go).
type scoredCache struct {
	mu  sync.Mutex
	ev  *events.StandardEvent
	val *events.ScoredTraders
}

func newScoredCache() *scoredCache {
	return &scoredCache{}
}

func (c *scoredCache) handle(_ context.Context, ev *events.StandardEvent) error {
	st, ok := ev.Payload.(*events.ScoredTraders)
	if !ok {
		return nil
	}
	c.mu.Lock()
	c.ev = ev
	c.val = st
	c.mu.Unlock()
	return nil
}

// latestFor returns the scored_traders payload derived from the event
// carrying parentEventID, if one has arrived yet.
func (c *scoredCache) latestFor(parentEventID string) (*events.ScoredTraders, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ev == nil || c.ev.ParentEventID != parentEventID {
		return nil, false
	}
	return c.val, true
}

// latest returns whatever scored_traders set most recently arrived,
// regardless of which leaderboard event produced it (spec §9 Open
// Question 2's fallback: "or reads the most recent one").
func (c *scoredCache) latest() *events.ScoredTraders {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.val
}
