// Package httpcollectors implements the REST-fallback and aux data
// fetchers of spec §4.6/§6: ticker, funding, daily-stats (open interest
// only), and the leaderboard fetch. Each is a thin
// periodic job driven by the scheduler, sharing one RateLimitManager per
// spec §5. Grounded on the teacher's HTTP-handler conventions
// (structured logging, error wrapping) generalized to Hyperliquid's
// single-endpoint contract via internal/httpclient.
package httpcollectors

import (
	"context"
	"log"
	"sort"
	"strconv"
	"time"

	"github.com/nofendian17/hl-whale-signal/internal/events"
	"github.com/nofendian17/hl-whale-signal/internal/httpclient"
	"github.com/nofendian17/hl-whale-signal/internal/ratelimit"
)

// Publisher is the subset of bus.Bus these fetchers depend on.
type Publisher interface {
	Publish(ctx context.Context, ev *events.StandardEvent, priority int) bool
}

// AuxProvider is the contract spec §6 gives every auxiliary HTTP source:
// one JSON endpoint, one Fetch call, one StandardEvent out.
type AuxProvider interface {
	Fetch(ctx context.Context) (*events.StandardEvent, error)
}

// TickerFetcher polls the exchange for the target symbol's current price
// as a REST fallback to the AllMids collector (spec §4.6 update_ticker).
type TickerFetcher struct {
	client *httpclient.Client
	bus    Publisher
	rl     *ratelimit.Manager
	symbol string
	source string
}

// NewTickerFetcher constructs a ticker fetcher for symbol.
func NewTickerFetcher(client *httpclient.Client, bus Publisher, rl *ratelimit.Manager, symbol string) *TickerFetcher {
	return &TickerFetcher{client: client, bus: bus, rl: rl, symbol: symbol, source: "ticker_fetcher"}
}

// Run executes one fetch-and-publish cycle.
func (f *TickerFetcher) Run(ctx context.Context) error {
	raw, err := f.client.MetaAndAssetCtxs(ctx)
	if err != nil {
		f.rl.ReportError()
		return err
	}
	f.rl.ReportSuccess()

	price, ok := extractMidPrice(raw, f.symbol)
	if !ok {
		log.Printf("⚠️  ticker_fetcher: no price found for %s", f.symbol)
		return nil
	}

	ev := events.New(events.TypeTicker, f.source, &events.TickerUpdate{
		Symbol: f.symbol,
		Price:  price,
		Time:   time.Now().UTC(),
	})
	f.bus.Publish(ctx, ev, events.DefaultPriority)
	return nil
}

func extractMidPrice(raw map[string]interface{}, symbol string) (float64, bool) {
	universe, ok := raw["universe"].([]interface{})
	if !ok {
		return 0, false
	}
	ctxs, ok := raw["assetCtxs"].([]interface{})
	if !ok || len(ctxs) != len(universe) {
		return 0, false
	}
	for i, u := range universe {
		meta, ok := u.(map[string]interface{})
		if !ok || meta["name"] != symbol {
			continue
		}
		ctx, ok := ctxs[i].(map[string]interface{})
		if !ok {
			continue
		}
		midPxStr, ok := ctx["midPx"].(string)
		if !ok {
			continue
		}
		price, err := strconv.ParseFloat(midPxStr, 64)
		if err != nil {
			continue
		}
		return price, true
	}
	return 0, false
}

// FundingFetcher polls the funding rate for the target symbol every
// collect_funding interval (default 8h, spec §4.6).
type FundingFetcher struct {
	client *httpclient.Client
	bus    Publisher
	rl     *ratelimit.Manager
	symbol string
	source string
}

// NewFundingFetcher constructs a funding fetcher for symbol.
func NewFundingFetcher(client *httpclient.Client, bus Publisher, rl *ratelimit.Manager, symbol string) *FundingFetcher {
	return &FundingFetcher{client: client, bus: bus, rl: rl, symbol: symbol, source: "funding_fetcher"}
}

// Run executes one fetch-and-publish cycle.
func (f *FundingFetcher) Run(ctx context.Context) error {
	raw, err := f.client.MetaAndAssetCtxs(ctx)
	if err != nil {
		f.rl.ReportError()
		return err
	}
	f.rl.ReportSuccess()

	rate, premium, ok := extractFunding(raw, f.symbol)
	if !ok {
		return nil
	}

	ev := events.New(events.TypeOnchainMetric, f.source, map[string]interface{}{
		"symbol":       f.symbol,
		"funding_rate": rate,
		"premium":      premium,
		"time":         time.Now().UTC(),
	})
	f.bus.Publish(ctx, ev, events.DefaultPriority)
	return nil
}

func extractFunding(raw map[string]interface{}, symbol string) (float64, float64, bool) {
	universe, ok := raw["universe"].([]interface{})
	if !ok {
		return 0, 0, false
	}
	ctxs, ok := raw["assetCtxs"].([]interface{})
	if !ok || len(ctxs) != len(universe) {
		return 0, 0, false
	}
	for i, u := range universe {
		meta, ok := u.(map[string]interface{})
		if !ok || meta["name"] != symbol {
			continue
		}
		assetCtx, ok := ctxs[i].(map[string]interface{})
		if !ok {
			continue
		}
		fundingStr, _ := assetCtx["funding"].(string)
		premiumStr, _ := assetCtx["premium"].(string)
		funding, _ := strconv.ParseFloat(fundingStr, 64)
		premium, _ := strconv.ParseFloat(premiumStr, 64)
		return funding, premium, true
	}
	return 0, 0, false
}

// DailyStatsFetcher polls open interest once a day (spec §4.6
// collect_daily_stats). Liquidity depth and liquidations are not fetched.
type DailyStatsFetcher struct {
	client *httpclient.Client
	bus    Publisher
	rl     *ratelimit.Manager
	symbol string
	source string
}

// NewDailyStatsFetcher constructs a daily-stats fetcher for symbol.
func NewDailyStatsFetcher(client *httpclient.Client, bus Publisher, rl *ratelimit.Manager, symbol string) *DailyStatsFetcher {
	return &DailyStatsFetcher{client: client, bus: bus, rl: rl, symbol: symbol, source: "daily_stats_fetcher"}
}

// Run executes one fetch-and-publish cycle, emitting one onchain_metric
// event with metric "open_interest" when the symbol's value is found.
func (f *DailyStatsFetcher) Run(ctx context.Context) error {
	raw, err := f.client.MetaAndAssetCtxs(ctx)
	if err != nil {
		f.rl.ReportError()
		return err
	}
	f.rl.ReportSuccess()

	openInterest, ok := extractOpenInterest(raw, f.symbol)
	if ok {
		ev := events.New(events.TypeOnchainMetric, f.source, map[string]interface{}{
			"symbol": f.symbol, "metric": "open_interest", "value": openInterest, "time": time.Now().UTC(),
		})
		f.bus.Publish(ctx, ev, events.DefaultPriority)
	}
	return nil
}

func extractOpenInterest(raw map[string]interface{}, symbol string) (float64, bool) {
	universe, ok := raw["universe"].([]interface{})
	if !ok {
		return 0, false
	}
	ctxs, ok := raw["assetCtxs"].([]interface{})
	if !ok || len(ctxs) != len(universe) {
		return 0, false
	}
	for i, u := range universe {
		meta, ok := u.(map[string]interface{})
		if !ok || meta["name"] != symbol {
			continue
		}
		assetCtx, ok := ctxs[i].(map[string]interface{})
		if !ok {
			continue
		}
		oiStr, ok := assetCtx["openInterest"].(string)
		if !ok {
			continue
		}
		oi, err := strconv.ParseFloat(oiStr, 64)
		if err != nil {
			continue
		}
		return oi, true
	}
	return 0, false
}

// LeaderboardFetcher implements step 1 of spec §4.6's leaderboard job:
// HTTP-fetch the raw leaderboard and emit a leaderboard event.
type LeaderboardFetcher struct {
	client          *httpclient.Client
	bus             Publisher
	rl              *ratelimit.Manager
	minAccountValue float64
	source          string
}

// NewLeaderboardFetcher constructs a leaderboard fetcher.
func NewLeaderboardFetcher(client *httpclient.Client, bus Publisher, rl *ratelimit.Manager, minAccountValue float64) *LeaderboardFetcher {
	return &LeaderboardFetcher{client: client, bus: bus, rl: rl, minAccountValue: minAccountValue, source: "leaderboard_fetcher"}
}

// Run fetches, sorts by account value, filters by min_account_value, and
// publishes one leaderboard event.
func (f *LeaderboardFetcher) Run(ctx context.Context) (*events.StandardEvent, error) {
	rows, err := f.client.Leaderboard(ctx)
	if err != nil {
		f.rl.ReportError()
		return nil, err
	}
	f.rl.ReportSuccess()

	out := make([]events.LeaderboardRow, 0, len(rows))
	for _, r := range rows {
		accountValue, err := strconv.ParseFloat(r.AccountValue, 64)
		if err != nil || accountValue < f.minAccountValue {
			continue
		}
		perf := make(map[string]events.WindowPerformance, len(r.WindowPerformances))
		for window, triple := range r.WindowPerformances {
			pnl, _ := strconv.ParseFloat(triple[0], 64)
			roi, _ := strconv.ParseFloat(triple[1], 64)
			volume, _ := strconv.ParseFloat(triple[2], 64)
			perf[window] = events.WindowPerformance{PnL: pnl, ROI: roi, Volume: volume}
		}
		out = append(out, events.LeaderboardRow{
			TraderAddress:      r.EthAddress,
			AccountValue:       accountValue,
			WindowPerformances: perf,
		})
	}
	sortLeaderboardDesc(out)

	payload := &events.Leaderboard{Rows: out, Time: time.Now().UTC()}
	ev := events.New(events.TypeLeaderboard, f.source, payload)
	f.bus.Publish(ctx, ev, events.DefaultPriority)
	return ev, nil
}

func sortLeaderboardDesc(rows []events.LeaderboardRow) {
	sort.Slice(rows, func(i, j int) bool { return rows[i].AccountValue > rows[j].AccountValue })
}
