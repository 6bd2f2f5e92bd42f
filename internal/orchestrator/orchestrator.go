// Package orchestrator wires every component of spec §4 together in
// startup order and tears them down in reverse on shutdown. Grounded on
// the teacher's App struct and numbered Start()/gracefulShutdown()
// (app/app.go): same "one struct holds every component, Start connects
// things in order, gracefulShutdown waits on a signal then stops things
// in reverse order with a timeout" shape, generalized from Stockbit's
// single trading-WS-plus-API-server lifecycle to this pipeline's
// repository -> bus -> processors -> collectors -> scheduler chain.
package orchestrator

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nofendian17/hl-whale-signal/internal/alertsink"
	"github.com/nofendian17/hl-whale-signal/internal/archival"
	"github.com/nofendian17/hl-whale-signal/internal/backfill"
	"github.com/nofendian17/hl-whale-signal/internal/bus"
	"github.com/nofendian17/hl-whale-signal/internal/cache"
	"github.com/nofendian17/hl-whale-signal/internal/collectors"
	"github.com/nofendian17/hl-whale-signal/internal/config"
	"github.com/nofendian17/hl-whale-signal/internal/events"
	"github.com/nofendian17/hl-whale-signal/internal/httpclient"
	"github.com/nofendian17/hl-whale-signal/internal/httpcollectors"
	"github.com/nofendian17/hl-whale-signal/internal/processors"
	"github.com/nofendian17/hl-whale-signal/internal/ratelimit"
	"github.com/nofendian17/hl-whale-signal/internal/repository"
	"github.com/nofendian17/hl-whale-signal/internal/scheduler"
	"github.com/nofendian17/hl-whale-signal/internal/wsexchange"
)

const busDrainTimeout = 5 * time.Second

// App holds every long-lived component of the pipeline (spec §4). Zero
// value is not usable; construct with New.
type App struct {
	cfg *config.Config

	repo        *repository.Repository
	cacheClient *cache.Client
	bus         *bus.Bus
	wsManager   *wsexchange.Manager
	httpClient  *httpclient.Client
	alertSink   *alertsink.Sink

	candleCollector          *collectors.CandleCollector
	orderbookCollector       *collectors.OrderbookCollector
	tradesCollector          *collectors.TradesCollector
	allMidsCollector         *collectors.AllMidsCollector
	traderOrdersCollector    *collectors.TraderOrdersCollector
	traderPositionsCollector *collectors.TraderPositionsCollector

	positionDetection *processors.PositionDetectionProcessor
	scoring           *processors.ScoringProcessor
	signalAgg         *processors.SignalAggregationProcessor
	whaleAlert        *processors.WhaleAlertProcessor

	httpRateLimiter     *ratelimit.Manager
	tickerFetcher       *httpcollectors.TickerFetcher
	fundingFetcher      *httpcollectors.FundingFetcher
	dailyStatsFetcher   *httpcollectors.DailyStatsFetcher
	leaderboardFetcher  *httpcollectors.LeaderboardFetcher

	scheduler *scheduler.Scheduler
	archiver  *archival.Archiver
	backfiller *backfill.Backfiller

	latestScored *scoredCache

	cancel context.CancelFunc
}

// New stores cfg; every component is constructed during Start, mirroring
// the teacher's App.New/App.Start split (app/app.go).
func New(cfg *config.Config) *App {
	return &App{cfg: cfg, latestScored: newScoredCache()}
}

// Run starts every component, blocks until a termination signal arrives,
// then shuts everything down in reverse order. This is the entrypoint
// cmd/aggregator/main.go calls.
func (a *App) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel

	if err := a.start(ctx); err != nil {
		return err
	}

	return a.gracefulShutdown()
}

// start brings every component up in dependency order: storage, then the
// event bus, then processors (pure subscribers), then collectors (which
// need the bus to publish into and the WS manager to subscribe on), then
// the HTTP-driven jobs, finally the scheduler (spec §4/§5).
func (a *App) start(ctx context.Context) error {
	// 1. Repository
	fmt.Println("🗄️  orchestrator: connecting to database...")
	repo, err := repository.Connect(repository.Config{
		Host: a.cfg.DatabaseHost, Port: a.cfg.DatabasePort,
		User: a.cfg.DatabaseUser, Password: a.cfg.DatabasePassword,
		DBName: a.cfg.DatabaseName,
	})
	if err != nil {
		return fmt.Errorf("orchestrator: database connection failed: %w", err)
	}
	a.repo = repo
	if err := a.repo.InitSchema(); err != nil {
		return fmt.Errorf("orchestrator: schema init failed: %w", err)
	}

	// 2. Cache
	fmt.Println("🧠 orchestrator: connecting to redis...")
	a.cacheClient = cache.New(a.cfg.RedisHost, a.cfg.RedisPort, a.cfg.RedisPassword)

	// 3. Event bus
	fmt.Println("🚌 orchestrator: starting event bus...")
	a.bus = bus.New()
	a.bus.Connect(ctx)

	// 4. Alert sink
	a.alertSink = alertsink.New(a.cfg.AlertWebhookURL)

	// 5. Persistence + alert-sink subscribers (the bus's only storage/
	// external-delivery consumers, spec §4.5's "sole writer" invariant).
	a.registerPersistence(ctx)
	a.registerAlertSink(ctx)
	a.bus.Subscribe(events.TypeScoredTraders, a.latestScored.handle, events.DefaultPriority)

	// 6. Processors (pure bus subscribers, spec §4.4)
	fmt.Println("🧮 orchestrator: starting processors...")
	a.positionDetection = processors.NewPositionDetectionProcessor(a.bus, a.cfg.Symbol.TargetSymbol, a.cacheClient)
	a.scoring = processors.NewScoringProcessor(a.bus, processors.ScoringConfig{
		MinScore:        a.cfg.Scoring.MinScore,
		MinAccountValue: a.cfg.Scoring.MinAccountValue,
		MaxTrackedCount: a.cfg.Scoring.MaxTrackedCount,
	})
	a.signalAgg = processors.NewSignalAggregationProcessor(a.bus, a.cfg.Symbol.TargetSymbol)
	a.whaleAlert = processors.NewWhaleAlertProcessor(a.bus, a.cfg.Symbol.TargetSymbol, a.cacheClient)

	// 7. WebSocket manager + collectors (spec §4.1/§4.2)
	fmt.Println("🔌 orchestrator: connecting to exchange WebSocket...")
	a.wsManager = wsexchange.New(wsexchange.Options{
		URL:                  a.cfg.Connection.ExchangeWSURL,
		HeartbeatInterval:    a.cfg.Connection.HeartbeatInterval,
		ReconnectBaseDelay:   a.cfg.Connection.ReconnectBaseDelay,
		ReconnectMaxDelay:    a.cfg.Connection.ReconnectMaxDelay,
		ReconnectMaxAttempts: a.cfg.Connection.ReconnectMaxAttempts,
	})

	a.candleCollector = collectors.NewCandleCollector(a.wsManager, a.cfg.Symbol.TargetSymbol,
		a.cfg.Collectors.CandleIntervals, a.bus, a.cfg.Collectors.BufferFlushInterval, a.cfg.Collectors.BufferMaxSize)
	a.orderbookCollector = collectors.NewOrderbookCollector(a.wsManager, a.cfg.Symbol.TargetSymbol,
		a.bus, a.cfg.Collectors.OrderbookPriceChangePct, a.cfg.Collectors.OrderbookMaxSaveInterval)
	a.tradesCollector = collectors.NewTradesCollector(a.wsManager, a.cfg.Symbol.TargetSymbol,
		a.bus, a.cfg.Collectors.TradeMinValueUSD, a.cfg.Collectors.BufferFlushInterval, a.cfg.Collectors.BufferMaxSize)
	a.allMidsCollector = collectors.NewAllMidsCollector(a.wsManager, a.cfg.Symbol.TargetSymbol, a.bus)
	a.traderOrdersCollector = collectors.NewTraderOrdersCollector(a.bus)
	a.traderPositionsCollector = collectors.NewTraderPositionsCollector(a.wsManager, a.bus, a.traderOrdersCollector, a.cfg.Symbol.TargetSymbol)

	a.wsManager.Start(ctx)

	// 8. HTTP client + REST-driven fetchers (spec §4.6, §6)
	a.httpClient = httpclient.New(a.cfg.Connection.ExchangeHTTPURL, 30*time.Second)
	a.httpRateLimiter = ratelimit.New()
	a.tickerFetcher = httpcollectors.NewTickerFetcher(a.httpClient, a.bus, a.httpRateLimiter, a.cfg.Symbol.TargetSymbol)
	a.fundingFetcher = httpcollectors.NewFundingFetcher(a.httpClient, a.bus, a.httpRateLimiter, a.cfg.Symbol.TargetSymbol)
	a.dailyStatsFetcher = httpcollectors.NewDailyStatsFetcher(a.httpClient, a.bus, a.httpRateLimiter, a.cfg.Symbol.TargetSymbol)
	a.leaderboardFetcher = httpcollectors.NewLeaderboardFetcher(a.httpClient, a.bus, a.httpRateLimiter, a.cfg.Scoring.MinAccountValue)

	// 9. Archival + backfill (spec §4.7, §4.8)
	a.archiver = archival.New(a.repo.DB(), a.archivalConfig())
	a.backfiller = backfill.New(a.repo, a.httpClient, backfill.Config{
		Symbol:         a.cfg.Symbol.TargetSymbol,
		Timeframes:     a.cfg.Backfill.Timeframes,
		BatchSize:      a.cfg.Backfill.BatchSize,
		RateLimitDelay: a.cfg.Backfill.RateLimitDelay,
		Incremental:    a.cfg.Backfill.Incremental,
	})

	// 10. One-shot startup tasks, then the periodic scheduler (spec §4.6).
	fmt.Println("🚀 orchestrator: running startup tasks...")
	if err := scheduler.RunStartupTasks(ctx,
		a.tickerFetcher.Run,
		a.runBackfillIfEnabled,
		a.runTraderSelection,
	); err != nil {
		log.Printf("⚠️  orchestrator: startup tasks reported an error: %v", err)
	}

	a.scheduler = scheduler.New(a.cfg.Scheduler.GracePeriod, a.cfg.Scheduler.ShutdownGrace)
	a.registerJobs()
	a.scheduler.Start(ctx)

	fmt.Println("✅ orchestrator: pipeline fully started")
	return nil
}

func (a *App) runBackfillIfEnabled(ctx context.Context) error {
	if !a.cfg.Backfill.Enabled {
		return nil
	}
	return a.backfiller.Run(ctx)
}

func (a *App) registerJobs() {
	a.scheduler.Register(scheduler.Job{
		Name: "update_ticker", Enabled: a.cfg.Scheduler.UpdateTicker.Enabled,
		Interval: a.cfg.Scheduler.UpdateTicker.Interval, Fn: a.tickerFetcher.Run,
	})
	a.scheduler.Register(scheduler.Job{
		Name: "collect_funding", Enabled: a.cfg.Scheduler.CollectFunding.Enabled,
		Interval: a.cfg.Scheduler.CollectFunding.Interval, Fn: a.fundingFetcher.Run,
	})
	a.scheduler.Register(scheduler.Job{
		Name: "collect_daily_stats", Enabled: a.cfg.Scheduler.CollectDailyStats.Enabled,
		Interval: a.cfg.Scheduler.CollectDailyStats.Interval, Fn: a.dailyStatsFetcher.Run,
	})
	a.scheduler.Register(scheduler.Job{
		Name: "trader_selection", Enabled: a.cfg.Scheduler.FetchLeaderboard.Enabled,
		Interval: a.cfg.Scheduler.TraderSelectionPeriod, Fn: a.runTraderSelection,
	})
	a.scheduler.Register(scheduler.Job{
		Name: "archive_collections", Enabled: a.cfg.Scheduler.ArchiveCollections.Enabled,
		Interval: a.cfg.Scheduler.ArchiveCollections.Interval, Fn: a.archiver.Run,
	})
}

func (a *App) archivalConfig() archival.Config {
	days := func(n int) time.Duration { return time.Duration(n) * 24 * time.Hour }
	return archival.Config{
		BasePath:         a.cfg.Archival.BasePath,
		BatchSize:        a.cfg.Archival.BatchSize,
		CompressionLevel: a.cfg.Archival.CompressionLevel,
		MaxArchiveAge:    a.cfg.Archival.MaxArchiveAge,
		Collections: []archival.Collection{
			{Name: "trades", Retention: days(a.cfg.Retention.Trades)},
			{Name: "orderbook_snapshots", Retention: days(a.cfg.Retention.Orderbook)},
			{Name: "candles", Retention: days(a.cfg.Retention.Candles)},
			{Name: "trader_positions", Retention: days(a.cfg.Retention.TraderPositions)},
			{Name: "signals", Retention: days(a.cfg.Retention.Signals)},
			{Name: "trader_signals", Retention: days(a.cfg.Retention.TraderSignals)},
			{Name: "mark_prices", Retention: days(a.cfg.Retention.MarkPrices)},
			{Name: "leaderboard_history", Retention: days(a.cfg.Retention.LeaderboardHistory)},
		},
		// Orderbook rows are dense enough to warrant day-grouped
		// compaction ahead of the monthly sweep above (spec §4.7 step 5).
		OrderbookCollections: []string{"orderbook_snapshots"},
	}
}

// gracefulShutdown waits for SIGINT/SIGTERM then stops every component in
// reverse startup order within a grace window (grounded on
// app/app.go's gracefulShutdown).
func (a *App) gracefulShutdown() error {
	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM)
	<-interrupt
	fmt.Println("\n🛑 orchestrator: shutdown signal received, initiating graceful shutdown...")

	a.cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), a.cfg.Scheduler.ShutdownGrace+5*time.Second)
	defer shutdownCancel()

	done := make(chan struct{})
	go func() {
		if a.scheduler != nil {
			fmt.Println("🗓️  orchestrator: stopping scheduler...")
			a.scheduler.Stop()
		}
		if a.wsManager != nil {
			fmt.Println("📡 orchestrator: closing exchange WebSocket...")
			a.wsManager.Stop()
		}
		if a.candleCollector != nil {
			a.candleCollector.Stop()
		}
		if a.orderbookCollector != nil {
			a.orderbookCollector.Stop()
		}
		if a.tradesCollector != nil {
			a.tradesCollector.Stop()
		}
		if a.bus != nil {
			fmt.Println("🚌 orchestrator: draining event bus...")
			a.bus.Disconnect(busDrainTimeout)
		}
		if a.cacheClient != nil {
			if err := a.cacheClient.Close(); err != nil {
				log.Printf("⚠️  orchestrator: error closing redis: %v", err)
			} else {
				fmt.Println("✅ orchestrator: redis connection closed")
			}
		}
		if a.repo != nil {
			if err := a.repo.Close(); err != nil {
				log.Printf("⚠️  orchestrator: error closing database: %v", err)
			} else {
				fmt.Println("✅ orchestrator: database connection closed")
			}
		}
		close(done)
	}()

	select {
	case <-done:
		fmt.Println("✅ orchestrator: graceful shutdown completed")
		return nil
	case <-shutdownCtx.Done():
		fmt.Println("⚠️  orchestrator: shutdown grace exceeded, forcing exit")
		return fmt.Errorf("orchestrator: shutdown timeout")
	}
}
