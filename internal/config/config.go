// Package config loads the recognized configuration surface (spec §6) from
// the environment, the same way the teacher repo does it.
package config

import (
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the full application configuration.
type Config struct {
	Connection Connection
	Symbol     SymbolFilter
	Collectors Collectors
	Scheduler  Scheduler
	Retention  Retention
	Archival   Archival
	Scoring    Scoring
	Backfill   Backfill

	DatabaseHost     string
	DatabasePort     string
	DatabaseName     string
	DatabaseUser     string
	DatabasePassword string

	RedisHost     string
	RedisPort     string
	RedisPassword string

	// AlertWebhookURL is the external sink whale alerts are POSTed to.
	// Empty disables delivery.
	AlertWebhookURL string
}

// Connection covers the exchange HTTP/WS endpoints and reconnect policy.
type Connection struct {
	ExchangeHTTPURL      string
	ExchangeWSURL        string
	HeartbeatInterval    time.Duration
	ReconnectBaseDelay   time.Duration
	ReconnectMaxDelay    time.Duration
	ReconnectMaxAttempts int
}

// SymbolFilter is the single lever that shrinks the tracked universe.
type SymbolFilter struct {
	TargetSymbol string
}

// Collectors covers per-stream collector tuning.
type Collectors struct {
	CandleIntervals        []string
	OrderbookPriceChangePct float64
	OrderbookMaxSaveInterval time.Duration
	TradeMinValueUSD        float64
	BufferFlushInterval     time.Duration
	BufferMaxSize           int
}

// JobConfig is the per-job enabled/interval pair.
type JobConfig struct {
	Enabled  bool
	Interval time.Duration
}

// Scheduler covers every periodic job's cadence.
type Scheduler struct {
	CollectOrderbook      JobConfig
	CollectTrades         JobConfig
	CollectCandles        JobConfig
	UpdateTicker          JobConfig
	CollectFunding        JobConfig
	CollectDailyStats     JobConfig
	FetchLeaderboard      JobConfig
	UpdateTrackedTraders  JobConfig
	ArchiveCollections    JobConfig
	GracePeriod           time.Duration
	ShutdownGrace         time.Duration
	TraderSelectionPeriod time.Duration
}

// Retention holds per-collection retention in days (spec §4.5).
type Retention struct {
	Events            int
	LeaderboardHistory int
	TraderPositions   int
	TraderScores      int
	Signals           int
	TraderSignals     int
	MarkPrices        int
	Trades            int
	Orderbook         int
	Candles           int
}

// Archival covers archive file layout and cadence.
type Archival struct {
	BasePath         string
	Interval         time.Duration
	MaxArchiveAge    time.Duration
	CompressionLevel int
	BatchSize        int
}

// Scoring covers the trader-scoring processor thresholds.
type Scoring struct {
	MinScore        float64
	MaxTrackedCount int
	MinAccountValue float64
}

// Backfill covers candle backfill on startup.
type Backfill struct {
	Enabled         bool
	Timeframes      []string
	BatchSize       int
	RateLimitDelay  time.Duration
	Incremental     bool
}

// LoadFromEnv loads configuration from environment variables, following a
// .env file if present.
func LoadFromEnv() *Config {
	if err := godotenv.Load(); err != nil {
		log.Printf("config: no .env file loaded (%v), using process environment", err)
	}
	return &Config{
		Connection: Connection{
			ExchangeHTTPURL:      getEnvOrDefault("EXCHANGE_HTTP_URL", "https://api.hyperliquid.xyz"),
			ExchangeWSURL:        getEnvOrDefault("EXCHANGE_WS_URL", "wss://api.hyperliquid.xyz/ws"),
			HeartbeatInterval:    getEnvDuration("HEARTBEAT_INTERVAL_S", 30*time.Second),
			ReconnectBaseDelay:   getEnvDuration("RECONNECT_BASE_DELAY_S", 1*time.Second),
			ReconnectMaxDelay:    getEnvDuration("RECONNECT_MAX_DELAY_S", 30*time.Second),
			ReconnectMaxAttempts: getEnvInt("RECONNECT_MAX_ATTEMPTS", 10),
		},
		Symbol: SymbolFilter{
			TargetSymbol: getEnvOrDefault("TARGET_SYMBOL", "BTC"),
		},
		Collectors: Collectors{
			CandleIntervals:          getEnvList("CANDLE_INTERVALS", []string{"1m", "5m", "15m", "1h", "4h", "1d"}),
			OrderbookPriceChangePct:  getEnvFloat("ORDERBOOK_PRICE_CHANGE_PCT", 0.01),
			OrderbookMaxSaveInterval: getEnvDuration("ORDERBOOK_MAX_SAVE_INTERVAL_S", 600*time.Second),
			TradeMinValueUSD:         getEnvFloat("TRADE_MIN_VALUE_USD", 1000.0),
			BufferFlushInterval:      getEnvDuration("BUFFER_FLUSH_INTERVAL_S", 5*time.Second),
			BufferMaxSize:            getEnvInt("BUFFER_MAX_SIZE", 100),
		},
		Scheduler: Scheduler{
			CollectOrderbook:      JobConfig{Enabled: getEnvBool("JOB_COLLECT_ORDERBOOK_ENABLED", false), Interval: getEnvDuration("JOB_COLLECT_ORDERBOOK_INTERVAL_S", 60*time.Second)},
			CollectTrades:         JobConfig{Enabled: getEnvBool("JOB_COLLECT_TRADES_ENABLED", false), Interval: getEnvDuration("JOB_COLLECT_TRADES_INTERVAL_S", 60*time.Second)},
			CollectCandles:        JobConfig{Enabled: getEnvBool("JOB_COLLECT_CANDLES_ENABLED", false), Interval: getEnvDuration("JOB_COLLECT_CANDLES_INTERVAL_S", 60*time.Second)},
			UpdateTicker:          JobConfig{Enabled: true, Interval: getEnvDuration("JOB_UPDATE_TICKER_INTERVAL_S", 60*time.Second)},
			CollectFunding:        JobConfig{Enabled: true, Interval: getEnvDuration("JOB_COLLECT_FUNDING_INTERVAL_S", 8*time.Hour)},
			CollectDailyStats:     JobConfig{Enabled: true, Interval: getEnvDuration("JOB_COLLECT_DAILY_STATS_INTERVAL_S", 24*time.Hour)},
			FetchLeaderboard:      JobConfig{Enabled: true, Interval: getEnvDuration("TRADER_SELECTION_INTERVAL_S", 1*time.Hour)},
			UpdateTrackedTraders:  JobConfig{Enabled: true, Interval: getEnvDuration("TRADER_SELECTION_INTERVAL_S", 1*time.Hour)},
			ArchiveCollections:    JobConfig{Enabled: true, Interval: getEnvDuration("ARCHIVE_INTERVAL_S", 24*time.Hour)},
			GracePeriod:           getEnvDuration("SCHEDULER_GRACE_S", 60*time.Second),
			ShutdownGrace:         getEnvDuration("SCHEDULER_SHUTDOWN_GRACE_S", 10*time.Second),
			TraderSelectionPeriod: getEnvDuration("TRADER_SELECTION_INTERVAL_S", 1*time.Hour),
		},
		Retention: Retention{
			Events:             getEnvInt("RETENTION_EVENTS_DAYS", 7),
			LeaderboardHistory: getEnvInt("RETENTION_LEADERBOARD_HISTORY_DAYS", 90),
			TraderPositions:    getEnvInt("RETENTION_TRADER_POSITIONS_DAYS", 30),
			TraderScores:       getEnvInt("RETENTION_TRADER_SCORES_DAYS", 90),
			Signals:            getEnvInt("RETENTION_SIGNALS_DAYS", 30),
			TraderSignals:      getEnvInt("RETENTION_TRADER_SIGNALS_DAYS", 30),
			MarkPrices:         getEnvInt("RETENTION_MARK_PRICES_DAYS", 30),
			Trades:             getEnvInt("RETENTION_TRADES_DAYS", 7),
			Orderbook:          getEnvInt("RETENTION_ORDERBOOK_DAYS", 7),
			Candles:            getEnvInt("RETENTION_CANDLES_DAYS", 30),
		},
		Archival: Archival{
			BasePath:         getEnvOrDefault("ARCHIVE_BASE_PATH", "./archive"),
			Interval:         getEnvDuration("ARCHIVE_INTERVAL_S", 24*time.Hour),
			MaxArchiveAge:    time.Duration(getEnvInt("MAX_ARCHIVE_AGE_DAYS", 365)) * 24 * time.Hour,
			CompressionLevel: getEnvInt("ARCHIVE_COMPRESSION_LEVEL", 3),
			BatchSize:        getEnvInt("ARCHIVE_BATCH_SIZE", 10000),
		},
		Scoring: Scoring{
			MinScore:        getEnvFloat("SCORING_MIN_SCORE", 50.0),
			MaxTrackedCount: getEnvInt("SCORING_MAX_TRACKED_COUNT", 500),
			MinAccountValue: getEnvFloat("SCORING_MIN_ACCOUNT_VALUE", 10000.0),
		},
		Backfill: Backfill{
			Enabled:        getEnvBool("BACKFILL_ENABLED", true),
			Timeframes:     getEnvList("BACKFILL_TIMEFRAMES", []string{"1m", "5m", "15m", "1h", "4h", "1d"}),
			BatchSize:      getEnvInt("BACKFILL_BATCH_SIZE", 500),
			RateLimitDelay: getEnvDuration("BACKFILL_RATE_LIMIT_DELAY_S", 500*time.Millisecond),
			Incremental:    getEnvBool("BACKFILL_INCREMENTAL", true),
		},

		DatabaseHost:     getEnvOrDefault("DB_HOST", "localhost"),
		DatabasePort:     getEnvOrDefault("DB_PORT", "5432"),
		DatabaseName:     getEnvOrDefault("DB_NAME", "whale_signal"),
		DatabaseUser:     getEnvOrDefault("DB_USER", "whale_signal"),
		DatabasePassword: getEnvOrDefault("DB_PASSWORD", "whale_signal"),

		RedisHost:     getEnvOrDefault("REDIS_HOST", "localhost"),
		RedisPort:     getEnvOrDefault("REDIS_PORT", "6379"),
		RedisPassword: getEnvOrDefault("REDIS_PASSWORD", ""),

		AlertWebhookURL: getEnvOrDefault("ALERT_WEBHOOK_URL", ""),
	}
}

func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var intValue int
	if _, err := fmt.Sscanf(value, "%d", &intValue); err != nil {
		log.Printf("⚠️  invalid int for %s=%q, using default %d", key, value, defaultValue)
		return defaultValue
	}
	return intValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var floatValue float64
	if _, err := fmt.Sscanf(value, "%f", &floatValue); err != nil {
		log.Printf("⚠️  invalid float for %s=%q, using default %v", key, value, defaultValue)
		return defaultValue
	}
	return floatValue
}

func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value == "true"
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	seconds := getEnvFloat(key, -1)
	if seconds < 0 {
		return defaultValue
	}
	return time.Duration(seconds * float64(time.Second))
}

func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
