// Package repository is the sole writer to storage (spec §4.5): durable
// persistence and bounded-latency queries for every persisted entity.
// Grounded on the teacher's gorm+postgres stack (database/repository.go,
// database/trades/repository.go, database/whales/repository.go) and on
// hyperliquid-system/src/models/base.py's time-series-vs-regular split
// (Open Question #1, resolved in SPEC_FULL.md §9).
package repository

import "time"

// Trade mirrors events.MarketTrade, persisted to the trades table. Unique
// on (source, symbol, trade_id) — spec §3 invariant.
type Trade struct {
	ID        uint64 `gorm:"primaryKey;autoIncrement"`
	Source    string `gorm:"size:64;index:idx_trades_unique,unique"`
	Symbol    string `gorm:"size:20;index:idx_trades_unique,unique;index"`
	TradeID   string `gorm:"size:64;index:idx_trades_unique,unique"`
	Side      string `gorm:"size:8"`
	Price     float64
	Size      float64
	USDValue  float64
	Time      time.Time `gorm:"index"`
	CreatedAt time.Time
}

func (Trade) TableName() string { return "trades" }

// OrderbookSnapshot mirrors events.OrderBookSnapshot (persisted rows only;
// save-on-change policy lives in the collector, not here).
type OrderbookSnapshot struct {
	ID        uint64 `gorm:"primaryKey;autoIncrement"`
	Symbol    string `gorm:"size:20;index"`
	BidsJSON  string `gorm:"type:jsonb"`
	AsksJSON  string `gorm:"type:jsonb"`
	Mid       float64
	Spread    float64
	BidDepth  float64
	AskDepth  float64
	Imbalance float64
	Time      time.Time `gorm:"index"`
	CreatedAt time.Time
}

func (OrderbookSnapshot) TableName() string { return "orderbook_snapshots" }

// Candle mirrors events.Candle. Unique on (symbol, interval, open_time).
type Candle struct {
	ID         uint64    `gorm:"primaryKey;autoIncrement"`
	Symbol     string    `gorm:"size:20;index:idx_candles_unique,unique"`
	Interval   string    `gorm:"size:8;index:idx_candles_unique,unique"`
	OpenTime   time.Time `gorm:"index:idx_candles_unique,unique"`
	Open       float64
	High       float64
	Low        float64
	Close      float64
	Volume     float64
	TradeCount int
	CreatedAt  time.Time
}

func (Candle) TableName() string { return "candles" }

// Ticker is one ticker event row (all-mids change).
type Ticker struct {
	ID            uint64 `gorm:"primaryKey;autoIncrement"`
	Symbol        string `gorm:"size:20;index"`
	Price         float64
	Change        float64
	ChangePercent float64
	Time          time.Time `gorm:"index"`
	CreatedAt     time.Time
}

func (Ticker) TableName() string { return "tickers" }

// Funding is a periodic funding-rate sample.
type Funding struct {
	ID          uint64 `gorm:"primaryKey;autoIncrement"`
	Symbol      string `gorm:"size:20;index"`
	FundingRate float64
	Premium     float64
	Time        time.Time `gorm:"index"`
	CreatedAt   time.Time
}

func (Funding) TableName() string { return "funding" }

// OpenInterest is a daily open-interest sample.
type OpenInterest struct {
	ID        uint64 `gorm:"primaryKey;autoIncrement"`
	Symbol    string `gorm:"size:20;index"`
	Value     float64
	Time      time.Time `gorm:"index"`
	CreatedAt time.Time
}

func (OpenInterest) TableName() string { return "open_interest" }

// Liquidity is a daily liquidity sample.
type Liquidity struct {
	ID        uint64 `gorm:"primaryKey;autoIncrement"`
	Symbol    string `gorm:"size:20;index"`
	BidDepth  float64
	AskDepth  float64
	Time      time.Time `gorm:"index"`
	CreatedAt time.Time
}

func (Liquidity) TableName() string { return "liquidity" }

// Liquidation is a daily liquidation sample.
type Liquidation struct {
	ID        uint64 `gorm:"primaryKey;autoIncrement"`
	Symbol    string `gorm:"size:20;index"`
	Side      string `gorm:"size:8"`
	Size      float64
	Price     float64
	Time      time.Time `gorm:"index"`
	CreatedAt time.Time
}

func (Liquidation) TableName() string { return "liquidations" }

// TrackedTrader is the curated-population entry; upserted by the
// leaderboard refresh job, unique on address (spec §4.5/§4.6).
type TrackedTrader struct {
	Address      string `gorm:"primaryKey;size:42"`
	AccountValue float64
	Score        float64
	TagsJSON     string `gorm:"type:jsonb"`
	Active       bool   `gorm:"index"`
	UpdatedAt    time.Time
	CreatedAt    time.Time
}

func (TrackedTrader) TableName() string { return "tracked_traders" }

// TraderPosition is an append-only snapshot row.
type TraderPosition struct {
	ID            uint64 `gorm:"primaryKey;autoIncrement"`
	TraderAddress string `gorm:"size:42;index:idx_trader_positions_addr_time"`
	AccountValue  float64
	TotalNotional float64
	MarginUsed    float64
	PositionsJSON string    `gorm:"type:jsonb"`
	Time          time.Time `gorm:"index;index:idx_trader_positions_addr_time"`
	CreatedAt     time.Time
}

func (TraderPosition) TableName() string { return "trader_positions" }

// TraderCurrentState is overwritten on every snapshot; single row per
// (trader_address, coin).
type TraderCurrentState struct {
	TraderAddress    string `gorm:"primaryKey;size:42"`
	Coin             string `gorm:"primaryKey;size:20"`
	Size             float64
	EntryPrice       float64
	PositionValue    float64
	UnrealizedPnL    float64
	Leverage         float64
	LiquidationPrice float64
	MarginUsed       float64
	UpdatedAt        time.Time
}

func (TraderCurrentState) TableName() string { return "trader_current_state" }

// TraderOrder is an append-only order-event row.
type TraderOrder struct {
	ID            uint64 `gorm:"primaryKey;autoIncrement"`
	TraderAddress string `gorm:"size:42;index:idx_trader_orders_addr_time"`
	OrderID       string `gorm:"size:64;index"`
	Coin          string `gorm:"size:20"`
	Action        string `gorm:"size:16"`
	Price         float64
	Size          float64
	Time          time.Time `gorm:"index;index:idx_trader_orders_addr_time"`
	CreatedAt     time.Time
}

func (TraderOrder) TableName() string { return "trader_orders" }

// TraderSignal is a per-trader derived signal row (individual, not
// aggregated).
type TraderSignal struct {
	ID            uint64 `gorm:"primaryKey;autoIncrement"`
	TraderAddress string `gorm:"size:42;index:idx_trader_signals_addr_time"`
	Coin          string `gorm:"size:20"`
	Direction     string `gorm:"size:8"`
	Confidence    float64
	Price         float64
	Time          time.Time `gorm:"index;index:idx_trader_signals_addr_time"`
	CreatedAt     time.Time
}

func (TraderSignal) TableName() string { return "trader_signals" }

// Signal mirrors events.AggregatedSignal.
type Signal struct {
	ID             uint64 `gorm:"primaryKey;autoIncrement"`
	Symbol         string `gorm:"size:20;index"`
	Recommendation string `gorm:"size:8"`
	Confidence     float64
	LongBias       float64
	ShortBias      float64
	NetBias        float64
	TradersLong    int
	TradersShort   int
	TradersFlat    int
	NetExposure    float64
	PriceAtSignal  float64
	Time           time.Time `gorm:"index"`
	CreatedAt      time.Time
}

func (Signal) TableName() string { return "signals" }

// LeaderboardHistory is an append-only snapshot of one leaderboard refresh.
type LeaderboardHistory struct {
	ID        uint64 `gorm:"primaryKey;autoIncrement"`
	RowsJSON  string `gorm:"type:jsonb"`
	Time      time.Time `gorm:"index"`
	CreatedAt time.Time
}

func (LeaderboardHistory) TableName() string { return "leaderboard_history" }

// MarkPrice is a periodic mark-price sample (used by allmids/ticker).
type MarkPrice struct {
	ID        uint64 `gorm:"primaryKey;autoIncrement"`
	Symbol    string `gorm:"size:20;index"`
	Price     float64
	Time      time.Time `gorm:"index"`
	CreatedAt time.Time
}

func (MarkPrice) TableName() string { return "mark_prices" }

// WhaleAlert mirrors events.WhaleAlert.
type WhaleAlert struct {
	ID           uint64 `gorm:"primaryKey;autoIncrement"`
	Priority     string `gorm:"size:12"`
	Title        string
	Description  string
	ChangesJSON  string `gorm:"type:jsonb"`
	SignalImpact string
	DetectedAt   time.Time `gorm:"index"`
	ExpiresAt    time.Time `gorm:"index"`
	CreatedAt    time.Time
}

func (WhaleAlert) TableName() string { return "whale_alerts" }

// AllModels lists every model for AutoMigrate.
func AllModels() []interface{} {
	return []interface{}{
		&Trade{}, &OrderbookSnapshot{}, &Candle{}, &Ticker{}, &Funding{},
		&OpenInterest{}, &Liquidity{}, &Liquidation{}, &TrackedTrader{},
		&TraderPosition{}, &TraderCurrentState{}, &TraderOrder{},
		&TraderSignal{}, &Signal{}, &LeaderboardHistory{}, &MarkPrice{},
		&WhaleAlert{},
	}
}
