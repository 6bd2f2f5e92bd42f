package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/nofendian17/hl-whale-signal/internal/apperr"
)

const insertBatchSize = 500

// isDuplicateKey detects a unique-constraint violation the same way the
// teacher's trades.Repository does (database/trades/repository.go) — by
// matching the postgres driver's error text (gorm's postgres driver runs
// on pgx) rather than inspecting a typed driver error.
func isDuplicateKey(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "duplicate key value violates unique constraint") ||
		strings.Contains(msg, "SQLSTATE 23505")
}

// insertMany is the shared InsertMany(collection, docs, ordered=false)
// contract (spec §4.5): duplicate-key errors are absorbed silently (the
// retry-safety mechanism for at-most-once delivery), everything else
// propagates.
func insertMany(db *gorm.DB, rows interface{}, op string) error {
	slice, err := toInterfaceSlice(rows)
	if err != nil {
		return apperr.Wrap(apperr.Internal, op, err)
	}
	if len(slice) == 0 {
		return nil
	}

	for i := 0; i < len(slice); i += insertBatchSize {
		end := i + insertBatchSize
		if end > len(slice) {
			end = len(slice)
		}
		batch := slice[i:end]
		if err := db.Clauses(clause.OnConflict{DoNothing: true}).CreateInBatches(batch, len(batch)).Error; err != nil {
			if isDuplicateKey(err) {
				continue
			}
			return apperr.Wrap(apperr.Internal, op, err)
		}
	}
	return nil
}

func toInterfaceSlice(rows interface{}) ([]interface{}, error) {
	switch v := rows.(type) {
	case []*Trade:
		out := make([]interface{}, len(v))
		for i, r := range v {
			out[i] = r
		}
		return out, nil
	case []*Candle:
		out := make([]interface{}, len(v))
		for i, r := range v {
			out[i] = r
		}
		return out, nil
	case []*TraderOrder:
		out := make([]interface{}, len(v))
		for i, r := range v {
			out[i] = r
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported batch type %T", rows)
	}
}

// SaveTrades is InsertMany for the trades collection.
func (r *Repository) SaveTrades(trades []*Trade) error {
	return insertMany(r.db, trades, "SaveTrades")
}

// SaveCandles is InsertMany for the candles collection; duplicate
// (symbol, interval, open_time) insertions are tolerated.
func (r *Repository) SaveCandles(candles []*Candle) error {
	return insertMany(r.db, candles, "SaveCandles")
}

// LatestCandle returns the most recent candle for (symbol, interval), or
// nil if none exists — used by candle backfill to resume incrementally.
func (r *Repository) LatestCandle(symbol string, interval string) (*Candle, error) {
	var c Candle
	err := r.db.Where("symbol = ? AND interval = ?", symbol, interval).
		Order("open_time DESC").First(&c).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "LatestCandle", err)
	}
	return &c, nil
}

// RangeCandles queries candles with predicate (symbol, interval, [start,end]).
func (r *Repository) RangeCandles(symbol, interval string, start, end time.Time, limit int) ([]Candle, error) {
	var rows []Candle
	q := r.db.Where("symbol = ? AND interval = ?", symbol, interval)
	if !start.IsZero() {
		q = q.Where("open_time >= ?", start)
	}
	if !end.IsZero() {
		q = q.Where("open_time <= ?", end)
	}
	q = q.Order("open_time ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, apperr.Wrap(apperr.Internal, "RangeCandles", err)
	}
	return rows, nil
}

// SaveOrderbookSnapshot persists one save-on-change snapshot.
func (r *Repository) SaveOrderbookSnapshot(symbol string, bidsJSON, asksJSON []byte, mid, spread, bidDepth, askDepth, imbalance float64, t time.Time) error {
	row := &OrderbookSnapshot{
		Symbol: symbol, BidsJSON: string(bidsJSON), AsksJSON: string(asksJSON),
		Mid: mid, Spread: spread, BidDepth: bidDepth, AskDepth: askDepth,
		Imbalance: imbalance, Time: t,
	}
	if err := r.db.Create(row).Error; err != nil {
		return apperr.Wrap(apperr.Internal, "SaveOrderbookSnapshot", err)
	}
	return nil
}

// RangeTrades queries trades by symbol and/or time range.
func (r *Repository) RangeTrades(symbol string, start, end time.Time, limit int) ([]Trade, error) {
	var rows []Trade
	q := r.db.Model(&Trade{})
	if symbol != "" {
		q = q.Where("symbol = ?", symbol)
	}
	if !start.IsZero() {
		q = q.Where("time >= ?", start)
	}
	if !end.IsZero() {
		q = q.Where("time <= ?", end)
	}
	q = q.Order("time DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, apperr.Wrap(apperr.Internal, "RangeTrades", err)
	}
	return rows, nil
}

// SaveTicker persists one ticker (all-mids change) row.
func (r *Repository) SaveTicker(t *Ticker) error {
	if err := r.db.Create(t).Error; err != nil {
		return apperr.Wrap(apperr.Internal, "SaveTicker", err)
	}
	return nil
}

// SaveFunding persists one funding-rate sample.
func (r *Repository) SaveFunding(f *Funding) error {
	if err := r.db.Create(f).Error; err != nil {
		return apperr.Wrap(apperr.Internal, "SaveFunding", err)
	}
	return nil
}

// SaveOpenInterest persists one open-interest sample.
func (r *Repository) SaveOpenInterest(o *OpenInterest) error {
	if err := r.db.Create(o).Error; err != nil {
		return apperr.Wrap(apperr.Internal, "SaveOpenInterest", err)
	}
	return nil
}

// SaveLiquidity persists one liquidity sample.
func (r *Repository) SaveLiquidity(l *Liquidity) error {
	if err := r.db.Create(l).Error; err != nil {
		return apperr.Wrap(apperr.Internal, "SaveLiquidity", err)
	}
	return nil
}

// SaveLiquidation persists one liquidation sample.
func (r *Repository) SaveLiquidation(l *Liquidation) error {
	if err := r.db.Create(l).Error; err != nil {
		return apperr.Wrap(apperr.Internal, "SaveLiquidation", err)
	}
	return nil
}

// UpsertTrackedTrader is idempotent on address (spec §4.5 Upsert contract).
func (r *Repository) UpsertTrackedTrader(t *TrackedTrader) error {
	err := r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "address"}},
		DoUpdates: clause.AssignmentColumns([]string{"account_value", "score", "tags_json", "active", "updated_at"}),
	}).Create(t).Error
	if err != nil {
		return apperr.Wrap(apperr.Internal, "UpsertTrackedTrader", err)
	}
	return nil
}

// DeactivateTrackedTrader flips active=false without deleting the row
// (spec §3 lifecycle).
func (r *Repository) DeactivateTrackedTrader(address string) error {
	err := r.db.Model(&TrackedTrader{}).Where("address = ?", address).
		Update("active", false).Error
	if err != nil {
		return apperr.Wrap(apperr.Internal, "DeactivateTrackedTrader", err)
	}
	return nil
}

// ActiveTrackedTraders returns every trader currently in the tracked set.
func (r *Repository) ActiveTrackedTraders() ([]TrackedTrader, error) {
	var rows []TrackedTrader
	if err := r.db.Where("active = true").Find(&rows).Error; err != nil {
		return nil, apperr.Wrap(apperr.Internal, "ActiveTrackedTraders", err)
	}
	return rows, nil
}

// SaveTraderPosition appends one position snapshot row.
func (r *Repository) SaveTraderPosition(p *TraderPosition) error {
	if err := r.db.Create(p).Error; err != nil {
		return apperr.Wrap(apperr.Internal, "SaveTraderPosition", err)
	}
	return nil
}

// RangeTraderPositions queries snapshot history for one trader.
func (r *Repository) RangeTraderPositions(trader string, start, end time.Time, limit int) ([]TraderPosition, error) {
	var rows []TraderPosition
	q := r.db.Where("trader_address = ?", trader)
	if !start.IsZero() {
		q = q.Where("time >= ?", start)
	}
	if !end.IsZero() {
		q = q.Where("time <= ?", end)
	}
	q = q.Order("time DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, apperr.Wrap(apperr.Internal, "RangeTraderPositions", err)
	}
	return rows, nil
}

// UpsertTraderCurrentState overwrites the single row per (trader, coin).
func (r *Repository) UpsertTraderCurrentState(s *TraderCurrentState) error {
	err := r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "trader_address"}, {Name: "coin"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"size", "entry_price", "position_value", "unrealized_pn_l",
			"leverage", "liquidation_price", "margin_used", "updated_at",
		}),
	}).Create(s).Error
	if err != nil {
		return apperr.Wrap(apperr.Internal, "UpsertTraderCurrentState", err)
	}
	return nil
}

// SaveTraderOrder appends one order-event row.
func (r *Repository) SaveTraderOrder(o *TraderOrder) error {
	if err := r.db.Create(o).Error; err != nil {
		return apperr.Wrap(apperr.Internal, "SaveTraderOrder", err)
	}
	return nil
}

// BatchSaveTraderOrders is the InsertMany path trader-order batching uses.
func (r *Repository) BatchSaveTraderOrders(orders []*TraderOrder) error {
	return insertMany(r.db, orders, "BatchSaveTraderOrders")
}

// SaveTraderSignal persists one per-trader derived signal row.
func (r *Repository) SaveTraderSignal(s *TraderSignal) error {
	if err := r.db.Create(s).Error; err != nil {
		return apperr.Wrap(apperr.Internal, "SaveTraderSignal", err)
	}
	return nil
}

// SaveSignal persists one aggregated signal row.
func (r *Repository) SaveSignal(s *Signal) error {
	if err := r.db.Create(s).Error; err != nil {
		return apperr.Wrap(apperr.Internal, "SaveSignal", err)
	}
	return nil
}

// SaveLeaderboardHistory appends one leaderboard refresh snapshot.
func (r *Repository) SaveLeaderboardHistory(rowsJSON []byte, t time.Time) error {
	row := &LeaderboardHistory{RowsJSON: string(rowsJSON), Time: t}
	if err := r.db.Create(row).Error; err != nil {
		return apperr.Wrap(apperr.Internal, "SaveLeaderboardHistory", err)
	}
	return nil
}

// SaveMarkPrice persists one mark-price sample.
func (r *Repository) SaveMarkPrice(symbol string, price float64, t time.Time) error {
	row := &MarkPrice{Symbol: symbol, Price: price, Time: t}
	if err := r.db.Create(row).Error; err != nil {
		return apperr.Wrap(apperr.Internal, "SaveMarkPrice", err)
	}
	return nil
}

// SaveWhaleAlert persists one whale alert.
func (r *Repository) SaveWhaleAlert(a *WhaleAlert) error {
	if err := r.db.Create(a).Error; err != nil {
		return apperr.Wrap(apperr.Internal, "SaveWhaleAlert", err)
	}
	return nil
}

// ActiveWhaleAlerts returns alerts whose expiry is still in the future.
func (r *Repository) ActiveWhaleAlerts(now time.Time) ([]WhaleAlert, error) {
	var rows []WhaleAlert
	if err := r.db.Where("expires_at > ?", now).Order("detected_at DESC").Find(&rows).Error; err != nil {
		return nil, apperr.Wrap(apperr.Internal, "ActiveWhaleAlerts", err)
	}
	return rows, nil
}

// CountDocuments counts rows in table matching a time-range predicate.
func (r *Repository) CountDocuments(ctx context.Context, table string, start, end time.Time) (int64, error) {
	var count int64
	q := r.db.WithContext(ctx).Table(table)
	if !start.IsZero() {
		q = q.Where("time >= ? OR created_at >= ?", start, start)
	}
	if !end.IsZero() {
		q = q.Where("time <= ? OR created_at <= ?", end, end)
	}
	if err := q.Count(&count).Error; err != nil {
		return 0, apperr.Wrap(apperr.Internal, "CountDocuments", err)
	}
	return count, nil
}

// marshalLevels is a small helper collectors use before calling
// SaveOrderbookSnapshot.
func marshalLevels(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

// MarshalJSON is exported for collectors/processors that need the same
// encoding discipline the repository uses for JSONB columns.
func MarshalJSON(v interface{}) ([]byte, error) {
	return marshalLevels(v)
}
