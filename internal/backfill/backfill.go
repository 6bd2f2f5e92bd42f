// Package backfill fills in historical candles on startup (spec §4.8):
// for each configured timeframe, resume from the latest stored candle (or
// a configured absolute start) and fetch forward in bounded batches until
// caught up to now. Grounded on the teacher's reconnect-then-resume
// pattern (app/app.go's readAndProcessMessages loop resumes rather than
// restarts) generalized here to a bounded one-shot fetch loop instead of
// an indefinite stream.
package backfill

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/nofendian17/hl-whale-signal/internal/events"
	"github.com/nofendian17/hl-whale-signal/internal/httpclient"
	"github.com/nofendian17/hl-whale-signal/internal/repository"
)

// Repository is the subset of repository.Repository backfill depends on.
type Repository interface {
	LatestCandle(symbol, interval string) (*repository.Candle, error)
	SaveCandles(candles []*repository.Candle) error
}

// Client is the subset of httpclient.Client backfill depends on.
type Client interface {
	CandleSnapshot(ctx context.Context, coin, interval string, start, end int64) ([]httpclient.RawCandle, error)
}

// Config tunes the backfill run.
type Config struct {
	Symbol         string
	Timeframes     []string
	BatchSize      int
	RateLimitDelay time.Duration
	Incremental    bool
	AbsoluteStart  time.Time // used when Incremental is false or no prior candle exists
}

// Backfiller drives one catch-up pass per configured timeframe.
type Backfiller struct {
	repo   Repository
	client Client
	cfg    Config
}

// New constructs a Backfiller.
func New(repo Repository, client Client, cfg Config) *Backfiller {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 500
	}
	if cfg.RateLimitDelay <= 0 {
		cfg.RateLimitDelay = 500 * time.Millisecond
	}
	return &Backfiller{repo: repo, client: client, cfg: cfg}
}

// intervalDurations maps every spec §3 interval to its bucket width.
var intervalDurations = map[string]time.Duration{
	string(events.Interval1m):  time.Minute,
	string(events.Interval5m):  5 * time.Minute,
	string(events.Interval15m): 15 * time.Minute,
	string(events.Interval1h):  time.Hour,
	string(events.Interval4h):  4 * time.Hour,
	string(events.Interval1d):  24 * time.Hour,
}

// Run backfills every configured timeframe in sequence. One timeframe's
// failure is logged and does not prevent the others from running.
func (b *Backfiller) Run(ctx context.Context) error {
	for _, interval := range b.cfg.Timeframes {
		if err := b.backfillInterval(ctx, interval); err != nil {
			log.Printf("⚠️  backfill: %s failed: %v", interval, err)
		}
	}
	return nil
}

func (b *Backfiller) backfillInterval(ctx context.Context, interval string) error {
	step, ok := intervalDurations[interval]
	if !ok {
		return fmt.Errorf("backfill: unrecognized interval %q", interval)
	}

	start, err := b.determineStart(interval)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	total := 0
	for start.Before(now) {
		end := start.Add(step * time.Duration(b.cfg.BatchSize))
		if end.After(now) {
			end = now
		}

		raw, err := b.client.CandleSnapshot(ctx, b.cfg.Symbol, interval, start.UnixMilli(), end.UnixMilli())
		if err != nil {
			return fmt.Errorf("backfill: fetch %s [%s,%s]: %w", interval, start, end, err)
		}
		if len(raw) == 0 {
			break
		}

		rows := make([]*repository.Candle, 0, len(raw))
		var maxOpen time.Time
		for _, c := range raw {
			candle, ok := convertCandle(b.cfg.Symbol, interval, c)
			if !ok {
				continue
			}
			rows = append(rows, candle)
			if candle.OpenTime.After(maxOpen) {
				maxOpen = candle.OpenTime
			}
		}
		if len(rows) > 0 {
			if err := b.repo.SaveCandles(rows); err != nil {
				return fmt.Errorf("backfill: save %s batch: %w", interval, err)
			}
			total += len(rows)
		}

		if maxOpen.IsZero() {
			break
		}
		start = maxOpen.Add(step)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(b.cfg.RateLimitDelay):
		}
	}

	if total > 0 {
		log.Printf("📈 backfill: stored %d %s candles for %s", total, interval, b.cfg.Symbol)
	}
	return nil
}

// determineStart resolves the fetch window's lower bound: the candle
// after the latest stored one when Incremental and a prior candle
// exists, else the configured absolute start (spec §4.8).
func (b *Backfiller) determineStart(interval string) (time.Time, error) {
	if b.cfg.Incremental {
		latest, err := b.repo.LatestCandle(b.cfg.Symbol, interval)
		if err != nil {
			return time.Time{}, err
		}
		if latest != nil {
			step := intervalDurations[interval]
			return latest.OpenTime.Add(step), nil
		}
	}
	if !b.cfg.AbsoluteStart.IsZero() {
		return b.cfg.AbsoluteStart, nil
	}
	return time.Now().UTC().Add(-24 * time.Hour), nil
}

func convertCandle(symbol, interval string, c httpclient.RawCandle) (*repository.Candle, bool) {
	open, ok1 := parseFloat(c.O)
	high, ok2 := parseFloat(c.H)
	low, ok3 := parseFloat(c.L)
	closePx, ok4 := parseFloat(c.C)
	volume, ok5 := parseFloat(c.V)
	if !ok1 || !ok2 || !ok3 || !ok4 || !ok5 {
		return nil, false
	}
	return &repository.Candle{
		Symbol:     symbol,
		Interval:   interval,
		OpenTime:   time.UnixMilli(c.T).UTC(),
		Open:       open,
		High:       high,
		Low:        low,
		Close:      closePx,
		Volume:     volume,
		TradeCount: c.N,
	}, true
}

func parseFloat(s string) (float64, bool) {
	f, err := strconv.ParseFloat(s, 64)
	return f, err == nil
}
