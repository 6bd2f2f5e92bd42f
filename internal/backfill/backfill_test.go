package backfill

import (
	"context"
	"testing"
	"time"

	"github.com/nofendian17/hl-whale-signal/internal/httpclient"
	"github.com/nofendian17/hl-whale-signal/internal/repository"
)

type fakeRepo struct {
	latest map[string]*repository.Candle
	saved  []*repository.Candle
}

func (f *fakeRepo) LatestCandle(symbol, interval string) (*repository.Candle, error) {
	return f.latest[symbol+"|"+interval], nil
}

func (f *fakeRepo) SaveCandles(candles []*repository.Candle) error {
	f.saved = append(f.saved, candles...)
	return nil
}

type fakeClient struct {
	calls   int
	batches [][]httpclient.RawCandle
}

func (f *fakeClient) CandleSnapshot(ctx context.Context, coin, interval string, start, end int64) ([]httpclient.RawCandle, error) {
	if f.calls >= len(f.batches) {
		return nil, nil
	}
	out := f.batches[f.calls]
	f.calls++
	return out, nil
}

func TestDetermineStartIncrementalResumesFromLatest(t *testing.T) {
	prevOpen := time.Date(2026, 1, 1, 0, 5, 0, 0, time.UTC)
	repo := &fakeRepo{latest: map[string]*repository.Candle{
		"BTC|1m": {OpenTime: prevOpen},
	}}
	b := New(repo, &fakeClient{}, Config{Symbol: "BTC", Incremental: true})

	got, err := b.determineStart("1m")
	if err != nil {
		t.Fatal(err)
	}
	want := prevOpen.Add(time.Minute)
	if !got.Equal(want) {
		t.Errorf("determineStart = %v, want %v", got, want)
	}
}

func TestDetermineStartFallsBackToAbsoluteStart(t *testing.T) {
	absolute := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	repo := &fakeRepo{latest: map[string]*repository.Candle{}}
	b := New(repo, &fakeClient{}, Config{Symbol: "BTC", Incremental: true, AbsoluteStart: absolute})

	got, err := b.determineStart("1m")
	if err != nil {
		t.Fatal(err)
	}
	if !got.Equal(absolute) {
		t.Errorf("determineStart = %v, want %v", got, absolute)
	}
}

func TestBackfillIntervalStopsOnEmptyBatch(t *testing.T) {
	repo := &fakeRepo{latest: map[string]*repository.Candle{}}
	absolute := time.Now().UTC().Add(-2 * time.Hour)
	client := &fakeClient{batches: [][]httpclient.RawCandle{
		{
			{T: absolute.UnixMilli(), O: "100", H: "101", L: "99", C: "100.5", V: "10", N: 3},
		},
		{}, // second call returns nothing -> loop must stop
	}}

	b := New(repo, client, Config{
		Symbol: "BTC", Incremental: true, AbsoluteStart: absolute,
		RateLimitDelay: time.Millisecond,
	})

	if err := b.backfillInterval(context.Background(), "1m"); err != nil {
		t.Fatalf("backfillInterval: %v", err)
	}
	if len(repo.saved) != 1 {
		t.Fatalf("expected 1 candle saved, got %d", len(repo.saved))
	}
	if client.calls != 2 {
		t.Errorf("expected exactly 2 fetch calls, got %d", client.calls)
	}
}

func TestConvertCandleRejectsUnparsable(t *testing.T) {
	_, ok := convertCandle("BTC", "1m", httpclient.RawCandle{O: "not-a-number"})
	if ok {
		t.Error("expected convertCandle to reject an unparsable price")
	}
}
