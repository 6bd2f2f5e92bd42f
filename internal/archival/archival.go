// Package archival implements the age-based cold-storage sweep of spec
// §4.7: scan each retained collection for rows older than its retention
// cutoff, serialize them in batches, compress with zstd, append to a
// monthly archive file on disk, and only then delete the archived rows.
// Grounded on the teacher's raw-SQL scanning idiom (database/repository.go,
// database/dashboard_queries.go use db.Raw(...).Scan for ad-hoc result
// shapes) generalized here to gorm's Rows()/Columns() path since the set
// of archived collections is config-driven rather than fixed per query.
package archival

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/DataDog/zstd"
	"gorm.io/gorm"

	"github.com/nofendian17/hl-whale-signal/internal/apperr"
)

// Collection names the table archival scans and, together with a
// retention duration, the age cutoff it applies.
type Collection struct {
	Name      string
	Retention time.Duration
}

// defaultOrderbookCompactAge is the fixed "older than 7 days" threshold
// spec §4.7 step 5 names for the orderbook sub-policy, independent of
// whatever retention is configured for the orderbook collection itself.
const defaultOrderbookCompactAge = 7 * 24 * time.Hour

// Config tunes archival's file layout, batching, and compression.
type Config struct {
	BasePath         string
	BatchSize        int
	CompressionLevel int
	MaxArchiveAge    time.Duration
	Collections      []Collection

	// OrderbookCollections names the collections that get the day-grouped
	// pre-compression pass of spec §4.7 step 5, ahead of the normal
	// monthly sweep every collection (including these) otherwise gets.
	OrderbookCollections []string
	// OrderbookCompactAge overrides defaultOrderbookCompactAge; zero uses
	// the default.
	OrderbookCompactAge time.Duration
}

// Archiver runs one age-based sweep per Run call.
type Archiver struct {
	db  *gorm.DB
	cfg Config
}

// New constructs an Archiver over db using cfg.
func New(db *gorm.DB, cfg Config) *Archiver {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10000
	}
	if cfg.CompressionLevel <= 0 {
		cfg.CompressionLevel = zstd.DefaultCompression
	}
	if cfg.OrderbookCompactAge <= 0 {
		cfg.OrderbookCompactAge = defaultOrderbookCompactAge
	}
	return &Archiver{db: db, cfg: cfg}
}

// Run sweeps every configured collection independently: a failure
// archiving one collection is logged and does not stop the others
// (spec §4.7 per-collection error isolation). Orderbook collections are
// day-compacted first (spec §4.7 step 5); the normal monthly sweep that
// follows then finds nothing left for them once their own retention
// cutoff matches or trails the compaction age.
func (a *Archiver) Run(ctx context.Context) error {
	now := time.Now().UTC()
	orderbookCutoff := now.Add(-a.cfg.OrderbookCompactAge)
	for _, name := range a.cfg.OrderbookCollections {
		if err := a.compactOrderbookDaily(ctx, name, orderbookCutoff); err != nil {
			log.Printf("⚠️  archival: orderbook day-compaction for %s failed: %v", name, err)
		}
	}

	for _, col := range a.cfg.Collections {
		if col.Retention <= 0 {
			continue
		}
		cutoff := now.Add(-col.Retention)
		if err := a.archiveCollection(ctx, col.Name, cutoff); err != nil {
			log.Printf("⚠️  archival: %s failed: %v", col.Name, err)
		}
	}
	if err := a.cleanupOldArchives(now); err != nil {
		log.Printf("⚠️  archival: cleanup failed: %v", err)
	}
	return nil
}

// compactOrderbookDaily moves orderbook rows older than cutoff into
// per-calendar-day archive files rather than the monthly grouping
// archiveCollection uses elsewhere, since orderbook snapshots are dense
// enough that day-grouping keeps any single restore window small (spec
// §4.7 step 5).
func (a *Archiver) compactOrderbookDaily(ctx context.Context, name string, cutoff time.Time) error {
	total := 0
	for {
		batch, ids, err := a.fetchBatch(ctx, name, cutoff)
		if err != nil {
			return apperr.Wrap(apperr.Internal, "archival.fetchBatch", err)
		}
		if len(batch) == 0 {
			break
		}

		byDay := make(map[string][]map[string]interface{})
		for _, rec := range batch {
			day := dayOf(rec["created_at"])
			byDay[day] = append(byDay[day], rec)
		}
		for day, rows := range byDay {
			if err := a.writeOrderbookDay(name, day, rows); err != nil {
				return apperr.Wrap(apperr.Internal, "archival.writeOrderbookDay", err)
			}
		}

		if err := a.deleteRows(ctx, name, ids); err != nil {
			return apperr.Wrap(apperr.Internal, "archival.deleteRows", err)
		}

		total += len(batch)
		if len(batch) < a.cfg.BatchSize {
			break
		}
	}
	if total > 0 {
		log.Printf("📦 archival: day-compacted %d orderbook rows from %s (older than %v)", total, name, a.cfg.OrderbookCompactAge)
	}
	return nil
}

// dayOf extracts the YYYY-MM-DD UTC calendar day from a stringified
// created_at value (see stringify), falling back to "unknown" for rows
// missing or malformed on that column.
func dayOf(v interface{}) string {
	s, _ := v.(string)
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return "unknown"
	}
	return t.UTC().Format("2006-01-02")
}

// writeOrderbookDay appends rows to
// {base}/{collection}/daily/{YYYY-MM-DD}.jsonl.zst, the day-grouped sibling
// of writeBatch's monthly layout.
func (a *Archiver) writeOrderbookDay(collection, day string, rows []map[string]interface{}) error {
	dir := filepath.Join(a.cfg.BasePath, collection, "daily")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	path := filepath.Join(dir, day+".jsonl.zst")
	return appendCompressed(path, rows, a.cfg.CompressionLevel)
}

// archiveCollection moves every row older than cutoff out of collection
// and into the current month's archive file, one batch at a time. Rows
// are only deleted once their batch has been successfully flushed to
// disk — a write failure mid-sweep leaves the unflushed rows in place
// for the next run to retry (spec §4.7 partial-batch-failure rollback).
func (a *Archiver) archiveCollection(ctx context.Context, name string, cutoff time.Time) error {
	total := 0
	for {
		batch, ids, err := a.fetchBatch(ctx, name, cutoff)
		if err != nil {
			return apperr.Wrap(apperr.Internal, "archival.fetchBatch", err)
		}
		if len(batch) == 0 {
			break
		}

		if err := a.writeBatch(name, now(), batch); err != nil {
			return apperr.Wrap(apperr.Internal, "archival.writeBatch", err)
		}

		if err := a.deleteRows(ctx, name, ids); err != nil {
			return apperr.Wrap(apperr.Internal, "archival.deleteRows", err)
		}

		total += len(batch)
		if len(batch) < a.cfg.BatchSize {
			break
		}
	}
	if total > 0 {
		log.Printf("📦 archival: moved %d rows from %s to cold storage", total, name)
	}
	return nil
}

// now returns the current UTC time, the stamp archival uses for the
// archive filename.
func now() time.Time { return time.Now().UTC() }

// fetchBatch scans up to BatchSize rows older than cutoff as generic
// column maps, alongside their primary-key ids for the subsequent
// delete. Columns scan as driver-native Go types; time.Time/[]byte
// values are stringified in stringify before JSON encoding so the
// archive format doesn't depend on the source column types.
func (a *Archiver) fetchBatch(ctx context.Context, table string, cutoff time.Time) ([]map[string]interface{}, []uint64, error) {
	rows, err := a.db.WithContext(ctx).Table(table).
		Where("created_at < ?", cutoff).
		Order("created_at ASC").
		Limit(a.cfg.BatchSize).
		Rows()
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, nil, err
	}

	var out []map[string]interface{}
	var ids []uint64
	for rows.Next() {
		vals := make([]interface{}, len(cols))
		ptrs := make([]interface{}, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, nil, err
		}

		rec := make(map[string]interface{}, len(cols))
		for i, c := range cols {
			rec[c] = stringify(vals[i])
		}
		out = append(out, rec)
		if id, ok := rec["id"]; ok {
			ids = append(ids, toUint64(id))
		}
	}
	return out, ids, rows.Err()
}

// stringify normalizes driver scan results (time.Time, []byte, sql.NullX)
// into archive-stable JSON-friendly values.
func stringify(v interface{}) interface{} {
	switch t := v.(type) {
	case time.Time:
		return t.UTC().Format(time.RFC3339Nano)
	case []byte:
		return string(t)
	default:
		return t
	}
}

func toUint64(v interface{}) uint64 {
	switch t := v.(type) {
	case int64:
		return uint64(t)
	case uint64:
		return t
	case int32:
		return uint64(t)
	default:
		return 0
	}
}

// deleteRows removes the archived rows by primary key. Tables without an
// "id" column (composite-key tables) are never targeted by the default
// collection list and this is a no-op if ids is empty.
func (a *Archiver) deleteRows(ctx context.Context, table string, ids []uint64) error {
	if len(ids) == 0 {
		return nil
	}
	return a.db.WithContext(ctx).Table(table).Where("id IN ?", ids).Delete(nil).Error
}

// writeBatch serializes batch as JSON lines, compresses the result with
// zstd, and appends it to {base}/{collection}/{YYYY-MM}.jsonl.zst,
// creating the file and directory if needed (spec §4.7 archive layout).
func (a *Archiver) writeBatch(collection string, stamp time.Time, batch []map[string]interface{}) error {
	dir := filepath.Join(a.cfg.BasePath, collection)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	path := filepath.Join(dir, stamp.Format("2006-01")+".jsonl.zst")
	return appendCompressed(path, batch, a.cfg.CompressionLevel)
}

// appendCompressed re-reads any existing archive for the month,
// decompresses it, appends the new batch's encoded lines, and rewrites
// the file compressed. zstd's stream API does not support appending to
// an already-finalized frame, so a month's file is always one frame.
func appendCompressed(path string, batch []map[string]interface{}, level int) error {
	var existing []byte
	if raw, err := os.ReadFile(path); err == nil {
		decoded, derr := zstd.Decompress(nil, raw)
		if derr != nil {
			return fmt.Errorf("archival: corrupt archive %s: %w", path, derr)
		}
		existing = decoded
	} else if !os.IsNotExist(err) {
		return err
	}

	for _, rec := range batch {
		line, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		existing = append(existing, line...)
		existing = append(existing, '\n')
	}

	compressed, err := zstd.CompressLevel(nil, existing, level)
	if err != nil {
		return err
	}
	return os.WriteFile(path, compressed, 0o644)
}

// cleanupOldArchives deletes archive files whose month stamp is older
// than MaxArchiveAge (spec §4.7 retention-of-archives policy).
func (a *Archiver) cleanupOldArchives(now time.Time) error {
	if a.cfg.MaxArchiveAge <= 0 {
		return nil
	}
	cutoff := now.Add(-a.cfg.MaxArchiveAge)

	return filepath.WalkDir(a.cfg.BasePath, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		stamp, ok := parseArchiveStamp(d.Name())
		if !ok || stamp.After(cutoff) {
			return nil
		}
		if rmErr := os.Remove(path); rmErr != nil {
			log.Printf("⚠️  archival: failed to remove expired archive %s: %v", path, rmErr)
			return nil
		}
		log.Printf("🗑️  archival: removed expired archive %s", path)
		return nil
	})
}

func parseArchiveStamp(name string) (time.Time, bool) {
	base := name
	for _, suffix := range []string{".jsonl.zst"} {
		if len(base) > len(suffix) && base[len(base)-len(suffix):] == suffix {
			base = base[:len(base)-len(suffix)]
		}
	}
	for _, layout := range []string{"2006-01-02", "2006-01"} {
		if t, err := time.Parse(layout, base); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
