// Package storage is the sole owner of all persisted rows: channels, raw
// ingested messages, and published digest items. It wraps a single sqlite
// file opened through database/sql, pooled natively by the standard
// library rather than a hand-rolled connection queue, tuned for a
// single-writer listener plus a periodic bulk-read processor: WAL
// journaling, a bounded busy-wait timeout, normal fsync, an in-memory
// temp store, and a multi-megabyte page cache.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"math/rand"
	"net/url"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/lifeexplorer230/newsdigest/engine/domain"
	"github.com/lifeexplorer230/newsdigest/pkg/fn"
)

// Options configures the connection pool and retry policy.
type Options struct {
	// PoolSize is clamped to [1, 10]; zero selects the default of 5.
	PoolSize int
	// BusyTimeout is the SQLite busy-wait timeout applied to every
	// connection. Zero selects 30s.
	BusyTimeout time.Duration
	// CacheSizeKB is the per-connection page cache size in KB, expressed
	// to SQLite as a negative PRAGMA value. Zero selects 64000 (64MB).
	CacheSizeKB int
	// Retry governs the exponential backoff applied to write operations
	// that collide with another writer.
	Retry fn.RetryOpts
}

func (o Options) withDefaults() Options {
	if o.PoolSize <= 0 {
		o.PoolSize = 5
	}
	if o.PoolSize > 10 {
		o.PoolSize = 10
	}
	if o.BusyTimeout <= 0 {
		o.BusyTimeout = 30 * time.Second
	}
	if o.CacheSizeKB <= 0 {
		o.CacheSizeKB = 64000
	}
	if o.Retry.MaxAttempts <= 0 {
		o.Retry = fn.RetryOpts{
			MaxAttempts: 5,
			InitialWait: 500 * time.Millisecond,
			MaxWait:     5 * time.Second,
			Jitter:      true,
		}
	}
	return o
}

// Storage is the embedded relational store. All methods are safe for
// concurrent use; database/sql pools the underlying connections.
type Storage struct {
	db    *sql.DB
	retry fn.RetryOpts
}

// Open creates the database file's parent directory if needed, opens the
// pool against path with the WAL/busy-timeout/synchronous/temp-store/
// cache-size pragmas applied per connection, and runs the schema
// migration. Failure semantics: a pool exhausted beyond BusyTimeout
// surfaces as a domain.TaggedError tagged storage_busy.
func Open(path string, opts Options) (*Storage, error) {
	opts = opts.withDefaults()

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("storage: create data dir %s: %w", dir, err)
		}
	}

	dsn := buildDSN(path, opts)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("storage: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(opts.PoolSize)
	db.SetMaxIdleConns(opts.PoolSize)
	db.SetConnMaxLifetime(0)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage: ping %s: %w", path, err)
	}

	s := &Storage{db: db, retry: opts.Retry}
	if err := s.migrateSchema(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func buildDSN(path string, opts Options) string {
	q := url.Values{}
	q.Add("_pragma", fmt.Sprintf("busy_timeout=%d", opts.BusyTimeout.Milliseconds()))
	q.Add("_pragma", "journal_mode=WAL")
	q.Add("_pragma", "synchronous=NORMAL")
	q.Add("_pragma", "temp_store=MEMORY")
	q.Add("_pragma", fmt.Sprintf("cache_size=-%d", opts.CacheSizeKB))
	return fmt.Sprintf("file:%s?%s", path, q.Encode())
}

// Close closes the connection pool.
func (s *Storage) Close() error {
	return s.db.Close()
}

// withRetry retries a write operation on sqlite busy/locked errors with
// exponential backoff. A non-busy error returns immediately instead of
// exhausting the attempt budget; contention is the only condition worth
// waiting out.
func withRetry[T any](ctx context.Context, s *Storage, f func(context.Context) (T, error)) (T, error) {
	opts := s.retry
	wait := opts.InitialWait

	var zero T
	var lastErr error
	for attempt := 0; attempt < opts.MaxAttempts; attempt++ {
		v, err := f(ctx)
		if err == nil {
			return v, nil
		}
		if !isBusyErr(err) {
			return zero, err
		}
		lastErr = err
		if attempt == opts.MaxAttempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		default:
		}
		sleepDur := wait
		if opts.Jitter {
			sleepDur = time.Duration(float64(wait) * (0.5 + rand.Float64()))
		}
		if sleepDur > opts.MaxWait && opts.MaxWait > 0 {
			sleepDur = opts.MaxWait
		}
		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(sleepDur):
		}
		wait *= 2
		if opts.MaxWait > 0 && wait > opts.MaxWait {
			wait = opts.MaxWait
		}
	}
	return zero, domain.NewTaggedError(domain.TagStorageBusy, "exhausted retries", lastErr)
}

// isBusyErr reports whether err looks like a SQLite SQLITE_BUSY or
// SQLITE_LOCKED condition. modernc.org/sqlite surfaces these as plain
// errors whose text names the condition rather than a typed sentinel.
func isBusyErr(err error) bool {
	msg := err.Error()
	return containsAny(msg, "database is locked", "SQLITE_BUSY", "SQLITE_LOCKED", "busy")
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if indexOf(s, sub) >= 0 {
			return true
		}
	}
	return false
}

func indexOf(s, sub string) int {
	n, m := len(s), len(sub)
	if m == 0 {
		return 0
	}
	for i := 0; i+m <= n; i++ {
		if s[i:i+m] == sub {
			return i
		}
	}
	return -1
}
