package storage

import (
	"context"
	"fmt"
	"time"
)

// Stats is a point-in-time count snapshot.
type Stats struct {
	ActiveChannels      int
	UnprocessedMessages int
	TotalMessages       int
	TotalPublished      int
}

// GetStats returns overall counts, unscoped by time.
func (s *Storage) GetStats(ctx context.Context) (Stats, error) {
	var st Stats
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM channels WHERE active = 1`).Scan(&st.ActiveChannels); err != nil {
		return Stats{}, fmt.Errorf("storage: get stats: active channels: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM raw_messages WHERE processed = 0`).Scan(&st.UnprocessedMessages); err != nil {
		return Stats{}, fmt.Errorf("storage: get stats: unprocessed messages: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM raw_messages`).Scan(&st.TotalMessages); err != nil {
		return Stats{}, fmt.Errorf("storage: get stats: total messages: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM published`).Scan(&st.TotalPublished); err != nil {
		return Stats{}, fmt.Errorf("storage: get stats: total published: %w", err)
	}
	return st, nil
}

// TodayStats is a day-boundary count snapshot, computed in the caller's
// chosen timezone.
type TodayStats struct {
	MessagesToday  int
	ProcessedToday int
	Unprocessed    int
	PublishedToday int
	ActiveChannels int
}

// GetTodayStats converts server-now into loc and buckets counts by local
// midnight in that zone, so "today" follows the configured timezone
// rather than the server clock.
func (s *Storage) GetTodayStats(ctx context.Context, loc *time.Location) (TodayStats, error) {
	if loc == nil {
		loc = time.UTC
	}
	now := time.Now().In(loc)
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc).UTC()
	dayEnd := dayStart.Add(24 * time.Hour)

	var st TodayStats
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM raw_messages WHERE occurred_at >= ? AND occurred_at < ?`,
		dayStart, dayEnd).Scan(&st.MessagesToday); err != nil {
		return TodayStats{}, fmt.Errorf("storage: get today stats: messages today: %w", err)
	}
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM raw_messages WHERE ingested_at >= ? AND ingested_at < ? AND processed = 1`,
		dayStart, dayEnd).Scan(&st.ProcessedToday); err != nil {
		return TodayStats{}, fmt.Errorf("storage: get today stats: processed today: %w", err)
	}
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM raw_messages WHERE processed = 0`).Scan(&st.Unprocessed); err != nil {
		return TodayStats{}, fmt.Errorf("storage: get today stats: unprocessed: %w", err)
	}
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM published WHERE published_at >= ? AND published_at < ?`,
		dayStart, dayEnd).Scan(&st.PublishedToday); err != nil {
		return TodayStats{}, fmt.Errorf("storage: get today stats: published today: %w", err)
	}
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM channels WHERE active = 1`).Scan(&st.ActiveChannels); err != nil {
		return TodayStats{}, fmt.Errorf("storage: get today stats: active channels: %w", err)
	}
	return st, nil
}

// CleanupResult reports how many rows a Cleanup pass removed.
type CleanupResult struct {
	RawRemoved       int64
	PublishedRemoved int64
}

// Cleanup deletes raw_messages older than rawRetentionDays and published
// rows older than publishedRetentionDays, then reclaims disk space.
func (s *Storage) Cleanup(ctx context.Context, rawRetentionDays, publishedRetentionDays int) (CleanupResult, error) {
	rawCutoff := time.Now().UTC().AddDate(0, 0, -rawRetentionDays)
	publishedCutoff := time.Now().UTC().AddDate(0, 0, -publishedRetentionDays)

	return withRetry(ctx, s, func(ctx context.Context) (CleanupResult, error) {
		var result CleanupResult

		res, err := s.db.ExecContext(ctx, `DELETE FROM raw_messages WHERE occurred_at < ?`, rawCutoff)
		if err != nil {
			return CleanupResult{}, fmt.Errorf("storage: cleanup: delete raw_messages: %w", err)
		}
		result.RawRemoved, err = res.RowsAffected()
		if err != nil {
			return CleanupResult{}, fmt.Errorf("storage: cleanup: raw_messages rows affected: %w", err)
		}

		res, err = s.db.ExecContext(ctx, `DELETE FROM published WHERE published_at < ?`, publishedCutoff)
		if err != nil {
			return CleanupResult{}, fmt.Errorf("storage: cleanup: delete published: %w", err)
		}
		result.PublishedRemoved, err = res.RowsAffected()
		if err != nil {
			return CleanupResult{}, fmt.Errorf("storage: cleanup: published rows affected: %w", err)
		}

		if _, err := s.db.ExecContext(ctx, `VACUUM`); err != nil {
			return CleanupResult{}, fmt.Errorf("storage: cleanup: vacuum: %w", err)
		}
		return result, nil
	})
}

// PoolStats reports the connection pool's current occupancy, mapped from
// database/sql's native DBStats rather than a hand-rolled counter set:
// database/sql already pools and tracks this, so there is nothing for
// this engine to duplicate.
type PoolStats struct {
	TotalConnections     int
	ActiveConnections    int
	AvailableConnections int
	WaitCount            int64
	WaitDuration         time.Duration
}

// Pool returns the current pool occupancy.
func (s *Storage) Pool() PoolStats {
	st := s.db.Stats()
	return PoolStats{
		TotalConnections:     st.OpenConnections,
		ActiveConnections:    st.InUse,
		AvailableConnections: st.Idle,
		WaitCount:            st.WaitCount,
		WaitDuration:         st.WaitDuration,
	}
}
