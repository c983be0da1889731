package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/lifeexplorer230/newsdigest/engine/domain"
)

// AddChannel inserts handle/title, returning the new row's id. If handle
// already exists the existing id is returned instead: idempotent on
// handle, never a duplicate row.
func (s *Storage) AddChannel(ctx context.Context, handle, title string) (int64, error) {
	handle = strings.TrimPrefix(handle, "@")

	return withRetry(ctx, s, func(ctx context.Context) (int64, error) {
		res, err := s.db.ExecContext(ctx,
			`INSERT OR IGNORE INTO channels (handle, title) VALUES (?, ?)`,
			handle, title)
		if err != nil {
			return 0, fmt.Errorf("storage: add channel %s: %w", handle, err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("storage: add channel %s: rows affected: %w", handle, err)
		}
		if affected == 0 {
			return s.getChannelIDLocked(ctx, handle)
		}
		return res.LastInsertId()
	})
}

func (s *Storage) getChannelIDLocked(ctx context.Context, handle string) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, `SELECT id FROM channels WHERE handle = ?`, handle).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("storage: resolve channel id for %s: %w", handle, err)
	}
	return id, nil
}

// GetChannelID returns the channel id for handle, ok=false if no such
// channel is registered.
func (s *Storage) GetChannelID(ctx context.Context, handle string) (int64, bool, error) {
	handle = strings.TrimPrefix(handle, "@")
	var id int64
	err := s.db.QueryRowContext(ctx, `SELECT id FROM channels WHERE handle = ?`, handle).Scan(&id)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("storage: get channel id for %s: %w", handle, err)
	}
	return id, true, nil
}

// GetActiveChannels returns every channel currently marked active.
func (s *Storage) GetActiveChannels(ctx context.Context) ([]domain.Channel, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, handle, title, active, created_at FROM channels WHERE active = 1`)
	if err != nil {
		return nil, fmt.Errorf("storage: get active channels: %w", err)
	}
	defer rows.Close()

	var out []domain.Channel
	for rows.Next() {
		var c domain.Channel
		if err := rows.Scan(&c.ID, &c.Handle, &c.Title, &c.Active, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("storage: scan channel: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
