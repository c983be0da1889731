package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lifeexplorer230/newsdigest/engine/domain"
)

// SaveRawMessage persists one ingested message. It returns ok=false
// without error if (channelID, externalID) already exists: a duplicate
// external id is an expected, non-error outcome the caller logs at info.
func (s *Storage) SaveRawMessage(ctx context.Context, channelID int64, externalID, text string, occurredAt time.Time, hasMedia bool) (id int64, ok bool, err error) {
	id, err = withRetry(ctx, s, func(ctx context.Context) (int64, error) {
		res, err := s.db.ExecContext(ctx, `
			INSERT OR IGNORE INTO raw_messages
				(channel_id, external_message_id, text, occurred_at, has_media)
			VALUES (?, ?, ?, ?, ?)`,
			channelID, externalID, text, occurredAt.UTC(), hasMedia)
		if err != nil {
			return 0, fmt.Errorf("storage: save raw message: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("storage: save raw message: rows affected: %w", err)
		}
		if affected == 0 {
			return 0, nil
		}
		return res.LastInsertId()
	})
	if err != nil {
		return 0, false, err
	}
	return id, id != 0, nil
}

// GetUnprocessed returns every unprocessed message whose occurred_at is
// within the last withinHours, newest first, joined with its channel's
// handle.
func (s *Storage) GetUnprocessed(ctx context.Context, withinHours int) ([]domain.RawMessage, error) {
	cutoff := time.Now().UTC().Add(-time.Duration(withinHours) * time.Hour)

	rows, err := s.db.QueryContext(ctx, `
		SELECT m.id, m.channel_id, c.handle, m.external_message_id, m.text,
		       m.occurred_at, m.has_media, m.processed, m.is_duplicate,
		       m.llm_score, m.rejection_reason, m.ingested_at
		FROM raw_messages m
		JOIN channels c ON m.channel_id = c.id
		WHERE m.processed = 0 AND m.occurred_at > ?
		ORDER BY m.occurred_at DESC`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("storage: get unprocessed: %w", err)
	}
	defer rows.Close()

	var out []domain.RawMessage
	for rows.Next() {
		var (
			m      domain.RawMessage
			score  sql.NullInt64
			reason sql.NullString
		)
		if err := rows.Scan(&m.ID, &m.ChannelID, &m.ChannelHandle, &m.ExternalMessageID, &m.Text,
			&m.OccurredAt, &m.HasMedia, &m.Processed, &m.IsDuplicate,
			&score, &reason, &m.IngestedAt); err != nil {
			return nil, fmt.Errorf("storage: scan raw message: %w", err)
		}
		if score.Valid {
			v := int(score.Int64)
			m.LLMScore = &v
		}
		if reason.Valid {
			tag := domain.RejectionTag(reason.String)
			m.RejectionReason = &tag
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// ProcessedUpdate is one row's outcome, applied atomically by
// MarkProcessedBatch.
type ProcessedUpdate struct {
	MessageID       int64
	IsDuplicate     bool
	LLMScore        *int
	RejectionReason *domain.RejectionTag
}

// MarkProcessedBatch applies every update in a single transaction. After
// it returns without error, every referenced message has processed=true.
func (s *Storage) MarkProcessedBatch(ctx context.Context, updates []ProcessedUpdate) error {
	if len(updates) == 0 {
		return nil
	}
	_, err := withRetry(ctx, s, func(ctx context.Context) (struct{}, error) {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return struct{}{}, fmt.Errorf("storage: mark processed batch: begin tx: %w", err)
		}
		defer tx.Rollback()

		stmt, err := tx.PrepareContext(ctx, `
			UPDATE raw_messages
			SET processed = 1, is_duplicate = ?, llm_score = ?, rejection_reason = ?
			WHERE id = ?`)
		if err != nil {
			return struct{}{}, fmt.Errorf("storage: mark processed batch: prepare: %w", err)
		}
		defer stmt.Close()

		for _, u := range updates {
			var score sql.NullInt64
			if u.LLMScore != nil {
				score = sql.NullInt64{Int64: int64(*u.LLMScore), Valid: true}
			}
			var reason sql.NullString
			if u.RejectionReason != nil {
				reason = sql.NullString{String: string(*u.RejectionReason), Valid: true}
			}
			if _, err := stmt.ExecContext(ctx, u.IsDuplicate, score, reason, u.MessageID); err != nil {
				return struct{}{}, fmt.Errorf("storage: mark processed batch: update %d: %w", u.MessageID, err)
			}
		}
		if err := tx.Commit(); err != nil {
			return struct{}{}, fmt.Errorf("storage: mark processed batch: commit: %w", err)
		}
		return struct{}{}, nil
	})
	return err
}
