package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// SavePublished persists one published digest item with its embedding in
// the safe blob format, returning the new row's id.
func (s *Storage) SavePublished(ctx context.Context, text string, embedding []float32, sourceMessageID *int64, sourceChannelID int64) (int64, error) {
	return withRetry(ctx, s, func(ctx context.Context) (int64, error) {
		res, err := s.db.ExecContext(ctx, `
			INSERT INTO published (text, embedding, source_message_id, source_channel_id)
			VALUES (?, ?, ?, ?)`,
			text, encodeEmbedding(embedding), sourceMessageID, sourceChannelID)
		if err != nil {
			return 0, fmt.Errorf("storage: save published: %w", err)
		}
		return res.LastInsertId()
	})
}

// PublishedEmbedding is one row of a GetPublishedEmbeddings result.
type PublishedEmbedding struct {
	ID        int64
	Embedding []float32
}

// GetPublishedEmbeddings returns every published row's (id, embedding)
// published within the last withinDays. A withinDays of zero or less
// means unbounded.
func (s *Storage) GetPublishedEmbeddings(ctx context.Context, withinDays int) ([]PublishedEmbedding, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if withinDays > 0 {
		cutoff := time.Now().UTC().AddDate(0, 0, -withinDays)
		rows, err = s.db.QueryContext(ctx,
			`SELECT id, embedding FROM published WHERE published_at > ?`, cutoff)
	} else {
		rows, err = s.db.QueryContext(ctx, `SELECT id, embedding FROM published`)
	}
	if err != nil {
		return nil, fmt.Errorf("storage: get published embeddings: %w", err)
	}
	defer rows.Close()

	var out []PublishedEmbedding
	for rows.Next() {
		var id int64
		var blob []byte
		if err := rows.Scan(&id, &blob); err != nil {
			return nil, fmt.Errorf("storage: scan published embedding: %w", err)
		}
		vec, err := decodeEmbedding(blob)
		if err != nil {
			return nil, fmt.Errorf("storage: row %d: %w", id, err)
		}
		out = append(out, PublishedEmbedding{ID: id, Embedding: vec})
	}
	return out, rows.Err()
}
