package storage

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
)

// embeddingMagic marks the safe, self-describing blob format: 4-byte
// magic, uint32 vector length, then that many little-endian float32
// values. encoding/gob (or any codec able to reconstruct arbitrary Go
// values) is never used here; a blob that does not start with this
// magic is refused rather than guessed at.
var embeddingMagic = [4]byte{'F', '3', '2', 1}

func encodeEmbedding(v []float32) []byte {
	buf := make([]byte, 0, 4+4+4*len(v))
	w := bytes.NewBuffer(buf)
	w.Write(embeddingMagic[:])
	binary.Write(w, binary.LittleEndian, uint32(len(v)))
	binary.Write(w, binary.LittleEndian, v)
	return w.Bytes()
}

// decodeEmbedding reads a blob written by encodeEmbedding. It refuses
// anything that doesn't start with the safe-format magic rather than
// attempting to interpret it as one, so a pickled or otherwise opaque
// legacy blob can never be deserialized into arbitrary memory.
func decodeEmbedding(b []byte) ([]float32, error) {
	if len(b) < 8 || !bytes.Equal(b[:4], embeddingMagic[:]) {
		return nil, fmt.Errorf("storage: embedding blob missing safe-format header")
	}
	n := binary.LittleEndian.Uint32(b[4:8])
	want := 8 + 4*int(n)
	if len(b) != want {
		return nil, fmt.Errorf("storage: embedding blob length mismatch: have %d want %d", len(b), want)
	}
	v := make([]float32, n)
	r := bytes.NewReader(b[8:])
	if err := binary.Read(r, binary.LittleEndian, v); err != nil {
		return nil, fmt.Errorf("storage: decode embedding: %w", err)
	}
	return v, nil
}

// isLegacyBlob reports whether b looks like a pre-migration blob: not in
// the safe format, but a plain little-endian float32 dump with no
// header (the one legacy shape this engine has ever produced). Anything
// else (including a genuine pickle stream) is left alone and reported
// by MigrateLegacyEmbeddings rather than guessed at.
func isLegacyBlob(b []byte) bool {
	if len(b) >= 4 && bytes.Equal(b[:4], embeddingMagic[:]) {
		return false
	}
	return len(b)%4 == 0 && len(b) > 0
}

func decodeLegacyBlob(b []byte) ([]float32, error) {
	v := make([]float32, len(b)/4)
	if err := binary.Read(bytes.NewReader(b), binary.LittleEndian, v); err != nil {
		return nil, fmt.Errorf("storage: decode legacy embedding: %w", err)
	}
	return v, nil
}

// MigrateLegacyEmbeddings re-serializes every published.embedding blob
// that is not already in the safe format into the safe format. It is
// idempotent: a second run finds nothing left to migrate.
func (s *Storage) MigrateLegacyEmbeddings(ctx context.Context) (int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, embedding FROM published`)
	if err != nil {
		return 0, fmt.Errorf("storage: migrate legacy embeddings: query: %w", err)
	}

	type pending struct {
		id  int64
		vec []float32
	}
	var toMigrate []pending
	for rows.Next() {
		var id int64
		var blob []byte
		if err := rows.Scan(&id, &blob); err != nil {
			rows.Close()
			return 0, fmt.Errorf("storage: migrate legacy embeddings: scan: %w", err)
		}
		if !isLegacyBlob(blob) {
			continue
		}
		vec, err := decodeLegacyBlob(blob)
		if err != nil {
			// Not a blob this engine knows how to migrate; leave it for
			// operator attention rather than failing the whole pass.
			continue
		}
		toMigrate = append(toMigrate, pending{id: id, vec: vec})
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return 0, fmt.Errorf("storage: migrate legacy embeddings: rows: %w", err)
	}
	rows.Close()

	for _, p := range toMigrate {
		_, err := withRetry(ctx, s, func(ctx context.Context) (struct{}, error) {
			_, err := s.db.ExecContext(ctx, `UPDATE published SET embedding = ? WHERE id = ?`,
				encodeEmbedding(p.vec), p.id)
			return struct{}{}, err
		})
		if err != nil {
			return 0, fmt.Errorf("storage: migrate legacy embeddings: update id %d: %w", p.id, err)
		}
	}
	return len(toMigrate), nil
}
