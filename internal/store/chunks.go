package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// CreateChunks inserts a batch of chunks in one transaction, replacing any
// existing chunks for the same chapter. Delete-then-insert keeps re-ingestion
// idempotent without tracking per-chunk diffs.
func (s *Store) CreateChunks(ctx context.Context, chapterID string, chunks []ContentChunk) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: create chunks begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if _, err := tx.ExecContext(ctx, `DELETE FROM content_chunks WHERE chapter_id = ?`, chapterID); err != nil {
		return fmt.Errorf("store: create chunks clear %s: %w", chapterID, err)
	}

	const q = `
INSERT INTO content_chunks
    (chunk_id, chapter_id, content, char_offset, length, source_url, text_hash, embedding_vector_id, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	now := time.Now().Unix()
	for _, c := range chunks {
		if _, err := tx.ExecContext(ctx, q,
			c.ID, chapterID, c.Content, c.CharOffset, c.Length,
			c.SourceURL, c.TextHash, c.EmbeddingVectorID, now,
		); err != nil {
			return fmt.Errorf("store: create chunk %s: %w", c.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: create chunks commit: %w", err)
	}
	return nil
}

// scanChunk reads one content_chunks row.
func scanChunk(row interface{ Scan(...any) error }) (ContentChunk, error) {
	var c ContentChunk
	var ts int64
	err := row.Scan(&c.ID, &c.ChapterID, &c.Content, &c.CharOffset, &c.Length,
		&c.SourceURL, &c.TextHash, &c.EmbeddingVectorID, &ts)
	if err != nil {
		return ContentChunk{}, err
	}
	c.CreatedAt = time.Unix(ts, 0)
	return c, nil
}

const chunkColumns = `chunk_id, chapter_id, content, char_offset, length, source_url, text_hash, embedding_vector_id, created_at`

// Chunk returns a single chunk by ID, or ErrNotFound.
func (s *Store) Chunk(ctx context.Context, id string) (ContentChunk, error) {
	q := `SELECT ` + chunkColumns + ` FROM content_chunks WHERE chunk_id = ?`
	c, err := scanChunk(s.db.QueryRowContext(ctx, q, id))
	if errors.Is(err, sql.ErrNoRows) {
		return ContentChunk{}, fmt.Errorf("store: chunk %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return ContentChunk{}, fmt.Errorf("store: chunk %s: %w", id, err)
	}
	return c, nil
}

// ChunksByChapter returns all chunks for a chapter ordered by text position.
func (s *Store) ChunksByChapter(ctx context.Context, chapterID string) ([]ContentChunk, error) {
	q := `SELECT ` + chunkColumns + ` FROM content_chunks WHERE chapter_id = ? ORDER BY char_offset`
	rows, err := s.db.QueryContext(ctx, q, chapterID)
	if err != nil {
		return nil, fmt.Errorf("store: chunks by chapter %s: %w", chapterID, err)
	}
	defer rows.Close()

	var chunks []ContentChunk
	for rows.Next() {
		c, err := scanChunk(rows)
		if err != nil {
			return nil, fmt.Errorf("store: chunks by chapter scan: %w", err)
		}
		chunks = append(chunks, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: chunks by chapter rows: %w", err)
	}
	return chunks, nil
}

// SetChunkEmbeddingID back-fills the vector index point ID for a chunk after
// a successful embed+upsert.
func (s *Store) SetChunkEmbeddingID(ctx context.Context, chunkID, vectorID string) error {
	const q = `UPDATE content_chunks SET embedding_vector_id = ? WHERE chunk_id = ?`
	res, err := s.db.ExecContext(ctx, q, vectorID, chunkID)
	if err != nil {
		return fmt.Errorf("store: set embedding id %s: %w", chunkID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("store: chunk %s: %w", chunkID, ErrNotFound)
	}
	return nil
}

// DeleteChunksByChapter removes every chunk of a chapter and returns the
// IDs that were deleted so callers can remove the matching vectors.
func (s *Store) DeleteChunksByChapter(ctx context.Context, chapterID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT chunk_id FROM content_chunks WHERE chapter_id = ?`, chapterID)
	if err != nil {
		return nil, fmt.Errorf("store: delete chunks list %s: %w", chapterID, err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("store: delete chunks scan: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: delete chunks rows: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, `DELETE FROM content_chunks WHERE chapter_id = ?`, chapterID); err != nil {
		return nil, fmt.Errorf("store: delete chunks %s: %w", chapterID, err)
	}
	return ids, nil
}
