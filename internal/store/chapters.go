package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("store: not found")

// UpsertChapter inserts or replaces a chapter. Re-ingesting a chapter resets
// its embedding_ready flag; the ingest pipeline sets it again once the new
// chunks are embedded.
func (s *Store) UpsertChapter(ctx context.Context, ch Chapter) error {
	const q = `
INSERT INTO chapters (chapter_id, title, content, embedding_ready, created_at)
VALUES (?, ?, ?, 0, ?)
ON CONFLICT(chapter_id) DO UPDATE SET
    title = excluded.title,
    content = excluded.content,
    embedding_ready = 0`
	if _, err := s.db.ExecContext(ctx, q, ch.ID, ch.Title, ch.Content, time.Now().Unix()); err != nil {
		return fmt.Errorf("store: upsert chapter %s: %w", ch.ID, err)
	}
	return nil
}

// Chapter returns a chapter by ID, or ErrNotFound.
func (s *Store) Chapter(ctx context.Context, id string) (Chapter, error) {
	const q = `SELECT chapter_id, title, content, embedding_ready, created_at FROM chapters WHERE chapter_id = ?`

	var ch Chapter
	var ready int
	var ts int64
	err := s.db.QueryRowContext(ctx, q, id).Scan(&ch.ID, &ch.Title, &ch.Content, &ready, &ts)
	if errors.Is(err, sql.ErrNoRows) {
		return Chapter{}, fmt.Errorf("store: chapter %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return Chapter{}, fmt.Errorf("store: chapter %s: %w", id, err)
	}
	ch.EmbeddingReady = ready != 0
	ch.CreatedAt = time.Unix(ts, 0)
	return ch, nil
}

// SetChapterEmbeddingReady flips the embedding_ready flag for a chapter.
func (s *Store) SetChapterEmbeddingReady(ctx context.Context, id string, ready bool) error {
	const q = `UPDATE chapters SET embedding_ready = ? WHERE chapter_id = ?`
	v := 0
	if ready {
		v = 1
	}
	res, err := s.db.ExecContext(ctx, q, v, id)
	if err != nil {
		return fmt.Errorf("store: set embedding ready %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("store: chapter %s: %w", id, ErrNotFound)
	}
	return nil
}
