// Package store provides the SQLite-backed relational layer: textbook
// chapters, their content chunks, and a best-effort log of answered student
// queries. The vector index holds the embeddings; this store holds the
// canonical text and ingestion bookkeeping.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // register "sqlite" driver
)

// Chapter is one unit of textbook content as submitted for ingestion.
type Chapter struct {
	// ID is the caller-assigned chapter identifier (e.g. "ch03-cells").
	ID string
	// Title is the human-readable chapter title.
	Title string
	// Content is the full chapter text.
	Content string
	// EmbeddingReady is true once every chunk of the chapter has been
	// embedded and written to the vector index.
	EmbeddingReady bool
	// CreatedAt is when the chapter row was first written.
	CreatedAt time.Time
}

// ContentChunk is one retrievable slice of a chapter.
type ContentChunk struct {
	// ID is the deterministic chunk identifier (<chapter>_chunk_<n>).
	ID string
	// ChapterID references the owning chapter.
	ChapterID string
	// Content is the chunk text.
	Content string
	// CharOffset is the chunk's starting offset in the original chapter text.
	CharOffset int
	// Length is len(Content).
	Length int
	// SourceURL is the citation target returned with answers.
	SourceURL string
	// TextHash is the sha256 hex digest of Content, used to detect
	// unchanged chunks on re-ingestion.
	TextHash string
	// EmbeddingVectorID is the vector index point ID once the chunk has
	// been embedded; empty until then.
	EmbeddingVectorID string
	// CreatedAt is when the chunk row was written.
	CreatedAt time.Time
}

// QueryRecord is one answered student query, logged best-effort.
type QueryRecord struct {
	ID           int64
	Query        string
	SourcesCount int
	LatencyMS    int64
	Model        string
	CreatedAt    time.Time
}

// Store is the SQLite persistence layer. Safe for concurrent use.
type Store struct {
	db *sql.DB
}

// DefaultDBPath returns the default database path, ~/.booksage/booksage.db,
// creating the directory if needed.
func DefaultDBPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("store: could not determine home directory: %w", err)
	}
	dir := filepath.Join(home, ".booksage")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("store: could not create %s: %w", dir, err)
	}
	return filepath.Join(dir, "booksage.db"), nil
}

// Open opens (or creates) a Store at the given path and runs the schema
// migration. Use ":memory:" for an in-memory database in tests.
func Open(path string) (*Store, error) {
	// WAL mode improves concurrent read performance and is safe for single-host use.
	dsn := path + "?_journal_mode=WAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	// Limit to a single writer connection to avoid SQLITE_BUSY under concurrent writes.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// migrate creates the schema if it does not already exist.
func (s *Store) migrate() error {
	const ddl = `
CREATE TABLE IF NOT EXISTS chapters (
    chapter_id      TEXT    PRIMARY KEY,
    title           TEXT    NOT NULL,
    content         TEXT    NOT NULL,
    embedding_ready INTEGER NOT NULL DEFAULT 0,
    created_at      INTEGER NOT NULL  -- Unix timestamp (seconds)
);

CREATE TABLE IF NOT EXISTS content_chunks (
    chunk_id            TEXT    PRIMARY KEY,
    chapter_id          TEXT    NOT NULL REFERENCES chapters(chapter_id),
    content             TEXT    NOT NULL,
    char_offset         INTEGER NOT NULL,
    length              INTEGER NOT NULL,
    source_url          TEXT    NOT NULL,
    text_hash           TEXT    NOT NULL,
    embedding_vector_id TEXT    NOT NULL DEFAULT '',
    created_at          INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_content_chunks_chapter
    ON content_chunks (chapter_id, char_offset);

CREATE TABLE IF NOT EXISTS user_queries (
    id            INTEGER PRIMARY KEY AUTOINCREMENT,
    query         TEXT    NOT NULL,
    sources_count INTEGER NOT NULL,
    latency_ms    INTEGER NOT NULL,
    model         TEXT    NOT NULL,
    created_at    INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_user_queries_created
    ON user_queries (created_at);
`
	if _, err := s.db.Exec(ddl); err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}
	return nil
}

// Close releases the database connection pool.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("store: close: %w", err)
	}
	return nil
}
