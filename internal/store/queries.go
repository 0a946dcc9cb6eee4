package store

import (
	"context"
	"fmt"
	"time"
)

// RecordQuery logs an answered student query. Callers treat failures as
// non-fatal — the answer has already been produced.
func (s *Store) RecordQuery(ctx context.Context, rec QueryRecord) error {
	const q = `INSERT INTO user_queries (query, sources_count, latency_ms, model, created_at) VALUES (?, ?, ?, ?, ?)`
	if _, err := s.db.ExecContext(ctx, q, rec.Query, rec.SourcesCount, rec.LatencyMS, rec.Model, time.Now().Unix()); err != nil {
		return fmt.Errorf("store: record query: %w", err)
	}
	return nil
}

// RecentQueries returns the n most recently logged queries, newest first.
func (s *Store) RecentQueries(ctx context.Context, n int) ([]QueryRecord, error) {
	const q = `
SELECT id, query, sources_count, latency_ms, model, created_at
FROM   user_queries
ORDER  BY created_at DESC, id DESC
LIMIT  ?`

	rows, err := s.db.QueryContext(ctx, q, n)
	if err != nil {
		return nil, fmt.Errorf("store: recent queries: %w", err)
	}
	defer rows.Close()

	var recs []QueryRecord
	for rows.Next() {
		var r QueryRecord
		var ts int64
		if err := rows.Scan(&r.ID, &r.Query, &r.SourcesCount, &r.LatencyMS, &r.Model, &ts); err != nil {
			return nil, fmt.Errorf("store: recent queries scan: %w", err)
		}
		r.CreatedAt = time.Unix(ts, 0)
		recs = append(recs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: recent queries rows: %w", err)
	}
	return recs, nil
}
