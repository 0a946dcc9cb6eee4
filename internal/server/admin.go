package server

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/booksage-ai/booksage/internal/logging"
	"github.com/booksage-ai/booksage/internal/rag"
)

// indexAdmin is the slice of *rag.Retriever the operational handlers call.
type indexAdmin interface {
	Stats(ctx context.Context) (rag.Stats, error)
	ClearCache(ctx context.Context) error
}

// statsResponse is the JSON body returned by GET /api/stats.
type statsResponse struct {
	rag.Stats
	RequestID string `json:"request_id"`
}

// handleStats handles GET /api/stats. It reports collection-level counters
// from the vector index so operators can confirm ingestion landed.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if s.index == nil {
		s.writeError(w, r, http.StatusServiceUnavailable, "retrieval index is not configured")
		return
	}

	stats, err := s.index.Stats(r.Context())
	if err != nil {
		logging.FromContext(r.Context()).Error("stats failed", slog.Any("error", err))
		s.writeError(w, r, http.StatusInternalServerError, "failed to read index stats")
		return
	}

	s.writeJSON(w, statsResponse{Stats: stats, RequestID: requestIDFrom(r.Context())})
}

// cacheClearResponse is the JSON body returned by POST /api/cache/clear.
type cacheClearResponse struct {
	Status    string `json:"status"`
	RequestID string `json:"request_id"`
}

// handleCacheClear handles POST /api/cache/clear. It drops every cached
// search result, forcing the next queries back to the vector index. Used
// after re-ingesting chapters so stale answers do not survive the update.
func (s *Server) handleCacheClear(w http.ResponseWriter, r *http.Request) {
	if s.index == nil {
		s.writeError(w, r, http.StatusServiceUnavailable, "retrieval index is not configured")
		return
	}

	if err := s.index.ClearCache(r.Context()); err != nil {
		logging.FromContext(r.Context()).Error("cache clear failed", slog.Any("error", err))
		s.writeError(w, r, http.StatusInternalServerError, "failed to clear cache")
		return
	}

	logging.FromContext(r.Context()).Info("result cache cleared")
	s.writeJSON(w, cacheClearResponse{Status: "cleared", RequestID: requestIDFrom(r.Context())})
}
