package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/booksage-ai/booksage/internal/rag"
)

// fakeIndexAdmin implements indexAdmin for the operational handlers.
type fakeIndexAdmin struct {
	stats      rag.Stats
	statsErr   error
	clearErr   error
	clearCalls int
}

func (f *fakeIndexAdmin) Stats(context.Context) (rag.Stats, error) { return f.stats, f.statsErr }

func (f *fakeIndexAdmin) ClearCache(context.Context) error {
	f.clearCalls++
	return f.clearErr
}

// ---------------------------------------------------------------------------
// GET /api/stats
// ---------------------------------------------------------------------------

func TestHandleStats_ReportsCounters(t *testing.T) {
	t.Parallel()

	fa := &fakeAgent{result: okResult()}
	s := newTestServer(fa, nil)
	s.index = &fakeIndexAdmin{stats: rag.Stats{VectorsCount: 1200, IndexedVectorsCount: 1200, PointsCount: 1200}}

	req := httptest.NewRequest(http.MethodGet, "/api/stats", nil)
	w := httptest.NewRecorder()
	s.handleStats(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp statsResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.PointsCount != 1200 {
		t.Errorf("points_count = %d, want 1200", resp.PointsCount)
	}
}

func TestHandleStats_NoIndexConfigured(t *testing.T) {
	t.Parallel()

	s := newTestServer(&fakeAgent{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/stats", nil)
	w := httptest.NewRecorder()
	s.handleStats(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", w.Code)
	}
}

func TestHandleStats_StoreErrorHidesInternalDetail(t *testing.T) {
	t.Parallel()

	s := newTestServer(&fakeAgent{}, nil)
	s.index = &fakeIndexAdmin{statsErr: errors.New("qdrant: connection refused at 10.0.0.5:6334")}

	req := httptest.NewRequest(http.MethodGet, "/api/stats", nil)
	w := httptest.NewRecorder()
	s.handleStats(w, req)

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", w.Code)
	}
	var resp errorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Detail != "failed to read index stats" {
		t.Errorf("detail = %q, internal error must not leak", resp.Detail)
	}
}

// ---------------------------------------------------------------------------
// POST /api/cache/clear
// ---------------------------------------------------------------------------

func TestHandleCacheClear_PurgesCache(t *testing.T) {
	t.Parallel()

	idx := &fakeIndexAdmin{}
	s := newTestServer(&fakeAgent{}, nil)
	s.index = idx

	req := httptest.NewRequest(http.MethodPost, "/api/cache/clear", nil)
	w := httptest.NewRecorder()
	s.handleCacheClear(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if idx.clearCalls != 1 {
		t.Errorf("clear called %d times, want 1", idx.clearCalls)
	}
	var resp cacheClearResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Status != "cleared" {
		t.Errorf("status = %q", resp.Status)
	}
}

func TestHandleCacheClear_NoIndexConfigured(t *testing.T) {
	t.Parallel()

	s := newTestServer(&fakeAgent{}, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/cache/clear", nil)
	w := httptest.NewRecorder()
	s.handleCacheClear(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", w.Code)
	}
}

func TestHandleCacheClear_PurgeError(t *testing.T) {
	t.Parallel()

	s := newTestServer(&fakeAgent{}, nil)
	s.index = &fakeIndexAdmin{clearErr: errors.New("redis: broken pipe")}

	req := httptest.NewRequest(http.MethodPost, "/api/cache/clear", nil)
	w := httptest.NewRecorder()
	s.handleCacheClear(w, req)

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", w.Code)
	}
}
