package server

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/booksage-ai/booksage/internal/logging"
)

func TestRequestLogger_GeneratesRequestID(t *testing.T) {
	t.Parallel()

	var seen string
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = requestIDFrom(r.Context())
	})
	h := requestLogger(slog.New(slog.DiscardHandler), inner)

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if seen == "" || seen == "unknown" {
		t.Fatalf("handler saw request id %q", seen)
	}
	if echoed := w.Header().Get("X-Request-ID"); echoed != seen {
		t.Errorf("response header %q does not match context id %q", echoed, seen)
	}
}

func TestRequestLogger_HonoursCallerRequestID(t *testing.T) {
	t.Parallel()

	var seen string
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = requestIDFrom(r.Context())
	})
	h := requestLogger(slog.New(slog.DiscardHandler), inner)

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.Header.Set("X-Request-ID", "caller-supplied-id")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if seen != "caller-supplied-id" {
		t.Errorf("request id = %q, want caller's", seen)
	}
	if echoed := w.Header().Get("X-Request-ID"); echoed != "caller-supplied-id" {
		t.Errorf("echoed id = %q", echoed)
	}
}

func TestRequestLogger_InjectsContextLogger(t *testing.T) {
	t.Parallel()

	base := slog.New(slog.DiscardHandler)
	var got *slog.Logger
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = logging.FromContext(r.Context())
	})
	h := requestLogger(base, inner)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	h.ServeHTTP(httptest.NewRecorder(), req)

	if got == nil || got == slog.Default() {
		t.Error("context logger not injected")
	}
}

func TestRequestIDFrom_OutsideMiddleware(t *testing.T) {
	t.Parallel()

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if id := requestIDFrom(req.Context()); id != "unknown" {
		t.Errorf("id = %q, want unknown", id)
	}
}

func TestResponseWriter_CapturesStatus(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	rw := &responseWriter{ResponseWriter: rec, status: http.StatusOK}

	rw.WriteHeader(http.StatusTeapot)

	if rw.status != http.StatusTeapot {
		t.Errorf("captured status = %d", rw.status)
	}
	if rec.Code != http.StatusTeapot {
		t.Errorf("delegated status = %d", rec.Code)
	}
}
