package server

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/booksage-ai/booksage/internal/agent"
)

// gatherCounter returns the value of the named counter with the given label,
// or -1 when it is absent from the registry.
func gatherCounter(t *testing.T, reg *prometheus.Registry, name, label, value string) float64 {
	t.Helper()

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, mf := range mfs {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if lp.GetName() == label && lp.GetValue() == value {
					return m.GetCounter().GetValue()
				}
			}
		}
	}
	return -1
}

func Test_Metrics_EndpointReturns200(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	newServerMetrics(reg)

	srv := httptest.NewServer(promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	t.Cleanup(srv.Close)

	req, err := http.NewRequestWithContext(t.Context(), http.MethodGet, srv.URL+"/metrics", nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("want 200, got %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Errorf("want text/plain content-type, got %q", ct)
	}
}

func Test_Metrics_ChatOutcomeCounted(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	s := newTestServer(&fakeAgent{result: okResult()}, nil)
	s.metrics = newServerMetrics(reg)

	w := postJSON(t, s.handleChat, `{"query":"what is osmosis"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("chat failed: %d", w.Code)
	}

	if got := gatherCounter(t, reg, "booksage_chat_requests_total", "outcome", "ok"); got != 1 {
		t.Errorf("ok counter = %v, want 1", got)
	}
}

func Test_Metrics_ChatErrorCounted(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	s := newTestServer(&fakeAgent{err: http.ErrHandlerTimeout}, nil)
	s.metrics = newServerMetrics(reg)

	w := postJSON(t, s.handleChat, `{"query":"what is osmosis"}`)
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", w.Code)
	}

	if got := gatherCounter(t, reg, "booksage_chat_requests_total", "outcome", "error"); got != 1 {
		t.Errorf("error counter = %v, want 1", got)
	}
}

func Test_Metrics_InstrumentCountsByHandler(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	s := newTestServer(&fakeAgent{health: agent.Health{Retriever: true, Generator: true}}, nil)
	s.metrics = newServerMetrics(reg)

	h := s.instrument("health", http.HandlerFunc(s.handleHealth))
	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	h.ServeHTTP(httptest.NewRecorder(), req)

	if got := gatherCounter(t, reg, "booksage_http_requests_total", "handler", "health"); got != 1 {
		t.Errorf("handler counter = %v, want 1", got)
	}
}

func Test_Metrics_ActiveStreamsReturnsToZero(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	s := newTestServer(&fakeAgent{streamTokens: []string{"tok"}}, nil)
	s.metrics = newServerMetrics(reg)

	w := postJSON(t, s.handleChat, `{"query":"q","stream":true}`)
	if !strings.Contains(w.Body.String(), "event: done") {
		t.Fatalf("stream did not complete: %s", w.Body.String())
	}

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, mf := range mfs {
		if mf.GetName() == "booksage_chat_active_streams" {
			if v := mf.GetMetric()[0].GetGauge().GetValue(); v != 0 {
				t.Errorf("active streams after completion = %v, want 0", v)
			}
			return
		}
	}
	t.Error("booksage_chat_active_streams not found in gathered metrics")
}
