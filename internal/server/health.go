package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/booksage-ai/booksage/internal/logging"
)

// probeTimeout bounds each individual component probe during a health or
// readiness check so the endpoints stay responsive when a dependency hangs.
const probeTimeout = 5 * time.Second

// healthResponse is the JSON body returned by GET /api/health.
type healthResponse struct {
	// Status is "ok" when every component probe passed, "degraded" otherwise.
	Status string `json:"status"`
	// Retriever reports whether the embedding and vector search path is usable.
	Retriever bool `json:"retriever"`
	// Generator reports whether the chat model answered a minimal probe.
	Generator bool `json:"generator"`
	// Version is the build version of the running server.
	Version string `json:"version"`
	// RequestID ties the response to the server logs.
	RequestID string `json:"request_id"`
}

// handleHealth handles GET /api/health. It probes the answer pipeline's two
// components and reports a composite status. Always 200; a degraded pipeline
// is an operational state, not an HTTP failure.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	probeCtx, cancel := context.WithTimeout(r.Context(), probeTimeout)
	h := s.agent.HealthCheck(probeCtx)
	cancel()

	status := "ok"
	if !h.Retriever || !h.Generator {
		status = "degraded"
	}

	s.writeJSON(w, healthResponse{
		Status:    status,
		Retriever: h.Retriever,
		Generator: h.Generator,
		Version:   s.cfg.Version,
		RequestID: requestIDFrom(r.Context()),
	})
}

// readyCheck holds the per-dependency result of a readiness probe.
type readyCheck struct {
	Name string `json:"name"`
	OK   bool   `json:"ok"`
	// Error contains the failure reason when OK is false.
	Error string `json:"error,omitempty"`
}

// readyResponse is the JSON body returned by GET /api/ready.
type readyResponse struct {
	Ready  bool         `json:"ready"`
	Checks []readyCheck `json:"checks"`
}

// handleReady handles GET /api/ready. It probes each registered Pinger with
// a short timeout and returns 200 when all dependencies are reachable, 503
// when any probe fails. Unlike /api/health this reflects raw dependency
// reachability, not pipeline behavior.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())

	resp := readyResponse{Ready: true, Checks: []readyCheck{}}

	for _, p := range s.pingers {
		probeCtx, cancel := context.WithTimeout(r.Context(), probeTimeout)
		err := p.Ping(probeCtx)
		cancel()

		check := readyCheck{Name: p.Name(), OK: err == nil}
		if err != nil {
			check.Error = err.Error()
			resp.Ready = false
			log.Warn("readiness probe failed",
				slog.String("dependency", p.Name()),
				slog.Any("error", err),
			)
		}
		resp.Checks = append(resp.Checks, check)
	}

	status := http.StatusOK
	if !resp.Ready {
		status = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		log.Error("ready encode error", slog.Any("error", err))
	}
}
