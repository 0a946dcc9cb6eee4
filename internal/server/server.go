// Package server implements the HTTP server that exposes the BookSage
// answer and ingestion pipelines as a REST/SSE API.
// The server is started by the `booksage serve` CLI command.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/booksage-ai/booksage/internal/agent"
	"github.com/booksage-ai/booksage/internal/logging"
)

// New constructs a Server from the answer agent, the ingestion pipeline,
// the retrieval index, and the config. pipeline and index may be nil; the
// corresponding routes then return 503.
func New(ragAgent *agent.RAGAgent, pipeline ingester, index indexAdmin, cfg *Config) (*Server, error) {
	if ragAgent == nil {
		return nil, fmt.Errorf("server: agent must not be nil")
	}
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == 0 {
		cfg.Port = 8000
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 30 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 5 * time.Minute
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	if cfg.RateLimit == 0 {
		cfg.RateLimit = defaultRateLimit
	}
	if cfg.RateBurst == 0 {
		cfg.RateBurst = defaultRateBurst
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Registry == nil {
		cfg.Registry = prometheus.NewRegistry()
	}

	s := &Server{
		agent:    ragAgent,
		pipeline: pipeline,
		index:    index,
		cfg:      cfg,
		log:      cfg.Logger,
		pingers:  cfg.Pingers,
		metrics:  newServerMetrics(cfg.Registry),
	}

	rl, stop := newRateLimiter(cfg.RateLimit, cfg.RateBurst, cfg.Logger)
	s.stopRL = stop

	if cfg.APIKey == "" {
		cfg.Logger.Warn("api authentication disabled: BOOKSAGE_API_KEY not set")
	}

	mux := http.NewServeMux()
	for _, route := range []struct {
		pattern string
		name    string
		handler http.HandlerFunc
		limited bool
	}{
		{"POST /api/chat", "chat", s.handleChat, true},
		{"POST /api/query", "query", s.handleQuery, true},
		{"POST /api/select-query", "select_query", s.handleSelectQuery, true},
		{"POST /api/ingest", "ingest", s.handleIngest, false},
		{"POST /api/embed", "embed", s.handleEmbed, false},
		{"GET /api/stats", "stats", s.handleStats, false},
		{"POST /api/cache/clear", "cache_clear", s.handleCacheClear, false},
	} {
		var h http.Handler = route.handler
		if route.limited {
			h = rl.middleware(h)
		}
		h = authMiddleware(cfg.APIKey, h)
		mux.Handle(route.pattern, s.instrument(route.name, h))
	}
	mux.Handle("GET /api/health", s.instrument("health", http.HandlerFunc(s.handleHealth)))
	mux.Handle("GET /api/ready", s.instrument("ready", http.HandlerFunc(s.handleReady)))
	mux.Handle("GET /metrics", promhttp.HandlerFor(cfg.Registry, promhttp.HandlerOpts{}))

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      requestLogger(cfg.Logger, mux),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return s, nil
}

// Start begins listening and serving HTTP requests. It blocks until the
// context is cancelled, then performs a graceful shutdown.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		s.log.Info("server listening", slog.String("addr", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		s.stopRL()
		return fmt.Errorf("server: listen error: %w", err)
	case <-ctx.Done():
		s.stopRL()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server: graceful shutdown failed: %w", err)
		}
		return nil
	}
}

// decode reads the JSON body into dst. A false return means a 422 has
// already been written.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		s.writeError(w, r, http.StatusUnprocessableEntity, "invalid request body")
		return false
	}
	return true
}

// writeError writes the uniform JSON error body. detail must never contain
// internal error text for 5xx responses.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, status int, detail string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorResponse{
		Detail:    detail,
		RequestID: requestIDFrom(r.Context()),
	})
}

// writeJSON writes a 200 JSON response.
func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error("response encode error", slog.Any("error", err))
	}
}

// handleChat handles POST /api/chat. The default response is a single JSON
// envelope; stream=true switches to an SSE token stream terminated by a
// "done" event.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if !s.decode(w, r, &req) {
		return
	}
	if err := req.validate(); err != nil {
		s.writeError(w, r, http.StatusUnprocessableEntity, err.Error())
		return
	}

	agentReq := agent.Request{
		Query:   req.Query,
		History: req.history(),
		TopK:    req.TopK,
		Options: optionsFrom(req.Temperature, req.MaxTokens),
	}

	if req.Stream {
		s.streamChat(w, r, agentReq)
		return
	}

	start := time.Now()
	res, err := s.agent.Chat(r.Context(), agentReq)
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	s.metrics.chatRequestsTotal.WithLabelValues(outcome).Inc()
	s.metrics.chatDurationSeconds.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
	if err != nil {
		logging.FromContext(r.Context()).Error("chat failed", slog.Any("error", err))
		s.writeError(w, r, http.StatusInternalServerError, "failed to generate response")
		return
	}

	resp := chatResponseFrom(req.Query, res)
	if req.Analyze {
		analysis := s.agent.Analyze(r.Context(), req.Query)
		resp.Analysis = &analysis
	}
	s.writeJSON(w, resp)
}

// streamChat delivers the answer as Server-Sent Events. Retrieval metadata
// is sent as a "sources" event before the first token; failures after the
// stream has started are delivered in-band as an "error" event because the
// status line is already on the wire.
func (s *Server) streamChat(w http.ResponseWriter, r *http.Request, req agent.Request) {
	log := logging.FromContext(r.Context())

	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, r, http.StatusInternalServerError, "streaming not supported")
		return
	}

	start := time.Now()
	sr, cr, err := s.agent.ChatStream(r.Context(), req)
	if err != nil {
		log.Error("chat stream failed to start", slog.Any("error", err))
		s.metrics.chatRequestsTotal.WithLabelValues("error").Inc()
		s.writeError(w, r, http.StatusInternalServerError, "failed to generate response")
		return
	}
	defer sr.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	s.metrics.chatActiveStreams.Inc()
	defer s.metrics.chatActiveStreams.Dec()

	meta, _ := json.Marshal(map[string]any{
		"sources":  cr.Sources,
		"degraded": cr.Degraded,
	})
	fmt.Fprintf(w, "event: sources\ndata: %s\n\n", meta)
	flusher.Flush()

	sw := &sseWriter{w: w, flusher: flusher}
	outcome := "ok"
	for {
		msg, err := sr.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			log.Error("chat stream interrupted", slog.Any("error", err))
			fmt.Fprint(w, "event: error\ndata: stream interrupted\n\n")
			flusher.Flush()
			outcome = "error"
			break
		}
		if msg.Content == "" {
			continue
		}
		if _, err := sw.Write([]byte(msg.Content)); err != nil {
			// Client went away; nothing left to deliver.
			outcome = "error"
			break
		}
	}

	if outcome == "ok" {
		fmt.Fprint(w, "event: done\ndata: [DONE]\n\n")
		flusher.Flush()
	}
	s.metrics.chatRequestsTotal.WithLabelValues(outcome).Inc()
	s.metrics.chatDurationSeconds.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
}

// handleQuery handles POST /api/query, the single-shot question form.
func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if !s.decode(w, r, &req) {
		return
	}
	if err := req.validate(); err != nil {
		s.writeError(w, r, http.StatusUnprocessableEntity, err.Error())
		return
	}

	res, err := s.agent.Chat(r.Context(), agent.Request{Query: req.Question, TopK: req.MaxSources})
	if err != nil {
		logging.FromContext(r.Context()).Error("query failed", slog.Any("error", err))
		s.writeError(w, r, http.StatusInternalServerError, "failed to generate response")
		return
	}

	s.writeJSON(w, queryResponse{
		Answer:  res.Answer,
		Sources: res.Sources,
		Context: res.Context,
	})
}

// handleSelectQuery handles POST /api/select-query. The selected passage is
// the whole context; the retriever is never consulted.
func (s *Server) handleSelectQuery(w http.ResponseWriter, r *http.Request) {
	var req selectQueryRequest
	if !s.decode(w, r, &req) {
		return
	}
	if err := req.validate(); err != nil {
		s.writeError(w, r, http.StatusUnprocessableEntity, err.Error())
		return
	}

	res, err := s.agent.SelectionAnswer(r.Context(), req.SelectedText, req.Question)
	if err != nil {
		logging.FromContext(r.Context()).Error("select-query failed", slog.Any("error", err))
		s.writeError(w, r, http.StatusInternalServerError, "failed to generate response")
		return
	}

	s.writeJSON(w, chatResponseFrom(req.Question, res))
}

// handleIngest handles POST /api/ingest.
func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	if s.pipeline == nil {
		s.writeError(w, r, http.StatusServiceUnavailable, "ingestion is not configured")
		return
	}

	var req ingestRequest
	if !s.decode(w, r, &req) {
		return
	}
	if err := req.validate(); err != nil {
		s.writeError(w, r, http.StatusUnprocessableEntity, err.Error())
		return
	}

	res, err := s.pipeline.IngestChapters(r.Context(), req.ChapterIDs, req.ForceReprocess)
	if err != nil {
		logging.FromContext(r.Context()).Error("ingest failed", slog.Any("error", err))
		s.writeError(w, r, http.StatusInternalServerError, "ingestion failed")
		return
	}

	s.writeJSON(w, res)
}

// handleEmbed handles POST /api/embed.
func (s *Server) handleEmbed(w http.ResponseWriter, r *http.Request) {
	if s.pipeline == nil {
		s.writeError(w, r, http.StatusServiceUnavailable, "ingestion is not configured")
		return
	}

	var req embedRequest
	if !s.decode(w, r, &req) {
		return
	}
	if err := req.validate(); err != nil {
		s.writeError(w, r, http.StatusUnprocessableEntity, err.Error())
		return
	}

	res, err := s.pipeline.EmbedChunks(r.Context(), req.ChunkIDs)
	if err != nil {
		logging.FromContext(r.Context()).Error("embed failed", slog.Any("error", err))
		s.writeError(w, r, http.StatusInternalServerError, "embedding failed")
		return
	}

	s.writeJSON(w, res)
}

// chatResponseFrom maps an agent result to the chat wire envelope.
func chatResponseFrom(query string, res *agent.Result) chatResponse {
	return chatResponse{
		Response:  res.Answer,
		Context:   res.Context,
		Sources:   res.Sources,
		Query:     query,
		ModelUsed: res.ModelUsed,
		Degraded:  res.Degraded,
		LatencyMS: res.Latency.Milliseconds(),
	}
}

// sseWriter wraps an http.ResponseWriter to emit Server-Sent Event data
// frames. Each newline in p gets its own "data: " prefix so multi-line
// chunks never break the frame boundary.
type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

func (s *sseWriter) Write(p []byte) (int, error) {
	var buf strings.Builder
	for _, line := range strings.Split(strings.TrimRight(string(p), "\n"), "\n") {
		buf.WriteString("data: ")
		buf.WriteString(line)
		buf.WriteString("\n")
	}
	buf.WriteString("\n")
	if _, err := fmt.Fprint(s.w, buf.String()); err != nil {
		return 0, err
	}
	s.flusher.Flush()
	return len(p), nil
}
