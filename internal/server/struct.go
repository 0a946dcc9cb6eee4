package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"
	"unicode/utf8"

	"github.com/cloudwego/eino/schema"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/booksage-ai/booksage/internal/agent"
	"github.com/booksage-ai/booksage/internal/generator"
	"github.com/booksage-ai/booksage/internal/ingest"
	"github.com/booksage-ai/booksage/internal/rag"
)

// Request body limits. Oversized or malformed bodies are rejected before any
// backend is touched.
const (
	maxQueryChars   = 5000
	maxHistoryTurns = 50
	minTopK         = 1
	maxTopK         = 20
	maxSourcesCap   = 10
)

// Config holds the HTTP server configuration.
type Config struct {
	// Host is the address to bind to (default: 127.0.0.1).
	Host string
	// Port is the TCP port to listen on (default: 8000).
	Port int
	// ReadTimeout is the maximum duration for reading the request.
	ReadTimeout time.Duration
	// WriteTimeout is the maximum duration for writing the response.
	// Must be long enough for streaming answers.
	WriteTimeout time.Duration
	// ShutdownTimeout is the maximum duration for a graceful shutdown.
	ShutdownTimeout time.Duration
	// Logger is the structured logger used by the server and its handlers.
	// If nil, slog.Default is used.
	Logger *slog.Logger
	// Pingers is the ordered list of dependency probes run by GET /api/ready.
	// If empty, /api/ready returns 200 with no checks.
	Pingers []Pinger
	// RateLimit is the sustained request rate allowed per IP on the answer
	// endpoints (requests/second). Defaults to 10 if zero.
	RateLimit float64
	// RateBurst is the maximum instantaneous burst per IP. Defaults to 20 if zero.
	RateBurst int
	// APIKey is the Bearer token required on the /api answer and ingestion
	// routes. If empty, authentication is disabled (development mode).
	APIKey string
	// Registry receives the server's Prometheus metrics and backs GET /metrics.
	// If nil a fresh registry is created.
	Registry *prometheus.Registry
	// Version is reported by GET /api/health.
	Version string
}

// answerer is the slice of *agent.RAGAgent the handlers call.
// Tests inject a fake.
type answerer interface {
	Chat(ctx context.Context, req agent.Request) (*agent.Result, error)
	ChatStream(ctx context.Context, req agent.Request) (*schema.StreamReader[*schema.Message], rag.ContextResult, error)
	SelectionAnswer(ctx context.Context, selectedText, question string) (*agent.Result, error)
	Analyze(ctx context.Context, query string) generator.Analysis
	HealthCheck(ctx context.Context) agent.Health
}

// ingester is the slice of *ingest.Pipeline the ingestion handlers call.
type ingester interface {
	IngestChapters(ctx context.Context, chapterIDs []string, force bool) (ingest.IngestResult, error)
	EmbedChunks(ctx context.Context, chunkIDs []string) (ingest.EmbedResult, error)
}

// Server is the HTTP server exposing the answer pipeline and the ingestion
// pipeline as a REST/SSE API.
type Server struct {
	agent    answerer
	pipeline ingester
	index    indexAdmin
	cfg      *Config
	log      *slog.Logger

	httpServer *http.Server
	pingers    []Pinger
	metrics    *serverMetrics
	// stopRL stops the rate limiter's eviction goroutine on shutdown.
	stopRL func()
}

// chatMessage is one prior conversation turn in a chat request.
type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// chatRequest is the JSON body for POST /api/chat.
type chatRequest struct {
	// Query is the student's question.
	Query string `json:"query"`
	// Messages is the prior conversation, oldest first.
	Messages []chatMessage `json:"messages,omitempty"`
	// TopK overrides the retrieval depth. Zero uses the server default.
	TopK int `json:"top_k,omitempty"`
	// Temperature and MaxTokens override the generation parameters.
	// Out-of-range values are rejected, never clamped.
	Temperature *float32 `json:"temperature,omitempty"`
	MaxTokens   *int     `json:"max_tokens,omitempty"`
	// Stream switches the response to an SSE token stream.
	Stream bool `json:"stream,omitempty"`
	// Analyze adds a question classification to the JSON response.
	// Ignored when streaming.
	Analyze bool `json:"analyze,omitempty"`
}

// validate checks the request bounds. The returned error text is safe to
// return to the client.
func (r *chatRequest) validate() error {
	if err := validateQueryText("query", r.Query); err != nil {
		return err
	}
	if len(r.Messages) > maxHistoryTurns {
		return fmt.Errorf("messages must contain at most %d turns", maxHistoryTurns)
	}
	for i, m := range r.Messages {
		if _, err := generator.ParseRole(m.Role); err != nil {
			return fmt.Errorf("messages[%d]: %v", i, err)
		}
	}
	if r.TopK != 0 && (r.TopK < minTopK || r.TopK > maxTopK) {
		return fmt.Errorf("top_k must be between %d and %d", minTopK, maxTopK)
	}
	opts := generator.Options{Temperature: r.Temperature, MaxTokens: r.MaxTokens}
	return opts.Validate()
}

// history converts the wire messages to generator messages. validate has
// already checked the roles.
func (r *chatRequest) history() []generator.Message {
	if len(r.Messages) == 0 {
		return nil
	}
	msgs := make([]generator.Message, 0, len(r.Messages))
	for _, m := range r.Messages {
		role, _ := generator.ParseRole(m.Role)
		msgs = append(msgs, generator.Message{Role: role, Content: m.Content})
	}
	return msgs
}

// optionsFrom builds generation options from the wire fields.
func optionsFrom(temperature *float32, maxTokens *int) generator.Options {
	return generator.Options{Temperature: temperature, MaxTokens: maxTokens}
}

// chatResponse is the JSON response for POST /api/chat and /api/select-query.
type chatResponse struct {
	Response  string   `json:"response"`
	Context   []string `json:"context"`
	Sources   []string `json:"sources"`
	Query     string   `json:"query"`
	ModelUsed string   `json:"model_used"`
	Degraded  bool     `json:"degraded,omitempty"`
	LatencyMS int64    `json:"latency_ms"`
	// Analysis is present only when the request asked for it.
	Analysis *generator.Analysis `json:"analysis,omitempty"`
}

// queryRequest is the JSON body for POST /api/query, the single-shot form
// with no conversation history.
type queryRequest struct {
	Question   string `json:"question"`
	UserID     string `json:"user_id,omitempty"`
	MaxSources int    `json:"max_sources,omitempty"`
}

func (r *queryRequest) validate() error {
	if err := validateQueryText("question", r.Question); err != nil {
		return err
	}
	if r.MaxSources != 0 && (r.MaxSources < 1 || r.MaxSources > maxSourcesCap) {
		return fmt.Errorf("max_sources must be between 1 and %d", maxSourcesCap)
	}
	return nil
}

// queryResponse is the JSON response for POST /api/query.
type queryResponse struct {
	Answer  string   `json:"answer"`
	Sources []string `json:"sources"`
	Context []string `json:"context"`
}

// selectQueryRequest is the JSON body for POST /api/select-query.
type selectQueryRequest struct {
	SelectedText string `json:"selected_text"`
	Question     string `json:"question"`
	UserID       string `json:"user_id,omitempty"`
}

func (r *selectQueryRequest) validate() error {
	if r.SelectedText == "" {
		return fmt.Errorf("selected_text must not be empty")
	}
	return validateQueryText("question", r.Question)
}

// ingestRequest is the JSON body for POST /api/ingest.
type ingestRequest struct {
	ChapterIDs     []string `json:"chapter_ids"`
	ForceReprocess bool     `json:"force_reprocess,omitempty"`
}

func (r *ingestRequest) validate() error {
	if len(r.ChapterIDs) == 0 {
		return fmt.Errorf("chapter_ids must not be empty")
	}
	return nil
}

// embedRequest is the JSON body for POST /api/embed.
type embedRequest struct {
	ChunkIDs []string `json:"chunk_ids"`
}

func (r *embedRequest) validate() error {
	if len(r.ChunkIDs) == 0 {
		return fmt.Errorf("chunk_ids must not be empty")
	}
	return nil
}

// errorResponse is the JSON body for every non-2xx response.
type errorResponse struct {
	Detail    string `json:"detail"`
	RequestID string `json:"request_id"`
}

// validateQueryText enforces the shared length bounds on question text.
func validateQueryText(field, text string) error {
	if text == "" {
		return fmt.Errorf("%s must not be empty", field)
	}
	if utf8.RuneCountInString(text) > maxQueryChars {
		return fmt.Errorf("%s must be at most %d characters", field, maxQueryChars)
	}
	return nil
}
