// Package agent orchestrates the answer pipeline: retrieve textbook context
// for the question, generate the answer, and wrap both in a result envelope
// with timing and provenance. Retrieval failures degrade to an uncontexted
// answer; generation failures propagate to the caller.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cloudwego/eino/schema"

	"github.com/booksage-ai/booksage/internal/generator"
	"github.com/booksage-ai/booksage/internal/rag"
	"github.com/booksage-ai/booksage/internal/store"
)

// ContextRetriever is the slice of the retriever the agent depends on.
type ContextRetriever interface {
	RelevantContext(ctx context.Context, query string, maxSources int) rag.ContextResult
	HealthCheck(ctx context.Context) bool
}

// AnswerGenerator is the slice of the generator the agent depends on.
type AnswerGenerator interface {
	Generate(ctx context.Context, query string, contextChunks []string, history []generator.Message, opts generator.Options) (string, error)
	Stream(ctx context.Context, query string, contextChunks []string, history []generator.Message, opts generator.Options) (*schema.StreamReader[*schema.Message], error)
	AnalyzeQuery(ctx context.Context, query string) generator.Analysis
	ModelName() string
	HealthCheck(ctx context.Context) bool
}

// QueryLogger records answered queries best-effort. *store.Store satisfies it.
type QueryLogger interface {
	RecordQuery(ctx context.Context, rec store.QueryRecord) error
}

// Request is a full chat request from the HTTP layer.
type Request struct {
	// Query is the student's question.
	Query string
	// History is prior conversation turns, oldest first.
	History []generator.Message
	// TopK is the number of context chunks to retrieve; 0 uses the default.
	TopK int
	// Options carries generation parameters.
	Options generator.Options
}

// Result is the envelope returned for a completed answer.
type Result struct {
	// Answer is the generated response text.
	Answer string
	// Context holds the retrieved excerpts the answer was grounded in.
	Context []string
	// Sources lists the deduplicated origins of the excerpts.
	Sources []string
	// Degraded is true when retrieval failed and the answer was generated
	// without textbook context.
	Degraded bool
	// Latency is the wall-clock duration of the whole pipeline.
	Latency time.Duration
	// ModelUsed identifies the backend model that produced the answer.
	ModelUsed string
}

// Config holds the dependencies for constructing a RAGAgent.
type Config struct {
	Retriever ContextRetriever
	Generator AnswerGenerator

	// QueryLog is optional; nil disables query logging.
	QueryLog QueryLogger

	// DefaultTopK is the retrieval depth when a request does not specify
	// one. Defaults to 5.
	DefaultTopK int

	// Logger defaults to slog.Default when nil.
	Logger *slog.Logger
}

// RAGAgent combines retrieval and generation. Safe for concurrent use.
type RAGAgent struct {
	retriever   ContextRetriever
	generator   AnswerGenerator
	queryLog    QueryLogger
	defaultTopK int
	log         *slog.Logger
}

// New constructs a RAGAgent from the provided Config.
func New(cfg Config) (*RAGAgent, error) {
	if cfg.Retriever == nil {
		return nil, fmt.Errorf("agent: Retriever must not be nil")
	}
	if cfg.Generator == nil {
		return nil, fmt.Errorf("agent: Generator must not be nil")
	}
	if cfg.DefaultTopK <= 0 {
		cfg.DefaultTopK = 5
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &RAGAgent{
		retriever:   cfg.Retriever,
		generator:   cfg.Generator,
		queryLog:    cfg.QueryLog,
		defaultTopK: cfg.DefaultTopK,
		log:         cfg.Logger,
	}, nil
}

// Answer runs the full pipeline for a bare question with no history.
func (a *RAGAgent) Answer(ctx context.Context, query string, topK int) (*Result, error) {
	return a.Chat(ctx, Request{Query: query, TopK: topK})
}

// Chat runs the full pipeline: retrieve context, generate, envelope. The
// completed query is logged best-effort.
func (a *RAGAgent) Chat(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()

	topK := req.TopK
	if topK <= 0 {
		topK = a.defaultTopK
	}

	cr := a.retriever.RelevantContext(ctx, req.Query, topK)
	answer, err := a.generator.Generate(ctx, req.Query, cr.Context, req.History, req.Options)
	if err != nil {
		return nil, fmt.Errorf("agent: %w", err)
	}

	res := &Result{
		Answer:    answer,
		Context:   cr.Context,
		Sources:   cr.Sources,
		Degraded:  cr.Degraded,
		Latency:   time.Since(start),
		ModelUsed: a.generator.ModelName(),
	}
	a.recordQuery(ctx, req.Query, res)
	return res, nil
}

// ChatStream retrieves context and starts a token stream. The context result
// is returned alongside the stream so the caller can emit source metadata
// before the tokens. Nothing is logged until the caller reports completion.
func (a *RAGAgent) ChatStream(ctx context.Context, req Request) (*schema.StreamReader[*schema.Message], rag.ContextResult, error) {
	topK := req.TopK
	if topK <= 0 {
		topK = a.defaultTopK
	}

	cr := a.retriever.RelevantContext(ctx, req.Query, topK)
	sr, err := a.generator.Stream(ctx, req.Query, cr.Context, req.History, req.Options)
	if err != nil {
		return nil, cr, fmt.Errorf("agent: %w", err)
	}
	return sr, cr, nil
}

// SelectionAnswer answers a question about a passage the student selected.
// The selection is the whole context: the retriever and the vector index are
// never touched, and Sources is always empty.
func (a *RAGAgent) SelectionAnswer(ctx context.Context, selectedText, question string) (*Result, error) {
	start := time.Now()

	// The selection travels only as the context excerpt; the user turn stays
	// the bare question.
	answer, err := a.generator.Generate(ctx, question, []string{selectedText}, nil, generator.Options{})
	if err != nil {
		return nil, fmt.Errorf("agent: %w", err)
	}

	res := &Result{
		Answer:    answer,
		Context:   []string{selectedText},
		Sources:   []string{},
		Latency:   time.Since(start),
		ModelUsed: a.generator.ModelName(),
	}
	a.recordQuery(ctx, question, res)
	return res, nil
}

// Analyze classifies the question via the generator's side call.
func (a *RAGAgent) Analyze(ctx context.Context, query string) generator.Analysis {
	return a.generator.AnalyzeQuery(ctx, query)
}

// recordQuery logs a completed answer. Failures are logged and swallowed —
// the student already has their answer.
func (a *RAGAgent) recordQuery(ctx context.Context, query string, res *Result) {
	if a.queryLog == nil {
		return
	}
	rec := store.QueryRecord{
		Query:        query,
		SourcesCount: len(res.Sources),
		LatencyMS:    res.Latency.Milliseconds(),
		Model:        res.ModelUsed,
	}
	if err := a.queryLog.RecordQuery(ctx, rec); err != nil {
		a.log.Warn("failed to log query", slog.Any("error", err))
	}
}

// Health reports component availability for the health endpoint.
type Health struct {
	Retriever bool
	Generator bool
}

// HealthCheck probes the retriever and the generator.
func (a *RAGAgent) HealthCheck(ctx context.Context) Health {
	return Health{
		Retriever: a.retriever.HealthCheck(ctx),
		Generator: a.generator.HealthCheck(ctx),
	}
}
