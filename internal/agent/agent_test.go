package agent

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/cloudwego/eino/schema"

	"github.com/booksage-ai/booksage/internal/generator"
	"github.com/booksage-ai/booksage/internal/rag"
	"github.com/booksage-ai/booksage/internal/store"
)

// ---------------------------------------------------------------------------
// Fakes
// ---------------------------------------------------------------------------

type fakeRetriever struct {
	result  rag.ContextResult
	lastQ   string
	lastTop int
	calls   int
}

func (f *fakeRetriever) RelevantContext(_ context.Context, query string, maxSources int) rag.ContextResult {
	f.calls++
	f.lastQ = query
	f.lastTop = maxSources
	return f.result
}

func (f *fakeRetriever) HealthCheck(_ context.Context) bool { return true }

type fakeGenerator struct {
	answer  string
	err     error
	lastCtx []string
	lastQ   string
}

func (f *fakeGenerator) Generate(_ context.Context, query string, contextChunks []string, _ []generator.Message, _ generator.Options) (string, error) {
	f.lastQ = query
	f.lastCtx = contextChunks
	if f.err != nil {
		return "", f.err
	}
	return f.answer, nil
}

func (f *fakeGenerator) Stream(_ context.Context, query string, contextChunks []string, _ []generator.Message, _ generator.Options) (*schema.StreamReader[*schema.Message], error) {
	f.lastQ = query
	f.lastCtx = contextChunks
	if f.err != nil {
		return nil, f.err
	}
	return schema.StreamReaderFromArray([]*schema.Message{schema.AssistantMessage(f.answer, nil)}), nil
}

func (f *fakeGenerator) AnalyzeQuery(_ context.Context, query string) generator.Analysis {
	return generator.Analysis{Intent: "unknown", Complexity: "moderate", Category: "general", Keywords: strings.Fields(query), ExpectedResponseType: "explanation"}
}

func (f *fakeGenerator) ModelName() string                  { return "fake-model" }
func (f *fakeGenerator) HealthCheck(_ context.Context) bool { return f.err == nil }

type fakeQueryLog struct {
	records []store.QueryRecord
	err     error
}

func (f *fakeQueryLog) RecordQuery(_ context.Context, rec store.QueryRecord) error {
	if f.err != nil {
		return f.err
	}
	f.records = append(f.records, rec)
	return nil
}

func newTestAgent(t *testing.T, r *fakeRetriever, g *fakeGenerator, ql QueryLogger) *RAGAgent {
	t.Helper()
	a, err := New(Config{
		Retriever: r,
		Generator: g,
		QueryLog:  ql,
		Logger:    slog.New(slog.DiscardHandler),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return a
}

// ---------------------------------------------------------------------------
// Chat
// ---------------------------------------------------------------------------

func TestChat_FullPipeline(t *testing.T) {
	t.Parallel()

	r := &fakeRetriever{result: rag.ContextResult{
		Context: []string{"excerpt a", "excerpt b"},
		Sources: []string{"/docs/ch01"},
	}}
	g := &fakeGenerator{answer: "the answer"}
	ql := &fakeQueryLog{}
	a := newTestAgent(t, r, g, ql)

	res, err := a.Chat(context.Background(), Request{Query: "what is mitosis?", TopK: 3})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}

	if res.Answer != "the answer" || res.ModelUsed != "fake-model" {
		t.Errorf("result = %+v", res)
	}
	if len(res.Context) != 2 || len(res.Sources) != 1 {
		t.Errorf("context/sources = %v / %v", res.Context, res.Sources)
	}
	if r.lastTop != 3 || r.lastQ != "what is mitosis?" {
		t.Errorf("retriever called with %q / %d", r.lastQ, r.lastTop)
	}
	if len(g.lastCtx) != 2 {
		t.Errorf("generator received %d context chunks", len(g.lastCtx))
	}
	if len(ql.records) != 1 || ql.records[0].SourcesCount != 1 || ql.records[0].Model != "fake-model" {
		t.Errorf("query log = %+v", ql.records)
	}
}

func TestChat_DegradedRetrievalStillAnswers(t *testing.T) {
	t.Parallel()

	r := &fakeRetriever{result: rag.ContextResult{Context: []string{}, Sources: []string{}, Degraded: true}}
	g := &fakeGenerator{answer: "from general knowledge"}
	a := newTestAgent(t, r, g, nil)

	res, err := a.Chat(context.Background(), Request{Query: "q"})
	if err != nil {
		t.Fatalf("degraded retrieval must not fail the request: %v", err)
	}
	if !res.Degraded {
		t.Error("result should be marked degraded")
	}
	if res.Answer != "from general knowledge" {
		t.Errorf("answer = %q", res.Answer)
	}
}

func TestChat_GenerationFailurePropagates(t *testing.T) {
	t.Parallel()

	r := &fakeRetriever{result: rag.ContextResult{Context: []string{"c"}}}
	g := &fakeGenerator{err: errors.New("model down")}
	a := newTestAgent(t, r, g, nil)

	if _, err := a.Chat(context.Background(), Request{Query: "q"}); err == nil {
		t.Fatal("generation failure must propagate")
	}
}

func TestChat_QueryLogFailureNonFatal(t *testing.T) {
	t.Parallel()

	r := &fakeRetriever{}
	g := &fakeGenerator{answer: "ok"}
	a := newTestAgent(t, r, g, &fakeQueryLog{err: errors.New("db locked")})

	if _, err := a.Chat(context.Background(), Request{Query: "q"}); err != nil {
		t.Fatalf("query log failure must be swallowed: %v", err)
	}
}

func TestChat_DefaultTopK(t *testing.T) {
	t.Parallel()

	r := &fakeRetriever{}
	a := newTestAgent(t, r, &fakeGenerator{answer: "x"}, nil)

	if _, err := a.Chat(context.Background(), Request{Query: "q"}); err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if r.lastTop != 5 {
		t.Errorf("default topK = %d, want 5", r.lastTop)
	}
}

// ---------------------------------------------------------------------------
// Selection answers
// ---------------------------------------------------------------------------

func TestSelectionAnswer_BypassesRetrieval(t *testing.T) {
	t.Parallel()

	r := &fakeRetriever{result: rag.ContextResult{Context: []string{"should not appear"}}}
	g := &fakeGenerator{answer: "about that passage"}
	a := newTestAgent(t, r, g, nil)

	res, err := a.SelectionAnswer(context.Background(), "the selected passage", "what does this mean?")
	if err != nil {
		t.Fatalf("SelectionAnswer: %v", err)
	}

	if r.calls != 0 {
		t.Errorf("retriever called %d times, selection answers must bypass retrieval", r.calls)
	}
	if len(res.Sources) != 0 {
		t.Errorf("sources = %v, want empty", res.Sources)
	}
	if len(g.lastCtx) != 1 || g.lastCtx[0] != "the selected passage" {
		t.Errorf("generator context = %v, want the selection", g.lastCtx)
	}
	if g.lastQ != "what does this mean?" {
		t.Errorf("generator query = %q, want the bare question", g.lastQ)
	}
	if strings.Contains(g.lastQ, "the selected passage") {
		t.Errorf("generator query %q repeats the selection already passed as context", g.lastQ)
	}
}

func TestAnalyze_DelegatesToGenerator(t *testing.T) {
	t.Parallel()

	a := newTestAgent(t, &fakeRetriever{}, &fakeGenerator{answer: "x"}, nil)

	got := a.Analyze(context.Background(), "compare mitosis and meiosis")
	if got.Intent != "unknown" {
		t.Errorf("intent = %q", got.Intent)
	}
	if len(got.Keywords) != 4 {
		t.Errorf("keywords = %v", got.Keywords)
	}
}

// ---------------------------------------------------------------------------
// Streaming
// ---------------------------------------------------------------------------

func TestChatStream_ReturnsContextWithStream(t *testing.T) {
	t.Parallel()

	r := &fakeRetriever{result: rag.ContextResult{Context: []string{"c"}, Sources: []string{"/docs/ch02"}}}
	g := &fakeGenerator{answer: "streamed"}
	a := newTestAgent(t, r, g, nil)

	sr, cr, err := a.ChatStream(context.Background(), Request{Query: "q"})
	if err != nil {
		t.Fatalf("ChatStream: %v", err)
	}
	defer sr.Close()

	if len(cr.Sources) != 1 {
		t.Errorf("context result sources = %v", cr.Sources)
	}
	msg, err := sr.Recv()
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	if msg.Content != "streamed" {
		t.Errorf("stream content = %q", msg.Content)
	}
}
