// Package generator turns a student question plus retrieved textbook context
// into an answer via the configured chat model. It owns the system prompt,
// request parameter validation, history budgeting, and the streaming and
// query-analysis side calls.
package generator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/booksage-ai/booksage/internal/budget"
	"github.com/booksage-ai/booksage/internal/rag"
)

// systemPromptTemplate is the instruction block prepended to every
// conversation. %s receives the joined textbook excerpts, or a note that no
// context is available.
const systemPromptTemplate = `You are BookSage, an AI study assistant embedded in a digital textbook.
Your job is to help students understand the material they are reading.

Use the following excerpts from the textbook to answer the student's question:

%s

Guidelines:
1. Ground your answer in the provided excerpts whenever they are relevant.
2. If the excerpts do not contain enough information, say so plainly and answer from general knowledge where you can.
3. Be clear and concise — students are studying, not reading essays.
4. Never mention chunk identifiers, excerpt numbers, or retrieval internals.
5. Keep a helpful, professional tone appropriate for an educational setting.
6. If the question is ambiguous, ask one clarifying question instead of guessing.`

// noContextNote replaces the excerpt block when retrieval produced nothing.
const noContextNote = "(no relevant textbook excerpts were found for this question)"

// Parameter bounds for caller-supplied generation options. Out-of-range
// values are rejected, never clamped.
const (
	MinTemperature = 0.0
	MaxTemperature = 2.0
	MinTokens      = 1
	MaxTokens      = 4000
)

// Options carries per-request generation parameters. Nil fields fall back to
// the provider's configured defaults.
type Options struct {
	Temperature *float32
	MaxTokens   *int
}

// Validate checks the options against the accepted bounds.
func (o Options) Validate() error {
	if o.Temperature != nil {
		if t := *o.Temperature; t < MinTemperature || t > MaxTemperature {
			return fmt.Errorf("generator: temperature %.2f out of range [%.1f, %.1f]", t, MinTemperature, MaxTemperature)
		}
	}
	if o.MaxTokens != nil {
		if n := *o.MaxTokens; n < MinTokens || n > MaxTokens {
			return fmt.Errorf("generator: max_tokens %d out of range [%d, %d]", n, MinTokens, MaxTokens)
		}
	}
	return nil
}

// modelOptions converts the validated options into eino model options.
func (o Options) modelOptions() []model.Option {
	var opts []model.Option
	if o.Temperature != nil {
		opts = append(opts, model.WithTemperature(*o.Temperature))
	}
	if o.MaxTokens != nil {
		opts = append(opts, model.WithMaxTokens(*o.MaxTokens))
	}
	return opts
}

// Config holds the dependencies for constructing a Generator.
type Config struct {
	// ChatModel is the LLM backend constructed by the provider factory.
	ChatModel model.BaseChatModel

	// ModelName identifies the backend model for response envelopes and logs.
	ModelName string

	// Retry overrides the remote-call retry policy when non-zero. Streaming
	// calls are never retried.
	Retry rag.RetryPolicy

	// MaxContextTokens is the estimated token budget for the full input
	// (system prompt + history + question). History is trimmed oldest-first
	// to fit. Defaults to budget.DefaultMaxContextTokens.
	MaxContextTokens int

	// Logger defaults to slog.Default when nil.
	Logger *slog.Logger
}

// Generator produces answers from a chat model. Safe for concurrent use.
type Generator struct {
	model            model.BaseChatModel
	modelName        string
	retry            rag.RetryPolicy
	maxContextTokens int
	log              *slog.Logger
}

// New constructs a Generator from the given config.
func New(cfg Config) (*Generator, error) {
	if cfg.ChatModel == nil {
		return nil, fmt.Errorf("generator: ChatModel must not be nil")
	}
	if cfg.Retry.Attempts == 0 {
		cfg.Retry = rag.DefaultRetryPolicy()
	}
	if cfg.MaxContextTokens <= 0 {
		cfg.MaxContextTokens = budget.DefaultMaxContextTokens
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Generator{
		model:            cfg.ChatModel,
		modelName:        cfg.ModelName,
		retry:            cfg.Retry,
		maxContextTokens: cfg.MaxContextTokens,
		log:              cfg.Logger,
	}, nil
}

// ModelName returns the configured backend model identifier.
func (g *Generator) ModelName() string {
	return g.modelName
}

// buildMessages assembles the full message slice: system prompt with the
// retrieved excerpts, prior turns trimmed to the token budget, and the
// question as the final user turn.
func (g *Generator) buildMessages(query string, contextChunks []string, history []Message) []*schema.Message {
	excerpts := noContextNote
	if len(contextChunks) > 0 {
		excerpts = strings.Join(contextChunks, "\n\n---\n\n")
	}
	system := schema.SystemMessage(fmt.Sprintf(systemPromptTemplate, excerpts))
	user := schema.UserMessage(query)

	historyMsgs := make([]*schema.Message, 0, len(history))
	for _, m := range history {
		historyMsgs = append(historyMsgs, m.toSchema())
	}

	fixed := []*schema.Message{system, user}
	before := len(historyMsgs)
	historyMsgs = budget.TrimHistory(fixed, historyMsgs, g.maxContextTokens)
	if dropped := before - len(historyMsgs); dropped > 0 {
		g.log.Warn("dropped history messages to fit context window",
			slog.Int("dropped", dropped),
			slog.Int("retained", len(historyMsgs)),
		)
	}

	messages := make([]*schema.Message, 0, 2+len(historyMsgs))
	messages = append(messages, system)
	messages = append(messages, historyMsgs...)
	messages = append(messages, user)
	return messages
}

// Generate produces a complete answer for the question. The prompt build is
// local; only the chat completion call is retried.
func (g *Generator) Generate(ctx context.Context, query string, contextChunks []string, history []Message, opts Options) (string, error) {
	if err := opts.Validate(); err != nil {
		return "", err
	}

	messages := g.buildMessages(query, contextChunks, history)

	var out *schema.Message
	err := g.retry.Do(ctx, func() error {
		var genErr error
		out, genErr = g.model.Generate(ctx, messages, opts.modelOptions()...)
		return genErr
	})
	if err != nil {
		return "", fmt.Errorf("generator: chat completion failed: %w", err)
	}
	if out == nil {
		return "", fmt.Errorf("generator: chat model returned no message")
	}
	return out.Content, nil
}

// Stream starts a token stream for the question. The caller must drain the
// reader until io.EOF and Close it. Streaming calls are never retried — a
// mid-stream failure surfaces to the consumer.
func (g *Generator) Stream(ctx context.Context, query string, contextChunks []string, history []Message, opts Options) (*schema.StreamReader[*schema.Message], error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	messages := g.buildMessages(query, contextChunks, history)

	sr, err := g.model.Stream(ctx, messages, opts.modelOptions()...)
	if err != nil {
		return nil, fmt.Errorf("generator: chat stream failed: %w", err)
	}
	return sr, nil
}

// HealthCheck reports whether the chat model answers a minimal probe.
func (g *Generator) HealthCheck(ctx context.Context) bool {
	one := 1
	_, err := g.model.Generate(ctx,
		[]*schema.Message{schema.UserMessage("ping")},
		Options{MaxTokens: &one}.modelOptions()...,
	)
	if err != nil {
		g.log.Warn("generator health check failed", "error", err)
		return false
	}
	return true
}
