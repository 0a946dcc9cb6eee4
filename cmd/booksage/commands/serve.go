package commands

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/cloudwego/eino/callbacks"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/booksage-ai/booksage/internal/agent"
	"github.com/booksage-ai/booksage/internal/generator"
	"github.com/booksage-ai/booksage/internal/ingest"
	"github.com/booksage-ai/booksage/internal/logging"
	"github.com/booksage-ai/booksage/internal/provider"
	"github.com/booksage-ai/booksage/internal/server"
	"github.com/booksage-ai/booksage/internal/store"
	"github.com/booksage-ai/booksage/internal/tracing"
	"github.com/booksage-ai/booksage/internal/version"
)

// NewServeCmd constructs the `booksage serve` command, which starts the HTTP
// server exposing the question-answering and ingestion APIs.
func NewServeCmd() *cobra.Command {
	var host string
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the BookSage HTTP server",
		Long: `Start the BookSage HTTP server on localhost.

The server exposes chat (with optional SSE streaming), single-shot query,
selection query, chapter ingestion, and health endpoints.

Examples:
  booksage serve
  booksage serve --port 9090
  MODEL_PROVIDER=groq booksage serve`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			log.Info("serve starting", slog.String("provider", os.Getenv("MODEL_PROVIDER")))

			// Langfuse tracing is opt-in and a no-op when keys are absent.
			handler, flush, ok := tracing.Setup()
			if ok {
				callbacks.AppendGlobalHandlers(handler)
				defer flush()
				log.Info("langfuse tracing enabled")
			} else {
				log.Info("langfuse tracing disabled", slog.String("reason", "LANGFUSE_PUBLIC_KEY not set"))
			}

			providerCfg := provider.ConfigFromEnv()
			chatModel, err := provider.New(ctx, providerCfg)
			if err != nil {
				return fmt.Errorf("serve: failed to initialise model provider: %w", err)
			}
			log.Info("provider initialised", slog.String("provider", string(providerCfg.Backend)))

			// One registry backs both the retrieval metrics and the HTTP
			// server metrics so GET /metrics exposes everything.
			registry := prometheus.NewRegistry()

			stack, closeRetriever, err := buildRetriever(ctx, log, registry)
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			defer closeRetriever()

			gen, err := generator.New(generator.Config{
				ChatModel:        chatModel,
				ModelName:        providerCfg.ModelName(),
				MaxContextTokens: getEnvInt("MODEL_CONTEXT_TOKENS", 0),
				Logger:           log,
			})
			if err != nil {
				return fmt.Errorf("serve: failed to initialise generator: %w", err)
			}

			// Open the chapter store. BOOKSAGE_DB overrides the default path
			// (~/.booksage/booksage.db). Set to "disabled" to run without
			// persistence: no ingestion routes, no query log.
			var chapterStore *store.Store
			dbPath := os.Getenv("BOOKSAGE_DB")
			if dbPath != "disabled" {
				if dbPath == "" {
					dbPath, err = store.DefaultDBPath()
					if err != nil {
						log.Warn("store: could not resolve default DB path, disabling", slog.Any("error", err))
						dbPath = ""
					}
				}
				if dbPath != "" {
					st, stErr := store.Open(dbPath)
					if stErr != nil {
						log.Warn("store: failed to open, disabling persistence", slog.Any("error", stErr))
					} else {
						chapterStore = st
						defer func() { _ = st.Close() }()
						log.Info("store opened", slog.String("path", dbPath))
					}
				}
			} else {
				log.Info("persistence disabled via BOOKSAGE_DB=disabled")
			}

			agentCfg := agent.Config{
				Retriever:   stack.Retriever,
				Generator:   gen,
				DefaultTopK: getEnvInt("RETRIEVAL_TOP_K", 5),
				Logger:      log,
			}
			if chapterStore != nil {
				agentCfg.QueryLog = chapterStore
			}

			ragAgent, err := agent.New(agentCfg)
			if err != nil {
				return fmt.Errorf("serve: failed to initialise agent: %w", err)
			}

			var pipeline *ingest.Pipeline
			if chapterStore != nil {
				pipeline, err = ingest.NewPipeline(chapterStore, stack.Retriever, getEnvInt("CHUNK_SIZE", 0), log)
				if err != nil {
					return fmt.Errorf("serve: failed to initialise ingest pipeline: %w", err)
				}
			}

			pingers := []server.Pinger{
				server.NewDependencyPinger("qdrant", stack.Store),
				server.NewModelPinger(gen),
			}
			if stack.Cache != nil {
				pingers = append(pingers, server.NewDependencyPinger("redis", stack.Cache))
			}

			srvCfg := &server.Config{
				Host:     host,
				Port:     port,
				Logger:   log,
				Pingers:  pingers,
				APIKey:   os.Getenv("BOOKSAGE_API_KEY"),
				Registry: registry,
				Version:  version.Version,
			}

			// A typed nil pipeline must not reach the server's interface
			// field, or its nil check stops working.
			var srv *server.Server
			if pipeline != nil {
				srv, err = server.New(ragAgent, pipeline, stack.Retriever, srvCfg)
			} else {
				srv, err = server.New(ragAgent, nil, stack.Retriever, srvCfg)
			}
			if err != nil {
				return fmt.Errorf("serve: failed to create server: %w", err)
			}

			return srv.Start(ctx)
		},
	}

	cmd.Flags().StringVar(&host, "host", "127.0.0.1", "Host address to bind to")
	cmd.Flags().IntVarP(&port, "port", "p", 8000, "TCP port to listen on")

	return cmd
}
