package commands

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/booksage-ai/booksage/internal/agent"
	"github.com/booksage-ai/booksage/internal/generator"
	"github.com/booksage-ai/booksage/internal/logging"
	"github.com/booksage-ai/booksage/internal/provider"
)

// NewAskCmd constructs the `booksage ask` command, which answers a single
// question from the terminal, streaming tokens to stdout.
func NewAskCmd() *cobra.Command {
	var topK int

	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Ask a question about the ingested textbook content",
		Long: `Ask BookSage a natural language question.

The question is answered by the configured LLM, grounded in excerpts
retrieved from the vector index. Sources are printed after the answer.

Examples:
  booksage ask "what is photosynthesis?"
  booksage ask --top-k 8 "compare mitosis and meiosis"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.New()

			providerCfg := provider.ConfigFromEnv()
			chatModel, err := provider.New(ctx, providerCfg)
			if err != nil {
				return fmt.Errorf("ask: failed to initialise model provider: %w", err)
			}

			stack, closeRetriever, err := buildRetriever(ctx, log, nil)
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}
			defer closeRetriever()

			gen, err := generator.New(generator.Config{
				ChatModel: chatModel,
				ModelName: providerCfg.ModelName(),
				Logger:    log,
			})
			if err != nil {
				return fmt.Errorf("ask: failed to initialise generator: %w", err)
			}

			ragAgent, err := agent.New(agent.Config{
				Retriever: stack.Retriever,
				Generator: gen,
				Logger:    log,
			})
			if err != nil {
				return fmt.Errorf("ask: failed to initialise agent: %w", err)
			}

			question := strings.Join(args, " ")
			sr, cr, err := ragAgent.ChatStream(ctx, agent.Request{Query: question, TopK: topK})
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}
			defer sr.Close()

			if cr.Degraded {
				fmt.Fprintln(os.Stderr, "warning: retrieval unavailable, answering without textbook context")
			}

			for {
				msg, err := sr.Recv()
				if errors.Is(err, io.EOF) {
					break
				}
				if err != nil {
					return fmt.Errorf("ask: stream interrupted: %w", err)
				}
				fmt.Print(msg.Content)
			}
			fmt.Println()

			if len(cr.Sources) > 0 {
				fmt.Printf("\nSources: %s\n", strings.Join(cr.Sources, ", "))
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&topK, "top-k", "k", 0, "Number of excerpts to retrieve (default: server setting)")

	return cmd
}
