// Package commands defines all Cobra CLI commands for the booksage binary.
package commands

import (
	"github.com/spf13/cobra"

	"github.com/booksage-ai/booksage/internal/audit"
	"github.com/booksage-ai/booksage/internal/config"
	"github.com/booksage-ai/booksage/internal/logging"
)

// configPath holds the --config flag value for YAML config file override.
var configPath string

// loadedConfigPath stores the resolved config file path for audit logging.
var loadedConfigPath string

// NewRootCmd constructs the root Cobra command that all subcommands attach to.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "booksage",
		Short: "BookSage — an AI study assistant for textbooks",
		Long: `BookSage is an AI assistant that answers questions about ingested
textbook content.

Chapters are chunked, embedded, and indexed in a Qdrant vector store;
questions are answered by an LLM grounded in the retrieved excerpts.
The HTTP server exposes chat, single-shot query, selection query, and
ingestion endpoints.

Model provider is selected via the MODEL_PROVIDER environment variable
or a YAML config file (~/.booksage/config.yaml).
See 'booksage --help' for available commands.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			log := logging.New()

			// Load YAML config (env vars always override YAML values).
			path, err := config.Load(configPath, log)
			if err != nil {
				return err
			}
			loadedConfigPath = path

			// Emit structured audit log for every command invocation.
			audit.LogCommandStart(log, cmd.Name(), loadedConfigPath)

			return nil
		},
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "Path to YAML config file (default: ~/.booksage/config.yaml)")

	root.AddCommand(
		NewAskCmd(),
		NewServeCmd(),
		NewIngestCmd(),
		NewVersionCmd(),
	)

	return root
}
