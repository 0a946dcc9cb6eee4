package commands

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/booksage-ai/booksage/internal/ingest"
	"github.com/booksage-ai/booksage/internal/logging"
	"github.com/booksage-ai/booksage/internal/store"
)

// NewIngestCmd constructs the `booksage ingest` command, which loads chapter
// files into the local store, chunks them, and optionally embeds the chunks
// into the vector index.
func NewIngestCmd() *cobra.Command {
	var force bool
	var embed bool
	var chunkSize int

	cmd := &cobra.Command{
		Use:   "ingest [file...]",
		Short: "Ingest textbook chapters into the store and vector index",
		Long: `Load chapter files (plain text or Markdown), chunk them by paragraph,
and record the chunks in the local store.

The chapter ID is the file name without extension; the title is the first
non-empty line. Chapters already embedded are skipped unless --force is set.
With --embed the chunks are also embedded and written to the Qdrant index,
which requires the embedding and Qdrant environment variables.

Examples:
  booksage ingest docs/biology_ch4.md
  booksage ingest --embed docs/*.md
  booksage ingest --force --embed docs/biology_ch4.md`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.New()

			dbPath := os.Getenv("BOOKSAGE_DB")
			if dbPath == "" {
				var err error
				dbPath, err = store.DefaultDBPath()
				if err != nil {
					return fmt.Errorf("ingest: %w", err)
				}
			}
			st, err := store.Open(dbPath)
			if err != nil {
				return fmt.Errorf("ingest: open store: %w", err)
			}
			defer func() { _ = st.Close() }()

			var index ingest.DocumentIndex
			var closeRetriever func()
			if embed {
				stack, closer, err := buildRetriever(ctx, log, nil)
				if err != nil {
					return fmt.Errorf("ingest: %w", err)
				}
				closeRetriever = closer
				index = stack.Retriever
			}
			if closeRetriever != nil {
				defer closeRetriever()
			}

			pipeline, err := ingest.NewPipeline(st, index, chunkSize, log)
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}

			chapterIDs := make([]string, 0, len(args))
			for _, path := range args {
				id, err := loadChapterFile(cmd, st, path)
				if err != nil {
					return fmt.Errorf("ingest: %w", err)
				}
				chapterIDs = append(chapterIDs, id)
			}

			res, err := pipeline.IngestChapters(ctx, chapterIDs, force)
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}
			log.Info("chunking complete",
				slog.Int("chapters", res.ChaptersProcessed),
				slog.Int("chunks", res.ChunksCreated),
				slog.Int("skipped", len(res.Skipped)),
			)

			if embed {
				for _, id := range chapterIDs {
					chunks, err := st.ChunksByChapter(ctx, id)
					if err != nil {
						return fmt.Errorf("ingest: load chunks for %s: %w", id, err)
					}
					chunkIDs := make([]string, 0, len(chunks))
					for _, c := range chunks {
						chunkIDs = append(chunkIDs, c.ID)
					}
					er, err := pipeline.EmbedChunks(ctx, chunkIDs)
					if err != nil {
						return fmt.Errorf("ingest: embed %s: %w", id, err)
					}
					log.Info("embedding complete",
						slog.String("chapter", id),
						slog.Int("embedded", er.Embedded),
						slog.Int("failed", len(er.Failed)),
					)
				}
			}

			fmt.Printf("ingested %d chapter(s), %d chunk(s)\n", res.ChaptersProcessed, res.ChunksCreated)
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Re-chunk chapters that are already embedded")
	cmd.Flags().BoolVar(&embed, "embed", false, "Embed chunks into the vector index after chunking")
	cmd.Flags().IntVar(&chunkSize, "chunk-size", 0, "Maximum chunk size in characters (default: 1000)")

	return cmd
}

// loadChapterFile reads a chapter file and upserts it into the store.
// Returns the chapter ID derived from the file name.
func loadChapterFile(cmd *cobra.Command, st *store.Store, path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	content := string(data)
	if strings.TrimSpace(content) == "" {
		return "", fmt.Errorf("%s is empty", path)
	}

	base := filepath.Base(path)
	id := strings.TrimSuffix(base, filepath.Ext(base))

	title := id
	for _, line := range strings.Split(content, "\n") {
		if trimmed := strings.TrimSpace(strings.TrimLeft(line, "# ")); trimmed != "" {
			title = trimmed
			break
		}
	}

	if err := st.UpsertChapter(cmd.Context(), store.Chapter{
		ID:      id,
		Title:   title,
		Content: content,
	}); err != nil {
		return "", fmt.Errorf("upsert %s: %w", id, err)
	}
	return id, nil
}
