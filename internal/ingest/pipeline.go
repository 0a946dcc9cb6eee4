package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/booksage-ai/booksage/internal/rag"
	"github.com/booksage-ai/booksage/internal/store"
)

// DocumentIndex is the slice of the retriever the pipeline needs: writing
// embedded chunks into the vector index and removing them again.
type DocumentIndex interface {
	AddDocuments(ctx context.Context, docs []rag.Document) error
	DeleteDocuments(ctx context.Context, ids []string) error
}

// Pipeline drives chapter ingestion: chunking, persistence, embedding, and
// vector upsert. All steps run synchronously inside the calling request.
type Pipeline struct {
	store     *store.Store
	index     DocumentIndex
	chunkSize int
	log       *slog.Logger
}

// NewPipeline constructs a Pipeline. chunkSize <= 0 selects DefaultChunkSize.
// index may be nil for chunk-only ingestion; the embedding operations then
// return an error.
func NewPipeline(st *store.Store, index DocumentIndex, chunkSize int, log *slog.Logger) (*Pipeline, error) {
	if st == nil {
		return nil, fmt.Errorf("ingest: store must not be nil")
	}
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if log == nil {
		log = slog.Default()
	}
	return &Pipeline{store: st, index: index, chunkSize: chunkSize, log: log}, nil
}

// IngestResult summarises a chunking run.
type IngestResult struct {
	// ChaptersProcessed is the number of chapters that were (re)chunked.
	ChaptersProcessed int `json:"chapters_processed"`
	// ChunksCreated is the total number of chunk rows written.
	ChunksCreated int `json:"chunks_created"`
	// Skipped lists chapters left untouched because they were already
	// embedded and force was not set.
	Skipped []string `json:"skipped,omitempty"`
}

// ChunkID returns the deterministic chunk identifier for a chapter position.
func ChunkID(chapterID string, index int) string {
	return fmt.Sprintf("%s_chunk_%d", chapterID, index)
}

// VectorID derives the vector index point ID for a chunk. Point IDs must be
// UUIDs, so the chunk ID is hashed into a stable name-based UUID.
func VectorID(chunkID string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("booksage:"+chunkID)).String()
}

// textHash returns the sha256 hex digest of a chunk's content.
func textHash(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// IngestChapters chunks the named chapters and replaces their chunk rows.
// Chapters already marked embedding-ready are skipped unless force is set.
// A missing chapter fails the whole call — the caller named it explicitly.
func (p *Pipeline) IngestChapters(ctx context.Context, chapterIDs []string, force bool) (IngestResult, error) {
	var res IngestResult
	for _, id := range chapterIDs {
		ch, err := p.store.Chapter(ctx, id)
		if err != nil {
			return res, fmt.Errorf("ingest: load chapter: %w", err)
		}
		if ch.EmbeddingReady && !force {
			res.Skipped = append(res.Skipped, id)
			continue
		}

		pieces := Split(ch.Content, p.chunkSize)
		rows := make([]store.ContentChunk, 0, len(pieces))
		for _, c := range pieces {
			rows = append(rows, store.ContentChunk{
				ID:         ChunkID(id, c.Index),
				ChapterID:  id,
				Content:    c.Content,
				CharOffset: c.Offset,
				Length:     c.Length,
				SourceURL:  "/docs/" + id,
				TextHash:   textHash(c.Content),
			})
		}
		if err := p.store.CreateChunks(ctx, id, rows); err != nil {
			return res, fmt.Errorf("ingest: persist chunks: %w", err)
		}

		p.log.Info("chapter chunked",
			slog.String("chapter", id),
			slog.Int("chunks", len(rows)),
			slog.Bool("force", force),
		)
		res.ChaptersProcessed++
		res.ChunksCreated += len(rows)
	}
	return res, nil
}

// EmbedResult summarises an embedding run.
type EmbedResult struct {
	// Embedded is the number of chunks written to the vector index.
	Embedded int `json:"embedded"`
	// Failed lists chunk IDs whose bookkeeping could not be updated after
	// the batch was written.
	Failed []string `json:"failed,omitempty"`
}

// EmbedChunks embeds the named chunks in one batched call and writes them to
// the vector index in one upsert, then back-fills each chunk's vector ID.
// Bookkeeping failures after a successful upsert are reported, not rolled
// back — the vectors are already live.
func (p *Pipeline) EmbedChunks(ctx context.Context, chunkIDs []string) (EmbedResult, error) {
	var res EmbedResult
	if p.index == nil {
		return res, fmt.Errorf("ingest: no vector index configured")
	}
	if len(chunkIDs) == 0 {
		return res, nil
	}

	docs := make([]rag.Document, 0, len(chunkIDs))
	chapters := make(map[string]bool)
	for _, id := range chunkIDs {
		c, err := p.store.Chunk(ctx, id)
		if err != nil {
			return res, fmt.Errorf("ingest: load chunk: %w", err)
		}
		chapters[c.ChapterID] = true
		docs = append(docs, rag.Document{
			ID:      VectorID(c.ID),
			Content: c.Content,
			Source:  c.SourceURL,
			Metadata: map[string]string{
				"chunk_id":   c.ID,
				"chapter_id": c.ChapterID,
			},
		})
	}

	if err := p.index.AddDocuments(ctx, docs); err != nil {
		return res, fmt.Errorf("ingest: index chunks: %w", err)
	}

	for _, id := range chunkIDs {
		if err := p.store.SetChunkEmbeddingID(ctx, id, VectorID(id)); err != nil {
			p.log.Warn("failed to record vector id", slog.String("chunk", id), slog.Any("error", err))
			res.Failed = append(res.Failed, id)
			continue
		}
		res.Embedded++
	}

	// A chapter is ready once every one of its chunks carries a vector ID.
	for chapterID := range chapters {
		chunks, err := p.store.ChunksByChapter(ctx, chapterID)
		if err != nil {
			p.log.Warn("failed to check chapter readiness", slog.String("chapter", chapterID), slog.Any("error", err))
			continue
		}
		ready := len(chunks) > 0
		for _, c := range chunks {
			if c.EmbeddingVectorID == "" {
				ready = false
				break
			}
		}
		if ready {
			if err := p.store.SetChapterEmbeddingReady(ctx, chapterID, true); err != nil {
				p.log.Warn("failed to mark chapter ready", slog.String("chapter", chapterID), slog.Any("error", err))
			}
		}
	}

	return res, nil
}

// DeleteChapter removes a chapter's chunks from both the relational store
// and the vector index.
func (p *Pipeline) DeleteChapter(ctx context.Context, chapterID string) error {
	if p.index == nil {
		return fmt.Errorf("ingest: no vector index configured")
	}
	ids, err := p.store.DeleteChunksByChapter(ctx, chapterID)
	if err != nil {
		return fmt.Errorf("ingest: delete chunk rows: %w", err)
	}

	vectorIDs := make([]string, 0, len(ids))
	for _, id := range ids {
		vectorIDs = append(vectorIDs, VectorID(id))
	}
	if err := p.index.DeleteDocuments(ctx, vectorIDs); err != nil {
		return fmt.Errorf("ingest: delete vectors: %w", err)
	}
	return nil
}
