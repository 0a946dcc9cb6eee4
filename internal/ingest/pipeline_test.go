package ingest

import (
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/booksage-ai/booksage/internal/rag"
	"github.com/booksage-ai/booksage/internal/store"
)

// fakeIndex records documents written to and removed from the vector index.
type fakeIndex struct {
	added   [][]rag.Document
	deleted [][]string
}

func (f *fakeIndex) AddDocuments(_ context.Context, docs []rag.Document) error {
	f.added = append(f.added, docs)
	return nil
}

func (f *fakeIndex) DeleteDocuments(_ context.Context, ids []string) error {
	f.deleted = append(f.deleted, ids)
	return nil
}

func newTestPipeline(t *testing.T) (*Pipeline, *store.Store, *fakeIndex) {
	t.Helper()
	st, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	idx := &fakeIndex{}
	p, err := NewPipeline(st, idx, 50, slog.New(slog.DiscardHandler))
	if err != nil {
		t.Fatalf("NewPipeline: %v", err)
	}
	return p, st, idx
}

func TestIngestChapters_CreatesChunkRows(t *testing.T) {
	t.Parallel()
	p, st, _ := newTestPipeline(t)
	ctx := context.Background()

	content := "Cells are the basic unit of life.\n\nThey divide by mitosis."
	if err := st.UpsertChapter(ctx, store.Chapter{ID: "ch01", Title: "Cells", Content: content}); err != nil {
		t.Fatalf("upsert chapter: %v", err)
	}

	res, err := p.IngestChapters(ctx, []string{"ch01"}, false)
	if err != nil {
		t.Fatalf("IngestChapters: %v", err)
	}
	if res.ChaptersProcessed != 1 || res.ChunksCreated != 2 {
		t.Errorf("result = %+v, want 1 chapter / 2 chunks", res)
	}

	chunks, err := st.ChunksByChapter(ctx, "ch01")
	if err != nil {
		t.Fatalf("chunks: %v", err)
	}
	if len(chunks) != 2 {
		t.Fatalf("got %d chunk rows", len(chunks))
	}
	if chunks[0].ID != "ch01_chunk_0" || chunks[1].ID != "ch01_chunk_1" {
		t.Errorf("chunk ids = %q, %q", chunks[0].ID, chunks[1].ID)
	}
	if chunks[0].SourceURL != "/docs/ch01" {
		t.Errorf("source url = %q", chunks[0].SourceURL)
	}
	if chunks[0].TextHash == "" || chunks[0].TextHash == chunks[1].TextHash {
		t.Error("chunks should carry distinct content hashes")
	}
}

func TestIngestChapters_SkipsEmbeddedUnlessForced(t *testing.T) {
	t.Parallel()
	p, st, _ := newTestPipeline(t)
	ctx := context.Background()

	if err := st.UpsertChapter(ctx, store.Chapter{ID: "ch02", Title: "T", Content: "short"}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if _, err := p.IngestChapters(ctx, []string{"ch02"}, false); err != nil {
		t.Fatalf("first ingest: %v", err)
	}
	if err := st.SetChapterEmbeddingReady(ctx, "ch02", true); err != nil {
		t.Fatalf("set ready: %v", err)
	}

	res, err := p.IngestChapters(ctx, []string{"ch02"}, false)
	if err != nil {
		t.Fatalf("second ingest: %v", err)
	}
	if res.ChaptersProcessed != 0 || len(res.Skipped) != 1 {
		t.Errorf("embedded chapter should be skipped without force: %+v", res)
	}

	res, err = p.IngestChapters(ctx, []string{"ch02"}, true)
	if err != nil {
		t.Fatalf("forced ingest: %v", err)
	}
	if res.ChaptersProcessed != 1 {
		t.Errorf("forced ingest should reprocess: %+v", res)
	}
}

func TestIngestChapters_MissingChapterFails(t *testing.T) {
	t.Parallel()
	p, _, _ := newTestPipeline(t)

	if _, err := p.IngestChapters(context.Background(), []string{"nope"}, false); err == nil {
		t.Fatal("expected error for unknown chapter")
	}
}

func TestEmbedChunks_BatchesAndBackfills(t *testing.T) {
	t.Parallel()
	p, st, idx := newTestPipeline(t)
	ctx := context.Background()

	if err := st.UpsertChapter(ctx, store.Chapter{ID: "ch03", Title: "T", Content: "alpha\n\nbeta"}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if _, err := p.IngestChapters(ctx, []string{"ch03"}, false); err != nil {
		t.Fatalf("ingest: %v", err)
	}

	res, err := p.EmbedChunks(ctx, []string{"ch03_chunk_0", "ch03_chunk_1"})
	if err != nil {
		t.Fatalf("EmbedChunks: %v", err)
	}
	if res.Embedded != 2 || len(res.Failed) != 0 {
		t.Errorf("result = %+v", res)
	}

	// One batched upsert with vector-ID documents carrying chunk metadata.
	if len(idx.added) != 1 || len(idx.added[0]) != 2 {
		t.Fatalf("index writes = %v, want one batch of 2", idx.added)
	}
	doc := idx.added[0][0]
	if doc.Metadata["chunk_id"] != "ch03_chunk_0" || doc.Metadata["chapter_id"] != "ch03" {
		t.Errorf("document metadata = %v", doc.Metadata)
	}
	if doc.ID == "ch03_chunk_0" || !strings.Contains(doc.ID, "-") {
		t.Errorf("document id %q should be a derived UUID", doc.ID)
	}

	// Vector IDs back-filled and the chapter marked ready.
	c, err := st.Chunk(ctx, "ch03_chunk_0")
	if err != nil {
		t.Fatalf("chunk: %v", err)
	}
	if c.EmbeddingVectorID != VectorID("ch03_chunk_0") {
		t.Errorf("embedding_vector_id = %q", c.EmbeddingVectorID)
	}
	ch, err := st.Chapter(ctx, "ch03")
	if err != nil {
		t.Fatalf("chapter: %v", err)
	}
	if !ch.EmbeddingReady {
		t.Error("chapter should be embedding_ready after all chunks embedded")
	}
}

func TestEmbedChunks_PartialChapterNotReady(t *testing.T) {
	t.Parallel()
	p, st, _ := newTestPipeline(t)
	ctx := context.Background()

	if err := st.UpsertChapter(ctx, store.Chapter{ID: "ch04", Title: "T", Content: "alpha\n\nbeta"}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if _, err := p.IngestChapters(ctx, []string{"ch04"}, false); err != nil {
		t.Fatalf("ingest: %v", err)
	}

	if _, err := p.EmbedChunks(ctx, []string{"ch04_chunk_0"}); err != nil {
		t.Fatalf("EmbedChunks: %v", err)
	}

	ch, err := st.Chapter(ctx, "ch04")
	if err != nil {
		t.Fatalf("chapter: %v", err)
	}
	if ch.EmbeddingReady {
		t.Error("chapter with unembedded chunks must not be marked ready")
	}
}

func TestVectorID_Deterministic(t *testing.T) {
	t.Parallel()

	if VectorID("ch01_chunk_0") != VectorID("ch01_chunk_0") {
		t.Error("VectorID must be stable for the same chunk")
	}
	if VectorID("ch01_chunk_0") == VectorID("ch01_chunk_1") {
		t.Error("different chunks must get different vector IDs")
	}
}

func TestDeleteChapter_RemovesRowsAndVectors(t *testing.T) {
	t.Parallel()
	p, st, idx := newTestPipeline(t)
	ctx := context.Background()

	if err := st.UpsertChapter(ctx, store.Chapter{ID: "ch05", Title: "T", Content: "alpha\n\nbeta"}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if _, err := p.IngestChapters(ctx, []string{"ch05"}, false); err != nil {
		t.Fatalf("ingest: %v", err)
	}

	if err := p.DeleteChapter(ctx, "ch05"); err != nil {
		t.Fatalf("DeleteChapter: %v", err)
	}

	chunks, err := st.ChunksByChapter(ctx, "ch05")
	if err != nil {
		t.Fatalf("chunks: %v", err)
	}
	if len(chunks) != 0 {
		t.Errorf("chunk rows remain after delete: %d", len(chunks))
	}
	if len(idx.deleted) != 1 || len(idx.deleted[0]) != 2 {
		t.Errorf("vector deletes = %v, want one batch of 2", idx.deleted)
	}
}

func TestEmbedChunks_NoIndexConfigured(t *testing.T) {
	t.Parallel()

	st, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	p, err := NewPipeline(st, nil, 50, slog.New(slog.DiscardHandler))
	if err != nil {
		t.Fatalf("NewPipeline: %v", err)
	}

	if _, err := p.EmbedChunks(t.Context(), []string{"ch01_chunk_0"}); err == nil {
		t.Error("expected error when no index is configured")
	}
}
