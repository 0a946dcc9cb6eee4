// Package rag implements the retrieval side of the pipeline: vector storage,
// query-result caching, and the retriever that combines embedding, search,
// and cache into a single Search call. Concrete backends (Qdrant, Redis)
// satisfy small interfaces so the agent layer never depends on a specific
// one.
package rag

import (
	"context"
	"time"
)

// Document represents a unit of retrieved or stored knowledge.
type Document struct {
	// ID is the unique identifier for this document chunk.
	ID string `json:"id"`

	// Content is the raw text content of the chunk.
	Content string `json:"content"`

	// Source is the origin URI or file path of the document.
	Source string `json:"source"`

	// Metadata holds arbitrary key-value pairs (chapter, section, etc.).
	Metadata map[string]string `json:"metadata,omitempty"`

	// Score is the similarity score assigned during retrieval (0.0–1.0).
	// Zero value means the score was not computed.
	Score float32 `json:"score"`
}

// Stats summarises the state of the vector collection.
type Stats struct {
	// VectorsCount is the number of vectors stored in the collection.
	VectorsCount uint64 `json:"vectors_count"`

	// IndexedVectorsCount is the number of vectors covered by the HNSW index.
	IndexedVectorsCount uint64 `json:"indexed_vectors_count"`

	// PointsCount is the total number of points in the collection.
	PointsCount uint64 `json:"points_count"`
}

// Embedder is the interface for converting text into dense vector embeddings.
// Implementations must be safe to call from multiple goroutines.
type Embedder interface {
	// Embed converts a batch of texts into their corresponding embeddings.
	// The returned slice is parallel to the input slice.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// VectorStore is the interface for persisting and searching document embeddings.
// Implementations must be safe to call from multiple goroutines.
type VectorStore interface {
	// Upsert stores or updates a batch of documents with their pre-computed
	// embeddings. The embeddings slice must be parallel to docs —
	// embeddings[i] is the vector for docs[i].
	Upsert(ctx context.Context, docs []Document, embeddings [][]float32) error

	// Search performs a semantic similarity search and returns the top-k
	// most relevant documents for the given query embedding, highest
	// similarity first.
	Search(ctx context.Context, queryEmbedding []float32, topK int) ([]Document, error)

	// Delete removes documents by their IDs.
	Delete(ctx context.Context, ids []string) error

	// Stats reports collection-level counters.
	Stats(ctx context.Context) (Stats, error)

	// Ping checks that the store is reachable.
	Ping(ctx context.Context) error

	// Close releases any resources held by the store.
	Close() error
}

// ResultCache stores search results keyed by a deterministic query hash.
// All operations are best-effort from the retriever's point of view: a
// failing cache must never fail a search.
type ResultCache interface {
	// Get returns the cached documents for key, or ok=false on a miss or
	// any cache error.
	Get(ctx context.Context, key string) (docs []Document, ok bool)

	// Set stores docs under key with the given TTL.
	Set(ctx context.Context, key string, docs []Document, ttl time.Duration) error

	// Purge removes every cached search result.
	Purge(ctx context.Context) error

	// Ping checks that the cache is reachable.
	Ping(ctx context.Context) error

	// Close releases the underlying connection.
	Close()
}

// ContextResult is the outcome of a context-assembly retrieval. It is always
// usable: when retrieval fails the slices are empty and Degraded is true, so
// the caller can proceed without retrieved context instead of failing the
// request.
type ContextResult struct {
	// Context holds the text of each retrieved chunk, best match first.
	Context []string

	// Sources holds the origin of each chunk, parallel to Context before
	// deduplication, then deduplicated preserving first-seen order.
	Sources []string

	// Degraded is true when retrieval failed and the result is empty
	// because of that failure rather than a genuinely empty index.
	Degraded bool
}
