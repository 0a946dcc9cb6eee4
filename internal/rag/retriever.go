package rag

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strconv"
	"time"
)

// Retriever combines an Embedder, a VectorStore, and an optional ResultCache
// into the high-level search operations used by the agent and the HTTP
// handlers. All methods are safe to call from multiple goroutines.
type Retriever struct {
	// embedder converts query and document text to dense vectors.
	embedder Embedder

	// store performs the vector similarity search.
	store VectorStore

	// cache short-circuits repeated searches. nil disables caching.
	cache ResultCache

	// collection names the vector collection, part of every cache key so
	// results from different collections never alias.
	collection string

	// defaultTopK is the result count used when the caller passes 0.
	defaultTopK int

	// cacheTTL bounds the lifetime of cached search results.
	cacheTTL time.Duration

	// retry bounds retries of the embed and search remote calls.
	retry RetryPolicy

	// metrics is optional; nil disables instrumentation.
	metrics *Metrics

	log *slog.Logger
}

// RetrieverOptions configures NewRetriever.
type RetrieverOptions struct {
	// Cache is the optional search-result cache.
	Cache ResultCache

	// Collection names the vector collection for cache-key purposes.
	Collection string

	// DefaultTopK is the fallback result count (default 5).
	DefaultTopK int

	// CacheTTL is the lifetime of cached results (default 1h).
	CacheTTL time.Duration

	// Retry overrides the remote-call retry policy when non-zero.
	Retry RetryPolicy

	// Metrics receives retrieval counters when non-nil.
	Metrics *Metrics

	// Logger defaults to slog.Default when nil.
	Logger *slog.Logger
}

// NewRetriever constructs a Retriever from the given Embedder and VectorStore.
func NewRetriever(embedder Embedder, store VectorStore, opts RetrieverOptions) (*Retriever, error) {
	if embedder == nil {
		return nil, fmt.Errorf("rag: embedder must not be nil")
	}
	if store == nil {
		return nil, fmt.Errorf("rag: store must not be nil")
	}
	if opts.DefaultTopK <= 0 {
		opts.DefaultTopK = 5
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = time.Hour
	}
	if opts.Retry.Attempts == 0 {
		opts.Retry = DefaultRetryPolicy()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	return &Retriever{
		embedder:    embedder,
		store:       store,
		cache:       opts.Cache,
		collection:  opts.Collection,
		defaultTopK: opts.DefaultTopK,
		cacheTTL:    opts.CacheTTL,
		retry:       opts.Retry,
		metrics:     opts.Metrics,
		log:         opts.Logger,
	}, nil
}

// CacheKey derives the deterministic cache key for a search. It is a pure
// function of the query text, the result count, and the collection name.
func CacheKey(query string, topK int, collection string) string {
	h := sha256.New()
	h.Write([]byte(query))
	h.Write([]byte{0})
	h.Write([]byte(strconv.Itoa(topK)))
	h.Write([]byte{0})
	h.Write([]byte(collection))
	return cacheKeyPrefix + hex.EncodeToString(h.Sum(nil))
}

// Search returns the top-k most relevant documents for the query, highest
// similarity first. Cached results are returned without touching the
// embedder or the index; uncached searches embed the query and hit the
// vector store, each call retried independently so a search failure does
// not pay for a second embedding.
func (r *Retriever) Search(ctx context.Context, query string, topK int) ([]Document, error) {
	if topK <= 0 {
		topK = r.defaultTopK
	}

	key := CacheKey(query, topK, r.collection)
	if r.cache != nil {
		if docs, ok := r.cache.Get(ctx, key); ok {
			if r.metrics != nil {
				r.metrics.cacheHitsTotal.Inc()
			}
			return docs, nil
		}
	}
	if r.metrics != nil {
		r.metrics.cacheMissesTotal.Inc()
	}

	start := time.Now()

	var embeddings [][]float32
	err := r.retry.Do(ctx, func() error {
		var embedErr error
		embeddings, embedErr = r.embedder.Embed(ctx, []string{query})
		return embedErr
	})
	if err != nil {
		return nil, fmt.Errorf("rag: embedding query failed: %w", err)
	}
	if len(embeddings) == 0 {
		return nil, fmt.Errorf("rag: embedder returned empty result for query")
	}

	var docs []Document
	err = r.retry.Do(ctx, func() error {
		var searchErr error
		docs, searchErr = r.store.Search(ctx, embeddings[0], topK)
		return searchErr
	})
	if err != nil {
		return nil, fmt.Errorf("rag: vector search failed: %w", err)
	}

	if r.metrics != nil {
		r.metrics.searchDurationSeconds.Observe(time.Since(start).Seconds())
	}

	if r.cache != nil {
		if err := r.cache.Set(ctx, key, docs, r.cacheTTL); err != nil {
			r.log.Warn("cache write failed", "error", err)
		}
	}

	return docs, nil
}

// RelevantContext assembles the retrieved context for answer generation.
// It never returns an error: when retrieval fails it logs the cause and
// returns an empty, Degraded result so the caller can still answer from
// model knowledge alone.
func (r *Retriever) RelevantContext(ctx context.Context, query string, maxSources int) ContextResult {
	docs, err := r.Search(ctx, query, maxSources)
	if err != nil {
		r.log.Warn("retrieval degraded, answering without context", "error", err)
		return ContextResult{Context: []string{}, Sources: []string{}, Degraded: true}
	}

	res := ContextResult{
		Context: make([]string, 0, len(docs)),
		Sources: make([]string, 0, len(docs)),
	}
	seen := make(map[string]bool, len(docs))
	for _, d := range docs {
		res.Context = append(res.Context, d.Content)
		src := d.Source
		if src == "" {
			// Unlabelled documents are still attributable by their ID.
			src = d.ID
		}
		if src != "" && !seen[src] {
			seen[src] = true
			res.Sources = append(res.Sources, src)
		}
	}
	return res
}

// AddDocument embeds and stores a single document.
func (r *Retriever) AddDocument(ctx context.Context, doc Document) error {
	return r.AddDocuments(ctx, []Document{doc})
}

// AddDocuments embeds a batch of documents in one embedder call and stores
// them in one upsert.
func (r *Retriever) AddDocuments(ctx context.Context, docs []Document) error {
	if len(docs) == 0 {
		return nil
	}

	texts := make([]string, len(docs))
	for i, d := range docs {
		texts[i] = d.Content
	}

	var embeddings [][]float32
	err := r.retry.Do(ctx, func() error {
		var embedErr error
		embeddings, embedErr = r.embedder.Embed(ctx, texts)
		return embedErr
	})
	if err != nil {
		return fmt.Errorf("rag: embedding documents failed: %w", err)
	}
	if len(embeddings) != len(docs) {
		return fmt.Errorf("rag: embedder returned %d vectors for %d documents", len(embeddings), len(docs))
	}

	err = r.retry.Do(ctx, func() error {
		return r.store.Upsert(ctx, docs, embeddings)
	})
	if err != nil {
		return fmt.Errorf("rag: storing documents failed: %w", err)
	}

	return nil
}

// DeleteDocument removes a document from the index and purges the whole
// result cache, since any cached search may have included it.
func (r *Retriever) DeleteDocument(ctx context.Context, id string) error {
	return r.DeleteDocuments(ctx, []string{id})
}

// DeleteDocuments removes a batch of documents in one call, then purges the
// result cache once.
func (r *Retriever) DeleteDocuments(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := r.store.Delete(ctx, ids); err != nil {
		return fmt.Errorf("rag: delete failed: %w", err)
	}
	if r.cache != nil {
		if err := r.cache.Purge(ctx); err != nil {
			r.log.Warn("cache purge after delete failed", "error", err)
		}
	}
	return nil
}

// ClearCache removes every cached search result. A nil cache is a no-op.
func (r *Retriever) ClearCache(ctx context.Context) error {
	if r.cache == nil {
		return nil
	}
	return r.cache.Purge(ctx)
}

// Stats reports collection-level counters from the vector store.
func (r *Retriever) Stats(ctx context.Context) (Stats, error) {
	return r.store.Stats(ctx)
}

// HealthCheck reports whether the retrieval path is usable: the embedder
// answers a cheap probe and the vector store responds to a ping.
func (r *Retriever) HealthCheck(ctx context.Context) bool {
	if _, err := r.embedder.Embed(ctx, []string{"health check"}); err != nil {
		r.log.Warn("retriever health check: embedder unavailable", "error", err)
		return false
	}
	if err := r.store.Ping(ctx); err != nil {
		r.log.Warn("retriever health check: vector store unavailable", "error", err)
		return false
	}
	return true
}
