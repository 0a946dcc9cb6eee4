package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/booksage-ai/booksage/internal/embedder"
	"github.com/booksage-ai/booksage/internal/rag"
)

// getEnvOrDefault returns the env var value, or def when unset or empty.
func getEnvOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// getEnvInt returns the env var parsed as int, or def when unset or invalid.
func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

// retrievalStack bundles the retriever with its backends so the serve
// command can register readiness pingers against them.
type retrievalStack struct {
	Retriever *rag.Retriever
	Store     *rag.QdrantStore
	// Cache is nil when REDIS_ADDR is unset.
	Cache rag.ResultCache
}

// buildRetriever wires the embedder, the Qdrant vector store, and the
// optional Redis result cache into a Retriever. reg may be nil to skip
// retrieval metrics. The returned close function releases both backends.
func buildRetriever(ctx context.Context, log *slog.Logger, reg prometheus.Registerer) (*retrievalStack, func(), error) {
	if err := embedder.Validate(log); err != nil {
		return nil, nil, err
	}

	emb, err := embedder.NewFromEnv()
	if err != nil {
		return nil, nil, fmt.Errorf("initialise embedder: %w", err)
	}

	collection := getEnvOrDefault("QDRANT_COLLECTION", "booksage-chunks")
	vectorSize := uint64(embedder.DefaultDimensions(embedder.ResolveBackend()))

	store, err := rag.NewQdrantStore(ctx, &rag.QdrantConfig{
		Host:       getEnvOrDefault("QDRANT_HOST", "localhost"),
		Port:       getEnvInt("QDRANT_PORT", 6334),
		Collection: collection,
		VectorSize: vectorSize,
		APIKey:     os.Getenv("QDRANT_API_KEY"),
		UseTLS:     os.Getenv("QDRANT_TLS") == "true",
	})
	if err != nil {
		return nil, nil, fmt.Errorf("connect to qdrant: %w", err)
	}

	// The result cache is optional: no REDIS_ADDR means every search hits
	// the backends directly.
	var cache rag.ResultCache
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		rc, err := rag.NewRedisCache(rag.RedisConfig{
			Addr:     addr,
			Username: os.Getenv("REDIS_USERNAME"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       getEnvInt("REDIS_DB", 0),
		}, log)
		if err != nil {
			log.Warn("redis cache unavailable, continuing without it", slog.Any("error", err))
		} else {
			cache = rc
			log.Info("redis result cache enabled", slog.String("addr", addr))
		}
	}

	var metrics *rag.Metrics
	if reg != nil {
		metrics = rag.NewMetrics(reg)
	}

	retriever, err := rag.NewRetriever(emb, store, rag.RetrieverOptions{
		Cache:       cache,
		Collection:  collection,
		DefaultTopK: getEnvInt("RETRIEVAL_TOP_K", 5),
		CacheTTL:    time.Duration(getEnvInt("CACHE_TTL_SECONDS", 3600)) * time.Second,
		Metrics:     metrics,
		Logger:      log,
	})
	if err != nil {
		store.Close()
		if cache != nil {
			cache.Close()
		}
		return nil, nil, fmt.Errorf("initialise retriever: %w", err)
	}

	closer := func() {
		store.Close()
		if cache != nil {
			cache.Close()
		}
	}
	return &retrievalStack{Retriever: retriever, Store: store, Cache: cache}, closer, nil
}
