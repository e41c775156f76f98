package ports

import (
	"context"
	"io"

	"github.com/kirillkom/knowledge-qa/internal/core/domain"
)

// SnapshotStore persists named snapshot blobs (keyword index, query cache).
type SnapshotStore interface {
	Save(ctx context.Context, key string, data io.Reader) error
	Open(ctx context.Context, key string) (io.ReadCloser, error)
}

// KeywordSearcher is the in-process exact-match keyword index.
type KeywordSearcher interface {
	Search(query string, topK int) []domain.KeywordHit
	Len() int
}

// DocumentStore resolves chunk ids to content and source.
type DocumentStore interface {
	GetChunks(ctx context.Context, ids []string) (map[string]domain.Chunk, error)
}

// ChunkLister streams every stored chunk; used to rebuild indexes.
type ChunkLister interface {
	ListChunks(ctx context.Context, fn func(domain.Chunk) error) error
}

// LexicalRanker is the statistical ranking index.
type LexicalRanker interface {
	TopK(ctx context.Context, text string, k int) ([]domain.LexicalHit, error)
}

// VectorIndex performs similarity search over embedded chunks.
type VectorIndex interface {
	SimilaritySearch(ctx context.Context, text string, k int) ([]domain.VectorHit, error)
}

// Embedder builds a dense vector for query text.
type Embedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// QueryExpander produces alternative phrasings of a query.
type QueryExpander interface {
	Expand(ctx context.Context, query string) (Expansion, error)
}

// Expansion is the output of a QueryExpander.
type Expansion struct {
	Variants []string
	Codes    []string
}

// RerankScorer scores each content against the query (cross-encoder style).
type RerankScorer interface {
	Score(ctx context.Context, query string, contents []string) ([]float64, error)
}

// RerankCompressor returns the most relevant documents in relevance order.
type RerankCompressor interface {
	Compress(ctx context.Context, query string, documents []string) ([]string, error)
}

// ResultReranker reorders and truncates fused search results.
type ResultReranker interface {
	Rerank(ctx context.Context, query string, results []domain.SearchResult) []domain.SearchResult
}

// CompletionRequest is a single completion call.
type CompletionRequest struct {
	Model        string
	Prompt       string
	SystemPrompt string
	Temperature  float64
	MaxTokens    int
}

// CompletionProvider is a hosted or local LLM completion endpoint bound to one model.
type CompletionProvider interface {
	Complete(ctx context.Context, req CompletionRequest) (string, error)
}

// ProviderFactory builds completion clients for a provider/model pair.
type ProviderFactory interface {
	NewProvider(provider domain.ProviderID, model string) (CompletionProvider, error)
}

// QueryCache stores answers by (query, mode, user).
type QueryCache interface {
	Get(ctx context.Context, query, mode, userID string) (domain.QueryResult, bool)
	Set(ctx context.Context, query, mode, userID string, result domain.QueryResult)
}

// DomainClassifier assigns a domain to a free-text query.
type DomainClassifier interface {
	Classify(query string) domain.DomainType
}

// MetricsRecorder receives engine observations. Implementations must be safe
// for concurrent use.
type MetricsRecorder interface {
	RecordSearchBackend(backend string, err error)
	RecordSearchResults(count int)
	RecordProviderCall(provider, model, slot, outcome string)
	RecordFailover(from, to string)
	RecordCacheLookup(hit bool)
	RecordCacheEviction()
	RecordCachePersistFailure(backend string)
	RecordCost(model string, inputTokens, outputTokens int, costUSD float64)
}

// NopMetrics discards every observation.
type NopMetrics struct{}

func (NopMetrics) RecordSearchBackend(string, error)                 {}
func (NopMetrics) RecordSearchResults(int)                           {}
func (NopMetrics) RecordProviderCall(string, string, string, string) {}
func (NopMetrics) RecordFailover(string, string)                     {}
func (NopMetrics) RecordCacheLookup(bool)                            {}
func (NopMetrics) RecordCacheEviction()                              {}
func (NopMetrics) RecordCachePersistFailure(string)                  {}
func (NopMetrics) RecordCost(string, int, int, float64)              {}

// CacheAdmin is the management side of the query cache.
type CacheAdmin interface {
	QueryCache
	Clear(ctx context.Context) error
	Stats() domain.CacheStats
}

// SnapshotLoader reloads an index from its persisted snapshot.
type SnapshotLoader interface {
	Load(ctx context.Context)
}

// ChunkReader resolves a single chunk; used by incremental index updates.
type ChunkReader interface {
	GetChunk(ctx context.Context, id string) (domain.Chunk, error)
}

// KeywordWriter mutates the keyword index and persists its snapshot.
type KeywordWriter interface {
	Add(docID, text string, weight float64)
	Remove(docID string) bool
	Save(ctx context.Context) error
}

// LexicalWriter mutates the ranking index.
type LexicalWriter interface {
	Put(ctx context.Context, chunk domain.Chunk) error
	Delete(ctx context.Context, id string) error
}
