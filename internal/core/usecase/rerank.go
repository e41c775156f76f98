package usecase

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"unicode"

	"github.com/kirillkom/knowledge-qa/internal/core/domain"
	"github.com/kirillkom/knowledge-qa/internal/core/lexicon"
	"github.com/kirillkom/knowledge-qa/internal/core/ports"
)

const defaultRerankTopN = 5

// Reranker reorders fused results with a pairwise scorer or a compressor.
// Without a backend, or when the backend fails, it returns the head of the
// input unchanged.
type Reranker struct {
	scorer     ports.RerankScorer
	compressor ports.RerankCompressor
	name       string
	topN       int
	logger     *slog.Logger
}

type RerankerOption func(*Reranker)

func WithScorer(name string, scorer ports.RerankScorer) RerankerOption {
	return func(r *Reranker) {
		r.scorer = scorer
		r.name = name
	}
}

func WithCompressor(name string, compressor ports.RerankCompressor) RerankerOption {
	return func(r *Reranker) {
		r.compressor = compressor
		r.name = name
	}
}

func NewReranker(topN int, logger *slog.Logger, opts ...RerankerOption) *Reranker {
	if topN <= 0 {
		topN = defaultRerankTopN
	}
	if logger == nil {
		logger = slog.Default()
	}
	r := &Reranker{topN: topN, logger: logger, name: "none"}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Name reports the active backend.
func (r *Reranker) Name() string {
	return r.name
}

func (r *Reranker) Rerank(ctx context.Context, query string, results []domain.SearchResult) []domain.SearchResult {
	if len(results) == 0 {
		return results
	}
	switch {
	case r.scorer != nil:
		if out, ok := r.byScore(ctx, query, results); ok {
			return out
		}
	case r.compressor != nil:
		if out, ok := r.byCompression(ctx, query, results); ok {
			return out
		}
	}
	return cloneResults(results[:min(r.topN, len(results))])
}

func (r *Reranker) byScore(ctx context.Context, query string, results []domain.SearchResult) ([]domain.SearchResult, bool) {
	contents := make([]string, len(results))
	for i, res := range results {
		contents[i] = res.Content
	}
	scores, err := r.scorer.Score(ctx, query, contents)
	if err != nil {
		r.logger.Warn("rerank_failed", "backend", r.name, "error", err)
		return nil, false
	}
	if len(scores) != len(results) {
		r.logger.Warn("rerank_failed", "backend", r.name, "error", "score count mismatch")
		return nil, false
	}

	order := make([]int, len(results))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return scores[order[a]] > scores[order[b]]
	})

	n := min(r.topN, len(results))
	out := make([]domain.SearchResult, 0, n)
	for _, idx := range order[:n] {
		out = append(out, cloneResult(results[idx]))
	}
	return out, true
}

func (r *Reranker) byCompression(ctx context.Context, query string, results []domain.SearchResult) ([]domain.SearchResult, bool) {
	documents := make([]string, len(results))
	for i, res := range results {
		documents[i] = res.Content
	}
	ranked, err := r.compressor.Compress(ctx, query, documents)
	if err != nil {
		r.logger.Warn("rerank_failed", "backend", r.name, "error", err)
		return nil, false
	}

	used := make([]bool, len(results))
	out := make([]domain.SearchResult, 0, r.topN)
	for _, doc := range ranked {
		if len(out) >= r.topN {
			break
		}
		for i, res := range results {
			if !used[i] && res.Content == doc {
				used[i] = true
				out = append(out, cloneResult(res))
				break
			}
		}
	}
	return out, true
}

// OverlapScorer scores passages by query token overlap, boosted when a
// product code from the query appears in the passage. It needs no model.
type OverlapScorer struct{}

func NewOverlapScorer() OverlapScorer {
	return OverlapScorer{}
}

func (OverlapScorer) Score(_ context.Context, query string, contents []string) ([]float64, error) {
	queryTokens := toTokenSet(query)
	codes := lexicon.ProductCodes(query)
	out := make([]float64, len(contents))
	for i, content := range contents {
		overlap := tokenOverlap(queryTokens, toTokenSet(content))
		out[i] = 0.75*overlap + 0.25*codeHit(codes, content)
	}
	return out, nil
}

func tokenOverlap(query, chunk map[string]struct{}) float64 {
	if len(query) == 0 || len(chunk) == 0 {
		return 0
	}
	matches := 0
	for token := range query {
		if _, ok := chunk[token]; ok {
			matches++
		}
	}
	return float64(matches) / float64(len(query))
}

func codeHit(codes []string, content string) float64 {
	if len(codes) == 0 {
		return 0
	}
	upper := strings.ToUpper(content)
	for _, code := range codes {
		if strings.Contains(upper, code) {
			return 1
		}
	}
	return 0
}

func toTokenSet(s string) map[string]struct{} {
	tokens := splitAlphaNumLower(s)
	tokens = append(tokens, lexicon.CJKGrams(s)...)
	out := make(map[string]struct{}, len(tokens))
	for _, token := range tokens {
		out[strings.ToLower(token)] = struct{}{}
	}
	return out
}

func splitAlphaNumLower(s string) []string {
	if s == "" {
		return nil
	}

	tokens := make([]string, 0, 16)
	var b strings.Builder
	for _, r := range s {
		r = unicode.ToLower(r)
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			continue
		}
		if b.Len() > 0 {
			tokens = append(tokens, b.String())
			b.Reset()
		}
	}
	if b.Len() > 0 {
		tokens = append(tokens, b.String())
	}
	return tokens
}

func cloneResult(r domain.SearchResult) domain.SearchResult {
	if r.Metadata != nil {
		meta := make(map[string]string, len(r.Metadata))
		for k, v := range r.Metadata {
			meta[k] = v
		}
		r.Metadata = meta
	}
	return r
}

func cloneResults(in []domain.SearchResult) []domain.SearchResult {
	out := make([]domain.SearchResult, len(in))
	for i, r := range in {
		out[i] = cloneResult(r)
	}
	return out
}
