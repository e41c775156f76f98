package usecase

import (
	"context"
	"crypto/sha256"
	"errors"
	"log/slog"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kirillkom/knowledge-qa/internal/core/domain"
	"github.com/kirillkom/knowledge-qa/internal/core/lexicon"
	"github.com/kirillkom/knowledge-qa/internal/core/ports"
)

const (
	backendKeyword = "keyword"
	backendLexical = "lexical_rank"
	backendVector  = "vector"

	lexicalRankScore = 1.5
	keywordWeight    = 2.0
	variantLabelLen  = 50
)

type SearchConfig struct {
	TopK             int
	MaxVariants      int
	VectorK          int
	FingerprintChars int
	BackendTimeout   time.Duration
	CodeBonus        float64
	Concurrency      int
}

func DefaultSearchConfig() SearchConfig {
	return SearchConfig{
		TopK:             5,
		MaxVariants:      5,
		VectorK:          5,
		FingerprintChars: 200,
		BackendTimeout:   8 * time.Second,
		CodeBonus:        2.0,
		Concurrency:      8,
	}
}

func (c SearchConfig) withDefaults() SearchConfig {
	d := DefaultSearchConfig()
	if c.TopK <= 0 {
		c.TopK = d.TopK
	}
	if c.MaxVariants <= 0 {
		c.MaxVariants = d.MaxVariants
	}
	if c.VectorK <= 0 {
		c.VectorK = d.VectorK
	}
	if c.FingerprintChars <= 0 {
		c.FingerprintChars = d.FingerprintChars
	}
	if c.BackendTimeout <= 0 {
		c.BackendTimeout = d.BackendTimeout
	}
	if c.CodeBonus <= 0 {
		c.CodeBonus = d.CodeBonus
	}
	if c.Concurrency <= 0 {
		c.Concurrency = d.Concurrency
	}
	return c
}

// SearchBackends lists the optional collaborators of HybridSearcher. Nil
// members are skipped.
type SearchBackends struct {
	Keyword  ports.KeywordSearcher
	Docs     ports.DocumentStore
	Lexical  ports.LexicalRanker
	Vector   ports.VectorIndex
	Expander ports.QueryExpander
	Reranker ports.ResultReranker
}

// HybridSearcher fans a query and its variants out to the keyword, lexical
// and vector backends and merges the hits into one ranked list.
type HybridSearcher struct {
	backends SearchBackends
	cfg      SearchConfig
	logger   *slog.Logger
	metrics  ports.MetricsRecorder
}

func NewHybridSearcher(backends SearchBackends, cfg SearchConfig, logger *slog.Logger, metrics ports.MetricsRecorder) *HybridSearcher {
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = ports.NopMetrics{}
	}
	return &HybridSearcher{backends: backends, cfg: cfg.withDefaults(), logger: logger, metrics: metrics}
}

// call is one (variant, backend) slot in the fan-out. Slots are written by
// exactly one goroutine and read after Wait.
type call struct {
	backend string
	variant string
	results []domain.SearchResult
	err     error
}

func (s *HybridSearcher) Search(ctx context.Context, query string, domainType domain.DomainType, topK int) ([]domain.SearchResult, error) {
	if topK <= 0 {
		topK = s.cfg.TopK
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	backends := s.activeBackends()
	if len(backends) == 0 {
		return nil, domain.WrapError(domain.ErrNotInitialized, "hybrid search", errors.New("no retrieval backend configured"))
	}

	variants, codes := s.variants(ctx, query, domainType)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	calls := make([]call, 0, len(variants)*len(backends))
	for _, variant := range variants {
		for _, backend := range backends {
			calls = append(calls, call{backend: backend, variant: variant})
		}
	}

	var g errgroup.Group
	g.SetLimit(s.cfg.Concurrency)
	for i := range calls {
		c := &calls[i]
		g.Go(func() error {
			callCtx, cancel := context.WithTimeout(ctx, s.cfg.BackendTimeout)
			defer cancel()
			c.results, c.err = s.run(callCtx, c.backend, c.variant, domainType, topK, codes)
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	failed := 0
	merged := make([]domain.SearchResult, 0, len(calls)*topK)
	seen := make(map[[sha256.Size]byte]struct{})
	for _, c := range calls {
		s.metrics.RecordSearchBackend(c.backend, c.err)
		if c.err != nil {
			failed++
			s.logger.Warn("search_backend_failed", "backend", c.backend, "variant", c.variant, "error", c.err)
			continue
		}
		for _, r := range c.results {
			fp := fingerprint(r.Content, s.cfg.FingerprintChars)
			if _, dup := seen[fp]; dup {
				continue
			}
			seen[fp] = struct{}{}
			merged = append(merged, r)
		}
	}
	if failed == len(calls) {
		return nil, domain.WrapError(domain.ErrBackendUnavailable, "hybrid search", errors.New("every retrieval backend failed"))
	}

	if s.backends.Reranker != nil && len(merged) > 0 {
		merged = s.backends.Reranker.Rerank(ctx, query, merged)
	} else {
		sort.SliceStable(merged, func(i, j int) bool { return merged[i].Score > merged[j].Score })
	}
	if len(merged) > topK {
		merged = merged[:topK]
	}

	s.metrics.RecordSearchResults(len(merged))
	s.logger.Debug("search_completed",
		"domain_type", domainType,
		"variants", len(variants),
		"calls", len(calls),
		"failed_calls", failed,
		"results", len(merged),
	)
	return merged, nil
}

func (s *HybridSearcher) activeBackends() []string {
	out := make([]string, 0, 3)
	if s.backends.Keyword != nil && s.backends.Docs != nil && s.backends.Keyword.Len() > 0 {
		out = append(out, backendKeyword)
	}
	if s.backends.Lexical != nil {
		out = append(out, backendLexical)
	}
	if s.backends.Vector != nil {
		out = append(out, backendVector)
	}
	return out
}

// variants returns the original query first, then expander output for the
// technical domain, capped at MaxVariants. Codes feed the keyword bonus.
func (s *HybridSearcher) variants(ctx context.Context, query string, domainType domain.DomainType) ([]string, []string) {
	variants := []string{query}
	codes := lexicon.ProductCodes(query)
	if domainType == domain.DomainTechnical && s.backends.Expander != nil {
		expansion, err := s.backends.Expander.Expand(ctx, query)
		if err != nil {
			s.logger.Warn("query_expansion_failed", "error", err)
		} else {
			variants = append(variants, expansion.Variants...)
			codes = dedupeStrings(append(codes, expansion.Codes...))
		}
	}
	variants = dedupeStrings(variants)
	if len(variants) > s.cfg.MaxVariants {
		variants = variants[:s.cfg.MaxVariants]
	}
	return variants, codes
}

func (s *HybridSearcher) run(ctx context.Context, backend, variant string, domainType domain.DomainType, topK int, codes []string) ([]domain.SearchResult, error) {
	switch backend {
	case backendKeyword:
		return s.keywordResults(ctx, variant, domainType, topK, codes)
	case backendLexical:
		hits, err := s.backends.Lexical.TopK(ctx, variant, topK)
		if err != nil {
			return nil, err
		}
		out := make([]domain.SearchResult, 0, len(hits))
		for _, h := range hits {
			out = append(out, domain.SearchResult{
				Content:    h.Content,
				Source:     h.Source,
				DomainType: domainType,
				Score:      lexicalRankScore,
				Metadata:   matchMetadata(domain.MatchLexicalRank, variant),
			})
		}
		return out, nil
	case backendVector:
		hits, err := s.backends.Vector.SimilaritySearch(ctx, variant, s.cfg.VectorK)
		if err != nil {
			return nil, err
		}
		out := make([]domain.SearchResult, 0, len(hits))
		for _, h := range hits {
			out = append(out, domain.SearchResult{
				Content:    h.Content,
				Source:     h.Source,
				DomainType: domainType,
				Score:      1 / (1 + h.Distance),
				Metadata:   matchMetadata(domain.MatchVector, variant),
			})
		}
		return out, nil
	default:
		return nil, nil
	}
}

func (s *HybridSearcher) keywordResults(ctx context.Context, variant string, domainType domain.DomainType, topK int, codes []string) ([]domain.SearchResult, error) {
	hits := s.backends.Keyword.Search(variant, topK)
	if len(hits) == 0 {
		return nil, nil
	}
	ids := make([]string, len(hits))
	for i, h := range hits {
		ids[i] = h.DocumentID
	}
	chunks, err := s.backends.Docs.GetChunks(ctx, ids)
	if err != nil {
		return nil, err
	}

	out := make([]domain.SearchResult, 0, len(hits))
	for _, h := range hits {
		chunk, ok := chunks[h.DocumentID]
		if !ok {
			continue
		}
		bonus := 1.0
		upper := strings.ToUpper(chunk.Content)
		for _, code := range codes {
			if strings.Contains(upper, strings.ToUpper(code)) {
				bonus = s.cfg.CodeBonus
				break
			}
		}
		meta := matchMetadata(domain.MatchKeyword, variant)
		meta[domain.MetaDocumentID] = h.DocumentID
		out = append(out, domain.SearchResult{
			Content:    chunk.Content,
			Source:     chunk.Source,
			DomainType: domainType,
			Score:      h.Score * keywordWeight * bonus,
			Metadata:   meta,
		})
	}
	return out, nil
}

func matchMetadata(match domain.MatchType, variant string) map[string]string {
	return map[string]string{
		domain.MetaMatchType:    string(match),
		domain.MetaQueryVariant: truncateRunes(variant, variantLabelLen),
	}
}

func fingerprint(content string, chars int) [sha256.Size]byte {
	return sha256.Sum256([]byte(truncateRunes(content, chars)))
}

func truncateRunes(s string, n int) string {
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}
