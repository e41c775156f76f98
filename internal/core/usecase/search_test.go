package usecase

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kirillkom/knowledge-qa/internal/core/domain"
)

type keywordFake struct {
	hits  []domain.KeywordHit
	calls atomic.Int32
}

func (f *keywordFake) Search(string, int) []domain.KeywordHit {
	f.calls.Add(1)
	return f.hits
}

func (f *keywordFake) Len() int { return len(f.hits) }

type docsFake struct {
	chunks map[string]domain.Chunk
	err    error
}

func (f *docsFake) GetChunks(_ context.Context, ids []string) (map[string]domain.Chunk, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make(map[string]domain.Chunk, len(ids))
	for _, id := range ids {
		if c, ok := f.chunks[id]; ok {
			out[id] = c
		}
	}
	return out, nil
}

type lexicalFake struct {
	hits []domain.LexicalHit
	err  error
}

func (f *lexicalFake) TopK(context.Context, string, int) ([]domain.LexicalHit, error) {
	return f.hits, f.err
}

type vectorFake struct {
	hits  []domain.VectorHit
	err   error
	block bool
}

func (f *vectorFake) SimilaritySearch(ctx context.Context, _ string, _ int) ([]domain.VectorHit, error) {
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return f.hits, f.err
}

type rerankerFake struct {
	seen int
	topN int
}

func (f *rerankerFake) Rerank(_ context.Context, _ string, results []domain.SearchResult) []domain.SearchResult {
	f.seen = len(results)
	if len(results) > f.topN {
		return results[:f.topN]
	}
	return results
}

func threeBackends() SearchBackends {
	return SearchBackends{
		Keyword: &keywordFake{hits: []domain.KeywordHit{{DocumentID: "doc-1", Score: 3}}},
		Docs: &docsFake{chunks: map[string]domain.Chunk{
			"doc-1": {ID: "doc-1", Content: "MXJ6-10 精密滑台氣缸 規格表", Source: "/catalog/smc/mxj.pdf"},
		}},
		Lexical: &lexicalFake{hits: []domain.LexicalHit{{Content: "MXJ 系列安裝說明", Source: "/catalog/smc/install.md"}}},
		Vector:  &vectorFake{hits: []domain.VectorHit{{Content: "滑台氣缸行程選型", Source: "/catalog/smc/select.md", Distance: 0.25}}},
	}
}

func TestHybridSearchMergesThreeBackendsBeforeRerank(t *testing.T) {
	backends := threeBackends()
	backends.Expander = NewRuleExpander(nil, nil)
	reranker := &rerankerFake{topN: 2}
	backends.Reranker = reranker

	s := NewHybridSearcher(backends, SearchConfig{TopK: 5}, nil, nil)
	results, err := s.Search(context.Background(), "MXJ6-10 氣缸規格", domain.DomainTechnical, 5)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if reranker.seen != 3 {
		t.Fatalf("expected 3 merged results before rerank, got %d", reranker.seen)
	}
	if len(results) != 2 {
		t.Fatalf("expected reranker topN results, got %d", len(results))
	}
}

func TestHybridSearchScoresAndOrdersWithoutReranker(t *testing.T) {
	s := NewHybridSearcher(threeBackends(), SearchConfig{}, nil, nil)
	results, err := s.Search(context.Background(), "MXJ6-10", domain.DomainTechnical, 5)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}

	kw := results[0]
	if kw.MatchType() != domain.MatchKeyword || kw.Score != 12 {
		t.Fatalf("expected keyword hit with code bonus first, got %+v", kw)
	}
	if kw.Metadata[domain.MetaDocumentID] != "doc-1" || kw.DomainType != domain.DomainTechnical {
		t.Fatalf("unexpected keyword metadata %+v", kw)
	}
	if results[1].MatchType() != domain.MatchLexicalRank || results[1].Score != 1.5 {
		t.Fatalf("unexpected lexical result %+v", results[1])
	}
	if results[2].MatchType() != domain.MatchVector || results[2].Score != 0.8 {
		t.Fatalf("unexpected vector result %+v", results[2])
	}
}

func TestHybridSearchKeywordWithoutCodeHasNoBonus(t *testing.T) {
	backends := threeBackends()
	backends.Lexical, backends.Vector = nil, nil
	s := NewHybridSearcher(backends, SearchConfig{}, nil, nil)

	results, err := s.Search(context.Background(), "規格表", domain.DomainMixed, 5)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(results) != 1 || results[0].Score != 6 {
		t.Fatalf("expected unboosted keyword score 6, got %+v", results)
	}
}

func TestHybridSearchDedupsByFingerprintAndTruncates(t *testing.T) {
	long := strings.Repeat("氣", 300)
	backends := SearchBackends{
		Lexical: &lexicalFake{hits: []domain.LexicalHit{
			{Content: long + "A", Source: "a"},
			{Content: long + "B", Source: "b"},
			{Content: "short one", Source: "c"},
			{Content: "short two", Source: "d"},
		}},
	}
	s := NewHybridSearcher(backends, SearchConfig{FingerprintChars: 200}, nil, nil)

	results, err := s.Search(context.Background(), "q", domain.DomainMixed, 2)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected topK results, got %d", len(results))
	}
	if results[0].Source != "a" || results[1].Source != "c" {
		t.Fatalf("expected first fingerprint occurrence kept, got %+v", results)
	}
}

func TestHybridSearchOnlyExpandsTechnicalQueries(t *testing.T) {
	kw := &keywordFake{hits: []domain.KeywordHit{{DocumentID: "doc-1", Score: 1}}}
	backends := SearchBackends{
		Keyword:  kw,
		Docs:     &docsFake{chunks: map[string]domain.Chunk{"doc-1": {Content: "x"}}},
		Expander: NewRuleExpander(nil, nil),
	}
	s := NewHybridSearcher(backends, SearchConfig{MaxVariants: 3}, nil, nil)

	if _, err := s.Search(context.Background(), "墊片 耐熱", domain.DomainBusiness, 5); err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if got := kw.calls.Load(); got != 1 {
		t.Fatalf("expected only the original query for business, got %d calls", got)
	}

	kw.calls.Store(0)
	if _, err := s.Search(context.Background(), "墊片 耐熱", domain.DomainTechnical, 5); err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if got := kw.calls.Load(); got != 3 {
		t.Fatalf("expected variants capped at 3, got %d calls", got)
	}
}

func TestHybridSearchToleratesPartialFailure(t *testing.T) {
	backends := threeBackends()
	backends.Lexical = &lexicalFake{err: errors.New("index closed")}
	backends.Docs = &docsFake{err: errors.New("connection refused")}
	s := NewHybridSearcher(backends, SearchConfig{}, nil, nil)

	results, err := s.Search(context.Background(), "MXJ6-10", domain.DomainTechnical, 5)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(results) != 1 || results[0].MatchType() != domain.MatchVector {
		t.Fatalf("expected only vector result, got %+v", results)
	}
}

func TestHybridSearchAllBackendsFailed(t *testing.T) {
	backends := SearchBackends{
		Lexical: &lexicalFake{err: errors.New("down")},
		Vector:  &vectorFake{err: errors.New("down")},
	}
	s := NewHybridSearcher(backends, SearchConfig{}, nil, nil)

	_, err := s.Search(context.Background(), "q", domain.DomainMixed, 5)
	if !errors.Is(err, domain.ErrBackendUnavailable) {
		t.Fatalf("expected ErrBackendUnavailable, got %v", err)
	}
}

func TestHybridSearchBackendTimeoutCountsAsFailure(t *testing.T) {
	backends := threeBackends()
	backends.Vector = &vectorFake{block: true}
	s := NewHybridSearcher(backends, SearchConfig{BackendTimeout: 20 * time.Millisecond}, nil, nil)

	results, err := s.Search(context.Background(), "MXJ6-10", domain.DomainTechnical, 5)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected keyword and lexical results, got %d", len(results))
	}
}

func TestHybridSearchCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewHybridSearcher(threeBackends(), SearchConfig{}, nil, nil).Search(ctx, "q", domain.DomainMixed, 5)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestHybridSearchWithoutBackends(t *testing.T) {
	_, err := NewHybridSearcher(SearchBackends{}, SearchConfig{}, nil, nil).Search(context.Background(), "q", domain.DomainMixed, 5)
	if !errors.Is(err, domain.ErrNotInitialized) {
		t.Fatalf("expected ErrNotInitialized, got %v", err)
	}
}
