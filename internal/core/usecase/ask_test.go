package usecase

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/kirillkom/knowledge-qa/internal/core/domain"
)

type searcherFake struct {
	results    []domain.SearchResult
	err        error
	calls      int
	domainType domain.DomainType
}

func (f *searcherFake) Search(_ context.Context, _ string, domainType domain.DomainType, _ int) ([]domain.SearchResult, error) {
	f.calls++
	f.domainType = domainType
	return f.results, f.err
}

type routerFake struct {
	completion  Completion
	err         error
	requests    []RouteRequest
	invalidated bool
}

func (f *routerFake) Complete(_ context.Context, req RouteRequest) (Completion, error) {
	f.requests = append(f.requests, req)
	if f.err != nil {
		return Completion{}, f.err
	}
	c := f.completion
	if c.Model == "" {
		c.Model = req.Tier.Model
	}
	return c, nil
}

func (f *routerFake) Invalidate() { f.invalidated = true }

type cacheFake struct {
	entries map[string]domain.QueryResult
	sets    int
	cleared bool
	err     error
}

func newCacheFake() *cacheFake {
	return &cacheFake{entries: map[string]domain.QueryResult{}}
}

func (c *cacheFake) key(query, mode, userID string) string { return query + "|" + mode + "|" + userID }

func (c *cacheFake) Get(_ context.Context, query, mode, userID string) (domain.QueryResult, bool) {
	r, ok := c.entries[c.key(query, mode, userID)]
	if ok {
		r = r.Clone()
		r.FromCache = true
	}
	return r, ok
}

func (c *cacheFake) Set(_ context.Context, query, mode, userID string, result domain.QueryResult) {
	c.sets++
	c.entries[c.key(query, mode, userID)] = result.Clone()
}

func (c *cacheFake) Clear(context.Context) error {
	c.cleared = true
	c.entries = map[string]domain.QueryResult{}
	return c.err
}

func (c *cacheFake) Stats() domain.CacheStats {
	return domain.CacheStats{Size: len(c.entries), Backend: "fake"}
}

type loaderFake struct{ loads int }

func (l *loaderFake) Load(context.Context) { l.loads++ }

func technicalResults() []domain.SearchResult {
	return []domain.SearchResult{
		{Content: "MXJ6-10 行程 10mm", Source: "/catalog/smc/mxj.pdf", Score: 12},
		{Content: "MXJ 安裝", Source: "/catalog/smc/install.md", Score: 1.5},
		{Content: "MXJ 另一頁", Source: "/other/mxj.pdf", Score: 1.2},
		{Content: "選型", Source: "/catalog/smc/select.md", Score: 0.8},
		{Content: "no source"},
	}
}

func newEngineForTest(searcher Searcher, router Router, cache *cacheFake) *Engine {
	deps := EngineDeps{
		Searcher:   searcher,
		Router:     router,
		Route:      domain.ProviderRoute{Mode: domain.RoutingSingle, Primary: domain.ProviderOpenAI},
		Classifier: NewKeywordClassifier(),
	}
	if cache != nil {
		deps.Cache = cache
	}
	return NewEngine(deps, EngineConfig{TopK: 5, MaxSources: 3, ShowSources: true}, nil, nil)
}

func TestAskEmptyQuery(t *testing.T) {
	searcher := &searcherFake{}
	e := newEngineForTest(searcher, &routerFake{}, nil)

	result, err := e.Ask(context.Background(), "   ", "smart", "")
	if err != nil {
		t.Fatalf("Ask() error = %v", err)
	}
	if result.Answer != "請輸入有效的問題。" || result.DomainType != domain.AnswerTypeError {
		t.Fatalf("unexpected result %+v", result)
	}
	if searcher.calls != 0 {
		t.Fatal("search must not run for empty query")
	}
}

func TestAskAnswersWithSourcesAndCaches(t *testing.T) {
	searcher := &searcherFake{results: technicalResults()}
	router := &routerFake{completion: Completion{Text: "行程為 10mm", Provider: domain.ProviderOpenAI}}
	cache := newCacheFake()
	e := newEngineForTest(searcher, router, cache)

	result, err := e.Ask(context.Background(), " MXJ6-10 行程 ", "smart", "u1")
	if err != nil {
		t.Fatalf("Ask() error = %v", err)
	}
	if searcher.domainType != domain.DomainTechnical || result.DomainType != "technical" {
		t.Fatalf("expected technical classification, got %s", searcher.domainType)
	}
	wantSources := []string{"mxj.pdf", "install.md", "select.md"}
	if strings.Join(result.Sources, ",") != strings.Join(wantSources, ",") {
		t.Fatalf("unexpected sources %v", result.Sources)
	}
	if result.Answer != "行程為 10mm\n\n---\n📚 **參考來源**：mxj.pdf、install.md、select.md" {
		t.Fatalf("unexpected answer %q", result.Answer)
	}
	if router.requests[0].Slot != domain.SlotSimple || router.requests[0].SystemPrompt == "" {
		t.Fatalf("unexpected route request %+v", router.requests[0])
	}
	if result.CostEstimate.Model != "gpt-4o-mini" || result.CostEstimate.Complexity != "simple" || result.CostEstimate.InputTokens == 0 {
		t.Fatalf("unexpected cost %+v", result.CostEstimate)
	}
	if cache.sets != 1 || result.FromCache {
		t.Fatalf("expected fresh result stored once, sets=%d", cache.sets)
	}

	again, err := e.Ask(context.Background(), "MXJ6-10 行程", "smart", "u1")
	if err != nil {
		t.Fatalf("Ask() error = %v", err)
	}
	if !again.FromCache || again.Answer != result.Answer || searcher.calls != 1 {
		t.Fatalf("expected cached answer, got %+v (searches=%d)", again, searcher.calls)
	}
}

func TestAskExplicitModeSkipsClassification(t *testing.T) {
	searcher := &searcherFake{results: technicalResults()[:1]}
	router := &routerFake{completion: Completion{Text: "report"}}
	e := newEngineForTest(searcher, router, nil)

	if _, err := e.Ask(context.Background(), "MXJ6-10", "business", ""); err != nil {
		t.Fatalf("Ask() error = %v", err)
	}
	if searcher.domainType != domain.DomainBusiness || router.requests[0].Slot != domain.SlotBusiness {
		t.Fatalf("expected business routing, got %s / %s", searcher.domainType, router.requests[0].Slot)
	}
}

func TestAskExplicitModeIgnoresCaseAndSpace(t *testing.T) {
	for _, mode := range []string{"Business", "  BUSINESS ", "business\n"} {
		searcher := &searcherFake{results: technicalResults()[:1]}
		router := &routerFake{completion: Completion{Text: "report"}}
		e := newEngineForTest(searcher, router, nil)

		if _, err := e.Ask(context.Background(), "MXJ6-10", mode, ""); err != nil {
			t.Fatalf("Ask(%q) error = %v", mode, err)
		}
		if searcher.domainType != domain.DomainBusiness {
			t.Fatalf("mode %q: expected business routing, got %s", mode, searcher.domainType)
		}
	}
}

func TestAskNoResultsIsNotCached(t *testing.T) {
	cache := newCacheFake()
	router := &routerFake{}
	e := newEngineForTest(&searcherFake{}, router, cache)

	result, err := e.Ask(context.Background(), "墊片", "", "")
	if err != nil {
		t.Fatalf("Ask() error = %v", err)
	}
	if result.Answer != "未找到相關資料。請嘗試不同的關鍵字。" {
		t.Fatalf("unexpected answer %q", result.Answer)
	}
	if cache.sets != 0 || len(router.requests) != 0 {
		t.Fatal("no-result answers must not be cached or generated")
	}
}

func TestAskBackendUnavailableAnswer(t *testing.T) {
	searcher := &searcherFake{err: domain.WrapError(domain.ErrBackendUnavailable, "hybrid search", errors.New("every retrieval backend failed"))}
	result, err := newEngineForTest(searcher, &routerFake{}, nil).Ask(context.Background(), "墊片", "", "")
	if err != nil {
		t.Fatalf("Ask() error = %v", err)
	}
	if result.Answer != "知識庫暫時無法使用，請稍後再試。" {
		t.Fatalf("unexpected answer %q", result.Answer)
	}
}

func TestAskProviderErrorsBecomeAnswers(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{
			name: "exhausted",
			err:  domain.WrapError(domain.ErrFailoverExhausted, "complete", errors.New("primary openai/gpt-4o: quota; fallback anthropic/claude: quota")),
			want: "生成回答時發生錯誤：主要 LLM 限額，備用 LLM 也失敗。請稍後重試。",
		},
		{
			name: "other",
			err:  domain.WrapError(domain.ErrProvider, "complete", errors.New("status 400: invalid model")),
			want: "生成回答時發生錯誤：",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cache := newCacheFake()
			e := newEngineForTest(&searcherFake{results: technicalResults()}, &routerFake{err: tt.err}, cache)
			result, err := e.Ask(context.Background(), "MXJ6-10", "", "")
			if err != nil {
				t.Fatalf("Ask() error = %v", err)
			}
			if !strings.HasPrefix(result.Answer, tt.want) {
				t.Fatalf("unexpected answer %q", result.Answer)
			}
			if cache.sets != 0 {
				t.Fatal("error answers must not be cached")
			}
		})
	}
}

func TestAskFailsOverThroughRouter(t *testing.T) {
	primary := &providerFake{err: quotaErr}
	fallback := &providerFake{text: "fallback answer"}
	factory := &factoryFake{providers: map[domain.ProviderID]*providerFake{
		domain.ProviderOpenAI:    primary,
		domain.ProviderAnthropic: fallback,
	}}
	route := domain.ProviderRoute{Mode: domain.RoutingAuto, Primary: domain.ProviderOpenAI, Fallback: domain.ProviderAnthropic}
	router := newRouterForTest(t, route, factory, nil)

	e := NewEngine(EngineDeps{
		Searcher:   &searcherFake{results: technicalResults()[:1]},
		Router:     router,
		Route:      route,
		Classifier: NewKeywordClassifier(),
	}, EngineConfig{}, nil, nil)

	result, err := e.Ask(context.Background(), "MXJ6-10 行程", "technical", "")
	if err != nil {
		t.Fatalf("Ask() error = %v", err)
	}
	if !strings.HasPrefix(result.Answer, "fallback answer") {
		t.Fatalf("unexpected answer %q", result.Answer)
	}
	if result.CostEstimate.Model != "claude-3-5-haiku-20241022" || result.CostEstimate.Provider != "anthropic" {
		t.Fatalf("expected fallback model in cost, got %+v", result.CostEstimate)
	}
	if fallback.calls() != 1 || primary.calls() != 1 {
		t.Fatalf("expected exactly one call each, got primary=%d fallback=%d", primary.calls(), fallback.calls())
	}
}

func TestAskSingleModeErrorDoesNotTryOtherProviders(t *testing.T) {
	primary := &providerFake{err: domain.WrapError(domain.ErrProvider, "ollama chat", errors.New("model not found"))}
	factory := &factoryFake{providers: map[domain.ProviderID]*providerFake{domain.ProviderOllama: primary}}
	route := domain.ProviderRoute{Mode: domain.RoutingSingle, Primary: domain.ProviderOllama}
	router := newRouterForTest(t, route, factory, nil)

	e := NewEngine(EngineDeps{
		Searcher:   &searcherFake{results: technicalResults()[:1]},
		Router:     router,
		Route:      route,
		Classifier: NewKeywordClassifier(),
	}, EngineConfig{}, nil, nil)

	result, err := e.Ask(context.Background(), "MXJ6-10", "", "")
	if err != nil {
		t.Fatalf("Ask() error = %v", err)
	}
	if !strings.Contains(result.Answer, "model not found") {
		t.Fatalf("expected provider error in answer, got %q", result.Answer)
	}
	if len(factory.built) != 1 {
		t.Fatalf("expected a single provider, built %v", factory.built)
	}
}

func TestAskCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := newEngineForTest(&searcherFake{}, &routerFake{}, nil).Ask(ctx, "q", "", "")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestAskRequiresWiring(t *testing.T) {
	_, err := NewEngine(EngineDeps{}, EngineConfig{}, nil, nil).Ask(context.Background(), "q", "", "")
	if !errors.Is(err, domain.ErrNotInitialized) {
		t.Fatalf("expected ErrNotInitialized, got %v", err)
	}
}

func TestEngineStatsAndReload(t *testing.T) {
	cache := newCacheFake()
	cache.entries["x"] = domain.QueryResult{Answer: "a"}
	router := &routerFake{}
	loader := &loaderFake{}
	e := NewEngine(EngineDeps{
		Searcher:      &searcherFake{},
		Router:        router,
		Route:         domain.ProviderRoute{Mode: domain.RoutingAuto, Primary: domain.ProviderAnthropic, Fallback: domain.ProviderOpenAI},
		Classifier:    NewKeywordClassifier(),
		Cache:         cache,
		Keyword:       &keywordFake{hits: []domain.KeywordHit{{DocumentID: "d"}}},
		KeywordLoader: loader,
		RerankerName:  "cohere",
	}, EngineConfig{}, nil, nil)

	stats := e.Stats()
	if stats.Cache == nil || stats.Cache.Size != 1 || stats.KeywordIndex != 1 {
		t.Fatalf("unexpected stats %+v", stats)
	}
	if stats.RoutingMode != "auto" || stats.Primary != "anthropic" || stats.Fallback != "openai" || stats.Reranker != "cohere" {
		t.Fatalf("unexpected routing stats %+v", stats)
	}

	cache.err = domain.WrapError(domain.ErrCachePersistence, "cache clear", errors.New("disk full"))
	err := e.Reload(context.Background())
	if !errors.Is(err, domain.ErrCachePersistence) {
		t.Fatalf("expected cache error from reload, got %v", err)
	}
	if !router.invalidated || !cache.cleared || loader.loads != 1 {
		t.Fatalf("reload must invalidate router, clear cache and load keyword snapshot")
	}
}
