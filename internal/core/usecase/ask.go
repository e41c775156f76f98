package usecase

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/kirillkom/knowledge-qa/internal/core/domain"
	"github.com/kirillkom/knowledge-qa/internal/core/ports"
)

const (
	answerEmptyQuery          = "請輸入有效的問題。"
	answerNoResults           = "未找到相關資料。請嘗試不同的關鍵字。"
	answerBackendUnavailable  = "知識庫暫時無法使用，請稍後再試。"
	answerFailoverExhausted   = "生成回答時發生錯誤：主要 LLM 限額，備用 LLM 也失敗。請稍後重試。"
	answerProviderErrorPrefix = "生成回答時發生錯誤："
	sourcesHeader             = "\n\n---\n📚 **參考來源**："
)

// Searcher retrieves ranked results for a query.
type Searcher interface {
	Search(ctx context.Context, query string, domainType domain.DomainType, topK int) ([]domain.SearchResult, error)
}

// Router is a Completer whose client handles can be dropped on reload.
type Router interface {
	Completer
	Invalidate()
}

type EngineConfig struct {
	TopK        int
	MaxSources  int
	ShowSources bool
}

type EngineDeps struct {
	Searcher   Searcher
	Router     Router
	Route      domain.ProviderRoute
	Classifier ports.DomainClassifier
	Complexity *ComplexityEstimator
	Tiers      TierTable
	Cost       *CostEstimator
	// Optional.
	Cache         ports.CacheAdmin
	Keyword       ports.KeywordSearcher
	KeywordLoader ports.SnapshotLoader
	RerankerName  string
}

// Engine answers questions: classify, search, pick a model tier, complete,
// attribute sources and cache the result.
type Engine struct {
	deps    EngineDeps
	cfg     EngineConfig
	logger  *slog.Logger
	metrics ports.MetricsRecorder
}

func NewEngine(deps EngineDeps, cfg EngineConfig, logger *slog.Logger, metrics ports.MetricsRecorder) *Engine {
	if cfg.TopK <= 0 {
		cfg.TopK = 5
	}
	if cfg.MaxSources <= 0 {
		cfg.MaxSources = 3
	}
	if deps.Complexity == nil {
		deps.Complexity = NewComplexityEstimator(DefaultComplexityThresholds())
	}
	if deps.Cost == nil {
		deps.Cost = NewCostEstimator(nil)
	}
	if deps.Tiers.tiers == nil {
		deps.Tiers = DefaultTierTable(deps.Route.Primary)
	}
	if deps.RerankerName == "" {
		deps.RerankerName = "none"
	}
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = ports.NopMetrics{}
	}
	return &Engine{deps: deps, cfg: cfg, logger: logger, metrics: metrics}
}

func (e *Engine) Ask(ctx context.Context, query, mode, userID string) (domain.QueryResult, error) {
	if e.deps.Searcher == nil || e.deps.Router == nil || e.deps.Classifier == nil {
		return domain.QueryResult{}, domain.WrapError(domain.ErrNotInitialized, "ask", errors.New("engine is not wired"))
	}
	query = strings.TrimSpace(query)
	if query == "" {
		return domain.QueryResult{Answer: answerEmptyQuery, DomainType: domain.AnswerTypeError}, nil
	}
	if err := ctx.Err(); err != nil {
		return domain.QueryResult{}, err
	}
	started := time.Now()

	if e.deps.Cache != nil {
		if cached, ok := e.deps.Cache.Get(ctx, query, mode, userID); ok {
			e.logger.Info("ask_completed", "from_cache", true, "domain_type", cached.DomainType)
			return cached, nil
		}
	}

	domainType, explicit := domain.ParseDomainType(mode)
	if !explicit {
		domainType = e.deps.Classifier.Classify(query)
	}

	results, err := e.deps.Searcher.Search(ctx, query, domainType, e.cfg.TopK)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return domain.QueryResult{}, ctxErr
		}
		if domain.IsKind(err, domain.ErrNotInitialized) {
			return domain.QueryResult{}, err
		}
		e.logger.Error("ask_search_failed", "domain_type", domainType, "error", err)
		return domain.QueryResult{Answer: answerBackendUnavailable, DomainType: string(domainType)}, nil
	}
	if len(results) == 0 {
		return domain.QueryResult{Answer: answerNoResults, DomainType: string(domainType)}, nil
	}

	complexity := e.deps.Complexity.Estimate(query, len(results))
	slot := SelectSlot(domainType, complexity)
	tier := e.deps.Tiers.Tier(slot)
	prompt := BuildPrompt(domainType, query, results)

	completion, err := e.deps.Router.Complete(ctx, RouteRequest{
		Slot:         slot,
		Tier:         tier,
		Prompt:       prompt,
		SystemPrompt: answerSystemPrompt,
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return domain.QueryResult{}, ctxErr
		}
		e.logger.Error("ask_generation_failed", "slot", slot, "model", tier.Model, "error", err)
		answer := answerProviderErrorPrefix + err.Error()
		if domain.IsKind(err, domain.ErrFailoverExhausted) {
			answer = answerFailoverExhausted
		}
		return domain.QueryResult{
			Answer:     answer,
			DomainType: string(domainType),
			Sources:    e.sources(results),
		}, nil
	}

	sources := e.sources(results)
	answer := completion.Text
	if e.cfg.ShowSources && len(sources) > 0 {
		answer += sourcesHeader + strings.Join(sources, "、")
	}

	cost := e.deps.Cost.EstimateFor(completion.Provider, prompt, answer, completion.Model)
	cost.Complexity = string(complexity)
	e.metrics.RecordCost(cost.Model, cost.InputTokens, cost.OutputTokens, cost.CostUSD)

	result := domain.QueryResult{
		Answer:       answer,
		Sources:      sources,
		DomainType:   string(domainType),
		CostEstimate: cost,
	}
	if e.deps.Cache != nil {
		e.deps.Cache.Set(ctx, query, mode, userID, result)
	}

	e.logger.Info("ask_completed",
		"from_cache", false,
		"domain_type", domainType,
		"complexity", complexity,
		"slot", slot,
		"provider", completion.Provider,
		"model", completion.Model,
		"failed_over", completion.FailedOver,
		"results", len(results),
		"duration_ms", time.Since(started).Milliseconds(),
	)
	return result, nil
}

// sources lists distinct source base names in first-occurrence order.
func (e *Engine) sources(results []domain.SearchResult) []string {
	seen := make(map[string]struct{}, len(results))
	out := make([]string, 0, e.cfg.MaxSources)
	for _, r := range results {
		if r.Source == "" {
			continue
		}
		name := filepath.Base(r.Source)
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		out = append(out, name)
		if len(out) == e.cfg.MaxSources {
			break
		}
	}
	return out
}

func (e *Engine) Stats() domain.EngineStats {
	stats := domain.EngineStats{
		RoutingMode: string(e.deps.Route.Mode),
		Primary:     string(e.deps.Route.Primary),
		Reranker:    e.deps.RerankerName,
	}
	if e.deps.Route.HasFallback() {
		stats.Fallback = string(e.deps.Route.Fallback)
	}
	if e.deps.Cache != nil {
		cs := e.deps.Cache.Stats()
		stats.Cache = &cs
	}
	if e.deps.Keyword != nil {
		stats.KeywordIndex = e.deps.Keyword.Len()
	}
	return stats
}

func (e *Engine) ClearCache(ctx context.Context) error {
	if e.deps.Cache == nil {
		return nil
	}
	return e.deps.Cache.Clear(ctx)
}

// Reload drops provider client handles, clears the cache and reloads the
// keyword snapshot. A cache clear failure is returned after the other steps
// have run.
func (e *Engine) Reload(ctx context.Context) error {
	if e.deps.Router != nil {
		e.deps.Router.Invalidate()
	}
	err := e.ClearCache(ctx)
	if e.deps.KeywordLoader != nil {
		e.deps.KeywordLoader.Load(ctx)
	}
	e.logger.Info("engine_reloaded", "cache_error", err != nil)
	return err
}
