package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/kirillkom/knowledge-qa/internal/config"
	"github.com/kirillkom/knowledge-qa/internal/core/domain"
	"github.com/kirillkom/knowledge-qa/internal/core/lexicon"
	"github.com/kirillkom/knowledge-qa/internal/core/ports"
	"github.com/kirillkom/knowledge-qa/internal/core/usecase"
	"github.com/kirillkom/knowledge-qa/internal/infrastructure/cache"
	"github.com/kirillkom/knowledge-qa/internal/infrastructure/cache/filestore"
	"github.com/kirillkom/knowledge-qa/internal/infrastructure/cache/redisstore"
	"github.com/kirillkom/knowledge-qa/internal/infrastructure/keyword"
	"github.com/kirillkom/knowledge-qa/internal/infrastructure/lexical"
	"github.com/kirillkom/knowledge-qa/internal/infrastructure/llm"
	"github.com/kirillkom/knowledge-qa/internal/infrastructure/llm/anthropic"
	"github.com/kirillkom/knowledge-qa/internal/infrastructure/llm/ollama"
	"github.com/kirillkom/knowledge-qa/internal/infrastructure/llm/openai"
	"github.com/kirillkom/knowledge-qa/internal/infrastructure/queue/nats"
	"github.com/kirillkom/knowledge-qa/internal/infrastructure/repository/postgres"
	"github.com/kirillkom/knowledge-qa/internal/infrastructure/rerank/cohere"
	"github.com/kirillkom/knowledge-qa/internal/infrastructure/rerank/crossencoder"
	"github.com/kirillkom/knowledge-qa/internal/infrastructure/resilience"
	"github.com/kirillkom/knowledge-qa/internal/infrastructure/storage/localfs"
	"github.com/kirillkom/knowledge-qa/internal/infrastructure/vector/qdrant"
	"github.com/kirillkom/knowledge-qa/internal/observability/metrics"
)

const (
	cacheSnapshotKey = "query_cache.json"
	redisKeyPrefix   = "kqa:cache:"
)

// App is the wired query service. Optional backends that failed to start are
// nil; the engine degrades around them.
type App struct {
	Config  config.Config
	Logger  *slog.Logger
	Metrics *metrics.HTTPServerMetrics
	service string

	Engine      *usecase.Engine
	Maintenance *usecase.IndexMaintenance

	Keyword *keyword.Index
	Lexical *lexical.Index
	Docs    *postgres.ChunkRepository
	Cache   *cache.QueryCache
	Events  *nats.Bus

	closers []func()
}

func New(ctx context.Context, cfg config.Config, service string, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	app := &App{
		Config:  cfg,
		Logger:  logger,
		Metrics: metrics.NewHTTPServerMetrics(service),
		service: service,
	}
	recorder := ports.MetricsRecorder(app.Metrics)

	backendExec := resilience.NewExecutor(breakerConfig(cfg, cfg.RAGBackendTimeout))
	llmExec := resilience.NewExecutor(breakerConfig(cfg, cfg.LLMTimeout))

	overlays, err := config.LoadOverlays(cfg)
	if err != nil {
		logger.Warn("config_overlay_failed", "error", err)
	}

	storage, err := localfs.New(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("init snapshot storage: %w", err)
	}

	app.openDocumentStore(ctx, backendExec)
	app.openKeywordIndex(ctx, storage)
	app.openLexicalIndex(ctx)
	vector := app.openVectorIndex(backendExec)

	factory := llm.NewFactory(llm.FactoryConfig{
		OpenAI: openai.Config{
			APIKey:     cfg.OpenAIAPIKey,
			BaseURL:    cfg.OpenAIBaseURL,
			HTTPClient: &http.Client{Timeout: cfg.LLMTimeout},
		},
		Anthropic: anthropic.Config{
			APIKey:     cfg.AnthropicAPIKey,
			BaseURL:    cfg.AnthropicBaseURL,
			HTTPClient: &http.Client{Timeout: cfg.LLMTimeout},
		},
		OllamaURL: cfg.OllamaURL,
	}, llmExec)
	router, err := usecase.NewProviderRouter(cfg.Route, factory, cfg.LLMClientCacheSize, logger, recorder)
	if err != nil {
		app.Close()
		return nil, fmt.Errorf("init provider router: %w", err)
	}
	tiers := usecase.DefaultTierTable(cfg.Route.Primary).WithOverrides(cfg.Route.SlotModels[cfg.Route.Primary])

	backends := usecase.SearchBackends{}
	if app.Keyword != nil && app.Docs != nil {
		backends.Keyword = app.Keyword
		backends.Docs = app.Docs
	}
	if app.Lexical != nil {
		backends.Lexical = app.Lexical
	}
	if vector != nil {
		backends.Vector = vector
	}
	if expander := buildExpander(cfg, overlays, router, tiers, logger); expander != nil {
		backends.Expander = expander
	}
	var reranker *usecase.Reranker
	if cfg.RerankerEnabled {
		reranker = app.buildReranker(backendExec)
		backends.Reranker = reranker
	}

	searcher := usecase.NewHybridSearcher(backends, usecase.SearchConfig{
		TopK:             cfg.RAGTopK,
		MaxVariants:      cfg.RAGMaxVariants,
		VectorK:          cfg.RAGVectorK,
		FingerprintChars: cfg.RAGFingerprintChars,
		BackendTimeout:   cfg.RAGBackendTimeout,
		CodeBonus:        cfg.RAGCodeBonus,
	}, logger, recorder)

	app.openCache(ctx, storage, recorder)

	deps := usecase.EngineDeps{
		Searcher:   searcher,
		Router:     router,
		Route:      cfg.Route,
		Classifier: usecase.NewKeywordClassifier(),
		Complexity: usecase.NewComplexityEstimator(usecase.ComplexityThresholds{
			QueryLength: cfg.ComplexityQueryLength,
			ModelCount:  cfg.ComplexityModelCount,
			DocCount:    cfg.ComplexityDocCount,
		}),
		Tiers:        tiers,
		Cost:         usecase.NewCostEstimator(overlays.Prices),
		RerankerName: "none",
	}
	if cfg.RerankerEnabled {
		deps.RerankerName = reranker.Name()
	}
	if app.Cache != nil {
		deps.Cache = app.Cache
	}
	if app.Keyword != nil {
		deps.Keyword = app.Keyword
		deps.KeywordLoader = app.Keyword
	}
	app.Engine = usecase.NewEngine(deps, usecase.EngineConfig{
		TopK:        cfg.RAGTopK,
		MaxSources:  cfg.MaxSources,
		ShowSources: cfg.ShowSources,
	}, logger, recorder)

	maintenance := usecase.IndexMaintenanceDeps{Reloader: app.Engine}
	if app.Docs != nil {
		maintenance.Docs = app.Docs
	}
	if app.Keyword != nil {
		maintenance.Keyword = app.Keyword
	}
	if app.Lexical != nil {
		maintenance.Lexical = app.Lexical
	}
	if app.Cache != nil {
		maintenance.Cache = app.Cache
	}
	app.Maintenance = usecase.NewIndexMaintenance(maintenance, logger)

	app.openEvents(backendExec)

	logger.Info("bootstrap_completed",
		"routing_mode", cfg.Route.Mode,
		"primary", cfg.Route.Primary,
		"fallback", cfg.Route.Fallback,
		"keyword", backends.Keyword != nil,
		"lexical", backends.Lexical != nil,
		"vector", backends.Vector != nil,
		"reranker", deps.RerankerName,
		"cache", app.Cache != nil,
		"events", app.Events != nil,
	)
	return app, nil
}

// RunEvents consumes index events until ctx is cancelled. Without a bus it
// returns immediately.
func (a *App) RunEvents(ctx context.Context) error {
	if a.Events == nil {
		return nil
	}
	return a.Events.Subscribe(ctx, a.Maintenance)
}

func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

func (a *App) onClose(fn func()) {
	a.closers = append(a.closers, fn)
}

func breakerConfig(cfg config.Config, callTimeout time.Duration) resilience.Config {
	out := resilience.DefaultConfig()
	out.CallTimeout = callTimeout
	out.BreakerEnabled = cfg.BreakerEnabled
	if cfg.BreakerMinRequests > 0 {
		out.BreakerMinRequests = uint32(cfg.BreakerMinRequests)
	}
	out.BreakerFailureRatio = cfg.BreakerFailureRatio
	out.BreakerOpenTimeout = cfg.BreakerOpenTimeout
	return out
}

func (a *App) openDocumentStore(ctx context.Context, executor *resilience.Executor) {
	if strings.TrimSpace(a.Config.PostgresDSN) == "" {
		return
	}
	db, err := postgres.OpenDB(a.Config.PostgresDSN)
	if err != nil {
		a.Logger.Warn("document_store_unavailable", "error", err)
		return
	}
	repo := postgres.NewChunkRepository(db, executor)
	if err := repo.EnsureSchema(ctx); err != nil {
		a.Logger.Warn("document_store_schema_failed", "error", err)
	}
	a.Docs = repo
	a.onClose(func() { closeDB(a.Logger, db) })
}

func closeDB(logger *slog.Logger, db *sql.DB) {
	if err := db.Close(); err != nil {
		logger.Warn("document_store_close_failed", "error", err)
	}
}

func (a *App) openKeywordIndex(ctx context.Context, storage ports.SnapshotStore) {
	if !a.Config.KeywordIndexEnabled {
		return
	}
	ix := keyword.New(storage, a.Config.KeywordSnapshot, a.Logger)
	ix.Load(ctx)
	if ix.Len() == 0 && a.Docs != nil {
		if _, err := ix.Rebuild(ctx, a.Docs); err != nil {
			a.Logger.Warn("keyword_index_rebuild_failed", "error", err)
		} else if err := ix.Save(ctx); err != nil {
			a.Logger.Warn("keyword_snapshot_save_failed", "error", err)
		}
	}
	a.Keyword = ix
	a.onClose(func() {
		if err := ix.Save(context.Background()); err != nil {
			a.Logger.Warn("keyword_snapshot_save_failed", "error", err)
		}
	})
}

func (a *App) openLexicalIndex(ctx context.Context) {
	ix, err := lexical.Open(a.Config.LexicalIndexPath)
	if err != nil {
		a.Logger.Warn("lexical_index_unavailable", "path", a.Config.LexicalIndexPath, "error", err)
		return
	}
	a.Lexical = ix
	a.onClose(func() {
		if err := ix.Close(); err != nil {
			a.Logger.Warn("lexical_index_close_failed", "error", err)
		}
	})

	count, err := ix.DocCount()
	if err != nil || count > 0 || a.Docs == nil {
		return
	}
	seeded, err := SeedLexical(ctx, ix, a.Docs)
	if err != nil {
		a.Logger.Warn("lexical_index_seed_failed", "error", err)
		return
	}
	a.Logger.Info("lexical_index_seeded", "documents", seeded)
}

// SeedLexical copies every stored chunk into the ranking index.
func SeedLexical(ctx context.Context, ix ports.LexicalWriter, source ports.ChunkLister) (int, error) {
	count := 0
	err := source.ListChunks(ctx, func(chunk domain.Chunk) error {
		if err := ix.Put(ctx, chunk); err != nil {
			return err
		}
		count++
		return nil
	})
	return count, err
}

func (a *App) openVectorIndex(executor *resilience.Executor) *qdrant.Client {
	if strings.TrimSpace(a.Config.QdrantURL) == "" {
		return nil
	}
	var embedder ports.Embedder
	if strings.TrimSpace(a.Config.OpenAIAPIKey) != "" {
		embedder = openai.NewEmbedder(openai.Config{
			APIKey:  a.Config.OpenAIAPIKey,
			BaseURL: a.Config.OpenAIBaseURL,
		}, a.Config.EmbeddingModel, 0)
	} else if strings.TrimSpace(a.Config.OllamaURL) != "" {
		embedder = ollama.NewEmbedder(ollama.New(a.Config.OllamaURL, executor), a.Config.EmbeddingModel)
	} else {
		a.Logger.Warn("vector_index_disabled", "reason", "no embedding provider configured")
		return nil
	}
	return qdrant.New(a.Config.QdrantURL, a.Config.QdrantCollection, embedder, qdrant.Options{Executor: executor})
}

func buildExpander(cfg config.Config, overlays config.Overlays, completer usecase.Completer, tiers usecase.TierTable, logger *slog.Logger) ports.QueryExpander {
	if !cfg.QueryExpansionEnabled {
		return nil
	}
	rule := usecase.NewRuleExpander(
		usecase.MergeTerms(usecase.DefaultTerms, overlays.Terms),
		usecase.MergeBrands(lexicon.DefaultBrands, overlays.Brands),
	)
	if !cfg.QueryExpansionLLM {
		return rule
	}
	return usecase.NewLLMExpander(rule, completer, tiers.Tier(domain.SlotDefault), logger)
}

// buildReranker resolves RERANKER_TYPE. A backend that cannot start falls
// back to the token-overlap scorer.
func (a *App) buildReranker(executor *resilience.Executor) *usecase.Reranker {
	cfg := a.Config
	overlap := usecase.WithScorer(config.RerankerOverlap, usecase.NewOverlapScorer())

	switch cfg.RerankerType {
	case config.RerankerCrossEncoder:
		scorer, err := crossencoder.New(cfg.RerankerModelPath, cfg.RerankerMaxTokens)
		if err != nil {
			a.Logger.Warn("reranker_unavailable", "type", cfg.RerankerType, "error", err)
			return usecase.NewReranker(cfg.RerankerTopN, a.Logger, overlap)
		}
		a.onClose(func() { _ = scorer.Close() })
		return usecase.NewReranker(cfg.RerankerTopN, a.Logger, usecase.WithScorer(config.RerankerCrossEncoder, scorer))
	case config.RerankerCohere:
		if strings.TrimSpace(cfg.CohereAPIKey) == "" {
			a.Logger.Warn("reranker_unavailable", "type", cfg.RerankerType, "error", "COHERE_API_KEY is empty")
			return usecase.NewReranker(cfg.RerankerTopN, a.Logger, overlap)
		}
		compressor := cohere.New(cfg.CohereAPIKey, cfg.CohereRerankModel, cohere.Options{
			TopN:     cfg.RerankerTopN,
			Executor: executor,
		})
		return usecase.NewReranker(cfg.RerankerTopN, a.Logger, usecase.WithCompressor(config.RerankerCohere, compressor))
	default:
		return usecase.NewReranker(cfg.RerankerTopN, a.Logger, overlap)
	}
}

func (a *App) openCache(ctx context.Context, storage ports.SnapshotStore, recorder ports.MetricsRecorder) {
	cfg := a.Config
	if !cfg.CacheEnabled {
		return
	}

	var persister cache.Persister
	switch cfg.CacheBackend {
	case config.CacheBackendFile:
		store := storage
		if dir := strings.TrimSpace(cfg.CacheDir); dir != "" {
			local, err := localfs.New(dir)
			if err != nil {
				a.Logger.Warn("cache_dir_unavailable", "dir", dir, "error", err)
			} else {
				store = local
			}
		}
		persister = filestore.New(store, cacheSnapshotKey)
	case config.CacheBackendRedis:
		client, err := redisstore.Dial(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			a.Logger.Warn("cache_redis_unavailable", "addr", cfg.RedisAddr, "error", err)
		} else {
			a.onClose(client.Close)
			persister = redisstore.New(client, redisKeyPrefix, cfg.CacheTTL)
		}
	}

	qc, err := cache.New(cache.Options{
		TTL:       cfg.CacheTTL,
		MaxSize:   cfg.CacheMaxSize,
		Persister: persister,
		Logger:    a.Logger,
		Metrics:   recorder,
	})
	if err != nil {
		a.Logger.Warn("cache_disabled", "error", err)
		return
	}
	restored := qc.Restore(ctx)
	a.Logger.Info("cache_ready", "backend", qc.Stats().Backend, "restored", restored)
	a.Cache = qc
}

func (a *App) openEvents(executor *resilience.Executor) {
	cfg := a.Config
	if strings.TrimSpace(cfg.NATSURL) == "" {
		return
	}
	bus, err := nats.New(cfg.NATSURL, cfg.NATSSubject, nats.Options{
		ResilienceExecutor: executor,
		Observer:           metrics.NewEventMetrics(a.service, a.Metrics.Registerer()),
		Logger:             a.Logger,
	})
	if err != nil {
		a.Logger.Warn("index_events_unavailable", "url", cfg.NATSURL, "error", err)
		return
	}
	a.Events = bus
	a.onClose(bus.Close)
}
