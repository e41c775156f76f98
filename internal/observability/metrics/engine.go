package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

type engineCollectors struct {
	service string

	searchBackendTotal    *prometheus.CounterVec
	searchBackendFailures *prometheus.CounterVec
	searchResults         *prometheus.HistogramVec
	providerCallsTotal    *prometheus.CounterVec
	failoversTotal        *prometheus.CounterVec
	cacheLookupsTotal     *prometheus.CounterVec
	cacheEvictionsTotal   *prometheus.CounterVec
	cachePersistFailures  *prometheus.CounterVec
	llmTokensTotal        *prometheus.CounterVec
	llmCostUSDTotal       *prometheus.CounterVec
}

func newEngineCollectors(service string, registerer prometheus.Registerer) *engineCollectors {
	c := &engineCollectors{
		service: service,
		searchBackendTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "search",
				Name:      "backend_calls_total",
				Help:      "Retrieval backend calls by backend.",
			},
			[]string{"service", "backend"},
		),
		searchBackendFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "search",
				Name:      "backend_failures_total",
				Help:      "Retrieval backend calls that failed or timed out.",
			},
			[]string{"service", "backend"},
		),
		searchResults: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "search",
				Name:      "results",
				Help:      "Distribution of merged results per query before truncation.",
				Buckets:   []float64{0, 1, 2, 3, 5, 8, 13, 21, 34},
			},
			[]string{"service"},
		),
		providerCallsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "llm",
				Name:      "provider_calls_total",
				Help:      "Completion provider calls by outcome.",
			},
			[]string{"service", "provider", "model", "slot", "outcome"},
		),
		failoversTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "llm",
				Name:      "failovers_total",
				Help:      "Quota-triggered failovers from primary to fallback provider.",
			},
			[]string{"service", "from", "to"},
		),
		cacheLookupsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "cache",
				Name:      "lookups_total",
				Help:      "Query cache lookups by result.",
			},
			[]string{"service", "result"},
		),
		cacheEvictionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "cache",
				Name:      "evictions_total",
				Help:      "Entries evicted by the capacity bound.",
			},
			[]string{"service"},
		),
		cachePersistFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "cache",
				Name:      "persist_failures_total",
				Help:      "Failed writes to the cache persister.",
			},
			[]string{"service", "backend"},
		),
		llmTokensTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "llm",
				Name:      "tokens_total",
				Help:      "Approximate token usage by direction.",
			},
			[]string{"service", "direction", "model"},
		),
		llmCostUSDTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "llm",
				Name:      "cost_usd_total",
				Help:      "Estimated completion cost in USD.",
			},
			[]string{"service", "model"},
		),
	}
	registerer.MustRegister(
		c.searchBackendTotal,
		c.searchBackendFailures,
		c.searchResults,
		c.providerCallsTotal,
		c.failoversTotal,
		c.cacheLookupsTotal,
		c.cacheEvictionsTotal,
		c.cachePersistFailures,
		c.llmTokensTotal,
		c.llmCostUSDTotal,
	)
	return c
}

func (c *engineCollectors) RecordSearchBackend(backend string, err error) {
	c.searchBackendTotal.WithLabelValues(c.service, backend).Inc()
	if err != nil {
		c.searchBackendFailures.WithLabelValues(c.service, backend).Inc()
	}
}

func (c *engineCollectors) RecordSearchResults(count int) {
	c.searchResults.WithLabelValues(c.service).Observe(float64(count))
}

func (c *engineCollectors) RecordProviderCall(provider, model, slot, outcome string) {
	if model == "" {
		model = "unknown"
	}
	c.providerCallsTotal.WithLabelValues(c.service, provider, model, slot, outcome).Inc()
}

func (c *engineCollectors) RecordFailover(from, to string) {
	c.failoversTotal.WithLabelValues(c.service, from, to).Inc()
}

func (c *engineCollectors) RecordCacheLookup(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	c.cacheLookupsTotal.WithLabelValues(c.service, result).Inc()
}

func (c *engineCollectors) RecordCacheEviction() {
	c.cacheEvictionsTotal.WithLabelValues(c.service).Inc()
}

func (c *engineCollectors) RecordCachePersistFailure(backend string) {
	c.cachePersistFailures.WithLabelValues(c.service, backend).Inc()
}

func (c *engineCollectors) RecordCost(model string, inputTokens, outputTokens int, costUSD float64) {
	if model == "" {
		model = "unknown"
	}
	if inputTokens > 0 {
		c.llmTokensTotal.WithLabelValues(c.service, "in", model).Add(float64(inputTokens))
	}
	if outputTokens > 0 {
		c.llmTokensTotal.WithLabelValues(c.service, "out", model).Add(float64(outputTokens))
	}
	if costUSD > 0 {
		c.llmCostUSDTotal.WithLabelValues(c.service, model).Add(costUSD)
	}
}
