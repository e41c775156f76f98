package domain

// CacheStats describes the query cache for the stats endpoint.
type CacheStats struct {
	Size      int    `json:"size"`
	MaxSize   int    `json:"max_size"`
	TTL       string `json:"ttl"`
	Hits      uint64 `json:"hits"`
	Misses    uint64 `json:"misses"`
	Evictions uint64 `json:"evictions"`
	Backend   string `json:"backend"`
	Degraded  bool   `json:"degraded"`
}

type EngineStats struct {
	Cache        *CacheStats `json:"cache,omitempty"`
	KeywordIndex int         `json:"keyword_index_size"`
	RoutingMode  string      `json:"routing_mode"`
	Primary      string      `json:"primary_provider"`
	Fallback     string      `json:"fallback_provider,omitempty"`
	Reranker     string      `json:"reranker"`
}
