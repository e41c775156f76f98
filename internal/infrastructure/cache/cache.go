package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/kirillkom/knowledge-qa/internal/core/domain"
	"github.com/kirillkom/knowledge-qa/internal/core/ports"
)

const (
	DefaultTTL     = 24 * time.Hour
	DefaultMaxSize = 1000
)

// Entry is one cached answer as seen by persisters.
type Entry struct {
	Key       string             `json:"key"`
	Result    domain.QueryResult `json:"result"`
	CreatedAt time.Time          `json:"created_at"`
}

// Persister mirrors the cache to durable storage. Persist receives the entry
// that changed and a snapshot of every live entry, oldest first; each
// backend uses whichever suits it.
type Persister interface {
	Name() string
	Load(ctx context.Context) ([]Entry, error)
	Persist(ctx context.Context, changed Entry, snapshot []Entry) error
	Clear(ctx context.Context) error
}

type Options struct {
	TTL       time.Duration
	MaxSize   int
	Persister Persister
	Clock     func() time.Time
	Logger    *slog.Logger
	Metrics   ports.MetricsRecorder
}

type item struct {
	result    domain.QueryResult
	createdAt time.Time
}

// QueryCache keeps answers keyed by normalized (query, mode, user) with LRU
// eviction and a time-to-live checked on read.
type QueryCache struct {
	mu      sync.Mutex
	entries *lru.Cache[string, item]
	ttl     time.Duration
	maxSize int
	now     func() time.Time

	persistMu sync.Mutex
	persister Persister

	logger  *slog.Logger
	metrics ports.MetricsRecorder

	hits      uint64
	misses    uint64
	evictions uint64
	degraded  atomic.Bool
}

func New(opts Options) (*QueryCache, error) {
	c := &QueryCache{
		ttl:       opts.TTL,
		maxSize:   opts.MaxSize,
		now:       opts.Clock,
		persister: opts.Persister,
		logger:    opts.Logger,
		metrics:   opts.Metrics,
	}
	if c.ttl <= 0 {
		c.ttl = DefaultTTL
	}
	if c.maxSize <= 0 {
		c.maxSize = DefaultMaxSize
	}
	if c.now == nil {
		c.now = time.Now
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.metrics == nil {
		c.metrics = ports.NopMetrics{}
	}

	entries, err := lru.New[string, item](c.maxSize)
	if err != nil {
		return nil, err
	}
	c.entries = entries
	return c, nil
}

// Key hashes the normalized query together with mode and user.
func Key(query, mode, userID string) string {
	sum := sha256.Sum256([]byte(normalize(query) + "|" + mode + "|" + userID))
	return hex.EncodeToString(sum[:])
}

func normalize(query string) string {
	return strings.Join(strings.Fields(strings.ToLower(query)), " ")
}

// Restore loads persisted entries, dropping expired ones. Errors leave the
// cache empty and degraded.
func (c *QueryCache) Restore(ctx context.Context) int {
	if c.persister == nil {
		return 0
	}
	loaded, err := c.persister.Load(ctx)
	if err != nil {
		c.logger.Warn("cache_restore_failed", "backend", c.persister.Name(), "error", err)
		c.markDegraded()
		return 0
	}

	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	restored := 0
	for _, e := range loaded {
		if e.Key == "" || now.Sub(e.CreatedAt) >= c.ttl {
			continue
		}
		c.entries.Add(e.Key, item{result: e.Result.Clone(), createdAt: e.CreatedAt})
		restored++
	}
	return restored
}

func (c *QueryCache) Get(_ context.Context, query, mode, userID string) (domain.QueryResult, bool) {
	key := Key(query, mode, userID)

	c.mu.Lock()
	defer c.mu.Unlock()

	it, ok := c.entries.Get(key)
	if !ok {
		c.misses++
		c.metrics.RecordCacheLookup(false)
		return domain.QueryResult{}, false
	}
	if c.now().Sub(it.createdAt) >= c.ttl {
		c.entries.Remove(key)
		c.misses++
		c.metrics.RecordCacheLookup(false)
		return domain.QueryResult{}, false
	}
	c.hits++
	c.metrics.RecordCacheLookup(true)
	out := it.result.Clone()
	out.FromCache = true
	return out, true
}

func (c *QueryCache) Set(ctx context.Context, query, mode, userID string, result domain.QueryResult) {
	stored := result.Clone()
	stored.FromCache = false
	entry := Entry{
		Key:       Key(query, mode, userID),
		Result:    stored,
		CreatedAt: c.now(),
	}

	c.mu.Lock()
	if evicted := c.entries.Add(entry.Key, item{result: stored, createdAt: entry.CreatedAt}); evicted {
		c.evictions++
		c.metrics.RecordCacheEviction()
	}
	if c.persister == nil {
		c.mu.Unlock()
		return
	}
	// persistMu is taken before mu is released so snapshots reach the
	// backend in the order they were taken.
	snapshot := c.snapshotLocked()
	c.persistMu.Lock()
	c.mu.Unlock()
	defer c.persistMu.Unlock()
	if err := c.persister.Persist(ctx, entry, snapshot); err != nil {
		c.logger.Warn("cache_persist_failed", "backend", c.persister.Name(), "error", err)
		c.metrics.RecordCachePersistFailure(c.persister.Name())
		c.markDegraded()
	}
}

// Clear drops every entry and resets counters.
func (c *QueryCache) Clear(ctx context.Context) error {
	c.mu.Lock()
	c.entries.Purge()
	c.hits, c.misses, c.evictions = 0, 0, 0
	c.degraded.Store(false)
	c.mu.Unlock()

	if c.persister == nil {
		return nil
	}
	c.persistMu.Lock()
	defer c.persistMu.Unlock()
	if err := c.persister.Clear(ctx); err != nil {
		c.markDegraded()
		return domain.WrapError(domain.ErrCachePersistence, "cache clear", err)
	}
	return nil
}

func (c *QueryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries.Len()
}

func (c *QueryCache) Stats() domain.CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	backend := "memory"
	if c.persister != nil {
		backend = c.persister.Name()
	}
	return domain.CacheStats{
		Size:      c.entries.Len(),
		MaxSize:   c.maxSize,
		TTL:       c.ttl.String(),
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
		Backend:   backend,
		Degraded:  c.degraded.Load(),
	}
}

// markDegraded must not take mu: Set calls it while holding persistMu.
func (c *QueryCache) markDegraded() {
	c.degraded.Store(true)
}

// snapshotLocked lists live entries from oldest to newest use.
func (c *QueryCache) snapshotLocked() []Entry {
	keys := c.entries.Keys()
	out := make([]Entry, 0, len(keys))
	for _, key := range keys {
		it, ok := c.entries.Peek(key)
		if !ok {
			continue
		}
		out = append(out, Entry{Key: key, Result: it.result.Clone(), CreatedAt: it.createdAt})
	}
	return out
}
