package redisstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/redis/rueidis"

	"github.com/kirillkom/knowledge-qa/internal/infrastructure/cache"
)

const DefaultPrefix = "kqa:cache:"

// Store keeps one redis key per cache entry with a matching expiry.
type Store struct {
	client rueidis.Client
	prefix string
	ttl    time.Duration
	now    func() time.Time
}

func New(client rueidis.Client, prefix string, ttl time.Duration) *Store {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	if ttl <= 0 {
		ttl = cache.DefaultTTL
	}
	return &Store{client: client, prefix: prefix, ttl: ttl, now: time.Now}
}

// Dial opens a rueidis client for addr without client-side caching.
func Dial(addr, password string, db int) (rueidis.Client, error) {
	client, err := rueidis.NewClient(clientOption(addr, password, db))
	if err != nil {
		return nil, fmt.Errorf("connect redis %s: %w", addr, err)
	}
	return client, nil
}

// Client-side caching needs RESP3 and CLIENT TRACKING; entries are read once
// at startup, so it stays off and older servers remain usable.
func clientOption(addr, password string, db int) rueidis.ClientOption {
	return rueidis.ClientOption{
		InitAddress:  []string{addr},
		Password:     password,
		SelectDB:     db,
		DisableCache: true,
	}
}

func (s *Store) Name() string { return "redis" }

func (s *Store) Persist(ctx context.Context, changed cache.Entry, _ []cache.Entry) error {
	// Expire with the entry, not with the write.
	remaining := s.ttl - s.now().Sub(changed.CreatedAt)
	if remaining < time.Second {
		remaining = time.Second
	}
	raw, err := json.Marshal(changed)
	if err != nil {
		return fmt.Errorf("encode cache entry: %w", err)
	}
	cmd := s.client.B().Set().Key(s.prefix + changed.Key).Value(string(raw)).Ex(remaining).Build()
	if err := s.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Load scans every entry under the prefix, oldest first.
func (s *Store) Load(ctx context.Context) ([]cache.Entry, error) {
	keys, err := s.scan(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]cache.Entry, 0, len(keys))
	for _, key := range keys {
		raw, err := s.client.Do(ctx, s.client.B().Get().Key(key).Build()).AsBytes()
		if err != nil {
			if rueidis.IsRedisNil(err) {
				continue
			}
			return nil, fmt.Errorf("redis get %s: %w", key, err)
		}
		var entry cache.Entry
		if err := json.Unmarshal(raw, &entry); err != nil {
			continue
		}
		out = append(out, entry)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *Store) Clear(ctx context.Context) error {
	keys, err := s.scan(ctx)
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	if err := s.client.Do(ctx, s.client.B().Del().Key(keys...).Build()).Error(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

func (s *Store) scan(ctx context.Context) ([]string, error) {
	var keys []string
	var cursor uint64
	for {
		cmd := s.client.B().Scan().Cursor(cursor).Match(s.prefix + "*").Count(100).Build()
		entry, err := s.client.Do(ctx, cmd).AsScanEntry()
		if err != nil {
			return nil, fmt.Errorf("redis scan: %w", err)
		}
		keys = append(keys, entry.Elements...)
		cursor = entry.Cursor
		if cursor == 0 {
			return keys, nil
		}
	}
}
