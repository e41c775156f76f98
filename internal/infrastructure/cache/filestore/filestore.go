package filestore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"

	"github.com/kirillkom/knowledge-qa/internal/core/ports"
	"github.com/kirillkom/knowledge-qa/internal/infrastructure/cache"
)

const (
	DefaultKey      = "query_cache.json"
	snapshotVersion = 1
)

type snapshot struct {
	Version int           `json:"version"`
	Entries []cache.Entry `json:"entries"`
}

// Store writes the whole cache as one JSON snapshot after every change.
type Store struct {
	store ports.SnapshotStore
	key   string
}

func New(store ports.SnapshotStore, key string) *Store {
	if key == "" {
		key = DefaultKey
	}
	return &Store{store: store, key: key}
}

func (s *Store) Name() string { return "file" }

func (s *Store) Load(ctx context.Context) ([]cache.Entry, error) {
	rc, err := s.store.Open(ctx, s.key)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("open cache snapshot: %w", err)
	}
	defer rc.Close()

	var snap snapshot
	if err := json.NewDecoder(rc).Decode(&snap); err != nil {
		return nil, fmt.Errorf("decode cache snapshot: %w", err)
	}
	if snap.Version != snapshotVersion {
		return nil, fmt.Errorf("unsupported cache snapshot version %d", snap.Version)
	}
	return snap.Entries, nil
}

func (s *Store) Persist(ctx context.Context, _ cache.Entry, entries []cache.Entry) error {
	return s.write(ctx, entries)
}

func (s *Store) Clear(ctx context.Context) error {
	return s.write(ctx, nil)
}

func (s *Store) write(ctx context.Context, entries []cache.Entry) error {
	if entries == nil {
		entries = []cache.Entry{}
	}
	raw, err := json.Marshal(snapshot{Version: snapshotVersion, Entries: entries})
	if err != nil {
		return fmt.Errorf("encode cache snapshot: %w", err)
	}
	if err := s.store.Save(ctx, s.key, bytes.NewReader(raw)); err != nil {
		return fmt.Errorf("save cache snapshot: %w", err)
	}
	return nil
}
