package localfs

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"strings"
	"testing"
)

func TestSaveThenOpenRoundTrip(t *testing.T) {
	store, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if err := store.Save(context.Background(), "cache/query_cache.json", strings.NewReader(`{"a":1}`)); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if err := store.Save(context.Background(), "cache/query_cache.json", strings.NewReader(`{"a":2}`)); err != nil {
		t.Fatalf("Save() second error = %v", err)
	}

	rc, err := store.Open(context.Background(), "cache/query_cache.json")
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer rc.Close()
	data, _ := io.ReadAll(rc)
	if string(data) != `{"a":2}` {
		t.Fatalf("unexpected snapshot content %q", string(data))
	}
}

func TestOpenMissingReturnsNotExist(t *testing.T) {
	store, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	_, err = store.Open(context.Background(), "missing.json")
	if !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("expected fs.ErrNotExist, got %v", err)
	}
}

func TestRejectsEscapingKeys(t *testing.T) {
	store, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := store.Save(context.Background(), "../escape.json", strings.NewReader("x")); err == nil {
		t.Fatalf("expected error for escaping key")
	}
}
