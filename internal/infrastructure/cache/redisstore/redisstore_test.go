package redisstore

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/redis/rueidis"
	"github.com/redis/rueidis/mock"
	"go.uber.org/mock/gomock"

	"github.com/kirillkom/knowledge-qa/internal/core/domain"
	"github.com/kirillkom/knowledge-qa/internal/infrastructure/cache"
)

func entryJSON(t *testing.T, e cache.Entry) string {
	t.Helper()
	raw, err := json.Marshal(e)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return string(raw)
}

func TestPersistSetsEntryWithRemainingTTL(t *testing.T) {
	ctrl := gomock.NewController(t)
	c := mock.NewClient(ctrl)

	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	c.EXPECT().
		Do(gomock.Any(), mock.MatchFn(func(cmd []string) bool {
			return len(cmd) == 5 && cmd[0] == "SET" && cmd[1] == "kqa:cache:abc" && cmd[3] == "EX" && cmd[4] == "3000"
		})).
		Return(mock.Result(mock.RedisString("OK")))

	s := New(c, "", time.Hour)
	s.now = func() time.Time { return now }
	err := s.Persist(context.Background(), cache.Entry{
		Key:       "abc",
		Result:    domain.QueryResult{Answer: "a"},
		CreatedAt: now.Add(-10 * time.Minute),
	}, nil)
	if err != nil {
		t.Fatalf("Persist() error = %v", err)
	}
}

func TestPersistSurfacesRedisError(t *testing.T) {
	ctrl := gomock.NewController(t)
	c := mock.NewClient(ctrl)
	c.EXPECT().
		Do(gomock.Any(), mock.MatchFn(func(cmd []string) bool { return cmd[0] == "SET" })).
		Return(mock.ErrorResult(context.DeadlineExceeded))

	if err := New(c, "", time.Hour).Persist(context.Background(), cache.Entry{Key: "k", CreatedAt: time.Now()}, nil); err == nil {
		t.Fatal("expected error")
	}
}

func TestLoadScansAndSortsByCreation(t *testing.T) {
	ctrl := gomock.NewController(t)
	c := mock.NewClient(ctrl)

	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	newer := cache.Entry{Key: "b", Result: domain.QueryResult{Answer: "b"}, CreatedAt: base.Add(time.Minute)}
	older := cache.Entry{Key: "a", Result: domain.QueryResult{Answer: "a"}, CreatedAt: base}

	c.EXPECT().
		Do(gomock.Any(), mock.MatchFn(func(cmd []string) bool {
			return cmd[0] == "SCAN" && cmd[1] == "0"
		})).
		Return(mock.Result(mock.RedisArray(
			mock.RedisString("0"),
			mock.RedisArray(mock.RedisString("kqa:cache:b"), mock.RedisString("kqa:cache:a"), mock.RedisString("kqa:cache:gone")),
		)))
	c.EXPECT().
		Do(gomock.Any(), mock.Match("GET", "kqa:cache:b")).
		Return(mock.Result(mock.RedisString(entryJSON(t, newer))))
	c.EXPECT().
		Do(gomock.Any(), mock.Match("GET", "kqa:cache:a")).
		Return(mock.Result(mock.RedisString(entryJSON(t, older))))
	c.EXPECT().
		Do(gomock.Any(), mock.Match("GET", "kqa:cache:gone")).
		Return(mock.Result(mock.RedisNil()))

	entries, err := New(c, "", time.Hour).Load(context.Background())
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(entries) != 2 || entries[0].Key != "a" || entries[1].Key != "b" {
		t.Fatalf("unexpected entries %+v", entries)
	}
}

func TestClearDeletesScannedKeys(t *testing.T) {
	ctrl := gomock.NewController(t)
	c := mock.NewClient(ctrl)

	c.EXPECT().
		Do(gomock.Any(), mock.MatchFn(func(cmd []string) bool { return cmd[0] == "SCAN" })).
		Return(mock.Result(mock.RedisArray(
			mock.RedisString("0"),
			mock.RedisArray(mock.RedisString("kqa:cache:a")),
		)))
	c.EXPECT().
		Do(gomock.Any(), mock.Match("DEL", "kqa:cache:a")).
		Return(mock.Result(mock.RedisInt64(1)))

	if err := New(c, "", time.Hour).Clear(context.Background()); err != nil {
		t.Fatalf("Clear() error = %v", err)
	}
}

func TestClearWithNoKeysSkipsDelete(t *testing.T) {
	ctrl := gomock.NewController(t)
	c := mock.NewClient(ctrl)
	c.EXPECT().
		Do(gomock.Any(), mock.MatchFn(func(cmd []string) bool { return cmd[0] == "SCAN" })).
		Return(mock.Result(mock.RedisArray(mock.RedisString("0"), mock.RedisArray())))

	if err := New(c, "", time.Hour).Clear(context.Background()); err != nil {
		t.Fatalf("Clear() error = %v", err)
	}
}

var _ rueidis.Client = (*mock.Client)(nil)

func TestClientOptionDisablesClientSideCache(t *testing.T) {
	opt := clientOption("redis:6379", "secret", 2)
	if !opt.DisableCache {
		t.Fatal("expected client-side caching to be disabled")
	}
	if len(opt.InitAddress) != 1 || opt.InitAddress[0] != "redis:6379" || opt.Password != "secret" || opt.SelectDB != 2 {
		t.Fatalf("unexpected client option %+v", opt)
	}
}
