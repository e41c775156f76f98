package ports

import (
	"context"

	"github.com/kirillkom/knowledge-qa/internal/core/domain"
)

// QuestionAnswerer is the inbound contract for the HTTP and CLI surfaces.
type QuestionAnswerer interface {
	Ask(ctx context.Context, query, mode, userID string) (domain.QueryResult, error)
	Stats() domain.EngineStats
	ClearCache(ctx context.Context) error
	Reload(ctx context.Context) error
}

// IndexMaintainer applies document change events to the local indexes.
type IndexMaintainer interface {
	Upsert(ctx context.Context, docID string) error
	Delete(ctx context.Context, docID string) error
	Reload(ctx context.Context) error
}

// IndexEventHandler consumes index maintenance events from the event bus.
type IndexEventHandler interface {
	HandleIndexEvent(ctx context.Context, event domain.IndexEvent) error
}
