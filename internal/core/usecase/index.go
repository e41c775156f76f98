package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/kirillkom/knowledge-qa/internal/core/domain"
	"github.com/kirillkom/knowledge-qa/internal/core/ports"
)

// Reloader is the engine-wide reload hook (router clients, cache, snapshot).
type Reloader interface {
	Reload(ctx context.Context) error
}

type IndexMaintenanceDeps struct {
	Docs     ports.ChunkReader
	Keyword  ports.KeywordWriter
	Lexical  ports.LexicalWriter
	Cache    ports.CacheAdmin
	Reloader Reloader
}

// IndexMaintenance applies document store changes to the in-process indexes.
// The vector index is maintained by the ingestion side and is not touched.
type IndexMaintenance struct {
	deps   IndexMaintenanceDeps
	logger *slog.Logger
}

func NewIndexMaintenance(deps IndexMaintenanceDeps, logger *slog.Logger) *IndexMaintenance {
	if logger == nil {
		logger = slog.Default()
	}
	return &IndexMaintenance{deps: deps, logger: logger}
}

func (m *IndexMaintenance) HandleIndexEvent(ctx context.Context, event domain.IndexEvent) error {
	if err := event.Validate(); err != nil {
		return domain.WrapError(domain.ErrInvalidInput, "handle index event", fmt.Errorf("op=%q doc_id=%q", event.Op, event.DocID))
	}
	switch event.Op {
	case domain.IndexOpUpsert:
		return m.Upsert(ctx, event.DocID)
	case domain.IndexOpDelete:
		return m.Delete(ctx, event.DocID)
	default:
		return m.Reload(ctx)
	}
}

// Upsert re-reads the chunk and replaces its postings. A chunk that is gone
// from the store is removed instead.
func (m *IndexMaintenance) Upsert(ctx context.Context, docID string) error {
	if m.deps.Docs == nil {
		return domain.WrapError(domain.ErrNotInitialized, "index upsert", errors.New("document store is not configured"))
	}
	chunk, err := m.deps.Docs.GetChunk(ctx, docID)
	if err != nil {
		if domain.IsKind(err, domain.ErrDocumentNotFound) {
			m.logger.Warn("index_upsert_missing_document", "doc_id", docID)
			return m.Delete(ctx, docID)
		}
		return err
	}

	if m.deps.Keyword != nil {
		m.deps.Keyword.Add(chunk.ID, chunk.Content, 1)
	}
	var lexErr error
	if m.deps.Lexical != nil {
		lexErr = m.deps.Lexical.Put(ctx, chunk)
	}
	m.afterChange(ctx)
	if lexErr != nil {
		return fmt.Errorf("index upsert %s: %w", docID, lexErr)
	}
	m.logger.Info("index_upserted", "doc_id", docID)
	return nil
}

func (m *IndexMaintenance) Delete(ctx context.Context, docID string) error {
	removed := false
	if m.deps.Keyword != nil {
		removed = m.deps.Keyword.Remove(docID)
	}
	var lexErr error
	if m.deps.Lexical != nil {
		lexErr = m.deps.Lexical.Delete(ctx, docID)
	}
	m.afterChange(ctx)
	if lexErr != nil {
		return fmt.Errorf("index delete %s: %w", docID, lexErr)
	}
	m.logger.Info("index_deleted", "doc_id", docID, "keyword_removed", removed)
	return nil
}

func (m *IndexMaintenance) Reload(ctx context.Context) error {
	if m.deps.Reloader == nil {
		return nil
	}
	return m.deps.Reloader.Reload(ctx)
}

// afterChange persists the keyword snapshot and drops cached answers, which
// may cite the changed document.
func (m *IndexMaintenance) afterChange(ctx context.Context) {
	if m.deps.Keyword != nil {
		if err := m.deps.Keyword.Save(ctx); err != nil {
			m.logger.Warn("keyword_snapshot_save_failed", "error", err)
		}
	}
	if m.deps.Cache != nil {
		if err := m.deps.Cache.Clear(ctx); err != nil {
			m.logger.Warn("cache_clear_failed", "error", err)
		}
	}
}
