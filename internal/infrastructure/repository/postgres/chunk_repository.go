package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/kirillkom/knowledge-qa/internal/core/domain"
	"github.com/kirillkom/knowledge-qa/internal/infrastructure/resilience"
)

type ChunkRepository struct {
	db       *sql.DB
	executor *resilience.Executor
}

func NewChunkRepository(db *sql.DB, executor *resilience.Executor) *ChunkRepository {
	return &ChunkRepository{db: db, executor: executor}
}

func OpenDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql open: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return db, nil
}

func (r *ChunkRepository) EnsureSchema(ctx context.Context) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// Serialize bootstrap DDL across concurrent startups.
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, int64(2024050101)); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}

	const query = `
CREATE TABLE IF NOT EXISTS chunks (
	id TEXT PRIMARY KEY,
	content TEXT NOT NULL,
	source TEXT NOT NULL,
	domain_type TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_chunks_source ON chunks(source);
`
	if _, err := tx.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("execute schema ddl: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}

// GetChunks resolves ids to chunks. Unknown ids are absent from the map.
func (r *ChunkRepository) GetChunks(ctx context.Context, ids []string) (map[string]domain.Chunk, error) {
	out := make(map[string]domain.Chunk, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = "$" + strconv.Itoa(i+1)
		args[i] = id
	}
	query := `
SELECT id, content, source, domain_type
FROM chunks
WHERE id IN (` + strings.Join(placeholders, ",") + `)
`

	err := r.executor.Execute(ctx, "postgres.get_chunks", func(ctx context.Context) error {
		rows, err := r.db.QueryContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("query chunks: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			chunk, err := scanChunk(rows)
			if err != nil {
				return err
			}
			out[chunk.ID] = chunk
		}
		if err := rows.Err(); err != nil {
			return fmt.Errorf("iterate chunks: %w", err)
		}
		return nil
	}, nil)
	if err != nil {
		return nil, domain.WrapError(domain.ErrBackendUnavailable, "get chunks", err)
	}
	return out, nil
}

func (r *ChunkRepository) GetChunk(ctx context.Context, id string) (domain.Chunk, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT id, content, source, domain_type
FROM chunks
WHERE id = $1
`, id)
	chunk, err := scanChunk(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Chunk{}, domain.WrapError(domain.ErrDocumentNotFound, "get chunk", fmt.Errorf("chunk %s", id))
		}
		return domain.Chunk{}, err
	}
	return chunk, nil
}

// ListChunks streams every chunk in id order.
func (r *ChunkRepository) ListChunks(ctx context.Context, fn func(domain.Chunk) error) error {
	rows, err := r.db.QueryContext(ctx, `
SELECT id, content, source, domain_type
FROM chunks
ORDER BY id
`)
	if err != nil {
		return fmt.Errorf("list chunks: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		chunk, err := scanChunk(rows)
		if err != nil {
			return err
		}
		if err := fn(chunk); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate chunks: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanChunk(row rowScanner) (domain.Chunk, error) {
	var chunk domain.Chunk
	var domainType string
	if err := row.Scan(&chunk.ID, &chunk.Content, &chunk.Source, &domainType); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Chunk{}, err
		}
		return domain.Chunk{}, fmt.Errorf("scan chunk: %w", err)
	}
	chunk.DomainType = domain.DomainType(domainType)
	return chunk, nil
}
