package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/FranksOps/newsdigest/internal/storage"
)

// ensure postgresBackend implements storage.Backend
var _ storage.Backend = (*postgresBackend)(nil)

type postgresBackend struct {
	pool *pgxpool.Pool
}

const schema = `
CREATE TABLE IF NOT EXISTS digest_runs (
	id TEXT PRIMARY KEY,
	query TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	duration_ms BIGINT NOT NULL,
	urls_found INTEGER NOT NULL,
	articles_scraped INTEGER NOT NULL,
	digest JSONB NOT NULL,
	error TEXT
);
CREATE INDEX IF NOT EXISTS digest_runs_created_at ON digest_runs (created_at);
`

var columns = []string{"id", "query", "created_at", "duration_ms", "urls_found", "articles_scraped", "digest", "error"}

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// New creates a new Postgres-backed storage.Backend.
func New(ctx context.Context, dsn string) (storage.Backend, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &postgresBackend{pool: pool}, nil
}

func (b *postgresBackend) Save(ctx context.Context, run *storage.Run) error {
	digestJSON, err := json.Marshal(run.Digest)
	if err != nil {
		return fmt.Errorf("marshal digest: %w", err)
	}

	query, args, err := psql.Insert("digest_runs").
		Columns(columns...).
		Values(
			run.ID,
			run.Query,
			run.CreatedAt,
			run.Duration.Milliseconds(),
			run.URLsFound,
			run.ArticlesScraped,
			digestJSON,
			run.Error,
		).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}

	if _, err := b.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	return nil
}

func (b *postgresBackend) Query(ctx context.Context, filter storage.Filter) ([]*storage.Run, error) {
	builder := psql.Select(columns...).From("digest_runs").OrderBy("created_at DESC")

	if filter.Query != "" {
		builder = builder.Where(sq.Eq{"query": filter.Query})
	}
	if filter.Since != nil {
		builder = builder.Where(sq.GtOrEq{"created_at": *filter.Since})
	}
	if filter.Limit > 0 {
		builder = builder.Limit(uint64(filter.Limit))
	}
	if filter.Offset > 0 {
		builder = builder.Offset(uint64(filter.Offset))
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select: %w", err)
	}

	rows, err := b.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var results []*storage.Run
	for rows.Next() {
		var r storage.Run
		var digestJSON []byte
		var durationMs int64
		var runErr *string

		err := rows.Scan(
			&r.ID, &r.Query, &r.CreatedAt, &durationMs,
			&r.URLsFound, &r.ArticlesScraped, &digestJSON, &runErr,
		)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}

		r.Duration = time.Duration(durationMs) * time.Millisecond
		if runErr != nil {
			r.Error = *runErr
		}
		if err := json.Unmarshal(digestJSON, &r.Digest); err != nil {
			return nil, fmt.Errorf("decode digest: %w", err)
		}

		results = append(results, &r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}

	return results, nil
}

func (b *postgresBackend) Close() error {
	b.pool.Close()
	return nil
}
