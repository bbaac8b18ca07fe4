package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	_ "modernc.org/sqlite"

	"github.com/FranksOps/newsdigest/internal/storage"
)

// ensure sqliteBackend implements storage.Backend
var _ storage.Backend = (*sqliteBackend)(nil)

type sqliteBackend struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS digest_runs (
	id TEXT PRIMARY KEY,
	query TEXT NOT NULL,
	created_at DATETIME NOT NULL,
	duration_ms INTEGER NOT NULL,
	urls_found INTEGER NOT NULL,
	articles_scraped INTEGER NOT NULL,
	digest TEXT NOT NULL,
	error TEXT
);
CREATE INDEX IF NOT EXISTS digest_runs_created_at ON digest_runs (created_at);
`

var columns = []string{"id", "query", "created_at", "duration_ms", "urls_found", "articles_scraped", "digest", "error"}

// New creates a new SQLite-backed storage.Backend.
func New(dsn string) (storage.Backend, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &sqliteBackend{db: db}, nil
}

func (b *sqliteBackend) Save(ctx context.Context, run *storage.Run) error {
	digestJSON, err := json.Marshal(run.Digest)
	if err != nil {
		return fmt.Errorf("marshal digest: %w", err)
	}

	query, args, err := sq.Insert("digest_runs").
		Columns(columns...).
		Values(
			run.ID,
			run.Query,
			run.CreatedAt.UTC(),
			run.Duration.Milliseconds(),
			run.URLsFound,
			run.ArticlesScraped,
			string(digestJSON),
			run.Error,
		).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}

	if _, err := b.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	return nil
}

func (b *sqliteBackend) Query(ctx context.Context, filter storage.Filter) ([]*storage.Run, error) {
	builder := sq.Select(columns...).From("digest_runs").OrderBy("created_at DESC")

	if filter.Query != "" {
		builder = builder.Where(sq.Eq{"query": filter.Query})
	}
	if filter.Since != nil {
		builder = builder.Where(sq.GtOrEq{"created_at": filter.Since.UTC()})
	}
	if filter.Limit > 0 {
		builder = builder.Limit(uint64(filter.Limit))
	}
	if filter.Offset > 0 {
		if filter.Limit <= 0 {
			// SQLite requires LIMIT before OFFSET
			builder = builder.Limit(uint64(1<<63 - 1))
		}
		builder = builder.Offset(uint64(filter.Offset))
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select: %w", err)
	}

	rows, err := b.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var results []*storage.Run
	for rows.Next() {
		var r storage.Run
		var digestJSON string
		var durationMs int64
		var runErr sql.NullString

		err := rows.Scan(
			&r.ID, &r.Query, &r.CreatedAt, &durationMs,
			&r.URLsFound, &r.ArticlesScraped, &digestJSON, &runErr,
		)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}

		r.Duration = time.Duration(durationMs) * time.Millisecond
		r.Error = runErr.String
		if err := json.Unmarshal([]byte(digestJSON), &r.Digest); err != nil {
			return nil, fmt.Errorf("decode digest: %w", err)
		}

		results = append(results, &r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}

	return results, nil
}

func (b *sqliteBackend) Close() error {
	return b.db.Close()
}
