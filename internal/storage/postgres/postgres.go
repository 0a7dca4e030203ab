package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/FranksOps/aliscrape/internal/storage"
)

// ensure postgresBackend implements storage.Backend
var _ storage.Backend = (*postgresBackend)(nil)

type postgresBackend struct {
	pool *pgxpool.Pool
}

const schema = `
CREATE TABLE IF NOT EXISTS fetch_attempts (
	id TEXT PRIMARY KEY,
	crawl_id TEXT NOT NULL,
	url TEXT NOT NULL,
	page INTEGER NOT NULL,
	attempt INTEGER NOT NULL,
	status_code INTEGER NOT NULL,
	outcome TEXT NOT NULL,
	user_agent TEXT NOT NULL,
	profile TEXT NOT NULL,
	duration_ms BIGINT NOT NULL,
	detected_bot BOOLEAN NOT NULL,
	detection_src TEXT NOT NULL DEFAULT '',
	body_bytes INTEGER NOT NULL,
	body BYTEA,
	created_at TIMESTAMPTZ NOT NULL,
	error TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS fetch_attempts_crawl ON fetch_attempts (crawl_id);
`

const columns = `id, crawl_id, url, page, attempt, status_code, outcome, user_agent, profile,
	duration_ms, detected_bot, detection_src, body_bytes, body, created_at, error`

// New creates a new Postgres-backed storage.Backend.
func New(ctx context.Context, dsn string) (storage.Backend, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}

	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: create schema: %w", err)
	}

	return &postgresBackend{pool: pool}, nil
}

func (b *postgresBackend) Save(ctx context.Context, rec *storage.AttemptRecord) error {
	query := `INSERT INTO fetch_attempts (` + columns + `)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`

	_, err := b.pool.Exec(ctx, query,
		rec.ID,
		rec.CrawlID,
		rec.URL,
		rec.Page,
		rec.Attempt,
		rec.StatusCode,
		rec.Outcome,
		rec.UserAgent,
		rec.Profile,
		rec.Duration.Milliseconds(),
		rec.DetectedBot,
		rec.DetectionSrc,
		rec.BodyBytes,
		rec.Body,
		rec.CreatedAt,
		rec.Error,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert attempt: %w", err)
	}

	return nil
}

func (b *postgresBackend) Query(ctx context.Context, filter storage.Filter) ([]*storage.AttemptRecord, error) {
	query := `SELECT ` + columns + ` FROM fetch_attempts WHERE 1=1`
	args := []any{}
	paramCount := 1

	add := func(clause string, v any) {
		query += fmt.Sprintf(clause, paramCount)
		args = append(args, v)
		paramCount++
	}

	if filter.CrawlID != "" {
		add(` AND crawl_id = $%d`, filter.CrawlID)
	}
	if filter.URL != "" {
		add(` AND url = $%d`, filter.URL)
	}
	if filter.Outcome != "" {
		add(` AND outcome = $%d`, filter.Outcome)
	}
	if filter.DetectedBot != nil {
		add(` AND detected_bot = $%d`, *filter.DetectedBot)
	}
	if filter.Since != nil {
		add(` AND created_at >= $%d`, *filter.Since)
	}

	query += ` ORDER BY created_at DESC, attempt DESC`

	if filter.Limit > 0 {
		add(` LIMIT $%d`, filter.Limit)
	}
	if filter.Offset > 0 {
		add(` OFFSET $%d`, filter.Offset)
	}

	rows, err := b.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: query attempts: %w", err)
	}
	defer rows.Close()

	var results []*storage.AttemptRecord
	for rows.Next() {
		var r storage.AttemptRecord
		var durationMs int64

		err := rows.Scan(
			&r.ID, &r.CrawlID, &r.URL, &r.Page, &r.Attempt, &r.StatusCode, &r.Outcome,
			&r.UserAgent, &r.Profile, &durationMs, &r.DetectedBot, &r.DetectionSrc,
			&r.BodyBytes, &r.Body, &r.CreatedAt, &r.Error,
		)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan attempt: %w", err)
		}

		r.Duration = time.Duration(durationMs) * time.Millisecond
		results = append(results, &r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: read attempts: %w", err)
	}

	return results, nil
}

func (b *postgresBackend) Close() error {
	b.pool.Close()
	return nil
}
