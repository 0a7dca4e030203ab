package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/FranksOps/aliscrape/internal/storage"
)

// ensure sqliteBackend implements storage.Backend
var _ storage.Backend = (*sqliteBackend)(nil)

type sqliteBackend struct {
	db *sql.DB
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
	duration_ms INTEGER NOT NULL,
	detected_bot BOOLEAN NOT NULL,
	detection_src TEXT,
	body_bytes INTEGER NOT NULL,
	body BLOB,
	created_at DATETIME NOT NULL,
	error TEXT
);
CREATE INDEX IF NOT EXISTS fetch_attempts_crawl ON fetch_attempts (crawl_id);
`

const columns = `id, crawl_id, url, page, attempt, status_code, outcome, user_agent, profile,
	duration_ms, detected_bot, detection_src, body_bytes, body, created_at, error`

// New creates a new SQLite-backed storage.Backend.
func New(dsn string) (storage.Backend, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	// The pure-Go driver serializes writers; one connection avoids SQLITE_BUSY
	// when concurrent crawls record attempts.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: create schema: %w", err)
	}

	return &sqliteBackend{db: db}, nil
}

func (b *sqliteBackend) Save(ctx context.Context, rec *storage.AttemptRecord) error {
	query := `INSERT INTO fetch_attempts (` + columns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := b.db.ExecContext(ctx, query,
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
		return fmt.Errorf("sqlite: insert attempt: %w", err)
	}

	return nil
}

func (b *sqliteBackend) Query(ctx context.Context, filter storage.Filter) ([]*storage.AttemptRecord, error) {
	query := `SELECT ` + columns + ` FROM fetch_attempts WHERE 1=1`
	args := []any{}

	if filter.CrawlID != "" {
		query += ` AND crawl_id = ?`
		args = append(args, filter.CrawlID)
	}
	if filter.URL != "" {
		query += ` AND url = ?`
		args = append(args, filter.URL)
	}
	if filter.Outcome != "" {
		query += ` AND outcome = ?`
		args = append(args, filter.Outcome)
	}
	if filter.DetectedBot != nil {
		query += ` AND detected_bot = ?`
		args = append(args, *filter.DetectedBot)
	}
	if filter.Since != nil {
		query += ` AND created_at >= ?`
		args = append(args, *filter.Since)
	}

	query += ` ORDER BY created_at DESC, attempt DESC`

	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	} else if filter.Offset > 0 {
		query += ` LIMIT -1`
	}
	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := b.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: query attempts: %w", err)
	}
	defer rows.Close()

	var results []*storage.AttemptRecord
	for rows.Next() {
		var r storage.AttemptRecord
		var durationMs int64
		var detectionSrc, errText sql.NullString

		err := rows.Scan(
			&r.ID, &r.CrawlID, &r.URL, &r.Page, &r.Attempt, &r.StatusCode, &r.Outcome,
			&r.UserAgent, &r.Profile, &durationMs, &r.DetectedBot, &detectionSrc,
			&r.BodyBytes, &r.Body, &r.CreatedAt, &errText,
		)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scan attempt: %w", err)
		}

		r.Duration = time.Duration(durationMs) * time.Millisecond
		r.DetectionSrc = detectionSrc.String
		r.Error = errText.String
		results = append(results, &r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: read attempts: %w", err)
	}

	return results, nil
}

func (b *sqliteBackend) Close() error {
	return b.db.Close()
}
