package pipeline

import (
	"context"
	"fmt"

	"github.com/FranksOps/aliscrape/internal/config"
	"github.com/FranksOps/aliscrape/internal/storage"
	"github.com/FranksOps/aliscrape/internal/storage/jsonbackend"
	"github.com/FranksOps/aliscrape/internal/storage/postgres"
	"github.com/FranksOps/aliscrape/internal/storage/sqlite"
)

// OpenAudit opens the attempt audit backend named by cfg.Driver. An empty
// driver returns a nil backend and no error.
func OpenAudit(ctx context.Context, cfg config.AuditConfig) (storage.Backend, error) {
	var (
		b   storage.Backend
		err error
	)
	switch cfg.Driver {
	case "":
		return nil, nil
	case "sqlite":
		b, err = sqlite.New(cfg.DSN)
	case "postgres":
		b, err = postgres.New(ctx, cfg.DSN)
	case "json":
		b, err = jsonbackend.New(cfg.DSN)
	default:
		return nil, fmt.Errorf("pipeline: unknown audit driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, fmt.Errorf("pipeline: open %s audit: %w", cfg.Driver, err)
	}
	return b, nil
}
