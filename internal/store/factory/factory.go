// Package factory builds the configured store.Store implementation.
package factory

import (
	"context"
	"fmt"

	"github.com/42zz/CaleNote-sub001/internal/config"
	"github.com/42zz/CaleNote-sub001/internal/store"
	"github.com/42zz/CaleNote-sub001/internal/store/postgres"
	"github.com/42zz/CaleNote-sub001/internal/store/sqlite"
)

// New opens the store selected by cfg.DBDriver.
func New(ctx context.Context, cfg *config.Config) (store.Store, error) {
	switch cfg.DBDriver {
	case "sqlite":
		return sqlite.New(cfg.SQLitePath)
	case "postgres":
		if cfg.PostgresDSN == "" {
			return nil, fmt.Errorf("db driver %q requires CALENOTE_POSTGRES_DSN", cfg.DBDriver)
		}
		return postgres.New(ctx, cfg.PostgresDSN)
	default:
		return nil, fmt.Errorf("unsupported db driver %q", cfg.DBDriver)
	}
}
