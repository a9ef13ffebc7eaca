package store

import (
	"context"
	"fmt"
	"path/filepath"

	"icsagenda/internal/config"
)

// NewBackend builds the backend selected by cfg.Driver.
func NewBackend(ctx context.Context, cfg config.StoreConfig) (Backend, error) {
	var (
		b   Backend
		err error
	)
	switch cfg.Driver {
	case config.StoreFile, "":
		var fb *FileBackend
		fb, err = NewFileBackend(cfg.Dir)
		b = fb
	case config.StoreSQLite:
		var sb *SQLiteBackend
		sb, err = NewSQLiteBackend(filepath.Join(cfg.Dir, SQLiteFile))
		b = sb
	case config.StorePostgres:
		var pb *PostgresBackend
		pb, err = NewPostgresBackend(ctx, cfg.DSN)
		b = pb
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, fmt.Errorf("%s store: %w", cfg.Driver, err)
	}
	return b, nil
}
