package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// OpenOptions selects and configures a Repository implementation.
type OpenOptions struct {
	Driver      string // postgres, sqlite or memory
	PostgresDSN string
	SQLitePath  string
	// Migrate applies pending Postgres migrations after connecting. SQLite
	// always migrates on open.
	Migrate bool
}

// Open connects the configured store.
func Open(ctx context.Context, opts OpenOptions) (Repository, error) {
	switch opts.Driver {
	case "memory":
		return NewMemoryStore(), nil
	case "sqlite":
		return NewSQLiteStore(opts.SQLitePath)
	case "postgres":
		pool, err := OpenPostgresPool(ctx, opts.PostgresDSN)
		if err != nil {
			return nil, err
		}
		if opts.Migrate {
			if err := MigratePostgres(pool); err != nil {
				pool.Close()
				return nil, err
			}
		}
		return NewPostgresStore(pool), nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", opts.Driver)
	}
}

// OpenPostgresPool creates a pgx pool and verifies connectivity.
func OpenPostgresPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return pool, nil
}
