package migrations

import (
	"context"
	"fmt"

	"marketshare-qaqc/internal/storage/postgres"
)

// RunPostgresMigrations applies all embedded SQL files in lexical order.
// Migrations are idempotent (CREATE ... IF NOT EXISTS).
func RunPostgresMigrations(ctx context.Context, pool *postgres.Pool) error {
	files, err := load(PostgresFS, "postgres")
	if err != nil {
		return err
	}
	for _, m := range files {
		if _, err := pool.Exec(ctx, m.sql); err != nil {
			return fmt.Errorf("apply migration %s: %w", m.name, err)
		}
	}
	return nil
}

// ConnectPostgres opens a pool and applies the archive schema.
func ConnectPostgres(ctx context.Context, dsn string, opts postgres.PoolOptions) (*postgres.Pool, error) {
	pool, err := postgres.NewPool(ctx, dsn, opts)
	if err != nil {
		return nil, err
	}
	if err := RunPostgresMigrations(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}
