package migrations

import (
	"context"
	"fmt"

	"factor-lab/internal/storage/postgres"
)

// RunPostgresMigrations applies pending embedded Postgres migrations.
func RunPostgresMigrations(ctx context.Context, pool *postgres.Pool) error {
	if _, err := pool.Migrate(ctx, Postgres()); err != nil {
		return fmt.Errorf("postgres migrations: %w", err)
	}
	return nil
}
