// Package schema owns the relational schema shared by the Postgres stores.
package schema

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema.sql
var ddl string

// Migrate applies the schema; every statement is idempotent
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}
