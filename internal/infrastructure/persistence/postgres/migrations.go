package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type migration struct {
	version int
	name    string
	sql     string
}

// migrations run in order; append only.
var migrations = []migration{
	{
		version: 1,
		name:    "create_kv_store",
		sql: `
-- Per-user key-value records: stats_<uid>, studyStart_<uid>, account_<email>, ...
CREATE TABLE IF NOT EXISTS kv_store (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL,
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_kv_store_updated_at ON kv_store (updated_at);
`,
	},
}

const createMigrationsTable = `
CREATE TABLE IF NOT EXISTS schema_migrations (
    version INTEGER PRIMARY KEY,
    name TEXT NOT NULL,
    applied_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
)`

// claimMigration inserts the version row first; the row lock makes a second
// instance starting at the same time wait, then skip.
const claimMigration = `
INSERT INTO schema_migrations (version, name) VALUES ($1, $2)
ON CONFLICT (version) DO NOTHING`

// migrate applies pending migrations, each in its own transaction.
func migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, createMigrationsTable); err != nil {
		return fmt.Errorf("%w: schema_migrations: %w", ErrMigrationFailed, err)
	}

	for _, m := range migrations {
		err := pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
			tag, err := tx.Exec(ctx, claimMigration, m.version, m.name)
			if err != nil {
				return err
			}
			if tag.RowsAffected() == 0 {
				return nil
			}
			_, err = tx.Exec(ctx, m.sql)
			return err
		})
		if err != nil {
			return fmt.Errorf("%w: %03d_%s: %w", ErrMigrationFailed, m.version, m.name, err)
		}
	}
	return nil
}
