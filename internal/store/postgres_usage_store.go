package store

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
)

const usageSchemaSQL = `
CREATE TABLE IF NOT EXISTS usage_totals (
	run_id TEXT NOT NULL,
	period TEXT NOT NULL,
	username TEXT NOT NULL,
	seconds BIGINT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (run_id, period, username)
);
`

type PostgresUsageStore struct {
	db *sql.DB
}

func NewPostgresUsageStore(ctx context.Context, dsn string) (*PostgresUsageStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres connection: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	store := &PostgresUsageStore{db: db}
	if err := store.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

func (s *PostgresUsageStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, usageSchemaSQL); err != nil {
		return fmt.Errorf("ensure usage schema: %w", err)
	}
	return nil
}

func (s *PostgresUsageStore) Close() error {
	return s.db.Close()
}

// SaveUsage inserts all rows in one transaction so a failed archive run
// leaves no partial period behind.
func (s *PostgresUsageStore) SaveUsage(ctx context.Context, rows []UsageRow) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin usage transaction: %w", err)
	}

	for _, row := range rows {
		_, err := tx.ExecContext(
			ctx,
			`INSERT INTO usage_totals (run_id, period, username, seconds, created_at)
			 VALUES ($1, $2, $3, $4, $5)`,
			row.RunID,
			row.Period,
			row.User,
			row.Seconds,
			row.CreatedAt,
		)
		if err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("insert usage row: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit usage rows: %w", err)
	}
	return nil
}
