package wallet

import (
	"context"
	"database/sql"
	"fmt"
)

// migrations are applied in order, each in its own transaction, and recorded
// in schema_migrations so every step runs once.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS categories (
		id           TEXT PRIMARY KEY,
		name         TEXT NOT NULL,
		display_name TEXT NOT NULL,
		icon_name    TEXT NULL,
		sort_order   INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS cards (
		id            TEXT PRIMARY KEY,
		bank_name     TEXT NOT NULL,
		card_type     TEXT NOT NULL,
		card_number   TEXT NOT NULL,
		masked_number TEXT NOT NULL,
		card_holder   TEXT NOT NULL DEFAULT '',
		category_id   TEXT NOT NULL,
		color_hex     TEXT NOT NULL,
		is_default    BOOLEAN NOT NULL DEFAULT false,
		created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS cards_category_id_idx ON cards (category_id)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS cards_single_default_idx ON cards (is_default) WHERE is_default`,
	`CREATE INDEX IF NOT EXISTS categories_sort_order_idx ON categories (sort_order, id)`,
	`CREATE TABLE IF NOT EXISTS card_version (
		id      BOOLEAN PRIMARY KEY DEFAULT true CHECK (id),
		version BIGINT NOT NULL
	)`,
	`INSERT INTO card_version (id, version) VALUES (true, 0) ON CONFLICT (id) DO NOTHING`,
}

// Migrate brings the schema up to date.
func Migrate(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version    INTEGER PRIMARY KEY,
		applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`)
	if err != nil {
		return fmt.Errorf("creating schema_migrations: %w", err)
	}

	for i, stmt := range migrations {
		version := i + 1
		if err := applyMigration(ctx, db, version, stmt); err != nil {
			return fmt.Errorf("applying migration %d: %w", version, err)
		}
	}
	return nil
}

func applyMigration(ctx context.Context, db *sql.DB, version int, stmt string) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	// serialize concurrent migrators
	if _, err := tx.ExecContext(ctx, `LOCK TABLE schema_migrations IN EXCLUSIVE MODE`); err != nil {
		return err
	}

	var applied bool
	err = tx.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE version=$1)`, version).Scan(&applied)
	if err != nil {
		return err
	}
	if applied {
		return nil
	}

	if _, err := tx.ExecContext(ctx, stmt); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations(version) VALUES ($1)`, version); err != nil {
		return err
	}
	return tx.Commit()
}
