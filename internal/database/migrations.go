package database

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"

	"github.com/ruralpay/wallet-ledger/internal/logger"
)

//go:embed schema.sql
var schema string

// Schema returns the embedded Postgres schema.
func Schema() string {
	return schema
}

// Migrate applies the embedded schema in one transaction. It is safe to run
// on every start.
func Migrate(ctx context.Context, db *sql.DB) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "SELECT pg_advisory_xact_lock(hashtext('wallet_ledger_migrate'))"); err != nil {
		return fmt.Errorf("acquire migration lock: %w", err)
	}
	if _, err := tx.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration: %w", err)
	}

	logger.Info("Database schema up to date")
	return nil
}
