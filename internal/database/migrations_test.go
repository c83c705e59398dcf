package database

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
)

func TestSchema(t *testing.T) {
	s := Schema()
	assert.Contains(t, s, "CREATE TYPE ledger_entry_type AS ENUM ('credit', 'debit', 'wager', 'payout', 'bonus', 'refund')")
	assert.Contains(t, s, "ledger_entries_idempotency_key_key UNIQUE (idempotency_key)")
	assert.Contains(t, s, "ledger_entries_balance_consistency")
	assert.Contains(t, s, "accounts_balance_non_negative CHECK (balance >= 0)")
	assert.Contains(t, s, "BEFORE UPDATE OR DELETE ON ledger_entries")
}

func TestMigrate(t *testing.T) {
	ctx := context.Background()

	t.Run("applies schema", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()

		mock.ExpectBegin()
		mock.ExpectExec("SELECT pg_advisory_xact_lock").WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS accounts")).WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectCommit()

		assert.NoError(t, Migrate(ctx, db))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("schema failure rolls back", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()

		mock.ExpectBegin()
		mock.ExpectExec("SELECT pg_advisory_xact_lock").WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectExec("CREATE TABLE").WillReturnError(errors.New("permission denied"))
		mock.ExpectRollback()

		err = Migrate(ctx, db)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "apply schema")
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
