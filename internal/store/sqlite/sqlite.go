/*
Package sqlite provides a SQLite-backed implementation of the store
interfaces for single-node deployments and local development.

STORAGE:
  Money is kept as INTEGER cents and timestamps as INTEGER unix
  microseconds, so values round-trip exactly and sort correctly.

CONCURRENCY:
  The pool is capped at one connection and transactions open with
  BEGIN IMMEDIATE. A unit of work therefore holds the database write lock
  for its whole duration, which is coarser than a per-account lock but
  gives the same serialization guarantee. Waiting for the connection is
  bounded by the lock timeout.

APPEND-ONLY ENFORCEMENT:
  Triggers abort any UPDATE or DELETE on ledger_entries. CHECK constraints
  repeat the balance bookkeeping rules so a buggy caller cannot persist an
  inconsistent entry.

USAGE:
  st, err := sqlite.New("./data/ledger.db")
  if err != nil {
      log.Fatal(err)
  }
  defer st.Close()
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/ruralpay/wallet-ledger/internal/models"
	"github.com/ruralpay/wallet-ledger/internal/store"
	"github.com/shopspring/decimal"
)

// DefaultLockTimeout bounds how long a unit of work waits for the write
// connection.
const DefaultLockTimeout = 5 * time.Second

const accountColumns = "id, username, email, password_hash, balance, status, role, created_at, updated_at, last_login_at"

const entryColumns = "id, account_id, idempotency_key, type, amount, balance_before, balance_after, description, metadata, processed_at, created_at"

// Store implements store.Store using SQLite.
type Store struct {
	db          *sql.DB
	lockTimeout time.Duration
}

var _ store.Store = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithLockTimeout overrides DefaultLockTimeout.
func WithLockTimeout(d time.Duration) Option {
	return func(s *Store) { s.lockTimeout = d }
}

// New opens (creating if needed) the database at dbPath and migrates it.
// Use ":memory:" for a throwaway database.
func New(dbPath string, opts ...Option) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_txlock=immediate&_busy_timeout=5000&_foreign_keys=on&_journal_mode=WAL", dbPath)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	// An idle :memory: connection must never be closed or the data is gone.
	db.SetConnMaxLifetime(0)

	s := &Store{db: db, lockTimeout: DefaultLockTimeout}
	for _, opt := range opts {
		opt(s)
	}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS accounts (
		id            TEXT PRIMARY KEY,
		username      TEXT NOT NULL UNIQUE COLLATE NOCASE,
		email         TEXT NOT NULL UNIQUE COLLATE NOCASE,
		password_hash TEXT NOT NULL,
		balance       INTEGER NOT NULL DEFAULT 0 CHECK (balance >= 0),
		status        TEXT NOT NULL DEFAULT 'active' CHECK (status IN ('active', 'suspended', 'inactive')),
		role          TEXT NOT NULL DEFAULT 'player' CHECK (role IN ('player', 'admin')),
		created_at    INTEGER NOT NULL,
		updated_at    INTEGER NOT NULL,
		last_login_at INTEGER
	);

	CREATE TABLE IF NOT EXISTS ledger_entries (
		id              TEXT PRIMARY KEY,
		account_id      TEXT NOT NULL REFERENCES accounts(id),
		idempotency_key TEXT NOT NULL UNIQUE,
		type            TEXT NOT NULL CHECK (type IN ('credit', 'debit', 'wager', 'payout', 'bonus', 'refund')),
		amount          INTEGER NOT NULL CHECK (amount > 0),
		balance_before  INTEGER NOT NULL CHECK (balance_before >= 0),
		balance_after   INTEGER NOT NULL CHECK (balance_after >= 0),
		description     TEXT,
		metadata        TEXT,
		processed_at    INTEGER NOT NULL,
		created_at      INTEGER NOT NULL,
		CHECK (
			(type IN ('credit', 'payout', 'bonus', 'refund') AND balance_after = balance_before + amount)
			OR (type IN ('debit', 'wager') AND balance_after = balance_before - amount)
		)
	);

	CREATE INDEX IF NOT EXISTS idx_ledger_entries_account_created
		ON ledger_entries(account_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_ledger_entries_type
		ON ledger_entries(type);
	CREATE INDEX IF NOT EXISTS idx_ledger_entries_created
		ON ledger_entries(created_at);

	CREATE TRIGGER IF NOT EXISTS ledger_entries_no_update
		BEFORE UPDATE ON ledger_entries
		BEGIN
			SELECT RAISE(ABORT, 'ledger entries are immutable');
		END;

	CREATE TRIGGER IF NOT EXISTS ledger_entries_no_delete
		BEFORE DELETE ON ledger_entries
		BEGIN
			SELECT RAISE(ABORT, 'ledger entries are immutable');
		END;
	`
	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// UNIT OF WORK
// =============================================================================

// inTx takes the only connection, waiting at most lockTimeout, and runs fn in
// an immediate transaction on it.
func (s *Store) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	acquireCtx, cancel := context.WithTimeout(ctx, s.lockTimeout)
	conn, err := s.db.Conn(acquireCtx)
	cancel()
	if err != nil {
		if ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
			return models.ErrLockTimeout
		}
		return mapError(err)
	}
	defer conn.Close()

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", mapError(err))
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return mapError(err)
	}
	return nil
}

// WithTx runs fn as one unit of work.
func (s *Store) WithTx(ctx context.Context, fn func(uow store.UnitOfWork) error) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		return fn(&txStore{tx: tx})
	})
}

type txStore struct {
	tx *sql.Tx
}

// LockAccount reads the account. The write lock is already held by the
// immediate transaction.
func (ts *txStore) LockAccount(ctx context.Context, accountID string) (*models.Account, error) {
	row := ts.tx.QueryRowContext(ctx, "SELECT "+accountColumns+" FROM accounts WHERE id = ?", accountID)
	account, err := scanAccount(row)
	if err != nil {
		return nil, accountError(err)
	}
	return account, nil
}

func (ts *txStore) AppendEntry(ctx context.Context, e *models.LedgerEntry) error {
	_, err := ts.tx.ExecContext(ctx, `
		INSERT INTO ledger_entries (`+entryColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.AccountID, e.IdempotencyKey, string(e.Type),
		toCents(e.Amount), toCents(e.BalanceBefore), toCents(e.BalanceAfter),
		nullString(e.Description), e.Metadata,
		e.ProcessedAt.UnixMicro(), e.CreatedAt.UnixMicro())
	if err != nil {
		return mapError(err)
	}
	return nil
}

func (ts *txStore) SetBalance(ctx context.Context, accountID string, balance decimal.Decimal) error {
	result, err := ts.tx.ExecContext(ctx,
		"UPDATE accounts SET balance = ?, updated_at = ? WHERE id = ?",
		toCents(balance), store.Now().UnixMicro(), accountID)
	if err != nil {
		return mapError(err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return models.ErrAccountNotFound
	}
	return nil
}

// =============================================================================
// ENTRIES
// =============================================================================

func (s *Store) GetEntryByKey(ctx context.Context, key string) (*models.LedgerEntry, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+entryColumns+" FROM ledger_entries WHERE idempotency_key = ?", key)
	entry, err := scanEntry(row)
	if err != nil {
		return nil, entryError(err)
	}
	return entry, nil
}

func (s *Store) GetEntry(ctx context.Context, id string) (*models.LedgerEntry, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+entryColumns+" FROM ledger_entries WHERE id = ?", id)
	entry, err := scanEntry(row)
	if err != nil {
		return nil, entryError(err)
	}
	return entry, nil
}

var sortColumns = map[string]string{
	models.SortCreatedAt: "created_at",
	models.SortAmount:    "amount",
	models.SortType:      "type",
}

func (s *Store) ListEntries(ctx context.Context, filter models.EntryFilter) ([]models.LedgerEntry, int, error) {
	where, args := entryWhere(filter.AccountID, filter.Types, filter.From, filter.To)

	var total int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM ledger_entries"+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count entries: %w", mapError(err))
	}

	column, ok := sortColumns[filter.SortBy]
	if !ok {
		column = sortColumns[models.SortCreatedAt]
	}
	direction := "ASC"
	if filter.Desc {
		direction = "DESC"
	}

	query := fmt.Sprintf("SELECT %s FROM ledger_entries%s ORDER BY %s %s, id %s LIMIT ? OFFSET ?",
		entryColumns, where, column, direction, direction)
	args = append(args, filter.Limit, filter.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list entries: %w", mapError(err))
	}
	defer rows.Close()

	entries := make([]models.LedgerEntry, 0, filter.Limit)
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, 0, err
		}
		entries = append(entries, *entry)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return entries, total, nil
}

func (s *Store) EntryStats(ctx context.Context, filter models.StatsFilter) (*models.Stats, error) {
	where, args := entryWhere(filter.AccountID, nil, filter.From, filter.To)

	rows, err := s.db.QueryContext(ctx,
		"SELECT type, COUNT(*), COALESCE(SUM(amount), 0) FROM ledger_entries"+where+" GROUP BY type", args...)
	if err != nil {
		return nil, fmt.Errorf("entry stats: %w", mapError(err))
	}
	defer rows.Close()

	stats := models.NewStats()
	for rows.Next() {
		var (
			entryType string
			count     int
			sum       int64
		)
		if err := rows.Scan(&entryType, &count, &sum); err != nil {
			return nil, err
		}
		stats.Add(models.EntryType(entryType), count, fromCents(sum))
	}
	return stats, rows.Err()
}

func entryWhere(accountID string, types []models.EntryType, from, to *time.Time) (string, []any) {
	var (
		clauses []string
		args    []any
	)
	if accountID != "" {
		clauses = append(clauses, "account_id = ?")
		args = append(args, accountID)
	}
	if len(types) > 0 {
		marks := make([]string, len(types))
		for i, t := range types {
			marks[i] = "?"
			args = append(args, string(t))
		}
		clauses = append(clauses, "type IN ("+strings.Join(marks, ", ")+")")
	}
	if from != nil {
		clauses = append(clauses, "created_at >= ?")
		args = append(args, from.UnixMicro())
	}
	if to != nil {
		clauses = append(clauses, "created_at <= ?")
		args = append(args, to.UnixMicro())
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

// =============================================================================
// ACCOUNTS
// =============================================================================

func (s *Store) CreateAccount(ctx context.Context, a *models.Account) error {
	var lastLogin sql.NullInt64
	if a.LastLoginAt != nil {
		lastLogin = sql.NullInt64{Int64: a.LastLoginAt.UnixMicro(), Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO accounts (`+accountColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.Username, a.Email, a.PasswordHash, toCents(a.Balance),
		string(a.Status), string(a.Role), a.CreatedAt.UnixMicro(), a.UpdatedAt.UnixMicro(), lastLogin)
	if err != nil {
		if isUniqueConstraintError(err) {
			return models.ErrAccountExists
		}
		return mapError(err)
	}
	return nil
}

func (s *Store) GetAccount(ctx context.Context, id string) (*models.Account, error) {
	return s.getAccount(ctx, "id", id)
}

func (s *Store) GetAccountByUsername(ctx context.Context, username string) (*models.Account, error) {
	return s.getAccount(ctx, "username", username)
}

func (s *Store) getAccount(ctx context.Context, column, value string) (*models.Account, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+accountColumns+" FROM accounts WHERE "+column+" = ?", value)
	account, err := scanAccount(row)
	if err != nil {
		return nil, accountError(err)
	}
	return account, nil
}

// UpdateAccountStatus goes through the same write connection as WithTx, so
// it cannot interleave with a balance mutation.
func (s *Store) UpdateAccountStatus(ctx context.Context, id string, status models.AccountStatus) (*models.Account, error) {
	var account *models.Account
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx,
			"UPDATE accounts SET status = ?, updated_at = ? WHERE id = ?",
			string(status), store.Now().UnixMicro(), id)
		if err != nil {
			return mapError(err)
		}
		if n, err := result.RowsAffected(); err != nil {
			return err
		} else if n == 0 {
			return models.ErrAccountNotFound
		}

		row := tx.QueryRowContext(ctx, "SELECT "+accountColumns+" FROM accounts WHERE id = ?", id)
		account, err = scanAccount(row)
		if err != nil {
			return accountError(err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return account, nil
}

func (s *Store) TouchLastLogin(ctx context.Context, id string, at time.Time) error {
	result, err := s.db.ExecContext(ctx,
		"UPDATE accounts SET last_login_at = ? WHERE id = ?", at.UnixMicro(), id)
	if err != nil {
		return mapError(err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return models.ErrAccountNotFound
	}
	return nil
}

// =============================================================================
// HELPERS
// =============================================================================

type scanner interface {
	Scan(dest ...any) error
}

func scanAccount(row scanner) (*models.Account, error) {
	var (
		a         models.Account
		balance   int64
		status    string
		role      string
		createdAt int64
		updatedAt int64
		lastLogin sql.NullInt64
	)
	if err := row.Scan(&a.ID, &a.Username, &a.Email, &a.PasswordHash, &balance,
		&status, &role, &createdAt, &updatedAt, &lastLogin); err != nil {
		return nil, err
	}
	a.Balance = fromCents(balance)
	a.Status = models.AccountStatus(status)
	a.Role = models.Role(role)
	a.CreatedAt = fromMicros(createdAt)
	a.UpdatedAt = fromMicros(updatedAt)
	if lastLogin.Valid {
		t := fromMicros(lastLogin.Int64)
		a.LastLoginAt = &t
	}
	return &a, nil
}

func scanEntry(row scanner) (*models.LedgerEntry, error) {
	var (
		e           models.LedgerEntry
		entryType   string
		amount      int64
		before      int64
		after       int64
		description sql.NullString
		processedAt int64
		createdAt   int64
	)
	if err := row.Scan(&e.ID, &e.AccountID, &e.IdempotencyKey, &entryType,
		&amount, &before, &after, &description, &e.Metadata,
		&processedAt, &createdAt); err != nil {
		return nil, err
	}
	e.Type = models.EntryType(entryType)
	e.Amount = fromCents(amount)
	e.BalanceBefore = fromCents(before)
	e.BalanceAfter = fromCents(after)
	e.Description = description.String
	e.ProcessedAt = fromMicros(processedAt)
	e.CreatedAt = fromMicros(createdAt)
	return &e, nil
}

func toCents(d decimal.Decimal) int64 {
	return d.Round(2).Shift(2).IntPart()
}

func fromCents(c int64) decimal.Decimal {
	return decimal.New(c, -2)
}

func fromMicros(us int64) time.Time {
	return time.UnixMicro(us).UTC()
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func isUniqueConstraintError(err error) bool {
	var sqliteErr sqlite3.Error
	return errors.As(err, &sqliteErr) &&
		(sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique || sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey)
}

// mapError translates driver errors into ledger sentinels. Unknown errors
// pass through unchanged.
func mapError(err error) error {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return err
	}
	switch sqliteErr.Code {
	case sqlite3.ErrBusy, sqlite3.ErrLocked:
		return models.ErrLockTimeout
	case sqlite3.ErrConstraint:
		switch sqliteErr.ExtendedCode {
		case sqlite3.ErrConstraintUnique, sqlite3.ErrConstraintPrimaryKey:
			if strings.Contains(sqliteErr.Error(), "ledger_entries.idempotency_key") {
				return models.ErrDuplicateIdempotencyKey
			}
			if strings.Contains(sqliteErr.Error(), "ledger_entries.") {
				return fmt.Errorf("%w: %s", models.ErrLedgerInvariant, sqliteErr.Error())
			}
			return models.ErrAccountExists
		case sqlite3.ErrConstraintForeignKey:
			return models.ErrAccountNotFound
		default:
			return fmt.Errorf("%w: %s", models.ErrLedgerInvariant, sqliteErr.Error())
		}
	}
	return err
}

func accountError(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return models.ErrAccountNotFound
	}
	return mapError(err)
}

func entryError(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return models.ErrEntryNotFound
	}
	return mapError(err)
}
