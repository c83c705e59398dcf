// Package postgres implements the store interfaces on PostgreSQL with
// lib/pq. Serialization of balance mutations relies solely on the row lock
// taken by SELECT ... FOR UPDATE; lock waits are bounded by SET LOCAL
// lock_timeout.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/ruralpay/wallet-ledger/internal/models"
	"github.com/ruralpay/wallet-ledger/internal/store"
	"github.com/shopspring/decimal"
)

const accountColumns = "id, username, email, password_hash, balance, status, role, created_at, updated_at, last_login_at"

const entryColumns = "id, account_id, idempotency_key, type, amount, balance_before, balance_after, description, metadata, processed_at, created_at"

// Store implements store.Store on a *sql.DB.
type Store struct {
	db          *sql.DB
	lockTimeout time.Duration
}

var _ store.Store = (*Store)(nil)

func New(db *sql.DB, lockTimeout time.Duration) *Store {
	return &Store{db: db, lockTimeout: lockTimeout}
}

func (s *Store) Close() error {
	return s.db.Close()
}

// execer is satisfied by both *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// inTx runs fn in a transaction with the lock timeout applied.
func (s *Store) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", mapError(err))
	}
	defer tx.Rollback()

	if s.lockTimeout > 0 {
		stmt := fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", s.lockTimeout.Milliseconds())
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to set lock timeout: %w", mapError(err))
		}
	}

	if err := fn(tx); err != nil {
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

func (ts *txStore) LockAccount(ctx context.Context, accountID string) (*models.Account, error) {
	row := ts.tx.QueryRowContext(ctx,
		"SELECT "+accountColumns+" FROM accounts WHERE id = $1 FOR UPDATE", accountID)
	account, err := scanAccount(row)
	if err != nil {
		return nil, accountError(err)
	}
	return account, nil
}

func (ts *txStore) AppendEntry(ctx context.Context, e *models.LedgerEntry) error {
	_, err := ts.tx.ExecContext(ctx, `
		INSERT INTO ledger_entries (`+entryColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		e.ID, e.AccountID, e.IdempotencyKey, string(e.Type),
		e.Amount.StringFixed(2), e.BalanceBefore.StringFixed(2), e.BalanceAfter.StringFixed(2),
		nullString(e.Description), e.Metadata, e.ProcessedAt, e.CreatedAt)
	if err != nil {
		return mapError(err)
	}
	return nil
}

func (ts *txStore) SetBalance(ctx context.Context, accountID string, balance decimal.Decimal) error {
	result, err := ts.tx.ExecContext(ctx,
		"UPDATE accounts SET balance = $1, updated_at = $2 WHERE id = $3",
		balance.StringFixed(2), store.Now(), accountID)
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
// Entries
// =============================================================================

func (s *Store) GetEntryByKey(ctx context.Context, key string) (*models.LedgerEntry, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+entryColumns+" FROM ledger_entries WHERE idempotency_key = $1", key)
	entry, err := scanEntry(row)
	if err != nil {
		return nil, entryError(err)
	}
	return entry, nil
}

func (s *Store) GetEntry(ctx context.Context, id string) (*models.LedgerEntry, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+entryColumns+" FROM ledger_entries WHERE id = $1", id)
	entry, err := scanEntry(row)
	if err != nil {
		return nil, entryError(err)
	}
	return entry, nil
}

var sortColumns = map[string]string{
	models.SortCreatedAt: "created_at",
	models.SortAmount:    "amount",
	models.SortType:      "type::text",
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

	query := fmt.Sprintf("SELECT %s FROM ledger_entries%s ORDER BY %s %s, id %s LIMIT $%d OFFSET $%d",
		entryColumns, where, column, direction, direction, len(args)+1, len(args)+2)
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
			sum       decimal.Decimal
		)
		if err := rows.Scan(&entryType, &count, &sum); err != nil {
			return nil, err
		}
		stats.Add(models.EntryType(entryType), count, sum)
	}
	return stats, rows.Err()
}

func entryWhere(accountID string, types []models.EntryType, from, to *time.Time) (string, []any) {
	var (
		clauses []string
		args    []any
	)
	if accountID != "" {
		args = append(args, accountID)
		clauses = append(clauses, fmt.Sprintf("account_id = $%d", len(args)))
	}
	if len(types) > 0 {
		names := make([]string, len(types))
		for i, t := range types {
			names[i] = string(t)
		}
		args = append(args, pq.Array(names))
		clauses = append(clauses, fmt.Sprintf("type::text = ANY($%d)", len(args)))
	}
	if from != nil {
		args = append(args, *from)
		clauses = append(clauses, fmt.Sprintf("created_at >= $%d", len(args)))
	}
	if to != nil {
		args = append(args, *to)
		clauses = append(clauses, fmt.Sprintf("created_at <= $%d", len(args)))
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

// =============================================================================
// Accounts
// =============================================================================

func (s *Store) CreateAccount(ctx context.Context, a *models.Account) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO accounts (`+accountColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		a.ID, a.Username, a.Email, a.PasswordHash, a.Balance.StringFixed(2),
		string(a.Status), string(a.Role), a.CreatedAt, a.UpdatedAt, a.LastLoginAt)
	if err != nil {
		if isUniqueViolation(err) {
			return models.ErrAccountExists
		}
		return mapError(err)
	}
	return nil
}

func (s *Store) GetAccount(ctx context.Context, id string) (*models.Account, error) {
	return s.getAccount(ctx, s.db, "id", id)
}

func (s *Store) GetAccountByUsername(ctx context.Context, username string) (*models.Account, error) {
	return s.getAccount(ctx, s.db, "username", username)
}

func (s *Store) getAccount(ctx context.Context, db execer, column, value string) (*models.Account, error) {
	row := db.QueryRowContext(ctx,
		"SELECT "+accountColumns+" FROM accounts WHERE "+column+" = $1", value)
	account, err := scanAccount(row)
	if err != nil {
		return nil, accountError(err)
	}
	return account, nil
}

// UpdateAccountStatus runs under the same lock_timeout as balance mutations.
// The UPDATE takes the row lock, so it waits for any in-flight unit of work on
// the account and vice versa.
func (s *Store) UpdateAccountStatus(ctx context.Context, id string, status models.AccountStatus) (*models.Account, error) {
	var account *models.Account
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx,
			"UPDATE accounts SET status = $1, updated_at = $2 WHERE id = $3 RETURNING "+accountColumns,
			string(status), store.Now(), id)
		var err error
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
		"UPDATE accounts SET last_login_at = $1 WHERE id = $2", at, id)
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
// Scanning and error mapping
// =============================================================================

type scanner interface {
	Scan(dest ...any) error
}

func scanAccount(row scanner) (*models.Account, error) {
	var (
		a         models.Account
		status    string
		role      string
		lastLogin sql.NullTime
	)
	if err := row.Scan(&a.ID, &a.Username, &a.Email, &a.PasswordHash, &a.Balance,
		&status, &role, &a.CreatedAt, &a.UpdatedAt, &lastLogin); err != nil {
		return nil, err
	}
	a.Status = models.AccountStatus(status)
	a.Role = models.Role(role)
	a.CreatedAt = a.CreatedAt.UTC()
	a.UpdatedAt = a.UpdatedAt.UTC()
	if lastLogin.Valid {
		t := lastLogin.Time.UTC()
		a.LastLoginAt = &t
	}
	return &a, nil
}

func scanEntry(row scanner) (*models.LedgerEntry, error) {
	var (
		e           models.LedgerEntry
		entryType   string
		description sql.NullString
	)
	if err := row.Scan(&e.ID, &e.AccountID, &e.IdempotencyKey, &entryType,
		&e.Amount, &e.BalanceBefore, &e.BalanceAfter, &description, &e.Metadata,
		&e.ProcessedAt, &e.CreatedAt); err != nil {
		return nil, err
	}
	e.Type = models.EntryType(entryType)
	e.Description = description.String
	e.ProcessedAt = e.ProcessedAt.UTC()
	e.CreatedAt = e.CreatedAt.UTC()
	return &e, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// Postgres error codes the store translates.
const (
	codeUniqueViolation      = "23505"
	codeCheckViolation       = "23514"
	codeLockNotAvailable     = "55P03"
	codeInvalidTextRepresent = "22P02"
)

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == codeUniqueViolation
}

// mapError translates driver errors into ledger sentinels. Unknown errors
// pass through unchanged.
func mapError(err error) error {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return err
	}
	switch pqErr.Code {
	case codeUniqueViolation:
		if pqErr.Constraint == "ledger_entries_idempotency_key_key" {
			return models.ErrDuplicateIdempotencyKey
		}
		return models.ErrAccountExists
	case codeCheckViolation:
		return fmt.Errorf("%w: %s", models.ErrLedgerInvariant, pqErr.Message)
	case codeLockNotAvailable:
		return models.ErrLockTimeout
	}
	return err
}

func accountError(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return models.ErrAccountNotFound
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == codeInvalidTextRepresent {
		return models.ErrAccountNotFound
	}
	return mapError(err)
}

func entryError(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return models.ErrEntryNotFound
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == codeInvalidTextRepresent {
		return models.ErrEntryNotFound
	}
	return mapError(err)
}
