// Package store defines the persistence contracts of the wallet ledger.
//
// Three implementations live in sub-packages: postgres (row locks via
// SELECT ... FOR UPDATE), sqlite (a single write connection plus BEGIN
// IMMEDIATE) and memory (per-account lease channels, used by tests and
// local runs). All of them honour the same unit-of-work semantics: every
// write performed through a UnitOfWork becomes visible atomically on commit
// or not at all.
package store

import (
	"context"
	"time"

	"github.com/ruralpay/wallet-ledger/internal/models"
	"github.com/shopspring/decimal"
)

// UnitOfWork is the transactional view handed to WithTx callbacks.
type UnitOfWork interface {
	// LockAccount loads the account and holds an exclusive lock on it until
	// the unit of work ends. Returns models.ErrAccountNotFound if absent.
	LockAccount(ctx context.Context, accountID string) (*models.Account, error)

	// AppendEntry inserts an entry. A clash on the idempotency key is
	// reported as models.ErrDuplicateIdempotencyKey.
	AppendEntry(ctx context.Context, entry *models.LedgerEntry) error

	// SetBalance overwrites the balance of an account locked in this unit.
	SetBalance(ctx context.Context, accountID string, balance decimal.Decimal) error
}

// LedgerStore runs units of work and answers idempotency lookups.
type LedgerStore interface {
	// WithTx begins a unit of work, runs fn and commits. Any error returned
	// by fn, or a cancelled context, rolls everything back.
	WithTx(ctx context.Context, fn func(uow UnitOfWork) error) error

	// GetEntryByKey returns models.ErrEntryNotFound when the key is unused.
	GetEntryByKey(ctx context.Context, key string) (*models.LedgerEntry, error)
}

// AccountStore persists accounts.
type AccountStore interface {
	CreateAccount(ctx context.Context, account *models.Account) error
	GetAccount(ctx context.Context, id string) (*models.Account, error)
	GetAccountByUsername(ctx context.Context, username string) (*models.Account, error)

	// UpdateAccountStatus takes the same lock as LockAccount so a status
	// change serializes with in-flight balance mutations.
	UpdateAccountStatus(ctx context.Context, id string, status models.AccountStatus) (*models.Account, error)

	TouchLastLogin(ctx context.Context, id string, at time.Time) error
}

// QueryStore serves read-only history and aggregates.
type QueryStore interface {
	GetEntry(ctx context.Context, id string) (*models.LedgerEntry, error)

	// ListEntries returns one page of entries matching the filter and the
	// total number of matches. The filter is expected to be normalized.
	ListEntries(ctx context.Context, filter models.EntryFilter) ([]models.LedgerEntry, int, error)

	EntryStats(ctx context.Context, filter models.StatsFilter) (*models.Stats, error)
}

// Store is the full persistence surface used by the server.
type Store interface {
	LedgerStore
	AccountStore
	QueryStore
	Close() error
}

// Now returns the timestamp format every store persists: UTC truncated to
// microseconds, the finest resolution Postgres keeps.
func Now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}
