package services

import (
	"context"
	"testing"

	"github.com/ruralpay/wallet-ledger/internal/events"
	"github.com/ruralpay/wallet-ledger/internal/models"
	"github.com/ruralpay/wallet-ledger/internal/store"
	"github.com/ruralpay/wallet-ledger/internal/store/memory"
	"github.com/ruralpay/wallet-ledger/internal/store/sqlite"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) Publish(ctx context.Context, event events.LedgerEvent) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

// MockLedgerStore stubs idempotency lookups and units of work.
type MockLedgerStore struct {
	mock.Mock
}

func (m *MockLedgerStore) WithTx(ctx context.Context, fn func(uow store.UnitOfWork) error) error {
	args := m.Called(ctx, fn)
	return args.Error(0)
}

func (m *MockLedgerStore) GetEntryByKey(ctx context.Context, key string) (*models.LedgerEntry, error) {
	args := m.Called(ctx, key)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.LedgerEntry), args.Error(1)
}

// failingUnitOfWork fails SetBalance after the entry has been appended.
type failingUnitOfWork struct {
	store.UnitOfWork
	err error
}

func (f *failingUnitOfWork) SetBalance(context.Context, string, decimal.Decimal) error {
	return f.err
}

type failingBalanceStore struct {
	store.LedgerStore
	err error
}

func (f *failingBalanceStore) WithTx(ctx context.Context, fn func(uow store.UnitOfWork) error) error {
	return f.LedgerStore.WithTx(ctx, func(uow store.UnitOfWork) error {
		return fn(&failingUnitOfWork{UnitOfWork: uow, err: f.err})
	})
}

// cancellingStore cancels the caller's context after the callback ran but
// before the commit.
type cancellingStore struct {
	store.LedgerStore
	cancel context.CancelFunc
}

func (c *cancellingStore) WithTx(ctx context.Context, fn func(uow store.UnitOfWork) error) error {
	return c.LedgerStore.WithTx(ctx, func(uow store.UnitOfWork) error {
		err := fn(uow)
		c.cancel()
		return err
	})
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// backends returns every store implementation the engine must behave
// identically on.
func backends(t *testing.T) map[string]store.Store {
	t.Helper()

	lite, err := sqlite.New(t.TempDir() + "/ledger.db")
	require.NoError(t, err)
	t.Cleanup(func() { lite.Close() })

	return map[string]store.Store{
		"memory": memory.New(),
		"sqlite": lite,
	}
}

func seedAccount(t *testing.T, st store.AccountStore, id, balance string, status models.AccountStatus) *models.Account {
	t.Helper()
	now := store.Now()
	account := &models.Account{
		ID:           id,
		Username:     "user_" + id,
		Email:        id + "@example.com",
		PasswordHash: "unused",
		Balance:      dec(balance),
		Status:       status,
		Role:         models.RolePlayer,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	require.NoError(t, st.CreateAccount(context.Background(), account))
	return account
}

func balanceOf(t *testing.T, st store.AccountStore, id string) string {
	t.Helper()
	account, err := st.GetAccount(context.Background(), id)
	require.NoError(t, err)
	return account.Balance.StringFixed(2)
}
