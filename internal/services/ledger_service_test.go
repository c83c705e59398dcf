package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/ruralpay/wallet-ledger/internal/audit"
	"github.com/ruralpay/wallet-ledger/internal/models"
	"github.com/ruralpay/wallet-ledger/internal/store/memory"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type ledgerFixture struct {
	store     *memory.Store
	service   *LedgerService
	publisher *MockPublisher
	auditHook *test.Hook
}

func newLedgerFixture(t *testing.T) *ledgerFixture {
	t.Helper()
	st := memory.New()
	publisher := new(MockPublisher)
	publisher.On("Publish", mock.Anything, mock.Anything).Return(nil)
	log, hook := test.NewNullLogger()

	return &ledgerFixture{
		store:     st,
		service:   NewLedgerService(NewTransactionEngine(st), st, st, publisher, audit.NewAuditLogger(log)),
		publisher: publisher,
		auditHook: hook,
	}
}

func TestLedgerService_Scenarios(t *testing.T) {
	ctx := context.Background()
	f := newLedgerFixture(t)
	seedAccount(t, f.store, "player-1", "0", models.StatusActive)

	var first *models.LedgerEntry

	t.Run("A: credit on new account", func(t *testing.T) {
		entry, err := f.service.Credit(ctx, "player-1", "k1", dec("100.50"), EntryOptions{Description: "deposit"})
		require.NoError(t, err)
		assert.Equal(t, "0.00", entry.BalanceBefore.StringFixed(2))
		assert.Equal(t, "100.50", entry.BalanceAfter.StringFixed(2))
		assert.Equal(t, "100.50", balanceOf(t, f.store, "player-1"))
		first = entry
	})

	t.Run("B: debit", func(t *testing.T) {
		entry, err := f.service.Debit(ctx, "player-1", "k2", dec("50.25"), EntryOptions{})
		require.NoError(t, err)
		assert.Equal(t, "100.50", entry.BalanceBefore.StringFixed(2))
		assert.Equal(t, "50.25", entry.BalanceAfter.StringFixed(2))
		assert.Equal(t, "50.25", balanceOf(t, f.store, "player-1"))
	})

	t.Run("C: replay returns the original entry", func(t *testing.T) {
		entry, err := f.service.Credit(ctx, "player-1", "k1", dec("100.50"), EntryOptions{Description: "deposit"})
		require.NoError(t, err)
		assert.Equal(t, first, entry)
		assert.Equal(t, "50.25", balanceOf(t, f.store, "player-1"))
	})

	t.Run("D: insufficient funds", func(t *testing.T) {
		_, err := f.service.Debit(ctx, "player-1", "k3", dec("1000.00"), EntryOptions{})
		assert.ErrorIs(t, err, models.ErrInsufficientFunds)
		assert.Equal(t, "50.25", balanceOf(t, f.store, "player-1"))

		_, err = f.store.GetEntryByKey(ctx, "k3")
		assert.ErrorIs(t, err, models.ErrEntryNotFound)
	})

	t.Run("E: five concurrent debits", func(t *testing.T) {
		seedAccount(t, f.store, "player-2", "1000", models.StatusActive)

		var wg sync.WaitGroup
		errs := make([]error, 5)
		for i := 0; i < 5; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, errs[i] = f.service.Debit(ctx, "player-2", "e-"+string(rune('a'+i)), dec("100"), EntryOptions{})
			}(i)
		}
		wg.Wait()

		for _, err := range errs {
			assert.NoError(t, err)
		}
		assert.Equal(t, "500.00", balanceOf(t, f.store, "player-2"))

		_, total, err := f.store.ListEntries(ctx, models.EntryFilter{AccountID: "player-2", Limit: 100})
		require.NoError(t, err)
		assert.Equal(t, 5, total)
	})

	// A, B and the five debits of E. Replays and failures publish nothing.
	f.publisher.AssertNumberOfCalls(t, "Publish", 7)
}

func TestLedgerService_Idempotence(t *testing.T) {
	ctx := context.Background()

	t.Run("same key twice changes balance once", func(t *testing.T) {
		f := newLedgerFixture(t)
		seedAccount(t, f.store, "acc", "0", models.StatusActive)

		a, err := f.service.Bonus(ctx, "acc", "bonus-1", dec("25"), EntryOptions{Metadata: models.Metadata(`{"campaign":"welcome"}`)})
		require.NoError(t, err)
		b, err := f.service.Bonus(ctx, "acc", "bonus-1", dec("25"), EntryOptions{Metadata: models.Metadata(`{"campaign":"welcome"}`)})
		require.NoError(t, err)

		assert.Equal(t, a, b)
		assert.JSONEq(t, `{"campaign":"welcome"}`, string(b.Metadata))
		assert.Equal(t, "25.00", balanceOf(t, f.store, "acc"))
	})

	t.Run("key reused for another type conflicts", func(t *testing.T) {
		f := newLedgerFixture(t)
		seedAccount(t, f.store, "acc", "100", models.StatusActive)

		_, err := f.service.Credit(ctx, "acc", "shared", dec("10"), EntryOptions{})
		require.NoError(t, err)

		_, err = f.service.Debit(ctx, "acc", "shared", dec("10"), EntryOptions{})
		require.ErrorIs(t, err, models.ErrIdempotencyKeyConflict)

		var conflict *models.IdempotencyConflictError
		require.True(t, errors.As(err, &conflict))
		assert.Equal(t, models.EntryCredit, conflict.ExistingType)
		assert.Equal(t, models.EntryDebit, conflict.RequestedType)
		assert.Equal(t, "110.00", balanceOf(t, f.store, "acc"))
	})

	t.Run("key reused for another account conflicts", func(t *testing.T) {
		f := newLedgerFixture(t)
		seedAccount(t, f.store, "acc-a", "0", models.StatusActive)
		seedAccount(t, f.store, "acc-b", "0", models.StatusActive)

		_, err := f.service.Refund(ctx, "acc-a", "refund-1", dec("10"), EntryOptions{})
		require.NoError(t, err)

		_, err = f.service.Refund(ctx, "acc-b", "refund-1", dec("10"), EntryOptions{})
		assert.ErrorIs(t, err, models.ErrIdempotencyKeyConflict)
		assert.Equal(t, "0.00", balanceOf(t, f.store, "acc-b"))
	})

	t.Run("concurrent requests with one key apply once", func(t *testing.T) {
		f := newLedgerFixture(t)
		seedAccount(t, f.store, "acc", "0", models.StatusActive)

		const n = 10
		results := make([]*models.LedgerEntry, n)
		errs := make([]error, n)
		var wg sync.WaitGroup
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				results[i], errs[i] = f.service.Credit(ctx, "acc", "race-key", dec("10"), EntryOptions{})
			}(i)
		}
		wg.Wait()

		for i := 0; i < n; i++ {
			require.NoError(t, errs[i])
			assert.Equal(t, results[0].ID, results[i].ID)
		}
		assert.Equal(t, "10.00", balanceOf(t, f.store, "acc"))
	})

	t.Run("empty key rejected", func(t *testing.T) {
		f := newLedgerFixture(t)
		seedAccount(t, f.store, "acc", "0", models.StatusActive)

		_, err := f.service.Credit(ctx, "acc", "", dec("10"), EntryOptions{})
		assert.ErrorIs(t, err, models.ErrInvalidIdempotencyKey)
	})
}

func TestLedgerService_GeneratedKeys(t *testing.T) {
	ctx := context.Background()
	f := newLedgerFixture(t)
	seedAccount(t, f.store, "acc", "100", models.StatusActive)

	wager, err := f.service.Wager(ctx, "acc", dec("30"), EntryOptions{Description: "spin"})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(wager.IdempotencyKey, "wager_"))
	assert.Equal(t, models.EntryWager, wager.Type)

	payout, err := f.service.Payout(ctx, "acc", dec("45.50"), EntryOptions{})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(payout.IdempotencyKey, "payout_"))

	again, err := f.service.Wager(ctx, "acc", dec("30"), EntryOptions{})
	require.NoError(t, err)
	assert.NotEqual(t, wager.IdempotencyKey, again.IdempotencyKey)

	assert.Equal(t, "85.50", balanceOf(t, f.store, "acc"))
}

func TestLedgerService_Validation(t *testing.T) {
	ctx := context.Background()
	f := newLedgerFixture(t)
	seedAccount(t, f.store, "active", "100", models.StatusActive)
	seedAccount(t, f.store, "suspended", "100", models.StatusSuspended)
	seedAccount(t, f.store, "inactive", "100", models.StatusInactive)

	t.Run("unknown account", func(t *testing.T) {
		_, err := f.service.Credit(ctx, "nobody", "v-1", dec("1"), EntryOptions{})
		assert.ErrorIs(t, err, models.ErrAccountNotFound)
	})

	t.Run("suspended account", func(t *testing.T) {
		_, err := f.service.Credit(ctx, "suspended", "v-2", dec("1"), EntryOptions{})
		assert.ErrorIs(t, err, models.ErrAccountNotActive)
	})

	t.Run("inactive account", func(t *testing.T) {
		_, err := f.service.Wager(ctx, "inactive", dec("1"), EntryOptions{})
		assert.ErrorIs(t, err, models.ErrAccountNotActive)
	})

	t.Run("bad amounts", func(t *testing.T) {
		for _, amount := range []string{"0", "-10", "1.001", "10000000000000"} {
			_, err := f.service.Credit(ctx, "active", "v-amt-"+amount, dec(amount), EntryOptions{})
			assert.ErrorIs(t, err, models.ErrInvalidAmount, amount)
		}
		assert.Equal(t, "100.00", balanceOf(t, f.store, "active"))
	})

	t.Run("failures are audited", func(t *testing.T) {
		found := false
		for _, e := range f.auditHook.AllEntries() {
			if strings.Contains(e.Message, `"status":"FAILED"`) && strings.Contains(e.Message, "suspended") {
				found = true
			}
		}
		assert.True(t, found)
	})
}

func TestLedgerService_LostRace(t *testing.T) {
	ctx := context.Background()
	accounts := memory.New()
	seedAccount(t, accounts, "acc", "0", models.StatusActive)

	winner := &models.LedgerEntry{ID: "winner", AccountID: "acc", IdempotencyKey: "k", Type: models.EntryCredit, Amount: dec("5")}

	t.Run("winner is replayed", func(t *testing.T) {
		ledger := new(MockLedgerStore)
		ledger.On("GetEntryByKey", mock.Anything, "k").Return(nil, models.ErrEntryNotFound).Once()
		ledger.On("WithTx", mock.Anything, mock.Anything).Return(models.ErrDuplicateIdempotencyKey).Once()
		ledger.On("GetEntryByKey", mock.Anything, "k").Return(winner, nil).Once()

		svc := NewLedgerService(NewTransactionEngine(ledger), ledger, accounts, nil, nil)
		entry, err := svc.Credit(ctx, "acc", "k", dec("5"), EntryOptions{})
		require.NoError(t, err)
		assert.Equal(t, "winner", entry.ID)
		ledger.AssertExpectations(t)
	})

	t.Run("winner of another type conflicts", func(t *testing.T) {
		ledger := new(MockLedgerStore)
		ledger.On("GetEntryByKey", mock.Anything, "k").Return(nil, models.ErrEntryNotFound).Once()
		ledger.On("WithTx", mock.Anything, mock.Anything).Return(models.ErrDuplicateIdempotencyKey).Once()
		ledger.On("GetEntryByKey", mock.Anything, "k").Return(winner, nil).Once()

		svc := NewLedgerService(NewTransactionEngine(ledger), ledger, accounts, nil, nil)
		_, err := svc.Bonus(ctx, "acc", "k", dec("5"), EntryOptions{})
		assert.ErrorIs(t, err, models.ErrIdempotencyKeyConflict)
	})

	t.Run("winner not visible", func(t *testing.T) {
		ledger := new(MockLedgerStore)
		ledger.On("GetEntryByKey", mock.Anything, "k").Return(nil, models.ErrEntryNotFound).Twice()
		ledger.On("WithTx", mock.Anything, mock.Anything).Return(models.ErrDuplicateIdempotencyKey).Once()

		svc := NewLedgerService(NewTransactionEngine(ledger), ledger, accounts, nil, nil)
		_, err := svc.Credit(ctx, "acc", "k", dec("5"), EntryOptions{})
		assert.ErrorIs(t, err, models.ErrDuplicateIdempotencyKey)
	})

	t.Run("lookup failure", func(t *testing.T) {
		ledger := new(MockLedgerStore)
		ledger.On("GetEntryByKey", mock.Anything, "k").Return(nil, errors.New("connection reset")).Once()

		svc := NewLedgerService(NewTransactionEngine(ledger), ledger, accounts, nil, nil)
		_, err := svc.Credit(ctx, "acc", "k", dec("5"), EntryOptions{})
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "idempotency lookup")
		ledger.AssertNotCalled(t, "WithTx", mock.Anything, mock.Anything)
	})
}

func TestLedgerService_PublishFailureDoesNotFailOperation(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	seedAccount(t, st, "acc", "0", models.StatusActive)

	publisher := new(MockPublisher)
	publisher.On("Publish", mock.Anything, mock.Anything).Return(errors.New("redis down"))

	svc := NewLedgerService(NewTransactionEngine(st), st, st, publisher, nil)
	entry, err := svc.Credit(ctx, "acc", "pub-1", dec("10"), EntryOptions{})
	require.NoError(t, err)
	assert.Equal(t, "10.00", entry.BalanceAfter.StringFixed(2))
	publisher.AssertCalled(t, "Publish", mock.Anything, mock.Anything)
}
