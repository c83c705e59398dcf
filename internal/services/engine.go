package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/ruralpay/wallet-ledger/internal/models"
	"github.com/ruralpay/wallet-ledger/internal/store"
	"github.com/shopspring/decimal"
)

// MaxAmount is the largest amount or balance a NUMERIC(15,2) column holds.
var MaxAmount = decimal.RequireFromString("9999999999999.99")

// ApplyRequest describes one balance mutation.
type ApplyRequest struct {
	AccountID      string
	IdempotencyKey string
	Type           models.EntryType
	Amount         decimal.Decimal
	Description    string
	Metadata       models.Metadata
}

// TransactionEngine turns an ApplyRequest into one serialized state
// transition: lock, compute, append, write balance, commit.
type TransactionEngine struct {
	store store.LedgerStore
	now   func() time.Time
}

func NewTransactionEngine(ledger store.LedgerStore) *TransactionEngine {
	return &TransactionEngine{
		store: ledger,
		now:   store.Now,
	}
}

// ValidateAmount rejects non-positive amounts, amounts with more than two
// fractional digits and amounts above MaxAmount.
func ValidateAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("%w: must be positive", models.ErrInvalidAmount)
	}
	if !amount.Equal(amount.Round(2)) {
		return fmt.Errorf("%w: at most two decimal places", models.ErrInvalidAmount)
	}
	if amount.GreaterThan(MaxAmount) {
		return fmt.Errorf("%w: exceeds maximum of %s", models.ErrInvalidAmount, MaxAmount.StringFixed(2))
	}
	return nil
}

// Apply executes the request inside a single unit of work. Nothing is
// persisted unless every step succeeds.
func (e *TransactionEngine) Apply(ctx context.Context, req ApplyRequest) (*models.LedgerEntry, error) {
	if !req.Type.Valid() {
		return nil, models.ErrInvalidEntryType
	}
	if req.IdempotencyKey == "" {
		return nil, models.ErrInvalidIdempotencyKey
	}
	if err := ValidateAmount(req.Amount); err != nil {
		return nil, err
	}
	amount := req.Amount.Round(2)

	var entry *models.LedgerEntry
	err := e.store.WithTx(ctx, func(uow store.UnitOfWork) error {
		account, err := uow.LockAccount(ctx, req.AccountID)
		if err != nil {
			return err
		}
		// Status can change between the service check and the lock.
		if !account.IsActive() {
			return models.ErrAccountNotActive
		}

		before := account.Balance
		var after decimal.Decimal
		if req.Type.IsCredit() {
			after = before.Add(amount)
			if after.GreaterThan(MaxAmount) {
				return fmt.Errorf("%w: resulting balance exceeds maximum", models.ErrInvalidAmount)
			}
		} else {
			after = before.Sub(amount)
			if after.IsNegative() {
				return &models.InsufficientFundsError{
					AccountID: account.ID,
					Balance:   before,
					Requested: amount,
				}
			}
		}

		now := e.now()
		candidate := &models.LedgerEntry{
			ID:             uuid.NewString(),
			AccountID:      account.ID,
			IdempotencyKey: req.IdempotencyKey,
			Type:           req.Type,
			Amount:         amount,
			BalanceBefore:  before,
			BalanceAfter:   after,
			Description:    req.Description,
			Metadata:       req.Metadata,
			ProcessedAt:    now,
			CreatedAt:      now,
		}
		if err := uow.AppendEntry(ctx, candidate); err != nil {
			return err
		}
		if err := uow.SetBalance(ctx, account.ID, after); err != nil {
			return err
		}
		entry = candidate
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}
