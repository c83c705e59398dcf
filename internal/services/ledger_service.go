package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/ruralpay/wallet-ledger/internal/audit"
	"github.com/ruralpay/wallet-ledger/internal/events"
	"github.com/ruralpay/wallet-ledger/internal/logger"
	"github.com/ruralpay/wallet-ledger/internal/models"
	"github.com/ruralpay/wallet-ledger/internal/store"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// EntryOptions carries the optional, opaque parts of an entry.
type EntryOptions struct {
	Description string
	Metadata    models.Metadata
}

// LedgerService is the public entry point for balance mutations. It owns
// idempotency replay, account validation and amount validation, then hands
// the request to the TransactionEngine.
type LedgerService struct {
	engine    *TransactionEngine
	ledger    store.LedgerStore
	accounts  store.AccountStore
	publisher events.Publisher
	audit     *audit.AuditLogger
}

func NewLedgerService(engine *TransactionEngine, ledger store.LedgerStore, accounts store.AccountStore, publisher events.Publisher, auditLogger *audit.AuditLogger) *LedgerService {
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	return &LedgerService{
		engine:    engine,
		ledger:    ledger,
		accounts:  accounts,
		publisher: publisher,
		audit:     auditLogger,
	}
}

// Credit adds funds to an account (deposit).
func (s *LedgerService) Credit(ctx context.Context, accountID, key string, amount decimal.Decimal, opts EntryOptions) (*models.LedgerEntry, error) {
	return s.execute(ctx, accountID, key, models.EntryCredit, amount, opts)
}

// Debit removes funds from an account (withdrawal).
func (s *LedgerService) Debit(ctx context.Context, accountID, key string, amount decimal.Decimal, opts EntryOptions) (*models.LedgerEntry, error) {
	return s.execute(ctx, accountID, key, models.EntryDebit, amount, opts)
}

// Wager places a stake. The idempotency key is generated.
func (s *LedgerService) Wager(ctx context.Context, accountID string, amount decimal.Decimal, opts EntryOptions) (*models.LedgerEntry, error) {
	return s.execute(ctx, accountID, "wager_"+uuid.NewString(), models.EntryWager, amount, opts)
}

// Payout credits winnings. The idempotency key is generated.
func (s *LedgerService) Payout(ctx context.Context, accountID string, amount decimal.Decimal, opts EntryOptions) (*models.LedgerEntry, error) {
	return s.execute(ctx, accountID, "payout_"+uuid.NewString(), models.EntryPayout, amount, opts)
}

// Bonus credits a promotional amount.
func (s *LedgerService) Bonus(ctx context.Context, accountID, key string, amount decimal.Decimal, opts EntryOptions) (*models.LedgerEntry, error) {
	return s.execute(ctx, accountID, key, models.EntryBonus, amount, opts)
}

// Refund returns funds to an account.
func (s *LedgerService) Refund(ctx context.Context, accountID, key string, amount decimal.Decimal, opts EntryOptions) (*models.LedgerEntry, error) {
	return s.execute(ctx, accountID, key, models.EntryRefund, amount, opts)
}

func (s *LedgerService) execute(ctx context.Context, accountID, key string, entryType models.EntryType, amount decimal.Decimal, opts EntryOptions) (*models.LedgerEntry, error) {
	operation := "LEDGER_" + string(entryType)

	if key == "" {
		return nil, models.ErrInvalidIdempotencyKey
	}

	existing, err := s.ledger.GetEntryByKey(ctx, key)
	switch {
	case err == nil:
		logger.Infof("[LEDGER] Replaying %s for key %s", entryType, key)
		return replay(existing, key, accountID, entryType)
	case !errors.Is(err, models.ErrEntryNotFound):
		return nil, fmt.Errorf("idempotency lookup: %w", err)
	}

	account, err := s.accounts.GetAccount(ctx, accountID)
	if err != nil {
		if !errors.Is(err, models.ErrAccountNotFound) {
			err = fmt.Errorf("load account: %w", err)
		}
		return nil, err
	}
	if !account.IsActive() {
		s.audit.LogError(operation, accountID, key, models.ErrAccountNotActive)
		return nil, models.ErrAccountNotActive
	}

	if err := ValidateAmount(amount); err != nil {
		return nil, err
	}

	entry, err := s.engine.Apply(ctx, ApplyRequest{
		AccountID:      accountID,
		IdempotencyKey: key,
		Type:           entryType,
		Amount:         amount,
		Description:    opts.Description,
		Metadata:       opts.Metadata,
	})
	if err != nil {
		if errors.Is(err, models.ErrDuplicateIdempotencyKey) {
			// Lost a race against a concurrent request with the same key.
			winner, lookupErr := s.ledger.GetEntryByKey(ctx, key)
			if lookupErr == nil {
				logger.Infof("[LEDGER] Concurrent %s for key %s already committed", entryType, key)
				return replay(winner, key, accountID, entryType)
			}
			return nil, err
		}
		logger.WithFields(logrus.Fields{
			"account_id": accountID,
			"key":        key,
			"type":       entryType,
		}).Warnf("[LEDGER] %s failed: %v", entryType, err)
		s.audit.LogError(operation, accountID, key, err)
		return nil, err
	}

	logger.Infof("[LEDGER] %s %s committed on account %s, balance %s -> %s",
		entryType, entry.Amount.StringFixed(2), accountID,
		entry.BalanceBefore.StringFixed(2), entry.BalanceAfter.StringFixed(2))
	s.audit.LogEntry(entry)

	if err := s.publisher.Publish(ctx, events.FromEntry(entry)); err != nil {
		logger.Warnf("[LEDGER] Failed to publish event for entry %s: %v", entry.ID, err)
	}

	return entry, nil
}

// replay returns the stored entry when it matches the request, or a
// conflict when the key was used for another account or operation.
func replay(existing *models.LedgerEntry, key, accountID string, entryType models.EntryType) (*models.LedgerEntry, error) {
	if existing.AccountID != accountID || existing.Type != entryType {
		return nil, &models.IdempotencyConflictError{
			Key:              key,
			ExistingAccount:  existing.AccountID,
			ExistingType:     existing.Type,
			RequestedAccount: accountID,
			RequestedType:    entryType,
		}
	}
	return existing, nil
}
