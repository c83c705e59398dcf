package models

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// Sentinel errors. Callers match them with errors.Is.
var (
	// ErrAccountNotFound is returned when the referenced account does not exist.
	ErrAccountNotFound = errors.New("account not found")

	// ErrAccountNotActive is returned when the account exists but is not active.
	ErrAccountNotActive = errors.New("account not active")

	// ErrInvalidAmount is returned for non-positive amounts or amounts with
	// more than two fractional digits.
	ErrInvalidAmount = errors.New("invalid amount")

	ErrInvalidEntryType = errors.New("invalid entry type")

	ErrInvalidIdempotencyKey = errors.New("invalid idempotency key")

	// ErrInsufficientFunds is returned when a debit-class entry would drive
	// the balance below zero.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrDuplicateIdempotencyKey is returned by the store when the uniqueness
	// constraint on the idempotency key rejects an append.
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")

	// ErrIdempotencyKeyConflict is returned when a key is reused for a
	// different account or a different operation type.
	ErrIdempotencyKeyConflict = errors.New("idempotency key conflict")

	ErrEntryNotFound      = errors.New("ledger entry not found")
	ErrAccountExists      = errors.New("account already exists")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidStatus      = errors.New("invalid account status")
	ErrForbidden          = errors.New("forbidden")
	ErrInvalidToken       = errors.New("invalid or expired token")
	ErrInvalidFilter      = errors.New("invalid filter")

	// ErrLockTimeout is returned when the account row lock could not be
	// acquired in time. The whole operation is safe to retry.
	ErrLockTimeout = errors.New("account lock timeout")

	// ErrLedgerInvariant is returned when a storage-level check rejects a write
	// that application logic let through.
	ErrLedgerInvariant = errors.New("ledger invariant violated")
)

// InsufficientFundsError carries the shortfall of a rejected debit.
type InsufficientFundsError struct {
	AccountID string
	Balance   decimal.Decimal
	Requested decimal.Decimal
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient funds: account %s has %s, requested %s",
		e.AccountID, e.Balance.StringFixed(2), e.Requested.StringFixed(2))
}

func (e *InsufficientFundsError) Unwrap() error {
	return ErrInsufficientFunds
}

// IdempotencyConflictError describes a key already bound to another operation.
type IdempotencyConflictError struct {
	Key              string
	ExistingAccount  string
	ExistingType     EntryType
	RequestedAccount string
	RequestedType    EntryType
}

func (e *IdempotencyConflictError) Error() string {
	if e.ExistingAccount != e.RequestedAccount {
		return fmt.Sprintf("idempotency key %q already used by another account", e.Key)
	}
	return fmt.Sprintf("idempotency key %q already used for %s, requested %s",
		e.Key, e.ExistingType, e.RequestedType)
}

func (e *IdempotencyConflictError) Unwrap() error {
	return ErrIdempotencyKeyConflict
}

// IsClientError returns true if the error is caused by the caller's input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrInvalidEntryType) ||
		errors.Is(err, ErrInvalidIdempotencyKey) ||
		errors.Is(err, ErrInvalidStatus) ||
		errors.Is(err, ErrInvalidFilter) ||
		errors.Is(err, ErrInsufficientFunds) ||
		errors.Is(err, ErrAccountNotActive)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrAccountNotFound) || errors.Is(err, ErrEntryNotFound)
}

// IsConflict returns true for uniqueness and idempotency clashes.
func IsConflict(err error) bool {
	return errors.Is(err, ErrDuplicateIdempotencyKey) ||
		errors.Is(err, ErrIdempotencyKeyConflict) ||
		errors.Is(err, ErrAccountExists)
}

// IsRetryable returns true if repeating the same call may succeed.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrLockTimeout)
}
