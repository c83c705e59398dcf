package models

import (
	"bytes"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// EntryType is the kind of balance mutation recorded by a ledger entry.
type EntryType string

const (
	EntryCredit EntryType = "credit"
	EntryDebit  EntryType = "debit"
	EntryWager  EntryType = "wager"
	EntryPayout EntryType = "payout"
	EntryBonus  EntryType = "bonus"
	EntryRefund EntryType = "refund"
)

// EntryTypes lists every valid entry type in schema order.
var EntryTypes = []EntryType{EntryCredit, EntryDebit, EntryWager, EntryPayout, EntryBonus, EntryRefund}

// Valid reports whether t is one of the enumerated entry types.
func (t EntryType) Valid() bool {
	switch t {
	case EntryCredit, EntryDebit, EntryWager, EntryPayout, EntryBonus, EntryRefund:
		return true
	}
	return false
}

// IsCredit reports whether t increases the balance.
func (t EntryType) IsCredit() bool {
	return t == EntryCredit || t == EntryPayout || t == EntryBonus || t == EntryRefund
}

// IsDebit reports whether t decreases the balance.
func (t EntryType) IsDebit() bool {
	return t == EntryDebit || t == EntryWager
}

// ParseEntryType converts a raw string into an EntryType.
func ParseEntryType(s string) (EntryType, error) {
	t := EntryType(s)
	if !t.Valid() {
		return "", ErrInvalidEntryType
	}
	return t, nil
}

// LedgerEntry is one immutable record of a balance-changing operation.
type LedgerEntry struct {
	ID             string          `json:"id" db:"id"`
	AccountID      string          `json:"account_id" db:"account_id"`
	IdempotencyKey string          `json:"idempotency_key" db:"idempotency_key"`
	Type           EntryType       `json:"type" db:"type"`
	Amount         decimal.Decimal `json:"amount" db:"amount"`
	BalanceBefore  decimal.Decimal `json:"balance_before" db:"balance_before"`
	BalanceAfter   decimal.Decimal `json:"balance_after" db:"balance_after"`
	Description    string          `json:"description,omitempty" db:"description"`
	Metadata       Metadata        `json:"metadata,omitempty" db:"metadata"`
	ProcessedAt    time.Time       `json:"processed_at" db:"processed_at"`
	CreatedAt      time.Time       `json:"created_at" db:"created_at"`
}

// Consistent checks the before/after bookkeeping of the entry against its type.
func (e *LedgerEntry) Consistent() bool {
	if !e.Amount.IsPositive() || e.BalanceBefore.IsNegative() || e.BalanceAfter.IsNegative() {
		return false
	}
	switch {
	case e.Type.IsCredit():
		return e.BalanceAfter.Equal(e.BalanceBefore.Add(e.Amount))
	case e.Type.IsDebit():
		return e.BalanceAfter.Equal(e.BalanceBefore.Sub(e.Amount))
	}
	return false
}

// Metadata is an opaque JSON payload attached to an entry. The ledger stores
// it verbatim and never looks inside.
type Metadata []byte

// Value implements driver.Valuer for Metadata
func (m Metadata) Value() (driver.Value, error) {
	if len(m) == 0 {
		return nil, nil
	}
	return string(m), nil
}

// Scan implements sql.Scanner for Metadata
func (m *Metadata) Scan(value any) error {
	switch v := value.(type) {
	case nil:
		*m = nil
	case []byte:
		*m = append(Metadata(nil), v...)
	case string:
		*m = Metadata(v)
	default:
		return errors.New("metadata: unsupported scan type")
	}
	return nil
}

// MarshalJSON emits the payload as raw JSON.
func (m Metadata) MarshalJSON() ([]byte, error) {
	if len(m) == 0 {
		return []byte("null"), nil
	}
	return []byte(m), nil
}

// UnmarshalJSON keeps the raw payload.
func (m *Metadata) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		*m = nil
		return nil
	}
	if !json.Valid(data) {
		return errors.New("metadata: invalid JSON")
	}
	*m = append((*m)[0:0], data...)
	return nil
}
