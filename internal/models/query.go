package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Sort keys accepted by EntryFilter.
const (
	SortCreatedAt = "created_at"
	SortAmount    = "amount"
	SortType      = "type"
)

const (
	DefaultPageLimit = 20
	MaxPageLimit     = 100
)

// EntryFilter selects ledger entries for history queries. An empty AccountID
// means system-wide.
type EntryFilter struct {
	AccountID string
	Types     []EntryType
	From      *time.Time
	To        *time.Time
	SortBy    string
	Desc      bool
	Limit     int
	Offset    int
}

// Normalize fills defaults and clamps paging values.
func (f *EntryFilter) Normalize() {
	switch f.SortBy {
	case SortCreatedAt, SortAmount, SortType:
	default:
		f.SortBy = SortCreatedAt
	}
	if f.Limit <= 0 {
		f.Limit = DefaultPageLimit
	}
	if f.Limit > MaxPageLimit {
		f.Limit = MaxPageLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
}

// Page is one slice of a history query.
type Page struct {
	Items  []LedgerEntry `json:"items"`
	Total  int           `json:"total"`
	Limit  int           `json:"limit"`
	Offset int           `json:"offset"`
}

// StatsFilter scopes aggregate statistics.
type StatsFilter struct {
	AccountID string
	From      *time.Time
	To        *time.Time
}

// TypeStats aggregates one entry type.
type TypeStats struct {
	Count int             `json:"count"`
	Total decimal.Decimal `json:"total"`
}

// Stats aggregates entries by credit class and debit class.
type Stats struct {
	TotalCount  int                     `json:"total_count"`
	CreditCount int                     `json:"credit_count"`
	CreditTotal decimal.Decimal         `json:"credit_total"`
	DebitCount  int                     `json:"debit_count"`
	DebitTotal  decimal.Decimal         `json:"debit_total"`
	NetFlow     decimal.Decimal         `json:"net_flow"`
	ByType      map[EntryType]TypeStats `json:"by_type"`
}

// NewStats returns zeroed statistics.
func NewStats() *Stats {
	return &Stats{
		CreditTotal: decimal.Zero,
		DebitTotal:  decimal.Zero,
		NetFlow:     decimal.Zero,
		ByType:      make(map[EntryType]TypeStats),
	}
}

// Add folds count entries of type t summing to total into the aggregate.
func (s *Stats) Add(t EntryType, count int, total decimal.Decimal) {
	ts := s.ByType[t]
	if ts.Total.IsZero() && ts.Count == 0 {
		ts.Total = decimal.Zero
	}
	ts.Count += count
	ts.Total = ts.Total.Add(total)
	s.ByType[t] = ts

	s.TotalCount += count
	switch {
	case t.IsCredit():
		s.CreditCount += count
		s.CreditTotal = s.CreditTotal.Add(total)
	case t.IsDebit():
		s.DebitCount += count
		s.DebitTotal = s.DebitTotal.Add(total)
	}
	s.NetFlow = s.CreditTotal.Sub(s.DebitTotal)
}

// Balance is the read model returned by balance lookups.
type Balance struct {
	AccountID string          `json:"account_id"`
	Balance   decimal.Decimal `json:"balance"`
	Status    AccountStatus   `json:"status"`
	UpdatedAt time.Time       `json:"updated_at"`
}
