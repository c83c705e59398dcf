package services

import (
	"context"
	"fmt"

	"github.com/ruralpay/wallet-ledger/internal/models"
	"github.com/ruralpay/wallet-ledger/internal/store"
)

// QueryService serves balances, history and statistics. Players only see
// their own account; admins see everything.
type QueryService struct {
	accounts store.AccountStore
	query    store.QueryStore
}

func NewQueryService(accounts store.AccountStore, query store.QueryStore) *QueryService {
	return &QueryService{accounts: accounts, query: query}
}

func (s *QueryService) GetBalance(ctx context.Context, actor models.Identity, accountID string) (*models.Balance, error) {
	if !actor.CanAccess(accountID) {
		return nil, models.ErrForbidden
	}
	account, err := s.accounts.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	return &models.Balance{
		AccountID: account.ID,
		Balance:   account.Balance,
		Status:    account.Status,
		UpdatedAt: account.UpdatedAt,
	}, nil
}

func (s *QueryService) GetTransaction(ctx context.Context, actor models.Identity, id string) (*models.LedgerEntry, error) {
	entry, err := s.query.GetEntry(ctx, id)
	if err != nil {
		return nil, err
	}
	if !actor.CanAccess(entry.AccountID) {
		return nil, models.ErrForbidden
	}
	return entry, nil
}

// ListTransactions returns one page of history. An empty AccountID in the
// filter means system-wide and requires the admin role.
func (s *QueryService) ListTransactions(ctx context.Context, actor models.Identity, filter models.EntryFilter) (*models.Page, error) {
	if filter.AccountID == "" {
		if !actor.IsAdmin() {
			return nil, models.ErrForbidden
		}
	} else if !actor.CanAccess(filter.AccountID) {
		return nil, models.ErrForbidden
	}

	for _, t := range filter.Types {
		if !t.Valid() {
			return nil, models.ErrInvalidEntryType
		}
	}
	if filter.From != nil && filter.To != nil && filter.From.After(*filter.To) {
		return nil, fmt.Errorf("%w: from is after to", models.ErrInvalidFilter)
	}
	filter.Normalize()

	items, total, err := s.query.ListEntries(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list entries: %w", err)
	}
	if items == nil {
		items = []models.LedgerEntry{}
	}
	return &models.Page{
		Items:  items,
		Total:  total,
		Limit:  filter.Limit,
		Offset: filter.Offset,
	}, nil
}

// Stats aggregates entries. An empty AccountID requires the admin role.
func (s *QueryService) Stats(ctx context.Context, actor models.Identity, filter models.StatsFilter) (*models.Stats, error) {
	if filter.AccountID == "" {
		if !actor.IsAdmin() {
			return nil, models.ErrForbidden
		}
	} else if !actor.CanAccess(filter.AccountID) {
		return nil, models.ErrForbidden
	}
	if filter.From != nil && filter.To != nil && filter.From.After(*filter.To) {
		return nil, fmt.Errorf("%w: from is after to", models.ErrInvalidFilter)
	}

	stats, err := s.query.EntryStats(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("entry stats: %w", err)
	}
	return stats, nil
}
