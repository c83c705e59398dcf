// Package memory provides an in-memory implementation of the store
// interfaces, for tests and single-process development runs.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ruralpay/wallet-ledger/internal/models"
	"github.com/ruralpay/wallet-ledger/internal/store"
	"github.com/shopspring/decimal"
)

// DefaultLockTimeout bounds how long LockAccount waits for another unit of
// work to release the same account.
const DefaultLockTimeout = 5 * time.Second

// =============================================================================
// MEMORY STORE
// =============================================================================

// Store keeps accounts and entries in maps guarded by mu. Per-account
// serialization uses a one-slot lease channel per account, held for the
// whole unit of work, so operations on different accounts run in parallel.
type Store struct {
	mu          sync.RWMutex
	accounts    map[string]*models.Account
	usernames   map[string]string
	emails      map[string]string
	entries     []*models.LedgerEntry
	entryByID   map[string]*models.LedgerEntry
	entryByKey  map[string]*models.LedgerEntry
	leases      map[string]chan struct{}
	lockTimeout time.Duration
}

var _ store.Store = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithLockTimeout overrides DefaultLockTimeout.
func WithLockTimeout(d time.Duration) Option {
	return func(s *Store) { s.lockTimeout = d }
}

func New(opts ...Option) *Store {
	s := &Store{
		accounts:    make(map[string]*models.Account),
		usernames:   make(map[string]string),
		emails:      make(map[string]string),
		entryByID:   make(map[string]*models.LedgerEntry),
		entryByKey:  make(map[string]*models.LedgerEntry),
		leases:      make(map[string]chan struct{}),
		lockTimeout: DefaultLockTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) Close() error { return nil }

// -----------------------------------------------------------------------------
// Leases
// -----------------------------------------------------------------------------

func (s *Store) lease(accountID string) chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.leases[accountID]
	if !ok {
		ch = make(chan struct{}, 1)
		s.leases[accountID] = ch
	}
	return ch
}

func (s *Store) acquire(ctx context.Context, accountID string) (release func(), err error) {
	ch := s.lease(accountID)
	timer := time.NewTimer(s.lockTimeout)
	defer timer.Stop()

	select {
	case ch <- struct{}{}:
		return func() { <-ch }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, models.ErrLockTimeout
	}
}

// -----------------------------------------------------------------------------
// Unit of work
// -----------------------------------------------------------------------------

type txView struct {
	parent   *Store
	held     map[string]func()
	accounts map[string]*models.Account
	pending  []*models.LedgerEntry
}

// WithTx buffers writes in a private view and applies them under the store
// mutex on commit. Leases taken through LockAccount are released on return.
func (s *Store) WithTx(ctx context.Context, fn func(uow store.UnitOfWork) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	tv := &txView{
		parent:   s,
		held:     make(map[string]func()),
		accounts: make(map[string]*models.Account),
	}
	defer tv.releaseAll()

	if err := fn(tv); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.commit(tv)
}

func (s *Store) commit(tv *txView) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range tv.pending {
		if _, exists := s.entryByKey[e.IdempotencyKey]; exists {
			return models.ErrDuplicateIdempotencyKey
		}
	}

	for id := range tv.accounts {
		if _, ok := s.accounts[id]; !ok {
			return models.ErrAccountNotFound
		}
	}

	for _, e := range tv.pending {
		s.entries = append(s.entries, e)
		s.entryByID[e.ID] = e
		s.entryByKey[e.IdempotencyKey] = e
	}
	for id, acc := range tv.accounts {
		current := s.accounts[id]
		current.Balance = acc.Balance
		current.UpdatedAt = acc.UpdatedAt
	}
	return nil
}

func (tv *txView) releaseAll() {
	for _, release := range tv.held {
		release()
	}
}

func (tv *txView) LockAccount(ctx context.Context, accountID string) (*models.Account, error) {
	if acc, ok := tv.accounts[accountID]; ok {
		return cloneAccount(acc), nil
	}

	tv.parent.mu.RLock()
	_, exists := tv.parent.accounts[accountID]
	tv.parent.mu.RUnlock()
	if !exists {
		return nil, models.ErrAccountNotFound
	}

	release, err := tv.parent.acquire(ctx, accountID)
	if err != nil {
		return nil, err
	}
	tv.held[accountID] = release

	tv.parent.mu.RLock()
	acc := cloneAccount(tv.parent.accounts[accountID])
	tv.parent.mu.RUnlock()

	tv.accounts[accountID] = acc
	return cloneAccount(acc), nil
}

func (tv *txView) AppendEntry(_ context.Context, entry *models.LedgerEntry) error {
	if _, ok := tv.held[entry.AccountID]; !ok {
		return models.ErrAccountNotFound
	}
	if !entry.Type.Valid() || !entry.Consistent() {
		return models.ErrLedgerInvariant
	}

	tv.parent.mu.RLock()
	_, exists := tv.parent.entryByKey[entry.IdempotencyKey]
	tv.parent.mu.RUnlock()
	if exists {
		return models.ErrDuplicateIdempotencyKey
	}
	for _, p := range tv.pending {
		if p.IdempotencyKey == entry.IdempotencyKey {
			return models.ErrDuplicateIdempotencyKey
		}
	}

	tv.pending = append(tv.pending, cloneEntry(entry))
	return nil
}

func (tv *txView) SetBalance(_ context.Context, accountID string, balance decimal.Decimal) error {
	acc, ok := tv.accounts[accountID]
	if !ok {
		return models.ErrAccountNotFound
	}
	if balance.IsNegative() {
		return models.ErrLedgerInvariant
	}
	acc.Balance = balance
	acc.UpdatedAt = store.Now()
	return nil
}

// -----------------------------------------------------------------------------
// Ledger lookups
// -----------------------------------------------------------------------------

func (s *Store) GetEntryByKey(_ context.Context, key string) (*models.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entryByKey[key]
	if !ok {
		return nil, models.ErrEntryNotFound
	}
	return cloneEntry(e), nil
}

func (s *Store) GetEntry(_ context.Context, id string) (*models.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entryByID[id]
	if !ok {
		return nil, models.ErrEntryNotFound
	}
	return cloneEntry(e), nil
}

// -----------------------------------------------------------------------------
// Accounts
// -----------------------------------------------------------------------------

func (s *Store) CreateAccount(_ context.Context, account *models.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.accounts[account.ID]; ok {
		return models.ErrAccountExists
	}
	if _, ok := s.usernames[strings.ToLower(account.Username)]; ok {
		return models.ErrAccountExists
	}
	if _, ok := s.emails[strings.ToLower(account.Email)]; ok {
		return models.ErrAccountExists
	}

	acc := cloneAccount(account)
	s.accounts[acc.ID] = acc
	s.usernames[strings.ToLower(acc.Username)] = acc.ID
	s.emails[strings.ToLower(acc.Email)] = acc.ID
	return nil
}

func (s *Store) GetAccount(_ context.Context, id string) (*models.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	acc, ok := s.accounts[id]
	if !ok {
		return nil, models.ErrAccountNotFound
	}
	return cloneAccount(acc), nil
}

func (s *Store) GetAccountByUsername(_ context.Context, username string) (*models.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.usernames[strings.ToLower(username)]
	if !ok {
		return nil, models.ErrAccountNotFound
	}
	return cloneAccount(s.accounts[id]), nil
}

func (s *Store) UpdateAccountStatus(ctx context.Context, id string, status models.AccountStatus) (*models.Account, error) {
	s.mu.RLock()
	_, exists := s.accounts[id]
	s.mu.RUnlock()
	if !exists {
		return nil, models.ErrAccountNotFound
	}

	release, err := s.acquire(ctx, id)
	if err != nil {
		return nil, err
	}
	defer release()

	s.mu.Lock()
	defer s.mu.Unlock()
	acc := s.accounts[id]
	acc.Status = status
	acc.UpdatedAt = store.Now()
	return cloneAccount(acc), nil
}

func (s *Store) TouchLastLogin(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	acc, ok := s.accounts[id]
	if !ok {
		return models.ErrAccountNotFound
	}
	t := at.UTC().Truncate(time.Microsecond)
	acc.LastLoginAt = &t
	return nil
}

// -----------------------------------------------------------------------------
// History and statistics
// -----------------------------------------------------------------------------

func (s *Store) ListEntries(_ context.Context, filter models.EntryFilter) ([]models.LedgerEntry, int, error) {
	s.mu.RLock()
	matched := make([]*models.LedgerEntry, 0)
	for _, e := range s.entries {
		if matchEntry(e, filter.AccountID, filter.Types, filter.From, filter.To) {
			matched = append(matched, e)
		}
	}
	s.mu.RUnlock()

	sort.SliceStable(matched, func(i, j int) bool {
		return lessEntry(matched[i], matched[j], filter.SortBy, filter.Desc)
	})

	total := len(matched)
	start := min(filter.Offset, total)
	end := total
	if filter.Limit > 0 {
		end = min(start+filter.Limit, total)
	}

	page := make([]models.LedgerEntry, 0, end-start)
	for _, e := range matched[start:end] {
		page = append(page, *cloneEntry(e))
	}
	return page, total, nil
}

func (s *Store) EntryStats(_ context.Context, filter models.StatsFilter) (*models.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := models.NewStats()
	for _, e := range s.entries {
		if matchEntry(e, filter.AccountID, nil, filter.From, filter.To) {
			stats.Add(e.Type, 1, e.Amount)
		}
	}
	return stats, nil
}

func matchEntry(e *models.LedgerEntry, accountID string, types []models.EntryType, from, to *time.Time) bool {
	if accountID != "" && e.AccountID != accountID {
		return false
	}
	if len(types) > 0 {
		found := false
		for _, t := range types {
			if e.Type == t {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if from != nil && e.CreatedAt.Before(*from) {
		return false
	}
	if to != nil && e.CreatedAt.After(*to) {
		return false
	}
	return true
}

// lessEntry orders by the sort key, then by id in the same direction.
func lessEntry(a, b *models.LedgerEntry, sortBy string, desc bool) bool {
	var c int
	switch sortBy {
	case models.SortAmount:
		c = a.Amount.Cmp(b.Amount)
	case models.SortType:
		c = strings.Compare(string(a.Type), string(b.Type))
	default:
		c = a.CreatedAt.Compare(b.CreatedAt)
	}
	if c == 0 {
		c = strings.Compare(a.ID, b.ID)
	}
	if desc {
		return c > 0
	}
	return c < 0
}

func cloneAccount(a *models.Account) *models.Account {
	c := *a
	if a.LastLoginAt != nil {
		t := *a.LastLoginAt
		c.LastLoginAt = &t
	}
	return &c
}

func cloneEntry(e *models.LedgerEntry) *models.LedgerEntry {
	c := *e
	if e.Metadata != nil {
		c.Metadata = append(models.Metadata(nil), e.Metadata...)
	}
	return &c
}
