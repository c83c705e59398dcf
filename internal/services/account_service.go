package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/ruralpay/wallet-ledger/internal/audit"
	"github.com/ruralpay/wallet-ledger/internal/logger"
	"github.com/ruralpay/wallet-ledger/internal/models"
	"github.com/ruralpay/wallet-ledger/internal/store"
	"github.com/shopspring/decimal"
)

// RegisterInput is the data needed to open a wallet.
type RegisterInput struct {
	Username string `json:"username" validate:"required,min=3,max=50,alphanum"`
	Email    string `json:"email" validate:"required,email,max=255"`
	Password string `json:"password" validate:"required,min=8,max=128"`
}

type AccountService struct {
	accounts  store.AccountStore
	hasher    *PasswordHasher
	validator *ValidationHelper
	audit     *audit.AuditLogger
}

func NewAccountService(accounts store.AccountStore, hasher *PasswordHasher, auditLogger *audit.AuditLogger) *AccountService {
	return &AccountService{
		accounts:  accounts,
		hasher:    hasher,
		validator: NewValidationHelper(),
		audit:     auditLogger,
	}
}

// Register opens an active player account with a zero balance.
func (s *AccountService) Register(ctx context.Context, in RegisterInput) (*models.Account, error) {
	return s.create(ctx, in, models.RolePlayer)
}

// EnsureAdmin creates the bootstrap admin account unless the username is
// already taken.
func (s *AccountService) EnsureAdmin(ctx context.Context, in RegisterInput) (*models.Account, error) {
	existing, err := s.accounts.GetAccountByUsername(ctx, in.Username)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, models.ErrAccountNotFound) {
		return nil, err
	}
	return s.create(ctx, in, models.RoleAdmin)
}

func (s *AccountService) create(ctx context.Context, in RegisterInput, role models.Role) (*models.Account, error) {
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	in.Username = strings.TrimSpace(in.Username)

	if err := s.validator.ValidateStruct(&in); err != nil {
		return nil, err
	}

	hashedPassword, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	now := store.Now()
	account := &models.Account{
		ID:           uuid.NewString(),
		Username:     in.Username,
		Email:        in.Email,
		PasswordHash: hashedPassword,
		Balance:      decimal.Zero,
		Status:       models.StatusActive,
		Role:         role,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.accounts.CreateAccount(ctx, account); err != nil {
		logger.Warnf("[ACCOUNT] Account creation failed for %s: %v", in.Username, err)
		return nil, err
	}

	logger.Infof("[ACCOUNT] Account created - ID: %s, Username: %s, Role: %s", account.ID, account.Username, role)
	s.audit.LogOperation(account.ID, "ACCOUNT_CREATED", string(role))
	return account, nil
}

// Authenticate checks credentials and records the login time. Unknown
// usernames and wrong passwords are indistinguishable to the caller.
func (s *AccountService) Authenticate(ctx context.Context, username, password string) (*models.Account, error) {
	account, err := s.accounts.GetAccountByUsername(ctx, strings.TrimSpace(username))
	if err != nil {
		if errors.Is(err, models.ErrAccountNotFound) {
			logger.Infof("[AUTH] Login for unknown user: %s", username)
			return nil, models.ErrInvalidCredentials
		}
		return nil, err
	}

	if !s.hasher.Verify(password, account.PasswordHash) {
		logger.Infof("[AUTH] Invalid password for user: %s", username)
		return nil, models.ErrInvalidCredentials
	}

	if !account.IsActive() {
		logger.Infof("[AUTH] Login refused for %s account %s", account.Status, account.ID)
		return nil, models.ErrAccountNotActive
	}

	now := store.Now()
	if err := s.accounts.TouchLastLogin(ctx, account.ID, now); err != nil {
		logger.Warnf("[AUTH] Failed to record login for %s: %v", account.ID, err)
	} else {
		account.LastLoginAt = &now
	}
	return account, nil
}

// SetStatus changes an account's status. Admin only.
func (s *AccountService) SetStatus(ctx context.Context, actor models.Identity, accountID string, status models.AccountStatus) (*models.Account, error) {
	if !actor.IsAdmin() {
		return nil, models.ErrForbidden
	}
	if !status.Valid() {
		return nil, models.ErrInvalidStatus
	}

	current, err := s.accounts.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}

	updated, err := s.accounts.UpdateAccountStatus(ctx, accountID, status)
	if err != nil {
		return nil, err
	}

	logger.Infof("[ACCOUNT] Status of %s changed %s -> %s by %s", accountID, current.Status, status, actor.AccountID)
	s.audit.LogStatusChange(actor, accountID, current.Status, status)
	return updated, nil
}

func (s *AccountService) GetAccount(ctx context.Context, actor models.Identity, accountID string) (*models.Account, error) {
	if !actor.CanAccess(accountID) {
		return nil, models.ErrForbidden
	}
	return s.accounts.GetAccount(ctx, accountID)
}
