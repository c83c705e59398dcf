package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// AccountStatus is the administrative state of an account.
type AccountStatus string

const (
	StatusActive    AccountStatus = "active"
	StatusSuspended AccountStatus = "suspended"
	StatusInactive  AccountStatus = "inactive"
)

// Valid reports whether s is a known status.
func (s AccountStatus) Valid() bool {
	return s == StatusActive || s == StatusSuspended || s == StatusInactive
}

// Role is the authorization role attached to an account.
type Role string

const (
	RolePlayer Role = "player"
	RoleAdmin  Role = "admin"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RolePlayer || r == RoleAdmin
}

// Account is a user's wallet record.
type Account struct {
	ID           string          `json:"id" db:"id"`
	Username     string          `json:"username" db:"username"`
	Email        string          `json:"email" db:"email"`
	PasswordHash string          `json:"-" db:"password_hash"`
	Balance      decimal.Decimal `json:"balance" db:"balance"`
	Status       AccountStatus   `json:"status" db:"status"`
	Role         Role            `json:"role" db:"role"`
	CreatedAt    time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at" db:"updated_at"`
	LastLoginAt  *time.Time      `json:"last_login_at,omitempty" db:"last_login_at"`
}

// IsActive reports whether the account may take part in balance mutations.
func (a *Account) IsActive() bool {
	return a.Status == StatusActive
}

// Identity is the verified caller handed to the core by the auth layer.
type Identity struct {
	AccountID string
	Role      Role
}

// IsAdmin reports whether the caller holds the admin role.
func (i Identity) IsAdmin() bool {
	return i.Role == RoleAdmin
}

// CanAccess reports whether the caller may read or act on accountID.
func (i Identity) CanAccess(accountID string) bool {
	return i.IsAdmin() || i.AccountID == accountID
}
