package model

import (
	"context"
	"errors"
	"time"
)

var (
	ErrAccountNotFound = errors.New("account not found")
	ErrAccountExists   = errors.New("account already exists")
	ErrOpenIDBound     = errors.New("openid already bound")
)

// -------------------- ACCOUNT MODEL --------------------
type Account struct {
	AccountID    string    `json:"account_id" db:"account_id"` // UUID
	Bucket       int       `json:"-" db:"bucket"`              // murmur3 partition bucket
	Username     string    `json:"username" db:"username"`
	Mobile       string    `json:"mobile" db:"mobile"`
	PasswordHash string    `json:"-" db:"password_hash"`
	Email        string    `json:"email" db:"email"`
	EmailActive  bool      `json:"email_active" db:"email_active"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time `json:"updated_at" db:"updated_at"`
}

// -------------------- REPOSITORY INTERFACES --------------------

// AccountRepository stores accounts. Username and mobile are each unique;
// Create returns ErrAccountExists when either is taken. Lookups return
// ErrAccountNotFound for unknown keys. An OAuth openid is bound to at most
// one account; BindOpenID returns ErrOpenIDBound for a second binding.
type AccountRepository interface {
	Create(ctx context.Context, account *Account) error
	GetByID(ctx context.Context, accountID string) (*Account, error)
	GetByUsername(ctx context.Context, username string) (*Account, error)
	GetByMobile(ctx context.Context, mobile string) (*Account, error)
	UpdatePassword(ctx context.Context, accountID, passwordHash string) error
	UpdateEmail(ctx context.Context, accountID, email string, active bool) error
	GetByOpenID(ctx context.Context, openID string) (*Account, error)
	BindOpenID(ctx context.Context, openID, accountID string) error
}
