package hive

import (
	"context"
	"errors"
	"slices"
)

var (
	// ErrAccountNotFound is returned when the chain has no such account.
	ErrAccountNotFound = errors.New("account not found")
	// ErrUnavailable wraps transport and node failures. It is transient.
	ErrUnavailable = errors.New("hive node unavailable")
)

// Account is the subset of an on-chain account needed for key validation.
type Account struct {
	Name        string
	PostingKeys []string
}

// HasPostingKey reports whether pub is one of the account's posting keys.
func (a *Account) HasPostingKey(pub string) bool {
	return slices.Contains(a.PostingKeys, pub)
}

// AccountLookup resolves on-chain accounts.
type AccountLookup interface {
	GetAccount(ctx context.Context, username string) (*Account, error)
}

// StaticAccounts is an in-memory AccountLookup, keyed by account name.
type StaticAccounts map[string]*Account

func (s StaticAccounts) GetAccount(ctx context.Context, username string) (*Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	a, ok := s[username]
	if !ok {
		return nil, ErrAccountNotFound
	}
	return a, nil
}
