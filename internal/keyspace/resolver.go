// Package keyspace maps logical data keys to physical storage keys in either
// the guest namespace or an account namespace.
package keyspace

import (
	"errors"
	"fmt"
	"strings"
	"sync"
)

const (
	GuestPrefix   = "guest:"
	AccountPrefix = "user:"
)

var (
	ErrEmptyKey       = errors.New("keyspace: empty logical key")
	ErrInvalidAccount = errors.New("keyspace: malformed account id")
)

// Resolve returns the physical key for a logical key. An empty accountID
// selects the guest namespace.
func Resolve(key, accountID string) (string, error) {
	if key == "" {
		return "", ErrEmptyKey
	}
	if accountID == "" {
		return GuestPrefix + key, nil
	}
	if strings.Contains(accountID, ":") || strings.TrimSpace(accountID) != accountID {
		return "", fmt.Errorf("%w: %q", ErrInvalidAccount, accountID)
	}
	return AccountPrefix + accountID + ":" + key, nil
}

// GuestKey is Resolve(key, "").
func GuestKey(key string) (string, error) {
	return Resolve(key, "")
}

// AccountKey resolves key into the namespace of a specific account.
func AccountKey(key, accountID string) (string, error) {
	if accountID == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidAccount)
	}
	return Resolve(key, accountID)
}

// Resolver tracks which account, if any, the current session is associated
// with. Until Associate is called every key resolves to the guest namespace.
type Resolver struct {
	mu      sync.RWMutex
	account string
}

// NewResolver returns a resolver with no account association.
func NewResolver() *Resolver {
	return &Resolver{}
}

// Associate binds the session to an account. Callers that need to inspect
// guest data must do so before this is called.
func (r *Resolver) Associate(accountID string) error {
	if _, err := AccountKey("check", accountID); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.account = accountID
	return nil
}

// Clear drops the account association (sign-out).
func (r *Resolver) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.account = ""
}

// Account returns the associated account id or "".
func (r *Resolver) Account() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.account
}

// Associated reports whether an account is bound to the session.
func (r *Resolver) Associated() bool {
	return r.Account() != ""
}

// Key resolves a logical key through the current session association.
func (r *Resolver) Key(key string) (string, error) {
	return Resolve(key, r.Account())
}
