// Package remote talks to the account-record service that owns an
// authenticated user's data.
package remote

import (
	"context"
	"errors"
)

// ErrUnavailable marks failures where the service could not be reached.
var ErrUnavailable = errors.New("remote: service unavailable")

// Store reads and writes one account record at a time. Implementations give
// at least last-write-wins per key; there are no cross-key transactions.
type Store interface {
	// GetAccountRecord returns the stored value and whether it exists.
	GetAccountRecord(ctx context.Context, accountID, key string) ([]byte, bool, error)
	PutAccountRecord(ctx context.Context, accountID, key string, value []byte) error
}
