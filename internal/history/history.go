// Package history keeps the permanent audit trail of migration attempts.
package history

import "github.com/rflorenc/fitsync/internal/models"

// Store is an append-only log of sealed attempts.
type Store interface {
	Append(a *models.MigrationAttempt) error
	// List returns every attempt, newest first.
	List() ([]*models.MigrationAttempt, error)
}

// HasSuccess reports whether any attempt for accountID succeeded.
func HasSuccess(attempts []*models.MigrationAttempt, accountID string) bool {
	for _, a := range attempts {
		if a.AccountID == accountID && a.Success {
			return true
		}
	}
	return false
}
