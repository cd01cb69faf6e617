package migration

import "errors"

var (
	// ErrMissingAccount is returned when an operation needs an account id
	// and got none.
	ErrMissingAccount = errors.New("migration: account id is required")
	// ErrMigrationActive rejects a start while another run is in flight.
	ErrMigrationActive = errors.New("migration: a migration is already running")
	// ErrAccountAssociated means guest data was inspected after the session
	// was already bound to an account.
	ErrAccountAssociated = errors.New("migration: guest data must be inspected before the account is associated")
)
