package migration

import (
	"bytes"
	"fmt"
	"log/slog"

	"github.com/rflorenc/fitsync/internal/keyspace"
	"github.com/rflorenc/fitsync/internal/localstore"
	"github.com/rflorenc/fitsync/internal/models"
)

// Journal records keys whose account-namespaced copy is confirmed and that
// still need a remote commit.
type Journal interface {
	MarkPending(accountID, key string) error
}

// RekeyResult is the outcome of moving guest records into an account
// namespace.
type RekeyResult struct {
	Success      bool     `json:"success"`
	MigratedKeys []string `json:"migrated_keys"`
	Errors       []string `json:"errors"`
	Warnings     []string `json:"warnings"`
}

// Rekeyer copies guest records into an account namespace on the device.
type Rekeyer struct {
	local   localstore.Store
	journal Journal
	logger  *slog.Logger
}

// NewRekeyer creates a Rekeyer. journal may be nil.
func NewRekeyer(local localstore.Store, journal Journal, logger *slog.Logger) *Rekeyer {
	return &Rekeyer{local: local, journal: journal, logger: logger}
}

// MigrateGuestDataToUser moves every migration-worthy guest record into the
// namespace of accountID. Per key the order is: write the account copy, read
// it back and compare, journal it, and only then delete the guest copy. A
// failure at any point before the delete leaves the guest copy untouched, so
// the call can simply be repeated.
func (r *Rekeyer) MigrateGuestDataToUser(accountID string) (*RekeyResult, error) {
	if accountID == "" {
		return nil, ErrMissingAccount
	}
	if _, err := keyspace.AccountKey(outboxKey, accountID); err != nil {
		return nil, err
	}

	result := &RekeyResult{MigratedKeys: []string{}, Errors: []string{}, Warnings: []string{}}
	for _, key := range models.LogicalKeys() {
		if err := r.rekey(accountID, key, result); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", key, err))
			r.logger.Warn("rekey failed, guest copy kept", "account", accountID, "key", key, "error", err)
		}
	}
	result.Success = len(result.Errors) == 0
	return result, nil
}

// rekey handles one key. A nil return with nothing appended means there was
// nothing to move.
func (r *Rekeyer) rekey(accountID, key string, result *RekeyResult) error {
	guestKey, err := keyspace.GuestKey(key)
	if err != nil {
		return err
	}
	accountKey, err := keyspace.AccountKey(key, accountID)
	if err != nil {
		return err
	}

	raw, ok, err := r.local.Get(guestKey)
	if err != nil {
		return fmt.Errorf("reading guest copy: %w", err)
	}
	if !ok {
		return nil
	}
	p, err := models.DecodePayloadFor(key, raw)
	if err != nil {
		result.Warnings = append(result.Warnings, fmt.Sprintf("%s: guest copy left in place, not decodable: %v", key, err))
		return nil
	}
	if p.IsEmpty() {
		return nil
	}

	if err := r.local.Set(accountKey, raw); err != nil {
		return fmt.Errorf("writing account copy: %w", err)
	}
	written, ok, err := r.local.Get(accountKey)
	if err != nil {
		return fmt.Errorf("verifying account copy: %w", err)
	}
	if !ok || !bytes.Equal(written, raw) {
		return fmt.Errorf("verifying account copy: content mismatch")
	}
	if r.journal != nil {
		if err := r.journal.MarkPending(accountID, key); err != nil {
			return fmt.Errorf("journaling: %w", err)
		}
	}

	if err := r.local.Delete(guestKey); err != nil {
		// Both copies exist and are identical; a later run rewrites the same bytes.
		result.Warnings = append(result.Warnings, fmt.Sprintf("%s: copied but guest copy not removed: %v", key, err))
	}
	result.MigratedKeys = append(result.MigratedKeys, key)
	r.logger.Debug("rekeyed guest record", "account", accountID, "key", key)
	return nil
}
