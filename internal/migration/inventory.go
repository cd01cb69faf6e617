package migration

import (
	"log/slog"

	"github.com/rflorenc/fitsync/internal/keyspace"
	"github.com/rflorenc/fitsync/internal/localstore"
	"github.com/rflorenc/fitsync/internal/models"
)

// Inventory reports what guest data exists on the device.
type Inventory struct {
	local    localstore.Store
	resolver *keyspace.Resolver
	logger   *slog.Logger
}

// NewInventory creates an Inventory over the local store.
func NewInventory(local localstore.Store, resolver *keyspace.Resolver, logger *slog.Logger) *Inventory {
	return &Inventory{local: local, resolver: resolver, logger: logger}
}

// Records returns the guest records that hold non-empty, non-default values.
// Unreadable or undecodable entries are skipped: reporting "nothing here" is
// the safe direction.
func (inv *Inventory) Records() []models.MigrationRecord {
	var records []models.MigrationRecord
	for _, key := range models.LogicalKeys() {
		guestKey, err := keyspace.GuestKey(key)
		if err != nil {
			continue
		}
		raw, ok, err := inv.local.Get(guestKey)
		if err != nil {
			inv.logger.Warn("reading guest record failed, treating as absent", "key", key, "error", err)
			continue
		}
		if !ok {
			continue
		}
		p, err := models.DecodePayloadFor(key, raw)
		if err != nil {
			inv.logger.Warn("guest record is not decodable, treating as absent", "key", key, "error", err)
			continue
		}
		if p.IsEmpty() {
			continue
		}
		records = append(records, models.MigrationRecord{
			Key:           key,
			GuestValue:    raw,
			LocalModified: p.UpdatedAt,
		})
	}
	return records
}

// HasLocalData reports whether any guest record is worth migrating. It reads
// the guest namespace directly, so the answer does not depend on whether an
// account has been associated since.
func (inv *Inventory) HasLocalData() bool {
	return len(inv.Records()) > 0
}

// HasGuestDataForMigration is HasLocalData for the sign-in flow. It must be
// called before the resolver is associated with the new account; calling it
// afterwards returns ErrAccountAssociated instead of an answer.
func (inv *Inventory) HasGuestDataForMigration() (bool, error) {
	if inv.resolver != nil && inv.resolver.Associated() {
		return false, ErrAccountAssociated
	}
	return inv.HasLocalData(), nil
}
