package migration

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/rflorenc/fitsync/internal/keyspace"
	"github.com/rflorenc/fitsync/internal/localstore"
)

// outboxKey is the logical key holding an account's keys that were rekeyed
// locally but not yet committed remotely. It is not part of the record
// catalog, so the inventory never reports it.
const outboxKey = "_migration_outbox"

// Outbox persists, per account, which keys still need a remote commit.
type Outbox struct {
	mu    sync.Mutex
	local localstore.Store
}

// NewOutbox creates an Outbox stored in the local store.
func NewOutbox(local localstore.Store) *Outbox {
	return &Outbox{local: local}
}

// Load returns the pending keys for accountID, sorted.
func (o *Outbox) Load(accountID string) ([]string, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	set, err := o.load(accountID)
	if err != nil {
		return nil, err
	}
	return sortedKeys(set), nil
}

// MarkPending adds key to the account's outbox.
func (o *Outbox) MarkPending(accountID, key string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	set, err := o.load(accountID)
	if err != nil {
		return err
	}
	if set[key] {
		return nil
	}
	set[key] = true
	return o.save(accountID, set)
}

// Remove drops key from the account's outbox.
func (o *Outbox) Remove(accountID, key string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	set, err := o.load(accountID)
	if err != nil {
		return err
	}
	if !set[key] {
		return nil
	}
	delete(set, key)
	return o.save(accountID, set)
}

func (o *Outbox) load(accountID string) (map[string]bool, error) {
	k, err := keyspace.AccountKey(outboxKey, accountID)
	if err != nil {
		return nil, err
	}
	raw, ok, err := o.local.Get(k)
	if err != nil {
		return nil, fmt.Errorf("reading outbox: %w", err)
	}
	set := make(map[string]bool)
	if !ok {
		return set, nil
	}
	var keys []string
	if err := json.Unmarshal(raw, &keys); err != nil {
		return nil, fmt.Errorf("parsing outbox: %w", err)
	}
	for _, key := range keys {
		set[key] = true
	}
	return set, nil
}

func (o *Outbox) save(accountID string, set map[string]bool) error {
	k, err := keyspace.AccountKey(outboxKey, accountID)
	if err != nil {
		return err
	}
	if len(set) == 0 {
		if err := o.local.Delete(k); err != nil {
			return fmt.Errorf("clearing outbox: %w", err)
		}
		return nil
	}
	raw, err := json.Marshal(sortedKeys(set))
	if err != nil {
		return err
	}
	if err := o.local.Set(k, raw); err != nil {
		return fmt.Errorf("writing outbox: %w", err)
	}
	return nil
}

func sortedKeys(set map[string]bool) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
