package migration

import (
	"context"
	"fmt"
	"sort"

	"github.com/rflorenc/fitsync/internal/keyspace"
	"github.com/rflorenc/fitsync/internal/models"
)

// Preview actions.
const (
	PreviewCreate   = "create"
	PreviewInSync   = "in_sync"
	PreviewConflict = "conflict"
	PreviewError    = "error"
)

// Where a previewed value currently lives.
const (
	SourceGuest   = "guest"
	SourcePending = "pending"
)

// PreviewItem is the planned action for one key.
type PreviewItem struct {
	Key        string                     `json:"key"`
	Source     string                     `json:"source"`
	Action     string                     `json:"action"`
	Resolution *models.ConflictResolution `json:"resolution,omitempty"`
	Error      string                     `json:"error,omitempty"`
}

// Preview is a dry run of a migration.
type Preview struct {
	AccountID string        `json:"account_id"`
	Items     []PreviewItem `json:"items"`
	Warnings  []string      `json:"warnings"`
}

// Counts returns how many items fall under each action.
func (p *Preview) Counts() map[string]int {
	counts := make(map[string]int)
	for _, it := range p.Items {
		counts[it.Action]++
	}
	return counts
}

// PreviewMigration classifies every key a migration into accountID would
// touch, without writing anything locally or remotely.
func (m *Manager) PreviewMigration(ctx context.Context, accountID string) (*Preview, error) {
	if accountID == "" {
		return nil, ErrMissingAccount
	}
	if _, err := keyspace.AccountKey(outboxKey, accountID); err != nil {
		return nil, err
	}

	candidates := make(map[string]PreviewItem)
	values := make(map[string][]byte)
	for _, rec := range m.inventory.Records() {
		candidates[rec.Key] = PreviewItem{Key: rec.Key, Source: SourceGuest}
		values[rec.Key] = rec.GuestValue
	}

	pending, err := m.outbox.Load(accountID)
	if err != nil {
		return nil, fmt.Errorf("loading pending keys: %w", err)
	}
	for _, key := range pending {
		if _, ok := candidates[key]; ok {
			continue
		}
		accountKey, err := keyspace.AccountKey(key, accountID)
		if err != nil {
			return nil, err
		}
		raw, ok, err := m.local.Get(accountKey)
		if err != nil || !ok {
			continue
		}
		candidates[key] = PreviewItem{Key: key, Source: SourcePending}
		values[key] = raw
	}

	keys := make([]string, 0, len(candidates))
	for k := range candidates {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	preview := &Preview{AccountID: accountID, Items: []PreviewItem{}, Warnings: []string{}}
	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		item := candidates[key]
		local := values[key]

		remoteRaw, found, err := m.remote.GetAccountRecord(ctx, accountID, key)
		switch {
		case err != nil:
			item.Action = PreviewError
			item.Error = err.Error()
		case !found:
			item.Action = PreviewCreate
		case SameContent(key, local, remoteRaw):
			item.Action = PreviewInSync
		default:
			d := m.policy.Resolve(key, local, remoteRaw)
			item.Action = PreviewConflict
			res := d.Resolution
			item.Resolution = &res
			if d.Warning != "" {
				preview.Warnings = append(preview.Warnings, d.Warning)
			}
		}
		preview.Items = append(preview.Items, item)
	}
	m.logger.Debug("migration preview", "account", accountID, "items", len(preview.Items))
	return preview, nil
}
