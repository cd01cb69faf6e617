package models

import (
	"sync"
	"time"
)

// Progress statuses.
const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

// MigrationProgress is the transient status of the attempt in flight.
type MigrationProgress struct {
	AttemptID  string `json:"attempt_id"`
	Status     string `json:"status"` // "pending", "running", "succeeded", "failed"
	Step       string `json:"current_step"`
	Percentage int    `json:"percentage"`
	Message    string `json:"message"`
}

// Resolution actions.
const (
	ResolutionKeepRemote = "keep_remote"
	ResolutionKeepLocal  = "keep_local"
	ResolutionMerge      = "merge"
)

// ConflictResolution is the decision taken for one SyncConflict. Merged is
// only set for ResolutionMerge.
type ConflictResolution struct {
	Action string `json:"action"`
	Merged []byte `json:"merged,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// SyncConflict describes a key whose guest and remote values disagree.
type SyncConflict struct {
	Key         string              `json:"key"`
	GuestValue  []byte              `json:"guest_value"`
	RemoteValue []byte              `json:"remote_value"`
	Resolution  *ConflictResolution `json:"resolution,omitempty"`
}

// MigrationAttempt is the log entry for one orchestrator run. It is
// write-once: after Seal all mutators are ignored.
type MigrationAttempt struct {
	ID           string         `json:"attempt_id"`
	AccountID    string         `json:"account_id"`
	StartedAt    time.Time      `json:"started_at"`
	FinishedAt   *time.Time     `json:"finished_at,omitempty"`
	Success      bool           `json:"success"`
	MigratedKeys []string       `json:"migrated_keys"`
	Errors       []string       `json:"errors"`
	Warnings     []string       `json:"warnings"`
	Conflicts    []SyncConflict `json:"conflicts,omitempty"`
	mu           sync.Mutex
}

// NewAttempt starts an unsealed attempt.
func NewAttempt(id, accountID string, startedAt time.Time) *MigrationAttempt {
	return &MigrationAttempt{
		ID:           id,
		AccountID:    accountID,
		StartedAt:    startedAt,
		MigratedKeys: []string{},
		Errors:       []string{},
		Warnings:     []string{},
	}
}

// Sealed reports whether the attempt has been finalized.
func (a *MigrationAttempt) Sealed() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.FinishedAt != nil
}

// AddError appends a failure description.
func (a *MigrationAttempt) AddError(msg string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.FinishedAt == nil {
		a.Errors = append(a.Errors, msg)
	}
}

// AddWarning appends a non-fatal notice.
func (a *MigrationAttempt) AddWarning(msg string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.FinishedAt == nil {
		a.Warnings = append(a.Warnings, msg)
	}
}

// AddMigrated records a key that reached its committed state.
func (a *MigrationAttempt) AddMigrated(key string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.FinishedAt != nil {
		return
	}
	for _, k := range a.MigratedKeys {
		if k == key {
			return
		}
	}
	a.MigratedKeys = append(a.MigratedKeys, key)
}

// AddConflict records a detected conflict and its resolution.
func (a *MigrationAttempt) AddConflict(c SyncConflict) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.FinishedAt == nil {
		a.Conflicts = append(a.Conflicts, c)
	}
}

// Seal finalizes the attempt. It returns false if it was already sealed.
func (a *MigrationAttempt) Seal(success bool, at time.Time) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.FinishedAt != nil {
		return false
	}
	a.Success = success
	a.FinishedAt = &at
	return true
}

// Snapshot returns a copy safe to hand to other goroutines.
func (a *MigrationAttempt) Snapshot() *MigrationAttempt {
	a.mu.Lock()
	defer a.mu.Unlock()
	cp := &MigrationAttempt{
		ID:           a.ID,
		AccountID:    a.AccountID,
		StartedAt:    a.StartedAt,
		Success:      a.Success,
		MigratedKeys: append([]string{}, a.MigratedKeys...),
		Errors:       append([]string{}, a.Errors...),
		Warnings:     append([]string{}, a.Warnings...),
		Conflicts:    append([]SyncConflict(nil), a.Conflicts...),
	}
	if a.FinishedAt != nil {
		t := *a.FinishedAt
		cp.FinishedAt = &t
	}
	return cp
}

// MigrationResult is the terminal outcome handed back to callers.
type MigrationResult struct {
	AttemptID        string         `json:"attempt_id"`
	AccountID        string         `json:"account_id"`
	Success          bool           `json:"success"`
	NothingToMigrate bool           `json:"nothing_to_migrate"`
	MigratedKeys     []string       `json:"migrated_keys"`
	Errors           []string       `json:"errors"`
	Warnings         []string       `json:"warnings"`
	Conflicts        []SyncConflict `json:"conflicts,omitempty"`
}

// ResultFromAttempt builds the caller-facing result of a sealed attempt.
func ResultFromAttempt(a *MigrationAttempt) *MigrationResult {
	s := a.Snapshot()
	return &MigrationResult{
		AttemptID:    s.ID,
		AccountID:    s.AccountID,
		Success:      s.Success,
		MigratedKeys: s.MigratedKeys,
		Errors:       s.Errors,
		Warnings:     s.Warnings,
		Conflicts:    s.Conflicts,
	}
}

// MigrationState is the process-wide view observers read.
type MigrationState struct {
	IsActive     bool                `json:"is_active"`
	CanStart     bool                `json:"can_start"`
	HasLocalData bool                `json:"has_local_data"`
	LastAttempt  *MigrationAttempt   `json:"last_migration_attempt"`
	History      []*MigrationAttempt `json:"migration_history"` // newest first
	Progress     *MigrationProgress  `json:"progress,omitempty"`
	LastResult   *MigrationResult    `json:"last_result,omitempty"`
}
