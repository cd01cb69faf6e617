package migration

import (
	"fmt"

	"github.com/rflorenc/fitsync/internal/models"
)

// State returns a snapshot of the migration state.
func (m *Manager) State() models.MigrationState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

func (m *Manager) snapshotLocked() models.MigrationState {
	s := models.MigrationState{
		IsActive:     m.active,
		CanStart:     !m.active && m.resolver.Associated(),
		HasLocalData: m.hasLocal,
		History:      append([]*models.MigrationAttempt{}, m.attempts...),
	}
	if len(m.attempts) > 0 {
		s.LastAttempt = m.attempts[0]
	}
	if m.progress != nil {
		p := *m.progress
		s.Progress = &p
	}
	if m.result != nil {
		r := *m.result
		s.LastResult = &r
	}
	return s
}

func (m *Manager) publishState() {
	m.stateHub.Publish(m.State())
}

// OnStateChange calls fn after every state mutation. The returned function
// unsubscribes.
func (m *Manager) OnStateChange(fn func(models.MigrationState)) func() {
	return m.stateHub.Subscribe(fn)
}

// OnProgress calls fn for every progress update of a running migration.
func (m *Manager) OnProgress(fn func(models.MigrationProgress)) func() {
	return m.progressHub.Subscribe(fn)
}

// OnResult calls fn once per finished migration.
func (m *Manager) OnResult(fn func(models.MigrationResult)) func() {
	return m.resultHub.Subscribe(fn)
}

// CheckMigrationStatus reloads history from the durable store and recomputes
// the derived flags.
func (m *Manager) CheckMigrationStatus() (models.MigrationState, error) {
	attempts, err := m.history.List()
	if err != nil {
		return m.State(), fmt.Errorf("loading migration history: %w", err)
	}
	hasLocal := m.inventory.HasLocalData()

	m.mu.Lock()
	m.attempts = attempts
	m.hasLocal = hasLocal
	s := m.snapshotLocked()
	m.mu.Unlock()

	m.stateHub.Publish(s)
	return s, nil
}

// ClearMigrationState drops the last result, and the progress unless a
// migration is running. History is never cleared.
func (m *Manager) ClearMigrationState() {
	m.mu.Lock()
	m.result = nil
	if !m.active {
		m.progress = nil
	}
	s := m.snapshotLocked()
	m.mu.Unlock()

	m.stateHub.Publish(s)
}
