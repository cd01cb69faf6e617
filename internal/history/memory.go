package history

import (
	"fmt"
	"sync"

	"github.com/rflorenc/fitsync/internal/models"
)

// MemoryStore keeps history for the life of the process only.
type MemoryStore struct {
	mu       sync.RWMutex
	attempts []*models.MigrationAttempt // oldest first
}

// NewMemoryStore creates an empty history.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Append(a *models.MigrationAttempt) error {
	if !a.Sealed() {
		return fmt.Errorf("history: attempt %s is not sealed", a.ID)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts = append(s.attempts, a.Snapshot())
	return nil
}

func (s *MemoryStore) List() ([]*models.MigrationAttempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]*models.MigrationAttempt, 0, len(s.attempts))
	for i := len(s.attempts) - 1; i >= 0; i-- {
		result = append(result, s.attempts[i].Snapshot())
	}
	return result, nil
}
