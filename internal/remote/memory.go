package remote

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory thread-safe Store, used by the reference
// backend and in tests.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]map[string][]byte
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]map[string][]byte)}
}

func (s *MemoryStore) GetAccountRecord(ctx context.Context, accountID, key string) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.records[accountID][key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), v...), true, nil
}

func (s *MemoryStore) PutAccountRecord(ctx context.Context, accountID, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	acct, ok := s.records[accountID]
	if !ok {
		acct = make(map[string][]byte)
		s.records[accountID] = acct
	}
	acct[key] = append([]byte(nil), value...)
	return nil
}

// Keys returns the keys stored for an account.
func (s *MemoryStore) Keys(accountID string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.records[accountID]))
	for k := range s.records[accountID] {
		keys = append(keys, k)
	}
	return keys
}
