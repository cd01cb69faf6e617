package migration

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rflorenc/fitsync/internal/history"
	"github.com/rflorenc/fitsync/internal/keyspace"
	"github.com/rflorenc/fitsync/internal/localstore"
	"github.com/rflorenc/fitsync/internal/models"
	"github.com/rflorenc/fitsync/internal/remote"
)

const acct = "acct-42"

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func encode(t *testing.T, v models.Value, at time.Time) []byte {
	t.Helper()
	raw, err := models.EncodePayload(v, at)
	if err != nil {
		t.Fatalf("encode %s: %v", v.Kind(), err)
	}
	return raw
}

func guestKey(t *testing.T, key string) string {
	t.Helper()
	k, err := keyspace.GuestKey(key)
	if err != nil {
		t.Fatal(err)
	}
	return k
}

func accountKey(t *testing.T, key string) string {
	t.Helper()
	k, err := keyspace.AccountKey(key, acct)
	if err != nil {
		t.Fatal(err)
	}
	return k
}

func seed(t *testing.T, s localstore.Store, storeKey string, raw []byte) {
	t.Helper()
	if err := s.Set(storeKey, raw); err != nil {
		t.Fatalf("seed %s: %v", storeKey, err)
	}
}

func mustGet(t *testing.T, s localstore.Store, storeKey string) ([]byte, bool) {
	t.Helper()
	v, ok, err := s.Get(storeKey)
	if err != nil {
		t.Fatalf("get %s: %v", storeKey, err)
	}
	return v, ok
}

// faultyLocal injects per-key failures into a local store.
type faultyLocal struct {
	*localstore.MemoryStore
	failGet    map[string]error
	failSet    map[string]error
	failDelete map[string]error
	corrupt    map[string]bool // Set stores different bytes
	onDelete   func(key string)
}

func newFaultyLocal() *faultyLocal {
	return &faultyLocal{
		MemoryStore: localstore.NewMemoryStore(),
		failGet:     map[string]error{},
		failSet:     map[string]error{},
		failDelete:  map[string]error{},
		corrupt:     map[string]bool{},
	}
}

func (f *faultyLocal) Get(key string) ([]byte, bool, error) {
	if err := f.failGet[key]; err != nil {
		return nil, false, err
	}
	return f.MemoryStore.Get(key)
}

func (f *faultyLocal) Set(key string, value []byte) error {
	if err := f.failSet[key]; err != nil {
		return err
	}
	if f.corrupt[key] {
		value = append(append([]byte(nil), value...), ' ')
	}
	return f.MemoryStore.Set(key, value)
}

func (f *faultyLocal) Delete(key string) error {
	if f.onDelete != nil {
		f.onDelete(key)
	}
	if err := f.failDelete[key]; err != nil {
		return err
	}
	return f.MemoryStore.Delete(key)
}

// fakeRemote wraps the memory remote with fault injection and call
// recording.
type fakeRemote struct {
	*remote.MemoryStore

	mu      sync.Mutex
	failGet map[string]error
	failPut map[string]error
	puts    []string
	gets    []string

	// getHook and putHook run before every read or write, outside the lock.
	getHook func(ctx context.Context, key string)
	putHook func(ctx context.Context, key string)
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{
		MemoryStore: remote.NewMemoryStore(),
		failGet:     map[string]error{},
		failPut:     map[string]error{},
	}
}

func (f *fakeRemote) GetAccountRecord(ctx context.Context, accountID, key string) ([]byte, bool, error) {
	if f.getHook != nil {
		f.getHook(ctx, key)
	}
	f.mu.Lock()
	f.gets = append(f.gets, key)
	err := f.failGet[key]
	f.mu.Unlock()
	if err != nil {
		return nil, false, err
	}
	return f.MemoryStore.GetAccountRecord(ctx, accountID, key)
}

func (f *fakeRemote) PutAccountRecord(ctx context.Context, accountID, key string, value []byte) error {
	if f.putHook != nil {
		f.putHook(ctx, key)
	}
	f.mu.Lock()
	f.puts = append(f.puts, key)
	err := f.failPut[key]
	f.mu.Unlock()
	if err != nil {
		return err
	}
	return f.MemoryStore.PutAccountRecord(ctx, accountID, key, value)
}

func (f *fakeRemote) putCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.puts)
}

func (f *fakeRemote) setFailPut(key string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.failPut, key)
		return
	}
	f.failPut[key] = err
}

func (f *fakeRemote) seed(t *testing.T, key string, raw []byte) {
	t.Helper()
	if err := f.MemoryStore.PutAccountRecord(context.Background(), acct, key, raw); err != nil {
		t.Fatal(err)
	}
}

func (f *fakeRemote) value(t *testing.T, key string) ([]byte, bool) {
	t.Helper()
	v, ok, err := f.MemoryStore.GetAccountRecord(context.Background(), acct, key)
	if err != nil {
		t.Fatal(err)
	}
	return v, ok
}

type testEnv struct {
	local    localstore.Store
	remote   *fakeRemote
	history  *history.MemoryStore
	resolver *keyspace.Resolver
	mgr      *Manager
}

func newEnv(t *testing.T, local localstore.Store) *testEnv {
	t.Helper()
	if local == nil {
		local = localstore.NewMemoryStore()
	}
	env := &testEnv{
		local:    local,
		remote:   newFakeRemote(),
		history:  history.NewMemoryStore(),
		resolver: keyspace.NewResolver(),
	}
	var n int
	clock := t0
	mgr, err := NewManager(Options{
		Local:    env.local,
		Remote:   env.remote,
		History:  env.history,
		Resolver: env.resolver,
		Now: func() time.Time {
			clock = clock.Add(time.Second)
			return clock
		},
		NewID: func() string {
			n++
			return fmt.Sprintf("attempt-%d", n)
		},
	})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	env.mgr = mgr
	return env
}
