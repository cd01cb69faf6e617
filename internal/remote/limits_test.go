package remote

import (
	"context"
	"errors"
	"testing"
	"time"
)

type blockingStore struct{}

func (blockingStore) GetAccountRecord(ctx context.Context, _, _ string) ([]byte, bool, error) {
	<-ctx.Done()
	return nil, false, ctx.Err()
}

func (blockingStore) PutAccountRecord(ctx context.Context, _, _ string, _ []byte) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestLimited_Timeout(t *testing.T) {
	l := WithLimits(blockingStore{}, Limits{Timeout: 20 * time.Millisecond})

	_, _, err := l.GetAccountRecord(context.Background(), "acct", "profile")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("get error = %v, want deadline exceeded", err)
	}
	err = l.PutAccountRecord(context.Background(), "acct", "profile", []byte("{}"))
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("put error = %v, want deadline exceeded", err)
	}
}

func TestLimited_PacesWrites(t *testing.T) {
	mem := NewMemoryStore()
	l := WithLimits(mem, Limits{RatePerSec: 20, Burst: 1})

	start := time.Now()
	for i := 0; i < 3; i++ {
		if err := l.PutAccountRecord(context.Background(), "acct", "profile", []byte("{}")); err != nil {
			t.Fatalf("put %d: %v", i, err)
		}
	}
	// One token up front, then two more at 50ms each.
	if elapsed := time.Since(start); elapsed < 80*time.Millisecond {
		t.Errorf("3 writes took %v, want pacing of at least ~100ms", elapsed)
	}
	if _, ok, _ := l.GetAccountRecord(context.Background(), "acct", "profile"); !ok {
		t.Error("record not forwarded to the wrapped store")
	}
}

func TestLimited_WaitHonoursCancel(t *testing.T) {
	l := WithLimits(NewMemoryStore(), Limits{RatePerSec: 0.001, Burst: 1})
	ctx, cancel := context.WithCancel(context.Background())
	if err := l.PutAccountRecord(ctx, "acct", "a", []byte("{}")); err != nil {
		t.Fatalf("first put: %v", err)
	}
	cancel()
	if err := l.PutAccountRecord(ctx, "acct", "b", []byte("{}")); err == nil {
		t.Fatal("expected error after cancel")
	}
}
