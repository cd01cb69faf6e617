package remote

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"
)

// Limits bound how hard a migration may lean on the remote service.
type Limits struct {
	// RatePerSec paces writes; zero disables pacing.
	RatePerSec float64
	Burst      int
	// Timeout bounds each call; zero leaves the caller's deadline alone.
	Timeout time.Duration
}

// Limited wraps a Store with write pacing and per-call timeouts.
type Limited struct {
	store   Store
	limiter *rate.Limiter
	timeout time.Duration
}

// WithLimits wraps store. With zero Limits the wrapper only forwards.
func WithLimits(store Store, l Limits) *Limited {
	ls := &Limited{store: store, timeout: l.Timeout}
	if l.RatePerSec > 0 {
		burst := l.Burst
		if burst < 1 {
			burst = 1
		}
		ls.limiter = rate.NewLimiter(rate.Limit(l.RatePerSec), burst)
	}
	return ls
}

func (l *Limited) GetAccountRecord(ctx context.Context, accountID, key string) ([]byte, bool, error) {
	ctx, cancel := l.bound(ctx)
	defer cancel()
	return l.store.GetAccountRecord(ctx, accountID, key)
}

// PutAccountRecord waits for a write slot, then stores the record. Time spent
// waiting does not count against the call timeout.
func (l *Limited) PutAccountRecord(ctx context.Context, accountID, key string, value []byte) error {
	if l.limiter != nil {
		if err := l.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("waiting for write slot: %w", err)
		}
	}
	ctx, cancel := l.bound(ctx)
	defer cancel()
	return l.store.PutAccountRecord(ctx, accountID, key, value)
}

func (l *Limited) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if l.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, l.timeout)
}
