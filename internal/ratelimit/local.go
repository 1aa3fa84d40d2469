package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/time/rate"
)

var _ RateLimiter = (*LocalLimiter)(nil)

// LocalLimiter is an in-process token bucket per bucket name. It only bounds
// a single worker process; use the Redis limiter when several workers share
// one mail account.
type LocalLimiter struct {
	mu       sync.Mutex
	perSec   rate.Limit
	burst    int
	limiters map[string]*rate.Limiter
}

func NewLocalLimiter(limitPerSec int) *LocalLimiter {
	if limitPerSec <= 0 {
		limitPerSec = 10
	}
	return &LocalLimiter{
		perSec:   rate.Limit(limitPerSec),
		burst:    limitPerSec,
		limiters: make(map[string]*rate.Limiter),
	}
}

func (l *LocalLimiter) Allow(_ context.Context, bucket string) (bool, error) {
	lim, err := l.limiter(bucket)
	if err != nil {
		return false, err
	}
	return lim.Allow(), nil
}

func (l *LocalLimiter) Wait(ctx context.Context, bucket string) error {
	lim, err := l.limiter(bucket)
	if err != nil {
		return err
	}
	return lim.Wait(ctx)
}

func (l *LocalLimiter) limiter(bucket string) (*rate.Limiter, error) {
	key := strings.ToLower(strings.TrimSpace(bucket))
	if key == "" {
		return nil, fmt.Errorf("bucket is required")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	lim, ok := l.limiters[key]
	if !ok {
		lim = rate.NewLimiter(l.perSec, l.burst)
		l.limiters[key] = lim
	}
	return lim, nil
}
