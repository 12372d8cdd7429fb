package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	limiter "github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"
)

// MemoryLimiter is a process-local fixed window limiter used when Redis is not configured.
type MemoryLimiter struct {
	store limiter.Store

	mu       sync.Mutex
	limiters map[limiter.Rate]*limiter.Limiter
}

// NewMemoryLimiter returns a limiter backed by an in-memory store.
func NewMemoryLimiter() *MemoryLimiter {
	return &MemoryLimiter{
		store:    memory.NewStore(),
		limiters: make(map[limiter.Rate]*limiter.Limiter),
	}
}

// Allow counts an event for key against limit events per window.
func (m *MemoryLimiter) Allow(ctx context.Context, key string, window time.Duration, limit int) (bool, int, time.Time, error) {
	if m == nil || limit <= 0 || window <= 0 {
		return true, limit, time.Now().Add(window), nil
	}
	rate := limiter.Rate{Period: window, Limit: int64(limit)}
	lctx, err := m.limiterFor(rate).Get(ctx, fmt.Sprintf("%d:%d:%s", limit, window, key))
	if err != nil {
		return false, 0, time.Now().Add(window), err
	}
	return !lctx.Reached, int(lctx.Remaining), time.Unix(lctx.Reset, 0), nil
}

func (m *MemoryLimiter) limiterFor(rate limiter.Rate) *limiter.Limiter {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.limiters[rate]
	if !ok {
		l = limiter.New(m.store, rate)
		m.limiters[rate] = l
	}
	return l
}
