package ratelimit

import (
	"context"
	"sync"

	"github.com/jellydator/ttlcache/v3"
)

type window struct {
	hits int
}

// MemoryLimiter counts hits in process memory. Counters expire with their window.
type MemoryLimiter struct {
	policy Policy
	mu     sync.Mutex
	cache  *ttlcache.Cache[string, *window]
}

// NewMemoryLimiter creates a MemoryLimiter. Call Stop to release the cleanup goroutine.
func NewMemoryLimiter(p Policy) *MemoryLimiter {
	cache := ttlcache.New(
		ttlcache.WithTTL[string, *window](p.Window),
		ttlcache.WithDisableTouchOnHit[string, *window](),
	)
	go cache.Start()

	return &MemoryLimiter{policy: p, cache: cache}
}

// Allow implements Limiter.
func (l *MemoryLimiter) Allow(_ context.Context, key string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	item := l.cache.Get(key)
	if item == nil || item.IsExpired() {
		l.cache.Set(key, &window{hits: 1}, ttlcache.DefaultTTL)
		return true, nil
	}

	w := item.Value()
	w.hits++
	return w.hits <= l.policy.Limit, nil
}

// Stop halts the expiry goroutine.
func (l *MemoryLimiter) Stop() {
	l.cache.Stop()
}
