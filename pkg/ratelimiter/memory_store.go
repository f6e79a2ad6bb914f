package ratelimiter

import (
	"context"
	"sync"
	"time"
)

type bucket struct {
	tokens     int
	lastRefill time.Time
	lastAccess time.Time
}

// MemoryStore keeps buckets in process memory.
type MemoryStore struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	now     func() time.Time
	ttl     time.Duration
}

type MemoryStoreOption func(*MemoryStore)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) MemoryStoreOption {
	return func(ms *MemoryStore) { ms.now = now }
}

// WithStaleAfter sets how long an unused bucket is kept by Cleanup.
func WithStaleAfter(d time.Duration) MemoryStoreOption {
	return func(ms *MemoryStore) { ms.ttl = d }
}

func NewMemoryStore(opts ...MemoryStoreOption) *MemoryStore {
	ms := &MemoryStore{
		buckets: make(map[string]*bucket),
		now:     time.Now,
		ttl:     time.Hour,
	}
	for _, opt := range opts {
		opt(ms)
	}
	return ms
}

func (ms *MemoryStore) ConsumeTokens(_ context.Context, key string, tokens int, config Config) (int, time.Time, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	now := ms.now()
	b, ok := ms.buckets[key]
	if !ok {
		b = &bucket{tokens: config.Capacity, lastRefill: now}
		ms.buckets[key] = b
	}

	count, last := refill(b.tokens, b.lastRefill.UnixNano(), now.UnixNano(), config)
	b.tokens, b.lastRefill = count, time.Unix(0, last)
	b.lastAccess = now

	if b.tokens < tokens {
		return b.tokens - tokens, b.lastRefill.Add(config.RefillInterval), nil
	}
	b.tokens -= tokens
	return b.tokens, b.lastRefill.Add(config.RefillInterval), nil
}

func (ms *MemoryStore) Reset(_ context.Context, key string) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	delete(ms.buckets, key)
	return nil
}

// Cleanup drops stale buckets every interval until ctx is done.
func (ms *MemoryStore) Cleanup(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ms.removeStale()
		}
	}
}

func (ms *MemoryStore) removeStale() {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	now := ms.now()
	for key, b := range ms.buckets {
		if now.Sub(b.lastAccess) > ms.ttl {
			delete(ms.buckets, key)
		}
	}
}
