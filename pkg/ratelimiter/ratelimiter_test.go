package ratelimiter_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/saasbilling/pkg/ratelimiter"
)

type clock struct{ now time.Time }

func (c *clock) Now() time.Time { return c.now }

func newBucket(t *testing.T, c *clock) (*ratelimiter.Bucket, *ratelimiter.MemoryStore) {
	t.Helper()
	store := ratelimiter.NewMemoryStore(ratelimiter.WithClock(c.Now), ratelimiter.WithStaleAfter(time.Minute))
	b, err := ratelimiter.NewBucket(store, ratelimiter.Config{Capacity: 2, RefillRate: 1, RefillInterval: 10 * time.Second})
	require.NoError(t, err)
	return b, store
}

func TestBucket(t *testing.T) {
	c := &clock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	b, _ := newBucket(t, c)
	ctx := context.Background()

	for _, want := range []int{1, 0, -1, -1} {
		res, err := b.Allow(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, want, res.Remaining)
	}

	res, err := b.Allow(ctx, "u2")
	require.NoError(t, err)
	assert.True(t, res.Allowed(), "keys are independent")

	c.now = c.now.Add(10 * time.Second)
	res, err = b.Allow(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 0, res.Remaining)

	c.now = c.now.Add(time.Hour)
	res, err = b.AllowN(ctx, "u1", 2)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Remaining, "refill is capped at capacity")

	require.NoError(t, b.Reset(ctx, "u1"))
	res, err = b.Allow(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Remaining)

	_, err = b.AllowN(ctx, "u1", 0)
	assert.ErrorIs(t, err, ratelimiter.ErrInvalidTokenCount)
}

func TestNewBucket_InvalidConfig(t *testing.T) {
	for name, cfg := range map[string]ratelimiter.Config{
		"capacity": {Capacity: 0, RefillRate: 1, RefillInterval: time.Second},
		"rate":     {Capacity: 1, RefillRate: 0, RefillInterval: time.Second},
		"interval": {Capacity: 1, RefillRate: 1},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := ratelimiter.NewBucket(ratelimiter.NewMemoryStore(), cfg)
			assert.ErrorIs(t, err, ratelimiter.ErrInvalidConfig)
		})
	}
}

func TestResult_RetryAfter(t *testing.T) {
	now := time.Now()
	denied := &ratelimiter.Result{Remaining: -1, ResetAt: now.Add(5 * time.Second)}
	assert.Equal(t, 5*time.Second, denied.RetryAfter(now))
	assert.Zero(t, (&ratelimiter.Result{Remaining: 0, ResetAt: now.Add(time.Second)}).RetryAfter(now))
}

func TestMiddleware(t *testing.T) {
	c := &clock{now: time.Now()}
	b, _ := newBucket(t, c)
	handler := ratelimiter.Middleware(b, ratelimiter.RemoteIP, nil)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	call := func(addr string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/checkout-session", nil)
		req.RemoteAddr = addr
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusNoContent, call("10.0.0.1:1234").Code)
	rec := call("10.0.0.1:5678")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "2", rec.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))

	rec = call("10.0.0.1:9999")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))

	assert.Equal(t, http.StatusNoContent, call("[::1]:80").Code)
}

func TestComposite(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.1:443"
	user := func(*http.Request) string { return "user:u1" }
	empty := func(*http.Request) string { return "" }

	assert.Equal(t, "user:u1:ip:192.0.2.1", ratelimiter.Composite(user, empty, ratelimiter.RemoteIP)(req))
	assert.Empty(t, ratelimiter.Composite(empty)(req))

	long := func(*http.Request) string { return string(make([]byte, 100)) }
	assert.LessOrEqual(t, len(ratelimiter.Composite(long)(req)), 13)
}

func TestMemoryStore_Cleanup(t *testing.T) {
	c := &clock{now: time.Now()}
	b, store := newBucket(t, c)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, err := b.AllowN(ctx, "u1", 2)
	require.NoError(t, err)

	c.now = c.now.Add(2 * time.Minute)
	done := make(chan struct{})
	go func() {
		store.Cleanup(ctx, time.Millisecond)
		close(done)
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()
	<-done

	c.now = c.now.Add(-2 * time.Minute)
	res, err := b.Allow(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Remaining, "stale bucket was dropped")
}
