package redis_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/saasbilling/pkg/billing"
	"github.com/dmitrymomot/saasbilling/pkg/redis"
)

func TestLocker(t *testing.T) {
	url := os.Getenv("REDIS_TEST_URL")
	if url == "" {
		t.Skip("REDIS_TEST_URL is not set")
	}

	cfg := redis.Config{
		ConnectionURL:    url,
		RetryAttempts:    1,
		ConnectTimeout:   5 * time.Second,
		LockPrefix:       "test:lock:" + t.Name() + ":",
		LockTTL:          2 * time.Second,
		LockPollInterval: 10 * time.Millisecond,
	}
	client, err := redis.Connect(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	locker := redis.NewLocker(client, cfg, nil)

	unlock, err := locker.Lock(context.Background(), "user:u1")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err = locker.Lock(ctx, "user:u1")
	assert.ErrorIs(t, err, billing.ErrLockUnavailable)

	other, err := locker.Lock(context.Background(), "user:u2")
	require.NoError(t, err)
	other()

	unlock()
	unlock()

	again, err := locker.Lock(context.Background(), "user:u1")
	require.NoError(t, err)
	again()

	require.NoError(t, redis.Healthcheck(client)(context.Background()))
}
