package billing_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/saasbilling/pkg/billing"
)

func TestKeyedMutex(t *testing.T) {
	t.Parallel()

	t.Run("serializes one key", func(t *testing.T) {
		t.Parallel()
		m := billing.NewKeyedMutex()

		var (
			wg      sync.WaitGroup
			mu      sync.Mutex
			active  int
			maxSeen int
		)
		for range 10 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				unlock, err := m.Lock(context.Background(), "user:u1")
				if !assert.NoError(t, err) {
					return
				}
				defer unlock()

				mu.Lock()
				active++
				maxSeen = max(maxSeen, active)
				mu.Unlock()

				time.Sleep(time.Millisecond)

				mu.Lock()
				active--
				mu.Unlock()
			}()
		}
		wg.Wait()
		assert.Equal(t, 1, maxSeen)
	})

	t.Run("different keys do not block", func(t *testing.T) {
		t.Parallel()
		m := billing.NewKeyedMutex()

		unlockA, err := m.Lock(context.Background(), "a")
		require.NoError(t, err)
		defer unlockA()

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		unlockB, err := m.Lock(ctx, "b")
		require.NoError(t, err)
		unlockB()
	})

	t.Run("honours context", func(t *testing.T) {
		t.Parallel()
		m := billing.NewKeyedMutex()

		unlock, err := m.Lock(context.Background(), "k")
		require.NoError(t, err)

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		_, err = m.Lock(ctx, "k")
		assert.ErrorIs(t, err, billing.ErrLockUnavailable)
		assert.ErrorIs(t, err, context.DeadlineExceeded)

		// Unlocking twice is harmless and frees the key.
		unlock()
		unlock()
		again, err := m.Lock(context.Background(), "k")
		require.NoError(t, err)
		again()
	})
}
