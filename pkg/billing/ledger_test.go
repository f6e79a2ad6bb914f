package billing_test

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/saasbilling/pkg/billing"
)

func TestLedger_Append(t *testing.T) {
	t.Parallel()

	t.Run("balance is the sum of distinct keys", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		ctx := context.Background()

		balance, err := f.ledger.Balance(ctx, "u1")
		require.NoError(t, err)
		assert.Zero(t, balance)

		for i, delta := range []int64{100, 250, -50} {
			reason := billing.ReasonPurchase
			if delta < 0 {
				reason = billing.ReasonUsage
			}
			_, err := f.ledger.Append(ctx, "u1", delta, reason, fmt.Sprintf("k%d", i))
			require.NoError(t, err)
		}

		balance, err = f.ledger.Balance(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, int64(300), balance)
	})

	t.Run("replayed key is a no-op", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		ctx := context.Background()

		entry, err := f.ledger.Append(ctx, "u1", 100, billing.ReasonPurchase, "evt_1")
		require.NoError(t, err)
		assert.NotEmpty(t, entry.ID)

		_, err = f.ledger.Append(ctx, "u1", 100, billing.ReasonPurchase, "evt_1")
		assert.ErrorIs(t, err, billing.ErrDuplicate)

		balance, err := f.ledger.Balance(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, int64(100), balance)
	})

	t.Run("debit beyond balance is rejected", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		ctx := context.Background()

		_, err := f.ledger.Append(ctx, "u1", 50, billing.ReasonPurchase, "grant")
		require.NoError(t, err)

		_, err = f.ledger.Consume(ctx, "u1", 100, "use-1")
		assert.ErrorIs(t, err, billing.ErrInsufficientCredits)

		balance, err := f.ledger.Balance(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, int64(50), balance)

		// The rejected key stays usable.
		_, err = f.ledger.Consume(ctx, "u1", 50, "use-1")
		require.NoError(t, err)
	})

	t.Run("replayed debit reports duplicate even when the balance is low", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		ctx := context.Background()

		_, err := f.ledger.Append(ctx, "u1", 10, billing.ReasonPurchase, "grant")
		require.NoError(t, err)
		_, err = f.ledger.Consume(ctx, "u1", 10, "use-1")
		require.NoError(t, err)

		_, err = f.ledger.Consume(ctx, "u1", 10, "use-1")
		assert.ErrorIs(t, err, billing.ErrDuplicate)
	})

	t.Run("invalid requests", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		ctx := context.Background()

		_, err := f.ledger.Append(ctx, "", 1, billing.ReasonPurchase, "k")
		assert.ErrorIs(t, err, billing.ErrInvalidRequest)
		_, err = f.ledger.Append(ctx, "u1", 1, billing.ReasonPurchase, "")
		assert.ErrorIs(t, err, billing.ErrInvalidRequest)
		_, err = f.ledger.Append(ctx, "u1", 0, billing.ReasonPurchase, "k")
		assert.ErrorIs(t, err, billing.ErrInvalidRequest)
		_, err = f.ledger.Append(ctx, "u1", 1, "gift", "k")
		assert.ErrorIs(t, err, billing.ErrInvalidRequest)
		_, err = f.ledger.Consume(ctx, "u1", -5, "k")
		assert.ErrorIs(t, err, billing.ErrInvalidRequest)
	})

	t.Run("unknown user", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		_, err := f.ledger.Append(context.Background(), "ghost", 10, billing.ReasonAdjustment, "k")
		assert.ErrorIs(t, err, billing.ErrUnknownUser)
	})
}

func TestLedger_ConcurrentDebits(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	_, err := f.ledger.Append(ctx, "u1", 100, billing.ReasonPurchase, "grant")
	require.NoError(t, err)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for i := range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.ledger.Consume(ctx, "u1", 10, fmt.Sprintf("use-%d", i)); err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 10, succeeded)
	balance, err := f.ledger.Balance(ctx, "u1")
	require.NoError(t, err)
	assert.Zero(t, balance)
}

func TestLedger_Entries(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	for i := range 5 {
		_, err := f.ledger.Append(ctx, "u1", int64(i+1), billing.ReasonPurchase, fmt.Sprintf("k%d", i))
		require.NoError(t, err)
	}
	_, err := f.ledger.Append(ctx, "u2", 7, billing.ReasonPurchase, "other")
	require.NoError(t, err)

	entries, err := f.ledger.Entries(ctx, "u1", 3)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "k4", entries[0].IdempotencyKey)
	assert.Equal(t, "k2", entries[2].IdempotencyKey)
	for _, e := range entries {
		assert.Equal(t, "u1", e.UserID)
	}
}
