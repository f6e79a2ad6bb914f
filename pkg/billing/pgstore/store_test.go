package pgstore_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/saasbilling/pkg/billing"
	"github.com/dmitrymomot/saasbilling/pkg/billing/pgstore"
	"github.com/dmitrymomot/saasbilling/pkg/pg"
)

// setupPool connects to PG_TEST_URL and resets the billing tables. Tests are skipped without it.
func setupPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	url := os.Getenv("PG_TEST_URL")
	if url == "" {
		t.Skip("PG_TEST_URL is not set")
	}

	ctx := context.Background()
	cfg := pg.Config{
		ConnectionString: url,
		MaxOpenConns:     5,
		RetryAttempts:    1,
		MigrationsTable:  "billing_schema_migrations",
	}
	pool, err := pg.Connect(ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	require.NoError(t, pg.Migrate(ctx, pool, cfg, pgstore.Migrations(), log))

	_, err = pool.Exec(ctx, `TRUNCATE billing_subscriptions, billing_credit_ledger, billing_payments,
		billing_customers, billing_processed_events`)
	require.NoError(t, err)
	return pool
}

func TestStore(t *testing.T) {
	pool := setupPool(t)
	store := pgstore.New(pool)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	t.Run("subscriptions", func(t *testing.T) {
		_, err := store.Subscriptions().Get(ctx, "u1")
		assert.ErrorIs(t, err, billing.ErrSubscriptionNotFound)

		sub := billing.Subscription{
			UserID:          "u1",
			PlanID:          "plan-pro",
			SubscriptionRef: "sub_1",
			Status:          billing.StatusActive,
			PeriodStart:     now,
			PeriodEnd:       now.AddDate(0, 1, 0),
			UpdatedAt:       now,
		}
		require.NoError(t, store.Subscriptions().Save(ctx, sub))
		sub.Status = billing.StatusPastDue
		require.NoError(t, store.Subscriptions().Save(ctx, sub))

		got, err := store.Subscriptions().Get(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, billing.StatusPastDue, got.Status)
		assert.True(t, got.PeriodEnd.Equal(sub.PeriodEnd))
	})

	t.Run("ledger", func(t *testing.T) {
		entry := billing.LedgerEntry{ID: "01HX", UserID: "u1", Delta: 100, Reason: billing.ReasonPurchase, IdempotencyKey: "evt_1", CreatedAt: now}
		require.NoError(t, store.Ledger().Insert(ctx, entry))

		entry.ID = "01HY"
		assert.ErrorIs(t, store.Ledger().Insert(ctx, entry), billing.ErrDuplicate)

		ok, err := store.Ledger().HasKey(ctx, "evt_1")
		require.NoError(t, err)
		assert.True(t, ok)

		balance, err := store.Ledger().Balance(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, int64(100), balance)

		entries, err := store.Ledger().List(ctx, "u1", 0)
		require.NoError(t, err)
		assert.Len(t, entries, 1)
	})

	t.Run("customers", func(t *testing.T) {
		require.NoError(t, store.Customers().Put(ctx, "u1", "cus_1"))
		assert.ErrorIs(t, store.Customers().Put(ctx, "u1", "cus_2"), billing.ErrDuplicate)

		userID, err := store.Customers().UserByCustomer(ctx, "cus_1")
		require.NoError(t, err)
		assert.Equal(t, "u1", userID)
	})

	t.Run("atomic rolls back", func(t *testing.T) {
		boom := errors.New("boom")
		err := store.Atomic(ctx, func(ctx context.Context, tx billing.Repositories) error {
			require.NoError(t, tx.Events().Claim(ctx, "evt_rb", billing.EventCheckoutCompleted, now))
			return boom
		})
		assert.ErrorIs(t, err, boom)

		err = store.Atomic(ctx, func(ctx context.Context, tx billing.Repositories) error {
			return tx.Events().Claim(ctx, "evt_rb", billing.EventCheckoutCompleted, now)
		})
		require.NoError(t, err)

		err = store.Atomic(ctx, func(ctx context.Context, tx billing.Repositories) error {
			return tx.Events().Claim(ctx, "evt_rb", billing.EventCheckoutCompleted, now)
		})
		assert.ErrorIs(t, err, billing.ErrDuplicate)
	})
}

func TestReconcilerOnPostgres(t *testing.T) {
	pool := setupPool(t)
	store := pgstore.New(pool)
	catalog, err := billing.NewCatalog(billing.DefaultPlans(), billing.DefaultPacks()...)
	require.NoError(t, err)
	users := billing.NewMemoryDirectory(billing.User{ID: "u1", Email: "u1@example.com"})

	dev, err := billing.NewDevProvider("http://localhost", "whsec_pg", catalog)
	require.NoError(t, err)
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	checkout := billing.NewCheckout(store, catalog, users, dev, billing.WithLogger(log))
	reconciler := billing.NewReconciler(dev, store, catalog, users, billing.WithLogger(log))
	ctx := context.Background()

	sess, err := checkout.CreateCreditsSession(ctx, billing.CreditsCheckoutParams{UserID: "u1", PackID: "credits-1000"})
	require.NoError(t, err)
	deliveries, err := dev.Complete(sess.SessionRef)
	require.NoError(t, err)

	for _, want := range []billing.Outcome{billing.OutcomeApplied, billing.OutcomeDuplicate} {
		outcome, err := reconciler.HandleWebhook(ctx, deliveries[0].Payload, deliveries[0].Header)
		require.NoError(t, err)
		assert.Equal(t, want, outcome)
	}

	balance, err := store.Ledger().Balance(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(1000), balance)

	records, err := store.Payments().List(ctx, "u1", 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, billing.PaymentCompleted, records[0].Status)
}
