package billing_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/saasbilling/pkg/billing"
)

func newCheckout(t *testing.T, provider billing.CheckoutProvider) (*billing.Checkout, *billing.MemoryStore) {
	t.Helper()
	store := billing.NewMemoryStore()
	return billing.NewCheckout(store, testCatalog(t), testUsers(), provider, billing.WithLogger(discardLogger())), store
}

func TestCheckout_CreateSession(t *testing.T) {
	t.Parallel()

	t.Run("creates customer once and tags the session", func(t *testing.T) {
		t.Parallel()

		provider := &mockProvider{}
		provider.On("CreateCustomer", mock.Anything, billing.CustomerRequest{UserID: "u1", Email: "u1@example.com"}).
			Return("cus_1", nil).Once()
		provider.On("CreateCheckoutSession", mock.Anything, mock.MatchedBy(func(req billing.CheckoutRequest) bool {
			return req.Mode == billing.ModeSubscription &&
				req.CustomerRef == "cus_1" &&
				req.PriceID == "price_pro_monthly" &&
				req.Metadata[billing.MetaUserID] == "u1" &&
				req.Metadata[billing.MetaPlanID] == "plan-pro"
		})).Return(&billing.CheckoutSession{ID: "cs_1", URL: "https://pay.example.com/cs_1"}, nil).Twice()

		checkout, store := newCheckout(t, provider)
		ctx := context.Background()
		params := billing.CheckoutParams{UserID: "u1", PlanID: "plan-pro", SuccessURL: "https://app/ok", CancelURL: "https://app/cancel"}

		sess, err := checkout.CreateSession(ctx, params)
		require.NoError(t, err)
		assert.Equal(t, "cs_1", sess.SessionRef)
		assert.Equal(t, "https://pay.example.com/cs_1", sess.RedirectURL)

		_, err = checkout.CreateSession(ctx, params)
		require.NoError(t, err)

		ref, err := store.Customers().Get(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, "cus_1", ref)

		// No billing state changes before the webhook arrives.
		_, err = store.Subscriptions().Get(ctx, "u1")
		assert.ErrorIs(t, err, billing.ErrSubscriptionNotFound)
		balance, err := store.Ledger().Balance(ctx, "u1")
		require.NoError(t, err)
		assert.Zero(t, balance)

		provider.AssertExpectations(t)
	})

	t.Run("invalid requests never reach the provider", func(t *testing.T) {
		t.Parallel()

		provider := &mockProvider{}
		checkout, _ := newCheckout(t, provider)
		ctx := context.Background()

		_, err := checkout.CreateSession(ctx, billing.CheckoutParams{UserID: "u1"})
		assert.ErrorIs(t, err, billing.ErrInvalidRequest)

		_, err = checkout.CreateSession(ctx, billing.CheckoutParams{UserID: "u1", PlanID: "plan-gold"})
		assert.ErrorIs(t, err, billing.ErrUnknownPlan)
		assert.ErrorIs(t, err, billing.ErrInvalidRequest)

		_, err = checkout.CreateSession(ctx, billing.CheckoutParams{UserID: "u1", PlanID: "plan-free"})
		assert.ErrorIs(t, err, billing.ErrFreePlanCheckout)
		assert.ErrorIs(t, err, billing.ErrInvalidRequest)

		_, err = checkout.CreateSession(ctx, billing.CheckoutParams{UserID: "ghost", PlanID: "plan-pro"})
		assert.ErrorIs(t, err, billing.ErrUnknownUser)
		assert.ErrorIs(t, err, billing.ErrInvalidRequest)

		provider.AssertNotCalled(t, "CreateCustomer", mock.Anything, mock.Anything)
		provider.AssertNotCalled(t, "CreateCheckoutSession", mock.Anything, mock.Anything)
	})

	t.Run("provider failures are surfaced", func(t *testing.T) {
		t.Parallel()

		provider := &mockProvider{}
		provider.On("CreateCustomer", mock.Anything, mock.Anything).Return("cus_1", nil)
		provider.On("CreateCheckoutSession", mock.Anything, mock.Anything).
			Return(nil, errors.Join(billing.ErrProviderUnavailable, errors.New("503"))).Once()

		checkout, store := newCheckout(t, provider)
		_, err := checkout.CreateSession(context.Background(), billing.CheckoutParams{UserID: "u1", PlanID: "plan-starter"})
		assert.ErrorIs(t, err, billing.ErrProviderUnavailable)

		// The customer mapping survives for the retry.
		ref, err := store.Customers().Get(context.Background(), "u1")
		require.NoError(t, err)
		assert.Equal(t, "cus_1", ref)
	})

	t.Run("customer creation failure", func(t *testing.T) {
		t.Parallel()

		provider := &mockProvider{}
		provider.On("CreateCustomer", mock.Anything, mock.Anything).
			Return("", errors.Join(billing.ErrProviderRejected, errors.New("invalid email")))

		checkout, store := newCheckout(t, provider)
		_, err := checkout.CreateSession(context.Background(), billing.CheckoutParams{UserID: "u1", PlanID: "plan-pro"})
		assert.ErrorIs(t, err, billing.ErrProviderRejected)

		_, err = store.Customers().Get(context.Background(), "u1")
		assert.ErrorIs(t, err, billing.ErrCustomerNotFound)
		provider.AssertNotCalled(t, "CreateCheckoutSession", mock.Anything, mock.Anything)
	})
}

func TestCheckout_ConcurrentSessionsShareOneCustomer(t *testing.T) {
	t.Parallel()

	provider := &mockProvider{}
	provider.On("CreateCustomer", mock.Anything, mock.Anything).
		After(10*time.Millisecond).Return("cus_1", nil).Once()
	provider.On("CreateCheckoutSession", mock.Anything, mock.Anything).
		Return(&billing.CheckoutSession{ID: "cs", URL: "https://pay.example.com/cs"}, nil)

	checkout, _ := newCheckout(t, provider)

	var wg sync.WaitGroup
	errs := make(chan error, 5)
	for range 5 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := checkout.CreateSession(context.Background(), billing.CheckoutParams{UserID: "u1", PlanID: "plan-pro"})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
	provider.AssertNumberOfCalls(t, "CreateCustomer", 1)
}

func TestCheckout_CreateCreditsSession(t *testing.T) {
	t.Parallel()

	provider := &mockProvider{}
	provider.On("CreateCustomer", mock.Anything, mock.Anything).Return("cus_2", nil)
	provider.On("CreateCheckoutSession", mock.Anything, mock.MatchedBy(func(req billing.CheckoutRequest) bool {
		return req.Mode == billing.ModePayment &&
			req.PriceID == "price_credits_1000" &&
			req.Metadata[billing.MetaPackID] == "credits-1000" &&
			req.Metadata[billing.MetaCredits] == "1000"
	})).Return(&billing.CheckoutSession{ID: "cs_2", URL: "https://pay.example.com/cs_2"}, nil)

	checkout, _ := newCheckout(t, provider)

	sess, err := checkout.CreateCreditsSession(context.Background(), billing.CreditsCheckoutParams{UserID: "u2", PackID: "credits-1000"})
	require.NoError(t, err)
	assert.Equal(t, "cs_2", sess.SessionRef)

	_, err = checkout.CreateCreditsSession(context.Background(), billing.CreditsCheckoutParams{UserID: "u2", PackID: "credits-9"})
	assert.ErrorIs(t, err, billing.ErrUnknownPack)
	provider.AssertExpectations(t)
}

func TestCheckout_PortalLink(t *testing.T) {
	t.Parallel()

	provider := &mockProvider{}
	provider.On("CreatePortalSession", mock.Anything, "cus_1", "https://app/billing").
		Return(&billing.PortalLink{URL: "https://portal.example.com/x"}, nil)

	checkout, store := newCheckout(t, provider)
	ctx := context.Background()

	_, err := checkout.PortalLink(ctx, "u1", "https://app/billing")
	assert.ErrorIs(t, err, billing.ErrPortalUnavailable)

	require.NoError(t, store.Customers().Put(ctx, "u1", "cus_1"))
	link, err := checkout.PortalLink(ctx, "u1", "https://app/billing")
	require.NoError(t, err)
	assert.Equal(t, "https://portal.example.com/x", link.URL)
}
