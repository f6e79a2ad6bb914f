package billing_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/saasbilling/pkg/billing"
	"github.com/dmitrymomot/saasbilling/pkg/webhook"
)

const testWebhookSecret = "whsec_test_secret"

type mockProvider struct {
	mock.Mock
}

func (m *mockProvider) CreateCustomer(ctx context.Context, req billing.CustomerRequest) (string, error) {
	args := m.Called(ctx, req)
	return args.String(0), args.Error(1)
}

func (m *mockProvider) CreateCheckoutSession(ctx context.Context, req billing.CheckoutRequest) (*billing.CheckoutSession, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*billing.CheckoutSession), args.Error(1)
}

func (m *mockProvider) CreatePortalSession(ctx context.Context, customerRef, returnURL string) (*billing.PortalLink, error) {
	args := m.Called(ctx, customerRef, returnURL)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*billing.PortalLink), args.Error(1)
}

type mockNotifier struct {
	mock.Mock
}

func (m *mockNotifier) PaymentCompleted(ctx context.Context, user billing.User, payment billing.PaymentRecord) error {
	return m.Called(ctx, user, payment).Error(0)
}

type mockArchiver struct {
	mock.Mock
}

func (m *mockArchiver) Archive(ctx context.Context, provider, eventID string, payload []byte) error {
	return m.Called(ctx, provider, eventID, payload).Error(0)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testCatalog(t *testing.T) *billing.Catalog {
	t.Helper()
	catalog, err := billing.NewCatalog(billing.DefaultPlans(), billing.DefaultPacks()...)
	require.NoError(t, err)
	return catalog
}

func testUsers() *billing.MemoryDirectory {
	return billing.NewMemoryDirectory(
		billing.User{ID: "u1", Email: "u1@example.com"},
		billing.User{ID: "u2", Email: "u2@example.com"},
	)
}

// fixture wires every billing service around one in-memory store.
type fixture struct {
	store      *billing.MemoryStore
	catalog    *billing.Catalog
	users      *billing.MemoryDirectory
	subs       *billing.Subscriptions
	ledger     *billing.Ledger
	payments   *billing.Payments
	parser     *billing.EnvelopeParser
	reconciler *billing.Reconciler
}

func newFixture(t *testing.T, opts ...billing.Option) *fixture {
	t.Helper()
	return newFixtureWithStore(t, billing.NewMemoryStore(), opts...)
}

func newFixtureWithStore(t *testing.T, store *billing.MemoryStore, opts ...billing.Option) *fixture {
	t.Helper()
	catalog := testCatalog(t)
	users := testUsers()
	parser, err := billing.NewEnvelopeParser(testWebhookSecret, 0)
	require.NoError(t, err)

	opts = append([]billing.Option{billing.WithLogger(discardLogger()), billing.WithLocker(billing.NewKeyedMutex())}, opts...)
	return &fixture{
		store:      store,
		catalog:    catalog,
		users:      users,
		subs:       billing.NewSubscriptions(store, catalog, users, opts...),
		ledger:     billing.NewLedger(store, users, opts...),
		payments:   billing.NewPayments(store),
		parser:     parser,
		reconciler: billing.NewReconciler(parser, store, catalog, users, opts...),
	}
}

// deliver signs the envelope like the dev provider does and hands it to the reconciler.
func (f *fixture) deliver(t *testing.T, env billing.Envelope) (billing.Outcome, error) {
	t.Helper()
	payload, header := signEnvelope(t, env)
	return f.reconciler.HandleWebhook(context.Background(), payload, header)
}

func signEnvelope(t *testing.T, env billing.Envelope) ([]byte, http.Header) {
	t.Helper()
	payload, err := json.Marshal(env)
	require.NoError(t, err)
	sig, err := webhook.Sign(testWebhookSecret, payload, time.Now())
	require.NoError(t, err)
	return payload, sig.HTTPHeader()
}

func creditsCompleted(eventID, userID string, credits string) billing.Envelope {
	return billing.Envelope{
		ID:        eventID,
		Type:      "checkout.session.completed",
		CreatedAt: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		Metadata:  map[string]string{billing.MetaUserID: userID, billing.MetaCredits: credits},
		Data: billing.EnvelopeData{
			SessionID:     "cs_" + eventID,
			Amount:        1999,
			Currency:      "usd",
			PaymentStatus: "paid",
		},
	}
}

func subscriptionEvent(eventID, eventType, userID, subID, priceID, status string, start time.Time) billing.Envelope {
	return billing.Envelope{
		ID:        eventID,
		Type:      eventType,
		CreatedAt: start,
		Metadata:  map[string]string{billing.MetaUserID: userID},
		Data: billing.EnvelopeData{
			CustomerID:     "cus_" + userID,
			SubscriptionID: subID,
			PriceID:        priceID,
			Status:         status,
			PeriodStart:    start,
			PeriodEnd:      start.AddDate(0, 1, 0),
		},
	}
}
