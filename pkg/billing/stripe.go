package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"github.com/stripe/stripe-go/v76/webhook"
)

// StripeConfig holds Stripe credentials.
type StripeConfig struct {
	SecretKey     string        `env:"STRIPE_SECRET_KEY"`
	WebhookSecret string        `env:"STRIPE_WEBHOOK_SECRET"`
	Tolerance     time.Duration `env:"STRIPE_WEBHOOK_TOLERANCE" envDefault:"5m"`
	// APIBaseURL points the client at stripe-mock or a proxy; empty means api.stripe.com.
	APIBaseURL string `env:"STRIPE_API_BASE_URL"`
}

// StripeProvider implements BillingProvider on top of Stripe Checkout and Billing.
type StripeProvider struct {
	api *client.API
	cfg StripeConfig
}

// NewStripeProvider creates a Stripe provider.
func NewStripeProvider(cfg StripeConfig) (*StripeProvider, error) {
	if cfg.SecretKey == "" {
		return nil, ErrMissingAPIKey
	}
	if cfg.WebhookSecret == "" {
		return nil, ErrMissingWebhookSecret
	}
	if cfg.Tolerance <= 0 {
		cfg.Tolerance = webhook.DefaultTolerance
	}

	var backends *stripe.Backends
	if cfg.APIBaseURL != "" {
		backend := stripe.GetBackendWithConfig(stripe.APIBackend, &stripe.BackendConfig{
			URL: stripe.String(cfg.APIBaseURL),
		})
		backends = &stripe.Backends{API: backend, Connect: backend, Uploads: backend}
	}

	api := &client.API{}
	api.Init(cfg.SecretKey, backends)

	return &StripeProvider{api: api, cfg: cfg}, nil
}

func (p *StripeProvider) Name() string { return "stripe" }

func (p *StripeProvider) CreateCustomer(ctx context.Context, req CustomerRequest) (string, error) {
	params := &stripe.CustomerParams{}
	params.Context = ctx
	if req.Email != "" {
		params.Email = stripe.String(req.Email)
	}
	params.AddMetadata(MetaUserID, req.UserID)
	params.SetIdempotencyKey("customer-" + req.UserID)

	c, err := p.api.Customers.New(params)
	if err != nil {
		return "", classifyStripeError(err)
	}
	return c.ID, nil
}

func (p *StripeProvider) CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error) {
	if req.SuccessURL == "" {
		return nil, fmt.Errorf("%w: success url is required", ErrInvalidRequest)
	}
	params := &stripe.CheckoutSessionParams{
		Customer: stripe.String(req.CustomerRef),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{Price: stripe.String(req.PriceID), Quantity: stripe.Int64(1)},
		},
		SuccessURL:        stripe.String(req.SuccessURL),
		ClientReferenceID: stripe.String(req.Metadata[MetaUserID]),
	}
	if req.CancelURL != "" {
		params.CancelURL = stripe.String(req.CancelURL)
	}
	params.Context = ctx
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}

	switch req.Mode {
	case ModeSubscription:
		params.Mode = stripe.String(string(stripe.CheckoutSessionModeSubscription))
		params.SubscriptionData = &stripe.CheckoutSessionSubscriptionDataParams{Metadata: req.Metadata}
	case ModePayment:
		params.Mode = stripe.String(string(stripe.CheckoutSessionModePayment))
		params.PaymentIntentData = &stripe.CheckoutSessionPaymentIntentDataParams{Metadata: req.Metadata}
	default:
		return nil, fmt.Errorf("%w: checkout mode %q", ErrInvalidRequest, req.Mode)
	}

	s, err := p.api.CheckoutSessions.New(params)
	if err != nil {
		return nil, classifyStripeError(err)
	}
	if s.URL == "" {
		return nil, errors.Join(ErrProviderRejected, ErrNoCheckoutURL)
	}

	sess := &CheckoutSession{ID: s.ID, URL: s.URL}
	if s.ExpiresAt > 0 {
		sess.ExpiresAt = time.Unix(s.ExpiresAt, 0)
	}
	return sess, nil
}

func (p *StripeProvider) CreatePortalSession(ctx context.Context, customerRef, returnURL string) (*PortalLink, error) {
	params := &stripe.BillingPortalSessionParams{
		Customer: stripe.String(customerRef),
	}
	if returnURL != "" {
		params.ReturnURL = stripe.String(returnURL)
	}
	params.Context = ctx

	s, err := p.api.BillingPortalSessions.New(params)
	if err != nil {
		return nil, classifyStripeError(err)
	}
	if s.URL == "" {
		return nil, errors.Join(ErrProviderRejected, ErrNoPortalURL)
	}
	return &PortalLink{URL: s.URL}, nil
}

// ParseWebhook verifies the Stripe-Signature header over the raw payload before decoding it.
func (p *StripeProvider) ParseWebhook(_ context.Context, payload []byte, header http.Header) (*Event, error) {
	evt, err := webhook.ConstructEventWithOptions(payload, header.Get("Stripe-Signature"), p.cfg.WebhookSecret,
		webhook.ConstructEventOptions{
			Tolerance:                p.cfg.Tolerance,
			IgnoreAPIVersionMismatch: true,
		})
	if err != nil {
		if errors.Is(err, webhook.ErrNotSigned) || errors.Is(err, webhook.ErrInvalidHeader) ||
			errors.Is(err, webhook.ErrNoValidSignature) || errors.Is(err, webhook.ErrTooOld) {
			return nil, errors.Join(ErrInvalidSignature, err)
		}
		return nil, errors.Join(ErrMalformedEvent, err)
	}
	return normalizeStripeEvent(evt)
}

func normalizeStripeEvent(evt stripe.Event) (*Event, error) {
	if evt.ID == "" || evt.Data == nil {
		return nil, fmt.Errorf("%w: stripe event without id or data", ErrMalformedEvent)
	}
	event := &Event{
		ID:           evt.ID,
		Kind:         EventUnknown,
		ProviderType: string(evt.Type),
		Provider:     "stripe",
		OccurredAt:   time.Unix(evt.Created, 0),
	}

	switch evt.Type {
	case "customer.subscription.created", "customer.subscription.updated", "customer.subscription.deleted":
		var sub stripe.Subscription
		if err := json.Unmarshal(evt.Data.Raw, &sub); err != nil {
			return nil, errors.Join(ErrMalformedEvent, err)
		}
		event.Kind = EventSubscriptionUpdated
		if evt.Type == "customer.subscription.deleted" {
			event.Kind = EventSubscriptionDeleted
		}
		event.UserID = sub.Metadata[MetaUserID]
		if sub.Customer != nil {
			event.CustomerRef = sub.Customer.ID
		}
		event.Subscription = &SubscriptionData{
			SubscriptionRef:   sub.ID,
			PriceID:           stripeSubscriptionPrice(&sub),
			Status:            ProviderStatus(string(sub.Status)),
			PeriodStart:       time.Unix(sub.CurrentPeriodStart, 0),
			PeriodEnd:         time.Unix(sub.CurrentPeriodEnd, 0),
			CancelAtPeriodEnd: sub.CancelAtPeriodEnd,
		}

	case "checkout.session.completed", "checkout.session.async_payment_succeeded", "checkout.session.async_payment_failed":
		var s stripe.CheckoutSession
		if err := json.Unmarshal(evt.Data.Raw, &s); err != nil {
			return nil, errors.Join(ErrMalformedEvent, err)
		}
		switch evt.Type {
		case "checkout.session.async_payment_succeeded":
			event.Kind = EventCheckoutAsyncSucceeded
		case "checkout.session.async_payment_failed":
			event.Kind = EventCheckoutAsyncFailed
		default:
			event.Kind = EventCheckoutCompleted
		}
		event.UserID = s.Metadata[MetaUserID]
		if event.UserID == "" {
			event.UserID = s.ClientReferenceID
		}
		if s.Customer != nil {
			event.CustomerRef = s.Customer.ID
		}
		data := &CheckoutData{
			SessionRef: s.ID,
			Amount:     Money{Amount: s.AmountTotal, Currency: strings.ToUpper(string(s.Currency))},
			Paid:       s.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid || event.Kind == EventCheckoutAsyncSucceeded,
		}
		if s.Invoice != nil {
			data.InvoiceRef = s.Invoice.ID
		}
		if s.Subscription != nil {
			data.SubscriptionRef = s.Subscription.ID
		}
		checkoutMetadata(data, s.Metadata)
		event.Checkout = data

	case "invoice.payment_failed":
		var inv stripe.Invoice
		if err := json.Unmarshal(evt.Data.Raw, &inv); err != nil {
			return nil, errors.Join(ErrMalformedEvent, err)
		}
		event.Kind = EventPaymentFailed
		event.UserID = inv.Metadata[MetaUserID]
		if inv.Customer != nil {
			event.CustomerRef = inv.Customer.ID
		}
		event.Subscription = &SubscriptionData{Status: StatusPastDue}
		if inv.Subscription != nil {
			event.Subscription.SubscriptionRef = inv.Subscription.ID
		}
	}
	return event, nil
}

func stripeSubscriptionPrice(sub *stripe.Subscription) string {
	if sub.Items == nil {
		return ""
	}
	for _, item := range sub.Items.Data {
		if item != nil && item.Price != nil && item.Price.ID != "" {
			return item.Price.ID
		}
	}
	return ""
}

// classifyStripeError separates retryable provider failures from rejected requests.
func classifyStripeError(err error) error {
	var se *stripe.Error
	if errors.As(err, &se) {
		if se.HTTPStatusCode == http.StatusTooManyRequests || se.HTTPStatusCode >= http.StatusInternalServerError {
			return errors.Join(ErrProviderUnavailable, err)
		}
		return errors.Join(ErrProviderRejected, err)
	}
	return errors.Join(ErrProviderUnavailable, err)
}
