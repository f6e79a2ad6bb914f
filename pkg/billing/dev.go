package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/saasbilling/pkg/webhook"
)

// Envelope is the generic webhook format used by the dev provider:
//
//	{"id": "evt_1", "type": "checkout.session.completed", "created_at": "...",
//	 "data": {...}, "metadata": {"user_id": "u1", "credits": "1000"}}
//
// A completed checkout counts as paid unless data.payment_status is "unpaid".
type Envelope struct {
	ID        string            `json:"id"`
	Type      string            `json:"type"`
	CreatedAt time.Time         `json:"created_at"`
	Data      EnvelopeData      `json:"data"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// EnvelopeData carries the subscription or checkout fields of an envelope.
type EnvelopeData struct {
	CustomerID        string    `json:"customer_id,omitempty"`
	SubscriptionID    string    `json:"subscription_id,omitempty"`
	SessionID         string    `json:"session_id,omitempty"`
	PriceID           string    `json:"price_id,omitempty"`
	Status            string    `json:"status,omitempty"`
	PeriodStart       time.Time `json:"period_start,omitzero"`
	PeriodEnd         time.Time `json:"period_end,omitzero"`
	CancelAtPeriodEnd bool      `json:"cancel_at_period_end,omitempty"`
	Amount            int64     `json:"amount,omitempty"`
	Currency          string    `json:"currency,omitempty"`
	PaymentStatus     string    `json:"payment_status,omitempty"` // paid, unpaid or no_payment_required
	InvoiceID         string    `json:"invoice_id,omitempty"`
	Description       string    `json:"description,omitempty"`
}

var envelopeKinds = map[string]EventKind{
	"subscription.created":                     EventSubscriptionUpdated,
	"subscription.updated":                     EventSubscriptionUpdated,
	"subscription.deleted":                     EventSubscriptionDeleted,
	"checkout.session.completed":               EventCheckoutCompleted,
	"checkout.session.async_payment_succeeded": EventCheckoutAsyncSucceeded,
	"checkout.session.async_payment_failed":    EventCheckoutAsyncFailed,
	"invoice.payment_failed":                   EventPaymentFailed,
}

// EnvelopeParser verifies X-Webhook-* signed envelopes.
type EnvelopeParser struct {
	secret    string
	tolerance time.Duration
	now       func() time.Time
}

func NewEnvelopeParser(secret string, tolerance time.Duration) (*EnvelopeParser, error) {
	if secret == "" {
		return nil, ErrMissingWebhookSecret
	}
	return &EnvelopeParser{secret: secret, tolerance: tolerance, now: time.Now}, nil
}

func (p *EnvelopeParser) Name() string { return "dev" }

func (p *EnvelopeParser) ParseWebhook(_ context.Context, payload []byte, header http.Header) (*Event, error) {
	if err := webhook.Verify(p.secret, payload, header, p.tolerance, p.now()); err != nil {
		return nil, errors.Join(ErrInvalidSignature, err)
	}

	var env Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, errors.Join(ErrMalformedEvent, err)
	}
	return env.normalize("dev")
}

func (env Envelope) normalize(provider string) (*Event, error) {
	if env.ID == "" || env.Type == "" {
		return nil, fmt.Errorf("%w: envelope id and type are required", ErrMalformedEvent)
	}

	event := &Event{
		ID:           env.ID,
		Kind:         EventUnknown,
		ProviderType: env.Type,
		Provider:     provider,
		OccurredAt:   env.CreatedAt,
		UserID:       env.Metadata[MetaUserID],
		CustomerRef:  env.Data.CustomerID,
	}
	if kind, ok := envelopeKinds[env.Type]; ok {
		event.Kind = kind
	}

	d := env.Data
	switch event.Kind {
	case EventSubscriptionUpdated, EventSubscriptionDeleted, EventPaymentFailed:
		event.Subscription = &SubscriptionData{
			SubscriptionRef:   d.SubscriptionID,
			PriceID:           d.PriceID,
			Status:            ProviderStatus(d.Status),
			PeriodStart:       d.PeriodStart,
			PeriodEnd:         d.PeriodEnd,
			CancelAtPeriodEnd: d.CancelAtPeriodEnd,
		}
	case EventCheckoutCompleted, EventCheckoutAsyncSucceeded, EventCheckoutAsyncFailed:
		currency := strings.ToUpper(d.Currency)
		if currency == "" {
			currency = "USD"
		}
		event.Checkout = &CheckoutData{
			SessionRef:      d.SessionID,
			SubscriptionRef: d.SubscriptionID,
			PriceID:         d.PriceID,
			Amount:          Money{Amount: d.Amount, Currency: currency},
			Paid:            envelopePaid(event.Kind, d.PaymentStatus),
			InvoiceRef:      d.InvoiceID,
			Description:     d.Description,
		}
		checkoutMetadata(event.Checkout, env.Metadata)
	case EventUnknown:
	}
	return event, nil
}

// DevProvider fakes hosted checkout for local development. Sessions live in memory;
// Complete produces the signed webhook a real provider would send after payment.
type DevProvider struct {
	*EnvelopeParser
	baseURL string
	catalog *Catalog

	mu       sync.Mutex
	sessions map[string]CheckoutRequest
}

// NewDevProvider returns a fake provider whose checkout URLs point at baseURL.
func NewDevProvider(baseURL, webhookSecret string, catalog *Catalog) (*DevProvider, error) {
	parser, err := NewEnvelopeParser(webhookSecret, 5*time.Minute)
	if err != nil {
		return nil, err
	}
	return &DevProvider{
		EnvelopeParser: parser,
		baseURL:        strings.TrimRight(baseURL, "/"),
		catalog:        catalog,
		sessions:       make(map[string]CheckoutRequest),
	}, nil
}

const envelopeUnpaid = "unpaid"

func envelopePaid(kind EventKind, paymentStatus string) bool {
	switch kind {
	case EventCheckoutAsyncSucceeded:
		return true
	case EventCheckoutAsyncFailed:
		return false
	}
	return !strings.EqualFold(paymentStatus, envelopeUnpaid)
}

func (p *DevProvider) CreateCustomer(_ context.Context, req CustomerRequest) (string, error) {
	if req.UserID == "" {
		return "", fmt.Errorf("%w: user id is required", ErrProviderRejected)
	}
	return "dev_cus_" + req.UserID, nil
}

func (p *DevProvider) CreateCheckoutSession(_ context.Context, req CheckoutRequest) (*CheckoutSession, error) {
	if req.PriceID == "" || req.CustomerRef == "" {
		return nil, fmt.Errorf("%w: price and customer are required", ErrProviderRejected)
	}
	id := "dev_cs_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	now := p.now()

	p.mu.Lock()
	p.sessions[id] = req
	p.mu.Unlock()

	return &CheckoutSession{
		ID:        id,
		URL:       p.baseURL + "/billing/dev/checkout/" + id,
		ExpiresAt: now.Add(24 * time.Hour),
	}, nil
}

func (p *DevProvider) CreatePortalSession(_ context.Context, customerRef, returnURL string) (*PortalLink, error) {
	if customerRef == "" {
		return nil, fmt.Errorf("%w: customer is required", ErrProviderRejected)
	}
	link := p.baseURL + "/billing/dev/portal/" + url.PathEscape(customerRef)
	if returnURL != "" {
		link += "?" + url.Values{"return_url": {returnURL}}.Encode()
	}
	return &PortalLink{URL: link}, nil
}

// Pending returns the request behind an unpaid dev session.
func (p *DevProvider) Pending(sessionID string) (CheckoutRequest, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	req, ok := p.sessions[sessionID]
	return req, ok
}

// Delivery is one signed webhook request.
type Delivery struct {
	Payload []byte
	Header  http.Header
}

// Complete pays a pending dev session and returns the signed deliveries a real provider
// would send: the subscription first for plan checkouts, then the checkout itself.
func (p *DevProvider) Complete(sessionID string) ([]Delivery, error) {
	p.mu.Lock()
	req, ok := p.sessions[sessionID]
	if ok {
		delete(p.sessions, sessionID)
	}
	p.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: unknown dev session %q", ErrInvalidRequest, sessionID)
	}

	now := p.now().Truncate(time.Second)
	checkout := Envelope{
		ID:        newDevEventID(),
		Type:      "checkout.session.completed",
		CreatedAt: now,
		Metadata:  req.Metadata,
		Data: EnvelopeData{
			CustomerID:    req.CustomerRef,
			SessionID:     sessionID,
			PriceID:       req.PriceID,
			PaymentStatus: "paid",
		},
	}
	if pack, err := p.catalog.PackForPrice(req.PriceID); err == nil {
		checkout.Data.Amount, checkout.Data.Currency = pack.Price.Amount, pack.Price.Currency
	}

	var envs []Envelope
	if plan, err := p.catalog.PlanForPrice(req.PriceID); err == nil {
		subID := "dev_sub_" + strings.TrimPrefix(sessionID, "dev_cs_")
		checkout.Data.Amount, checkout.Data.Currency = plan.Price.Amount, plan.Price.Currency
		checkout.Data.SubscriptionID = subID
		envs = append(envs, Envelope{
			ID:        newDevEventID(),
			Type:      "subscription.created",
			CreatedAt: now,
			Metadata:  req.Metadata,
			Data: EnvelopeData{
				CustomerID:     req.CustomerRef,
				SubscriptionID: subID,
				PriceID:        req.PriceID,
				Status:         "active",
				PeriodStart:    now,
				PeriodEnd:      periodEnd(now, plan.Interval),
			},
		})
	}
	envs = append(envs, checkout)

	deliveries := make([]Delivery, 0, len(envs))
	for _, env := range envs {
		d, err := p.sign(env)
		if err != nil {
			return nil, err
		}
		deliveries = append(deliveries, d)
	}
	return deliveries, nil
}

func periodEnd(start time.Time, interval BillingInterval) time.Time {
	if interval == IntervalYear {
		return start.AddDate(1, 0, 0)
	}
	return start.AddDate(0, 1, 0)
}

func newDevEventID() string {
	return "evt_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

func (p *DevProvider) sign(env Envelope) (Delivery, error) {
	payload, err := json.Marshal(env)
	if err != nil {
		return Delivery{}, fmt.Errorf("failed to encode envelope: %w", err)
	}
	sig, err := webhook.Sign(p.secret, payload, p.now())
	if err != nil {
		return Delivery{}, err
	}
	return Delivery{Payload: payload, Header: sig.HTTPHeader()}, nil
}
