package billing

import (
	"context"
	"net/http"
	"strconv"
	"time"
)

// Metadata keys attached to provider customers, sessions and subscriptions.
const (
	MetaUserID  = "user_id"
	MetaPlanID  = "plan_id"
	MetaPackID  = "pack_id"
	MetaCredits = "credits"
)

// CheckoutMode distinguishes recurring plan checkouts from one-time credit purchases.
type CheckoutMode string

const (
	ModeSubscription CheckoutMode = "subscription"
	ModePayment      CheckoutMode = "payment"
)

// CustomerRequest describes the provider customer created for a user.
type CustomerRequest struct {
	UserID string
	Email  string
}

// CheckoutRequest is a provider-agnostic hosted checkout request.
type CheckoutRequest struct {
	Mode        CheckoutMode
	CustomerRef string
	PriceID     string
	SuccessURL  string
	CancelURL   string
	Metadata    map[string]string
}

// CheckoutSession is the provider's answer to a checkout request.
type CheckoutSession struct {
	ID        string
	URL       string
	ExpiresAt time.Time
}

// PortalLink is a self-service link to the provider's customer portal.
type PortalLink struct {
	URL       string
	ExpiresAt time.Time
}

// CheckoutProvider is the outbound side of a payment provider.
// CreateCustomer must be idempotent per user id.
type CheckoutProvider interface {
	CreateCustomer(ctx context.Context, req CustomerRequest) (string, error)
	CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error)
	CreatePortalSession(ctx context.Context, customerRef, returnURL string) (*PortalLink, error)
}

// WebhookParser verifies the provider signature over the raw payload and
// normalizes the event. It returns ErrInvalidSignature or ErrMalformedEvent.
type WebhookParser interface {
	ParseWebhook(ctx context.Context, payload []byte, header http.Header) (*Event, error)
}

// BillingProvider is a complete payment provider integration.
type BillingProvider interface {
	CheckoutProvider
	WebhookParser
	Name() string
}

// EventKind is the normalized webhook event type.
type EventKind string

const (
	EventSubscriptionUpdated    EventKind = "subscription_updated"
	EventSubscriptionDeleted    EventKind = "subscription_deleted"
	EventCheckoutCompleted      EventKind = "checkout_completed"
	EventCheckoutAsyncSucceeded EventKind = "checkout_async_succeeded"
	EventCheckoutAsyncFailed    EventKind = "checkout_async_failed"
	EventPaymentFailed          EventKind = "payment_failed"
	EventUnknown                EventKind = "unknown"
)

// Event is a verified provider webhook in normalized form.
type Event struct {
	ID           string
	Kind         EventKind
	ProviderType string // the provider's own event type, e.g. "customer.subscription.updated"
	Provider     string
	OccurredAt   time.Time

	// UserID comes from metadata and may be empty; CustomerRef is the fallback.
	UserID      string
	CustomerRef string

	Subscription *SubscriptionData
	Checkout     *CheckoutData
}

// SubscriptionData is set for subscription and payment_failed events.
type SubscriptionData struct {
	SubscriptionRef   string
	PriceID           string
	Status            SubscriptionStatus
	PeriodStart       time.Time
	PeriodEnd         time.Time
	CancelAtPeriodEnd bool
}

// CheckoutData is set for checkout events.
type CheckoutData struct {
	SessionRef      string
	SubscriptionRef string
	PriceID         string
	PlanID          string
	PackID          string
	Credits         int64
	Amount          Money
	Paid            bool
	InvoiceRef      string
	Description     string
}

// Outcome tells the transport what happened to a delivered webhook.
type Outcome string

const (
	OutcomeApplied   Outcome = "applied"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeIgnored   Outcome = "ignored"
	OutcomeSkipped   Outcome = "skipped"
)

// ProviderStatus maps provider subscription statuses onto the local vocabulary.
// Unrecognized statuses map to past due.
func ProviderStatus(status string) SubscriptionStatus {
	switch status {
	case "active", "trialing":
		return StatusActive
	case "canceled", "cancelled", "incomplete_expired":
		return StatusCancelled
	default:
		return StatusPastDue
	}
}

func checkoutMetadata(data *CheckoutData, meta map[string]string) {
	if data == nil || meta == nil {
		return
	}
	if v := meta[MetaPlanID]; v != "" {
		data.PlanID = v
	}
	if v := meta[MetaPackID]; v != "" {
		data.PackID = v
	}
	if v := meta[MetaCredits]; v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			data.Credits = n
		}
	}
}
