package billing

import "errors"

var (
	ErrInvalidRequest           = errors.New("invalid billing request")
	ErrInvalidPlanConfiguration = errors.New("invalid billing plan configuration")
	ErrUnknownPlan              = errors.Join(ErrInvalidRequest, errors.New("unknown plan"))
	ErrUnknownPack              = errors.Join(ErrInvalidRequest, errors.New("unknown credit pack"))
	ErrFreePlanCheckout         = errors.Join(ErrInvalidRequest, errors.New("free plan does not need a checkout"))

	ErrDuplicate           = errors.New("duplicate idempotency key")
	ErrInsufficientCredits = errors.New("insufficient credits")
	ErrInvalidTransition   = errors.New("invalid payment status transition")

	// ErrUnknownUser marks an integrity problem: an operation or event referenced a user
	// the user directory does not know about.
	ErrUnknownUser = errors.New("unknown user")

	ErrSubscriptionNotFound = errors.New("subscription not found")
	ErrPaymentNotFound      = errors.New("payment record not found")
	ErrCustomerNotFound     = errors.New("external customer not found")

	// Provider and transport errors
	ErrInvalidSignature     = errors.New("webhook signature verification failed")
	ErrMalformedEvent       = errors.New("malformed webhook event")
	ErrProviderUnavailable  = errors.New("billing provider unavailable")
	ErrProviderRejected     = errors.New("billing provider rejected the request")
	ErrMissingAPIKey        = errors.New("billing provider API key is required")
	ErrMissingWebhookSecret = errors.New("billing provider webhook secret is required")
	ErrInvalidEnvironment   = errors.New("invalid billing provider environment")
	ErrNoCheckoutURL        = errors.New("no checkout URL returned from provider")
	ErrNoPortalURL          = errors.New("no portal URL returned from provider")
	ErrPortalUnavailable    = errors.New("no customer portal available for users without a billing customer")
	ErrLockUnavailable      = errors.New("failed to acquire user lock")
)
