package billing

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dmitrymomot/saasbilling/pkg/logger"
)

// CheckoutParams requests a hosted subscription checkout for a plan.
type CheckoutParams struct {
	UserID     string
	PlanID     string
	SuccessURL string
	CancelURL  string
}

// CreditsCheckoutParams requests a hosted one-time checkout for a credit pack.
type CreditsCheckoutParams struct {
	UserID     string
	PackID     string
	SuccessURL string
	CancelURL  string
}

// Session is where the user is redirected to pay.
type Session struct {
	SessionRef  string
	RedirectURL string
	ExpiresAt   time.Time
}

// Checkout starts hosted payment sessions. It never touches subscriptions, ledger or payments;
// those change only when the provider reports back through the webhook.
type Checkout struct {
	store    Store
	catalog  *Catalog
	users    UserDirectory
	provider CheckoutProvider
	opts     options
}

// NewCheckout builds the checkout session initiator.
func NewCheckout(store Store, catalog *Catalog, users UserDirectory, provider CheckoutProvider, opts ...Option) *Checkout {
	return &Checkout{
		store:    store,
		catalog:  catalog,
		users:    users,
		provider: provider,
		opts:     newOptions(opts),
	}
}

// CreateSession starts a subscription checkout for a paid plan.
func (c *Checkout) CreateSession(ctx context.Context, params CheckoutParams) (*Session, error) {
	if strings.TrimSpace(params.UserID) == "" || strings.TrimSpace(params.PlanID) == "" {
		return nil, fmt.Errorf("%w: user id and plan id are required", ErrInvalidRequest)
	}

	plan, err := c.catalog.GetPlan(params.PlanID)
	if err != nil {
		c.opts.logger.ErrorContext(ctx, "checkout requested for unknown plan",
			logger.UserID(params.UserID), logger.PlanID(params.PlanID))
		return nil, err
	}
	if plan.IsFree() {
		return nil, ErrFreePlanCheckout
	}

	return c.start(ctx, params.UserID, CheckoutRequest{
		Mode:       ModeSubscription,
		PriceID:    plan.ProviderPriceID,
		SuccessURL: params.SuccessURL,
		CancelURL:  params.CancelURL,
		Metadata: map[string]string{
			MetaUserID: params.UserID,
			MetaPlanID: plan.ID,
		},
	})
}

// CreateCreditsSession starts a one-time checkout for a credit pack.
func (c *Checkout) CreateCreditsSession(ctx context.Context, params CreditsCheckoutParams) (*Session, error) {
	if strings.TrimSpace(params.UserID) == "" || strings.TrimSpace(params.PackID) == "" {
		return nil, fmt.Errorf("%w: user id and pack id are required", ErrInvalidRequest)
	}

	pack, err := c.catalog.GetPack(params.PackID)
	if err != nil {
		return nil, err
	}

	return c.start(ctx, params.UserID, CheckoutRequest{
		Mode:       ModePayment,
		PriceID:    pack.ProviderPriceID,
		SuccessURL: params.SuccessURL,
		CancelURL:  params.CancelURL,
		Metadata: map[string]string{
			MetaUserID:  params.UserID,
			MetaPackID:  pack.ID,
			MetaCredits: strconv.FormatInt(pack.Credits, 10),
		},
	})
}

// PortalLink returns a customer portal URL for users that already have a provider customer.
func (c *Checkout) PortalLink(ctx context.Context, userID, returnURL string) (*PortalLink, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrInvalidRequest)
	}
	customerRef, err := c.store.Customers().Get(ctx, userID)
	if errors.Is(err, ErrCustomerNotFound) {
		return nil, ErrPortalUnavailable
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load customer: %w", err)
	}
	link, err := c.provider.CreatePortalSession(ctx, customerRef, returnURL)
	if err != nil {
		c.opts.logger.WarnContext(ctx, "failed to create portal session", logger.UserID(userID), logger.Error(err))
		return nil, err
	}
	return link, nil
}

func (c *Checkout) start(ctx context.Context, userID string, req CheckoutRequest) (*Session, error) {
	user, err := lookupUser(ctx, c.users, c.opts.logger, userID)
	if err != nil {
		if errors.Is(err, ErrUnknownUser) {
			return nil, errors.Join(ErrInvalidRequest, err)
		}
		return nil, err
	}

	customerRef, err := c.ensureCustomer(ctx, user)
	if err != nil {
		c.opts.metrics.CheckoutFailed(req.Mode, failureReason(err))
		return nil, err
	}
	req.CustomerRef = customerRef

	sess, err := c.provider.CreateCheckoutSession(ctx, req)
	if err != nil {
		c.opts.metrics.CheckoutFailed(req.Mode, failureReason(err))
		c.opts.logger.WarnContext(ctx, "failed to create checkout session",
			logger.UserID(userID), logger.Error(err))
		return nil, err
	}
	if sess.URL == "" {
		c.opts.metrics.CheckoutFailed(req.Mode, failureReason(ErrNoCheckoutURL))
		return nil, errors.Join(ErrProviderRejected, ErrNoCheckoutURL)
	}

	c.opts.metrics.CheckoutCreated(req.Mode)
	return &Session{
		SessionRef:  sess.ID,
		RedirectURL: sess.URL,
		ExpiresAt:   sess.ExpiresAt,
	}, nil
}

// ensureCustomer returns the user's provider customer, creating it once.
func (c *Checkout) ensureCustomer(ctx context.Context, user User) (string, error) {
	ref, err := c.store.Customers().Get(ctx, user.ID)
	if err == nil {
		return ref, nil
	}
	if !errors.Is(err, ErrCustomerNotFound) {
		return "", fmt.Errorf("failed to load customer: %w", err)
	}

	unlock, err := c.opts.locker.Lock(ctx, customerLockKey(user.ID))
	if err != nil {
		return "", err
	}
	defer unlock()

	ref, err = c.store.Customers().Get(ctx, user.ID)
	if err == nil {
		return ref, nil
	}
	if !errors.Is(err, ErrCustomerNotFound) {
		return "", fmt.Errorf("failed to load customer: %w", err)
	}

	ref, err = c.provider.CreateCustomer(ctx, CustomerRequest{UserID: user.ID, Email: user.Email})
	if err != nil {
		c.opts.logger.WarnContext(ctx, "failed to create billing customer", logger.UserID(user.ID), logger.Error(err))
		return "", err
	}

	if err := c.store.Customers().Put(ctx, user.ID, ref); err != nil {
		if errors.Is(err, ErrDuplicate) {
			return c.store.Customers().Get(ctx, user.ID)
		}
		return "", fmt.Errorf("failed to save customer: %w", err)
	}
	return ref, nil
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, ErrProviderUnavailable):
		return "provider_unavailable"
	case errors.Is(err, ErrProviderRejected):
		return "provider_rejected"
	case errors.Is(err, ErrLockUnavailable):
		return "lock_unavailable"
	case errors.Is(err, ErrInvalidSignature):
		return "invalid_signature"
	case errors.Is(err, ErrMalformedEvent):
		return "malformed_event"
	case errors.Is(err, ErrUnknownPlan), errors.Is(err, ErrUnknownPack):
		return "unknown_price"
	default:
		return "internal"
	}
}
