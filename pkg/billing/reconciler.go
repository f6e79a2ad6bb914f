package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/dmitrymomot/saasbilling/pkg/logger"
)

var errEventClaimed = errors.New("webhook event already processed")

// Reconciler applies verified provider events to subscriptions, ledger and payments.
// Every event is applied at most once, in one unit of work, under the user's lock.
type Reconciler struct {
	parser   WebhookParser
	provider string
	store    Store
	catalog  *Catalog
	users    UserDirectory
	opts     options
}

// NewReconciler builds the webhook reconciler for one provider.
func NewReconciler(parser WebhookParser, store Store, catalog *Catalog, users UserDirectory, opts ...Option) *Reconciler {
	name := "unknown"
	if p, ok := parser.(interface{ Name() string }); ok {
		name = p.Name()
	}
	return &Reconciler{
		parser:   parser,
		provider: name,
		store:    store,
		catalog:  catalog,
		users:    users,
		opts:     newOptions(opts),
	}
}

// HandleWebhook verifies, normalizes and applies one raw delivery.
// A nil error means the delivery may be acknowledged.
func (r *Reconciler) HandleWebhook(ctx context.Context, payload []byte, header http.Header) (Outcome, error) {
	event, err := r.parser.ParseWebhook(ctx, payload, header)
	if err != nil {
		r.opts.metrics.WebhookFailed(r.provider, failureReason(err))
		r.opts.logger.WarnContext(ctx, "rejected webhook delivery",
			logger.Provider(r.provider), logger.Error(err))
		return "", err
	}

	if r.opts.archiver != nil {
		if err := r.opts.archiver.Archive(ctx, r.provider, event.ID, payload); err != nil {
			r.opts.logger.WarnContext(ctx, "failed to archive webhook payload",
				logger.Provider(r.provider), logger.EventID(event.ID), logger.Error(err))
		}
	}

	outcome, err := r.Apply(ctx, event)
	if err != nil {
		r.opts.metrics.WebhookFailed(r.provider, failureReason(err))
		return "", err
	}
	r.opts.metrics.WebhookProcessed(r.provider, event.Kind, outcome)
	return outcome, nil
}

// Apply processes an already verified event. It is exported for replaying archived deliveries.
func (r *Reconciler) Apply(ctx context.Context, event *Event) (Outcome, error) {
	if event == nil || event.ID == "" {
		return "", fmt.Errorf("%w: event id is required", ErrMalformedEvent)
	}
	log := r.opts.logger.With(
		logger.Provider(r.provider),
		logger.EventID(event.ID),
		logger.EventType(event.ProviderType),
	)

	if event.Kind == EventUnknown {
		log.DebugContext(ctx, "ignoring unsupported webhook event")
		return OutcomeIgnored, nil
	}

	userID, err := r.resolveUser(ctx, event)
	if err != nil {
		if errors.Is(err, ErrUnknownUser) {
			log.WarnContext(ctx, "webhook event references unknown user",
				logger.UserID(event.UserID), logger.CustomerRef(event.CustomerRef), logger.Error(err))
			return OutcomeSkipped, nil
		}
		return "", err
	}
	log = log.With(logger.UserID(userID))

	unlock, err := r.opts.locker.Lock(ctx, userLockKey(userID))
	if err != nil {
		return "", err
	}
	defer unlock()

	var completed *PaymentRecord
	err = r.store.Atomic(ctx, func(ctx context.Context, tx Repositories) error {
		if err := tx.Events().Claim(ctx, event.ID, event.Kind, r.opts.now()); err != nil {
			if errors.Is(err, ErrDuplicate) {
				return errEventClaimed
			}
			return fmt.Errorf("failed to claim event: %w", err)
		}
		var err error
		completed, err = r.applyEffect(ctx, log, tx, userID, event)
		return err
	})
	if errors.Is(err, errEventClaimed) {
		log.InfoContext(ctx, "webhook event already processed")
		return OutcomeDuplicate, nil
	}
	if err != nil {
		log.ErrorContext(ctx, "failed to apply webhook event", logger.Error(err))
		return "", err
	}

	log.InfoContext(ctx, "webhook event applied", logger.EventKind(string(event.Kind)))
	if completed != nil {
		r.notifyCompleted(ctx, log, *completed)
	}
	return OutcomeApplied, nil
}

func (r *Reconciler) resolveUser(ctx context.Context, event *Event) (string, error) {
	userID := event.UserID
	if userID == "" && event.CustomerRef != "" {
		id, err := r.store.Customers().UserByCustomer(ctx, event.CustomerRef)
		switch {
		case err == nil:
			userID = id
		case !errors.Is(err, ErrCustomerNotFound):
			return "", fmt.Errorf("failed to resolve customer: %w", err)
		}
	}
	if userID == "" {
		return "", fmt.Errorf("%w: event carries no user reference", ErrUnknownUser)
	}
	if _, err := r.users.GetUser(ctx, userID); err != nil {
		if errors.Is(err, ErrUnknownUser) {
			return "", err
		}
		return "", fmt.Errorf("failed to look up user: %w", err)
	}
	return userID, nil
}

func (r *Reconciler) applyEffect(ctx context.Context, log *slog.Logger, tx Repositories, userID string, event *Event) (*PaymentRecord, error) {
	switch event.Kind {
	case EventSubscriptionUpdated:
		return nil, r.applySubscriptionUpdate(ctx, tx, userID, event)
	case EventSubscriptionDeleted:
		return nil, r.applySubscriptionDeleted(ctx, log, tx, userID, event)
	case EventCheckoutCompleted:
		return r.applyCheckoutCompleted(ctx, tx, userID, event)
	case EventCheckoutAsyncSucceeded:
		return r.settleCheckout(ctx, log, tx, userID, event, PaymentCompleted)
	case EventCheckoutAsyncFailed:
		return r.settleCheckout(ctx, log, tx, userID, event, PaymentFailed)
	case EventPaymentFailed:
		return nil, r.applyPaymentFailed(ctx, log, tx, userID, event)
	case EventUnknown:
		return nil, nil
	default:
		return nil, fmt.Errorf("%w: unsupported event kind %q", ErrMalformedEvent, event.Kind)
	}
}

func (r *Reconciler) applySubscriptionUpdate(ctx context.Context, tx Repositories, userID string, event *Event) error {
	data := event.Subscription
	if data == nil {
		return fmt.Errorf("%w: subscription payload is missing", ErrMalformedEvent)
	}
	plan, err := r.catalog.PlanForPrice(data.PriceID)
	if err != nil {
		r.opts.logger.ErrorContext(ctx, "subscription references unknown price",
			logger.EventID(event.ID), logger.PriceID(data.PriceID))
		return err
	}

	if err := applyExternalUpdate(ctx, tx, r.catalog, userID, ExternalUpdate{
		PlanID:            plan.ID,
		SubscriptionRef:   data.SubscriptionRef,
		CustomerRef:       event.CustomerRef,
		Status:            data.Status,
		PeriodStart:       data.PeriodStart,
		PeriodEnd:         data.PeriodEnd,
		CancelAtPeriodEnd: data.CancelAtPeriodEnd,
	}, r.opts.now()); err != nil {
		return err
	}

	if plan.IncludedCredits <= 0 || data.Status != StatusActive {
		return nil
	}
	key := fmt.Sprintf("grant:%s:%d", data.SubscriptionRef, data.PeriodStart.Unix())
	return r.credit(ctx, tx, userID, plan.IncludedCredits, ReasonPlanGrant, key)
}

func (r *Reconciler) applySubscriptionDeleted(ctx context.Context, log *slog.Logger, tx Repositories, userID string, event *Event) error {
	current, err := loadSubscription(ctx, tx, r.catalog, userID)
	if err != nil {
		return err
	}
	if event.Subscription != nil && event.Subscription.SubscriptionRef != "" &&
		!current.IsFree() && current.SubscriptionRef != event.Subscription.SubscriptionRef {
		log.WarnContext(ctx, "ignoring deletion of a subscription the user no longer has",
			logger.SubscriptionRef(event.Subscription.SubscriptionRef))
		return nil
	}
	return revertToFree(ctx, tx, r.catalog, userID, r.opts.now())
}

func (r *Reconciler) applyCheckoutCompleted(ctx context.Context, tx Repositories, userID string, event *Event) (*PaymentRecord, error) {
	data := event.Checkout
	if data == nil {
		return nil, fmt.Errorf("%w: checkout payload is missing", ErrMalformedEvent)
	}
	credits, description := r.purchaseDetails(data)

	status := PaymentPending
	if data.Paid {
		status = PaymentCompleted
	}
	payment := r.newPayment(userID, event, status, description)
	if err := tx.Payments().Create(ctx, payment); err != nil {
		if errors.Is(err, ErrDuplicate) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to create payment record: %w", err)
	}

	if !data.Paid {
		return nil, nil
	}
	if credits > 0 {
		if err := r.credit(ctx, tx, userID, credits, ReasonPurchase, event.ID); err != nil {
			return nil, err
		}
	}
	return &payment, nil
}

// settleCheckout resolves a delayed payment. Records that are no longer pending are left alone.
func (r *Reconciler) settleCheckout(ctx context.Context, log *slog.Logger, tx Repositories, userID string, event *Event, next PaymentStatus) (*PaymentRecord, error) {
	data := event.Checkout
	if data == nil || data.SessionRef == "" {
		return nil, fmt.Errorf("%w: checkout session is missing", ErrMalformedEvent)
	}
	credits, description := r.purchaseDetails(data)

	payment, err := tx.Payments().GetBySession(ctx, data.SessionRef)
	switch {
	case errors.Is(err, ErrPaymentNotFound):
		created := r.newPayment(userID, event, next, description)
		if err := tx.Payments().Create(ctx, created); err != nil {
			return nil, fmt.Errorf("failed to create payment record: %w", err)
		}
		payment = &created
	case err != nil:
		return nil, fmt.Errorf("failed to load payment record: %w", err)
	default:
		if err := transitionPayment(ctx, tx, payment, next); err != nil {
			if errors.Is(err, ErrInvalidTransition) {
				log.WarnContext(ctx, "payment is no longer pending",
					logger.SessionRef(data.SessionRef), logger.Error(err))
				return nil, nil
			}
			return nil, err
		}
	}

	if next != PaymentCompleted {
		return nil, nil
	}
	if credits > 0 {
		if err := r.credit(ctx, tx, userID, credits, ReasonPurchase, event.ID); err != nil {
			return nil, err
		}
	}
	return payment, nil
}

func (r *Reconciler) applyPaymentFailed(ctx context.Context, log *slog.Logger, tx Repositories, userID string, event *Event) error {
	current, err := loadSubscription(ctx, tx, r.catalog, userID)
	if err != nil {
		return err
	}
	if current.IsFree() {
		log.InfoContext(ctx, "payment failure for a user without a subscription")
		return nil
	}
	if data := event.Subscription; data != nil && data.SubscriptionRef != "" && data.SubscriptionRef != current.SubscriptionRef {
		log.WarnContext(ctx, "payment failure for a subscription the user no longer has",
			logger.SubscriptionRef(data.SubscriptionRef))
		return nil
	}
	return applyExternalUpdate(ctx, tx, r.catalog, userID, ExternalUpdate{
		PlanID:            current.PlanID,
		SubscriptionRef:   current.SubscriptionRef,
		CustomerRef:       current.CustomerRef,
		Status:            StatusPastDue,
		PeriodStart:       current.PeriodStart,
		PeriodEnd:         current.PeriodEnd,
		CancelAtPeriodEnd: current.CancelAtPeriodEnd,
	}, r.opts.now())
}

// credit appends a positive ledger entry. A key that was already used means the credits were granted before.
func (r *Reconciler) credit(ctx context.Context, tx Repositories, userID string, credits int64, reason LedgerReason, key string) error {
	err := appendEntry(ctx, tx, newLedgerEntry(userID, credits, reason, key, r.opts.now()))
	if errors.Is(err, ErrDuplicate) {
		return nil
	}
	if err != nil {
		return err
	}
	r.opts.metrics.CreditsGranted(reason, credits)
	return nil
}

func (r *Reconciler) newPayment(userID string, event *Event, status PaymentStatus, description string) PaymentRecord {
	occurredAt := event.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = r.opts.now()
	}
	p := newPaymentRecord(userID, event.ID, status, occurredAt)
	p.Amount = event.Checkout.Amount
	p.Description = description
	p.InvoiceRef = event.Checkout.InvoiceRef
	p.SessionRef = event.Checkout.SessionRef
	return p
}

// purchaseDetails works out the credits and the history description of a checkout.
// Catalog entries win over metadata.
func (r *Reconciler) purchaseDetails(data *CheckoutData) (int64, string) {
	packID := data.PackID
	if packID == "" && data.PriceID != "" {
		if pack, err := r.catalog.PackForPrice(data.PriceID); err == nil {
			packID = pack.ID
		}
	}
	if packID != "" {
		if pack, err := r.catalog.GetPack(packID); err == nil {
			return pack.Credits, creditsDescription(pack.Credits)
		}
	}

	planID := data.PlanID
	if planID == "" && data.PriceID != "" {
		if plan, err := r.catalog.PlanForPrice(data.PriceID); err == nil {
			planID = plan.ID
		}
	}
	if planID != "" {
		if plan, err := r.catalog.GetPlan(planID); err == nil {
			return data.Credits, planDescription(plan)
		}
	}

	if data.Credits > 0 && data.Description == "" {
		return data.Credits, creditsDescription(data.Credits)
	}
	return data.Credits, data.Description
}

func (r *Reconciler) notifyCompleted(ctx context.Context, log *slog.Logger, payment PaymentRecord) {
	if r.opts.notifier == nil {
		return
	}
	user, err := r.users.GetUser(ctx, payment.UserID)
	if err != nil {
		log.WarnContext(ctx, "failed to load user for receipt", logger.Error(err))
		return
	}
	if err := r.opts.notifier.PaymentCompleted(ctx, user, payment); err != nil {
		log.WarnContext(ctx, "failed to send payment receipt", logger.Error(err))
	}
}

func creditsDescription(credits int64) string {
	return fmt.Sprintf("Credits Purchase - %d credits", credits)
}

func planDescription(p Plan) string {
	switch p.Interval {
	case IntervalMonth:
		return p.Name + " Plan - Monthly"
	case IntervalYear:
		return p.Name + " Plan - Yearly"
	case IntervalNone:
		return p.Name + " Plan"
	}
	return p.Name + " Plan"
}
