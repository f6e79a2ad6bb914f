package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dmitrymomot/saasbilling/pkg/logger"
)

// Subscription is a user's current billing state.
// A record without SubscriptionRef is the free default.
type Subscription struct {
	UserID            string
	PlanID            string
	CustomerRef       string
	SubscriptionRef   string
	Status            SubscriptionStatus
	PeriodStart       time.Time
	PeriodEnd         time.Time
	CancelAtPeriodEnd bool
	UpdatedAt         time.Time
}

// IsFree reports whether the record is the free default rather than a provider subscription.
func (s Subscription) IsFree() bool {
	return s.SubscriptionRef == ""
}

func (s Subscription) sameState(o Subscription) bool {
	return s.UserID == o.UserID &&
		s.PlanID == o.PlanID &&
		s.CustomerRef == o.CustomerRef &&
		s.SubscriptionRef == o.SubscriptionRef &&
		s.Status == o.Status &&
		s.PeriodStart.Equal(o.PeriodStart) &&
		s.PeriodEnd.Equal(o.PeriodEnd) &&
		s.CancelAtPeriodEnd == o.CancelAtPeriodEnd
}

// ExternalUpdate is the full provider-side state of a subscription.
type ExternalUpdate struct {
	PlanID            string
	SubscriptionRef   string
	CustomerRef       string
	Status            SubscriptionStatus
	PeriodStart       time.Time
	PeriodEnd         time.Time
	CancelAtPeriodEnd bool
}

func (u ExternalUpdate) validate(catalog *Catalog) error {
	if _, err := catalog.GetPlan(u.PlanID); err != nil {
		return err
	}
	if u.SubscriptionRef == "" {
		return fmt.Errorf("%w: subscription ref is required", ErrInvalidRequest)
	}
	if !u.Status.Valid() {
		return fmt.Errorf("%w: subscription status %q", ErrInvalidRequest, u.Status)
	}
	if !u.PeriodStart.Before(u.PeriodEnd) {
		return fmt.Errorf("%w: period start %s is not before period end %s",
			ErrInvalidRequest, u.PeriodStart.Format(time.RFC3339), u.PeriodEnd.Format(time.RFC3339))
	}
	return nil
}

func freeSubscription(userID string, free Plan) Subscription {
	return Subscription{
		UserID: userID,
		PlanID: free.ID,
		Status: StatusActive,
	}
}

// Subscriptions owns the per-user subscription records.
type Subscriptions struct {
	store   Store
	catalog *Catalog
	users   UserDirectory
	opts    options
}

// NewSubscriptions builds the subscription record service.
func NewSubscriptions(store Store, catalog *Catalog, users UserDirectory, opts ...Option) *Subscriptions {
	return &Subscriptions{
		store:   store,
		catalog: catalog,
		users:   users,
		opts:    newOptions(opts),
	}
}

// Get returns the user's subscription, or the free default when none was ever stored.
func (s *Subscriptions) Get(ctx context.Context, userID string) (Subscription, error) {
	if strings.TrimSpace(userID) == "" {
		return Subscription{}, fmt.Errorf("%w: user id is required", ErrInvalidRequest)
	}
	return loadSubscription(ctx, s.store, s.catalog, userID)
}

// ApplyExternalUpdate upserts the full record from provider state. Applying the same update twice is a no-op.
func (s *Subscriptions) ApplyExternalUpdate(ctx context.Context, userID string, u ExternalUpdate) error {
	if err := u.validate(s.catalog); err != nil {
		return err
	}
	return s.mutate(ctx, userID, func(ctx context.Context, tx Repositories) error {
		return applyExternalUpdate(ctx, tx, s.catalog, userID, u, s.opts.now())
	})
}

// RevertToFree moves the user back to the free plan with status cancelled and clears provider refs.
func (s *Subscriptions) RevertToFree(ctx context.Context, userID string) error {
	return s.mutate(ctx, userID, func(ctx context.Context, tx Repositories) error {
		return revertToFree(ctx, tx, s.catalog, userID, s.opts.now())
	})
}

func (s *Subscriptions) mutate(ctx context.Context, userID string, fn func(context.Context, Repositories) error) error {
	if strings.TrimSpace(userID) == "" {
		return fmt.Errorf("%w: user id is required", ErrInvalidRequest)
	}
	if err := checkUser(ctx, s.users, s.opts.logger, userID); err != nil {
		return err
	}
	unlock, err := s.opts.locker.Lock(ctx, userLockKey(userID))
	if err != nil {
		return err
	}
	defer unlock()

	return s.store.Atomic(ctx, fn)
}

func loadSubscription(ctx context.Context, repos Repositories, catalog *Catalog, userID string) (Subscription, error) {
	sub, err := repos.Subscriptions().Get(ctx, userID)
	if errors.Is(err, ErrSubscriptionNotFound) {
		return freeSubscription(userID, catalog.FreePlan()), nil
	}
	if err != nil {
		return Subscription{}, fmt.Errorf("failed to load subscription: %w", err)
	}
	return *sub, nil
}

func applyExternalUpdate(ctx context.Context, repos Repositories, catalog *Catalog, userID string, u ExternalUpdate, now time.Time) error {
	if err := u.validate(catalog); err != nil {
		return err
	}
	current, err := loadSubscription(ctx, repos, catalog, userID)
	if err != nil {
		return err
	}
	next := Subscription{
		UserID:            userID,
		PlanID:            u.PlanID,
		CustomerRef:       u.CustomerRef,
		SubscriptionRef:   u.SubscriptionRef,
		Status:            u.Status,
		PeriodStart:       u.PeriodStart,
		PeriodEnd:         u.PeriodEnd,
		CancelAtPeriodEnd: u.CancelAtPeriodEnd,
		UpdatedAt:         now,
	}
	if next.CustomerRef == "" {
		next.CustomerRef = current.CustomerRef
	}
	if current.sameState(next) {
		return nil
	}
	return saveSubscription(ctx, repos, next)
}

func revertToFree(ctx context.Context, repos Repositories, catalog *Catalog, userID string, now time.Time) error {
	current, err := loadSubscription(ctx, repos, catalog, userID)
	if err != nil {
		return err
	}
	next := freeSubscription(userID, catalog.FreePlan())
	next.Status = StatusCancelled
	next.UpdatedAt = now
	if current.sameState(next) {
		return nil
	}
	return saveSubscription(ctx, repos, next)
}

func saveSubscription(ctx context.Context, repos Repositories, sub Subscription) error {
	if err := repos.Subscriptions().Save(ctx, sub); err != nil {
		return fmt.Errorf("failed to save subscription: %w", err)
	}
	return nil
}

// checkUser logs unknown users as an integrity problem.
func checkUser(ctx context.Context, users UserDirectory, log *slog.Logger, userID string) error {
	_, err := lookupUser(ctx, users, log, userID)
	return err
}

func lookupUser(ctx context.Context, users UserDirectory, log *slog.Logger, userID string) (User, error) {
	user, err := users.GetUser(ctx, userID)
	if errors.Is(err, ErrUnknownUser) {
		log.WarnContext(ctx, "billing reference to unknown user", logger.UserID(userID))
		return User{}, err
	}
	if err != nil {
		return User{}, fmt.Errorf("failed to look up user: %w", err)
	}
	return user, nil
}
