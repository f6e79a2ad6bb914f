package billing

import (
	"context"
	"log/slog"
	"time"
)

// Archiver stores raw webhook payloads for audits and replays.
type Archiver interface {
	Archive(ctx context.Context, provider, eventID string, payload []byte) error
}

// Notifier is told about payments that completed after the unit of work committed.
type Notifier interface {
	PaymentCompleted(ctx context.Context, user User, payment PaymentRecord) error
}

// Metrics receives billing counters. Implementations must be safe for concurrent use.
type Metrics interface {
	WebhookProcessed(provider string, kind EventKind, outcome Outcome)
	WebhookFailed(provider, reason string)
	CheckoutCreated(mode CheckoutMode)
	CheckoutFailed(mode CheckoutMode, reason string)
	CreditsGranted(reason LedgerReason, credits int64)
}

type noopMetrics struct{}

func (noopMetrics) WebhookProcessed(string, EventKind, Outcome) {}
func (noopMetrics) WebhookFailed(string, string)                {}
func (noopMetrics) CheckoutCreated(CheckoutMode)                {}
func (noopMetrics) CheckoutFailed(CheckoutMode, string)         {}
func (noopMetrics) CreditsGranted(LedgerReason, int64)          {}

type options struct {
	logger   *slog.Logger
	locker   Locker
	now      func() time.Time
	metrics  Metrics
	archiver Archiver
	notifier Notifier
}

// Option configures the billing services.
type Option func(*options)

func newOptions(opts []Option) options {
	o := options{
		logger:  slog.Default(),
		now:     time.Now,
		metrics: noopMetrics{},
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.locker == nil {
		o.locker = NewKeyedMutex()
	}
	return o
}

// WithLogger sets the logger used for integrity warnings and failures.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithLocker sets the per-user lock. Services sharing a store must share the locker too.
func WithLocker(locker Locker) Option {
	return func(o *options) {
		o.locker = locker
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

func WithMetrics(m Metrics) Option {
	return func(o *options) {
		if m != nil {
			o.metrics = m
		}
	}
}

// WithArchiver enables raw webhook archiving in the Reconciler.
func WithArchiver(a Archiver) Option {
	return func(o *options) {
		o.archiver = a
	}
}

// WithNotifier enables receipts for completed payments in the Reconciler.
func WithNotifier(n Notifier) Option {
	return func(o *options) {
		o.notifier = n
	}
}
