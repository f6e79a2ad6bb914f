package billing

import (
	"fmt"
	"math"

	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"
)

// Money represents a monetary amount in the smallest currency unit.
// For example, $29.99 USD is Amount: 2999, Currency: "USD".
type Money struct {
	Amount   int64  `yaml:"amount"`
	Currency string `yaml:"currency"`
}

// Validate reports whether the currency is a known ISO 4217 code and the amount is not negative.
func (m Money) Validate() error {
	if m.Amount < 0 {
		return fmt.Errorf("negative amount %d", m.Amount)
	}
	if _, err := currency.ParseISO(m.Currency); err != nil {
		return fmt.Errorf("currency %q: %w", m.Currency, err)
	}
	return nil
}

// String renders the amount in major units with the currency's standard scale, e.g. "USD 29.99".
func (m Money) String() string {
	unit, err := currency.ParseISO(m.Currency)
	if err != nil {
		return fmt.Sprintf("%d %s", m.Amount, m.Currency)
	}
	scale, _ := currency.Standard.Rounding(unit)
	major := float64(m.Amount) / math.Pow10(scale)
	return message.NewPrinter(language.English).Sprintf("%s %v", unit, number.Decimal(major, number.Scale(scale)))
}

// Tier is the commercial tier a plan belongs to.
type Tier string

const (
	TierFree       Tier = "free"
	TierStarter    Tier = "starter"
	TierPro        Tier = "pro"
	TierEnterprise Tier = "enterprise"
)

func (t Tier) Valid() bool {
	switch t {
	case TierFree, TierStarter, TierPro, TierEnterprise:
		return true
	}
	return false
}

// BillingInterval represents the billing frequency for a plan.
type BillingInterval string

const (
	IntervalNone  BillingInterval = "none" // free plans with no billing
	IntervalMonth BillingInterval = "month"
	IntervalYear  BillingInterval = "year"
)

func (i BillingInterval) Valid() bool {
	switch i {
	case IntervalNone, IntervalMonth, IntervalYear:
		return true
	}
	return false
}

// SubscriptionStatus represents the current state of a subscription record.
type SubscriptionStatus string

const (
	StatusActive    SubscriptionStatus = "active"
	StatusPastDue   SubscriptionStatus = "past_due"
	StatusCancelled SubscriptionStatus = "cancelled"
)

func (s SubscriptionStatus) Valid() bool {
	switch s {
	case StatusActive, StatusPastDue, StatusCancelled:
		return true
	}
	return false
}

// PaymentStatus represents the state of a payment record.
type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentCompleted PaymentStatus = "completed"
	PaymentFailed    PaymentStatus = "failed"
	PaymentCancelled PaymentStatus = "cancelled"
)

func (s PaymentStatus) Valid() bool {
	switch s {
	case PaymentPending, PaymentCompleted, PaymentFailed, PaymentCancelled:
		return true
	}
	return false
}

// CanTransitionTo reports whether a payment may move from s to next.
// Only pending payments change state; completed, failed and cancelled are terminal.
func (s PaymentStatus) CanTransitionTo(next PaymentStatus) bool {
	switch s {
	case PaymentPending:
		switch next {
		case PaymentCompleted, PaymentFailed, PaymentCancelled:
			return true
		case PaymentPending:
			return false
		}
	case PaymentCompleted, PaymentFailed, PaymentCancelled:
		return false
	}
	return false
}

// LedgerReason explains why a credit ledger entry exists.
type LedgerReason string

const (
	ReasonPurchase   LedgerReason = "purchase"
	ReasonPlanGrant  LedgerReason = "plan_grant"
	ReasonUsage      LedgerReason = "usage"
	ReasonAdjustment LedgerReason = "adjustment"
)

func (r LedgerReason) Valid() bool {
	switch r {
	case ReasonPurchase, ReasonPlanGrant, ReasonUsage, ReasonAdjustment:
		return true
	}
	return false
}
