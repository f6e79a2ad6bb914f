package billing

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// PaymentRecord is one entry of the user's payment history.
type PaymentRecord struct {
	ID          string
	UserID      string
	Amount      Money
	Status      PaymentStatus
	Description string
	OccurredAt  time.Time
	InvoiceRef  string
	SessionRef  string
	EventID     string
}

func newPaymentRecord(userID, eventID string, status PaymentStatus, occurredAt time.Time) PaymentRecord {
	return PaymentRecord{
		ID:         uuid.NewString(),
		UserID:     userID,
		Status:     status,
		OccurredAt: occurredAt,
		EventID:    eventID,
	}
}

func transitionPayment(ctx context.Context, repos Repositories, p *PaymentRecord, next PaymentStatus) error {
	if !p.Status.CanTransitionTo(next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, p.Status, next)
	}
	if err := repos.Payments().UpdateStatus(ctx, p.ID, next); err != nil {
		return fmt.Errorf("failed to update payment status: %w", err)
	}
	p.Status = next
	return nil
}

// Payments is the read side of the payment history.
type Payments struct {
	store Store
}

func NewPayments(store Store) *Payments {
	return &Payments{store: store}
}

// List returns the user's payments, newest first.
func (p *Payments) List(ctx context.Context, userID string, limit int) ([]PaymentRecord, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrInvalidRequest)
	}
	records, err := p.store.Payments().List(ctx, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list payments: %w", err)
	}
	return records, nil
}
