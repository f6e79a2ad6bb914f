package billing

import (
	"context"
	"time"
)

// User is the part of the wider user system billing reads: an id and a receipt address.
type User struct {
	ID    string
	Email string
}

// UserDirectory resolves user ids owned by the user system.
// GetUser returns ErrUnknownUser for ids it does not know.
type UserDirectory interface {
	GetUser(ctx context.Context, userID string) (User, error)
}

// SubscriptionStore persists one subscription record per user.
type SubscriptionStore interface {
	// Get returns ErrSubscriptionNotFound when the user has no stored record.
	Get(ctx context.Context, userID string) (*Subscription, error)
	// Save replaces the user's record as a whole.
	Save(ctx context.Context, sub Subscription) error
}

// LedgerStore is the append-only credit ledger.
type LedgerStore interface {
	// Insert returns ErrDuplicate when an entry with the same idempotency key exists.
	Insert(ctx context.Context, entry LedgerEntry) error
	HasKey(ctx context.Context, idempotencyKey string) (bool, error)
	Balance(ctx context.Context, userID string) (int64, error)
	// List returns the newest entries first. A limit <= 0 means no limit.
	List(ctx context.Context, userID string, limit int) ([]LedgerEntry, error)
}

// PaymentStore keeps the payment history shown to users.
type PaymentStore interface {
	// Create returns ErrDuplicate when a record for the same event id exists.
	Create(ctx context.Context, p PaymentRecord) error
	// GetBySession returns ErrPaymentNotFound for unknown session refs.
	GetBySession(ctx context.Context, sessionRef string) (*PaymentRecord, error)
	UpdateStatus(ctx context.Context, id string, status PaymentStatus) error
	List(ctx context.Context, userID string, limit int) ([]PaymentRecord, error)
}

// CustomerStore maps users to provider customers, one per user, never replaced.
type CustomerStore interface {
	// Get returns ErrCustomerNotFound when the user has no customer yet.
	Get(ctx context.Context, userID string) (string, error)
	// UserByCustomer returns ErrCustomerNotFound for unknown customer refs.
	UserByCustomer(ctx context.Context, customerRef string) (string, error)
	// Put returns ErrDuplicate when the user is already mapped.
	Put(ctx context.Context, userID, customerRef string) error
}

// EventStore records processed webhook events.
type EventStore interface {
	// Claim returns ErrDuplicate when the event id was claimed before.
	Claim(ctx context.Context, eventID string, kind EventKind, at time.Time) error
}

// Repositories groups the billing stores that take part in one unit of work.
type Repositories interface {
	Subscriptions() SubscriptionStore
	Ledger() LedgerStore
	Payments() PaymentStore
	Customers() CustomerStore
	Events() EventStore
}

// Store is the persistence port. Atomic runs fn in a single unit of work:
// either every write made through tx is kept or none is.
type Store interface {
	Repositories
	Atomic(ctx context.Context, fn func(ctx context.Context, tx Repositories) error) error
}
