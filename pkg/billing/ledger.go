package billing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

// LedgerEntry is one immutable credit movement. Balance is the sum of all deltas for a user.
type LedgerEntry struct {
	ID             string
	UserID         string
	Delta          int64
	Reason         LedgerReason
	IdempotencyKey string
	CreatedAt      time.Time
}

func newLedgerEntry(userID string, delta int64, reason LedgerReason, key string, now time.Time) LedgerEntry {
	return LedgerEntry{
		ID:             ulid.Make().String(),
		UserID:         userID,
		Delta:          delta,
		Reason:         reason,
		IdempotencyKey: key,
		CreatedAt:      now,
	}
}

// Ledger is the append-only credit ledger service.
type Ledger struct {
	store Store
	users UserDirectory
	opts  options
}

// NewLedger builds the credit ledger service.
func NewLedger(store Store, users UserDirectory, opts ...Option) *Ledger {
	return &Ledger{
		store: store,
		users: users,
		opts:  newOptions(opts),
	}
}

// Balance returns the user's current credit balance; 0 when there are no entries.
func (l *Ledger) Balance(ctx context.Context, userID string) (int64, error) {
	if strings.TrimSpace(userID) == "" {
		return 0, fmt.Errorf("%w: user id is required", ErrInvalidRequest)
	}
	balance, err := l.store.Ledger().Balance(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to compute balance: %w", err)
	}
	return balance, nil
}

// Append records a credit movement. A key seen before yields ErrDuplicate and changes nothing;
// a debit that would take the balance below zero yields ErrInsufficientCredits.
func (l *Ledger) Append(ctx context.Context, userID string, delta int64, reason LedgerReason, idempotencyKey string) (LedgerEntry, error) {
	switch {
	case strings.TrimSpace(userID) == "":
		return LedgerEntry{}, fmt.Errorf("%w: user id is required", ErrInvalidRequest)
	case strings.TrimSpace(idempotencyKey) == "":
		return LedgerEntry{}, fmt.Errorf("%w: idempotency key is required", ErrInvalidRequest)
	case delta == 0:
		return LedgerEntry{}, fmt.Errorf("%w: delta must not be zero", ErrInvalidRequest)
	case !reason.Valid():
		return LedgerEntry{}, fmt.Errorf("%w: ledger reason %q", ErrInvalidRequest, reason)
	}

	if err := checkUser(ctx, l.users, l.opts.logger, userID); err != nil {
		return LedgerEntry{}, err
	}

	unlock, err := l.opts.locker.Lock(ctx, userLockKey(userID))
	if err != nil {
		return LedgerEntry{}, err
	}
	defer unlock()

	entry := newLedgerEntry(userID, delta, reason, idempotencyKey, l.opts.now())
	if err := l.store.Atomic(ctx, func(ctx context.Context, tx Repositories) error {
		return appendEntry(ctx, tx, entry)
	}); err != nil {
		return LedgerEntry{}, err
	}
	if delta > 0 {
		l.opts.metrics.CreditsGranted(reason, delta)
	}
	return entry, nil
}

// Consume debits credits for usage.
func (l *Ledger) Consume(ctx context.Context, userID string, credits int64, idempotencyKey string) (LedgerEntry, error) {
	if credits <= 0 {
		return LedgerEntry{}, fmt.Errorf("%w: credits to consume must be positive", ErrInvalidRequest)
	}
	return l.Append(ctx, userID, -credits, ReasonUsage, idempotencyKey)
}

// Entries returns the user's newest ledger entries first.
func (l *Ledger) Entries(ctx context.Context, userID string, limit int) ([]LedgerEntry, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrInvalidRequest)
	}
	entries, err := l.store.Ledger().List(ctx, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list ledger entries: %w", err)
	}
	return entries, nil
}

func appendEntry(ctx context.Context, repos Repositories, entry LedgerEntry) error {
	seen, err := repos.Ledger().HasKey(ctx, entry.IdempotencyKey)
	if err != nil {
		return fmt.Errorf("failed to check idempotency key: %w", err)
	}
	if seen {
		return ErrDuplicate
	}
	if entry.Delta < 0 {
		balance, err := repos.Ledger().Balance(ctx, entry.UserID)
		if err != nil {
			return fmt.Errorf("failed to compute balance: %w", err)
		}
		if balance+entry.Delta < 0 {
			return ErrInsufficientCredits
		}
	}
	if err := repos.Ledger().Insert(ctx, entry); err != nil {
		if errors.Is(err, ErrDuplicate) {
			return err
		}
		return fmt.Errorf("failed to insert ledger entry: %w", err)
	}
	return nil
}
