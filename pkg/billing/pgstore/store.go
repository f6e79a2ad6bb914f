// Package pgstore implements the billing persistence ports on PostgreSQL.
package pgstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dmitrymomot/saasbilling/pkg/billing"
	"github.com/dmitrymomot/saasbilling/pkg/pg"
)

// Store is a billing.Store backed by a pgx pool.
type Store struct {
	pool *pgxpool.Pool
	repos
}

// New wraps an open pool. Run Migrations against it first.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool, repos: repos{db: pool}}
}

// Atomic runs fn in one transaction.
func (s *Store) Atomic(ctx context.Context, fn func(ctx context.Context, tx billing.Repositories) error) error {
	return pg.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		return fn(ctx, repos{db: tx})
	})
}

type repos struct {
	db pg.Querier
}

func (r repos) Subscriptions() billing.SubscriptionStore { return subscriptions(r) }
func (r repos) Ledger() billing.LedgerStore               { return ledger(r) }
func (r repos) Payments() billing.PaymentStore            { return payments(r) }
func (r repos) Customers() billing.CustomerStore          { return customers(r) }
func (r repos) Events() billing.EventStore                { return events(r) }

type subscriptions repos

func (r subscriptions) Get(ctx context.Context, userID string) (*billing.Subscription, error) {
	var (
		sub        billing.Subscription
		start, end *time.Time
		status     string
	)
	err := r.db.QueryRow(ctx, `
		SELECT user_id, plan_id, status, customer_ref, subscription_ref,
		       period_start, period_end, cancel_at_period_end, updated_at
		FROM billing_subscriptions WHERE user_id = $1`, userID,
	).Scan(&sub.UserID, &sub.PlanID, &status, &sub.CustomerRef, &sub.SubscriptionRef,
		&start, &end, &sub.CancelAtPeriodEnd, &sub.UpdatedAt)
	if pg.IsNotFoundError(err) {
		return nil, billing.ErrSubscriptionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load subscription: %w", err)
	}
	sub.Status = billing.SubscriptionStatus(status)
	sub.PeriodStart = derefTime(start)
	sub.PeriodEnd = derefTime(end)
	return &sub, nil
}

func (r subscriptions) Save(ctx context.Context, sub billing.Subscription) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO billing_subscriptions (user_id, plan_id, status, customer_ref, subscription_ref,
		                                   period_start, period_end, cancel_at_period_end, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (user_id) DO UPDATE SET
			plan_id = EXCLUDED.plan_id,
			status = EXCLUDED.status,
			customer_ref = EXCLUDED.customer_ref,
			subscription_ref = EXCLUDED.subscription_ref,
			period_start = EXCLUDED.period_start,
			period_end = EXCLUDED.period_end,
			cancel_at_period_end = EXCLUDED.cancel_at_period_end,
			updated_at = EXCLUDED.updated_at`,
		sub.UserID, sub.PlanID, string(sub.Status), sub.CustomerRef, sub.SubscriptionRef,
		nullTime(sub.PeriodStart), nullTime(sub.PeriodEnd), sub.CancelAtPeriodEnd, sub.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save subscription: %w", err)
	}
	return nil
}

type ledger repos

func (r ledger) Insert(ctx context.Context, e billing.LedgerEntry) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO billing_credit_ledger (id, user_id, delta, reason, idempotency_key, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		e.ID, e.UserID, e.Delta, string(e.Reason), e.IdempotencyKey, e.CreatedAt,
	)
	if pg.IsDuplicateKeyError(err) {
		return billing.ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("failed to insert ledger entry: %w", err)
	}
	return nil
}

func (r ledger) HasKey(ctx context.Context, key string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM billing_credit_ledger WHERE idempotency_key = $1)`, key,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check idempotency key: %w", err)
	}
	return exists, nil
}

func (r ledger) Balance(ctx context.Context, userID string) (int64, error) {
	var balance int64
	err := r.db.QueryRow(ctx,
		`SELECT COALESCE(SUM(delta), 0)::BIGINT FROM billing_credit_ledger WHERE user_id = $1`, userID,
	).Scan(&balance)
	if err != nil {
		return 0, fmt.Errorf("failed to compute balance: %w", err)
	}
	return balance, nil
}

func (r ledger) List(ctx context.Context, userID string, limit int) ([]billing.LedgerEntry, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, user_id, delta, reason, idempotency_key, created_at
		FROM billing_credit_ledger
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2`, userID, nullLimit(limit),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list ledger entries: %w", err)
	}
	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (billing.LedgerEntry, error) {
		var (
			e      billing.LedgerEntry
			reason string
		)
		err := row.Scan(&e.ID, &e.UserID, &e.Delta, &reason, &e.IdempotencyKey, &e.CreatedAt)
		e.Reason = billing.LedgerReason(reason)
		return e, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan ledger entries: %w", err)
	}
	return entries, nil
}

type payments repos

const paymentColumns = `id, user_id, amount, currency, status, description, occurred_at, invoice_ref, session_ref, event_id`

func scanPayment(row pgx.Row) (billing.PaymentRecord, error) {
	var (
		p      billing.PaymentRecord
		status string
	)
	err := row.Scan(&p.ID, &p.UserID, &p.Amount.Amount, &p.Amount.Currency, &status,
		&p.Description, &p.OccurredAt, &p.InvoiceRef, &p.SessionRef, &p.EventID)
	p.Status = billing.PaymentStatus(status)
	return p, err
}

func (r payments) Create(ctx context.Context, p billing.PaymentRecord) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO billing_payments (`+paymentColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		p.ID, p.UserID, p.Amount.Amount, p.Amount.Currency, string(p.Status),
		p.Description, p.OccurredAt, p.InvoiceRef, p.SessionRef, p.EventID,
	)
	if pg.IsDuplicateKeyError(err) {
		return billing.ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("failed to create payment: %w", err)
	}
	return nil
}

func (r payments) GetBySession(ctx context.Context, sessionRef string) (*billing.PaymentRecord, error) {
	if sessionRef == "" {
		return nil, billing.ErrPaymentNotFound
	}
	p, err := scanPayment(r.db.QueryRow(ctx, `
		SELECT `+paymentColumns+` FROM billing_payments
		WHERE session_ref = $1
		ORDER BY occurred_at
		LIMIT 1
		FOR UPDATE`, sessionRef))
	if pg.IsNotFoundError(err) {
		return nil, billing.ErrPaymentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load payment: %w", err)
	}
	return &p, nil
}

func (r payments) UpdateStatus(ctx context.Context, id string, status billing.PaymentStatus) error {
	tag, err := r.db.Exec(ctx, `UPDATE billing_payments SET status = $2 WHERE id = $1`, id, string(status))
	if err != nil {
		return fmt.Errorf("failed to update payment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return billing.ErrPaymentNotFound
	}
	return nil
}

func (r payments) List(ctx context.Context, userID string, limit int) ([]billing.PaymentRecord, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+paymentColumns+` FROM billing_payments
		WHERE user_id = $1
		ORDER BY occurred_at DESC, id DESC
		LIMIT $2`, userID, nullLimit(limit),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list payments: %w", err)
	}
	records, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (billing.PaymentRecord, error) {
		return scanPayment(row)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan payments: %w", err)
	}
	return records, nil
}

type customers repos

func (r customers) Get(ctx context.Context, userID string) (string, error) {
	var ref string
	err := r.db.QueryRow(ctx, `SELECT customer_ref FROM billing_customers WHERE user_id = $1`, userID).Scan(&ref)
	if pg.IsNotFoundError(err) {
		return "", billing.ErrCustomerNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to load customer: %w", err)
	}
	return ref, nil
}

func (r customers) UserByCustomer(ctx context.Context, customerRef string) (string, error) {
	var userID string
	err := r.db.QueryRow(ctx, `SELECT user_id FROM billing_customers WHERE customer_ref = $1`, customerRef).Scan(&userID)
	if pg.IsNotFoundError(err) {
		return "", billing.ErrCustomerNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to resolve customer: %w", err)
	}
	return userID, nil
}

func (r customers) Put(ctx context.Context, userID, customerRef string) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO billing_customers (user_id, customer_ref) VALUES ($1, $2)`, userID, customerRef)
	if pg.IsDuplicateKeyError(err) {
		return billing.ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("failed to save customer: %w", err)
	}
	return nil
}

type events repos

func (r events) Claim(ctx context.Context, eventID string, kind billing.EventKind, at time.Time) error {
	tag, err := r.db.Exec(ctx, `
		INSERT INTO billing_processed_events (event_id, kind, processed_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (event_id) DO NOTHING`, eventID, string(kind), at)
	if err != nil {
		return fmt.Errorf("failed to claim event: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return billing.ErrDuplicate
	}
	return nil
}

// UserDirectory resolves billing users from the application's profiles table.
type UserDirectory struct {
	db    pg.Querier
	query string
}

// NewUserDirectory reads id and email from table. The table name is trusted configuration.
func NewUserDirectory(db pg.Querier, table string) *UserDirectory {
	if table == "" {
		table = "profiles"
	}
	return &UserDirectory{
		db:    db,
		query: fmt.Sprintf(`SELECT id::TEXT, COALESCE(email, '') FROM %s WHERE id::TEXT = $1`, pgx.Identifier{table}.Sanitize()),
	}
}

func (d *UserDirectory) GetUser(ctx context.Context, userID string) (billing.User, error) {
	var u billing.User
	err := d.db.QueryRow(ctx, d.query, userID).Scan(&u.ID, &u.Email)
	if errors.Is(err, pgx.ErrNoRows) {
		return billing.User{}, billing.ErrUnknownUser
	}
	if err != nil {
		return billing.User{}, fmt.Errorf("failed to look up user: %w", err)
	}
	return u, nil
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func derefTime(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return t.UTC()
}

// nullLimit maps "no limit" to SQL NULL, which LIMIT treats as unbounded.
func nullLimit(limit int) *int {
	if limit <= 0 {
		return nil
	}
	return &limit
}
