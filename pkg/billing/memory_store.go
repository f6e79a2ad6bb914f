package billing

import (
	"cmp"
	"context"
	"maps"
	"slices"
	"sync"
	"time"
)

// MemoryStore is a Store kept in process memory, for development and tests.
// Atomic works on a copy of the state and swaps it in when fn succeeds.
type MemoryStore struct {
	mu    sync.RWMutex
	state *memoryState
}

type memoryEvent struct {
	kind EventKind
	at   time.Time
}

type memoryState struct {
	subscriptions map[string]Subscription
	ledger        []LedgerEntry
	ledgerKeys    map[string]struct{}
	payments      map[string]PaymentRecord
	paymentEvents map[string]string
	customers     map[string]string
	customerUsers map[string]string
	events        map[string]memoryEvent
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{state: newMemoryState()}
}

func newMemoryState() *memoryState {
	return &memoryState{
		subscriptions: make(map[string]Subscription),
		ledgerKeys:    make(map[string]struct{}),
		payments:      make(map[string]PaymentRecord),
		paymentEvents: make(map[string]string),
		customers:     make(map[string]string),
		customerUsers: make(map[string]string),
		events:        make(map[string]memoryEvent),
	}
}

func (s *memoryState) clone() *memoryState {
	return &memoryState{
		subscriptions: maps.Clone(s.subscriptions),
		ledger:        slices.Clone(s.ledger),
		ledgerKeys:    maps.Clone(s.ledgerKeys),
		payments:      maps.Clone(s.payments),
		paymentEvents: maps.Clone(s.paymentEvents),
		customers:     maps.Clone(s.customers),
		customerUsers: maps.Clone(s.customerUsers),
		events:        maps.Clone(s.events),
	}
}

func (s *MemoryStore) Atomic(ctx context.Context, fn func(ctx context.Context, tx Repositories) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	work := s.state.clone()
	if err := fn(ctx, &memoryRepos{state: work}); err != nil {
		return err
	}
	s.state = work
	return nil
}

func (s *MemoryStore) Subscriptions() SubscriptionStore { return memorySubscriptions{s.repos()} }
func (s *MemoryStore) Ledger() LedgerStore               { return memoryLedger{s.repos()} }
func (s *MemoryStore) Payments() PaymentStore            { return memoryPayments{s.repos()} }
func (s *MemoryStore) Customers() CustomerStore          { return memoryCustomers{s.repos()} }
func (s *MemoryStore) Events() EventStore                { return memoryEvents{s.repos()} }

func (s *MemoryStore) repos() *memoryRepos { return &memoryRepos{store: s} }

// memoryRepos works either on the shared state under the store lock or on the
// private copy of a running Atomic call.
type memoryRepos struct {
	store *MemoryStore
	state *memoryState
}

func (r *memoryRepos) Subscriptions() SubscriptionStore { return memorySubscriptions{r} }
func (r *memoryRepos) Ledger() LedgerStore               { return memoryLedger{r} }
func (r *memoryRepos) Payments() PaymentStore            { return memoryPayments{r} }
func (r *memoryRepos) Customers() CustomerStore          { return memoryCustomers{r} }
func (r *memoryRepos) Events() EventStore                { return memoryEvents{r} }

func (r *memoryRepos) read(fn func(st *memoryState)) {
	if r.state != nil {
		fn(r.state)
		return
	}
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	fn(r.store.state)
}

func (r *memoryRepos) write(fn func(st *memoryState) error) error {
	if r.state != nil {
		return fn(r.state)
	}
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	return fn(r.store.state)
}

type memorySubscriptions struct{ *memoryRepos }

func (r memorySubscriptions) Get(_ context.Context, userID string) (*Subscription, error) {
	var (
		sub Subscription
		ok  bool
	)
	r.read(func(st *memoryState) { sub, ok = st.subscriptions[userID] })
	if !ok {
		return nil, ErrSubscriptionNotFound
	}
	return &sub, nil
}

func (r memorySubscriptions) Save(_ context.Context, sub Subscription) error {
	return r.write(func(st *memoryState) error {
		st.subscriptions[sub.UserID] = sub
		return nil
	})
}

type memoryLedger struct{ *memoryRepos }

func (r memoryLedger) Insert(_ context.Context, entry LedgerEntry) error {
	return r.write(func(st *memoryState) error {
		if _, ok := st.ledgerKeys[entry.IdempotencyKey]; ok {
			return ErrDuplicate
		}
		st.ledgerKeys[entry.IdempotencyKey] = struct{}{}
		st.ledger = append(st.ledger, entry)
		return nil
	})
}

func (r memoryLedger) HasKey(_ context.Context, idempotencyKey string) (bool, error) {
	var ok bool
	r.read(func(st *memoryState) { _, ok = st.ledgerKeys[idempotencyKey] })
	return ok, nil
}

func (r memoryLedger) Balance(_ context.Context, userID string) (int64, error) {
	var balance int64
	r.read(func(st *memoryState) {
		for _, e := range st.ledger {
			if e.UserID == userID {
				balance += e.Delta
			}
		}
	})
	return balance, nil
}

func (r memoryLedger) List(_ context.Context, userID string, limit int) ([]LedgerEntry, error) {
	var out []LedgerEntry
	r.read(func(st *memoryState) {
		for i := len(st.ledger) - 1; i >= 0; i-- {
			if st.ledger[i].UserID != userID {
				continue
			}
			out = append(out, st.ledger[i])
			if limit > 0 && len(out) == limit {
				return
			}
		}
	})
	return out, nil
}

type memoryPayments struct{ *memoryRepos }

func (r memoryPayments) Create(_ context.Context, p PaymentRecord) error {
	return r.write(func(st *memoryState) error {
		if p.EventID != "" {
			if _, ok := st.paymentEvents[p.EventID]; ok {
				return ErrDuplicate
			}
			st.paymentEvents[p.EventID] = p.ID
		}
		st.payments[p.ID] = p
		return nil
	})
}

func (r memoryPayments) GetBySession(_ context.Context, sessionRef string) (*PaymentRecord, error) {
	var (
		found PaymentRecord
		ok    bool
	)
	r.read(func(st *memoryState) {
		for _, p := range st.payments {
			if p.SessionRef == sessionRef {
				found, ok = p, true
				return
			}
		}
	})
	if !ok || sessionRef == "" {
		return nil, ErrPaymentNotFound
	}
	return &found, nil
}

func (r memoryPayments) UpdateStatus(_ context.Context, id string, status PaymentStatus) error {
	return r.write(func(st *memoryState) error {
		p, ok := st.payments[id]
		if !ok {
			return ErrPaymentNotFound
		}
		p.Status = status
		st.payments[id] = p
		return nil
	})
}

func (r memoryPayments) List(_ context.Context, userID string, limit int) ([]PaymentRecord, error) {
	var out []PaymentRecord
	r.read(func(st *memoryState) {
		for _, p := range st.payments {
			if p.UserID == userID {
				out = append(out, p)
			}
		}
	})
	slices.SortFunc(out, func(a, b PaymentRecord) int {
		if c := b.OccurredAt.Compare(a.OccurredAt); c != 0 {
			return c
		}
		return cmp.Compare(b.ID, a.ID)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type memoryCustomers struct{ *memoryRepos }

func (r memoryCustomers) Get(_ context.Context, userID string) (string, error) {
	var (
		ref string
		ok  bool
	)
	r.read(func(st *memoryState) { ref, ok = st.customers[userID] })
	if !ok {
		return "", ErrCustomerNotFound
	}
	return ref, nil
}

func (r memoryCustomers) UserByCustomer(_ context.Context, customerRef string) (string, error) {
	var (
		userID string
		ok     bool
	)
	r.read(func(st *memoryState) { userID, ok = st.customerUsers[customerRef] })
	if !ok {
		return "", ErrCustomerNotFound
	}
	return userID, nil
}

func (r memoryCustomers) Put(_ context.Context, userID, customerRef string) error {
	return r.write(func(st *memoryState) error {
		if _, ok := st.customers[userID]; ok {
			return ErrDuplicate
		}
		st.customers[userID] = customerRef
		st.customerUsers[customerRef] = userID
		return nil
	})
}

type memoryEvents struct{ *memoryRepos }

func (r memoryEvents) Claim(_ context.Context, eventID string, kind EventKind, at time.Time) error {
	return r.write(func(st *memoryState) error {
		if _, ok := st.events[eventID]; ok {
			return ErrDuplicate
		}
		st.events[eventID] = memoryEvent{kind: kind, at: at}
		return nil
	})
}

// MemoryDirectory is a UserDirectory backed by a map.
type MemoryDirectory struct {
	mu    sync.RWMutex
	users map[string]User
}

func NewMemoryDirectory(users ...User) *MemoryDirectory {
	d := &MemoryDirectory{users: make(map[string]User, len(users))}
	for _, u := range users {
		d.users[u.ID] = u
	}
	return d
}

// Add registers or replaces a user.
func (d *MemoryDirectory) Add(u User) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.users[u.ID] = u
}

func (d *MemoryDirectory) GetUser(_ context.Context, userID string) (User, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	u, ok := d.users[userID]
	if !ok {
		return User{}, ErrUnknownUser
	}
	return u, nil
}
