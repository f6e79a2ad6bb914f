// Package billing implements the billing core of a SaaS backend: a plan catalog,
// per-user subscription records, an append-only credit ledger, hosted checkout
// sessions and a webhook reconciler that turns provider events into local state.
//
// # Architecture
//
// Local billing state changes only in response to verified provider webhooks.
// Checkout creates hosted payment sessions and, at most once per user, the
// provider-side customer; it never touches subscriptions, the ledger or payments.
//
//   - Catalog: immutable plans and credit packs, loaded from code or YAML
//   - Subscriptions: one record per user, free plan when none is stored
//   - Ledger: credit entries keyed by an idempotency key, balance is their sum
//   - Checkout: subscription and credit pack sessions, customer portal links
//   - Reconciler: verifies, normalizes and applies webhook events exactly once
//
// Persistence goes through the Store port. Store.Atomic runs one unit of work;
// the reconciler claims the event id, updates the records and appends ledger
// entries inside it, so a failed event leaves nothing behind and can be redelivered.
// MemoryStore is the in-process implementation; pkg/billing/pgstore backs it with PostgreSQL.
//
// Work for one user is serialized by a Locker. KeyedMutex covers a single process;
// pkg/redis provides a distributed one.
//
// # Providers
//
// StripeProvider and PaddleProvider talk to the real services. DevProvider fakes hosted
// checkout for local development and produces signed webhooks on completion.
//
// # Usage
//
//	catalog, err := billing.NewCatalog(billing.DefaultPlans(), billing.DefaultPacks()...)
//	if err != nil {
//		return err
//	}
//	store := billing.NewMemoryStore()
//	provider, err := billing.NewStripeProvider(cfg.Stripe)
//	if err != nil {
//		return err
//	}
//
//	checkout := billing.NewCheckout(store, catalog, users, provider, billing.WithLogger(log))
//	reconciler := billing.NewReconciler(provider, store, catalog, users, billing.WithLogger(log))
//
//	sess, err := checkout.CreateSession(ctx, billing.CheckoutParams{
//		UserID:     userID,
//		PlanID:     "plan-pro",
//		SuccessURL: "https://app.example.com/billing/success",
//		CancelURL:  "https://app.example.com/billing",
//	})
//
//	// in the webhook handler, with the raw request body
//	outcome, err := reconciler.HandleWebhook(ctx, body, r.Header)
//
// # Error Handling
//
// Errors wrap the sentinels in errors.go. ErrInvalidRequest covers every caller
// mistake; ErrInvalidSignature and ErrMalformedEvent reject a delivery; any other
// reconciler error means the delivery was not applied and should be retried.
package billing
