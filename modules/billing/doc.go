// Package billing is the HTTP module of the billing core. It exposes hosted
// checkout, the provider webhook, and read-only views of plans, subscription,
// credits and payments.
//
// Routes, relative to the mount point:
//
//	GET  /plans                      public catalog
//	POST /webhook                    provider deliveries, raw body up to 1 MiB
//	POST /checkout-session           {planId, userId} -> {sessionId, url}
//	POST /credits/checkout-session   {packId, userId} -> {sessionId, url}
//	POST /portal                     {returnUrl} -> {url}
//	GET  /subscription
//	GET  /credits
//	GET  /payments
//
// With WithAuth every user route requires a bearer token and acts for its subject.
// WithDevProvider adds the fake checkout pages used by the dev provider.
package billing
