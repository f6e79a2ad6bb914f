// Package ratelimiter provides a token bucket limiter with in-memory and Redis
// stores and an HTTP middleware.
//
// The billing API uses it to throttle checkout session creation per user:
//
//	bucket, err := ratelimiter.NewBucket(ratelimiter.NewMemoryStore(), cfg)
//	if err != nil {
//		return err
//	}
//	r.With(ratelimiter.Middleware(bucket, ratelimiter.RemoteIP, nil)).Post("/checkout-session", h)
//
// Denied requests do not consume tokens. Result.Remaining is negative for them.
package ratelimiter
