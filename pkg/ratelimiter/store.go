package ratelimiter

import (
	"context"
	"time"
)

// Store keeps bucket state. ConsumeTokens returns a negative remaining count
// when the bucket could not cover the request.
type Store interface {
	ConsumeTokens(ctx context.Context, key string, tokens int, config Config) (remaining int, resetAt time.Time, err error)
	Reset(ctx context.Context, key string) error
}
