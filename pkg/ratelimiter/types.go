package ratelimiter

import "time"

// Result is the outcome of one rate limit check.
type Result struct {
	Limit     int
	Remaining int // negative when the request was denied
	ResetAt   time.Time
}

func (r *Result) Allowed() bool {
	return r.Remaining >= 0
}

// RetryAfter is zero for allowed requests.
func (r *Result) RetryAfter(now time.Time) time.Duration {
	if r.Allowed() {
		return 0
	}
	return max(r.ResetAt.Sub(now), 0)
}

// Config defines the token bucket. Capacity is the burst, RefillRate tokens
// are added every RefillInterval.
type Config struct {
	Capacity       int           `env:"CHECKOUT_RATE_CAPACITY" envDefault:"10"`
	RefillRate     int           `env:"CHECKOUT_RATE_REFILL" envDefault:"1"`
	RefillInterval time.Duration `env:"CHECKOUT_RATE_INTERVAL" envDefault:"30s"`
	Driver         string        `env:"CHECKOUT_RATE_DRIVER" envDefault:"memory"` // memory or redis
	RedisPrefix    string        `env:"CHECKOUT_RATE_REDIS_PREFIX" envDefault:"billing:rate:"`
}
