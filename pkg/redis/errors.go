package redis

import "errors"

var (
	ErrEmptyConnectionURL           = errors.New("empty redis connection URL")
	ErrFailedToParseRedisConnString = errors.New("failed to parse redis connection string")
	ErrRedisNotReady                = errors.New("redis did not answer PING before the connect timeout")
	ErrHealthcheckFailed            = errors.New("redis healthcheck failed")

	// ErrLockExpired means the lock TTL ran out before the holder released it,
	// so another instance may have worked on the same user concurrently.
	ErrLockExpired = errors.New("billing lock expired before release")
)
