package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/dmitrymomot/saasbilling/pkg/billing"
	"github.com/dmitrymomot/saasbilling/pkg/logger"
)

// releaseScript deletes the lock only while it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Locker is a billing.Locker shared by every instance that talks to the same Redis.
// Locks expire after the configured TTL.
type Locker struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
	poll   time.Duration
	log    *slog.Logger
}

var _ billing.Locker = (*Locker)(nil)

// NewLocker creates a Redis-backed locker using the lock settings from cfg.
func NewLocker(client redis.UniversalClient, cfg Config, log *slog.Logger) *Locker {
	if log == nil {
		log = slog.Default()
	}
	l := &Locker{
		client: client,
		prefix: cfg.LockPrefix,
		ttl:    cfg.LockTTL,
		poll:   cfg.LockPollInterval,
		log:    log,
	}
	if l.ttl <= 0 {
		l.ttl = 30 * time.Second
	}
	if l.poll <= 0 {
		l.poll = 50 * time.Millisecond
	}
	return l
}

// Lock polls SET NX PX until the key is acquired or ctx is done.
func (l *Locker) Lock(ctx context.Context, key string) (func(), error) {
	name := l.prefix + key
	token := uuid.NewString()

	ticker := time.NewTicker(l.poll)
	defer ticker.Stop()

	for {
		ok, err := l.client.SetNX(ctx, name, token, l.ttl).Result()
		if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			return nil, errors.Join(billing.ErrLockUnavailable, fmt.Errorf("failed to acquire %s: %w", key, err))
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return nil, errors.Join(billing.ErrLockUnavailable, ctx.Err())
		case <-ticker.C:
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			deleted, err := releaseScript.Run(rctx, l.client, []string{name}, token).Int()
			switch {
			case err != nil:
				l.log.WarnContext(ctx, "failed to release billing lock", slog.String("key", key), logger.Error(err))
			case deleted == 0:
				l.log.WarnContext(ctx, "billing lock was not held on release", slog.String("key", key), logger.Error(ErrLockExpired))
			}
		})
	}, nil
}
