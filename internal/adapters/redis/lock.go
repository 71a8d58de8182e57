package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"courier/internal/domain"
)

const lockRetryInterval = 25 * time.Millisecond

var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Locker implements ports.Locker with SET NX locks that expire after ttl.
type Locker struct {
	client *Client
	ttl    time.Duration
}

// NewLocker creates a new distributed locker.
func NewLocker(client *Client, ttl time.Duration) *Locker {
	return &Locker{
		client: client,
		ttl:    ttl,
	}
}

// Lock blocks until the lock on key is held or ctx is done.
func (l *Locker) Lock(ctx context.Context, key string) (func(), error) {
	k := lockKey(key)
	token := uuid.NewString()

	for {
		ok, err := l.client.SetNX(ctx, k, token, l.ttl)
		if err != nil {
			return nil, fmt.Errorf("acquire lock %s: %w", key, err)
		}
		if ok {
			break
		}

		select {
		case <-ctx.Done():
			return nil, errors.Join(domain.ErrLockNotAcquired, ctx.Err())
		case <-time.After(lockRetryInterval):
		}
	}

	return func() {
		// The lock may already have expired; a stale token is simply left alone.
		_ = unlockScript.Run(context.WithoutCancel(ctx), l.client.Native(), []string{k}, token).Err()
	}, nil
}
