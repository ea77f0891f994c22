package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

// ErrNotAcquired is returned by With when the key is already held. Contention
// is an expected outcome, not a failure; callers branch on it.
var ErrNotAcquired = errors.New("lock: not acquired")

const keyPrefix = "parley:lock:"

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
    return redis.call("DEL", KEYS[1])
else
    return 0
end
`)

// Locker provides short-lived named mutual exclusion across processes sharing
// the same Redis instance. Ownership is proven by token, and expiry is
// enforced by Redis; there is no renewal, so leases must cover the expected
// work duration.
type Locker struct {
	client *redis.Client
}

// New returns a Locker using the provided client.
func New(client *redis.Client) *Locker {
	return &Locker{client: client}
}

// Acquire attempts to take the lock for key with the given lease. It never
// waits: ok is false when the key is already held. The returned token proves
// ownership for Release.
func (l *Locker) Acquire(ctx context.Context, key string, lease time.Duration) (string, bool, error) {
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, keyPrefix+key, token, lease).Result()
	if err != nil {
		return "", false, fmt.Errorf("acquire lock %q: %w", key, err)
	}
	if !ok {
		return "", false, nil
	}
	return token, true, nil
}

// Release removes the lock only while token still matches the stored value.
// A mismatched or absent token is a no-op, so a holder whose lease expired
// cannot release the key out from under the next holder.
func (l *Locker) Release(ctx context.Context, key, token string) error {
	_, err := releaseScript.Run(ctx, l.client, []string{keyPrefix + key}, token).Result()
	if err == redis.Nil {
		err = nil
	}
	if err != nil {
		return fmt.Errorf("release lock %q: %w", key, err)
	}
	return nil
}

// With runs fn while holding the lock, releasing it on every exit path.
// It returns ErrNotAcquired without running fn when the key is contended.
func (l *Locker) With(ctx context.Context, key string, lease time.Duration, fn func(context.Context) error) error {
	token, ok, err := l.Acquire(ctx, key, lease)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotAcquired
	}
	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		_ = l.Release(releaseCtx, key, token)
	}()
	return fn(ctx)
}
