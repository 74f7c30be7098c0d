package redisclient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	ErrLockNotAcquired = errors.New("practitioner lock not acquired")
)

const lockRetryInterval = 25 * time.Millisecond

// Locker is used by the scheduling service to serialize check-then-write per practitioner.
type Locker interface {
	WithPractitionerLock(ctx context.Context, practitionerID uuid.UUID, fn func(ctx context.Context) error) error
}

type redisPractitionerLocker struct {
	client *redis.Client
	ttl    time.Duration
	wait   time.Duration
}

// NewRedisPractitionerLocker creates a locker that uses a per practitioner Redis key.
// A busy lock is retried for up to wait before ErrLockNotAcquired is returned.
func NewRedisPractitionerLocker(client *redis.Client, ttl, wait time.Duration) Locker {
	return &redisPractitionerLocker{
		client: client,
		ttl:    ttl,
		wait:   wait,
	}
}

func lockKey(practitionerID uuid.UUID) string {
	return fmt.Sprintf("lock:practitioner:%s", practitionerID.String())
}

func (l *redisPractitionerLocker) WithPractitionerLock(ctx context.Context, practitionerID uuid.UUID, fn func(ctx context.Context) error) error {
	key := lockKey(practitionerID)
	token := uuid.NewString()

	if err := l.acquire(ctx, key, token); err != nil {
		return err
	}

	defer func() {
		// release must run even when the request context is already done
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
		defer cancel()
		_ = l.release(releaseCtx, key, token)
	}()

	ctxWithTimeout, cancel := context.WithTimeout(ctx, l.ttl)
	defer cancel()

	return fn(ctxWithTimeout)
}

func (l *redisPractitionerLocker) acquire(ctx context.Context, key, token string) error {
	deadline := time.Now().Add(l.wait)
	for {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			return fmt.Errorf("acquire practitioner lock: %w", err)
		}
		if ok {
			return nil
		}
		if !time.Now().Before(deadline) {
			return ErrLockNotAcquired
		}

		timer := time.NewTimer(lockRetryInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("acquire practitioner lock: %w", ctx.Err())
		case <-timer.C:
		}
	}
}

var unlockScript = redis.NewScript(`
local val = redis.call("GET", KEYS[1])
if val == ARGV[1] then
  return redis.call("DEL", KEYS[1])
else
  return 0
end
`)

func (l *redisPractitionerLocker) release(ctx context.Context, key, token string) error {
	_, err := unlockScript.Run(ctx, l.client, []string{key}, token).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release practitioner lock: %w", err)
	}
	return nil
}
