package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Lease guards a sweep so that only one worker replica runs it at a time.
type Lease interface {
	// Acquire returns ok=false without error when another holder owns the lease.
	Acquire(ctx context.Context, ttl time.Duration) (release func(context.Context) error, ok bool, err error)
}

// LocalLease always grants the lease. Used when no shared lock service is configured.
type LocalLease struct{}

func (LocalLease) Acquire(context.Context, time.Duration) (func(context.Context) error, bool, error) {
	return func(context.Context) error { return nil }, true, nil
}

// releaseScript deletes the key only if it still holds our token, so an
// expired lease picked up by another replica is never released by us.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLease implements Lease with SET NX PX.
type RedisLease struct {
	client redis.Cmdable
	key    string
}

func NewRedisLease(client redis.Cmdable, key string) *RedisLease {
	if key == "" {
		key = "crowdfund:reconcile:lease"
	}
	return &RedisLease{client: client, key: key}
}

func (l *RedisLease) Acquire(ctx context.Context, ttl time.Duration) (func(context.Context) error, bool, error) {
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, l.key, token, ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("acquire lease %s: %w", l.key, err)
	}
	if !ok {
		return nil, false, nil
	}
	release := func(ctx context.Context) error {
		err := releaseScript.Run(ctx, l.client, []string{l.key}, token).Err()
		if err != nil && !errors.Is(err, redis.Nil) {
			return fmt.Errorf("release lease %s: %w", l.key, err)
		}
		return nil
	}
	return release, true, nil
}
