// Package runlock keeps two syncs of the same repository from running at
// once. The lock is a Redis key set with NX and a TTL; release only deletes
// the key while it still holds this holder's value.
package runlock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const keyPrefix = "issuesync:lock:" // issuesync:lock:{repository}

// ErrLocked means another run holds the lock
var ErrLocked = errors.New("another sync holds the lock")

var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

var extendScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("pexpire", KEYS[1], ARGV[2])
end
return 0
`)

// Locker acquires per-repository run locks
type Locker struct {
	client *redis.Client
	ttl    time.Duration
}

// Open connects to the Redis server at url, e.g. "redis://localhost:6379/0".
func Open(ctx context.Context, url string, ttl time.Duration) (*Locker, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return New(client, ttl), nil
}

// New wraps an existing client.
func New(client *redis.Client, ttl time.Duration) *Locker {
	return &Locker{client: client, ttl: ttl}
}

// Close closes the Redis client
func (l *Locker) Close() error {
	return l.client.Close()
}

// Lock is a held run lock
type Lock struct {
	locker *Locker
	key    string
	holder string
}

// Holder is the unique value stored under the lock key.
func (k *Lock) Holder() string { return k.holder }

// Acquire takes the lock for repository or returns ErrLocked.
func (l *Locker) Acquire(ctx context.Context, repository string) (*Lock, error) {
	key := keyPrefix + repository
	holder := uuid.NewString()

	ok, err := l.client.SetNX(ctx, key, holder, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire lock %s: %w", key, err)
	}
	if !ok {
		current, _ := l.client.Get(ctx, key).Result()
		return nil, fmt.Errorf("%w: %s held by %s", ErrLocked, repository, current)
	}
	return &Lock{locker: l, key: key, holder: holder}, nil
}

// Extend resets the TTL while the lock is still held.
func (k *Lock) Extend(ctx context.Context) error {
	n, err := extendScript.Run(ctx, k.locker.client, []string{k.key}, k.holder, k.locker.ttl.Milliseconds()).Int()
	if err != nil {
		return fmt.Errorf("failed to extend lock %s: %w", k.key, err)
	}
	if n == 0 {
		return fmt.Errorf("lock %s expired", k.key)
	}
	return nil
}

// Release drops the lock if it is still held. Releasing an expired or
// reacquired lock is a no-op.
func (k *Lock) Release(ctx context.Context) error {
	if err := releaseScript.Run(ctx, k.locker.client, []string{k.key}, k.holder).Err(); err != nil {
		return fmt.Errorf("failed to release lock %s: %w", k.key, err)
	}
	return nil
}
