// Package lock provides a Redis-backed mutual exclusion lease used to keep
// redemption cycles of one variant from overlapping across processes.
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrNotHeld is returned by Release when the lease expired or was taken over.
var ErrNotHeld = errors.New("lock not held")

// compare-and-delete: only the token holder may release
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

type Locker struct {
	rdb *redis.Client
	ttl time.Duration
}

func New(rdb *redis.Client, ttl time.Duration) *Locker {
	return &Locker{rdb: rdb, ttl: ttl}
}

// Lease is a held lock.
type Lease struct {
	l     *Locker
	key   string
	token string
}

// TryAcquire takes the lock for key without waiting. It returns nil and no
// error when another holder has it.
func (l *Locker) TryAcquire(ctx context.Context, key string) (*Lease, error) {
	token := uuid.NewString()
	ok, err := l.rdb.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire %s: %w", key, err)
	}
	if !ok {
		return nil, nil
	}
	return &Lease{l: l, key: key, token: token}, nil
}

// Release frees the lease if it is still held by this holder.
func (le *Lease) Release(ctx context.Context) error {
	n, err := releaseScript.Run(ctx, le.l.rdb, []string{le.key}, le.token).Int64()
	if err != nil {
		return fmt.Errorf("release %s: %w", le.key, err)
	}
	if n == 0 {
		return ErrNotHeld
	}
	return nil
}
