package lock

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	return mr, redis.NewClient(&redis.Options{Addr: mr.Addr()})
}

func TestTryAcquire_Exclusive(t *testing.T) {
	_, rdb := newTestRedis(t)
	l := New(rdb, time.Minute)
	ctx := context.Background()

	a, err := l.TryAcquire(ctx, "redeem:legacy")
	if err != nil || a == nil {
		t.Fatalf("first acquire = %v, %v", a, err)
	}
	b, err := l.TryAcquire(ctx, "redeem:legacy")
	if err != nil || b != nil {
		t.Fatalf("second acquire = %v, %v; want nil lease", b, err)
	}
	other, err := l.TryAcquire(ctx, "redeem:horizon")
	if err != nil || other == nil {
		t.Fatalf("independent key = %v, %v", other, err)
	}

	if err := a.Release(ctx); err != nil {
		t.Fatalf("release: %v", err)
	}
	c, err := l.TryAcquire(ctx, "redeem:legacy")
	if err != nil || c == nil {
		t.Fatalf("acquire after release = %v, %v", c, err)
	}
}

func TestRelease_AfterExpiryDoesNotFreeSuccessor(t *testing.T) {
	mr, rdb := newTestRedis(t)
	l := New(rdb, time.Second)
	ctx := context.Background()

	old, err := l.TryAcquire(ctx, "k")
	if err != nil || old == nil {
		t.Fatalf("acquire: %v", err)
	}
	mr.FastForward(2 * time.Second)

	successor, err := l.TryAcquire(ctx, "k")
	if err != nil || successor == nil {
		t.Fatalf("successor acquire = %v, %v", successor, err)
	}
	if err := old.Release(ctx); !errors.Is(err, ErrNotHeld) {
		t.Fatalf("stale release err = %v, want ErrNotHeld", err)
	}
	if !mr.Exists("k") {
		t.Error("successor lease was deleted")
	}
}
