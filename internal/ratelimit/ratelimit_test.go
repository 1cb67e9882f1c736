package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap/zaptest"
)

var (
	_ Limiter = (*IPLimiter)(nil)
	_ Limiter = (*RedisLimiter)(nil)
)

func TestAllowUnderLimit(t *testing.T) {
	l := NewIPLimiter(3, time.Hour)

	for i := 0; i < 3; i++ {
		if !l.Allow("1.2.3.4") {
			t.Fatalf("request %d should be allowed", i+1)
		}
	}
}

func TestDenyOverLimit(t *testing.T) {
	l := NewIPLimiter(3, time.Hour)

	for i := 0; i < 3; i++ {
		l.Allow("1.2.3.4")
	}
	if l.Allow("1.2.3.4") {
		t.Fatal("4th request should be denied")
	}
}

func TestDifferentIPsIndependent(t *testing.T) {
	l := NewIPLimiter(2, time.Hour)

	l.Allow("1.1.1.1")
	l.Allow("1.1.1.1")

	if l.Allow("1.1.1.1") {
		t.Fatal("1.1.1.1 should be denied")
	}
	if !l.Allow("2.2.2.2") {
		t.Fatal("2.2.2.2 should be allowed")
	}
}

func TestExpiredEntriesPruned(t *testing.T) {
	l := NewIPLimiter(2, time.Minute)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }

	l.Allow("1.2.3.4")
	l.Allow("1.2.3.4")

	if l.Allow("1.2.3.4") {
		t.Fatal("should be denied before window expires")
	}

	now = now.Add(61 * time.Second)

	if !l.Allow("1.2.3.4") {
		t.Fatal("should be allowed after window expires")
	}
}

func TestSweepForgetsIdleAddresses(t *testing.T) {
	l := NewIPLimiter(2, time.Minute)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }

	l.Allow("1.1.1.1")
	now = now.Add(30 * time.Second)
	l.Allow("2.2.2.2")
	now = now.Add(45 * time.Second)

	l.Sweep()
	if l.Len() != 1 {
		t.Fatalf("expected 1 tracked address, got %d", l.Len())
	}
}

func newTestRedisLimiter(t *testing.T, max int, window time.Duration, hooks ...redis.Hook) (*RedisLimiter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	for _, h := range hooks {
		client.AddHook(h)
	}
	t.Cleanup(func() { client.Close() })
	return NewRedisLimiter(client, max, window, zaptest.NewLogger(t)), mr
}

// refuseExpire fails every standalone EXPIRE/PEXPIRE command.
type refuseExpire struct{}

func (refuseExpire) DialHook(next redis.DialHook) redis.DialHook { return next }

func (refuseExpire) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		switch cmd.Name() {
		case "expire", "pexpire":
			err := errors.New("expire refused")
			cmd.SetErr(err)
			return err
		}
		return next(ctx, cmd)
	}
}

func (refuseExpire) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return next
}

func TestRedisLimiterWindowSetAtomically(t *testing.T) {
	l, mr := newTestRedisLimiter(t, 1, time.Second, refuseExpire{})

	if !l.Allow("1.2.3.4") {
		t.Fatal("first attempt should be allowed")
	}
	if ttl := mr.TTL("chatmatch:ratelimit:1.2.3.4"); ttl != time.Second {
		t.Fatalf("counter must carry the window TTL, got %v", ttl)
	}

	mr.FastForward(time.Hour)

	if !l.Allow("1.2.3.4") {
		t.Fatal("address must be allowed again once the window has passed")
	}
}

func TestRedisLimiterRepairsCounterWithoutTTL(t *testing.T) {
	l, mr := newTestRedisLimiter(t, 1, time.Minute)
	key := "chatmatch:ratelimit:1.2.3.4"
	if err := mr.Set(key, "5"); err != nil {
		t.Fatal(err)
	}

	if l.Allow("1.2.3.4") {
		t.Fatal("over-limit counter should deny")
	}
	if ttl := mr.TTL(key); ttl != time.Minute {
		t.Fatalf("expected the stale counter to get a TTL, got %v", ttl)
	}

	mr.FastForward(61 * time.Second)
	if !l.Allow("1.2.3.4") {
		t.Fatal("should be allowed after the repaired window expires")
	}
}

func TestRedisLimiterDenyOverLimit(t *testing.T) {
	l, mr := newTestRedisLimiter(t, 2, time.Minute)

	if !l.Allow("1.2.3.4") || !l.Allow("1.2.3.4") {
		t.Fatal("first two attempts should be allowed")
	}
	if l.Allow("1.2.3.4") {
		t.Fatal("third attempt should be denied")
	}
	if !l.Allow("5.6.7.8") {
		t.Fatal("other addresses should be unaffected")
	}

	if ttl := mr.TTL("chatmatch:ratelimit:1.2.3.4"); ttl != time.Minute {
		t.Fatalf("expected window TTL of 1m, got %v", ttl)
	}
}

func TestRedisLimiterWindowExpires(t *testing.T) {
	l, mr := newTestRedisLimiter(t, 1, time.Minute)

	l.Allow("1.2.3.4")
	if l.Allow("1.2.3.4") {
		t.Fatal("second attempt should be denied")
	}

	mr.FastForward(61 * time.Second)

	if !l.Allow("1.2.3.4") {
		t.Fatal("should be allowed in the next window")
	}
}

func TestRedisLimiterFailsOpen(t *testing.T) {
	l, mr := newTestRedisLimiter(t, 1, time.Minute)
	mr.Close()

	for i := 0; i < 3; i++ {
		if !l.Allow("1.2.3.4") {
			t.Fatalf("attempt %d should be allowed while redis is down", i+1)
		}
	}
}
