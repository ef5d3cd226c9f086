package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

// newTestLimiter connects to a local Redis and wipes test rate-limit keys.
// Tests skip when Redis is unreachable.
func newTestLimiter(t *testing.T) *Limiter {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("redis not available: %v", err)
	}
	cleanup := func() {
		iter := client.Scan(ctx, 0, "rl:*:test_*", 100).Iterator()
		for iter.Next(ctx) {
			client.Del(ctx, iter.Val())
		}
	}
	cleanup()
	t.Cleanup(func() {
		cleanup()
		client.Close()
	})
	return NewLimiter(client)
}

func TestAllowWithinLimit(t *testing.T) {
	limiter := newTestLimiter(t)
	ctx := context.Background()
	rule := Rule{Key: "rl:msg:", Limit: 3, Window: 10 * time.Second}

	for i := 0; i < 3; i++ {
		ok, err := limiter.Allow(ctx, "test_user1", rule)
		if err != nil {
			t.Fatalf("Allow() error: %v", err)
		}
		if !ok {
			t.Fatalf("request %d: expected allowed", i+1)
		}
	}

	ok, err := limiter.Allow(ctx, "test_user1", rule)
	if err != nil {
		t.Fatalf("Allow() error: %v", err)
	}
	if ok {
		t.Fatal("expected request over the limit to be denied")
	}
}

func TestRemaining(t *testing.T) {
	limiter := newTestLimiter(t)
	ctx := context.Background()
	rule := Rule{Key: "rl:msg:", Limit: 5, Window: 10 * time.Second}

	remaining, err := limiter.Remaining(ctx, "test_user2", rule)
	if err != nil {
		t.Fatalf("Remaining() error: %v", err)
	}
	if remaining != 5 {
		t.Fatalf("expected full limit before any request, got %d", remaining)
	}

	limiter.Allow(ctx, "test_user2", rule)
	limiter.Allow(ctx, "test_user2", rule)

	remaining, err = limiter.Remaining(ctx, "test_user2", rule)
	if err != nil {
		t.Fatalf("Remaining() error: %v", err)
	}
	if remaining != 3 {
		t.Fatalf("expected 3 remaining, got %d", remaining)
	}
}
