package ratelimit

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/env-architect/architect/internal/observability"
)

func newTestRedisLimiter(t *testing.T) (*RedisLimiter, *miniredis.Miniredis) {
	t.Helper()
	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	logger := observability.NewLogger(observability.LogConfig{Output: io.Discard})
	return NewRedisLimiter(client, logger), server
}

func TestRedisLimiterAllowsWithinCapacity(t *testing.T) {
	limiter, _ := newTestRedisLimiter(t)
	ctx := context.Background()
	tier := Tier{Capacity: 5, RefillRate: 1}

	for i := 0; i < 5; i++ {
		decision := limiter.Allow(ctx, "user-1", tier)
		if !decision.Allowed {
			t.Fatalf("request %d: expected allowed, got denied", i)
		}
	}

	decision := limiter.Allow(ctx, "user-1", tier)
	if decision.Allowed {
		t.Fatal("expected the 6th request to exceed capacity and be denied")
	}
}

func TestRedisLimiterRefillsOverTime(t *testing.T) {
	limiter, _ := newTestRedisLimiter(t)
	ctx := context.Background()
	// A high refill rate makes the test's sleep short and reliable: even
	// a couple of milliseconds refills well past one token.
	tier := Tier{Capacity: 1, RefillRate: 1000}

	if !limiter.Allow(ctx, "user-2", tier).Allowed {
		t.Fatal("first request should be allowed")
	}
	if limiter.Allow(ctx, "user-2", tier).Allowed {
		t.Fatal("expected capacity to be exhausted immediately after consuming it")
	}

	time.Sleep(5 * time.Millisecond)

	if !limiter.Allow(ctx, "user-2", tier).Allowed {
		t.Fatal("expected a token to have refilled after 5ms at 1000 tokens/sec")
	}
}

func TestRedisLimiterIsolatesKeys(t *testing.T) {
	limiter, _ := newTestRedisLimiter(t)
	ctx := context.Background()
	tier := Tier{Capacity: 1, RefillRate: 1}

	if !limiter.Allow(ctx, "user-a", tier).Allowed {
		t.Fatal("user-a's first request should be allowed")
	}
	if !limiter.Allow(ctx, "user-b", tier).Allowed {
		t.Fatal("user-b's first request should be allowed independently of user-a")
	}
	if limiter.Allow(ctx, "user-a", tier).Allowed {
		t.Fatal("user-a's second request should be denied")
	}
}

func TestRedisLimiterFailsOpenWhenRedisUnreachable(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1"}) // nothing listening
	logger := observability.NewLogger(observability.LogConfig{Output: io.Discard})
	limiter := NewRedisLimiter(client, logger)

	decision := limiter.Allow(context.Background(), "user-3", TierAnonymous)
	if !decision.Allowed {
		t.Fatal("expected fail-open behavior when redis is unreachable")
	}
}

func TestRedisLimiterFailsOpenToFallbackWhenRedisUnreachable(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1"})
	logger := observability.NewLogger(observability.LogConfig{Output: io.Discard})
	fallback := NewLimiter(Config{RequestsPerSecond: 1, BurstSize: 1, Enabled: true})
	limiter := &RedisLimiter{Client: client, Logger: logger, Fallback: fallback}

	if !limiter.Allow(context.Background(), "user-4", TierAnonymous).Allowed {
		t.Fatal("expected the fallback limiter's first request to be allowed")
	}
	if limiter.Allow(context.Background(), "user-4", TierAnonymous).Allowed {
		t.Fatal("expected the fallback limiter to enforce its own burst size")
	}
}
