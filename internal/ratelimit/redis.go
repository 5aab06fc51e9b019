package ratelimit

import (
	"context"
	_ "embed"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/env-architect/architect/internal/observability"
)

//go:embed bucket.lua
var bucketScriptSource string

var bucketScript = redis.NewScript(bucketScriptSource)

// Tier is a named identity-class rate-limit policy (spec §4.12).
type Tier struct {
	Capacity   float64
	RefillRate float64 // tokens per second
}

// TierAuthenticated and TierAnonymous are the two identity tiers spec
// §4.12 names.
var (
	TierAuthenticated = Tier{Capacity: 5000, RefillRate: 83}
	TierAnonymous     = Tier{Capacity: 60, RefillRate: 1}
)

// Decision is the verdict for one rate-limit check.
type Decision struct {
	Allowed         bool
	TokensRemaining float64
}

// RedisLimiter enforces a Redis-backed token bucket per identity key,
// atomic via bucket.lua, a single server-side script (spec §4.12). State
// lives entirely in Redis so the policy is shared correctly across every
// registry-api replica.
//
// On a Redis failure the policy fails open: the request is allowed and a
// warning is logged, optionally after consulting Fallback (an in-process
// Limiter) so a brief Redis outage degrades to per-instance limiting
// instead of no limiting at all.
type RedisLimiter struct {
	Client   *redis.Client
	Logger   *observability.Logger
	Fallback *Limiter
}

// NewRedisLimiter creates a RedisLimiter.
func NewRedisLimiter(client *redis.Client, logger *observability.Logger) *RedisLimiter {
	return &RedisLimiter{Client: client, Logger: logger}
}

// Allow consumes one token from key's bucket under tier.
func (r *RedisLimiter) Allow(ctx context.Context, key string, tier Tier) Decision {
	return r.AllowN(ctx, key, tier, 1)
}

// AllowN consumes n tokens from key's bucket under tier.
func (r *RedisLimiter) AllowN(ctx context.Context, key string, tier Tier, n float64) Decision {
	now := float64(time.Now().UnixNano()) / float64(time.Second)

	res, err := bucketScript.Run(ctx, r.Client, []string{"ratelimit:" + key},
		tier.Capacity, tier.RefillRate, n, now).Result()
	if err != nil {
		return r.failOpen(ctx, key, n, err)
	}

	values, ok := res.([]interface{})
	if !ok || len(values) != 2 {
		return r.failOpen(ctx, key, n, nil)
	}

	allowed, _ := values[0].(int64)
	return Decision{
		Allowed:         allowed == 1,
		TokensRemaining: parseRedisFloat(values[1]),
	}
}

func (r *RedisLimiter) failOpen(ctx context.Context, key string, n float64, err error) Decision {
	if r.Logger != nil {
		if err != nil {
			r.Logger.Warn(ctx, "rate limiter redis call failed, failing open", "key", key, "error", err)
		} else {
			r.Logger.Warn(ctx, "rate limiter script returned an unexpected shape, failing open", "key", key)
		}
	}
	if r.Fallback != nil {
		allowed := r.Fallback.AllowN(key, int(n))
		return Decision{Allowed: allowed, TokensRemaining: r.Fallback.GetStatus(key).TokensRemaining}
	}
	return Decision{Allowed: true}
}

func parseRedisFloat(v interface{}) float64 {
	switch t := v.(type) {
	case string:
		f, _ := strconv.ParseFloat(t, 64)
		return f
	case int64:
		return float64(t)
	case float64:
		return t
	default:
		return 0
	}
}
