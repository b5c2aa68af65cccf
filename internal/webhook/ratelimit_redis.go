package webhook

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// The first increment of a window sets its expiry; the script returns the
// count and the remaining TTL in milliseconds so all instances agree.
var fixedWindowScript = redis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
local ttl = redis.call("PTTL", KEYS[1])
if ttl < 0 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
  ttl = tonumber(ARGV[1])
end
return {current, ttl}
`)

// RedisRateLimiter shares fixed-window counters across instances.
type RedisRateLimiter struct {
	client    redis.Scripter
	limit     int
	window    time.Duration
	keyPrefix string
}

func NewRedisRateLimiter(client redis.Scripter, limit int, window time.Duration, keyPrefix string) *RedisRateLimiter {
	if keyPrefix == "" {
		keyPrefix = "webhook:ratelimit:"
	}
	return &RedisRateLimiter{
		client:    client,
		limit:     limit,
		window:    window,
		keyPrefix: keyPrefix,
	}
}

func (rl *RedisRateLimiter) Allow(ctx context.Context, key string) (Decision, error) {
	res, err := fixedWindowScript.Run(ctx, rl.client, []string{rl.keyPrefix + key}, rl.window.Milliseconds()).Int64Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("rate limit script: %w", err)
	}
	if len(res) != 2 {
		return Decision{}, fmt.Errorf("rate limit script: unexpected reply %v", res)
	}

	count, ttl := int(res[0]), time.Duration(res[1])*time.Millisecond
	resetAt := time.Now().Add(ttl)

	if count <= rl.limit {
		return Decision{Allowed: true, Remaining: rl.limit - count, ResetAt: resetAt}, nil
	}
	return Decision{Allowed: false, RetryAfter: ttl, ResetAt: resetAt}, nil
}
