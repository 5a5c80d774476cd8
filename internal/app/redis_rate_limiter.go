package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Counts hits in a fixed window. The INCR and the PEXPIRE on first hit run
// atomically inside the script, so concurrent senders cannot create an
// unexpiring key or split the window.
var slidingHitScript = redis.NewScript(`
local hits = redis.call("INCR", KEYS[1])
if hits == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
local remaining = redis.call("PTTL", KEYS[1])
if remaining < 0 then
  remaining = tonumber(ARGV[1])
end
return {hits, remaining}
`)

const defaultRateLimitPrefix = "pbtx:rate_limit"

// RedisTransferRateLimiter implements distributed rate limiting using Redis.
type RedisTransferRateLimiter struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisTransferRateLimiter(client redis.UniversalClient, prefix string) *RedisTransferRateLimiter {
	cleaned := strings.TrimSuffix(strings.TrimSpace(prefix), ":")
	if cleaned == "" {
		cleaned = defaultRateLimitPrefix
	}
	return &RedisTransferRateLimiter{client: client, prefix: cleaned}
}

func (r *RedisTransferRateLimiter) key(scope, subject string) string {
	return r.prefix + ":" + scope + ":" + subject
}

// ConsumeRateLimit records one hit for subject within scope and reports the
// hit count for the current window plus the seconds until the window resets.
// A zero count means the call was not counted (limiter disabled or bad input)
// and the caller should allow the request.
func (r *RedisTransferRateLimiter) ConsumeRateLimit(
	ctx context.Context,
	scope string,
	subject string,
	limit int,
	window time.Duration,
) (count int, retryAfterSeconds int, err error) {
	if r == nil || r.client == nil || limit <= 0 || window <= 0 {
		return 0, 0, nil
	}
	scope = strings.TrimSpace(scope)
	subject = strings.TrimSpace(subject)
	if scope == "" || subject == "" {
		return 0, 0, nil
	}

	windowMs := window.Milliseconds()
	if windowMs < 1000 {
		windowMs = 1000
	}

	raw, err := slidingHitScript.Run(ctx, r.client, []string{r.key(scope, subject)}, windowMs).Result()
	if err != nil {
		return 0, 0, err
	}

	reply, ok := raw.([]interface{})
	if !ok || len(reply) != 2 {
		return 0, 0, fmt.Errorf("unexpected redis limiter response shape: %T", raw)
	}
	hits, hitsOK := reply[0].(int64)
	remainingMs, ttlOK := reply[1].(int64)
	if !hitsOK || !ttlOK {
		return 0, 0, fmt.Errorf("unexpected redis limiter response types: %T, %T", reply[0], reply[1])
	}
	if remainingMs < 0 {
		remainingMs = windowMs
	}

	// Round the reset up to whole seconds, never below one
	retryAfter := int((remainingMs + 999) / 1000)
	if retryAfter < 1 {
		retryAfter = 1
	}
	return int(hits), retryAfter, nil
}
