package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/sitenotify/dispatch/internal/domain"
)

const rateLimitKeyPrefix = "ratelimit:"

// tokenBucketScript is an atomic check-and-consume: refill the bucket
// for elapsed time since the last call, then take one token if any are
// available. Running it as a single EVAL keeps the read-modify-write
// free of the race a client-side pipeline would have between computing
// the refill and writing it back.
//
// KEYS[1] = bucket hash key (fields: tokens, refilled_at)
// ARGV[1] = capacity (also the refill rate per second; burst == rate)
// ARGV[2] = now (unix nanoseconds)
// ARGV[3] = bucket TTL seconds, so idle sites don't hold Redis memory forever
var tokenBucketScript = goredis.NewScript(`
local key = KEYS[1]
local capacity = tonumber(ARGV[1])
local now = tonumber(ARGV[2])
local ttl = tonumber(ARGV[3])

local tokens = capacity
local refilledAt = now

local state = redis.call("HMGET", key, "tokens", "refilled_at")
if state[1] and state[2] then
	tokens = tonumber(state[1])
	refilledAt = tonumber(state[2])
	local elapsedSec = (now - refilledAt) / 1e9
	local refill = elapsedSec * capacity
	tokens = math.min(capacity, tokens + refill)
end

local allowed = 0
if tokens >= 1 then
	tokens = tokens - 1
	allowed = 1
end

redis.call("HSET", key, "tokens", tostring(tokens), "refilled_at", tostring(now))
redis.call("EXPIRE", key, ttl)

return allowed
`)

// RateLimiter implements domain.RateLimiter using a Redis-backed token
// bucket, one bucket per (site, channel) so a single noisy tenant cannot
// exhaust a shared provider connection's throughput for everyone else.
type RateLimiter struct {
	client      *Client
	limitPerSec int
}

// NewRateLimiter creates a new RateLimiter. limitPerSec is both the
// bucket capacity and the refill rate: no tenant can save up more burst
// than its configured steady-state rate.
func NewRateLimiter(client *Client, limitPerSec int) *RateLimiter {
	return &RateLimiter{
		client:      client,
		limitPerSec: limitPerSec,
	}
}

func rateLimitKey(site domain.SiteID, channel domain.Channel) string {
	return fmt.Sprintf("%s%s:%s", rateLimitKeyPrefix, site, channel)
}

// Allow implements domain.RateLimiter.
func (r *RateLimiter) Allow(ctx context.Context, site domain.SiteID, channel domain.Channel) (bool, error) {
	key := rateLimitKey(site, channel)
	const bucketTTLSeconds = 60

	result, err := tokenBucketScript.Run(ctx, r.client.client, []string{key}, r.limitPerSec, time.Now().UnixNano(), bucketTTLSeconds).Int()
	if err != nil {
		return false, fmt.Errorf("evaluate token bucket: %w", err)
	}

	return result == 1, nil
}
