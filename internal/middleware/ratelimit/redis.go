package ratelimit

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xiaofeng19920506/microservice/internal/errors"
	"github.com/xiaofeng19920506/microservice/internal/logging"
	"github.com/xiaofeng19920506/microservice/internal/middleware"
)

// slidingWindowScript implements a sliding window limiter on Redis sorted
// sets, shared across gateway instances.
// Returns: [allowed (0/1), remaining, resetTimestampMs]
var slidingWindowScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])

redis.call('ZREMRANGEBYSCORE', key, 0, now - window)

local count = redis.call('ZCARD', key)

if count < limit then
    redis.call('ZADD', key, now, now .. '-' .. math.random(1000000))
    redis.call('PEXPIRE', key, window)
    return {1, limit - count - 1, now + window}
else
    local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
    local reset = now + window
    if #oldest >= 2 then
        reset = tonumber(oldest[2]) + window
    end
    return {0, 0, reset}
end
`)

// RedisLimiter provides Redis-backed rate limiting for multi-instance
// deployments where per-process counters would multiply the effective limit.
type RedisLimiter struct {
	client *redis.Client
	prefix string
	max    int
	maxStr string
	window time.Duration
}

// NewRedisLimiter creates a Redis-backed sliding window limiter.
func NewRedisLimiter(client *redis.Client, cfg Config) *RedisLimiter {
	if cfg.Window <= 0 {
		cfg.Window = 15 * time.Minute
	}
	if cfg.Max <= 0 {
		cfg.Max = 100
	}
	return &RedisLimiter{
		client: client,
		prefix: "gw:rl:",
		max:    cfg.Max,
		maxStr: strconv.Itoa(cfg.Max),
		window: cfg.Window,
	}
}

// Middleware returns a middleware enforcing the limit per client IP.
// If Redis is unreachable the limiter fails open: an unavailable limiter
// must not take the gateway down with it.
func (rl *RedisLimiter) Middleware(onLimited func()) middleware.Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := rl.prefix + ClientIP(r)

			ctx, cancel := context.WithTimeout(r.Context(), 100*time.Millisecond)
			defer cancel()

			result, err := slidingWindowScript.Run(ctx, rl.client,
				[]string{key},
				time.Now().UnixMilli(),
				rl.window.Milliseconds(),
				rl.max,
			).Int64Slice()

			if err != nil || len(result) != 3 {
				logging.Warn("redis rate limit unavailable, failing open", zap.Error(err))
				next.ServeHTTP(w, r)
				return
			}

			allowed := result[0] == 1
			remaining := result[1]
			reset := time.UnixMilli(result[2])

			w.Header().Set("X-RateLimit-Limit", rl.maxStr)
			w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(remaining, 10))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(reset.Unix(), 10))

			if !allowed {
				if onLimited != nil {
					onLimited()
				}
				w.Header().Set("Retry-After", strconv.Itoa(int(time.Until(reset).Seconds())+1))
				errors.ErrTooManyRequests.WriteJSON(w)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
