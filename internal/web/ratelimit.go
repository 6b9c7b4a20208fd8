package web

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const defaultRateLimitPrefix = "todoauth:ratelimit"

var (
	errRateLimitMissingCounter = errors.New("web.ratelimit.missing_counter")
	errRateLimitInvalidPolicy  = errors.New("web.ratelimit.invalid_policy")
	errRateLimitUnexpectedEval = errors.New("web.ratelimit.unexpected_script_result")
)

// fixedWindowScript increments the window counter and starts the window on the first hit.
// It returns the hit count and the remaining window in milliseconds.
var fixedWindowScript = redis.NewScript(`
local count = redis.call('INCR', KEYS[1])
if count == 1 then
	redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
local ttl = redis.call('PTTL', KEYS[1])
if ttl < 0 then
	redis.call('PEXPIRE', KEYS[1], ARGV[1])
	ttl = tonumber(ARGV[1])
end
return { count, ttl }
`)

// WindowCounter counts hits for a key inside a fixed window.
type WindowCounter interface {
	Hit(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error)
}

// RedisWindowCounter keeps fixed-window counters in Redis.
type RedisWindowCounter struct {
	client redis.Scripter
}

// NewRedisWindowCounter wraps a go-redis client.
func NewRedisWindowCounter(client redis.Scripter) *RedisWindowCounter {
	return &RedisWindowCounter{client: client}
}

// NewRedisClient parses a redis:// URL into a go-redis client.
func NewRedisClient(redisURL string) (*redis.Client, error) {
	options, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("web.redis.parse_url: %w", err)
	}
	return redis.NewClient(options), nil
}

// Hit records one request for key and returns the count so far and the time left in the window.
func (counter *RedisWindowCounter) Hit(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	result, err := fixedWindowScript.Run(ctx, counter.client, []string{key}, window.Milliseconds()).Int64Slice()
	if err != nil {
		return 0, 0, fmt.Errorf("web.ratelimit.redis: %w", err)
	}
	if len(result) != 2 {
		return 0, 0, errRateLimitUnexpectedEval
	}
	return result[0], time.Duration(result[1]) * time.Millisecond, nil
}

// RateLimitPolicy bounds the number of requests per client IP per window.
type RateLimitPolicy struct {
	MaxRequests int64
	Window      time.Duration
	Prefix      string
}

// RateLimit rejects clients that exceed the policy with 429 and a Retry-After header.
// Counter failures let the request through.
func RateLimit(logger *zap.Logger, counter WindowCounter, policy RateLimitPolicy) (gin.HandlerFunc, error) {
	if counter == nil {
		return nil, errRateLimitMissingCounter
	}
	if policy.MaxRequests <= 0 || policy.Window <= 0 {
		return nil, fmt.Errorf("%w: max=%d window=%s", errRateLimitInvalidPolicy, policy.MaxRequests, policy.Window)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	prefix := policy.Prefix
	if prefix == "" {
		prefix = defaultRateLimitPrefix
	}
	limit := strconv.FormatInt(policy.MaxRequests, 10)

	return func(contextGin *gin.Context) {
		clientIP := contextGin.ClientIP()
		if clientIP == "" {
			clientIP = "unknown"
		}
		count, remainingWindow, err := counter.Hit(contextGin.Request.Context(), prefix+":ip:"+clientIP, policy.Window)
		if err != nil {
			logger.Warn("rate limit counter unavailable",
				zap.String("code", "web.ratelimit.counter_error"),
				zap.Error(err))
			contextGin.Next()
			return
		}

		remaining := policy.MaxRequests - count
		if remaining < 0 {
			remaining = 0
		}
		contextGin.Header("X-RateLimit-Limit", limit)
		contextGin.Header("X-RateLimit-Remaining", strconv.FormatInt(remaining, 10))

		if count > policy.MaxRequests {
			retryAfter := int64(math.Ceil(remainingWindow.Seconds()))
			if retryAfter < 1 {
				retryAfter = 1
			}
			contextGin.Header("Retry-After", strconv.FormatInt(retryAfter, 10))
			contextGin.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":   "too_many_requests",
				"message": "Too many requests, please try again later",
			})
			return
		}
		contextGin.Next()
	}, nil
}
