package middleware

import (
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"

	"github.com/iliyamo/parkb/internal/config"
)

// takeScript refills a bucket continuously at ARGV[3] tokens per second and
// tries to take one token.  It returns {allowed, remaining, retry_after_ms}.
var takeScript = redis.NewScript(`
local key = KEYS[1]
local now_ms = tonumber(ARGV[1])
local capacity = tonumber(ARGV[2])
local rate = tonumber(ARGV[3])
local ttl_ms = tonumber(ARGV[4])

local tokens = tonumber(redis.call('HGET', key, 'tokens'))
local at = tonumber(redis.call('HGET', key, 'at'))
if tokens == nil or at == nil then
    tokens = capacity
    at = now_ms
end
tokens = math.min(capacity, tokens + math.max(0, now_ms - at) * rate / 1000)

local allowed = 0
local retry_ms = 0
if tokens >= 1 then
    allowed = 1
    tokens = tokens - 1
else
    retry_ms = math.ceil((1 - tokens) * 1000 / rate)
end
redis.call('HSET', key, 'tokens', tostring(tokens), 'at', now_ms)
redis.call('PEXPIRE', key, ttl_ms)
return {allowed, math.floor(tokens), retry_ms}
`)

// verdict is the outcome of one take.
type verdict struct {
	allowed   bool
	remaining int64
	retry     time.Duration
}

func parseVerdict(v interface{}) (verdict, bool) {
	arr, ok := v.([]interface{})
	if !ok || len(arr) != 3 {
		return verdict{}, false
	}
	n := make([]int64, 3)
	for i, x := range arr {
		switch t := x.(type) {
		case int64:
			n[i] = t
		case string:
			p, err := strconv.ParseInt(t, 10, 64)
			if err != nil {
				return verdict{}, false
			}
			n[i] = p
		default:
			return verdict{}, false
		}
	}
	return verdict{allowed: n[0] == 1, remaining: n[1], retry: time.Duration(n[2]) * time.Millisecond}, true
}

// bucketFor returns the key and capacity of the bucket a request draws
// from.
func bucketFor(cfg config.RateLimitConfig, c echo.Context) (string, int) {
	class, capacity := "api", cfg.Capacity
	if cfg.Gate[c.Path()] {
		class, capacity = "gate", cfg.GateCapacity
	}
	who := "ip:" + c.RealIP()
	if id, ok := UserID(c); ok {
		who = "user:" + strconv.FormatUint(id, 10)
	}
	return strings.Join([]string{cfg.Prefix, class, who}, ":"), capacity
}

// NewTokenBucket limits requests with token buckets kept in Redis so that
// all API instances share one budget per caller.  It reads the caller
// identity set by OptionalJWT, so it must run after it.  Redis failures let
// the request through; a gate must never lock out a car because the cache
// host is down.
func NewTokenBucket(cfg config.RateLimitConfig, rdb *redis.Client) echo.MiddlewareFunc {
	if !cfg.Enabled || rdb == nil {
		return func(next echo.HandlerFunc) echo.HandlerFunc { return next }
	}
	ttl := cfg.TTL.Milliseconds()

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if cfg.Exempt[c.Path()] || (cfg.StaffExempt && Role(c).Staff()) {
				return next(c)
			}
			key, capacity := bucketFor(cfg, c)
			res, err := takeScript.Run(c.Request().Context(), rdb, []string{key},
				time.Now().UnixMilli(), capacity, cfg.Rate, ttl).Result()
			if err != nil {
				if cfg.Debug {
					c.Logger().Warnf("ratelimit: %s: %v", key, err)
				}
				return next(c)
			}
			v, ok := parseVerdict(res)
			if !ok {
				c.Logger().Warnf("ratelimit: %s: unexpected reply %#v", key, res)
				return next(c)
			}

			h := c.Response().Header()
			h.Set("X-RateLimit-Limit", strconv.Itoa(capacity))
			h.Set("X-RateLimit-Remaining", strconv.FormatInt(v.remaining, 10))
			if v.allowed {
				return next(c)
			}
			secs := int(math.Ceil(v.retry.Seconds()))
			h.Set("Retry-After", strconv.Itoa(secs))
			if cfg.Debug {
				c.Logger().Infof("ratelimit: blocked %s for %s", key, v.retry)
			}
			return c.JSON(http.StatusTooManyRequests, echo.Map{
				"error":       "RateLimited",
				"message":     "too many requests",
				"retry_after": secs,
			})
		}
	}
}
