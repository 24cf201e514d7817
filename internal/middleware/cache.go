package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/gommon/log"
	"github.com/redis/go-redis/v9"

	"github.com/iliyamo/parkb/internal/config"
	"github.com/iliyamo/parkb/internal/parking"
)

// cachedResponse is what the cache stores per key.
type cachedResponse struct {
	Status      int    `json:"status"`
	ContentType string `json:"content_type"`
	Body        []byte `json:"body"`
}

// recorder tees the response body into buf until it exceeds limit.
type recorder struct {
	http.ResponseWriter
	status   int
	buf      bytes.Buffer
	limit    int
	overflow bool
}

func (r *recorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *recorder) Write(b []byte) (int, error) {
	if !r.overflow {
		if r.limit > 0 && r.buf.Len()+len(b) > r.limit {
			r.overflow = true
			r.buf.Reset()
		} else {
			r.buf.Write(b)
		}
	}
	return r.ResponseWriter.Write(b)
}

// ResponseCache serves repeated GETs of a few read-mostly routes from
// Redis. It also observes the parking service and drops every cached
// response when a change commits, so a hit is never older than the last
// entry or exit.
type ResponseCache struct {
	cfg config.CacheConfig
	rdb *redis.Client
	log *log.Logger
}

// NewResponseCache returns a cache over rdb. A nil client disables it.
func NewResponseCache(cfg config.CacheConfig, rdb *redis.Client) *ResponseCache {
	return &ResponseCache{cfg: cfg, rdb: rdb, log: log.New("cache")}
}

func (rc *ResponseCache) enabled() bool { return rc != nil && rc.cfg.Enabled && rc.rdb != nil }

func (rc *ResponseCache) key(c echo.Context) string {
	k := rc.cfg.Prefix + ":" + c.Path()
	if q := c.Request().URL.RawQuery; q != "" {
		k += "?" + q
	}
	return k
}

// Middleware caches 200 responses of the configured routes.  Requests with
// Cache-Control: no-cache always reach the handler.
func (rc *ResponseCache) Middleware() echo.MiddlewareFunc {
	if !rc.enabled() {
		return func(next echo.HandlerFunc) echo.HandlerFunc { return next }
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			if req.Method != http.MethodGet || !rc.cfg.Paths[c.Path()] {
				return next(c)
			}
			h := c.Response().Header()
			if req.Header.Get("Cache-Control") == "no-cache" {
				h.Set("X-Cache", "BYPASS")
				return next(c)
			}

			key := rc.key(c)
			if bs, err := rc.rdb.Get(req.Context(), key).Bytes(); err == nil {
				var cr cachedResponse
				if json.Unmarshal(bs, &cr) == nil {
					h.Set("X-Cache", "HIT")
					return c.Blob(cr.Status, cr.ContentType, cr.Body)
				}
			}

			rec := &recorder{ResponseWriter: c.Response().Writer, status: http.StatusOK, limit: rc.cfg.MaxBodyBytes}
			c.Response().Writer = rec
			h.Set("X-Cache", "MISS")
			if err := next(c); err != nil {
				return err
			}
			if rec.status != http.StatusOK || rec.overflow {
				return nil
			}
			bs, err := json.Marshal(cachedResponse{Status: rec.status, ContentType: h.Get(echo.HeaderContentType), Body: rec.buf.Bytes()})
			if err == nil {
				err = rc.rdb.Set(context.WithoutCancel(req.Context()), key, bs, rc.cfg.TTL).Err()
			}
			if err != nil {
				rc.log.Warnf("store %s: %v", key, err)
			}
			return nil
		}
	}
}

// Invalidate deletes every key under the cache prefix.
func (rc *ResponseCache) Invalidate(ctx context.Context) error {
	if !rc.enabled() {
		return nil
	}
	iter := rc.rdb.Scan(ctx, 0, rc.cfg.Prefix+":*", 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	return rc.rdb.Del(ctx, keys...).Err()
}

// Committed implements parking.Observer.
func (rc *ResponseCache) Committed(parking.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := rc.Invalidate(ctx); err != nil {
		rc.log.Warnf("invalidate: %v", err)
	}
}

// Failed implements parking.Observer.
func (rc *ResponseCache) Failed(string, parking.Kind) {}
