package config

import (
	"strings"
	"time"
)

// CacheConfig configures the Redis response cache.  Only GET requests to
// the routes in Paths are cached.  The facility status changes with every
// entry and exit, so entries are short lived and are also dropped as soon
// as the parking service commits a change.
type CacheConfig struct {
	Enabled      bool
	Paths        map[string]bool // CACHE_PATHS, route patterns
	TTL          time.Duration   // CACHE_TTL
	Prefix       string          // CACHE_PREFIX, namespace of every key
	MaxBodyBytes int             // CACHE_MAX_BODY_BYTES, larger responses are not stored
}

// LoadCacheConfig reads CACHE_* variables.
func LoadCacheConfig() CacheConfig {
	c := CacheConfig{
		Enabled:      envBool("CACHE_ENABLED", true),
		Paths:        parseList(envStr("CACHE_PATHS", "/v1/status"), nil),
		TTL:          envDur("CACHE_TTL", 5*time.Second),
		Prefix:       envStr("CACHE_PREFIX", "parkb:cache"),
		MaxBodyBytes: envInt("CACHE_MAX_BODY_BYTES", 64<<10),
	}
	if c.TTL <= 0 {
		c.TTL = 5 * time.Second
	}
	return c
}

// parseList splits a comma separated list into a set, applying norm to
// each trimmed element.
func parseList(s string, norm func(string) string) map[string]bool {
	m := map[string]bool{}
	for _, p := range strings.Split(s, ",") {
		p = strings.TrimSpace(p)
		if norm != nil {
			p = norm(p)
		}
		if p != "" {
			m[p] = true
		}
	}
	return m
}
