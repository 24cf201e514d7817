package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// RateLimitConfig configures the Redis token buckets in front of the API.
//
// Every caller gets an API bucket of Capacity tokens refilled at Rate
// tokens per second.  Gate routes (entry and exit) draw from a second
// bucket sized GateCapacity so that a burst of status polling never blocks
// a car at the barrier.  Callers are identified by user id when a bearer
// token is present and by client IP otherwise.
type RateLimitConfig struct {
	Enabled      bool
	Capacity     int             // RATE_LIMIT_CAPACITY
	Rate         float64         // RATE_LIMIT_RATE, tokens per second
	GateCapacity int             // RATE_LIMIT_GATE_CAPACITY
	Gate         map[string]bool // RATE_LIMIT_GATE_ROUTES
	Exempt       map[string]bool // RATE_LIMIT_EXEMPT, never limited
	StaffExempt  bool            // RATE_LIMIT_STAFF_EXEMPT, attendant terminals skip the limiter
	TTL          time.Duration   // idle buckets expire after TTL
	Prefix       string
	Debug        bool
}

// LoadRateLimitConfig reads RATE_LIMIT_* variables.
func LoadRateLimitConfig() RateLimitConfig {
	c := RateLimitConfig{
		Enabled:      envBool("RATE_LIMIT_ENABLED", true),
		Capacity:     envInt("RATE_LIMIT_CAPACITY", 60),
		Rate:         envFloat("RATE_LIMIT_RATE", 1),
		GateCapacity: envInt("RATE_LIMIT_GATE_CAPACITY", 10),
		Gate:         parseList(envStr("RATE_LIMIT_GATE_ROUTES", "/v1/entries,/v1/entries/reservation,/v1/exits"), nil),
		Exempt:       parseList(envStr("RATE_LIMIT_EXEMPT", "/healthz,/metrics"), nil),
		StaffExempt:  envBool("RATE_LIMIT_STAFF_EXEMPT", true),
		TTL:          envDur("RATE_LIMIT_TTL", 10*time.Minute),
		Prefix:       envStr("RATE_LIMIT_PREFIX", "parkb:rl"),
		Debug:        envBool("RATE_LIMIT_DEBUG", false),
	}
	if c.Capacity < 1 {
		c.Capacity = 1
	}
	if c.GateCapacity < 1 {
		c.GateCapacity = 1
	}
	if c.Rate <= 0 {
		c.Rate = 1
	}
	// A bucket must live long enough to refill completely, or an idle
	// caller would come back to a full bucket too early.
	if full := time.Duration(float64(c.Capacity) / c.Rate * float64(time.Second)); c.TTL < full {
		c.TTL = full
	}
	return c
}

func envStr(k, d string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return d
}

func envBool(k string, d bool) bool {
	switch strings.ToLower(os.Getenv(k)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	}
	return d
}

func envInt(k string, d int) int {
	if n, err := strconv.Atoi(os.Getenv(k)); err == nil {
		return n
	}
	return d
}

func envFloat(k string, d float64) float64 {
	if f, err := strconv.ParseFloat(os.Getenv(k), 64); err == nil {
		return f
	}
	return d
}

func envDur(k string, d time.Duration) time.Duration {
	if dur, err := time.ParseDuration(os.Getenv(k)); err == nil {
		return dur
	}
	return d
}
