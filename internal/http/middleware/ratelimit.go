// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file implements a lightweight, in-memory, fixed-window rate limiter
// with per-identity counters and opportunistic garbage collection. Requests
// are counted inside consecutive windows of fixed length; once a window's
// budget is spent, further requests are rejected until the window rolls over,
// at which point the count resets to zero.
//
// Three tiers are composed in the router:
//   - a global tier counting every request against one shared budget
//   - a per-user tier keyed by the authenticated user ID
//   - a per-API-key tier keyed by the X-API-Key header (skipped when absent)
//
// Notes:
//   - This limiter is process-local. For horizontally scaled deployments,
//     prefer a distributed limiter (e.g., Redis-backed) to enforce global limits.
//   - The limiter is intended for edge-level abuse control and cost protection;
//     it is not an authorization mechanism.
package middleware

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// APIKeyHeader is the request header carrying a client API key.
const APIKeyHeader = "X-API-Key"

// keyFunc selects the identity used to key a rate-limit window.
//
// Implementations should return a stable string for the duration of a request
// (e.g., "user:<id>" or "ip:<addr>"). An empty key means the tier does not
// apply to this request and limiting is skipped.
type keyFunc func(*gin.Context) string

// KeyGlobal returns a keyFunc that maps every request to one shared window,
// enforcing a service-wide budget.
func KeyGlobal() keyFunc {
	return func(*gin.Context) string { return "global" }
}

// KeyByUserOrIP returns a keyFunc that prefers a user identity (from the Gin
// context under "userID", typically set by the auth middleware) and falls back
// to the client IP address.
//
// The resulting keys are prefixed to avoid collisions between user and IP
// namespaces (e.g., "user:abc123" vs "ip:203.0.113.7").
func KeyByUserOrIP() keyFunc {
	return func(c *gin.Context) string {
		if v, ok := c.Get("userID"); ok {
			if s, ok := v.(string); ok && s != "" {
				return "user:" + s
			}
		}
		return "ip:" + c.ClientIP()
	}
}

// KeyByAPIKey returns a keyFunc keyed by the X-API-Key header. Requests
// without the header return an empty key, so the tier is skipped for them.
func KeyByAPIKey() keyFunc {
	return func(c *gin.Context) string {
		if k := c.GetHeader(APIKeyHeader); k != "" {
			return "apikey:" + k
		}
		return ""
	}
}

// window holds one identity's counter for the current fixed window plus the
// last time it was seen. Used to opportunistically evict idle entries.
type window struct {
	start    time.Time
	count    int
	lastSeen time.Time
}

// RateLimiter implements a per-key fixed-window rate limiter.
//
// Windows are created on demand and stored in an internal map guarded by a
// mutex. Idle entries are evicted after a TTL via opportunistic cleanup
// during lookups to keep memory usage bounded.
//
// This type is safe for concurrent use.
type RateLimiter struct {
	max    int
	period time.Duration
	keyFn  keyFunc

	mu       sync.Mutex
	visitors map[string]*window

	ttl      time.Duration
	cleanupN uint64

	// now is a seam for tests; defaults to time.Now.
	now func() time.Time
}

// NewRateLimiter constructs a RateLimiter allowing max requests per period,
// keyed by keyFn.
//
//   - max:    requests allowed inside one window; values <= 0 coerce to 1.
//   - period: window length; values <= 0 coerce to one minute.
//   - keyFn:  function that maps a request to a window identity.
//
// The returned limiter is ready to be installed as middleware via Handler().
func NewRateLimiter(max int, period time.Duration, keyFn keyFunc) *RateLimiter {
	if max <= 0 {
		max = 1
	}
	if period <= 0 {
		period = time.Minute
	}
	return &RateLimiter{
		max:      max,
		period:   period,
		keyFn:    keyFn,
		visitors: make(map[string]*window),
		ttl:      10 * time.Minute, // evict idle entries after TTL
	}
}

// take counts one request against key's current window. It reports whether
// the request is allowed, plus the remaining budget and the time the window
// resets. It also performs opportunistic GC of idle entries after ~5000
// lookups.
//
// IMPORTANT: Run GC *before* touching the requested window so an "old" entry
// can be evicted even when it's the one being fetched.
func (rl *RateLimiter) take(key string) (allowed bool, remaining int, reset time.Time) {
	now := rl.clock()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	// Opportunistic cleanup after a threshold of lookups, then reset the counter.
	// Do this BEFORE updating/creating the requested window to avoid
	// refreshing an "old" entry that should be evicted.
	rl.cleanupN++
	if rl.cleanupN >= 5000 {
		for k, w := range rl.visitors {
			if now.Sub(w.lastSeen) >= rl.ttl {
				delete(rl.visitors, k)
			}
		}
		rl.cleanupN = 0
	}

	w, ok := rl.visitors[key]
	if !ok {
		w = &window{start: now}
		rl.visitors[key] = w
	}
	w.lastSeen = now

	// Roll over to a fresh window once the current one has elapsed. The count
	// resets fully; no credit carries across the boundary.
	if now.Sub(w.start) >= rl.period {
		w.start = now
		w.count = 0
	}

	reset = w.start.Add(rl.period)
	if w.count >= rl.max {
		return false, 0, reset
	}
	w.count++
	return true, rl.max - w.count, reset
}

// IsRateBypass reports whether IdempotencyValidator marked this request for
// rate-limit bypass (i.e., it is a replay of a previously completed request).
//
// When true, Handler() will skip limiting so replays are served without
// consuming budget.
func IsRateBypass(c *gin.Context) bool {
	v, ok := c.Get(ctxKeyRateBypass) // set by IdempotencyValidator
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}

// Handler returns a Gin middleware that enforces per-key fixed-window limits.
//
// Behavior:
//   - If IsRateBypass(c) is true (idempotent replay), limiting is skipped.
//   - If the key function returns "" (tier not applicable), limiting is skipped.
//   - Otherwise the request is counted against the key's window. If the budget
//     is spent, a 429 response is returned with a compact JSON body and a
//     Retry-After header holding the seconds until the window resets.
//
// Every limited response carries X-RateLimit-Limit, X-RateLimit-Remaining,
// and X-RateLimit-Reset headers.
func (rl *RateLimiter) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if IsRateBypass(c) {
			c.Next()
			return
		}

		key := rl.keyFn(c)
		if key == "" {
			c.Next()
			return
		}

		allowed, remaining, reset := rl.take(key)

		c.Header("X-RateLimit-Limit", strconv.Itoa(rl.max))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(remaining))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(reset.Unix(), 10))

		if allowed {
			c.Next()
			return
		}

		retryAfter := int(reset.Sub(rl.clock()).Seconds())
		if retryAfter < 1 {
			retryAfter = 1
		}
		c.Header("Retry-After", strconv.Itoa(retryAfter))
		AbortEnvelope(c, http.StatusTooManyRequests, "too_many_requests", "rate limit exceeded")
	}
}

// clock returns the limiter time source (test seam).
func (rl *RateLimiter) clock() time.Time {
	if rl.now != nil {
		return rl.now()
	}
	return time.Now()
}
