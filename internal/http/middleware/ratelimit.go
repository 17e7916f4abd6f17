// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file implements a per-identity token-bucket rate limiter. Requests are
// charged by route: an upload costs several tokens because it fans out into
// embedding calls, a question costs a couple, reads cost one. Rejected
// requests get a 429 whose Retry-After is the bucket's real refill time.
//
// Buckets live in process memory and idle ones are swept periodically; the
// limit is per replica, not global. Idempotent replays (see
// IdempotencyValidator) are served without spending tokens.
package middleware

import (
	"math"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

const defaultBucketTTL = 10 * time.Minute

// keyFunc selects the identity used to key a rate-limit bucket.
type keyFunc func(*gin.Context) string

// KeyByUserOrIP keys buckets by user ("user:<id>", from the "userID" context
// value or the X-User-ID header) and falls back to the client IP
// ("ip:<addr>").
func KeyByUserOrIP() keyFunc {
	return func(c *gin.Context) string {
		if s := c.GetString("userID"); s != "" {
			return "user:" + s
		}
		if s := strings.TrimSpace(c.GetHeader("X-User-ID")); s != "" {
			return "user:" + s
		}
		return "ip:" + c.ClientIP()
	}
}

// costFunc returns how many tokens a request consumes.
type costFunc func(*gin.Context) int

// CostByRoute returns a cost function keyed by "METHOD route-template"
// (e.g. "POST /api/v1/documents"). Unlisted routes cost one token.
func CostByRoute(costs map[string]int) costFunc {
	return func(c *gin.Context) int {
		if n, ok := costs[c.Request.Method+" "+c.FullPath()]; ok {
			return n
		}
		return 1
	}
}

// RateOption customizes a RateLimiter.
type RateOption func(*RateLimiter)

// WithCost sets the per-request token cost. Costs are clamped to [1, burst].
func WithCost(fn costFunc) RateOption {
	return func(rl *RateLimiter) { rl.costFn = fn }
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter is a set of token buckets keyed by identity. It is safe for
// concurrent use.
type RateLimiter struct {
	rps    rate.Limit
	burst  int
	keyFn  keyFunc
	costFn costFunc
	now    func() time.Time

	mu        sync.Mutex
	buckets   map[string]*bucket
	ttl       time.Duration
	lastSweep time.Time
}

// NewRateLimiter builds a limiter refilling rps tokens per second into
// buckets of size burst (coerced to at least 1). rps 0 means a bucket never
// refills.
func NewRateLimiter(rps float64, burst int, keyFn keyFunc, opts ...RateOption) *RateLimiter {
	rl := &RateLimiter{
		rps:     rate.Limit(rps),
		burst:   max(burst, 1),
		keyFn:   keyFn,
		now:     time.Now,
		buckets: make(map[string]*bucket),
		ttl:     defaultBucketTTL,
	}
	for _, o := range opts {
		o(rl)
	}
	rl.lastSweep = rl.now()
	return rl
}

// cost returns the clamped token cost of the current request.
func (rl *RateLimiter) cost(c *gin.Context) int {
	if rl.costFn == nil {
		return 1
	}
	return min(max(rl.costFn(c), 1), rl.burst)
}

// limiter returns the bucket for key, creating it if absent. Buckets idle for
// a full TTL are dropped at most once per TTL, before the lookup, so an
// expired bucket is never revived.
func (rl *RateLimiter) limiter(key string, now time.Time) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if now.Sub(rl.lastSweep) >= rl.ttl {
		for k, b := range rl.buckets {
			if now.Sub(b.lastSeen) >= rl.ttl {
				delete(rl.buckets, k)
			}
		}
		rl.lastSweep = now
	}

	b, ok := rl.buckets[key]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(rl.rps, rl.burst)}
		rl.buckets[key] = b
	}
	b.lastSeen = now
	return b.limiter
}

// IsRateBypass reports whether IdempotencyValidator marked this request as a
// replay that must not spend tokens.
func IsRateBypass(c *gin.Context) bool {
	return c.GetBool(ctxKeyRateBypass)
}

// Handler returns the Gin middleware. A refused request gets:
//
//	HTTP/1.1 429 Too Many Requests
//	Retry-After: <seconds until the cost is available>
//	{"request_id": "...", "code": "rate_limited", "message": "rate limit exceeded"}
//
// Retry-After is omitted when the bucket never refills (rps 0).
func (rl *RateLimiter) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if IsRateBypass(c) {
			c.Next()
			return
		}

		now := rl.now()
		res := rl.limiter(rl.keyFn(c), now).ReserveN(now, rl.cost(c))
		if res.OK() {
			delay := res.DelayFrom(now)
			if delay == 0 {
				c.Next()
				return
			}
			res.CancelAt(now)
			c.Header("Retry-After", strconv.Itoa(int(math.Ceil(delay.Seconds()))))
		}

		route := c.FullPath()
		if route == "" {
			route = unmatchedRoute
		}
		httpRateLimited.WithLabelValues(route).Inc()

		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"request_id": RequestIDFrom(c),
			"code":       "rate_limited",
			"message":    "rate limit exceeded",
		})
	}
}
