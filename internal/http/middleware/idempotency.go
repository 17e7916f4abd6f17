// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file handles the Idempotency-Key header on unsafe requests. A client
// retrying an upload sends the same key; when the lookup reports that
// (user, route, key) already produced a document, the request is flagged as
// a replay so the handler can return the stored document instead of ingesting
// the file again, and the rate limiter lets it through for free.
//
// Safe methods ignore the header: reads are naturally idempotent and caching
// keys for them would only grow the table.
package middleware

import (
	"context"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

// HeaderIdempotencyKey is the request header carrying the client's key.
const HeaderIdempotencyKey = "Idempotency-Key"

// HeaderIdempotencyReplayed is set on responses served from a stored result.
const HeaderIdempotencyReplayed = "Idempotency-Replayed"

// DefaultUserID is the identity used when neither the auth layer nor the
// X-User-ID header supplies one.
const DefaultUserID = "demo-user"

const defaultKeyMaxLen = 200

const (
	ctxKeyIdemKey    = "idem.key"
	ctxKeyIdemReplay = "idem.replay"
	ctxKeyRateBypass = "rate.bypass"
)

var defaultKeyPattern = regexp.MustCompile(`^[A-Za-z0-9._~\-:]+$`)

var idempotentReplays = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: metricsSubsystem,
		Name:      "idempotent_replays_total",
		Help:      "Responses served from a stored idempotent result.",
	},
	[]string{"route"},
)

func init() { prometheus.MustRegister(idempotentReplays) }

// IdempotencyOptions configures header validation. TTL enforcement belongs to
// the lookup.
type IdempotencyOptions struct {
	// MaxLen caps the accepted key length. Values <= 0 default to 200.
	MaxLen int
	// Pattern restricts allowed characters; nil means ^[A-Za-z0-9._~\-:]+$.
	Pattern *regexp.Regexp
}

// IdempotencyLookup reports whether a still-valid result exists for
// (userID, scope, key) at now. A miss is (false, nil); an error is logged
// and treated as a miss.
type IdempotencyLookup func(ctx context.Context, userID, scope, key string, now time.Time) (exists bool, err error)

// IdempotencyValidator validates the Idempotency-Key header on POST, PUT,
// PATCH and DELETE, stashes the key, and flags the request as a replay when
// lookup finds a stored result. Malformed keys get a 400:
//
//	{"request_id": "...", "code": "bad_idempotency_key", "message": "invalid Idempotency-Key"}
func IdempotencyValidator(opts IdempotencyOptions, lookup IdempotencyLookup) gin.HandlerFunc {
	maxLen := opts.MaxLen
	if maxLen <= 0 {
		maxLen = defaultKeyMaxLen
	}
	pat := opts.Pattern
	if pat == nil {
		pat = defaultKeyPattern
	}
	valid := func(k string) bool { return len(k) <= maxLen && pat.MatchString(k) }

	return func(c *gin.Context) {
		key := strings.TrimSpace(c.GetHeader(HeaderIdempotencyKey))
		if key == "" || isSafeMethod(c.Request.Method) {
			c.Next()
			return
		}
		if !valid(key) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"request_id": RequestIDFrom(c),
				"code":       "bad_idempotency_key",
				"message":    "invalid Idempotency-Key",
			})
			return
		}
		c.Set(ctxKeyIdemKey, key)

		if lookup == nil {
			c.Next()
			return
		}
		exists, err := lookup(c.Request.Context(), UserIDFrom(c), IdempotencyScope(c), key, time.Now().UTC())
		switch {
		case err != nil:
			LoggerFrom(c).Warn().Err(err).Str("idempotency_key", key).Msg("idempotency lookup failed")
		case exists:
			c.Set(ctxKeyIdemReplay, true)
			c.Set(ctxKeyRateBypass, true)
		}
		c.Next()
	}
}

func isSafeMethod(m string) bool {
	return m == http.MethodGet || m == http.MethodHead || m == http.MethodOptions
}

// IdempotencyScope is the namespace a key lives in: the matched route
// template, or the raw path when no route matched. The same key may be
// reused across endpoints.
func IdempotencyScope(c *gin.Context) string {
	if p := c.FullPath(); p != "" {
		return p
	}
	return c.Request.URL.Path
}

// GetIdempotencyKey returns the validated key stashed by IdempotencyValidator.
func GetIdempotencyKey(c *gin.Context) (string, bool) {
	s := c.GetString(ctxKeyIdemKey)
	return s, s != ""
}

// IsReplay reports whether the lookup found a completed request for this
// (user, route, key).
func IsReplay(c *gin.Context) bool {
	return c.GetBool(ctxKeyIdemReplay)
}

// MarkReplayed flags the response as served from a stored result.
func MarkReplayed(c *gin.Context) {
	c.Header(HeaderIdempotencyReplayed, "true")
	idempotentReplays.WithLabelValues(IdempotencyScope(c)).Inc()
}

// UserIDFrom resolves the caller: the "userID" context value set by an auth
// layer, then the X-User-ID header, then DefaultUserID.
func UserIDFrom(c *gin.Context) string {
	if s := c.GetString("userID"); s != "" {
		return s
	}
	if c.Request != nil {
		if h := strings.TrimSpace(c.GetHeader("X-User-ID")); h != "" {
			return h
		}
	}
	return DefaultUserID
}
