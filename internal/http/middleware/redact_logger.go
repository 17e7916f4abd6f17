// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file implements RedactingLogger, a structured HTTP logger that scrubs
// obvious PII from request metadata before emitting logs, and installs the
// request-scoped logger used by handlers and services.
//
// Design goals:
//   - Default-safe: never logs request or response bodies (uploads, prompts)
//   - Redacts common identifiers (emails, phone numbers, UUIDs)
//   - Masks sensitive headers (Authorization, Cookie, Set-Cookie, plus custom)
//   - Masks whole query parameters that carry user text (e.g. search terms)
//
// Usage:
//
//	r := gin.New()
//	r.Use(middleware.RequestID())
//	r.Use(middleware.RedactingLogger(middleware.RedactOptions{
//	    MaskHeaders:     []string{"X-Api-Key"},
//	    MaskQueryParams: []string{"q"},
//	}))
//
// Security note: this middleware reduces but does not eliminate the risk of
// sensitive data leaking to logs.
package middleware

import (
	"regexp"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

const redacted = "[REDACTED]"

var (
	uuidRE  = regexp.MustCompile(`(?i)\b[0-9a-f]{8}\-[0-9a-f]{4}\-[1-5][0-9a-f]{3}\-[89ab][0-9a-f]{3}\-[0-9a-f]{12}\b`)
	emailRE = regexp.MustCompile(`(?i)\b[a-z0-9._%+\-]+@[a-z0-9.\-]+\.[a-z]{2,}\b`)
	// Digits only, so hex runs inside UUIDs never match.
	phoneRE = regexp.MustCompile(`\b(?:\+?\d{1,3}[ .-]?)?(?:\(?\d{2,4}\)?[ .-]?)?\d{3,4}[ .-]?\d{4}\b`)
)

// RedactOptions configures additional scrub behavior for RedactingLogger.
//
// MaskHeaders lists extra header names whose values are replaced with
// "[REDACTED]" (case-insensitive, merged with Authorization, Cookie and
// Set-Cookie). MaskQueryParams lists query parameter names whose values are
// replaced the same way.
type RedactOptions struct {
	MaskHeaders     []string
	MaskQueryParams []string
}

// redact replaces ids, then emails, then phone numbers. UUIDs go first so the
// phone pattern cannot eat their digit groups.
func redact(s string) string {
	if s == "" {
		return s
	}
	s = uuidRE.ReplaceAllString(s, "[REDACTED:id]")
	s = emailRE.ReplaceAllString(s, "[REDACTED:email]")
	return phoneRE.ReplaceAllString(s, "[REDACTED:phone]")
}

// redactQuery masks listed parameters and pattern-redacts the rest. The raw
// query is processed pair by pair so order and encoding are preserved.
func redactQuery(raw string, mask map[string]struct{}) string {
	if raw == "" {
		return raw
	}
	pairs := strings.Split(raw, "&")
	for i, p := range pairs {
		name, _, hasValue := strings.Cut(p, "=")
		if _, ok := mask[strings.ToLower(name)]; ok && hasValue {
			pairs[i] = name + "=" + redacted
			continue
		}
		pairs[i] = redact(p)
	}
	return strings.Join(pairs, "&")
}

func lowerSet(base []string, extra []string) map[string]struct{} {
	set := make(map[string]struct{}, len(base)+len(extra))
	for _, s := range append(append([]string(nil), base...), extra...) {
		if s = strings.ToLower(strings.TrimSpace(s)); s != "" {
			set[s] = struct{}{}
		}
	}
	return set
}

// RedactingLogger returns a Gin middleware that logs HTTP requests with
// sensitive values scrubbed.
//
// Behavior:
//   - Installs a request-scoped logger (request_id, user_id, and the
//     request context so the global trace hook can add span ids) in the Gin
//     context and the request context before calling the next handler.
//   - Logs method, route path, query string, status, response size, latency
//     and request headers, all scrubbed.
//   - Logs at INFO by default, WARN for 4xx and ERROR for 5xx.
//
// The request id comes from RequestID when it ran first; otherwise a
// well-formed incoming X-Request-ID header is logged as is.
func RedactingLogger(opts RedactOptions) gin.HandlerFunc {
	maskHeaders := lowerSet([]string{"authorization", "cookie", "set-cookie"}, opts.MaskHeaders)
	maskQuery := lowerSet(nil, opts.MaskQueryParams)

	return func(c *gin.Context) {
		start := time.Now()

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		safeQuery := redactQuery(c.Request.URL.RawQuery, maskQuery)

		safeHeaders := make(map[string]string, len(c.Request.Header))
		for k, vv := range c.Request.Header {
			if _, ok := maskHeaders[strings.ToLower(k)]; ok {
				safeHeaders[k] = redacted
				continue
			}
			safeHeaders[k] = redact(strings.Join(vv, ", "))
		}

		reqID := RequestIDFrom(c)
		if h := c.GetHeader(requestIDHeader); reqID == "" && requestIDPattern.MatchString(h) {
			reqID = h
		}

		l := log.With().
			Ctx(c.Request.Context()).
			Str("request_id", reqID).
			Str("user_id", UserIDFrom(c)).
			Logger()
		attachLogger(c, &l)

		c.Next()

		status := c.Writer.Status()
		ev := l.Info()
		switch {
		case status >= 500:
			ev = l.Error()
		case status >= 400:
			ev = l.Warn()
		}

		ev.
			Str("method", c.Request.Method).
			Str("path", path).
			Str("query", safeQuery).
			Int("status", status).
			Int("bytes", c.Writer.Size()).
			Dur("latency", time.Since(start)).
			Interface("headers", safeHeaders).
			Msg("http_request")
	}
}
