// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file owns request correlation and panic recovery:
//
//   - RequestID() assigns every request a correlation ID, reusing a
//     well-formed inbound X-Request-ID and minting a UUID otherwise. The ID is
//     echoed on the response, stored in the Gin context, carried on the
//     request context (see RequestIDFromContext) and tagged on the active
//     trace span so logs and traces line up.
//   - Recovery() turns a panic into the standard JSON 500 envelope, unless the
//     handler had already started writing (an event stream, a file download),
//     in which case the connection is simply aborted.
//   - LoggerFrom() returns the request-scoped logger installed by
//     RedactingLogger; services reach the same logger through zerolog.Ctx.
package middleware

import (
	"context"
	"net/http"
	"regexp"
	"runtime/debug"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	// requestIDKey is the Gin context key under which the request ID is stored.
	requestIDKey = "requestID"
	// requestIDHeader is the HTTP header used to propagate the correlation ID.
	requestIDHeader = "X-Request-ID"
	// loggerKey is the Gin context key of the request-scoped logger.
	loggerKey = "logger"
)

// Inbound IDs are echoed into headers and logs, so only a conservative
// alphabet is accepted.
var requestIDPattern = regexp.MustCompile(`^[A-Za-z0-9._:\-]{1,128}$`)

type requestIDCtxKey struct{}

// RequestID attaches (or propagates) a correlation identifier per request.
// Place it before the logger so every log line carries the ID.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		rid := c.GetHeader(requestIDHeader)
		if !requestIDPattern.MatchString(rid) {
			rid = uuid.NewString()
		}
		c.Set(requestIDKey, rid)
		c.Writer.Header().Set(requestIDHeader, rid)

		ctx := context.WithValue(c.Request.Context(), requestIDCtxKey{}, rid)
		trace.SpanFromContext(ctx).SetAttributes(attribute.String("http.request_id", rid))
		c.Request = c.Request.WithContext(ctx)

		c.Next()
	}
}

// RequestIDFrom returns the correlation ID assigned by RequestID, or the
// response header when the middleware was mounted elsewhere.
func RequestIDFrom(c *gin.Context) string {
	if rid := c.GetString(requestIDKey); rid != "" {
		return rid
	}
	return c.Writer.Header().Get(requestIDHeader)
}

// RequestIDFromContext returns the correlation ID carried on ctx, or "".
func RequestIDFromContext(ctx context.Context) string {
	rid, _ := ctx.Value(requestIDCtxKey{}).(string)
	return rid
}

// Recovery intercepts panics, logs the stack with the request-scoped logger
// and answers with the standard error envelope when nothing was written yet.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			route := c.FullPath()
			if route == "" {
				route = unmatchedRoute
			}
			httpPanics.WithLabelValues(route).Inc()

			LoggerFrom(c).Error().
				Interface("panic", rec).
				Bytes("stack", debug.Stack()).
				Str("path", route).
				Msg("panic recovered")

			if c.Writer.Written() {
				c.Abort()
				return
			}
			rid := RequestIDFrom(c)
			c.Header(requestIDHeader, rid)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"request_id": rid,
				"code":       "internal_error",
				"message":    "internal server error",
			})
		}()
		c.Next()
	}
}

// LoggerFrom returns the request-scoped zerolog.Logger, or the global logger
// when none was attached. The result is never nil.
func LoggerFrom(c *gin.Context) *zerolog.Logger {
	if v, ok := c.Get(loggerKey); ok {
		if lg, ok := v.(*zerolog.Logger); ok {
			return lg
		}
	}
	l := log.With().Logger()
	return &l
}

// attachLogger makes l the request-scoped logger for handlers (Gin key
// "logger") and for services (request context).
func attachLogger(c *gin.Context, l *zerolog.Logger) {
	c.Set(loggerKey, l)
	c.Request = c.Request.WithContext(l.WithContext(c.Request.Context()))
}
