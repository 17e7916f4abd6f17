// Package handlers provides HTTP handler implementations for the public API.
//
// Every failure leaves the API as an ErrorResponse envelope carrying the
// request id, a stable code from errors.go, and a message safe to show. For
// 5xx responses the message is the status text; the underlying cause (a
// Qdrant dial error, an OpenAI timeout) goes to the request-scoped log line
// instead of the client.
//
//	HTTP/1.1 415 Unsupported Media Type
//	{"request_id":"0b6e...","code":"unsupported_format","message":"unsupported file format: xlsx"}
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-rag-backend/internal/http/middleware"
)

// ErrorResponse is the error envelope returned by all endpoints.
type ErrorResponse struct {
	// Echo of X-Request-ID, for matching a client error to server logs
	RequestID string `json:"request_id,omitempty" example:"123e4567-e89b-12d3-a456-426614174000"`
	// Stable, machine-readable code
	Code string `json:"code" example:"not_found"`
	// Human-readable message
	Message string `json:"message" example:"document not found"`
}

// fail aborts with the envelope. Server errors are logged with any causes
// attached through c.Error.
func fail(c *gin.Context, status int, code, msg string) {
	if status >= http.StatusInternalServerError {
		ev := middleware.LoggerFrom(c).Error().
			Int("status", status).
			Str("code", code)
		if len(c.Errors) > 0 {
			ev = ev.Strs("causes", c.Errors.Errors())
		}
		ev.Msg(msg)
	}
	c.AbortWithStatusJSON(status, ErrorResponse{
		RequestID: middleware.RequestIDFrom(c),
		Code:      code,
		Message:   msg,
	})
}

// Fail lets the router answer unmatched routes with the same envelope.
func Fail(c *gin.Context, status int, code, msg string) { fail(c, status, code, msg) }

// failErr classifies err with statusFor. Client errors keep their message;
// server errors are reported by status text only.
func failErr(c *gin.Context, err error, fallbackStatus int, fallbackCode string) {
	status, code := statusFor(err, fallbackStatus, fallbackCode)
	if status < http.StatusInternalServerError {
		fail(c, status, code, err.Error())
		return
	}
	_ = c.Error(err)
	fail(c, status, code, http.StatusText(status))
}

func ok(c *gin.Context, status int, body any) { c.JSON(status, body) }

func noContent(c *gin.Context) { c.Status(http.StatusNoContent) }
