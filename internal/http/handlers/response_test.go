package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/tbourn/go-rag-backend/internal/domain"
	"github.com/tbourn/go-rag-backend/internal/http/middleware"
	"github.com/tbourn/go-rag-backend/internal/services"
)

// envelopeRouter runs h behind RequestID and a logger writing to buf.
func envelopeRouter(buf *bytes.Buffer, h gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	lg := zerolog.New(buf)
	r := gin.New()
	r.Use(middleware.RequestID())
	r.Use(func(c *gin.Context) { c.Set("logger", &lg); c.Next() })
	r.GET("/x", h)
	return r
}

func decodeEnvelope(t *testing.T, w *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var er ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &er); err != nil {
		t.Fatalf("body is not an envelope: %v (%s)", err, w.Body.String())
	}
	if er.RequestID == "" || er.RequestID != w.Header().Get("X-Request-ID") {
		t.Fatalf("request_id %q does not match header %q", er.RequestID, w.Header().Get("X-Request-ID"))
	}
	return er
}

func Test_failErr_ClientAndServerErrors(t *testing.T) {
	cases := []struct {
		name      string
		err       error
		status    int
		code      string
		message   string
		logsCause bool
	}{
		{
			name:    "unsupported upload keeps its message",
			err:     fmt.Errorf("%w: xlsx", services.ErrUnsupportedFormat),
			status:  http.StatusUnsupportedMediaType,
			code:    ErrCodeUnsupportedFormat,
			message: "unsupported file format: xlsx",
		},
		{
			name:    "missing document",
			err:     services.ErrDocumentNotFound,
			status:  http.StatusNotFound,
			code:    ErrCodeNotFound,
			message: services.ErrDocumentNotFound.Error(),
		},
		{
			name:      "vector store outage is hidden",
			err:       errors.New("dial tcp 10.0.0.7:6334: connection refused"),
			status:    http.StatusBadGateway,
			code:      ErrCodeAnswerFailed,
			message:   http.StatusText(http.StatusBadGateway),
			logsCause: true,
		},
		{
			name:      "completion timeout",
			err:       fmt.Errorf("generate response: %w", context.DeadlineExceeded),
			status:    http.StatusGatewayTimeout,
			code:      ErrCodeTimeout,
			message:   http.StatusText(http.StatusGatewayTimeout),
			logsCause: true,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var buf bytes.Buffer
			r := envelopeRouter(&buf, func(c *gin.Context) {
				failErr(c, tc.err, http.StatusBadGateway, ErrCodeAnswerFailed)
			})
			w := httptest.NewRecorder()
			r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))

			if w.Code != tc.status {
				t.Fatalf("status = %d; want %d", w.Code, tc.status)
			}
			er := decodeEnvelope(t, w)
			if er.Code != tc.code || er.Message != tc.message {
				t.Fatalf("envelope = %+v", er)
			}
			logged := strings.Contains(buf.String(), tc.err.Error())
			if logged != tc.logsCause {
				t.Fatalf("cause logged = %v; want %v (%s)", logged, tc.logsCause, buf.String())
			}
		})
	}
}

func Test_fail_LogsOnlyServerErrors(t *testing.T) {
	var buf bytes.Buffer
	r := envelopeRouter(&buf, func(c *gin.Context) {
		if c.Query("s") == "500" {
			fail(c, http.StatusInternalServerError, ErrCodeInternal, "could not open database")
			return
		}
		Fail(c, http.StatusMethodNotAllowed, ErrCodeMethodNotAllowed, "method not allowed")
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))
	if er := decodeEnvelope(t, w); w.Code != http.StatusMethodNotAllowed || er.Code != ErrCodeMethodNotAllowed {
		t.Fatalf("4xx: %d %+v", w.Code, er)
	}
	if buf.Len() != 0 {
		t.Fatalf("4xx should not log: %s", buf.String())
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x?s=500", nil))
	if er := decodeEnvelope(t, w); er.Message != "could not open database" {
		t.Fatalf("5xx envelope: %+v", er)
	}
	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("log line: %v", err)
	}
	if line["level"] != "error" || line["code"] != ErrCodeInternal || line["status"] != float64(500) {
		t.Fatalf("log line = %v", line)
	}
}

func Test_okAndNoContent(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/count", func(c *gin.Context) { ok(c, http.StatusOK, CountResponse{Count: 3}) })
	r.DELETE("/documents/d1", func(c *gin.Context) { noContent(c) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/count", nil))
	if w.Code != http.StatusOK || strings.TrimSpace(w.Body.String()) != `{"count":3}` {
		t.Fatalf("ok: %d %s", w.Code, w.Body.String())
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/documents/d1", nil))
	if w.Code != http.StatusNoContent || w.Body.Len() != 0 {
		t.Fatalf("noContent: %d %q", w.Code, w.Body.String())
	}
}

func Test_statusFor(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{fmt.Errorf("%w: xlsx", services.ErrUnsupportedFormat), http.StatusUnsupportedMediaType, ErrCodeUnsupportedFormat},
		{fmt.Errorf("%w: pdf: bad xref", services.ErrExtraction), http.StatusUnprocessableEntity, ErrCodeExtractionFailed},
		{services.ErrEmptyDocument, http.StatusUnprocessableEntity, ErrCodeEmptyDocument},
		{services.ErrDocumentNotFound, http.StatusNotFound, ErrCodeNotFound},
		{services.ErrNotAuthorized, http.StatusForbidden, ErrCodeForbidden},
		{services.ErrEmptyQuestion, http.StatusBadRequest, ErrCodeBadRequest},
		{domain.ErrInvalidRole, http.StatusBadRequest, ErrCodeBadRequest},
		{domain.ErrEmptyMessage, http.StatusBadRequest, ErrCodeBadRequest},
		{fmt.Errorf("%w: user id \"../..\"", domain.ErrInvalidStorageKey), http.StatusBadRequest, ErrCodeBadRequest},
		{fmt.Errorf("embed chunks: %w", services.ErrEmbeddingCountMismatch), http.StatusBadGateway, ErrCodeIngestFailed},
		{fmt.Errorf("generate response: %w", context.DeadlineExceeded), http.StatusGatewayTimeout, ErrCodeTimeout},
		{errors.New("qdrant unavailable"), http.StatusTeapot, "fallback"},
	}
	for _, tc := range cases {
		status, code := statusFor(tc.err, http.StatusTeapot, "fallback")
		if status != tc.status || code != tc.code {
			t.Errorf("statusFor(%v) = %d %q; want %d %q", tc.err, status, code, tc.status, tc.code)
		}
	}
}
