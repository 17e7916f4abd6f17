// Package handlers defines HTTP-layer error codes used across all API endpoints.
//
// This file centralizes symbolic error code constants that are mapped to HTTP
// responses (via the `fail()` helper in this package) and the translation of
// service errors into status/code pairs. Codes give clients a stable,
// machine-readable taxonomy that supplements human-readable messages.
//
// Conventions:
//   - Codes are lowercase, snake_case, and domain-agnostic unless explicitly noted.
//   - Generic codes (e.g., bad_request, forbidden, not_found) mirror common HTTP
//     status semantics to aid interoperability.
//   - Domain-specific codes (e.g., unsupported_format, ingest_failed) cover
//     pipeline failures that status alone cannot convey.
//
// Example response:
//
//	{
//	  "request_id": "e1b9be03-4999-4289-9f03-999b042d65d6",
//	  "code": "unsupported_format",
//	  "message": "unsupported file format: xlsx"
//	}
package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/tbourn/go-rag-backend/internal/domain"
	"github.com/tbourn/go-rag-backend/internal/services"
)

const (
	ErrCodeBadRequest       = "bad_request"
	ErrCodeUnauthorized     = "unauthorized"
	ErrCodeForbidden        = "forbidden"
	ErrCodeNotFound         = "not_found"
	ErrCodeConflict         = "conflict"
	ErrCodeRateLimited      = "too_many_requests"
	ErrCodeInternal         = "internal_error"
	ErrCodeMethodNotAllowed = "method_not_allowed"
	ErrCodeTimeout          = "timeout"

	// Domain-specific:
	ErrCodePayloadTooLarge   = "payload_too_large"
	ErrCodeUnsupportedFormat = "unsupported_format"
	ErrCodeExtractionFailed  = "extraction_failed"
	ErrCodeEmptyDocument     = "empty_document"
	ErrCodeIngestFailed      = "ingest_failed"
	ErrCodeAnswerFailed      = "answer_failed"
	ErrCodeListFailed        = "list_failed"
	ErrCodeSearchFailed      = "search_failed"
	ErrCodeDeleteFailed      = "delete_failed"
	ErrCodeDownloadFailed    = "download_failed"
)

// statusFor maps a service error to an HTTP status and code. Errors without
// a sentinel fall back to (fallbackStatus, fallbackCode).
func statusFor(err error, fallbackStatus int, fallbackCode string) (int, string) {
	switch {
	case errors.Is(err, services.ErrUnsupportedFormat):
		return http.StatusUnsupportedMediaType, ErrCodeUnsupportedFormat
	case errors.Is(err, services.ErrExtraction):
		return http.StatusUnprocessableEntity, ErrCodeExtractionFailed
	case errors.Is(err, services.ErrEmptyDocument):
		return http.StatusUnprocessableEntity, ErrCodeEmptyDocument
	case errors.Is(err, services.ErrDocumentNotFound):
		return http.StatusNotFound, ErrCodeNotFound
	case errors.Is(err, services.ErrNotAuthorized):
		return http.StatusForbidden, ErrCodeForbidden
	case errors.Is(err, services.ErrEmptyQuestion),
		errors.Is(err, domain.ErrEmptyMessage),
		errors.Is(err, domain.ErrInvalidRole),
		errors.Is(err, domain.ErrInvalidStorageKey):
		return http.StatusBadRequest, ErrCodeBadRequest
	case errors.Is(err, services.ErrEmbeddingCountMismatch):
		return http.StatusBadGateway, ErrCodeIngestFailed
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, ErrCodeTimeout
	}
	return fallbackStatus, fallbackCode
}
