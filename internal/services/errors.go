// Package services implements the document-ingestion and question-answering
// pipelines. This file centralizes the service-level error values so callers
// can match them with errors.Is regardless of how much context was wrapped
// around them.
//
// Translation into HTTP status codes or CLI exit messages happens in the
// handler layer, never here.
package services

import "errors"

// Ingestion errors.
var (
	// ErrUnsupportedFormat is returned when no extractor is registered for the
	// file extension.
	ErrUnsupportedFormat = errors.New("unsupported file format")

	// ErrExtraction indicates that the file could not be read as its declared
	// format (corrupt archive, malformed PDF, invalid UTF-8).
	ErrExtraction = errors.New("text extraction failed")

	// ErrEmptyDocument is returned when extraction produced no non-whitespace
	// text.
	ErrEmptyDocument = errors.New("document is empty")

	// ErrEmbeddingCountMismatch is returned when the embedding backend returns
	// a different number of vectors than chunks were sent.
	ErrEmbeddingCountMismatch = errors.New("embedding count does not match chunk count")
)

// Access errors.
var (
	// ErrDocumentNotFound indicates that no document exists with the given id.
	ErrDocumentNotFound = errors.New("document not found")

	// ErrNotAuthorized is returned when a document exists but belongs to a
	// different user.
	ErrNotAuthorized = errors.New("not authorized to access this document")
)

// QA errors.
var (
	// ErrEmptyQuestion is returned when a question is blank after trimming.
	ErrEmptyQuestion = errors.New("question is empty")
)
