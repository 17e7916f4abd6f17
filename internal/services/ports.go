package services

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"maps"
	"slices"
	"time"

	"github.com/tbourn/go-rag-backend/internal/domain"
)

// Embedder turns text into vectors. EmbedBatch must return one embedding per
// input, in input order.
type Embedder interface {
	Embed(ctx context.Context, text string) (domain.Embedding, error)
	EmbedBatch(ctx context.Context, texts []string) ([]domain.Embedding, error)
}

// VectorMatch is a single nearest-neighbour hit.
type VectorMatch struct {
	ID       string
	Score    float64
	Metadata map[string]any
}

// VectorStore persists embeddings under string ids and searches them.
// Search returns matches ordered by descending score; filter entries are
// exact-match constraints on metadata.
type VectorStore interface {
	Upsert(ctx context.Context, id string, emb domain.Embedding, metadata map[string]any) error
	Search(ctx context.Context, query domain.Embedding, topK int, filter map[string]string) ([]VectorMatch, error)
	Delete(ctx context.Context, id string) error
}

// ObjectStorage stores raw uploads by key.
type ObjectStorage interface {
	// Upload stores data under key and returns a location for the object.
	Upload(ctx context.Context, key string, data []byte) (string, error)
	Download(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
	// URL returns a link to the object valid for roughly ttl.
	URL(ctx context.Context, key string, ttl time.Duration) (string, error)
}

// DocumentRepository persists document metadata. Lookups return (nil, nil)
// when nothing matches.
type DocumentRepository interface {
	Save(ctx context.Context, doc *domain.Document) (*domain.Document, error)
	GetByID(ctx context.Context, id string) (*domain.Document, error)
	GetByFilename(ctx context.Context, filename, userID string) (*domain.Document, error)
	GetByContentHash(ctx context.Context, userID, hash string) (*domain.Document, error)
	ListByUser(ctx context.Context, userID string, limit, offset int) ([]domain.Document, error)
	Delete(ctx context.Context, id string) error
	Exists(ctx context.Context, id string) (bool, error)
	CountByUser(ctx context.Context, userID string) (int64, error)
	SearchByUser(ctx context.Context, userID, query string, limit int) ([]domain.Document, error)
}

// LLM generates assistant replies for a conversation.
//
// GenerateStreamingResponse yields text fragments lazily; iteration ends
// after the last fragment or at the first error. retrieved carries the
// assembled retrieval context for backends that want it separately.
type LLM interface {
	GenerateResponse(ctx context.Context, messages []domain.ChatMessage) (string, error)
	GenerateStreamingResponse(ctx context.Context, messages []domain.ChatMessage, retrieved string) iter.Seq2[string, error]
}

// TextExtractor converts raw file bytes into plain text.
type TextExtractor interface {
	Extract(ctx context.Context, data []byte) (string, error)
}

// Extractors maps a lower-case file extension (without the dot) to its
// extractor.
type Extractors map[string]TextExtractor

// Extract picks the extractor for filename and runs it. It returns the
// resolved format alongside the text. Extractor failures match
// ErrExtraction, except context cancellation which is returned as is.
func (e Extractors) Extract(ctx context.Context, filename string, data []byte) (string, string, error) {
	format := domain.Extension(filename)
	x, ok := e[format]
	if !ok || x == nil {
		return "", format, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
	text, err := x.Extract(ctx, data)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return "", format, err
		}
		if !errors.Is(err, ErrExtraction) {
			err = fmt.Errorf("%w: %s: %w", ErrExtraction, format, err)
		}
		return "", format, err
	}
	return text, format, nil
}

// Formats lists the registered extensions.
func (e Extractors) Formats() []string {
	return slices.Sorted(maps.Keys(e))
}
