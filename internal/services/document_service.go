// Package services – DocumentService
//
// This file implements the ingestion pipeline: extract text from an upload,
// split it into chunks, embed the chunks, upsert one vector record per chunk,
// store the raw bytes, and finally persist the document metadata. Metadata is
// written last so a document only shows up in listings once its vectors and
// blob exist. There is no compensating rollback; a failure after the first
// upsert can leave orphaned vectors or an orphaned blob.
//
// Deletion runs the steps in reverse and is lenient: vector and blob failures
// are logged and swallowed, the metadata row is always removed.
//
// Observability: every public method opens an OpenTelemetry span; ingestion
// outcomes feed the rag_* Prometheus collectors.
package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"gorm.io/datatypes"

	"github.com/tbourn/go-rag-backend/internal/domain"
	"github.com/tbourn/go-rag-backend/internal/observability"
)

const (
	defaultListLimit   = 50
	defaultSearchLimit = 10
)

// DocumentService coordinates ingestion, lookup and deletion of documents.
type DocumentService struct {
	Embedder   Embedder
	Vectors    VectorStore
	Storage    ObjectStorage
	Repo       DocumentRepository
	Extractors Extractors

	// ChunkSize is the chunk width in characters; <= 0 means
	// domain.DefaultChunkSize.
	ChunkSize int
	// UpsertConcurrency bounds parallel vector upserts. 0 or 1 upserts
	// sequentially.
	UpsertConcurrency int
	// Deduplicate returns an existing document with the same content hash for
	// the same user instead of ingesting again.
	Deduplicate bool
}

// NewDocumentService wires a DocumentService with default tuning.
func NewDocumentService(emb Embedder, vs VectorStore, st ObjectStorage, repo DocumentRepository, ex Extractors) *DocumentService {
	return &DocumentService{
		Embedder:          emb,
		Vectors:           vs,
		Storage:           st,
		Repo:              repo,
		Extractors:        ex,
		ChunkSize:         domain.DefaultChunkSize,
		UpsertConcurrency: 1,
	}
}

// ProcessDocument ingests one uploaded file for userID and returns the saved
// document.
func (s *DocumentService) ProcessDocument(ctx context.Context, filename string, data []byte, userID string) (doc *domain.Document, err error) {
	tr := observability.Tracer("services")
	ctx, span := tr.Start(ctx, "ProcessDocument",
		trace.WithAttributes(
			attribute.String("user.id", userID),
			attribute.String("document.filename", filename),
			attribute.Int("document.size_bytes", len(data)),
		),
	)
	defer span.End()

	start := time.Now()
	format := domain.Extension(filename)
	outcome := ""
	defer func() {
		if outcome == "" {
			outcome = ingestOutcome(err)
		}
		docsIngested.WithLabelValues(formatLabel(s.Extractors, format), outcome).Inc()
		if err != nil {
			observability.Fail(span, err)
			return
		}
		ingestDuration.Observe(time.Since(start).Seconds())
	}()

	// owner and filename become blob key segments
	if err := domain.CheckStorageKey(userID, filename); err != nil {
		return nil, err
	}

	// 1. extract
	text, format, err := s.Extractors.Extract(ctx, filename, data)
	if err != nil {
		return nil, err
	}

	// 2. validate
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyDocument
	}

	sum := sha256.Sum256(data)
	hash := hex.EncodeToString(sum[:])
	if s.Deduplicate {
		existing, err := s.Repo.GetByContentHash(ctx, userID, hash)
		if err != nil {
			return nil, fmt.Errorf("lookup content hash: %w", err)
		}
		if existing != nil {
			outcome = "duplicate"
			logFor(ctx).Info().Str("document_id", existing.ID).Str("filename", filename).Msg("duplicate upload, returning existing document")
			return existing, nil
		}
	}

	// 3. build entity
	doc = domain.NewDocument(filename, text, userID)
	doc.ContentHash = hash
	doc.SizeBytes = int64(len(data))
	doc.Format = format
	span.SetAttributes(attribute.String("document.id", doc.ID))

	// 4. chunk
	chunks, err := doc.SplitIntoChunks(s.chunkSize())
	if err != nil {
		return nil, err
	}

	// 5. embed
	embs, err := s.Embedder.EmbedBatch(ctx, chunks)
	if err != nil {
		return nil, fmt.Errorf("embed chunks: %w", err)
	}
	if len(embs) != len(chunks) {
		return nil, fmt.Errorf("%w: got %d embeddings for %d chunks", ErrEmbeddingCountMismatch, len(embs), len(chunks))
	}

	// 6. upsert vectors
	if err := s.upsertChunks(ctx, doc, chunks, embs); err != nil {
		return nil, err
	}
	doc.ChunkCount = len(chunks)
	chunksEmbedded.Add(float64(len(chunks)))

	// 7. raw bytes
	location, err := s.Storage.Upload(ctx, doc.StorageKey(), data)
	if err != nil {
		return nil, fmt.Errorf("upload %s: %w", doc.StorageKey(), err)
	}
	if location != "" {
		doc.Metadata = datatypes.JSONMap{"storage_location": location}
	}

	// 8. metadata
	saved, err := s.Repo.Save(ctx, doc)
	if err != nil {
		return nil, fmt.Errorf("save document: %w", err)
	}

	logFor(ctx).Info().
		Str("document_id", saved.ID).
		Str("format", format).
		Int("chunks", saved.ChunkCount).
		Dur("took", time.Since(start)).
		Msg("document ingested")
	return saved, nil
}

// ReplaceDocument ingests data like ProcessDocument and then deletes the
// user's previous document with the same filename, if any. The old copy is
// only removed once the new one is saved.
func (s *DocumentService) ReplaceDocument(ctx context.Context, filename string, data []byte, userID string) (*domain.Document, error) {
	tr := observability.Tracer("services")
	ctx, span := tr.Start(ctx, "ReplaceDocument",
		trace.WithAttributes(
			attribute.String("user.id", userID),
			attribute.String("document.filename", filename),
		),
	)
	defer span.End()

	prev, err := s.Repo.GetByFilename(ctx, filename, userID)
	if err != nil {
		return nil, fmt.Errorf("lookup filename: %w", err)
	}
	doc, err := s.ProcessDocument(ctx, filename, data, userID)
	if err != nil {
		return nil, err
	}
	if prev != nil && prev.ID != doc.ID {
		if err := s.DeleteDocument(ctx, prev.ID, userID); err != nil {
			logFor(ctx).Warn().Err(err).Str("document_id", prev.ID).Msg("remove replaced document failed")
		}
	}
	return doc, nil
}

func (s *DocumentService) upsertChunks(ctx context.Context, doc *domain.Document, chunks []string, embs []domain.Embedding) error {
	meta := func(i int) map[string]any {
		return map[string]any{
			"document_id": doc.ID,
			"chunk_index": i,
			"text":        chunks[i],
			"user_id":     doc.UserID,
			"filename":    doc.Filename,
		}
	}

	if s.UpsertConcurrency <= 1 {
		for i := range chunks {
			id := domain.ChunkID(doc.ID, i)
			if err := s.Vectors.Upsert(ctx, id, embs[i], meta(i)); err != nil {
				return fmt.Errorf("upsert vector %s: %w", id, err)
			}
		}
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.UpsertConcurrency)
	for i := range chunks {
		g.Go(func() error {
			id := domain.ChunkID(doc.ID, i)
			if err := s.Vectors.Upsert(gctx, id, embs[i], meta(i)); err != nil {
				return fmt.Errorf("upsert vector %s: %w", id, err)
			}
			return nil
		})
	}
	return g.Wait()
}

// GetDocument returns the document if it exists and belongs to userID.
func (s *DocumentService) GetDocument(ctx context.Context, id, userID string) (*domain.Document, error) {
	tr := observability.Tracer("services")
	ctx, span := tr.Start(ctx, "GetDocument",
		trace.WithAttributes(
			attribute.String("document.id", id),
			attribute.String("user.id", userID),
		),
	)
	defer span.End()

	return s.owned(ctx, id, userID)
}

// DeleteDocument removes the vectors, the blob and the metadata of a
// document owned by userID. Only the ownership check and the metadata delete
// can fail the call.
func (s *DocumentService) DeleteDocument(ctx context.Context, id, userID string) error {
	tr := observability.Tracer("services")
	ctx, span := tr.Start(ctx, "DeleteDocument",
		trace.WithAttributes(
			attribute.String("document.id", id),
			attribute.String("user.id", userID),
		),
	)
	defer span.End()

	doc, err := s.owned(ctx, id, userID)
	if err != nil {
		return err
	}

	lg := logFor(ctx).With().Str("document_id", doc.ID).Logger()
	for _, vid := range doc.ChunkIDs() {
		if err := s.Vectors.Delete(ctx, vid); err != nil {
			lg.Warn().Err(err).Str("vector_id", vid).Msg("delete vector failed")
		}
	}
	if err := s.Storage.Delete(ctx, doc.StorageKey()); err != nil {
		lg.Warn().Err(err).Str("key", doc.StorageKey()).Msg("delete blob failed")
	}

	if err := s.Repo.Delete(ctx, doc.ID); err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	lg.Info().Msg("document deleted")
	return nil
}

// ListDocuments returns a page of the user's documents, newest first.
func (s *DocumentService) ListDocuments(ctx context.Context, userID string, limit, offset int) ([]domain.Document, error) {
	tr := observability.Tracer("services")
	ctx, span := tr.Start(ctx, "ListDocuments",
		trace.WithAttributes(
			attribute.String("user.id", userID),
			attribute.Int("limit", limit),
			attribute.Int("offset", offset),
		),
	)
	defer span.End()

	if limit <= 0 {
		limit = defaultListLimit
	}
	if offset < 0 {
		offset = 0
	}
	return s.Repo.ListByUser(ctx, userID, limit, offset)
}

// SearchDocuments runs a metadata search over the user's documents.
func (s *DocumentService) SearchDocuments(ctx context.Context, userID, query string, limit int) ([]domain.Document, error) {
	tr := observability.Tracer("services")
	ctx, span := tr.Start(ctx, "SearchDocuments",
		trace.WithAttributes(
			attribute.String("user.id", userID),
			attribute.Int("limit", limit),
		),
	)
	defer span.End()

	query = strings.TrimSpace(query)
	if query == "" {
		return []domain.Document{}, nil
	}
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	return s.Repo.SearchByUser(ctx, userID, query, limit)
}

// GetDocumentCount returns how many documents userID owns.
func (s *DocumentService) GetDocumentCount(ctx context.Context, userID string) (int64, error) {
	tr := observability.Tracer("services")
	ctx, span := tr.Start(ctx, "GetDocumentCount",
		trace.WithAttributes(attribute.String("user.id", userID)),
	)
	defer span.End()

	return s.Repo.CountByUser(ctx, userID)
}

// DownloadURL returns a time-limited link to the raw upload.
func (s *DocumentService) DownloadURL(ctx context.Context, id, userID string, ttl time.Duration) (string, error) {
	tr := observability.Tracer("services")
	ctx, span := tr.Start(ctx, "DownloadURL",
		trace.WithAttributes(
			attribute.String("document.id", id),
			attribute.String("user.id", userID),
		),
	)
	defer span.End()

	doc, err := s.owned(ctx, id, userID)
	if err != nil {
		return "", err
	}
	return s.Storage.URL(ctx, doc.StorageKey(), ttl)
}

// DownloadFile returns the raw upload bytes together with the document.
func (s *DocumentService) DownloadFile(ctx context.Context, id, userID string) (*domain.Document, []byte, error) {
	tr := observability.Tracer("services")
	ctx, span := tr.Start(ctx, "DownloadFile",
		trace.WithAttributes(
			attribute.String("document.id", id),
			attribute.String("user.id", userID),
		),
	)
	defer span.End()

	doc, err := s.owned(ctx, id, userID)
	if err != nil {
		return nil, nil, err
	}
	data, err := s.Storage.Download(ctx, doc.StorageKey())
	if err != nil {
		return nil, nil, fmt.Errorf("download %s: %w", doc.StorageKey(), err)
	}
	return doc, data, nil
}

// owned loads a document and enforces the single ownership rule.
func (s *DocumentService) owned(ctx context.Context, id, userID string) (*domain.Document, error) {
	doc, err := s.Repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, ErrDocumentNotFound
	}
	if doc.UserID != userID {
		return nil, ErrNotAuthorized
	}
	return doc, nil
}

func (s *DocumentService) chunkSize() int {
	if s.ChunkSize <= 0 {
		return domain.DefaultChunkSize
	}
	return s.ChunkSize
}

// logFor returns the logger attached to ctx, or the global logger.
func logFor(ctx context.Context) *zerolog.Logger {
	if l := zerolog.Ctx(ctx); l.GetLevel() != zerolog.Disabled {
		return l
	}
	return &log.Logger
}
