// Document HTTP handlers.
//
// This file exposes REST endpoints for the ingestion pipeline:
//   - POST   /documents              (multipart upload, idempotent with Idempotency-Key)
//   - GET    /documents              (list, paginated, ETag support)
//   - GET    /documents/count        (number of documents)
//   - GET    /documents/search       (keyword search over filename and content)
//   - GET    /documents/{id}         (metadata and extracted text)
//   - GET    /documents/{id}/file    (raw upload: redirect or stream)
//   - DELETE /documents/{id}         (remove vectors, blob and metadata)
//
// Handlers are transport-thin: they validate input, call the DocumentService,
// and translate results and sentinel errors into HTTP responses.
package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"mime"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/tbourn/go-rag-backend/internal/domain"
	"github.com/tbourn/go-rag-backend/internal/http/middleware"
	"github.com/tbourn/go-rag-backend/internal/repo"
	"github.com/tbourn/go-rag-backend/internal/utils"
)

//
// Service contracts (context-aware)
//

// DocumentService defines the ingestion and document lifecycle operations
// consumed by HTTP handlers.
type DocumentService interface {
	ProcessDocument(ctx context.Context, filename string, data []byte, userID string) (*domain.Document, error)
	ReplaceDocument(ctx context.Context, filename string, data []byte, userID string) (*domain.Document, error)
	GetDocument(ctx context.Context, id, userID string) (*domain.Document, error)
	DeleteDocument(ctx context.Context, id, userID string) error
	ListDocuments(ctx context.Context, userID string, limit, offset int) ([]domain.Document, error)
	SearchDocuments(ctx context.Context, userID, query string, limit int) ([]domain.Document, error)
	GetDocumentCount(ctx context.Context, userID string) (int64, error)
	DownloadURL(ctx context.Context, id, userID string, ttl time.Duration) (string, error)
	DownloadFile(ctx context.Context, id, userID string) (*domain.Document, []byte, error)
}

// ChatService defines the question-answering operations consumed by HTTP
// handlers.
type ChatService interface {
	AskQuestion(ctx context.Context, question, userID string, history []domain.ChatMessage) (string, error)
	AskQuestionStream(ctx context.Context, question, userID string, history []domain.ChatMessage) (iter.Seq2[string, error], error)
}

//
// Handler wiring
//

// Options tunes transport behavior.
type Options struct {
	// DB backs ETags and idempotency records; both are skipped when nil.
	DB *gorm.DB
	// MaxUploadBytes caps a multipart upload. <= 0 means 32 MiB.
	MaxUploadBytes int64
	// DownloadTTL is the lifetime of presigned download links. <= 0 means 15m.
	DownloadTTL time.Duration
	// IdempotencyTTL is how long an upload key replays. <= 0 means 24h.
	IdempotencyTTL time.Duration
}

// Handlers groups HTTP endpoints for documents and chat.
type Handlers struct {
	docSvc  DocumentService
	chatSvc ChatService
	opts    Options
}

// New constructs Handlers bound to the given services.
func New(docSvc DocumentService, chatSvc ChatService, opts Options) *Handlers {
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = 32 << 20
	}
	if opts.DownloadTTL <= 0 {
		opts.DownloadTTL = 15 * time.Minute
	}
	if opts.IdempotencyTTL <= 0 {
		opts.IdempotencyTTL = 24 * time.Hour
	}
	return &Handlers{docSvc: docSvc, chatSvc: chatSvc, opts: opts}
}

// userID resolves the caller (auth context, then X-User-ID, then demo-user).
func userID(c *gin.Context) string { return middleware.UserIDFrom(c) }

//
// DTOs
//

// DocumentSummary is a document without its extracted text.
type DocumentSummary struct {
	ID          string    `json:"id" example:"5d0c1a8e-2f4b-4a77-9f0e-0b7e3b1f9c11"`
	Filename    string    `json:"filename" example:"handbook.pdf"`
	Format      string    `json:"format" example:"pdf"`
	ChunkCount  int       `json:"chunk_count" example:"12"`
	SizeBytes   int64     `json:"size_bytes" example:"48213"`
	ContentHash string    `json:"content_hash"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func summarize(d *domain.Document) DocumentSummary {
	return DocumentSummary{
		ID:          d.ID,
		Filename:    d.Filename,
		Format:      d.Format,
		ChunkCount:  d.ChunkCount,
		SizeBytes:   d.SizeBytes,
		ContentHash: d.ContentHash,
		CreatedAt:   d.CreatedAt,
		UpdatedAt:   d.UpdatedAt,
	}
}

func summarizeAll(docs []domain.Document) []DocumentSummary {
	out := make([]DocumentSummary, 0, len(docs))
	for i := range docs {
		out = append(out, summarize(&docs[i]))
	}
	return out
}

// Pagination carries pagination metadata for list responses.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
}

// ListDocumentsResponse wraps a page of documents and pagination information.
type ListDocumentsResponse struct {
	Documents  []DocumentSummary `json:"documents"`
	Pagination Pagination        `json:"pagination"`
}

// CountResponse carries the number of documents a user owns.
type CountResponse struct {
	Count int64 `json:"count" example:"7"`
}

// SearchDocumentsResponse lists documents matching a keyword query, best
// match first.
type SearchDocumentsResponse struct {
	Query     string            `json:"query" example:"refund policy"`
	Documents []DocumentSummary `json:"documents"`
}

//
// Helpers
//

// clampPagination parses and bounds page and page_size query params to sane
// defaults and limits, returning (page, pageSize).
func clampPagination(c *gin.Context) (page, pageSize int) {
	const (
		defaultPage     = 1
		defaultPageSize = 20
		maxPageSize     = 100
	)
	page = max(utils.AtoiDefault(c.Query("page"), defaultPage), 1)
	pageSize = utils.Clamp(utils.AtoiDefault(c.Query("page_size"), defaultPageSize), 1, maxPageSize)
	return
}

// idempotencyKey prefers the key validated by middleware and falls back to
// the raw header.
func idempotencyKey(c *gin.Context) string {
	if k, ok := middleware.GetIdempotencyKey(c); ok {
		return k
	}
	return strings.TrimSpace(c.GetHeader(middleware.HeaderIdempotencyKey))
}

// uploadName reduces a client-supplied filename to its base name.
func uploadName(raw string) string {
	name := filepath.Base(strings.ReplaceAll(strings.TrimSpace(raw), `\`, "/"))
	if name == "." || name == "/" {
		return ""
	}
	return name
}

func isTooLarge(err error) bool {
	var mbe *http.MaxBytesError
	return errors.As(err, &mbe) || strings.Contains(err.Error(), "request body too large")
}

//
// Handlers
//

// UploadDocument godoc
// @ID          uploadDocument
// @Summary     Upload and ingest a document
// @Description Extracts text from a pdf, docx, txt or md file, embeds its chunks and stores the document.
// @Description Supports idempotency via the Idempotency-Key header (same key → same document).
// @Tags        Documents
// @Accept      multipart/form-data
// @Produce     json
//
// @Param       X-User-ID        header    string  false "User ID (demo header)"  example(user123)
// @Param       Idempotency-Key  header    string  false "Idempotency key for safe retries"  example(7a8d9f4c-1b2a-4c3d-8e9f-0123456789ab)
// @Param       file             formData  file    true  "Document to ingest"
// @Param       replace          query     bool    false "Replace the newest document with the same filename"
//
// @Success     201  {object}  handlers.DocumentSummary
// @Success     200  {object}  handlers.DocumentSummary  "Idempotent replay"
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     413  {object}  handlers.ErrorResponse  "File too large"
// @Failure     415  {object}  handlers.ErrorResponse  "Unsupported format"
// @Failure     422  {object}  handlers.ErrorResponse  "No extractable text"
// @Failure     502  {object}  handlers.ErrorResponse  "Embedding or storage backend failed"
// @Router      /documents [post]
func (h *Handlers) UploadDocument(c *gin.Context) {
	ctx := c.Request.Context()
	uid := userID(c)

	// Replay before reading the body.
	key := idempotencyKey(c)
	if key != "" && h.opts.DB != nil {
		if rec, err := repo.GetIdempotency(ctx, h.opts.DB, uid, middleware.IdempotencyScope(c), key, time.Now().UTC()); err == nil && rec != nil {
			if prev, err := h.docSvc.GetDocument(ctx, rec.ResourceID, uid); err == nil {
				middleware.MarkReplayed(c)
				ok(c, http.StatusOK, summarize(prev))
				return
			}
		}
	}

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.opts.MaxUploadBytes)
	fh, err := c.FormFile("file")
	if err != nil {
		if isTooLarge(err) {
			fail(c, http.StatusRequestEntityTooLarge, ErrCodePayloadTooLarge,
				fmt.Sprintf("file exceeds %d bytes", h.opts.MaxUploadBytes))
			return
		}
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "multipart field \"file\" required")
		return
	}
	name := uploadName(fh.Filename)
	if name == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "filename required")
		return
	}

	f, err := fh.Open()
	if err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "cannot read upload")
		return
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "cannot read upload")
		return
	}

	ingest := h.docSvc.ProcessDocument
	if replace, _ := strconv.ParseBool(c.Query("replace")); replace {
		ingest = h.docSvc.ReplaceDocument
	}
	doc, err := ingest(ctx, name, data, uid)
	if err != nil {
		failErr(c, err, http.StatusBadGateway, ErrCodeIngestFailed)
		return
	}

	// Idempotency (store path) – best effort.
	if key != "" && h.opts.DB != nil {
		rec := domain.NewIdempotency(uid, middleware.IdempotencyScope(c), key, doc.ID, http.StatusCreated, h.opts.IdempotencyTTL, time.Now())
		if err := repo.SaveIdempotency(ctx, h.opts.DB, rec); err != nil && !errors.Is(err, repo.ErrDuplicate) {
			middleware.LoggerFrom(c).Warn().Err(err).Str("document_id", doc.ID).Msg("store idempotency key failed")
		}
	}

	c.Header("Location", strings.TrimSuffix(c.Request.URL.Path, "/")+"/"+doc.ID)
	ok(c, http.StatusCreated, summarize(doc))
}

// ListDocuments godoc
// @ID          listDocuments
// @Summary     List documents (paginated)
// @Description Returns a page of the user's documents, newest first. Supports weak ETag via If-None-Match and may return 304.
// @Tags        Documents
// @Produce     json
//
// @Param       X-User-ID      header  string  false "User ID (demo header)"       example(user123)
// @Param       If-None-Match  header  string  false "Return 304 if ETag matches"  example(W/\"abc123\")
// @Param       page           query   int     false "Page number"                  minimum(1) default(1)
// @Param       page_size      query   int     false "Items per page"               minimum(1) maximum(100) default(20)
//
// @Success     200  {object} handlers.ListDocumentsResponse
// @Header      200  {string} ETag  "Weak ETag for current result"
// @Success     304  {string} string "Not Modified"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /documents [get]
func (h *Handlers) ListDocuments(c *gin.Context) {
	ctx := c.Request.Context()
	uid := userID(c)
	page, pageSize := clampPagination(c)

	// ETag pre-check (best effort). The page is part of the tag.
	if h.opts.DB != nil {
		if st, err := repo.DocumentsStats(ctx, h.opts.DB, uid); err == nil {
			etag := fmt.Sprintf(`W/"documents:%s:%d:%d:%s"`, uid, page, pageSize, st.Version())
			c.Header("ETag", etag)
			if inm := c.GetHeader("If-None-Match"); inm != "" && inm == etag {
				c.Status(http.StatusNotModified)
				return
			}
		}
	}

	total, err := h.docSvc.GetDocumentCount(ctx, uid)
	if err != nil {
		failErr(c, err, http.StatusInternalServerError, ErrCodeListFailed)
		return
	}
	items, err := h.docSvc.ListDocuments(ctx, uid, pageSize, utils.Offset(page, pageSize))
	if err != nil {
		failErr(c, err, http.StatusInternalServerError, ErrCodeListFailed)
		return
	}

	totalPages := int((total + int64(pageSize) - 1) / int64(pageSize))
	ok(c, http.StatusOK, ListDocumentsResponse{
		Documents: summarizeAll(items),
		Pagination: Pagination{
			Page:       page,
			PageSize:   pageSize,
			Total:      total,
			TotalPages: totalPages,
			HasNext:    page < totalPages,
		},
	})
}

// CountDocuments godoc
// @ID          countDocuments
// @Summary     Count documents
// @Tags        Documents
// @Produce     json
// @Param       X-User-ID  header  string  false "User ID (demo header)"  example(user123)
// @Success     200  {object} handlers.CountResponse
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /documents/count [get]
func (h *Handlers) CountDocuments(c *gin.Context) {
	n, err := h.docSvc.GetDocumentCount(c.Request.Context(), userID(c))
	if err != nil {
		failErr(c, err, http.StatusInternalServerError, ErrCodeListFailed)
		return
	}
	ok(c, http.StatusOK, CountResponse{Count: n})
}

// SearchDocuments godoc
// @ID          searchDocuments
// @Summary     Keyword search over documents
// @Description Ranks the user's documents by term overlap with the query across filename and paragraphs.
// @Tags        Documents
// @Produce     json
//
// @Param       X-User-ID  header  string  false "User ID (demo header)"  example(user123)
// @Param       q          query   string  true  "Search terms"           example(refund policy)
// @Param       limit      query   int     false "Maximum results"        minimum(1) maximum(50) default(10)
//
// @Success     200  {object} handlers.SearchDocumentsResponse
// @Failure     400  {object} handlers.ErrorResponse "Missing query"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /documents/search [get]
func (h *Handlers) SearchDocuments(c *gin.Context) {
	const (
		defaultLimit = 10
		maxLimit     = 50
	)
	q := strings.TrimSpace(c.Query("q"))
	if q == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "query parameter q required")
		return
	}
	limit := utils.Clamp(utils.AtoiDefault(c.Query("limit"), defaultLimit), 1, maxLimit)

	docs, err := h.docSvc.SearchDocuments(c.Request.Context(), userID(c), q, limit)
	if err != nil {
		failErr(c, err, http.StatusInternalServerError, ErrCodeSearchFailed)
		return
	}
	ok(c, http.StatusOK, SearchDocumentsResponse{Query: q, Documents: summarizeAll(docs)})
}

// GetDocument godoc
// @ID          getDocument
// @Summary     Get a document
// @Description Returns the document metadata and its extracted text.
// @Tags        Documents
// @Produce     json
//
// @Param       X-User-ID  header  string  false "User ID (demo header)"  example(user123)
// @Param       id         path    string  true  "Document ID (UUID)"     format(uuid)
//
// @Success     200  {object} domain.Document
// @Failure     403  {object} handlers.ErrorResponse "Owned by another user"
// @Failure     404  {object} handlers.ErrorResponse "Document not found"
// @Router      /documents/{id} [get]
func (h *Handlers) GetDocument(c *gin.Context) {
	doc, err := h.docSvc.GetDocument(c.Request.Context(), c.Param("id"), userID(c))
	if err != nil {
		failErr(c, err, http.StatusInternalServerError, ErrCodeInternal)
		return
	}
	ok(c, http.StatusOK, doc)
}

// DownloadDocument godoc
// @ID          downloadDocument
// @Summary     Download the original upload
// @Description Redirects to a time-limited object-storage link, or streams the file when storage is local.
// @Tags        Documents
// @Produce     octet-stream
//
// @Param       X-User-ID  header  string  false "User ID (demo header)"  example(user123)
// @Param       id         path    string  true  "Document ID (UUID)"     format(uuid)
//
// @Success     200  {file}   file
// @Success     302  {string} string "Redirect to presigned URL"
// @Failure     403  {object} handlers.ErrorResponse "Owned by another user"
// @Failure     404  {object} handlers.ErrorResponse "Document not found"
// @Failure     502  {object} handlers.ErrorResponse "Storage failed"
// @Router      /documents/{id}/file [get]
func (h *Handlers) DownloadDocument(c *gin.Context) {
	ctx := c.Request.Context()
	id, uid := c.Param("id"), userID(c)

	url, err := h.docSvc.DownloadURL(ctx, id, uid, h.opts.DownloadTTL)
	if err != nil {
		failErr(c, err, http.StatusBadGateway, ErrCodeDownloadFailed)
		return
	}
	if strings.HasPrefix(url, "http://") || strings.HasPrefix(url, "https://") {
		c.Redirect(http.StatusFound, url)
		return
	}

	doc, data, err := h.docSvc.DownloadFile(ctx, id, uid)
	if err != nil {
		failErr(c, err, http.StatusBadGateway, ErrCodeDownloadFailed)
		return
	}
	ct := mime.TypeByExtension(filepath.Ext(doc.Filename))
	if ct == "" {
		ct = "application/octet-stream"
	}
	c.Header("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": doc.Filename}))
	c.Data(http.StatusOK, ct, data)
}

// DeleteDocument godoc
// @ID          deleteDocument
// @Summary     Delete a document
// @Description Removes the document's vectors, raw upload and metadata.
// @Tags        Documents
//
// @Param       X-User-ID  header  string  false "User ID (demo header)"  example(user123)
// @Param       id         path    string  true  "Document ID (UUID)"     format(uuid)
//
// @Success     204  {string} string "No Content"
// @Failure     403  {object} handlers.ErrorResponse "Owned by another user"
// @Failure     404  {object} handlers.ErrorResponse "Document not found"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /documents/{id} [delete]
func (h *Handlers) DeleteDocument(c *gin.Context) {
	if err := h.docSvc.DeleteDocument(c.Request.Context(), c.Param("id"), userID(c)); err != nil {
		failErr(c, err, http.StatusInternalServerError, ErrCodeDeleteFailed)
		return
	}
	noContent(c)
}
