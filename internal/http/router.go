// Package httpapi mounts the document and question-answering API on a Gin
// engine together with the middleware every route shares: tracing, request
// ids, scrubbed access logs, panic recovery, body caps, metrics, upload
// idempotency, weighted rate limiting, CORS, security headers and gzip.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/gorm"

	"github.com/tbourn/go-rag-backend/docs"
	"github.com/tbourn/go-rag-backend/internal/config"
	"github.com/tbourn/go-rag-backend/internal/http/handlers"
	"github.com/tbourn/go-rag-backend/internal/http/middleware"
	"github.com/tbourn/go-rag-backend/internal/repo"
)

// defaultBodyLimit caps JSON request bodies.
const defaultBodyLimit = 1 << 20

// Rate-limiter token costs for expensive routes; everything else costs one.
const (
	uploadCost = 5
	answerCost = 2
)

// RegisterRoutes installs the middleware chain, /health, /metrics, optional
// Swagger UI and the API under cfg.APIBasePath.
//
// Middleware order:
//  1. OpenTelemetry
//  2. RequestID
//  3. RedactingLogger (needs the request id)
//  4. Recovery (logs through the request logger)
//  5. CORS
//  6. Body size caps; uploads get MaxUploadBytes
//  7. Metrics
//  8. Idempotency validator, ahead of the limiter so replays skip it
//  9. Rate limiter, weighted by route
//  10. Security headers
//  11. gzip, never on the event stream
func RegisterRoutes(r *gin.Engine, db *gorm.DB, docSvc handlers.DocumentService, chatSvc handlers.ChatService, cfg config.Config) {
	r.HandleMethodNotAllowed = true

	apiBase := cfg.APIBasePath // e.g. "/api/v1"
	if apiBase == "/" {
		apiBase = ""
	}
	documentsPath := apiBase + "/documents"
	chatPath := apiBase + "/chat"
	streamPath := chatPath + "/stream"

	// 1) Trace all HTTP requests
	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))

	// 2) Correlate requests and logs
	r.Use(middleware.RequestID())

	// 3) Structured logging with redaction; search terms are user text
	r.Use(middleware.RedactingLogger(middleware.RedactOptions{
		MaskHeaders:     []string{"X-API-Key"},
		MaskQueryParams: []string{"q"},
	}))

	// 4) Panic recovery to JSON 500 (with request id)
	r.Use(middleware.Recovery())

	// 5) CORS before anything that can refuse a request, so browsers can
	// read 400/413/429 bodies and preflights are never rate limited
	r.Use(corsHandlers(cfg.CORS.AllowedOrigins)...)

	// 6) Body size limits: 1 MiB by default, MaxUploadBytes (+ multipart
	// framing) for uploads
	uploadLimit := cfg.MaxUploadBytes
	if uploadLimit <= 0 {
		uploadLimit = 32 << 20
	}
	r.Use(limitBody(defaultBodyLimit, map[string]int64{
		http.MethodPost + " " + documentsPath: uploadLimit + 64<<10,
	}))

	// 7) Prometheus metrics and /metrics endpoint
	r.Use(middleware.Metrics())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// 8) Idempotency validation (before rate limiting, so replays are free)
	r.Use(middleware.IdempotencyValidator(middleware.IdempotencyOptions{MaxLen: 200}, idempotencyLookup(db)))

	// 9) Token-bucket rate limiter per user/IP; ingestion and answers cost more
	rl := middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst, middleware.KeyByUserOrIP(),
		middleware.WithCost(middleware.CostByRoute(map[string]int{
			http.MethodPost + " " + documentsPath:     uploadCost,
			http.MethodPost + " " + chatPath + "/ask": answerCost,
			http.MethodPost + " " + streamPath:        answerCost,
		})),
	)
	r.Use(rl.Handler())

	// 10) Security headers (HSTS only when enabled and request is HTTPS).
	// Document bodies and answers are private to the caller.
	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS:      cfg.Security.EnableHSTS,
		HSTSMaxAge:      cfg.Security.HSTSMaxAge,
		NoStorePrefixes: []string{documentsPath, chatPath},
		EnablePolicy:    true,

		ContentSecurityPolicy: middleware.APIContentSecurityPolicy,
		CSPExemptPrefixes:     []string{"/swagger"},
	}))

	// 11) Response compression; SSE must flush fragment by fragment
	r.Use(gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths([]string{streamPath, "/metrics"})))

	// Fallbacks
	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	// Liveness/health
	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	// API docs
	if cfg.SwaggerEnabled {
		docs.SwaggerInfo.BasePath = apiBase
		r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	// Dependency injection: handlers ← services
	h := handlers.New(docSvc, chatSvc, handlers.Options{
		DB:             db,
		MaxUploadBytes: uploadLimit,
		DownloadTTL:    cfg.Storage.DownloadTTL,
		IdempotencyTTL: cfg.IdempotencyTTL,
	})

	// Public API
	api := groupWithPrefix(r, apiBase)
	{
		// Documents
		api.POST("/documents", h.UploadDocument)
		api.GET("/documents", h.ListDocuments)
		api.GET("/documents/count", h.CountDocuments)
		api.GET("/documents/search", h.SearchDocuments)
		api.GET("/documents/:id", h.GetDocument)
		api.GET("/documents/:id/file", h.DownloadDocument)
		api.DELETE("/documents/:id", h.DeleteDocument)

		// Question answering
		api.POST("/chat/ask", h.AskQuestion)
		api.POST("/chat/stream", h.StreamAnswer)
	}
}

// idempotencyLookup reports live idempotency records; a missing record is a
// plain miss, not an error.
func idempotencyLookup(db *gorm.DB) middleware.IdempotencyLookup {
	return func(ctx context.Context, userID, scope, key string, now time.Time) (bool, error) {
		_, err := repo.GetIdempotency(ctx, db, userID, scope, key, now)
		if errors.Is(err, repo.ErrNotFound) {
			return false, nil
		}
		return err == nil, err
	}
}

// corsHandlers allows any origin when origins is empty (no credentials) and
// otherwise only the listed ones. Access-Control-Allow-Origin is written even
// for requests without an Origin header, which keeps curl and health probes
// consistent with browser traffic.
func corsHandlers(origins []string) []gin.HandlerFunc {
	base := cors.Config{
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{
			"Origin", "Content-Type", "Accept", "Authorization", "X-User-ID",
			"If-None-Match", middleware.HeaderIdempotencyKey,
		},
		ExposeHeaders: []string{
			"X-Request-ID", "Content-Length", "ETag", "Location",
			"Content-Disposition", "Retry-After", middleware.HeaderIdempotencyReplayed,
		},
		MaxAge: 12 * time.Hour,
	}

	if len(origins) == 0 {
		base.AllowAllOrigins = true
		return []gin.HandlerFunc{
			func(c *gin.Context) { c.Header("Access-Control-Allow-Origin", "*"); c.Next() },
			cors.New(base),
		}
	}

	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		allowed[o] = true
	}
	base.AllowOrigins = origins
	return []gin.HandlerFunc{
		func(c *gin.Context) {
			if o := c.GetHeader("Origin"); allowed[o] {
				c.Header("Access-Control-Allow-Origin", o)
				c.Writer.Header().Add("Vary", "Origin")
			}
			c.Next()
		},
		cors.New(base),
	}
}

// limitBody returns a Gin middleware that caps the request body size to
// maxBytes using http.MaxBytesReader. perRoute overrides the cap for
// "METHOD route-template" keys. Requests exceeding the cap will cause
// downstream body reads to error.
func limitBody(maxBytes int64, perRoute map[string]int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit := maxBytes
		if n, ok := perRoute[c.Request.Method+" "+c.FullPath()]; ok {
			limit = n
		}
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)
		c.Next()
	}
}

// groupWithPrefix mounts a group at prefix, treating "/" (or empty) as root.
func groupWithPrefix(r *gin.Engine, prefix string) *gin.RouterGroup {
	if prefix == "" || prefix == "/" {
		return r.Group("")
	}
	return r.Group(prefix)
}
