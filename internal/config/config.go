// Package config provides application configuration loaded from environment
// variables with defaults and validation. It centralizes server, logging,
// persistence, model provider, vector store, object storage, rate limiting
// and observability settings.
//
// A variable that is set but malformed ("CHUNK_SIZE=lots") is an error, not a
// silent fallback to the default. Load reports every problem at once.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// CORSConfig defines Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string
}

// SecurityConfig defines security-related settings such as HSTS.
type SecurityConfig struct {
	EnableHSTS bool
	HSTSMaxAge time.Duration
}

// OTELConfig defines OpenTelemetry observability settings.
type OTELConfig struct {
	Enabled     bool    // OTEL_ENABLED
	Endpoint    string  // OTEL_EXPORTER_OTLP_ENDPOINT (e.g. "otel:4317")
	Insecure    bool    // OTEL_EXPORTER_OTLP_INSECURE (true if no TLS)
	ServiceName string  // OTEL_SERVICE_NAME (e.g. "go-rag-backend")
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// OpenAIConfig defines the embedding and chat model provider. BaseURL may
// point at any OpenAI-compatible endpoint.
type OpenAIConfig struct {
	APIKey             string  // OPENAI_API_KEY
	BaseURL            string  // OPENAI_BASE_URL
	EmbeddingModel     string  // EMBEDDING_MODEL
	EmbeddingBatchSize int     // EMBEDDING_BATCH_SIZE
	LLMModel           string  // LLM_MODEL
	Temperature        float64 // LLM_TEMPERATURE in [0..2]
	MaxTokens          int     // LLM_MAX_TOKENS, 0 = provider default
}

// VectorConfig selects and configures the vector store.
type VectorConfig struct {
	Backend    string // VECTOR_STORE: qdrant|memory
	Host       string // QDRANT_HOST
	Port       int    // QDRANT_PORT (gRPC)
	APIKey     string // QDRANT_API_KEY
	UseTLS     bool   // QDRANT_USE_TLS
	Collection string // QDRANT_COLLECTION
	Dimension  int    // EMBEDDING_DIM
}

// StorageConfig selects and configures raw upload storage.
type StorageConfig struct {
	Backend     string        // STORAGE_BACKEND: minio|local
	Dir         string        // STORAGE_DIR for local
	Endpoint    string        // MINIO_ENDPOINT
	AccessKey   string        // MINIO_ACCESS_KEY
	SecretKey   string        // MINIO_SECRET_KEY
	Bucket      string        // MINIO_BUCKET
	UseSSL      bool          // MINIO_USE_SSL
	Region      string        // MINIO_REGION
	DownloadTTL time.Duration // DOWNLOAD_URL_TTL
}

// Config holds all configuration values for the application.
type Config struct {
	// Server
	Port              string        // just the number
	ReadTimeout       time.Duration // e.g. 15s
	ReadHeaderTimeout time.Duration // e.g. 10s
	WriteTimeout      time.Duration // e.g. 20s
	IdleTimeout       time.Duration // e.g. 60s
	MaxHeaderBytes    int           // bytes
	GinMode           string        // debug|release|test

	// Logging / Docs
	LogLevel       string // debug|info|warn|error|fatal|panic
	LogPretty      bool   // pretty console logs in dev
	SwaggerEnabled bool   // enable Swagger UI route
	APIBasePath    string // base path for API routes

	// App
	DBPath            string // SQLite path
	ChunkSize         int    // characters per chunk
	TopK              int    // chunks retrieved per question
	UpsertConcurrency int    // parallel vector upserts per document
	Deduplicate       bool   // return existing document for identical uploads
	MaxUploadBytes    int64  // multipart upload cap
	SystemPrompt      string // prompt placed ahead of retrieved context
	DefaultUserID     string // user for CLI commands without --user

	// Rate limiting
	RateRPS   float64 // tokens per second (>= 0)
	RateBurst int     // bucket size (>= 1)

	// Web protection
	CORS     CORSConfig
	Security SecurityConfig

	// Idempotency
	IdempotencyTTL time.Duration // how long a given Idempotency-Key is valid

	// Providers
	OpenAI  OpenAIConfig
	Vector  VectorConfig
	Storage StorageConfig

	// Observability
	OTEL OTELConfig
}

// MustLoad loads the configuration and panics if validation fails.
func MustLoad() Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load reads configuration from environment variables, applies defaults,
// normalizes values and validates the result. The returned error joins every
// parse and validation failure.
func Load() (Config, error) {
	var e env
	cfg := Config{
		// Server. Answers and uploads wait on the model provider, so the write
		// timeout is generous.
		Port:              e.str("PORT", "8080"),
		ReadTimeout:       e.duration("READ_TIMEOUT", 30*time.Second),
		ReadHeaderTimeout: e.duration("READ_HEADER_TIMEOUT", 10*time.Second),
		WriteTimeout:      e.duration("WRITE_TIMEOUT", 2*time.Minute),
		IdleTimeout:       e.duration("IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    int(e.size("MAX_HEADER_BYTES", 1<<20)),
		GinMode:           strings.ToLower(e.str("GIN_MODE", "release")),

		// Logging / Docs
		LogLevel:       strings.ToLower(e.str("LOG_LEVEL", "info")),
		LogPretty:      e.boolean("LOG_PRETTY", false),
		SwaggerEnabled: e.boolean("SWAGGER_ENABLED", false),
		APIBasePath:    normalizeBasePath(e.str("API_BASE_PATH", "/api/v1")),

		// Pipeline
		DBPath:            e.str("DB_PATH", "app.db"),
		ChunkSize:         e.integer("CHUNK_SIZE", 1000),
		TopK:              e.integer("TOP_K", 5),
		UpsertConcurrency: e.integer("UPSERT_CONCURRENCY", 4),
		Deduplicate:       e.boolean("DEDUPLICATE", false),
		MaxUploadBytes:    e.size("MAX_UPLOAD_BYTES", 32<<20),
		SystemPrompt:      e.str("SYSTEM_PROMPT", ""),
		DefaultUserID:     e.str("DEFAULT_USER_ID", "demo-user"),

		// Rate limiting
		RateRPS:   e.float("RATE_RPS", 5.0),
		RateBurst: e.integer("RATE_BURST", 10),

		CORS: CORSConfig{
			AllowedOrigins: splitCSV(e.str("CORS_ALLOWED_ORIGINS", "")),
		},
		Security: SecurityConfig{
			EnableHSTS: e.boolean("ENABLE_HSTS", false),
			HSTSMaxAge: e.duration("HSTS_MAX_AGE", 180*24*time.Hour),
		},

		IdempotencyTTL: e.duration("IDEMPOTENCY_TTL", 24*time.Hour),

		OpenAI: OpenAIConfig{
			APIKey:             e.str("OPENAI_API_KEY", ""),
			BaseURL:            e.str("OPENAI_BASE_URL", ""),
			EmbeddingModel:     e.str("EMBEDDING_MODEL", "text-embedding-3-small"),
			EmbeddingBatchSize: e.integer("EMBEDDING_BATCH_SIZE", 500),
			LLMModel:           e.str("LLM_MODEL", "gpt-4o-mini"),
			Temperature:        e.float("LLM_TEMPERATURE", 0.2),
			MaxTokens:          e.integer("LLM_MAX_TOKENS", 0),
		},
		Vector: VectorConfig{
			Backend:    strings.ToLower(e.str("VECTOR_STORE", "qdrant")),
			Host:       e.str("QDRANT_HOST", "localhost"),
			Port:       e.integer("QDRANT_PORT", 6334),
			APIKey:     e.str("QDRANT_API_KEY", ""),
			UseTLS:     e.boolean("QDRANT_USE_TLS", false),
			Collection: e.str("QDRANT_COLLECTION", "documents"),
			Dimension:  e.integer("EMBEDDING_DIM", 1536),
		},
		Storage: StorageConfig{
			Backend:     strings.ToLower(e.str("STORAGE_BACKEND", "local")),
			Dir:         e.str("STORAGE_DIR", "data/uploads"),
			Endpoint:    e.str("MINIO_ENDPOINT", "localhost:9000"),
			AccessKey:   e.str("MINIO_ACCESS_KEY", ""),
			SecretKey:   e.str("MINIO_SECRET_KEY", ""),
			Bucket:      e.str("MINIO_BUCKET", "rag-documents"),
			UseSSL:      e.boolean("MINIO_USE_SSL", false),
			Region:      e.str("MINIO_REGION", ""),
			DownloadTTL: e.duration("DOWNLOAD_URL_TTL", 15*time.Minute),
		},

		OTEL: OTELConfig{
			Enabled:     e.boolean("OTEL_ENABLED", false),
			Endpoint:    e.str("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    e.boolean("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: e.str("OTEL_SERVICE_NAME", "go-rag-backend"),
			SampleRatio: e.float("OTEL_TRACES_SAMPLER_ARG", 1.0),
		},
	}

	if cfg.LogLevel == "warning" {
		cfg.LogLevel = "warn"
	}
	switch cfg.GinMode {
	case "debug", "release", "test":
	default:
		cfg.GinMode = "release"
	}

	return cfg, errors.Join(append(e.errs, cfg.validate()...)...)
}

func (c Config) validate() []error {
	var errs []error
	check := func(ok bool, msg string) {
		if !ok {
			errs = append(errs, errors.New(msg))
		}
	}
	blank := func(s string) bool { return strings.TrimSpace(s) == "" }

	switch c.LogLevel {
	case "debug", "info", "warn", "error", "fatal", "panic":
	default:
		check(false, "LOG_LEVEL must be one of: debug, info, warn, error, fatal, panic")
	}
	check(!blank(c.Port), "PORT must not be empty")
	check(c.ReadTimeout > 0 && c.ReadHeaderTimeout > 0 && c.WriteTimeout > 0 && c.IdleTimeout > 0,
		"timeouts must be positive durations")
	check(c.MaxHeaderBytes > 0, "MAX_HEADER_BYTES must be > 0")

	check(!blank(c.DBPath), "DB_PATH must not be empty")
	check(c.ChunkSize > 0, "CHUNK_SIZE must be > 0")
	check(c.TopK > 0, "TOP_K must be > 0")
	check(c.UpsertConcurrency >= 1, "UPSERT_CONCURRENCY must be >= 1")
	check(c.MaxUploadBytes > 0, "MAX_UPLOAD_BYTES must be > 0")

	check(c.OpenAI.EmbeddingBatchSize > 0, "EMBEDDING_BATCH_SIZE must be > 0")
	check(c.OpenAI.Temperature >= 0 && c.OpenAI.Temperature <= 2, "LLM_TEMPERATURE must be in [0,2]")
	check(c.OpenAI.MaxTokens >= 0, "LLM_MAX_TOKENS must be >= 0")

	switch c.Vector.Backend {
	case "memory":
	case "qdrant":
		check(!blank(c.Vector.Host) && c.Vector.Port > 0, "QDRANT_HOST and QDRANT_PORT are required for VECTOR_STORE=qdrant")
		check(!blank(c.Vector.Collection), "QDRANT_COLLECTION must not be empty")
	default:
		check(false, "VECTOR_STORE must be one of: qdrant, memory")
	}
	check(c.Vector.Dimension > 0, "EMBEDDING_DIM must be > 0")

	switch c.Storage.Backend {
	case "local":
		check(!blank(c.Storage.Dir), "STORAGE_DIR must not be empty")
	case "minio":
		check(!blank(c.Storage.Endpoint) && !blank(c.Storage.Bucket), "MINIO_ENDPOINT and MINIO_BUCKET are required for STORAGE_BACKEND=minio")
	default:
		check(false, "STORAGE_BACKEND must be one of: minio, local")
	}
	check(c.Storage.DownloadTTL > 0, "DOWNLOAD_URL_TTL must be > 0")

	check(c.RateRPS >= 0, "RATE_RPS must be >= 0")
	check(c.RateBurst >= 1, "RATE_BURST must be >= 1")
	check(c.Security.HSTSMaxAge >= 0, "HSTS_MAX_AGE must be >= 0")
	check(c.IdempotencyTTL > 0, "IDEMPOTENCY_TTL must be > 0")
	check(c.OTEL.SampleRatio >= 0 && c.OTEL.SampleRatio <= 1, "OTEL_TRACES_SAMPLER_ARG must be in [0,1]")
	return errs
}

// ErrMissingAPIKey is returned by RequireOpenAI when no key is configured.
var ErrMissingAPIKey = errors.New("OPENAI_API_KEY must be set")

// RequireOpenAI reports whether the model provider is usable. Only commands
// that embed or generate call it.
func (c Config) RequireOpenAI() error {
	if strings.TrimSpace(c.OpenAI.APIKey) == "" {
		return ErrMissingAPIKey
	}
	return nil
}

// env reads typed variables and remembers which ones failed to parse.
// Unset or empty variables yield the default.
type env struct {
	errs []error
}

func (e *env) lookup(k string) (string, bool) {
	v, ok := os.LookupEnv(k)
	v = strings.TrimSpace(v)
	return v, ok && v != ""
}

func (e *env) fail(k, v, want string) {
	e.errs = append(e.errs, fmt.Errorf("%s: %q is not a valid %s", k, v, want))
}

func (e *env) str(k, def string) string {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		return v
	}
	return def
}

func (e *env) integer(k string, def int) int {
	v, ok := e.lookup(k)
	if !ok {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		e.fail(k, v, "integer")
		return def
	}
	return i
}

func (e *env) float(k string, def float64) float64 {
	v, ok := e.lookup(k)
	if !ok {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		e.fail(k, v, "number")
		return def
	}
	return f
}

func (e *env) boolean(k string, def bool) bool {
	v, ok := e.lookup(k)
	if !ok {
		return def
	}
	switch strings.ToLower(v) {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	}
	e.fail(k, v, "boolean")
	return def
}

func (e *env) duration(k string, def time.Duration) time.Duration {
	v, ok := e.lookup(k)
	if !ok {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.fail(k, v, "duration")
		return def
	}
	return d
}

var sizeUnits = []struct {
	suffix string
	mult   int64
}{
	{"GIB", 1 << 30}, {"MIB", 1 << 20}, {"KIB", 1 << 10},
	{"GB", 1e9}, {"MB", 1e6}, {"KB", 1e3},
	{"B", 1},
}

// size parses a byte count, optionally suffixed with B, KB, MB, GB (powers of
// 1000) or KiB, MiB, GiB (powers of 1024).
func (e *env) size(k string, def int64) int64 {
	v, ok := e.lookup(k)
	if !ok {
		return def
	}
	num, mult := strings.ToUpper(v), int64(1)
	for _, u := range sizeUnits {
		if strings.HasSuffix(num, u.suffix) {
			num, mult = strings.TrimSpace(strings.TrimSuffix(num, u.suffix)), u.mult
			break
		}
	}
	n, err := strconv.ParseInt(num, 10, 64)
	if err != nil {
		e.fail(k, v, "size")
		return def
	}
	return n * mult
}

func splitCSV(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// normalizeBasePath ensures a leading '/' and strips trailing ones (except root).
func normalizeBasePath(p string) string {
	p = strings.Trim(strings.TrimSpace(p), "/")
	return "/" + p
}
