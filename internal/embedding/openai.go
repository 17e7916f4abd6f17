// Package embedding provides the OpenAI-backed implementation of
// services.Embedder. Texts are sent in batches and rate-limited requests are
// retried with exponential backoff; any other API error fails immediately.
package embedding

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/tbourn/go-rag-backend/internal/domain"
)

const (
	// DefaultModel is used when no model is configured.
	DefaultModel = "text-embedding-3-small"

	// DefaultBatchSize keeps requests well below the API's per-call input
	// limit while bounding tokens-per-minute pressure.
	DefaultBatchSize = 500
)

// Config configures the OpenAI embedder.
type Config struct {
	APIKey    string
	BaseURL   string
	Model     string
	BatchSize int
}

// OpenAI implements services.Embedder with the OpenAI embeddings API.
type OpenAI struct {
	client    openai.Client
	model     string
	batchSize int

	// RetryInitial and RetryMaxElapsed tune the 429 backoff.
	RetryInitial    time.Duration
	RetryMaxElapsed time.Duration
}

// NewOpenAI builds an embedder. An empty APIKey falls back to the
// OPENAI_API_KEY environment variable read by the SDK.
func NewOpenAI(cfg Config) *OpenAI {
	opts := []option.RequestOption{option.WithMaxRetries(0)}
	if cfg.APIKey != "" {
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	return &OpenAI{
		client:          openai.NewClient(opts...),
		model:           cfg.Model,
		batchSize:       cfg.BatchSize,
		RetryInitial:    500 * time.Millisecond,
		RetryMaxElapsed: 30 * time.Second,
	}
}

// Embed embeds a single text.
func (e *OpenAI) Embed(ctx context.Context, text string) (domain.Embedding, error) {
	out, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return domain.Embedding{}, err
	}
	if len(out) != 1 {
		return domain.Embedding{}, fmt.Errorf("expected 1 embedding, got %d", len(out))
	}
	return out[0], nil
}

// EmbedBatch embeds texts in order, splitting them into API-sized batches.
func (e *OpenAI) EmbedBatch(ctx context.Context, texts []string) ([]domain.Embedding, error) {
	out := make([]domain.Embedding, 0, len(texts))
	for i := 0; i < len(texts); i += e.batchSize {
		end := min(i+e.batchSize, len(texts))
		batch, err := e.embedWithRetry(ctx, texts[i:end])
		if err != nil {
			return nil, fmt.Errorf("batch %d-%d: %w", i, end, err)
		}
		out = append(out, batch...)
	}
	return out, nil
}

func (e *OpenAI) embedWithRetry(ctx context.Context, texts []string) ([]domain.Embedding, error) {
	var out []domain.Embedding

	operation := func() error {
		resp, err := e.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
			Input: openai.EmbeddingNewParamsInputUnion{
				OfArrayOfStrings: texts,
			},
			Model: openai.EmbeddingModel(e.model),
		})
		if err != nil {
			if isRateLimit(err) {
				return err
			}
			return backoff.Permanent(err)
		}

		// the API documents index order but does not promise it
		data := resp.Data
		sort.SliceStable(data, func(a, b int) bool { return data[a].Index < data[b].Index })

		out = make([]domain.Embedding, 0, len(data))
		for _, d := range data {
			if int(d.Index) >= len(texts) {
				return backoff.Permanent(fmt.Errorf("embedding index %d out of range", d.Index))
			}
			out = append(out, domain.NewEmbedding(toFloat32(d.Embedding), e.model, texts[d.Index]))
		}
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = e.RetryInitial
	b.MaxInterval = 10 * time.Second
	b.MaxElapsedTime = e.RetryMaxElapsed

	err := backoff.Retry(operation, backoff.WithContext(b, ctx))
	return out, err
}

func isRateLimit(err error) bool {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == http.StatusTooManyRequests
	}
	return false
}

func toFloat32(f64 []float64) []float32 {
	f32 := make([]float32, len(f64))
	for i, v := range f64 {
		f32[i] = float32(v)
	}
	return f32
}
