package services

import (
	"context"
	"errors"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/tbourn/go-rag-backend/internal/domain"
)

var (
	// docsIngested counts ingestion attempts by registered format ("other"
	// for anything else) and outcome.
	docsIngested = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rag_documents_ingested_total",
			Help: "Total number of document ingestion attempts.",
		},
		[]string{"format", "outcome"},
	)

	// chunksEmbedded counts chunks written to the vector store.
	chunksEmbedded = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rag_chunks_embedded_total",
			Help: "Total number of chunks embedded and upserted.",
		},
	)

	// ingestDuration records end-to-end ingestion latency for successful runs.
	ingestDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "rag_ingest_duration_seconds",
			Help:    "Duration of successful document ingestion in seconds.",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		},
	)

	// questionsAnswered counts QA requests by mode (sync, stream) and outcome.
	questionsAnswered = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rag_questions_total",
			Help: "Total number of questions answered.",
		},
		[]string{"mode", "outcome"},
	)
)

func init() {
	prometheus.MustRegister(docsIngested, chunksEmbedded, ingestDuration, questionsAnswered)
}

// ingestOutcome maps a pipeline error to a low-cardinality metric label.
func ingestOutcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.Is(err, domain.ErrInvalidStorageKey):
		return "invalid"
	case errors.Is(err, ErrUnsupportedFormat):
		return "unsupported"
	case errors.Is(err, ErrExtraction):
		return "extract_error"
	case errors.Is(err, ErrEmptyDocument):
		return "empty"
	default:
		return "error"
	}
}

// formatLabel keeps the format label bounded to the registered extractors.
func formatLabel(ex Extractors, format string) string {
	if _, ok := ex[format]; ok {
		return format
	}
	return "other"
}
