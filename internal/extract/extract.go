// Package extract turns uploaded file bytes into plain text. Each format has
// its own extractor; Registry bundles them keyed by file extension for the
// ingestion pipeline. Every failure wraps services.ErrExtraction together
// with the format name.
package extract

import (
	"fmt"

	"github.com/tbourn/go-rag-backend/internal/services"
)

// Registry returns the extractors for every supported extension.
func Registry() services.Extractors {
	text := PlainText{}
	return services.Extractors{
		"pdf":  PDF{},
		"docx": DOCX{},
		"txt":  text,
		"md":   text,
	}
}

func fail(format string, err error) error {
	return fmt.Errorf("%w: %s: %w", services.ErrExtraction, format, err)
}
