package extract

import (
	"bytes"
	"context"
	"errors"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// PlainText decodes UTF-8 text (txt, md). A leading byte-order mark is
// dropped and the result is NFC-normalised so visually identical text embeds
// identically.
type PlainText struct{}

// Extract implements services.TextExtractor.
func (PlainText) Extract(_ context.Context, data []byte) (string, error) {
	data = bytes.TrimPrefix(data, utf8BOM)
	if !utf8.Valid(data) {
		return "", fail("text", errors.New("invalid UTF-8"))
	}
	return norm.NFC.String(string(data)), nil
}
