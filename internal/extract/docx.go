package extract

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"
)

const (
	docxBody = "word/document.xml"

	// DefaultDOCXMaxXMLBytes caps the decompressed size of word/document.xml.
	DefaultDOCXMaxXMLBytes = 64 << 20
)

// DOCX extracts the text of word/document.xml, one line per paragraph.
// Paragraphs nested in tables, hyperlinks and content controls are included.
type DOCX struct {
	// MaxXMLBytes caps the decompressed document part; <= 0 means
	// DefaultDOCXMaxXMLBytes.
	MaxXMLBytes int64
}

// Extract implements services.TextExtractor.
func (x DOCX) Extract(ctx context.Context, data []byte) (string, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fail("docx", err)
	}

	var part *zip.File
	for _, f := range zr.File {
		if f.Name == docxBody {
			part = f
			break
		}
	}
	if part == nil {
		return "", fail("docx", errors.New("missing "+docxBody))
	}

	limit := x.MaxXMLBytes
	if limit <= 0 {
		limit = DefaultDOCXMaxXMLBytes
	}
	if part.UncompressedSize64 > uint64(limit) {
		return "", fail("docx", fmt.Errorf("%s is %d bytes, limit %d", docxBody, part.UncompressedSize64, limit))
	}

	rc, err := part.Open()
	if err != nil {
		return "", fail("docx", err)
	}
	defer rc.Close()

	// the header size may lie, so the stream is capped as well
	lr := &io.LimitedReader{R: rc, N: limit + 1}
	text, err := docxText(ctx, xml.NewDecoder(lr))
	if lr.N <= 0 {
		return "", fail("docx", fmt.Errorf("%s exceeds %d bytes", docxBody, limit))
	}
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return "", err
		}
		return "", fail("docx", err)
	}
	return text, nil
}

// docxText collects every w:t run in document order. A line ends at each
// closing w:p; w:tab and w:br inside a run become a tab and a newline.
func docxText(ctx context.Context, dec *xml.Decoder) (string, error) {
	var (
		lines  []string
		sb     strings.Builder
		inText bool
		inRun  int
		n      int
	)
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", err
		}
		if n++; n%4096 == 0 {
			if err := ctx.Err(); err != nil {
				return "", err
			}
		}

		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "r":
				inRun++
			case "t":
				inText = true
			case "tab":
				if inRun > 0 {
					sb.WriteByte('\t')
				}
			case "br", "cr":
				if inRun > 0 {
					sb.WriteByte('\n')
				}
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "r":
				inRun--
			case "t":
				inText = false
			case "p":
				lines = append(lines, sb.String())
				sb.Reset()
			}
		case xml.CharData:
			if inText {
				sb.Write(t)
			}
		}
	}
	if sb.Len() > 0 {
		lines = append(lines, sb.String())
	}
	return strings.Join(lines, "\n"), nil
}
