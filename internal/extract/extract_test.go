package extract

import (
	"archive/zip"
	"bytes"
	"context"
	"hash/crc32"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tbourn/go-rag-backend/internal/services"
)

func buildDOCX(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, body := range files {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(body))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

const documentXML = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main">
  <w:body>
    <w:p><w:r><w:t>Hello</w:t></w:r><w:r><w:t xml:space="preserve"> world</w:t></w:r></w:p>
    <w:p><w:r><w:t>Second paragraph</w:t></w:r></w:p>
  </w:body>
</w:document>`

func TestDOCX_Extract(t *testing.T) {
	data := buildDOCX(t, map[string]string{"word/document.xml": documentXML})

	text, err := DOCX{}.Extract(context.Background(), data)
	require.NoError(t, err)
	assert.Equal(t, "Hello world\nSecond paragraph", text)
}

func TestDOCX_Malformed(t *testing.T) {
	_, err := DOCX{}.Extract(context.Background(), []byte("not a zip"))
	assert.ErrorIs(t, err, services.ErrExtraction)

	missing := buildDOCX(t, map[string]string{"word/styles.xml": "<x/>"})
	_, err = DOCX{}.Extract(context.Background(), missing)
	assert.ErrorIs(t, err, services.ErrExtraction)
	assert.Contains(t, err.Error(), "word/document.xml")

	badXML := buildDOCX(t, map[string]string{"word/document.xml": "<w:document><w:body>"})
	_, err = DOCX{}.Extract(context.Background(), badXML)
	assert.ErrorIs(t, err, services.ErrExtraction)
}

const nestedXML = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"
            xmlns:r="http://schemas.openxmlformats.org/officeDocument/2006/relationships">
  <w:body>
    <w:p><w:pPr><w:tabs><w:tab w:val="left" w:pos="720"/></w:tabs></w:pPr><w:r><w:t>Leave policy</w:t></w:r></w:p>
    <w:tbl>
      <w:tr>
        <w:tc><w:p><w:r><w:t>Refund within 30 days</w:t></w:r></w:p></w:tc>
        <w:tc><w:p><w:r><w:t>Day</w:t><w:tab/><w:t>2024</w:t></w:r></w:p></w:tc>
      </w:tr>
    </w:tbl>
    <w:p><w:r><w:t xml:space="preserve">Details: </w:t></w:r><w:hyperlink r:id="rId5"><w:r><w:t>see policy</w:t></w:r></w:hyperlink></w:p>
    <w:sdt><w:sdtContent><w:p><w:r><w:t>Owner: HR</w:t></w:r></w:p></w:sdtContent></w:sdt>
    <w:p><w:del><w:r><w:delText>removed</w:delText></w:r></w:del><w:r><w:t>Line one</w:t><w:br/><w:t>line two</w:t></w:r></w:p>
  </w:body>
</w:document>`

func TestDOCX_Extract_TablesHyperlinksAndContentControls(t *testing.T) {
	data := buildDOCX(t, map[string]string{"word/document.xml": nestedXML})

	text, err := DOCX{}.Extract(context.Background(), data)
	require.NoError(t, err)
	assert.Equal(t, strings.Join([]string{
		"Leave policy",
		"Refund within 30 days",
		"Day\t2024",
		"Details: see policy",
		"Owner: HR",
		"Line one\nline two",
	}, "\n"), text)
}

func TestDOCX_Extract_OnlyTableText(t *testing.T) {
	xml := `<w:document xmlns:w="w"><w:body><w:tbl><w:tr><w:tc><w:p><w:r><w:t>Refund within 30 days</w:t></w:r></w:p></w:tc></w:tr></w:tbl></w:body></w:document>`
	text, err := DOCX{}.Extract(context.Background(), buildDOCX(t, map[string]string{"word/document.xml": xml}))
	require.NoError(t, err)
	assert.Equal(t, "Refund within 30 days", text)
}

func bigDocumentXML(paragraphs int) string {
	var sb strings.Builder
	sb.WriteString(`<w:document xmlns:w="w"><w:body>`)
	for range paragraphs {
		sb.WriteString(`<w:p><w:r><w:t>aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa</w:t></w:r></w:p>`)
	}
	sb.WriteString(`</w:body></w:document>`)
	return sb.String()
}

func TestDOCX_Extract_RejectsOversizedDocumentPart(t *testing.T) {
	body := bigDocumentXML(200)
	data := buildDOCX(t, map[string]string{"word/document.xml": body})
	require.Less(t, len(data), len(body)/4, "fixture should compress well")

	_, err := DOCX{MaxXMLBytes: 1024}.Extract(context.Background(), data)
	require.ErrorIs(t, err, services.ErrExtraction)
	assert.Contains(t, err.Error(), "limit 1024")

	text, err := DOCX{MaxXMLBytes: int64(len(body))}.Extract(context.Background(), data)
	require.NoError(t, err)
	assert.Len(t, strings.Split(text, "\n"), 200)
}

func TestDOCX_Extract_CapsStreamWhenHeaderUnderstatesSize(t *testing.T) {
	body := []byte(bigDocumentXML(200))

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.CreateRaw(&zip.FileHeader{
		Name:               "word/document.xml",
		Method:             zip.Store,
		CRC32:              crc32.ChecksumIEEE(body),
		CompressedSize64:   uint64(len(body)),
		UncompressedSize64: 100,
	})
	require.NoError(t, err)
	_, err = w.Write(body)
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	text, err := DOCX{MaxXMLBytes: 1024}.Extract(context.Background(), buf.Bytes())
	assert.ErrorIs(t, err, services.ErrExtraction)
	assert.Empty(t, text)
}

func TestDOCX_Extract_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	data := buildDOCX(t, map[string]string{"word/document.xml": bigDocumentXML(2000)})

	_, err := DOCX{}.Extract(ctx, data)
	require.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, services.ErrExtraction)
}

func TestPDF_Malformed(t *testing.T) {
	for _, data := range [][]byte{nil, []byte("%PDF-1.4 garbage"), []byte("plain text")} {
		_, err := PDF{}.Extract(context.Background(), data)
		assert.ErrorIs(t, err, services.ErrExtraction)
	}
}

func TestPlainText_Extract(t *testing.T) {
	text, err := PlainText{}.Extract(context.Background(), []byte("\xEF\xBB\xBFhello"))
	require.NoError(t, err)
	assert.Equal(t, "hello", text)

	// "e" + combining acute accent composes to a single rune.
	text, err = PlainText{}.Extract(context.Background(), []byte("cafe\u0301"))
	require.NoError(t, err)
	assert.Equal(t, "caf\u00e9", text)

	_, err = PlainText{}.Extract(context.Background(), []byte{0xff, 0xfe, 0x00})
	assert.ErrorIs(t, err, services.ErrExtraction)
}

func TestRegistry_DispatchesOnExtension(t *testing.T) {
	reg := Registry()
	assert.Equal(t, []string{"docx", "md", "pdf", "txt"}, reg.Formats())

	text, format, err := reg.Extract(context.Background(), "README.MD", []byte("# Title"))
	require.NoError(t, err)
	assert.Equal(t, "md", format)
	assert.Equal(t, "# Title", text)

	_, _, err = reg.Extract(context.Background(), "photo.jpg", []byte{1})
	assert.ErrorIs(t, err, services.ErrUnsupportedFormat)
}
