// Package domain defines the core entities of the RAG backend: documents and
// their derived chunks, embeddings, and conversation messages. Document and
// Idempotency are mapped with GORM; the remaining types live only in memory
// for the duration of a request.
package domain

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// DefaultChunkSize is the baseline chunk width in characters.
const DefaultChunkSize = 1000

var (
	// ErrInvalidChunkSize is returned when a chunk size is zero or negative.
	ErrInvalidChunkSize = errors.New("chunk size must be positive")
	// ErrInvalidStorageKey is returned when a user id or filename cannot be
	// used as a single segment of an object-storage key.
	ErrInvalidStorageKey = errors.New("invalid storage key")
)

// Document is an ingested file: its extracted text plus ownership and
// provenance. Rows are written once per successful ingestion and only ever
// deleted, never updated.
//
// Fields:
//   - ID: UUID primary key, generated at ingestion.
//   - UserID: owner; every read path checks it.
//   - Filename: original upload name, also the last segment of the blob key.
//   - Content: full extracted text (non-empty by construction).
//   - ContentHash: sha256 of the raw bytes, used for optional deduplication.
//   - ChunkCount: number of vector records written for this document.
//   - SizeBytes / Format: raw upload size and the extractor that handled it.
//   - Metadata: free-form JSON attributes.
type Document struct {
	ID          string            `json:"id"           gorm:"type:char(36);primaryKey"`
	UserID      string            `json:"user_id"      gorm:"type:varchar(64);not null;index:idx_user_docs,priority:1;index:idx_user_hash,priority:1"`
	Filename    string            `json:"filename"     gorm:"type:varchar(255);not null"`
	Content     string            `json:"content"      gorm:"type:text;not null"`
	ContentHash string            `json:"content_hash" gorm:"type:char(64);index:idx_user_hash,priority:2"`
	ChunkCount  int               `json:"chunk_count"  gorm:"not null;default:0"`
	SizeBytes   int64             `json:"size_bytes"   gorm:"not null;default:0"`
	Format      string            `json:"format"       gorm:"type:varchar(16)"`
	Metadata    datatypes.JSONMap `json:"metadata,omitempty"`
	CreatedAt   time.Time         `json:"created_at"   gorm:"index:idx_user_docs,priority:2"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

// TableName returns the database table name for Document.
func (Document) TableName() string { return "documents" }

// NewDocument builds a Document with a fresh UUID and a UTC creation time.
func NewDocument(filename, content, userID string) *Document {
	now := time.Now().UTC()
	return &Document{
		ID:        uuid.NewString(),
		UserID:    userID,
		Filename:  filename,
		Content:   content,
		Format:    Extension(filename),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// SplitIntoChunks splits the document content with SplitIntoChunks.
func (d *Document) SplitIntoChunks(chunkSize int) ([]string, error) {
	return SplitIntoChunks(d.Content, chunkSize)
}

// ChunkIDs returns the vector record ids owned by this document.
func (d *Document) ChunkIDs() []string {
	return ChunkIDs(d.ID, d.ChunkCount)
}

// StorageKey returns the object-storage key of the raw upload.
func (d *Document) StorageKey() string {
	return StorageKey(d.UserID, d.ID, d.Filename)
}

// SplitIntoChunks cuts content into consecutive, non-overlapping segments of
// at most chunkSize characters. The final segment may be shorter. Widths are
// counted in runes so multi-byte characters are never split.
//
// Concatenating the result in order yields content exactly. Empty content
// yields no chunks.
func SplitIntoChunks(content string, chunkSize int) ([]string, error) {
	if chunkSize <= 0 {
		return nil, ErrInvalidChunkSize
	}
	if content == "" {
		return nil, nil
	}

	n := utf8.RuneCountInString(content)
	chunks := make([]string, 0, (n+chunkSize-1)/chunkSize)

	start, count := 0, 0
	for i := range content {
		if count == chunkSize {
			chunks = append(chunks, content[start:i])
			start, count = i, 0
		}
		count++
	}
	chunks = append(chunks, content[start:])
	return chunks, nil
}

// ChunkID renders the vector-store key for chunk index of a document.
func ChunkID(documentID string, index int) string {
	return fmt.Sprintf("%s_chunk_%d", documentID, index)
}

// ChunkIDs renders the keys for chunks 0..n-1.
func ChunkIDs(documentID string, n int) []string {
	if n <= 0 {
		return nil
	}
	ids := make([]string, n)
	for i := range ids {
		ids[i] = ChunkID(documentID, i)
	}
	return ids
}

// StorageKey renders the object-storage key documents/{user}/{doc}/{filename}.
func StorageKey(userID, documentID, filename string) string {
	return "documents/" + userID + "/" + documentID + "/" + filename
}

// CheckStorageKey reports whether userID and filename are each usable as one
// segment of StorageKey: non-empty, not "." or "..", and free of path
// separators and control characters.
func CheckStorageKey(userID, filename string) error {
	if !validKeySegment(userID) {
		return fmt.Errorf("%w: user id %q", ErrInvalidStorageKey, userID)
	}
	if !validKeySegment(filename) {
		return fmt.Errorf("%w: filename %q", ErrInvalidStorageKey, filename)
	}
	return nil
}

func validKeySegment(s string) bool {
	if strings.TrimSpace(s) == "" || s == "." || s == ".." {
		return false
	}
	return !strings.ContainsAny(s, `/\`) && strings.IndexFunc(s, unicode.IsControl) < 0
}

// Extension returns the lower-cased extension of filename without the dot,
// or "" when there is none.
func Extension(filename string) string {
	return strings.TrimPrefix(strings.ToLower(filepath.Ext(filename)), ".")
}
