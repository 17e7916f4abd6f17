// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Document
// model and DocumentRepo, which adapts them to services.DocumentRepository.
//
// Functions follow the "thin repository" approach: no business logic, only
// persistence and query composition. Ownership rules live in the service
// layer.
//
// Error semantics:
//   - Lookups by id, filename or hash return ErrNotFound when nothing matches;
//     DocumentRepo translates that into (nil, nil).
//   - Other gorm errors are propagated unchanged.
package repo

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-rag-backend/internal/domain"
	"github.com/tbourn/go-rag-backend/internal/search"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = gorm.ErrRecordNotFound

// searchScanLimit caps how many prefiltered rows are scored per search.
const searchScanLimit = 200

// CreateDocument inserts d. CreatedAt/UpdatedAt default to now (UTC).
func CreateDocument(ctx context.Context, db *gorm.DB, d *domain.Document) error {
	now := time.Now().UTC()
	if d.CreatedAt.IsZero() {
		d.CreatedAt = now
	}
	if d.UpdatedAt.IsZero() {
		d.UpdatedAt = d.CreatedAt
	}
	return db.WithContext(ctx).Create(d).Error
}

// GetDocument fetches a document by id.
func GetDocument(ctx context.Context, db *gorm.DB, id string) (*domain.Document, error) {
	var d domain.Document
	if err := db.WithContext(ctx).First(&d, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &d, nil
}

// GetDocumentByFilename returns the user's newest document with filename.
func GetDocumentByFilename(ctx context.Context, db *gorm.DB, userID, filename string) (*domain.Document, error) {
	var d domain.Document
	err := db.WithContext(ctx).
		Where("user_id = ? AND filename = ?", userID, filename).
		Order("created_at DESC").
		First(&d).Error
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// GetDocumentByHash returns the user's oldest document with the given
// content hash.
func GetDocumentByHash(ctx context.Context, db *gorm.DB, userID, hash string) (*domain.Document, error) {
	var d domain.Document
	err := db.WithContext(ctx).
		Where("user_id = ? AND content_hash = ?", userID, hash).
		Order("created_at ASC").
		First(&d).Error
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// ListDocumentsPage returns a page of the user's documents, newest first.
// Ties on created_at are broken by id so pages are stable.
func ListDocumentsPage(ctx context.Context, db *gorm.DB, userID string, offset, limit int) ([]domain.Document, error) {
	var out []domain.Document
	err := db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Order("id ASC").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}

// CountDocuments returns the number of documents owned by userID.
func CountDocuments(ctx context.Context, db *gorm.DB, userID string) (int64, error) {
	var n int64
	err := db.WithContext(ctx).Model(&domain.Document{}).Where("user_id = ?", userID).Count(&n).Error
	return n, err
}

// DocumentExists reports whether a document with id exists.
func DocumentExists(ctx context.Context, db *gorm.DB, id string) (bool, error) {
	var n int64
	err := db.WithContext(ctx).Model(&domain.Document{}).Where("id = ?", id).Count(&n).Error
	return n > 0, err
}

// DeleteDocument removes the document row. Deleting a missing id returns
// ErrNotFound.
func DeleteDocument(ctx context.Context, db *gorm.DB, id string) error {
	res := db.WithContext(ctx).Where("id = ?", id).Delete(&domain.Document{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// FindDocumentsMatching returns up to limit of the user's documents whose
// filename or content contains any of terms (SQLite LIKE, ASCII
// case-insensitive), newest first.
func FindDocumentsMatching(ctx context.Context, db *gorm.DB, userID string, terms []string, limit int) ([]domain.Document, error) {
	if len(terms) == 0 {
		return nil, nil
	}
	cond := db.WithContext(ctx)
	for i, t := range terms {
		pat := "%" + t + "%"
		if i == 0 {
			cond = cond.Where("filename LIKE ? OR content LIKE ?", pat, pat)
			continue
		}
		cond = cond.Or("filename LIKE ? OR content LIKE ?", pat, pat)
	}

	var out []domain.Document
	err := db.WithContext(ctx).
		Where("user_id = ?", userID).
		Where(cond).
		Order("created_at DESC").
		Limit(limit).
		Find(&out).Error
	return out, err
}

// DocumentRepo implements services.DocumentRepository on top of GORM.
type DocumentRepo struct {
	DB     *gorm.DB
	Ranker *search.Ranker
}

// NewDocumentRepo returns a DocumentRepo with an English stop-word ranker.
func NewDocumentRepo(db *gorm.DB) *DocumentRepo {
	return &DocumentRepo{DB: db, Ranker: search.NewRanker(search.WithStopwords(search.DefaultStopwords))}
}

func (r *DocumentRepo) Save(ctx context.Context, d *domain.Document) (*domain.Document, error) {
	if err := CreateDocument(ctx, r.DB, d); err != nil {
		return nil, err
	}
	return d, nil
}

func (r *DocumentRepo) GetByID(ctx context.Context, id string) (*domain.Document, error) {
	return optional(GetDocument(ctx, r.DB, id))
}

func (r *DocumentRepo) GetByFilename(ctx context.Context, filename, userID string) (*domain.Document, error) {
	return optional(GetDocumentByFilename(ctx, r.DB, userID, filename))
}

func (r *DocumentRepo) GetByContentHash(ctx context.Context, userID, hash string) (*domain.Document, error) {
	return optional(GetDocumentByHash(ctx, r.DB, userID, hash))
}

func (r *DocumentRepo) ListByUser(ctx context.Context, userID string, limit, offset int) ([]domain.Document, error) {
	return ListDocumentsPage(ctx, r.DB, userID, offset, limit)
}

func (r *DocumentRepo) Delete(ctx context.Context, id string) error {
	return DeleteDocument(ctx, r.DB, id)
}

func (r *DocumentRepo) Exists(ctx context.Context, id string) (bool, error) {
	return DocumentExists(ctx, r.DB, id)
}

func (r *DocumentRepo) CountByUser(ctx context.Context, userID string) (int64, error) {
	return CountDocuments(ctx, r.DB, userID)
}

// SearchByUser prefilters the user's documents with LIKE on each query term
// and returns the best limit of them by Jaccard score.
func (r *DocumentRepo) SearchByUser(ctx context.Context, userID, query string, limit int) ([]domain.Document, error) {
	ranker := r.Ranker
	if ranker == nil {
		ranker = search.NewRanker()
	}
	terms := ranker.Terms(query)
	if len(terms) == 0 {
		return []domain.Document{}, nil
	}
	rows, err := FindDocumentsMatching(ctx, r.DB, userID, terms, searchScanLimit)
	if err != nil {
		return nil, err
	}

	byID := make(map[string]domain.Document, len(rows))
	cands := make([]search.Candidate, 0, len(rows))
	for _, d := range rows {
		byID[d.ID] = d
		cands = append(cands, search.Candidate{ID: d.ID, Filename: d.Filename, Text: d.Content})
	}
	hits := ranker.Rank(strings.Join(terms, " "), cands, limit)

	out := make([]domain.Document, 0, len(hits))
	for _, h := range hits {
		out = append(out, byID[h.ID])
	}
	return out, nil
}

func optional(d *domain.Document, err error) (*domain.Document, error) {
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	return d, err
}
