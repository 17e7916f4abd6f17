package repo

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-rag-backend/internal/domain"
)

// ErrDuplicate means a live record already holds (user_id, scope, key),
// typically because two retries of the same upload finished concurrently.
var ErrDuplicate = errors.New("idempotency key already recorded")

func tuple(db *gorm.DB, userID, scope, key string) *gorm.DB {
	return db.Where("user_id = ? AND scope = ? AND key = ?", userID, scope, key)
}

// GetIdempotency returns the record for (userID, scope, key) that is still
// live at now, or ErrNotFound.
func GetIdempotency(ctx context.Context, db *gorm.DB, userID, scope, key string, now time.Time) (*domain.Idempotency, error) {
	if strings.TrimSpace(scope) == "" || strings.TrimSpace(key) == "" {
		return nil, ErrNotFound
	}
	var rec domain.Idempotency
	if err := tuple(db.WithContext(ctx), userID, scope, key).Where("expires_at > ?", now).First(&rec).Error; err != nil {
		return nil, err
	}
	return &rec, nil
}

// SaveIdempotency stores rec, first clearing an expired record for the same
// tuple so keys can be reused after their TTL.
func SaveIdempotency(ctx context.Context, db *gorm.DB, rec *domain.Idempotency) error {
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		stale := tuple(tx, rec.UserID, rec.Scope, rec.Key).Where("expires_at <= ?", rec.CreatedAt)
		if err := stale.Delete(&domain.Idempotency{}).Error; err != nil {
			return err
		}
		return tx.Create(rec).Error
	})
	if err != nil && isUniqueViolation(err) {
		return ErrDuplicate
	}
	return err
}

// PurgeExpiredIdempotency deletes records that expired at or before now and
// returns how many were removed.
func PurgeExpiredIdempotency(ctx context.Context, db *gorm.DB, now time.Time) (int64, error) {
	res := db.WithContext(ctx).Where("expires_at <= ?", now).Delete(&domain.Idempotency{})
	return res.RowsAffected, res.Error
}

// isUniqueViolation recognizes constraint errors from the pure-Go driver,
// which reports them as text rather than gorm.ErrDuplicatedKey.
func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	low := strings.ToLower(err.Error())
	return strings.Contains(low, "unique constraint failed") || strings.Contains(low, "constraint failed: unique")
}
