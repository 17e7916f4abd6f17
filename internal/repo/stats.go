package repo

import (
	"context"
	"strconv"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-rag-backend/internal/domain"
)

// DocumentStats summarizes a user's library for conditional list responses.
type DocumentStats struct {
	Count       int64
	LastUpdated time.Time // zero when Count is 0
}

// Version changes whenever a document is added, removed or replaced.
// Nanosecond precision keeps a delete followed by a re-upload within the
// same second from reusing a version.
func (s DocumentStats) Version() string {
	var ts int64
	if !s.LastUpdated.IsZero() {
		ts = s.LastUpdated.UnixNano()
	}
	return strconv.FormatInt(s.Count, 10) + "." + strconv.FormatInt(ts, 36)
}

// DocumentsStats counts the documents owned by userID and finds the newest
// UpdatedAt among them.
func DocumentsStats(ctx context.Context, db *gorm.DB, userID string) (DocumentStats, error) {
	owned := func() *gorm.DB {
		return db.WithContext(ctx).Model(&domain.Document{}).Where("user_id = ?", userID)
	}

	var st DocumentStats
	if err := owned().Count(&st.Count).Error; err != nil || st.Count == 0 {
		return DocumentStats{}, err
	}

	// MAX(updated_at) comes back as TEXT from SQLite; read the newest row instead.
	var row struct{ UpdatedAt time.Time }
	if err := owned().Select("updated_at").Order("updated_at DESC").Limit(1).Scan(&row).Error; err != nil {
		return DocumentStats{}, err
	}
	st.LastUpdated = row.UpdatedAt
	return st, nil
}
