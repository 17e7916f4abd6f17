package domain

import (
	"time"

	"github.com/google/uuid"
)

// Idempotency records the outcome of a previously processed unsafe request,
// keyed by (user_id, scope, key). Scope identifies the operation (the route
// template, e.g. "/api/v1/documents") and ResourceID the entity it produced,
// so a retried upload returns the original document instead of ingesting the
// file a second time.
type Idempotency struct {
	ID         string    `gorm:"type:TEXT NOT NULL;primaryKey"`
	UserID     string    `gorm:"type:TEXT NOT NULL;uniqueIndex:ux_user_scope_key,priority:1"`
	Scope      string    `gorm:"type:TEXT NOT NULL;uniqueIndex:ux_user_scope_key,priority:2"`
	Key        string    `gorm:"type:TEXT NOT NULL;uniqueIndex:ux_user_scope_key,priority:3"`
	ResourceID string    `gorm:"type:TEXT NOT NULL"`
	Status     int       `gorm:"type:INTEGER NOT NULL"`
	CreatedAt  time.Time `gorm:"type:DATETIME NOT NULL;autoCreateTime"`
	ExpiresAt  time.Time `gorm:"type:DATETIME NOT NULL;index"`
}

// TableName implements the GORM tabler interface.
func (Idempotency) TableName() string { return "idempotency" }

// NewIdempotency records that (userID, scope, key) produced resourceID with
// status at now. The record is valid for ttl; a non-positive ttl yields a
// record that is already expired.
func NewIdempotency(userID, scope, key, resourceID string, status int, ttl time.Duration, now time.Time) *Idempotency {
	now = now.UTC()
	return &Idempotency{
		ID:         uuid.NewString(),
		UserID:     userID,
		Scope:      scope,
		Key:        key,
		ResourceID: resourceID,
		Status:     status,
		CreatedAt:  now,
		ExpiresAt:  now.Add(max(ttl, 0)),
	}
}

// Expired reports whether the record no longer replays at now.
func (r *Idempotency) Expired(now time.Time) bool { return !now.Before(r.ExpiresAt) }
