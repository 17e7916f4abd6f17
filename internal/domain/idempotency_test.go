package domain

import (
	"testing"
	"time"
)

func TestNewIdempotency(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.FixedZone("CEST", 2*3600))
	rec := NewIdempotency("u1", "/api/v1/documents", "k1", "doc-1", 201, 24*time.Hour, now)

	if rec.ID == "" || rec.UserID != "u1" || rec.Scope != "/api/v1/documents" || rec.Key != "k1" {
		t.Fatalf("identity fields: %+v", rec)
	}
	if rec.ResourceID != "doc-1" || rec.Status != 201 {
		t.Fatalf("outcome fields: %+v", rec)
	}
	if rec.CreatedAt.Location() != time.UTC || !rec.CreatedAt.Equal(now) {
		t.Fatalf("CreatedAt = %v", rec.CreatedAt)
	}
	if got := rec.ExpiresAt.Sub(rec.CreatedAt); got != 24*time.Hour {
		t.Fatalf("ttl = %v", got)
	}
	if other := NewIdempotency("u1", "/api/v1/documents", "k1", "doc-1", 201, time.Hour, now); other.ID == rec.ID {
		t.Fatalf("ids must be unique")
	}
}

func TestIdempotency_Expired(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	rec := NewIdempotency("u1", "s", "k", "r", 201, time.Minute, now)

	cases := []struct {
		at   time.Time
		want bool
	}{
		{now, false},
		{now.Add(59 * time.Second), false},
		{now.Add(time.Minute), true},
		{now.Add(time.Hour), true},
	}
	for _, tc := range cases {
		if got := rec.Expired(tc.at); got != tc.want {
			t.Errorf("Expired(%v) = %v; want %v", tc.at.Sub(now), got, tc.want)
		}
	}

	if !NewIdempotency("u1", "s", "k", "r", 201, -time.Hour, now).Expired(now) {
		t.Fatalf("negative ttl must be born expired")
	}
}
