package domain

import (
	"errors"
	"testing"
)

func TestNewChatMessage_Valid(t *testing.T) {
	m, err := NewChatMessage("  Assistant ", "hi there", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m.Role != RoleAssistant {
		t.Fatalf("Role = %q; want assistant", m.Role)
	}
	if m.ID == "" || m.CreatedAt.IsZero() {
		t.Fatalf("id and timestamp must be set: %+v", m)
	}
	if m.Metadata == nil {
		t.Fatalf("metadata should default to an empty map")
	}
	if !m.IsFromAssistant() || m.IsFromUser() {
		t.Fatalf("role helpers disagree with role %q", m.Role)
	}
}

func TestNewChatMessage_Errors(t *testing.T) {
	for _, content := range []string{"", "   ", "\n\t"} {
		if _, err := NewChatMessage("user", content, nil); !errors.Is(err, ErrEmptyMessage) {
			t.Fatalf("content %q: expected ErrEmptyMessage, got %v", content, err)
		}
	}
	for _, role := range []string{"", "bot", "USERS", "tool"} {
		if _, err := NewChatMessage(role, "x", nil); !errors.Is(err, ErrInvalidRole) {
			t.Fatalf("role %q: expected ErrInvalidRole, got %v", role, err)
		}
	}
}

func TestParseRole(t *testing.T) {
	for in, want := range map[string]Role{"system": RoleSystem, "USER": RoleUser, " assistant\n": RoleAssistant} {
		got, err := ParseRole(in)
		if err != nil || got != want {
			t.Fatalf("ParseRole(%q) = %q, %v; want %q", in, got, err, want)
		}
	}
}

func TestChatMessage_Truncate(t *testing.T) {
	m := ChatMessage{Role: RoleUser, Content: "héllo wörld"}
	if got := m.Truncate(100); got != "héllo wörld" {
		t.Fatalf("no-op truncate changed content: %q", got)
	}
	if got := m.Truncate(5); got != "héllo..." {
		t.Fatalf("Truncate(5) = %q", got)
	}
	if got := m.Truncate(-3); got != "..." {
		t.Fatalf("Truncate(-3) = %q", got)
	}
	if !m.IsFromUser() {
		t.Fatalf("expected user message")
	}
}

func TestEmbedding_IsImmutable(t *testing.T) {
	in := []float32{1, 2, 3}
	e := NewEmbedding(in, "m", "text")
	in[0] = 99
	if e.Vector()[0] != 1 {
		t.Fatalf("embedding shares the caller's slice")
	}
	out := e.Vector()
	out[1] = 42
	if e.Vector()[1] != 2 {
		t.Fatalf("Vector() exposes internal storage")
	}
	if e.Dim() != 3 || e.Model() != "m" || e.Text() != "text" {
		t.Fatalf("accessors: dim=%d model=%q text=%q", e.Dim(), e.Model(), e.Text())
	}
}
