package domain

import (
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// Role is the author of a conversation turn.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

var (
	// ErrEmptyMessage is returned when a message has no non-whitespace content.
	ErrEmptyMessage = errors.New("message content cannot be empty")
	// ErrInvalidRole is returned when a role is not system, user or assistant.
	ErrInvalidRole = errors.New("invalid message role")
)

// ParseRole trims and lower-cases s and checks it against the known roles.
func ParseRole(s string) (Role, error) {
	switch r := Role(strings.ToLower(strings.TrimSpace(s))); r {
	case RoleSystem, RoleUser, RoleAssistant:
		return r, nil
	default:
		return "", ErrInvalidRole
	}
}

// ChatMessage is a single conversation turn. It is validated at construction
// and not persisted; a conversation is an ordered []ChatMessage, oldest first.
type ChatMessage struct {
	ID        string         `json:"id"`
	Role      Role           `json:"role"`
	Content   string         `json:"content"`
	CreatedAt time.Time      `json:"created_at"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// NewChatMessage validates role and content and stamps a fresh id.
func NewChatMessage(role, content string, metadata map[string]any) (ChatMessage, error) {
	if strings.TrimSpace(content) == "" {
		return ChatMessage{}, ErrEmptyMessage
	}
	r, err := ParseRole(role)
	if err != nil {
		return ChatMessage{}, err
	}
	if metadata == nil {
		metadata = map[string]any{}
	}
	return ChatMessage{
		ID:        uuid.NewString(),
		Role:      r,
		Content:   content,
		CreatedAt: time.Now().UTC(),
		Metadata:  metadata,
	}, nil
}

// IsFromUser reports whether the message was authored by the user.
func (m ChatMessage) IsFromUser() bool { return m.Role == RoleUser }

// IsFromAssistant reports whether the message was authored by the assistant.
func (m ChatMessage) IsFromAssistant() bool { return m.Role == RoleAssistant }

// Truncate returns the content cut to at most n characters, with "..."
// appended when anything was removed.
func (m ChatMessage) Truncate(n int) string {
	if n < 0 {
		n = 0
	}
	if utf8.RuneCountInString(m.Content) <= n {
		return m.Content
	}
	r := []rune(m.Content)
	return string(r[:n]) + "..."
}
