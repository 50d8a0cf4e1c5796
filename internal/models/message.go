package models

import (
	"time"

	"github.com/google/uuid"
)

// Sender types.
const (
	SenderVisitor = "visitor"
	SenderAgent   = "agent"
	SenderSystem  = "system"
)

// Message types.
const (
	MessageText   = "text"
	MessageImage  = "image"
	MessageSystem = "system"
)

// Message is a single chat message. Immutable once created except for
// is_read/read_at. The total order within a room is (created_at, id);
// ids are ULIDs so the tie-break is itself chronological.
type Message struct {
	ID         string     `json:"id"` // ULID
	RoomID     uuid.UUID  `json:"room_id"`
	SenderType string     `json:"sender_type"`
	SenderID   string     `json:"sender_id,omitempty"`
	SenderName string     `json:"sender_name,omitempty"`
	Content    string     `json:"content,omitempty"`
	ImageURL   string     `json:"image_url,omitempty"`
	ImageName  string     `json:"image_name,omitempty"`
	Type       string     `json:"type"`
	IsRead     bool       `json:"is_read"`
	ReadAt     *time.Time `json:"read_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// Before reports whether m sorts before other in the room's total order.
func (m *Message) Before(other *Message) bool {
	if m.CreatedAt.Equal(other.CreatedAt) {
		return m.ID < other.ID
	}
	return m.CreatedAt.Before(other.CreatedAt)
}
