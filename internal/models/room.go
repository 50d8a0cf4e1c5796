package models

import (
	"time"

	"github.com/google/uuid"
)

// Room status values.
const (
	RoomOpen   = "open"
	RoomClosed = "closed"
)

// Room is one conversation between a visitor and a widget's agents.
// At most one room per (widget_id, visitor_id) may be open at a time;
// the store enforces this with a partial unique index.
type Room struct {
	ID                 uuid.UUID  `json:"id"`
	WidgetID           string     `json:"widget_id"`
	VisitorID          string     `json:"visitor_id"`
	VisitorName        string     `json:"visitor_name,omitempty"`
	VisitorEmail       string     `json:"visitor_email,omitempty"`
	Status             string     `json:"status"`
	UnreadCount        int64      `json:"unread_count"`
	LastMessageAt      *time.Time `json:"last_message_at,omitempty"`
	LastMessagePreview string     `json:"last_message_preview,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// IsOpen reports whether the room accepts visitor and agent messages.
func (r *Room) IsOpen() bool {
	return r.Status == RoomOpen
}
