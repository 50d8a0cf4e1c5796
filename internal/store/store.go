package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/eldtechnologies/chatwire/internal/models"
)

// ErrOpenRoomExists is returned by CreateRoom when another open room for
// the same (widget_id, visitor_id) already exists. Callers treat the
// conflict as "reuse the existing room" rather than an error condition.
var ErrOpenRoomExists = errors.New("open room already exists for visitor")

// DataStore is the durable source of truth for rooms and messages.
// Both PostgresStore and SQLiteStore implement this interface.
// Lookups return (nil, nil) when the row does not exist.
type DataStore interface {
	// Connection management
	Close()
	Ping(ctx context.Context) error

	// Room operations
	CreateRoom(ctx context.Context, widgetID, visitorID, visitorName, visitorEmail string) (*models.Room, error)
	GetRoom(ctx context.Context, id uuid.UUID) (*models.Room, error)
	GetOpenRoom(ctx context.Context, widgetID, visitorID string) (*models.Room, error)
	UpdateVisitorInfo(ctx context.Context, id uuid.UUID, name, email string) error
	SetRoomStatus(ctx context.Context, id uuid.UUID, status string) error
	ListRoomsByWidget(ctx context.Context, widgetID string, limit, offset int) ([]models.Room, int, error)

	// Message operations
	InsertMessage(ctx context.Context, msg *models.Message) error
	ListMessages(ctx context.Context, roomID uuid.UUID, limit int, beforeID string) ([]models.Message, error)
	// ApplyMessage folds a freshly inserted message into the room's
	// aggregate fields in a single statement: last_message_at, preview,
	// and unread_count (incremented only for visitor messages).
	ApplyMessage(ctx context.Context, roomID uuid.UUID, at time.Time, preview string, fromVisitor bool) error
	// MarkMessagesRead flips all unread visitor messages in the room and
	// resets unread_count to zero. Idempotent; returns rows flipped.
	MarkMessagesRead(ctx context.Context, roomID uuid.UUID, at time.Time) (int64, error)
	CountUnread(ctx context.Context, roomID uuid.UUID) (int64, error)

	// Aggregates for the dashboard stats endpoint
	CountRooms(ctx context.Context, widgetID string) (total, open int64, err error)
	CountMessages(ctx context.Context) (int64, error)
	MostRecentActivity(ctx context.Context) (*time.Time, error)
}

// EventStream is a live subscription to decoded change-feed events.
type EventStream interface {
	Events() <-chan *models.Event
	Close() error
}

// Streams hands out change-feed subscriptions. Implemented by RedisStore.
type Streams interface {
	SubscribeRoom(ctx context.Context, roomID uuid.UUID) (EventStream, error)
	SubscribeWidgets(ctx context.Context, widgetIDs []string) (EventStream, error)
}
