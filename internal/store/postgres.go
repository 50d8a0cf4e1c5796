package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/eldtechnologies/chatwire/internal/models"
)

// PostgresStore handles PostgreSQL database operations.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL store with a connection pool.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		return nil, err
	}

	s := &PostgresStore{pool: pool}
	if err := s.initSchema(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// initSchema creates tables and indexes if they don't exist.
func (s *PostgresStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS rooms (
		id UUID PRIMARY KEY,
		widget_id TEXT NOT NULL,
		visitor_id TEXT NOT NULL,
		visitor_name TEXT NOT NULL DEFAULT '',
		visitor_email TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'open',
		unread_count BIGINT NOT NULL DEFAULT 0,
		last_message_at TIMESTAMPTZ,
		last_message_preview TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);

	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		room_id UUID NOT NULL REFERENCES rooms(id),
		sender_type TEXT NOT NULL,
		sender_id TEXT NOT NULL DEFAULT '',
		sender_name TEXT NOT NULL DEFAULT '',
		content TEXT NOT NULL DEFAULT '',
		image_url TEXT NOT NULL DEFAULT '',
		image_name TEXT NOT NULL DEFAULT '',
		message_type TEXT NOT NULL,
		is_read BOOLEAN NOT NULL DEFAULT false,
		read_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_rooms_one_open
		ON rooms(widget_id, visitor_id) WHERE status = 'open';
	CREATE INDEX IF NOT EXISTS idx_rooms_widget_activity
		ON rooms(widget_id, last_message_at, created_at);
	CREATE INDEX IF NOT EXISTS idx_messages_room_order
		ON messages(room_id, created_at, id);
	CREATE INDEX IF NOT EXISTS idx_messages_unread
		ON messages(room_id, is_read) WHERE sender_type = 'visitor';
	`

	_, err := s.pool.Exec(ctx, schema)
	return err
}

// Close closes the database connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// Ping checks the database connection.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

type pgRow interface {
	Scan(dest ...any) error
}

func scanPgRoom(row pgRow) (*models.Room, error) {
	room := &models.Room{}
	err := row.Scan(
		&room.ID,
		&room.WidgetID,
		&room.VisitorID,
		&room.VisitorName,
		&room.VisitorEmail,
		&room.Status,
		&room.UnreadCount,
		&room.LastMessageAt,
		&room.LastMessagePreview,
		&room.CreatedAt,
		&room.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return room, nil
}

// CreateRoom inserts a new open room. Returns ErrOpenRoomExists when the
// partial unique index rejects the insert.
func (s *PostgresStore) CreateRoom(ctx context.Context, widgetID, visitorID, visitorName, visitorEmail string) (*models.Room, error) {
	room, err := scanPgRoom(s.pool.QueryRow(ctx, `
		INSERT INTO rooms (id, widget_id, visitor_id, visitor_name, visitor_email, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, 'open', now(), now())
		RETURNING `+roomColumns,
		uuid.New(), widgetID, visitorID, visitorName, visitorEmail))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, ErrOpenRoomExists
		}
		return nil, err
	}
	return room, nil
}

// GetRoom retrieves a room by ID.
func (s *PostgresStore) GetRoom(ctx context.Context, id uuid.UUID) (*models.Room, error) {
	room, err := scanPgRoom(s.pool.QueryRow(ctx,
		`SELECT `+roomColumns+` FROM rooms WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return room, nil
}

// GetOpenRoom retrieves the open room for a visitor, most recent first.
func (s *PostgresStore) GetOpenRoom(ctx context.Context, widgetID, visitorID string) (*models.Room, error) {
	room, err := scanPgRoom(s.pool.QueryRow(ctx, `
		SELECT `+roomColumns+` FROM rooms
		WHERE widget_id = $1 AND visitor_id = $2 AND status = 'open'
		ORDER BY created_at DESC LIMIT 1
	`, widgetID, visitorID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return room, nil
}

// UpdateVisitorInfo patches the visitor's name and email on a room.
func (s *PostgresStore) UpdateVisitorInfo(ctx context.Context, id uuid.UUID, name, email string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE rooms SET visitor_name = $2, visitor_email = $3, updated_at = now()
		WHERE id = $1
	`, id, name, email)
	return err
}

// SetRoomStatus transitions a room to the given status.
func (s *PostgresStore) SetRoomStatus(ctx context.Context, id uuid.UUID, status string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE rooms SET status = $2, updated_at = now() WHERE id = $1
	`, id, status)
	return err
}

// ListRoomsByWidget retrieves a widget's rooms with pagination, most
// recent activity first.
func (s *PostgresStore) ListRoomsByWidget(ctx context.Context, widgetID string, limit, offset int) ([]models.Room, int, error) {
	var total int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM rooms WHERE widget_id = $1`, widgetID).Scan(&total)
	if err != nil {
		return nil, 0, err
	}

	rows, err := s.pool.Query(ctx, `
		SELECT `+roomColumns+` FROM rooms
		WHERE widget_id = $1
		ORDER BY last_message_at DESC NULLS LAST, created_at DESC
		LIMIT $2 OFFSET $3
	`, widgetID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var rooms []models.Room
	for rows.Next() {
		room, err := scanPgRoom(rows)
		if err != nil {
			return nil, 0, err
		}
		rooms = append(rooms, *room)
	}

	return rooms, total, rows.Err()
}

func scanPgMessage(row pgRow) (*models.Message, error) {
	msg := &models.Message{}
	err := row.Scan(
		&msg.ID,
		&msg.RoomID,
		&msg.SenderType,
		&msg.SenderID,
		&msg.SenderName,
		&msg.Content,
		&msg.ImageURL,
		&msg.ImageName,
		&msg.Type,
		&msg.IsRead,
		&msg.ReadAt,
		&msg.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return msg, nil
}

// InsertMessage inserts a message row.
func (s *PostgresStore) InsertMessage(ctx context.Context, msg *models.Message) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO messages (id, room_id, sender_type, sender_id, sender_name,
			content, image_url, image_name, message_type, is_read, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, msg.ID, msg.RoomID, msg.SenderType, msg.SenderID, msg.SenderName,
		msg.Content, msg.ImageURL, msg.ImageName, msg.Type, msg.IsRead, msg.CreatedAt)
	return err
}

// ListMessages retrieves up to limit messages ordered by (created_at, id)
// ascending, optionally paging backwards from beforeID.
func (s *PostgresStore) ListMessages(ctx context.Context, roomID uuid.UUID, limit int, beforeID string) ([]models.Message, error) {
	query := `
		SELECT ` + messageColumns + ` FROM (
			SELECT ` + messageColumns + ` FROM messages
			WHERE room_id = $1`
	args := []any{roomID}

	if beforeID != "" {
		query += ` AND (created_at, id) < (SELECT created_at, id FROM messages WHERE id = $2)`
		args = append(args, beforeID)
		query += `
			ORDER BY created_at DESC, id DESC
			LIMIT $3`
	} else {
		query += `
			ORDER BY created_at DESC, id DESC
			LIMIT $2`
	}
	args = append(args, limit)
	query += `
		) page ORDER BY created_at ASC, id ASC`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages := make([]models.Message, 0, limit)
	for rows.Next() {
		msg, err := scanPgMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, *msg)
	}

	return messages, rows.Err()
}

// ApplyMessage folds a message into the room aggregate in one statement.
func (s *PostgresStore) ApplyMessage(ctx context.Context, roomID uuid.UUID, at time.Time, preview string, fromVisitor bool) error {
	increment := 0
	if fromVisitor {
		increment = 1
	}
	_, err := s.pool.Exec(ctx, `
		UPDATE rooms
		SET last_message_at = $2, last_message_preview = $3,
			unread_count = unread_count + $4, updated_at = $2
		WHERE id = $1
	`, roomID, at, preview, increment)
	return err
}

// MarkMessagesRead flips unread visitor messages and resets the room's
// unread counter. Safe to call redundantly.
func (s *PostgresStore) MarkMessagesRead(ctx context.Context, roomID uuid.UUID, at time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE messages SET is_read = true, read_at = $2
		WHERE room_id = $1 AND sender_type = 'visitor' AND is_read = false
	`, roomID, at)
	if err != nil {
		return 0, err
	}

	_, err = s.pool.Exec(ctx, `
		UPDATE rooms SET unread_count = 0, updated_at = $2 WHERE id = $1
	`, roomID, at)
	return tag.RowsAffected(), err
}

// CountUnread returns the number of unread visitor messages in a room.
func (s *PostgresStore) CountUnread(ctx context.Context, roomID uuid.UUID) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM messages
		WHERE room_id = $1 AND sender_type = 'visitor' AND is_read = false
	`, roomID).Scan(&count)
	return count, err
}

// CountRooms returns total and open room counts, optionally scoped to a widget.
func (s *PostgresStore) CountRooms(ctx context.Context, widgetID string) (int64, int64, error) {
	var total, open int64
	query := `SELECT COUNT(*), COALESCE(SUM(CASE WHEN status = 'open' THEN 1 ELSE 0 END), 0) FROM rooms`
	var err error
	if widgetID != "" {
		err = s.pool.QueryRow(ctx, query+` WHERE widget_id = $1`, widgetID).Scan(&total, &open)
	} else {
		err = s.pool.QueryRow(ctx, query).Scan(&total, &open)
	}
	return total, open, err
}

// CountMessages returns the total number of stored messages.
func (s *PostgresStore) CountMessages(ctx context.Context) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM messages`).Scan(&count)
	return count, err
}

// MostRecentActivity returns the newest last_message_at across all rooms.
func (s *PostgresStore) MostRecentActivity(ctx context.Context) (*time.Time, error) {
	var t *time.Time
	err := s.pool.QueryRow(ctx, `SELECT MAX(last_message_at) FROM rooms`).Scan(&t)
	if err != nil {
		return nil, err
	}
	return t, nil
}
