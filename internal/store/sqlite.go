package store

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	sqlite3 "github.com/mattn/go-sqlite3"

	"github.com/eldtechnologies/chatwire/internal/models"
)

// SQLiteStore handles SQLite database operations. Used for development
// and tests; production runs PostgresStore.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store.
// If dbPath is empty, defaults to "./data/chatwire.db". Pass ":memory:"
// for an ephemeral database.
func NewSQLiteStore(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	if dbPath == "" {
		dbPath = "./data/chatwire.db"
	}

	if dbPath != ":memory:" {
		dir := filepath.Dir(dbPath)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, err
	}

	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}

	store := &SQLiteStore{db: db}

	if err := store.initSchema(ctx); err != nil {
		return nil, err
	}

	return store, nil
}

// initSchema creates tables if they don't exist. The partial unique index
// on open rooms is what makes at-most-one-open-room-per-visitor hold by
// construction: a losing concurrent insert fails and is retried as reuse.
func (s *SQLiteStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS rooms (
		id TEXT PRIMARY KEY,
		widget_id TEXT NOT NULL,
		visitor_id TEXT NOT NULL,
		visitor_name TEXT DEFAULT '',
		visitor_email TEXT DEFAULT '',
		status TEXT NOT NULL DEFAULT 'open',
		unread_count INTEGER NOT NULL DEFAULT 0,
		last_message_at DATETIME,
		last_message_preview TEXT DEFAULT '',
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		room_id TEXT NOT NULL REFERENCES rooms(id),
		sender_type TEXT NOT NULL,
		sender_id TEXT DEFAULT '',
		sender_name TEXT DEFAULT '',
		content TEXT DEFAULT '',
		image_url TEXT DEFAULT '',
		image_name TEXT DEFAULT '',
		message_type TEXT NOT NULL,
		is_read INTEGER NOT NULL DEFAULT 0,
		read_at DATETIME,
		created_at DATETIME NOT NULL
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

	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() {
	s.db.Close()
}

// Ping checks the database connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

const roomColumns = `id, widget_id, visitor_id, visitor_name, visitor_email,
	status, unread_count, last_message_at, last_message_preview, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRoom(row rowScanner) (*models.Room, error) {
	room := &models.Room{}
	var idStr string
	var lastMsgAt sql.NullTime

	err := row.Scan(
		&idStr,
		&room.WidgetID,
		&room.VisitorID,
		&room.VisitorName,
		&room.VisitorEmail,
		&room.Status,
		&room.UnreadCount,
		&lastMsgAt,
		&room.LastMessagePreview,
		&room.CreatedAt,
		&room.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	room.ID = uuid.MustParse(idStr)
	if lastMsgAt.Valid {
		t := lastMsgAt.Time
		room.LastMessageAt = &t
	}
	return room, nil
}

// CreateRoom inserts a new open room. Returns ErrOpenRoomExists if the
// partial unique index rejects the insert.
func (s *SQLiteStore) CreateRoom(ctx context.Context, widgetID, visitorID, visitorName, visitorEmail string) (*models.Room, error) {
	id := uuid.New()
	now := time.Now().UTC()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO rooms (id, widget_id, visitor_id, visitor_name, visitor_email, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, 'open', ?, ?)
	`, id.String(), widgetID, visitorID, visitorName, visitorEmail, now, now)
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
			return nil, ErrOpenRoomExists
		}
		return nil, err
	}

	return s.GetRoom(ctx, id)
}

// GetRoom retrieves a room by ID.
func (s *SQLiteStore) GetRoom(ctx context.Context, id uuid.UUID) (*models.Room, error) {
	room, err := scanRoom(s.db.QueryRowContext(ctx,
		`SELECT `+roomColumns+` FROM rooms WHERE id = ?`, id.String()))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return room, nil
}

// GetOpenRoom retrieves the open room for a visitor, if any. If the
// documented duplicate race ever left more than one, the most recently
// created wins.
func (s *SQLiteStore) GetOpenRoom(ctx context.Context, widgetID, visitorID string) (*models.Room, error) {
	room, err := scanRoom(s.db.QueryRowContext(ctx, `
		SELECT `+roomColumns+` FROM rooms
		WHERE widget_id = ? AND visitor_id = ? AND status = 'open'
		ORDER BY created_at DESC LIMIT 1
	`, widgetID, visitorID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return room, nil
}

// UpdateVisitorInfo patches the visitor's name and email on a room.
func (s *SQLiteStore) UpdateVisitorInfo(ctx context.Context, id uuid.UUID, name, email string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE rooms SET visitor_name = ?, visitor_email = ?, updated_at = ?
		WHERE id = ?
	`, name, email, time.Now().UTC(), id.String())
	return err
}

// SetRoomStatus transitions a room to the given status.
func (s *SQLiteStore) SetRoomStatus(ctx context.Context, id uuid.UUID, status string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE rooms SET status = ?, updated_at = ? WHERE id = ?
	`, status, time.Now().UTC(), id.String())
	return err
}

// ListRoomsByWidget retrieves a widget's rooms with pagination, most
// recent activity first.
func (s *SQLiteStore) ListRoomsByWidget(ctx context.Context, widgetID string, limit, offset int) ([]models.Room, int, error) {
	var total int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM rooms WHERE widget_id = ?`, widgetID).Scan(&total)
	if err != nil {
		return nil, 0, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+roomColumns+` FROM rooms
		WHERE widget_id = ?
		ORDER BY last_message_at DESC, created_at DESC
		LIMIT ? OFFSET ?
	`, widgetID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var rooms []models.Room
	for rows.Next() {
		room, err := scanRoom(rows)
		if err != nil {
			return nil, 0, err
		}
		rooms = append(rooms, *room)
	}

	return rooms, total, rows.Err()
}

const messageColumns = `id, room_id, sender_type, sender_id, sender_name,
	content, image_url, image_name, message_type, is_read, read_at, created_at`

func scanMessage(row rowScanner) (*models.Message, error) {
	msg := &models.Message{}
	var roomIDStr string
	var isReadInt int
	var readAt sql.NullTime

	err := row.Scan(
		&msg.ID,
		&roomIDStr,
		&msg.SenderType,
		&msg.SenderID,
		&msg.SenderName,
		&msg.Content,
		&msg.ImageURL,
		&msg.ImageName,
		&msg.Type,
		&isReadInt,
		&readAt,
		&msg.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	msg.RoomID = uuid.MustParse(roomIDStr)
	msg.IsRead = isReadInt == 1
	if readAt.Valid {
		t := readAt.Time
		msg.ReadAt = &t
	}
	return msg, nil
}

// InsertMessage inserts a message row.
func (s *SQLiteStore) InsertMessage(ctx context.Context, msg *models.Message) error {
	isRead := 0
	if msg.IsRead {
		isRead = 1
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (id, room_id, sender_type, sender_id, sender_name,
			content, image_url, image_name, message_type, is_read, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, msg.ID, msg.RoomID.String(), msg.SenderType, msg.SenderID, msg.SenderName,
		msg.Content, msg.ImageURL, msg.ImageName, msg.Type, isRead, msg.CreatedAt)
	return err
}

// ListMessages retrieves up to limit messages ordered by (created_at, id)
// ascending. A non-empty beforeID returns the page strictly preceding
// that message, for backwards pagination through history.
func (s *SQLiteStore) ListMessages(ctx context.Context, roomID uuid.UUID, limit int, beforeID string) ([]models.Message, error) {
	query := `
		SELECT ` + messageColumns + ` FROM (
			SELECT ` + messageColumns + ` FROM messages
			WHERE room_id = ?`
	args := []any{roomID.String()}

	if beforeID != "" {
		query += ` AND (created_at, id) < (SELECT created_at, id FROM messages WHERE id = ?)`
		args = append(args, beforeID)
	}

	query += `
			ORDER BY created_at DESC, id DESC
			LIMIT ?
		) ORDER BY created_at ASC, id ASC`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages := make([]models.Message, 0, limit)
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, *msg)
	}

	return messages, rows.Err()
}

// ApplyMessage folds a message into the room aggregate in one statement.
func (s *SQLiteStore) ApplyMessage(ctx context.Context, roomID uuid.UUID, at time.Time, preview string, fromVisitor bool) error {
	increment := 0
	if fromVisitor {
		increment = 1
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE rooms
		SET last_message_at = ?, last_message_preview = ?,
			unread_count = unread_count + ?, updated_at = ?
		WHERE id = ?
	`, at, preview, increment, at, roomID.String())
	return err
}

// MarkMessagesRead flips unread visitor messages and resets the room's
// unread counter. Safe to call redundantly.
func (s *SQLiteStore) MarkMessagesRead(ctx context.Context, roomID uuid.UUID, at time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE messages SET is_read = 1, read_at = ?
		WHERE room_id = ? AND sender_type = 'visitor' AND is_read = 0
	`, at, roomID.String())
	if err != nil {
		return 0, err
	}
	flipped, _ := res.RowsAffected()

	_, err = s.db.ExecContext(ctx, `
		UPDATE rooms SET unread_count = 0, updated_at = ? WHERE id = ?
	`, at, roomID.String())
	return flipped, err
}

// CountUnread returns the number of unread visitor messages in a room.
func (s *SQLiteStore) CountUnread(ctx context.Context, roomID uuid.UUID) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM messages
		WHERE room_id = ? AND sender_type = 'visitor' AND is_read = 0
	`, roomID.String()).Scan(&count)
	return count, err
}

// CountRooms returns total and open room counts, optionally scoped to a widget.
func (s *SQLiteStore) CountRooms(ctx context.Context, widgetID string) (int64, int64, error) {
	var total, open int64
	query := `SELECT COUNT(*), COALESCE(SUM(CASE WHEN status = 'open' THEN 1 ELSE 0 END), 0) FROM rooms`
	var err error
	if widgetID != "" {
		err = s.db.QueryRowContext(ctx, query+` WHERE widget_id = ?`, widgetID).Scan(&total, &open)
	} else {
		err = s.db.QueryRowContext(ctx, query).Scan(&total, &open)
	}
	return total, open, err
}

// CountMessages returns the total number of stored messages.
func (s *SQLiteStore) CountMessages(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages`).Scan(&count)
	return count, err
}

// MostRecentActivity returns the newest last_message_at across all rooms.
func (s *SQLiteStore) MostRecentActivity(ctx context.Context) (*time.Time, error) {
	var t time.Time
	err := s.db.QueryRowContext(ctx, `
		SELECT last_message_at FROM rooms
		WHERE last_message_at IS NOT NULL
		ORDER BY last_message_at DESC LIMIT 1
	`).Scan(&t)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &t, nil
}
