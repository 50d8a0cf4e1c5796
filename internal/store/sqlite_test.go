package store

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eldtechnologies/chatwire/internal/models"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

func insertTestMessage(t *testing.T, s *SQLiteStore, roomID uuid.UUID, id, sender, content string, at time.Time) {
	t.Helper()
	err := s.InsertMessage(context.Background(), &models.Message{
		ID:         id,
		RoomID:     roomID,
		SenderType: sender,
		Content:    content,
		Type:       models.MessageText,
		CreatedAt:  at,
	})
	require.NoError(t, err)
}

func TestCreateAndGetRoom(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	room, err := s.CreateRoom(ctx, "w1", "v1", "Alice", "alice@example.com")
	require.NoError(t, err)
	require.NotNil(t, room)

	assert.Equal(t, "w1", room.WidgetID)
	assert.Equal(t, "v1", room.VisitorID)
	assert.Equal(t, "Alice", room.VisitorName)
	assert.Equal(t, models.RoomOpen, room.Status)
	assert.Zero(t, room.UnreadCount)
	assert.Nil(t, room.LastMessageAt)

	got, err := s.GetRoom(ctx, room.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, room.ID, got.ID)
}

func TestGetRoomNotFound(t *testing.T) {
	s := newTestStore(t)

	room, err := s.GetRoom(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.Nil(t, room)
}

func TestCreateRoomOpenConflict(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first, err := s.CreateRoom(ctx, "w1", "v1", "", "")
	require.NoError(t, err)

	_, err = s.CreateRoom(ctx, "w1", "v1", "", "")
	assert.ErrorIs(t, err, ErrOpenRoomExists)

	// A different visitor or widget is unaffected.
	_, err = s.CreateRoom(ctx, "w1", "v2", "", "")
	require.NoError(t, err)
	_, err = s.CreateRoom(ctx, "w2", "v1", "", "")
	require.NoError(t, err)

	// Closing releases the slot for a new open room.
	require.NoError(t, s.SetRoomStatus(ctx, first.ID, models.RoomClosed))
	_, err = s.CreateRoom(ctx, "w1", "v1", "", "")
	require.NoError(t, err)
}

func TestGetOpenRoom(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	room, err := s.GetOpenRoom(ctx, "w1", "v1")
	require.NoError(t, err)
	assert.Nil(t, room)

	created, err := s.CreateRoom(ctx, "w1", "v1", "", "")
	require.NoError(t, err)

	room, err = s.GetOpenRoom(ctx, "w1", "v1")
	require.NoError(t, err)
	require.NotNil(t, room)
	assert.Equal(t, created.ID, room.ID)

	require.NoError(t, s.SetRoomStatus(ctx, created.ID, models.RoomClosed))
	room, err = s.GetOpenRoom(ctx, "w1", "v1")
	require.NoError(t, err)
	assert.Nil(t, room)
}

func TestUpdateVisitorInfo(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	room, err := s.CreateRoom(ctx, "w1", "v1", "", "")
	require.NoError(t, err)

	require.NoError(t, s.UpdateVisitorInfo(ctx, room.ID, "Bob", "bob@example.com"))

	got, err := s.GetRoom(ctx, room.ID)
	require.NoError(t, err)
	assert.Equal(t, "Bob", got.VisitorName)
	assert.Equal(t, "bob@example.com", got.VisitorEmail)
}

func TestListMessagesOrderAndPagination(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	room, err := s.CreateRoom(ctx, "w1", "v1", "", "")
	require.NoError(t, err)

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	ids := []string{"01A", "01B", "01C", "01D", "01E"}
	for i, id := range ids {
		insertTestMessage(t, s, room.ID, id, models.SenderVisitor, "m"+id, base.Add(time.Duration(i)*time.Second))
	}

	// Most recent page, chronological order.
	page, err := s.ListMessages(ctx, room.ID, 3, "")
	require.NoError(t, err)
	require.Len(t, page, 3)
	assert.Equal(t, []string{"01C", "01D", "01E"}, []string{page[0].ID, page[1].ID, page[2].ID})

	// Page before the oldest of the first page.
	older, err := s.ListMessages(ctx, room.ID, 3, "01C")
	require.NoError(t, err)
	require.Len(t, older, 2)
	assert.Equal(t, []string{"01A", "01B"}, []string{older[0].ID, older[1].ID})

	// Paging past the beginning yields an empty page.
	none, err := s.ListMessages(ctx, room.ID, 3, "01A")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestListMessagesTieBreakOnID(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	room, err := s.CreateRoom(ctx, "w1", "v1", "", "")
	require.NoError(t, err)

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	insertTestMessage(t, s, room.ID, "01B", models.SenderVisitor, "second", at)
	insertTestMessage(t, s, room.ID, "01A", models.SenderVisitor, "first", at)

	page, err := s.ListMessages(ctx, room.ID, 10, "")
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "01A", page[0].ID)
	assert.Equal(t, "01B", page[1].ID)
}

func TestApplyMessageAggregates(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	room, err := s.CreateRoom(ctx, "w1", "v1", "", "")
	require.NoError(t, err)

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, s.ApplyMessage(ctx, room.ID, at, "hello", true))

	got, err := s.GetRoom(ctx, room.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, got.UnreadCount)
	assert.Equal(t, "hello", got.LastMessagePreview)
	require.NotNil(t, got.LastMessageAt)
	assert.True(t, got.LastMessageAt.Equal(at))

	// Agent messages update activity without touching the badge.
	later := at.Add(time.Minute)
	require.NoError(t, s.ApplyMessage(ctx, room.ID, later, "reply", false))

	got, err = s.GetRoom(ctx, room.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, got.UnreadCount)
	assert.Equal(t, "reply", got.LastMessagePreview)
}

func TestMarkMessagesReadIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	room, err := s.CreateRoom(ctx, "w1", "v1", "", "")
	require.NoError(t, err)

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	insertTestMessage(t, s, room.ID, "01A", models.SenderVisitor, "a", base)
	insertTestMessage(t, s, room.ID, "01B", models.SenderVisitor, "b", base.Add(time.Second))
	insertTestMessage(t, s, room.ID, "01C", models.SenderAgent, "c", base.Add(2*time.Second))
	require.NoError(t, s.ApplyMessage(ctx, room.ID, base, "a", true))
	require.NoError(t, s.ApplyMessage(ctx, room.ID, base.Add(time.Second), "b", true))

	flipped, err := s.MarkMessagesRead(ctx, room.ID, base.Add(time.Minute))
	require.NoError(t, err)
	assert.EqualValues(t, 2, flipped)

	unread, err := s.CountUnread(ctx, room.ID)
	require.NoError(t, err)
	assert.Zero(t, unread)

	got, err := s.GetRoom(ctx, room.ID)
	require.NoError(t, err)
	assert.Zero(t, got.UnreadCount)

	// Second call flips nothing and is still fine.
	flipped, err = s.MarkMessagesRead(ctx, room.ID, base.Add(2*time.Minute))
	require.NoError(t, err)
	assert.Zero(t, flipped)
}

func TestUnreadCounterMatchesRows(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	room, err := s.CreateRoom(ctx, "w1", "v1", "", "")
	require.NoError(t, err)

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i, id := range []string{"01A", "01B", "01C"} {
		at := base.Add(time.Duration(i) * time.Second)
		insertTestMessage(t, s, room.ID, id, models.SenderVisitor, "m", at)
		require.NoError(t, s.ApplyMessage(ctx, room.ID, at, "m", true))
	}

	unread, err := s.CountUnread(ctx, room.ID)
	require.NoError(t, err)

	got, err := s.GetRoom(ctx, room.ID)
	require.NoError(t, err)
	assert.Equal(t, unread, got.UnreadCount)
}

func TestListRoomsByWidgetOrdering(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	quiet, err := s.CreateRoom(ctx, "w1", "v1", "", "")
	require.NoError(t, err)
	busy, err := s.CreateRoom(ctx, "w1", "v2", "", "")
	require.NoError(t, err)
	_, err = s.CreateRoom(ctx, "other", "v3", "", "")
	require.NoError(t, err)

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, s.ApplyMessage(ctx, busy.ID, at, "hi", true))

	rooms, total, err := s.ListRoomsByWidget(ctx, "w1", 20, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	require.Len(t, rooms, 2)
	assert.Equal(t, busy.ID, rooms[0].ID)
	assert.Equal(t, quiet.ID, rooms[1].ID)

	// Pagination.
	pageTwo, total, err := s.ListRoomsByWidget(ctx, "w1", 1, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	require.Len(t, pageTwo, 1)
	assert.Equal(t, quiet.ID, pageTwo[0].ID)
}

func TestAggregateCounts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	last, err := s.MostRecentActivity(ctx)
	require.NoError(t, err)
	assert.Nil(t, last)

	room, err := s.CreateRoom(ctx, "w1", "v1", "", "")
	require.NoError(t, err)
	closed, err := s.CreateRoom(ctx, "w1", "v2", "", "")
	require.NoError(t, err)
	require.NoError(t, s.SetRoomStatus(ctx, closed.ID, models.RoomClosed))

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	insertTestMessage(t, s, room.ID, "01A", models.SenderVisitor, "m", at)
	require.NoError(t, s.ApplyMessage(ctx, room.ID, at, "m", true))

	total, open, err := s.CountRooms(ctx, "w1")
	require.NoError(t, err)
	assert.EqualValues(t, 2, total)
	assert.EqualValues(t, 1, open)

	count, err := s.CountMessages(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)

	last, err = s.MostRecentActivity(ctx)
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.True(t, last.Equal(at))
}
