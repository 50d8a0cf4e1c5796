package chat

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eldtechnologies/chatwire/internal/models"
	"github.com/eldtechnologies/chatwire/internal/store"
)

// capturePublisher records published events instead of hitting redis.
type capturePublisher struct {
	mu     sync.Mutex
	events []*models.Event
}

func (p *capturePublisher) PublishEvent(_ context.Context, _ string, _ uuid.UUID, ev *models.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *capturePublisher) ofType(t models.EventType) []*models.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []*models.Event
	for _, ev := range p.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

func (p *capturePublisher) reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = nil
}

// fakeModeration bans by "widget/visitor" key.
type fakeModeration struct {
	mu     sync.Mutex
	banned map[string]bool
}

func newFakeModeration() *fakeModeration {
	return &fakeModeration{banned: make(map[string]bool)}
}

func (m *fakeModeration) IsBanned(_ context.Context, widgetID, visitorID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.banned[widgetID+"/"+visitorID], nil
}

func (m *fakeModeration) SetBanned(_ context.Context, widgetID, visitorID string, banned bool, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.banned[widgetID+"/"+visitorID] = banned
	return nil
}

type serviceFixture struct {
	svc        *Service
	store      store.DataStore
	publisher  *capturePublisher
	limiter    *MemoryLimiter
	moderation *fakeModeration
	now        time.Time
}

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()

	ds, err := store.NewSQLiteStore(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(ds.Close)

	f := &serviceFixture{
		store:      ds,
		publisher:  &capturePublisher{},
		limiter:    NewMemoryLimiter(),
		moderation: newFakeModeration(),
		now:        time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	f.limiter.now = func() time.Time { return f.now }

	f.svc = NewService(ds, f.publisher, NewMemoryPresence(), f.limiter, f.moderation, zerolog.Nop())
	f.svc.clock = func() time.Time { return f.now }
	return f
}

func (f *serviceFixture) advance(d time.Duration) {
	f.now = f.now.Add(d)
}

func TestGetOrCreateOpenRoom(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	room, err := f.svc.GetOrCreateOpenRoom(ctx, "w1", "v1", "Alice", "")
	require.NoError(t, err)
	require.NotNil(t, room)
	assert.Equal(t, models.RoomOpen, room.Status)
	assert.Len(t, f.publisher.ofType(models.EventRoomCreated), 1)

	// Second call reuses the open room without a second create event.
	again, err := f.svc.GetOrCreateOpenRoom(ctx, "w1", "v1", "", "")
	require.NoError(t, err)
	assert.Equal(t, room.ID, again.ID)
	assert.Len(t, f.publisher.ofType(models.EventRoomCreated), 1)
}

func TestGetOrCreateOpenRoomPatchesVisitorInfo(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	room, err := f.svc.GetOrCreateOpenRoom(ctx, "w1", "v1", "", "")
	require.NoError(t, err)
	f.publisher.reset()

	updated, err := f.svc.GetOrCreateOpenRoom(ctx, "w1", "v1", "Alice", "alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, room.ID, updated.ID)
	assert.Equal(t, "Alice", updated.VisitorName)
	assert.Len(t, f.publisher.ofType(models.EventRoomUpdated), 1)

	// Unchanged info does not emit.
	f.publisher.reset()
	_, err = f.svc.GetOrCreateOpenRoom(ctx, "w1", "v1", "Alice", "alice@example.com")
	require.NoError(t, err)
	assert.Empty(t, f.publisher.ofType(models.EventRoomUpdated))
}

func TestPostMessageFanout(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	room, err := f.svc.GetOrCreateOpenRoom(ctx, "w1", "v1", "", "")
	require.NoError(t, err)
	f.publisher.reset()

	msg, err := f.svc.PostMessage(ctx, PostMessageParams{
		RoomID:     room.ID,
		SenderType: models.SenderVisitor,
		SenderID:   "v1",
		Content:    "hello there",
	})
	require.NoError(t, err)
	assert.Equal(t, models.MessageText, msg.Type)
	assert.NotEmpty(t, msg.ID)

	got, err := f.store.GetRoom(ctx, room.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, got.UnreadCount)
	assert.Equal(t, "hello there", got.LastMessagePreview)
	require.NotNil(t, got.LastMessageAt)

	roomUpdates := f.publisher.ofType(models.EventRoomUpdated)
	inserts := f.publisher.ofType(models.EventMessageInserted)
	require.Len(t, roomUpdates, 1)
	require.Len(t, inserts, 1)
	assert.EqualValues(t, 1, roomUpdates[0].Room.UnreadCount)
	assert.Equal(t, msg.ID, inserts[0].Message.ID)
}

func TestPostMessageAgentDoesNotIncrementUnread(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	room, err := f.svc.GetOrCreateOpenRoom(ctx, "w1", "v1", "", "")
	require.NoError(t, err)

	_, err = f.svc.PostMessage(ctx, PostMessageParams{
		RoomID:     room.ID,
		SenderType: models.SenderAgent,
		SenderID:   "a1",
		SenderName: "Agent",
		Content:    "how can I help?",
	})
	require.NoError(t, err)

	got, err := f.store.GetRoom(ctx, room.ID)
	require.NoError(t, err)
	assert.Zero(t, got.UnreadCount)
	assert.Equal(t, "how can I help?", got.LastMessagePreview)
}

func TestPostMessageValidation(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	room, err := f.svc.GetOrCreateOpenRoom(ctx, "w1", "v1", "", "")
	require.NoError(t, err)

	_, err = f.svc.PostMessage(ctx, PostMessageParams{
		RoomID:     room.ID,
		SenderType: models.SenderVisitor,
	})
	assert.ErrorIs(t, err, ErrEmptyMessage)

	_, err = f.svc.PostMessage(ctx, PostMessageParams{
		RoomID:     uuid.New(),
		SenderType: models.SenderVisitor,
		Content:    "hi",
	})
	assert.ErrorIs(t, err, ErrRoomNotFound)
}

func TestPostMessageBanned(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	room, err := f.svc.GetOrCreateOpenRoom(ctx, "w1", "v1", "", "")
	require.NoError(t, err)

	require.NoError(t, f.moderation.SetBanned(ctx, "w1", "v1", true, "spam"))

	_, err = f.svc.PostMessage(ctx, PostMessageParams{
		RoomID:     room.ID,
		SenderType: models.SenderVisitor,
		Content:    "hi",
	})
	assert.ErrorIs(t, err, ErrVisitorBanned)

	// Agents are never ban-checked.
	_, err = f.svc.PostMessage(ctx, PostMessageParams{
		RoomID:     room.ID,
		SenderType: models.SenderAgent,
		Content:    "hello",
	})
	require.NoError(t, err)
}

func TestPostMessageRateLimited(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	room, err := f.svc.GetOrCreateOpenRoom(ctx, "w1", "v1", "", "")
	require.NoError(t, err)

	for i := 0; i < VisitorMessageLimit; i++ {
		_, err := f.svc.PostMessage(ctx, PostMessageParams{
			RoomID:     room.ID,
			SenderType: models.SenderVisitor,
			Content:    "spam",
		})
		require.NoError(t, err)
		f.advance(time.Second)
	}

	_, err = f.svc.PostMessage(ctx, PostMessageParams{
		RoomID:     room.ID,
		SenderType: models.SenderVisitor,
		Content:    "one too many",
	})
	var rateErr *RateLimitedError
	require.ErrorAs(t, err, &rateErr)
	assert.Greater(t, rateErr.RetryAfter, time.Duration(0))

	// After the window slides past the oldest send, posting resumes.
	f.advance(rateErr.RetryAfter)
	_, err = f.svc.PostMessage(ctx, PostMessageParams{
		RoomID:     room.ID,
		SenderType: models.SenderVisitor,
		Content:    "back again",
	})
	require.NoError(t, err)
}

func TestImageMessagePreview(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	room, err := f.svc.GetOrCreateOpenRoom(ctx, "w1", "v1", "", "")
	require.NoError(t, err)

	msg, err := f.svc.PostMessage(ctx, PostMessageParams{
		RoomID:     room.ID,
		SenderType: models.SenderVisitor,
		ImageURL:   "http://example.com/uploads/cat.png",
		ImageName:  "cat.png",
	})
	require.NoError(t, err)
	assert.Equal(t, models.MessageImage, msg.Type)

	got, err := f.store.GetRoom(ctx, room.ID)
	require.NoError(t, err)
	assert.Equal(t, "[image]", got.LastMessagePreview)
}

func TestPreviewTruncation(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	room, err := f.svc.GetOrCreateOpenRoom(ctx, "w1", "v1", "", "")
	require.NoError(t, err)

	long := strings.Repeat("héllo ", 40) // well past 120 runes
	_, err = f.svc.PostMessage(ctx, PostMessageParams{
		RoomID:     room.ID,
		SenderType: models.SenderVisitor,
		Content:    long,
	})
	require.NoError(t, err)

	got, err := f.store.GetRoom(ctx, room.ID)
	require.NoError(t, err)
	assert.Equal(t, 120, len([]rune(got.LastMessagePreview)))
}

func TestCloseRoom(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	room, err := f.svc.GetOrCreateOpenRoom(ctx, "w1", "v1", "", "")
	require.NoError(t, err)

	closed, err := f.svc.CloseRoom(ctx, room.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RoomClosed, closed.Status)

	// The system marker landed despite the room closing.
	msgs, err := f.store.ListMessages(ctx, room.ID, 10, "")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, models.SenderSystem, msgs[0].SenderType)
	assert.Equal(t, "conversation closed", msgs[0].Content)

	// Visitor sends are now rejected.
	_, err = f.svc.PostMessage(ctx, PostMessageParams{
		RoomID:     room.ID,
		SenderType: models.SenderVisitor,
		Content:    "hello?",
	})
	assert.ErrorIs(t, err, ErrRoomClosed)

	// Closing again is a no-op: no second marker.
	_, err = f.svc.CloseRoom(ctx, room.ID)
	require.NoError(t, err)
	msgs, err = f.store.ListMessages(ctx, room.ID, 10, "")
	require.NoError(t, err)
	assert.Len(t, msgs, 1)
}

func TestReopenRoom(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	room, err := f.svc.GetOrCreateOpenRoom(ctx, "w1", "v1", "", "")
	require.NoError(t, err)
	_, err = f.svc.CloseRoom(ctx, room.ID)
	require.NoError(t, err)

	reopened, err := f.svc.ReopenRoom(ctx, room.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RoomOpen, reopened.Status)

	// Idempotent.
	again, err := f.svc.ReopenRoom(ctx, room.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RoomOpen, again.Status)

	// And the visitor can talk again.
	_, err = f.svc.PostMessage(ctx, PostMessageParams{
		RoomID:     room.ID,
		SenderType: models.SenderVisitor,
		Content:    "still there?",
	})
	require.NoError(t, err)
}

func TestMarkReadInvariant(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	room, err := f.svc.GetOrCreateOpenRoom(ctx, "w1", "v1", "", "")
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err := f.svc.PostMessage(ctx, PostMessageParams{
			RoomID:     room.ID,
			SenderType: models.SenderVisitor,
			Content:    "msg",
		})
		require.NoError(t, err)
		f.advance(time.Second)
	}

	got, err := f.store.GetRoom(ctx, room.ID)
	require.NoError(t, err)
	unread, err := f.store.CountUnread(ctx, room.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 3, got.UnreadCount)
	assert.Equal(t, unread, got.UnreadCount)

	cleared, err := f.svc.MarkRead(ctx, room.ID)
	require.NoError(t, err)
	assert.Zero(t, cleared.UnreadCount)

	unread, err = f.store.CountUnread(ctx, room.ID)
	require.NoError(t, err)
	assert.Zero(t, unread)

	// Redundant mark-read stays at zero and still emits a room update
	// for subscribers to fold in.
	f.publisher.reset()
	again, err := f.svc.MarkRead(ctx, room.ID)
	require.NoError(t, err)
	assert.Zero(t, again.UnreadCount)
	assert.Len(t, f.publisher.ofType(models.EventRoomUpdated), 1)
}

// TestConversationFlow walks a full support exchange end to end.
func TestConversationFlow(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	// Visitor opens the widget and writes twice.
	room, err := f.svc.GetOrCreateOpenRoom(ctx, "w1", "v1", "Alice", "")
	require.NoError(t, err)

	for _, text := range []string{"hi, my order is missing", "order #12345"} {
		_, err := f.svc.PostMessage(ctx, PostMessageParams{
			RoomID:     room.ID,
			SenderType: models.SenderVisitor,
			SenderID:   "v1",
			SenderName: "Alice",
			Content:    text,
		})
		require.NoError(t, err)
		f.advance(time.Second)
	}

	got, err := f.store.GetRoom(ctx, room.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 2, got.UnreadCount)
	assert.Equal(t, "order #12345", got.LastMessagePreview)

	// Agent opens the room, marks read, replies.
	_, err = f.svc.MarkRead(ctx, room.ID)
	require.NoError(t, err)
	_, err = f.svc.PostMessage(ctx, PostMessageParams{
		RoomID:     room.ID,
		SenderType: models.SenderAgent,
		SenderID:   "a1",
		SenderName: "Sam",
		Content:    "let me check that for you",
	})
	require.NoError(t, err)
	f.advance(time.Second)

	got, err = f.store.GetRoom(ctx, room.ID)
	require.NoError(t, err)
	assert.Zero(t, got.UnreadCount)

	// Visitor answers, unread goes back to one.
	_, err = f.svc.PostMessage(ctx, PostMessageParams{
		RoomID:     room.ID,
		SenderType: models.SenderVisitor,
		SenderID:   "v1",
		Content:    "thanks!",
	})
	require.NoError(t, err)
	f.advance(time.Second)

	got, err = f.store.GetRoom(ctx, room.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, got.UnreadCount)

	// Agent resolves and closes; the history ends with the marker.
	_, err = f.svc.MarkRead(ctx, room.ID)
	require.NoError(t, err)
	_, err = f.svc.CloseRoom(ctx, room.ID)
	require.NoError(t, err)

	msgs, err := f.store.ListMessages(ctx, room.ID, 50, "")
	require.NoError(t, err)
	require.Len(t, msgs, 5)
	assert.Equal(t, models.SenderSystem, msgs[len(msgs)-1].SenderType)

	// Messages are in chronological order throughout.
	for i := 1; i < len(msgs); i++ {
		assert.True(t, msgs[i-1].Before(&msgs[i]))
	}

	// A fresh widget boot gets a new room, not the closed one.
	fresh, err := f.svc.GetOrCreateOpenRoom(ctx, "w1", "v1", "Alice", "")
	require.NoError(t, err)
	assert.NotEqual(t, room.ID, fresh.ID)
}
