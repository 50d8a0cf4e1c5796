package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eldtechnologies/chatwire/internal/api/middleware"
	"github.com/eldtechnologies/chatwire/internal/chat"
	"github.com/eldtechnologies/chatwire/internal/models"
	"github.com/eldtechnologies/chatwire/internal/store"
)

// fakeIdentity resolves tokens and widgets from fixed maps.
type fakeIdentity struct {
	agents  map[string]*chat.AgentIdentity // token -> agent
	widgets map[string][]string            // widget -> agent ids
}

func (f *fakeIdentity) AgentByToken(_ context.Context, token string) (*chat.AgentIdentity, error) {
	return f.agents[token], nil
}

func (f *fakeIdentity) WidgetExists(_ context.Context, widgetID string) (bool, error) {
	_, ok := f.widgets[widgetID]
	return ok, nil
}

func (f *fakeIdentity) WidgetsForAgent(_ context.Context, agentID string) ([]string, error) {
	var ids []string
	for widgetID, agents := range f.widgets {
		for _, a := range agents {
			if a == agentID {
				ids = append(ids, widgetID)
			}
		}
	}
	return ids, nil
}

type fakeModeration struct {
	banned map[string]bool
}

func (m *fakeModeration) IsBanned(_ context.Context, widgetID, visitorID string) (bool, error) {
	return m.banned[widgetID+"/"+visitorID], nil
}

func (m *fakeModeration) SetBanned(_ context.Context, widgetID, visitorID string, banned bool, _ string) error {
	m.banned[widgetID+"/"+visitorID] = banned
	return nil
}

type fixture struct {
	router http.Handler
	store  store.DataStore
	svc    *chat.Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	ds, err := store.NewSQLiteStore(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(ds.Close)

	idp := &fakeIdentity{
		agents: map[string]*chat.AgentIdentity{
			"sam-token": {ID: "a1", Name: "Sam"},
		},
		widgets: map[string][]string{
			"w1":    {"a1"},
			"other": {"somebody-else"},
		},
	}
	moderation := &fakeModeration{banned: make(map[string]bool)}

	svc := chat.NewService(ds, nopPublisher{}, chat.NewMemoryPresence(),
		chat.NewMemoryLimiter(), moderation, zerolog.Nop())

	h := New(Deps{
		Store:      ds,
		Service:    svc,
		Identity:   idp,
		Moderation: moderation,
		Logger:     zerolog.Nop(),
	})

	// A trimmed router mirroring the production routes under test.
	auth := middleware.NewAuthMiddleware(idp)
	r := chi.NewRouter()
	r.Post("/widget/{widgetID}/room", h.OpenRoom)
	r.Route("/room/{roomID}", func(r chi.Router) {
		r.Get("/", h.GetRoom)
		r.Get("/messages", h.ListMessages)
		r.Post("/messages", h.PostVisitorMessage)
	})
	r.Route("/dashboard", func(r chi.Router) {
		r.Use(auth.RequireAgent)
		r.Get("/widgets/{widgetID}/rooms", h.ListRooms)
		r.Post("/rooms/{roomID}/messages", h.PostAgentMessage)
		r.Post("/rooms/{roomID}/close", h.CloseRoom)
		r.Post("/rooms/{roomID}/read", h.MarkRead)
	})

	return &fixture{router: r, store: ds, svc: svc}
}

type nopPublisher struct{}

func (nopPublisher) PublishEvent(context.Context, string, uuid.UUID, *models.Event) error {
	return nil
}

func (f *fixture) request(t *testing.T, method, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func (f *fixture) openRoom(t *testing.T, visitorID string) *models.Room {
	t.Helper()
	rec := f.request(t, "POST", "/widget/w1/room",
		map[string]string{"visitor_id": visitorID}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var room models.Room
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &room))
	return &room
}

func visitorHeaders(visitorID string) map[string]string {
	return map[string]string{"X-Chatwire-Visitor": visitorID}
}

func agentHeaders() map[string]string {
	return map[string]string{"Authorization": "Bearer sam-token"}
}

func TestOpenRoomCreatesAndReuses(t *testing.T) {
	f := newFixture(t)

	first := f.openRoom(t, "v1")
	second := f.openRoom(t, "v1")
	assert.Equal(t, first.ID, second.ID)

	rec := f.request(t, "POST", "/widget/nope/room",
		map[string]string{"visitor_id": "v1"}, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.request(t, "POST", "/widget/w1/room", map[string]string{}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPostVisitorMessage(t *testing.T) {
	f := newFixture(t)
	room := f.openRoom(t, "v1")

	rec := f.request(t, "POST", "/room/"+room.ID.String()+"/messages",
		map[string]string{"content": "hello"}, visitorHeaders("v1"))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var msg models.Message
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &msg))
	assert.Equal(t, models.SenderVisitor, msg.SenderType)

	// The wrong visitor cannot write into someone else's room.
	rec = f.request(t, "POST", "/room/"+room.ID.String()+"/messages",
		map[string]string{"content": "hi"}, visitorHeaders("intruder"))
	assert.Equal(t, http.StatusForbidden, rec.Code)

	// Empty body is rejected.
	rec = f.request(t, "POST", "/room/"+room.ID.String()+"/messages",
		map[string]string{}, visitorHeaders("v1"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPostVisitorMessageRateLimited(t *testing.T) {
	f := newFixture(t)
	room := f.openRoom(t, "v1")

	for i := 0; i < chat.VisitorMessageLimit; i++ {
		rec := f.request(t, "POST", "/room/"+room.ID.String()+"/messages",
			map[string]string{"content": fmt.Sprintf("m%d", i)}, visitorHeaders("v1"))
		require.Equal(t, http.StatusCreated, rec.Code)
	}

	rec := f.request(t, "POST", "/room/"+room.ID.String()+"/messages",
		map[string]string{"content": "one too many"}, visitorHeaders("v1"))
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))

	var body struct {
		RetryAfterSeconds int `json:"retry_after_seconds"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Greater(t, body.RetryAfterSeconds, 0)
}

func TestClosedRoomConflict(t *testing.T) {
	f := newFixture(t)
	room := f.openRoom(t, "v1")

	rec := f.request(t, "POST", "/dashboard/rooms/"+room.ID.String()+"/close", nil, agentHeaders())
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = f.request(t, "POST", "/room/"+room.ID.String()+"/messages",
		map[string]string{"content": "anyone?"}, visitorHeaders("v1"))
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestListMessagesPagination(t *testing.T) {
	f := newFixture(t)
	room := f.openRoom(t, "v1")

	for i := 0; i < 5; i++ {
		rec := f.request(t, "POST", "/room/"+room.ID.String()+"/messages",
			map[string]string{"content": fmt.Sprintf("m%d", i)}, visitorHeaders("v1"))
		require.Equal(t, http.StatusCreated, rec.Code)
	}

	rec := f.request(t, "GET", "/room/"+room.ID.String()+"/messages?limit=3", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var page struct {
		Messages []models.Message `json:"messages"`
		HasMore  bool             `json:"has_more"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	require.Len(t, page.Messages, 3)
	assert.True(t, page.HasMore)
	assert.Equal(t, "m2", page.Messages[0].Content)
	assert.Equal(t, "m4", page.Messages[2].Content)

	before := page.Messages[0].ID
	rec = f.request(t, "GET", "/room/"+room.ID.String()+"/messages?limit=3&before="+before, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	require.Len(t, page.Messages, 2)
	assert.False(t, page.HasMore)
	assert.Equal(t, "m0", page.Messages[0].Content)
}

func TestDashboardAuth(t *testing.T) {
	f := newFixture(t)

	rec := f.request(t, "GET", "/dashboard/widgets/w1/rooms", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.request(t, "GET", "/dashboard/widgets/w1/rooms", nil,
		map[string]string{"Authorization": "Bearer wrong"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.request(t, "GET", "/dashboard/widgets/w1/rooms", nil, agentHeaders())
	assert.Equal(t, http.StatusOK, rec.Code)

	// Sam does not handle the "other" widget.
	rec = f.request(t, "GET", "/dashboard/widgets/other/rooms", nil, agentHeaders())
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestDashboardRoomFlow(t *testing.T) {
	f := newFixture(t)
	room := f.openRoom(t, "v1")

	rec := f.request(t, "POST", "/room/"+room.ID.String()+"/messages",
		map[string]string{"content": "help"}, visitorHeaders("v1"))
	require.Equal(t, http.StatusCreated, rec.Code)

	// Agent reply is attributed to the authenticated agent.
	rec = f.request(t, "POST", "/dashboard/rooms/"+room.ID.String()+"/messages",
		map[string]string{"content": "on it"}, agentHeaders())
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var msg models.Message
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &msg))
	assert.Equal(t, models.SenderAgent, msg.SenderType)
	assert.Equal(t, "a1", msg.SenderID)
	assert.Equal(t, "Sam", msg.SenderName)

	// Mark read zeroes the badge.
	rec = f.request(t, "POST", "/dashboard/rooms/"+room.ID.String()+"/read", nil, agentHeaders())
	require.Equal(t, http.StatusOK, rec.Code)

	var updated models.Room
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &updated))
	assert.Zero(t, updated.UnreadCount)

	// Listing shows the room with its latest preview.
	rec = f.request(t, "GET", "/dashboard/widgets/w1/rooms", nil, agentHeaders())
	require.Equal(t, http.StatusOK, rec.Code)

	var list struct {
		Rooms []models.Room `json:"rooms"`
		Total int           `json:"total"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list.Rooms, 1)
	assert.Equal(t, 1, list.Total)
	assert.Equal(t, "on it", list.Rooms[0].LastMessagePreview)
}
