package chatwire

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/eldtechnologies/chatwire/internal/models"
)

// Dashboard drives the agent side: the cross-widget inbox plus any
// number of focused room views, all fed from one aggregate stream.
type Dashboard struct {
	client *Client
	Inbox  *Inbox

	mu     sync.Mutex
	views  map[uuid.UUID]*RoomView
	stream *Stream
}

// NewDashboard creates a dashboard delivering coalesced notifications
// to notify.
func NewDashboard(client *Client, notify func([]Notification)) *Dashboard {
	return &Dashboard{
		client: client,
		Inbox:  NewInbox(notify),
		views:  make(map[uuid.UUID]*RoomView),
	}
}

// Start seeds the inbox from the widget's first room page and attaches
// the agent's aggregate event stream.
func (d *Dashboard) Start(ctx context.Context, widgetID string) error {
	page, err := d.client.ListRooms(ctx, widgetID, 1)
	if err != nil {
		return err
	}
	d.Inbox.Seed(page.Rooms)

	stream, err := d.client.SubscribeDashboard(ctx)
	if err != nil {
		return err
	}

	d.mu.Lock()
	d.stream = stream
	d.mu.Unlock()

	go d.pump(stream)
	return nil
}

// pump routes aggregate-stream events to the inbox and to whichever
// focused view claims them.
func (d *Dashboard) pump(stream *Stream) {
	for ev := range stream.Events() {
		d.Inbox.Apply(ev)

		d.mu.Lock()
		for _, view := range d.views {
			view.Apply(ev)
		}
		d.mu.Unlock()
	}

	d.mu.Lock()
	for _, view := range d.views {
		view.MarkStale()
	}
	d.mu.Unlock()
}

// FocusRoom opens (or returns) a reconciled view of one room, loading
// its room snapshot and recent history.
func (d *Dashboard) FocusRoom(ctx context.Context, roomID uuid.UUID) (*RoomView, error) {
	d.mu.Lock()
	view, ok := d.views[roomID]
	if !ok {
		view = NewRoomView()
		d.views[roomID] = view
	}
	d.mu.Unlock()

	token := view.BeginLoad(roomID)

	room, err := d.client.GetRoom(ctx, roomID)
	if err != nil {
		view.FailLoad(token)
		return nil, err
	}
	page, err := d.client.ListMessages(ctx, roomID, 50, "")
	if err != nil {
		view.FailLoad(token)
		return nil, err
	}

	if err := view.CompleteLoad(token, room, page.Messages); err != nil {
		return view, nil // A newer focus owns the view.
	}
	return view, nil
}

// BlurRoom drops a focused view.
func (d *Dashboard) BlurRoom(roomID uuid.UUID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.views, roomID)
}

// Send posts an agent message to a room.
func (d *Dashboard) Send(ctx context.Context, roomID uuid.UUID, text string) (*models.Message, error) {
	return d.client.SendAgentMessage(ctx, roomID, SendParams{Content: text})
}

// MarkRead clears a room's unread badge. The echoed room_updated event
// carries no new activity, so the inbox updates badges without
// notifying.
func (d *Dashboard) MarkRead(ctx context.Context, roomID uuid.UUID) error {
	_, err := d.client.MarkRead(ctx, roomID)
	return err
}

// Close closes a conversation.
func (d *Dashboard) Close(ctx context.Context, roomID uuid.UUID) error {
	_, err := d.client.CloseRoom(ctx, roomID)
	return err
}

// Reopen reopens a conversation.
func (d *Dashboard) Reopen(ctx context.Context, roomID uuid.UUID) error {
	_, err := d.client.ReopenRoom(ctx, roomID)
	return err
}

// Stop detaches the aggregate stream.
func (d *Dashboard) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stream != nil {
		d.stream.Close()
		d.stream = nil
	}
}
