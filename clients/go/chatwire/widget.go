package chatwire

import (
	"context"
	"time"

	"github.com/eldtechnologies/chatwire/internal/models"
)

// Widget drives one visitor conversation: open-or-resume the room,
// reconcile its view over the stream, and send with optimistic input
// handling. The draft clears the moment Send is called and is restored
// on failure; the sent message itself only renders once its event comes
// back on the stream, so the visitor always sees the server's ordering.
type Widget struct {
	client  *Client
	session *Session
	store   SessionStore

	View   *RoomView
	stream *Stream

	draft string
}

// NewWidget creates a widget for the stored session. The server URL and
// visitor credentials come from the client.
func NewWidget(client *Client, store SessionStore) (*Widget, error) {
	sess, err := store.Load()
	if err != nil {
		return nil, err
	}
	return &Widget{
		client:  client,
		session: sess,
		store:   store,
		View:    NewRoomView(),
	}, nil
}

// Session returns the widget's current session.
func (wg *Widget) Session() *Session {
	return wg.session
}

// Start opens (or resumes) the room, loads recent history, and attaches
// the live stream. Safe to call again after Stop or a stream drop.
func (wg *Widget) Start(ctx context.Context, widgetID string) error {
	room, err := wg.client.OpenRoom(ctx, widgetID, wg.session.VisitorName, wg.session.VisitorEmail)
	if err != nil {
		return err
	}

	wg.session.RoomID = room.ID
	if err := wg.store.Save(wg.session); err != nil {
		return err
	}

	token := wg.View.BeginLoad(room.ID)

	stream, err := wg.client.SubscribeRoom(ctx, room.ID)
	if err != nil {
		wg.View.FailLoad(token)
		return err
	}
	wg.stream = stream

	page, err := wg.client.ListMessages(ctx, room.ID, 50, "")
	if err != nil {
		stream.Close()
		wg.View.FailLoad(token)
		return err
	}

	if err := wg.View.CompleteLoad(token, room, page.Messages); err != nil {
		// Superseded by a newer Start; the new context owns the view.
		stream.Close()
		return nil
	}

	go wg.pump(stream)
	return nil
}

// pump applies stream events until the connection drops, then marks
// the view stale. The owner resyncs by calling Resume.
func (wg *Widget) pump(stream *Stream) {
	for ev := range stream.Events() {
		wg.View.Apply(ev)
	}
	wg.View.MarkStale()
}

// Resume re-fetches room and history after a drop and reattaches the
// stream, merging anything missed into the existing snapshot.
func (wg *Widget) Resume(ctx context.Context) error {
	roomID := wg.session.RoomID
	token := wg.View.BeginResync()

	stream, err := wg.client.SubscribeRoom(ctx, roomID)
	if err != nil {
		wg.View.MarkStale()
		return err
	}

	room, err := wg.client.GetRoom(ctx, roomID)
	if err != nil {
		stream.Close()
		wg.View.MarkStale()
		return err
	}

	page, err := wg.client.ListMessages(ctx, roomID, 50, "")
	if err != nil {
		stream.Close()
		wg.View.MarkStale()
		return err
	}

	if err := wg.View.CompleteLoad(token, room, page.Messages); err != nil {
		stream.Close()
		return nil
	}

	wg.stream = stream
	go wg.pump(stream)
	return nil
}

// SetDraft replaces the visitor's unsent input.
func (wg *Widget) SetDraft(text string) {
	wg.draft = text
}

// Draft returns the visitor's unsent input.
func (wg *Widget) Draft() string {
	return wg.draft
}

// SendDraft submits the current draft. The draft clears immediately; on
// failure it is restored so the visitor can retry, and the error
// carries the retry-after hint when the server throttled the send.
func (wg *Widget) SendDraft(ctx context.Context) (*models.Message, error) {
	text := wg.draft
	wg.draft = ""

	msg, err := wg.client.SendVisitorMessage(ctx, wg.session.RoomID, SendParams{Content: text})
	if err != nil {
		wg.draft = text
		return nil, err
	}
	return msg, nil
}

// LoadOlder pages further back in history and merges the page into the
// view.
func (wg *Widget) LoadOlder(ctx context.Context, limit int) (bool, error) {
	msgs := wg.View.Messages()
	before := ""
	if len(msgs) > 0 {
		before = msgs[0].ID
	}

	page, err := wg.client.ListMessages(ctx, wg.session.RoomID, limit, before)
	if err != nil {
		return false, err
	}
	for i := range page.Messages {
		wg.View.Apply(&models.Event{
			Type:    models.EventMessageInserted,
			TS:      time.Now().UnixMilli(),
			Message: &page.Messages[i],
		})
	}
	return page.HasMore, nil
}

// Stop detaches the stream. The view keeps rendering its last state.
func (wg *Widget) Stop() {
	if wg.stream != nil {
		wg.stream.Close()
		wg.stream = nil
	}
}
