package chatwire

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/eldtechnologies/chatwire/internal/models"
)

// Stream is a live event subscription over a websocket. Events arrive
// decoded on Events(); the channel closes when the connection drops,
// which is the caller's cue to resync and redial.
type Stream struct {
	conn      *websocket.Conn
	events    chan *models.Event
	done      chan struct{}
	closeOnce sync.Once
}

// SubscribeRoom opens the room's event stream.
func (c *Client) SubscribeRoom(ctx context.Context, roomID uuid.UUID) (*Stream, error) {
	return c.dial(ctx, "/room/"+roomID.String()+"/events")
}

// SubscribeDashboard opens the agent's cross-widget event stream.
func (c *Client) SubscribeDashboard(ctx context.Context) (*Stream, error) {
	return c.dial(ctx, "/dashboard/events")
}

func (c *Client) dial(ctx context.Context, path string) (*Stream, error) {
	url := wsURL(c.baseURL) + path

	header := http.Header{}
	if c.visitorID != "" {
		header.Set("X-Chatwire-Visitor", c.visitorID)
	}
	if c.agentToken != "" {
		header.Set("Authorization", "Bearer "+c.agentToken)
	}

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
		}
		return nil, err
	}
	if resp != nil {
		resp.Body.Close()
	}

	s := &Stream{
		conn:   conn,
		events: make(chan *models.Event, 64),
		done:   make(chan struct{}),
	}
	go s.readLoop()
	return s, nil
}

func (s *Stream) readLoop() {
	defer close(s.events)

	s.conn.SetPingHandler(func(appData string) error {
		s.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		return s.conn.WriteMessage(websocket.PongMessage, []byte(appData))
	})

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			return
		}
		ev, err := models.DecodeEvent(data)
		if err != nil {
			// Unknown frame from a newer server; skip it.
			continue
		}
		select {
		case s.events <- ev:
		case <-s.done:
			return
		}
	}
}

// Events returns the decoded event channel. It closes on disconnect.
func (s *Stream) Events() <-chan *models.Event {
	return s.events
}

// Close tears the subscription down. Safe to call more than once.
func (s *Stream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		err = s.conn.Close()
	})
	return err
}

func wsURL(base string) string {
	switch {
	case strings.HasPrefix(base, "https://"):
		return "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		return "ws://" + strings.TrimPrefix(base, "http://")
	default:
		return base
	}
}
