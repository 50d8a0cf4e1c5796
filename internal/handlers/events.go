package handlers

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/eldtechnologies/chatwire/internal/api/middleware"
	"github.com/eldtechnologies/chatwire/internal/metrics"
	"github.com/eldtechnologies/chatwire/internal/models"
	"github.com/eldtechnologies/chatwire/internal/store"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// The widget connects from arbitrary customer origins; the room id
	// is the capability, origin carries no signal here.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// RoomEvents upgrades to a websocket and streams the room's change feed.
// The first frames are a snapshot of the room and its presence so a
// reconnecting client starts from current state before deltas arrive.
func (h *Handler) RoomEvents(w http.ResponseWriter, r *http.Request) {
	room, ok := h.roomFromURL(w, r)
	if !ok {
		return
	}

	stream, err := h.streams.SubscribeRoom(r.Context(), room.ID)
	if err != nil {
		h.logger.Error().Err(err).Str("room_id", room.ID.String()).Msg("subscribe failed")
		h.Error(w, http.StatusInternalServerError, "internal error")
		return
	}

	agg, err := h.svc.RoomPresence(r.Context(), room.ID)
	if err != nil {
		stream.Close()
		h.serviceError(w, err)
		return
	}

	snapshot := []*models.Event{
		models.NewRoomEvent(models.EventRoomUpdated, room),
		models.NewPresenceEvent(agg),
	}
	h.serveStream(w, r, stream, snapshot)
}

// DashboardEvents streams room and message events for every widget the
// authenticated agent handles.
func (h *Handler) DashboardEvents(w http.ResponseWriter, r *http.Request) {
	agent := middleware.AgentFromContext(r.Context())

	widgets, err := h.identity.WidgetsForAgent(r.Context(), agent.ID)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "internal error")
		return
	}
	if len(widgets) == 0 {
		h.Error(w, http.StatusForbidden, "no widgets assigned to agent")
		return
	}

	stream, err := h.streams.SubscribeWidgets(r.Context(), widgets)
	if err != nil {
		h.logger.Error().Err(err).Str("agent_id", agent.ID).Msg("subscribe failed")
		h.Error(w, http.StatusInternalServerError, "internal error")
		return
	}

	h.serveStream(w, r, stream, nil)
}

// serveStream owns the websocket from upgrade to teardown: snapshot
// frames first, then the live feed, with pings keeping intermediaries
// from idling the connection out.
func (h *Handler) serveStream(w http.ResponseWriter, r *http.Request, stream store.EventStream, snapshot []*models.Event) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		stream.Close()
		h.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	metrics.StreamSubscribers.Inc()
	defer func() {
		metrics.StreamSubscribers.Dec()
		stream.Close()
		conn.Close()
	}()

	// Reader goroutine: the client sends nothing but pongs and close
	// frames; its exit signals disconnect.
	done := make(chan struct{})
	go func() {
		defer close(done)
		conn.SetReadLimit(512)
		conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for _, ev := range snapshot {
		if err := h.writeEvent(conn, ev); err != nil {
			return
		}
	}

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-stream.Events():
			if !ok {
				conn.SetWriteDeadline(time.Now().Add(writeWait))
				conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "stream closed"))
				return
			}
			if err := h.writeEvent(conn, ev); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		case <-r.Context().Done():
			return
		}
	}
}

func (h *Handler) writeEvent(conn *websocket.Conn, ev *models.Event) error {
	payload, err := models.EncodeEvent(ev)
	if err != nil {
		h.logger.Error().Err(err).Str("event", string(ev.Type)).Msg("event encode failed")
		return nil // Skip the frame, keep the stream.
	}
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(websocket.TextMessage, payload)
}
