package handlers

import (
	"net/http"

	"github.com/eldtechnologies/chatwire/internal/api/middleware"
	"github.com/eldtechnologies/chatwire/internal/models"
)

// VisitorJoin registers the room's visitor as present and returns the
// recomputed aggregate.
func (h *Handler) VisitorJoin(w http.ResponseWriter, r *http.Request) {
	room, ok := h.visitorRoom(w, r)
	if !ok {
		return
	}

	agg, err := h.svc.JoinRoom(r.Context(), room.WidgetID, room.ID, models.ParticipantVisitor)
	if err != nil {
		h.serviceError(w, err)
		return
	}
	h.JSON(w, http.StatusOK, agg)
}

// VisitorHeartbeat refreshes the visitor's presence record.
func (h *Handler) VisitorHeartbeat(w http.ResponseWriter, r *http.Request) {
	room, ok := h.visitorRoom(w, r)
	if !ok {
		return
	}

	if err := h.svc.HeartbeatRoom(r.Context(), room.ID, models.ParticipantVisitor); err != nil {
		h.serviceError(w, err)
		return
	}
	h.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// VisitorLeave removes the visitor's presence record.
func (h *Handler) VisitorLeave(w http.ResponseWriter, r *http.Request) {
	room, ok := h.visitorRoom(w, r)
	if !ok {
		return
	}

	agg, err := h.svc.LeaveRoom(r.Context(), room.WidgetID, room.ID, models.ParticipantVisitor)
	if err != nil {
		h.serviceError(w, err)
		return
	}
	h.JSON(w, http.StatusOK, agg)
}

// GetPresence returns the room's current presence aggregate.
func (h *Handler) GetPresence(w http.ResponseWriter, r *http.Request) {
	room, ok := h.roomFromURL(w, r)
	if !ok {
		return
	}

	agg, err := h.svc.RoomPresence(r.Context(), room.ID)
	if err != nil {
		h.serviceError(w, err)
		return
	}
	h.JSON(w, http.StatusOK, agg)
}

// AgentJoin registers the authenticated agent as present in a room.
func (h *Handler) AgentJoin(w http.ResponseWriter, r *http.Request) {
	room, ok := h.roomFromURL(w, r)
	if !ok {
		return
	}

	agent := middleware.AgentFromContext(r.Context())
	agg, err := h.svc.JoinRoom(r.Context(), room.WidgetID, room.ID, models.AgentParticipant(agent.ID))
	if err != nil {
		h.serviceError(w, err)
		return
	}
	h.JSON(w, http.StatusOK, agg)
}

// AgentHeartbeat refreshes the authenticated agent's presence record.
func (h *Handler) AgentHeartbeat(w http.ResponseWriter, r *http.Request) {
	room, ok := h.roomFromURL(w, r)
	if !ok {
		return
	}

	agent := middleware.AgentFromContext(r.Context())
	if err := h.svc.HeartbeatRoom(r.Context(), room.ID, models.AgentParticipant(agent.ID)); err != nil {
		h.serviceError(w, err)
		return
	}
	h.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// AgentLeave removes the authenticated agent's presence record.
func (h *Handler) AgentLeave(w http.ResponseWriter, r *http.Request) {
	room, ok := h.roomFromURL(w, r)
	if !ok {
		return
	}

	agent := middleware.AgentFromContext(r.Context())
	agg, err := h.svc.LeaveRoom(r.Context(), room.WidgetID, room.ID, models.AgentParticipant(agent.ID))
	if err != nil {
		h.serviceError(w, err)
		return
	}
	h.JSON(w, http.StatusOK, agg)
}

// visitorRoom loads the room and verifies the caller is its visitor.
func (h *Handler) visitorRoom(w http.ResponseWriter, r *http.Request) (*models.Room, bool) {
	room, ok := h.roomFromURL(w, r)
	if !ok {
		return nil, false
	}

	visitor := r.Header.Get("X-Chatwire-Visitor")
	if visitor == "" || visitor != room.VisitorID {
		h.Error(w, http.StatusForbidden, "visitor does not own this room")
		return nil, false
	}
	return room, true
}
