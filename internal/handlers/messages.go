package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/eldtechnologies/chatwire/internal/api/middleware"
	"github.com/eldtechnologies/chatwire/internal/chat"
	"github.com/eldtechnologies/chatwire/internal/models"
)

const (
	defaultMessagePageSize = 50
	maxMessagePageSize     = 100
)

// ListMessages returns a page of a room's messages in chronological
// order. Without a "before" cursor the page is the most recent one;
// with it, the page immediately preceding that message id.
func (h *Handler) ListMessages(w http.ResponseWriter, r *http.Request) {
	room, ok := h.roomFromURL(w, r)
	if !ok {
		return
	}

	limit := defaultMessagePageSize
	if l, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && l > 0 {
		limit = min(l, maxMessagePageSize)
	}
	before := r.URL.Query().Get("before")

	// Fetch one extra row to learn whether older messages remain.
	msgs, err := h.store.ListMessages(r.Context(), room.ID, limit+1, before)
	if err != nil {
		h.logger.Error().Err(err).Str("room_id", room.ID.String()).Msg("list messages failed")
		h.Error(w, http.StatusInternalServerError, "internal error")
		return
	}

	hasMore := false
	if len(msgs) > limit {
		hasMore = true
		msgs = msgs[1:] // Drop the probe row, which is the oldest.
	}
	if msgs == nil {
		msgs = []models.Message{}
	}

	h.JSON(w, http.StatusOK, map[string]interface{}{
		"messages": msgs,
		"has_more": hasMore,
	})
}

type postMessageRequest struct {
	Content   string `json:"content"`
	ImageURL  string `json:"image_url"`
	ImageName string `json:"image_name"`
}

// PostVisitorMessage appends a visitor message to a room. The widget
// identifies its visitor with the X-Chatwire-Visitor header, which must
// match the room's visitor.
func (h *Handler) PostVisitorMessage(w http.ResponseWriter, r *http.Request) {
	room, ok := h.roomFromURL(w, r)
	if !ok {
		return
	}

	visitor := r.Header.Get("X-Chatwire-Visitor")
	if visitor == "" || visitor != room.VisitorID {
		h.Error(w, http.StatusForbidden, "visitor does not own this room")
		return
	}

	var req postMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	msg, err := h.svc.PostMessage(r.Context(), chat.PostMessageParams{
		RoomID:     room.ID,
		SenderType: models.SenderVisitor,
		SenderID:   room.VisitorID,
		SenderName: room.VisitorName,
		Content:    req.Content,
		ImageURL:   req.ImageURL,
		ImageName:  req.ImageName,
	})
	if err != nil {
		h.serviceError(w, err)
		return
	}

	h.JSON(w, http.StatusCreated, msg)
}

// PostAgentMessage appends an agent message to a room on behalf of the
// authenticated dashboard agent.
func (h *Handler) PostAgentMessage(w http.ResponseWriter, r *http.Request) {
	roomID, ok := h.ownedRoomID(w, r)
	if !ok {
		return
	}

	var req postMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	agent := middleware.AgentFromContext(r.Context())
	msg, err := h.svc.PostMessage(r.Context(), chat.PostMessageParams{
		RoomID:     roomID,
		SenderType: models.SenderAgent,
		SenderID:   agent.ID,
		SenderName: agent.Name,
		Content:    req.Content,
		ImageURL:   req.ImageURL,
		ImageName:  req.ImageName,
	})
	if err != nil {
		h.serviceError(w, err)
		return
	}

	h.JSON(w, http.StatusCreated, msg)
}
