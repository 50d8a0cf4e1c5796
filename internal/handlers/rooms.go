package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/eldtechnologies/chatwire/internal/api/middleware"
	"github.com/eldtechnologies/chatwire/internal/chat"
	"github.com/eldtechnologies/chatwire/internal/models"
)

const roomsPageSize = 20

type openRoomRequest struct {
	VisitorID    string `json:"visitor_id"`
	VisitorName  string `json:"visitor_name"`
	VisitorEmail string `json:"visitor_email"`
}

// OpenRoom returns the visitor's open room for a widget, creating one
// when none exists. Safe to call on every widget boot.
func (h *Handler) OpenRoom(w http.ResponseWriter, r *http.Request) {
	widgetID := chi.URLParam(r, "widgetID")

	exists, err := h.identity.WidgetExists(r.Context(), widgetID)
	if err != nil {
		h.logger.Error().Err(err).Msg("widget lookup failed")
		h.Error(w, http.StatusInternalServerError, "internal error")
		return
	}
	if !exists {
		h.Error(w, http.StatusNotFound, "unknown widget")
		return
	}

	var req openRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.VisitorID == "" {
		h.Error(w, http.StatusBadRequest, "visitor_id is required")
		return
	}
	if !isValidEmail(req.VisitorEmail) {
		h.Error(w, http.StatusBadRequest, "invalid email")
		return
	}

	room, err := h.svc.GetOrCreateOpenRoom(r.Context(), widgetID, req.VisitorID, sanitizeName(req.VisitorName), req.VisitorEmail)
	if err != nil {
		h.logger.Error().Err(err).Str("widget_id", widgetID).Msg("open room failed")
		h.Error(w, http.StatusInternalServerError, "internal error")
		return
	}

	h.JSON(w, http.StatusOK, room)
}

// GetRoom returns a single room by id. Used by the widget on resync.
func (h *Handler) GetRoom(w http.ResponseWriter, r *http.Request) {
	room, ok := h.roomFromURL(w, r)
	if !ok {
		return
	}
	h.JSON(w, http.StatusOK, room)
}

// ListRooms returns a page of a widget's rooms for the dashboard,
// ordered by most recent activity.
func (h *Handler) ListRooms(w http.ResponseWriter, r *http.Request) {
	widgetID := chi.URLParam(r, "widgetID")

	agent := middleware.AgentFromContext(r.Context())
	owns, err := h.agentOwnsWidget(r, agent, widgetID)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "internal error")
		return
	}
	if !owns {
		h.Error(w, http.StatusForbidden, "widget not assigned to agent")
		return
	}

	page := 1
	if p, err := strconv.Atoi(r.URL.Query().Get("page")); err == nil && p > 0 {
		page = p
	}

	rooms, total, err := h.store.ListRoomsByWidget(r.Context(), widgetID, roomsPageSize, (page-1)*roomsPageSize)
	if err != nil {
		h.logger.Error().Err(err).Str("widget_id", widgetID).Msg("list rooms failed")
		h.Error(w, http.StatusInternalServerError, "internal error")
		return
	}

	h.JSON(w, http.StatusOK, map[string]interface{}{
		"rooms":    rooms,
		"total":    total,
		"page":     page,
		"has_more": page*roomsPageSize < total,
	})
}

// CloseRoom closes a room. Idempotent.
func (h *Handler) CloseRoom(w http.ResponseWriter, r *http.Request) {
	roomID, ok := h.ownedRoomID(w, r)
	if !ok {
		return
	}

	room, err := h.svc.CloseRoom(r.Context(), roomID)
	if err != nil {
		h.serviceError(w, err)
		return
	}
	h.JSON(w, http.StatusOK, room)
}

// ReopenRoom reopens a closed room. Idempotent.
func (h *Handler) ReopenRoom(w http.ResponseWriter, r *http.Request) {
	roomID, ok := h.ownedRoomID(w, r)
	if !ok {
		return
	}

	room, err := h.svc.ReopenRoom(r.Context(), roomID)
	if err != nil {
		h.serviceError(w, err)
		return
	}
	h.JSON(w, http.StatusOK, room)
}

// MarkRead marks all visitor messages in a room as read.
func (h *Handler) MarkRead(w http.ResponseWriter, r *http.Request) {
	roomID, ok := h.ownedRoomID(w, r)
	if !ok {
		return
	}

	room, err := h.svc.MarkRead(r.Context(), roomID)
	if err != nil {
		h.serviceError(w, err)
		return
	}
	h.JSON(w, http.StatusOK, room)
}

type banRequest struct {
	VisitorID string `json:"visitor_id"`
	Banned    bool   `json:"banned"`
	Reason    string `json:"reason"`
}

// BanVisitor sets or clears a visitor's ban for a widget.
func (h *Handler) BanVisitor(w http.ResponseWriter, r *http.Request) {
	widgetID := chi.URLParam(r, "widgetID")

	agent := middleware.AgentFromContext(r.Context())
	owns, err := h.agentOwnsWidget(r, agent, widgetID)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "internal error")
		return
	}
	if !owns {
		h.Error(w, http.StatusForbidden, "widget not assigned to agent")
		return
	}

	var req banRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.VisitorID == "" {
		h.Error(w, http.StatusBadRequest, "visitor_id is required")
		return
	}

	if err := h.moderation.SetBanned(r.Context(), widgetID, req.VisitorID, req.Banned, req.Reason); err != nil {
		h.logger.Error().Err(err).Msg("set ban failed")
		h.Error(w, http.StatusInternalServerError, "internal error")
		return
	}

	h.logger.Info().
		Str("type", "security").
		Str("widget_id", widgetID).
		Str("visitor_id", req.VisitorID).
		Bool("banned", req.Banned).
		Str("agent_id", agent.ID).
		Msg("visitor ban updated")

	h.JSON(w, http.StatusOK, map[string]interface{}{
		"visitor_id": req.VisitorID,
		"banned":     req.Banned,
	})
}

// roomFromURL parses the room id, loads the room, and writes the error
// response itself when the room is missing.
func (h *Handler) roomFromURL(w http.ResponseWriter, r *http.Request) (*models.Room, bool) {
	roomID, err := uuid.Parse(chi.URLParam(r, "roomID"))
	if err != nil {
		h.Error(w, http.StatusBadRequest, "invalid room id")
		return nil, false
	}

	room, err := h.store.GetRoom(r.Context(), roomID)
	if err != nil {
		h.logger.Error().Err(err).Str("room_id", roomID.String()).Msg("room lookup failed")
		h.Error(w, http.StatusInternalServerError, "internal error")
		return nil, false
	}
	if room == nil {
		h.Error(w, http.StatusNotFound, "room not found")
		return nil, false
	}
	return room, true
}

// ownedRoomID parses the room id and verifies the authenticated agent
// handles the room's widget.
func (h *Handler) ownedRoomID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	room, ok := h.roomFromURL(w, r)
	if !ok {
		return uuid.Nil, false
	}

	agent := middleware.AgentFromContext(r.Context())
	owns, err := h.agentOwnsWidget(r, agent, room.WidgetID)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "internal error")
		return uuid.Nil, false
	}
	if !owns {
		h.Error(w, http.StatusForbidden, "widget not assigned to agent")
		return uuid.Nil, false
	}
	return room.ID, true
}

// serviceError maps engine errors onto HTTP status codes.
func (h *Handler) serviceError(w http.ResponseWriter, err error) {
	var rateErr *chat.RateLimitedError

	switch {
	case errors.Is(err, chat.ErrRoomNotFound):
		h.Error(w, http.StatusNotFound, "room not found")
	case errors.Is(err, chat.ErrRoomClosed):
		h.Error(w, http.StatusConflict, "room is closed")
	case errors.Is(err, chat.ErrVisitorBanned):
		h.Error(w, http.StatusForbidden, "visitor is banned")
	case errors.Is(err, chat.ErrEmptyMessage):
		h.Error(w, http.StatusBadRequest, "message must have content or an image")
	case errors.As(err, &rateErr):
		w.Header().Set("Retry-After", strconv.Itoa(rateErr.RetryAfterSeconds()))
		h.JSON(w, http.StatusTooManyRequests, map[string]interface{}{
			"error":               "rate limit exceeded",
			"retry_after_seconds": rateErr.RetryAfterSeconds(),
		})
	default:
		h.logger.Error().Err(err).Msg("chat operation failed")
		h.Error(w, http.StatusInternalServerError, "internal error")
	}
}
