package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/eldtechnologies/chatwire/internal/api/middleware"
)

// WidgetStats returns room counts for one widget.
func (h *Handler) WidgetStats(w http.ResponseWriter, r *http.Request) {
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

	total, open, err := h.store.CountRooms(r.Context(), widgetID)
	if err != nil {
		h.logger.Error().Err(err).Str("widget_id", widgetID).Msg("count rooms failed")
		h.Error(w, http.StatusInternalServerError, "internal error")
		return
	}

	h.JSON(w, http.StatusOK, map[string]interface{}{
		"widget_id":    widgetID,
		"total_rooms":  total,
		"open_rooms":   open,
		"closed_rooms": total - open,
	})
}

// Stats returns service-wide aggregates for the dashboard landing page.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	total, open, err := h.store.CountRooms(ctx, "")
	if err != nil {
		h.logger.Error().Err(err).Msg("count rooms failed")
		h.Error(w, http.StatusInternalServerError, "internal error")
		return
	}

	messages, err := h.store.CountMessages(ctx)
	if err != nil {
		h.logger.Error().Err(err).Msg("count messages failed")
		h.Error(w, http.StatusInternalServerError, "internal error")
		return
	}

	lastActivity, err := h.store.MostRecentActivity(ctx)
	if err != nil {
		h.logger.Error().Err(err).Msg("recent activity lookup failed")
		h.Error(w, http.StatusInternalServerError, "internal error")
		return
	}

	resp := map[string]interface{}{
		"total_rooms":    total,
		"open_rooms":     open,
		"total_messages": messages,
	}
	if lastActivity != nil {
		resp["last_activity"] = lastActivity.UTC().Format(time.RFC3339)
	}

	h.JSON(w, http.StatusOK, resp)
}
