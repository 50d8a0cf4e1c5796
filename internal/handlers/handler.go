package handlers

import (
	"encoding/json"
	"net/http"
	"regexp"
	"slices"
	"strings"
	"unicode"

	"github.com/rs/zerolog"

	"github.com/eldtechnologies/chatwire/internal/chat"
	"github.com/eldtechnologies/chatwire/internal/store"
)

// emailRegex validates email addresses per RFC 5322 (simplified).
var emailRegex = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)

// Deps are the shared dependencies for all HTTP handlers.
type Deps struct {
	Store      store.DataStore
	Redis      *store.RedisStore // nil when redis is not configured (degraded dev mode)
	Streams    store.Streams
	Service    *chat.Service
	Identity   chat.Identity
	Moderation chat.Moderation
	Blobs      chat.BlobStore
	Logger     zerolog.Logger
}

// Handler contains shared dependencies for all HTTP handlers.
type Handler struct {
	store      store.DataStore
	redis      *store.RedisStore
	streams    store.Streams
	svc        *chat.Service
	identity   chat.Identity
	moderation chat.Moderation
	blobs      chat.BlobStore
	logger     zerolog.Logger
}

// New creates a Handler from its dependencies.
func New(d Deps) *Handler {
	return &Handler{
		store:      d.Store,
		redis:      d.Redis,
		streams:    d.Streams,
		svc:        d.Service,
		identity:   d.Identity,
		moderation: d.Moderation,
		blobs:      d.Blobs,
		logger:     d.Logger,
	}
}

// JSON sends a JSON response with the given status code.
func (h *Handler) JSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// Error sends a JSON error response with the given status code.
func (h *Handler) Error(w http.ResponseWriter, status int, message string) {
	h.JSON(w, status, map[string]string{"error": message})
}

// agentOwnsWidget reports whether the agent handles the widget's rooms.
func (h *Handler) agentOwnsWidget(r *http.Request, agent *chat.AgentIdentity, widgetID string) (bool, error) {
	widgets, err := h.identity.WidgetsForAgent(r.Context(), agent.ID)
	if err != nil {
		return false, err
	}
	return slices.Contains(widgets, widgetID), nil
}

// sanitizeName trims and limits name to 100 characters, removing control characters.
func sanitizeName(name string) string {
	name = strings.TrimSpace(name)

	name = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, name)

	if len(name) > 100 {
		name = name[:100]
	}

	return name
}

// isValidEmail validates email addresses using RFC 5322 pattern.
func isValidEmail(email string) bool {
	if email == "" {
		return true // Empty is valid (optional field)
	}
	if len(email) > 254 {
		return false
	}
	return emailRegex.MatchString(email)
}
