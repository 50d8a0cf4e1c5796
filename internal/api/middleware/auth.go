package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/eldtechnologies/chatwire/internal/chat"
)

type contextKey string

const agentContextKey contextKey = "agent"

// AuthMiddleware resolves dashboard bearer tokens through the identity
// collaborator.
type AuthMiddleware struct {
	identity chat.Identity
}

// NewAuthMiddleware creates a new auth middleware.
func NewAuthMiddleware(identity chat.Identity) *AuthMiddleware {
	return &AuthMiddleware{identity: identity}
}

// RequireAgent rejects requests without a valid agent token and injects
// the resolved agent into the request context.
func (m *AuthMiddleware) RequireAgent(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			jsonError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}

		agent, err := m.identity.AgentByToken(r.Context(), token)
		if err != nil {
			jsonError(w, http.StatusInternalServerError, "identity lookup failed")
			return
		}
		if agent == nil {
			jsonError(w, http.StatusUnauthorized, "invalid token")
			return
		}

		ctx := context.WithValue(r.Context(), agentContextKey, agent)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func jsonError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// AgentFromContext retrieves the authenticated agent from the request
// context, or nil outside an authenticated route.
func AgentFromContext(ctx context.Context) *chat.AgentIdentity {
	agent, ok := ctx.Value(agentContextKey).(*chat.AgentIdentity)
	if !ok {
		return nil
	}
	return agent
}
