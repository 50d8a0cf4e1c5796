package chat

import (
	"context"
	"io"
)

// AgentIdentity is what the identity collaborator knows about an agent:
// attribution for messages and presence.
type AgentIdentity struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	AvatarURL string `json:"avatar_url,omitempty"`
}

// Moderation is the external ban-state collaborator, consulted before a
// visitor message is accepted.
type Moderation interface {
	IsBanned(ctx context.Context, widgetID, visitorID string) (bool, error)
	SetBanned(ctx context.Context, widgetID, visitorID string, banned bool, reason string) error
}

// Identity resolves agent sessions and widget ownership. The real
// implementation lives in the account service; this engine only consumes
// the mapping.
type Identity interface {
	// AgentByToken resolves a dashboard bearer token. (nil, nil) when the
	// token is unknown.
	AgentByToken(ctx context.Context, token string) (*AgentIdentity, error)
	// WidgetExists reports whether a widget id is configured.
	WidgetExists(ctx context.Context, widgetID string) (bool, error)
	// WidgetsForAgent lists widget ids whose rooms the agent handles.
	WidgetsForAgent(ctx context.Context, agentID string) ([]string, error)
}

// BlobStore accepts an image upload and returns a durable URL. The engine
// only stores and relays the reference.
type BlobStore interface {
	Put(ctx context.Context, name string, r io.Reader) (url string, err error)
}
