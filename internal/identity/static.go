// Package identity is a file-backed stand-in for the account service's
// identity collaborator: agent token resolution and widget ownership.
package identity

import (
	"context"
	"encoding/json"
	"os"

	"golang.org/x/crypto/bcrypt"

	"github.com/eldtechnologies/chatwire/internal/chat"
)

type agentEntry struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	AvatarURL string `json:"avatar_url,omitempty"`
	TokenHash string `json:"token_hash"` // bcrypt of the dashboard API token
}

type widgetEntry struct {
	ID     string   `json:"id"`
	Agents []string `json:"agents"`
}

type file struct {
	Agents  []agentEntry  `json:"agents"`
	Widgets []widgetEntry `json:"widgets"`
}

// Static resolves agents and widgets from a JSON config file.
type Static struct {
	agents  []agentEntry
	widgets map[string][]string // widget id -> agent ids

	// AllowAllWidgets accepts any widget id. Development only.
	AllowAllWidgets bool
}

// Load reads the identity file.
func Load(path string) (*Static, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var f file
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, err
	}

	s := &Static{
		agents:  f.Agents,
		widgets: make(map[string][]string, len(f.Widgets)),
	}
	for _, w := range f.Widgets {
		s.widgets[w.ID] = w.Agents
	}
	return s, nil
}

// NewPermissive returns an identity that accepts every widget and knows
// no agents, for development without an identity file.
func NewPermissive() *Static {
	return &Static{widgets: map[string][]string{}, AllowAllWidgets: true}
}

// AgentByToken resolves a dashboard bearer token against the stored
// bcrypt hashes. Returns (nil, nil) when no agent matches.
func (s *Static) AgentByToken(_ context.Context, token string) (*chat.AgentIdentity, error) {
	if token == "" {
		return nil, nil
	}
	for _, a := range s.agents {
		if bcrypt.CompareHashAndPassword([]byte(a.TokenHash), []byte(token)) == nil {
			return &chat.AgentIdentity{ID: a.ID, Name: a.Name, AvatarURL: a.AvatarURL}, nil
		}
	}
	return nil, nil
}

// WidgetExists reports whether the widget id is configured.
func (s *Static) WidgetExists(_ context.Context, widgetID string) (bool, error) {
	if s.AllowAllWidgets {
		return widgetID != "", nil
	}
	_, ok := s.widgets[widgetID]
	return ok, nil
}

// WidgetsForAgent lists the widgets whose rooms the agent handles.
func (s *Static) WidgetsForAgent(_ context.Context, agentID string) ([]string, error) {
	var ids []string
	for widgetID, agents := range s.widgets {
		for _, a := range agents {
			if a == agentID {
				ids = append(ids, widgetID)
				break
			}
		}
	}
	return ids, nil
}
